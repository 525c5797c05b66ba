package jingle

import "strconv"

// TransportKind категория транспорта Jingle
type TransportKind string

const (
	TransportICEUDP TransportKind = "ice-udp"
	TransportRawUDP TransportKind = "raw-udp"
)

// Namespace возвращает XML пространство имен транспорта
func (k TransportKind) Namespace() string {
	if k == TransportRawUDP {
		return NSRawUDP
	}
	return NSICEUDP
}

// TransportKindFromNamespace обратное отображение пространства имен
func TransportKindFromNamespace(ns string) (TransportKind, bool) {
	switch ns {
	case NSICEUDP:
		return TransportICEUDP, true
	case NSRawUDP:
		return TransportRawUDP, true
	}
	return "", false
}

// Типы кандидатов ICE
const (
	CandidateHost  = "host"
	CandidateSrflx = "srflx"
	CandidatePrflx = "prflx"
	CandidateRelay = "relay"
)

// candidateKinds статическая таблица классификации кандидатов
var candidateKinds = map[string]TransportKind{
	CandidateHost:  TransportICEUDP,
	CandidateSrflx: TransportICEUDP,
	CandidatePrflx: TransportICEUDP,
	CandidateRelay: TransportRawUDP,
}

// Transport транспорт контента. Категория определяется кандидатами.
type Transport struct {
	Ufrag       string
	Pwd         string
	Fingerprint *Fingerprint
	Candidates  []Candidate
}

// Kind возвращает RAW-UDP если транспорт содержит только relay кандидаты
func (t Transport) Kind() TransportKind {
	if len(t.Candidates) == 0 {
		return TransportICEUDP
	}
	for _, c := range t.Candidates {
		if c.Kind() != TransportRawUDP {
			return TransportICEUDP
		}
	}
	return TransportRawUDP
}

// SameCredentials сравнивает тройку (ufrag, pwd, fingerprint)
func (t Transport) SameCredentials(o Transport) bool {
	if t.Ufrag != o.Ufrag || t.Pwd != o.Pwd {
		return false
	}
	if t.Fingerprint == nil || o.Fingerprint == nil {
		return t.Fingerprint == nil && o.Fingerprint == nil
	}
	return t.Fingerprint.Hash == o.Fingerprint.Hash && t.Fingerprint.Value == o.Fingerprint.Value
}

// HasCredentials возвращает true если задан хотя бы один элемент тройки
func (t Transport) HasCredentials() bool {
	return t.Ufrag != "" || t.Pwd != "" || t.Fingerprint != nil
}

func (t Transport) clone() Transport {
	out := t
	if t.Fingerprint != nil {
		fp := *t.Fingerprint
		out.Fingerprint = &fp
	}
	out.Candidates = append([]Candidate(nil), t.Candidates...)
	return out
}

// Fingerprint DTLS отпечаток (XEP-0320)
type Fingerprint struct {
	Hash  string
	Value string
	Setup string
}

// Candidate сетевой кандидат ICE (XEP-0176) или RAW-UDP (XEP-0177)
type Candidate struct {
	Component  int
	Foundation string
	Generation int
	ID         string
	IP         string
	Network    int
	Port       int
	Priority   uint32
	Protocol   string
	Type       string
	RelAddr    string
	RelPort    int
}

// Kind классифицирует кандидата по типу. Неизвестные типы считаются ICE.
func (c Candidate) Kind() TransportKind {
	if k, ok := candidateKinds[c.Type]; ok {
		return k
	}
	return TransportICEUDP
}

// RawUDP возвращает копию только с атрибутами RAW-UDP
// (component, generation, id, ip, port, type)
func (c Candidate) RawUDP() Candidate {
	return Candidate{
		Component:  c.Component,
		Generation: c.Generation,
		ID:         c.ID,
		IP:         c.IP,
		Port:       c.Port,
		Type:       c.Type,
	}
}

// Classify возвращает категорию и кандидата приведенного к ее набору атрибутов
func (c Candidate) Classify() (TransportKind, Candidate) {
	kind := c.Kind()
	if kind == TransportRawUDP {
		return kind, c.RawUDP()
	}
	return kind, c
}

// Key ключ дедупликации кандидатов
func (c Candidate) Key() string {
	return c.Foundation + "|" + strconv.Itoa(c.Component) + "|" + c.IP + "|" + strconv.Itoa(c.Port) + "|" + c.Protocol
}
