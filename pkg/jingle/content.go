package jingle

// Content одна согласуемая медиа единица (аудио или видео поток).
// Name назначается один раз и не меняется в течение жизни сессии.
type Content struct {
	Name        string
	Creator     Creator
	Senders     Senders
	Description Description
	Transport   Transport
}

// Contents упорядоченный набор контентов. Порядок задает порядок m= линий.
type Contents []Content

// Find ищет контент по имени
func (cs Contents) Find(name string) (*Content, bool) {
	for i := range cs {
		if cs[i].Name == name {
			return &cs[i], true
		}
	}
	return nil, false
}

// Names возвращает имена контентов в порядке следования
func (cs Contents) Names() []string {
	names := make([]string, 0, len(cs))
	for _, c := range cs {
		names = append(names, c.Name)
	}
	return names
}

// Clone возвращает глубокую копию набора
func (cs Contents) Clone() Contents {
	if cs == nil {
		return nil
	}
	out := make(Contents, len(cs))
	for i, c := range cs {
		out[i] = c.Clone()
	}
	return out
}

// Clone возвращает глубокую копию контента
func (c Content) Clone() Content {
	out := c
	out.Description = c.Description.clone()
	out.Transport = c.Transport.clone()
	return out
}

// Description описание RTP приложения контента (XEP-0167)
type Description struct {
	Media Media

	// Общие атрибуты
	SSRC     string
	Ptime    string
	Maxptime string

	Sources      []Source
	SourceGroups []SourceGroup
	Payloads     []Payload
	Bandwidth    []Bandwidth
	RTCPMux      bool

	HeaderExtensions []HeaderExtension

	// rtcp-fb применимые ко всем payload (a=rtcp-fb:*)
	RTCPFeedback       []RTCPFeedback
	RTCPFeedbackTrrInt []TrrInt

	Encryption *Encryption
}

// Payload возвращает payload по идентификатору
func (d *Description) Payload(id uint8) (*Payload, bool) {
	for i := range d.Payloads {
		if d.Payloads[i].ID == id {
			return &d.Payloads[i], true
		}
	}
	return nil, false
}

// PayloadOrCreate возвращает существующий payload или добавляет новый
func (d *Description) PayloadOrCreate(id uint8) *Payload {
	if p, ok := d.Payload(id); ok {
		return p
	}
	d.Payloads = append(d.Payloads, Payload{ID: id})
	return &d.Payloads[len(d.Payloads)-1]
}

// Source возвращает источник по ssrc, создавая его при отсутствии
func (d *Description) SourceOrCreate(ssrc string) *Source {
	for i := range d.Sources {
		if d.Sources[i].SSRC == ssrc {
			return &d.Sources[i]
		}
	}
	d.Sources = append(d.Sources, Source{SSRC: ssrc})
	return &d.Sources[len(d.Sources)-1]
}

func (d Description) clone() Description {
	out := d
	out.Sources = nil
	for _, s := range d.Sources {
		s.Parameters = append([]Parameter(nil), s.Parameters...)
		out.Sources = append(out.Sources, s)
	}
	out.SourceGroups = nil
	for _, g := range d.SourceGroups {
		g.Sources = append([]string(nil), g.Sources...)
		out.SourceGroups = append(out.SourceGroups, g)
	}
	out.Payloads = nil
	for _, p := range d.Payloads {
		p.Parameters = append([]Parameter(nil), p.Parameters...)
		p.RTCPFeedback = append([]RTCPFeedback(nil), p.RTCPFeedback...)
		p.RTCPFeedbackTrrInt = append([]TrrInt(nil), p.RTCPFeedbackTrrInt...)
		out.Payloads = append(out.Payloads, p)
	}
	out.Bandwidth = append([]Bandwidth(nil), d.Bandwidth...)
	out.HeaderExtensions = append([]HeaderExtension(nil), d.HeaderExtensions...)
	out.RTCPFeedback = append([]RTCPFeedback(nil), d.RTCPFeedback...)
	out.RTCPFeedbackTrrInt = append([]TrrInt(nil), d.RTCPFeedbackTrrInt...)
	if d.Encryption != nil {
		enc := *d.Encryption
		enc.Crypto = append([]Crypto(nil), d.Encryption.Crypto...)
		enc.ZRTPHash = append([]ZRTPHash(nil), d.Encryption.ZRTPHash...)
		out.Encryption = &enc
	}
	return out
}

// Payload формат полезной нагрузки RTP (a=rtpmap / <payload-type/>)
type Payload struct {
	ID        uint8
	Name      string
	ClockRate uint32
	Channels  uint16

	Parameters         []Parameter
	RTCPFeedback       []RTCPFeedback
	RTCPFeedbackTrrInt []TrrInt
}

// Parameter пара имя-значение (fmtp параметр или параметр ssrc)
type Parameter struct {
	Name  string
	Value string
}

// RTCPFeedback механизм обратной связи (XEP-0293)
type RTCPFeedback struct {
	Type    string
	Subtype string
}

// TrrInt минимальный интервал между RTCP отчетами
type TrrInt struct {
	Value string
}

// Source источник ssrc с параметрами (XEP-0339)
type Source struct {
	SSRC       string
	Parameters []Parameter
}

// SourceGroup группа ssrc (например FID, SIM)
type SourceGroup struct {
	Semantics string
	Sources   []string
}

// Bandwidth ограничение полосы (b=)
type Bandwidth struct {
	Type  string
	Value string
}

// HeaderExtension расширение заголовка RTP (XEP-0294)
type HeaderExtension struct {
	ID      string
	URI     string
	Senders Senders
}

// Encryption блок шифрования SRTP/ZRTP
type Encryption struct {
	Required bool
	Crypto   []Crypto
	ZRTPHash []ZRTPHash
}

// Crypto SDES параметры (a=crypto)
type Crypto struct {
	Tag           string
	CryptoSuite   string
	KeyParams     string
	SessionParams string
}

// ZRTPHash значение a=zrtp-hash
type ZRTPHash struct {
	Version string
	Value   string
}

// Group группировка контентов (a=group:BUNDLE ...)
type Group struct {
	Semantics string
	Contents  []string
}
