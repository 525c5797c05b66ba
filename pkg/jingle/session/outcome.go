package session

import (
	"github.com/arzzra/jingle/pkg/jingle/stanza"
	xstanza "mellium.im/xmpp/stanza"
)

// OutcomeKind вид входящей станзы относительно транзакции
type OutcomeKind int

const (
	// OutcomeResult успешный ответ на наш запрос
	OutcomeResult OutcomeKind = iota
	// OutcomeError ответ с ошибкой на наш запрос
	OutcomeError
	// OutcomeRequest запрос удаленной стороны
	OutcomeRequest
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeResult:
		return "result"
	case OutcomeError:
		return "error"
	case OutcomeRequest:
		return "request"
	}
	return "unknown"
}

// Outcome входящая IQ станза, размеченная по виду
type Outcome struct {
	Kind OutcomeKind
	IQ   *stanza.IQ
}

// outcomeOf классифицирует IQ по типу
func outcomeOf(iq *stanza.IQ) (Outcome, bool) {
	switch iq.Type {
	case xstanza.ResultIQ:
		return Outcome{Kind: OutcomeResult, IQ: iq}, true
	case xstanza.ErrorIQ:
		return Outcome{Kind: OutcomeError, IQ: iq}, true
	case xstanza.SetIQ, xstanza.GetIQ:
		return Outcome{Kind: OutcomeRequest, IQ: iq}, true
	}
	return Outcome{}, false
}

// Err возвращает протокольную ошибку ответа
func (o Outcome) Err() error {
	if o.Kind != OutcomeError {
		return nil
	}
	if o.IQ.Error == nil {
		return &stanzaError{}
	}
	return o.IQ.Error.ProtocolError()
}

type stanzaError struct{}

func (*stanzaError) Error() string { return "jingle: error response without error element" }
