package stanza

import (
	"bytes"
	"encoding/xml"

	"github.com/arzzra/jingle/pkg/jingle"
	"github.com/pkg/errors"
	"mellium.im/xmpp/stanza"
)

// Виды станз верхнего уровня
const (
	KindIQ       = "iq"
	KindPresence = "presence"
	KindMessage  = "message"
)

// ErrUnexpectedElement корневой элемент не соответствует ожидаемому виду станзы
var ErrUnexpectedElement = errors.New("stanza: unexpected root element")

// IQ конверт <iq/> с полезной нагрузкой Jingle
type IQ struct {
	XMLName xml.Name      `xml:"iq"`
	ID      string        `xml:"id,attr"`
	From    string        `xml:"from,attr,omitempty"`
	To      string        `xml:"to,attr,omitempty"`
	Type    stanza.IQType `xml:"type,attr"`
	Jingle  *Jingle       `xml:"urn:xmpp:jingle:1 jingle"`
	Error   *ErrorElement `xml:"error"`
}

// IsRequest возвращает true для get и set
func (iq *IQ) IsRequest() bool {
	return iq.Type == stanza.SetIQ || iq.Type == stanza.GetIQ
}

// NewResult строит ответ result на запрос
func NewResult(req *IQ) *IQ {
	return &IQ{ID: req.ID, From: req.To, To: req.From, Type: stanza.ResultIQ}
}

// NewError строит ответ error на запрос. Копия jingle элемента запроса
// не прикладывается.
func NewError(req *IQ, perr *jingle.ProtocolError) *IQ {
	return &IQ{
		ID:    req.ID,
		From:  req.To,
		To:    req.From,
		Type:  stanza.ErrorIQ,
		Error: EncodeError(perr),
	}
}

// ErrorElement элемент <error/>: generic условие, тип и необязательное
// условие Jingle
type ErrorElement struct {
	Type       jingle.ErrorType   `xml:"type,attr"`
	Conditions []ConditionElement `xml:",any"`
	Text       string             `xml:"urn:ietf:params:xml:ns:xmpp-stanzas text,omitempty"`
}

// ConditionElement дочерний элемент условия ошибки
type ConditionElement struct {
	XMLName xml.Name
}

// EncodeError формирует элемент <error/> по протокольной ошибке
func EncodeError(perr *jingle.ProtocolError) *ErrorElement {
	out := &ErrorElement{
		Type: perr.Type,
		Text: perr.Text,
		Conditions: []ConditionElement{
			{XMLName: xml.Name{Space: jingle.NSStanzas, Local: string(perr.Generic)}},
		},
	}
	if perr.Condition != "" {
		out.Conditions = append(out.Conditions, ConditionElement{
			XMLName: xml.Name{Space: jingle.NSJingleErrors, Local: string(perr.Condition)},
		})
	}
	return out
}

// Generic возвращает generic условие ошибки
func (e *ErrorElement) Generic() stanza.Condition {
	for _, c := range e.Conditions {
		if c.XMLName.Space == jingle.NSStanzas {
			return stanza.Condition(c.XMLName.Local)
		}
	}
	return ""
}

// Condition возвращает специфичное для Jingle условие, если оно есть
func (e *ErrorElement) Condition() jingle.Condition {
	for _, c := range e.Conditions {
		if c.XMLName.Space == jingle.NSJingleErrors {
			return jingle.Condition(c.XMLName.Local)
		}
	}
	return ""
}

// ProtocolError восстанавливает протокольную ошибку из элемента
func (e *ErrorElement) ProtocolError() *jingle.ProtocolError {
	return &jingle.ProtocolError{
		Type:      e.Type,
		Generic:   e.Generic(),
		Condition: e.Condition(),
		Text:      e.Text,
	}
}

// Presence конверт <presence/> для MUC и Muji
type Presence struct {
	XMLName xml.Name            `xml:"presence"`
	ID      string              `xml:"id,attr,omitempty"`
	From    string              `xml:"from,attr,omitempty"`
	To      string              `xml:"to,attr,omitempty"`
	Type    stanza.PresenceType `xml:"type,attr,omitempty"`
	MUC     *MUCElement         `xml:"http://jabber.org/protocol/muc x"`
	MUCUser *MUCUserElement     `xml:"http://jabber.org/protocol/muc#user x"`
	Muji    *MujiElement        `xml:"urn:xmpp:muji:0 muji"`
	Error   *ErrorElement       `xml:"error"`
}

// MUCElement маркер входа в комнату (XEP-0045)
type MUCElement struct {
	Password string `xml:"password,omitempty"`
}

// MUCUserElement сведения об участнике комнаты
type MUCUserElement struct {
	Items  []MUCItem   `xml:"item"`
	Status []MUCStatus `xml:"status"`
}

// MUCItem элемент <item/> участника
type MUCItem struct {
	Affiliation string `xml:"affiliation,attr,omitempty"`
	Role        string `xml:"role,attr,omitempty"`
	JID         string `xml:"jid,attr,omitempty"`
}

// MUCStatus код статуса присутствия (110 - собственное присутствие)
type MUCStatus struct {
	Code int `xml:"code,attr"`
}

// StatusSelfPresence код статуса отраженного собственного присутствия
const StatusSelfPresence = 110

// HasStatus проверяет наличие кода статуса MUC
func (p *Presence) HasStatus(code int) bool {
	if p.MUCUser == nil {
		return false
	}
	for _, s := range p.MUCUser.Status {
		if s.Code == code {
			return true
		}
	}
	return false
}

// MujiElement элемент <muji/> (XEP-0272): подготовка или опубликованные контенты
type MujiElement struct {
	Preparing *struct{}        `xml:"preparing"`
	Contents  []ContentElement `xml:"content"`
}

// IsPreparing возвращает true если участник еще готовит медиа
func (m *MujiElement) IsPreparing() bool {
	return m != nil && m.Preparing != nil
}

// RootKind возвращает локальное имя корневого элемента станзы
func RootKind(raw []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(raw))
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", errors.Wrap(err, "stanza: read root")
		}
		if start, ok := tok.(xml.StartElement); ok {
			return start.Name.Local, nil
		}
	}
}

func expectRoot(raw []byte, kind string) error {
	root, err := RootKind(raw)
	if err != nil {
		return err
	}
	if root != kind {
		return errors.Wrapf(ErrUnexpectedElement, "want <%s>, got <%s>", kind, root)
	}
	return nil
}

// ParseIQ разбирает <iq/>
func ParseIQ(raw []byte) (*IQ, error) {
	if err := expectRoot(raw, KindIQ); err != nil {
		return nil, err
	}
	var iq IQ
	if err := xml.Unmarshal(raw, &iq); err != nil {
		return nil, errors.Wrap(err, "stanza: parse iq")
	}
	return &iq, nil
}

// ParsePresence разбирает <presence/>
func ParsePresence(raw []byte) (*Presence, error) {
	if err := expectRoot(raw, KindPresence); err != nil {
		return nil, err
	}
	var p Presence
	if err := xml.Unmarshal(raw, &p); err != nil {
		return nil, errors.Wrap(err, "stanza: parse presence")
	}
	return &p, nil
}

// Marshal сериализует станзу
func Marshal(v any) ([]byte, error) {
	raw, err := xml.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "stanza: marshal")
	}
	return raw, nil
}

// NewReason строит элемент <reason/>
func NewReason(r jingle.Reason, text string) *ReasonElement {
	return &ReasonElement{
		Condition: ReasonCondition{XMLName: xml.Name{Local: string(r)}},
		Text:      text,
	}
}

// ReasonValue возвращает причину завершения из элемента
func (r *ReasonElement) ReasonValue() jingle.Reason {
	if r == nil {
		return ""
	}
	return jingle.Reason(r.Condition.XMLName.Local)
}

// NewInfo строит полезную нагрузку session-info
func NewInfo(name jingle.InfoName, args jingle.InfoArgs) InfoElement {
	return InfoElement{
		XMLName: xml.Name{Space: jingle.NSRTPInfo, Local: string(name)},
		Creator: args.Creator,
		Name:    args.Name,
	}
}

// InfoName возвращает имя полезной нагрузки session-info и признак того, что
// она принадлежит пространству имен RTP info. Пустой session-info (ping)
// возвращает пустое имя и true.
func (j *Jingle) InfoName() (jingle.InfoName, jingle.InfoArgs, bool) {
	if len(j.Info) == 0 {
		return "", jingle.InfoArgs{}, true
	}
	e := j.Info[0]
	if e.XMLName.Space != jingle.NSRTPInfo {
		return jingle.InfoName(e.XMLName.Local), jingle.InfoArgs{}, false
	}
	return jingle.InfoName(e.XMLName.Local), jingle.InfoArgs{Creator: e.Creator, Name: e.Name}, true
}
