package jingle

import (
	"fmt"

	"mellium.im/xmpp/stanza"
)

// ErrorType тип stanza ошибки (RFC 6120 §8.3.2)
type ErrorType string

const (
	ErrorTypeAuth     ErrorType = "auth"
	ErrorTypeCancel   ErrorType = "cancel"
	ErrorTypeContinue ErrorType = "continue"
	ErrorTypeModify   ErrorType = "modify"
	ErrorTypeWait     ErrorType = "wait"
)

// Condition специфичное для Jingle условие ошибки (urn:xmpp:jingle:errors:1)
type Condition string

const (
	ConditionOutOfOrder       Condition = "out-of-order"
	ConditionTieBreak         Condition = "tie-break"
	ConditionUnknownSession   Condition = "unknown-session"
	ConditionUnsupportedInfo  Condition = "unsupported-info"
	ConditionSecurityRequired Condition = "security-required"
)

// ErrorMapping фиксированное отображение условия на generic stanza ошибку
type ErrorMapping struct {
	Type    ErrorType
	Generic stanza.Condition
}

// jingleConditions отображение протокольных условий (XEP-0166 §10)
var jingleConditions = map[Condition]ErrorMapping{
	ConditionOutOfOrder:       {Type: ErrorTypeWait, Generic: stanza.UnexpectedRequest},
	ConditionTieBreak:         {Type: ErrorTypeCancel, Generic: stanza.Conflict},
	ConditionUnknownSession:   {Type: ErrorTypeCancel, Generic: stanza.ItemNotFound},
	ConditionUnsupportedInfo:  {Type: ErrorTypeModify, Generic: stanza.FeatureNotImplemented},
	ConditionSecurityRequired: {Type: ErrorTypeCancel, Generic: stanza.NotAcceptable},
}

// genericConditions типы generic ошибок используемых для некорректных запросов
var genericConditions = map[stanza.Condition]ErrorType{
	stanza.BadRequest:            ErrorTypeCancel,
	stanza.FeatureNotImplemented: ErrorTypeCancel,
	stanza.ServiceUnavailable:    ErrorTypeCancel,
	stanza.Redirect:              ErrorTypeModify,
	stanza.ResourceConstraint:    ErrorTypeWait,
	stanza.UnexpectedRequest:     ErrorTypeWait,
	stanza.Conflict:              ErrorTypeCancel,
	stanza.ItemNotFound:          ErrorTypeCancel,
	stanza.NotAcceptable:         ErrorTypeModify,
}

// MappingFor возвращает отображение для Jingle условия
func MappingFor(c Condition) (ErrorMapping, bool) {
	m, ok := jingleConditions[c]
	return m, ok
}

// ProtocolError ошибка отправляемая удаленной стороне в ответ на запрос.
// Condition пустой для generic ошибок.
type ProtocolError struct {
	Type      ErrorType
	Generic   stanza.Condition
	Condition Condition
	Text      string
}

// Error реализует интерфейс error
func (e *ProtocolError) Error() string {
	if e.Condition != "" {
		return fmt.Sprintf("jingle: %s (%s/%s)", e.Condition, e.Type, e.Generic)
	}
	return fmt.Sprintf("jingle: %s (%s)", e.Generic, e.Type)
}

// NewProtocolError создает ошибку для Jingle условия с фиксированным отображением
func NewProtocolError(c Condition) *ProtocolError {
	m, ok := jingleConditions[c]
	if !ok {
		return NewGenericError(stanza.BadRequest)
	}
	return &ProtocolError{Type: m.Type, Generic: m.Generic, Condition: c}
}

// NewGenericError создает generic ошибку без Jingle условия
func NewGenericError(g stanza.Condition) *ProtocolError {
	t, ok := genericConditions[g]
	if !ok {
		t = ErrorTypeCancel
	}
	return &ProtocolError{Type: t, Generic: g}
}

// WithText добавляет человекочитаемое пояснение
func (e *ProtocolError) WithText(text string) *ProtocolError {
	e.Text = text
	return e
}
