package jingle

// Creator сторона создавшая контент (и роль участника сессии)
type Creator string

const (
	CreatorInitiator Creator = "initiator"
	CreatorResponder Creator = "responder"
)

// Valid проверяет что значение входит в перечисление
func (c Creator) Valid() bool {
	return c == CreatorInitiator || c == CreatorResponder
}

// Opposite возвращает противоположную роль
func (c Creator) Opposite() Creator {
	if c == CreatorInitiator {
		return CreatorResponder
	}
	return CreatorInitiator
}

// Senders режим отправки медиа для контента
type Senders string

const (
	SendersBoth      Senders = "both"
	SendersInitiator Senders = "initiator"
	SendersResponder Senders = "responder"
	SendersNone      Senders = "none"
)

// Valid проверяет что значение входит в перечисление
func (s Senders) Valid() bool {
	switch s {
	case SendersBoth, SendersInitiator, SendersResponder, SendersNone:
		return true
	}
	return false
}

// Media тип медиа линии
type Media string

const (
	MediaAudio Media = "audio"
	MediaVideo Media = "video"
)

// Valid проверяет что значение входит в перечисление
func (m Media) Valid() bool {
	return m == MediaAudio || m == MediaVideo
}

// Action действие Jingle
type Action string

const (
	ActionContentAccept    Action = "content-accept"
	ActionContentAdd       Action = "content-add"
	ActionContentModify    Action = "content-modify"
	ActionContentReject    Action = "content-reject"
	ActionContentRemove    Action = "content-remove"
	ActionDescriptionInfo  Action = "description-info"
	ActionSecurityInfo     Action = "security-info"
	ActionSessionAccept    Action = "session-accept"
	ActionSessionInfo      Action = "session-info"
	ActionSessionInitiate  Action = "session-initiate"
	ActionSessionTerminate Action = "session-terminate"
	ActionTransportAccept  Action = "transport-accept"
	ActionTransportInfo    Action = "transport-info"
	ActionTransportReject  Action = "transport-reject"
	ActionTransportReplace Action = "transport-replace"
)

var actions = map[Action]struct{}{
	ActionContentAccept: {}, ActionContentAdd: {}, ActionContentModify: {},
	ActionContentReject: {}, ActionContentRemove: {}, ActionDescriptionInfo: {},
	ActionSecurityInfo: {}, ActionSessionAccept: {}, ActionSessionInfo: {},
	ActionSessionInitiate: {}, ActionSessionTerminate: {}, ActionTransportAccept: {},
	ActionTransportInfo: {}, ActionTransportReject: {}, ActionTransportReplace: {},
}

// Valid проверяет что действие известно протоколу
func (a Action) Valid() bool {
	_, ok := actions[a]
	return ok
}

// InfoName полезная нагрузка session-info (XEP-0167 §7)
type InfoName string

const (
	InfoActive  InfoName = "active"
	InfoHold    InfoName = "hold"
	InfoMute    InfoName = "mute"
	InfoRinging InfoName = "ringing"
	InfoUnhold  InfoName = "unhold"
	InfoUnmute  InfoName = "unmute"
)

// Valid проверяет что значение входит в перечисление
func (n InfoName) Valid() bool {
	switch n {
	case InfoActive, InfoHold, InfoMute, InfoRinging, InfoUnhold, InfoUnmute:
		return true
	}
	return false
}

// InfoArgs аргументы session-info (для mute/unmute)
type InfoArgs struct {
	Creator Creator
	Name    string
}

// Reason причина завершения сессии
type Reason string

const (
	ReasonAlternativeSession      Reason = "alternative-session"
	ReasonBusy                    Reason = "busy"
	ReasonCancel                  Reason = "cancel"
	ReasonConnectivityError       Reason = "connectivity-error"
	ReasonDecline                 Reason = "decline"
	ReasonExpired                 Reason = "expired"
	ReasonFailedApplication       Reason = "failed-application"
	ReasonFailedTransport         Reason = "failed-transport"
	ReasonGeneralError            Reason = "general-error"
	ReasonGone                    Reason = "gone"
	ReasonIncompatibleParameters  Reason = "incompatible-parameters"
	ReasonMediaError              Reason = "media-error"
	ReasonSecurityError           Reason = "security-error"
	ReasonSuccess                 Reason = "success"
	ReasonTimeout                 Reason = "timeout"
	ReasonUnsupportedApplications Reason = "unsupported-applications"
	ReasonUnsupportedTransports   Reason = "unsupported-transports"
)

var reasons = map[Reason]struct{}{
	ReasonAlternativeSession: {}, ReasonBusy: {}, ReasonCancel: {},
	ReasonConnectivityError: {}, ReasonDecline: {}, ReasonExpired: {},
	ReasonFailedApplication: {}, ReasonFailedTransport: {}, ReasonGeneralError: {},
	ReasonGone: {}, ReasonIncompatibleParameters: {}, ReasonMediaError: {},
	ReasonSecurityError: {}, ReasonSuccess: {}, ReasonTimeout: {},
	ReasonUnsupportedApplications: {}, ReasonUnsupportedTransports: {},
}

// Valid проверяет что причина известна протоколу
func (r Reason) Valid() bool {
	_, ok := reasons[r]
	return ok
}

// Status состояние сессии 1:1
type Status string

const (
	StatusInactive    Status = "inactive"
	StatusInitiating  Status = "initiating"
	StatusInitiated   Status = "initiated"
	StatusAccepting   Status = "accepting"
	StatusAccepted    Status = "accepted"
	StatusTerminating Status = "terminating"
	StatusTerminated  Status = "terminated"
)

func (s Status) String() string {
	return string(s)
}

// RoomStatus состояние Muji комнаты
type RoomStatus string

const (
	RoomInactive   RoomStatus = "inactive"
	RoomPreparing  RoomStatus = "preparing"
	RoomPrepared   RoomStatus = "prepared"
	RoomInitiating RoomStatus = "initiating"
	RoomInitiated  RoomStatus = "initiated"
	RoomLeaving    RoomStatus = "leaving"
	RoomLeft       RoomStatus = "left"
)

func (s RoomStatus) String() string {
	return string(s)
}

// ParticipantStatus подсостояние участника Muji комнаты
type ParticipantStatus string

const (
	ParticipantPrepared  ParticipantStatus = "prepared"
	ParticipantInitiated ParticipantStatus = "initiated"
	ParticipantLeft      ParticipantStatus = "left"
)
