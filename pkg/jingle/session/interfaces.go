package session

import (
	"context"

	"mellium.im/xmpp/jid"
)

// Transport канал доставки станз. Реализация не должна синхронно доставлять
// входящие станзы из Send: обработчики вызываются из горутины чтения.
type Transport interface {
	// Send сериализует и отправляет станзу (*stanza.IQ, *stanza.Presence)
	Send(ctx context.Context, v any) error

	// Handle регистрирует обработчик входящих станз вида kind (iq, presence)
	Handle(kind string, h func(raw []byte))

	// LocalJID возвращает полный JID локальной стороны
	LocalJID() jid.JID
}

// Constraints запрашиваемые виды локального медиа
type Constraints struct {
	Audio bool
	Video bool
}

// Stream медиа поток (локальный или удаленный)
type Stream interface {
	ID() string
	Stop()
}

// ICEServer STUN/TURN сервер
type ICEServer struct {
	URLs       []string
	Username   string
	Credential string
}

// PeerConfig конфигурация соединения
type PeerConfig struct {
	ICEServers []ICEServer
}

// Description описание сессии медиа движка (offer или answer)
type Description struct {
	Type string
	SDP  string
}

// Типы описаний
const (
	DescriptionOffer  = "offer"
	DescriptionAnswer = "answer"
)

// ICECandidate кандидат в формате медиа движка: строка a=candidate и метка
// медиа линии (mid или индекс m= линии)
type ICECandidate struct {
	Candidate     string
	SDPMid        string
	SDPMLineIndex int
}

// PeerConnection соединение медиа движка. Обратные вызовы OnICECandidate и
// OnRemoteStream доставляются из горутин движка, а не из вызывающей.
type PeerConnection interface {
	AddStream(s Stream) error
	CreateOffer(ctx context.Context) (Description, error)
	CreateAnswer(ctx context.Context) (Description, error)
	SetLocalDescription(d Description) error
	SetRemoteDescription(d Description) error
	AddICECandidate(c ICECandidate) error

	// OnICECandidate вызывается для каждого локального кандидата; nil
	// означает завершение сбора
	OnICECandidate(f func(c *ICECandidate))
	OnRemoteStream(f func(s Stream))
	Close() error
}

// MediaEngine фабрика локального медиа и соединений
type MediaEngine interface {
	AcquireLocalMedia(ctx context.Context, c Constraints) (Stream, error)
	CreatePeerConnection(cfg PeerConfig) (PeerConnection, error)
}

// Renderer поверхность отображения потоков
type Renderer interface {
	Attach(s Stream, muted bool) error
	Detach(s Stream) error
}

// Discoverer получает ICE серверы до начала работы (например XEP-0215)
type Discoverer interface {
	Discover(ctx context.Context) ([]ICEServer, error)
}

// StaticDiscoverer возвращает заранее известный список серверов
type StaticDiscoverer []ICEServer

// Discover реализует Discoverer
func (d StaticDiscoverer) Discover(context.Context) ([]ICEServer, error) {
	return append([]ICEServer(nil), d...), nil
}
