// Package wsxmpp передает XMPP станзы поверх WebSocket: одно текстовое
// сообщение содержит одну станзу. Клиент реализует session.Transport,
// Relay маршрутизирует станзы между подключенными клиентами по атрибуту to.
package wsxmpp

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/arzzra/jingle/pkg/jingle/stanza"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"mellium.im/xmpp/jid"
)

// QueryJID параметр запроса с JID подключающегося клиента
const QueryJID = "jid"

// Значения по умолчанию
const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 5 * time.Second
	MaxStanzaSize           = 1 << 20
)

// ErrClosed соединение закрыто
var ErrClosed = errors.New("wsxmpp: connection closed")

// Client WebSocket соединение с relay или XMPP шлюзом
type Client struct {
	local  jid.JID
	conn   *websocket.Conn
	logger zerolog.Logger

	writeMu sync.Mutex

	mu       sync.RWMutex
	handlers map[string]func([]byte)

	done      chan struct{}
	closeOnce sync.Once
}

// Dial подключается к серверу по адресу rawURL от имени local
func Dial(ctx context.Context, rawURL string, local jid.JID, logger zerolog.Logger) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrapf(err, "wsxmpp: parse url %q", rawURL)
	}
	q := u.Query()
	q.Set(QueryJID, local.String())
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: DefaultHandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, errors.Wrapf(err, "wsxmpp: dial %s", u.Host)
	}
	conn.SetReadLimit(MaxStanzaSize)

	c := &Client{
		local:    local,
		conn:     conn,
		logger:   logger.With().Str("component", "wsxmpp").Str("jid", local.String()).Logger(),
		handlers: make(map[string]func([]byte)),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	c.logger.Info().Str("url", u.Host).Msg("Подключено к серверу станз")
	return c, nil
}

// LocalJID возвращает JID клиента
func (c *Client) LocalJID() jid.JID { return c.local }

// Handle назначает обработчик станз вида kind (iq, presence, message)
func (c *Client) Handle(kind string, h func(raw []byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[kind] = h
}

// Send сериализует станзу и отправляет ее одним сообщением
func (c *Client) Send(ctx context.Context, v any) error {
	raw, err := stanza.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	deadline := time.Now().Add(DefaultWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return errors.Wrap(err, "wsxmpp: write")
	}
	return nil
}

// Done закрывается после завершения цикла чтения
func (c *Client) Done() <-chan struct{} { return c.done }

// Close закрывает соединение
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

func (c *Client) readLoop() {
	defer close(c.done)
	defer c.Close()

	for {
		mt, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn().Err(err).Msg("Соединение разорвано")
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		c.dispatch(raw)
	}
}

func (c *Client) dispatch(raw []byte) {
	kind, err := stanza.RootKind(raw)
	if err != nil {
		c.logger.Debug().Err(err).Msg("Некорректная станза")
		return
	}

	c.mu.RLock()
	h := c.handlers[kind]
	c.mu.RUnlock()
	if h == nil {
		c.logger.Debug().Str("kind", kind).Msg("Нет обработчика станзы")
		return
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Interface("panic", r).Str("kind", kind).Msg("Паника в обработчике станзы")
		}
	}()
	h(raw)
}
