package wsxmpp

import (
	"bytes"
	"encoding/xml"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/arzzra/jingle/pkg/jingle"
	"github.com/arzzra/jingle/pkg/jingle/stanza"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"mellium.im/xmpp/jid"
	xstanza "mellium.im/xmpp/stanza"
)

// Relay сервер разработки: принимает WebSocket клиентов и пересылает станзы
// адресату по полному JID или по bare JID. Комнаты MUC не поддерживаются.
type Relay struct {
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	mu    sync.RWMutex
	peers map[string]*peer
}

type peer struct {
	jid     jid.JID
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (p *peer) write(raw []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(DefaultWriteTimeout))
	return p.conn.WriteMessage(websocket.TextMessage, raw)
}

// header адресация корневого элемента станзы
type header struct {
	kind string
	id   string
	from string
	to   string
	typ  string
}

// NewRelay создает relay
func NewRelay(logger zerolog.Logger) *Relay {
	return &Relay{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Relay предназначен для локальной разработки
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger.With().Str("component", "relay").Logger(),
		peers:  make(map[string]*peer),
	}
}

// ServeHTTP подключает клиента. JID передается параметром запроса jid.
func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	local, err := jid.Parse(req.URL.Query().Get(QueryJID))
	if err != nil || local.Resourcepart() == "" {
		http.Error(w, "full jid required", http.StatusBadRequest)
		return
	}

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error().Err(err).Msg("Ошибка upgrade WebSocket")
		return
	}
	conn.SetReadLimit(MaxStanzaSize)

	p := &peer{jid: local, conn: conn}
	r.register(p)
	l := r.logger.With().Str("jid", local.String()).Logger()
	l.Info().Msg("Клиент подключен")

	defer func() {
		r.unregister(p)
		_ = conn.Close()
		l.Info().Msg("Клиент отключен")
	}()

	for {
		mt, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				l.Error().Err(err).Msg("Неожиданное закрытие соединения")
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		r.route(p, raw)
	}
}

// Peers возвращает JID подключенных клиентов
func (r *Relay) Peers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.peers))
	for k := range r.peers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Close отключает всех клиентов
func (r *Relay) Close() {
	r.mu.Lock()
	peers := r.peers
	r.peers = make(map[string]*peer)
	r.mu.Unlock()

	for _, p := range peers {
		_ = p.conn.Close()
	}
}

func (r *Relay) register(p *peer) {
	key := p.jid.String()
	r.mu.Lock()
	old := r.peers[key]
	r.peers[key] = p
	r.mu.Unlock()

	if old != nil {
		r.logger.Warn().Str("jid", key).Msg("Повторное подключение, старое соединение закрыто")
		_ = old.conn.Close()
	}
}

func (r *Relay) unregister(p *peer) {
	key := p.jid.String()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.peers[key] == p {
		delete(r.peers, key)
	}
}

// lookup ищет адресата по полному JID, затем по bare JID
func (r *Relay) lookup(to jid.JID) *peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if p, ok := r.peers[to.String()]; ok {
		return p
	}
	if to.Resourcepart() != "" {
		return nil
	}
	var keys []string
	for k, p := range r.peers {
		if p.jid.Bare().Equal(to) {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	sort.Strings(keys)
	return r.peers[keys[0]]
}

func (r *Relay) route(from *peer, raw []byte) {
	h, err := readHeader(raw)
	if err != nil {
		r.logger.Debug().Err(err).Str("jid", from.jid.String()).Msg("Некорректная станза")
		return
	}
	if h.from != "" && h.from != from.jid.String() {
		r.logger.Warn().Str("jid", from.jid.String()).Str("from", h.from).Msg("Подмена отправителя, станза отброшена")
		return
	}

	to, err := jid.Parse(h.to)
	if err != nil {
		r.logger.Debug().Str("to", h.to).Msg("Станза без адресата")
		return
	}
	target := r.lookup(to)
	if target == nil {
		r.logger.Debug().Str("to", h.to).Str("kind", h.kind).Msg("Адресат не подключен")
		r.bounce(from, h, raw)
		return
	}
	if err := target.write(raw); err != nil {
		r.logger.Warn().Err(err).Str("to", target.jid.String()).Msg("Ошибка пересылки станзы")
	}
}

// bounce отвечает ошибкой на IQ запрос к неподключенному адресату
func (r *Relay) bounce(from *peer, h header, raw []byte) {
	if h.kind != stanza.KindIQ || (h.typ != string(xstanza.SetIQ) && h.typ != string(xstanza.GetIQ)) {
		return
	}
	iq, err := stanza.ParseIQ(raw)
	if err != nil {
		return
	}
	reply, err := stanza.Marshal(stanza.NewError(iq, jingle.NewGenericError(xstanza.ServiceUnavailable)))
	if err != nil {
		r.logger.Error().Err(err).Msg("Не удалось построить ошибку")
		return
	}
	if err := from.write(reply); err != nil {
		r.logger.Warn().Err(err).Msg("Не удалось отправить ошибку")
	}
}

func readHeader(raw []byte) (header, error) {
	dec := xml.NewDecoder(bytes.NewReader(raw))
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return header{}, errors.New("wsxmpp: empty stanza")
		}
		if err != nil {
			return header{}, errors.Wrap(err, "wsxmpp: decode")
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		h := header{kind: start.Name.Local}
		for _, a := range start.Attr {
			switch a.Name.Local {
			case "id":
				h.id = a.Value
			case "from":
				h.from = a.Value
			case "to":
				h.to = a.Value
			case "type":
				h.typ = a.Value
			}
		}
		return h, nil
	}
}
