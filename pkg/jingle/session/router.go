package session

import (
	"context"

	"github.com/arzzra/jingle/pkg/jingle"
	"github.com/arzzra/jingle/pkg/jingle/pending"
	"github.com/arzzra/jingle/pkg/jingle/stanza"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"mellium.im/xmpp/jid"
	xstanza "mellium.im/xmpp/stanza"
)

// Router направляет входящие станзы транспорта в сессии и комнаты реестра
// и создает сессии ответчика для входящих session-initiate.
type Router struct {
	env      *Env
	registry *Registry
	gate     Gate
	logger   zerolog.Logger

	handlers   Handlers
	onIncoming func(*Single)
}

// NewRouter создает маршрутизатор. handlers назначаются входящим сессиям,
// onIncoming вызывается для каждой принятой в INITIATED входящей сессии.
func NewRouter(env *Env, registry *Registry, h Handlers, onIncoming func(*Single)) *Router {
	return &Router{
		env:        env,
		registry:   registry,
		logger:     env.Logger.With().Str("component", "router").Logger(),
		handlers:   h,
		onIncoming: onIncoming,
	}
}

// Registry возвращает реестр маршрутизатора
func (r *Router) Registry() *Registry { return r.registry }

// Gate возвращает шлюз готовности
func (r *Router) Gate() *Gate { return &r.gate }

// Start регистрирует обработчики станз в транспорте
func (r *Router) Start() {
	r.env.Transport.Handle(stanza.KindIQ, func(raw []byte) {
		r.HandleIQ(context.Background(), raw)
	})
	r.env.Transport.Handle(stanza.KindPresence, func(raw []byte) {
		r.HandlePresence(context.Background(), raw)
	})
}

// Ready получает ICE серверы и открывает шлюз. При ошибке обнаружения
// шлюз открывается с серверами из конфигурации.
func (r *Router) Ready(ctx context.Context, d Discoverer) error {
	var discoverErr error
	if d != nil {
		servers, err := d.Discover(ctx)
		if err != nil {
			discoverErr = errors.Wrap(err, "discover ice servers")
			r.logger.Warn().Err(err).Msg("Обнаружение ICE серверов не удалось")
		} else if len(servers) > 0 {
			r.env.Config.PeerConfig.ICEServers = servers
		}
	}
	r.logger.Info().
		Int("ice_servers", len(r.env.Config.PeerConfig.ICEServers)).
		Int("queued", r.gate.Pending()).
		Msg("Маршрутизатор готов")
	r.gate.Open()
	return discoverErr
}

// NewSingle создает исходящую сессию после открытия шлюза и передает ее в ready
func (r *Router) NewSingle(peer jid.JID, h Handlers, ready func(*Single)) {
	r.gate.Submit(func() {
		s := NewSingle(r.env, peer, h)
		r.track(s)
		if ready != nil {
			ready(s)
		}
	})
}

// NewRoom создает комнату после открытия шлюза и передает ее в ready
func (r *Router) NewRoom(room jid.JID, nick string, h RoomHandlers, ready func(*Room)) {
	r.gate.Submit(func() {
		rm := NewRoom(r.env, r.registry, room, nick, h)
		r.registry.AddRoom(rm)
		rm.onEnd(func(rm *Room) { r.registry.RemoveRoom(rm.JID().String()) })
		if ready != nil {
			ready(rm)
		}
	})
}

func (r *Router) track(s *Single) {
	r.registry.AddSingle(s)
	s.onEnd(func(s *Single) { r.registry.RemoveSingle(s.SID()) })
}

// HandleIQ маршрутизирует IQ станзу
func (r *Router) HandleIQ(ctx context.Context, raw []byte) {
	iq, err := stanza.ParseIQ(raw)
	if err != nil {
		r.logger.Debug().Err(err).Msg("Некорректная IQ станза")
		return
	}

	if !iq.IsRequest() {
		_, scope, _, ok := pending.ParseID(iq.ID)
		if !ok {
			r.logger.Debug().Str("id", iq.ID).Msg("Ответ с чужим идентификатором")
			return
		}
		if s, ok := r.registry.Single(scope); ok {
			s.HandleIQ(ctx, iq)
			return
		}
		r.logger.Debug().Str("id", iq.ID).Msg("Ответ для неизвестной сессии")
		return
	}

	if iq.Jingle == nil {
		rejectIQ(ctx, r.env, r.logger, iq, jingle.NewGenericError(xstanza.ServiceUnavailable))
		return
	}
	if s, ok := r.registry.Single(iq.Jingle.SID); ok {
		s.HandleIQ(ctx, iq)
		return
	}
	if iq.Jingle.Action != jingle.ActionSessionInitiate {
		rejectIQ(ctx, r.env, r.logger, iq, jingle.NewProtocolError(jingle.ConditionUnknownSession))
		return
	}
	r.gate.Submit(func() { r.incoming(ctx, iq) })
}

// incoming обрабатывает session-initiate с неизвестным sid
func (r *Router) incoming(ctx context.Context, iq *stanza.IQ) {
	from, err := jid.Parse(iq.From)
	if err != nil {
		rejectIQ(ctx, r.env, r.logger, iq, jingle.NewGenericError(xstanza.BadRequest))
		return
	}

	roomJID := from.Bare().String()
	if iq.Jingle.Muji != nil && iq.Jingle.Muji.Room != "" {
		roomJID = iq.Jingle.Muji.Room
	}
	if room, ok := r.registry.Room(roomJID); ok {
		room.HandleInitiate(ctx, iq)
		return
	}
	if iq.Jingle.Muji != nil {
		rejectIQ(ctx, r.env, r.logger, iq, jingle.NewProtocolError(jingle.ConditionUnknownSession))
		return
	}

	if s, ok := r.registry.FindInitiating(from); ok {
		r.logger.Info().Str("sid", s.SID()).Str("peer", from.String()).Msg("Встречный session-initiate")
		rejectIQ(ctx, r.env, r.logger, iq, jingle.NewProtocolError(jingle.ConditionTieBreak))
		return
	}

	s, err := newResponder(r.env, iq, r.handlers)
	if err != nil {
		rejectIQ(ctx, r.env, r.logger, iq, jingle.NewGenericError(xstanza.BadRequest))
		return
	}
	r.registry.AddSingle(s)
	s.HandleIQ(ctx, iq)

	if s.Status() != jingle.StatusInitiated {
		r.registry.RemoveSingle(s.SID())
		s.dispose()
		return
	}
	s.onEnd(func(s *Single) { r.registry.RemoveSingle(s.SID()) })
	r.logger.Info().Str("sid", s.SID()).Str("peer", from.String()).Msg("Входящая сессия")
	if r.onIncoming != nil {
		r.onIncoming(s)
	}
}

// HandlePresence направляет присутствие в комнату по bare JID отправителя
func (r *Router) HandlePresence(ctx context.Context, raw []byte) {
	p, err := stanza.ParsePresence(raw)
	if err != nil {
		r.logger.Debug().Err(err).Msg("Некорректное присутствие")
		return
	}
	from, err := jid.Parse(p.From)
	if err != nil {
		return
	}
	room, ok := r.registry.Room(from.Bare().String())
	if !ok {
		r.logger.Debug().Str("from", p.From).Msg("Присутствие вне комнат")
		return
	}
	room.HandlePresence(ctx, p)
}
