package session

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/arzzra/jingle/pkg/jingle"
	"github.com/arzzra/jingle/pkg/jingle/pending"
	"github.com/arzzra/jingle/pkg/jingle/stanza"
	"github.com/arzzra/jingle/pkg/metrics"
	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"mellium.im/xmpp/jid"
	xstanza "mellium.im/xmpp/stanza"
)

// maxNickConflicts сколько раз вход повторяется с измененным ником
const maxNickConflicts = 3

// RoomHandlers события комнаты. Вызываются вне блокировки комнаты.
type RoomHandlers struct {
	OnStatus       func(r *Room, status jingle.RoomStatus)
	OnParticipant  func(r *Room, p ParticipantInfo)
	OnRemoteStream func(r *Room, p ParticipantInfo, stream Stream)
	OnError        func(r *Room, err error)
}

// Participant удаленный участник комнаты со своей парной сессией
type Participant struct {
	nick      string
	jid       jid.JID
	status    jingle.ParticipantStatus
	published bool
	contents  jingle.Contents
	session   *Single
}

// ParticipantInfo снимок состояния участника
type ParticipantInfo struct {
	Nick     string
	JID      jid.JID
	Status   jingle.ParticipantStatus
	Contents jingle.Contents
	SID      string
}

func (p *Participant) info() ParticipantInfo {
	out := ParticipantInfo{
		Nick:     p.nick,
		JID:      p.jid,
		Status:   p.status,
		Contents: p.contents.Clone(),
	}
	if p.session != nil {
		out.SID = p.session.SID()
	}
	return out
}

// Room сессия Muji (XEP-0272) в комнате MUC. Каждая пара участников
// согласует медиа отдельной сессией Single, ключом служит ник.
type Room struct {
	mu       sync.Mutex
	env      *Env
	registry *Registry
	logger   zerolog.Logger
	handlers RoomHandlers

	room jid.JID
	nick string

	fsm    *fsm.FSM
	status atomic.Value

	initiator    bool
	participants map[string]*Participant
	contents     jingle.Contents

	ids       *pending.IDs
	tracker   *pending.Tracker[*stanza.Presence]
	joinID    string
	grace     pending.Timer
	conflicts int

	mediaMu sync.Mutex
	stream  Stream

	deferred []func()
	endHooks []func(*Room)
}

// NewRoom создает комнату. Парные сессии регистрируются в registry, если он задан.
func NewRoom(env *Env, registry *Registry, room jid.JID, nick string, h RoomHandlers) *Room {
	r := &Room{
		env:          env,
		registry:     registry,
		handlers:     h,
		room:         room.Bare(),
		nick:         nick,
		participants: make(map[string]*Participant),
		ids:          pending.NewIDs(env.Config.IDPrefix, room.Bare().String()),
	}
	r.logger = env.Logger.With().
		Str("component", "muji").
		Str("room", r.room.String()).
		Logger()
	r.tracker = pending.NewTracker[*stanza.Presence](
		pending.WithTimeout(env.timeout()),
		pending.WithScheduler(env.scheduler()),
		pending.WithLogger(r.logger),
	)
	r.status.Store(jingle.RoomInactive)
	r.fsm = roomMachine(r.afterStateChange)
	r.contents = mujiContents(env.constraints())
	return r
}

// mujiContents контенты публикуемые в присутствии: только описания медиа
func mujiContents(c Constraints) jingle.Contents {
	var out jingle.Contents
	if c.Audio {
		out = append(out, jingle.Content{
			Name:        string(jingle.MediaAudio),
			Creator:     jingle.CreatorInitiator,
			Senders:     jingle.SendersBoth,
			Description: jingle.Description{Media: jingle.MediaAudio},
		})
	}
	if c.Video {
		out = append(out, jingle.Content{
			Name:        string(jingle.MediaVideo),
			Creator:     jingle.CreatorInitiator,
			Senders:     jingle.SendersBoth,
			Description: jingle.Description{Media: jingle.MediaVideo},
		})
	}
	return out
}

// JID возвращает bare JID комнаты
func (r *Room) JID() jid.JID { return r.room }

// Nick возвращает текущий ник локального участника
func (r *Room) Nick() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nick
}

// Status возвращает состояние комнаты
func (r *Room) Status() jingle.RoomStatus {
	return r.status.Load().(jingle.RoomStatus)
}

// IsInitiator возвращает true если локальный участник стал инициатором комнаты
func (r *Room) IsInitiator() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.initiator
}

// Participants возвращает снимки участников, отсортированные по нику
func (r *Room) Participants() []ParticipantInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]ParticipantInfo, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, p.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Nick < out[j].Nick })
	return out
}

// Participant возвращает снимок участника по нику
func (r *Room) Participant(nick string) (ParticipantInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[nick]
	if !ok {
		return ParticipantInfo{}, false
	}
	return p.info(), true
}

func (r *Room) onEnd(fn func(*Room)) {
	r.mu.Lock()
	if r.Status() == jingle.RoomLeft {
		r.deferred = append(r.deferred, func() { fn(r) })
	} else {
		r.endHooks = append(r.endHooks, fn)
	}
	r.unlock()
}

func (r *Room) unlock() {
	run := r.deferred
	r.deferred = nil
	r.mu.Unlock()

	for _, fn := range run {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					r.logger.Error().Interface("panic", rec).Msg("Паника в обработчике комнаты")
				}
			}()
			fn()
		}()
	}
}

func (r *Room) later(fn func()) {
	r.deferred = append(r.deferred, fn)
}

func (r *Room) emitErrorLocked(err error) {
	if h := r.handlers.OnError; h != nil {
		r.later(func() { h(r, err) })
	}
}

func (r *Room) emitParticipantLocked(p *Participant) {
	if h := r.handlers.OnParticipant; h != nil {
		info := p.info()
		r.later(func() { h(r, info) })
	}
}

func (r *Room) afterStateChange(_ context.Context, e *fsm.Event) {
	status := jingle.RoomStatus(e.Dst)
	r.status.Store(status)
	r.env.Metrics.StateTransition(e.Src, e.Dst)
	r.logger.Info().Str("from", e.Src).Str("to", e.Dst).Msg("Смена состояния комнаты")

	if h := r.handlers.OnStatus; h != nil {
		r.later(func() { h(r, status) })
	}
	if status != jingle.RoomLeft {
		return
	}

	r.stopGraceLocked()
	r.later(r.releaseMedia)
	hooks := r.endHooks
	r.endHooks = nil
	for _, fn := range hooks {
		r.later(func() { fn(r) })
	}
}

func (r *Room) setStatusLocked(dst jingle.RoomStatus) error {
	if err := transit(context.TODO(), r.fsm, dst); err != nil {
		return errors.Wrapf(ErrInvalidState, "%s -> %s: %v", r.fsm.Current(), dst, err)
	}
	return nil
}

func (r *Room) snapshot() pending.Snapshot {
	return pending.Snapshot{SID: r.room.String(), Status: string(r.Status())}
}

func (r *Room) occupant(nick string) (jid.JID, error) {
	return r.room.WithResource(nick)
}

func (r *Room) send(ctx context.Context, p *stanza.Presence) error {
	if err := r.env.Transport.Send(ctx, p); err != nil {
		return errors.Wrap(err, "send presence")
	}
	r.logger.Debug().Str("to", p.To).Str("type", string(p.Type)).Msg("Отправлено присутствие")
	return nil
}

// Join входит в комнату с присутствием preparing
func (r *Room) Join(ctx context.Context) error {
	r.mu.Lock()
	defer r.unlock()

	if r.Status() != jingle.RoomInactive {
		return errors.Wrapf(ErrInvalidState, "status %s", r.Status())
	}
	if err := r.setStatusLocked(jingle.RoomPreparing); err != nil {
		return err
	}
	if err := r.sendJoinLocked(ctx); err != nil {
		_ = r.setStatusLocked(jingle.RoomLeft)
		return err
	}
	return nil
}

func (r *Room) sendJoinLocked(ctx context.Context) error {
	to, err := r.occupant(r.nick)
	if err != nil {
		return errors.Wrapf(err, "nick %q", r.nick)
	}

	r.joinID = r.ids.Next()
	key := pending.Key{Node: nodeMuji, Kind: stanza.KindPresence, ID: r.joinID}
	r.tracker.Register(key, pending.Registration[*stanza.Presence]{
		Snapshot: r.snapshot(),
		Live:     r.snapshot,
		Success:  r.onJoined,
		Timeout: func() {
			r.env.Metrics.TransactionTimeout()
			if h := r.handlers.OnError; h != nil {
				h(r, errors.Wrap(ErrTimeout, "join"))
			}
		},
		Internal: func() {
			r.mu.Lock()
			defer r.unlock()
			if r.Status() == jingle.RoomPreparing {
				_ = r.setStatusLocked(jingle.RoomLeft)
			}
		},
	})

	err = r.send(ctx, &stanza.Presence{
		ID:   r.joinID,
		From: r.env.Transport.LocalJID().String(),
		To:   to.String(),
		MUC:  &stanza.MUCElement{},
		Muji: &stanza.MujiElement{Preparing: &struct{}{}},
	})
	if err != nil {
		r.tracker.Forget(key)
	}
	return err
}

// onJoined вызывается под mu при получении отраженного присутствия
func (r *Room) onJoined(*stanza.Presence) {
	if r.Status() != jingle.RoomPreparing {
		return
	}
	if err := r.setStatusLocked(jingle.RoomPrepared); err != nil {
		r.logger.Error().Err(err).Msg("Переход в prepared")
		return
	}
	r.evaluateLocked(context.Background())
}

// HandlePresence обрабатывает присутствие из комнаты
func (r *Room) HandlePresence(ctx context.Context, p *stanza.Presence) {
	from, err := jid.Parse(p.From)
	if err != nil || !from.Bare().Equal(r.room) {
		r.logger.Debug().Str("from", p.From).Msg("Присутствие не из комнаты")
		return
	}
	nick := from.Resourcepart()

	r.mu.Lock()
	defer r.unlock()

	switch {
	case p.Type == xstanza.ErrorPresence:
		r.onPresenceErrorLocked(ctx, nick, p)
	case nick == r.nick || p.HasStatus(stanza.StatusSelfPresence):
		r.onSelfPresenceLocked(ctx, p)
	default:
		r.onOccupantPresenceLocked(ctx, nick, from, p)
	}
}

func (r *Room) onPresenceErrorLocked(ctx context.Context, nick string, p *stanza.Presence) {
	if p.Error == nil || nick != r.nick {
		r.logger.Warn().Str("nick", nick).Msg("Ошибка присутствия")
		return
	}
	if p.Error.Generic() != xstanza.Conflict || r.Status() != jingle.RoomPreparing {
		err := p.Error.ProtocolError()
		r.logger.Warn().Err(err).Msg("Вход в комнату отклонен")
		r.tracker.Forget(pending.Key{Node: nodeMuji, Kind: stanza.KindPresence, ID: r.joinID})
		r.emitErrorLocked(err)
		if r.Status() == jingle.RoomPreparing {
			_ = r.setStatusLocked(jingle.RoomLeft)
		}
		return
	}

	r.tracker.Forget(pending.Key{Node: nodeMuji, Kind: stanza.KindPresence, ID: r.joinID})
	if r.conflicts >= maxNickConflicts {
		r.emitErrorLocked(errors.Errorf("muji: nick conflict after %d attempts", r.conflicts))
		_ = r.setStatusLocked(jingle.RoomLeft)
		return
	}
	r.conflicts++
	old := r.nick
	r.nick = old + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	r.logger.Info().Str("old", old).Str("nick", r.nick).Msg("Конфликт ника, повторный вход")

	if err := r.sendJoinLocked(ctx); err != nil {
		r.emitErrorLocked(err)
		_ = r.setStatusLocked(jingle.RoomLeft)
	}
}

func (r *Room) onSelfPresenceLocked(ctx context.Context, p *stanza.Presence) {
	if p.Type == xstanza.UnavailablePresence {
		return
	}
	switch r.Status() {
	case jingle.RoomPreparing:
		key := pending.Key{Node: nodeMuji, Kind: stanza.KindPresence, ID: r.joinID}
		if !r.tracker.Resolve(key, p) {
			r.onJoined(p)
		}
	case jingle.RoomInitiating:
		if p.Muji == nil || len(p.Muji.Contents) == 0 {
			return
		}
		if err := r.setStatusLocked(jingle.RoomInitiated); err != nil {
			r.logger.Error().Err(err).Msg("Переход в initiated")
			return
		}
		r.connectLocked(ctx)
	}
}

func (r *Room) onOccupantPresenceLocked(ctx context.Context, nick string, from jid.JID, p *stanza.Presence) {
	part, known := r.participants[nick]

	if p.Type == xstanza.UnavailablePresence {
		if !known || part.status == jingle.ParticipantLeft {
			return
		}
		part.status = jingle.ParticipantLeft
		r.logger.Info().Str("nick", nick).Msg("Участник покинул комнату")
		if s := part.session; s != nil {
			r.later(func() { _ = s.Abort() })
		}
		r.emitParticipantLocked(part)
		delete(r.participants, nick)
		r.evaluateLocked(ctx)
		return
	}

	if !known {
		part = &Participant{nick: nick, jid: from, status: jingle.ParticipantPrepared}
		r.participants[nick] = part
		r.logger.Info().Str("nick", nick).Msg("Новый участник")
	}
	if p.Muji != nil && len(p.Muji.Contents) > 0 {
		contents, errs := stanza.DecodeContents(p.Muji.Contents)
		for _, err := range errs {
			r.logger.Warn().Err(err).Str("nick", nick).Msg("Контент участника исключен")
		}
		part.contents = contents
		part.published = true
	}
	r.emitParticipantLocked(part)
	r.evaluateLocked(ctx)
}

// evaluateLocked принимает решение о публикации контентов и запуске парных сессий
func (r *Room) evaluateLocked(ctx context.Context) {
	switch r.Status() {
	case jingle.RoomPrepared:
	case jingle.RoomInitiated:
		r.connectLocked(ctx)
		return
	default:
		return
	}

	active := 0
	lowest := r.nick
	for _, p := range r.participants {
		if p.status == jingle.ParticipantLeft {
			continue
		}
		if p.published {
			// Инициатор уже опубликовал контенты, присоединяемся
			r.publishLocked(ctx)
			return
		}
		active++
		if p.nick < lowest {
			lowest = p.nick
		}
	}

	if active == 0 {
		r.startGraceLocked()
		return
	}
	if lowest == r.nick {
		r.initiator = true
		r.publishLocked(ctx)
	}
}

func (r *Room) startGraceLocked() {
	if r.grace != nil {
		return
	}
	r.grace = r.env.scheduler().AfterFunc(r.env.grace(), r.onGrace)
}

func (r *Room) stopGraceLocked() {
	if r.grace != nil {
		r.grace.Stop()
		r.grace = nil
	}
}

func (r *Room) onGrace() {
	r.mu.Lock()
	defer r.unlock()

	r.grace = nil
	if r.Status() != jingle.RoomPrepared {
		return
	}
	for _, p := range r.participants {
		if p.status != jingle.ParticipantLeft {
			r.evaluateLocked(context.Background())
			return
		}
	}
	r.logger.Info().Msg("Окно ожидания истекло, комната инициируется локально")
	r.initiator = true
	r.publishLocked(context.Background())
}

// publishLocked публикует контенты в присутствии
func (r *Room) publishLocked(ctx context.Context) {
	r.stopGraceLocked()
	if err := r.setStatusLocked(jingle.RoomInitiating); err != nil {
		r.logger.Error().Err(err).Msg("Переход в initiating")
		return
	}
	to, err := r.occupant(r.nick)
	if err == nil {
		err = r.send(ctx, &stanza.Presence{
			ID:   r.ids.Next(),
			From: r.env.Transport.LocalJID().String(),
			To:   to.String(),
			Muji: &stanza.MujiElement{Contents: stanza.EncodeContents(r.contents)},
		})
	}
	if err != nil {
		r.emitErrorLocked(err)
		_ = r.setStatusLocked(jingle.RoomLeft)
	}
}

// connectLocked запускает парные сессии с участниками опубликовавшими
// контенты. Сессию начинает участник с меньшим ником.
func (r *Room) connectLocked(ctx context.Context) {
	nicks := make([]string, 0, len(r.participants))
	for nick := range r.participants {
		nicks = append(nicks, nick)
	}
	sort.Strings(nicks)

	for _, nick := range nicks {
		p := r.participants[nick]
		if !p.published || p.session != nil || p.status == jingle.ParticipantLeft || r.nick > nick {
			continue
		}
		s, err := r.newParticipantSession(p, uuid.NewString(), jingle.CreatorInitiator, jid.JID{})
		if err != nil {
			r.emitErrorLocked(err)
			continue
		}
		p.session = s
		r.logger.Info().Str("nick", nick).Str("sid", s.SID()).Msg("Начата парная сессия")
		r.later(func() {
			if err := s.Initiate(context.WithoutCancel(ctx)); err != nil {
				r.logger.Warn().Err(err).Str("nick", nick).Msg("Парная сессия не начата")
			}
		})
	}
}

// newParticipantSession создает парную сессию с участником p
func (r *Room) newParticipantSession(p *Participant, sid string, role jingle.Creator, initiator jid.JID) (*Single, error) {
	local, err := r.occupant(r.nick)
	if err != nil {
		return nil, errors.Wrapf(err, "nick %q", r.nick)
	}
	if role == jingle.CreatorInitiator {
		initiator = local
	}
	s := newSingle(r.env, singleParams{
		sid:        sid,
		role:       role,
		local:      local,
		peer:       p.jid,
		initiator:  initiator,
		room:       r.room.String(),
		kind:       metrics.KindMuji,
		handlers:   r.participantHandlers(p.nick),
		acquire:    r.sharedStream,
		ownsStream: false,
	})
	if r.registry != nil {
		r.registry.AddSingle(s)
		s.onEnd(func(s *Single) { r.registry.RemoveSingle(s.SID()) })
	}
	return s, nil
}

func (r *Room) participantHandlers(nick string) Handlers {
	return Handlers{
		OnStatus: func(s *Single, status jingle.Status) {
			if status != jingle.StatusAccepted {
				return
			}
			r.mu.Lock()
			defer r.unlock()
			if p, ok := r.participants[nick]; ok && p.session == s && p.status == jingle.ParticipantPrepared {
				p.status = jingle.ParticipantInitiated
				r.emitParticipantLocked(p)
			}
		},
		OnTerminated: func(s *Single, reason jingle.Reason) {
			r.mu.Lock()
			defer r.unlock()
			if p, ok := r.participants[nick]; ok && p.session == s {
				p.session = nil
				r.logger.Info().Str("nick", nick).Str("reason", string(reason)).Msg("Парная сессия завершена")
			}
		},
		OnRemoteStream: func(s *Single, stream Stream) {
			r.mu.Lock()
			p, ok := r.participants[nick]
			var info ParticipantInfo
			if ok {
				info = p.info()
			}
			r.unlock()
			if h := r.handlers.OnRemoteStream; h != nil && ok {
				h(r, info, stream)
			}
		},
		OnError: func(s *Single, err error) {
			if h := r.handlers.OnError; h != nil {
				h(r, errors.Wrapf(err, "participant %s", nick))
			}
		},
	}
}

// HandleInitiate принимает session-initiate от участника комнаты. Парная
// сессия создается и принимается автоматически.
func (r *Room) HandleInitiate(ctx context.Context, iq *stanza.IQ) {
	from, err := jid.Parse(iq.From)
	if err != nil || !from.Bare().Equal(r.room) {
		rejectIQ(ctx, r.env, r.logger, iq, jingle.NewProtocolError(jingle.ConditionUnknownSession))
		return
	}
	nick := from.Resourcepart()

	r.mu.Lock()
	switch r.Status() {
	case jingle.RoomPrepared, jingle.RoomInitiating, jingle.RoomInitiated:
	default:
		r.unlock()
		rejectIQ(ctx, r.env, r.logger, iq, jingle.NewProtocolError(jingle.ConditionOutOfOrder))
		return
	}

	p, ok := r.participants[nick]
	if !ok {
		p = &Participant{nick: nick, jid: from, status: jingle.ParticipantPrepared}
		r.participants[nick] = p
	}
	if p.session != nil {
		cond := jingle.ConditionOutOfOrder
		if p.session.Role() == jingle.CreatorInitiator && p.session.Status() == jingle.StatusInitiating {
			cond = jingle.ConditionTieBreak
		}
		r.unlock()
		rejectIQ(ctx, r.env, r.logger, iq, jingle.NewProtocolError(cond))
		return
	}

	initiator := from
	if iq.Jingle.Initiator != "" {
		if j, err := jid.Parse(iq.Jingle.Initiator); err == nil {
			initiator = j
		}
	}
	s, err := r.newParticipantSession(p, iq.Jingle.SID, jingle.CreatorResponder, initiator)
	if err != nil {
		r.unlock()
		rejectIQ(ctx, r.env, r.logger, iq, jingle.NewGenericError(xstanza.ServiceUnavailable))
		return
	}
	p.session = s
	r.unlock()

	s.HandleIQ(ctx, iq)
	if s.Status() != jingle.StatusInitiated {
		r.mu.Lock()
		if p.session == s {
			p.session = nil
		}
		r.unlock()
		if r.registry != nil {
			r.registry.RemoveSingle(s.SID())
		}
		s.dispose()
		return
	}
	go func() {
		if err := s.Accept(context.WithoutCancel(ctx)); err != nil {
			r.logger.Warn().Err(err).Str("nick", nick).Msg("Парная сессия не принята")
		}
	}()
}

// sharedStream получает общий для всех парных сессий локальный поток
func (r *Room) sharedStream(ctx context.Context) (Stream, error) {
	r.mediaMu.Lock()
	defer r.mediaMu.Unlock()

	if r.stream != nil {
		return r.stream, nil
	}
	stream, err := r.env.Media.AcquireLocalMedia(ctx, r.env.constraints())
	if err != nil {
		return nil, err
	}
	r.stream = stream
	return stream, nil
}

func (r *Room) releaseMedia() {
	r.mediaMu.Lock()
	stream := r.stream
	r.stream = nil
	r.mediaMu.Unlock()

	if stream != nil {
		stream.Stop()
	}
}

// Leave покидает комнату: завершает парные сессии и отправляет unavailable.
// session-terminate уходит раньше присутствия, иначе комната перестанет
// доставлять его собеседнику.
func (r *Room) Leave(ctx context.Context) error {
	r.mu.Lock()
	switch r.Status() {
	case jingle.RoomPreparing, jingle.RoomPrepared, jingle.RoomInitiating, jingle.RoomInitiated:
	default:
		r.unlock()
		return errors.Wrapf(ErrInvalidState, "status %s", r.Status())
	}
	if err := r.setStatusLocked(jingle.RoomLeaving); err != nil {
		r.unlock()
		return err
	}
	r.stopGraceLocked()
	r.tracker.Forget(pending.Key{Node: nodeMuji, Kind: stanza.KindPresence, ID: r.joinID})

	var pairs []*Single
	for _, p := range r.participants {
		if p.session != nil {
			pairs = append(pairs, p.session)
		}
	}
	r.unlock()

	for _, s := range pairs {
		s.hangup(ctx, jingle.ReasonGone)
	}

	r.mu.Lock()
	defer r.unlock()

	var sendErr error
	if to, err := r.occupant(r.nick); err == nil {
		sendErr = r.send(ctx, &stanza.Presence{
			ID:   r.ids.Next(),
			From: r.env.Transport.LocalJID().String(),
			To:   to.String(),
			Type: xstanza.UnavailablePresence,
		})
	}

	for _, p := range r.participants {
		p.status = jingle.ParticipantLeft
		if s := p.session; s != nil {
			r.later(func() { _ = s.Abort() })
		}
		r.emitParticipantLocked(p)
	}
	r.participants = make(map[string]*Participant)

	if err := r.setStatusLocked(jingle.RoomLeft); err != nil {
		return err
	}
	return sendErr
}
