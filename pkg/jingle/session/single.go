package session

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"github.com/arzzra/jingle/pkg/jingle"
	"github.com/arzzra/jingle/pkg/jingle/candidates"
	"github.com/arzzra/jingle/pkg/jingle/pending"
	"github.com/arzzra/jingle/pkg/jingle/sdp"
	"github.com/arzzra/jingle/pkg/jingle/stanza"
	"github.com/arzzra/jingle/pkg/metrics"
	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"mellium.im/xmpp/jid"
	xstanza "mellium.im/xmpp/stanza"
)

// Узлы ключей ожидающих запросов
const (
	nodeSingle = "single"
	nodeMuji   = "muji"
)

// Handlers события сессии. Вызываются вне блокировки сессии, в горутине
// завершившей операцию.
type Handlers struct {
	OnStatus       func(s *Single, status jingle.Status)
	OnInfo         func(s *Single, name jingle.InfoName, args jingle.InfoArgs)
	OnRemoteStream func(s *Single, stream Stream)
	OnTerminated   func(s *Single, reason jingle.Reason)
	OnError        func(s *Single, err error)
}

// singleParams параметры создания сессии
type singleParams struct {
	sid       string
	role      jingle.Creator
	local     jid.JID
	peer      jid.JID
	initiator jid.JID
	room      string
	kind      string
	handlers  Handlers

	// acquire получает локальное медиа. Для участников комнаты поток общий
	// и сессия его не останавливает.
	acquire    func(ctx context.Context) (Stream, error)
	ownsStream bool
}

// Single сессия Jingle между двумя сторонами.
//
// Все изменения состояния выполняются под mu. Статус дублируется в атомарном
// поле, чтобы таймеры ожидающих запросов проверяли его без блокировки.
// События пользователя и освобождение медиа откладываются до снятия
// блокировки.
type Single struct {
	mu       sync.Mutex
	env      *Env
	logger   zerolog.Logger
	handlers Handlers

	sid       string
	role      jingle.Creator
	local     jid.JID
	peer      jid.JID
	initiator jid.JID
	responder jid.JID
	room      string
	kind      string
	sdpID     uint64

	fsm    *fsm.FSM
	status atomic.Value

	busy   bool
	reason jingle.Reason

	localDesc      *sdp.Description
	localContents  jingle.Contents
	localGroups    []jingle.Group
	remoteContents jingle.Contents
	remoteGroups   []jingle.Group
	localSent      bool
	remoteDescSet  bool
	early          []ICECandidate

	acquire       func(ctx context.Context) (Stream, error)
	ownsStream    bool
	peerConfig    PeerConfig
	pc            PeerConnection
	stream        Stream
	remoteStreams []Stream

	cands   *candidates.Manager
	tracker *pending.Tracker[Outcome]
	ids     *pending.IDs

	deferred []func()
	endHooks []func(*Single)
}

// NewSingle создает исходящую сессию к peer. Идентификатор сессии
// назначается при создании.
func NewSingle(env *Env, peer jid.JID, h Handlers) *Single {
	local := env.Transport.LocalJID()
	return newSingle(env, singleParams{
		sid:       uuid.NewString(),
		role:      jingle.CreatorInitiator,
		local:     local,
		peer:      peer,
		initiator: local,
		kind:      metrics.KindSingle,
		handlers:  h,
	})
}

// newResponder создает входящую сессию по запросу session-initiate
func newResponder(env *Env, iq *stanza.IQ, h Handlers) (*Single, error) {
	peer, err := jid.Parse(iq.From)
	if err != nil {
		return nil, errors.Wrap(err, "parse sender")
	}
	initiator := peer
	if iq.Jingle.Initiator != "" {
		if initiator, err = jid.Parse(iq.Jingle.Initiator); err != nil {
			return nil, errors.Wrap(err, "parse initiator")
		}
	}
	return newSingle(env, singleParams{
		sid:       iq.Jingle.SID,
		role:      jingle.CreatorResponder,
		local:     env.Transport.LocalJID(),
		peer:      peer,
		initiator: initiator,
		kind:      metrics.KindSingle,
		handlers:  h,
	}), nil
}

func newSingle(env *Env, p singleParams) *Single {
	s := &Single{
		env:        env,
		handlers:   p.handlers,
		sid:        p.sid,
		role:       p.role,
		local:      p.local,
		peer:       p.peer,
		initiator:  p.initiator,
		room:       p.room,
		kind:       p.kind,
		sdpID:      sdpSessionID(p.sid),
		acquire:    p.acquire,
		ownsStream: p.ownsStream,
		peerConfig: env.Config.PeerConfig,
		cands:      candidates.NewManager(),
		tracker:    env.newTracker(p.sid),
		ids:        pending.NewIDs(env.Config.IDPrefix, p.sid),
	}
	if s.kind == "" {
		s.kind = metrics.KindSingle
	}
	if s.acquire == nil {
		s.acquire = func(ctx context.Context) (Stream, error) {
			return env.Media.AcquireLocalMedia(ctx, env.constraints())
		}
		s.ownsStream = true
	}
	if p.role == jingle.CreatorResponder {
		s.responder = p.local
	}

	s.logger = env.Logger.With().
		Str("component", "session").
		Str("sid", p.sid).
		Str("role", string(p.role)).
		Str("peer", p.peer.String()).
		Logger()

	s.status.Store(jingle.StatusInactive)
	s.fsm = singleMachine(s.afterStateChange)
	env.Metrics.SessionCreated(s.kind)
	return s
}

func sdpSessionID(sid string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(sid))
	return h.Sum64() >> 2
}

// SID возвращает идентификатор сессии
func (s *Single) SID() string { return s.sid }

// Role возвращает роль локальной стороны
func (s *Single) Role() jingle.Creator { return s.role }

// Peer возвращает JID удаленной стороны
func (s *Single) Peer() jid.JID { return s.peer }

// Initiator возвращает JID инициатора
func (s *Single) Initiator() jid.JID { return s.initiator }

// Responder возвращает JID ответчика (пустой до session-accept у инициатора)
func (s *Single) Responder() jid.JID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.responder
}

// Status возвращает текущее состояние
func (s *Single) Status() jingle.Status {
	return s.status.Load().(jingle.Status)
}

// Reason возвращает причину завершения
func (s *Single) Reason() jingle.Reason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// LocalContents возвращает копию локального набора контентов
func (s *Single) LocalContents() jingle.Contents {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localContents.Clone()
}

// RemoteContents возвращает копию удаленного набора контентов
func (s *Single) RemoteContents() jingle.Contents {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteContents.Clone()
}

// LocalCandidates возвращает все локальные кандидаты контента
func (s *Single) LocalCandidates(name string) []jingle.Candidate {
	return s.cands.Local(name)
}

// PendingRequests возвращает число запросов ожидающих ответа
func (s *Single) PendingRequests() int {
	return s.tracker.Len()
}

// onEnd регистрирует обработчик завершения сессии
func (s *Single) onEnd(fn func(*Single)) {
	s.mu.Lock()
	if s.Status() == jingle.StatusTerminated {
		s.deferred = append(s.deferred, func() { fn(s) })
	} else {
		s.endHooks = append(s.endHooks, fn)
	}
	s.unlock()
}

// dispose снимает учет сессии которая не вышла из INACTIVE
func (s *Single) dispose() {
	if s.Status() == jingle.StatusInactive {
		s.env.Metrics.SessionEnded(s.kind)
	}
}

// unlock снимает блокировку и выполняет отложенные действия
func (s *Single) unlock() {
	run := s.deferred
	s.deferred = nil
	s.mu.Unlock()

	for _, fn := range run {
		s.safely(fn)
	}
}

// finish завершает публичную операцию
func (s *Single) finish() {
	s.busy = false
	s.unlock()
}

func (s *Single) safely(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("Паника в обработчике сессии")
		}
	}()
	fn()
}

func (s *Single) later(fn func()) {
	s.deferred = append(s.deferred, fn)
}

func (s *Single) emitErrorLocked(err error) {
	if h := s.handlers.OnError; h != nil {
		s.later(func() { h(s, err) })
	}
}

// afterStateChange вызывается FSM после каждого перехода под mu
func (s *Single) afterStateChange(_ context.Context, e *fsm.Event) {
	status := jingle.Status(e.Dst)
	s.status.Store(status)
	s.env.Metrics.StateTransition(e.Src, e.Dst)
	s.logger.Info().Str("from", e.Src).Str("to", e.Dst).Msg("Смена состояния сессии")

	if h := s.handlers.OnStatus; h != nil {
		s.later(func() { h(s, status) })
	}
	if status != jingle.StatusTerminated {
		return
	}

	s.env.Metrics.SessionEnded(s.kind)
	s.releaseLocked()

	reason := s.reason
	if h := s.handlers.OnTerminated; h != nil {
		s.later(func() { h(s, reason) })
	}
	hooks := s.endHooks
	s.endHooks = nil
	for _, fn := range hooks {
		s.later(func() { fn(s) })
	}
}

func (s *Single) setStatusLocked(dst jingle.Status) error {
	if err := transit(context.TODO(), s.fsm, dst); err != nil {
		return errors.Wrapf(ErrInvalidState, "%s -> %s: %v", s.fsm.Current(), dst, err)
	}
	return nil
}

// endLocked принудительно переводит сессию в TERMINATED
func (s *Single) endLocked(reason jingle.Reason) {
	switch s.Status() {
	case jingle.StatusInactive, jingle.StatusTerminated:
		return
	}
	if s.reason == "" {
		s.reason = reason
	}
	if err := s.setStatusLocked(jingle.StatusTerminated); err != nil {
		s.logger.Error().Err(err).Msg("Не удалось завершить сессию")
	}
}

// releaseLocked освобождает медиа после снятия блокировки
func (s *Single) releaseLocked() {
	pc, stream, remotes := s.pc, s.stream, s.remoteStreams
	owns := s.ownsStream
	s.pc, s.stream, s.remoteStreams = nil, nil, nil
	s.early = nil
	s.cands.Reset()

	renderer := s.env.Renderer
	s.later(func() {
		for _, r := range remotes {
			if renderer != nil {
				if err := renderer.Detach(r); err != nil {
					s.logger.Warn().Err(err).Str("stream", r.ID()).Msg("Не удалось отключить поток")
				}
			}
		}
		s.closeMedia(pc, stream, owns)
	})
}

func (s *Single) closeMedia(pc PeerConnection, stream Stream, owns bool) {
	if pc != nil {
		if err := pc.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("Ошибка закрытия соединения")
		}
	}
	if stream != nil && owns {
		stream.Stop()
	}
}

// beginLocked проверяет флаг занятости и допустимость состояния публичной операции
func (s *Single) beginLocked(allowed ...jingle.Status) error {
	if s.busy {
		return ErrBusy
	}
	current := s.Status()
	for _, st := range allowed {
		if current == st {
			s.busy = true
			return nil
		}
	}
	return errors.Wrapf(ErrInvalidState, "status %s", current)
}

func (s *Single) snapshot() pending.Snapshot {
	return pending.Snapshot{SID: s.sid, Status: string(s.Status())}
}

func (s *Single) node() string {
	if s.room != "" {
		return nodeMuji
	}
	return nodeSingle
}

func (s *Single) newRequestLocked(action jingle.Action) *stanza.IQ {
	j := &stanza.Jingle{
		Action:    action,
		Initiator: s.initiator.String(),
		SID:       s.sid,
	}
	if s.room != "" {
		j.Muji = &stanza.MujiMarker{Room: s.room}
	}
	return &stanza.IQ{
		ID:     s.ids.Next(),
		From:   s.local.String(),
		To:     s.peer.String(),
		Type:   xstanza.SetIQ,
		Jingle: j,
	}
}

// sendRequestLocked регистрирует ожидание ответа и отправляет запрос.
// onOutcome вызывается под mu, onTimeout снимает блокировку сам.
func (s *Single) sendRequestLocked(ctx context.Context, iq *stanza.IQ, onOutcome func(Outcome), onTimeout func()) error {
	action := iq.Jingle.Action
	key := pending.Key{Node: s.node(), Kind: stanza.KindIQ, ID: iq.ID}

	s.tracker.Register(key, pending.Registration[Outcome]{
		Snapshot: s.snapshot(),
		Live:     s.snapshot,
		Success:  onOutcome,
		Timeout: func() {
			s.env.Metrics.TransactionTimeout()
			if h := s.handlers.OnError; h != nil {
				err := errors.Wrapf(ErrTimeout, "%s %s", action, iq.ID)
				s.safely(func() { h(s, err) })
			}
		},
		Internal: onTimeout,
	})

	if err := s.env.Transport.Send(ctx, iq); err != nil {
		s.tracker.Forget(key)
		return errors.Wrapf(err, "send %s", action)
	}
	s.env.Metrics.StanzaSent(string(action))
	s.logger.Debug().Str("action", string(action)).Str("id", iq.ID).Msg("Отправлен запрос")
	return nil
}

// onTimeout строит внутренний обработчик таймаута: если сессия все еще в
// состоянии expect, она принудительно завершается
func (s *Single) onTimeout(expect jingle.Status) func() {
	return func() {
		s.mu.Lock()
		defer s.unlock()
		if s.Status() == expect {
			s.endLocked(jingle.ReasonTimeout)
		}
	}
}

func (s *Single) replyLocked(ctx context.Context, req *stanza.IQ) {
	if err := s.env.Transport.Send(ctx, stanza.NewResult(req)); err != nil {
		s.logger.Warn().Err(err).Str("id", req.ID).Msg("Не удалось отправить ответ")
	}
}

func (s *Single) rejectLocked(ctx context.Context, req *stanza.IQ, perr *jingle.ProtocolError) {
	rejectIQ(ctx, s.env, s.logger, req, perr)
}

// rejectIQ отправляет ответ с протокольной ошибкой
func rejectIQ(ctx context.Context, env *Env, logger zerolog.Logger, req *stanza.IQ, perr *jingle.ProtocolError) {
	condition := string(perr.Condition)
	if condition == "" {
		condition = string(perr.Generic)
	}
	env.Metrics.ProtocolError(condition)

	ev := logger.Warn().Str("condition", condition).Str("id", req.ID)
	if req.Jingle != nil {
		ev = ev.Str("action", string(req.Jingle.Action))
	}
	ev.Msg("Запрос отклонен")

	if err := env.Transport.Send(ctx, stanza.NewError(req, perr)); err != nil {
		logger.Warn().Err(err).Str("id", req.ID).Msg("Не удалось отправить ошибку")
	}
}

// fromPeer проверяет что станза пришла от удаленной стороны сессии
func (s *Single) fromPeer(from string) bool {
	j, err := jid.Parse(from)
	if err != nil {
		return false
	}
	return j.Equal(s.peer)
}

// Initiate начинает исходящую сессию: получает локальное медиа, создает
// offer и отправляет session-initiate. Допустимо только в INACTIVE.
func (s *Single) Initiate(ctx context.Context) error {
	s.mu.Lock()
	if err := s.beginLocked(jingle.StatusInactive); err != nil {
		s.unlock()
		return err
	}
	if s.role != jingle.CreatorInitiator {
		s.busy = false
		s.unlock()
		return errors.Wrap(ErrInvalidState, "initiate on responder session")
	}
	s.mu.Unlock()

	pc, stream, offer, err := s.createOffer(ctx)

	s.mu.Lock()
	defer s.finish()

	if err != nil {
		s.logger.Error().Err(err).Msg("Не удалось подготовить offer")
		s.emitErrorLocked(err)
		return err
	}
	if s.Status() != jingle.StatusInactive {
		s.later(func() { s.closeMedia(pc, stream, s.ownsStream) })
		return ErrTerminated
	}
	s.pc, s.stream = pc, stream

	desc, err := sdp.Parse(offer.SDP, sdp.ParseOptions{
		Owner: jingle.CreatorInitiator,
		Known: s.localContents,
	})
	if err != nil {
		s.pc, s.stream = nil, nil
		s.later(func() { s.closeMedia(pc, stream, s.ownsStream) })
		return errors.Wrap(err, "parse local offer")
	}
	s.setLocalLocked(desc)

	if err := s.setStatusLocked(jingle.StatusInitiating); err != nil {
		return err
	}

	iq := s.newRequestLocked(jingle.ActionSessionInitiate)
	iq.Jingle.Contents = stanza.EncodeContents(withCandidates(s.localContents, s.cands.DrainLocal()))
	iq.Jingle.Groups = stanza.EncodeGroups(s.localGroups)

	if err := s.sendRequestLocked(ctx, iq, s.onInitiateOutcome, s.onTimeout(jingle.StatusInitiating)); err != nil {
		s.endLocked(jingle.ReasonConnectivityError)
		return err
	}
	s.localSent = true
	return nil
}

func (s *Single) onInitiateOutcome(o Outcome) {
	switch o.Kind {
	case OutcomeResult:
		if s.Status() != jingle.StatusInitiating {
			return
		}
		if err := s.setStatusLocked(jingle.StatusInitiated); err != nil {
			s.logger.Error().Err(err).Msg("Переход в initiated")
			return
		}
		s.flushLocalLocked(context.Background())
	case OutcomeError:
		err := o.Err()
		s.logger.Warn().Err(err).Msg("session-initiate отклонен")
		s.emitErrorLocked(err)
		s.endLocked(jingle.ReasonGeneralError)
	case OutcomeRequest:
	}
}

// Accept принимает входящую сессию. Допустимо только в INITIATED для ответчика.
func (s *Single) Accept(ctx context.Context) error {
	s.mu.Lock()
	if err := s.beginLocked(jingle.StatusInitiated); err != nil {
		s.unlock()
		return err
	}
	if s.role != jingle.CreatorResponder {
		s.busy = false
		s.unlock()
		return errors.Wrap(ErrInvalidState, "accept on initiator session")
	}

	remote, err := sdp.Generate(sdp.GenerateRequest{
		Type:      sdp.TypeOffer,
		Owner:     jingle.CreatorInitiator,
		SessionID: s.sdpID,
		Groups:    s.remoteGroups,
		Contents:  s.remoteContents,
	})
	if err != nil {
		s.finish()
		return errors.Wrap(err, "generate remote offer")
	}
	if err := s.setStatusLocked(jingle.StatusAccepting); err != nil {
		s.finish()
		return err
	}
	s.unlock()

	pc, stream, answer, err := s.createAnswer(ctx, remote)

	s.mu.Lock()
	defer s.finish()

	if err != nil {
		s.logger.Error().Err(err).Msg("Не удалось подготовить answer")
		s.emitErrorLocked(err)
		if s.Status() == jingle.StatusAccepting {
			if terr := s.terminateLocked(ctx, jingle.ReasonMediaError); terr != nil {
				s.logger.Warn().Err(terr).Msg("Не удалось отправить session-terminate")
			}
		}
		return err
	}
	if s.Status() != jingle.StatusAccepting {
		s.later(func() { s.closeMedia(pc, stream, s.ownsStream) })
		return ErrTerminated
	}
	s.pc, s.stream = pc, stream
	s.remoteDescSet = true

	desc, err := sdp.Parse(answer.SDP, sdp.ParseOptions{
		Owner:   jingle.CreatorResponder,
		Creator: jingle.CreatorInitiator,
		Known:   s.remoteContents,
	})
	if err != nil {
		s.emitErrorLocked(err)
		_ = s.terminateLocked(ctx, jingle.ReasonFailedApplication)
		return errors.Wrap(err, "parse local answer")
	}
	s.setLocalLocked(desc)
	s.applyRemoteLocked()

	iq := s.newRequestLocked(jingle.ActionSessionAccept)
	iq.Jingle.Responder = s.local.String()
	iq.Jingle.Contents = stanza.EncodeContents(withCandidates(s.localContents, s.cands.DrainLocal()))
	iq.Jingle.Groups = stanza.EncodeGroups(s.localGroups)

	if err := s.sendRequestLocked(ctx, iq, s.onAcceptOutcome, s.onTimeout(jingle.StatusAccepting)); err != nil {
		s.endLocked(jingle.ReasonConnectivityError)
		return err
	}
	s.localSent = true
	return nil
}

func (s *Single) onAcceptOutcome(o Outcome) {
	switch o.Kind {
	case OutcomeResult:
		if s.Status() != jingle.StatusAccepting {
			return
		}
		if err := s.setStatusLocked(jingle.StatusAccepted); err != nil {
			s.logger.Error().Err(err).Msg("Переход в accepted")
			return
		}
		s.flushLocalLocked(context.Background())
	case OutcomeError:
		err := o.Err()
		s.logger.Warn().Err(err).Msg("session-accept отклонен")
		s.emitErrorLocked(err)
		s.endLocked(jingle.ReasonGeneralError)
	case OutcomeRequest:
	}
}

// Info отправляет session-info без изменения состояния
func (s *Single) Info(ctx context.Context, name jingle.InfoName, args jingle.InfoArgs) error {
	if !name.Valid() {
		return errors.Wrapf(ErrInvalidArgument, "session-info %q", name)
	}

	s.mu.Lock()
	defer s.unlock()

	switch s.Status() {
	case jingle.StatusInitiated, jingle.StatusAccepting, jingle.StatusAccepted:
	default:
		return errors.Wrapf(ErrInvalidState, "status %s", s.Status())
	}

	iq := s.newRequestLocked(jingle.ActionSessionInfo)
	iq.Jingle.Info = []stanza.InfoElement{stanza.NewInfo(name, args)}
	return s.sendRequestLocked(ctx, iq, s.onAdvisoryOutcome, nil)
}

// onAdvisoryOutcome обрабатывает ответы на запросы не меняющие состояние
func (s *Single) onAdvisoryOutcome(o Outcome) {
	switch o.Kind {
	case OutcomeError:
		err := o.Err()
		s.logger.Warn().Err(err).Str("id", o.IQ.ID).Msg("Запрос отклонен удаленной стороной")
		s.emitErrorLocked(err)
	case OutcomeResult, OutcomeRequest:
	}
}

// Terminate завершает сессию с указанной причиной (по умолчанию success)
func (s *Single) Terminate(ctx context.Context, reason jingle.Reason) error {
	if reason == "" {
		reason = jingle.ReasonSuccess
	}
	if !reason.Valid() {
		return errors.Wrapf(ErrInvalidArgument, "reason %q", reason)
	}

	s.mu.Lock()
	if err := s.beginLocked(
		jingle.StatusInitiating,
		jingle.StatusInitiated,
		jingle.StatusAccepting,
		jingle.StatusAccepted,
	); err != nil {
		s.unlock()
		return err
	}
	defer s.finish()

	return s.terminateLocked(ctx, reason)
}

func (s *Single) terminateLocked(ctx context.Context, reason jingle.Reason) error {
	s.reason = reason
	if err := s.setStatusLocked(jingle.StatusTerminating); err != nil {
		return err
	}

	iq := s.newRequestLocked(jingle.ActionSessionTerminate)
	iq.Jingle.Reason = stanza.NewReason(reason, "")

	onOutcome := func(o Outcome) {
		if o.Kind == OutcomeError {
			s.logger.Debug().Err(o.Err()).Msg("session-terminate отклонен")
		}
		s.endLocked(reason)
	}
	if err := s.sendRequestLocked(ctx, iq, onOutcome, s.onTimeout(jingle.StatusTerminating)); err != nil {
		s.endLocked(reason)
		return err
	}
	return nil
}

// Abort завершает сессию локально без отправки станз
func (s *Single) Abort() error {
	s.mu.Lock()
	defer s.unlock()

	switch s.Status() {
	case jingle.StatusInactive, jingle.StatusTerminated:
		return errors.Wrapf(ErrInvalidState, "status %s", s.Status())
	}
	s.endLocked(jingle.ReasonCancel)
	return nil
}

// hangup отправляет session-terminate без ожидания ответа и сразу
// завершает сессию локально. Используется когда ответ уже не дойдет.
func (s *Single) hangup(ctx context.Context, reason jingle.Reason) {
	s.mu.Lock()
	defer s.unlock()

	switch s.Status() {
	case jingle.StatusInactive, jingle.StatusTerminated:
		return
	case jingle.StatusInitiating, jingle.StatusInitiated, jingle.StatusAccepting, jingle.StatusAccepted:
		iq := s.newRequestLocked(jingle.ActionSessionTerminate)
		iq.Jingle.Reason = stanza.NewReason(reason, "")
		if err := s.env.Transport.Send(ctx, iq); err != nil {
			s.logger.Debug().Err(err).Msg("session-terminate не отправлен")
		} else {
			s.env.Metrics.StanzaSent(string(jingle.ActionSessionTerminate))
		}
	}
	s.endLocked(reason)
}

// openMedia получает локальный поток и создает соединение
func (s *Single) openMedia(ctx context.Context) (PeerConnection, Stream, error) {
	stream, err := s.acquire(ctx)
	if err != nil {
		return nil, nil, errors.Wrap(err, "acquire local media")
	}
	pc, err := s.env.Media.CreatePeerConnection(s.peerConfig)
	if err != nil {
		s.closeMedia(nil, stream, s.ownsStream)
		return nil, nil, errors.Wrap(err, "create peer connection")
	}
	pc.OnICECandidate(s.onLocalCandidate)
	pc.OnRemoteStream(s.onRemoteStream)
	if err := pc.AddStream(stream); err != nil {
		s.closeMedia(pc, stream, s.ownsStream)
		return nil, nil, errors.Wrap(err, "add local stream")
	}
	return pc, stream, nil
}

func (s *Single) createOffer(ctx context.Context) (PeerConnection, Stream, Description, error) {
	pc, stream, err := s.openMedia(ctx)
	if err != nil {
		return nil, nil, Description{}, err
	}
	offer, err := pc.CreateOffer(ctx)
	if err == nil {
		err = pc.SetLocalDescription(offer)
	}
	if err != nil {
		s.closeMedia(pc, stream, s.ownsStream)
		return nil, nil, Description{}, errors.Wrap(err, "create offer")
	}
	return pc, stream, offer, nil
}

func (s *Single) createAnswer(ctx context.Context, remote string) (PeerConnection, Stream, Description, error) {
	pc, stream, err := s.openMedia(ctx)
	if err != nil {
		return nil, nil, Description{}, err
	}
	if err := pc.SetRemoteDescription(Description{Type: DescriptionOffer, SDP: remote}); err != nil {
		s.closeMedia(pc, stream, s.ownsStream)
		return nil, nil, Description{}, errors.Wrap(err, "set remote offer")
	}
	answer, err := pc.CreateAnswer(ctx)
	if err == nil {
		err = pc.SetLocalDescription(answer)
	}
	if err != nil {
		s.closeMedia(pc, stream, s.ownsStream)
		return nil, nil, Description{}, errors.Wrap(err, "create answer")
	}
	return pc, stream, answer, nil
}

// setLocalLocked сохраняет разобранное локальное описание и кандидатов из
// его тела, затем применяет кандидатов пришедших раньше описания
func (s *Single) setLocalLocked(desc *sdp.Description) {
	s.localDesc = desc
	s.localContents = desc.Contents
	s.localGroups = desc.Groups

	for _, c := range desc.Contents {
		for _, cand := range desc.Candidates[c.Name] {
			s.addLocalLocked(c.Name, cand)
		}
	}
	early := s.early
	s.early = nil
	for _, c := range early {
		s.addEngineCandidateLocked(c)
	}
}

func (s *Single) addLocalLocked(name string, c jingle.Candidate) {
	if s.cands.AddLocal(name, c) {
		s.env.Metrics.Candidate(metrics.DirectionLocal)
	}
}

func (s *Single) addEngineCandidateLocked(c ICECandidate) {
	cand, err := sdp.ParseCandidate(c.Candidate)
	if err != nil {
		s.logger.Debug().Err(err).Str("candidate", c.Candidate).Msg("Кандидат пропущен")
		return
	}
	name, ok := s.localDesc.NameForLabel(c.SDPMid, c.SDPMLineIndex)
	if !ok {
		s.logger.Debug().Str("mid", c.SDPMid).Int("index", c.SDPMLineIndex).Msg("Кандидат для неизвестного контента")
		return
	}
	_, cand = cand.Classify()
	s.addLocalLocked(name, cand)
}

// onLocalCandidate вызывается медиа движком из его горутины
func (s *Single) onLocalCandidate(c *ICECandidate) {
	if c == nil {
		s.logger.Debug().Msg("Сбор кандидатов завершен")
		return
	}

	s.mu.Lock()
	defer s.unlock()

	switch s.Status() {
	case jingle.StatusTerminating, jingle.StatusTerminated:
		return
	}
	if s.localDesc == nil {
		s.early = append(s.early, *c)
		return
	}
	s.addEngineCandidateLocked(*c)

	if !s.localSent {
		return
	}
	switch s.Status() {
	case jingle.StatusInitiated, jingle.StatusAccepting, jingle.StatusAccepted:
		s.flushLocalLocked(context.Background())
	}
}

// flushLocalLocked отправляет накопленные локальные кандидаты в transport-info
func (s *Single) flushLocalLocked(ctx context.Context) {
	drained := s.cands.DrainLocal()
	if len(drained) == 0 {
		return
	}

	iq := s.newRequestLocked(jingle.ActionTransportInfo)
	for _, c := range s.localContents {
		list := drained[c.Name]
		if len(list) == 0 {
			continue
		}
		iq.Jingle.Contents = append(iq.Jingle.Contents, stanza.ContentElement{
			Creator: c.Creator,
			Name:    c.Name,
			Transport: stanza.EncodeTransport(jingle.Transport{
				Ufrag:      c.Transport.Ufrag,
				Pwd:        c.Transport.Pwd,
				Candidates: list,
			}),
		})
	}
	if len(iq.Jingle.Contents) == 0 {
		return
	}
	if err := s.sendRequestLocked(ctx, iq, s.onAdvisoryOutcome, nil); err != nil {
		s.logger.Warn().Err(err).Msg("Не удалось отправить transport-info")
	}
}

// onRemoteStream вызывается медиа движком из его горутины
func (s *Single) onRemoteStream(stream Stream) {
	s.mu.Lock()
	defer s.unlock()

	if s.Status() == jingle.StatusTerminated {
		return
	}
	s.remoteStreams = append(s.remoteStreams, stream)
	s.logger.Info().Str("stream", stream.ID()).Msg("Получен удаленный поток")

	renderer := s.env.Renderer
	h := s.handlers.OnRemoteStream
	s.later(func() {
		if renderer != nil {
			if err := renderer.Attach(stream, false); err != nil {
				s.logger.Warn().Err(err).Str("stream", stream.ID()).Msg("Не удалось подключить поток")
			}
		}
		if h != nil {
			h(s, stream)
		}
	})
}

// midFor возвращает mid медиа движка для контента
func (s *Single) midFor(name string) string {
	if s.role == jingle.CreatorInitiator && s.localDesc != nil {
		for mid, n := range s.localDesc.Mids {
			if n == name {
				return mid
			}
		}
	}
	return name
}

func (s *Single) localMids() map[string]string {
	if s.localDesc == nil {
		return nil
	}
	out := make(map[string]string, len(s.localDesc.Mids))
	for mid, name := range s.localDesc.Mids {
		out[name] = mid
	}
	return out
}

// queueRemoteLocked ставит кандидатов из контентов в удаленную очередь и
// применяет их, если удаленное описание уже установлено
func (s *Single) queueRemoteLocked(contents jingle.Contents) {
	for _, c := range contents {
		for _, cand := range c.Transport.Candidates {
			if s.cands.AddRemote(c.Name, cand) {
				s.env.Metrics.Candidate(metrics.DirectionRemote)
			}
		}
	}
	if s.remoteDescSet {
		s.applyRemoteLocked()
	}
}

func (s *Single) applyRemoteLocked() {
	if s.pc == nil {
		return
	}
	for name, list := range s.cands.DrainRemote() {
		index := -1
		for i, c := range s.remoteContents {
			if c.Name == name {
				index = i
				break
			}
		}
		for _, c := range list {
			err := s.pc.AddICECandidate(ICECandidate{
				Candidate:     sdp.FormatCandidate(c),
				SDPMid:        s.midFor(name),
				SDPMLineIndex: index,
			})
			if err != nil {
				s.logger.Warn().Err(err).Str("content", name).Msg("Удаленный кандидат не применен")
			}
		}
	}
}

// withCandidates возвращает копию контентов с присоединенными кандидатами
func withCandidates(contents jingle.Contents, drained map[string][]jingle.Candidate) jingle.Contents {
	out := contents.Clone()
	for i := range out {
		out[i].Transport.Candidates = append(out[i].Transport.Candidates, drained[out[i].Name]...)
	}
	return out
}

// withoutCandidates возвращает копию контентов без кандидатов
func withoutCandidates(contents jingle.Contents) jingle.Contents {
	out := contents.Clone()
	for i := range out {
		out[i].Transport.Candidates = nil
	}
	return out
}
