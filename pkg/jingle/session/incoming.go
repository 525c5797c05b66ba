package session

import (
	"context"

	"github.com/arzzra/jingle/pkg/jingle"
	"github.com/arzzra/jingle/pkg/jingle/pending"
	"github.com/arzzra/jingle/pkg/jingle/sdp"
	"github.com/arzzra/jingle/pkg/jingle/stanza"
	"github.com/pkg/errors"
	"mellium.im/xmpp/jid"
	xstanza "mellium.im/xmpp/stanza"
)

// HandleIQ обрабатывает входящую IQ станзу сессии: ответы сопоставляются с
// ожидающими запросами, запросы проверяются и диспетчеризуются по действию.
func (s *Single) HandleIQ(ctx context.Context, iq *stanza.IQ) {
	outcome, ok := outcomeOf(iq)
	if !ok {
		s.logger.Debug().Str("type", string(iq.Type)).Msg("IQ неизвестного типа пропущен")
		return
	}

	s.mu.Lock()
	defer s.unlock()

	switch outcome.Kind {
	case OutcomeResult, OutcomeError:
		if !s.fromPeer(iq.From) {
			s.logger.Warn().Str("from", iq.From).Str("id", iq.ID).Msg("Ответ от постороннего отправителя пропущен")
			return
		}
		key := pending.Key{Node: s.node(), Kind: stanza.KindIQ, ID: iq.ID}
		if !s.tracker.Resolve(key, outcome) {
			s.logger.Debug().Str("id", iq.ID).Msg("Ответ без ожидающего запроса")
		}
	case OutcomeRequest:
		s.handleRequestLocked(ctx, iq)
	}
}

func (s *Single) handleRequestLocked(ctx context.Context, iq *stanza.IQ) {
	j := iq.Jingle
	if j == nil {
		s.rejectLocked(ctx, iq, jingle.NewGenericError(xstanza.BadRequest))
		return
	}
	if j.SID != s.sid || !s.fromPeer(iq.From) {
		s.rejectLocked(ctx, iq, jingle.NewProtocolError(jingle.ConditionUnknownSession))
		return
	}

	s.env.Metrics.StanzaReceived(string(j.Action))
	s.logger.Debug().Str("action", string(j.Action)).Str("id", iq.ID).Msg("Получен запрос")

	switch j.Action {
	case jingle.ActionSessionInitiate:
		s.onSessionInitiateLocked(ctx, iq)
	case jingle.ActionSessionAccept:
		s.onSessionAcceptLocked(ctx, iq)
	case jingle.ActionSessionInfo:
		s.onSessionInfoLocked(ctx, iq)
	case jingle.ActionSessionTerminate:
		s.onSessionTerminateLocked(ctx, iq)
	case jingle.ActionTransportInfo:
		s.onTransportInfoLocked(ctx, iq)
	default:
		if !j.Action.Valid() {
			s.rejectLocked(ctx, iq, jingle.NewGenericError(xstanza.BadRequest).WithText("unknown action"))
			return
		}
		s.rejectLocked(ctx, iq, jingle.NewGenericError(xstanza.FeatureNotImplemented))
	}
}

// decodeContentsLocked разбирает контенты запроса. Контенты без идентичности
// исключаются с записью в журнал.
func (s *Single) decodeContentsLocked(j *stanza.Jingle) jingle.Contents {
	contents, errs := stanza.DecodeContents(j.Contents)
	for _, err := range errs {
		s.logger.Warn().Err(err).Str("action", string(j.Action)).Msg("Контент исключен")
	}
	return contents
}

// checkSecurity проверяет наличие DTLS отпечатков при обязательном шифровании
func (s *Single) checkSecurity(contents jingle.Contents) *jingle.ProtocolError {
	if !s.env.Config.RequireEncryption {
		return nil
	}
	for _, c := range contents {
		if c.Transport.Fingerprint == nil || c.Transport.Fingerprint.Value == "" {
			return jingle.NewProtocolError(jingle.ConditionSecurityRequired).
				WithText("content " + c.Name + " has no fingerprint")
		}
	}
	return nil
}

func (s *Single) onSessionInitiateLocked(ctx context.Context, iq *stanza.IQ) {
	status := s.Status()
	switch {
	case s.role == jingle.CreatorInitiator && status == jingle.StatusInitiating:
		s.rejectLocked(ctx, iq, jingle.NewProtocolError(jingle.ConditionTieBreak))
		return
	case s.role != jingle.CreatorResponder || status != jingle.StatusInactive:
		s.rejectLocked(ctx, iq, jingle.NewProtocolError(jingle.ConditionOutOfOrder))
		return
	}

	contents := s.decodeContentsLocked(iq.Jingle)
	if len(contents) == 0 {
		s.rejectLocked(ctx, iq, jingle.NewGenericError(xstanza.BadRequest).WithText("no valid content"))
		return
	}
	if perr := s.checkSecurity(contents); perr != nil {
		s.rejectLocked(ctx, iq, perr)
		return
	}

	s.remoteContents = withoutCandidates(contents)
	s.remoteGroups = stanza.DecodeGroups(iq.Jingle.Groups)
	s.queueRemoteLocked(contents)

	if err := s.setStatusLocked(jingle.StatusInitiated); err != nil {
		s.logger.Error().Err(err).Msg("Переход в initiated")
		return
	}
	s.replyLocked(ctx, iq)
}

func (s *Single) onSessionAcceptLocked(ctx context.Context, iq *stanza.IQ) {
	if s.role != jingle.CreatorInitiator || s.Status() != jingle.StatusInitiated {
		s.rejectLocked(ctx, iq, jingle.NewProtocolError(jingle.ConditionOutOfOrder))
		return
	}

	contents := s.decodeContentsLocked(iq.Jingle)
	if len(contents) == 0 {
		s.rejectLocked(ctx, iq, jingle.NewGenericError(xstanza.BadRequest).WithText("no valid content"))
		return
	}
	if perr := s.checkSecurity(contents); perr != nil {
		s.rejectLocked(ctx, iq, perr)
		return
	}
	if s.pc == nil {
		s.rejectLocked(ctx, iq, jingle.NewGenericError(xstanza.UnexpectedRequest))
		return
	}

	remoteContents := withoutCandidates(contents)
	remoteGroups := stanza.DecodeGroups(iq.Jingle.Groups)
	answer, err := sdp.Generate(sdp.GenerateRequest{
		Type:      sdp.TypeAnswer,
		Owner:     jingle.CreatorResponder,
		SessionID: s.sdpID,
		Groups:    remoteGroups,
		Contents:  remoteContents,
		Mids:      s.localMids(),
	})
	if err == nil {
		err = s.pc.SetRemoteDescription(Description{Type: DescriptionAnswer, SDP: answer})
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("Не удалось применить удаленный answer")
		s.rejectLocked(ctx, iq, jingle.NewGenericError(xstanza.NotAcceptable))
		s.emitErrorLocked(errors.Wrap(err, "apply remote answer"))
		if terr := s.terminateLocked(ctx, jingle.ReasonFailedApplication); terr != nil {
			s.logger.Warn().Err(terr).Msg("Не удалось отправить session-terminate")
		}
		return
	}

	if iq.Jingle.Responder != "" {
		if responder, err := jid.Parse(iq.Jingle.Responder); err == nil {
			s.responder = responder
		}
	}
	if s.responder.Domainpart() == "" {
		s.responder = s.peer
	}

	s.remoteContents = remoteContents
	s.remoteGroups = remoteGroups
	s.remoteDescSet = true
	s.queueRemoteLocked(contents)

	if err := s.setStatusLocked(jingle.StatusAccepted); err != nil {
		s.logger.Error().Err(err).Msg("Переход в accepted")
		return
	}
	s.replyLocked(ctx, iq)
}

func (s *Single) onSessionInfoLocked(ctx context.Context, iq *stanza.IQ) {
	switch s.Status() {
	case jingle.StatusInitiated, jingle.StatusAccepting, jingle.StatusAccepted:
	default:
		s.rejectLocked(ctx, iq, jingle.NewProtocolError(jingle.ConditionOutOfOrder))
		return
	}

	name, args, ok := iq.Jingle.InfoName()
	if !ok || (name != "" && !name.Valid()) {
		s.rejectLocked(ctx, iq, jingle.NewProtocolError(jingle.ConditionUnsupportedInfo))
		return
	}
	s.replyLocked(ctx, iq)

	if name == "" {
		return
	}
	s.logger.Info().Str("info", string(name)).Msg("Получен session-info")
	if h := s.handlers.OnInfo; h != nil {
		s.later(func() { h(s, name, args) })
	}
}

func (s *Single) onSessionTerminateLocked(ctx context.Context, iq *stanza.IQ) {
	switch s.Status() {
	case jingle.StatusInactive, jingle.StatusTerminated:
		s.rejectLocked(ctx, iq, jingle.NewProtocolError(jingle.ConditionOutOfOrder))
		return
	}

	reason := iq.Jingle.Reason.ReasonValue()
	if !reason.Valid() {
		reason = jingle.ReasonGeneralError
	}
	s.replyLocked(ctx, iq)

	s.logger.Info().Str("reason", string(reason)).Msg("Сессия завершена удаленной стороной")
	s.reason = reason
	s.endLocked(reason)
}

func (s *Single) onTransportInfoLocked(ctx context.Context, iq *stanza.IQ) {
	switch s.Status() {
	case jingle.StatusInitiated, jingle.StatusAccepting, jingle.StatusAccepted:
	default:
		s.rejectLocked(ctx, iq, jingle.NewProtocolError(jingle.ConditionOutOfOrder))
		return
	}

	contents := s.decodeContentsLocked(iq.Jingle)
	for _, c := range contents {
		_, remote := s.remoteContents.Find(c.Name)
		_, local := s.localContents.Find(c.Name)
		if !remote && !local {
			s.rejectLocked(ctx, iq, jingle.NewGenericError(xstanza.BadRequest).WithText("unknown content "+c.Name))
			return
		}
	}
	s.queueRemoteLocked(contents)
	s.replyLocked(ctx, iq)
}
