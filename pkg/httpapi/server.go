// Package httpapi HTTP интерфейс процесса: проверка живости, метрики
// Prometheus, просмотр и завершение сессий, точка подключения WebSocket relay.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/arzzra/jingle/pkg/jingle"
	"github.com/arzzra/jingle/pkg/jingle/session"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// terminateTimeout ограничение на отправку session-terminate из API
const terminateTimeout = 5 * time.Second

// Options зависимости сервера. Любое поле кроме Logger может быть nil,
// тогда соответствующие маршруты не регистрируются.
type Options struct {
	Registry *session.Registry
	Gatherer prometheus.Gatherer
	Relay    http.Handler
	Logger   zerolog.Logger
}

// Server HTTP обработчики
type Server struct {
	opts   Options
	logger zerolog.Logger
}

// New создает сервер
func New(opts Options) *Server {
	return &Server{
		opts:   opts,
		logger: opts.Logger.With().Str("component", "httpapi").Logger(),
	}
}

// Router возвращает маршрутизатор chi
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.healthz)
	if s.opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	}
	if s.opts.Registry != nil {
		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", s.listSessions)
			r.Get("/{sid}", s.getSession)
			r.Delete("/{sid}", s.terminateSession)
		})
		r.Get("/rooms", s.listRooms)
	}
	if s.opts.Relay != nil {
		r.Get("/ws", s.opts.Relay.ServeHTTP)
	}
	return r
}

// SessionView представление одиночной сессии
type SessionView struct {
	SID       string        `json:"sid"`
	Role      string        `json:"role"`
	Peer      string        `json:"peer"`
	Status    jingle.Status `json:"status"`
	Reason    jingle.Reason `json:"reason,omitempty"`
	Contents  []string      `json:"contents"`
	Remote    []string      `json:"remote_contents"`
	Pending   int           `json:"pending_requests"`
	Initiator string        `json:"initiator"`
}

// ParticipantView участник комнаты
type ParticipantView struct {
	Nick   string                   `json:"nick"`
	JID    string                   `json:"jid,omitempty"`
	Status jingle.ParticipantStatus `json:"status"`
	SID    string                   `json:"sid,omitempty"`
}

// RoomView представление Muji комнаты
type RoomView struct {
	Room         string            `json:"room"`
	Nick         string            `json:"nick"`
	Status       jingle.RoomStatus `json:"status"`
	Initiator    bool              `json:"initiator"`
	Participants []ParticipantView `json:"participants"`
}

func viewSession(ss *session.Single) SessionView {
	return SessionView{
		SID:       ss.SID(),
		Role:      string(ss.Role()),
		Peer:      ss.Peer().String(),
		Status:    ss.Status(),
		Reason:    ss.Reason(),
		Contents:  ss.LocalContents().Names(),
		Remote:    ss.RemoteContents().Names(),
		Pending:   ss.PendingRequests(),
		Initiator: ss.Initiator().String(),
	}
}

func viewRoom(room *session.Room) RoomView {
	out := RoomView{
		Room:         room.JID().String(),
		Nick:         room.Nick(),
		Status:       room.Status(),
		Initiator:    room.IsInitiator(),
		Participants: []ParticipantView{},
	}
	for _, p := range room.Participants() {
		out.Participants = append(out.Participants, ParticipantView{
			Nick:   p.Nick,
			JID:    p.JID.String(),
			Status: p.Status,
			SID:    p.SID,
		})
	}
	return out
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listSessions(w http.ResponseWriter, _ *http.Request) {
	out := []SessionView{}
	for _, ss := range s.opts.Registry.Singles() {
		out = append(out, viewSession(ss))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	ss, ok := s.opts.Registry.Single(chi.URLParam(r, "sid"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, viewSession(ss))
}

// terminateSession завершает сессию. Причина берется из параметра reason,
// по умолчанию success.
func (s *Server) terminateSession(w http.ResponseWriter, r *http.Request) {
	sid := chi.URLParam(r, "sid")
	ss, ok := s.opts.Registry.Single(sid)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	reason := jingle.ReasonSuccess
	if v := r.URL.Query().Get("reason"); v != "" {
		reason = jingle.Reason(v)
	}

	ctx, cancel := context.WithTimeout(r.Context(), terminateTimeout)
	defer cancel()
	if err := ss.Terminate(ctx, reason); err != nil {
		switch {
		case errors.Is(err, session.ErrInvalidArgument):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, session.ErrInvalidState), errors.Is(err, session.ErrBusy):
			writeError(w, http.StatusConflict, err.Error())
		default:
			s.logger.Error().Err(err).Str("sid", sid).Msg("Ошибка завершения сессии")
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	s.logger.Info().Str("sid", sid).Str("reason", string(reason)).Msg("Сессия завершена через API")
	writeJSON(w, http.StatusOK, viewSession(ss))
}

func (s *Server) listRooms(w http.ResponseWriter, _ *http.Request) {
	out := []RoomView{}
	for _, room := range s.opts.Registry.Rooms() {
		out = append(out, viewRoom(room))
	}
	writeJSON(w, http.StatusOK, out)
}
