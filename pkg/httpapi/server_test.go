package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/arzzra/jingle/pkg/jingle"
	"github.com/arzzra/jingle/pkg/jingle/session"
	"github.com/arzzra/jingle/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mellium.im/xmpp/jid"
)

type nopTransport struct{ local jid.JID }

func (t nopTransport) Send(context.Context, any) error { return nil }
func (t nopTransport) Handle(string, func([]byte))     {}
func (t nopTransport) LocalJID() jid.JID               { return t.local }

type fixture struct {
	registry *session.Registry
	single   *session.Single
	handler  http.Handler
}

func newFixture(t *testing.T, relay http.Handler) fixture {
	t.Helper()
	reg := prometheus.NewRegistry()
	env := &session.Env{
		Transport: nopTransport{local: jid.MustParse("alice@example.com/phone")},
		Metrics:   metrics.New(reg, metrics.DefaultConfig()),
		Logger:    zerolog.Nop(),
	}
	registry := session.NewRegistry()
	single := session.NewSingle(env, jid.MustParse("bob@example.com/desk"), session.Handlers{})
	registry.AddSingle(single)
	registry.AddRoom(session.NewRoom(env, registry, jid.MustParse("conf@muc.example.com"), "alice", session.RoomHandlers{}))

	srv := New(Options{Registry: registry, Gatherer: reg, Relay: relay, Logger: zerolog.Nop()})
	return fixture{registry: registry, single: single, handler: srv.Router()}
}

func do(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, nil)
	rec := do(t, f.handler, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestListSessions(t *testing.T) {
	f := newFixture(t, nil)
	rec := do(t, f.handler, http.MethodGet, "/sessions/")
	require.Equal(t, http.StatusOK, rec.Code)

	out := decode[[]SessionView](t, rec)
	require.Len(t, out, 1)
	assert.Equal(t, f.single.SID(), out[0].SID)
	assert.Equal(t, "initiator", out[0].Role)
	assert.Equal(t, "bob@example.com/desk", out[0].Peer)
	assert.Equal(t, jingle.StatusInactive, out[0].Status)
	assert.Equal(t, "alice@example.com/phone", out[0].Initiator)
}

func TestGetSession(t *testing.T) {
	f := newFixture(t, nil)

	rec := do(t, f.handler, http.MethodGet, "/sessions/"+f.single.SID())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, f.single.SID(), decode[SessionView](t, rec).SID)

	rec = do(t, f.handler, http.MethodGet, "/sessions/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "session not found", decode[errorBody](t, rec).Error)
}

func TestTerminateSession(t *testing.T) {
	f := newFixture(t, nil)

	rec := do(t, f.handler, http.MethodDelete, "/sessions/"+f.single.SID()+"?reason=bogus")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, f.handler, http.MethodDelete, "/sessions/"+f.single.SID())
	assert.Equal(t, http.StatusConflict, rec.Code, "неначатую сессию завершить нельзя")

	rec = do(t, f.handler, http.MethodDelete, "/sessions/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListRooms(t *testing.T) {
	f := newFixture(t, nil)
	rec := do(t, f.handler, http.MethodGet, "/rooms")
	require.Equal(t, http.StatusOK, rec.Code)

	out := decode[[]RoomView](t, rec)
	require.Len(t, out, 1)
	assert.Equal(t, "conf@muc.example.com", out[0].Room)
	assert.Equal(t, "alice", out[0].Nick)
	assert.Equal(t, jingle.RoomInactive, out[0].Status)
	assert.Empty(t, out[0].Participants)
}

func TestMetrics(t *testing.T) {
	f := newFixture(t, nil)
	rec := do(t, f.handler, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "jingle_engine_sessions_total")
}

func TestRelayMount(t *testing.T) {
	var hits int
	relay := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		w.WriteHeader(http.StatusTeapot)
	})

	f := newFixture(t, relay)
	rec := do(t, f.handler, http.MethodGet, "/ws?jid=alice@example.com/phone")
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, 1, hits)

	rec = do(t, newFixture(t, nil).handler, http.MethodGet, "/ws")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOptionalRoutes(t *testing.T) {
	h := New(Options{Logger: zerolog.Nop()}).Router()
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/sessions/").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/metrics").Code)
}
