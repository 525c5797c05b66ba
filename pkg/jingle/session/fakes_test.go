package session

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/arzzra/jingle/pkg/jingle"
	"github.com/arzzra/jingle/pkg/jingle/pending"
	"github.com/arzzra/jingle/pkg/jingle/stanza"
	"github.com/arzzra/jingle/pkg/metrics"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"mellium.im/xmpp/jid"
	xstanza "mellium.im/xmpp/stanza"
)

const offerSDP = "v=0\r\n" +
	"o=- 4611731400430051336 2 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"a=group:BUNDLE 0\r\n" +
	"m=audio 9 UDP/TLS/RTP/SAVPF 111 0\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=ice-ufrag:offU\r\n" +
	"a=ice-pwd:offerpasswordoffer1234\r\n" +
	"a=fingerprint:sha-256 AA:BB:CC:DD\r\n" +
	"a=setup:actpass\r\n" +
	"a=mid:0\r\n" +
	"a=sendrecv\r\n" +
	"a=rtcp-mux\r\n" +
	"a=rtpmap:111 opus/48000/2\r\n" +
	"a=rtpmap:0 PCMU/8000\r\n" +
	"a=ssrc:1234 cname:alice\r\n"

const answerSDP = "v=0\r\n" +
	"o=- 1 2 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"a=group:BUNDLE audio\r\n" +
	"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=ice-ufrag:ansU\r\n" +
	"a=ice-pwd:answerpasswordanswer12\r\n" +
	"a=fingerprint:sha-256 11:22:33:44\r\n" +
	"a=setup:active\r\n" +
	"a=mid:audio\r\n" +
	"a=sendrecv\r\n" +
	"a=rtcp-mux\r\n" +
	"a=rtpmap:111 opus/48000/2\r\n"

const hostCandidate = "candidate:1 1 udp 2113937151 10.0.0.1 5000 typ host generation 0"

// fakeTransport записывает отправленные станзы и при наличии хаба
// доставляет их асинхронно
type fakeTransport struct {
	mu       sync.Mutex
	local    jid.JID
	sent     []any
	handlers map[string]func([]byte)
	hub      *hub
	err      error
}

func newFakeTransport(local string) *fakeTransport {
	return &fakeTransport{local: jid.MustParse(local), handlers: make(map[string]func([]byte))}
}

func (t *fakeTransport) Send(_ context.Context, v any) error {
	t.mu.Lock()
	if t.err != nil {
		t.mu.Unlock()
		return t.err
	}
	t.sent = append(t.sent, v)
	h := t.hub
	t.mu.Unlock()

	if h != nil {
		h.route(t, v)
	}
	return nil
}

func (t *fakeTransport) Handle(kind string, h func([]byte)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[kind] = h
}

func (t *fakeTransport) LocalJID() jid.JID { return t.local }

func (t *fakeTransport) deliver(kind string, raw []byte) {
	t.mu.Lock()
	h := t.handlers[kind]
	t.mu.Unlock()
	if h != nil {
		h(raw)
	}
}

func (t *fakeTransport) iqs() []*stanza.IQ {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*stanza.IQ
	for _, v := range t.sent {
		if iq, ok := v.(*stanza.IQ); ok {
			out = append(out, iq)
		}
	}
	return out
}

func (t *fakeTransport) presences() []*stanza.Presence {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*stanza.Presence
	for _, v := range t.sent {
		if p, ok := v.(*stanza.Presence); ok {
			out = append(out, p)
		}
	}
	return out
}

func (t *fakeTransport) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sent)
}

func (t *fakeTransport) lastIQ(tb testing.TB) *stanza.IQ {
	tb.Helper()
	iqs := t.iqs()
	require.NotEmpty(tb, iqs)
	return iqs[len(iqs)-1]
}

type fakeStream struct {
	id      string
	stopped atomic.Bool
}

func (s *fakeStream) ID() string { return s.id }
func (s *fakeStream) Stop()      { s.stopped.Store(true) }

type fakePC struct {
	mu       sync.Mutex
	offer    string
	answer   string
	local    Description
	remote   Description
	streams  []Stream
	added    []ICECandidate
	onCand   func(*ICECandidate)
	onStream func(Stream)
	closed   atomic.Bool
}

func (pc *fakePC) AddStream(s Stream) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.streams = append(pc.streams, s)
	return nil
}

func (pc *fakePC) CreateOffer(context.Context) (Description, error) {
	return Description{Type: DescriptionOffer, SDP: pc.offer}, nil
}

func (pc *fakePC) CreateAnswer(context.Context) (Description, error) {
	return Description{Type: DescriptionAnswer, SDP: pc.answer}, nil
}

func (pc *fakePC) SetLocalDescription(d Description) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.local = d
	return nil
}

func (pc *fakePC) SetRemoteDescription(d Description) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.remote = d
	return nil
}

func (pc *fakePC) AddICECandidate(c ICECandidate) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.added = append(pc.added, c)
	return nil
}

func (pc *fakePC) OnICECandidate(f func(*ICECandidate)) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.onCand = f
}

func (pc *fakePC) OnRemoteStream(f func(Stream)) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.onStream = f
}

func (pc *fakePC) Close() error {
	pc.closed.Store(true)
	return nil
}

func (pc *fakePC) emitCandidate(c *ICECandidate) {
	pc.mu.Lock()
	f := pc.onCand
	pc.mu.Unlock()
	f(c)
}

func (pc *fakePC) emitStream(s Stream) {
	pc.mu.Lock()
	f := pc.onStream
	pc.mu.Unlock()
	f(s)
}

func (pc *fakePC) remoteCandidates() []ICECandidate {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return append([]ICECandidate(nil), pc.added...)
}

func (pc *fakePC) remoteDescription() Description {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.remote
}

type fakeMedia struct {
	mu         sync.Mutex
	streams    []*fakeStream
	pcs        []*fakePC
	acquireErr error
	block      chan struct{}
	acquiring  atomic.Int32
}

func (m *fakeMedia) AcquireLocalMedia(ctx context.Context, _ Constraints) (Stream, error) {
	m.acquiring.Add(1)
	if m.block != nil {
		select {
		case <-m.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.acquireErr != nil {
		return nil, m.acquireErr
	}
	s := &fakeStream{id: "local" + strconv.Itoa(len(m.streams))}
	m.streams = append(m.streams, s)
	return s, nil
}

func (m *fakeMedia) CreatePeerConnection(PeerConfig) (PeerConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pc := &fakePC{offer: offerSDP, answer: answerSDP}
	m.pcs = append(m.pcs, pc)
	return pc, nil
}

func (m *fakeMedia) pc(tb testing.TB, i int) *fakePC {
	tb.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.Greater(tb, len(m.pcs), i)
	return m.pcs[i]
}

func (m *fakeMedia) stream(tb testing.TB, i int) *fakeStream {
	tb.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.Greater(tb, len(m.streams), i)
	return m.streams[i]
}

type fakeRenderer struct {
	mu       sync.Mutex
	attached []string
	detached []string
}

func (r *fakeRenderer) Attach(s Stream, _ bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attached = append(r.attached, s.ID())
	return nil
}

func (r *fakeRenderer) Detach(s Stream) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detached = append(r.detached, s.ID())
	return nil
}

type testEnv struct {
	*Env
	transport *fakeTransport
	media     *fakeMedia
	renderer  *fakeRenderer
	sched     *pending.ManualScheduler
}

func newTestEnv(local string) *testEnv {
	te := &testEnv{
		transport: newFakeTransport(local),
		media:     &fakeMedia{},
		renderer:  &fakeRenderer{},
		sched:     pending.NewManualScheduler(),
	}
	te.Env = &Env{
		Transport: te.transport,
		Media:     te.media,
		Renderer:  te.renderer,
		Scheduler: te.sched,
		Metrics:   metrics.New(prometheus.NewRegistry(), metrics.DefaultConfig()),
		Logger:    zerolog.Nop(),
		Config: Config{
			IDPrefix:    pending.DefaultIDPrefix,
			Constraints: Constraints{Audio: true},
		},
	}
	return te
}

func resultFor(req *stanza.IQ) *stanza.IQ {
	return &stanza.IQ{ID: req.ID, From: req.To, To: req.From, Type: xstanza.ResultIQ}
}

func marshal(tb testing.TB, v any) []byte {
	tb.Helper()
	raw, err := stanza.Marshal(v)
	require.NoError(tb, err)
	return raw
}

// hub асинхронно доставляет станзы между транспортами и эмулирует одну
// комнату MUC
type hub struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []func()
	closed  bool
	members map[string]*fakeTransport

	room      jid.JID
	occupants map[string]*occupant
}

type occupant struct {
	nick      string
	transport *fakeTransport
	last      *stanza.Presence
}

func newHub(tb testing.TB, room string) *hub {
	h := &hub{
		members:   make(map[string]*fakeTransport),
		occupants: make(map[string]*occupant),
	}
	if room != "" {
		h.room = jid.MustParse(room)
	}
	h.cond = sync.NewCond(&h.mu)
	go h.pump()
	tb.Cleanup(h.close)
	return h
}

func (h *hub) connect(t *fakeTransport) {
	h.mu.Lock()
	h.members[t.local.String()] = t
	h.mu.Unlock()

	t.mu.Lock()
	t.hub = h
	t.mu.Unlock()
}

func (h *hub) close() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	h.cond.Broadcast()
}

func (h *hub) pump() {
	for {
		h.mu.Lock()
		for len(h.queue) == 0 && !h.closed {
			h.cond.Wait()
		}
		if h.closed {
			h.mu.Unlock()
			return
		}
		fn := h.queue[0]
		h.queue = h.queue[1:]
		h.mu.Unlock()
		fn()
	}
}

func (h *hub) enqueue(fn func()) {
	h.mu.Lock()
	h.queue = append(h.queue, fn)
	h.mu.Unlock()
	h.cond.Signal()
}

func (h *hub) route(from *fakeTransport, v any) {
	h.enqueue(func() {
		switch st := v.(type) {
		case *stanza.IQ:
			h.routeIQ(from, st)
		case *stanza.Presence:
			h.routePresence(from, st)
		}
	})
}

func (h *hub) routeIQ(from *fakeTransport, iq *stanza.IQ) {
	to, err := jid.Parse(iq.To)
	if err != nil {
		return
	}
	out := *iq
	if h.room.Domainpart() != "" && to.Bare().Equal(h.room) {
		sender := h.nickOf(from)
		target := h.occupants[to.Resourcepart()]
		if sender == "" || target == nil {
			return
		}
		fromJID, _ := h.room.WithResource(sender)
		out.From = fromJID.String()
		target.transport.deliver(stanza.KindIQ, mustMarshal(&out))
		return
	}
	target := h.members[to.String()]
	if target == nil {
		return
	}
	out.From = from.local.String()
	target.deliver(stanza.KindIQ, mustMarshal(&out))
}

func (h *hub) nickOf(t *fakeTransport) string {
	for nick, o := range h.occupants {
		if o.transport == t {
			return nick
		}
	}
	return ""
}

func (h *hub) routePresence(from *fakeTransport, p *stanza.Presence) {
	to, err := jid.Parse(p.To)
	if err != nil || !to.Bare().Equal(h.room) {
		return
	}
	nick := to.Resourcepart()
	fromJID, _ := h.room.WithResource(nick)

	if o, taken := h.occupants[nick]; taken && o.transport != from {
		errp := &stanza.Presence{
			ID:    p.ID,
			From:  fromJID.String(),
			To:    from.local.String(),
			Type:  xstanza.ErrorPresence,
			Error: stanza.EncodeError(jingle.NewGenericError(xstanza.Conflict)),
		}
		from.deliver(stanza.KindPresence, mustMarshal(errp))
		return
	}

	if p.Type == xstanza.UnavailablePresence {
		delete(h.occupants, nick)
		out := &stanza.Presence{From: fromJID.String(), Type: xstanza.UnavailablePresence}
		for _, o := range h.occupants {
			out.To = o.transport.local.String()
			o.transport.deliver(stanza.KindPresence, mustMarshal(out))
		}
		return
	}

	o, joined := h.occupants[nick]
	if !joined {
		o = &occupant{nick: nick, transport: from}
		for other, existing := range h.occupants {
			if existing.last == nil {
				continue
			}
			prev := *existing.last
			otherJID, _ := h.room.WithResource(other)
			prev.From = otherJID.String()
			prev.To = from.local.String()
			from.deliver(stanza.KindPresence, mustMarshal(&prev))
		}
		h.occupants[nick] = o
	}

	broadcast := *p
	broadcast.From = fromJID.String()
	broadcast.MUC = nil
	o.last = &broadcast

	for other, target := range h.occupants {
		out := broadcast
		out.To = target.transport.local.String()
		if other == nick {
			out.MUCUser = &stanza.MUCUserElement{Status: []stanza.MUCStatus{{Code: stanza.StatusSelfPresence}}}
		}
		target.transport.deliver(stanza.KindPresence, mustMarshal(&out))
	}
}

func mustMarshal(v any) []byte {
	raw, err := stanza.Marshal(v)
	if err != nil {
		panic(errors.Wrap(err, "hub marshal"))
	}
	return raw
}
