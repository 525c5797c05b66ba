package pionrtc

import (
	"sort"
	"sync"

	"github.com/arzzra/jingle/pkg/jingle/session"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// StreamStats статистика подключенного потока
type StreamStats struct {
	ID      string
	Kind    string
	Muted   bool
	Packets uint64
	Bytes   uint64
	LastSeq uint16
	SSRC    uint32
}

// Sink реализует session.Renderer без вывода: удаленные дорожки
// вычитываются до конца, чтобы не переполнялись буферы приема, и по ним
// ведется статистика.
type Sink struct {
	logger zerolog.Logger

	mu      sync.Mutex
	streams map[string]*StreamStats
}

// NewSink создает приемник
func NewSink(logger zerolog.Logger) *Sink {
	return &Sink{
		logger:  logger.With().Str("component", "sink").Logger(),
		streams: make(map[string]*StreamStats),
	}
}

// Attach подключает поток. Для удаленного потока запускается чтение RTP.
func (s *Sink) Attach(st session.Stream, muted bool) error {
	stats := &StreamStats{ID: st.ID(), Muted: muted}

	var track *webrtc.TrackRemote
	if rs, ok := st.(remoteStream); ok && rs.track != nil {
		track = rs.track
		stats.Kind = track.Kind().String()
	}

	s.mu.Lock()
	s.streams[st.ID()] = stats
	s.mu.Unlock()

	if track != nil {
		go s.drain(st.ID(), track)
	}
	return nil
}

// Detach отключает поток. Чтение завершается при закрытии соединения.
func (s *Sink) Detach(st session.Stream) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.streams, st.ID())
	return nil
}

// Stats возвращает статистику подключенных потоков
func (s *Sink) Stats() []StreamStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StreamStats, 0, len(s.streams))
	for _, st := range s.streams {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Sink) drain(id string, track *webrtc.TrackRemote) {
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			s.logger.Debug().Err(err).Str("stream", id).Msg("Чтение дорожки завершено")
			return
		}
		s.observe(id, pkt)
	}
}

func (s *Sink) observe(id string, pkt *rtp.Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.streams[id]
	if !ok {
		return
	}
	st.Packets++
	st.Bytes += uint64(len(pkt.Payload))
	st.LastSeq = pkt.SequenceNumber
	st.SSRC = pkt.SSRC
}
