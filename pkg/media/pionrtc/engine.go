// Package pionrtc реализует медиа движок сессий на pion/webrtc.
//
// Захват устройств не выполняется: локальный поток содержит пустые
// дорожки, в которые приложение пишет сэмплы само.
package pionrtc

import (
	"context"
	"crypto"
	"crypto/x509"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/arzzra/jingle/pkg/jingle"
	"github.com/arzzra/jingle/pkg/jingle/session"
	"github.com/google/uuid"
	"github.com/pion/dtls/v2/pkg/crypto/fingerprint"
	"github.com/pion/dtls/v2/pkg/crypto/selfsign"
	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// ErrForeignStream поток создан не этим движком
var ErrForeignStream = errors.New("pionrtc: stream was not acquired from this engine")

// Engine медиа движок. Все соединения используют один DTLS сертификат,
// поэтому отпечаток стабилен на время жизни процесса.
type Engine struct {
	api         *webrtc.API
	cert        webrtc.Certificate
	fingerprint jingle.Fingerprint
	logger      zerolog.Logger
}

// New создает движок с кодеками по умолчанию и самоподписанным сертификатом
func New(logger zerolog.Logger) (*Engine, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, errors.Wrap(err, "pionrtc: register codecs")
	}

	tlsCert, err := selfsign.GenerateSelfSigned()
	if err != nil {
		return nil, errors.Wrap(err, "pionrtc: generate certificate")
	}
	leaf, err := x509.ParseCertificate(tlsCert.Certificate[0])
	if err != nil {
		return nil, errors.Wrap(err, "pionrtc: parse certificate")
	}
	value, err := fingerprint.Fingerprint(leaf, crypto.SHA256)
	if err != nil {
		return nil, errors.Wrap(err, "pionrtc: fingerprint")
	}

	return &Engine{
		api:  webrtc.NewAPI(webrtc.WithMediaEngine(m)),
		cert: webrtc.CertificateFromX509(tlsCert.PrivateKey, leaf),
		fingerprint: jingle.Fingerprint{
			Hash:  "sha-256",
			Value: strings.ToUpper(value),
			Setup: "actpass",
		},
		logger: logger.With().Str("component", "pionrtc").Logger(),
	}, nil
}

// Fingerprint возвращает DTLS отпечаток локального сертификата
func (e *Engine) Fingerprint() jingle.Fingerprint { return e.fingerprint }

// AcquireLocalMedia создает локальный поток с дорожками для запрошенных медиа
func (e *Engine) AcquireLocalMedia(_ context.Context, c session.Constraints) (session.Stream, error) {
	id := uuid.NewString()
	s := &localStream{id: id}

	if c.Audio {
		t, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
			"audio", id)
		if err != nil {
			return nil, errors.Wrap(err, "pionrtc: audio track")
		}
		s.tracks = append(s.tracks, t)
	}
	if c.Video {
		t, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
			"video", id)
		if err != nil {
			return nil, errors.Wrap(err, "pionrtc: video track")
		}
		s.tracks = append(s.tracks, t)
	}
	if len(s.tracks) == 0 {
		return nil, errors.Wrap(session.ErrInvalidArgument, "pionrtc: no media requested")
	}
	e.logger.Debug().Str("stream", id).Int("tracks", len(s.tracks)).Msg("Создан локальный поток")
	return s, nil
}

// CreatePeerConnection создает соединение с ICE серверами из cfg
func (e *Engine) CreatePeerConnection(cfg session.PeerConfig) (session.PeerConnection, error) {
	conf := webrtc.Configuration{
		Certificates: []webrtc.Certificate{e.cert},
		BundlePolicy: webrtc.BundlePolicyMaxBundle,
	}
	for _, s := range cfg.ICEServers {
		conf.ICEServers = append(conf.ICEServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}

	pc, err := e.api.NewPeerConnection(conf)
	if err != nil {
		return nil, errors.Wrap(err, "pionrtc: new peer connection")
	}
	p := &peerConnection{pc: pc, logger: e.logger}
	pc.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		p.logger.Info().Str("state", st.String()).Msg("Состояние соединения")
	})
	return p, nil
}

// localStream локальный поток из дорожек движка
type localStream struct {
	id      string
	tracks  []*webrtc.TrackLocalStaticSample
	stopped atomic.Bool
}

func (s *localStream) ID() string { return s.id }

// Stop помечает поток остановленным. Соединения закрываются сессиями.
func (s *localStream) Stop() { s.stopped.Store(true) }

// Tracks возвращает дорожки для записи сэмплов
func (s *localStream) Tracks() []*webrtc.TrackLocalStaticSample { return s.tracks }

// remoteStream входящая дорожка удаленной стороны
type remoteStream struct {
	track *webrtc.TrackRemote
}

func (s remoteStream) ID() string { return s.track.StreamID() + "/" + s.track.ID() }

func (s remoteStream) Stop() {}

// Track возвращает дорожку для чтения RTP
func (s remoteStream) Track() *webrtc.TrackRemote { return s.track }

type peerConnection struct {
	pc     *webrtc.PeerConnection
	logger zerolog.Logger

	closeOnce sync.Once
	closeErr  error
}

func (p *peerConnection) AddStream(s session.Stream) error {
	ls, ok := s.(*localStream)
	if !ok {
		return ErrForeignStream
	}
	for _, t := range ls.tracks {
		if _, err := p.pc.AddTrack(t); err != nil {
			return errors.Wrapf(err, "pionrtc: add track %s", t.Kind())
		}
	}
	return nil
}

func (p *peerConnection) CreateOffer(context.Context) (session.Description, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return session.Description{}, errors.Wrap(err, "pionrtc: create offer")
	}
	return session.Description{Type: session.DescriptionOffer, SDP: offer.SDP}, nil
}

func (p *peerConnection) CreateAnswer(context.Context) (session.Description, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return session.Description{}, errors.Wrap(err, "pionrtc: create answer")
	}
	return session.Description{Type: session.DescriptionAnswer, SDP: answer.SDP}, nil
}

func toPion(d session.Description) (webrtc.SessionDescription, error) {
	switch d.Type {
	case session.DescriptionOffer:
		return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: d.SDP}, nil
	case session.DescriptionAnswer:
		return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: d.SDP}, nil
	}
	return webrtc.SessionDescription{}, errors.Errorf("pionrtc: description type %q", d.Type)
}

func (p *peerConnection) SetLocalDescription(d session.Description) error {
	desc, err := toPion(d)
	if err != nil {
		return err
	}
	return errors.Wrap(p.pc.SetLocalDescription(desc), "pionrtc: set local description")
}

func (p *peerConnection) SetRemoteDescription(d session.Description) error {
	desc, err := toPion(d)
	if err != nil {
		return err
	}
	return errors.Wrap(p.pc.SetRemoteDescription(desc), "pionrtc: set remote description")
}

func (p *peerConnection) AddICECandidate(c session.ICECandidate) error {
	init := webrtc.ICECandidateInit{Candidate: c.Candidate}
	if c.SDPMid != "" {
		mid := c.SDPMid
		init.SDPMid = &mid
	}
	if c.SDPMLineIndex >= 0 {
		idx := uint16(c.SDPMLineIndex)
		init.SDPMLineIndex = &idx
	}
	return errors.Wrap(p.pc.AddICECandidate(init), "pionrtc: add candidate")
}

func (p *peerConnection) OnICECandidate(f func(*session.ICECandidate)) {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			f(nil)
			return
		}
		f(fromPion(c.ToJSON()))
	})
}

func fromPion(init webrtc.ICECandidateInit) *session.ICECandidate {
	out := &session.ICECandidate{Candidate: init.Candidate, SDPMLineIndex: -1}
	if init.SDPMid != nil {
		out.SDPMid = *init.SDPMid
	}
	if init.SDPMLineIndex != nil {
		out.SDPMLineIndex = int(*init.SDPMLineIndex)
	}
	return out
}

func (p *peerConnection) OnRemoteStream(f func(session.Stream)) {
	p.pc.OnTrack(func(t *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		p.logger.Debug().Str("kind", t.Kind().String()).Str("stream", t.StreamID()).Msg("Получена удаленная дорожка")
		f(remoteStream{track: t})
	})
}

func (p *peerConnection) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = p.pc.Close()
	})
	return p.closeErr
}
