package pionrtc

import (
	"context"
	"strings"
	"testing"

	"github.com/arzzra/jingle/pkg/jingle"
	"github.com/arzzra/jingle/pkg/jingle/sdp"
	"github.com/arzzra/jingle/pkg/jingle/session"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(zerolog.Nop())
	require.NoError(t, err)
	return e
}

func openPC(t *testing.T, e *Engine, c session.Constraints) session.PeerConnection {
	t.Helper()
	stream, err := e.AcquireLocalMedia(context.Background(), c)
	require.NoError(t, err)
	pc, err := e.CreatePeerConnection(session.PeerConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pc.Close() })
	require.NoError(t, pc.AddStream(stream))
	return pc
}

func TestFingerprint(t *testing.T) {
	fp := newEngine(t).Fingerprint()

	assert.Equal(t, "sha-256", fp.Hash)
	assert.Equal(t, "actpass", fp.Setup)
	assert.Len(t, fp.Value, 32*3-1, "32 байта в hex через двоеточие")
	assert.Equal(t, strings.ToUpper(fp.Value), fp.Value)
}

func TestOfferAnswer(t *testing.T) {
	ctx := context.Background()
	a := newEngine(t)
	b := newEngine(t)

	pcA := openPC(t, a, session.Constraints{Audio: true, Video: true})
	offer, err := pcA.CreateOffer(ctx)
	require.NoError(t, err)
	require.Equal(t, session.DescriptionOffer, offer.Type)
	require.NoError(t, pcA.SetLocalDescription(offer))

	desc, err := sdp.Parse(offer.SDP, sdp.ParseOptions{Owner: jingle.CreatorInitiator})
	require.NoError(t, err)
	require.Len(t, desc.Contents, 2)
	assert.Equal(t, jingle.MediaAudio, desc.Contents[0].Description.Media)
	assert.Equal(t, jingle.MediaVideo, desc.Contents[1].Description.Media)
	require.NotNil(t, desc.Contents[0].Transport.Fingerprint)
	assert.True(t, strings.EqualFold(a.Fingerprint().Value, desc.Contents[0].Transport.Fingerprint.Value),
		"offer содержит отпечаток сертификата движка")

	pcB := openPC(t, b, session.Constraints{Audio: true, Video: true})
	require.NoError(t, pcB.SetRemoteDescription(offer))
	answer, err := pcB.CreateAnswer(ctx)
	require.NoError(t, err)
	require.Equal(t, session.DescriptionAnswer, answer.Type)
	require.NoError(t, pcB.SetLocalDescription(answer))
	require.NoError(t, pcA.SetRemoteDescription(answer))

	parsed, err := sdp.Parse(answer.SDP, sdp.ParseOptions{Owner: jingle.CreatorResponder, Creator: jingle.CreatorInitiator})
	require.NoError(t, err)
	assert.Len(t, parsed.Contents, 2)
}

func TestAddStreamForeign(t *testing.T) {
	e := newEngine(t)
	pc, err := e.CreatePeerConnection(session.PeerConfig{
		ICEServers: []session.ICEServer{{URLs: []string{"stun:stun.example.com:3478"}}},
	})
	require.NoError(t, err)
	defer pc.Close()

	assert.ErrorIs(t, pc.AddStream(remoteStream{}), ErrForeignStream)
	assert.NoError(t, pc.Close())
	assert.NoError(t, pc.Close(), "повторное закрытие безопасно")
}

func TestAcquireWithoutMedia(t *testing.T) {
	_, err := newEngine(t).AcquireLocalMedia(context.Background(), session.Constraints{})
	assert.ErrorIs(t, err, session.ErrInvalidArgument)
}

func TestLocalStream(t *testing.T) {
	s, err := newEngine(t).AcquireLocalMedia(context.Background(), session.Constraints{Audio: true})
	require.NoError(t, err)

	ls := s.(*localStream)
	require.Len(t, ls.Tracks(), 1)
	assert.Equal(t, webrtc.RTPCodecTypeAudio, ls.Tracks()[0].Kind())
	assert.Equal(t, s.ID(), ls.Tracks()[0].StreamID())

	s.Stop()
	assert.True(t, ls.stopped.Load())
}

func TestFromPion(t *testing.T) {
	mid := "0"
	idx := uint16(1)
	c := fromPion(webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 10.0.0.1 5000 typ host", SDPMid: &mid, SDPMLineIndex: &idx})
	assert.Equal(t, "0", c.SDPMid)
	assert.Equal(t, 1, c.SDPMLineIndex)

	bare := fromPion(webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 10.0.0.1 5000 typ host"})
	assert.Empty(t, bare.SDPMid)
	assert.Equal(t, -1, bare.SDPMLineIndex)
}
