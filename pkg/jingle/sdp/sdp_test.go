package sdp

import (
	"strings"
	"testing"

	"github.com/arzzra/jingle/pkg/jingle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const browserOffer = `v=0
o=- 4611731400430051336 2 IN IP4 127.0.0.1
s=-
t=0 0
a=group:BUNDLE 0 1
a=msid-semantic: WMS stream
m=audio 9 UDP/TLS/RTP/SAVPF 111 0
c=IN IP4 0.0.0.0
a=rtcp:9 IN IP4 0.0.0.0
a=ice-ufrag:abcd
a=ice-pwd:0123456789abcdefghijklmn
a=fingerprint:sha-256 AA:BB:CC
a=setup:actpass
a=mid:0
a=extmap:1 urn:ietf:params:rtp-hdrext:ssrc-audio-level
a=sendrecv
a=rtcp-mux
a=rtpmap:111 opus/48000/2
a=rtcp-fb:111 transport-cc
a=fmtp:111 minptime=10;useinbandfec=1
a=rtpmap:0 PCMU/8000
a=ssrc:1001 cname:abc
a=ssrc:1001 msid:stream track
a=x-unknown:whatever
a=candidate:1 1 udp 2122260223 10.0.0.1 5000 typ host generation 0
a=candidate:2 1 udp 1686052607 203.0.113.5 6000 typ srflx raddr 10.0.0.1 rport 5000 generation 0
a=candidate:3 1 udp 41885439 198.51.100.7 7000 typ relay raddr 203.0.113.5 rport 6000 generation 0
m=video 9 UDP/TLS/RTP/SAVPF 96
c=IN IP4 0.0.0.0
a=mid:1
a=recvonly
a=rtcp-mux
a=rtpmap:96 VP8/90000
a=rtcp-fb:96 nack
a=rtcp-fb:96 nack pli
a=rtcp-fb:* trr-int 100
`

func TestParseBrowserOffer(t *testing.T) {
	desc, err := Parse(browserOffer, ParseOptions{Owner: jingle.CreatorInitiator})
	require.NoError(t, err)

	require.Equal(t, []string{"audio", "video"}, desc.Contents.Names())
	assert.Equal(t, []jingle.Group{{Semantics: "BUNDLE", Contents: []string{"audio", "video"}}}, desc.Groups)
	assert.Equal(t, map[string]string{"0": "audio", "1": "video"}, desc.Mids)
	assert.Equal(t, []string{"audio", "video"}, desc.MLines)

	audio := desc.Contents[0]
	assert.Equal(t, jingle.CreatorInitiator, audio.Creator)
	assert.Equal(t, jingle.SendersBoth, audio.Senders)
	assert.Equal(t, "abcd", audio.Transport.Ufrag)
	assert.Equal(t, "0123456789abcdefghijklmn", audio.Transport.Pwd)
	require.NotNil(t, audio.Transport.Fingerprint)
	assert.Equal(t, jingle.Fingerprint{Hash: "sha-256", Value: "AA:BB:CC", Setup: "actpass"}, *audio.Transport.Fingerprint)
	assert.True(t, audio.Description.RTCPMux)
	assert.Equal(t, "1001", audio.Description.SSRC)

	require.Len(t, audio.Description.Payloads, 2)
	opus := audio.Description.Payloads[0]
	assert.Equal(t, uint8(111), opus.ID)
	assert.Equal(t, "opus", opus.Name)
	assert.Equal(t, uint32(48000), opus.ClockRate)
	assert.Equal(t, uint16(2), opus.Channels)
	assert.Equal(t, []jingle.Parameter{{Name: "minptime", Value: "10"}, {Name: "useinbandfec", Value: "1"}}, opus.Parameters)
	assert.Equal(t, []jingle.RTCPFeedback{{Type: "transport-cc"}}, opus.RTCPFeedback)
	assert.Equal(t, "PCMU", audio.Description.Payloads[1].Name)

	require.Len(t, audio.Description.Sources, 1)
	assert.Equal(t, []jingle.Parameter{
		{Name: "cname", Value: "abc"},
		{Name: "msid", Value: "stream track"},
	}, audio.Description.Sources[0].Parameters)

	assert.Equal(t, []jingle.HeaderExtension{{ID: "1", URI: "urn:ietf:params:rtp-hdrext:ssrc-audio-level"}},
		audio.Description.HeaderExtensions)

	video := desc.Contents[1]
	assert.Equal(t, jingle.SendersResponder, video.Senders, "recvonly у инициатора означает отправку ответчиком")
	assert.Empty(t, video.Transport.Ufrag, "учетные данные уровня сессии отсутствуют")
	assert.Equal(t, []jingle.TrrInt{{Value: "100"}}, video.Description.RTCPFeedbackTrrInt)
	assert.Equal(t, []jingle.RTCPFeedback{{Type: "nack"}, {Type: "nack", Subtype: "pli"}},
		video.Description.Payloads[0].RTCPFeedback)
}

func TestParseCandidatesAreClassified(t *testing.T) {
	desc, err := Parse(browserOffer, ParseOptions{Owner: jingle.CreatorInitiator})
	require.NoError(t, err)

	candidates := desc.Candidates["audio"]
	require.Len(t, candidates, 3)
	assert.Empty(t, desc.Candidates["video"])

	host := candidates[0]
	assert.Equal(t, "10.0.0.1", host.IP)
	assert.Equal(t, 5000, host.Port)
	assert.Equal(t, "udp", host.Protocol)
	assert.Equal(t, uint32(2122260223), host.Priority)
	assert.NotEmpty(t, host.ID)

	srflx := candidates[1]
	assert.Equal(t, "10.0.0.1", srflx.RelAddr)
	assert.Equal(t, 5000, srflx.RelPort)

	relay := candidates[2]
	assert.Equal(t, jingle.TransportRawUDP, relay.Kind())
	assert.Equal(t, "198.51.100.7", relay.IP)
	assert.Equal(t, 7000, relay.Port)
	assert.Empty(t, relay.Protocol, "relay кандидат приводится к набору атрибутов RAW-UDP")
	assert.Empty(t, relay.Foundation)
	assert.Zero(t, relay.Priority)
	assert.Empty(t, relay.RelAddr)
	assert.NotEmpty(t, relay.ID)
}

func TestParseSessionLevelBackfill(t *testing.T) {
	text := `v=0
o=- 1 2 IN IP4 127.0.0.1
s=-
t=0 0
a=ice-ufrag:sess
a=ice-pwd:sesspwd
a=fingerprint:sha-1 01:02
a=setup:passive
m=audio 9 RTP/SAVPF 0
c=IN IP4 0.0.0.0
a=mid:a
m=video 9 RTP/SAVPF 96
c=IN IP4 0.0.0.0
a=ice-ufrag:own
a=mid:v
a=rtpmap:96 VP8/90000
`
	desc, err := Parse(text, ParseOptions{Owner: jingle.CreatorResponder})
	require.NoError(t, err)
	require.Len(t, desc.Contents, 2)

	audio := desc.Contents[0].Transport
	assert.Equal(t, "sess", audio.Ufrag)
	assert.Equal(t, "sesspwd", audio.Pwd)
	require.NotNil(t, audio.Fingerprint)
	assert.Equal(t, jingle.Fingerprint{Hash: "sha-1", Value: "01:02", Setup: "passive"}, *audio.Fingerprint)

	video := desc.Contents[1].Transport
	assert.Equal(t, "own", video.Ufrag, "собственные учетные данные контента не перезаписываются")
	assert.Equal(t, "sesspwd", video.Pwd)

	assert.Equal(t, jingle.CreatorResponder, desc.Contents[0].Creator)
}

func TestParseContentNaming(t *testing.T) {
	text := `v=0
o=- 1 2 IN IP4 127.0.0.1
s=-
t=0 0
m=audio 9 RTP/AVPF 0
c=IN IP4 0.0.0.0
m=audio 9 RTP/AVPF 8
c=IN IP4 0.0.0.0
m=application 9 DTLS/SCTP 5000
c=IN IP4 0.0.0.0
m=video 9 RTP/AVPF 96
c=IN IP4 0.0.0.0
`
	t.Run("без известных контентов", func(t *testing.T) {
		desc, err := Parse(text, ParseOptions{})
		require.NoError(t, err)
		assert.Equal(t, []string{"audio", "audio1", "video"}, desc.Contents.Names())
		assert.Equal(t, []string{"audio", "audio1", "", "video"}, desc.MLines)
	})

	t.Run("известные имена сохраняются", func(t *testing.T) {
		known := jingle.Contents{
			{Name: "voice", Description: jingle.Description{Media: jingle.MediaAudio}},
			{Name: "cam", Description: jingle.Description{Media: jingle.MediaVideo}},
		}
		desc, err := Parse(text, ParseOptions{Known: known})
		require.NoError(t, err)
		assert.Equal(t, []string{"voice", "audio", "cam"}, desc.Contents.Names())

		name, ok := desc.NameForLabel("", 3)
		require.True(t, ok)
		assert.Equal(t, "cam", name)

		_, ok = desc.NameForLabel("", 2)
		assert.False(t, ok, "пропущенная m= линия не имеет контента")
	})
}

func TestParseActiveFilter(t *testing.T) {
	desc, err := Parse(browserOffer, ParseOptions{Active: []string{"audio"}})
	require.NoError(t, err)

	assert.Equal(t, []string{"audio"}, desc.Contents.Names())
	assert.Equal(t, map[string]string{"0": "audio"}, desc.Mids)
	assert.Equal(t, []string{"audio", ""}, desc.MLines)
	assert.NotContains(t, desc.Candidates, "video")
}

func TestParseInvalid(t *testing.T) {
	_, err := Parse("not an sdp", ParseOptions{})
	require.Error(t, err)
	_, err = Parse("", ParseOptions{})
	require.Error(t, err)
}

func TestParseIgnoresUnknownLines(t *testing.T) {
	text := strings.Replace(browserOffer, "t=0 0\n", "t=0 0\ny=whatever\n\n", 1)
	text = strings.Replace(text, "a=mid:1\n", "a=mid:1\nx-garbage\n", 1)

	desc, err := Parse(text, ParseOptions{Owner: jingle.CreatorInitiator})
	require.NoError(t, err)
	assert.Equal(t, []string{"audio", "video"}, desc.Contents.Names())
	assert.Equal(t, "VP8", desc.Contents[1].Description.Payloads[0].Name)
}

func TestParseSkipsOutOfRangePayloads(t *testing.T) {
	text := strings.Replace(browserOffer, "a=rtpmap:0 PCMU/8000\n",
		"a=rtpmap:0 PCMU/8000\na=rtpmap:300 FOO/90000\na=fmtp:300 x=1\na=rtcp-fb:300 nack\na=rtcp-fb:300 trr-int 5\n", 1)

	desc, err := Parse(text, ParseOptions{Owner: jingle.CreatorInitiator})
	require.NoError(t, err)

	payloads := desc.Contents[0].Description.Payloads
	require.Len(t, payloads, 2)
	for _, p := range payloads {
		assert.NotEqual(t, uint8(255), p.ID)
		assert.NotEqual(t, "FOO", p.Name)
	}
}

// Сценарий: локальный контент с одним host кандидатом
func TestGenerateHostCandidate(t *testing.T) {
	text, err := Generate(GenerateRequest{
		Type:  TypeOffer,
		Owner: jingle.CreatorInitiator,
		Contents: jingle.Contents{{
			Name:        "audio0",
			Creator:     jingle.CreatorInitiator,
			Senders:     jingle.SendersBoth,
			Description: jingle.Description{Media: jingle.MediaAudio},
		}},
		Candidates: map[string][]jingle.Candidate{
			"audio0": {{Component: 1, Foundation: "1", IP: "10.0.0.1", Port: 5000, Protocol: "udp", Priority: 2122260223, Type: "host"}},
		},
	})
	require.NoError(t, err)

	assert.Contains(t, text, "m=audio 5000 RTP/AVPF 0\r\n")
	assert.Contains(t, text, "c=IN IP4 10.0.0.1\r\n")
	assert.Contains(t, text, "a=rtcp:5001 IN IP4 10.0.0.1\r\n")
	assert.Contains(t, text, "a=candidate:1 1 udp 2122260223 10.0.0.1 5000 typ host generation 0\r\n")
	assert.Contains(t, text, "a=mid:audio0\r\n")
	assert.Contains(t, text, "a=sendrecv\r\n")
	assert.True(t, strings.HasPrefix(text, "v=0\r\no=- 1 2 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n"))
}

func TestGenerateCredentialsCollapsing(t *testing.T) {
	fp := &jingle.Fingerprint{Hash: "sha-256", Value: "AA:BB", Setup: "actpass"}
	content := func(name string, media jingle.Media, ufrag string) jingle.Content {
		return jingle.Content{
			Name:        name,
			Creator:     jingle.CreatorInitiator,
			Description: jingle.Description{Media: media, RTCPMux: true},
			Transport:   jingle.Transport{Ufrag: ufrag, Pwd: "pwd", Fingerprint: fp},
		}
	}

	t.Run("одинаковые учетные данные", func(t *testing.T) {
		text, err := Generate(GenerateRequest{
			Type:     TypeOffer,
			Groups:   []jingle.Group{{Semantics: "BUNDLE", Contents: []string{"audio", "video"}}},
			Contents: jingle.Contents{content("audio", jingle.MediaAudio, "u"), content("video", jingle.MediaVideo, "u")},
		})
		require.NoError(t, err)

		assert.Equal(t, 1, strings.Count(text, "a=ice-ufrag:u"))
		assert.Equal(t, 1, strings.Count(text, "a=fingerprint:sha-256 AA:BB"))
		assert.Less(t, strings.Index(text, "a=ice-ufrag:"), strings.Index(text, "m=audio"))
		assert.Less(t, strings.Index(text, "a=group:BUNDLE audio video"), strings.Index(text, "a=ice-ufrag:"))
		assert.Equal(t, 2, strings.Count(text, "a=setup:actpass"))
		assert.Contains(t, text, "m=video 9 RTP/SAVPF 0\r\n")
	})

	t.Run("различные учетные данные", func(t *testing.T) {
		text, err := Generate(GenerateRequest{
			Type:     TypeAnswer,
			Contents: jingle.Contents{content("audio", jingle.MediaAudio, "u1"), content("video", jingle.MediaVideo, "u2")},
		})
		require.NoError(t, err)

		assert.Greater(t, strings.Index(text, "a=ice-ufrag:u1"), strings.Index(text, "m=audio"))
		assert.Greater(t, strings.Index(text, "a=ice-ufrag:u2"), strings.Index(text, "m=video"))
		assert.Equal(t, 2, strings.Count(text, "a=fingerprint:"))
	})

	t.Run("setup по умолчанию для ответа", func(t *testing.T) {
		c := content("audio", jingle.MediaAudio, "u")
		c.Transport.Fingerprint = &jingle.Fingerprint{Hash: "sha-256", Value: "AA:BB"}
		text, err := Generate(GenerateRequest{Type: TypeAnswer, Contents: jingle.Contents{c}})
		require.NoError(t, err)
		assert.Contains(t, text, "a=setup:active\r\n")
	})
}

func TestGenerateAttributeOrder(t *testing.T) {
	c := jingle.Content{
		Name:    "audio",
		Creator: jingle.CreatorInitiator,
		Senders: jingle.SendersInitiator,
		Description: jingle.Description{
			Media:    jingle.MediaAudio,
			Ptime:    "20",
			Maxptime: "60",
			Payloads: []jingle.Payload{{
				ID: 111, Name: "opus", ClockRate: 48000, Channels: 2,
				Parameters:   []jingle.Parameter{{Name: "minptime", Value: "10"}},
				RTCPFeedback: []jingle.RTCPFeedback{{Type: "transport-cc"}},
			}},
			RTCPMux:          true,
			HeaderExtensions: []jingle.HeaderExtension{{ID: "1", URI: "urn:x"}},
			RTCPFeedback:     []jingle.RTCPFeedback{{Type: "nack"}},
			Encryption: &jingle.Encryption{
				Crypto: []jingle.Crypto{{Tag: "1", CryptoSuite: "AES_CM_128_HMAC_SHA1_80", KeyParams: "inline:key"}},
			},
			SourceGroups: []jingle.SourceGroup{{Semantics: "FID", Sources: []string{"1", "2"}}},
			Sources:      []jingle.Source{{SSRC: "1", Parameters: []jingle.Parameter{{Name: "cname", Value: "x"}}}, {SSRC: "2"}},
			Bandwidth:    []jingle.Bandwidth{{Type: "AS", Value: "64"}},
		},
		Transport: jingle.Transport{Ufrag: "u", Pwd: "p"},
	}
	// Разные учетные данные оставляют их на уровне медиа секций
	video := jingle.Content{
		Name:        "video",
		Creator:     jingle.CreatorInitiator,
		Description: jingle.Description{Media: jingle.MediaVideo, RTCPMux: true},
		Transport:   jingle.Transport{Ufrag: "v", Pwd: "q"},
	}
	text, err := Generate(GenerateRequest{Type: TypeOffer, Owner: jingle.CreatorInitiator, Contents: jingle.Contents{c, video}})
	require.NoError(t, err)

	at := strings.Index(text, "m=video")
	require.Greater(t, at, 0)
	session, audio := text[:strings.Index(text, "m=audio")], text[:at]
	assert.NotContains(t, session, "a=ice-ufrag")
	assert.Contains(t, text[at:], "a=ice-ufrag:v\r\n")
	assert.Contains(t, text[at:], "a=ice-pwd:q\r\n")

	order := []string{
		"m=audio 9 RTP/SAVPF 111",
		"c=IN IP4 0.0.0.0",
		"b=AS:64",
		"a=rtcp:9 IN IP4 0.0.0.0",
		"a=ice-ufrag:u",
		"a=ice-pwd:p",
		"a=extmap:1 urn:x",
		"a=sendonly",
		"a=mid:audio",
		"a=rtcp-mux",
		"a=crypto:1 AES_CM_128_HMAC_SHA1_80 inline:key",
		"a=rtcp-fb:* nack",
		"a=rtpmap:111 opus/48000/2",
		"a=fmtp:111 minptime=10",
		"a=rtcp-fb:111 transport-cc",
		"a=ptime:20",
		"a=maxptime:60",
		"a=ssrc-group:FID 1 2",
		"a=ssrc:1 cname:x",
		"a=ssrc:2\r\n",
	}
	last := -1
	for _, line := range order {
		idx := strings.Index(audio, line)
		require.GreaterOrEqual(t, idx, 0, "строка %q отсутствует", line)
		assert.Greater(t, idx, last, "строка %q нарушает порядок", line)
		last = idx
	}
}

func TestGenerateRoundTrip(t *testing.T) {
	first, err := Parse(browserOffer, ParseOptions{Owner: jingle.CreatorInitiator})
	require.NoError(t, err)

	text, err := Generate(GenerateRequest{
		Type:       TypeOffer,
		Owner:      jingle.CreatorInitiator,
		SessionID:  42,
		Groups:     first.Groups,
		Contents:   first.Contents,
		Candidates: first.Candidates,
	})
	require.NoError(t, err)

	second, err := Parse(text, ParseOptions{Owner: jingle.CreatorInitiator, Known: first.Contents})
	require.NoError(t, err)

	assert.Equal(t, first.Groups, second.Groups)
	assert.Equal(t, first.Contents, second.Contents)

	for name, candidates := range first.Candidates {
		got := second.Candidates[name]
		require.Len(t, got, len(candidates))
		for i := range candidates {
			want := candidates[i]
			want.ID = got[i].ID
			assert.Equal(t, want, got[i])
		}
	}
}

func TestDirectionMapping(t *testing.T) {
	tests := []struct {
		dir     string
		owner   jingle.Creator
		senders jingle.Senders
	}{
		{"sendrecv", jingle.CreatorInitiator, jingle.SendersBoth},
		{"inactive", jingle.CreatorInitiator, jingle.SendersNone},
		{"sendonly", jingle.CreatorInitiator, jingle.SendersInitiator},
		{"recvonly", jingle.CreatorInitiator, jingle.SendersResponder},
		{"sendonly", jingle.CreatorResponder, jingle.SendersResponder},
		{"recvonly", jingle.CreatorResponder, jingle.SendersInitiator},
	}
	for _, tt := range tests {
		t.Run(tt.dir+"/"+string(tt.owner), func(t *testing.T) {
			assert.Equal(t, tt.senders, sendersFromDirection(tt.dir, tt.owner))
			assert.Equal(t, tt.dir, directionFromSenders(tt.senders, tt.owner))
		})
	}
}

func TestPickNetwork(t *testing.T) {
	host := jingle.Candidate{Component: 1, IP: "10.0.0.1", Port: 5000, Type: "host"}
	hostRTCP := jingle.Candidate{Component: 2, IP: "10.0.0.1", Port: 5050, Type: "host"}
	srflx := jingle.Candidate{Component: 1, IP: "203.0.113.5", Port: 6000, Type: "srflx"}

	n := pickNetwork(nil, false)
	assert.Equal(t, network{ip: "0.0.0.0", port: 9, rtcpIP: "0.0.0.0", rtcpPort: 9}, n)

	n = pickNetwork([]jingle.Candidate{host, hostRTCP}, false)
	assert.Equal(t, "10.0.0.1", n.ip)
	assert.Equal(t, 5050, n.rtcpPort)

	n = pickNetwork([]jingle.Candidate{host, srflx}, true)
	assert.Equal(t, "203.0.113.5", n.ip)
	assert.Equal(t, 6000, n.rtcpPort)

	n = pickNetwork([]jingle.Candidate{{Component: 1, IP: "2001:db8::1", Port: 1, Type: "host"}}, true)
	assert.Equal(t, "IP6", n.addressType())
}

func TestParseCandidate(t *testing.T) {
	c, err := ParseCandidate("a=candidate:842163049 1 UDP 1677729535 192.0.2.3 61665 typ srflx raddr 10.0.1.1 rport 8998 generation 2 network-id 3")
	require.NoError(t, err)
	assert.Equal(t, "842163049", c.Foundation)
	assert.Equal(t, "udp", c.Protocol)
	assert.Equal(t, "srflx", c.Type)
	assert.Equal(t, 2, c.Generation)
	assert.Equal(t, 3, c.Network)
	assert.Equal(t, 8998, c.RelPort)
	assert.Len(t, c.ID, 10)

	assert.Equal(t,
		"candidate:842163049 1 udp 1677729535 192.0.2.3 61665 typ srflx raddr 10.0.1.1 rport 8998 generation 2 network-id 3",
		FormatCandidate(c))

	_, err = ParseCandidate("candidate:broken")
	require.ErrorIs(t, err, ErrInvalidCandidate)
}

func TestGenerateMids(t *testing.T) {
	text, err := Generate(GenerateRequest{
		Type:   TypeAnswer,
		Owner:  jingle.CreatorResponder,
		Groups: []jingle.Group{{Semantics: "BUNDLE", Contents: []string{"audio", "video"}}},
		Contents: jingle.Contents{
			{Name: "audio", Creator: jingle.CreatorInitiator, Senders: jingle.SendersBoth,
				Description: jingle.Description{Media: jingle.MediaAudio}},
			{Name: "video", Creator: jingle.CreatorInitiator, Senders: jingle.SendersBoth,
				Description: jingle.Description{Media: jingle.MediaVideo}},
		},
		Mids: map[string]string{"audio": "0"},
	})
	require.NoError(t, err)

	assert.Contains(t, text, "a=group:BUNDLE 0 video\r\n")
	assert.Contains(t, text, "a=mid:0\r\n")
	assert.Contains(t, text, "a=mid:video\r\n")

	desc, err := Parse(text, ParseOptions{Owner: jingle.CreatorResponder})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"0": "audio", "video": "video"}, desc.Mids)
	assert.Equal(t, []jingle.Group{{Semantics: "BUNDLE", Contents: []string{"audio", "video"}}}, desc.Groups)
}
