package jingle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mellium.im/xmpp/stanza"
)

func TestCandidateClassification(t *testing.T) {
	tests := []struct {
		typ  string
		kind TransportKind
	}{
		{CandidateHost, TransportICEUDP},
		{CandidateSrflx, TransportICEUDP},
		{CandidatePrflx, TransportICEUDP},
		{CandidateRelay, TransportRawUDP},
		{"unknown", TransportICEUDP},
	}
	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			assert.Equal(t, tt.kind, Candidate{Type: tt.typ}.Kind())
		})
	}
}

func TestCandidateClassifyStripsRelay(t *testing.T) {
	relay := Candidate{
		Component: 1, Foundation: "3", Generation: 1, ID: "abc", IP: "198.51.100.7",
		Network: 2, Port: 7000, Priority: 100, Protocol: "udp", Type: CandidateRelay,
		RelAddr: "10.0.0.1", RelPort: 5000,
	}
	kind, stripped := relay.Classify()
	assert.Equal(t, TransportRawUDP, kind)
	assert.Equal(t, Candidate{Component: 1, Generation: 1, ID: "abc", IP: "198.51.100.7", Port: 7000, Type: CandidateRelay}, stripped)

	host := Candidate{Foundation: "1", Component: 1, IP: "10.0.0.1", Port: 5000, Protocol: "udp", Type: CandidateHost}
	kind, same := host.Classify()
	assert.Equal(t, TransportICEUDP, kind)
	assert.Equal(t, host, same)
}

func TestTransportKind(t *testing.T) {
	assert.Equal(t, TransportICEUDP, Transport{}.Kind())
	assert.Equal(t, TransportRawUDP, Transport{Candidates: []Candidate{{Type: CandidateRelay}}}.Kind())
	assert.Equal(t, TransportICEUDP, Transport{Candidates: []Candidate{{Type: CandidateRelay}, {Type: CandidateHost}}}.Kind())

	assert.Equal(t, NSRawUDP, TransportRawUDP.Namespace())
	kind, ok := TransportKindFromNamespace(NSICEUDP)
	require.True(t, ok)
	assert.Equal(t, TransportICEUDP, kind)
	_, ok = TransportKindFromNamespace("urn:example")
	assert.False(t, ok)
}

func TestTransportCredentials(t *testing.T) {
	a := Transport{Ufrag: "u", Pwd: "p", Fingerprint: &Fingerprint{Hash: "sha-256", Value: "AA", Setup: "active"}}
	b := Transport{Ufrag: "u", Pwd: "p", Fingerprint: &Fingerprint{Hash: "sha-256", Value: "AA", Setup: "passive"}}
	assert.True(t, a.SameCredentials(b), "setup не входит в учетные данные")

	b.Fingerprint = nil
	assert.False(t, a.SameCredentials(b))
	assert.True(t, Transport{}.SameCredentials(Transport{}))
	assert.False(t, Transport{}.HasCredentials())
	assert.True(t, b.HasCredentials())
}

func TestContentsClone(t *testing.T) {
	orig := Contents{{
		Name: "audio",
		Description: Description{
			Media:    MediaAudio,
			Payloads: []Payload{{ID: 0, Name: "PCMU", Parameters: []Parameter{{Name: "a", Value: "1"}}}},
		},
		Transport: Transport{Fingerprint: &Fingerprint{Value: "AA"}, Candidates: []Candidate{{IP: "10.0.0.1"}}},
	}}

	cp := orig.Clone()
	require.Equal(t, orig, cp)

	cp[0].Description.Payloads[0].Parameters[0].Value = "2"
	cp[0].Transport.Fingerprint.Value = "BB"
	cp[0].Transport.Candidates[0].IP = "10.0.0.2"

	assert.Equal(t, "1", orig[0].Description.Payloads[0].Parameters[0].Value)
	assert.Equal(t, "AA", orig[0].Transport.Fingerprint.Value)
	assert.Equal(t, "10.0.0.1", orig[0].Transport.Candidates[0].IP)

	c, ok := orig.Find("audio")
	require.True(t, ok)
	assert.Equal(t, MediaAudio, c.Description.Media)
	_, ok = orig.Find("video")
	assert.False(t, ok)
}

func TestDescriptionPayloadOrCreate(t *testing.T) {
	var d Description
	p := d.PayloadOrCreate(96)
	p.Name = "VP8"
	assert.Same(t, p, d.PayloadOrCreate(96))
	assert.Len(t, d.Payloads, 1)

	got, ok := d.Payload(96)
	require.True(t, ok)
	assert.Equal(t, "VP8", got.Name)

	s := d.SourceOrCreate("1")
	s.Parameters = append(s.Parameters, Parameter{Name: "cname", Value: "x"})
	assert.Len(t, d.SourceOrCreate("1").Parameters, 1)
}

func TestEnumValidation(t *testing.T) {
	assert.True(t, CreatorInitiator.Valid())
	assert.False(t, Creator("both").Valid())
	assert.Equal(t, CreatorResponder, CreatorInitiator.Opposite())
	assert.Equal(t, CreatorInitiator, CreatorResponder.Opposite())

	assert.True(t, SendersNone.Valid())
	assert.False(t, Senders("all").Valid())

	assert.True(t, ActionTransportReplace.Valid())
	assert.False(t, Action("session-restart").Valid())

	assert.True(t, InfoRinging.Valid())
	assert.False(t, InfoName("dance").Valid())

	assert.True(t, ReasonBusy.Valid())
	assert.False(t, Reason("bored").Valid())
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		cond    Condition
		typ     ErrorType
		generic stanza.Condition
	}{
		{ConditionOutOfOrder, ErrorTypeWait, stanza.UnexpectedRequest},
		{ConditionTieBreak, ErrorTypeCancel, stanza.Conflict},
		{ConditionUnknownSession, ErrorTypeCancel, stanza.ItemNotFound},
		{ConditionUnsupportedInfo, ErrorTypeModify, stanza.FeatureNotImplemented},
		{ConditionSecurityRequired, ErrorTypeCancel, stanza.NotAcceptable},
	}
	for _, tt := range tests {
		t.Run(string(tt.cond), func(t *testing.T) {
			m, ok := MappingFor(tt.cond)
			require.True(t, ok)
			assert.Equal(t, tt.typ, m.Type)
			assert.Equal(t, tt.generic, m.Generic)

			err := NewProtocolError(tt.cond)
			assert.Equal(t, tt.cond, err.Condition)
			assert.Contains(t, err.Error(), string(tt.cond))
		})
	}

	generic := NewGenericError(stanza.ResourceConstraint).WithText("busy")
	assert.Equal(t, ErrorTypeWait, generic.Type)
	assert.Empty(t, generic.Condition)
	assert.Equal(t, "busy", generic.Text)

	assert.Equal(t, stanza.BadRequest, NewProtocolError("nonsense").Generic)
}
