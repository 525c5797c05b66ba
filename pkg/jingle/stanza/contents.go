package stanza

import (
	"strconv"

	"github.com/arzzra/jingle/pkg/jingle"
	"github.com/pkg/errors"
)

// ErrMissingIdentity контент без обязательных атрибутов creator или name
var ErrMissingIdentity = errors.New("stanza: content without creator or name")

// EncodeContents формирует элементы <content/> для набора контентов.
// Кандидаты берутся из Transport.Candidates каждого контента.
func EncodeContents(contents jingle.Contents) []ContentElement {
	out := make([]ContentElement, 0, len(contents))
	for _, c := range contents {
		out = append(out, EncodeContent(c))
	}
	return out
}

// EncodeContent формирует один элемент <content/>
func EncodeContent(c jingle.Content) ContentElement {
	desc := encodeDescription(c.Description)
	return ContentElement{
		Creator:     c.Creator,
		Name:        c.Name,
		Senders:     c.Senders,
		Description: &desc,
		Transport:   EncodeTransport(c.Transport),
	}
}

// DecodeContents разбирает элементы <content/>. Контенты без creator или name
// исключаются из результата с записью ошибки; остальные разбираются
// независимо друг от друга.
func DecodeContents(elems []ContentElement) (jingle.Contents, []error) {
	var (
		out  jingle.Contents
		errs []error
	)
	for i, e := range elems {
		c, err := DecodeContent(e)
		if err != nil {
			errs = append(errs, errors.Wrapf(err, "content #%d", i))
			continue
		}
		out = append(out, c)
	}
	return out, errs
}

// DecodeContent разбирает один элемент <content/>
func DecodeContent(e ContentElement) (jingle.Content, error) {
	if e.Creator == "" || e.Name == "" {
		return jingle.Content{}, ErrMissingIdentity
	}
	if !e.Creator.Valid() {
		return jingle.Content{}, errors.Errorf("stanza: invalid creator %q", e.Creator)
	}

	c := jingle.Content{
		Name:    e.Name,
		Creator: e.Creator,
		Senders: e.Senders,
	}
	if c.Senders == "" || !c.Senders.Valid() {
		c.Senders = jingle.SendersBoth
	}
	if e.Description != nil {
		c.Description = decodeDescription(*e.Description)
	}
	if e.Transport != nil {
		c.Transport = DecodeTransport(*e.Transport)
	}
	return c, nil
}

func encodeDescription(d jingle.Description) DescriptionElement {
	out := DescriptionElement{Media: d.Media, SSRC: d.SSRC}

	for _, p := range d.Payloads {
		pe := PayloadElement{
			ID:       strconv.Itoa(int(p.ID)),
			Name:     p.Name,
			Ptime:    d.Ptime,
			Maxptime: d.Maxptime,
		}
		if p.ClockRate != 0 {
			pe.ClockRate = strconv.FormatUint(uint64(p.ClockRate), 10)
		}
		if p.Channels > 1 {
			pe.Channels = strconv.Itoa(int(p.Channels))
		}
		pe.Parameters = encodeParameters(p.Parameters)
		pe.RTCPFeedback = encodeFeedback(p.RTCPFeedback)
		pe.TrrInt = encodeTrrInt(p.RTCPFeedbackTrrInt)
		out.Payloads = append(out.Payloads, pe)
	}

	if enc := d.Encryption; enc != nil {
		ee := &EncryptionElement{}
		if enc.Required {
			ee.Required = "1"
		}
		for _, c := range enc.Crypto {
			ee.Crypto = append(ee.Crypto, CryptoElement{
				CryptoSuite:   c.CryptoSuite,
				KeyParams:     c.KeyParams,
				SessionParams: c.SessionParams,
				Tag:           c.Tag,
			})
		}
		for _, z := range enc.ZRTPHash {
			ee.ZRTPHash = append(ee.ZRTPHash, ZRTPHashElement{Version: z.Version, Value: z.Value})
		}
		out.Encryption = ee
	}

	for _, b := range d.Bandwidth {
		out.Bandwidth = append(out.Bandwidth, BandwidthElement{Type: b.Type, Value: b.Value})
	}
	if d.RTCPMux {
		out.RTCPMux = &struct{}{}
	}
	for _, h := range d.HeaderExtensions {
		out.HeaderExts = append(out.HeaderExts, HeaderExtensionElement{ID: h.ID, URI: h.URI, Senders: h.Senders})
	}
	for _, s := range d.Sources {
		out.Sources = append(out.Sources, SourceElement{SSRC: s.SSRC, Parameters: encodeParameters(s.Parameters)})
	}
	for _, g := range d.SourceGroups {
		ge := SourceGroupElement{Semantics: g.Semantics}
		for _, ssrc := range g.Sources {
			ge.Sources = append(ge.Sources, SourceElement{SSRC: ssrc})
		}
		out.SourceGroups = append(out.SourceGroups, ge)
	}
	out.RTCPFeedback = encodeFeedback(d.RTCPFeedback)
	out.TrrInt = encodeTrrInt(d.RTCPFeedbackTrrInt)
	return out
}

func decodeDescription(e DescriptionElement) jingle.Description {
	d := jingle.Description{Media: e.Media, SSRC: e.SSRC}

	for _, pe := range e.Payloads {
		id, err := strconv.ParseUint(pe.ID, 10, 8)
		if err != nil {
			continue
		}
		p := d.PayloadOrCreate(uint8(id))
		p.Name = pe.Name
		if v, err := strconv.ParseUint(pe.ClockRate, 10, 32); err == nil {
			p.ClockRate = uint32(v)
		}
		if v, err := strconv.ParseUint(pe.Channels, 10, 16); err == nil {
			p.Channels = uint16(v)
		}
		p.Parameters = decodeParameters(pe.Parameters)
		p.RTCPFeedback = decodeFeedback(pe.RTCPFeedback)
		p.RTCPFeedbackTrrInt = decodeTrrInt(pe.TrrInt)

		if d.Ptime == "" {
			d.Ptime = pe.Ptime
		}
		if d.Maxptime == "" {
			d.Maxptime = pe.Maxptime
		}
	}

	if ee := e.Encryption; ee != nil {
		enc := &jingle.Encryption{Required: ee.Required == "1" || ee.Required == "true"}
		for _, c := range ee.Crypto {
			enc.Crypto = append(enc.Crypto, jingle.Crypto{
				Tag:           c.Tag,
				CryptoSuite:   c.CryptoSuite,
				KeyParams:     c.KeyParams,
				SessionParams: c.SessionParams,
			})
		}
		for _, z := range ee.ZRTPHash {
			enc.ZRTPHash = append(enc.ZRTPHash, jingle.ZRTPHash{Version: z.Version, Value: z.Value})
		}
		d.Encryption = enc
	}

	for _, b := range e.Bandwidth {
		d.Bandwidth = append(d.Bandwidth, jingle.Bandwidth{Type: b.Type, Value: b.Value})
	}
	d.RTCPMux = e.RTCPMux != nil
	for _, h := range e.HeaderExts {
		d.HeaderExtensions = append(d.HeaderExtensions, jingle.HeaderExtension{ID: h.ID, URI: h.URI, Senders: h.Senders})
	}
	for _, s := range e.Sources {
		src := d.SourceOrCreate(s.SSRC)
		src.Parameters = append(src.Parameters, decodeParameters(s.Parameters)...)
	}
	for _, g := range e.SourceGroups {
		sg := jingle.SourceGroup{Semantics: g.Semantics}
		for _, s := range g.Sources {
			sg.Sources = append(sg.Sources, s.SSRC)
		}
		d.SourceGroups = append(d.SourceGroups, sg)
	}
	d.RTCPFeedback = decodeFeedback(e.RTCPFeedback)
	d.RTCPFeedbackTrrInt = decodeTrrInt(e.TrrInt)
	return d
}

// EncodeTransport формирует элемент <transport/> в пространстве имен
// определяемом кандидатами. Для RAW-UDP выводится только подмножество
// атрибутов кандидата.
func EncodeTransport(t jingle.Transport) *TransportElement {
	kind := t.Kind()
	out := &TransportElement{Ufrag: t.Ufrag, Pwd: t.Pwd}
	out.XMLName.Space = kind.Namespace()
	out.XMLName.Local = "transport"

	if fp := t.Fingerprint; fp != nil && fp.Value != "" {
		out.Fingerprint = &FingerprintElement{Hash: fp.Hash, Setup: fp.Setup, Value: fp.Value}
	}
	for _, c := range t.Candidates {
		out.Candidates = append(out.Candidates, EncodeCandidate(c, kind))
	}
	return out
}

// DecodeTransport разбирает элемент <transport/>. Кандидаты классифицируются
// по типу независимо от пространства имен элемента.
func DecodeTransport(e TransportElement) jingle.Transport {
	t := jingle.Transport{Ufrag: e.Ufrag, Pwd: e.Pwd}
	if fp := e.Fingerprint; fp != nil {
		t.Fingerprint = &jingle.Fingerprint{Hash: fp.Hash, Setup: fp.Setup, Value: fp.Value}
	}
	for _, ce := range e.Candidates {
		_, c := DecodeCandidate(ce).Classify()
		t.Candidates = append(t.Candidates, c)
	}
	return t
}

// EncodeCandidate формирует элемент <candidate/> для категории транспорта
func EncodeCandidate(c jingle.Candidate, kind jingle.TransportKind) CandidateElement {
	component := c.Component
	if component == 0 {
		component = 1
	}
	out := CandidateElement{
		Component:  strconv.Itoa(component),
		Generation: strconv.Itoa(c.Generation),
		ID:         c.ID,
		IP:         c.IP,
		Port:       strconv.Itoa(c.Port),
		Type:       c.Type,
	}
	if kind == jingle.TransportRawUDP {
		return out
	}
	out.Foundation = c.Foundation
	out.Network = strconv.Itoa(c.Network)
	out.Priority = strconv.FormatUint(uint64(c.Priority), 10)
	out.Protocol = c.Protocol
	if c.RelAddr != "" {
		out.RelAddr = c.RelAddr
		out.RelPort = strconv.Itoa(c.RelPort)
	}
	return out
}

// DecodeCandidate разбирает элемент <candidate/>; отсутствующие атрибуты
// остаются нулевыми
func DecodeCandidate(e CandidateElement) jingle.Candidate {
	c := jingle.Candidate{
		Foundation: e.Foundation,
		ID:         e.ID,
		IP:         e.IP,
		Protocol:   e.Protocol,
		Type:       e.Type,
		RelAddr:    e.RelAddr,
	}
	c.Component, _ = strconv.Atoi(e.Component)
	c.Generation, _ = strconv.Atoi(e.Generation)
	c.Network, _ = strconv.Atoi(e.Network)
	c.Port, _ = strconv.Atoi(e.Port)
	c.RelPort, _ = strconv.Atoi(e.RelPort)
	if v, err := strconv.ParseUint(e.Priority, 10, 32); err == nil {
		c.Priority = uint32(v)
	}
	return c
}

// EncodeGroups формирует элементы <group/>
func EncodeGroups(groups []jingle.Group) []GroupElement {
	var out []GroupElement
	for _, g := range groups {
		ge := GroupElement{Semantics: g.Semantics}
		for _, name := range g.Contents {
			ge.Contents = append(ge.Contents, GroupContentRef{Name: name})
		}
		out = append(out, ge)
	}
	return out
}

// DecodeGroups разбирает элементы <group/>
func DecodeGroups(elems []GroupElement) []jingle.Group {
	var out []jingle.Group
	for _, ge := range elems {
		g := jingle.Group{Semantics: ge.Semantics}
		for _, ref := range ge.Contents {
			if ref.Name != "" {
				g.Contents = append(g.Contents, ref.Name)
			}
		}
		out = append(out, g)
	}
	return out
}

func encodeParameters(params []jingle.Parameter) []ParameterElement {
	var out []ParameterElement
	for _, p := range params {
		out = append(out, ParameterElement{Name: p.Name, Value: p.Value})
	}
	return out
}

func decodeParameters(elems []ParameterElement) []jingle.Parameter {
	var out []jingle.Parameter
	for _, e := range elems {
		out = append(out, jingle.Parameter{Name: e.Name, Value: e.Value})
	}
	return out
}

func encodeFeedback(fbs []jingle.RTCPFeedback) []RTCPFeedbackElement {
	var out []RTCPFeedbackElement
	for _, fb := range fbs {
		out = append(out, RTCPFeedbackElement{Type: fb.Type, Subtype: fb.Subtype})
	}
	return out
}

func decodeFeedback(elems []RTCPFeedbackElement) []jingle.RTCPFeedback {
	var out []jingle.RTCPFeedback
	for _, e := range elems {
		out = append(out, jingle.RTCPFeedback{Type: e.Type, Subtype: e.Subtype})
	}
	return out
}

func encodeTrrInt(values []jingle.TrrInt) []TrrIntElement {
	var out []TrrIntElement
	for _, v := range values {
		out = append(out, TrrIntElement{Value: v.Value})
	}
	return out
}

func decodeTrrInt(elems []TrrIntElement) []jingle.TrrInt {
	var out []jingle.TrrInt
	for _, e := range elems {
		out = append(out, jingle.TrrInt{Value: e.Value})
	}
	return out
}
