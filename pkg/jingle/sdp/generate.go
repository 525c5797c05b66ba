package sdp

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/arzzra/jingle/pkg/jingle"
	psdp "github.com/pion/sdp/v3"
	"github.com/pkg/errors"
)

// Type тип описания сессии
type Type string

const (
	TypeOffer  Type = "offer"
	TypeAnswer Type = "answer"
)

// GenerateRequest входные данные генерации SDP
type GenerateRequest struct {
	Type Type

	// Owner сторона от имени которой составлено описание
	Owner jingle.Creator

	// SessionID значение o= линии. Ноль заменяется единицей.
	SessionID uint64

	Groups     []jingle.Group
	Contents   jingle.Contents
	Candidates map[string][]jingle.Candidate

	// Mids отображение имя контента -> a=mid. Контенты без записи получают
	// mid равный имени. Имена в группах заменяются так же.
	Mids map[string]string
}

func (r GenerateRequest) mid(name string) string {
	if mid, ok := r.Mids[name]; ok && mid != "" {
		return mid
	}
	return name
}

// Generate формирует SDP текст с фиксированным порядком строк:
// v, o, s, t, группы, учетные данные уровня сессии, затем медиа секции
// в порядке следования контентов.
func Generate(req GenerateRequest) (string, error) {
	if req.Owner == "" {
		req.Owner = jingle.CreatorInitiator
	}
	sessionID := req.SessionID
	if sessionID == 0 {
		sessionID = 1
	}

	desc := &psdp.SessionDescription{
		Version: 0,
		Origin: psdp.Origin{
			Username:       "-",
			SessionID:      sessionID,
			SessionVersion: 2,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: "127.0.0.1",
		},
		SessionName: "-",
		TimeDescriptions: []psdp.TimeDescription{
			{Timing: psdp.Timing{StartTime: 0, StopTime: 0}},
		},
	}

	for _, g := range req.Groups {
		if len(g.Contents) == 0 {
			continue
		}
		mids := make([]string, 0, len(g.Contents))
		for _, name := range g.Contents {
			mids = append(mids, req.mid(name))
		}
		desc.Attributes = append(desc.Attributes,
			psdp.NewAttribute(attrGroup, g.Semantics+" "+strings.Join(mids, " ")))
	}

	sessionCredentials := collapsible(req.Contents)
	if sessionCredentials {
		desc.Attributes = appendCredentials(desc.Attributes, req.Contents[0].Transport)
	}

	for _, content := range req.Contents {
		md, err := generateMedia(req, content, sessionCredentials)
		if err != nil {
			return "", errors.Wrapf(err, "content %q", content.Name)
		}
		desc.MediaDescriptions = append(desc.MediaDescriptions, md)
	}

	raw, err := desc.Marshal()
	if err != nil {
		return "", errors.Wrap(err, "sdp: marshal")
	}
	return string(raw), nil
}

// collapsible возвращает true если тройки (ufrag, pwd, fingerprint) всех
// контентов попарно равны и непусты
func collapsible(contents jingle.Contents) bool {
	if len(contents) == 0 || !contents[0].Transport.HasCredentials() {
		return false
	}
	for _, c := range contents[1:] {
		if !c.Transport.SameCredentials(contents[0].Transport) {
			return false
		}
	}
	return true
}

func appendCredentials(attrs []psdp.Attribute, t jingle.Transport) []psdp.Attribute {
	if t.Ufrag != "" {
		attrs = append(attrs, psdp.NewAttribute(attrICEUfrag, t.Ufrag))
	}
	if t.Pwd != "" {
		attrs = append(attrs, psdp.NewAttribute(attrICEPwd, t.Pwd))
	}
	if t.Fingerprint != nil && t.Fingerprint.Value != "" {
		attrs = append(attrs, psdp.NewAttribute(attrFingerprint, t.Fingerprint.Hash+" "+t.Fingerprint.Value))
	}
	return attrs
}

func generateMedia(req GenerateRequest, content jingle.Content, sessionCredentials bool) (*psdp.MediaDescription, error) {
	desc := content.Description
	transport := content.Transport
	candidates := req.Candidates[content.Name]

	if !desc.Media.Valid() {
		return nil, errors.Errorf("unsupported media %q", desc.Media)
	}

	net := pickNetwork(candidates, desc.RTCPMux)

	formats := make([]string, 0, len(desc.Payloads))
	for _, p := range desc.Payloads {
		formats = append(formats, strconv.Itoa(int(p.ID)))
	}
	if len(formats) == 0 {
		formats = append(formats, "0")
	}

	md := &psdp.MediaDescription{
		MediaName: psdp.MediaName{
			Media:   string(desc.Media),
			Port:    psdp.RangedPort{Value: net.port},
			Protos:  strings.Split(profile(content), "/"),
			Formats: formats,
		},
		ConnectionInformation: &psdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: net.addressType(),
			Address:     &psdp.Address{Address: net.ip},
		},
	}

	for _, b := range desc.Bandwidth {
		value, err := strconv.ParseUint(b.Value, 10, 64)
		if err != nil {
			continue
		}
		typ, experimental := strings.CutPrefix(b.Type, "X-")
		md.Bandwidth = append(md.Bandwidth, psdp.Bandwidth{Experimental: experimental, Type: typ, Bandwidth: value})
	}

	attrs := make([]psdp.Attribute, 0, 32)
	add := func(key, value string) {
		attrs = append(attrs, psdp.NewAttribute(key, value))
	}

	add(attrRTCP, fmt.Sprintf("%d IN %s %s", net.rtcpPort, network{ip: net.rtcpIP}.addressType(), net.rtcpIP))

	if !sessionCredentials {
		attrs = appendCredentials(attrs, transport)
	}
	if fp := transport.Fingerprint; fp != nil && fp.Value != "" {
		setup := fp.Setup
		if setup == "" {
			setup = defaultSetup(req.Type)
		}
		add(attrSetup, setup)
	}

	for _, ext := range desc.HeaderExtensions {
		id := ext.ID
		if ext.Senders != "" && ext.Senders != jingle.SendersBoth {
			id += "/" + directionFromSenders(ext.Senders, req.Owner)
		}
		add(attrExtMap, id+" "+ext.URI)
	}

	attrs = append(attrs, psdp.NewPropertyAttribute(directionFromSenders(senders(content), req.Owner)))
	add(attrMid, req.mid(content.Name))

	if desc.RTCPMux {
		attrs = append(attrs, psdp.NewPropertyAttribute(attrRTCPMux))
	}

	if enc := desc.Encryption; enc != nil {
		for _, c := range enc.Crypto {
			value := c.Tag + " " + c.CryptoSuite + " " + c.KeyParams
			if c.SessionParams != "" {
				value += " " + c.SessionParams
			}
			add(attrCrypto, value)
		}
		for _, z := range enc.ZRTPHash {
			add(attrZRTPHash, z.Version+" "+z.Value)
		}
	}

	for _, fb := range desc.RTCPFeedback {
		add(attrRTCPFb, feedback("*", fb))
	}
	for _, trr := range desc.RTCPFeedbackTrrInt {
		add(attrRTCPFb, "* trr-int "+trr.Value)
	}

	for _, p := range desc.Payloads {
		id := strconv.Itoa(int(p.ID))
		if p.Name != "" {
			value := fmt.Sprintf("%s %s/%d", id, p.Name, p.ClockRate)
			if p.Channels > 1 {
				value += "/" + strconv.Itoa(int(p.Channels))
			}
			add(attrRTPMap, value)
		}
		if len(p.Parameters) > 0 {
			add(attrFmtp, id+" "+formatFmtp(p.Parameters))
		}
		for _, fb := range p.RTCPFeedback {
			add(attrRTCPFb, feedback(id, fb))
		}
		for _, trr := range p.RTCPFeedbackTrrInt {
			add(attrRTCPFb, id+" trr-int "+trr.Value)
		}
	}

	if desc.Ptime != "" {
		add(attrPtime, desc.Ptime)
	}
	if desc.Maxptime != "" {
		add(attrMaxptime, desc.Maxptime)
	}

	for _, g := range desc.SourceGroups {
		add(attrSSRCGroup, g.Semantics+" "+strings.Join(g.Sources, " "))
	}
	for _, s := range desc.Sources {
		if len(s.Parameters) == 0 {
			add(attrSSRC, s.SSRC)
			continue
		}
		for _, p := range s.Parameters {
			value := s.SSRC + " " + p.Name
			if p.Value != "" {
				value += ":" + p.Value
			}
			add(attrSSRC, value)
		}
	}

	for _, c := range candidates {
		attrs = append(attrs, psdp.NewAttribute(attrCandidate, strings.TrimPrefix(FormatCandidate(c), attrCandidate+":")))
	}

	md.Attributes = attrs
	return md, nil
}

// profile выбирает RTP профиль по наличию шифрования
func profile(c jingle.Content) string {
	if fp := c.Transport.Fingerprint; fp != nil && fp.Value != "" {
		return "RTP/SAVPF"
	}
	if enc := c.Description.Encryption; enc != nil && len(enc.Crypto) > 0 {
		return "RTP/SAVPF"
	}
	return "RTP/AVPF"
}

func senders(c jingle.Content) jingle.Senders {
	if c.Senders == "" {
		return jingle.SendersBoth
	}
	return c.Senders
}

func defaultSetup(t Type) string {
	if t == TypeAnswer {
		return "active"
	}
	return "actpass"
}

func feedback(id string, fb jingle.RTCPFeedback) string {
	if fb.Subtype != "" {
		return id + " " + fb.Type + " " + fb.Subtype
	}
	return id + " " + fb.Type
}

func formatFmtp(params []jingle.Parameter) string {
	parts := make([]string, 0, len(params))
	for _, p := range params {
		if p.Name == "" {
			parts = append(parts, p.Value)
			continue
		}
		parts = append(parts, p.Name+"="+p.Value)
	}
	return strings.Join(parts, ";")
}
