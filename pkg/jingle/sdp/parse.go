package sdp

import (
	"strconv"
	"strings"

	"github.com/arzzra/jingle/pkg/jingle"
	psdp "github.com/pion/sdp/v3"
	"github.com/pkg/errors"
)

// ParseOptions параметры разбора SDP
type ParseOptions struct {
	// Owner сторона описавшая SDP. Определяет трактовку sendonly/recvonly.
	Owner jingle.Creator

	// Creator значение creator для получаемых контентов (по умолчанию Owner)
	Creator jingle.Creator

	// Known уже известные контенты сессии (локальные, затем удаленные).
	// Используются для стабильного именования контентов между раундами.
	Known jingle.Contents

	// Active допустимые имена контентов. Пустой набор допускает все.
	Active []string
}

// Description результат разбора SDP
type Description struct {
	Groups   []jingle.Group
	Contents jingle.Contents

	// Candidates кандидаты из тела SDP по имени контента
	Candidates map[string][]jingle.Candidate

	// Mids отображение a=mid -> имя контента
	Mids map[string]string

	// MLines имена контентов в порядке m= линий ("" для пропущенных линий)
	MLines []string
}

// NameForLabel возвращает имя контента по метке медиа движка (mid или индекс m= линии)
func (d *Description) NameForLabel(mid string, index int) (string, bool) {
	if mid != "" {
		if name, ok := d.Mids[mid]; ok {
			return name, true
		}
	}
	if index >= 0 && index < len(d.MLines) && d.MLines[index] != "" {
		return d.MLines[index], true
	}
	return "", false
}

// sessionDefaults учетные данные транспорта уровня сессии
type sessionDefaults struct {
	ufrag       string
	pwd         string
	fingerprint *jingle.Fingerprint
	setup       string
}

// Parse разбирает SDP текст в модель контентов
func Parse(text string, opts ParseOptions) (*Description, error) {
	text = normalize(text)
	if !strings.HasPrefix(text, "v=") {
		return nil, errors.New("sdp: missing version line")
	}
	var raw psdp.SessionDescription
	if err := raw.Unmarshal([]byte(text)); err != nil {
		return nil, errors.Wrap(err, "sdp: unmarshal")
	}

	if opts.Creator == "" {
		opts.Creator = opts.Owner
	}
	if opts.Owner == "" {
		opts.Owner = jingle.CreatorInitiator
		if opts.Creator == "" {
			opts.Creator = jingle.CreatorInitiator
		}
	}

	out := &Description{
		Candidates: make(map[string][]jingle.Candidate),
		Mids:       make(map[string]string),
	}

	// Атрибуты уровня сессии
	var defaults sessionDefaults
	for _, a := range raw.Attributes {
		switch a.Key {
		case attrGroup:
			if g, ok := parseGroup(a.Value); ok {
				out.Groups = append(out.Groups, g)
			}
		case attrICEUfrag:
			if m := reToken.FindStringSubmatch(a.Value); m != nil {
				defaults.ufrag = m[1]
			}
		case attrICEPwd:
			if m := reToken.FindStringSubmatch(a.Value); m != nil {
				defaults.pwd = m[1]
			}
		case attrFingerprint:
			if m := reFingerprint.FindStringSubmatch(a.Value); m != nil {
				defaults.fingerprint = &jingle.Fingerprint{Hash: m[1], Value: m[2]}
			}
		case attrSetup:
			if m := reSetup.FindStringSubmatch(a.Value); m != nil {
				defaults.setup = m[1]
			}
		}
	}

	r := newResolver(opts.Known)
	for _, md := range raw.MediaDescriptions {
		media := jingle.Media(md.MediaName.Media)
		if !media.Valid() {
			out.MLines = append(out.MLines, "")
			continue
		}

		name := r.resolve(media)
		out.MLines = append(out.MLines, name)

		content := jingle.Content{
			Name:        name,
			Creator:     opts.Creator,
			Senders:     jingle.SendersBoth,
			Description: jingle.Description{Media: media},
		}
		parseMedia(md, &content, opts.Owner, out, name)
		out.Contents = append(out.Contents, content)
	}

	// Группы ссылаются на mid, в модели контентов на имена
	for i := range out.Groups {
		for j, mid := range out.Groups[i].Contents {
			if name, ok := out.Mids[mid]; ok {
				out.Groups[i].Contents[j] = name
			}
		}
	}

	backfill(out.Contents, defaults)
	out.filter(opts.Active)
	return out, nil
}

// parseMedia заполняет контент из одной медиа секции
func parseMedia(md *psdp.MediaDescription, content *jingle.Content, owner jingle.Creator, out *Description, name string) {
	desc := &content.Description
	transport := &content.Transport

	// Форматы m= линии задают порядок payload
	for _, f := range md.MediaName.Formats {
		if id, err := strconv.ParseUint(f, 10, 8); err == nil {
			desc.PayloadOrCreate(uint8(id))
		}
	}

	for _, b := range md.Bandwidth {
		typ := b.Type
		if b.Experimental {
			typ = "X-" + typ
		}
		desc.Bandwidth = append(desc.Bandwidth, jingle.Bandwidth{Type: typ, Value: strconv.FormatUint(b.Bandwidth, 10)})
	}

	secure := false
	for _, p := range md.MediaName.Protos {
		if strings.Contains(p, "SAVP") {
			secure = true
		}
	}

	for _, a := range md.Attributes {
		switch a.Key {
		case attrRTPMap:
			m := reRTPMap.FindStringSubmatch(a.Value)
			if m == nil {
				continue
			}
			id, err := strconv.ParseUint(m[1], 10, 8)
			if err != nil {
				continue
			}
			clock, _ := strconv.ParseUint(m[3], 10, 32)
			p := desc.PayloadOrCreate(uint8(id))
			p.Name = m[2]
			p.ClockRate = uint32(clock)
			if m[4] != "" {
				ch, _ := strconv.ParseUint(m[4], 10, 16)
				p.Channels = uint16(ch)
			}

		case attrFmtp:
			m := reFmtp.FindStringSubmatch(a.Value)
			if m == nil {
				continue
			}
			id, err := strconv.ParseUint(m[1], 10, 8)
			if err != nil {
				continue
			}
			p := desc.PayloadOrCreate(uint8(id))
			p.Parameters = append(p.Parameters, parseFmtp(m[2])...)

		case attrRTCPFb:
			if m := reRTCPFbTrrInt.FindStringSubmatch(a.Value); m != nil {
				trr := jingle.TrrInt{Value: m[2]}
				if m[1] == "*" {
					desc.RTCPFeedbackTrrInt = append(desc.RTCPFeedbackTrrInt, trr)
				} else if id, err := strconv.ParseUint(m[1], 10, 8); err == nil {
					p := desc.PayloadOrCreate(uint8(id))
					p.RTCPFeedbackTrrInt = append(p.RTCPFeedbackTrrInt, trr)
				}
				continue
			}
			m := reRTCPFb.FindStringSubmatch(a.Value)
			if m == nil {
				continue
			}
			fb := jingle.RTCPFeedback{Type: m[2], Subtype: m[3]}
			if m[1] == "*" {
				desc.RTCPFeedback = append(desc.RTCPFeedback, fb)
			} else if id, err := strconv.ParseUint(m[1], 10, 8); err == nil {
				p := desc.PayloadOrCreate(uint8(id))
				p.RTCPFeedback = append(p.RTCPFeedback, fb)
			}

		case attrCrypto:
			m := reCrypto.FindStringSubmatch(a.Value)
			if m == nil {
				continue
			}
			enc := encryption(desc)
			enc.Required = enc.Required || secure
			enc.Crypto = append(enc.Crypto, jingle.Crypto{Tag: m[1], CryptoSuite: m[2], KeyParams: m[3], SessionParams: m[4]})

		case attrZRTPHash:
			m := reZRTPHash.FindStringSubmatch(a.Value)
			if m == nil {
				continue
			}
			enc := encryption(desc)
			enc.ZRTPHash = append(enc.ZRTPHash, jingle.ZRTPHash{Version: m[1], Value: m[2]})

		case attrPtime:
			if m := rePtime.FindStringSubmatch(a.Value); m != nil {
				desc.Ptime = m[1]
			}

		case attrMaxptime:
			if m := rePtime.FindStringSubmatch(a.Value); m != nil {
				desc.Maxptime = m[1]
			}

		case attrSSRC:
			m := reSSRC.FindStringSubmatch(a.Value)
			if m == nil {
				continue
			}
			if desc.SSRC == "" {
				desc.SSRC = m[1]
			}
			src := desc.SourceOrCreate(m[1])
			if m[2] != "" {
				src.Parameters = append(src.Parameters, jingle.Parameter{Name: m[2], Value: m[3]})
			}

		case attrSSRCGroup:
			m := reSSRCGroup.FindStringSubmatch(a.Value)
			if m == nil {
				continue
			}
			desc.SourceGroups = append(desc.SourceGroups, jingle.SourceGroup{
				Semantics: m[1],
				Sources:   strings.Fields(m[2]),
			})

		case attrRTCPMux:
			desc.RTCPMux = true

		case attrExtMap:
			m := reExtMap.FindStringSubmatch(a.Value)
			if m == nil {
				continue
			}
			ext := jingle.HeaderExtension{ID: m[1], URI: m[3]}
			if m[2] != "" {
				ext.Senders = sendersFromDirection(m[2], owner)
			}
			desc.HeaderExtensions = append(desc.HeaderExtensions, ext)

		case attrFingerprint:
			m := reFingerprint.FindStringSubmatch(a.Value)
			if m == nil {
				continue
			}
			setup := ""
			if transport.Fingerprint != nil {
				setup = transport.Fingerprint.Setup
			}
			transport.Fingerprint = &jingle.Fingerprint{Hash: m[1], Value: m[2], Setup: setup}

		case attrSetup:
			m := reSetup.FindStringSubmatch(a.Value)
			if m == nil {
				continue
			}
			if transport.Fingerprint == nil {
				transport.Fingerprint = &jingle.Fingerprint{}
			}
			transport.Fingerprint.Setup = m[1]

		case attrICEUfrag:
			if m := reToken.FindStringSubmatch(a.Value); m != nil {
				transport.Ufrag = m[1]
			}

		case attrICEPwd:
			if m := reToken.FindStringSubmatch(a.Value); m != nil {
				transport.Pwd = m[1]
			}

		case attrCandidate:
			c, err := ParseCandidate(attrCandidate + ":" + a.Value)
			if err != nil {
				continue
			}
			_, c = c.Classify()
			out.Candidates[name] = append(out.Candidates[name], c)

		case attrMid:
			if m := reToken.FindStringSubmatch(a.Value); m != nil {
				out.Mids[m[1]] = name
			}

		case "sendrecv", "sendonly", "recvonly", "inactive":
			content.Senders = sendersFromDirection(a.Key, owner)
		}
	}
}

// backfill дополняет контенты учетными данными уровня сессии
func backfill(contents jingle.Contents, d sessionDefaults) {
	for i := range contents {
		t := &contents[i].Transport
		if t.Ufrag == "" {
			t.Ufrag = d.ufrag
		}
		if t.Pwd == "" {
			t.Pwd = d.pwd
		}
		if d.fingerprint != nil {
			if t.Fingerprint == nil {
				fp := *d.fingerprint
				t.Fingerprint = &fp
			} else if t.Fingerprint.Value == "" {
				t.Fingerprint.Hash = d.fingerprint.Hash
				t.Fingerprint.Value = d.fingerprint.Value
			}
		}
		if t.Fingerprint != nil && t.Fingerprint.Setup == "" {
			t.Fingerprint.Setup = d.setup
		}
	}
}

// filter отбрасывает контенты не входящие в активный набор имен
func (d *Description) filter(active []string) {
	if len(active) == 0 {
		return
	}
	allowed := make(map[string]bool, len(active))
	for _, name := range active {
		allowed[name] = true
	}

	kept := d.Contents[:0]
	for _, c := range d.Contents {
		if allowed[c.Name] {
			kept = append(kept, c)
		}
	}
	d.Contents = kept

	for name := range d.Candidates {
		if !allowed[name] {
			delete(d.Candidates, name)
		}
	}
	for mid, name := range d.Mids {
		if !allowed[name] {
			delete(d.Mids, mid)
		}
	}
	for i, name := range d.MLines {
		if !allowed[name] {
			d.MLines[i] = ""
		}
	}
}

func parseGroup(value string) (jingle.Group, bool) {
	m := reGroup.FindStringSubmatch(value)
	if m == nil {
		return jingle.Group{}, false
	}
	return jingle.Group{Semantics: m[1], Contents: strings.Fields(m[2])}, true
}

func parseFmtp(value string) []jingle.Parameter {
	var params []jingle.Parameter
	for _, part := range strings.Split(value, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if k, v, ok := strings.Cut(part, "="); ok {
			params = append(params, jingle.Parameter{Name: strings.TrimSpace(k), Value: strings.TrimSpace(v)})
		} else {
			params = append(params, jingle.Parameter{Value: part})
		}
	}
	return params
}

func encryption(desc *jingle.Description) *jingle.Encryption {
	if desc.Encryption == nil {
		desc.Encryption = &jingle.Encryption{}
	}
	return desc.Encryption
}

// sdpKeys типы строк которые понимает разборщик, прочие строки отбрасываются
const sdpKeys = "vosiuepcbtrzkam"

// normalize приводит переводы строк к CRLF, убирает пустые строки и строки
// с неизвестным типом и гарантирует завершающий перевод строки
func normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(strings.TrimSpace(text), "\n")
	kept := lines[:0]
	for _, line := range lines {
		line = strings.TrimRight(line, " \t\r")
		if len(line) < 2 || line[1] != '=' || !strings.ContainsRune(sdpKeys, rune(line[0])) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\r\n") + "\r\n"
}

// resolver назначает имена контентам по типу медиа
type resolver struct {
	known jingle.Contents
	used  map[string]bool
}

func newResolver(known jingle.Contents) *resolver {
	return &resolver{known: known, used: make(map[string]bool)}
}

func (r *resolver) resolve(media jingle.Media) string {
	for _, c := range r.known {
		if c.Description.Media == media && !r.used[c.Name] {
			r.used[c.Name] = true
			return c.Name
		}
	}
	name := string(media)
	for i := 1; r.used[name]; i++ {
		name = string(media) + strconv.Itoa(i)
	}
	r.used[name] = true
	return name
}
