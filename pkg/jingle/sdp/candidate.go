package sdp

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/arzzra/jingle/pkg/jingle"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ErrInvalidCandidate строка не соответствует грамматике a=candidate
var ErrInvalidCandidate = errors.New("sdp: invalid candidate line")

// ParseCandidate разбирает строку кандидата (с префиксом "a=" или без).
// Кандидату без идентификатора назначается случайный id.
func ParseCandidate(line string) (jingle.Candidate, error) {
	line = strings.TrimSpace(line)
	m := reCandidate.FindStringSubmatch(line)
	if m == nil {
		return jingle.Candidate{}, errors.Wrapf(ErrInvalidCandidate, "%q", line)
	}

	component, _ := strconv.Atoi(m[2])
	priority, err := strconv.ParseUint(m[4], 10, 32)
	if err != nil {
		return jingle.Candidate{}, errors.Wrapf(ErrInvalidCandidate, "priority %q", m[4])
	}
	port, _ := strconv.Atoi(m[6])

	c := jingle.Candidate{
		Foundation: m[1],
		Component:  component,
		Protocol:   strings.ToLower(m[3]),
		Priority:   uint32(priority),
		IP:         m[5],
		Port:       port,
		Type:       m[7],
	}

	// Расширения "ключ значение"
	ext := strings.Fields(m[8])
	for i := 0; i+1 < len(ext); i += 2 {
		key, value := ext[i], ext[i+1]
		switch key {
		case "raddr":
			c.RelAddr = value
		case "rport":
			c.RelPort, _ = strconv.Atoi(value)
		case "generation":
			c.Generation, _ = strconv.Atoi(value)
		case "network-id":
			c.Network, _ = strconv.Atoi(value)
		}
	}

	c.ID = newCandidateID()
	return c, nil
}

// FormatCandidate формирует значение атрибута candidate (без префикса "a=")
func FormatCandidate(c jingle.Candidate) string {
	foundation := c.Foundation
	if foundation == "" {
		foundation = "1"
	}
	protocol := c.Protocol
	if protocol == "" {
		protocol = "udp"
	}
	component := c.Component
	if component == 0 {
		component = 1
	}

	var b strings.Builder
	fmt.Fprintf(&b, "candidate:%s %d %s %d %s %d typ %s",
		foundation, component, protocol, c.Priority, c.IP, c.Port, c.Type)
	if c.RelAddr != "" && c.RelPort != 0 {
		fmt.Fprintf(&b, " raddr %s rport %d", c.RelAddr, c.RelPort)
	}
	fmt.Fprintf(&b, " generation %d", c.Generation)
	if c.Network != 0 {
		fmt.Fprintf(&b, " network-id %d", c.Network)
	}
	return b.String()
}

func newCandidateID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
}
