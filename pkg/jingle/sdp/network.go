package sdp

import (
	"strings"

	"github.com/arzzra/jingle/pkg/jingle"
)

const (
	defaultAddress = "0.0.0.0"
	defaultPort    = 9
)

// network представительная сетевая информация для c=, m= и a=rtcp линий
type network struct {
	ip       string
	port     int
	rtcpIP   string
	rtcpPort int
}

func (n network) addressType() string {
	if strings.Contains(n.ip, ":") {
		return "IP6"
	}
	return "IP4"
}

// pickNetwork выбирает первый host (приватная сеть) и первый srflx (публичная)
// кандидат компонента RTP, предпочитая srflx
func pickNetwork(candidates []jingle.Candidate, rtcpMux bool) network {
	var private, public *jingle.Candidate
	for i := range candidates {
		c := &candidates[i]
		if c.Component > 1 {
			continue
		}
		switch c.Type {
		case jingle.CandidateHost:
			if private == nil {
				private = c
			}
		case jingle.CandidateSrflx:
			if public == nil {
				public = c
			}
		}
	}

	chosen := public
	if chosen == nil {
		chosen = private
	}
	if chosen == nil {
		return network{ip: defaultAddress, port: defaultPort, rtcpIP: defaultAddress, rtcpPort: defaultPort}
	}

	n := network{ip: chosen.IP, port: chosen.Port, rtcpIP: chosen.IP, rtcpPort: chosen.Port}
	if rtcpMux {
		return n
	}
	n.rtcpPort = chosen.Port + 1
	for _, c := range candidates {
		if c.Component == 2 && c.Type == chosen.Type {
			n.rtcpIP, n.rtcpPort = c.IP, c.Port
			break
		}
	}
	return n
}
