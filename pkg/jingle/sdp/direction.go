package sdp

import "github.com/arzzra/jingle/pkg/jingle"

// sendersFromDirection переводит атрибут направления с точки зрения владельца SDP
func sendersFromDirection(dir string, owner jingle.Creator) jingle.Senders {
	switch dir {
	case "sendonly":
		return jingle.Senders(owner)
	case "recvonly":
		return jingle.Senders(owner.Opposite())
	case "inactive":
		return jingle.SendersNone
	}
	return jingle.SendersBoth
}

// directionFromSenders обратное преобразование
func directionFromSenders(s jingle.Senders, owner jingle.Creator) string {
	switch s {
	case jingle.SendersNone:
		return "inactive"
	case jingle.Senders(owner):
		return "sendonly"
	case jingle.Senders(owner.Opposite()):
		return "recvonly"
	}
	return "sendrecv"
}
