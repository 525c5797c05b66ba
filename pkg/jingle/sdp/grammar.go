package sdp

import "regexp"

// Грамматики значений атрибутов a=<key>:<value>. Каждая строка сопоставляется
// ровно с одной грамматикой по ключу атрибута; несовпавшие строки отбрасываются.
var (
	reRTPMap       = regexp.MustCompile(`^(\d+) ([^/\s]+)/(\d+)(?:/(\d+))?$`)
	reFmtp         = regexp.MustCompile(`^(\d+) (.+)$`)
	reRTCPFb       = regexp.MustCompile(`^(\*|\d+) (\S+)(?: (\S+))?$`)
	reRTCPFbTrrInt = regexp.MustCompile(`^(\*|\d+) trr-int (\d+)$`)
	reCrypto       = regexp.MustCompile(`^(\d+) (\S+) (\S+)(?: (.+))?$`)
	reZRTPHash     = regexp.MustCompile(`^(\S+) (\S+)$`)
	rePtime        = regexp.MustCompile(`^(\d+)$`)
	reSSRC         = regexp.MustCompile(`^(\d+)(?: ([^:\s]+)(?::(.*))?)?$`)
	reSSRCGroup    = regexp.MustCompile(`^(\S+)((?: \d+)+)$`)
	reExtMap       = regexp.MustCompile(`^(\d+)(?:/(sendrecv|sendonly|recvonly|inactive))? (\S+)(?: .*)?$`)
	reFingerprint  = regexp.MustCompile(`^(\S+) ([0-9A-Fa-f:]+)$`)
	reSetup        = regexp.MustCompile(`^(actpass|active|passive|holdconn)$`)
	reToken        = regexp.MustCompile(`^(\S+)$`)
	reGroup        = regexp.MustCompile(`^(\S+)((?: \S+)*)$`)
	reCandidate    = regexp.MustCompile(`^(?:a=)?candidate:(\S+) (\d+) (\S+) (\d+) (\S+) (\d+) typ (\S+)((?: \S+ \S+)*)\s*$`)
)

// Ключи атрибутов
const (
	attrRTPMap      = "rtpmap"
	attrFmtp        = "fmtp"
	attrRTCPFb      = "rtcp-fb"
	attrCrypto      = "crypto"
	attrZRTPHash    = "zrtp-hash"
	attrPtime       = "ptime"
	attrMaxptime    = "maxptime"
	attrSSRC        = "ssrc"
	attrSSRCGroup   = "ssrc-group"
	attrRTCPMux     = "rtcp-mux"
	attrRTCP        = "rtcp"
	attrExtMap      = "extmap"
	attrFingerprint = "fingerprint"
	attrSetup       = "setup"
	attrICEUfrag    = "ice-ufrag"
	attrICEPwd      = "ice-pwd"
	attrCandidate   = "candidate"
	attrGroup       = "group"
	attrMid         = "mid"
)
