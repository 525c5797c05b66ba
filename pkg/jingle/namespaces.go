package jingle

// Пространства имен XMPP используемые Jingle
const (
	NSJingle       = "urn:xmpp:jingle:1"
	NSJingleErrors = "urn:xmpp:jingle:errors:1"
	NSRTP          = "urn:xmpp:jingle:apps:rtp:1"
	NSRTPInfo      = "urn:xmpp:jingle:apps:rtp:info:1"
	NSRTPFeedback  = "urn:xmpp:jingle:apps:rtp:rtcp-fb:0"
	NSRTPHeaderExt = "urn:xmpp:jingle:apps:rtp:rtp-hdrext:0"
	NSRTPSSMA      = "urn:xmpp:jingle:apps:rtp:ssma:0"
	NSRTPZRTP      = "urn:xmpp:jingle:apps:rtp:zrtp:1"
	NSGrouping     = "urn:xmpp:jingle:apps:grouping:0"
	NSDTLS         = "urn:xmpp:jingle:apps:dtls:0"
	NSICEUDP       = "urn:xmpp:jingle:transports:ice-udp:1"
	NSRawUDP       = "urn:xmpp:jingle:transports:raw-udp:1"
	NSMuji         = "urn:xmpp:muji:0"
	NSMUC          = "http://jabber.org/protocol/muc"
	NSMUCUser      = "http://jabber.org/protocol/muc#user"
	NSStanzas      = "urn:ietf:params:xml:ns:xmpp-stanzas"
	NSExtDisco     = "urn:xmpp:extdisco:2"
)
