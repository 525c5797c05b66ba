// Package stanza отображает модель контентов Jingle в XML элементы и обратно.
package stanza

import (
	"encoding/xml"

	"github.com/arzzra/jingle/pkg/jingle"
)

// Jingle корневой элемент <jingle xmlns="urn:xmpp:jingle:1"/>
type Jingle struct {
	XMLName   xml.Name         `xml:"urn:xmpp:jingle:1 jingle"`
	Action    jingle.Action    `xml:"action,attr"`
	Initiator string           `xml:"initiator,attr,omitempty"`
	Responder string           `xml:"responder,attr,omitempty"`
	SID       string           `xml:"sid,attr"`
	Contents  []ContentElement `xml:"content"`
	Groups    []GroupElement   `xml:"urn:xmpp:jingle:apps:grouping:0 group"`
	Reason    *ReasonElement   `xml:"reason"`
	Muji      *MujiMarker      `xml:"urn:xmpp:muji:0 muji"`

	// Полезная нагрузка session-info (urn:xmpp:jingle:apps:rtp:info:1)
	Info []InfoElement `xml:",any"`
}

// ContentElement элемент <content/>
type ContentElement struct {
	Creator     jingle.Creator      `xml:"creator,attr,omitempty"`
	Name        string              `xml:"name,attr,omitempty"`
	Senders     jingle.Senders      `xml:"senders,attr,omitempty"`
	Description *DescriptionElement `xml:"urn:xmpp:jingle:apps:rtp:1 description"`
	Transport   *TransportElement   `xml:"transport"`
}

// DescriptionElement описание RTP приложения (XEP-0167)
type DescriptionElement struct {
	Media        jingle.Media             `xml:"media,attr"`
	SSRC         string                   `xml:"ssrc,attr,omitempty"`
	Payloads     []PayloadElement         `xml:"payload-type"`
	Encryption   *EncryptionElement       `xml:"encryption"`
	Bandwidth    []BandwidthElement       `xml:"bandwidth"`
	RTCPMux      *struct{}                `xml:"rtcp-mux"`
	HeaderExts   []HeaderExtensionElement `xml:"urn:xmpp:jingle:apps:rtp:rtp-hdrext:0 rtp-hdrext"`
	Sources      []SourceElement          `xml:"urn:xmpp:jingle:apps:rtp:ssma:0 source"`
	SourceGroups []SourceGroupElement     `xml:"urn:xmpp:jingle:apps:rtp:ssma:0 ssrc-group"`
	RTCPFeedback []RTCPFeedbackElement    `xml:"urn:xmpp:jingle:apps:rtp:rtcp-fb:0 rtcp-fb"`
	TrrInt       []TrrIntElement          `xml:"urn:xmpp:jingle:apps:rtp:rtcp-fb:0 rtcp-fb-trr-int"`
}

// PayloadElement элемент <payload-type/>
type PayloadElement struct {
	ID           string                `xml:"id,attr"`
	Name         string                `xml:"name,attr,omitempty"`
	ClockRate    string                `xml:"clockrate,attr,omitempty"`
	Channels     string                `xml:"channels,attr,omitempty"`
	Ptime        string                `xml:"ptime,attr,omitempty"`
	Maxptime     string                `xml:"maxptime,attr,omitempty"`
	Parameters   []ParameterElement    `xml:"parameter"`
	RTCPFeedback []RTCPFeedbackElement `xml:"urn:xmpp:jingle:apps:rtp:rtcp-fb:0 rtcp-fb"`
	TrrInt       []TrrIntElement       `xml:"urn:xmpp:jingle:apps:rtp:rtcp-fb:0 rtcp-fb-trr-int"`
}

// ParameterElement элемент <parameter name="" value=""/>
type ParameterElement struct {
	Name  string `xml:"name,attr,omitempty"`
	Value string `xml:"value,attr"`
}

// RTCPFeedbackElement элемент <rtcp-fb/> (XEP-0293)
type RTCPFeedbackElement struct {
	Type    string `xml:"type,attr"`
	Subtype string `xml:"subtype,attr,omitempty"`
}

// TrrIntElement элемент <rtcp-fb-trr-int/>
type TrrIntElement struct {
	Value string `xml:"value,attr"`
}

// EncryptionElement элемент <encryption/> (XEP-0167 §7)
type EncryptionElement struct {
	Required string            `xml:"required,attr,omitempty"`
	Crypto   []CryptoElement   `xml:"crypto"`
	ZRTPHash []ZRTPHashElement `xml:"urn:xmpp:jingle:apps:rtp:zrtp:1 zrtp-hash"`
}

// CryptoElement элемент <crypto/>
type CryptoElement struct {
	CryptoSuite   string `xml:"crypto-suite,attr"`
	KeyParams     string `xml:"key-params,attr"`
	SessionParams string `xml:"session-params,attr,omitempty"`
	Tag           string `xml:"tag,attr"`
}

// ZRTPHashElement элемент <zrtp-hash/> (XEP-0262)
type ZRTPHashElement struct {
	Version string `xml:"version,attr"`
	Value   string `xml:",chardata"`
}

// BandwidthElement элемент <bandwidth type="AS">128</bandwidth>
type BandwidthElement struct {
	Type  string `xml:"type,attr"`
	Value string `xml:",chardata"`
}

// HeaderExtensionElement элемент <rtp-hdrext/> (XEP-0294)
type HeaderExtensionElement struct {
	ID      string         `xml:"id,attr"`
	URI     string         `xml:"uri,attr"`
	Senders jingle.Senders `xml:"senders,attr,omitempty"`
}

// SourceElement элемент <source/> (XEP-0339)
type SourceElement struct {
	SSRC       string             `xml:"ssrc,attr"`
	Parameters []ParameterElement `xml:"parameter"`
}

// SourceGroupElement элемент <ssrc-group/>
type SourceGroupElement struct {
	Semantics string          `xml:"semantics,attr"`
	Sources   []SourceElement `xml:"source"`
}

// TransportElement транспорт ICE-UDP или RAW-UDP. Пространство имен элемента
// задается значением XMLName.
type TransportElement struct {
	XMLName     xml.Name
	Ufrag       string              `xml:"ufrag,attr,omitempty"`
	Pwd         string              `xml:"pwd,attr,omitempty"`
	Fingerprint *FingerprintElement `xml:"urn:xmpp:jingle:apps:dtls:0 fingerprint"`
	Candidates  []CandidateElement  `xml:"candidate"`
}

// FingerprintElement элемент <fingerprint/> (XEP-0320)
type FingerprintElement struct {
	Hash  string `xml:"hash,attr"`
	Setup string `xml:"setup,attr,omitempty"`
	Value string `xml:",chardata"`
}

// CandidateElement элемент <candidate/>. Числовые атрибуты хранятся строками:
// разбор допускает отсутствие любого необязательного атрибута.
type CandidateElement struct {
	Component  string `xml:"component,attr"`
	Foundation string `xml:"foundation,attr,omitempty"`
	Generation string `xml:"generation,attr"`
	ID         string `xml:"id,attr"`
	IP         string `xml:"ip,attr"`
	Network    string `xml:"network,attr,omitempty"`
	Port       string `xml:"port,attr"`
	Priority   string `xml:"priority,attr,omitempty"`
	Protocol   string `xml:"protocol,attr,omitempty"`
	Type       string `xml:"type,attr"`
	RelAddr    string `xml:"rel-addr,attr,omitempty"`
	RelPort    string `xml:"rel-port,attr,omitempty"`
}

// GroupElement элемент <group/> (XEP-0338)
type GroupElement struct {
	Semantics string            `xml:"semantics,attr"`
	Contents  []GroupContentRef `xml:"content"`
}

// GroupContentRef ссылка на контент внутри группы
type GroupContentRef struct {
	Name string `xml:"name,attr"`
}

// ReasonElement элемент <reason/>
type ReasonElement struct {
	Condition ReasonCondition `xml:",any"`
	Text      string          `xml:"text,omitempty"`
}

// ReasonCondition дочерний элемент причины (<busy/>, <success/> ...)
type ReasonCondition struct {
	XMLName xml.Name
}

// InfoElement полезная нагрузка session-info
type InfoElement struct {
	XMLName xml.Name
	Creator jingle.Creator `xml:"creator,attr,omitempty"`
	Name    string         `xml:"name,attr,omitempty"`
}

// MujiMarker отмечает сессию как часть Muji конференции
type MujiMarker struct {
	Room string `xml:"room,attr,omitempty"`
}
