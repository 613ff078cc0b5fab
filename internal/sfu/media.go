package sfu

import (
	"github.com/pion/webrtc/v3"
)

type MediaKind string

const (
	KindAudio MediaKind = "audio"
	KindVideo MediaKind = "video"
)

func (k MediaKind) codecType() webrtc.RTPCodecType {
	if k == KindVideo {
		return webrtc.RTPCodecTypeVideo
	}
	return webrtc.RTPCodecTypeAudio
}

// RTPCodecParameters is the codec half of a client's produce request.
type RTPCodecParameters struct {
	MimeType    string `json:"mimeType"`
	PayloadType uint8  `json:"payloadType"`
	ClockRate   uint32 `json:"clockRate"`
	Channels    uint16 `json:"channels,omitempty"`
	Parameters  string `json:"parameters,omitempty"`
}

// RTPEncodingParameters carries the SSRC the client will stamp on its
// packets; the receiver is bound to it.
type RTPEncodingParameters struct {
	SSRC uint32 `json:"ssrc"`
}

// RTPParameters is the produce payload: what the client sends and how.
type RTPParameters struct {
	MID       string                  `json:"mid,omitempty"`
	Codecs    []RTPCodecParameters    `json:"codecs"`
	Encodings []RTPEncodingParameters `json:"encodings"`
}

func (p RTPParameters) primarySSRC() uint32 {
	if len(p.Encodings) > 0 {
		return p.Encodings[0].SSRC
	}
	return 0
}

func (p RTPParameters) primaryCodec() RTPCodecParameters {
	if len(p.Codecs) > 0 {
		return p.Codecs[0]
	}
	return RTPCodecParameters{}
}

// TransportDescriptor is the create_transport ack: everything the client
// needs to ICE/DTLS into the transport.
type TransportDescriptor struct {
	ID             string                `json:"id"`
	ICEParameters  webrtc.ICEParameters  `json:"iceParameters"`
	ICECandidates  []webrtc.ICECandidate `json:"iceCandidates"`
	DTLSParameters webrtc.DTLSParameters `json:"dtlsParameters"`
}

// ConnectParameters is the client half of connect_transport: its DTLS role
// and fingerprints, plus its ICE credentials so the server-side transport
// can pair with it.
type ConnectParameters struct {
	DTLSParameters webrtc.DTLSParameters `json:"dtlsParameters"`
	ICEParameters  webrtc.ICEParameters  `json:"iceParameters"`
}

// ConsumerDescriptor is the consume ack. The consumer starts paused; the
// client calls resume_consumer when it is ready to render.
type ConsumerDescriptor struct {
	ID            string        `json:"id"`
	ProducerID    string        `json:"producerId"`
	Kind          MediaKind     `json:"kind"`
	RTPParameters RTPParameters `json:"rtpParameters"`
	Paused        bool          `json:"paused"`
}

// ProducerInfo annotates a producer for discovery by late joiners.
type ProducerInfo struct {
	ProducerID string    `json:"producerId"`
	PeerID     string    `json:"peerId"`
	Username   string    `json:"username"`
	Kind       MediaKind `json:"kind"`
}
