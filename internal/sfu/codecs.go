package sfu

import "github.com/pion/webrtc/v3"

// registerCodecs installs the fixed codec set: Opus 48kHz stereo,
// VP8, and H.264 baseline — on a fresh MediaEngine. Every router in the
// process shares this set; there is no per-room codec negotiation.
func registerCodecs(m *webrtc.MediaEngine) error {
	opus := webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2, SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		PayloadType: 111,
	}
	if err := m.RegisterCodec(opus, webrtc.RTPCodecTypeAudio); err != nil {
		return err
	}

	vp8 := webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		PayloadType:        96,
	}
	if err := m.RegisterCodec(vp8, webrtc.RTPCodecTypeVideo); err != nil {
		return err
	}

	h264 := webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType: webrtc.MimeTypeH264, ClockRate: 90000,
			SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
		},
		PayloadType: 102,
	}
	return m.RegisterCodec(h264, webrtc.RTPCodecTypeVideo)
}

// RTPCapabilities is the wire shape returned by join_media_room and consulted
// before every consume — a simplified stand-in for mediasoup's capability
// negotiation object.
type RTPCapabilities struct {
	Codecs []CodecCapability `json:"codecs"`
}

type CodecCapability struct {
	Kind        string `json:"kind"`
	MimeType    string `json:"mimeType"`
	ClockRate   uint32 `json:"clockRate"`
	Channels    uint16 `json:"channels,omitempty"`
	PayloadType uint8  `json:"preferredPayloadType"`
}

func routerCapabilities() RTPCapabilities {
	return RTPCapabilities{Codecs: []CodecCapability{
		{Kind: "audio", MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2, PayloadType: 111},
		{Kind: "video", MimeType: webrtc.MimeTypeVP8, ClockRate: 90000, PayloadType: 96},
		{Kind: "video", MimeType: webrtc.MimeTypeH264, ClockRate: 90000, PayloadType: 102},
	}}
}

// CanConsume reports whether caps include the kind the producer is sending,
// standing in for mediasoup's router.canConsume() capability check.
func (c RTPCapabilities) CanConsume(kind string) bool {
	for _, codec := range c.Codecs {
		if codec.Kind == kind {
			return true
		}
	}
	return false
}
