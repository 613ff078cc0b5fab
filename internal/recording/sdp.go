package recording

import (
	"fmt"
	"strings"

	"github.com/meshcall/core/internal/sfu"
	"github.com/pion/sdp/v3"
)

// buildTapSDP describes a single RTP stream for the muxer: one media section
// on loopback at the tap's UDP port, announcing the producer's payload type
// and clock rate (and channel count for audio).
func buildTapSDP(kind sfu.MediaKind, codec sfu.RTPCodecParameters, port int) ([]byte, error) {
	encoding := encodingName(codec.MimeType)
	if encoding == "" {
		return nil, fmt.Errorf("sdp: unsupported mime type %q", codec.MimeType)
	}

	rtpmap := fmt.Sprintf("%d %s/%d", codec.PayloadType, encoding, codec.ClockRate)
	if kind == sfu.KindAudio && codec.Channels > 0 {
		rtpmap = fmt.Sprintf("%s/%d", rtpmap, codec.Channels)
	}

	desc := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      0,
			SessionVersion: 0,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: "127.0.0.1",
		},
		SessionName: "MeshcallTap",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: "127.0.0.1"},
		},
		TimeDescriptions: []sdp.TimeDescription{{Timing: sdp.Timing{StartTime: 0, StopTime: 0}}},
		MediaDescriptions: []*sdp.MediaDescription{{
			MediaName: sdp.MediaName{
				Media:   string(kind),
				Port:    sdp.RangedPort{Value: port},
				Protos:  []string{"RTP", "AVP"},
				Formats: []string{fmt.Sprintf("%d", codec.PayloadType)},
			},
			Attributes: []sdp.Attribute{
				{Key: "rtpmap", Value: rtpmap},
				{Key: "recvonly"},
			},
		}},
	}
	return desc.Marshal()
}

// encodingName strips the "audio/" / "video/" prefix off a mime type, which
// is what the rtpmap attribute wants.
func encodingName(mimeType string) string {
	idx := strings.IndexByte(mimeType, '/')
	if idx < 0 || idx == len(mimeType)-1 {
		return ""
	}
	return mimeType[idx+1:]
}
