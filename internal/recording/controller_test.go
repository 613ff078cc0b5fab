package recording

import (
	"strings"
	"testing"

	"github.com/meshcall/core/internal/sfu"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTriggerPolicy(t *testing.T) {
	tests := []struct {
		name           string
		ongoing        bool
		producingPeers int
		want           bool
	}{
		{"one producing peer does not start", false, 1, false},
		{"two producing peers start", false, 2, true},
		{"three producing peers start", false, 3, true},
		{"already recording never restarts", true, 5, false},
		{"empty room does not start", false, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, shouldStart(tt.ongoing, tt.producingPeers))
		})
	}
}

func TestStopPolicy(t *testing.T) {
	assert.False(t, shouldStop(true, 2), "two peers keep recording")
	assert.True(t, shouldStop(true, 1), "one peer left stops")
	assert.True(t, shouldStop(true, 0), "empty room stops")
	assert.False(t, shouldStop(false, 0), "nothing to stop without a recording")
}

func TestBuildFilterGraph_SingleAudio(t *testing.T) {
	graph := buildFilterGraph(1, 0, false)
	assert.Equal(t, "[0:a]acopy[aout]", graph)
}

func TestBuildFilterGraph_MixAndStack(t *testing.T) {
	graph := buildFilterGraph(2, 2, true)
	assert.Contains(t, graph, "amix=inputs=2")
	assert.Contains(t, graph, "duration=longest[aout]")
	// Video inputs sit after the two audio inputs.
	assert.Contains(t, graph, "[2:v][3:v]hstack=inputs=2[vout]")
}

func TestBuildFilterGraph_SingleVideo(t *testing.T) {
	graph := buildFilterGraph(2, 1, true)
	assert.Contains(t, graph, "[2:v]copy[vout]")
	assert.NotContains(t, graph, "hstack")
}

func TestBuildMuxerArgs_AudioOnlyMP3(t *testing.T) {
	args := buildMuxerArgs([]string{"a0.sdp", "a1.sdp"}, nil, false, "out/rec.mp3")
	joined := strings.Join(args, " ")

	assert.Equal(t, "-y", args[0])
	assert.Contains(t, joined, "-protocol_whitelist file,udp,rtp")
	assert.Contains(t, joined, "-fflags +genpts+discardcorrupt")
	assert.Contains(t, joined, "-i a0.sdp -i a1.sdp")
	assert.Contains(t, joined, "amix=inputs=2")
	assert.Contains(t, joined, "-c:a libmp3lame -b:a 192k")
	assert.NotContains(t, joined, "libx264")
	assert.Equal(t, "out/rec.mp3", args[len(args)-1])
}

func TestBuildMuxerArgs_VideoMP4(t *testing.T) {
	args := buildMuxerArgs([]string{"a0.sdp", "a1.sdp"}, []string{"v0.sdp", "v1.sdp"}, true, "out/rec.mp4")
	joined := strings.Join(args, " ")

	assert.Contains(t, joined, "hstack=inputs=2[vout]")
	assert.Contains(t, joined, "amix=inputs=2")
	assert.Contains(t, joined, "-map [aout]")
	assert.Contains(t, joined, "-map [vout]")
	assert.Contains(t, joined, "-c:v libx264 -preset fast -crf 23")
	assert.Contains(t, joined, "-c:a aac -b:a 192k")
	assert.Equal(t, "out/rec.mp4", args[len(args)-1])

	// Audio SDP inputs come before video ones.
	audioIdx := strings.Index(joined, "a0.sdp")
	videoIdx := strings.Index(joined, "v0.sdp")
	assert.Less(t, audioIdx, videoIdx)
}

func TestBuildTapSDP_Opus(t *testing.T) {
	codec := sfu.RTPCodecParameters{MimeType: webrtc.MimeTypeOpus, PayloadType: 111, ClockRate: 48000, Channels: 2}
	raw, err := buildTapSDP(sfu.KindAudio, codec, 21000)
	require.NoError(t, err)

	text := string(raw)
	assert.Contains(t, text, "m=audio 21000 RTP/AVP 111")
	assert.Contains(t, text, "a=rtpmap:111 opus/48000/2")
	assert.Contains(t, text, "c=IN IP4 127.0.0.1")
}

func TestBuildTapSDP_VP8(t *testing.T) {
	codec := sfu.RTPCodecParameters{MimeType: webrtc.MimeTypeVP8, PayloadType: 96, ClockRate: 90000}
	raw, err := buildTapSDP(sfu.KindVideo, codec, 22000)
	require.NoError(t, err)

	text := string(raw)
	assert.Contains(t, text, "m=video 22000 RTP/AVP 96")
	assert.Contains(t, text, "a=rtpmap:96 VP8/90000")
	// No channel suffix on video rtpmaps.
	assert.NotContains(t, text, "VP8/90000/")
}

func TestBuildTapSDP_RejectsUnknownMime(t *testing.T) {
	_, err := buildTapSDP(sfu.KindAudio, sfu.RTPCodecParameters{MimeType: "garbage"}, 20000)
	assert.Error(t, err)
}

func TestEncodingName(t *testing.T) {
	assert.Equal(t, "opus", encodingName("audio/opus"))
	assert.Equal(t, "H264", encodingName("video/H264"))
	assert.Equal(t, "", encodingName("noslash"))
	assert.Equal(t, "", encodingName("audio/"))
}
