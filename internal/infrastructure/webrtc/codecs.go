package webrtc

import (
	"fmt"
	"strings"

	"github.com/pion/webrtc/v3"
)

type codecSpec struct {
	params webrtc.RTPCodecParameters
	kind   webrtc.RTPCodecType
}

var videoFeedback = []webrtc.RTCPFeedback{
	{Type: "goog-remb"},
	{Type: "ccm", Parameter: "fir"},
	{Type: "nack"},
	{Type: "nack", Parameter: "pli"},
	{Type: "transport-cc"},
}

// knownCodecs maps the lower-case codec name used in preferences to its
// registration. Payload types follow the usual browser numbering.
var knownCodecs = map[string]codecSpec{
	"opus": {
		kind: webrtc.RTPCodecTypeAudio,
		params: webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2,
				SDPFmtpLine: "minptime=10;useinbandfec=1",
			},
			PayloadType: 111,
		},
	},
	"pcmu": {
		kind: webrtc.RTPCodecTypeAudio,
		params: webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: 8000, Channels: 1},
			PayloadType:        0,
		},
	},
	"pcma": {
		kind: webrtc.RTPCodecTypeAudio,
		params: webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMA, ClockRate: 8000, Channels: 1},
			PayloadType:        8,
		},
	},
	"vp8": {
		kind: webrtc.RTPCodecTypeVideo,
		params: webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000, RTCPFeedback: videoFeedback},
			PayloadType:        96,
		},
	},
	"vp9": {
		kind: webrtc.RTPCodecTypeVideo,
		params: webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType: webrtc.MimeTypeVP9, ClockRate: 90000,
				SDPFmtpLine: "profile-id=0", RTCPFeedback: videoFeedback,
			},
			PayloadType: 98,
		},
	},
	"h264": {
		kind: webrtc.RTPCodecTypeVideo,
		params: webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType: webrtc.MimeTypeH264, ClockRate: 90000,
				SDPFmtpLine:  "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
				RTCPFeedback: videoFeedback,
			},
			PayloadType: 102,
		},
	},
	"av1": {
		kind: webrtc.RTPCodecTypeVideo,
		params: webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeAV1, ClockRate: 90000, RTCPFeedback: videoFeedback},
			PayloadType:        45,
		},
	},
}

// registerCodecs adds the preferred codecs to m in preference order, which
// is the order pion lists them in the offer. It returns how many audio and
// video codecs were registered.
func registerCodecs(m *webrtc.MediaEngine, videoCodecs, audioCodecs []string) (audio, video int, err error) {
	for _, names := range [][]string{audioCodecs, videoCodecs} {
		for _, name := range names {
			spec, ok := knownCodecs[strings.ToLower(name)]
			if !ok {
				return 0, 0, fmt.Errorf("unsupported codec %q", name)
			}
			if err := m.RegisterCodec(spec.params, spec.kind); err != nil {
				return 0, 0, fmt.Errorf("register %s: %w", name, err)
			}
			if spec.kind == webrtc.RTPCodecTypeAudio {
				audio++
			} else {
				video++
			}
		}
	}
	return audio, video, nil
}

// codecNameFromRtpmap extracts "opus" from "opus/48000/2".
func codecNameFromRtpmap(encoding string) string {
	if i := strings.IndexByte(encoding, '/'); i >= 0 {
		encoding = encoding[:i]
	}
	return strings.ToLower(encoding)
}
