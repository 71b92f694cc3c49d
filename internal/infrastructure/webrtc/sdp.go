package webrtc

import (
	"strings"

	"rillview/internal/core/domain"
	apperrors "rillview/pkg/errors"

	"github.com/pion/sdp/v3"
)

// static payload types that may appear without an rtpmap line
var staticPayloadTypes = map[string]string{
	"0": "pcmu",
	"8": "pcma",
}

// MungeOffer rewrites an offer to carry the caller's preferences: payload
// types are ordered by codec preference, opus is marked stereo when asked
// and video sections get a b=AS ceiling.
func MungeOffer(offer string, prefs domain.Preferences) (string, error) {
	var sd sdp.SessionDescription
	if err := sd.Unmarshal([]byte(offer)); err != nil {
		return "", apperrors.NewNegotiationError("local offer does not parse", err)
	}

	for _, md := range sd.MediaDescriptions {
		codecs := payloadCodecs(md)

		switch md.MediaName.Media {
		case "audio":
			md.MediaName.Formats = reorderFormats(md.MediaName.Formats, codecs, prefs.AudioCodecs)
			if prefs.Stereo {
				setOpusStereo(md, codecs)
			}
		case "video":
			md.MediaName.Formats = reorderFormats(md.MediaName.Formats, codecs, prefs.VideoCodecs)
			if prefs.BandwidthCeilingKbps > 0 {
				setBandwidthCeiling(md, prefs.BandwidthCeilingKbps)
			}
		}
	}

	out, err := sd.Marshal()
	if err != nil {
		return "", apperrors.NewNegotiationError("munged offer does not serialize", err)
	}
	return string(out), nil
}

// ValidateAnswer checks that an answer parses, has at least one active
// audio or video section and that every active section can be decoded with
// one of the preferred codecs.
func ValidateAnswer(answer string, prefs domain.Preferences) error {
	if strings.TrimSpace(answer) == "" {
		return apperrors.NewNegotiationError("empty answer", nil)
	}

	var sd sdp.SessionDescription
	if err := sd.Unmarshal([]byte(answer)); err != nil {
		return apperrors.NewNegotiationError("answer does not parse", err)
	}

	active := 0
	for _, md := range sd.MediaDescriptions {
		var preferred []string
		switch md.MediaName.Media {
		case "audio":
			preferred = prefs.AudioCodecs
		case "video":
			preferred = prefs.VideoCodecs
		default:
			continue
		}
		if !sectionActive(md) {
			continue
		}
		active++

		if len(preferred) == 0 {
			continue
		}
		if !hasPreferredCodec(md, preferred) {
			return apperrors.NewNegotiationError("answer selected no preferred "+md.MediaName.Media+" codec", nil).
				WithContext("formats", strings.Join(md.MediaName.Formats, " "))
		}
	}

	if active == 0 {
		return apperrors.NewNegotiationError("answer has no active media", nil)
	}
	return nil
}

func sectionActive(md *sdp.MediaDescription) bool {
	if md.MediaName.Port.Value == 0 {
		return false
	}
	_, inactive := md.Attribute("inactive")
	return !inactive
}

func hasPreferredCodec(md *sdp.MediaDescription, preferred []string) bool {
	codecs := payloadCodecs(md)
	for _, pt := range md.MediaName.Formats {
		name := codecs[pt]
		for _, p := range preferred {
			if strings.EqualFold(name, p) {
				return true
			}
		}
	}
	return false
}

// payloadCodecs maps payload type to lower-case codec name.
func payloadCodecs(md *sdp.MediaDescription) map[string]string {
	codecs := make(map[string]string, len(md.MediaName.Formats))
	for _, pt := range md.MediaName.Formats {
		if name, ok := staticPayloadTypes[pt]; ok {
			codecs[pt] = name
		}
	}
	for _, attr := range md.Attributes {
		if attr.Key != "rtpmap" {
			continue
		}
		pt, encoding, ok := strings.Cut(attr.Value, " ")
		if !ok {
			continue
		}
		codecs[pt] = codecNameFromRtpmap(encoding)
	}
	return codecs
}

// reorderFormats moves preferred codecs to the front in preference order.
// Everything else keeps its relative position behind them.
func reorderFormats(formats []string, codecs map[string]string, order []string) []string {
	if len(order) == 0 {
		return formats
	}

	out := make([]string, 0, len(formats))
	used := make(map[string]bool, len(formats))
	for _, want := range order {
		for _, pt := range formats {
			if !used[pt] && strings.EqualFold(codecs[pt], want) {
				out = append(out, pt)
				used[pt] = true
			}
		}
	}
	for _, pt := range formats {
		if !used[pt] {
			out = append(out, pt)
		}
	}
	return out
}

func setOpusStereo(md *sdp.MediaDescription, codecs map[string]string) {
	for pt, name := range codecs {
		if name != "opus" {
			continue
		}

		found := false
		for i, attr := range md.Attributes {
			if attr.Key != "fmtp" || !strings.HasPrefix(attr.Value, pt+" ") {
				continue
			}
			found = true
			if !strings.Contains(attr.Value, "stereo=1") {
				md.Attributes[i].Value = attr.Value + ";stereo=1;sprop-stereo=1"
			}
		}
		if !found {
			md.Attributes = append(md.Attributes, sdp.NewAttribute("fmtp", pt+" stereo=1;sprop-stereo=1"))
		}
	}
}

func setBandwidthCeiling(md *sdp.MediaDescription, kbps int) {
	kept := md.Bandwidth[:0]
	for _, bw := range md.Bandwidth {
		if bw.Type != "AS" {
			kept = append(kept, bw)
		}
	}
	md.Bandwidth = append(kept, sdp.Bandwidth{Type: "AS", Bandwidth: uint64(kbps)})
}
