package pipeline

// IsKeyframe reports whether an assembled frame can be decoded without
// reference to earlier frames. Unknown codecs are treated as keyframes so
// keyframe waits never stall them.
func IsKeyframe(codec string, frame []byte) bool {
	if len(frame) == 0 {
		return false
	}

	switch codec {
	case "vp8":
		// frame tag bit 0 is the inverse key frame flag
		return frame[0]&0x01 == 0
	case "vp9":
		return vp9Keyframe(frame)
	case "h264":
		return h264Keyframe(frame)
	}
	return true
}

// vp9Keyframe reads the uncompressed header: frame marker, profile,
// show_existing_frame and frame_type.
func vp9Keyframe(frame []byte) bool {
	b := frame[0]
	if b>>6 != 0x2 {
		return false
	}
	profile := (b>>5)&0x1 | ((b>>4)&0x1)<<1
	// bit index counted from the most significant bit
	bit := 4
	if profile == 3 {
		// reserved zero bit
		bit++
	}
	if (b>>(7-bit))&0x1 == 1 {
		// show_existing_frame
		return false
	}
	bit++
	return (b>>(7-bit))&0x1 == 0
}

// h264Keyframe scans an Annex B access unit for an IDR slice.
func h264Keyframe(frame []byte) bool {
	for i := 0; i+3 < len(frame); i++ {
		if frame[i] != 0 || frame[i+1] != 0 {
			continue
		}
		start := -1
		if frame[i+2] == 1 {
			start = i + 3
		} else if frame[i+2] == 0 && frame[i+3] == 1 && i+4 < len(frame) {
			start = i + 4
		}
		if start < 0 || start >= len(frame) {
			continue
		}
		if frame[start]&0x1F == 5 {
			return true
		}
		i = start - 1
	}
	return false
}
