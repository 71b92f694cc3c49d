package utils

import (
	"testing"

	"github.com/google/uuid"
)

func TestGenerateSessionID(t *testing.T) {
	id1 := GenerateSessionID()
	id2 := GenerateSessionID()
	if id1 == id2 {
		t.Error("expected unique session ids")
	}
	if _, err := uuid.Parse(id1); err != nil {
		t.Errorf("expected uuid, got %q: %v", id1, err)
	}
}

func TestGenerateTrackKey(t *testing.T) {
	if got := GenerateTrackKey("video", 1234); got != "video_1234" {
		t.Errorf("GenerateTrackKey() = %q", got)
	}
}

func TestTruncateString(t *testing.T) {
	tests := []struct {
		input  string
		maxLen int
		want   string
	}{
		{"short", 10, "short"},
		{"v=0\r\no=- 4611 2 IN IP4", 10, "v=0\r\no=..."},
		{"abcdef", 3, "abc"},
	}

	for _, tt := range tests {
		if got := TruncateString(tt.input, tt.maxLen); got != tt.want {
			t.Errorf("TruncateString(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.want)
		}
	}
}

func TestMaskSensitive(t *testing.T) {
	tests := []struct {
		input   string
		visible int
		want    string
	}{
		{"eyJhbGciOi", 4, "eyJh******"},
		{"abc", 4, "***"},
	}

	for _, tt := range tests {
		if got := MaskSensitive(tt.input, tt.visible); got != tt.want {
			t.Errorf("MaskSensitive(%q, %d) = %q, want %q", tt.input, tt.visible, got, tt.want)
		}
	}
}
