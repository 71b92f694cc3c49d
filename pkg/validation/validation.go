package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// AccountIDRegex validates account ID format
	AccountIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

	// EncodingIDRegex validates simulcast encoding ids ("0", "h", "mid")
	EncodingIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,16}$`)
)

var knownCodecs = map[string]bool{
	"opus": true,
	"pcmu": true,
	"pcma": true,
	"vp8":  true,
	"vp9":  true,
	"h264": true,
	"av1":  true,
}

// ValidateAccountID validates account ID
func ValidateAccountID(accountID string) error {
	if accountID == "" {
		return fmt.Errorf("account ID is required")
	}
	if len(accountID) > 100 {
		return fmt.Errorf("account ID is too long (max 100 characters)")
	}
	if !AccountIDRegex.MatchString(accountID) {
		return fmt.Errorf("invalid account ID format")
	}
	return nil
}

// ValidateStreamName validates stream name
func ValidateStreamName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("stream name is required")
	}
	if len(name) > 100 {
		return fmt.Errorf("stream name is too long (max 100 characters)")
	}
	// Check for valid UTF-8
	if !utf8.ValidString(name) {
		return fmt.Errorf("stream name contains invalid characters")
	}
	return nil
}

// ValidateSignalingURL validates a websocket endpoint
func ValidateSignalingURL(urlStr string) error {
	return validateURL(urlStr, "ws", "wss")
}

// ValidateDirectorURL validates an http endpoint
func ValidateDirectorURL(urlStr string) error {
	return validateURL(urlStr, "http", "https")
}

func validateURL(urlStr string, schemes ...string) error {
	if urlStr == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	ok := false
	for _, s := range schemes {
		if u.Scheme == s {
			ok = true
		}
	}
	if !ok {
		return fmt.Errorf("invalid URL scheme (must be %s)", strings.Join(schemes, " or "))
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

// ValidateCodecs validates a codec preference list
func ValidateCodecs(codecs []string) error {
	seen := make(map[string]bool, len(codecs))
	for _, c := range codecs {
		name := strings.ToLower(c)
		if !knownCodecs[name] {
			return fmt.Errorf("unknown codec %q", c)
		}
		if seen[name] {
			return fmt.Errorf("codec %q listed twice", c)
		}
		seen[name] = true
	}
	return nil
}

// ValidateBandwidthCeiling validates a bandwidth ceiling in kbps (0 = none)
func ValidateBandwidthCeiling(kbps int) error {
	if kbps < 0 {
		return fmt.Errorf("bandwidth ceiling must be >= 0")
	}
	if kbps > 0 && kbps < 100 {
		return fmt.Errorf("bandwidth ceiling must be at least 100 kbps")
	}
	return nil
}

// ValidateLayer validates a manual layer selection
func ValidateLayer(encodingID string, spatial, temporal int) error {
	if encodingID != "" && !EncodingIDRegex.MatchString(encodingID) {
		return fmt.Errorf("invalid encoding ID format")
	}
	if spatial < -1 || temporal < -1 {
		return fmt.Errorf("layer ids must be >= -1")
	}
	return nil
}
