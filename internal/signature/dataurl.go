package signature

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidDataURL = errors.New("invalid data url")

// DecodeDataURL extracts the binary payload of a base64 data URL
func DecodeDataURL(value string, allowedMimes []string, maxBytes int) ([]byte, string, error) {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return nil, "", fmt.Errorf("%w: empty", ErrInvalidDataURL)
	}
	if !strings.HasPrefix(raw, "data:") {
		return nil, "", fmt.Errorf("%w: missing data: prefix", ErrInvalidDataURL)
	}
	comma := strings.Index(raw, ",")
	if comma <= 5 {
		return nil, "", fmt.Errorf("%w: missing payload", ErrInvalidDataURL)
	}
	meta := raw[5:comma]
	payload := raw[comma+1:]
	if !strings.HasSuffix(strings.ToLower(meta), ";base64") {
		return nil, "", fmt.Errorf("%w: must be base64", ErrInvalidDataURL)
	}
	mime := strings.TrimSpace(meta[:len(meta)-len(";base64")])
	if mime == "" {
		return nil, "", fmt.Errorf("%w: missing mime type", ErrInvalidDataURL)
	}
	if len(allowedMimes) > 0 {
		ok := false
		for _, allowed := range allowedMimes {
			if strings.EqualFold(strings.TrimSpace(allowed), mime) {
				ok = true
				break
			}
		}
		if !ok {
			return nil, "", fmt.Errorf("%w: unsupported mime type %s", ErrInvalidDataURL, mime)
		}
	}
	if maxBytes > 0 && base64.StdEncoding.DecodedLen(len(payload)) > maxBytes+2 {
		return nil, "", fmt.Errorf("%w: payload exceeds %d bytes", ErrInvalidDataURL, maxBytes)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidDataURL, err)
	}
	if maxBytes > 0 && len(data) > maxBytes {
		return nil, "", fmt.Errorf("%w: payload exceeds %d bytes", ErrInvalidDataURL, maxBytes)
	}
	return data, mime, nil
}
