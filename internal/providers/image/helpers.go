package image

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/h2non/filetype"
)

// DefaultMaxResponseBytes caps an upstream reply body.
const DefaultMaxResponseBytes = 128 << 20

// ErrResponseTooLarge is returned when an upstream reply exceeds the cap.
var ErrResponseTooLarge = errors.New("provider response too large")

// ReadResponse reads body up to limit bytes and fails when more remain.
// A non-positive limit selects DefaultMaxResponseBytes.
func ReadResponse(body io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		limit = DefaultMaxResponseBytes
	}
	raw, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(raw)) > limit {
		return nil, fmt.Errorf("%w: over %d bytes", ErrResponseTooLarge, limit)
	}
	return raw, nil
}

// DeterministicSeed derives a positive 31-bit seed from the given values so
// retries of the same request reproduce the same image.
func DeterministicSeed(values ...any) int {
	if len(values) == 0 {
		return 0
	}
	var parts []string
	for _, v := range values {
		parts = append(parts, fmt.Sprint(v))
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	n := binary.BigEndian.Uint32(sum[:4])
	value := int(n % 2147483647)
	if value <= 0 {
		fallback := binary.BigEndian.Uint32(sum[4:8]) % 2147483647
		if fallback == 0 {
			fallback = 1
		}
		value = int(fallback)
	}
	return value
}

// NormalizeFormat canonicalizes an image MIME type, defaulting to PNG.
func NormalizeFormat(mime string) string {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	switch mime {
	case "image/jpeg", "image/jpg":
		return "image/jpeg"
	case "image/png":
		return "image/png"
	default:
		if strings.HasPrefix(mime, "image/") {
			return mime
		}
		return "image/png"
	}
}

// DetectFormat sniffs the image type from data and falls back to hint.
func DetectFormat(data []byte, hint string) string {
	if kind, err := filetype.Match(data); err == nil && kind != filetype.Unknown && strings.HasPrefix(kind.MIME.Value, "image/") {
		return NormalizeFormat(kind.MIME.Value)
	}
	return NormalizeFormat(hint)
}

// VariationPrompt suffixes the prompt so providers without a native "n"
// parameter return distinct images.
func VariationPrompt(prompt string, total, index int) string {
	trimmed := strings.TrimSpace(prompt)
	if total <= 1 {
		return trimmed
	}
	if trimmed == "" {
		return fmt.Sprintf("Variation #%d.", index+1)
	}
	return fmt.Sprintf("%s\nVariation #%d.", trimmed, index+1)
}
