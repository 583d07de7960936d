// Package imageproc turns request payloads into model-ready tensors.
package imageproc

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/disintegration/imaging"

	// Formats beyond the imaging defaults that phones and browsers send.
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// ErrDecode marks payloads that are not valid base64 or not a decodable image.
var ErrDecode = errors.New("invalid image")

var encodings = []*base64.Encoding{
	base64.StdEncoding,
	base64.RawStdEncoding,
	base64.URLEncoding,
	base64.RawURLEncoding,
}

// DecodeBase64 decodes an image payload. An optional data URI prefix such as
// "data:image/jpeg;base64," is stripped first.
func DecodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		i := strings.Index(s, ",")
		if i < 0 || !strings.HasSuffix(s[:i], ";base64") {
			return nil, fmt.Errorf("%w: malformed data URI", ErrDecode)
		}
		s = s[i+1:]
	}
	// Line-wrapped payloads are common from mobile clients
	s = strings.NewReplacer("\n", "", "\r", "", " ", "").Replace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty payload", ErrDecode)
	}

	var lastErr error
	for _, enc := range encodings {
		b, err := enc.DecodeString(s)
		if err == nil {
			if len(b) == 0 {
				return nil, fmt.Errorf("%w: empty payload", ErrDecode)
			}
			return b, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: bad base64: %v", ErrDecode, lastErr)
}

// DecodeImage decodes JPEG, PNG, GIF, BMP or WebP bytes, applying the EXIF
// orientation so the model sees the picture upright.
func DecodeImage(b []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(b), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if bounds := img.Bounds(); bounds.Dx() == 0 || bounds.Dy() == 0 {
		return nil, fmt.Errorf("%w: image has no pixels", ErrDecode)
	}
	return img, nil
}
