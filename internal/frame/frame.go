// Package frame decodes client image payloads and extracts hand features
// from them.
package frame

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/recognizer"
	"gocv.io/x/gocv"
)

// ErrDecode is returned for payloads that are not a decodable image.
var ErrDecode = errors.New("invalid image payload")

// MaxPayloadSize bounds the base64 text accepted by DecodeImage.
const MaxPayloadSize = 8 << 20

// DecodeImage turns a data URL (data:image/jpeg;base64,...) or bare base64
// string into a BGR image. The caller owns the returned Mat.
func DecodeImage(raw string) (gocv.Mat, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return gocv.NewMat(), fmt.Errorf("%w: empty", ErrDecode)
	}
	if len(raw) > MaxPayloadSize {
		return gocv.NewMat(), fmt.Errorf("%w: payload of %d bytes exceeds limit", ErrDecode, len(raw))
	}

	if strings.HasPrefix(raw, "data:") {
		i := strings.Index(raw, ",")
		if i < 0 {
			return gocv.NewMat(), fmt.Errorf("%w: data URL without payload", ErrDecode)
		}
		raw = raw[i+1:]
	}

	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("%w: %v", ErrDecode, err)
	}

	img, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if img.Empty() {
		img.Close()
		return gocv.NewMat(), fmt.Errorf("%w: not an image", ErrDecode)
	}
	return img, nil
}

// FeatureDecoder decodes image payloads and runs hand detection on them.
// It implements recognizer.Decoder.
type FeatureDecoder struct {
	det       detector.Detector
	normalize bool
}

// NewFeatureDecoder creates a decoder over det. When normalize is set the
// landmarks are made translation and scale invariant before flattening.
func NewFeatureDecoder(det detector.Detector, normalize bool) *FeatureDecoder {
	return &FeatureDecoder{det: det, normalize: normalize}
}

// Decode implements recognizer.Decoder. Only the first detected hand is used.
func (d *FeatureDecoder) Decode(ctx context.Context, raw string) (recognizer.Observation, error) {
	img, err := DecodeImage(raw)
	if err != nil {
		return recognizer.Observation{}, err
	}
	defer img.Close()

	if err := ctx.Err(); err != nil {
		return recognizer.Observation{}, err
	}

	hands, err := d.det.Detect(&img)
	if err != nil {
		return recognizer.Observation{}, fmt.Errorf("%w: %w", recognizer.ErrDetect, err)
	}
	if len(hands) == 0 {
		return recognizer.Observation{}, nil
	}

	h := &hands[0]
	if d.normalize {
		h = h.Normalize()
	}
	return recognizer.Observation{Features: h.Keypoints(), HandPresent: true}, nil
}
