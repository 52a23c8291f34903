// Package qrcode renders token ids as PNG QR codes.
package qrcode

import (
	"errors"

	goqr "github.com/skip2/go-qrcode"
)

// DefaultSize is the edge length of the rendered image in pixels.
const DefaultSize = 300

// Encoder renders content into PNG bytes.
type Encoder struct {
	size  int
	level goqr.RecoveryLevel
}

// New returns an encoder producing size×size images at medium recovery.
func New(size int) *Encoder {
	if size <= 0 {
		size = DefaultSize
	}
	return &Encoder{size: size, level: goqr.Medium}
}

// Encode renders content as a PNG.
func (e *Encoder) Encode(content string) ([]byte, error) {
	if content == "" {
		return nil, errors.New("qrcode: empty content")
	}
	return goqr.Encode(content, e.level, e.size)
}
