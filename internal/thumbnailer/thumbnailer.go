// Package thumbnailer scales room and service avatars down to the size
// stored in the database and served through the search responses.
package thumbnailer

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"time"

	// register decoders for the formats avatars arrive in
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/nfnt/resize"
	"github.com/sirupsen/logrus"
)

const (
	// MaxSourceBytes is the largest raw avatar accepted from the network.
	MaxSourceBytes = 1024 * 1024
	// MaxSVGBytes is the largest SVG avatar stored verbatim; vector data
	// is not rescaled.
	MaxSVGBytes = 64 * 1024

	maxEdge = 64
)

var (
	ErrTooLarge    = errors.New("thumbnailer: avatar exceeds size limit")
	ErrUnsupported = errors.New("thumbnailer: unsupported image format")
)

// Avatar is a processed avatar ready for storage.
type Avatar struct {
	Data     []byte
	MIMEType string
}

// Process validates and rescales a raw avatar. Raster images are
// decoded, scaled to fit within 64x64 preserving aspect ratio and
// re-encoded as PNG. SVG images pass through untouched under a tighter
// size limit.
func Process(data []byte, mimeType string) (*Avatar, error) {
	if len(data) > MaxSourceBytes {
		return nil, ErrTooLarge
	}
	if mimeType == "image/svg+xml" {
		if len(data) > MaxSVGBytes {
			return nil, ErrTooLarge
		}
		return &Avatar{Data: data, MIMEType: mimeType}, nil
	}

	start := time.Now()
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, err)
	}

	scaled := img
	bounds := img.Bounds()
	if bounds.Dx() > maxEdge || bounds.Dy() > maxEdge {
		scaled = resize.Thumbnail(maxEdge, maxEdge, img, resize.Lanczos3)
	}

	var out bytes.Buffer
	if err = png.Encode(&out, scaled); err != nil {
		return nil, fmt.Errorf("failed to encode avatar: %w", err)
	}
	logrus.WithFields(logrus.Fields{
		"format":     format,
		"sourceSize": len(data),
		"resultSize": out.Len(),
		"processTime": time.Since(start),
	}).Debug("Processed avatar")
	return &Avatar{Data: out.Bytes(), MIMEType: "image/png"}, nil
}
