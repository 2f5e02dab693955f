package imageprep

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// Precondition centre-crops img to the w:h aspect ratio and resizes it to
// exactly w×h with a Lanczos filter. A wider source loses width, a taller or
// equal one loses height. img must be a decoded, non-empty image.
func Precondition(img image.Image, w, h int) *image.NRGBA {
	b := img.Bounds()
	sw, sh := b.Dx(), b.Dy()
	if sw == w && sh == h {
		return imaging.Clone(img)
	}

	cw, ch := sw, sh
	if sw*h > sh*w {
		cw = sh * w / h
	} else {
		ch = sw * h / w
	}
	if cw < 1 {
		cw = 1
	}
	if ch < 1 {
		ch = 1
	}

	cropped := imaging.CropCenter(img, cw, ch)
	return imaging.Resize(cropped, w, h, imaging.Lanczos)
}

// EncodeJPEG encodes img for vendors that take an inline image.
func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(92)); err != nil {
		return nil, fmt.Errorf("imageprep: encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// DataURL wraps encoded image bytes in a base64 data URL.
func DataURL(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}
