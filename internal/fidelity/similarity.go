package fidelity

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// ThumbnailSize is the edge of the diagnostic similarity thumbnails.
const ThumbnailSize = 64

// MeanAbsDiff is the mean absolute per-channel difference of two equally
// sized images on the 0-255 scale. Alpha is ignored.
func MeanAbsDiff(a, b *image.NRGBA) float64 {
	ab, bb := a.Bounds(), b.Bounds()
	w, h := ab.Dx(), ab.Dy()
	if bb.Dx() != w || bb.Dy() != h || w == 0 || h == 0 {
		return math.Inf(1)
	}
	var sum int64
	for y := 0; y < h; y++ {
		ra := a.Pix[y*a.Stride : y*a.Stride+w*4]
		rb := b.Pix[y*b.Stride : y*b.Stride+w*4]
		for i := 0; i < len(ra); i += 4 {
			sum += absDiff(ra[i], rb[i]) + absDiff(ra[i+1], rb[i+1]) + absDiff(ra[i+2], rb[i+2])
		}
	}
	return float64(sum) / float64(w*h*3)
}

// ThumbnailL1 compares downscaled copies of a and b and returns the mean
// absolute difference normalised to [0, 1].
func ThumbnailL1(a, b image.Image) float64 {
	ta := imaging.Resize(a, ThumbnailSize, ThumbnailSize, imaging.Box)
	tb := imaging.Resize(b, ThumbnailSize, ThumbnailSize, imaging.Box)
	return MeanAbsDiff(ta, tb) / 255
}

func absDiff(a, b uint8) int64 {
	if a > b {
		return int64(a - b)
	}
	return int64(b - a)
}
