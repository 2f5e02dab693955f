package fidelity

import (
	"image"
	"math"
)

// ChannelStats holds per-channel mean and standard deviation on the 0-255
// scale, in R, G, B order.
type ChannelStats struct {
	Mean [3]float64
	Std  [3]float64
}

type accumulator struct {
	n     float64
	sum   [3]float64
	sumSq [3]float64
}

func (a *accumulator) add(img *image.NRGBA) {
	b := img.Bounds()
	for y := 0; y < b.Dy(); y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+b.Dx()*4]
		for i := 0; i < len(row); i += 4 {
			for c := 0; c < 3; c++ {
				v := float64(row[i+c])
				a.sum[c] += v
				a.sumSq[c] += v * v
			}
		}
	}
	a.n += float64(b.Dx() * b.Dy())
}

func (a *accumulator) stats() ChannelStats {
	var s ChannelStats
	if a.n == 0 {
		return s
	}
	for c := 0; c < 3; c++ {
		mean := a.sum[c] / a.n
		variance := a.sumSq[c]/a.n - mean*mean
		if variance < 0 {
			variance = 0
		}
		s.Mean[c] = mean
		s.Std[c] = math.Sqrt(variance)
	}
	return s
}

// Stats measures a single image.
func Stats(img *image.NRGBA) ChannelStats {
	var a accumulator
	a.add(img)
	return a.stats()
}

// SequenceStats measures every pixel of every frame as one population.
func SequenceStats(frames []*image.NRGBA) ChannelStats {
	var a accumulator
	for _, f := range frames {
		a.add(f)
	}
	return a.stats()
}

const statEpsilon = 1e-6

// TransferColor maps every pixel of every frame through a per-channel affine
// transform so the sequence's mean and std match ref. It reports whether any
// channel needed a change; when the statistics already match, frames are
// left untouched.
func TransferColor(frames []*image.NRGBA, ref ChannelStats) bool {
	if len(frames) == 0 {
		return false
	}
	cur := SequenceStats(frames)
	var lut [3][256]uint8
	changed := false
	for c := 0; c < 3; c++ {
		scale := 1.0
		if cur.Std[c] > statEpsilon {
			scale = ref.Std[c] / cur.Std[c]
		}
		if math.Abs(scale-1) < statEpsilon && math.Abs(ref.Mean[c]-cur.Mean[c]) < statEpsilon {
			for v := 0; v < 256; v++ {
				lut[c][v] = uint8(v)
			}
			continue
		}
		changed = true
		for v := 0; v < 256; v++ {
			lut[c][v] = clamp8((float64(v)-cur.Mean[c])*scale + ref.Mean[c])
		}
	}
	if !changed {
		return false
	}
	for _, f := range frames {
		b := f.Bounds()
		for y := 0; y < b.Dy(); y++ {
			row := f.Pix[y*f.Stride : y*f.Stride+b.Dx()*4]
			for i := 0; i < len(row); i += 4 {
				row[i] = lut[0][row[i]]
				row[i+1] = lut[1][row[i+1]]
				row[i+2] = lut[2][row[i+2]]
			}
		}
	}
	return true
}

func clamp8(v float64) uint8 {
	v = math.Round(v)
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
