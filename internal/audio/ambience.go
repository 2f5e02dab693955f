package audio

import (
	"math"
	"math/rand"
)

// AmbienceSampleRate is the rate of synthesized fallback tracks.
const AmbienceSampleRate = 48000

// AmbienceLevelDB is the RMS level, in dBFS, fallback tracks are normalised
// to. It sits well above the minimum loudness the guard accepts.
const AmbienceLevelDB = -35.0

const (
	windLowHz  = 400.0
	windHighHz = 2000.0
	fadeMS     = 50
)

// Ambience synthesizes a room tone of the given length: brown noise for the
// low rumble plus band-passed pink noise with a slow swell for wind.
func Ambience(seconds float64, sampleRate int, seed int64) []float32 {
	n := int(math.Ceil(seconds * float64(sampleRate)))
	if n <= 0 || sampleRate <= 0 {
		return nil
	}
	rng := rand.New(rand.NewSource(seed))
	bp := newBandpass(float64(sampleRate), windLowHz, windHighHz)
	var pink pinkFilter
	var brown float64

	mix := make([]float64, n)
	for i := range mix {
		white := rng.Float64()*2 - 1
		brown = (brown + 0.02*white) / 1.02
		wind := bp.process(pink.process(rng.Float64()*2 - 1))
		swell := 0.6 + 0.4*math.Sin(2*math.Pi*0.15*float64(i)/float64(sampleRate))
		mix[i] = 0.6*brown*3.5 + 0.4*wind*swell
	}

	var sumSq float64
	for _, v := range mix {
		sumSq += v * v
	}
	rms := math.Sqrt(sumSq / float64(n))
	gain := 0.0
	if rms > 0 {
		gain = math.Pow(10, AmbienceLevelDB/20) / rms
	}

	fade := sampleRate * fadeMS / 1000
	out := make([]float32, n)
	for i, v := range mix {
		env := 1.0
		if i < fade {
			env = float64(i) / float64(fade)
		} else if n-1-i < fade {
			env = float64(n-1-i) / float64(fade)
		}
		out[i] = float32(v * gain * env)
	}
	return out
}

// LevelDB is the RMS level of samples in dBFS.
func LevelDB(samples []float32) float64 {
	if len(samples) == 0 {
		return math.Inf(-1)
	}
	var sumSq float64
	for _, s := range samples {
		sumSq += float64(s) * float64(s)
	}
	rms := math.Sqrt(sumSq / float64(len(samples)))
	if rms == 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(rms)
}

// pinkFilter is Paul Kellet's refined pink noise filter.
type pinkFilter struct {
	b0, b1, b2, b3, b4, b5, b6 float64
}

func (p *pinkFilter) process(white float64) float64 {
	p.b0 = 0.99886*p.b0 + white*0.0555179
	p.b1 = 0.99332*p.b1 + white*0.0750759
	p.b2 = 0.96900*p.b2 + white*0.1538520
	p.b3 = 0.86650*p.b3 + white*0.3104856
	p.b4 = 0.55000*p.b4 + white*0.5329522
	p.b5 = -0.7616*p.b5 - white*0.0168980
	out := p.b0 + p.b1 + p.b2 + p.b3 + p.b4 + p.b5 + p.b6 + white*0.5362
	p.b6 = white * 0.115926
	return out * 0.11
}

// biquad is a constant 0 dB peak gain band-pass filter.
type biquad struct {
	b0, b1, b2, a1, a2 float64
	x1, x2, y1, y2     float64
}

func newBandpass(rate, low, high float64) *biquad {
	center := math.Sqrt(low * high)
	q := center / (high - low)
	w0 := 2 * math.Pi * center / rate
	alpha := math.Sin(w0) / (2 * q)
	a0 := 1 + alpha
	return &biquad{
		b0: alpha / a0,
		b1: 0,
		b2: -alpha / a0,
		a1: -2 * math.Cos(w0) / a0,
		a2: (1 - alpha) / a0,
	}
}

func (f *biquad) process(x float64) float64 {
	y := f.b0*x + f.b1*f.x1 + f.b2*f.x2 - f.a1*f.y1 - f.a2*f.y2
	f.x2, f.x1 = f.x1, x
	f.y2, f.y1 = f.y1, y
	return y
}
