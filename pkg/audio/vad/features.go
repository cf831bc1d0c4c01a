// ABOUTME: Per-window features for voice activity detection
// ABOUTME: Frame energy in dBFS and speech-band power ratio from an FFT
package vad

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	// floorDBFS is reported for digital silence.
	floorDBFS = -120.0

	speechBandLow  = 300.0
	speechBandHigh = 3400.0
)

// energyDBFS is the RMS level of frame relative to int16 full scale.
func energyDBFS(frame []int16) float64 {
	if len(frame) == 0 {
		return floorDBFS
	}
	var sum float64
	for _, v := range frame {
		x := float64(v) / 32768.0
		sum += x * x
	}
	mean := sum / float64(len(frame))
	if mean == 0 {
		return floorDBFS
	}
	db := 10 * math.Log10(mean)
	if db < floorDBFS {
		return floorDBFS
	}
	return db
}

// bandRatio is the share of non-DC spectral power between 300 and 3400 Hz.
func (s *Session) bandRatio(frame []int16) float64 {
	n := len(frame)
	fft, ok := s.ffts[n]
	if !ok {
		fft = fourier.NewFFT(n)
		s.ffts[n] = fft
		s.windowFuncs[n] = hann(n)
	}
	window := s.windowFuncs[n]

	if cap(s.scratch) < n {
		s.scratch = make([]float64, n)
		s.coeffs = make([]complex128, n/2+1)
	}
	in := s.scratch[:n]
	var mean float64
	for _, v := range frame {
		mean += float64(v)
	}
	mean /= float64(n)
	for i, v := range frame {
		in[i] = (float64(v) - mean) * window[i]
	}
	coeffs := fft.Coefficients(s.coeffs[:n/2+1], in)

	rate := float64(s.cfg.SampleRate)
	var total, band float64
	for i := 1; i < len(coeffs); i++ {
		p := cmplx.Abs(coeffs[i])
		p *= p
		total += p
		f := float64(i) * rate / float64(n)
		if f >= speechBandLow && f <= speechBandHigh {
			band += p
		}
	}
	if total == 0 {
		return 0
	}
	return band / total
}

func hann(n int) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	for i := range w {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
	}
	return w
}
