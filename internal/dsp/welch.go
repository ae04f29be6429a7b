package dsp

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"
)

// Welch estimates one-sided power spectral density by averaging periodograms
// of Hann-windowed, mean-removed segments. A Welch value holds FFT work
// buffers and must not be shared between goroutines
type Welch struct {
	nperseg int
	step    int

	window []float64
	scale  float64
	freqs  []float64

	fft    *fourier.FFT
	seg    []float64
	coeffs []complex128
}

// NewWelch prepares an estimator for segments of nperseg samples overlapping
// by noverlap samples at sampling rate fs
func NewWelch(nperseg, noverlap int, fs float64) (*Welch, error) {
	if nperseg < 2 {
		return nil, fmt.Errorf("segment length %d too short", nperseg)
	}
	if noverlap < 0 || noverlap >= nperseg {
		return nil, fmt.Errorf("overlap %d invalid for segment length %d", noverlap, nperseg)
	}
	if !(fs > 0) {
		return nil, fmt.Errorf("invalid sampling rate %v", fs)
	}

	// Periodic Hann: the symmetric window one sample longer, truncated
	win := make([]float64, nperseg+1)
	for i := range win {
		win[i] = 1
	}
	win = window.Hann(win)[:nperseg]

	var energy float64
	for _, w := range win {
		energy += w * w
	}

	fft := fourier.NewFFT(nperseg)
	bins := nperseg/2 + 1
	freqs := make([]float64, bins)
	for k := range freqs {
		freqs[k] = float64(k) * fs / float64(nperseg)
	}

	return &Welch{
		nperseg: nperseg,
		step:    nperseg - noverlap,
		window:  win,
		scale:   1 / (fs * energy),
		freqs:   freqs,
		fft:     fft,
		seg:     make([]float64, nperseg),
		coeffs:  make([]complex128, bins),
	}, nil
}

// Freqs returns the frequency in Hz of each PSD bin
func (w *Welch) Freqs() []float64 {
	return w.freqs
}

// PSD returns the density estimate for x in units^2/Hz, one value per bin
func (w *Welch) PSD(x []float64) ([]float64, error) {
	if len(x) < w.nperseg {
		return nil, fmt.Errorf("signal of %d samples shorter than segment length %d", len(x), w.nperseg)
	}

	psd := make([]float64, len(w.freqs))
	segments := 0
	for start := 0; start+w.nperseg <= len(x); start += w.step {
		raw := x[start : start+w.nperseg]
		mean := stat.Mean(raw, nil)
		for i, v := range raw {
			w.seg[i] = (v - mean) * w.window[i]
		}
		w.coeffs = w.fft.Coefficients(w.coeffs, w.seg)
		for k, c := range w.coeffs {
			psd[k] += real(c)*real(c) + imag(c)*imag(c)
		}
		segments++
	}

	last := len(psd) - 1
	for k := range psd {
		psd[k] *= w.scale / float64(segments)
		// One-sided: fold negative frequencies except DC and, for even lengths, Nyquist
		if k == 0 || (k == last && w.nperseg%2 == 0) {
			continue
		}
		psd[k] *= 2
	}
	return psd, nil
}

// BandPower integrates psd over the bins whose frequency lies in [low, high)
// using the trapezoidal rule. Fewer than two bins yield 0
func BandPower(freqs, psd []float64, low, high float64) float64 {
	lo := sort.SearchFloat64s(freqs, low)
	hi := sort.SearchFloat64s(freqs, high)
	if hi-lo < 2 {
		return 0
	}
	return integrate.Trapezoidal(freqs[lo:hi], psd[lo:hi])
}

// TotalPower integrates psd over every bin
func TotalPower(freqs, psd []float64) float64 {
	if len(freqs) < 2 {
		return 0
	}
	return integrate.Trapezoidal(freqs, psd)
}
