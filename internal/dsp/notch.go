package dsp

import (
	"fmt"
	"math"
)

// Notch designs a second-order IIR notch at f0 Hz with quality factor q
// The -3 dB bandwidth is f0/q
func Notch(f0, q, fs float64) (SOS, error) {
	if !(fs > 0) || math.IsInf(fs, 0) {
		return nil, fmt.Errorf("%w: sampling rate %v", ErrInvalidDesign, fs)
	}
	nyq := fs / 2
	if !(f0 > 0) || !(f0 < nyq) {
		return nil, fmt.Errorf("%w: notch %v Hz at %v Hz sampling", ErrInvalidDesign, f0, fs)
	}
	if !(q > 0) || math.IsInf(q, 0) {
		return nil, fmt.Errorf("%w: quality factor %v", ErrInvalidDesign, q)
	}

	w0 := math.Pi * f0 / nyq
	bw := w0 / q
	beta := math.Tan(bw / 2)
	gain := 1 / (1 + beta)

	return SOS{{
		B0: gain,
		B1: -2 * gain * math.Cos(w0),
		B2: gain,
		A1: -2 * gain * math.Cos(w0),
		A2: 2*gain - 1,
	}}, nil
}
