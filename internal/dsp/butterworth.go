package dsp

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"sort"
)

// ErrInvalidDesign is returned when filter parameters are not realisable at
// the given sampling rate
var ErrInvalidDesign = errors.New("invalid filter design")

// Section is one second-order IIR stage with a0 normalised to 1:
// y[n] = B0 x[n] + B1 x[n-1] + B2 x[n-2] - A1 y[n-1] - A2 y[n-2]
type Section struct {
	B0, B1, B2 float64
	A1, A2     float64
}

// SOS is a cascade of second-order sections applied in order
type SOS []Section

// designRate is the normalised sampling rate used for the bilinear transform;
// frequencies are expressed as fractions of Nyquist
const designRate = 2.0

// ButterworthBandpass designs a band-pass Butterworth filter of the given
// order as order second-order sections. The passband gain is unity at the
// geometric centre and 1/sqrt(2) at both cutoffs
func ButterworthBandpass(order int, low, high, fs float64) (SOS, error) {
	if order < 1 {
		return nil, fmt.Errorf("%w: order %d", ErrInvalidDesign, order)
	}
	if !(fs > 0) || math.IsInf(fs, 0) {
		return nil, fmt.Errorf("%w: sampling rate %v", ErrInvalidDesign, fs)
	}
	nyq := fs / 2
	if !(low > 0) || !(high < nyq) || !(low < high) {
		return nil, fmt.Errorf("%w: band [%v, %v] Hz at %v Hz sampling", ErrInvalidDesign, low, high, fs)
	}

	w1 := prewarp(low / nyq)
	w2 := prewarp(high / nyq)
	bw := w2 - w1
	w0 := math.Sqrt(w1 * w2)

	poles := make([]complex128, 0, 2*order)
	for _, p := range butterworthPrototype(order) {
		half := p * complex(bw/2, 0)
		root := cmplx.Sqrt(half*half - complex(w0*w0, 0))
		poles = append(poles, bilinear(half+root), bilinear(half-root))
	}

	sos := make(SOS, 0, order)
	var reals []float64
	for _, p := range poles {
		switch {
		case math.Abs(imag(p)) <= 1e-12*math.Max(1, cmplx.Abs(p)):
			reals = append(reals, real(p))
		case imag(p) > 0:
			sos = append(sos, Section{
				B0: 1, B1: 0, B2: -1,
				A1: -2 * real(p),
				A2: real(p)*real(p) + imag(p)*imag(p),
			})
		}
	}
	sort.Float64s(reals)
	for i := 0; i+1 < len(reals); i += 2 {
		sos = append(sos, Section{
			B0: 1, B1: 0, B2: -1,
			A1: -(reals[i] + reals[i+1]),
			A2: reals[i] * reals[i+1],
		})
	}
	if len(sos) != order {
		return nil, fmt.Errorf("%w: expected %d sections, got %d", ErrInvalidDesign, order, len(sos))
	}

	centre := 2 * math.Atan(w0/(2*designRate))
	gain := cmplx.Abs(sos.response(centre))
	if gain == 0 || math.IsNaN(gain) {
		return nil, fmt.Errorf("%w: degenerate passband gain", ErrInvalidDesign)
	}
	sos[0].B0 /= gain
	sos[0].B1 /= gain
	sos[0].B2 /= gain

	return sos, nil
}

// butterworthPrototype returns the analog low-pass poles with unit cutoff
func butterworthPrototype(order int) []complex128 {
	poles := make([]complex128, 0, order)
	for m := -order + 1; m < order; m += 2 {
		theta := math.Pi * float64(m) / float64(2*order)
		poles = append(poles, -cmplx.Exp(complex(0, theta)))
	}
	return poles
}

func prewarp(wn float64) float64 {
	return 2 * designRate * math.Tan(math.Pi*wn/designRate)
}

func bilinear(p complex128) complex128 {
	k := complex(2*designRate, 0)
	return (k + p) / (k - p)
}

// response evaluates the cascade at normalised angular frequency omega (rad/sample)
func (s SOS) response(omega float64) complex128 {
	zi := cmplx.Exp(complex(0, -omega))
	zi2 := zi * zi
	h := complex(1, 0)
	for _, sec := range s {
		num := complex(sec.B0, 0) + complex(sec.B1, 0)*zi + complex(sec.B2, 0)*zi2
		den := 1 + complex(sec.A1, 0)*zi + complex(sec.A2, 0)*zi2
		h *= num / den
	}
	return h
}

// Magnitude returns |H| of the cascade at frequency f for sampling rate fs
func (s SOS) Magnitude(f, fs float64) float64 {
	return cmplx.Abs(s.response(2 * math.Pi * f / fs))
}
