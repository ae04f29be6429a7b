package dsp

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ErrSignalTooShort is returned by FiltFilt when the input is not longer than
// the edge padding
var ErrSignalTooShort = errors.New("signal too short for zero-phase filtering")

// PadLen is the number of samples FiltFilt reflects at each edge
func (s SOS) PadLen() int {
	taps := 2*len(s) + 1
	var zb, za int
	for _, sec := range s {
		if sec.B2 == 0 {
			zb++
		}
		if sec.A2 == 0 {
			za++
		}
	}
	taps -= min(zb, za)
	return 3 * taps
}

// FiltFilt applies s forward and then backward over x, so the output has no
// phase shift. Edges are padded by odd reflection and each pass starts from
// the filter's steady state for the edge value. x is not modified
func FiltFilt(s SOS, x []float64) ([]float64, error) {
	if len(s) == 0 {
		out := make([]float64, len(x))
		copy(out, x)
		return out, nil
	}

	pad := s.PadLen()
	if len(x) <= pad {
		return nil, fmt.Errorf("%w: %d samples, need more than %d", ErrSignalTooShort, len(x), pad)
	}

	zi, err := s.steadyState()
	if err != nil {
		return nil, err
	}

	ext := oddExtend(x, pad)

	s.filter(ext, scaleState(zi, ext[0]))
	reverse(ext)
	s.filter(ext, scaleState(zi, ext[0]))
	reverse(ext)

	out := make([]float64, len(x))
	copy(out, ext[pad:pad+len(x)])
	return out, nil
}

// filter runs the cascade in place using transposed direct form II
func (s SOS) filter(x []float64, state [][2]float64) {
	for i, sec := range s {
		z0, z1 := state[i][0], state[i][1]
		for n, xn := range x {
			yn := sec.B0*xn + z0
			z0 = sec.B1*xn - sec.A1*yn + z1
			z1 = sec.B2*xn - sec.A2*yn
			x[n] = yn
		}
	}
}

// steadyState returns per-section initial conditions for a unit step input,
// scaled through the DC gain of the preceding sections
func (s SOS) steadyState() ([][2]float64, error) {
	zi := make([][2]float64, len(s))
	scale := 1.0
	for i, sec := range s {
		a := mat.NewDense(2, 2, []float64{
			1 + sec.A1, -1,
			sec.A2, 1,
		})
		b := mat.NewVecDense(2, []float64{
			sec.B1 - sec.A1*sec.B0,
			sec.B2 - sec.A2*sec.B0,
		})

		var z mat.VecDense
		if err := z.SolveVec(a, b); err != nil {
			return nil, fmt.Errorf("failed to solve initial state for section %d: %w", i, err)
		}
		zi[i] = [2]float64{scale * z.AtVec(0), scale * z.AtVec(1)}

		den := 1 + sec.A1 + sec.A2
		scale *= (sec.B0 + sec.B1 + sec.B2) / den
	}
	return zi, nil
}

func scaleState(zi [][2]float64, v float64) [][2]float64 {
	out := make([][2]float64, len(zi))
	for i, z := range zi {
		out[i] = [2]float64{z[0] * v, z[1] * v}
	}
	return out
}

// oddExtend reflects pad samples about each endpoint
func oddExtend(x []float64, pad int) []float64 {
	n := len(x)
	ext := make([]float64, n+2*pad)
	for i := 0; i < pad; i++ {
		ext[i] = 2*x[0] - x[pad-i]
		ext[pad+n+i] = 2*x[n-1] - x[n-2-i]
	}
	copy(ext[pad:], x)
	return ext
}

func reverse(x []float64) {
	for i, j := 0, len(x)-1; i < j; i, j = i+1, j-1 {
		x[i], x[j] = x[j], x[i]
	}
}
