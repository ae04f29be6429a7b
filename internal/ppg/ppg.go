package ppg

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"neurosync-backend/internal/dsp"
	"neurosync-backend/internal/pipeline"
)

// Config tunes heart-rate extraction
type Config struct {
	BandLow       float64 // Hz
	BandHigh      float64 // Hz
	FilterOrder   int
	AverageWindow float64 // Moving-average length in seconds for peak thresholding
	MinInterval   float64 // Shortest accepted beat interval in ms
	MaxInterval   float64 // Longest accepted beat interval in ms
}

// DefaultConfig covers 30-200 bpm
func DefaultConfig() Config {
	return Config{
		BandLow:       0.5,
		BandHigh:      5,
		FilterOrder:   2,
		AverageWindow: 0.75,
		MinInterval:   300,
		MaxInterval:   2000,
	}
}

// Extractor derives heart rate and RMSSD from a PPG trace
type Extractor struct {
	cfg Config
}

// NewExtractor creates an Extractor
func NewExtractor(cfg Config) *Extractor {
	return &Extractor{cfg: cfg}
}

// Extract returns BPM when at least two valid beat intervals are found, and
// RMSSD when at least three are. Anything it cannot measure is left nil
func (e *Extractor) Extract(signal []float64, fs float64) *pipeline.AuxFeatures {
	aux := &pipeline.AuxFeatures{}
	if !(fs > 0) || len(signal) < int(2*fs) {
		return aux
	}

	filtered := signal
	if sos, err := dsp.ButterworthBandpass(e.cfg.FilterOrder, e.cfg.BandLow, e.cfg.BandHigh, fs); err == nil {
		if out, err := dsp.FiltFilt(sos, signal); err == nil {
			filtered = out
		}
	}

	peaks := detectPeaks(filtered, movingAverage(filtered, int(e.cfg.AverageWindow*fs)))
	intervals := e.beatIntervals(peaks, fs)

	if len(intervals) >= 2 {
		bpm := 60000 / stat.Mean(intervals, nil)
		aux.BPM = &bpm
	}
	if len(intervals) >= 3 {
		diffs := make([]float64, len(intervals)-1)
		for i := range diffs {
			d := intervals[i+1] - intervals[i]
			diffs[i] = d * d
		}
		rmssd := math.Sqrt(stat.Mean(diffs, nil))
		aux.RMSSD = &rmssd
	}
	return aux
}

// beatIntervals converts successive peak indices to ms, dropping implausible ones
func (e *Extractor) beatIntervals(peaks []int, fs float64) []float64 {
	var out []float64
	for i := 1; i < len(peaks); i++ {
		ms := float64(peaks[i]-peaks[i-1]) / fs * 1000
		if ms >= e.cfg.MinInterval && ms <= e.cfg.MaxInterval {
			out = append(out, ms)
		}
	}
	return out
}

// detectPeaks returns the index of the maximum of each run where x rises
// above its moving average
func detectPeaks(x, avg []float64) []int {
	var peaks []int
	best := -1
	for i, v := range x {
		if v > avg[i] {
			if best < 0 || v > x[best] {
				best = i
			}
			continue
		}
		if best >= 0 {
			peaks = append(peaks, best)
			best = -1
		}
	}
	// A run still open at the end has no confirmed falling edge
	return peaks
}

// movingAverage is a centred mean over width samples, shrinking at the edges
func movingAverage(x []float64, width int) []float64 {
	if width < 1 {
		width = 1
	}
	cum := make([]float64, len(x)+1)
	for i, v := range x {
		cum[i+1] = cum[i] + v
	}
	half := width / 2
	out := make([]float64, len(x))
	for i := range x {
		lo := max(0, i-half)
		hi := min(len(x), i+half+1)
		out[i] = (cum[hi] - cum[lo]) / float64(hi-lo)
	}
	return out
}
