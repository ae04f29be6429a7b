package pipeline

import (
	"fmt"
	"math"

	"neurosync-backend/internal/dsp"
)

// EpochConfig describes how windows are sliced into epochs
type EpochConfig struct {
	SampleRate     float64
	EpochSeconds   float64
	OverlapSeconds float64
	Bands          []Band
}

// Epoch is the band power table for one slice of a filtered window
type Epoch struct {
	Index  int            `json:"index"`
	Start  float64        `json:"start"` // Seconds from the start of the window
	Powers BandPowerTable `json:"powers"`
}

// Extractor slices filtered windows into overlapping epochs and integrates
// Welch PSD per band. It is safe for concurrent use
type Extractor struct {
	sampleRate float64
	epochLen   int
	stride     int
	bands      []Band
}

// NewExtractor validates the epoch geometry. Both lengths are rounded to whole
// samples; the stride must be positive
func NewExtractor(cfg EpochConfig) (*Extractor, error) {
	if !(cfg.SampleRate > 0) {
		return nil, fmt.Errorf("%w: sampling rate %v", ErrInvalidEpochConfig, cfg.SampleRate)
	}
	if cfg.OverlapSeconds < 0 {
		return nil, fmt.Errorf("%w: negative overlap %v s", ErrInvalidEpochConfig, cfg.OverlapSeconds)
	}

	epochLen := int(math.Round(cfg.EpochSeconds * cfg.SampleRate))
	overlap := int(math.Round(cfg.OverlapSeconds * cfg.SampleRate))
	stride := epochLen - overlap
	if epochLen < 2 {
		return nil, fmt.Errorf("%w: epoch of %d samples", ErrInvalidEpochConfig, epochLen)
	}
	if stride <= 0 {
		return nil, fmt.Errorf("%w: overlap %v s leaves no stride in a %v s epoch",
			ErrInvalidEpochConfig, cfg.OverlapSeconds, cfg.EpochSeconds)
	}

	bands := cfg.Bands
	if len(bands) == 0 {
		bands = DefaultBands
	}

	return &Extractor{
		sampleRate: cfg.SampleRate,
		epochLen:   epochLen,
		stride:     stride,
		bands:      append([]Band(nil), bands...),
	}, nil
}

// EpochLength returns the epoch length in samples
func (e *Extractor) EpochLength() int {
	return e.epochLen
}

// Stride returns the step between epoch starts in samples
func (e *Extractor) Stride() int {
	return e.stride
}

// Bands returns the bands integrated for every epoch
func (e *Extractor) Bands() []Band {
	return e.bands
}

// Extract returns epochs in increasing start order. A window shorter than one
// epoch yields none; a trailing partial epoch is dropped. Channels whose
// segment contains non-finite samples are left out of that epoch's table
func (e *Extractor) Extract(filtered [][]float64, channels []string) []Epoch {
	rows := min(len(filtered), len(channels))
	if rows == 0 {
		return nil
	}
	samples := len(filtered[0])
	for _, row := range filtered[:rows] {
		samples = min(samples, len(row))
	}
	if samples < e.epochLen {
		return nil
	}

	welch, err := dsp.NewWelch(e.epochLen, 0, e.sampleRate)
	if err != nil {
		return nil
	}
	freqs := welch.Freqs()

	var epochs []Epoch
	for start := 0; start+e.epochLen <= samples; start += e.stride {
		table := make(BandPowerTable, rows)
		for ch := 0; ch < rows; ch++ {
			segment := filtered[ch][start : start+e.epochLen]
			if !finite(segment) {
				continue
			}
			psd, err := welch.PSD(segment)
			if err != nil {
				continue
			}
			powers := make(BandPowers, len(e.bands))
			for _, band := range e.bands {
				powers[band.Name] = dsp.BandPower(freqs, psd, band.Low, band.High)
			}
			table[channels[ch]] = powers
		}
		epochs = append(epochs, Epoch{
			Index:  len(epochs),
			Start:  float64(start) / e.sampleRate,
			Powers: table,
		})
	}
	return epochs
}

func finite(x []float64) bool {
	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
