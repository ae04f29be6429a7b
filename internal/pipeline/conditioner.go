package pipeline

import (
	"fmt"

	"neurosync-backend/internal/dsp"
)

// ConditionerConfig describes the filtering chain. A zero NotchFreq disables
// the notch; an empty ReferenceChannels list disables re-referencing
type ConditionerConfig struct {
	SampleRate        float64
	ReferenceChannels []string
	BandpassLow       float64
	BandpassHigh      float64
	FilterOrder       int
	NotchFreq         float64
	NotchQ            float64
}

// StageReport records which conditioning stages were applied to a window
type StageReport struct {
	Referenced bool `json:"referenced"`
	Bandpassed bool `json:"bandpassed"`
	Notched    bool `json:"notched"`
}

// Conditioner re-references, band-passes and notch-filters windows with
// filters designed once at construction. It holds no per-call state and is
// safe for concurrent use
type Conditioner struct {
	sampleRate float64
	references []string
	bandpass   dsp.SOS
	notch      dsp.SOS
}

// NewConditioner designs the filters, failing with ErrFilterConfiguration if
// any cutoff is invalid for the sampling rate
func NewConditioner(cfg ConditionerConfig) (*Conditioner, error) {
	bandpass, err := dsp.ButterworthBandpass(cfg.FilterOrder, cfg.BandpassLow, cfg.BandpassHigh, cfg.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("%w: band-pass: %v", ErrFilterConfiguration, err)
	}

	c := &Conditioner{
		sampleRate: cfg.SampleRate,
		references: append([]string(nil), cfg.ReferenceChannels...),
		bandpass:   bandpass,
	}

	if cfg.NotchFreq != 0 {
		notch, err := dsp.Notch(cfg.NotchFreq, cfg.NotchQ, cfg.SampleRate)
		if err != nil {
			return nil, fmt.Errorf("%w: notch: %v", ErrFilterConfiguration, err)
		}
		c.notch = notch
	}

	return c, nil
}

// SampleRate returns the rate the filters were designed for
func (c *Conditioner) SampleRate() float64 {
	return c.sampleRate
}

// Condition returns a filtered copy of window (channels x samples) whose rows
// are named by channels. A stage that cannot run on this window is skipped and
// the previous stage's output carries forward
func (c *Conditioner) Condition(window [][]float64, channels []string) ([][]float64, StageReport) {
	var report StageReport

	out, referenced := c.rereference(window, channels)
	report.Referenced = referenced

	if filtered, ok := applyAll(c.bandpass, out); ok {
		out = filtered
		report.Bandpassed = true
	}
	if len(c.notch) > 0 {
		if filtered, ok := applyAll(c.notch, out); ok {
			out = filtered
			report.Notched = true
		}
	}

	return out, report
}

// rereference subtracts the per-sample mean of the reference channels from
// every row. It always returns fresh rows
func (c *Conditioner) rereference(window [][]float64, channels []string) ([][]float64, bool) {
	out := make([][]float64, len(window))
	for i, row := range window {
		out[i] = append([]float64(nil), row...)
	}

	if len(c.references) == 0 {
		return out, false
	}
	refs := make([]int, 0, len(c.references))
	for _, name := range c.references {
		idx := indexOf(channels, name)
		if idx < 0 || idx >= len(window) {
			return out, false
		}
		refs = append(refs, idx)
	}

	samples := len(window[refs[0]])
	for _, idx := range refs {
		if len(window[idx]) != samples {
			return out, false
		}
	}

	n := float64(len(refs))
	for s := 0; s < samples; s++ {
		var sum float64
		for _, idx := range refs {
			sum += window[idx][s]
		}
		mean := sum / n
		for _, row := range out {
			if s < len(row) {
				row[s] -= mean
			}
		}
	}
	return out, true
}

// applyAll filters every row with sos, or reports false if any row is too
// short, leaving the input untouched
func applyAll(sos dsp.SOS, rows [][]float64) ([][]float64, bool) {
	if len(rows) == 0 {
		return rows, false
	}
	out := make([][]float64, len(rows))
	for i, row := range rows {
		filtered, err := dsp.FiltFilt(sos, row)
		if err != nil {
			return rows, false
		}
		out[i] = filtered
	}
	return out, true
}

func indexOf(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return -1
}
