package pipeline

import "errors"

var (
	// ErrFilterConfiguration is returned by NewConditioner when the filter
	// parameters cannot be realised at the configured sampling rate
	ErrFilterConfiguration = errors.New("filter configuration")

	// ErrInvalidEpochConfig is returned by NewExtractor when epoch length or
	// stride is not a positive number of samples
	ErrInvalidEpochConfig = errors.New("invalid epoch configuration")
)

// Band is a half-open frequency interval [Low, High) in Hz
type Band struct {
	Name string
	Low  float64
	High float64
}

// DefaultBands are the canonical EEG bands in column order
var DefaultBands = []Band{
	{Name: "delta", Low: 1, High: 4},
	{Name: "theta", Low: 4, High: 8},
	{Name: "alpha", Low: 8, High: 12},
	{Name: "beta", Low: 12, High: 30},
	{Name: "gamma", Low: 30, High: 45},
}

// BandPowers maps band name to integrated power
type BandPowers map[string]float64

// BandPowerTable maps channel name to its band powers for one epoch
type BandPowerTable map[string]BandPowers
