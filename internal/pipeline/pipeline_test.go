package pipeline_test

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neurosync-backend/internal/buffer"
	"neurosync-backend/internal/dsp"
	"neurosync-backend/internal/pipeline"
)

var channels = []string{"TP9", "AF7", "AF8", "TP10"}

func noiseWindow(seed int64, rows, n int) [][]float64 {
	rng := rand.New(rand.NewSource(seed))
	out := make([][]float64, rows)
	for i := range out {
		out[i] = make([]float64, n)
		for j := range out[i] {
			out[i][j] = rng.NormFloat64() * 20
		}
	}
	return out
}

func defaultConditioner(t *testing.T) *pipeline.Conditioner {
	t.Helper()
	cfg := pipeline.DefaultConfig()
	c, err := pipeline.NewConditioner(pipeline.ConditionerConfig{
		SampleRate:        cfg.SampleRate,
		ReferenceChannels: cfg.ReferenceChannels,
		BandpassLow:       cfg.BandpassLow,
		BandpassHigh:      cfg.BandpassHigh,
		FilterOrder:       cfg.FilterOrder,
		NotchFreq:         cfg.NotchFreq,
		NotchQ:            cfg.NotchQ,
	})
	require.NoError(t, err)
	return c
}

func TestNewConditionerRejectsBadCutoffs(t *testing.T) {
	base := pipeline.ConditionerConfig{
		SampleRate:   256,
		BandpassLow:  1,
		BandpassHigh: 45,
		FilterOrder:  4,
		NotchFreq:    50,
		NotchQ:       30,
	}

	cases := map[string]func(*pipeline.ConditionerConfig){
		"high at nyquist":  func(c *pipeline.ConditionerConfig) { c.BandpassHigh = 128 },
		"low above high":   func(c *pipeline.ConditionerConfig) { c.BandpassLow = 50 },
		"non-positive low": func(c *pipeline.ConditionerConfig) { c.BandpassLow = 0 },
		"notch at nyquist": func(c *pipeline.ConditionerConfig) { c.NotchFreq = 128 },
		"negative notch":   func(c *pipeline.ConditionerConfig) { c.NotchFreq = -50 },
		"zero q":           func(c *pipeline.ConditionerConfig) { c.NotchQ = 0 },
		"zero order":       func(c *pipeline.ConditionerConfig) { c.FilterOrder = 0 },
		"low sample rate":  func(c *pipeline.ConditionerConfig) { c.SampleRate = 60 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := base
			mutate(&cfg)
			_, err := pipeline.NewConditioner(cfg)
			require.ErrorIs(t, err, pipeline.ErrFilterConfiguration)
		})
	}

	cfg := base
	cfg.NotchFreq = 0
	_, err := pipeline.NewConditioner(cfg)
	require.NoError(t, err, "zero notch disables the stage")
}

func TestConditionIsDeterministic(t *testing.T) {
	c := defaultConditioner(t)
	window := noiseWindow(1, 4, 1024)

	first, r1 := c.Condition(window, channels)
	second, r2 := c.Condition(window, channels)

	assert.Equal(t, first, second)
	assert.Equal(t, r1, r2)
	assert.Equal(t, pipeline.StageReport{Referenced: true, Bandpassed: true, Notched: true}, r1)
}

func TestConditionPreservesShapeAndInput(t *testing.T) {
	c := defaultConditioner(t)
	window := noiseWindow(2, 4, 600)
	orig := noiseWindow(2, 4, 600)

	out, _ := c.Condition(window, channels)
	require.Len(t, out, 4)
	for _, row := range out {
		assert.Len(t, row, 600)
	}
	assert.Equal(t, orig, window)

	out[0][0] = 1e9
	assert.Equal(t, orig, window)
}

func TestConditionMissingReferenceChannels(t *testing.T) {
	c := defaultConditioner(t)
	window := noiseWindow(3, 3, 20)

	out, report := c.Condition(window, []string{"AF7", "AF8", "TP9"})
	assert.False(t, report.Referenced)
	assert.False(t, report.Bandpassed)
	// Twenty samples is enough for the notch padding but not the band-pass
	assert.True(t, report.Notched)
	assert.Len(t, out, 3)
}

func TestConditionShortWindowFallsBack(t *testing.T) {
	c := defaultConditioner(t)
	window := [][]float64{
		{1, 2, 3, 4, 5},
		{5, 5, 5, 5, 5},
		{0, 0, 0, 0, 0},
		{3, 2, 1, 0, -1},
	}

	out, report := c.Condition(window, channels)
	assert.Equal(t, pipeline.StageReport{Referenced: true}, report)

	// Only re-referencing applied: reference mean of TP9 and TP10 is 2 everywhere
	want := [][]float64{
		{-1, 0, 1, 2, 3},
		{3, 3, 3, 3, 3},
		{-2, -2, -2, -2, -2},
		{1, 0, -1, -2, -3},
	}
	if diff := cmp.Diff(want, out); diff != "" {
		t.Errorf("conditioned window mismatch (-want +got):\n%s", diff)
	}
}

func TestConditionEmptyWindow(t *testing.T) {
	c := defaultConditioner(t)
	out, report := c.Condition([][]float64{{}, {}, {}, {}}, channels)
	assert.Len(t, out, 4)
	assert.False(t, report.Bandpassed)
	assert.False(t, report.Notched)
}

func TestNewExtractorRejectsNonPositiveStride(t *testing.T) {
	_, err := pipeline.NewExtractor(pipeline.EpochConfig{SampleRate: 256, EpochSeconds: 2, OverlapSeconds: 2})
	require.ErrorIs(t, err, pipeline.ErrInvalidEpochConfig)

	_, err = pipeline.NewExtractor(pipeline.EpochConfig{SampleRate: 256, EpochSeconds: 2, OverlapSeconds: 3})
	require.ErrorIs(t, err, pipeline.ErrInvalidEpochConfig)

	_, err = pipeline.NewExtractor(pipeline.EpochConfig{SampleRate: 256, EpochSeconds: 0, OverlapSeconds: 0})
	require.ErrorIs(t, err, pipeline.ErrInvalidEpochConfig)

	_, err = pipeline.NewExtractor(pipeline.EpochConfig{SampleRate: 256, EpochSeconds: 2, OverlapSeconds: -1})
	require.ErrorIs(t, err, pipeline.ErrInvalidEpochConfig)
}

func TestExtractEpochCounts(t *testing.T) {
	e, err := pipeline.NewExtractor(pipeline.EpochConfig{SampleRate: 256, EpochSeconds: 2, OverlapSeconds: 1})
	require.NoError(t, err)
	assert.Equal(t, 512, e.EpochLength())
	assert.Equal(t, 256, e.Stride())

	assert.Len(t, e.Extract(noiseWindow(4, 4, 512), channels), 1)
	assert.Empty(t, e.Extract(noiseWindow(4, 4, 511), channels))
	assert.Empty(t, e.Extract(nil, channels))

	epochs := e.Extract(noiseWindow(4, 4, 2560), channels)
	require.Len(t, epochs, 9)
	for i, ep := range epochs {
		assert.Equal(t, i, ep.Index)
		assert.Equal(t, float64(i), ep.Start)
		assert.Len(t, ep.Powers, 4)
	}

	// Partial trailing epoch is dropped
	assert.Len(t, e.Extract(noiseWindow(4, 4, 2560+255), channels), 9)
}

func TestBandPowersNonNegativeAndBounded(t *testing.T) {
	e, err := pipeline.NewExtractor(pipeline.EpochConfig{SampleRate: 256, EpochSeconds: 2})
	require.NoError(t, err)

	window := noiseWindow(5, 4, 1024)
	epochs := e.Extract(window, channels)
	require.Len(t, epochs, 2)

	w, err := dsp.NewWelch(512, 0, 256)
	require.NoError(t, err)

	for _, ep := range epochs {
		start := int(ep.Start * 256)
		for ch, name := range channels {
			psd, err := w.PSD(window[ch][start : start+512])
			require.NoError(t, err)
			total := dsp.TotalPower(w.Freqs(), psd)

			var sum float64
			for _, band := range pipeline.DefaultBands {
				p := ep.Powers[name][band.Name]
				assert.GreaterOrEqual(t, p, 0.0)
				sum += p
			}
			assert.LessOrEqual(t, sum, total*(1+1e-9))
		}
	}
}

func TestExtractSkipsNonFiniteChannel(t *testing.T) {
	e, err := pipeline.NewExtractor(pipeline.EpochConfig{SampleRate: 256, EpochSeconds: 2})
	require.NoError(t, err)

	window := noiseWindow(6, 4, 512)
	window[2][100] = math.NaN()

	epochs := e.Extract(window, channels)
	require.Len(t, epochs, 1)
	assert.NotContains(t, epochs[0].Powers, "AF8")
	assert.Contains(t, epochs[0].Powers, "TP10")
}

func powers(value float64, chans ...string) pipeline.BandPowerTable {
	table := pipeline.BandPowerTable{}
	for _, ch := range chans {
		bp := pipeline.BandPowers{}
		for _, b := range pipeline.DefaultBands {
			bp[b.Name] = value
		}
		table[ch] = bp
	}
	return table
}

func ptr(v float64) *float64 { return &v }

func TestFlattenColumnOrder(t *testing.T) {
	a := pipeline.NewAssembler(channels, pipeline.DefaultBands, pipeline.AssemblerOptions{})
	epochs := []pipeline.Epoch{{Powers: powers(1, channels...)}}

	fm := a.Flatten(epochs, nil)

	var want []string
	for _, ch := range channels {
		for _, b := range []string{"delta", "theta", "alpha", "beta", "gamma"} {
			want = append(want, ch+"_"+b)
		}
	}
	if diff := cmp.Diff(want, fm.Columns); diff != "" {
		t.Errorf("columns mismatch (-want +got):\n%s", diff)
	}
	require.Len(t, fm.Rows, 1)
	assert.Len(t, fm.Rows[0], 20)
}

func TestFlattenAuxPresence(t *testing.T) {
	epochs := []pipeline.Epoch{
		{Powers: powers(1, channels...)},
		{Powers: powers(2, channels...)},
		{Powers: powers(3, channels...)},
	}

	a := pipeline.NewAssembler(channels, nil, pipeline.AssemblerOptions{})

	fm := a.Flatten(epochs, &pipeline.AuxFeatures{BPM: ptr(72), RMSSD: ptr(40)})
	require.Len(t, fm.Rows, 3)
	assert.Len(t, fm.Columns, 22)
	assert.Equal(t, []string{pipeline.ColumnPPGBPM, pipeline.ColumnPPGRMSSD}, fm.Columns[20:])
	for _, row := range fm.Rows {
		assert.Equal(t, []float64{72, 40}, row[20:])
	}

	// RMSSD alone does not make the aux source present
	fm = a.Flatten(epochs, &pipeline.AuxFeatures{RMSSD: ptr(40)})
	assert.Len(t, fm.Columns, 20)

	fm = a.Flatten(epochs, nil)
	assert.Len(t, fm.Columns, 20)
	for _, row := range fm.Rows {
		assert.Len(t, row, 20)
	}

	// BPM without RMSSD fills the second column with zero
	fm = a.Flatten(epochs, &pipeline.AuxFeatures{BPM: ptr(60)})
	assert.Equal(t, []float64{60, 0}, fm.Rows[0][20:])
}

func TestFlattenZeroFillAux(t *testing.T) {
	a := pipeline.NewAssembler(channels, nil, pipeline.AssemblerOptions{ZeroFillAux: true})
	epochs := []pipeline.Epoch{{Powers: powers(1, channels...)}}

	fm := a.Flatten(epochs, nil)
	assert.Len(t, fm.Columns, 22)
	assert.Equal(t, []float64{0, 0}, fm.Rows[0][20:])
}

func TestFlattenMissingChannelInLaterEpoch(t *testing.T) {
	a := pipeline.NewAssembler(channels, nil, pipeline.AssemblerOptions{})
	epochs := []pipeline.Epoch{
		{Powers: powers(1, channels...)},
		{Powers: powers(2, "TP9", "AF7", "TP10")},
	}

	fm := a.Flatten(epochs, nil)
	require.Len(t, fm.Rows, 2)
	assert.Len(t, fm.Rows[1], 20)
	// AF8 occupies columns 10..14
	assert.Equal(t, []float64{0, 0, 0, 0, 0}, fm.Rows[1][10:15])
	assert.Equal(t, []float64{2, 2, 2, 2, 2}, fm.Rows[1][15:20])
}

func TestFlattenSchemaFromFirstEpoch(t *testing.T) {
	a := pipeline.NewAssembler(channels, nil, pipeline.AssemblerOptions{})
	epochs := []pipeline.Epoch{
		{Powers: powers(1, "TP9", "TP10")},
		{Powers: powers(2, channels...)},
	}

	fm := a.Flatten(epochs, nil)
	assert.Len(t, fm.Columns, 10)
	assert.Equal(t, "TP9_delta", fm.Columns[0])
	assert.Equal(t, "TP10_delta", fm.Columns[5])
	for _, row := range fm.Rows {
		assert.Len(t, row, 10)
	}
}

func TestFlattenNoEpochs(t *testing.T) {
	a := pipeline.NewAssembler(channels, nil, pipeline.AssemblerOptions{})

	fm := a.Flatten(nil, nil)
	assert.Empty(t, fm.Rows)
	assert.Empty(t, fm.Columns)
}

func TestNewPipelineErrors(t *testing.T) {
	cfg := pipeline.DefaultConfig()
	cfg.BandpassHigh = 200
	_, err := pipeline.New(cfg)
	require.ErrorIs(t, err, pipeline.ErrFilterConfiguration)

	cfg = pipeline.DefaultConfig()
	cfg.OverlapSeconds = cfg.EpochSeconds
	_, err = pipeline.New(cfg)
	require.ErrorIs(t, err, pipeline.ErrInvalidEpochConfig)
}

func newStream(t *testing.T) *buffer.SampleBuffer {
	t.Helper()
	b, err := buffer.New(buffer.Config{Channels: 4, SampleRate: 256})
	require.NoError(t, err)
	return b
}

func TestEndToEndZeroSignal(t *testing.T) {
	b := newStream(t)
	zeros := make([][]float64, 512)
	for i := range zeros {
		zeros[i] = make([]float64, 4)
	}
	require.NoError(t, b.Append(time.Now(), zeros...))

	cfg := pipeline.DefaultConfig()
	cfg.EpochSeconds = 2
	p, err := pipeline.New(cfg)
	require.NoError(t, err)

	res := p.Run(b.Window(2).Data, nil)
	require.Len(t, res.Epochs, 1)
	for _, ch := range channels {
		for _, band := range pipeline.DefaultBands {
			assert.Equal(t, 0.0, res.Epochs[0].Powers[ch][band.Name], "%s %s", ch, band.Name)
		}
	}
	require.Len(t, res.Features.Rows, 1)
	for _, v := range res.Features.Rows[0] {
		assert.Equal(t, 0.0, v)
	}
}

func TestEndToEndAlphaDominates(t *testing.T) {
	b := newStream(t)
	const fs = 256.0
	frames := make([][]float64, 4*int(fs))
	for i := range frames {
		frames[i] = []float64{0, math.Sin(2 * math.Pi * 10 * float64(i) / fs), 0, 0}
	}
	require.NoError(t, b.Append(time.Now(), frames...))

	cfg := pipeline.DefaultConfig()
	cfg.OverlapSeconds = 0
	p, err := pipeline.New(cfg)
	require.NoError(t, err)

	res := p.Run(b.Window(4).Data, nil)
	require.Len(t, res.Epochs, 2)
	for _, ep := range res.Epochs {
		af7 := ep.Powers["AF7"]
		for _, band := range []string{"delta", "theta", "beta", "gamma"} {
			assert.Greater(t, af7["alpha"], af7[band], "epoch %d band %s", ep.Index, band)
		}
	}
}

func TestEndToEndWindowLongerThanHistory(t *testing.T) {
	b := newStream(t)
	frames := noiseWindow(7, 300, 4)
	require.NoError(t, b.Append(time.Now(), frames...))

	w := b.Window(30)
	assert.Equal(t, 300, w.Samples())

	p, err := pipeline.New(pipeline.DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, 512, p.MinSamples())

	res := p.Run(w.Data, nil)
	assert.Empty(t, res.Epochs)
	assert.Empty(t, res.Features.Rows)
}
