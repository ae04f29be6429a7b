package pipeline

// Config is the full set of parameters for the canonical pipeline
type Config struct {
	SampleRate        float64
	Channels          []string
	ReferenceChannels []string

	BandpassLow  float64
	BandpassHigh float64
	FilterOrder  int
	NotchFreq    float64
	NotchQ       float64

	EpochSeconds   float64
	OverlapSeconds float64
	Bands          []Band

	ZeroFillAux bool
}

// DefaultConfig returns the fallbacks for a four-channel headband at 256 Hz
func DefaultConfig() Config {
	return Config{
		SampleRate:        256,
		Channels:          []string{"TP9", "AF7", "AF8", "TP10"},
		ReferenceChannels: []string{"TP9", "TP10"},
		BandpassLow:       1,
		BandpassHigh:      45,
		FilterOrder:       4,
		NotchFreq:         50,
		NotchQ:            30,
		EpochSeconds:      2,
		OverlapSeconds:    1,
		Bands:             DefaultBands,
	}
}

// Result is everything one pipeline run produces
type Result struct {
	Filtered [][]float64
	Epochs   []Epoch
	Features FeatureMatrix
	Stages   StageReport
}

// Pipeline composes condition, extract and flatten. It is safe for
// concurrent use
type Pipeline struct {
	cfg         Config
	conditioner *Conditioner
	extractor   *Extractor
	assembler   *Assembler
}

// New builds every stage, returning the first construction error
func New(cfg Config) (*Pipeline, error) {
	if len(cfg.Bands) == 0 {
		cfg.Bands = DefaultBands
	}

	conditioner, err := NewConditioner(ConditionerConfig{
		SampleRate:        cfg.SampleRate,
		ReferenceChannels: cfg.ReferenceChannels,
		BandpassLow:       cfg.BandpassLow,
		BandpassHigh:      cfg.BandpassHigh,
		FilterOrder:       cfg.FilterOrder,
		NotchFreq:         cfg.NotchFreq,
		NotchQ:            cfg.NotchQ,
	})
	if err != nil {
		return nil, err
	}

	extractor, err := NewExtractor(EpochConfig{
		SampleRate:     cfg.SampleRate,
		EpochSeconds:   cfg.EpochSeconds,
		OverlapSeconds: cfg.OverlapSeconds,
		Bands:          cfg.Bands,
	})
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		cfg:         cfg,
		conditioner: conditioner,
		extractor:   extractor,
		assembler:   NewAssembler(cfg.Channels, cfg.Bands, AssemblerOptions{ZeroFillAux: cfg.ZeroFillAux}),
	}, nil
}

// Run conditions window (rows in Config.Channels order), extracts epochs and
// flattens them together with aux. Zero epochs means not enough data
func (p *Pipeline) Run(window [][]float64, aux *AuxFeatures) Result {
	filtered, stages := p.conditioner.Condition(window, p.cfg.Channels)
	epochs := p.extractor.Extract(filtered, p.cfg.Channels)
	return Result{
		Filtered: filtered,
		Epochs:   epochs,
		Features: p.assembler.Flatten(epochs, aux),
		Stages:   stages,
	}
}

// MinSamples is the shortest window that yields an epoch
func (p *Pipeline) MinSamples() int {
	return p.extractor.EpochLength()
}

// SampleRate returns the rate the pipeline was built for
func (p *Pipeline) SampleRate() float64 {
	return p.cfg.SampleRate
}

// Channels returns the canonical channel order
func (p *Pipeline) Channels() []string {
	return p.cfg.Channels
}

// Bands returns the band order used for every epoch
func (p *Pipeline) Bands() []Band {
	return p.extractor.Bands()
}
