package pipeline

// Auxiliary column names, in order
const (
	ColumnPPGBPM   = "ppg_bpm"
	ColumnPPGRMSSD = "ppg_rmssd"
)

// AuxFeatures are heart-rate measures from the PPG channel. BPM is the
// primary measure; nil means the source produced no usable reading
type AuxFeatures struct {
	BPM   *float64 `json:"bpm"`
	RMSSD *float64 `json:"rmssd"`
}

// Present reports whether the primary measure is available
func (a *AuxFeatures) Present() bool {
	return a != nil && a.BPM != nil
}

// FeatureMatrix is one row per epoch with named columns
type FeatureMatrix struct {
	Columns []string    `json:"columns"`
	Rows    [][]float64 `json:"rows"`
}

// AssemblerOptions controls the auxiliary column policy
type AssemblerOptions struct {
	// ZeroFillAux always emits the auxiliary columns, writing 0 for missing
	// values. When false they appear only if AuxFeatures.Present
	ZeroFillAux bool
}

// Assembler flattens epoch band powers into feature rows with a stable column
// order: channel order, then band order, then auxiliary columns
type Assembler struct {
	channels []string
	bands    []Band
	opts     AssemblerOptions
}

// NewAssembler creates an Assembler for the given channel and band order
func NewAssembler(channels []string, bands []Band, opts AssemblerOptions) *Assembler {
	if len(bands) == 0 {
		bands = DefaultBands
	}
	return &Assembler{
		channels: append([]string(nil), channels...),
		bands:    append([]Band(nil), bands...),
		opts:     opts,
	}
}

// Flatten builds the feature matrix. The EEG columns are those present in the
// first epoch; later epochs missing an entry get 0
func (a *Assembler) Flatten(epochs []Epoch, aux *AuxFeatures) FeatureMatrix {
	type cell struct{ channel, band string }

	var cells []cell
	var columns []string
	if len(epochs) > 0 {
		first := epochs[0].Powers
		for _, ch := range a.channels {
			powers, ok := first[ch]
			if !ok {
				continue
			}
			for _, band := range a.bands {
				if _, ok := powers[band.Name]; !ok {
					continue
				}
				cells = append(cells, cell{ch, band.Name})
				columns = append(columns, ch+"_"+band.Name)
			}
		}
	}

	withAux := a.opts.ZeroFillAux || aux.Present()
	var auxValues []float64
	if withAux {
		columns = append(columns, ColumnPPGBPM, ColumnPPGRMSSD)
		auxValues = []float64{0, 0}
		if aux != nil {
			if aux.BPM != nil {
				auxValues[0] = *aux.BPM
			}
			if aux.RMSSD != nil {
				auxValues[1] = *aux.RMSSD
			}
		}
	}

	rows := make([][]float64, len(epochs))
	for i, epoch := range epochs {
		row := make([]float64, 0, len(columns))
		for _, c := range cells {
			row = append(row, epoch.Powers[c.channel][c.band])
		}
		row = append(row, auxValues...)
		rows[i] = row
	}

	if columns == nil {
		columns = []string{}
	}
	return FeatureMatrix{Columns: columns, Rows: rows}
}
