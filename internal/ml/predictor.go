package ml

import (
	"encoding/json"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"neurosync-backend/internal/pipeline"
)

// Model is a multinomial logistic regression over standardised features
type Model struct {
	Version      string      `json:"version"`
	Classes      []string    `json:"classes"`
	FeatureNames []string    `json:"feature_names"`
	Mean         []float64   `json:"mean"`
	Scale        []float64   `json:"scale"`
	Coefficients [][]float64 `json:"coefficients"` // classes x features
	Intercepts   []float64   `json:"intercepts"`
}

func (m *Model) validate() error {
	nf := len(m.FeatureNames)
	nc := len(m.Classes)
	if nc == 0 || nf == 0 {
		return fmt.Errorf("model needs classes and features, got %d and %d", nc, nf)
	}
	if len(m.Mean) != nf || len(m.Scale) != nf {
		return fmt.Errorf("scaler has %d/%d entries for %d features", len(m.Mean), len(m.Scale), nf)
	}
	if len(m.Coefficients) != nc || len(m.Intercepts) != nc {
		return fmt.Errorf("coefficients cover %d/%d classes, want %d", len(m.Coefficients), len(m.Intercepts), nc)
	}
	for i, row := range m.Coefficients {
		if len(row) != nf {
			return fmt.Errorf("class %s has %d coefficients, want %d", m.Classes[i], len(row), nf)
		}
	}
	return nil
}

// Predictor handles ML predictions
type Predictor struct {
	model   *Model
	weights *mat.Dense
	bias    *mat.VecDense
}

// NewPredictor creates a new predictor by loading the model from file
func NewPredictor(modelPath string) (*Predictor, error) {
	data, err := os.ReadFile(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read model file: %w", err)
	}

	var model Model
	if err := json.Unmarshal(data, &model); err != nil {
		return nil, fmt.Errorf("failed to unmarshal model: %w", err)
	}

	p, err := NewPredictorFromModel(&model)
	if err != nil {
		return nil, err
	}

	log.Printf("Loaded model %s from %s (%d classes, %d features)",
		model.Version, modelPath, len(model.Classes), len(model.FeatureNames))
	return p, nil
}

// NewPredictorFromModel validates model and prepares its weight matrix
func NewPredictorFromModel(model *Model) (*Predictor, error) {
	if err := model.validate(); err != nil {
		return nil, fmt.Errorf("invalid model: %w", err)
	}

	nc, nf := len(model.Classes), len(model.FeatureNames)
	weights := mat.NewDense(nc, nf, nil)
	for i, row := range model.Coefficients {
		weights.SetRow(i, row)
	}

	return &Predictor{
		model:   model,
		weights: weights,
		bias:    mat.NewVecDense(nc, append([]float64(nil), model.Intercepts...)),
	}, nil
}

// Version returns the model version string
func (p *Predictor) Version() string {
	return p.model.Version
}

// FeatureNames returns the column schema the model was trained on
func (p *Predictor) FeatureNames() []string {
	return p.model.FeatureNames
}

// Predict scores every epoch row and averages the class probabilities
func (p *Predictor) Predict(features pipeline.FeatureMatrix) (*Prediction, error) {
	if len(features.Rows) == 0 {
		return nil, ErrNoFeatures
	}
	if err := p.checkSchema(features.Columns); err != nil {
		return nil, err
	}

	nc, nf := len(p.model.Classes), len(p.model.FeatureNames)
	avg := make([]float64, nc)
	x := mat.NewVecDense(nf, nil)
	logits := mat.NewVecDense(nc, nil)

	for _, row := range features.Rows {
		for j, v := range row {
			scale := p.model.Scale[j]
			if scale == 0 {
				scale = 1
			}
			x.SetVec(j, (v-p.model.Mean[j])/scale)
		}
		logits.MulVec(p.weights, x)
		logits.AddVec(logits, p.bias)

		raw := logits.RawVector().Data
		lse := floats.LogSumExp(raw)
		for i, l := range raw {
			avg[i] += math.Exp(l - lse)
		}
	}

	probs := make(map[string]float64, len(States))
	for i, class := range p.model.Classes {
		probs[class] = avg[i] / float64(len(features.Rows))
	}
	return newPrediction(p.model.Classes, probs), nil
}

func (p *Predictor) checkSchema(columns []string) error {
	want := p.model.FeatureNames
	if len(columns) != len(want) {
		return fmt.Errorf("%w: got %d columns, model expects %d", ErrSchemaMismatch, len(columns), len(want))
	}
	for i := range want {
		if columns[i] != want[i] {
			return fmt.Errorf("%w: column %d is %q, model expects %q", ErrSchemaMismatch, i, columns[i], want[i])
		}
	}
	return nil
}

// CreateSampleModel writes a starter model for the given column schema
// Call this if no model file exists
func CreateSampleModel(path string, featureNames []string) error {
	classes := []string{"focus", "calm", "stress"}
	model := Model{
		Version:      "sample-v1",
		Classes:      classes,
		FeatureNames: append([]string(nil), featureNames...),
		Mean:         make([]float64, len(featureNames)),
		Scale:        make([]float64, len(featureNames)),
		Coefficients: make([][]float64, len(classes)),
		Intercepts:   make([]float64, len(classes)),
	}

	// Beta drives focus, alpha and theta drive calm, gamma drives stress
	weightsByBand := map[string][3]float64{
		"delta": {-0.1, 0.1, 0},
		"theta": {-0.2, 0.3, 0},
		"alpha": {-0.3, 0.5, -0.1},
		"beta":  {0.5, -0.2, 0.2},
		"gamma": {0.1, -0.2, 0.4},
	}
	for i := range classes {
		model.Coefficients[i] = make([]float64, len(featureNames))
	}
	for j, name := range featureNames {
		model.Scale[j] = 1
		for band, w := range weightsByBand {
			if strings.HasSuffix(name, "_"+band) {
				for i := range classes {
					model.Coefficients[i][j] = w[i]
				}
			}
		}
	}

	data, err := json.MarshalIndent(model, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal model: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write model file: %w", err)
	}

	log.Printf("Created sample model at %s", path)
	return nil
}
