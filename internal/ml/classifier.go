package ml

import (
	"errors"

	"neurosync-backend/internal/pipeline"
)

var (
	// ErrSchemaMismatch is returned when feature columns differ from the ones
	// a model was trained on
	ErrSchemaMismatch = errors.New("feature schema mismatch")

	// ErrNoFeatures is returned when asked to classify an empty matrix
	ErrNoFeatures = errors.New("no feature rows")
)

// States are always present in a prediction's probabilities
var States = []string{"focus", "calm", "stress", "neutral"}

// Prediction is a class distribution averaged over epochs
type Prediction struct {
	PrimaryState  string             `json:"primary_state"`
	Probabilities map[string]float64 `json:"probabilities"`
}

// Classifier maps a feature matrix to a prediction
type Classifier interface {
	Predict(features pipeline.FeatureMatrix) (*Prediction, error)
	Version() string
}

// NeutralPrediction is reported when a window holds no complete epoch
func NeutralPrediction() *Prediction {
	return &Prediction{
		PrimaryState: "neutral",
		Probabilities: map[string]float64{
			"focus":   0.33,
			"calm":    0.33,
			"stress":  0.0,
			"neutral": 0.34,
		},
	}
}

// newPrediction fills missing states with 0 and picks the most likely class,
// preferring the earlier entry in order on ties
func newPrediction(order []string, probs map[string]float64) *Prediction {
	for _, state := range States {
		if _, ok := probs[state]; !ok {
			probs[state] = 0
		}
	}
	primary := ""
	best := -1.0
	for _, class := range order {
		if p := probs[class]; p > best {
			primary, best = class, p
		}
	}
	return &Prediction{PrimaryState: primary, Probabilities: probs}
}
