package ml

import (
	"math"
	"strings"

	"neurosync-backend/internal/pipeline"
)

// HeuristicModel scores overall EEG band power when no trained model is
// available. Power around Center is ambiguous; higher power leans to focus,
// lower to calm
type HeuristicModel struct {
	Center float64
	Spread float64
}

// NewHeuristicModel returns the fallback model centred on 50 uV^2
func NewHeuristicModel() *HeuristicModel {
	return &HeuristicModel{Center: 50, Spread: 50}
}

// Version identifies the heuristic in stored insights
func (h *HeuristicModel) Version() string {
	return "heuristic-v1"
}

// Predict scores the mean per-channel total band power across epochs
func (h *HeuristicModel) Predict(features pipeline.FeatureMatrix) (*Prediction, error) {
	if len(features.Rows) == 0 {
		return nil, ErrNoFeatures
	}

	power, ok := meanChannelPower(features)
	if !ok {
		return NeutralPrediction(), nil
	}

	spread := h.Spread
	if spread == 0 {
		spread = 1
	}
	score := math.Tanh((power - h.Center) / spread)
	focus := math.Max(0, 0.5+0.5*score)
	calm := math.Max(0, 0.5-0.5*score)
	neutral := math.Max(0, 1-(focus+calm))

	sum := focus + calm + neutral
	if sum == 0 {
		sum = 1
	}
	probs := map[string]float64{
		"focus":   focus / sum,
		"calm":    calm / sum,
		"stress":  0,
		"neutral": neutral / sum,
	}
	return newPrediction(States, probs), nil
}

// meanChannelPower sums the EEG band powers of each channel and averages over
// channels and epochs. The bands tile the pass band of the conditioner, so by
// Parseval this is the mean square of the conditioned signal
func meanChannelPower(features pipeline.FeatureMatrix) (float64, bool) {
	var eegCols []int
	channels := make(map[string]struct{})
	for i, col := range features.Columns {
		if col == pipeline.ColumnPPGBPM || col == pipeline.ColumnPPGRMSSD {
			continue
		}
		eegCols = append(eegCols, i)
		if idx := strings.LastIndex(col, "_"); idx > 0 {
			channels[col[:idx]] = struct{}{}
		}
	}
	if len(channels) == 0 || len(features.Rows) == 0 {
		return 0, false
	}

	var total float64
	for _, row := range features.Rows {
		for _, i := range eegCols {
			total += row[i]
		}
	}
	return total / float64(len(features.Rows)*len(channels)), true
}
