package services

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"neurosync-backend/internal/aggregator"
	"neurosync-backend/internal/buffer"
	"neurosync-backend/internal/ml"
	"neurosync-backend/internal/models"
	"neurosync-backend/internal/pipeline"
	"neurosync-backend/internal/ppg"
)

var (
	// ErrStreamNotStarted is returned for devices that have not streamed EEG yet
	ErrStreamNotStarted = errors.New("stream not started")

	// ErrSampleRateMismatch is returned when a device streams at a rate the
	// pipeline was not built for
	ErrSampleRateMismatch = errors.New("sample rate mismatch")
)

// Analysis is one pipeline run over the latest window of a device
type Analysis struct {
	DeviceID string
	Window   buffer.Window
	Aux      *pipeline.AuxFeatures
	Result   pipeline.Result
}

// Analyzer runs the feature pipeline and classifier over device streams
type Analyzer struct {
	aggregator *aggregator.StreamAggregator
	pipeline   *pipeline.Pipeline
	classifier ml.Classifier
	ppg        *ppg.Extractor
}

// NewAnalyzer creates a new analyzer. A nil ppg extractor disables heart-rate features
func NewAnalyzer(agg *aggregator.StreamAggregator, pipe *pipeline.Pipeline, classifier ml.Classifier, ppgExtractor *ppg.Extractor) *Analyzer {
	return &Analyzer{
		aggregator: agg,
		pipeline:   pipe,
		classifier: classifier,
		ppg:        ppgExtractor,
	}
}

// Pipeline returns the pipeline the analyzer runs
func (a *Analyzer) Pipeline() *pipeline.Pipeline {
	return a.pipeline
}

// ResolveDevice returns deviceID, or the first known device when it is empty
func (a *Analyzer) ResolveDevice(deviceID string) (string, error) {
	if deviceID != "" {
		return deviceID, nil
	}
	devices := a.aggregator.GetAllDevices()
	if len(devices) == 0 {
		return "", ErrStreamNotStarted
	}
	return devices[0], nil
}

// Features conditions the latest windowSeconds of a device and extracts its
// feature matrix
func (a *Analyzer) Features(deviceID string, windowSeconds float64) (*Analysis, error) {
	stream, ok := a.aggregator.GetStream(deviceID)
	if !ok || !stream.Active() {
		return nil, fmt.Errorf("%w: device %s", ErrStreamNotStarted, deviceID)
	}

	window := stream.EEG.Window(windowSeconds)
	if window.SampleRate != a.pipeline.SampleRate() {
		return nil, fmt.Errorf("%w: device %s streams at %.2f Hz, pipeline expects %.2f Hz",
			ErrSampleRateMismatch, deviceID, window.SampleRate, a.pipeline.SampleRate())
	}

	var aux *pipeline.AuxFeatures
	if a.ppg != nil && stream.PPG.IsActive() {
		ppgWindow := stream.PPG.Window(windowSeconds)
		aux = a.ppg.Extract(ppgWindow.Data[0], ppgWindow.SampleRate)
	}

	result := a.pipeline.Run(window.Data, aux)
	if !result.Stages.Referenced {
		log.Printf("Analyzer: Reference channels missing for %s, skipped re-referencing", deviceID)
	}

	return &Analysis{
		DeviceID: deviceID,
		Window:   window,
		Aux:      aux,
		Result:   result,
	}, nil
}

// Analyze classifies the latest windowSeconds of a device. A window too
// short for one epoch yields a neutral insight flagged as insufficient
func (a *Analyzer) Analyze(deviceID string, windowSeconds float64) (*models.Insight, *Analysis, error) {
	analysis, err := a.Features(deviceID, windowSeconds)
	if err != nil {
		return nil, nil, err
	}

	insight := &models.Insight{
		ID:            uuid.NewString(),
		DeviceID:      deviceID,
		Timestamp:     time.Now().UTC(),
		WindowSeconds: windowSeconds,
		Samples:       analysis.Window.Samples(),
		Epochs:        len(analysis.Result.Epochs),
		ModelVersion:  a.classifier.Version(),
	}
	if analysis.Aux != nil {
		insight.PPG = models.PPGMetrics{BPM: analysis.Aux.BPM, RMSSD: analysis.Aux.RMSSD}
	}

	var prediction *ml.Prediction
	if len(analysis.Result.Epochs) == 0 {
		prediction = ml.NeutralPrediction()
		insight.Insufficient = true
	} else {
		prediction, err = a.classifier.Predict(analysis.Result.Features)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to classify %s: %w", deviceID, err)
		}
	}

	insight.PrimaryState = prediction.PrimaryState
	insight.Probabilities = prediction.Probabilities
	return insight, analysis, nil
}

// BandPowerRows flattens the epochs of an analysis into storage rows
func (a *Analyzer) BandPowerRows(insight *models.Insight, analysis *Analysis) []models.BandPowerRow {
	var rows []models.BandPowerRow
	for _, epoch := range analysis.Result.Epochs {
		for _, channel := range a.pipeline.Channels() {
			powers, ok := epoch.Powers[channel]
			if !ok {
				continue
			}
			for _, band := range a.pipeline.Bands() {
				power, ok := powers[band.Name]
				if !ok {
					continue
				}
				rows = append(rows, models.BandPowerRow{
					Timestamp: insight.Timestamp,
					DeviceID:  insight.DeviceID,
					InsightID: insight.ID,
					Epoch:     epoch.Index,
					Start:     epoch.Start,
					Channel:   channel,
					Band:      band.Name,
					Power:     power,
				})
			}
		}
	}
	return rows
}
