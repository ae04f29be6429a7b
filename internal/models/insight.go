package models

import "time"

// PPGMetrics are heart-rate measures attached to an insight
type PPGMetrics struct {
	BPM   *float64 `json:"bpm"`
	RMSSD *float64 `json:"rmssd"`
}

// Insight is the classified cognitive state for one window of a device stream
type Insight struct {
	ID            string             `json:"id"`
	DeviceID      string             `json:"device_id"`
	Timestamp     time.Time          `json:"timestamp"`
	PrimaryState  string             `json:"primary_state"`
	Probabilities map[string]float64 `json:"probabilities"`
	PPG           PPGMetrics         `json:"ppg"`
	WindowSeconds float64            `json:"window_seconds"`
	Samples       int                `json:"samples"`
	Epochs        int                `json:"epochs"`
	Insufficient  bool               `json:"insufficient_data"`
	ModelVersion  string             `json:"model_version"`
}

// BandPowerRow is one (epoch, channel, band) power value persisted with an insight
type BandPowerRow struct {
	Timestamp time.Time
	DeviceID  string
	InsightID string
	Epoch     int
	Start     float64 // seconds from window start
	Channel   string
	Band      string
	Power     float64
}
