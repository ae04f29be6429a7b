package models

import "time"

// StreamKind identifies which buffer of a device stream a batch belongs to
type StreamKind string

const (
	StreamEEG StreamKind = "eeg"
	StreamPPG StreamKind = "ppg"
)

// SamplePayload is the JSON body published by a headset bridge on
// muse/{device_id}/eeg and muse/{device_id}/ppg
type SamplePayload struct {
	DeviceID   string      `json:"device_id,omitempty"`
	Timestamp  string      `json:"timestamp,omitempty"`   // RFC3339, optional
	SampleRate float64     `json:"sample_rate,omitempty"` // Hz, optional
	Samples    [][]float64 `json:"samples"`               // frames x values
}

// SampleBatch is a run of frames for one stream, already reshaped to the
// stream's channel layout by the source adapter
type SampleBatch struct {
	DeviceID   string
	Kind       StreamKind
	Timestamp  time.Time
	SampleRate float64 // 0 when the source did not report one
	Frames     [][]float64
}
