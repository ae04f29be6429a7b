package models

import "time"

// Device represents a headset streaming into the backend
type Device struct {
	DeviceID     string    `json:"device_id"`
	Name         string    `json:"name"`
	RegisteredAt time.Time `json:"registered_at"`
	LastSeen     time.Time `json:"last_seen"`
	IsActive     bool      `json:"is_active"`
	Channels     []string  `json:"channels"`
	SampleRate   float64   `json:"sample_rate"` // EEG Hz
}
