package aggregator

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"neurosync-backend/internal/buffer"
	"neurosync-backend/internal/models"
)

// StreamConfig defines the buffers created for every new device
type StreamConfig struct {
	EEGChannels   []string
	EEGSampleRate float64
	EEGCapacity   int // frames kept per channel, 0 = unbounded
	PPGSampleRate float64
	PPGCapacity   int
}

// DeviceStream holds the sample buffers of one headset
type DeviceStream struct {
	DeviceID  string
	EEG       *buffer.SampleBuffer
	PPG       *buffer.SampleBuffer
	FirstSeen time.Time
}

// Active reports whether EEG has ever been appended for this device
func (ds *DeviceStream) Active() bool {
	return ds.EEG.IsActive()
}

// StreamAggregator owns one DeviceStream per device. Buffers are written only
// through Append, which the ingest service calls from a single goroutine
type StreamAggregator struct {
	config  StreamConfig
	devices map[string]*DeviceStream
	mu      sync.RWMutex

	// Callback for newly seen devices
	onNewDevice func(*DeviceStream)
}

// NewStreamAggregator creates a new stream aggregator
func NewStreamAggregator(config StreamConfig) *StreamAggregator {
	return &StreamAggregator{
		config:  config,
		devices: make(map[string]*DeviceStream),
	}
}

// SetNewDeviceCallback sets the function called once per new device
func (sa *StreamAggregator) SetNewDeviceCallback(callback func(*DeviceStream)) {
	sa.onNewDevice = callback
}

// Channels returns the EEG channel order of every stream
func (sa *StreamAggregator) Channels() []string {
	return sa.config.EEGChannels
}

// getOrCreateDevice gets or creates a device stream, reporting whether it is new
func (sa *StreamAggregator) getOrCreateDevice(deviceID string) (*DeviceStream, bool, error) {
	sa.mu.Lock()
	defer sa.mu.Unlock()

	if stream, exists := sa.devices[deviceID]; exists {
		return stream, false, nil
	}

	eeg, err := buffer.New(buffer.Config{
		Channels:   len(sa.config.EEGChannels),
		SampleRate: sa.config.EEGSampleRate,
		Capacity:   sa.config.EEGCapacity,
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to create EEG buffer: %w", err)
	}
	ppg, err := buffer.New(buffer.Config{
		Channels:   1,
		SampleRate: sa.config.PPGSampleRate,
		Capacity:   sa.config.PPGCapacity,
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to create PPG buffer: %w", err)
	}

	stream := &DeviceStream{
		DeviceID:  deviceID,
		EEG:       eeg,
		PPG:       ppg,
		FirstSeen: time.Now(),
	}
	sa.devices[deviceID] = stream
	log.Printf("StreamAggregator: New device stream %s (%d EEG channels @ %.0f Hz)",
		deviceID, eeg.Channels(), eeg.SampleRate())

	return stream, true, nil
}

// Append routes a batch to the matching buffer of its device stream
func (sa *StreamAggregator) Append(batch *models.SampleBatch) error {
	if batch.DeviceID == "" {
		return fmt.Errorf("batch has no device ID")
	}

	stream, created, err := sa.getOrCreateDevice(batch.DeviceID)
	if err != nil {
		return err
	}
	if created && sa.onNewDevice != nil {
		sa.onNewDevice(stream)
	}

	var buf *buffer.SampleBuffer
	switch batch.Kind {
	case models.StreamEEG:
		buf = stream.EEG
	case models.StreamPPG:
		buf = stream.PPG
	default:
		return fmt.Errorf("unknown stream kind %q", batch.Kind)
	}

	if batch.SampleRate > 0 && batch.SampleRate != buf.SampleRate() {
		if err := buf.SetSampleRate(batch.SampleRate); err != nil {
			return err
		}
		log.Printf("StreamAggregator: %s %s sample rate now %.2f Hz", batch.DeviceID, batch.Kind, batch.SampleRate)
	}

	return buf.Append(batch.Timestamp, batch.Frames...)
}

// GetStream returns the stream of a device
func (sa *StreamAggregator) GetStream(deviceID string) (*DeviceStream, bool) {
	sa.mu.RLock()
	defer sa.mu.RUnlock()
	stream, ok := sa.devices[deviceID]
	return stream, ok
}

// GetAllDevices returns all device IDs in sorted order
func (sa *StreamAggregator) GetAllDevices() []string {
	sa.mu.RLock()
	defer sa.mu.RUnlock()

	devices := make([]string, 0, len(sa.devices))
	for deviceID := range sa.devices {
		devices = append(devices, deviceID)
	}
	sort.Strings(devices)
	return devices
}

// ActiveDevices returns the IDs of devices that have streamed EEG
func (sa *StreamAggregator) ActiveDevices() []string {
	var active []string
	for _, deviceID := range sa.GetAllDevices() {
		if stream, ok := sa.GetStream(deviceID); ok && stream.Active() {
			active = append(active, deviceID)
		}
	}
	return active
}
