package services

import (
	"context"
	"errors"
	"log"
	"sync/atomic"
	"time"

	"neurosync-backend/internal/aggregator"
	"neurosync-backend/internal/buffer"
	"neurosync-backend/internal/models"
)

// DeviceStore persists the device registry
type DeviceStore interface {
	UpsertDevice(device *models.Device) error
}

// DeviceTracker is notified of every newly seen device
type DeviceTracker interface {
	RegisterDevice(deviceID string)
}

// IngestService is the single writer of every device buffer. It drains the
// sample channels filled by the MQTT subscriber or the EDF replay
type IngestService struct {
	aggregator *aggregator.StreamAggregator
	store      DeviceStore
	tracker    DeviceTracker

	// Input channels from sources
	EEGChan chan *models.SampleBatch
	PPGChan chan *models.SampleBatch

	accepted atomic.Uint64
	rejected atomic.Uint64
}

// IngestServiceConfig holds configuration for ingest service
type IngestServiceConfig struct {
	EEGChannelSize int
	PPGChannelSize int
}

// DefaultIngestServiceConfig returns default configuration
func DefaultIngestServiceConfig() IngestServiceConfig {
	return IngestServiceConfig{
		EEGChannelSize: 256,
		PPGChannelSize: 64,
	}
}

// NewIngestService creates a new ingest service. store and tracker may be nil
func NewIngestService(
	agg *aggregator.StreamAggregator,
	store DeviceStore,
	tracker DeviceTracker,
	config IngestServiceConfig,
) *IngestService {
	s := &IngestService{
		aggregator: agg,
		store:      store,
		tracker:    tracker,
		EEGChan:    make(chan *models.SampleBatch, config.EEGChannelSize),
		PPGChan:    make(chan *models.SampleBatch, config.PPGChannelSize),
	}
	agg.SetNewDeviceCallback(s.registerDevice)
	return s
}

// Start processes sample batches until context is cancelled
func (s *IngestService) Start(ctx context.Context) {
	log.Println("IngestService: Starting...")

	for {
		select {
		case <-ctx.Done():
			log.Printf("IngestService: Shutting down (accepted=%d, rejected=%d)", s.accepted.Load(), s.rejected.Load())
			return
		case batch, ok := <-s.EEGChan:
			if !ok {
				s.EEGChan = nil
				continue
			}
			s.processBatch(batch)
		case batch, ok := <-s.PPGChan:
			if !ok {
				s.PPGChan = nil
				continue
			}
			s.processBatch(batch)
		}
	}
}

// processBatch appends one batch to its device stream
func (s *IngestService) processBatch(batch *models.SampleBatch) {
	if err := s.aggregator.Append(batch); err != nil {
		s.rejected.Add(1)
		if errors.Is(err, buffer.ErrShapeMismatch) {
			log.Printf("IngestService: Dropped %s batch from %s: %v", batch.Kind, batch.DeviceID, err)
			return
		}
		log.Printf("IngestService: Error appending %s batch from %s: %v", batch.Kind, batch.DeviceID, err)
		return
	}
	s.accepted.Add(1)
}

// Stats returns the number of accepted and rejected batches
func (s *IngestService) Stats() (accepted, rejected uint64) {
	return s.accepted.Load(), s.rejected.Load()
}

// registerDevice auto-registers a device on its first batch
func (s *IngestService) registerDevice(stream *aggregator.DeviceStream) {
	device := &models.Device{
		DeviceID:     stream.DeviceID,
		Name:         stream.DeviceID,
		RegisteredAt: stream.FirstSeen,
		LastSeen:     time.Now(),
		IsActive:     true,
		Channels:     s.aggregator.Channels(),
		SampleRate:   stream.EEG.SampleRate(),
	}

	// Best effort - don't fail if registration fails
	if s.store != nil {
		if err := s.store.UpsertDevice(device); err != nil {
			log.Printf("IngestService: Error registering device %s: %v", stream.DeviceID, err)
		}
	}

	if s.tracker != nil {
		s.tracker.RegisterDevice(stream.DeviceID)
	}
}
