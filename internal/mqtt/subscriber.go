package mqtt

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"neurosync-backend/internal/models"
)

// Subscriber handles MQTT subscriptions and writes sample batches to channels
type Subscriber struct {
	client mqtt.Client

	// Output channels (written by subscriber, read by the ingest service)
	EEGChan chan *models.SampleBatch
	PPGChan chan *models.SampleBatch

	// Topic patterns
	eegTopic string
	ppgTopic string

	// EEG frames are sliced to this many values
	eegChannels int
}

// SubscriberConfig holds configuration for MQTT subscriber
type SubscriberConfig struct {
	EEGTopic string // e.g., "muse/+/eeg"
	PPGTopic string // e.g., "muse/+/ppg"
}

// NewSubscriber creates a new MQTT subscriber with channels
func NewSubscriber(
	client mqtt.Client,
	config SubscriberConfig,
	eegChannels int,
	eegChan chan *models.SampleBatch,
	ppgChan chan *models.SampleBatch,
) *Subscriber {
	return &Subscriber{
		client:      client,
		EEGChan:     eegChan,
		PPGChan:     ppgChan,
		eegTopic:    config.EEGTopic,
		ppgTopic:    config.PPGTopic,
		eegChannels: eegChannels,
	}
}

// SubscribeAll subscribes to all configured sample topics
func (s *Subscriber) SubscribeAll() error {
	if s.eegTopic != "" {
		if err := s.subscribeToTopic(s.eegTopic, s.handleEEG); err != nil {
			return fmt.Errorf("failed to subscribe to EEG topic: %w", err)
		}
		log.Printf("Subscribed to EEG topic: %s", s.eegTopic)
	}

	if s.ppgTopic != "" {
		if err := s.subscribeToTopic(s.ppgTopic, s.handlePPG); err != nil {
			return fmt.Errorf("failed to subscribe to PPG topic: %w", err)
		}
		log.Printf("Subscribed to PPG topic: %s", s.ppgTopic)
	}

	return nil
}

// subscribeToTopic is a helper function to subscribe to a topic with a handler
func (s *Subscriber) subscribeToTopic(topic string, handler mqtt.MessageHandler) error {
	token := s.client.Subscribe(topic, 1, handler)
	if token.Wait() && token.Error() != nil {
		return token.Error()
	}
	return nil
}

// handleEEG processes EEG sample messages and writes to channel
func (s *Subscriber) handleEEG(client mqtt.Client, msg mqtt.Message) {
	batch, err := parseBatch(msg.Topic(), msg.Payload(), models.StreamEEG, s.eegChannels)
	if err != nil {
		log.Printf("Error parsing EEG batch: %v", err)
		return
	}
	s.send(s.EEGChan, batch)
}

// handlePPG processes PPG sample messages and writes to channel
func (s *Subscriber) handlePPG(client mqtt.Client, msg mqtt.Message) {
	batch, err := parseBatch(msg.Topic(), msg.Payload(), models.StreamPPG, 1)
	if err != nil {
		log.Printf("Error parsing PPG batch: %v", err)
		return
	}
	s.send(s.PPGChan, batch)
}

// send writes a batch to its channel (non-blocking with timeout)
func (s *Subscriber) send(ch chan *models.SampleBatch, batch *models.SampleBatch) {
	select {
	case ch <- batch:
	case <-time.After(1 * time.Second):
		log.Printf("Warning: %s channel full, dropping %d frames from %s", batch.Kind, len(batch.Frames), batch.DeviceID)
	}
}

// parseBatch decodes a sample payload. Frames wider than width are cut to
// their first width values; narrower frames are passed on for the buffer to
// reject
func parseBatch(topic string, data []byte, kind models.StreamKind, width int) (*models.SampleBatch, error) {
	var payload models.SamplePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sample payload: %w", err)
	}

	deviceID := extractDeviceID(topic)
	if deviceID == "" {
		deviceID = payload.DeviceID
	}
	if deviceID == "" {
		return nil, fmt.Errorf("could not extract device ID from topic: %s", topic)
	}

	if len(payload.Samples) == 0 {
		return nil, fmt.Errorf("empty sample payload from %s", deviceID)
	}

	// Generate timestamp server-side when the bridge did not send one
	timestamp := time.Now()
	if payload.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339Nano, payload.Timestamp)
		if err != nil {
			log.Printf("Invalid timestamp %q from %s, using receive time", payload.Timestamp, deviceID)
		} else {
			timestamp = ts
		}
	}

	frames := make([][]float64, len(payload.Samples))
	for i, frame := range payload.Samples {
		if len(frame) > width {
			frame = frame[:width]
		}
		frames[i] = frame
	}

	return &models.SampleBatch{
		DeviceID:   deviceID,
		Kind:       kind,
		Timestamp:  timestamp,
		SampleRate: payload.SampleRate,
		Frames:     frames,
	}, nil
}

// extractDeviceID extracts device ID from MQTT topic
// Example: "muse/muse-01/eeg" -> "muse-01"
func extractDeviceID(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) >= 2 {
		return parts[1]
	}
	return ""
}
