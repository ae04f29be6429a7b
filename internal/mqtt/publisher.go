package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"neurosync-backend/internal/models"
)

// Publisher handles MQTT publishing from channels
type Publisher struct {
	client mqtt.Client

	// Input channel (read by publisher, written by insight service)
	InsightChan chan *models.Insight

	// Topic pattern
	insightTopic string // e.g., "insights/{device_id}"
}

// PublisherConfig holds configuration for MQTT publisher
type PublisherConfig struct {
	InsightTopic string // e.g., "insights/{device_id}"
}

// NewPublisher creates a new MQTT publisher with channels
func NewPublisher(
	client mqtt.Client,
	config PublisherConfig,
	insightChan chan *models.Insight,
) *Publisher {
	return &Publisher{
		client:       client,
		InsightChan:  insightChan,
		insightTopic: config.InsightTopic,
	}
}

// Start begins publishing insights from the channel
// Runs until context is cancelled or channel is closed
func (p *Publisher) Start(ctx context.Context) {
	log.Println("MQTT Publisher: Starting...")

	for {
		select {
		case <-ctx.Done():
			log.Println("MQTT Publisher: Context cancelled, shutting down...")
			return

		case insight, ok := <-p.InsightChan:
			if !ok {
				log.Println("MQTT Publisher: Insight channel closed, shutting down...")
				return
			}

			if err := p.publishInsight(insight); err != nil {
				log.Printf("Error publishing insight: %v", err)
			}
		}
	}
}

// publishInsight publishes one insight to its device topic
func (p *Publisher) publishInsight(insight *models.Insight) error {
	payload, err := json.Marshal(insight)
	if err != nil {
		return fmt.Errorf("failed to marshal insight: %w", err)
	}

	topic := formatTopic(p.insightTopic, insight.DeviceID)

	token := p.client.Publish(topic, 1, false, payload)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to publish insight: %w", token.Error())
	}

	log.Printf("Published %s insight for device %s to topic: %s", insight.PrimaryState, insight.DeviceID, topic)
	return nil
}

// PublishSamples publishes a sample payload, used by the emulator
func PublishSamples(client mqtt.Client, topicPattern, deviceID string, payload *models.SamplePayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal samples: %w", err)
	}

	token := client.Publish(formatTopic(topicPattern, deviceID), 0, false, data)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to publish samples: %w", token.Error())
	}
	return nil
}

// formatTopic replaces {device_id} placeholder with actual device ID
func formatTopic(topicPattern, deviceID string) string {
	return strings.ReplaceAll(topicPattern, "{device_id}", deviceID)
}
