package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neurosync-backend/internal/models"
)

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 1 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

type fakeToken struct{}

func (fakeToken) Wait() bool                     { return true }
func (fakeToken) WaitTimeout(time.Duration) bool { return true }
func (fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (fakeToken) Error() error { return nil }

type published struct {
	topic   string
	payload []byte
}

// fakeClient records publishes; every other method panics through the nil embed
type fakeClient struct {
	mqtt.Client
	published chan published
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.published <- published{topic: topic, payload: payload.([]byte)}
	return fakeToken{}
}

func TestExtractDeviceID(t *testing.T) {
	assert.Equal(t, "muse-01", extractDeviceID("muse/muse-01/eeg"))
	assert.Equal(t, "", extractDeviceID("muse"))
}

func TestFormatTopic(t *testing.T) {
	assert.Equal(t, "insights/muse-01", formatTopic("insights/{device_id}", "muse-01"))
}

func TestParseBatchSlicesWideFrames(t *testing.T) {
	data := []byte(`{"timestamp":"2024-03-01T10:00:00Z","sample_rate":256,"samples":[[1,2,3,4,5],[6,7,8,9,10]]}`)

	batch, err := parseBatch("muse/muse-01/eeg", data, models.StreamEEG, 4)
	require.NoError(t, err)

	assert.Equal(t, "muse-01", batch.DeviceID)
	assert.Equal(t, models.StreamEEG, batch.Kind)
	assert.Equal(t, 256.0, batch.SampleRate)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), batch.Timestamp.UTC())
	assert.Equal(t, [][]float64{{1, 2, 3, 4}, {6, 7, 8, 9}}, batch.Frames)
}

func TestParseBatchKeepsNarrowFrames(t *testing.T) {
	data := []byte(`{"samples":[[1,2]]}`)

	before := time.Now()
	batch, err := parseBatch("muse/muse-01/eeg", data, models.StreamEEG, 4)
	require.NoError(t, err)

	assert.Equal(t, [][]float64{{1, 2}}, batch.Frames)
	assert.False(t, batch.Timestamp.Before(before))
	assert.Zero(t, batch.SampleRate)
}

func TestParseBatchErrors(t *testing.T) {
	_, err := parseBatch("muse/muse-01/eeg", []byte(`not json`), models.StreamEEG, 4)
	assert.Error(t, err)

	_, err = parseBatch("muse/muse-01/eeg", []byte(`{"samples":[]}`), models.StreamEEG, 4)
	assert.Error(t, err)

	_, err = parseBatch("muse", []byte(`{"samples":[[1]]}`), models.StreamPPG, 1)
	assert.Error(t, err)

	batch, err := parseBatch("muse", []byte(`{"device_id":"muse-02","samples":[[1]]}`), models.StreamPPG, 1)
	require.NoError(t, err)
	assert.Equal(t, "muse-02", batch.DeviceID)
}

func TestHandlersRouteByKind(t *testing.T) {
	eeg := make(chan *models.SampleBatch, 1)
	ppg := make(chan *models.SampleBatch, 1)
	s := NewSubscriber(nil, SubscriberConfig{}, 4, eeg, ppg)

	s.handleEEG(nil, &fakeMessage{topic: "muse/a/eeg", payload: []byte(`{"samples":[[1,2,3,4,5]]}`)})
	s.handlePPG(nil, &fakeMessage{topic: "muse/a/ppg", payload: []byte(`{"samples":[[70,71,72]]}`)})
	s.handleEEG(nil, &fakeMessage{topic: "muse/a/eeg", payload: []byte(`garbage`)})

	got := <-eeg
	assert.Equal(t, [][]float64{{1, 2, 3, 4}}, got.Frames)

	got = <-ppg
	assert.Equal(t, models.StreamPPG, got.Kind)
	assert.Equal(t, [][]float64{{70}}, got.Frames)

	assert.Empty(t, eeg)
}

func TestPublisherPublishesInsights(t *testing.T) {
	client := &fakeClient{published: make(chan published, 1)}
	insights := make(chan *models.Insight, 1)
	p := NewPublisher(client, PublisherConfig{InsightTopic: "insights/{device_id}"}, insights)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Start(ctx)

	insights <- &models.Insight{ID: "x", DeviceID: "muse-01", PrimaryState: "calm"}

	select {
	case msg := <-client.published:
		assert.Equal(t, "insights/muse-01", msg.topic)
		var decoded models.Insight
		require.NoError(t, json.Unmarshal(msg.payload, &decoded))
		assert.Equal(t, "calm", decoded.PrimaryState)
	case <-time.After(2 * time.Second):
		t.Fatal("insight was not published")
	}
}

func TestPublishSamples(t *testing.T) {
	client := &fakeClient{published: make(chan published, 1)}

	err := PublishSamples(client, "muse/{device_id}/ppg", "muse-01", &models.SamplePayload{Samples: [][]float64{{1}}})
	require.NoError(t, err)

	msg := <-client.published
	assert.Equal(t, "muse/muse-01/ppg", msg.topic)
	assert.JSONEq(t, `{"samples":[[1]]}`, string(msg.payload))
}

func TestClientCountsConnectionEvents(t *testing.T) {
	c := &Client{}

	c.onConnect(nil)
	c.onConnectionLost(nil, errors.New("broker restarted"))
	c.onConnect(nil)
	for i := 0; i < 3; i++ {
		c.onUnrouted(nil, &fakeMessage{topic: "muse/a/acc"})
	}

	assert.Equal(t, ClientStats{Unrouted: 3, Connections: 2, Lost: 1}, c.Stats())
}
