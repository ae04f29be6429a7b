package mqtt

import (
	"fmt"
	"log"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Client owns the broker connection. Subscriber and Publisher share its
// native client
type Client struct {
	client mqtt.Client
	config ClientConfig

	unrouted    atomic.Uint64
	connections atomic.Uint64
	lost        atomic.Uint64
}

// ClientConfig holds MQTT client configuration
type ClientConfig struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	ConnectTimeout time.Duration // 0 waits forever
}

// ClientStats counts connection events since the client was created
type ClientStats struct {
	Unrouted    uint64 // messages that matched no subscription handler
	Connections uint64
	Lost        uint64
}

// NewClient connects to the broker, giving up after ConnectTimeout
func NewClient(config ClientConfig) (*Client, error) {
	c := &Client{config: config}

	opts := mqtt.NewClientOptions().
		AddBroker(config.Broker).
		SetClientID(config.ClientID).
		SetUsername(config.Username).
		SetPassword(config.Password).
		SetDefaultPublishHandler(c.onUnrouted).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost).
		SetAutoReconnect(true).
		SetKeepAlive(60 * time.Second).
		SetPingTimeout(10 * time.Second).
		// Batches of one device must reach its buffer in publish order
		SetOrderMatters(true)

	c.client = mqtt.NewClient(opts)

	token := c.client.Connect()
	if config.ConnectTimeout > 0 && !token.WaitTimeout(config.ConnectTimeout) {
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: timed out after %v", config.Broker, config.ConnectTimeout)
	}
	if config.ConnectTimeout <= 0 {
		token.Wait()
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: %w", config.Broker, err)
	}

	log.Println("MQTT Client: Connected to broker:", config.Broker)
	return c, nil
}

// GetNativeClient returns the underlying paho client for Subscriber and Publisher
func (c *Client) GetNativeClient() mqtt.Client {
	return c.client
}

// IsConnected returns whether the client is currently connected
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

// Stats returns the connection counters
func (c *Client) Stats() ClientStats {
	return ClientStats{
		Unrouted:    c.unrouted.Load(),
		Connections: c.connections.Load(),
		Lost:        c.lost.Load(),
	}
}

// Close disconnects, logging the counters
func (c *Client) Close() {
	c.client.Disconnect(250)
	stats := c.Stats()
	log.Printf("MQTT Client: Disconnected (connections=%d, lost=%d, unrouted=%d)",
		stats.Connections, stats.Lost, stats.Unrouted)
}

func (c *Client) onUnrouted(_ mqtt.Client, msg mqtt.Message) {
	// Only the first and then every hundredth drop is logged
	if n := c.unrouted.Add(1); n == 1 || n%100 == 0 {
		log.Printf("MQTT: Dropped unrouted message on topic %s (%d so far)", msg.Topic(), n)
	}
}

func (c *Client) onConnect(_ mqtt.Client) {
	if c.connections.Add(1) > 1 {
		log.Println("MQTT: Reconnected")
		return
	}
	log.Println("MQTT: Connection established")
}

func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	c.lost.Add(1)
	log.Printf("MQTT: Connection lost: %v", err)
}
