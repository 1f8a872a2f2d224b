// Package mqtt publishes store changes and statistics to an MQTT broker.
package mqtt

import (
	"context"
	"time"
)

// Client is the broker connection used by the Publisher. Topics passed to
// Publish are complete; the Publisher applies the prefix.
type Client interface {
	Connect(ctx context.Context) error
	Publish(ctx context.Context, topic string, payload []byte, retain bool) error
	IsConnected() bool
	Disconnect()
}

// Config describes the broker connection and the topic namespace.
type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string

	// TopicPrefix is prepended to every published topic.
	TopicPrefix string
	QoS         byte

	ReconnectCooldown time.Duration
	ReconnectDelay    time.Duration
	ConnectTimeout    time.Duration
	PublishTimeout    time.Duration
	DisconnectTimeout time.Duration
}

// DefaultTopicPrefix is used when Config.TopicPrefix is empty.
const DefaultTopicPrefix = "farmdash"

// DefaultConfig returns the connection defaults without a broker.
func DefaultConfig() Config {
	return Config{
		ClientID:          "farmdash",
		TopicPrefix:       DefaultTopicPrefix,
		ReconnectCooldown: 5 * time.Second,
		ReconnectDelay:    1 * time.Second,
		ConnectTimeout:    30 * time.Second,
		PublishTimeout:    10 * time.Second,
		DisconnectTimeout: 250 * time.Millisecond,
	}
}
