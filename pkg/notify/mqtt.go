package notify

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"mercator-hq/tollgate/pkg/config"
)

// ErrNotConnected is returned when the broker connection is down.
var ErrNotConnected = errors.New("mqtt client not connected")

// publisher is the part of mqtt.Client the sink uses.
type publisher interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTSink publishes events as JSON to <prefix>/<event type>.
type MQTTSink struct {
	client  publisher
	prefix  string
	qos     byte
	timeout time.Duration
	logger  *slog.Logger
}

// NewMQTTSink connects to the broker in cfg. The client reconnects on its
// own after the initial connection succeeds.
func NewMQTTSink(cfg config.MQTTConfig, timeout time.Duration, logger *slog.Logger) (*MQTTSink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "notify", "sink", "mqtt")

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	if cfg.CAFile != "" || cfg.InsecureSkipVerify {
		tc, err := tlsConfig(cfg)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tc)
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("lost connection to MQTT broker", "error", err)
	})
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info("connected to MQTT broker", "broker", cfg.Broker)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		return nil, fmt.Errorf("timed out connecting to MQTT broker %s", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}

	return newMQTTSink(client, cfg.TopicPrefix, cfg.QoS, timeout, logger), nil
}

func newMQTTSink(client publisher, prefix string, qos byte, timeout time.Duration, logger *slog.Logger) *MQTTSink {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MQTTSink{client: client, prefix: prefix, qos: qos, timeout: timeout, logger: logger}
}

// Send publishes the event and waits for the broker's acknowledgement, up
// to the sink timeout or the context deadline, whichever is sooner.
func (s *MQTTSink) Send(ctx context.Context, event Event) error {
	if !s.client.IsConnected() {
		return ErrNotConnected
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	token := s.client.Publish(s.topic(event.Type), s.qos, false, payload)

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("failed to publish event: %w", err)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("timed out publishing event %s", event.ID)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close disconnects from the broker, allowing 250ms for in-flight work.
func (s *MQTTSink) Close() error {
	s.client.Disconnect(250)
	return nil
}

func (s *MQTTSink) topic(eventType string) string {
	if s.prefix == "" {
		return eventType
	}
	return s.prefix + "/" + eventType
}

func tlsConfig(cfg config.MQTTConfig) (*tls.Config, error) {
	tc := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}
	if cfg.CAFile == "" {
		return tc, nil
	}

	pem, err := os.ReadFile(cfg.CAFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("failed to parse CA file %s", cfg.CAFile)
	}
	tc.RootCAs = pool
	return tc, nil
}
