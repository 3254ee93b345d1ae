// Package mqtt mirrors accepted publishes to a broker so local consumers can
// follow the readings without polling the cloud.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"cloudpico-publisher/internal/config"
	"cloudpico-publisher/internal/types"
)

const (
	publishTimeout   = 5 * time.Second
	connectPoll      = 200 * time.Millisecond
	retryInterval    = 5 * time.Second
	maxReconnectWait = time.Minute
	keepAlive        = 30 * time.Second
	pingTimeout      = 10 * time.Second
	quiesceMillis    = 250
)

var (
	ErrStopped      = errors.New("client stopped")
	ErrNotConnected = errors.New("mqtt client not connected")
)

type Client struct {
	paho      paho.Client
	stationID string
	field     string
	logger    *slog.Logger

	online atomic.Bool

	done     chan struct{}
	stopOnce sync.Once
}

func NewClient(cfg config.Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		stationID: cfg.DeviceStationID,
		field:     cfg.SensorField,
		logger:    logger.With("broker", fmt.Sprintf("%s:%d", cfg.MQTTBroker, cfg.MQTTPort)),
		done:      make(chan struct{}),
	}
	c.paho = paho.NewClient(c.options(cfg))
	return c
}

func (c *Client) options(cfg config.Config) *paho.ClientOptions {
	return paho.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.MQTTBroker, cfg.MQTTPort)).
		SetClientID(cfg.MQTTClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(retryInterval).
		SetMaxReconnectInterval(maxReconnectWait).
		SetKeepAlive(keepAlive).
		SetPingTimeout(pingTimeout).
		SetOnConnectHandler(func(paho.Client) {
			c.online.Store(true)
			c.logger.Info("mqtt connected")
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			c.online.Store(false)
			c.logger.Warn("mqtt connection lost", "error", err)
		})
}

// Connect blocks until the first broker connection succeeds, ctx ends or the
// client is stopped. paho keeps retrying in the background regardless.
func (c *Client) Connect(ctx context.Context) error {
	if c.stopped() {
		return ErrStopped
	}
	if c.IsConnected() {
		return nil
	}

	token := c.paho.Connect()
	for !token.WaitTimeout(connectPoll) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return ErrStopped
		default:
		}
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

// Record implements publisher.Sink. Publishes made while offline are dropped.
func (c *Client) Record(_ context.Context, p types.Publish) error {
	return c.PublishTelemetry(Telemetry(c.stationID, c.field, p))
}

func (c *Client) PublishTelemetry(t types.Telemetry) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal telemetry: %w", err)
	}

	topic := TelemetryTopic(t.StationID)
	token := c.paho.Publish(topic, 1, false, data)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish to %s: timed out after %s", topic, publishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}

	c.logger.Debug("telemetry mirrored", "topic", topic, "bytes", len(data))
	return nil
}

func TelemetryTopic(stationID string) string {
	return "stations/" + stationID + "/telemetry"
}

// Telemetry maps a publish onto the station message, placing the value in
// the field the sensor measures.
func Telemetry(stationID, field string, p types.Publish) types.Telemetry {
	value := p.Value
	seq := p.Sequence
	t := types.Telemetry{
		StationID: stationID,
		Timestamp: p.Timestamp,
		Sequence:  &seq,
	}
	switch field {
	case config.FieldHumidity:
		t.Humidity = &value
	case config.FieldPressure:
		t.Pressure = &value
	default:
		t.Temperature = &value
	}
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now().UTC()
	}
	return t
}

func (c *Client) IsConnected() bool {
	return c.online.Load() && c.paho.IsConnected()
}

// Disconnect is safe to call more than once.
func (c *Client) Disconnect() {
	first := false
	c.stopOnce.Do(func() {
		close(c.done)
		first = true
	})
	if !first {
		return
	}
	c.paho.Disconnect(quiesceMillis)
	c.online.Store(false)
	c.logger.Info("mqtt disconnected")
}

func (c *Client) stopped() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
