// Package ingest consumes guardian telemetry from an MQTT broker.
//
// Guardians publish one JSON snapshot per message on guardian/<device_id>/telemetry.
// Each message is decoded and routed through the same ingestion path the
// HTTP API uses, so MQTT-delivered snapshots get the same health annotation
// and persistence.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/loopphones/loop/internal/model"
)

// Ingestor is the slice of the analysis service the consumer needs.
type Ingestor interface {
	IngestSnapshot(ctx context.Context, snap model.TelemetrySnapshot) (model.TelemetrySnapshot, error)
}

// Config holds MQTT consumer configuration.
type Config struct {
	BrokerURL string // e.g., "tcp://localhost:1883"
	ClientID  string
	Topic     string // e.g., "guardian/+/telemetry"
}

// Consumer subscribes to the guardian telemetry topic and feeds snapshots
// into the ingestion pipeline.
type Consumer struct {
	client  mqtt.Client
	svc     Ingestor
	topic   string
	logger  *slog.Logger
	timeout time.Duration
}

// NewConsumer connects to the broker. Call Start to subscribe and Close to
// disconnect.
func NewConsumer(cfg Config, svc Ingestor, logger *slog.Logger) (*Consumer, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info("ingest: connected to MQTT broker", "broker", cfg.BrokerURL)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("ingest: MQTT connection lost", "error", err)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("ingest: connect to broker: %w", token.Error())
	}

	return &Consumer{
		client:  client,
		svc:     svc,
		topic:   cfg.Topic,
		logger:  logger,
		timeout: 30 * time.Second,
	}, nil
}

// Start subscribes to the telemetry topic. Messages are processed on the
// paho callback goroutine; a bad message is logged and dropped, never
// redelivered.
func (c *Consumer) Start() error {
	token := c.client.Subscribe(c.topic, 1, c.handleMessage)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("ingest: subscribe %s: %w", c.topic, token.Error())
	}
	c.logger.Info("ingest: subscribed", "topic", c.topic)
	return nil
}

// Close disconnects from the broker, allowing 250ms for in-flight work.
func (c *Consumer) Close() {
	c.client.Disconnect(250)
	c.logger.Info("ingest: MQTT client disconnected")
}

func (c *Consumer) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	snap, err := DecodeSnapshot(msg.Topic(), msg.Payload())
	if err != nil {
		c.logger.Warn("ingest: dropping malformed message", "topic", msg.Topic(), "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	stored, err := c.svc.IngestSnapshot(ctx, snap)
	if err != nil {
		c.logger.Warn("ingest: snapshot rejected", "device_id", snap.DeviceID, "error", err)
		return
	}
	c.logger.Debug("ingest: snapshot stored",
		"device_id", stored.DeviceID, "snapshot_id", stored.ID)
}

// DecodeSnapshot parses one telemetry message. The device ID comes from the
// payload when present, otherwise from the topic's middle segment. A missing
// timestamp defaults to the current time.
func DecodeSnapshot(topic string, payload []byte) (model.TelemetrySnapshot, error) {
	var snap model.TelemetrySnapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return model.TelemetrySnapshot{}, fmt.Errorf("ingest: decode payload: %w", err)
	}

	if snap.DeviceID == "" {
		id, err := deviceIDFromTopic(topic)
		if err != nil {
			return model.TelemetrySnapshot{}, err
		}
		snap.DeviceID = id
	}
	if err := model.ValidateDeviceID(snap.DeviceID); err != nil {
		return model.TelemetrySnapshot{}, fmt.Errorf("ingest: %w", err)
	}
	if snap.Timestamp.IsZero() {
		snap.Timestamp = time.Now().UTC()
	}
	if snap.BatteryHealthPct < 0 || snap.BatteryHealthPct > 100 {
		return model.TelemetrySnapshot{}, fmt.Errorf("ingest: battery_health_pct out of range: %v", snap.BatteryHealthPct)
	}

	// Predictions are assigned at ingest time, never trusted from the wire.
	snap.ID = 0
	snap.PredictedRULDays = nil
	snap.FailureProbability = nil
	return snap, nil
}

func deviceIDFromTopic(topic string) (string, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[1] == "" {
		return "", fmt.Errorf("ingest: cannot extract device ID from topic %q", topic)
	}
	return parts[1], nil
}
