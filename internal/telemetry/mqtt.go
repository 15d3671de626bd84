package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/stopka007/IoT-sub000/internal/config"
	"github.com/stopka007/IoT-sub000/internal/queue"
	"github.com/stopka007/IoT-sub000/internal/service"
)

type TaskQueue interface {
	Enqueue(ctx context.Context, taskType string, payload any) (string, error)
}

// MQTTBridge forwards device telemetry published on the broker into the task
// stream. Topics look like wards/{ward}/devices/{id_device}/telemetry.
type MQTTBridge struct {
	cfg    config.TelemetryConfig
	queue  TaskQueue
	logger zerolog.Logger
	client mqtt.Client
}

func NewMQTTBridge(cfg config.TelemetryConfig, queue TaskQueue, logger zerolog.Logger) *MQTTBridge {
	return &MQTTBridge{cfg: cfg, queue: queue, logger: logger}
}

// Run connects, subscribes and blocks until ctx is cancelled.
func (b *MQTTBridge) Run(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(b.cfg.MQTTBroker)
	opts.SetClientID(b.cfg.MQTTClientID)
	if b.cfg.MQTTUsername != "" {
		opts.SetUsername(b.cfg.MQTTUsername)
	}
	if b.cfg.MQTTPassword != "" {
		opts.SetPassword(b.cfg.MQTTPassword)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		// Clean sessions lose subscriptions on reconnect.
		if token := c.Subscribe(b.cfg.MQTTTopic, 1, b.onMessage); token.Wait() && token.Error() != nil {
			b.logger.Error().Err(token.Error()).Str("topic", b.cfg.MQTTTopic).Msg("mqtt subscribe failed")
			return
		}
		b.logger.Info().Str("topic", b.cfg.MQTTTopic).Msg("mqtt bridge subscribed")
	})

	b.client = mqtt.NewClient(opts)
	if token := b.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("connect mqtt broker: %w", token.Error())
	}
	defer b.client.Disconnect(250)

	<-ctx.Done()
	return nil
}

func (b *MQTTBridge) onMessage(_ mqtt.Client, msg mqtt.Message) {
	reading, err := ParseMessage(msg.Topic(), msg.Payload())
	if err != nil {
		b.logger.Warn().Err(err).Str("topic", msg.Topic()).Msg("dropping mqtt message")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := b.queue.Enqueue(ctx, queue.TaskTelemetry, reading); err != nil {
		b.logger.Error().Err(err).Str("id_device", reading.IDDevice).Msg("enqueue telemetry failed")
	}
}

// ParseMessage builds a reading from a topic and its JSON payload. The
// device id comes from the topic unless the payload names one.
func ParseMessage(topic string, payload []byte) (service.Reading, error) {
	var reading service.Reading
	if err := json.Unmarshal(payload, &reading); err != nil {
		return service.Reading{}, fmt.Errorf("decode payload: %w", err)
	}
	if reading.IDDevice == "" {
		parts := strings.Split(topic, "/")
		for i := 0; i+1 < len(parts); i++ {
			if parts[i] == "devices" {
				reading.IDDevice = parts[i+1]
				break
			}
		}
	}
	if reading.IDDevice == "" {
		return service.Reading{}, fmt.Errorf("no device id in topic %q", topic)
	}
	if reading.BatteryLevel == nil && reading.HelpNeeded == nil {
		return service.Reading{}, fmt.Errorf("reading for %s carries no values", reading.IDDevice)
	}
	if reading.At.IsZero() {
		reading.At = time.Now().UTC()
	}
	return reading, nil
}
