package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	TaskTelemetry    = "telemetry"
	TaskBatterySweep = "battery_sweep"
)

// Producer appends tasks to the stream read by Consumer. Each entry carries
// a type field and a JSON payload field.
type Producer struct {
	client *redis.Client
	stream string
}

func NewProducer(client *redis.Client, stream string) *Producer {
	return &Producer{client: client, stream: stream}
}

func (p *Producer) Enqueue(ctx context.Context, taskType string, payload any) (string, error) {
	body := []byte("{}")
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return "", fmt.Errorf("encode %s payload: %w", taskType, err)
		}
	}
	id, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{
			"type":    taskType,
			"payload": string(body),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", taskType, err)
	}
	return id, nil
}

// Task is a decoded stream entry.
type Task struct {
	Type    string
	Payload json.RawMessage
}

func DecodeTask(msg redis.XMessage) (Task, error) {
	taskType, _ := msg.Values["type"].(string)
	if taskType == "" {
		return Task{}, fmt.Errorf("message %s has no type", msg.ID)
	}
	payload, _ := msg.Values["payload"].(string)
	if payload == "" {
		payload = "{}"
	}
	return Task{Type: taskType, Payload: json.RawMessage(payload)}, nil
}
