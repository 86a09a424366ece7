package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/sifan077/linkpay/internal/app/model"
)

// EnsureClickStream creates the click stream when it does not exist yet.
func EnsureClickStream(js nats.JetStreamContext) error {
	if _, err := js.StreamInfo(model.ClickStreamName); err == nil {
		return nil
	}
	_, err := js.AddStream(&nats.StreamConfig{
		Name:     model.ClickStreamName,
		Subjects: []string{model.ClickStreamSubject},
		MaxBytes: model.ClickStreamMaxBytes,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// ClickPublisher publishes click events to NATS JetStream
type ClickPublisher struct {
	js nats.JetStreamContext
}

// NewClickPublisher creates a new click event publisher
func NewClickPublisher(js nats.JetStreamContext) *ClickPublisher {
	return &ClickPublisher{js: js}
}

// Dispatch publishes input to the click stream. The event id doubles as the
// JetStream message id so a retried publish is deduplicated.
func (p *ClickPublisher) Dispatch(ctx context.Context, input model.ClickInput) error {
	if input.EventID == "" {
		input.EventID = model.NewClickID()
	}

	data, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("marshal click: %w", err)
	}

	if _, err := p.js.Publish(model.ClickStreamSubject, data, nats.MsgId(input.EventID), nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish click: %w", err)
	}
	return nil
}
