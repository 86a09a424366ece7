package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sifan077/linkpay/internal/app/model"
	"github.com/sifan077/linkpay/internal/app/repository"
	"go.uber.org/zap"
)

const (
	consumerBatch   = 10
	consumerMaxWait = 5 * time.Second

	fetchRetryDelay = time.Second
	maxFetchBackoff = 30 * time.Second
)

// fetcher is the part of a pull subscription the consume loop needs.
type fetcher interface {
	Fetch(batch int, opts ...nats.PullOpt) ([]*nats.Msg, error)
}

type ackAction int

const (
	ackMsg ackAction = iota
	nakMsg
	termMsg
)

// ClickConsumer consumes click events from NATS JetStream and records them.
type ClickConsumer struct {
	js         nats.JetStreamContext
	logger     *zap.Logger
	recorder   *ClickRecorder
	timeout    time.Duration
	retryDelay time.Duration
	done       chan struct{}
}

// NewClickConsumer creates a new click event consumer
func NewClickConsumer(js nats.JetStreamContext, logger *zap.Logger, recorder *ClickRecorder, timeout time.Duration) *ClickConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ClickConsumer{
		js:         js,
		logger:     logger,
		recorder:   recorder,
		timeout:    timeout,
		retryDelay: fetchRetryDelay,
		done:       make(chan struct{}),
	}
}

// Start ensures the stream and durable consumer exist and begins consuming
// until ctx is cancelled.
func (c *ClickConsumer) Start(ctx context.Context) error {
	if err := EnsureClickStream(c.js); err != nil {
		return err
	}

	if _, err := c.js.ConsumerInfo(model.ClickStreamName, model.ClickConsumerName); err != nil {
		_, err = c.js.AddConsumer(model.ClickStreamName, &nats.ConsumerConfig{
			Durable:   model.ClickConsumerName,
			AckPolicy: nats.AckExplicitPolicy,
		})
		if err != nil {
			return fmt.Errorf("failed to create consumer: %w", err)
		}
	}

	sub, err := c.js.PullSubscribe(model.ClickStreamSubject, model.ClickConsumerName)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	go func() {
		defer func() { _ = sub.Unsubscribe() }()
		c.consume(ctx, sub)
	}()
	return nil
}

// Done is closed once the consume loop has exited.
func (c *ClickConsumer) Done() <-chan struct{} {
	return c.done
}

// consume fetches until ctx is cancelled or the subscription is gone. Fetch
// errors other than an empty batch back off exponentially.
func (c *ClickConsumer) consume(ctx context.Context, sub fetcher) {
	defer close(c.done)

	delay := c.retryDelay
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("click consumer stopped")
			return
		default:
		}

		msgs, err := sub.Fetch(consumerBatch, nats.MaxWait(consumerMaxWait))
		switch {
		case err == nil, errors.Is(err, nats.ErrTimeout):
			delay = c.retryDelay
		case errors.Is(err, nats.ErrConnectionClosed), errors.Is(err, nats.ErrBadSubscription):
			c.logger.Error("click subscription closed", zap.Error(err))
			return
		default:
			c.logger.Error("failed to fetch messages", zap.Duration("retry_in", delay), zap.Error(err))
			select {
			case <-ctx.Done():
				c.logger.Info("click consumer stopped")
				return
			case <-time.After(delay):
			}
			delay = min(delay*2, maxFetchBackoff)
			continue
		}

		for _, msg := range msgs {
			c.handle(ctx, msg)
		}
	}
}

func (c *ClickConsumer) handle(ctx context.Context, msg *nats.Msg) {
	switch c.process(ctx, msg.Data) {
	case ackMsg:
		_ = msg.Ack()
	case termMsg:
		_ = msg.Term()
	default:
		_ = msg.Nak()
	}
}

// process records one event and decides how JetStream should settle it.
func (c *ClickConsumer) process(ctx context.Context, data []byte) ackAction {
	var input model.ClickInput
	if err := json.Unmarshal(data, &input); err != nil {
		c.logger.Error("failed to unmarshal click event", zap.Error(err))
		return termMsg
	}

	recordCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := c.recorder.RecordClick(recordCtx, input)
	switch {
	case err == nil:
		c.logger.Debug("click recorded",
			zap.String("click_id", res.ClickID),
			zap.String("link_id", input.LinkID),
			zap.Bool("unique", res.IsUnique),
		)
		return ackMsg
	case errors.Is(err, ErrAggregatePartial), errors.Is(err, repository.ErrDuplicateClick):
		// Appended already and queued for reconciliation; redelivery would double count.
		return ackMsg
	case errors.Is(err, ErrLinkNotFound), errors.Is(err, ErrLinkInactive), errors.Is(err, ErrLinkExpired):
		c.logger.Info("dropping click for unavailable link", zap.String("link_id", input.LinkID), zap.Error(err))
		return termMsg
	default:
		c.logger.Error("failed to record click event",
			zap.String("event_id", input.EventID),
			zap.String("link_id", input.LinkID),
			zap.Error(err))
		return nakMsg
	}
}
