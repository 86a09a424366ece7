package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sifan077/linkpay/internal/app/model"
	"go.uber.org/zap"
)

// ClickDispatcher hands a captured visit to the click recorder without
// blocking the redirect.
type ClickDispatcher interface {
	Dispatch(ctx context.Context, input model.ClickInput) error
}

// InlineDispatcher records clicks on background goroutines in this process.
type InlineDispatcher struct {
	recorder *ClickRecorder
	timeout  time.Duration
	logger   *zap.Logger
	wg       sync.WaitGroup
}

// NewInlineDispatcher creates a dispatcher that gives each click up to timeout to record.
func NewInlineDispatcher(recorder *ClickRecorder, timeout time.Duration, logger *zap.Logger) *InlineDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &InlineDispatcher{recorder: recorder, timeout: timeout, logger: logger}
}

// Dispatch detaches from ctx so the visitor's request finishing does not cancel recording.
func (d *InlineDispatcher) Dispatch(ctx context.Context, input model.ClickInput) error {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()

		if _, err := d.recorder.RecordClick(recordCtx, input); err != nil && !errors.Is(err, ErrAggregatePartial) {
			d.logger.Warn("click not recorded",
				zap.String("link_id", input.LinkID),
				zap.String("event_id", input.EventID),
				zap.Error(err))
		}
	}()
	return nil
}

// Wait blocks until every dispatched click has finished recording.
func (d *InlineDispatcher) Wait() {
	d.wg.Wait()
}

var (
	_ ClickDispatcher = (*InlineDispatcher)(nil)
	_ ClickDispatcher = (*ClickPublisher)(nil)
)
