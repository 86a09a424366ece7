package service

import (
	"context"
	"errors"
	"time"

	"github.com/sifan077/linkpay/internal/app/repository"
	"github.com/sifan077/linkpay/internal/infra/prometheus"
	"go.uber.org/zap"
)

// ReconcileWorker periodically rebuilds aggregates for links queued after a partial click write.
type ReconcileWorker struct {
	logger     *zap.Logger
	queue      ReconcileQueue
	reconciler repository.Reconciler
	interval   time.Duration
	batch      int
	stopChan   chan struct{}
	stopped    chan struct{}
}

// NewReconcileWorker creates a new reconcile worker.
func NewReconcileWorker(logger *zap.Logger, queue ReconcileQueue, reconciler repository.Reconciler, interval time.Duration, batch int) *ReconcileWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if batch <= 0 {
		batch = 50
	}
	return &ReconcileWorker{
		logger:     logger,
		queue:      queue,
		reconciler: reconciler,
		interval:   interval,
		batch:      batch,
		stopChan:   make(chan struct{}),
		stopped:    make(chan struct{}),
	}
}

// Start begins draining the queue on every tick.
func (w *ReconcileWorker) Start() {
	go w.run()
}

// Stop halts the worker and waits for an in-flight drain to finish.
func (w *ReconcileWorker) Stop() {
	close(w.stopChan)
	<-w.stopped
}

func (w *ReconcileWorker) run() {
	defer close(w.stopped)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.Drain(context.Background())
		case <-w.stopChan:
			w.logger.Info("reconcile worker stopped")
			return
		}
	}
}

// Drain reconciles one batch of pending links and returns how many succeeded.
// Links that fail are queued again.
func (w *ReconcileWorker) Drain(ctx context.Context) int {
	ids, err := w.queue.PopPending(ctx, w.batch)
	if err != nil {
		w.logger.Error("failed to read pending reconciliations", zap.Error(err))
		return 0
	}

	done := 0
	for _, id := range ids {
		err := w.reconciler.Reconcile(ctx, id)
		switch {
		case err == nil:
			done++
			prometheus.Reconciliations.WithLabelValues("ok").Inc()
		case errors.Is(err, repository.ErrLinkNotFound):
			prometheus.Reconciliations.WithLabelValues("missing").Inc()
		default:
			prometheus.Reconciliations.WithLabelValues("error").Inc()
			w.logger.Error("failed to reconcile link", zap.String("link_id", id), zap.Error(err))
			if err := w.queue.MarkPending(ctx, id); err != nil {
				w.logger.Error("failed to requeue link", zap.String("link_id", id), zap.Error(err))
			}
		}
	}

	if done > 0 {
		w.logger.Info("reconciled links", zap.Int("count", done))
	}
	return done
}
