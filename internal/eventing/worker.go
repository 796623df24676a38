package eventing

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Worker drains the outbox on a fixed interval until its context ends.
type Worker struct {
	dispatcher *Dispatcher
	interval   time.Duration
	batchSize  int
	logger     *zap.Logger
}

// NewWorker constructs an outbox worker.
func NewWorker(dispatcher *Dispatcher, interval time.Duration, batchSize int, logger *zap.Logger) *Worker {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{dispatcher: dispatcher, interval: interval, batchSize: batchSize, logger: logger}
}

// Run blocks until ctx is done. A full batch triggers an immediate rerun.
func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.dispatcher == nil {
		return
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		w.drain(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) drain(ctx context.Context) {
	for ctx.Err() == nil {
		result, err := w.dispatcher.Dispatch(ctx, w.batchSize)
		if err != nil {
			w.logger.Error("outbox dispatch failed", zap.Error(err))
			return
		}
		if result.Sent > 0 || result.Failed > 0 {
			w.logger.Debug("outbox dispatched",
				zap.Int("sent", result.Sent),
				zap.Int("failed", result.Failed),
				zap.Int("dlq", result.DLQ),
			)
		}
		if result.Claimed < w.batchSize {
			return
		}
	}
}
