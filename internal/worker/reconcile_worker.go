package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/portal-workflow/internal/workflow"
)

// ReconcileWorker periodically replays approvals against stored request
// state and repairs drift left by crashes or partial writes.
type ReconcileWorker struct {
	reconciler *workflow.Reconciler
	interval   time.Duration
	batchLimit int
	logger     *zap.Logger
	stopCh     chan struct{}
}

// NewReconcileWorker creates the periodic reconciliation worker.
func NewReconcileWorker(reconciler *workflow.Reconciler, interval time.Duration, batchLimit int, logger *zap.Logger) *ReconcileWorker {
	return &ReconcileWorker{
		reconciler: reconciler,
		interval:   interval,
		batchLimit: batchLimit,
		logger:     logger,
		stopCh:     make(chan struct{}),
	}
}

// Name returns the worker name
func (w *ReconcileWorker) Name() string {
	return "reconcile-worker"
}

// Start runs the reconciliation loop until the context is cancelled.
// The first pass runs immediately so a restart repairs crash leftovers
// without waiting a full interval.
func (w *ReconcileWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting reconcile worker",
		zap.Duration("interval", w.interval),
		zap.Int("batch_limit", w.batchLimit))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Reconcile worker stopping, context cancelled")
			return nil
		case <-w.stopCh:
			w.logger.Info("Reconcile worker stopping")
			return nil
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

// Stop signals the worker to stop
func (w *ReconcileWorker) Stop() error {
	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
	return nil
}

func (w *ReconcileWorker) runOnce(ctx context.Context) {
	summary, err := w.reconciler.ReconcileActive(ctx, w.batchLimit)
	if err != nil {
		w.logger.Error("Reconciliation pass failed", zap.Error(err))
		return
	}
	if summary.Fixed > 0 || summary.Errors > 0 {
		w.logger.Warn("Reconciliation pass found drift",
			zap.Int("checked", summary.Checked),
			zap.Int("fixed", summary.Fixed),
			zap.Int("errors", summary.Errors))
	}
}
