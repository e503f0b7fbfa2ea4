package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/game-alerts/internal/domain"
)

// Processor runs one notification cycle
type Processor interface {
	ProcessNotifications(ctx context.Context) (domain.CycleSummary, error)
}

// Status describes the recent health of the poll loop
type Status struct {
	LastRun             time.Time           `json:"last_run"`
	LastSuccess         time.Time           `json:"last_success"`
	LastError           string              `json:"last_error,omitempty"`
	ConsecutiveFailures int                 `json:"consecutive_failures"`
	LastSummary         domain.CycleSummary `json:"last_summary"`
}

// PollWorker triggers notification cycles on a fixed interval
type PollWorker struct {
	processor Processor
	interval  time.Duration
	logger    *slog.Logger
	stopCh    chan struct{}
	doneCh    chan struct{}
	mu        sync.Mutex
	running   bool
	status    Status
}

// NewPollWorker creates a new poll worker
func NewPollWorker(processor Processor, interval time.Duration, logger *slog.Logger) *PollWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &PollWorker{
		processor: processor,
		interval:  interval,
		logger:    logger,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start begins the background poll loop
func (w *PollWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("poll worker started", "interval", w.interval)

	go w.run(ctx)
	return nil
}

// Stop stops the poll loop and waits for an in-flight cycle to finish
func (w *PollWorker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("poll worker stopped")
	return nil
}

// run is the main worker loop
func (w *PollWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce runs a single notification cycle and records its outcome
func (w *PollWorker) RunOnce(ctx context.Context) {
	start := time.Now()
	summary, err := w.processor.ProcessNotifications(ctx)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.status.LastRun = start
	if err != nil {
		w.status.ConsecutiveFailures++
		w.status.LastError = err.Error()
		w.logger.Error("notification cycle failed",
			"duration", time.Since(start),
			"consecutive_failures", w.status.ConsecutiveFailures,
			"error", err,
		)
		return
	}
	w.status.ConsecutiveFailures = 0
	w.status.LastError = ""
	w.status.LastSuccess = start
	w.status.LastSummary = summary
}

// IsRunning returns whether the worker is currently running
func (w *PollWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Status returns a snapshot of the worker's recent health
func (w *PollWorker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}
