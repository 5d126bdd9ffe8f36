package expiry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/consentframework/expiryd/internal/logging"
)

// WorkerConfig configures the periodic sweep worker.
type WorkerConfig struct {
	// LookbackHours is the number of buckets each run visits.
	// Default: 72
	LookbackHours int

	// Interval is the time between runs.
	// Default: 1 hour
	Interval time.Duration

	// RunTimeout bounds a single run. Zero means no timeout.
	RunTimeout time.Duration
}

// DefaultWorkerConfig returns default configuration.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		LookbackHours: 72,
		Interval:      time.Hour,
		RunTimeout:    15 * time.Minute,
	}
}

// RunResult describes one finished sweep run.
type RunResult struct {
	RunID    string
	Started  time.Time
	Duration time.Duration
	Err      error
}

// Failed reports whether the run ended with an error.
func (r RunResult) Failed() bool {
	return r.Err != nil
}

// RunRecorder receives the result of every run.
type RunRecorder interface {
	RecordRun(RunResult)
}

// Worker runs the sweeper on a fixed interval. Runs never overlap.
type Worker struct {
	sweeper  *Sweeper
	config   WorkerConfig
	clock    Clock
	recorder RunRecorder
	logger   *logging.Logger
	newRunID func() string

	runMu sync.Mutex

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewWorker creates a worker for sweeper.
func NewWorker(sweeper *Sweeper, config WorkerConfig) *Worker {
	defaults := DefaultWorkerConfig()
	if config.LookbackHours <= 0 {
		config.LookbackHours = defaults.LookbackHours
	}
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	return &Worker{
		sweeper:  sweeper,
		config:   config,
		clock:    realClock{},
		logger:   logging.Global().WithComponent("expiry-worker"),
		newRunID: uuid.NewString,
	}
}

// SetClock sets the clock used to pick each run's buckets.
func (w *Worker) SetClock(c Clock) {
	w.clock = c
}

// SetRunRecorder sets the recorder notified after every run.
func (w *Worker) SetRunRecorder(r RunRecorder) {
	w.recorder = r
}

// SetLogger sets the base logger for runs.
func (w *Worker) SetLogger(l *logging.Logger) {
	w.logger = l
}

// Start runs a sweep immediately and then every interval until Stop is
// called or ctx is done.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	stopCh := make(chan struct{})
	doneCh := make(chan struct{})
	w.stopCh = stopCh
	w.doneCh = doneCh
	w.mu.Unlock()

	go w.run(ctx, stopCh, doneCh)
}

// Stop stops the worker and waits for an in-flight run to finish. It is safe
// to call concurrently; every caller returns once the loop has exited.
func (w *Worker) Stop() {
	w.mu.Lock()
	doneCh := w.doneCh
	if w.running {
		w.running = false
		close(w.stopCh)
	}
	w.mu.Unlock()

	if doneCh != nil {
		<-doneCh
	}
}

func (w *Worker) run(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	// Cancel the in-flight run when Stop is called.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	_ = w.RunOnce(ctx)

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = w.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep run synchronously and returns its error.
func (w *Worker) RunOnce(ctx context.Context) error {
	w.runMu.Lock()
	defer w.runMu.Unlock()

	runID := w.newRunID()
	ctx, logger := logging.StartRun(ctx, w.logger, runID)

	if w.config.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.config.RunTimeout)
		defer cancel()
	}

	started := time.Now()
	err := w.sweeper.RunSweep(ctx, w.config.LookbackHours, w.clock.Now())
	result := RunResult{
		RunID:    runID,
		Started:  started,
		Duration: time.Since(started),
		Err:      err,
	}

	if err != nil {
		logger.Errorf("expiry run failed", map[string]any{
			"error":      err,
			"durationMs": result.Duration.Milliseconds(),
		})
	}
	if w.recorder != nil {
		w.recorder.RecordRun(result)
	}
	return err
}
