package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/dukerupert/weekplate/internal/model"
	"github.com/dukerupert/weekplate/internal/store"
)

type Config struct {
	Concurrency  int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
	PollInterval time.Duration
	Lease        time.Duration
}

func (c Config) withDefaults() Config {
	if c.Concurrency < 1 {
		c.Concurrency = 1
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 10 * time.Second
	}
	if c.MaxBackoff < c.BaseBackoff {
		c.MaxBackoff = 10 * time.Minute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.Lease <= 0 {
		c.Lease = 2 * time.Minute
	}
	return c
}

// Worker claims jobs and dispatches them to registered handlers.
type Worker struct {
	mu       sync.RWMutex
	jobs     *store.JobStore
	cfg      Config
	logger   *slog.Logger
	handlers map[string]Handler
	now      func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewWorker(jobs *store.JobStore, cfg Config, logger *slog.Logger) *Worker {
	return &Worker{
		jobs:     jobs,
		cfg:      cfg.withDefaults(),
		logger:   logger.With("component", "queue"),
		handlers: make(map[string]Handler),
		now:      time.Now,
	}
}

// Register binds a handler to a job kind. Call before Start.
func (w *Worker) Register(kind string, h Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[kind] = h
}

func (w *Worker) kinds() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	kinds := make([]string, 0, len(w.handlers))
	for k := range w.handlers {
		kinds = append(kinds, k)
	}
	return kinds
}

func (w *Worker) handler(kind string) (Handler, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	h, ok := w.handlers[kind]
	return h, ok
}

// Start launches the configured number of polling goroutines.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	ctx, w.cancel = context.WithCancel(ctx)
	w.mu.Unlock()

	w.logger.Info("worker started", "concurrency", w.cfg.Concurrency, "kinds", w.kinds())

	for i := 0; i < w.cfg.Concurrency; i++ {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.loop(ctx)
		}()
	}
}

// Stop stops polling and waits for in-flight jobs to finish.
func (w *Worker) Stop() {
	w.mu.RLock()
	cancel := w.cancel
	w.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	w.wg.Wait()
	w.logger.Info("worker stopped")
}

func (w *Worker) loop(ctx context.Context) {
	for {
		ran, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Warn("claim job failed", "error", err)
		}
		if ran {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.cfg.PollInterval):
		}
	}
}

// RunOnce claims and runs at most one job. It reports whether a job ran.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	if ctx.Err() != nil {
		return false, nil
	}

	job, err := w.jobs.ClaimNext(w.kinds(), w.now(), w.cfg.Lease)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	h, ok := w.handler(job.Kind)
	if !ok {
		// Claim filters by registered kinds, so this only happens on a race with Register.
		w.bury(job, fmt.Errorf("no handler registered for kind %q", job.Kind))
		return true, nil
	}

	log := w.logger.With("job_id", job.ID, "kind", job.Kind, "attempt", job.Attempts)

	// In-flight jobs run to completion even when the worker is stopping.
	runCtx := context.WithoutCancel(ctx)

	stopBeat := w.heartbeat(runCtx, job.ID)
	runErr := w.run(runCtx, h, job)
	stopBeat()

	switch {
	case runErr == nil:
		if err := w.jobs.Complete(job.ID); err != nil {
			log.Error("complete job", "error", err)
		}
		log.Info("job done")
	case IsPermanent(runErr) || job.Attempts >= job.MaxAttempts:
		log.Error("job failed permanently", "error", runErr)
		w.bury(job, runErr)
		h.Failed(runCtx, job.Payload, runErr)
	default:
		delay := w.backoff(job.Attempts)
		log.Warn("job failed, retrying", "error", runErr, "retry_in", delay)
		if err := w.jobs.Retry(job.ID, runErr.Error(), w.now().Add(delay)); err != nil {
			log.Error("schedule retry", "error", err)
		}
	}
	return true, nil
}

func (w *Worker) run(ctx context.Context, h Handler, job *model.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("job handler panic", "job_id", job.ID, "kind", job.Kind, "panic", r)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h.Run(ctx, job.Payload)
}

func (w *Worker) bury(job *model.Job, cause error) {
	if err := w.jobs.Bury(job.ID, cause.Error()); err != nil {
		w.logger.Error("bury job", "job_id", job.ID, "error", err)
	}
}

// heartbeat extends the job lease until the returned func is called.
func (w *Worker) heartbeat(ctx context.Context, id string) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(w.cfg.Lease / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := w.jobs.Extend(id, w.now().Add(w.cfg.Lease)); err != nil {
					w.logger.Warn("extend job lease", "job_id", id, "error", err)
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

// backoff returns the delay before the attempt following the given one.
func (w *Worker) backoff(attempt int) time.Duration {
	b := retry.WithCappedDuration(w.cfg.MaxBackoff, retry.NewExponential(w.cfg.BaseBackoff))
	var d time.Duration
	for i := 0; i < attempt; i++ {
		next, stop := b.Next()
		if stop {
			break
		}
		d = next
	}
	return d
}
