// Package queue runs background jobs stored in the jobs table.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dukerupert/weekplate/internal/store"
)

// Handler runs jobs of one kind. Failed is called once after the job has
// been given up on, either because attempts ran out or Run returned a
// Permanent error.
type Handler interface {
	Run(ctx context.Context, payload []byte) error
	Failed(ctx context.Context, payload []byte, cause error)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// ErrDuplicate is returned by EnqueueUnique while a live job holds the key.
var ErrDuplicate = store.ErrDuplicateJob

// Queue enqueues jobs for a Worker to pick up.
type Queue struct {
	jobs        *store.JobStore
	maxAttempts int
}

func New(jobs *store.JobStore, maxAttempts int) *Queue {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Queue{jobs: jobs, maxAttempts: maxAttempts}
}

// Enqueue stores payload as JSON and returns the job id.
func (q *Queue) Enqueue(ctx context.Context, kind string, payload any) (string, error) {
	return q.enqueue(ctx, kind, "", payload)
}

// EnqueueUnique is Enqueue for work that must not overlap. It fails with
// ErrDuplicate while a queued, running or retrying job holds key.
func (q *Queue) EnqueueUnique(ctx context.Context, kind, key string, payload any) (string, error) {
	return q.enqueue(ctx, kind, key, payload)
}

// Live reports whether a queued, running or retrying job holds key.
func (q *Queue) Live(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return q.jobs.HasLive(key)
}

func (q *Queue) enqueue(ctx context.Context, kind, key string, payload any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	job, err := q.jobs.EnqueueUnique(kind, key, data, q.maxAttempts, time.Now())
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", kind, err)
	}
	return job.ID, nil
}
