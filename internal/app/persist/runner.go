/*
Package persist runs calls into the persistence store off the live-delivery path.

Each call becomes a Task with its own timeout. A failed task is logged with its context
fields and, when a dead-letter sink is configured, archived for manual reconciliation.
Tasks are never retried.
*/
package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"agora/internal/pkg/logx"
)

// DefaultTimeout bounds a single persistence call when none is configured.
const DefaultTimeout = 5 * time.Second

// Failure is the record handed to the dead-letter sink.
type Failure struct {
	Op       string            `json:"op"`
	Error    string            `json:"error"`
	FailedAt time.Time         `json:"failedAt"`
	Fields   map[string]string `json:"fields,omitempty"`
	Payload  json.RawMessage   `json:"payload,omitempty"`
}

// DeadLetter archives failed persistence calls.
type DeadLetter interface {
	Archive(ctx context.Context, failure Failure) error
}

// Op describes one persistence call.
type Op struct {
	// Name identifies the call in logs, e.g. "create_message".
	Name string

	// Fields are logged on failure and copied into the dead-letter record.
	Fields map[string]string

	// Payload is archived verbatim on failure.
	Payload any

	Run func(ctx context.Context) error
}

// Task is the explicit handle of an asynchronous persistence call.
type Task struct {
	done chan struct{}
	err  error
}

// Done is closed when the call and its failure handling have finished.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Err returns the outcome once Done is closed; before that it returns nil.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Wait blocks until the task finishes or ctx ends.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Runner starts persistence tasks and tracks them for shutdown.
type Runner struct {
	timeout    time.Duration
	deadLetter DeadLetter

	// base is cancelled by Close.
	base   context.Context
	cancel context.CancelFunc

	wg     sync.WaitGroup
	logger zerolog.Logger
}

// NewRunner builds a Runner. deadLetter may be nil.
func NewRunner(timeout time.Duration, deadLetter DeadLetter) *Runner {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	base, cancel := context.WithCancel(context.Background())
	return &Runner{
		timeout:    timeout,
		deadLetter: deadLetter,
		base:       base,
		cancel:     cancel,
		logger:     logx.Component("persist"),
	}
}

// Go starts op in the background and returns its Task. It never blocks on the store.
func (r *Runner) Go(op Op) *Task {
	task := &Task{done: make(chan struct{})}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(task.done)

		task.err = r.run(op)
		if task.err != nil {
			r.handleFailure(op, task.err)
		}
	}()

	return task
}

func (r *Runner) run(op Op) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in %s: %v", op.Name, rec)
		}
	}()

	ctx, cancel := context.WithTimeout(r.base, r.timeout)
	defer cancel()

	return op.Run(ctx)
}

func (r *Runner) handleFailure(op Op, err error) {
	event := r.logger.Error().Err(err).Str("op", op.Name)
	for k, v := range op.Fields {
		event = event.Str(k, v)
	}
	event.Msg("Persistence call failed; live delivery is unaffected and the call will not be retried.")

	if r.deadLetter == nil {
		return
	}

	failure := Failure{
		Op:       op.Name,
		Error:    err.Error(),
		FailedAt: time.Now().UTC(),
		Fields:   op.Fields,
	}
	if op.Payload != nil {
		if raw, marshalErr := json.Marshal(op.Payload); marshalErr == nil {
			failure.Payload = raw
		}
	}

	// The dead-letter write gets its own budget; the store timeout may already be spent.
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if archiveErr := r.deadLetter.Archive(ctx, failure); archiveErr != nil {
		r.logger.Error().Err(archiveErr).Str("op", op.Name).Msg("Failed to archive persistence failure.")
	}
}

// Close waits for in-flight tasks. If ctx ends first, the remaining calls are cancelled.
func (r *Runner) Close(ctx context.Context) error {
	finished := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		return ctx.Err()
	}
}
