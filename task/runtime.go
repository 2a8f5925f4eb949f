// Copyright 2023 The httpq Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package task provides the lightweight asynchronous runtime on which
// request lifecycle engines are scheduled.
//
// Each spawned task runs on its own goroutine and owns a context that
// is cancelled when the task is cancelled, when the runtime is stopped,
// or when the task function returns. Spawn reports rejection explicitly
// rather than leaving the caller to infer it from the task's fate: a
// nil error means the task is running, ErrShutdown means the runtime
// is no longer accepting work and the task was never started.
package task

import (
	"context"
	"errors"
	"sync"
)

// ErrShutdown is returned by Spawn when the runtime has been shut down
// or stopped and no new tasks are accepted.
var ErrShutdown = errors.New("task: runtime is shut down")

// A Runtime schedules tasks, each on its own goroutine. The zero value
// is a valid, running runtime. A Runtime must not be copied after
// first use.
//
// Runtime is safe for concurrent use by multiple goroutines.
type Runtime struct {
	mu     sync.Mutex
	closed bool
	tasks  map[*Task]struct{}
	wg     sync.WaitGroup
}

// A Task is a handle to one spawned function. It is returned by Spawn
// and remains valid after the function returns.
type Task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Cancel requests the task stop at its next suspension point by
// cancelling the task's context. It is idempotent: calling it multiple
// times, or after the task has finished, has no additional effect.
func (t *Task) Cancel() {
	t.cancel()
}

// Done returns a channel that is closed when the task function has
// returned.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Spawn starts fn on a new goroutine and returns a handle to it.
//
// The context passed to fn is cancelled by Task.Cancel, by Runtime.Stop,
// and when fn returns. If the runtime has been shut down, Spawn returns
// ErrShutdown and fn is never invoked; fn therefore either runs or the
// caller learns synchronously that it will not.
func (r *Runtime) Spawn(fn func(context.Context)) (*Task, error) {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Task{
		cancel: cancel,
		done:   make(chan struct{}),
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		cancel()
		return nil, ErrShutdown
	}
	if r.tasks == nil {
		r.tasks = make(map[*Task]struct{})
	}
	r.tasks[t] = struct{}{}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer func() {
			cancel()
			close(t.done)
			r.mu.Lock()
			delete(r.tasks, t)
			r.mu.Unlock()
			r.wg.Done()
		}()
		fn(ctx)
	}()
	return t, nil
}

// Shutdown stops the runtime from accepting new tasks and waits for
// running tasks to finish on their own. If ctx expires first, Shutdown
// returns ctx's error with tasks still running.
func (r *Runtime) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop stops the runtime from accepting new tasks, cancels every
// running task, and waits for them to finish.
func (r *Runtime) Stop() {
	r.mu.Lock()
	r.closed = true
	for t := range r.tasks {
		t.cancel()
	}
	r.mu.Unlock()
	r.wg.Wait()
}
