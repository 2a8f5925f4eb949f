// Copyright 2023 The httpq Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpq

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogama/httpq/task"
)

// ErrUnusable is returned by Handle operations when the request is no
// longer controllable: the relevant channel was never created for this
// request, has been closed by a prior operation, or the engine has
// already delivered its terminal message.
//
// Callers should treat ErrUnusable as final, not retryable.
var ErrUnusable = errors.New("httpq: handle not usable")

// DefaultReadLength is the chunk length used when a ReadRequest does
// not specify one. It is large enough to behave as "whatever is
// buffered, bounded by memory" for most responses.
const DefaultReadLength = 8 * 1024 * 1024

// A ReadRequest asks for one response body chunk. The caller issues
// one ReadRequest at a time through Handle.Read; the engine answers
// each with exactly one chunk, fin, or error message before accepting
// the next.
type ReadRequest struct {
	// Length is the number of accumulated body bytes that triggers a
	// flush. Zero or negative means DefaultReadLength.
	Length int
	// Period, if positive, bounds how long the engine waits before
	// flushing a partial, possibly empty, chunk. It is a liveness
	// valve, not an error condition.
	Period time.Duration
}

// An uploadCmd is one caller command on the streamed request body:
// either a body chunk or the finish-send marker.
type uploadCmd struct {
	data   []byte
	finish bool
}

// seals carries the flags the engine sets to make handle operations
// fail fast before the caller can observe the task as done.
type seals struct {
	reads atomic.Bool
}

// A Handle is the caller-visible control object for one in-flight
// request. It is returned by Client.Request and forwards operations
// into the request's engine via queues; it shares no state with the
// engine beyond those queues.
//
// A Handle is safe for concurrent use by multiple goroutines.
type Handle struct {
	task        *task.Task
	seals       *seals
	mu          sync.Mutex
	body        chan<- uploadCmd
	bodyClosed  bool
	reads       chan<- ReadRequest
	readsClosed bool
}

// Cancel hard-aborts the request at whatever point it has reached. Any
// in-flight network activity is torn down at the engine's next
// suspension point. Use Cancel when the caller will never again
// interact with this request.
//
// Cancel is idempotent: calling it multiple times, or after the
// terminal message has been delivered, has no additional effect.
func (h *Handle) Cancel() {
	h.task.Cancel()
}

// CancelStream closes the request's upload and read channels without
// aborting the engine. In-flight network activity winds down
// naturally and may still produce a terminal message; if the engine
// was waiting on a caller command that can now never arrive, it
// terminates silently instead.
//
// CancelStream is idempotent.
func (h *Handle) CancelStream() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.body != nil && !h.bodyClosed {
		close(h.body)
		h.bodyClosed = true
	}
	if h.reads != nil && !h.readsClosed {
		close(h.reads)
		h.readsClosed = true
	}
}

// Send enqueues one request body chunk for a streamed upload. It fails
// with ErrUnusable if the request body is not streamed, the upload
// channel has been closed, or the engine has terminated.
//
// The backpressure contract: after Send returns, wait for the KindNext
// progress message before sending the next chunk. Chunks sent without
// waiting are still processed in order, never dropped.
func (h *Handle) Send(data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.body == nil || h.bodyClosed || h.done() {
		return ErrUnusable
	}
	select {
	case h.body <- uploadCmd{data: data}:
		return nil
	case <-h.task.Done():
		return ErrUnusable
	}
}

// FinishSend signals that the streamed request body is complete and
// closes the upload channel; no further Send is possible. It fails
// with ErrUnusable under the same conditions as Send.
func (h *Handle) FinishSend() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.body == nil || h.bodyClosed || h.done() {
		return ErrUnusable
	}
	select {
	case h.body <- uploadCmd{finish: true}:
	case <-h.task.Done():
		return ErrUnusable
	}
	close(h.body)
	h.bodyClosed = true
	return nil
}

// Read enqueues one pull of the streamed response body. The engine
// answers with exactly one KindChunk, KindFin, or KindError message.
// Read fails with ErrUnusable if the response body is not streamed,
// the read channel has been closed, the terminal message has already
// been delivered, or the engine has terminated.
func (h *Handle) Read(rr ReadRequest) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.reads == nil || h.readsClosed || h.seals.reads.Load() || h.done() {
		return ErrUnusable
	}
	select {
	case h.reads <- rr:
		return nil
	case <-h.task.Done():
		return ErrUnusable
	}
}

// done reports whether the engine task has already terminated, making
// every channel operation fail fast rather than enqueue into a queue
// nothing will ever drain.
func (h *Handle) done() bool {
	select {
	case <-h.task.Done():
		return true
	default:
		return false
	}
}
