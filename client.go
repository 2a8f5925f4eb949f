// Copyright 2023 The httpq Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpq

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/gogama/httpq/request"
	"github.com/gogama/httpq/task"
)

// An HTTPDoer implements a Do method in the same manner as the GoLang
// standard library http.Client from the net/http package.
type HTTPDoer interface {
	// Do sends an HTTP request and returns an HTTP response following
	// policy (such as redirects, cookies, auth) configured on the
	// HTTPDoer.
	//
	// The Do method must follow the contract documented on the GoLang
	// standard library http.Client from the net/http package.
	Do(r *http.Request) (*http.Response, error)
}

// An Accountant receives the client's synchronous cost reports, letting
// a host scheduler account for work done on its thread before the
// request goes asynchronous. The reported cost is a percentage of a
// nominal scheduling quantum and is linear in the number of request
// headers processed.
type Accountant interface {
	// Consume records that the calling goroutine spent the given
	// percentage, in [0, 100], of a scheduling quantum.
	Consume(percent int)
}

// DefaultRuntime is the runtime used by clients whose Runtime field is
// nil. It is never shut down.
var DefaultRuntime = &task.Runtime{}

var nopLogger = zerolog.Nop()

// A Client executes HTTP requests as independently cancellable
// asynchronous tasks. Its zero value is a valid configuration using
// http.DefaultClient as the HTTPDoer and the package default runtime.
//
// Client's HTTPDoer typically has internal state (cached TCP
// connections) so Client instances should be reused instead of created
// as needed. Client is safe for concurrent use by multiple goroutines;
// the HTTPDoer is the only resource shared across concurrently running
// requests and must be likewise safe.
//
// A Client is higher-level than an HTTPDoer. The HTTPDoer is
// responsible for all transport-level details of sending the HTTP
// request and receiving the response (connection pooling, redirects,
// protocol negotiation), while Client owns the per-request lifecycle:
// it runs each request as its own task, streams the request body in
// from the caller and the response body out to the caller under
// backpressure, and notifies the caller's Receiver asynchronously with
// exactly one terminal message per request.
type Client struct {
	// HTTPDoer specifies the mechanics of sending HTTP requests and
	// receiving responses.
	//
	// If HTTPDoer is nil, http.DefaultClient from the standard
	// net/http package is used. Use package config to build an
	// http.Client whose redirect failures classify as fault.Redirect.
	HTTPDoer HTTPDoer
	// Runtime schedules request tasks. If Runtime is nil,
	// DefaultRuntime is used.
	Runtime *task.Runtime
	// Logger, if non-nil, receives debug-level lifecycle events. If
	// Logger is nil, nothing is logged.
	Logger *zerolog.Logger
	// Accountant, if non-nil, receives a synchronous cost report from
	// each Request call before the request goes asynchronous.
	Accountant Accountant
}

// Request issues an HTTP request described by d as an independent
// asynchronous task and returns a Handle for controlling it. The
// opaque token is round-tripped unchanged in every message delivered
// to dest, so the caller can match messages to requests. The
// descriptor is consumed: it must not be modified after Request
// returns.
//
// Request fails synchronously only if its arguments are unusable or
// the runtime is shutting down (task.ErrShutdown); in that case no
// message is ever delivered. Every other failure, including
// descriptor validation, is reported asynchronously as a terminal
// KindError message, so callers have a single failure path to watch
// once Request returns.
//
// Note one deliberate policy of the upload race: if the response
// resolves while a body chunk is still being fed, the response wins
// and any error the abandoned feed would have produced is discarded.
func (c *Client) Request(token interface{}, dest Receiver, d *request.Descriptor) (*Handle, error) {
	if dest == nil {
		return nil, errors.New("httpq: nil receiver")
	}
	if d == nil {
		return nil, errors.New("httpq: nil descriptor")
	}
	if a := c.Accountant; a != nil {
		a.Consume(BuildCost(len(d.Header)))
	}

	eng := &engine{
		doer:  c.doer(),
		log:   c.logger(),
		token: token,
		dest:  dest,
		d:     d,
		seals: &seals{},
	}
	var bodyTx chan uploadCmd
	if d.Body.Streamed() {
		bodyTx = make(chan uploadCmd, 16)
		eng.cmds = bodyTx
		eng.feed = make(chan []byte)
	}
	var readTx chan ReadRequest
	if d.ResponseBody == request.Streamed {
		readTx = make(chan ReadRequest, 16)
		eng.reads = readTx
	}

	t, err := c.runtime().Spawn(eng.run)
	if err != nil {
		return nil, err
	}
	return &Handle{
		task:  t,
		seals: eng.seals,
		body:  bodyTx,
		reads: readTx,
	}, nil
}

// Do executes a request synchronously and returns the terminal result:
// the complete response, or the classified *fault.Error that ended the
// request. It is a convenience wrapper over Request for callers that
// do not need streaming; d must use complete body modes on both sides.
func (c *Client) Do(d *request.Descriptor) (*Response, error) {
	if d == nil {
		return nil, errors.New("httpq: nil descriptor")
	}
	if d.Body.Streamed() || d.ResponseBody == request.Streamed {
		return nil, errors.New("httpq: streamed modes require Request")
	}
	terminal := make(chan Message, 1)
	_, err := c.Request(nil, ReceiverFunc(func(m Message) {
		terminal <- m
	}), d)
	if err != nil {
		return nil, err
	}
	m := <-terminal
	if m.Kind == KindError {
		return nil, m.Err
	}
	return m.Response, nil
}

// BuildCost estimates the synchronous cost of issuing a request with
// the given header count, as a percentage of a nominal scheduling
// quantum, capped at 100. The model is linear in the header count,
// which dominates the work done before the request goes asynchronous.
func BuildCost(headers int) int {
	percent := (300 + 6*headers) / 100
	if percent > 100 {
		return 100
	}
	return percent
}

func (c *Client) doer() HTTPDoer {
	if c.HTTPDoer == nil {
		return http.DefaultClient
	}
	return c.HTTPDoer
}

func (c *Client) runtime() *task.Runtime {
	if c.Runtime == nil {
		return DefaultRuntime
	}
	return c.Runtime
}

func (c *Client) logger() *zerolog.Logger {
	if c.Logger == nil {
		return &nopLogger
	}
	return c.Logger
}
