// Copyright 2023 The httpq Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpq

import (
	"context"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/gogama/httpq/fault"
	"github.com/gogama/httpq/request"
)

// An engine owns one request end to end: it builds the transport
// request, races upload progress against response arrival, delivers
// the response complete or in caller-pulled chunks, and guarantees the
// caller at most one terminal message.
//
// The reply-slot invariant: over the engine's lifetime exactly one of
// {terminal message sent, silent abandonment} occurs. Every exit path
// either sends the terminal message itself, marks the execution silent
// because the caller closed its command channels and can never observe
// a reply, or leaves both unset so the deferred hook in run delivers a
// Cancelled error.
type engine struct {
	doer  HTTPDoer
	log   *zerolog.Logger
	token interface{}
	dest  Receiver
	d     *request.Descriptor
	seals *seals

	// cmds and feed are non-nil only for a streamed request body. The
	// engine receives caller commands on cmds and forwards accepted
	// chunks into feed, whose unbuffered capacity is the backpressure
	// contract: at most one chunk is in flight between the caller and
	// the transport.
	cmds <-chan uploadCmd
	feed chan []byte
	// reads is non-nil only for a streamed response body.
	reads <-chan ReadRequest

	replied      bool
	silent       bool
	feedClosed   bool
	respConsumed bool
	// pending carries response body bytes received but not yet
	// flushed, so a pull never over-delivers past its length and no
	// byte is ever dropped between pulls.
	pending []byte
}

// respResult is the resolution of the transport's in-flight exchange.
type respResult struct {
	resp *http.Response
	err  error
}

// run executes the request. ctx is the task context: it is cancelled
// by Handle.Cancel, by runtime stop, and when run returns.
func (eng *engine) run(ctx context.Context) {
	defer func() {
		// On-cancel hook: destroyed with the reply slot still open and
		// no proof the caller is unreachable, report cancellation.
		if !eng.replied && !eng.silent {
			eng.reply(Message{Kind: KindError, Token: eng.token,
				Err: fault.New(fault.Cancelled, "request cancelled")})
		}
	}()

	var reqCtx context.Context
	var cancelReq context.CancelFunc
	if eng.d.Timeout > 0 {
		reqCtx, cancelReq = context.WithTimeout(ctx, eng.d.Timeout)
	} else {
		reqCtx, cancelReq = context.WithCancel(ctx)
	}
	defer cancelReq()

	var stream io.ReadCloser
	if eng.feed != nil {
		stream = &uploadBody{ctx: reqCtx, feed: eng.feed}
	}
	req, err := eng.d.Build(reqCtx, stream)
	if err != nil {
		eng.replyError(err.(*fault.Error))
		return
	}
	eng.log.Debug().
		Stringer("method", eng.d.Method).
		Str("url", eng.d.URL).
		Bool("streamed_body", eng.feed != nil).
		Bool("streamed_response", eng.reads != nil).
		Msg("httpq: request started")

	respCh := make(chan respResult, 1)
	doer := eng.doer
	go func() {
		resp, err := doer.Do(req)
		respCh <- respResult{resp: resp, err: err}
	}()

	var res respResult
	if eng.feed != nil {
		r, ok := eng.raceUpload(ctx, respCh)
		if !ok {
			// Abandon the in-flight exchange before closing the feed:
			// closing the feed signals body-complete to the transport,
			// which must not happen while the send is still live.
			cancelReq()
			eng.closeFeed()
			if !eng.respConsumed {
				go drainResponse(respCh)
			}
			return
		}
		// The upload is moot once the exchange has resolved, whether
		// or not FinishSend arrived.
		eng.closeFeed()
		res = r
	} else {
		select {
		case res = <-respCh:
		case <-ctx.Done():
			cancelReq()
			go drainResponse(respCh)
			return
		}
	}

	if res.err != nil {
		eng.replyError(fault.Classify(fault.Strip(res.err)))
		return
	}
	eng.respond(ctx, res.resp)
}

// raceUpload feeds caller-supplied body chunks into the transport
// while the exchange is in flight. The two resolve in either order: a
// response can arrive before, during, or after body upload.
//
// The second return value is false when no response will be handled:
// either the execution was cancelled, or the caller abandoned the
// request (eng.silent set) and no reply can be observed. When a
// response resolves while a feed is mid-flight, the response wins and
// any failure the abandoned feed would have produced is discarded.
func (eng *engine) raceUpload(ctx context.Context, respCh <-chan respResult) (respResult, bool) {
	fin := false
	for {
		if fin {
			// Body complete; only the response can resolve the race.
			select {
			case r := <-respCh:
				return r, true
			case <-ctx.Done():
				return respResult{}, false
			}
		}
		select {
		case cmd, ok := <-eng.cmds:
			if !ok {
				// The caller closed the upload channel without ever
				// finishing the body; it cannot consume a reply.
				eng.silent = true
				return respResult{}, false
			}
			if cmd.finish {
				eng.closeFeed()
				fin = true
				continue
			}
			// Response wins: if the exchange has already resolved, the
			// chunk is moot and must not earn a progress message.
			select {
			case r := <-respCh:
				return r, true
			default:
			}
			select {
			case eng.feed <- cmd.data:
				eng.notify(Message{Kind: KindNext, Token: eng.token})
			case r := <-respCh:
				// Response wins over the in-flight feed.
				return r, true
			case <-ctx.Done():
				return respResult{}, false
			}
		case r := <-respCh:
			// The response resolved while the caller still owes a
			// command. The next command, or the channel closing,
			// decides whether anyone is listening for it.
			select {
			case _, ok := <-eng.cmds:
				if !ok {
					eng.silent = true
					eng.respConsumed = true
					closeResponse(r)
					return respResult{}, false
				}
				return r, true
			case <-ctx.Done():
				eng.respConsumed = true
				closeResponse(r)
				return respResult{}, false
			}
		case <-ctx.Done():
			return respResult{}, false
		}
	}
}

// respond captures the response head and delivers the body, complete
// or streamed. Status and headers are taken from the transport's
// response without copying.
func (eng *engine) respond(ctx context.Context, resp *http.Response) {
	response := &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
	}
	if eng.reads == nil {
		body, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			eng.replyError(fault.ClassifyBody(fault.Strip(err)))
			return
		}
		if body == nil {
			body = []byte{}
		}
		response.Body = body
		eng.reply(Message{Kind: KindReply, Token: eng.token, Response: response})
		return
	}
	// Streamed delivery: the head goes out now, non-terminal (nil
	// Body), and the reply slot stays open for the fin or error that
	// ends the chunked read protocol.
	eng.notify(Message{Kind: KindReply, Token: eng.token, Response: response})
	eng.streamResponse(ctx, resp)
}

// streamResponse drives the pull-based chunked read protocol: one
// caller pull at a time, each answered with exactly one chunk, fin, or
// error message before the next pull is consumed.
func (eng *engine) streamResponse(ctx context.Context, resp *http.Response) {
	defer resp.Body.Close()
	chunks := make(chan pull)
	go pullBody(ctx, resp.Body, chunks)
	for {
		select {
		case rr, ok := <-eng.reads:
			if !ok {
				// The caller is not awaiting a chunk and never will.
				eng.silent = true
				eng.log.Debug().Msg("httpq: response stream abandoned")
				return
			}
			data, fin, err := eng.collect(ctx, chunks, rr)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				// Seal reads before the terminal message so further
				// Read calls fail once the error is observed.
				eng.seals.reads.Store(true)
				eng.replyError(fault.ClassifyBody(fault.Strip(err)))
				return
			}
			if fin {
				eng.seals.reads.Store(true)
				eng.reply(Message{Kind: KindFin, Token: eng.token, Data: data})
				return
			}
			eng.notify(Message{Kind: KindChunk, Token: eng.token, Data: data})
		case <-ctx.Done():
			return
		}
	}
}

// closeFeed closes the upload channel, signalling end of request body
// to the transport. Safe to call more than once.
func (eng *engine) closeFeed() {
	if eng.feed != nil && !eng.feedClosed {
		close(eng.feed)
		eng.feedClosed = true
	}
}

// notify delivers a non-terminal message.
func (eng *engine) notify(m Message) {
	eng.dest.Receive(m)
}

// reply delivers the terminal message and consumes the reply slot.
func (eng *engine) reply(m Message) {
	eng.replied = true
	eng.log.Debug().Stringer("kind", m.Kind).Msg("httpq: terminal message")
	eng.dest.Receive(m)
}

func (eng *engine) replyError(err *fault.Error) {
	eng.reply(Message{Kind: KindError, Token: eng.token, Err: err})
}

// drainResponse consumes an unresolved exchange result so an abandoned
// or cancelled execution does not leak the transport goroutine or an
// unread response body. The request context is already cancelled, so
// resolution is prompt.
func drainResponse(respCh <-chan respResult) {
	closeResponse(<-respCh)
}

func closeResponse(r respResult) {
	if r.resp != nil {
		_ = r.resp.Body.Close()
	}
}
