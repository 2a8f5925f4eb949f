// Copyright 2023 The httpq Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpq

import (
	"context"
	"io"
	"time"
)

// An uploadBody adapts the engine's upload channel into the io.Reader
// the transport consumes as the request body. Receiving a chunk from
// feed is the moment the chunk counts as accepted: the channel is
// unbuffered, so the engine's feed completes exactly when the
// transport takes delivery. Channel close is end of body.
type uploadBody struct {
	ctx  context.Context
	feed <-chan []byte
	buf  []byte
}

func (b *uploadBody) Read(p []byte) (int, error) {
	for len(b.buf) == 0 {
		select {
		case chunk, ok := <-b.feed:
			if !ok {
				return 0, io.EOF
			}
			b.buf = chunk
		case <-b.ctx.Done():
			return 0, b.ctx.Err()
		}
	}
	n := copy(p, b.buf)
	b.buf = b.buf[n:]
	return n, nil
}

func (b *uploadBody) Close() error {
	return nil
}

// A pull is one increment of the response body: a data chunk, end of
// body, or a transport failure.
type pull struct {
	data []byte
	eof  bool
	err  error
}

// pullBody bridges the blocking response body reader into a channel
// the engine can race against read periods and cancellation. The
// channel is unbuffered, so the bridge reads at most one chunk ahead
// of the engine.
func pullBody(ctx context.Context, body io.Reader, chunks chan<- pull) {
	buf := make([]byte, 32*1024)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			select {
			case chunks <- pull{data: data}:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			p := pull{err: err}
			if err == io.EOF {
				p = pull{eof: true}
			}
			select {
			case chunks <- p:
			case <-ctx.Done():
			}
			return
		}
	}
}

// collect accumulates body increments in answer to one read request.
// It flushes exactly the requested length once that much has
// accumulated, carrying any excess to the next pull so that the
// concatenation of all flushed chunks reproduces the body byte for
// byte; it flushes short on end of body (fin true); and, if a period
// is set, it flushes a partial, possibly empty, chunk when the period
// elapses with the body still open. A period flush is liveness, not
// error. The accumulation buffer is reused across pulls, so flushed
// data is copied out.
func (eng *engine) collect(ctx context.Context, chunks <-chan pull, rr ReadRequest) (data []byte, fin bool, err error) {
	length := rr.Length
	if length <= 0 {
		length = DefaultReadLength
	}
	var period <-chan time.Time
	if rr.Period > 0 {
		timer := time.NewTimer(rr.Period)
		defer timer.Stop()
		period = timer.C
	}
	for len(eng.pending) < length {
		select {
		case p := <-chunks:
			if p.err != nil {
				return nil, false, p.err
			}
			if p.eof {
				return eng.take(len(eng.pending)), true, nil
			}
			eng.pending = append(eng.pending, p.data...)
		case <-period:
			return eng.take(len(eng.pending)), false, nil
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}
	return eng.take(length), false, nil
}

// take copies the first n pending bytes out and shifts the remainder
// down, preserving the buffer's allocation.
func (eng *engine) take(n int) []byte {
	data := make([]byte, n)
	copy(data, eng.pending)
	rest := copy(eng.pending, eng.pending[n:])
	eng.pending = eng.pending[:rest]
	return data
}
