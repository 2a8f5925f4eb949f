// Copyright 2023 The httpq Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpq

import (
	"net/http"

	"github.com/gogama/httpq/fault"
)

// A Kind identifies the type of an asynchronous Message delivered to
// the caller's Receiver during a request execution.
type Kind int

const (
	// KindNext identifies the progress message telling the caller a
	// streamed upload is ready for the next body chunk. It is never
	// terminal.
	//
	// KindNext is the backpressure token: it is delivered strictly
	// after the preceding chunk has been fully accepted by the upload
	// channel, and the caller should not send another chunk before
	// receiving it.
	KindNext Kind = iota
	// KindReply identifies a response message. With a complete
	// response body mode the message carries the full response,
	// including its body, and is terminal. With a streamed response
	// body mode the message carries only the status and headers (nil
	// Body), is not terminal, and chunk/fin messages follow.
	KindReply
	// KindChunk identifies a non-final response body chunk delivered
	// in answer to one read request. It is never terminal.
	KindChunk
	// KindFin identifies the final response body chunk, possibly
	// empty. It is always terminal.
	KindFin
	// KindError identifies a classified request failure. It is always
	// terminal.
	KindError
	// kindSentinel provides the total number of kinds typed as a Kind.
	kindSentinel

	// numKinds provides the total number of kinds typed as an int.
	numKinds = int(kindSentinel)
)

var kindNames = [numKinds]string{
	"Next",
	"Reply",
	"Chunk",
	"Fin",
	"Error",
}

// Name returns the name of the message kind.
func (k Kind) Name() string {
	return kindNames[int(k)]
}

// String returns the name of the message kind.
func (k Kind) String() string {
	return k.Name()
}

// A Response holds the result of an HTTP exchange.
type Response struct {
	// StatusCode is the HTTP response status code.
	StatusCode int
	// Header contains the response headers. Ownership transfers from
	// the transport without duplication: the engine hands over the
	// header map it received and never touches it again.
	Header http.Header
	// Body is the complete response body. It is nil when the body is
	// not yet known (the streamed-mode partial reply) and non-nil,
	// possibly empty, when complete.
	Body []byte
}

// A Message is one asynchronous notification delivered to the caller
// during a request execution. Exactly one field besides Kind and Token
// is meaningful, selected by Kind: Response for KindReply, Data for
// KindChunk and KindFin, Err for KindError.
//
// Token is the opaque correlation token the caller supplied when
// issuing the request, round-tripped unchanged in every message so the
// caller can match messages to requests.
type Message struct {
	Kind     Kind
	Token    interface{}
	Response *Response
	Data     []byte
	Err      *fault.Error
}

// Terminal indicates whether the message closes the request's reply
// slot. At most one terminal message is ever delivered per request,
// and no message of any kind follows it.
func (m Message) Terminal() bool {
	switch m.Kind {
	case KindFin, KindError:
		return true
	case KindReply:
		return m.Response != nil && m.Response.Body != nil
	default:
		return false
	}
}

// A Receiver accepts asynchronous messages on behalf of the caller of
// an asynchronous request. It stands in for the caller's mailbox:
// implementations must be safe for use from the engine's goroutine and
// must not block, or they will stall the request that is delivering
// to them.
//
// Messages are delivered in order: for a streamed response, chunk
// messages arrive strictly in pull order, and the terminal message is
// always last.
type Receiver interface {
	Receive(Message)
}

// The ReceiverFunc type is an adapter to allow the use of ordinary
// functions as receivers. If f is a function with appropriate
// signature, then ReceiverFunc(f) is a Receiver that calls f.
type ReceiverFunc func(Message)

// Receive calls f(m).
func (f ReceiverFunc) Receive(m Message) {
	f(m)
}
