// Copyright 2023 The httpq Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package fault defines the error taxonomy used by the asynchronous
// HTTP request engine (package httpq).
//
// Every terminal error delivered by the engine is a *fault.Error
// carrying one of the fixed Codes. Use Classify to map an arbitrary
// error produced by the underlying HTTP transport into the taxonomy.
package fault

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"syscall"
)

// A Code classifies a terminal request failure by the nature of the
// failure, not by where in the request lifecycle it was detected.
type Code int

const (
	// Unknown indicates a failure the engine could not classify more
	// precisely. It is the zero value.
	Unknown Code = iota
	// Cancelled indicates the request was cancelled or abandoned
	// before it could produce a result.
	Cancelled
	// URL indicates the request URL could not be parsed.
	URL
	// Request indicates malformed caller input other than the URL,
	// for example an invalid header name or an invalid body.
	Request
	// Redirect indicates the transport's redirect policy aborted the
	// request.
	Redirect
	// Connect indicates a connection could not be established,
	// including TLS handshake failures, connection refusal, and
	// connection reset.
	Connect
	// Timeout indicates the request, or a phase of it, exceeded its
	// deadline.
	Timeout
	// Body indicates a failure while transferring the response body
	// after the response head was received.
	Body
	// codeSentinel provides the total number of codes typed as a Code.
	codeSentinel

	// numCodes provides the total number of codes typed as an int.
	numCodes = int(codeSentinel)
)

var codeNames = [numCodes]string{
	"Unknown",
	"Cancelled",
	"URL",
	"Request",
	"Redirect",
	"Connect",
	"Timeout",
	"Body",
}

// String returns the name of the code.
func (c Code) String() string {
	if c < 0 || c >= codeSentinel {
		return fmt.Sprintf("Code(%d)", int(c))
	}
	return codeNames[c]
}

// An Error is a classified request failure. It is the only error type
// the engine ever delivers in a terminal error message.
type Error struct {
	// Code is the failure classification.
	Code Code
	// Reason is a human-readable description of the failure.
	Reason string
	// cause is the underlying error, if any.
	cause error
}

// New constructs an Error with the given code and reason.
func New(code Code, reason string) *Error {
	return &Error{Code: code, Reason: reason}
}

// Wrap constructs an Error with the given code whose reason and cause
// are taken from err.
func Wrap(code Code, err error) *Error {
	return &Error{Code: code, Reason: err.Error(), cause: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("httpq: %s: %s", e.Code, e.Reason)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// Classify maps an arbitrary error into the taxonomy, producing a
// non-nil *Error for any non-nil input.
//
// Classification looks at wrapped cause errors contained within err,
// not just err itself. An err that already contains an *Error (for
// example one produced by a CheckRedirect installed by package config)
// keeps its original code. Deadline expiry and any error with a
// Timeout() function that reports true classify as Timeout. Dial-phase
// and TLS failures, connection refusal and connection reset classify
// as Connect. Anything else classifies as Unknown.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}

	if errors.Is(err, context.Canceled) {
		return Wrap(Cancelled, err)
	}

	var hasTimeout hasTimeout
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.As(err, &hasTimeout) && hasTimeout.Timeout() {
		return Wrap(Timeout, err)
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		if errno == syscall.ECONNREFUSED || errno == syscall.ECONNRESET {
			return Wrap(Connect, err)
		}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return Wrap(Connect, err)
	}

	var recordHeaderErr tls.RecordHeaderError
	var certVerificationErr *tls.CertificateVerificationError
	if errors.As(err, &recordHeaderErr) || errors.As(err, &certVerificationErr) {
		return Wrap(Connect, err)
	}

	return Wrap(Unknown, err)
}

// ClassifyBody maps an error encountered while transferring a response
// body. The transport does not distinguish body-phase failures from
// other failures, so the call site supplies the phase: a timeout stays
// a Timeout, anything else is a Body error.
func ClassifyBody(err error) *Error {
	if err == nil {
		return nil
	}

	e := Classify(err)
	switch e.Code {
	case Timeout, Cancelled:
		return e
	default:
		return &Error{Code: Body, Reason: e.Reason, cause: e.cause}
	}
}

// Strip removes *url.Error wrapping, which the standard HTTP client
// adds around every transport failure, so that reasons read cleanly.
// Classification is unaffected by wrapping either way.
func Strip(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err
	}
	return err
}

type hasTimeout interface {
	Timeout() bool
}
