// Copyright 2023 The httpq Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package request

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	urlpkg "net/url"
	"strings"
	"time"

	"golang.org/x/net/http/httpguts"

	"github.com/gogama/httpq/fault"
)

var (
	template, _ = http.NewRequest("GET", "", nil)
)

// A Method is one of the fixed enumeration of HTTP request methods.
type Method int

const (
	OPTIONS Method = iota
	GET
	POST
	PUT
	DELETE
	HEAD
	TRACE
	CONNECT
	PATCH
	// methodSentinel provides the total number of methods typed as a
	// Method.
	methodSentinel

	// numMethods provides the total number of methods typed as an int.
	numMethods = int(methodSentinel)
)

var methodNames = [numMethods]string{
	"OPTIONS",
	"GET",
	"POST",
	"PUT",
	"DELETE",
	"HEAD",
	"TRACE",
	"CONNECT",
	"PATCH",
}

// Methods returns a slice containing every method in the enumeration.
func Methods() []Method {
	m := make([]Method, numMethods)
	for i := range m {
		m[i] = Method(i)
	}
	return m
}

// Valid indicates whether m is a member of the method enumeration.
func (m Method) Valid() bool {
	return m >= 0 && m < methodSentinel
}

// String returns the method name as it appears on the wire.
func (m Method) String() string {
	if !m.Valid() {
		return fmt.Sprintf("Method(%d)", int(m))
	}
	return methodNames[m]
}

// ParseMethod converts a wire-format method name (case-insensitive)
// into a Method. The second return value reports whether s named a
// member of the enumeration.
func ParseMethod(s string) (Method, bool) {
	u := strings.ToUpper(s)
	for i, name := range methodNames {
		if name == u {
			return Method(i), true
		}
	}
	return 0, false
}

// A Field is a single name/value header pair. A Descriptor carries its
// header fields as an ordered sequence of Fields, preserving the order
// the caller supplied them in.
type Field struct {
	Name  string
	Value string
}

type bodyKind int

const (
	bodyNone bodyKind = iota
	bodyComplete
	bodyStreamed
)

// A Body describes the request body of a Descriptor: absent (the zero
// value), complete (known in full upfront), or streamed (fed to the
// engine chunk by chunk while the request is in flight).
type Body struct {
	kind bodyKind
	data []byte
}

// Bytes returns a complete Body containing data. A nil data is a
// complete, empty body; to send no body at all use the zero Body.
func Bytes(data []byte) Body {
	return Body{kind: bodyComplete, data: data}
}

// Stream returns a streamed Body marker. The body content is supplied
// through the request's handle after the request has been issued.
func Stream() Body {
	return Body{kind: bodyStreamed}
}

// Streamed indicates whether the body is the streamed variant.
func (b Body) Streamed() bool {
	return b.kind == bodyStreamed
}

// A ResponseMode selects how the response body is delivered to the
// caller.
type ResponseMode int

const (
	// Complete delivers the response body in full, buffered into the
	// single terminal reply. It is the zero value.
	Complete ResponseMode = iota
	// Streamed delivers the response head first, then the body in
	// caller-pulled chunks.
	Streamed
)

// A Descriptor describes one HTTP request to be executed by the
// engine. It is immutable once built and is consumed by exactly one
// request execution.
type Descriptor struct {
	// Method specifies the HTTP method. It must be a member of the
	// method enumeration.
	Method Method

	// URL specifies the absolute URL to access.
	URL string

	// Header contains the request header fields to send, in order.
	// Multiple fields may share a name; their relative order is
	// preserved.
	Header []Field

	// Body is the request body: absent (zero value), complete, or
	// streamed.
	Body Body

	// ResponseBody selects complete or streamed delivery of the
	// response body.
	ResponseBody ResponseMode

	// Timeout bounds the entire exchange, from connection through the
	// last body byte. Zero means no timeout.
	Timeout time.Duration
}

// Build validates the descriptor and assembles it into an HTTP request
// ready to hand to a transport. The context of the new request is set
// to ctx, which may not be nil.
//
// For a streamed body, stream supplies the request body reader and
// must be non-nil; it is ignored otherwise. Build fails with a
// fault.URL error if the URL cannot be parsed and a fault.Request
// error for an invalid method or malformed header field. No network
// activity occurs in Build.
func (d *Descriptor) Build(ctx context.Context, stream io.ReadCloser) (*http.Request, error) {
	if !d.Method.Valid() {
		return nil, fault.New(fault.Request, fmt.Sprintf("invalid method %d", int(d.Method)))
	}
	u, err := urlpkg.Parse(d.URL)
	if err != nil {
		return nil, fault.Wrap(fault.URL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fault.New(fault.URL, fmt.Sprintf("not an absolute URL: %q", d.URL))
	}
	u.Host = removeEmptyPort(u.Host)

	r := template.WithContext(ctx)
	r.Method = d.Method.String()
	r.URL = u
	r.Host = u.Host
	r.Header = make(http.Header, len(d.Header))
	for _, f := range d.Header {
		if !httpguts.ValidHeaderFieldName(f.Name) {
			return nil, fault.New(fault.Request, fmt.Sprintf("invalid header name %q", f.Name))
		}
		if !httpguts.ValidHeaderFieldValue(f.Value) {
			return nil, fault.New(fault.Request, fmt.Sprintf("invalid value for header %q", f.Name))
		}
		r.Header.Add(f.Name, f.Value)
	}

	switch d.Body.kind {
	case bodyNone:
	case bodyComplete:
		body := d.Body.data
		r.Body = io.NopCloser(bytes.NewReader(body))
		r.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
		r.ContentLength = int64(len(body))
	case bodyStreamed:
		if stream == nil {
			return nil, fault.New(fault.Request, "streamed body without a stream")
		}
		// Leave ContentLength at zero so the transport uses chunked
		// transfer encoding.
		r.Body = stream
	}
	return r, nil
}

// hasPort is lifted verbatim from net/http/http.go
//
// Given a string of the form "host", "host:port", or "[ipv6::address]:port",
// return true if the string includes a port.
func hasPort(s string) bool { return strings.LastIndex(s, ":") > strings.LastIndex(s, "]") }

// removeEmptyPort is lifted verbatim from net/http/http.go
//
// removeEmptyPort strips the empty port in ":port" to ""
// as mandated by RFC 3986 Section 6.2.3.
func removeEmptyPort(host string) string {
	if hasPort(host) {
		return strings.TrimSuffix(host, ":")
	}
	return host
}
