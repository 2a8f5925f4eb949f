// Copyright 2023 The httpq Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

/*
Package request contains the core type Descriptor, which describes one
HTTP request to be executed asynchronously by the httpq engine.

A Descriptor looks like a stripped-down http.Request with all
server-side fields removed, headers as an ordered sequence of
name/value pairs, and the body replaced by a small tagged Body value:
absent, complete (a pre-buffered []byte), or streamed (fed through the
request handle while the request is in flight). A Descriptor is
immutable once built and is consumed by exactly one request execution.

Create a descriptor and hand it to a client:

	d := &request.Descriptor{
		Method: request.POST,
		URL:    "https://example.com/upload",
		Header: []request.Field{{"Content-Type", "application/json"}},
		Body:   request.Bytes(payload),
	}
	h, err := client.Request(token, dest, d)
	...

Build validates a descriptor and assembles the transport-level
http.Request. Validation failures carry the fault code the engine
reports for them: fault.URL for an unparseable or non-absolute URL,
fault.Request for a method outside the enumeration or a malformed
header field. Build never touches the network.
*/
package request
