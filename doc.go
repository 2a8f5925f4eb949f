// Copyright 2023 The httpq Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

/*
Package httpq executes HTTP requests as independently cancellable
asynchronous tasks, streaming request bodies in from the caller and
response bodies out to the caller under strict backpressure, with
exactly one terminal notification per request.

Create a Client and issue a request; results arrive as messages on the
Receiver you supply, each carrying your correlation token:

	client := &httpq.Client{}
	d := &request.Descriptor{Method: request.GET, URL: "https://www.example.com"}
	h, err := client.Request(token, myReceiver, d)
	...

The returned Handle controls the in-flight request. For a streamed
request body, Send enqueues one chunk and the engine answers with a
KindNext message once the chunk has been accepted by the transport;
wait for it before sending the next chunk (the backpressure contract),
then end the body with FinishSend:

	d := &request.Descriptor{
		Method: request.POST,
		URL:    "https://example.com/upload",
		Body:   request.Stream(),
	}
	h, err := client.Request(token, myReceiver, d)
	...
	err = h.Send(chunk) // KindNext arrives when accepted
	...
	err = h.FinishSend()

For a streamed response body, the engine first delivers a non-terminal
KindReply message carrying status and headers only, then answers each
Read with exactly one KindChunk message, until the final KindFin:

	err = h.Read(httpq.ReadRequest{Length: 64 * 1024})

Every request ends with at most one terminal message: a KindReply with
a complete body, a KindFin, or a classified KindError (see package
fault). Cancel hard-aborts the request; CancelStream closes the
command channels and lets in-flight network activity wind down
naturally. A caller that has closed all its command channels before
the engine owes it a reply receives nothing at all, because nothing it
could observe remains.

For callers that do not need streaming or asynchrony, Client.Do wraps
the machinery in a synchronous call:

	resp, err := client.Do(d)

For control over how requests are sent on the wire, set a custom
HTTPDoer, for example one built by package config from a TOML file:

	cfg, err := config.Load("client.toml")
	...
	doer, err := cfg.HTTPClient()
	...
	client := &httpq.Client{HTTPDoer: doer}
*/
package httpq
