// Copyright 2023 The httpq Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpq

import (
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogama/httpq/fault"
	"github.com/gogama/httpq/request"
)

const wait = 5 * time.Second

func TestUploadStream(t *testing.T) {
	c := &Client{}
	rec := newRecorder()
	d := &request.Descriptor{
		Method: request.POST,
		URL:    serverURL("/echo"),
		Body:   request.Stream(),
	}
	h, err := c.Request("tok", rec, d)
	require.NoError(t, err)

	require.NoError(t, h.Send([]byte("aaaaaaaaaa")))
	m := rec.next(t, wait)
	assert.Equal(t, KindNext, m.Kind)
	assert.Equal(t, "tok", m.Token)

	require.NoError(t, h.Send([]byte("bbbbbbbbbb")))
	m = rec.next(t, wait)
	assert.Equal(t, KindNext, m.Kind)

	require.NoError(t, h.FinishSend())
	m = rec.next(t, wait)
	require.Equal(t, KindReply, m.Kind)
	assert.True(t, m.Terminal())
	assert.Equal(t, "tok", m.Token)
	assert.Equal(t, http.StatusOK, m.Response.StatusCode)
	assert.Equal(t, []byte("aaaaaaaaaabbbbbbbbbb"), m.Response.Body)
	assert.Equal(t, "echo", m.Response.Header.Get("X-Test-Handler"))
	rec.quiet(t, 100*time.Millisecond)
}

func TestUploadStreamWithoutWaiting(t *testing.T) {
	// Sending chunks without awaiting the backpressure token between
	// them must still process them in order, not interleave or drop.
	c := &Client{}
	rec := newRecorder()
	d := &request.Descriptor{
		Method: request.POST,
		URL:    serverURL("/echo"),
		Body:   request.Stream(),
	}
	h, err := c.Request(nil, rec, d)
	require.NoError(t, err)

	require.NoError(t, h.Send([]byte("first,")))
	require.NoError(t, h.Send([]byte("second,")))
	require.NoError(t, h.Send([]byte("third")))
	require.NoError(t, h.FinishSend())

	var nexts int
	for {
		m := rec.next(t, wait)
		if m.Kind == KindNext {
			nexts++
			continue
		}
		require.Equal(t, KindReply, m.Kind)
		assert.Equal(t, []byte("first,second,third"), m.Response.Body)
		break
	}
	assert.Equal(t, 3, nexts)
}

func TestResponseStream(t *testing.T) {
	c := &Client{}
	rec := newRecorder()
	d := &request.Descriptor{
		Method:       request.GET,
		URL:          serverURL("/bytes?n=100"),
		ResponseBody: request.Streamed,
	}
	h, err := c.Request("tok", rec, d)
	require.NoError(t, err)

	m := rec.next(t, wait)
	require.Equal(t, KindReply, m.Kind)
	assert.False(t, m.Terminal())
	assert.Equal(t, http.StatusOK, m.Response.StatusCode)
	assert.Nil(t, m.Response.Body)

	var got []byte
	lengths := []int{40, 40, 20}
	for i := 0; ; i++ {
		require.NoError(t, h.Read(ReadRequest{Length: 40}))
		m = rec.next(t, wait)
		if m.Kind == KindChunk {
			require.Less(t, i, len(lengths))
			assert.Len(t, m.Data, lengths[i])
			got = append(got, m.Data...)
			continue
		}
		require.Equal(t, KindFin, m.Kind)
		assert.Len(t, m.Data, lengths[len(lengths)-1])
		got = append(got, m.Data...)
		break
	}
	assert.Len(t, got, 100)
	for _, b := range got {
		assert.Equal(t, byte('a'), b)
	}

	// The terminal fin permanently closes the read channel.
	assert.Same(t, ErrUnusable, h.Read(ReadRequest{}))
	rec.quiet(t, 100*time.Millisecond)
}

func TestResponseStreamDefaultLength(t *testing.T) {
	// With no length, a single pull should deliver the whole short
	// body as the fin.
	c := &Client{}
	rec := newRecorder()
	d := &request.Descriptor{
		Method:       request.GET,
		URL:          serverURL("/bytes?n=100"),
		ResponseBody: request.Streamed,
	}
	h, err := c.Request(nil, rec, d)
	require.NoError(t, err)

	m := rec.next(t, wait)
	require.Equal(t, KindReply, m.Kind)
	require.NoError(t, h.Read(ReadRequest{}))
	m = rec.next(t, wait)
	require.Equal(t, KindFin, m.Kind)
	assert.Len(t, m.Data, 100)
}

func TestResponseStreamPeriodFlush(t *testing.T) {
	// A short period produces more, smaller (possibly empty) chunks,
	// never data loss or duplication.
	c := &Client{}
	rec := newRecorder()
	d := &request.Descriptor{
		Method:       request.GET,
		URL:          serverURL("/drip?count=3&size=5&interval=60ms"),
		ResponseBody: request.Streamed,
	}
	h, err := c.Request(nil, rec, d)
	require.NoError(t, err)

	m := rec.next(t, wait)
	require.Equal(t, KindReply, m.Kind)

	var got []byte
	for {
		require.NoError(t, h.Read(ReadRequest{Length: 1000, Period: 20 * time.Millisecond}))
		m = rec.next(t, wait)
		if m.Kind == KindChunk {
			got = append(got, m.Data...)
			continue
		}
		require.Equal(t, KindFin, m.Kind)
		got = append(got, m.Data...)
		break
	}
	assert.Equal(t, []byte("000001111122222"), got)
}

func TestResponseWinsOverUpload(t *testing.T) {
	// A server can respond after reading only the request headers. The
	// stock net/http server withholds such a response until the chunked
	// request body completes, so the scenario is driven through a stub
	// HTTPDoer that resolves the exchange without consuming the body.
	// The response must win the race, and a chunk made moot by it must
	// not earn a backpressure token.
	t.Run("while feeding", func(t *testing.T) {
		release := make(chan struct{})
		c := &Client{HTTPDoer: earlyDoer(release)}
		rec := newRecorder()
		d := &request.Descriptor{
			Method: request.POST,
			URL:    "http://example.com/early",
			Body:   request.Stream(),
		}
		h, err := c.Request(nil, rec, d)
		require.NoError(t, err)

		// The doer never reads the body, so the chunk stays in flight
		// until the response resolves.
		require.NoError(t, h.Send([]byte("moot")))
		rec.quiet(t, 100*time.Millisecond)
		close(release)

		m := rec.next(t, wait)
		require.Equal(t, KindReply, m.Kind)
		assert.Equal(t, []byte("early"), m.Response.Body)
		rec.quiet(t, 100*time.Millisecond)
	})
	t.Run("while idle", func(t *testing.T) {
		release := make(chan struct{})
		close(release)
		c := &Client{HTTPDoer: earlyDoer(release)}
		rec := newRecorder()
		d := &request.Descriptor{
			Method: request.POST,
			URL:    "http://example.com/early",
			Body:   request.Stream(),
		}
		h, err := c.Request(nil, rec, d)
		require.NoError(t, err)

		time.Sleep(150 * time.Millisecond) // let the response land first
		require.NoError(t, h.Send([]byte("moot")))

		m := rec.next(t, wait)
		require.Equal(t, KindReply, m.Kind)
		assert.Equal(t, []byte("early"), m.Response.Body)
		rec.quiet(t, 100*time.Millisecond)
	})
}

// earlyDoer returns an HTTPDoer whose Do resolves the exchange without
// ever reading the request body, once release is closed.
func earlyDoer(release <-chan struct{}) HTTPDoer {
	return doerFunc(func(_ *http.Request) (*http.Response, error) {
		<-release
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     make(http.Header),
			Body:       io.NopCloser(strings.NewReader("early")),
		}, nil
	})
}

func TestCancelImmediate(t *testing.T) {
	c := &Client{}
	rec := newRecorder()
	d := &request.Descriptor{
		Method: request.GET,
		URL:    serverURL("/slow?delay=2s"),
	}
	h, err := c.Request("tok", rec, d)
	require.NoError(t, err)
	h.Cancel()

	m := rec.next(t, wait)
	require.Equal(t, KindError, m.Kind)
	assert.Equal(t, fault.Cancelled, m.Err.Code)
	assert.Equal(t, "tok", m.Token)
	rec.quiet(t, 100*time.Millisecond)
}

func TestCancelIdempotent(t *testing.T) {
	c := &Client{}
	rec := newRecorder()
	d := &request.Descriptor{
		Method: request.GET,
		URL:    serverURL("/bytes?n=10"),
	}
	h, err := c.Request(nil, rec, d)
	require.NoError(t, err)

	m := rec.next(t, wait)
	require.Equal(t, KindReply, m.Kind)

	h.Cancel()
	h.Cancel()
	rec.quiet(t, 100*time.Millisecond)
}

func TestCancelStreamSilentAbandon(t *testing.T) {
	// Closing the command channels before the engine owes a reply
	// terminates the request without any message at all.
	c := &Client{}
	rec := newRecorder()
	d := &request.Descriptor{
		Method: request.POST,
		URL:    serverURL("/echo"),
		Body:   request.Stream(),
	}
	h, err := c.Request(nil, rec, d)
	require.NoError(t, err)

	h.CancelStream()
	select {
	case <-h.task.Done():
	case <-time.After(wait):
		t.Fatal("engine did not terminate")
	}
	rec.quiet(t, 100*time.Millisecond)
}

func TestReadChannelCloseSilentAbandon(t *testing.T) {
	// Abandoning the read channel between pulls ends the streamed
	// response silently.
	c := &Client{}
	rec := newRecorder()
	d := &request.Descriptor{
		Method:       request.GET,
		URL:          serverURL("/bytes?n=10"),
		ResponseBody: request.Streamed,
	}
	h, err := c.Request(nil, rec, d)
	require.NoError(t, err)

	m := rec.next(t, wait)
	require.Equal(t, KindReply, m.Kind)
	require.False(t, m.Terminal())

	h.CancelStream()
	select {
	case <-h.task.Done():
	case <-time.After(wait):
		t.Fatal("engine did not terminate")
	}
	rec.quiet(t, 100*time.Millisecond)
}

func TestRequestTimeout(t *testing.T) {
	c := &Client{}
	rec := newRecorder()
	d := &request.Descriptor{
		Method:  request.GET,
		URL:     serverURL("/slow?delay=2s"),
		Timeout: 50 * time.Millisecond,
	}
	_, err := c.Request(nil, rec, d)
	require.NoError(t, err)

	m := rec.next(t, wait)
	require.Equal(t, KindError, m.Kind)
	assert.Equal(t, fault.Timeout, m.Err.Code)
}

func TestMalformedURLNoNetwork(t *testing.T) {
	var dialed atomic.Bool
	c := &Client{
		HTTPDoer: doerFunc(func(r *http.Request) (*http.Response, error) {
			dialed.Store(true)
			return http.DefaultClient.Do(r)
		}),
	}
	rec := newRecorder()
	d := &request.Descriptor{
		Method: request.GET,
		URL:    "http://bad host/%zz\x7f",
	}
	_, err := c.Request("tok", rec, d)
	require.NoError(t, err)

	m := rec.next(t, wait)
	require.Equal(t, KindError, m.Kind)
	assert.Equal(t, fault.URL, m.Err.Code)
	assert.Equal(t, "tok", m.Token)
	assert.False(t, dialed.Load())
}

type doerFunc func(r *http.Request) (*http.Response, error)

func (f doerFunc) Do(r *http.Request) (*http.Response, error) {
	return f(r)
}
