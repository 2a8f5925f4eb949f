// Copyright 2023 The httpq Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpq

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindName(t *testing.T) {
	names := map[Kind]string{
		KindNext:  "Next",
		KindReply: "Reply",
		KindChunk: "Chunk",
		KindFin:   "Fin",
		KindError: "Error",
	}
	for k, name := range names {
		assert.Equal(t, name, k.Name())
		assert.Equal(t, name, k.String())
	}
}

func TestMessageTerminal(t *testing.T) {
	testCases := []struct {
		name     string
		m        Message
		terminal bool
	}{
		{"next", Message{Kind: KindNext}, false},
		{"chunk", Message{Kind: KindChunk, Data: []byte("x")}, false},
		{"fin", Message{Kind: KindFin}, true},
		{"error", Message{Kind: KindError}, true},
		{"partial reply", Message{Kind: KindReply, Response: &Response{StatusCode: 200}}, false},
		{"complete reply", Message{Kind: KindReply, Response: &Response{StatusCode: 200, Body: []byte{}}}, true},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			assert.Equal(t, testCase.terminal, testCase.m.Terminal())
		})
	}
}

func TestReceiverFunc(t *testing.T) {
	var got Message
	f := ReceiverFunc(func(m Message) {
		got = m
	})
	m := Message{Kind: KindChunk, Token: "tok", Data: []byte("abc")}
	f.Receive(m)
	assert.Equal(t, m, got)
}
