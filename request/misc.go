// Copyright 2023 The httpq Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package request

import (
	"errors"
	"io"
)

const badBodyTypeMsg = "httpq/request: invalid type (for body use nil, " +
	"string, []byte, io.Reader or io.ReadCloser)"

// BodyOf converts a generic body parameter to a complete Body.
//
// The body parameter may be nil, or it may be a string, []byte,
// io.Reader, or io.ReadCloser. The conversion logic is:
//
// • If body is nil, the absent (zero) Body and no error is returned.
//
// • If body is a []byte, a complete Body referencing body itself, and
// no error, is returned.
//
// • If body is a string, a complete Body using the built-in conversion
// from string to byte slice, and no error, is returned.
//
// • If body is an io.Reader or io.ReadCloser, the result of reading
// the whole contents of the reader (and closing it if it implements
// Closer) is returned as a complete Body. If reading from the reader
// (and closing it if applicable) causes an error, the return value is
// the zero Body and the error.
//
// • If body is any other type than those listed above, the zero Body
// and an error is returned.
func BodyOf(body interface{}) (Body, error) {
	switch x := body.(type) {
	case nil:
		return Body{}, nil
	case string:
		return Bytes([]byte(x)), nil
	case []byte:
		return Bytes(x), nil
	case io.ReadCloser:
		b, err := io.ReadAll(x)
		if err != nil {
			return Body{}, err
		}
		err = x.Close()
		if err != nil {
			return Body{}, err
		}
		return Bytes(b), nil
	case io.Reader:
		return BodyOf(io.NopCloser(x))
	default:
		return Body{}, errors.New(badBodyTypeMsg)
	}
}
