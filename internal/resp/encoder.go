/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package resp

import (
	"bufio"
	"io"
	"strconv"

	"raftkv/internal/rkverrors"
)

// Append encodes v onto dst and returns the extended slice.
func Append(dst []byte, v Value) []byte {
	switch v := v.(type) {
	case Null:
		return append(dst, "$-1\r\n"...)
	case SimpleString:
		dst = append(dst, '+')
		dst = append(dst, v...)
		return append(dst, '\r', '\n')
	case BulkString:
		dst = append(dst, '$')
		dst = strconv.AppendInt(dst, int64(len(v)), 10)
		dst = append(dst, '\r', '\n')
		dst = append(dst, v...)
		return append(dst, '\r', '\n')
	case Integer:
		dst = append(dst, ':')
		dst = strconv.AppendInt(dst, int64(v), 10)
		return append(dst, '\r', '\n')
	case Array:
		dst = append(dst, '*')
		dst = strconv.AppendInt(dst, int64(len(v)), 10)
		dst = append(dst, '\r', '\n')
		for _, child := range v {
			dst = Append(dst, child)
		}
		return dst
	case Error:
		dst = append(dst, '-')
		dst = append(dst, rkverrors.FormatRESP(v.Err)...)
		return append(dst, '\r', '\n')
	default:
		// Every Value variant is covered above; an unknown type is a
		// programming error worth failing loudly on.
		panic("resp: unknown value type")
	}
}

// Encode renders v as a standalone reply.
func Encode(v Value) []byte {
	return Append(nil, v)
}

// Encoder writes replies to a buffered stream.
type Encoder struct {
	w *bufio.Writer
}

// NewEncoder wraps w in a buffered RESP reply writer.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriter(w)}
}

// Encode writes one reply and flushes.
func (e *Encoder) Encode(v Value) error {
	if _, err := e.w.Write(Append(nil, v)); err != nil {
		return err
	}
	return e.w.Flush()
}

// EncodeRaw writes pre-encoded reply bytes (a state machine output)
// and flushes.
func (e *Encoder) EncodeRaw(reply []byte) error {
	if _, err := e.w.Write(reply); err != nil {
		return err
	}
	return e.w.Flush()
}

// EncodeError writes err as a RESP error frame and flushes.
func (e *Encoder) EncodeError(err error) error {
	return e.Encode(Error{Err: err})
}
