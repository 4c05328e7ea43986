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
	"bytes"
	"strings"
	"testing"

	"raftkv/internal/rkverrors"
)

func decodeOne(t *testing.T, input string) [][]byte {
	t.Helper()
	argv, err := NewDecoder(strings.NewReader(input)).Decode()
	if err != nil {
		t.Fatalf("Decode(%q): %v", input, err)
	}
	return argv
}

func assertArgv(t *testing.T, got [][]byte, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("argv length = %d, want %d (%q)", len(got), len(want), got)
	}
	for i := range want {
		if string(got[i]) != want[i] {
			t.Errorf("argv[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestDecodeMultibulk(t *testing.T) {
	argv := decodeOne(t, "*3\r\n$3\r\nSET\r\n$3\r\nfoo\r\n$3\r\nbar\r\n")
	assertArgv(t, argv, "SET", "foo", "bar")
}

func TestDecodeMultibulkEmptyBulk(t *testing.T) {
	argv := decodeOne(t, "*2\r\n$4\r\nECHO\r\n$0\r\n\r\n")
	assertArgv(t, argv, "ECHO", "")
}

func TestDecodeMultibulkNonPositiveCount(t *testing.T) {
	for _, input := range []string{"*0\r\n", "*-1\r\n"} {
		if argv := decodeOne(t, input); len(argv) != 0 {
			t.Errorf("Decode(%q) = %q, want empty", input, argv)
		}
	}
}

func TestDecodeMultibulkBinarySafe(t *testing.T) {
	argv := decodeOne(t, "*1\r\n$4\r\na\r\nb\r\n")
	assertArgv(t, argv, "a\r\nb")
}

func TestDecodeMultibulkErrors(t *testing.T) {
	cases := []struct {
		input string
		code  rkverrors.ErrorCode
	}{
		{"*abc\r\n", rkverrors.ErrCodeInvalidMultibulkLength},
		{"*1\r\n:3\r\nfoo\r\n", rkverrors.ErrCodeMalformedFrame},
		{"*1\r\n$x\r\n", rkverrors.ErrCodeMalformedFrame},
	}
	for _, c := range cases {
		_, err := NewDecoder(strings.NewReader(c.input)).Decode()
		if err == nil {
			t.Errorf("Decode(%q) succeeded, want protocol error", c.input)
			continue
		}
		if got := rkverrors.GetCode(err); got != c.code {
			t.Errorf("Decode(%q) error code = %d, want %d", c.input, got, c.code)
		}
	}
}

func TestDecodeInline(t *testing.T) {
	cases := []struct {
		input string
		want  []string
	}{
		{"PING\r\n", []string{"PING"}},
		{"SET foo bar\n", []string{"SET", "foo", "bar"}},
		{"  SET   foo\t bar \r\n", []string{"SET", "foo", "bar"}},
		{"SET \"hello world\" v\r\n", []string{"SET", "hello world", "v"}},
		{`SET "a\x41b" v` + "\r\n", []string{"SET", "aAb", "v"}},
		{`SET "a\tb" v` + "\r\n", []string{"SET", "a\tb", "v"}},
		{`ECHO 'it\'s'` + "\r\n", []string{"ECHO", "it's"}},
		{"ECHO ''\r\n", []string{"ECHO", ""}},
		{"\r\n", nil},
	}
	for _, c := range cases {
		argv := decodeOne(t, c.input)
		assertArgv(t, argv, c.want...)
	}
}

func TestDecodeInlineUnbalancedQuotes(t *testing.T) {
	for _, input := range []string{"ECHO \"abc\r\n", "ECHO 'abc\r\n", "ECHO \"a\"b\r\n"} {
		_, err := NewDecoder(strings.NewReader(input)).Decode()
		if rkverrors.GetCode(err) != rkverrors.ErrCodeUnbalancedQuotes {
			t.Errorf("Decode(%q) error = %v, want unbalanced quotes", input, err)
		}
	}
}

func TestDecodeSequentialFrames(t *testing.T) {
	d := NewDecoder(strings.NewReader("*1\r\n$4\r\nPING\r\nECHO hi\r\n"))
	first, err := d.Decode()
	if err != nil {
		t.Fatalf("first Decode: %v", err)
	}
	assertArgv(t, first, "PING")
	second, err := d.Decode()
	if err != nil {
		t.Fatalf("second Decode: %v", err)
	}
	assertArgv(t, second, "ECHO", "hi")
}

func TestEncodeShapes(t *testing.T) {
	cases := []struct {
		value Value
		want  string
	}{
		{Null{}, "$-1\r\n"},
		{OK, "+OK\r\n"},
		{BulkString("bar"), "$3\r\nbar\r\n"},
		{BulkString(""), "$0\r\n\r\n"},
		{Integer(-42), ":-42\r\n"},
		{Array{Integer(1), Integer(2)}, "*2\r\n:1\r\n:2\r\n"},
		{Array{}, "*0\r\n"},
		{
			Array{Integer(1), Error{Err: rkverrors.WrongType()}},
			"*2\r\n:1\r\n-WRONGTYPE Operation against a key holding the wrong kind of value\r\n",
		},
		{Error{Err: rkverrors.ExecAborted()}, "-EXECABORT Transaction discarded because of previous errors.\r\n"},
	}
	for _, c := range cases {
		if got := Encode(c.value); string(got) != c.want {
			t.Errorf("Encode(%#v) = %q, want %q", c.value, got, c.want)
		}
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	// A request-shaped value (array of bulk strings) must decode back
	// to the same argv it encodes from.
	argv := Array{BulkString("LPUSH"), BulkString("key"), BulkString("a b"), BulkString("\r\n")}
	encoded := Encode(argv)
	decoded, err := NewDecoder(bytes.NewReader(encoded)).Decode()
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(decoded) != len(argv) {
		t.Fatalf("round trip length = %d, want %d", len(decoded), len(argv))
	}
	for i, v := range argv {
		if !bytes.Equal(decoded[i], []byte(v.(BulkString))) {
			t.Errorf("round trip argv[%d] = %q, want %q", i, decoded[i], v)
		}
	}
}
