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

// Package commands implements the closed command surface over the
// dictionary. The table is data-driven: adding a command is adding a
// row. Write and Read handlers run against a dict.Lockable so the
// same code serves both a single dispatched command (locking the
// shared store) and a sub-command inside EXEC (running under the
// transaction's one outer lock).
package commands

import (
	"strconv"
	"strings"

	"raftkv/internal/dict"
	"raftkv/internal/resp"
	"raftkv/internal/rkverrors"
)

// Kind classifies how a command interacts with the cluster. The
// session routes on it: writes go through Raft, reads go behind a
// read barrier, stateless commands run anywhere, system commands are
// handled by the connection layer, transaction commands drive the
// MULTI state machine.
type Kind int

const (
	KindWrite Kind = iota
	KindRead
	KindStateless
	KindSystem
	KindTransaction
)

func (k Kind) String() string {
	switch k {
	case KindWrite:
		return "write"
	case KindRead:
		return "read"
	case KindStateless:
		return "stateless"
	case KindSystem:
		return "system"
	case KindTransaction:
		return "transaction"
	default:
		return "unknown"
	}
}

// Arity constrains the argument count (excluding the command name).
type Arity struct {
	n       int
	atLeast bool
}

// Fixed requires exactly n arguments.
func Fixed(n int) Arity { return Arity{n: n} }

// AtLeast requires n or more arguments.
func AtLeast(n int) Arity { return Arity{n: n, atLeast: true} }

// Check reports whether count satisfies the arity.
func (a Arity) Check(count int) bool {
	if a.atLeast {
		return count >= a.n
	}
	return count == a.n
}

// Redis reports the arity the way COMMAND does: command name
// included, negative for at-least.
func (a Arity) Redis() int64 {
	if a.atLeast {
		return -int64(a.n + 1)
	}
	return int64(a.n + 1)
}

// Spec is one row of the command table.
type Spec struct {
	Name  string
	Kind  Kind
	Arity Arity

	write     func(d dict.Lockable, args [][]byte) (resp.Value, error)
	read      func(d dict.Lockable, args [][]byte) (resp.Value, error)
	stateless func(args [][]byte) (resp.Value, error)
}

// CallWrite dispatches a write command under d's write guard.
func (s *Spec) CallWrite(d dict.Lockable, args [][]byte) (resp.Value, error) {
	return s.write(d, args)
}

// CallRead dispatches a read command under d's read guard.
func (s *Spec) CallRead(d dict.Lockable, args [][]byte) (resp.Value, error) {
	return s.read(d, args)
}

// CallStateless dispatches a command that touches no shared state.
func (s *Spec) CallStateless(args [][]byte) (resp.Value, error) {
	return s.stateless(args)
}

var table = map[string]*Spec{}

func register(s *Spec) {
	table[s.Name] = s
}

func registerWrite(name string, arity Arity, fn func(dict.Lockable, [][]byte) (resp.Value, error)) {
	register(&Spec{Name: name, Kind: KindWrite, Arity: arity, write: fn})
}

func registerRead(name string, arity Arity, fn func(dict.Lockable, [][]byte) (resp.Value, error)) {
	register(&Spec{Name: name, Kind: KindRead, Arity: arity, read: fn})
}

func registerStateless(name string, arity Arity, fn func([][]byte) (resp.Value, error)) {
	register(&Spec{Name: name, Kind: KindStateless, Arity: arity, stateless: fn})
}

func init() {
	// System and transaction commands are dispatched by the session,
	// never through this table's handlers; their rows exist so that
	// classification and arity checks are uniform.
	for name, arity := range map[string]Arity{
		"SELECT":    Fixed(1),
		"CLUSTER":   AtLeast(1),
		"INFO":      AtLeast(0),
		"READONLY":  Fixed(0),
		"READWRITE": Fixed(0),
		"SHUTDOWN":  AtLeast(0),
		"AUDIT":     AtLeast(1),
	} {
		register(&Spec{Name: name, Kind: KindSystem, Arity: arity})
	}
	for name := range map[string]struct{}{"MULTI": {}, "EXEC": {}, "DISCARD": {}} {
		register(&Spec{Name: name, Kind: KindTransaction, Arity: Fixed(0)})
	}
}

// Lookup resolves a command name case-insensitively.
func Lookup(name []byte) (*Spec, bool) {
	s, ok := table[strings.ToUpper(string(name))]
	return s, ok
}

// Names returns the spec of every registered command, for COMMAND.
func Names() []*Spec {
	specs := make([]*Spec, 0, len(table))
	for _, s := range table {
		specs = append(specs, s)
	}
	return specs
}

// --- shared argument helpers ---

func argInt(b []byte) (int64, error) {
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0, rkverrors.NotAnInteger()
	}
	return n, nil
}

// typedLookup fetches key as type T, distinguishing "absent" from
// "present with another type".
func typedLookup[T dict.Object](d dict.Dictionary, key []byte) (T, bool, error) {
	var zero T
	obj, ok := d[string(key)]
	if !ok {
		return zero, false, nil
	}
	typed, ok := obj.(T)
	if !ok {
		return zero, false, rkverrors.WrongType()
	}
	return typed, true, nil
}

func bulkArray(items [][]byte) resp.Value {
	values := make(resp.Array, len(items))
	for i, item := range items {
		values[i] = resp.BulkString(item)
	}
	return values
}
