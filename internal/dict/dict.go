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

// Package dict holds the replicated keyspace: an unordered mapping
// from byte-string keys to typed objects, guarded by a single
// reader-writer lock. Command modules run against the Lockable
// contract, which is satisfied both by the shared Store and by a
// Borrowed view of an already-held write lock, so a transaction can
// take the lock once and run every queued command under it.
package dict

import "sync"

// Object is a typed value in the keyspace: String, List, Hash or Set.
type Object interface {
	typeName() string
}

// String is a binary-safe byte string.
type String []byte

// List is an ordered sequence of elements. Index 0 is the head (the
// LPUSH end).
type List [][]byte

// Hash maps field names to values.
type Hash map[string][]byte

// Set holds distinct members.
type Set map[string]struct{}

func (String) typeName() string { return "string" }
func (List) typeName() string   { return "list" }
func (Hash) typeName() string   { return "hash" }
func (Set) typeName() string    { return "set" }

// TypeName reports the name TYPE replies with, or "none" for nil.
func TypeName(o Object) string {
	if o == nil {
		return "none"
	}
	return o.typeName()
}

// Dictionary is the raw keyspace. It is never accessed without a
// guard from a Lockable.
type Dictionary map[string]Object

// Guard is a held lock over the dictionary. Release returns the lock;
// releasing a Guard twice or using it afterwards is a bug.
type Guard interface {
	Dict() Dictionary
	Release()
}

// Lockable hands out guarded access to a Dictionary.
type Lockable interface {
	Read() Guard
	Write() Guard
}

// Store is the shared, process-wide keyspace.
type Store struct {
	mu   sync.RWMutex
	dict Dictionary
}

// NewStore returns an empty keyspace.
func NewStore() *Store {
	return &Store{dict: make(Dictionary)}
}

type readGuard struct {
	s *Store
}

func (g readGuard) Dict() Dictionary { return g.s.dict }
func (g readGuard) Release()         { g.s.mu.RUnlock() }

type writeGuard struct {
	s *Store
}

func (g writeGuard) Dict() Dictionary { return g.s.dict }
func (g writeGuard) Release()         { g.s.mu.Unlock() }

func (s *Store) Read() Guard {
	s.mu.RLock()
	return readGuard{s}
}

func (s *Store) Write() Guard {
	s.mu.Lock()
	return writeGuard{s}
}

// Borrowed is a Lockable over a write lock the caller already holds.
// Its guards are free: commands dispatched against it believe they
// lock per call, while the whole batch actually runs under the one
// outer lock.
type Borrowed struct {
	dict Dictionary
}

// NewBorrowed wraps the dictionary behind an already-held write guard.
func NewBorrowed(g Guard) *Borrowed {
	return &Borrowed{dict: g.Dict()}
}

type borrowedGuard struct {
	dict Dictionary
}

func (g borrowedGuard) Dict() Dictionary { return g.dict }
func (g borrowedGuard) Release()         {}

func (b *Borrowed) Read() Guard  { return borrowedGuard{b.dict} }
func (b *Borrowed) Write() Guard { return borrowedGuard{b.dict} }
