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

// Package raftlog implements the durable and in-memory log stores
// backing the Raft core: an append-only sequence of Entry values plus
// a small Metadata record (current term and vote).
package raftlog

// EntryKind distinguishes the four kinds of log entry. AddNode and
// RemoveNode are reserved for future dynamic membership changes; they
// are encoded and decoded like any other entry but the state machine
// adapter never applies one.
type EntryKind uint8

const (
	KindNoOp EntryKind = iota
	KindCommand
	KindAddNode
	KindRemoveNode
)

func (k EntryKind) String() string {
	switch k {
	case KindNoOp:
		return "NoOp"
	case KindCommand:
		return "Command"
	case KindAddNode:
		return "AddNode"
	case KindRemoveNode:
		return "RemoveNode"
	default:
		return "Unknown"
	}
}

// Entry is a single replicated log record. Index is not stored
// in-band; an entry's index is always its 1-based position in the
// log (entries()[0] is index 1).
type Entry struct {
	Term    uint64    `json:"term"`
	Kind    EntryKind `json:"kind"`
	Command []byte    `json:"command,omitempty"`
}

// Metadata is the small piece of state that must survive a crash:
// the current term and who this node voted for in it. VotedFor is nil
// when no vote has been cast in the current term.
type Metadata struct {
	CurrentTerm uint64  `json:"current_term"`
	VotedFor    *uint64 `json:"voted_for,omitempty"`
}

// Store is the log-store contract shared by the disk and in-memory
// implementations. Index arguments are 1-based; index 0 never refers
// to a real entry (it means "before the start of the log").
type Store interface {
	// Load reads persisted Metadata from disk (or returns the zero
	// value for a store with nothing persisted yet) and must be
	// called once before any other method.
	Load() (Metadata, error)

	// NumEntries returns the number of entries currently in the log,
	// which is also the log's current (highest) index.
	NumEntries() uint64

	// Entry returns the entry at index, or ok=false if index is out
	// of range.
	Entry(index uint64) (entry Entry, ok bool, err error)

	// Entries returns every entry from index start (inclusive) to the
	// end of the log.
	Entries(start uint64) ([]Entry, error)

	// AppendEntries appends entries to the in-memory tail of the log.
	// It does not guarantee durability until PersistEntries returns.
	AppendEntries(entries []Entry) error

	// TruncateEntries discards every entry at or after index.
	TruncateEntries(index uint64) error

	// PersistMetadata durably writes metadata, replacing whatever was
	// there before.
	PersistMetadata(metadata Metadata) error

	// PersistEntries durably flushes whatever AppendEntries/
	// TruncateEntries calls have not yet reached disk.
	PersistEntries() error

	// Close releases any open file handles.
	Close() error
}

// LastTerm returns the term of the last entry in the log, or 0 if the
// log is empty.
func LastTerm(s Store) (uint64, error) {
	index := s.NumEntries()
	if index == 0 {
		return 0, nil
	}
	entry, ok, err := s.Entry(index)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return entry.Term, nil
}
