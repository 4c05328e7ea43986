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

// Package statemachine couples the Raft log to the dictionary. A
// committed Command entry carries either one write or a whole EXEC
// batch; Apply replays it against the store and returns the
// wire-ready RESP reply, which the leader hands to the waiting
// client. Apply must be deterministic: every replica replays the same
// entries in the same order and must end up with the same keyspace.
package statemachine

import (
	"encoding/json"

	"raftkv/internal/dict"
	"raftkv/internal/dict/commands"
	"raftkv/internal/logging"
	"raftkv/internal/resp"
	"raftkv/internal/rkverrors"
)

// Query is one named command with its arguments.
type Query struct {
	Name string   `json:"name"`
	Args [][]byte `json:"args"`
}

// Command is the opaque payload carried by a Raft log entry: exactly
// one of Write or Exec is set.
type Command struct {
	Write *Query  `json:"write,omitempty"`
	Exec  []Query `json:"exec,omitempty"`
}

// EncodeWrite serializes a single write command.
func EncodeWrite(name string, args [][]byte) ([]byte, error) {
	return json.Marshal(Command{Write: &Query{Name: name, Args: args}})
}

// EncodeExec serializes a transaction batch. An empty batch is valid
// and applies as an empty array reply.
func EncodeExec(queries []Query) ([]byte, error) {
	if queries == nil {
		queries = []Query{}
	}
	return json.Marshal(Command{Exec: queries})
}

// CommandRecorder observes applied commands, for the audit trail.
type CommandRecorder interface {
	CommandApplied(name string, argc int)
}

// Adapter applies committed commands to the shared dictionary. It
// implements raft.StateMachine.
type Adapter struct {
	store    *dict.Store
	recorder CommandRecorder
	log      *logging.Logger
}

// New builds an adapter over store. recorder may be nil.
func New(store *dict.Store, recorder CommandRecorder, log *logging.Logger) *Adapter {
	return &Adapter{store: store, recorder: recorder, log: log}
}

// Apply replays one committed command payload and returns the RESP
// reply bytes. It never fails: a malformed payload or a misrouted
// command still applies deterministically, as an error reply.
func (a *Adapter) Apply(payload []byte) []byte {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		a.log.Error("malformed command payload", "error", err.Error())
		return resp.Encode(resp.Error{Err: rkverrors.NewClientError("malformed command payload")})
	}
	switch {
	case cmd.Write != nil:
		return resp.Encode(a.applySingleWrite(*cmd.Write))
	default:
		return resp.Encode(a.applyExec(cmd.Exec))
	}
}

func (a *Adapter) applySingleWrite(q Query) resp.Value {
	spec, ok := commands.Lookup([]byte(q.Name))
	if !ok || spec.Kind != commands.KindWrite {
		// The session only replicates known writes; anything else in
		// the log means a peer speaks a newer dialect.
		return resp.Error{Err: rkverrors.NewClientError("unsupported replicated command '" + q.Name + "'")}
	}
	value, err := spec.CallWrite(a.store, q.Args)
	if a.recorder != nil {
		a.recorder.CommandApplied(spec.Name, len(q.Args))
	}
	if err != nil {
		return resp.Error{Err: err}
	}
	return value
}

// applyExec takes the write lock once and runs the whole batch under
// it: the batch is one atomic step of the state machine.
func (a *Adapter) applyExec(queries []Query) resp.Value {
	guard := a.store.Write()
	defer guard.Release()
	borrowed := dict.NewBorrowed(guard)

	replies := make(resp.Array, len(queries))
	for i, q := range queries {
		replies[i] = a.applyQueued(borrowed, q)
	}
	if a.recorder != nil {
		a.recorder.CommandApplied("EXEC", len(queries))
	}
	return replies
}

func (a *Adapter) applyQueued(b *dict.Borrowed, q Query) resp.Value {
	spec, ok := commands.Lookup([]byte(q.Name))
	if !ok {
		return resp.Error{Err: rkverrors.UnknownCommand(q.Name, q.Args)}
	}
	var (
		value resp.Value
		err   error
	)
	switch spec.Kind {
	case commands.KindWrite:
		value, err = spec.CallWrite(b, q.Args)
	case commands.KindRead:
		value, err = spec.CallRead(b, q.Args)
	case commands.KindStateless:
		value, err = spec.CallStateless(q.Args)
	default:
		// The session rejects system and transaction commands inside
		// MULTI, so a queued one cannot reach a log entry.
		err = rkverrors.CommandInsideMulti(spec.Name)
	}
	if err != nil {
		return resp.Error{Err: err}
	}
	return value
}
