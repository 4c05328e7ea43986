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

// Package session maps each decoded client command onto exactly one
// of: a Raft write, a Raft read barrier plus local read, a stateless
// local call, a system call, or a transaction control. It owns the
// per-connection MULTI state machine.
package session

import (
	"errors"

	"raftkv/internal/dict"
	"raftkv/internal/dict/commands"
	"raftkv/internal/raft"
	"raftkv/internal/resp"
	"raftkv/internal/rkverrors"
	"raftkv/internal/statemachine"
)

// txnState is the per-connection transaction mode.
type txnState int

const (
	txnInactive txnState = iota
	txnQueued
	txnError
)

// Replicator is the slice of the Raft core the session drives: writes
// submitted for replication, and the read barrier crossed before a
// local read. *raft.Raft implements it.
type Replicator interface {
	Write(command []byte) ([]byte, error)
	Read() error
}

// SystemHandler serves the system commands that need process-wide
// context the session does not carry itself.
type SystemHandler interface {
	Cluster(args [][]byte) (resp.Value, error)
	Info(args [][]byte) (resp.Value, error)
	Audit(args [][]byte) (resp.Value, error)
	Shutdown(args [][]byte) (resp.Value, error)
}

// Session is one client connection's command dispatcher. It is not
// safe for concurrent use; each connection owns one.
type Session struct {
	raft    Replicator
	store   *dict.Store
	cluster []string // client addresses in node-id order, for MOVED
	sys     SystemHandler

	txn        txnState
	queue      []statemachine.Query
	isReadonly bool
}

// New builds a session. cluster lists every node's client-facing
// address in node-id order so NotLeader redirections can name the
// leader.
func New(r Replicator, store *dict.Store, cluster []string, sys SystemHandler) *Session {
	return &Session{raft: r, store: store, cluster: cluster, sys: sys}
}

// Execute handles one decoded argv and returns the encoded reply
// frame. An empty argv yields nil: nothing to send.
func (s *Session) Execute(argv [][]byte) []byte {
	if len(argv) == 0 {
		return nil
	}
	name, args := argv[0], argv[1:]

	spec, ok := commands.Lookup(name)
	if !ok {
		if s.txn == txnQueued {
			s.txn = txnError
		}
		return encodeErr(rkverrors.UnknownCommand(string(name), args))
	}
	if !spec.Arity.Check(len(args)) {
		if s.txn == txnQueued {
			s.txn = txnError
		}
		return encodeErr(rkverrors.WrongArity(string(name)))
	}

	if spec.Kind == commands.KindTransaction {
		return s.executeTransactionControl(spec.Name)
	}

	if s.txn != txnInactive {
		return s.enqueue(spec, args)
	}

	return s.dispatch(spec, args)
}

// executeTransactionControl runs MULTI/EXEC/DISCARD against the
// transaction state machine.
func (s *Session) executeTransactionControl(name string) []byte {
	switch name {
	case "MULTI":
		if s.txn != txnInactive {
			return encodeErr(rkverrors.NestedMulti())
		}
		s.txn = txnQueued
		s.queue = s.queue[:0]
		return resp.Encode(resp.OK)

	case "EXEC":
		switch s.txn {
		case txnInactive:
			return encodeErr(rkverrors.ExecWithoutMulti())
		case txnError:
			s.txn = txnInactive
			return encodeErr(rkverrors.ExecAborted())
		}
		queue := s.queue
		s.queue = nil
		s.txn = txnInactive
		payload, err := statemachine.EncodeExec(queue)
		if err != nil {
			return encodeErr(rkverrors.NewClientError("cannot encode transaction"))
		}
		out, err := s.raft.Write(payload)
		if err != nil {
			return encodeErr(s.mapRaftError(err))
		}
		return out

	case "DISCARD":
		if s.txn == txnInactive {
			return encodeErr(rkverrors.DiscardWithoutMulti())
		}
		s.txn = txnInactive
		s.queue = nil
		return resp.Encode(resp.OK)
	}
	return encodeErr(rkverrors.UnknownCommand(name, nil))
}

// enqueue buffers a command inside an active MULTI, or rejects it if
// the transaction has already failed or the command may not appear in
// one.
func (s *Session) enqueue(spec *commands.Spec, args [][]byte) []byte {
	if s.txn == txnError {
		return encodeErr(rkverrors.ExecAborted())
	}
	if spec.Kind == commands.KindSystem {
		s.txn = txnError
		return encodeErr(rkverrors.CommandInsideMulti(spec.Name))
	}
	queued := statemachine.Query{Name: spec.Name, Args: copyArgs(args)}
	s.queue = append(s.queue, queued)
	return resp.Encode(resp.Queued)
}

// dispatch routes a single non-transactional command.
func (s *Session) dispatch(spec *commands.Spec, args [][]byte) []byte {
	switch spec.Kind {
	case commands.KindWrite:
		payload, err := statemachine.EncodeWrite(spec.Name, args)
		if err != nil {
			return encodeErr(rkverrors.NewClientError("cannot encode command"))
		}
		out, err := s.raft.Write(payload)
		if err != nil {
			return encodeErr(s.mapRaftError(err))
		}
		return out

	case commands.KindRead:
		if !s.isReadonly {
			if err := s.raft.Read(); err != nil {
				return encodeErr(s.mapRaftError(err))
			}
		}
		value, err := spec.CallRead(s.store, args)
		if err != nil {
			return encodeErr(err)
		}
		return resp.Encode(value)

	case commands.KindStateless:
		value, err := spec.CallStateless(args)
		if err != nil {
			return encodeErr(err)
		}
		return resp.Encode(value)

	case commands.KindSystem:
		return s.executeSystem(spec.Name, args)
	}
	return encodeErr(rkverrors.UnknownCommand(spec.Name, args))
}

func (s *Session) executeSystem(name string, args [][]byte) []byte {
	var (
		value resp.Value
		err   error
	)
	switch name {
	case "SELECT":
		// A single logical database; only index 0 exists.
		if string(args[0]) == "0" {
			value = resp.OK
		} else {
			err = rkverrors.NewClientError("SELECT is not allowed in cluster mode")
		}
	case "READONLY":
		s.isReadonly = true
		value = resp.OK
	case "READWRITE":
		s.isReadonly = false
		value = resp.OK
	case "CLUSTER":
		value, err = s.sys.Cluster(args)
	case "INFO":
		value, err = s.sys.Info(args)
	case "AUDIT":
		value, err = s.sys.Audit(args)
	case "SHUTDOWN":
		value, err = s.sys.Shutdown(args)
	default:
		err = rkverrors.UnknownCommand(name, args)
	}
	if err != nil {
		return encodeErr(s.mapRaftError(err))
	}
	return resp.Encode(value)
}

// mapRaftError rewrites consensus-layer failures into the RESP
// redirection errors clients understand. Non-raft errors pass
// through unchanged.
func (s *Session) mapRaftError(err error) error {
	var notLeader *raft.NotLeaderError
	if errors.As(err, &notLeader) {
		if notLeader.LeaderID != nil && *notLeader.LeaderID < uint64(len(s.cluster)) {
			return rkverrors.Moved(0, s.cluster[*notLeader.LeaderID])
		}
		return rkverrors.NewClusterError("No leader")
	}
	if errors.Is(err, raft.ErrShutdown) {
		return rkverrors.NewFatalError("server is shutting down")
	}
	return err
}

func encodeErr(err error) []byte {
	return resp.Encode(resp.Error{Err: err})
}

func copyArgs(args [][]byte) [][]byte {
	out := make([][]byte, len(args))
	for i, arg := range args {
		out[i] = append([]byte(nil), arg...)
	}
	return out
}
