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

package session

import (
	"strings"
	"testing"

	"raftkv/internal/dict"
	"raftkv/internal/logging"
	"raftkv/internal/raft"
	"raftkv/internal/statemachine"
)

// localReplicator applies writes straight through the adapter, the
// way a single-node leader would.
type localReplicator struct {
	adapter *statemachine.Adapter
}

func (r *localReplicator) Write(command []byte) ([]byte, error) {
	return r.adapter.Apply(command), nil
}

func (r *localReplicator) Read() error { return nil }

// deposedReplicator refuses everything, like a follower would.
type deposedReplicator struct {
	leaderID *uint64
}

func (r *deposedReplicator) Write([]byte) ([]byte, error) {
	return nil, &raft.NotLeaderError{LeaderID: r.leaderID}
}

func (r *deposedReplicator) Read() error {
	return &raft.NotLeaderError{LeaderID: r.leaderID}
}

func newTestSession() *Session {
	store := dict.NewStore()
	adapter := statemachine.New(store, nil, logging.NewLogger("session-test"))
	cluster := []string{"10.0.0.1:6379", "10.0.0.2:6379", "10.0.0.3:6379"}
	return New(&localReplicator{adapter: adapter}, store, cluster, nil)
}

func exec(s *Session, argv ...string) string {
	bs := make([][]byte, len(argv))
	for i, a := range argv {
		bs[i] = []byte(a)
	}
	return string(s.Execute(bs))
}

func TestWriteThenRead(t *testing.T) {
	s := newTestSession()
	if got := exec(s, "SET", "foo", "bar"); got != "+OK\r\n" {
		t.Errorf("SET = %q", got)
	}
	if got := exec(s, "GET", "foo"); got != "$3\r\nbar\r\n" {
		t.Errorf("GET = %q", got)
	}
}

func TestListScenario(t *testing.T) {
	s := newTestSession()
	if got := exec(s, "RPUSH", "l", "a", "b", "c"); got != ":3\r\n" {
		t.Errorf("RPUSH = %q", got)
	}
	if got := exec(s, "LRANGE", "l", "0", "-1"); got != "*3\r\n$1\r\na\r\n$1\r\nb\r\n$1\r\nc\r\n" {
		t.Errorf("LRANGE = %q", got)
	}
}

func TestUnknownCommandAndArity(t *testing.T) {
	s := newTestSession()
	if got := exec(s, "NOSUCHCMD"); !strings.HasPrefix(got, "-ERR unknown command") {
		t.Errorf("unknown command = %q", got)
	}
	if got := exec(s, "GET"); !strings.HasPrefix(got, "-ERR wrong number of arguments") {
		t.Errorf("arity failure = %q", got)
	}
}

func TestEmptyArgvIsSilentlySkipped(t *testing.T) {
	s := newTestSession()
	if got := s.Execute(nil); got != nil {
		t.Errorf("Execute(nil) = %q", got)
	}
}

func TestTransactionCommit(t *testing.T) {
	s := newTestSession()
	if got := exec(s, "MULTI"); got != "+OK\r\n" {
		t.Errorf("MULTI = %q", got)
	}
	if got := exec(s, "INCR", "x"); got != "+QUEUED\r\n" {
		t.Errorf("queued INCR = %q", got)
	}
	if got := exec(s, "INCR", "x"); got != "+QUEUED\r\n" {
		t.Errorf("queued INCR = %q", got)
	}
	if got := exec(s, "EXEC"); got != "*2\r\n:1\r\n:2\r\n" {
		t.Errorf("EXEC = %q", got)
	}
	// The transaction is over; the next command runs directly.
	if got := exec(s, "GET", "x"); got != "$1\r\n2\r\n" {
		t.Errorf("GET after EXEC = %q", got)
	}
}

func TestTransactionEmptyExec(t *testing.T) {
	s := newTestSession()
	exec(s, "MULTI")
	if got := exec(s, "EXEC"); got != "*0\r\n" {
		t.Errorf("empty EXEC = %q", got)
	}
}

func TestTransactionAbortOnUnknownCommand(t *testing.T) {
	s := newTestSession()
	exec(s, "MULTI")
	if got := exec(s, "NOSUCHCMD"); !strings.HasPrefix(got, "-ERR unknown command") {
		t.Errorf("queued unknown = %q", got)
	}
	if got := exec(s, "EXEC"); !strings.HasPrefix(got, "-EXECABORT") {
		t.Errorf("EXEC after error = %q", got)
	}
	// EXECABORT clears the transaction.
	if got := exec(s, "SET", "k", "v"); got != "+OK\r\n" {
		t.Errorf("SET after EXECABORT = %q", got)
	}
}

func TestTransactionAbortOnArityFailure(t *testing.T) {
	s := newTestSession()
	exec(s, "MULTI")
	exec(s, "GET") // wrong arity flips the transaction to error
	if got := exec(s, "EXEC"); !strings.HasPrefix(got, "-EXECABORT") {
		t.Errorf("EXEC after arity failure = %q", got)
	}
}

func TestTransactionRejectsCommandsAfterError(t *testing.T) {
	s := newTestSession()
	exec(s, "MULTI")
	exec(s, "NOSUCHCMD")
	if got := exec(s, "SET", "k", "v"); !strings.HasPrefix(got, "-EXECABORT") {
		t.Errorf("command after queued error = %q", got)
	}
	if got := exec(s, "DISCARD"); got != "+OK\r\n" {
		t.Errorf("DISCARD after error = %q", got)
	}
}

func TestTransactionDiscard(t *testing.T) {
	s := newTestSession()
	exec(s, "MULTI")
	exec(s, "SET", "k", "v")
	if got := exec(s, "DISCARD"); got != "+OK\r\n" {
		t.Errorf("DISCARD = %q", got)
	}
	if got := exec(s, "GET", "k"); got != "$-1\r\n" {
		t.Errorf("GET after DISCARD = %q", got)
	}
}

func TestTransactionControlMisuse(t *testing.T) {
	s := newTestSession()
	if got := exec(s, "EXEC"); !strings.HasPrefix(got, "-ERR EXEC without MULTI") {
		t.Errorf("EXEC without MULTI = %q", got)
	}
	if got := exec(s, "DISCARD"); !strings.HasPrefix(got, "-ERR DISCARD without MULTI") {
		t.Errorf("DISCARD without MULTI = %q", got)
	}
	exec(s, "MULTI")
	if got := exec(s, "MULTI"); !strings.HasPrefix(got, "-ERR MULTI calls can not be nested") {
		t.Errorf("nested MULTI = %q", got)
	}
	// A transaction error does not poison the queue.
	if got := exec(s, "EXEC"); got != "*0\r\n" {
		t.Errorf("EXEC after nested MULTI error = %q", got)
	}
}

func TestSystemCommandInsideMultiAborts(t *testing.T) {
	s := newTestSession()
	exec(s, "MULTI")
	if got := exec(s, "SELECT", "0"); !strings.HasPrefix(got, "-ERR SELECT is not allowed in transactions") {
		t.Errorf("SELECT inside MULTI = %q", got)
	}
	if got := exec(s, "EXEC"); !strings.HasPrefix(got, "-EXECABORT") {
		t.Errorf("EXEC after system command = %q", got)
	}
}

func TestNotLeaderMapsToMoved(t *testing.T) {
	leader := uint64(1)
	store := dict.NewStore()
	cluster := []string{"10.0.0.1:6379", "10.0.0.2:6379", "10.0.0.3:6379"}
	s := New(&deposedReplicator{leaderID: &leader}, store, cluster, nil)

	if got := exec(s, "SET", "a", "b"); got != "-MOVED 0 10.0.0.2:6379\r\n" {
		t.Errorf("write on follower = %q", got)
	}
	if got := exec(s, "GET", "a"); got != "-MOVED 0 10.0.0.2:6379\r\n" {
		t.Errorf("read on follower = %q", got)
	}
}

func TestNoLeaderMapsToClusterDown(t *testing.T) {
	store := dict.NewStore()
	s := New(&deposedReplicator{}, store, []string{"10.0.0.1:6379"}, nil)
	if got := exec(s, "GET", "a"); got != "-CLUSTERDOWN No leader\r\n" {
		t.Errorf("read with no leader = %q", got)
	}
}

func TestReadonlySkipsBarrier(t *testing.T) {
	// On a follower, READONLY lets reads run locally instead of
	// bouncing with MOVED.
	store := dict.NewStore()
	g := store.Write()
	g.Dict()["k"] = dict.String("v")
	g.Release()
	leader := uint64(0)
	s := New(&deposedReplicator{leaderID: &leader}, store, []string{"10.0.0.1:6379"}, nil)

	if got := exec(s, "READONLY"); got != "+OK\r\n" {
		t.Errorf("READONLY = %q", got)
	}
	if got := exec(s, "GET", "k"); got != "$1\r\nv\r\n" {
		t.Errorf("GET in readonly mode = %q", got)
	}
	if got := exec(s, "READWRITE"); got != "+OK\r\n" {
		t.Errorf("READWRITE = %q", got)
	}
	if !strings.HasPrefix(exec(s, "GET", "k"), "-MOVED") {
		t.Errorf("GET after READWRITE should redirect")
	}
}
