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

package raft

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"raftkv/internal/logging"
	"raftkv/internal/raftlog"
	"raftkv/internal/rafttransport"
)

func testConfig() Config {
	return Config{
		HeartbeatInterval:  20 * time.Millisecond,
		ElectionTimeoutMin: 100 * time.Millisecond,
		ElectionTimeoutMax: 300 * time.Millisecond,
	}
}

// recordingSM remembers every applied command.
type recordingSM struct {
	mu      sync.Mutex
	applied [][]byte
}

func (s *recordingSM) Apply(command []byte) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applied = append(s.applied, append([]byte(nil), command...))
	return append([]byte("ok:"), command...)
}

func (s *recordingSM) snapshot() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.applied))
	copy(out, s.applied)
	return out
}

type testNode struct {
	raft  *Raft
	sm    *recordingSM
	store *raftlog.MemoryStore
}

// newCluster starts n nodes over a shared in-process fabric. skip
// lists node ids to build but not start, simulating down peers.
func newCluster(t *testing.T, n int, skip ...uint64) ([]*testNode, *rafttransport.LocalNetwork) {
	t.Helper()
	network := rafttransport.NewLocalNetwork()
	peers := make([]uint64, n)
	for i := range peers {
		peers[i] = uint64(i)
	}
	skipped := make(map[uint64]bool)
	for _, id := range skip {
		skipped[id] = true
	}

	nodes := make([]*testNode, n)
	for i := range nodes {
		id := uint64(i)
		if skipped[id] {
			continue
		}
		sm := &recordingSM{}
		store := raftlog.NewMemoryStore()
		r, err := New(id, peers, testConfig(), sm, store,
			rafttransport.NewLocalTransport(id, network), nil,
			logging.NewLogger("raft-test"))
		if err != nil {
			t.Fatalf("New(%d): %v", id, err)
		}
		network.Register(id, r)
		nodes[i] = &testNode{raft: r, sm: sm, store: store}
		t.Cleanup(r.Close)
	}
	return nodes, network
}

func waitForLeader(t *testing.T, nodes []*testNode) *testNode {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		for _, node := range nodes {
			if node == nil {
				continue
			}
			st, err := node.raft.Status()
			if err == nil && st.State == Leader {
				return node
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no leader elected within deadline")
	return nil
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSingleNodeServesWritesAndReads(t *testing.T) {
	nodes, _ := newCluster(t, 1)
	node := nodes[0]

	// A read issued right after startup is held until the no-op of the
	// self-elected term applies, then satisfied, never rejected.
	if err := node.raft.Read(); err != nil {
		t.Fatalf("Read: %v", err)
	}

	out, err := node.raft.Write([]byte("set x 1"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if string(out) != "ok:set x 1" {
		t.Errorf("Write output = %q", out)
	}
	if applied := node.sm.snapshot(); len(applied) != 1 || string(applied[0]) != "set x 1" {
		t.Errorf("applied = %q", applied)
	}

	st, err := node.raft.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.State != Leader || st.LeaderID == nil || *st.LeaderID != 0 {
		t.Errorf("Status = %+v", st)
	}
}

func TestThreeNodeReplication(t *testing.T) {
	nodes, _ := newCluster(t, 3)
	leader := waitForLeader(t, nodes)

	out, err := leader.raft.Write([]byte("cmd-1"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if string(out) != "ok:cmd-1" {
		t.Errorf("Write output = %q", out)
	}

	// Every node applies the command, in the same position.
	waitFor(t, "replication to all nodes", func() bool {
		for _, node := range nodes {
			applied := node.sm.snapshot()
			if len(applied) != 1 || string(applied[0]) != "cmd-1" {
				return false
			}
		}
		return true
	})

	// The leader serves linearizable reads.
	if err := leader.raft.Read(); err != nil {
		t.Fatalf("Read on leader: %v", err)
	}
}

func TestWriteOnFollowerIsRedirected(t *testing.T) {
	nodes, _ := newCluster(t, 3)
	leader := waitForLeader(t, nodes)
	leaderStatus, _ := leader.raft.Status()

	var follower *testNode
	for _, node := range nodes {
		st, _ := node.raft.Status()
		if st.State != Leader {
			follower = node
			break
		}
	}

	// The follower learns who the leader is from heartbeats.
	waitFor(t, "follower learning the leader", func() bool {
		st, _ := follower.raft.Status()
		return st.LeaderID != nil
	})

	_, err := follower.raft.Write([]byte("cmd"))
	var notLeader *NotLeaderError
	if !errors.As(err, &notLeader) {
		t.Fatalf("Write on follower error = %v, want NotLeaderError", err)
	}
	if notLeader.LeaderID == nil || *notLeader.LeaderID != leaderStatus.NodeID {
		t.Errorf("NotLeaderError.LeaderID = %v, want %d", notLeader.LeaderID, leaderStatus.NodeID)
	}

	if err := follower.raft.Read(); !errors.As(err, &notLeader) {
		t.Errorf("Read on follower error = %v, want NotLeaderError", err)
	}
}

func TestThreeNodeClusterToleratesOneDownPeer(t *testing.T) {
	// Node 2 never starts; the remaining two still form a quorum.
	nodes, _ := newCluster(t, 3, 2)
	leader := waitForLeader(t, nodes)

	if _, err := leader.raft.Write([]byte("cmd-1")); err != nil {
		t.Fatalf("Write with one peer down: %v", err)
	}
	if err := leader.raft.Read(); err != nil {
		t.Fatalf("Read with one peer down: %v", err)
	}
}

func TestNewLeaderElectedWhenLeaderPartitioned(t *testing.T) {
	nodes, network := newCluster(t, 3)
	leader := waitForLeader(t, nodes)
	leaderStatus, _ := leader.raft.Status()

	// Cut the leader off from both peers. Its reads can no longer
	// cross the quorum barrier; a new leader rises on the other side.
	for _, node := range nodes {
		st, _ := node.raft.Status()
		if st.NodeID != leaderStatus.NodeID {
			network.Partition(leaderStatus.NodeID, st.NodeID)
		}
	}

	waitFor(t, "a new leader among the connected majority", func() bool {
		for _, node := range nodes {
			st, _ := node.raft.Status()
			if st.NodeID != leaderStatus.NodeID && st.State == Leader {
				return true
			}
		}
		return false
	})
}

// followerUnderTest builds a single quiet follower whose election
// timer will not fire during the test, so AppendEntries handling can
// be driven deterministically.
func followerUnderTest(t *testing.T, store raftlog.Store) *Raft {
	t.Helper()
	cfg := Config{
		HeartbeatInterval:  time.Hour,
		ElectionTimeoutMin: time.Hour,
		ElectionTimeoutMax: 2 * time.Hour,
	}
	network := rafttransport.NewLocalNetwork()
	r, err := New(1, []uint64{0, 1, 2}, cfg, &recordingSM{}, store,
		rafttransport.NewLocalTransport(1, network), nil, logging.NewLogger("raft-test"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(r.Close)
	return r
}

func TestFollowerRejectsAppendBeyondItsLog(t *testing.T) {
	r := followerUnderTest(t, raftlog.NewMemoryStore())

	resp, err := r.HandleAppendEntries(rafttransport.AppendEntries{
		Term:         1,
		LeaderID:     0,
		PrevLogIndex: 5,
		PrevLogTerm:  1,
		MessageIndex: 7,
	})
	if err != nil {
		t.Fatalf("HandleAppendEntries: %v", err)
	}
	if resp.Success {
		t.Errorf("append beyond log succeeded")
	}
	if resp.CurrentIndex != 0 {
		t.Errorf("CurrentIndex = %d, want 0", resp.CurrentIndex)
	}
	if resp.MessageIndex != 7 {
		t.Errorf("MessageIndex = %d, want echo of 7", resp.MessageIndex)
	}
}

func TestFollowerTruncatesOnTermConflict(t *testing.T) {
	store := raftlog.NewMemoryStore()
	seed := []raftlog.Entry{
		{Term: 1, Kind: raftlog.KindNoOp},
		{Term: 1, Kind: raftlog.KindCommand, Command: []byte("stale")},
	}
	if err := store.AppendEntries(seed); err != nil {
		t.Fatalf("seed: %v", err)
	}
	r := followerUnderTest(t, store)

	resp, err := r.HandleAppendEntries(rafttransport.AppendEntries{
		Term:         2,
		LeaderID:     0,
		PrevLogIndex: 2,
		PrevLogTerm:  2, // conflicts with the seeded term 1
	})
	if err != nil {
		t.Fatalf("HandleAppendEntries: %v", err)
	}
	if resp.Success {
		t.Errorf("conflicting append succeeded")
	}
	if got := store.NumEntries(); got != 1 {
		t.Errorf("NumEntries after truncate = %d, want 1", got)
	}
}

func TestFollowerAppendsAndCommits(t *testing.T) {
	store := raftlog.NewMemoryStore()
	r := followerUnderTest(t, store)

	entries := []raftlog.Entry{
		{Term: 1, Kind: raftlog.KindNoOp},
		{Term: 1, Kind: raftlog.KindCommand, Command: []byte("a")},
	}
	resp, err := r.HandleAppendEntries(rafttransport.AppendEntries{
		Term:         1,
		LeaderID:     0,
		PrevLogIndex: 0,
		PrevLogTerm:  0,
		Entries:      entries,
		LeaderCommit: 2,
	})
	if err != nil {
		t.Fatalf("HandleAppendEntries: %v", err)
	}
	if !resp.Success {
		t.Fatalf("append rejected: %+v", resp)
	}
	if resp.CurrentIndex != 2 {
		t.Errorf("CurrentIndex = %d, want 2", resp.CurrentIndex)
	}
	if got := store.NumEntries(); got != 2 {
		t.Errorf("NumEntries = %d, want 2", got)
	}

	// Idempotent redelivery neither duplicates nor truncates.
	resp, err = r.HandleAppendEntries(rafttransport.AppendEntries{
		Term:         1,
		LeaderID:     0,
		PrevLogIndex: 0,
		PrevLogTerm:  0,
		Entries:      entries,
		LeaderCommit: 2,
	})
	if err != nil || !resp.Success {
		t.Fatalf("redelivery: %v %+v", err, resp)
	}
	if got := store.NumEntries(); got != 2 {
		t.Errorf("NumEntries after redelivery = %d, want 2", got)
	}
}

func TestStaleTermAppendRejected(t *testing.T) {
	store := raftlog.NewMemoryStore()
	if err := store.PersistMetadata(raftlog.Metadata{CurrentTerm: 5}); err != nil {
		t.Fatalf("PersistMetadata: %v", err)
	}
	r := followerUnderTest(t, store)

	resp, err := r.HandleAppendEntries(rafttransport.AppendEntries{
		Term:     3,
		LeaderID: 0,
	})
	if err != nil {
		t.Fatalf("HandleAppendEntries: %v", err)
	}
	if resp.Success {
		t.Errorf("stale-term append succeeded")
	}
	if resp.Term != 5 {
		t.Errorf("Term = %d, want 5", resp.Term)
	}
}

func TestRequestVoteRules(t *testing.T) {
	store := raftlog.NewMemoryStore()
	if err := store.AppendEntries([]raftlog.Entry{{Term: 2, Kind: raftlog.KindNoOp}}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	r := followerUnderTest(t, store)

	// Candidate with an older last log term is refused even though its
	// term is newer.
	resp, err := r.HandleRequestVote(rafttransport.RequestVote{
		Term:         3,
		CandidateID:  0,
		LastLogIndex: 5,
		LastLogTerm:  1,
	})
	if err != nil {
		t.Fatalf("HandleRequestVote: %v", err)
	}
	if resp.VoteGranted {
		t.Errorf("vote granted to candidate with stale log")
	}

	// An up-to-date candidate gets the vote.
	resp, err = r.HandleRequestVote(rafttransport.RequestVote{
		Term:         3,
		CandidateID:  0,
		LastLogIndex: 1,
		LastLogTerm:  2,
	})
	if err != nil {
		t.Fatalf("HandleRequestVote: %v", err)
	}
	if !resp.VoteGranted {
		t.Errorf("vote refused to up-to-date candidate")
	}

	// The vote is sticky within the term: a different candidate is
	// refused.
	resp, err = r.HandleRequestVote(rafttransport.RequestVote{
		Term:         3,
		CandidateID:  2,
		LastLogIndex: 1,
		LastLogTerm:  2,
	})
	if err != nil {
		t.Fatalf("HandleRequestVote: %v", err)
	}
	if resp.VoteGranted {
		t.Errorf("second vote granted in the same term")
	}
}

func TestHealedPartitionDiscardsOrphanWrite(t *testing.T) {
	nodes, network := newCluster(t, 3)
	oldLeader := waitForLeader(t, nodes)
	oldStatus, _ := oldLeader.raft.Status()

	// Establish a committed baseline so the logs diverge above it.
	if _, err := oldLeader.raft.Write([]byte("base")); err != nil {
		t.Fatalf("baseline Write: %v", err)
	}

	for _, node := range nodes {
		st, _ := node.raft.Status()
		if st.NodeID != oldStatus.NodeID {
			network.Partition(oldStatus.NodeID, st.NodeID)
		}
	}

	// The deposed leader does not know it yet; its write is appended
	// locally but can never commit.
	orphanErr := make(chan error, 1)
	go func() {
		_, err := oldLeader.raft.Write([]byte("orphan"))
		orphanErr <- err
	}()

	// A new leader rises on the majority side and commits a write the
	// old leader has never seen.
	var newLeader *testNode
	waitFor(t, "a new leader among the connected majority", func() bool {
		for _, node := range nodes {
			st, _ := node.raft.Status()
			if st.NodeID != oldStatus.NodeID && st.State == Leader {
				newLeader = node
				return true
			}
		}
		return false
	})
	if _, err := newLeader.raft.Write([]byte("committed")); err != nil {
		t.Fatalf("Write on new leader: %v", err)
	}

	for _, node := range nodes {
		st, _ := node.raft.Status()
		if st.NodeID != oldStatus.NodeID {
			network.Heal(oldStatus.NodeID, st.NodeID)
		}
	}

	// The old leader truncates its orphan entry and redirects the
	// waiting client.
	err := <-orphanErr
	var notLeader *NotLeaderError
	if !errors.As(err, &notLeader) {
		t.Fatalf("orphan Write error = %v, want NotLeaderError", err)
	}

	// State Machine Safety: every node converges on the same applied
	// sequence, orphan excluded.
	want := [][]byte{[]byte("base"), []byte("committed")}
	waitFor(t, "all nodes converging on the committed sequence", func() bool {
		for _, node := range nodes {
			applied := node.sm.snapshot()
			if len(applied) != len(want) {
				return false
			}
			for i := range want {
				if !bytes.Equal(applied[i], want[i]) {
					return false
				}
			}
		}
		return true
	})

	// Log Matching: entries at every shared index are identical.
	min := nodes[0].store.NumEntries()
	for _, node := range nodes[1:] {
		if n := node.store.NumEntries(); n < min {
			min = n
		}
	}
	for index := uint64(1); index <= min; index++ {
		first, _, err := nodes[0].store.Entry(index)
		if err != nil {
			t.Fatalf("Entry(%d): %v", index, err)
		}
		for _, node := range nodes[1:] {
			other, _, err := node.store.Entry(index)
			if err != nil {
				t.Fatalf("Entry(%d): %v", index, err)
			}
			if other.Term != first.Term || other.Kind != first.Kind || !bytes.Equal(other.Command, first.Command) {
				t.Errorf("log mismatch at index %d: %+v vs %+v", index, first, other)
			}
		}
	}
}

func TestQuorumValue(t *testing.T) {
	cases := []struct {
		values []uint64
		want   uint64
	}{
		{[]uint64{7}, 7},
		{[]uint64{3, 7}, 3},
		{[]uint64{1, 5, 9}, 5},
		{[]uint64{9, 1, 5}, 5},
		{[]uint64{0, 0, 8}, 0},
		{[]uint64{2, 4, 6, 8}, 4},
		{[]uint64{1, 2, 3, 4, 5}, 3},
	}
	for _, c := range cases {
		in := append([]uint64(nil), c.values...)
		if got := quorumValue(in); got != c.want {
			t.Errorf("quorumValue(%v) = %d, want %d", c.values, got, c.want)
		}
	}
}

func TestEntryMetadataRoundTripThroughStore(t *testing.T) {
	store := raftlog.NewMemoryStore()
	want := []raftlog.Entry{
		{Term: 1, Kind: raftlog.KindNoOp},
		{Term: 2, Kind: raftlog.KindCommand, Command: []byte{0x00, 0xff, '\r', '\n'}},
	}
	if err := store.AppendEntries(want); err != nil {
		t.Fatalf("AppendEntries: %v", err)
	}
	got, err := store.Entries(1)
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("Entries returned %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Term != want[i].Term || got[i].Kind != want[i].Kind || !bytes.Equal(got[i].Command, want[i].Command) {
			t.Errorf("entry %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}
