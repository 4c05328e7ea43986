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
	"fmt"
	"sort"
	"strconv"

	"raftkv/internal/raftlog"
	"raftkv/internal/rafttransport"
)

// mustStore aborts the process on a storage failure. Raft's safety
// argument assumes durable writes; continuing past a failed fsync
// could acknowledge state that does not survive a crash.
func (r *Raft) mustStore(err error, op string) {
	if err != nil {
		r.log.Error("log storage failure, aborting", "op", op, "error", err.Error())
		panic(fmt.Sprintf("raft: %s: %v", op, err))
	}
}

func (r *Raft) currentIndex() uint64 {
	return r.storage.NumEntries()
}

func (r *Raft) entryTerm(index uint64) uint64 {
	if index == 0 {
		return 0
	}
	entry, ok, err := r.storage.Entry(index)
	r.mustStore(err, "read entry")
	if !ok {
		return 0
	}
	return entry.Term
}

// --- AppendEntries (follower side) ---

func (r *Raft) handleAppendEntries(req rafttransport.AppendEntries) rafttransport.AppendEntriesResponse {
	currentIndex := r.currentIndex()

	if req.Term < r.currentTerm {
		return rafttransport.AppendEntriesResponse{
			Term:         r.currentTerm,
			Success:      false,
			CurrentIndex: currentIndex,
			MessageIndex: req.MessageIndex,
		}
	}

	if req.Term > r.currentTerm {
		r.updateCurrentTerm(req.Term)
	}

	r.resetElectionTimer = true
	if r.state != Follower {
		r.becomeFollower()
	}
	leaderID := req.LeaderID
	r.leaderID = &leaderID

	if req.PrevLogIndex > 0 {
		entry, ok, err := r.storage.Entry(req.PrevLogIndex)
		r.mustStore(err, "read entry")
		switch {
		case ok && entry.Term != req.PrevLogTerm:
			r.truncateLog(req.PrevLogIndex)
			fallthrough
		case !ok:
			return rafttransport.AppendEntriesResponse{
				Term:         r.currentTerm,
				Success:      false,
				CurrentIndex: r.currentIndex(),
				MessageIndex: req.MessageIndex,
			}
		}
	}

	// Walk the incoming entries against the local log; on the first
	// term conflict, drop the local suffix and append the remainder.
	numMatching := 0
	for i, newEntry := range req.Entries {
		indexInLog := req.PrevLogIndex + uint64(i) + 1
		existing, ok, err := r.storage.Entry(indexInLog)
		r.mustStore(err, "read entry")
		if !ok {
			break
		}
		if existing.Term != newEntry.Term {
			r.truncateLog(indexInLog)
			break
		}
		numMatching++
	}
	if numMatching < len(req.Entries) {
		r.mustStore(r.storage.AppendEntries(req.Entries[numMatching:]), "append entries")
		r.mustStore(r.storage.PersistEntries(), "persist entries")
	}

	if req.LeaderCommit > r.commitIndex {
		r.commitIndex = min(req.LeaderCommit, r.currentIndex())
	}

	r.execOperations()

	return rafttransport.AppendEntriesResponse{
		Term:         r.currentTerm,
		Success:      true,
		CurrentIndex: req.PrevLogIndex + uint64(len(req.Entries)),
		MessageIndex: req.MessageIndex,
	}
}

// truncateLog drops entries at and above index. Any write this node
// accepted as a leader of some earlier term whose entry just got
// truncated can never commit here; its client is redirected.
func (r *Raft) truncateLog(index uint64) {
	r.mustStore(r.storage.TruncateEntries(index), "truncate entries")
	r.mustStore(r.storage.PersistEntries(), "persist entries")
	for e := r.pendingWrites.Back(); e != nil; {
		req := e.Value.(*writeRequest)
		if req.index < index {
			break
		}
		prev := e.Prev()
		r.pendingWrites.Remove(e)
		req.reply <- writeResult{err: &NotLeaderError{LeaderID: r.leaderID}}
		e = prev
	}
}

// --- AppendEntries responses (leader side) ---

func (r *Raft) handleAppendEntriesResponse(res appendEntriesRPCResult) {
	if res.err != nil {
		r.log.Debug("AppendEntries failed", "peer", strconv.FormatUint(res.peer, 10), "error", res.err.Error())
		return
	}
	if r.state != Leader {
		return
	}
	resp := res.resp

	if resp.Term > r.currentTerm {
		r.updateCurrentTerm(resp.Term)
		r.becomeFollower()
		return
	}

	node := r.nodes[res.peer]
	if !resp.Success {
		// A stale rejection that predates what we already know the
		// follower holds carries no information.
		if resp.CurrentIndex < node.matchIndex {
			return
		}
		node.nextIndex = max(1, min(r.currentIndex(), resp.CurrentIndex+1))
		r.sendAppendEntriesToPeer(res.peer)
		return
	}

	node.nextIndex = max(r.currentIndex(), 1)
	node.matchIndex = max(node.matchIndex, resp.CurrentIndex)
	node.matchMessageIndex = max(node.matchMessageIndex, resp.MessageIndex)

	r.flush()
}

// --- RequestVote (both sides) ---

func (r *Raft) handleRequestVote(req rafttransport.RequestVote) rafttransport.RequestVoteResponse {
	if req.Term > r.currentTerm {
		r.updateCurrentTerm(req.Term)
		r.becomeFollower()
	}

	if req.Term < r.currentTerm {
		return rafttransport.RequestVoteResponse{Term: r.currentTerm, VoteGranted: false}
	}

	if r.votedFor != nil && *r.votedFor != req.CandidateID {
		return rafttransport.RequestVoteResponse{Term: r.currentTerm, VoteGranted: false}
	}

	lastTerm, err := raftlog.LastTerm(r.storage)
	r.mustStore(err, "read last term")
	currentIndex := r.currentIndex()
	if req.LastLogTerm < lastTerm ||
		(req.LastLogTerm == lastTerm && req.LastLogIndex < currentIndex) {
		return rafttransport.RequestVoteResponse{Term: r.currentTerm, VoteGranted: false}
	}

	r.voteFor(req.CandidateID)
	r.resetElectionTimer = true
	r.log.Info("granted vote",
		"candidate", strconv.FormatUint(req.CandidateID, 10),
		"term", strconv.FormatUint(r.currentTerm, 10))
	return rafttransport.RequestVoteResponse{Term: r.currentTerm, VoteGranted: true}
}

func (r *Raft) handleRequestVoteResponse(res requestVoteRPCResult) {
	if res.err != nil {
		r.log.Debug("RequestVote failed", "peer", strconv.FormatUint(res.peer, 10), "error", res.err.Error())
		return
	}
	resp := res.resp

	if resp.Term > r.currentTerm {
		r.updateCurrentTerm(resp.Term)
		r.becomeFollower()
		return
	}

	if r.state != Candidate || resp.Term != r.currentTerm {
		return
	}

	if resp.VoteGranted {
		r.nodes[res.peer].votedForMe = true
		votes := 0
		for _, node := range r.nodes {
			if node.votedForMe {
				votes++
			}
		}
		if votes > len(r.nodes)/2 {
			r.becomeLeader()
		}
	}
}

// --- client requests ---

func (r *Raft) handleWrite(m writeMsg) {
	if r.state != Leader {
		m.reply <- writeResult{err: &NotLeaderError{LeaderID: r.leaderID}}
		return
	}

	r.mustStore(r.storage.AppendEntries([]raftlog.Entry{{
		Term:    r.currentTerm,
		Kind:    raftlog.KindCommand,
		Command: m.command,
	}}), "append entries")
	r.mustStore(r.storage.PersistEntries(), "persist entries")

	index := r.currentIndex()
	r.nodes[r.id].matchIndex = index
	r.pendingWrites.PushBack(&writeRequest{index: index, reply: m.reply})

	r.flush()
	r.sendAppendEntriesToAll()
}

func (r *Raft) handleRead(m readMsg) {
	if r.state != Leader {
		m.reply <- &NotLeaderError{LeaderID: r.leaderID}
		return
	}
	r.lastMessageIndex++
	r.pendingReads.PushBack(&readRequest{
		index:        r.currentIndex(),
		messageIndex: r.lastMessageIndex,
		reply:        m.reply,
	})
	r.flush()
	r.sendAppendEntriesToAll()
}

// flush re-evaluates the commit index and drains whatever became
// applicable or acknowledgeable.
func (r *Raft) flush() {
	r.updateCommitIndex()
	r.execOperations()
}

// --- commit, apply, read barrier ---

// updateCommitIndex advances commitIndex to the highest index a
// majority of the cluster holds, provided that entry is from the
// current term: a leader only commits a prior-term entry indirectly,
// by committing one of its own on top of it.
func (r *Raft) updateCommitIndex() {
	if r.state != Leader {
		return
	}
	matchIndices := make([]uint64, 0, len(r.nodes))
	for _, node := range r.nodes {
		matchIndices = append(matchIndices, node.matchIndex)
	}
	n := quorumValue(matchIndices)
	if n > r.commitIndex && r.entryTerm(n) == r.currentTerm {
		r.commitIndex = n
	}
}

// quorumValue returns the largest v such that a strict majority of
// values are >= v: the lower median.
func quorumValue(values []uint64) uint64 {
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })
	return values[(len(values)-1)/2]
}

// execOperations applies every newly committed entry in index order,
// delivers write results, and acknowledges any reads whose barrier
// conditions are all met.
func (r *Raft) execOperations() {
	for r.commitIndex > r.lastAppliedIndex {
		nextAppliedIndex := r.lastAppliedIndex + 1
		entry, ok, err := r.storage.Entry(nextAppliedIndex)
		r.mustStore(err, "read entry")
		if !ok {
			panic(fmt.Sprintf("raft: committed entry %d missing from log", nextAppliedIndex))
		}
		switch entry.Kind {
		case raftlog.KindNoOp:
		case raftlog.KindCommand:
			output := r.sm.Apply(entry.Command)
			if front := r.pendingWrites.Front(); front != nil {
				req := front.Value.(*writeRequest)
				if req.index == nextAppliedIndex {
					r.pendingWrites.Remove(front)
					req.reply <- writeResult{output: output}
				}
			}
		case raftlog.KindAddNode, raftlog.KindRemoveNode:
			// Reserved entry kinds; no code path appends them yet and
			// dynamic membership application is deferred.
			r.log.Error("refusing to apply membership entry",
				"kind", entry.Kind.String(),
				"index", strconv.FormatUint(nextAppliedIndex, 10))
		}
		r.lastAppliedIndex = nextAppliedIndex
		r.lastAppliedTerm = entry.Term
	}

	if r.state != Leader {
		for e := r.pendingReads.Front(); e != nil; e = e.Next() {
			req := e.Value.(*readRequest)
			req.reply <- &NotLeaderError{LeaderID: r.leaderID}
		}
		r.pendingReads.Init()
		return
	}

	// Linearizability gate: until an entry of our own term has
	// applied, the state machine may lag a prior leader's commits.
	if r.lastAppliedTerm < r.currentTerm {
		return
	}

	matchMessageIndices := make([]uint64, 0, len(r.nodes))
	for id, node := range r.nodes {
		if id == r.id {
			matchMessageIndices = append(matchMessageIndices, r.lastMessageIndex)
		} else {
			matchMessageIndices = append(matchMessageIndices, node.matchMessageIndex)
		}
	}
	quorumMessageIndex := quorumValue(matchMessageIndices)

	for front := r.pendingReads.Front(); front != nil; front = r.pendingReads.Front() {
		req := front.Value.(*readRequest)
		if req.messageIndex > quorumMessageIndex || req.index > r.lastAppliedIndex {
			break
		}
		r.pendingReads.Remove(front)
		req.reply <- nil
	}
}

// --- term and vote persistence ---

// updateCurrentTerm persists the term bump with the vote cleared
// before either becomes observable. Callers step down separately.
func (r *Raft) updateCurrentTerm(newTerm uint64) {
	r.mustStore(r.storage.PersistMetadata(raftlog.Metadata{CurrentTerm: newTerm}), "persist metadata")
	r.currentTerm = newTerm
	r.votedFor = nil
	r.audit.TermAdvanced(newTerm)
}

func (r *Raft) voteFor(nodeID uint64) {
	r.mustStore(r.storage.PersistMetadata(raftlog.Metadata{
		CurrentTerm: r.currentTerm,
		VotedFor:    &nodeID,
	}), "persist metadata")
	r.votedFor = &nodeID
}

// --- elections ---

func (r *Raft) startElection() {
	if len(r.nodes) == 1 {
		// Single-node cluster: no one to ask.
		r.bumpTermAndVoteSelf()
		r.becomeLeader()
		return
	}
	r.becomeCandidate()
}

// bumpTermAndVoteSelf starts a new term with this node's own vote
// already cast, persisting both as a single metadata write.
func (r *Raft) bumpTermAndVoteSelf() {
	newTerm := r.currentTerm + 1
	self := r.id
	r.mustStore(r.storage.PersistMetadata(raftlog.Metadata{
		CurrentTerm: newTerm,
		VotedFor:    &self,
	}), "persist metadata")
	r.currentTerm = newTerm
	r.votedFor = &self
	r.audit.TermAdvanced(newTerm)
}

func (r *Raft) becomeFollower() {
	if r.state == Leader {
		r.audit.SteppedDown(r.currentTerm)
	}
	r.log.Info("became follower", "term", strconv.FormatUint(r.currentTerm, 10))
	r.state = Follower
	r.leaderID = nil
	r.resetElectionTimer = true
}

func (r *Raft) becomeCandidate() {
	r.state = Candidate
	r.leaderID = nil
	r.bumpTermAndVoteSelf()

	r.resetElectionTimer = true
	for id, node := range r.nodes {
		node.votedForMe = id == r.id
	}
	r.log.Info("became candidate", "term", strconv.FormatUint(r.currentTerm, 10))

	lastTerm, err := raftlog.LastTerm(r.storage)
	r.mustStore(err, "read last term")
	req := rafttransport.RequestVote{
		Term:         r.currentTerm,
		CandidateID:  r.id,
		LastLogIndex: r.currentIndex(),
		LastLogTerm:  lastTerm,
	}
	for _, peer := range r.peers {
		if peer == r.id {
			continue
		}
		peer := peer
		go func() {
			resp, err := r.transport.SendRequestVote(peer, req)
			select {
			case r.rvResults <- requestVoteRPCResult{peer: peer, resp: resp, err: err}:
			case <-r.done:
			}
		}()
	}
}

func (r *Raft) becomeLeader() {
	r.log.Info("became leader", "term", strconv.FormatUint(r.currentTerm, 10))
	r.state = Leader
	self := r.id
	r.leaderID = &self
	r.audit.LeaderElected(r.currentTerm, r.id)

	// The no-op is the new leader's first entry; committing it is what
	// unblocks read barriers issued under this term.
	r.mustStore(r.storage.AppendEntries([]raftlog.Entry{{
		Term: r.currentTerm,
		Kind: raftlog.KindNoOp,
	}}), "append entries")
	r.mustStore(r.storage.PersistEntries(), "persist entries")

	currentIndex := r.currentIndex()
	for id, node := range r.nodes {
		if id == r.id {
			node.matchIndex = currentIndex
		} else {
			node.nextIndex = max(currentIndex, 1)
			node.matchIndex = 0
			node.matchMessageIndex = 0
		}
	}

	r.sendAppendEntriesToAll()
	r.flush()
}

// --- replication ---

func (r *Raft) sendAppendEntriesToAll() {
	for _, peer := range r.peers {
		if peer != r.id {
			r.sendAppendEntriesToPeer(peer)
		}
	}
}

func (r *Raft) sendAppendEntriesToPeer(peer uint64) {
	node := r.nodes[peer]
	prevLogIndex := node.nextIndex
	if prevLogIndex > 0 {
		prevLogIndex--
	}
	entries, err := r.storage.Entries(prevLogIndex + 1)
	r.mustStore(err, "read entries")
	r.lastMessageIndex++
	req := rafttransport.AppendEntries{
		Term:         r.currentTerm,
		LeaderID:     r.id,
		PrevLogIndex: prevLogIndex,
		PrevLogTerm:  r.entryTerm(prevLogIndex),
		Entries:      entries,
		LeaderCommit: r.commitIndex,
		MessageIndex: r.lastMessageIndex,
	}
	go func() {
		resp, err := r.transport.SendAppendEntries(peer, req)
		select {
		case r.aeResults <- appendEntriesRPCResult{peer: peer, resp: resp, err: err}:
		case <-r.done:
		}
	}()
}
