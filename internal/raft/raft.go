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

// Package raft implements the actor-per-instance Raft core: a single
// goroutine owns all consensus state and is driven by a fair select
// over four event sources (AppendEntries/RequestVote RPCs arriving
// from peers, Write/Read requests arriving from clients, RPC replies
// arriving from outstanding calls this node made, and timers).
package raft

import (
	"container/list"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"raftkv/internal/logging"
	"raftkv/internal/raftlog"
	"raftkv/internal/rafttransport"
)

// State is this node's role in the current term.
type State int

const (
	Follower State = iota
	Candidate
	Leader
)

func (s State) String() string {
	switch s {
	case Follower:
		return "follower"
	case Candidate:
		return "candidate"
	case Leader:
		return "leader"
	default:
		return "unknown"
	}
}

// Status is a point-in-time snapshot handed back by Status().
type Status struct {
	State    State
	NodeID   uint64
	LeaderID *uint64
	Term     uint64
}

// Config tunes election and heartbeat timing.
type Config struct {
	HeartbeatInterval  time.Duration
	ElectionTimeoutMin time.Duration
	ElectionTimeoutMax time.Duration
}

// DefaultConfig mirrors the classic Raft paper timing: heartbeats an
// order of magnitude shorter than the election timeout span.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval:  200 * time.Millisecond,
		ElectionTimeoutMin: 1000 * time.Millisecond,
		ElectionTimeoutMax: 2000 * time.Millisecond,
	}
}

func (c Config) randomElectionTimeout() time.Duration {
	if c.ElectionTimeoutMax <= c.ElectionTimeoutMin {
		return c.ElectionTimeoutMin
	}
	span := c.ElectionTimeoutMax - c.ElectionTimeoutMin
	return c.ElectionTimeoutMin + time.Duration(rand.Int63n(int64(span)))
}

// NotLeaderError is returned by Write/Read when this node cannot
// service the request because it is not (or no longer) the leader.
// LeaderID is nil when no leader is known.
type NotLeaderError struct {
	LeaderID *uint64
}

func (e *NotLeaderError) Error() string {
	if e.LeaderID == nil {
		return "raft: not the leader and no leader known"
	}
	return fmt.Sprintf("raft: not the leader, leader is node %d", *e.LeaderID)
}

// ErrShutdown is returned when a request is made after Close.
var ErrShutdown = errors.New("raft: shut down")

// StateMachine is the coupling the Raft core calls into once a
// command entry has been committed and is ready to apply. Apply is
// called sequentially, in index order, and must be deterministic.
type StateMachine interface {
	Apply(command []byte) []byte
}

// AuditSink receives notable cluster lifecycle events, purely for
// observability; it never influences consensus.
type AuditSink interface {
	LeaderElected(term uint64, nodeID uint64)
	TermAdvanced(term uint64)
	SteppedDown(term uint64)
}

type nullAuditSink struct{}

func (nullAuditSink) LeaderElected(uint64, uint64) {}
func (nullAuditSink) TermAdvanced(uint64)          {}
func (nullAuditSink) SteppedDown(uint64)           {}

// peerState is the leader's per-follower replication progress, plus
// the vote tally slot reused during elections.
type peerState struct {
	nextIndex         uint64
	matchIndex        uint64
	matchMessageIndex uint64
	votedForMe        bool
}

type writeRequest struct {
	index uint64
	reply chan writeResult
}

type writeResult struct {
	output []byte
	err    error
}

type readRequest struct {
	index        uint64
	messageIndex uint64
	reply        chan error
}

type writeMsg struct {
	command []byte
	reply   chan writeResult
}

type readMsg struct {
	reply chan error
}

type appendEntriesMsg struct {
	req   rafttransport.AppendEntries
	reply chan rafttransport.AppendEntriesResponse
}

type requestVoteMsg struct {
	req   rafttransport.RequestVote
	reply chan rafttransport.RequestVoteResponse
}

type statusMsg struct {
	reply chan Status
}

type appendEntriesRPCResult struct {
	peer uint64
	resp rafttransport.AppendEntriesResponse
	err  error
}

type requestVoteRPCResult struct {
	peer uint64
	resp rafttransport.RequestVoteResponse
	err  error
}

// Raft is a running consensus instance. Construct with New; it owns a
// goroutine until Close is called.
type Raft struct {
	id    uint64
	peers []uint64 // includes id
	cfg   Config

	sm        StateMachine
	storage   raftlog.Store
	transport rafttransport.Transport
	audit     AuditSink
	log       *logging.Logger

	mailbox chan any
	done    chan struct{}
	closed  chan struct{}

	aeResults chan appendEntriesRPCResult
	rvResults chan requestVoteRPCResult

	// actor-owned state; touched only inside run() and its callees.
	currentTerm      uint64
	votedFor         *uint64
	commitIndex      uint64
	lastAppliedIndex uint64
	lastAppliedTerm  uint64
	lastMessageIndex uint64

	state    State
	leaderID *uint64

	nodes map[uint64]*peerState

	pendingWrites *list.List // of *writeRequest, FIFO by index
	pendingReads  *list.List // of *readRequest, FIFO by messageIndex

	resetElectionTimer bool
}

// New constructs and starts a Raft instance. peers is the full cluster
// in node-id order and must include id exactly once. Call
// HandleAppendEntries/HandleRequestVote from the peer RPC listener,
// and Write/Read/Status from the client-facing command dispatcher.
func New(id uint64, peers []uint64, cfg Config, sm StateMachine, storage raftlog.Store, transport rafttransport.Transport, audit AuditSink, log *logging.Logger) (*Raft, error) {
	meta, err := storage.Load()
	if err != nil {
		return nil, fmt.Errorf("raft: load metadata: %w", err)
	}
	if audit == nil {
		audit = nullAuditSink{}
	}
	nodes := make(map[uint64]*peerState, len(peers))
	for _, p := range peers {
		nodes[p] = &peerState{}
	}
	if _, ok := nodes[id]; !ok {
		return nil, fmt.Errorf("raft: node %d missing from cluster list", id)
	}
	r := &Raft{
		id:            id,
		peers:         peers,
		cfg:           cfg,
		sm:            sm,
		storage:       storage,
		transport:     transport,
		audit:         audit,
		log:           log,
		mailbox:       make(chan any),
		done:          make(chan struct{}),
		closed:        make(chan struct{}),
		aeResults:     make(chan appendEntriesRPCResult, 4*len(peers)),
		rvResults:     make(chan requestVoteRPCResult, 4*len(peers)),
		currentTerm:   meta.CurrentTerm,
		votedFor:      meta.VotedFor,
		state:         Follower,
		nodes:         nodes,
		pendingWrites: list.New(),
		pendingReads:  list.New(),
	}
	log.Info("loaded log",
		"entries", strconv.FormatUint(storage.NumEntries(), 10),
		"term", strconv.FormatUint(meta.CurrentTerm, 10),
		"node_id", strconv.FormatUint(id, 10))
	go r.run()
	return r, nil
}

// Close stops the actor goroutine. Outstanding Write/Read calls
// receive ErrShutdown.
func (r *Raft) Close() {
	close(r.done)
	<-r.closed
}

func (r *Raft) run() {
	defer close(r.closed)

	electionTimer := time.NewTimer(r.cfg.randomElectionTimeout())
	defer electionTimer.Stop()
	heartbeatTicker := time.NewTicker(r.cfg.HeartbeatInterval)
	defer heartbeatTicker.Stop()

	if len(r.nodes) == 1 {
		r.startElection()
	}

	for {
		select {
		case <-r.done:
			r.failAllPending(ErrShutdown)
			return

		case <-heartbeatTicker.C:
			if r.state == Leader {
				r.sendAppendEntriesToAll()
			}

		case <-electionTimer.C:
			if r.state != Leader {
				r.startElection()
			}
			electionTimer.Reset(r.cfg.randomElectionTimeout())

		case msg := <-r.mailbox:
			r.handleMessage(msg)

		case res := <-r.aeResults:
			r.handleAppendEntriesResponse(res)

		case res := <-r.rvResults:
			r.handleRequestVoteResponse(res)
		}

		if r.resetElectionTimer {
			if !electionTimer.Stop() {
				select {
				case <-electionTimer.C:
				default:
				}
			}
			electionTimer.Reset(r.cfg.randomElectionTimeout())
			r.resetElectionTimer = false
		}
	}
}

func (r *Raft) handleMessage(msg any) {
	switch m := msg.(type) {
	case appendEntriesMsg:
		m.reply <- r.handleAppendEntries(m.req)
	case requestVoteMsg:
		m.reply <- r.handleRequestVote(m.req)
	case writeMsg:
		r.handleWrite(m)
	case readMsg:
		r.handleRead(m)
	case statusMsg:
		m.reply <- Status{
			State:    r.state,
			NodeID:   r.id,
			LeaderID: r.leaderID,
			Term:     r.currentTerm,
		}
	}
}

func (r *Raft) failAllPending(err error) {
	for e := r.pendingWrites.Front(); e != nil; e = e.Next() {
		req := e.Value.(*writeRequest)
		req.reply <- writeResult{err: err}
	}
	r.pendingWrites.Init()
	for e := r.pendingReads.Front(); e != nil; e = e.Next() {
		req := e.Value.(*readRequest)
		req.reply <- err
	}
	r.pendingReads.Init()
}

// Write proposes command and blocks until it is committed and
// applied, or the caller gets told who the leader is instead.
func (r *Raft) Write(command []byte) ([]byte, error) {
	reply := make(chan writeResult, 1)
	select {
	case r.mailbox <- writeMsg{command: command, reply: reply}:
	case <-r.closed:
		return nil, ErrShutdown
	}
	select {
	case res := <-reply:
		return res.output, res.err
	case <-r.closed:
		return nil, ErrShutdown
	}
}

// Read blocks until a linearizable read barrier has been crossed:
// once it returns nil, the caller may read directly from the state
// machine and be sure the result reflects every write committed
// before this call began.
func (r *Raft) Read() error {
	reply := make(chan error, 1)
	select {
	case r.mailbox <- readMsg{reply: reply}:
	case <-r.closed:
		return ErrShutdown
	}
	select {
	case err := <-reply:
		return err
	case <-r.closed:
		return ErrShutdown
	}
}

// Status returns a snapshot of this node's role.
func (r *Raft) Status() (Status, error) {
	reply := make(chan Status, 1)
	select {
	case r.mailbox <- statusMsg{reply: reply}:
	case <-r.closed:
		return Status{NodeID: r.id}, ErrShutdown
	}
	select {
	case st := <-reply:
		return st, nil
	case <-r.closed:
		return Status{NodeID: r.id}, ErrShutdown
	}
}

// HandleAppendEntries implements rafttransport.Handler.
func (r *Raft) HandleAppendEntries(req rafttransport.AppendEntries) (rafttransport.AppendEntriesResponse, error) {
	reply := make(chan rafttransport.AppendEntriesResponse, 1)
	select {
	case r.mailbox <- appendEntriesMsg{req: req, reply: reply}:
	case <-r.closed:
		return rafttransport.AppendEntriesResponse{}, ErrShutdown
	}
	select {
	case resp := <-reply:
		return resp, nil
	case <-r.closed:
		return rafttransport.AppendEntriesResponse{}, ErrShutdown
	}
}

// HandleRequestVote implements rafttransport.Handler.
func (r *Raft) HandleRequestVote(req rafttransport.RequestVote) (rafttransport.RequestVoteResponse, error) {
	reply := make(chan rafttransport.RequestVoteResponse, 1)
	select {
	case r.mailbox <- requestVoteMsg{req: req, reply: reply}:
	case <-r.closed:
		return rafttransport.RequestVoteResponse{}, ErrShutdown
	}
	select {
	case resp := <-reply:
		return resp, nil
	case <-r.closed:
		return rafttransport.RequestVoteResponse{}, ErrShutdown
	}
}
