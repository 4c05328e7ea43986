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

package rafttransport

import (
	"fmt"
	"sync"
)

// LocalNetwork is an in-process Transport fabric used by the Raft
// consensus tests: nodes register a Handler with a LocalNetwork and
// address each other by node id, without any socket. It can simulate
// a partition by dropping a link.
type LocalNetwork struct {
	mu       sync.RWMutex
	handlers map[uint64]Handler
	cut      map[[2]uint64]bool
}

// NewLocalNetwork returns an empty fabric.
func NewLocalNetwork() *LocalNetwork {
	return &LocalNetwork{
		handlers: make(map[uint64]Handler),
		cut:      make(map[[2]uint64]bool),
	}
}

// Register associates id with the Handler that should receive RPCs
// addressed to it.
func (n *LocalNetwork) Register(id uint64, h Handler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[id] = h
}

// Deregister drops the handler for id, simulating a crashed node.
func (n *LocalNetwork) Deregister(id uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.handlers, id)
}

// Partition drops all traffic between a and b until Heal is called.
func (n *LocalNetwork) Partition(a, b uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cut[[2]uint64{a, b}] = true
	n.cut[[2]uint64{b, a}] = true
}

// Heal reconnects a and b.
func (n *LocalNetwork) Heal(a, b uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.cut, [2]uint64{a, b})
	delete(n.cut, [2]uint64{b, a})
}

// LocalTransport is the Transport handed to a single node's Raft core;
// it routes every call through the shared LocalNetwork, tagging
// outgoing calls with the sending node's id so partitions can be
// simulated directionally.
type LocalTransport struct {
	self    uint64
	network *LocalNetwork
}

// NewLocalTransport returns a Transport for node self routed through
// network.
func NewLocalTransport(self uint64, network *LocalNetwork) *LocalTransport {
	return &LocalTransport{self: self, network: network}
}

func (t *LocalTransport) handlerFor(dest uint64) (Handler, error) {
	t.network.mu.RLock()
	defer t.network.mu.RUnlock()
	if t.network.cut[[2]uint64{t.self, dest}] {
		return nil, fmt.Errorf("rafttransport: node %d unreachable from %d (partitioned)", dest, t.self)
	}
	h, ok := t.network.handlers[dest]
	if !ok {
		return nil, fmt.Errorf("rafttransport: unknown peer %d", dest)
	}
	return h, nil
}

func (t *LocalTransport) SendAppendEntries(dest uint64, req AppendEntries) (AppendEntriesResponse, error) {
	h, err := t.handlerFor(dest)
	if err != nil {
		return AppendEntriesResponse{}, err
	}
	return h.HandleAppendEntries(req)
}

func (t *LocalTransport) SendRequestVote(dest uint64, req RequestVote) (RequestVoteResponse, error) {
	h, err := t.handlerFor(dest)
	if err != nil {
		return RequestVoteResponse{}, err
	}
	return h.HandleRequestVote(req)
}
