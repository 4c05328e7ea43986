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

// Package cluster holds what a node knows about its peers outside of
// consensus: the fixed cluster list, a passive liveness monitor, and
// mDNS discovery for finding nodes on the local network. Membership
// itself never changes at runtime; the monitor only colors the
// picture CLUSTER/INFO report.
package cluster

import (
	"net"
	"strconv"
	"sync"
	"time"

	"raftkv/internal/audit"
	"raftkv/internal/logging"
)

// MemberState is a peer's observed liveness.
type MemberState int32

const (
	MemberStateAlive MemberState = iota
	MemberStateSuspect
	MemberStateDead
)

func (s MemberState) String() string {
	switch s {
	case MemberStateAlive:
		return "alive"
	case MemberStateSuspect:
		return "suspect"
	case MemberStateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// MemberInfo is one peer's entry in the monitor's table.
type MemberInfo struct {
	ID       uint64
	Addr     string
	State    MemberState
	LastSeen time.Time
}

// MonitorConfig tunes the probe cadence.
type MonitorConfig struct {
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration
	DeadTimeout   time.Duration
}

// DefaultMonitorConfig returns the standard probe cadence.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		ProbeInterval: 2 * time.Second,
		ProbeTimeout:  500 * time.Millisecond,
		DeadTimeout:   10 * time.Second,
	}
}

// PeerMonitor probes the other nodes of the fixed cluster with plain
// TCP dials and tracks alive/suspect/dead transitions. It never feeds
// back into Raft: elections already handle real failures, this just
// answers "how does the cluster look from here".
type PeerMonitor struct {
	self   uint64
	config MonitorConfig
	logger *logging.Logger
	trail  *audit.Trail // may be nil

	stopCh chan struct{}
	wg     sync.WaitGroup

	membersMu sync.RWMutex
	members   map[uint64]*MemberInfo

	suspicionsMu sync.Mutex
	suspicions   map[uint64]time.Time
}

// NewPeerMonitor builds a monitor over the cluster list. addrs is in
// node-id order and includes self, which is never probed.
func NewPeerMonitor(self uint64, addrs []string, config MonitorConfig, trail *audit.Trail) *PeerMonitor {
	members := make(map[uint64]*MemberInfo, len(addrs))
	for i, addr := range addrs {
		members[uint64(i)] = &MemberInfo{
			ID:       uint64(i),
			Addr:     addr,
			State:    MemberStateAlive,
			LastSeen: time.Now(),
		}
	}
	return &PeerMonitor{
		self:       self,
		config:     config,
		logger:     logging.NewLogger("cluster"),
		trail:      trail,
		stopCh:     make(chan struct{}),
		members:    members,
		suspicions: make(map[uint64]time.Time),
	}
}

// Start launches the probe loop.
func (pm *PeerMonitor) Start() {
	pm.wg.Add(1)
	go pm.probeLoop()
}

// Stop halts probing and waits for in-flight probes to settle.
func (pm *PeerMonitor) Stop() {
	close(pm.stopCh)
	pm.wg.Wait()
}

func (pm *PeerMonitor) probeLoop() {
	defer pm.wg.Done()

	ticker := time.NewTicker(pm.config.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-pm.stopCh:
			return
		case <-ticker.C:
			pm.probeMembers()
		}
	}
}

func (pm *PeerMonitor) probeMembers() {
	pm.membersMu.RLock()
	members := make([]*MemberInfo, 0, len(pm.members))
	for _, m := range pm.members {
		if m.ID != pm.self {
			members = append(members, m)
		}
	}
	pm.membersMu.RUnlock()

	var probes sync.WaitGroup
	for _, m := range members {
		probes.Add(1)
		go func(m *MemberInfo) {
			defer probes.Done()
			pm.probeMember(m)
		}(m)
	}
	probes.Wait()

	pm.checkDeadMembers()
}

// probeMember considers a completed TCP handshake proof of life; the
// peer's real RPC health is Raft's business.
func (pm *PeerMonitor) probeMember(node *MemberInfo) {
	conn, err := net.DialTimeout("tcp", node.Addr, pm.config.ProbeTimeout)
	if err != nil {
		pm.markSuspect(node.ID)
		return
	}
	conn.Close()
	pm.clearSuspicion(node.ID)
}

func (pm *PeerMonitor) checkDeadMembers() {
	pm.suspicionsMu.Lock()
	suspects := make(map[uint64]time.Time, len(pm.suspicions))
	for id, t := range pm.suspicions {
		suspects[id] = t
	}
	pm.suspicionsMu.Unlock()

	for id, suspectTime := range suspects {
		if time.Since(suspectTime) > pm.config.DeadTimeout {
			pm.markDead(id)
		}
	}
}

func (pm *PeerMonitor) markSuspect(nodeID uint64) {
	pm.suspicionsMu.Lock()
	_, already := pm.suspicions[nodeID]
	if !already {
		pm.suspicions[nodeID] = time.Now()
	}
	pm.suspicionsMu.Unlock()
	if already {
		return
	}

	// A peer already declared dead stays dead until a probe succeeds.
	pm.membersMu.Lock()
	if node, ok := pm.members[nodeID]; ok && node.State == MemberStateAlive {
		node.State = MemberStateSuspect
	}
	pm.membersMu.Unlock()
	pm.logger.Warn("peer suspected", "node_id", strconv.FormatUint(nodeID, 10))
	if pm.trail != nil {
		pm.trail.Record(audit.EventTypePeerSuspected, "", map[string]string{
			"node_id": strconv.FormatUint(nodeID, 10),
		})
	}
}

func (pm *PeerMonitor) clearSuspicion(nodeID uint64) {
	pm.suspicionsMu.Lock()
	_, wasSuspect := pm.suspicions[nodeID]
	delete(pm.suspicions, nodeID)
	pm.suspicionsMu.Unlock()

	pm.membersMu.Lock()
	node, ok := pm.members[nodeID]
	recovered := ok && node.State != MemberStateAlive
	if ok {
		node.State = MemberStateAlive
		node.LastSeen = time.Now()
	}
	pm.membersMu.Unlock()

	if (wasSuspect || recovered) && pm.trail != nil {
		pm.trail.Record(audit.EventTypePeerAlive, "", map[string]string{
			"node_id": strconv.FormatUint(nodeID, 10),
		})
	}
}

func (pm *PeerMonitor) markDead(nodeID uint64) {
	pm.membersMu.Lock()
	node, ok := pm.members[nodeID]
	alreadyDead := ok && node.State == MemberStateDead
	if ok {
		node.State = MemberStateDead
	}
	pm.membersMu.Unlock()

	pm.suspicionsMu.Lock()
	delete(pm.suspicions, nodeID)
	pm.suspicionsMu.Unlock()

	if alreadyDead {
		return
	}
	pm.logger.Warn("peer dead", "node_id", strconv.FormatUint(nodeID, 10))
	if pm.trail != nil {
		pm.trail.Record(audit.EventTypePeerDead, "", map[string]string{
			"node_id": strconv.FormatUint(nodeID, 10),
		})
	}
}

// Members returns a snapshot of the table in node-id order.
func (pm *PeerMonitor) Members() []MemberInfo {
	pm.membersMu.RLock()
	defer pm.membersMu.RUnlock()
	out := make([]MemberInfo, 0, len(pm.members))
	for i := uint64(0); i < uint64(len(pm.members)); i++ {
		if m, ok := pm.members[i]; ok {
			out = append(out, *m)
		}
	}
	return out
}
