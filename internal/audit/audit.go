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

/*
Package audit keeps an in-memory trail of notable node events: which
commands the state machine applied, and how the node's role in the
cluster changed over time. The trail is observability only; nothing in
the consensus or command path depends on it.

Events are recorded asynchronously through a buffered channel so the
hot paths never block on the trail, and retained in a fixed-size ring:
old events fall off the back. The trail can be queried over RESP
(AUDIT LIST / AUDIT COUNT) and exported as JSON or CSV.
*/
package audit

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"raftkv/internal/logging"
)

// EventType classifies a trail entry.
type EventType string

const (
	// Applied commands.
	EventTypeCommandApplied EventType = "COMMAND_APPLIED"

	// Raft role changes.
	EventTypeLeaderElected EventType = "LEADER_ELECTED"
	EventTypeTermAdvanced  EventType = "TERM_ADVANCED"
	EventTypeSteppedDown   EventType = "STEPPED_DOWN"

	// Peer liveness transitions observed by the monitor.
	EventTypePeerSuspected EventType = "PEER_SUSPECTED"
	EventTypePeerDead      EventType = "PEER_DEAD"
	EventTypePeerAlive     EventType = "PEER_ALIVE"

	// Client connection lifecycle.
	EventTypeClientRejected EventType = "CLIENT_REJECTED"
)

// Event is a single trail entry.
type Event struct {
	ID        int64             `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Type      EventType         `json:"type"`
	Detail    string            `json:"detail,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Config holds trail configuration.
type Config struct {
	Enabled     bool `json:"enabled"`
	LogCommands bool `json:"log_commands"`
	LogCluster  bool `json:"log_cluster"`
	Capacity    int  `json:"capacity"`
	BufferSize  int  `json:"buffer_size"`
}

// DefaultConfig returns default trail configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:     true,
		LogCommands: true,
		LogCluster:  true,
		Capacity:    4096,
		BufferSize:  1024,
	}
}

// Trail is the node-local audit log.
type Trail struct {
	config Config
	logger *logging.Logger

	buffer chan Event
	stopCh chan struct{}
	wg     sync.WaitGroup

	nextID atomic.Int64

	mu     sync.RWMutex
	ring   []Event
	start  int // index of the oldest retained event
	length int
}

// NewTrail starts a trail and its background writer.
func NewTrail(config Config) *Trail {
	if config.Capacity <= 0 {
		config.Capacity = DefaultConfig().Capacity
	}
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultConfig().BufferSize
	}
	t := &Trail{
		config: config,
		logger: logging.NewLogger("audit"),
		buffer: make(chan Event, config.BufferSize),
		stopCh: make(chan struct{}),
		ring:   make([]Event, config.Capacity),
	}
	t.wg.Add(1)
	go t.worker()
	return t
}

func (t *Trail) worker() {
	defer t.wg.Done()
	for {
		select {
		case event := <-t.buffer:
			t.append(event)
		case <-t.stopCh:
			for {
				select {
				case event := <-t.buffer:
					t.append(event)
				default:
					return
				}
			}
		}
	}
}

func (t *Trail) append(event Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pos := (t.start + t.length) % len(t.ring)
	t.ring[pos] = event
	if t.length < len(t.ring) {
		t.length++
	} else {
		t.start = (t.start + 1) % len(t.ring)
	}
}

// Record queues one event. When the trail is disabled or its buffer
// is full the event is dropped; the trail never applies backpressure.
func (t *Trail) Record(eventType EventType, detail string, metadata map[string]string) {
	if !t.config.Enabled {
		return
	}
	if eventType == EventTypeCommandApplied && !t.config.LogCommands {
		return
	}
	event := Event{
		ID:        t.nextID.Add(1),
		Timestamp: time.Now(),
		Type:      eventType,
		Detail:    detail,
		Metadata:  metadata,
	}
	select {
	case t.buffer <- event:
	default:
		t.logger.Debug("audit buffer full, dropping event", "type", string(eventType))
	}
}

// QueryOptions filters List results.
type QueryOptions struct {
	Type  EventType // zero value matches every type
	Limit int       // <= 0 means no limit; otherwise the most recent n
}

// List returns matching events, oldest first.
func (t *Trail) List(opts QueryOptions) []Event {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []Event
	for i := 0; i < t.length; i++ {
		event := t.ring[(t.start+i)%len(t.ring)]
		if opts.Type != "" && event.Type != opts.Type {
			continue
		}
		out = append(out, event)
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[len(out)-opts.Limit:]
	}
	return out
}

// Len reports how many events are currently retained.
func (t *Trail) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.length
}

// Stop drains the buffer and stops the writer.
func (t *Trail) Stop() {
	close(t.stopCh)
	t.wg.Wait()
}

// LeaderElected implements the raft core's audit hook.
func (t *Trail) LeaderElected(term uint64, nodeID uint64) {
	if !t.config.LogCluster {
		return
	}
	t.Record(EventTypeLeaderElected, "", map[string]string{
		"term":    strconv.FormatUint(term, 10),
		"node_id": strconv.FormatUint(nodeID, 10),
	})
}

// TermAdvanced implements the raft core's audit hook.
func (t *Trail) TermAdvanced(term uint64) {
	if !t.config.LogCluster {
		return
	}
	t.Record(EventTypeTermAdvanced, "", map[string]string{"term": strconv.FormatUint(term, 10)})
}

// SteppedDown implements the raft core's audit hook.
func (t *Trail) SteppedDown(term uint64) {
	if !t.config.LogCluster {
		return
	}
	t.Record(EventTypeSteppedDown, "", map[string]string{"term": strconv.FormatUint(term, 10)})
}

// CommandApplied implements the state machine's recorder hook.
func (t *Trail) CommandApplied(name string, argc int) {
	t.Record(EventTypeCommandApplied, name, map[string]string{"argc": strconv.Itoa(argc)})
}
