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
	"bytes"
	"encoding/json"
	"io"
	"net"
	"sync"
	"testing"

	"raftkv/internal/compression"
	"raftkv/internal/logging"
	"raftkv/internal/raftlog"
)

func testRequest() AppendEntries {
	return AppendEntries{
		Term:         3,
		LeaderID:     1,
		PrevLogIndex: 7,
		PrevLogTerm:  2,
		Entries: []raftlog.Entry{
			{Term: 3, Kind: raftlog.KindNoOp},
			{Term: 3, Kind: raftlog.KindCommand, Command: []byte("SET k v")},
		},
		LeaderCommit: 6,
		MessageIndex: 42,
	}
}

func TestFrameRoundTrip(t *testing.T) {
	none := compression.NewCompressor(compression.Config{Algorithm: compression.AlgorithmNone})

	var buf bytes.Buffer
	want := testRequest()
	if err := writeFrame(&buf, frameAppendEntries, none, want); err != nil {
		t.Fatalf("writeFrame: %v", err)
	}

	typ, payload, err := readFrame(&buf, none)
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if typ != frameAppendEntries {
		t.Errorf("frame type = %d, want %d", typ, frameAppendEntries)
	}
	var got AppendEntries
	if err := json.Unmarshal(payload, &got); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if got.Term != want.Term || got.MessageIndex != want.MessageIndex || len(got.Entries) != len(want.Entries) {
		t.Errorf("round trip = %+v, want %+v", got, want)
	}
	if !bytes.Equal(got.Entries[1].Command, want.Entries[1].Command) {
		t.Errorf("entry command = %q", got.Entries[1].Command)
	}
}

// A compressing sender must interoperate with any receiver: the frame
// header carries the algorithm, so the reader never consults its own
// configuration to pick the decoder.
func TestFrameCompressionInteroperates(t *testing.T) {
	for _, algo := range []compression.Algorithm{
		compression.AlgorithmGzip,
		compression.AlgorithmLZ4,
		compression.AlgorithmSnappy,
		compression.AlgorithmZstd,
	} {
		t.Run(algo.String(), func(t *testing.T) {
			sender := compression.NewCompressor(compression.Config{Algorithm: algo, MinSize: 0})
			receiver := compression.NewCompressor(compression.Config{Algorithm: compression.AlgorithmNone})

			var buf bytes.Buffer
			if err := writeFrame(&buf, frameAppendEntries, sender, testRequest()); err != nil {
				t.Fatalf("writeFrame: %v", err)
			}
			typ, payload, err := readFrame(&buf, receiver)
			if err != nil {
				t.Fatalf("readFrame: %v", err)
			}
			if typ != frameAppendEntries {
				t.Errorf("frame type = %d", typ)
			}
			var got AppendEntries
			if err := json.Unmarshal(payload, &got); err != nil {
				t.Fatalf("decode payload: %v", err)
			}
			if got.MessageIndex != 42 {
				t.Errorf("MessageIndex = %d, want 42", got.MessageIndex)
			}
		})
	}
}

// servePeer accepts RPC connections the way the server's listener
// does: consume the marker, then hand the stream to ServeConn.
func servePeer(t *testing.T, handler Handler) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				marker := make([]byte, len(RPCMarker))
				if _, err := io.ReadFull(conn, marker); err != nil || !bytes.Equal(marker, RPCMarker) {
					conn.Close()
					return
				}
				ServeConn(conn, handler, nil, logging.NewLogger("rafttransport-test"))
			}(conn)
		}
	}()
	return ln.Addr().String()
}

func TestTCPTransportRoundTrip(t *testing.T) {
	addr := servePeer(t, handlerFunc{})
	transport := NewTCPTransport([]string{"unused:0", addr}, nil)

	resp, err := transport.SendAppendEntries(1, testRequest())
	if err != nil {
		t.Fatalf("SendAppendEntries: %v", err)
	}
	if !resp.Success || resp.Term != 3 {
		t.Errorf("SendAppendEntries response = %+v", resp)
	}

	vote, err := transport.SendRequestVote(1, RequestVote{Term: 5, CandidateID: 0})
	if err != nil {
		t.Fatalf("SendRequestVote: %v", err)
	}
	if !vote.VoteGranted || vote.Term != 5 {
		t.Errorf("SendRequestVote response = %+v", vote)
	}

	if _, err := transport.SendRequestVote(7, RequestVote{Term: 1}); err == nil {
		t.Errorf("SendRequestVote to node outside cluster list succeeded")
	}
}

// Each call dials its own connection, so concurrent RPCs to one peer
// must neither interleave frames nor swap replies.
func TestTCPTransportConcurrentCalls(t *testing.T) {
	addr := servePeer(t, handlerFunc{})
	transport := NewTCPTransport([]string{addr}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		term := uint64(i + 1)
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := testRequest()
			req.Term = term
			resp, err := transport.SendAppendEntries(0, req)
			if err != nil {
				t.Errorf("concurrent SendAppendEntries: %v", err)
				return
			}
			if resp.Term != term {
				t.Errorf("reply term = %d, want %d (crossed replies)", resp.Term, term)
			}
		}()
	}
	wg.Wait()
}

func TestLocalNetworkPartition(t *testing.T) {
	network := NewLocalNetwork()
	network.Register(1, handlerFunc{})
	a := NewLocalTransport(0, network)

	if _, err := a.SendRequestVote(1, RequestVote{Term: 1}); err != nil {
		t.Fatalf("SendRequestVote before partition: %v", err)
	}
	network.Partition(0, 1)
	if _, err := a.SendRequestVote(1, RequestVote{Term: 1}); err == nil {
		t.Errorf("SendRequestVote across partition succeeded")
	}
	network.Heal(0, 1)
	if _, err := a.SendRequestVote(1, RequestVote{Term: 1}); err != nil {
		t.Errorf("SendRequestVote after heal: %v", err)
	}
}

type handlerFunc struct{}

func (handlerFunc) HandleAppendEntries(req AppendEntries) (AppendEntriesResponse, error) {
	return AppendEntriesResponse{Term: req.Term, Success: true}, nil
}

func (handlerFunc) HandleRequestVote(req RequestVote) (RequestVoteResponse, error) {
	return RequestVoteResponse{Term: req.Term, VoteGranted: true}, nil
}
