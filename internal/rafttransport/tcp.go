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
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"time"

	"raftkv/internal/compression"
	"raftkv/internal/logging"
)

// RPCTimeout bounds every peer round trip, per the one-second ceiling
// a Raft RPC must observe so a dead peer cannot stall an election or
// a commit.
const RPCTimeout = 1 * time.Second

type frameType uint8

const (
	frameAppendEntries frameType = iota + 1
	frameAppendEntriesResponse
	frameRequestVote
	frameRequestVoteResponse
)

// frame header: type byte, compression algorithm byte, big-endian
// 32-bit payload length.
const frameHeaderSize = 6

// TCPTransport exchanges length-prefixed JSON frames with peers. Every
// RPC dials its own connection for the duration of the round trip, so
// concurrent calls to the same peer never share a stream. Frame
// payloads above the configured size floor are compressed; the
// algorithm travels in the frame header, so mixed-configuration
// clusters interoperate.
type TCPTransport struct {
	addrs []string // position = node id
	comp  *compression.Compressor
	log   *logging.Logger
}

// NewTCPTransport returns a transport for the cluster list addrs, in
// node-id order. comp may be nil to disable compression.
func NewTCPTransport(addrs []string, comp *compression.Compressor) *TCPTransport {
	if comp == nil {
		comp = compression.NewCompressor(compression.Config{Algorithm: compression.AlgorithmNone})
	}
	return &TCPTransport{
		addrs: addrs,
		comp:  comp,
		log:   logging.NewLogger("rafttransport"),
	}
}

func (t *TCPTransport) dial(dest uint64) (net.Conn, error) {
	if dest >= uint64(len(t.addrs)) {
		return nil, fmt.Errorf("rafttransport: node %d outside cluster list", dest)
	}
	conn, err := net.DialTimeout("tcp", t.addrs[dest], RPCTimeout)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Write(RPCMarker); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func writeFrame(w io.Writer, typ frameType, comp *compression.Compressor, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("rafttransport: encode frame: %w", err)
	}
	algo := compression.AlgorithmNone
	cfg := comp.Config()
	if cfg.Algorithm != compression.AlgorithmNone && len(payload) >= cfg.MinSize {
		compressed, err := comp.Compress(payload)
		if err != nil {
			return fmt.Errorf("rafttransport: compress frame: %w", err)
		}
		if len(compressed) < len(payload) {
			payload = compressed
			algo = cfg.Algorithm
		}
	}
	header := make([]byte, frameHeaderSize)
	header[0] = byte(typ)
	header[1] = byte(algo)
	binary.BigEndian.PutUint32(header[2:], uint32(len(payload)))
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("rafttransport: write frame header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("rafttransport: write frame body: %w", err)
	}
	return nil
}

func readFrame(r io.Reader, comp *compression.Compressor) (frameType, []byte, error) {
	header := make([]byte, frameHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, err
	}
	length := binary.BigEndian.Uint32(header[2:])
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	algo := compression.Algorithm(header[1])
	if algo != compression.AlgorithmNone {
		decompressed, err := comp.Decompress(payload, algo)
		if err != nil {
			return 0, nil, fmt.Errorf("rafttransport: decompress frame: %w", err)
		}
		payload = decompressed
	}
	return frameType(header[0]), payload, nil
}

func (t *TCPTransport) roundTrip(dest uint64, typ frameType, req any, respType frameType, resp any) error {
	conn, err := t.dial(dest)
	if err != nil {
		return fmt.Errorf("rafttransport: dial node %d: %w", dest, err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(RPCTimeout))
	if err := writeFrame(conn, typ, t.comp, req); err != nil {
		return err
	}
	gotType, payload, err := readFrame(conn, t.comp)
	if err != nil {
		return fmt.Errorf("rafttransport: read reply from node %d: %w", dest, err)
	}
	if gotType != respType {
		return fmt.Errorf("rafttransport: unexpected frame type %d from node %d", gotType, dest)
	}
	if err := json.Unmarshal(payload, resp); err != nil {
		return fmt.Errorf("rafttransport: decode reply from node %d: %w", dest, err)
	}
	return nil
}

func (t *TCPTransport) SendAppendEntries(dest uint64, req AppendEntries) (AppendEntriesResponse, error) {
	var resp AppendEntriesResponse
	err := t.roundTrip(dest, frameAppendEntries, req, frameAppendEntriesResponse, &resp)
	return resp, err
}

func (t *TCPTransport) SendRequestVote(dest uint64, req RequestVote) (RequestVoteResponse, error) {
	var resp RequestVoteResponse
	err := t.roundTrip(dest, frameRequestVote, req, frameRequestVoteResponse, &resp)
	return resp, err
}

// ServeConn dispatches RPC frames arriving on conn to handler until
// the peer hangs up. The caller has already consumed the RPC marker.
func ServeConn(conn net.Conn, handler Handler, comp *compression.Compressor, log *logging.Logger) {
	if comp == nil {
		comp = compression.NewCompressor(compression.Config{Algorithm: compression.AlgorithmNone})
	}
	defer conn.Close()
	for {
		typ, payload, err := readFrame(conn, comp)
		if err != nil {
			return
		}
		switch typ {
		case frameAppendEntries:
			var req AppendEntries
			if err := json.Unmarshal(payload, &req); err != nil {
				log.Warn("discarding malformed AppendEntries frame", "error", err.Error())
				return
			}
			resp, err := handler.HandleAppendEntries(req)
			if err != nil {
				log.Warn("AppendEntries handler error", "error", err.Error())
				return
			}
			if err := writeFrame(conn, frameAppendEntriesResponse, comp, resp); err != nil {
				return
			}
		case frameRequestVote:
			var req RequestVote
			if err := json.Unmarshal(payload, &req); err != nil {
				log.Warn("discarding malformed RequestVote frame", "error", err.Error())
				return
			}
			resp, err := handler.HandleRequestVote(req)
			if err != nil {
				log.Warn("RequestVote handler error", "error", err.Error())
				return
			}
			if err := writeFrame(conn, frameRequestVoteResponse, comp, resp); err != nil {
				return
			}
		default:
			log.Warn("unknown frame type", "type", fmt.Sprintf("%d", typ))
			return
		}
	}
}
