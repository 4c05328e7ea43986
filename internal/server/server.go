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

// Package server assembles a node and runs its single listener. Every
// accepted connection is peeked for the RPC marker: peers speaking
// the length-delimited RPC framing share the port with RESP clients.
package server

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"raftkv/internal/audit"
	"raftkv/internal/cluster"
	"raftkv/internal/compression"
	"raftkv/internal/config"
	"raftkv/internal/dict"
	"raftkv/internal/logging"
	"raftkv/internal/raft"
	"raftkv/internal/raftlog"
	"raftkv/internal/rafttransport"
	"raftkv/internal/resp"
	"raftkv/internal/rkverrors"
	"raftkv/internal/session"
	"raftkv/internal/statemachine"
)

// Version is stamped into INFO and mDNS advertisements.
const Version = "1.0.0"

// Server is the process-wide shared state: configuration, the Raft
// handle, the dictionary, the connection semaphore, and the
// observability pieces. One instance per node.
type Server struct {
	cfg    *config.Config
	logger *logging.Logger

	store     *dict.Store
	raft      *raft.Raft
	storage   raftlog.Store
	trail     *audit.Trail
	monitor   *cluster.PeerMonitor
	discovery *cluster.DiscoveryService
	comp      *compression.Compressor

	connSem   chan struct{}
	startedAt time.Time

	ln       net.Listener
	stopOnce sync.Once
	stopCh   chan struct{}
}

// New wires a node together from its configuration. The listener is
// not bound yet; that happens in Run.
func New(cfg *config.Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	clusterAddrs := cfg.Cluster
	if len(clusterAddrs) == 0 {
		clusterAddrs = []string{cfg.Bind}
	}

	logger := logging.NewLogger("server")

	algo, err := compression.ParseAlgorithm(cfg.Compression)
	if err != nil {
		return nil, err
	}
	compCfg := compression.DefaultConfig()
	compCfg.Algorithm = algo
	comp := compression.NewCompressor(compCfg)

	var storage raftlog.Store
	if cfg.Storage == "memory" {
		storage = raftlog.NewMemoryStore()
	} else {
		dir := filepath.Join(cfg.DataDir, strconv.FormatUint(cfg.NodeID, 10))
		storage, err = raftlog.NewDiskStore(dir)
		if err != nil {
			return nil, err
		}
	}

	trail := audit.NewTrail(audit.DefaultConfig())
	store := dict.NewStore()
	adapter := statemachine.New(store, trail, logging.NewLogger("statemachine"))

	peers := make([]uint64, len(clusterAddrs))
	for i := range clusterAddrs {
		peers[i] = uint64(i)
	}
	transport := rafttransport.NewTCPTransport(clusterAddrs, comp)
	raftCfg := raft.Config{
		HeartbeatInterval:  cfg.HeartbeatInterval,
		ElectionTimeoutMin: cfg.ElectionTimeoutMin,
		ElectionTimeoutMax: cfg.ElectionTimeoutMax,
	}
	raftNode, err := raft.New(cfg.NodeID, peers, raftCfg, adapter, storage, transport, trail, logging.NewLogger("raft"))
	if err != nil {
		storage.Close()
		return nil, err
	}

	monitor := cluster.NewPeerMonitor(cfg.NodeID, clusterAddrs, cluster.DefaultMonitorConfig(), trail)
	discovery := cluster.NewDiscoveryService(cluster.DiscoveryConfig{
		NodeID:  "raftkv-" + strconv.FormatUint(cfg.NodeID, 10),
		Addr:    clusterAddrs[cfg.NodeID],
		Port:    bindPort(cfg.Bind),
		Version: Version,
		Enabled: cfg.DiscoveryEnabled,
	})

	normalized := *cfg
	normalized.Cluster = clusterAddrs
	return &Server{
		cfg:       &normalized,
		logger:    logger,
		store:     store,
		raft:      raftNode,
		storage:   storage,
		trail:     trail,
		monitor:   monitor,
		discovery: discovery,
		comp:      comp,
		connSem:   make(chan struct{}, cfg.MaxClients),
		startedAt: time.Now(),
		stopCh:    make(chan struct{}),
	}, nil
}

func bindPort(bind string) int {
	_, portStr, err := net.SplitHostPort(bind)
	if err != nil {
		return 0
	}
	port, _ := strconv.Atoi(portStr)
	return port
}

// Run binds the listener and serves until Shutdown.
func (s *Server) Run() error {
	ln, err := net.Listen("tcp", s.cfg.Bind)
	if err != nil {
		return fmt.Errorf("server: bind %s: %w", s.cfg.Bind, err)
	}
	s.ln = ln
	s.logger.Info("listening", "addr", ln.Addr().String(), "node_id", strconv.FormatUint(s.cfg.NodeID, 10))

	s.monitor.Start()
	if err := s.discovery.Advertise(); err != nil {
		s.logger.Warn("mDNS advertise failed", "error", err.Error())
	}

	var g errgroup.Group
	g.Go(func() error {
		<-s.stopCh
		return ln.Close()
	})
	g.Go(func() error {
		for {
			conn, err := ln.Accept()
			if err != nil {
				select {
				case <-s.stopCh:
					return nil
				default:
					return err
				}
			}
			go s.serveConn(conn)
		}
	})
	err = g.Wait()

	s.discovery.Stop()
	s.monitor.Stop()
	s.raft.Close()
	s.trail.Stop()
	s.storage.Close()
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// Stop tears the node down: the listener closes and Run returns.
// Safe to call more than once.
func (s *Server) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// serveConn classifies one accepted connection by peeking for the
// RPC marker, then hands it to the peer RPC loop or a client session.
func (s *Server) serveConn(conn net.Conn) {
	br := bufio.NewReader(conn)
	isRPC, err := peekRPCMarker(br)
	if err != nil {
		conn.Close()
		return
	}
	bc := bufferedConn{r: br, Conn: conn}
	if isRPC {
		if _, err := br.Discard(len(rafttransport.RPCMarker)); err != nil {
			conn.Close()
			return
		}
		rafttransport.ServeConn(bc, s.raft, s.comp, s.logger)
		return
	}
	s.serveClient(bc)
}

// peekRPCMarker checks the connection's first bytes one at a time, so
// a client whose first command is shorter than the marker is never
// blocked on.
func peekRPCMarker(br *bufio.Reader) (bool, error) {
	marker := rafttransport.RPCMarker
	for i := 1; i <= len(marker); i++ {
		buf, err := br.Peek(i)
		if err != nil {
			return false, err
		}
		if buf[i-1] != marker[i-1] {
			return false, nil
		}
	}
	return true, nil
}

// bufferedConn reads through the peeking reader and writes straight
// to the socket.
type bufferedConn struct {
	r *bufio.Reader
	net.Conn
}

func (c bufferedConn) Read(p []byte) (int, error) { return c.r.Read(p) }

func (s *Server) serveClient(conn net.Conn) {
	defer conn.Close()

	select {
	case s.connSem <- struct{}{}:
		defer func() { <-s.connSem }()
	default:
		s.trail.Record(audit.EventTypeClientRejected, conn.RemoteAddr().String(), nil)
		conn.Write(resp.Encode(resp.Error{Err: rkverrors.TooManyClients()}))
		return
	}

	decoder := resp.NewDecoder(conn)
	encoder := resp.NewEncoder(conn)
	sess := session.New(s.raft, s.store, s.cfg.Cluster, s)

	for {
		argv, err := decoder.Decode()
		if err != nil {
			if rkverrors.IsCategory(err, rkverrors.CategoryProtocol) {
				encoder.EncodeError(err)
			}
			return
		}
		reply := sess.Execute(argv)
		if reply == nil {
			continue
		}
		if err := encoder.EncodeRaw(reply); err != nil {
			return
		}
	}
}
