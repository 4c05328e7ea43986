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

package server

import (
	"bytes"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"raftkv/internal/audit"
	"raftkv/internal/raft"
	"raftkv/internal/resp"
	"raftkv/internal/rkverrors"
)

// The Server itself is the session.SystemHandler: system commands are
// the ones that need the shared state.

const clusterSlots = 16384

func formatNodeID(nodeID uint64) resp.Value {
	return resp.BulkString(fmt.Sprintf("%040x", nodeID))
}

func (s *Server) formatNode(nodeID uint64) (resp.Value, error) {
	addr := s.cfg.Cluster[nodeID]
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("server: bad cluster address %q: %w", addr, err)
	}
	port, _ := strconv.Atoi(portStr)
	return resp.Array{
		resp.BulkString(host),
		resp.Integer(port),
		formatNodeID(nodeID),
	}, nil
}

// Cluster implements the CLUSTER command.
func (s *Server) Cluster(args [][]byte) (resp.Value, error) {
	subcommand := strings.ToUpper(string(args[0]))
	switch subcommand {
	case "MYID":
		return formatNodeID(s.cfg.NodeID), nil

	case "SLOTS":
		status, err := s.raft.Status()
		if err != nil {
			return nil, err
		}
		if status.LeaderID == nil {
			return nil, &raft.NotLeaderError{}
		}
		leaderID := *status.LeaderID
		leader, err := s.formatNode(leaderID)
		if err != nil {
			return nil, err
		}
		// One slot range covering everything, leader first.
		entries := resp.Array{resp.Integer(0), resp.Integer(clusterSlots - 1), leader}
		for id := range s.cfg.Cluster {
			if uint64(id) == leaderID {
				continue
			}
			node, err := s.formatNode(uint64(id))
			if err != nil {
				return nil, err
			}
			entries = append(entries, node)
		}
		return resp.Array{entries}, nil

	case "NODES":
		var b strings.Builder
		status, _ := s.raft.Status()
		for _, m := range s.monitor.Members() {
			role := "follower"
			if status.LeaderID != nil && *status.LeaderID == m.ID {
				role = "leader"
			}
			fmt.Fprintf(&b, "%040x %s %s %s\n", m.ID, m.Addr, role, m.State)
		}
		return resp.BulkString(b.String()), nil

	default:
		return nil, rkverrors.NewClientError(fmt.Sprintf("unknown subcommand '%s'", args[0]))
	}
}

const (
	infoSectionServer = 1 << iota
	infoSectionClients
	infoSectionCluster
	infoSectionAll = infoSectionServer | infoSectionClients | infoSectionCluster
)

// Info implements the INFO command.
func (s *Server) Info(args [][]byte) (resp.Value, error) {
	sections := 0
	if len(args) == 0 {
		sections = infoSectionAll
	}
	for _, section := range args {
		switch strings.ToLower(string(section)) {
		case "server":
			sections |= infoSectionServer
		case "clients":
			sections |= infoSectionClients
		case "cluster":
			sections |= infoSectionCluster
		case "default", "all", "everything":
			sections |= infoSectionAll
		}
	}

	var out bytes.Buffer
	if sections&infoSectionServer != 0 {
		uptime := int64(time.Since(s.startedAt).Seconds())
		fmt.Fprintf(&out, "# Server\r\n")
		fmt.Fprintf(&out, "raftkv_version:%s\r\n", Version)
		fmt.Fprintf(&out, "tcp_port:%d\r\n", bindPort(s.cfg.Bind))
		fmt.Fprintf(&out, "server_time_usec:%d\r\n", time.Now().UnixMicro())
		fmt.Fprintf(&out, "uptime_in_seconds:%d\r\n", uptime)
		fmt.Fprintf(&out, "uptime_in_days:%d\r\n", uptime/(3600*24))
	}
	if sections&infoSectionClients != 0 {
		if out.Len() > 0 {
			out.WriteString("\r\n")
		}
		fmt.Fprintf(&out, "# Clients\r\n")
		fmt.Fprintf(&out, "connected_clients:%d\r\n", len(s.connSem))
		fmt.Fprintf(&out, "maxclients:%d\r\n", s.cfg.MaxClients)
	}
	if sections&infoSectionCluster != 0 {
		if out.Len() > 0 {
			out.WriteString("\r\n")
		}
		status, _ := s.raft.Status()
		fmt.Fprintf(&out, "# Cluster\r\n")
		fmt.Fprintf(&out, "cluster_enabled:1\r\n")
		fmt.Fprintf(&out, "cluster_known_nodes:%d\r\n", len(s.cfg.Cluster))
		fmt.Fprintf(&out, "raft_node_id:%d\r\n", status.NodeID)
		fmt.Fprintf(&out, "raft_state:%s\r\n", status.State)
		fmt.Fprintf(&out, "raft_term:%d\r\n", status.Term)
		if status.LeaderID != nil {
			fmt.Fprintf(&out, "raft_leader_id:%d\r\n", *status.LeaderID)
		} else {
			fmt.Fprintf(&out, "raft_leader_id:none\r\n")
		}
	}
	return resp.BulkString(out.Bytes()), nil
}

// Audit implements the AUDIT command: LIST [n], COUNT, EXPORT json|csv.
func (s *Server) Audit(args [][]byte) (resp.Value, error) {
	switch strings.ToUpper(string(args[0])) {
	case "LIST":
		limit := 100
		if len(args) > 1 {
			n, err := strconv.Atoi(string(args[1]))
			if err != nil || n < 0 {
				return nil, rkverrors.NotAnInteger()
			}
			limit = n
		}
		events := s.trail.List(audit.QueryOptions{Limit: limit})
		out := make(resp.Array, len(events))
		for i, event := range events {
			entry := resp.Array{
				resp.Integer(event.ID),
				resp.BulkString(event.Timestamp.Format(time.RFC3339Nano)),
				resp.BulkString(string(event.Type)),
				resp.BulkString(event.Detail),
			}
			for key, value := range event.Metadata {
				entry = append(entry, resp.BulkString(key+"="+value))
			}
			out[i] = entry
		}
		return out, nil

	case "COUNT":
		return resp.Integer(s.trail.Len()), nil

	case "EXPORT":
		format := audit.FormatJSON
		if len(args) > 1 {
			format = audit.ExportFormat(strings.ToLower(string(args[1])))
		}
		var buf bytes.Buffer
		if err := s.trail.Export(&buf, format, audit.QueryOptions{}); err != nil {
			return nil, rkverrors.NewClientError(err.Error())
		}
		return resp.BulkString(buf.Bytes()), nil

	default:
		return nil, rkverrors.NewClientError(fmt.Sprintf("unknown subcommand '%s'", args[0]))
	}
}

// Shutdown implements the SHUTDOWN command. The reply races the
// process teardown, as it does on the system this models.
func (s *Server) Shutdown(args [][]byte) (resp.Value, error) {
	s.logger.Info("shutdown requested by client")
	s.Stop()
	return resp.OK, nil
}
