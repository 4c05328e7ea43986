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

package cluster

import (
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/mdns"

	"raftkv/internal/logging"
)

// mdnsService is the service type raftkv nodes advertise and query.
const mdnsService = "_raftkv._tcp"

// DiscoveryConfig configures the mDNS side of a node.
type DiscoveryConfig struct {
	NodeID  string // instance name on the network, e.g. "raftkv-0"
	Addr    string // advertised client address, host:port
	Port    int    // advertised service port
	Version string
	Enabled bool // advertise; lookup works either way
}

// DiscoveredNode is one node found on the local network.
type DiscoveredNode struct {
	NodeID      string `json:"node_id"`
	ClusterAddr string `json:"cluster_addr"`
	Version     string `json:"version,omitempty"`
}

// DiscoveryService advertises this node over mDNS and looks up other
// raftkv nodes on the local network. It is a bootstrap convenience
// for assembling the cluster list; consensus never depends on it.
type DiscoveryService struct {
	config DiscoveryConfig
	logger *logging.Logger

	mu     sync.Mutex
	server *mdns.Server
}

// NewDiscoveryService builds a service. Call Advertise to announce
// this node; DiscoverNodes works without advertising.
func NewDiscoveryService(config DiscoveryConfig) *DiscoveryService {
	return &DiscoveryService{
		config: config,
		logger: logging.NewLogger("discovery"),
	}
}

// Advertise announces this node on the local network until Stop.
func (ds *DiscoveryService) Advertise() error {
	if !ds.config.Enabled {
		return nil
	}
	host, err := os.Hostname()
	if err != nil {
		host = "raftkv-node"
	}
	info := []string{
		"node_id=" + ds.config.NodeID,
		"addr=" + ds.config.Addr,
		"version=" + ds.config.Version,
	}
	service, err := mdns.NewMDNSService(ds.config.NodeID, mdnsService, "", host+".", ds.config.Port, nil, info)
	if err != nil {
		return fmt.Errorf("cluster: create mDNS service: %w", err)
	}
	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("cluster: start mDNS server: %w", err)
	}
	ds.mu.Lock()
	ds.server = server
	ds.mu.Unlock()
	ds.logger.Info("advertising on mDNS", "instance", ds.config.NodeID)
	return nil
}

// Stop withdraws the advertisement, if any.
func (ds *DiscoveryService) Stop() {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if ds.server != nil {
		ds.server.Shutdown()
		ds.server = nil
	}
}

// DiscoverNodes queries the local network and collects every raftkv
// node that answers within timeout.
func (ds *DiscoveryService) DiscoverNodes(timeout time.Duration) ([]*DiscoveredNode, error) {
	entries := make(chan *mdns.ServiceEntry, 32)
	var nodes []*DiscoveredNode
	done := make(chan struct{})
	go func() {
		defer close(done)
		for entry := range entries {
			if node := entryToNode(entry); node != nil {
				nodes = append(nodes, node)
			}
		}
	}()

	params := mdns.DefaultParams(mdnsService)
	params.Entries = entries
	params.Timeout = timeout
	err := mdns.Query(params)
	close(entries)
	<-done
	if err != nil {
		return nil, fmt.Errorf("cluster: mDNS query: %w", err)
	}
	return nodes, nil
}

func entryToNode(entry *mdns.ServiceEntry) *DiscoveredNode {
	node := &DiscoveredNode{
		NodeID: strings.TrimSuffix(entry.Name, "."+mdnsService+".local."),
	}
	for _, field := range entry.InfoFields {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		switch key {
		case "node_id":
			node.NodeID = value
		case "addr":
			node.ClusterAddr = value
		case "version":
			node.Version = value
		}
	}
	if node.ClusterAddr == "" && entry.AddrV4 != nil {
		node.ClusterAddr = net.JoinHostPort(entry.AddrV4.String(), fmt.Sprint(entry.Port))
	}
	if node.ClusterAddr == "" {
		return nil
	}
	return node
}
