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

// raftkv-server is the node daemon: one process per cluster member.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"raftkv/internal/config"
	"raftkv/internal/logging"
	"raftkv/internal/server"
)

func main() {
	configFile := flag.String("config", "", "path to a key=value config file")
	nodeID := flag.Uint64("node-id", 0, "this node's position in the cluster list")
	bind := flag.String("bind", "", "listen address, e.g. :6379")
	clusterList := flag.String("cluster", "", "comma-separated node addresses in node-id order")
	dataDir := flag.String("data-dir", "", "directory for the persistent log")
	storage := flag.String("storage", "", "log storage: disk or memory")
	maxClients := flag.Int("max-clients", 0, "maximum concurrent client connections")
	heartbeat := flag.Duration("heartbeat-interval", 0, "leader heartbeat interval")
	electionMin := flag.Duration("election-timeout-min", 0, "election timeout lower bound")
	electionMax := flag.Duration("election-timeout-max", 0, "election timeout upper bound")
	compressionFlag := flag.String("compression", "", "peer RPC compression: none, gzip, lz4, snappy, zstd")
	logLevel := flag.String("log-level", "", "debug, info, warn or error")
	logJSON := flag.Bool("log-json", false, "emit logs as JSON")
	flag.Parse()

	mgr := config.Global()
	if *configFile != "" {
		if err := mgr.LoadFromFile(*configFile); err != nil {
			fmt.Fprintf(os.Stderr, "raftkv-server: %v\n", err)
			os.Exit(1)
		}
	}
	mgr.LoadFromEnv()

	cfg := mgr.Get()
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "node-id":
			cfg.NodeID = *nodeID
		case "bind":
			cfg.Bind = *bind
		case "cluster":
			cfg.Cluster = splitList(*clusterList)
		case "data-dir":
			cfg.DataDir = *dataDir
		case "storage":
			cfg.Storage = *storage
		case "max-clients":
			cfg.MaxClients = *maxClients
		case "heartbeat-interval":
			cfg.HeartbeatInterval = *heartbeat
		case "election-timeout-min":
			cfg.ElectionTimeoutMin = *electionMin
		case "election-timeout-max":
			cfg.ElectionTimeoutMax = *electionMax
		case "compression":
			cfg.Compression = *compressionFlag
		case "log-level":
			cfg.LogLevel = *logLevel
		case "log-json":
			cfg.LogJSON = *logJSON
		}
	})

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "raftkv-server: %v\n", err)
		os.Exit(1)
	}

	logging.SetGlobalLevel(logging.ParseLevel(cfg.LogLevel))
	logging.SetJSONMode(cfg.LogJSON)
	log := logging.NewLogger("main")

	srv, err := server.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "raftkv-server: %v\n", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("received signal, shutting down", "signal", sig.String())
		srv.Stop()
	}()

	if err := srv.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "raftkv-server: %v\n", err)
		os.Exit(1)
	}
	log.Info("shut down cleanly", "uptime", time.Since(startTime).Truncate(time.Second).String())
}

var startTime = time.Now()

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
