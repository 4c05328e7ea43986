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

// Package config is the node's configuration surface: a key=value
// file, environment overrides, then caller-applied flags, in that
// precedence order.
package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Environment variable names recognized by LoadFromEnv.
const (
	EnvNodeID             = "RAFTKV_NODE_ID"
	EnvBind               = "RAFTKV_BIND"
	EnvCluster            = "RAFTKV_CLUSTER"
	EnvDataDir            = "RAFTKV_DATA_DIR"
	EnvStorage            = "RAFTKV_STORAGE"
	EnvMaxClients         = "RAFTKV_MAX_CLIENTS"
	EnvLogLevel           = "RAFTKV_LOG_LEVEL"
	EnvLogJSON            = "RAFTKV_LOG_JSON"
	EnvCompression        = "RAFTKV_COMPRESSION"
	EnvHeartbeatInterval  = "RAFTKV_HEARTBEAT_INTERVAL_MS"
	EnvElectionTimeoutMin = "RAFTKV_ELECTION_TIMEOUT_MIN_MS"
	EnvElectionTimeoutMax = "RAFTKV_ELECTION_TIMEOUT_MAX_MS"
	EnvDiscoveryEnabled   = "RAFTKV_DISCOVERY_ENABLED"
)

const (
	storageMemory = "memory"
	storageDisk   = "disk"
)

// Config holds the full configuration surface for a raftkv node.
// One listener serves both RESP clients and peer RPC; the cluster
// list holds every node's address with the node id being the
// position in the list.
type Config struct {
	NodeID     uint64
	Bind       string   // listener, e.g. ":6379"
	Cluster    []string // ordered list of node addresses, including self
	DataDir    string
	Storage    string // "disk" or "memory"
	MaxClients int

	HeartbeatInterval  time.Duration
	ElectionTimeoutMin time.Duration
	ElectionTimeoutMax time.Duration

	LogLevel string
	LogJSON  bool

	// Compression names the algorithm applied to peer RPC frames:
	// none, gzip, lz4, snappy or zstd.
	Compression string

	DiscoveryEnabled bool

	ConfigFile string
}

// DefaultConfig returns the configuration used when nothing else is
// specified: a standalone node on the standard port.
func DefaultConfig() *Config {
	return &Config{
		NodeID:             0,
		Bind:               ":6379",
		Cluster:            nil,
		DataDir:            "raftkv-data",
		Storage:            storageDisk,
		MaxClients:         10000,
		HeartbeatInterval:  200 * time.Millisecond,
		ElectionTimeoutMin: 1000 * time.Millisecond,
		ElectionTimeoutMax: 2000 * time.Millisecond,
		LogLevel:           "info",
		LogJSON:            false,
		Compression:        "none",
	}
}

// IsStandalone reports whether the node forms a single-member cluster.
func (c *Config) IsStandalone() bool {
	return len(c.Cluster) <= 1
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Bind == "" {
		return fmt.Errorf("config: bind must not be empty")
	}
	if len(c.Cluster) == 0 && c.NodeID != 0 {
		return fmt.Errorf("config: node_id %d requires a cluster list", c.NodeID)
	}
	if len(c.Cluster) > 0 && c.NodeID >= uint64(len(c.Cluster)) {
		return fmt.Errorf("config: node_id %d outside cluster list of %d nodes", c.NodeID, len(c.Cluster))
	}
	switch c.Storage {
	case storageDisk, storageMemory:
	default:
		return fmt.Errorf("config: invalid storage mode %q", c.Storage)
	}
	if c.Storage == storageDisk && c.DataDir == "" {
		return fmt.Errorf("config: data_dir must not be empty when storage=disk")
	}
	if c.MaxClients <= 0 {
		return fmt.Errorf("config: max_clients must be positive, got %d", c.MaxClients)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("config: invalid log_level %q", c.LogLevel)
	}
	switch c.Compression {
	case "", "none", "gzip", "lz4", "snappy", "zstd":
	default:
		return fmt.Errorf("config: invalid compression %q", c.Compression)
	}
	if c.ElectionTimeoutMin <= 0 || c.ElectionTimeoutMax <= 0 {
		return fmt.Errorf("config: election timeouts must be positive")
	}
	if c.ElectionTimeoutMin >= c.ElectionTimeoutMax {
		return fmt.Errorf("config: election_timeout_min (%s) must be less than election_timeout_max (%s)",
			c.ElectionTimeoutMin, c.ElectionTimeoutMax)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("config: heartbeat_interval must be positive")
	}
	return nil
}

// String renders a human-readable summary, in the spirit of a status
// banner printed at startup.
func (c *Config) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "NodeID: %d\n", c.NodeID)
	fmt.Fprintf(&b, "Bind: %s\n", c.Bind)
	fmt.Fprintf(&b, "Cluster: %s\n", strings.Join(c.Cluster, ","))
	fmt.Fprintf(&b, "Storage: %s\n", c.Storage)
	fmt.Fprintf(&b, "DataDir: %s\n", c.DataDir)
	fmt.Fprintf(&b, "Compression: %s\n", c.Compression)
	fmt.Fprintf(&b, "LogLevel: %s\n", c.LogLevel)
	return b.String()
}

// ToTOML renders the configuration using a TOML-flavored key=value
// syntax, the same format LoadFromFile parses.
func (c *Config) ToTOML() string {
	var b strings.Builder
	fmt.Fprintf(&b, "node_id = %d\n", c.NodeID)
	fmt.Fprintf(&b, "bind = %q\n", c.Bind)
	fmt.Fprintf(&b, "cluster = %q\n", strings.Join(c.Cluster, ","))
	fmt.Fprintf(&b, "data_dir = %q\n", c.DataDir)
	fmt.Fprintf(&b, "storage = %q\n", c.Storage)
	fmt.Fprintf(&b, "max_clients = %d\n", c.MaxClients)
	fmt.Fprintf(&b, "heartbeat_interval_ms = %d\n", c.HeartbeatInterval.Milliseconds())
	fmt.Fprintf(&b, "election_timeout_min_ms = %d\n", c.ElectionTimeoutMin.Milliseconds())
	fmt.Fprintf(&b, "election_timeout_max_ms = %d\n", c.ElectionTimeoutMax.Milliseconds())
	fmt.Fprintf(&b, "compression = %q\n", c.Compression)
	fmt.Fprintf(&b, "log_level = %q\n", c.LogLevel)
	fmt.Fprintf(&b, "log_json = %t\n", c.LogJSON)
	return b.String()
}

// SaveToFile writes cfg to path in ToTOML format, creating parent
// directories as needed.
func (c *Config) SaveToFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: create dir: %w", err)
	}
	return os.WriteFile(path, []byte(c.ToTOML()), 0o644)
}

// Manager owns a loaded Config and the layered load order
// (file, then env, then caller-applied flags).
type Manager struct {
	mu       sync.RWMutex
	cfg      *Config
	onReload []func(*Config)
}

// NewManager returns a Manager seeded with DefaultConfig.
func NewManager() *Manager {
	return &Manager{cfg: DefaultConfig()}
}

// Get returns a copy of the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg := *m.cfg
	return &cfg
}

// LoadFromFile parses a key=value config file and merges it into the
// current configuration. Lines starting with '#' are comments; values
// may be quoted.
func (m *Manager) LoadFromFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	m.mu.Lock()
	defer m.mu.Unlock()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := splitKeyValue(line)
		if !ok {
			continue
		}
		applyKeyValue(m.cfg, key, value)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	m.cfg.ConfigFile = path
	return nil
}

func splitKeyValue(line string) (key, value string, ok bool) {
	idx := strings.Index(line, "=")
	if idx < 0 {
		return "", "", false
	}
	key = strings.TrimSpace(line[:idx])
	value = strings.TrimSpace(line[idx+1:])
	value = strings.Trim(value, `"`)
	return key, value, true
}

func applyKeyValue(cfg *Config, key, value string) {
	switch key {
	case "node_id":
		if n, err := strconv.ParseUint(value, 10, 64); err == nil {
			cfg.NodeID = n
		}
	case "bind":
		cfg.Bind = value
	case "cluster":
		cfg.Cluster = splitNonEmpty(value, ",")
	case "data_dir":
		cfg.DataDir = value
	case "storage":
		cfg.Storage = value
	case "max_clients":
		if n, err := strconv.Atoi(value); err == nil {
			cfg.MaxClients = n
		}
	case "heartbeat_interval_ms":
		if n, err := strconv.Atoi(value); err == nil {
			cfg.HeartbeatInterval = time.Duration(n) * time.Millisecond
		}
	case "election_timeout_min_ms":
		if n, err := strconv.Atoi(value); err == nil {
			cfg.ElectionTimeoutMin = time.Duration(n) * time.Millisecond
		}
	case "election_timeout_max_ms":
		if n, err := strconv.Atoi(value); err == nil {
			cfg.ElectionTimeoutMax = time.Duration(n) * time.Millisecond
		}
	case "compression":
		cfg.Compression = value
	case "log_level":
		cfg.LogLevel = value
	case "log_json":
		cfg.LogJSON = value == "true" || value == "1"
	case "discovery_enabled":
		cfg.DiscoveryEnabled = value == "true" || value == "1"
	}
}

func splitNonEmpty(s, sep string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// LoadFromEnv overlays recognized environment variables onto the
// current configuration. Env values always win over file values.
func (m *Manager) LoadFromEnv() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if v, ok := os.LookupEnv(EnvNodeID); ok {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			m.cfg.NodeID = n
		}
	}
	if v, ok := os.LookupEnv(EnvBind); ok {
		m.cfg.Bind = v
	}
	if v, ok := os.LookupEnv(EnvCluster); ok {
		m.cfg.Cluster = splitNonEmpty(v, ",")
	}
	if v, ok := os.LookupEnv(EnvDataDir); ok {
		m.cfg.DataDir = v
	}
	if v, ok := os.LookupEnv(EnvStorage); ok {
		m.cfg.Storage = v
	}
	if v, ok := os.LookupEnv(EnvMaxClients); ok {
		if n, err := strconv.Atoi(v); err == nil {
			m.cfg.MaxClients = n
		}
	}
	if v, ok := os.LookupEnv(EnvHeartbeatInterval); ok {
		if n, err := strconv.Atoi(v); err == nil {
			m.cfg.HeartbeatInterval = time.Duration(n) * time.Millisecond
		}
	}
	if v, ok := os.LookupEnv(EnvElectionTimeoutMin); ok {
		if n, err := strconv.Atoi(v); err == nil {
			m.cfg.ElectionTimeoutMin = time.Duration(n) * time.Millisecond
		}
	}
	if v, ok := os.LookupEnv(EnvElectionTimeoutMax); ok {
		if n, err := strconv.Atoi(v); err == nil {
			m.cfg.ElectionTimeoutMax = time.Duration(n) * time.Millisecond
		}
	}
	if v, ok := os.LookupEnv(EnvCompression); ok {
		m.cfg.Compression = v
	}
	if v, ok := os.LookupEnv(EnvLogLevel); ok {
		m.cfg.LogLevel = v
	}
	if v, ok := os.LookupEnv(EnvLogJSON); ok {
		m.cfg.LogJSON = v == "true" || v == "1"
	}
	if v, ok := os.LookupEnv(EnvDiscoveryEnabled); ok {
		m.cfg.DiscoveryEnabled = v == "true" || v == "1"
	}
}

// OnReload registers a callback invoked after a successful Reload.
func (m *Manager) OnReload(fn func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReload = append(m.onReload, fn)
}

// Reload re-reads the config file last passed to LoadFromFile, if any.
func (m *Manager) Reload() error {
	m.mu.RLock()
	path := m.cfg.ConfigFile
	m.mu.RUnlock()
	if path == "" {
		return fmt.Errorf("config: no config file previously loaded")
	}
	if err := m.LoadFromFile(path); err != nil {
		return err
	}
	m.mu.RLock()
	cfg := m.cfg
	callbacks := append([]func(*Config){}, m.onReload...)
	m.mu.RUnlock()
	for _, cb := range callbacks {
		cb(cfg)
	}
	return nil
}

var (
	globalOnce sync.Once
	globalMgr  *Manager
)

// Global returns the process-wide configuration manager.
func Global() *Manager {
	globalOnce.Do(func() {
		globalMgr = NewManager()
	})
	return globalMgr
}
