// Package membership loads the static cluster topology every replica
// and client needs: which node ids exist, their dial addresses, and
// where their Ed25519 keys live on disk. It replaces the original
// implementation's hardcoded four-address vector (C9) with an
// external YAML file, while preserving that same default four-node
// loopback layout as the supplied example config.
package membership

import (
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// NodeConfig describes one cluster member.
type NodeConfig struct {
	ID   uint32 `yaml:"id"`
	Addr string `yaml:"addr"`
}

// ClusterConfig is the full static membership list plus the directory
// holding every node's Ed25519 key pair (see signer.KeyPaths).
// ClientIDs lists the client identities every replica must trust for
// signature verification on inbound Requests; it is disjoint from the
// replica node id space.
type ClusterConfig struct {
	Nodes     []NodeConfig `yaml:"nodes"`
	KeysDir   string       `yaml:"keys_dir"`
	ClientIDs []uint64     `yaml:"client_ids"`
}

// Load reads and validates a ClusterConfig from a YAML file.
func Load(path string) (ClusterConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ClusterConfig{}, fmt.Errorf("membership: read %s: %w", path, err)
	}

	var cfg ClusterConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return ClusterConfig{}, fmt.Errorf("membership: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return ClusterConfig{}, err
	}
	return cfg, nil
}

// Validate checks that node ids are dense (0..N-1, per the seq-number
// and primary-rotation arithmetic in package replica) and unique, and
// that a keys directory was supplied.
func (c ClusterConfig) Validate() error {
	if c.KeysDir == "" {
		return fmt.Errorf("membership: keys_dir is required")
	}
	if len(c.Nodes) < 4 {
		return fmt.Errorf("membership: need at least 4 nodes, got %d", len(c.Nodes))
	}
	seen := make(map[uint32]bool, len(c.Nodes))
	for _, n := range c.Nodes {
		if n.Addr == "" {
			return fmt.Errorf("membership: node %d has no addr", n.ID)
		}
		if n.ID >= uint32(len(c.Nodes)) {
			return fmt.Errorf("membership: node id %d out of range [0,%d)", n.ID, len(c.Nodes))
		}
		if seen[n.ID] {
			return fmt.Errorf("membership: duplicate node id %d", n.ID)
		}
		seen[n.ID] = true
	}
	return nil
}

// N returns the cluster size.
func (c ClusterConfig) N() int { return len(c.Nodes) }

// PeerAddrs returns every node's dial address except self.
func (c ClusterConfig) PeerAddrs(self uint32) map[uint32]string {
	peers := make(map[uint32]string, len(c.Nodes)-1)
	for _, n := range c.Nodes {
		if n.ID == self {
			continue
		}
		peers[n.ID] = n.Addr
	}
	return peers
}

// Addr returns the bind/dial address of the given node id.
func (c ClusterConfig) Addr(id uint32) (string, bool) {
	for _, n := range c.Nodes {
		if n.ID == id {
			return n.Addr, true
		}
	}
	return "", false
}

// AllIDs returns every node id in the cluster, in ascending order.
func (c ClusterConfig) AllIDs() []uint32 {
	ids := make([]uint32, len(c.Nodes))
	for i, n := range c.Nodes {
		ids[i] = n.ID
	}
	slices.Sort(ids)
	return ids
}

// AllSignerIDs returns every node id and client id, as the uint64
// signer-id space the peer key map must cover.
func (c ClusterConfig) AllSignerIDs() []uint64 {
	ids := make([]uint64, 0, len(c.Nodes)+len(c.ClientIDs))
	for _, n := range c.Nodes {
		ids = append(ids, uint64(n.ID))
	}
	ids = append(ids, c.ClientIDs...)
	return ids
}

// DefaultLoopback returns the four-node, localhost-ports 5000-5003
// layout the original hardcoded config used, rooted at keysDir, with
// one default client identity.
func DefaultLoopback(keysDir string) ClusterConfig {
	return ClusterConfig{
		KeysDir: keysDir,
		Nodes: []NodeConfig{
			{ID: 0, Addr: "127.0.0.1:5000"},
			{ID: 1, Addr: "127.0.0.1:5001"},
			{ID: 2, Addr: "127.0.0.1:5002"},
			{ID: 3, Addr: "127.0.0.1:5003"},
		},
		ClientIDs: []uint64{1000},
	}
}
