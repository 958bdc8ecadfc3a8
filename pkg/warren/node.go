package warren

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/dyluth/warren/internal/config"
)

const maxNodeNameLen = 128

func validateNodeName(name string) error {
	if len(name) > maxNodeNameLen {
		return fmt.Errorf("%w: name exceeds %d bytes", ErrInvalidNodeName, maxNodeNameLen)
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("%w: name is not valid UTF-8", ErrInvalidNodeName)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: name contains control characters", ErrInvalidNodeName)
		}
	}
	return nil
}

// NodeConfig configures a new node. The zero value gives an anonymous node
// with the built-in defaults.
type NodeConfig struct {
	// Name is an optional display name shown in listings. It does not need
	// to be unique.
	Name string
	// ConfigPath points at a warren config file. When empty, the well-known
	// locations are tried and the built-in defaults apply if none exists.
	ConfigPath string
	// RootPath overrides the configured root path. Tests use this to keep
	// each case in its own directory.
	RootPath string
}

// Node is the entry point into warren. Every service factory is built
// through a node; the node's id is stamped on each port so listings can say
// who opened what. A node owns no services itself and closing one only
// stops it from opening more.
type Node struct {
	id      uuid.UUID
	name    string
	cfg     *config.Config
	cfgPath string
	st      *storage
	closed  atomic.Bool
}

// NewNode creates a node.
func NewNode(nc NodeConfig) (*Node, error) {
	if err := validateNodeName(nc.Name); err != nil {
		return nil, err
	}
	path := nc.ConfigPath
	if path == "" {
		path = findConfigFile()
	}
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, err
	}
	if nc.RootPath != "" {
		cfg.Global.RootPath = nc.RootPath
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	loaded := ""
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			loaded = path
		}
	}
	return &Node{
		id:      uuid.New(),
		name:    nc.Name,
		cfg:     cfg,
		cfgPath: loaded,
		st:      newStorage(cfg),
	}, nil
}

// findConfigFile walks the well-known config locations and returns the first
// one that exists, or empty when none does.
func findConfigFile() string {
	var paths []string
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "warren", "config.yaml"))
	}
	paths = append(paths, filepath.Join("/etc", "warren", "config.yaml"))
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// ID returns the node's unique id.
func (n *Node) ID() string {
	return n.id.String()
}

// Name returns the display name, possibly empty.
func (n *Node) Name() string {
	return n.name
}

// ConfigPath returns the path of the config file this node loaded, or empty
// when the built-in defaults are in use.
func (n *Node) ConfigPath() string {
	return n.cfgPath
}

// ConfigYAML renders the node's effective configuration, after file loading
// and overrides, as YAML.
func (n *Node) ConfigYAML() ([]byte, error) {
	return yaml.Marshal(n.cfg)
}

// RootPath returns the storage root every service of this node lives under.
func (n *Node) RootPath() string {
	return n.cfg.Global.RootPath
}

// Close marks the node as closed. Factories and ports already built through
// it keep working; they carry their own references.
func (n *Node) Close() error {
	n.closed.Store(true)
	return nil
}

func (n *Node) guard() error {
	if n.closed.Load() {
		return fmt.Errorf("%w: node is closed", ErrPortClosed)
	}
	return nil
}

// Wait sleeps for one cycle. Event-driven processes use the listener waits
// instead; this is for polling loops that want a fixed cadence.
func (n *Node) Wait(cycle time.Duration) {
	time.Sleep(cycle)
}

// WaitWithContext sleeps for one cycle or until the context ends, whichever
// comes first. It returns the context's error when the context ended.
func (n *Node) WaitWithContext(ctx context.Context, cycle time.Duration) error {
	t := time.NewTimer(cycle)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
