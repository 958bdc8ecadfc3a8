package testutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dyluth/warren/pkg/warren"
)

// Environment is an isolated warren root for CLI and integration tests.
// Every test gets its own directory, so tests cannot see each other's
// services and parallel runs do not collide.
type Environment struct {
	T    *testing.T
	Root string
	Node *warren.Node
}

// Setup creates an isolated environment backed by a temp directory. The
// node and every service created through the helpers are cleaned up with
// the test.
func Setup(t *testing.T) *Environment {
	t.Helper()
	root := t.TempDir()
	node, err := warren.NewNode(warren.NodeConfig{Name: "test-env", RootPath: root})
	require.NoError(t, err, "Failed to create test node")
	t.Cleanup(func() { node.Close() })
	return &Environment{T: t, Root: root, Node: node}
}

// NewEventService creates an event service that lives for the rest of the
// test.
func (env *Environment) NewEventService(name string) *warren.EventFactory {
	env.T.Helper()
	svc, err := warren.NewEventBuilder(env.Node, name).Create()
	require.NoError(env.T, err, "Failed to create event service %s", name)
	env.T.Cleanup(func() { svc.Close() })
	return svc
}

// NewPubSubService creates a publish-subscribe service with a uint64
// payload that lives for the rest of the test.
func (env *Environment) NewPubSubService(name string) *warren.PublishSubscribeFactory[uint64] {
	env.T.Helper()
	svc, err := warren.NewPublishSubscribeBuilder[uint64](env.Node, name).Create()
	require.NoError(env.T, err, "Failed to create publish-subscribe service %s", name)
	env.T.Cleanup(func() { svc.Close() })
	return svc
}

// ServiceIDs returns the ids of every service currently published under the
// environment's root.
func (env *Environment) ServiceIDs() []string {
	env.T.Helper()
	var ids []string
	err := warren.ListServices(env.Node, func(d warren.ServiceDetails) bool {
		ids = append(ids, d.ID)
		return true
	})
	require.NoError(env.T, err, "Failed to list services")
	return ids
}

// CorruptDescriptor overwrites a service's descriptor with bytes that do not
// parse, simulating a torn or tampered file.
func (env *Environment) CorruptDescriptor(serviceID string) {
	env.T.Helper()
	path := filepath.Join(env.Root, "services", "warren_"+serviceID+".service")
	require.NoError(env.T, os.WriteFile(path, []byte("{not yaml"), 0o644),
		"Failed to corrupt descriptor for %s", serviceID)
}

// OrphanSegment plants a segment file with no descriptor, aged past any
// creation timeout, as a crashed creator would leave behind.
func (env *Environment) OrphanSegment(serviceID string) {
	env.T.Helper()
	dir := filepath.Join(env.Root, "shm")
	require.NoError(env.T, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, "warren_"+serviceID+".store")
	require.NoError(env.T, os.WriteFile(path, make([]byte, 4096), 0o644),
		"Failed to plant orphan segment for %s", serviceID)
	old := time.Now().Add(-time.Hour)
	require.NoError(env.T, os.Chtimes(path, old, old))
}
