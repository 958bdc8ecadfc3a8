package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/warren/internal/testutil"
	"github.com/dyluth/warren/pkg/warren"
)

func TestRunInspect(t *testing.T) {
	env := testutil.Setup(t)
	withRoot(t, env.Root)

	svc := env.NewEventService("alerts")

	t.Run("full id", func(t *testing.T) {
		require.NoError(t, runInspect(inspectCmd, []string{svc.ID()}))
	})

	t.Run("short id", func(t *testing.T) {
		require.NoError(t, runInspect(inspectCmd, []string{svc.ID()[:8]}))
	})

	t.Run("unknown id", func(t *testing.T) {
		assert.Error(t, runInspect(inspectCmd, []string{"ffffff"}))
	})

	t.Run("prefix too short", func(t *testing.T) {
		assert.Error(t, runInspect(inspectCmd, []string{"ff"}))
	})
}

func TestRunInspectCorrupted(t *testing.T) {
	env := testutil.Setup(t)
	withRoot(t, env.Root)

	svc := env.NewEventService("sick")
	env.CorruptDescriptor(svc.ID())

	require.NoError(t, runInspect(inspectCmd, []string{svc.ID()}),
		"a corrupted service still inspects")
}

func TestPrintServiceState(t *testing.T) {
	// These print to stdout, so we just verify they don't panic
	t.Run("live service", func(t *testing.T) {
		assert.NotPanics(t, func() {
			printServiceState(&warren.ServiceState{
				Static: &warren.StaticConfig{
					Name:      "alerts",
					ServiceID: "11111111-2222-4333-8444-555555555555",
					Pattern:   warren.MessagingPatternEvent,
				},
				DescriptorPath: "/run/warren/services/warren_1111.service",
				SegmentPath:    "/run/warren/shm/warren_1111.store",
				Segment: &warren.SegmentState{
					References: 2,
					Nodes:      1,
					Ports:      map[string]int{"listeners": 1, "notifiers": 0},
					Size:       4096,
				},
			})
		})
	})

	t.Run("segment missing", func(t *testing.T) {
		assert.NotPanics(t, func() {
			printServiceState(&warren.ServiceState{
				Static: &warren.StaticConfig{
					Name:      "alerts",
					ServiceID: "11111111-2222-4333-8444-555555555555",
					Pattern:   warren.MessagingPatternEvent,
				},
			})
		})
	})

	t.Run("corrupted", func(t *testing.T) {
		assert.NotPanics(t, func() {
			printServiceState(&warren.ServiceState{
				Static: &warren.StaticConfig{
					ServiceID: "11111111-2222-4333-8444-555555555555",
					Corrupted: true,
				},
			})
		})
	})
}
