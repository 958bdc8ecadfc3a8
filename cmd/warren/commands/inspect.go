package commands

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dyluth/warren/internal/printer"
	"github.com/dyluth/warren/internal/resolver"
	"github.com/dyluth/warren/pkg/warren"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect SERVICE_ID",
	Short: "Show the static and live state of one service",
	Long: `Show everything known about a single service: the descriptor as
published and, when the backing segment is readable, its live side
(reference count, attached nodes and ports).

Supports short IDs (e.g., "8a8f33" instead of the full UUID).

Inspection never attaches to the service. The snapshot can be stale by
the time it prints, and taking it does not keep the service alive.`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}

func runInspect(cmd *cobra.Command, args []string) error {
	node, err := newNode()
	if err != nil {
		return err
	}
	defer node.Close()

	ids, err := serviceIDs(node)
	if err != nil {
		return fmt.Errorf("failed to list services: %w", err)
	}

	fullID, err := resolver.ResolveServiceID(ids, args[0])
	if err != nil {
		if resolver.IsNotFoundError(err) {
			return printer.Error(
				fmt.Sprintf("service with ID '%s' not found", args[0]),
				"No published service matches that id.",
				[]string{"List all services:\n  warren list"},
			)
		}
		if resolver.IsAmbiguousError(err) {
			ambigErr := err.(*resolver.AmbiguousError)
			fmt.Fprintln(os.Stderr, resolver.FormatAmbiguousError(ambigErr))
			return fmt.Errorf("ambiguous service ID")
		}
		return fmt.Errorf("failed to resolve service ID: %w", err)
	}

	state, err := warren.InspectService(node, fullID)
	if err != nil {
		return fmt.Errorf("failed to inspect service: %w", err)
	}

	printServiceState(state)
	return nil
}

func printServiceState(state *warren.ServiceState) {
	fmt.Printf("Descriptor: %s\n", state.DescriptorPath)
	fmt.Printf("Segment:    %s\n", state.SegmentPath)
	fmt.Println()

	if state.Static.Corrupted {
		printer.Warning("The descriptor is corrupted; the service name stays unusable until purged.\n")
		fmt.Printf("\nReclaim it with:\n  warren purge %s\n", state.Static.ServiceID)
		return
	}

	data, err := yaml.Marshal(state.Static)
	if err != nil {
		fmt.Printf("failed to render descriptor: %v\n", err)
	} else {
		fmt.Print(string(data))
	}
	fmt.Println()

	if state.Segment == nil {
		fmt.Println("Live state: segment missing or unreadable (mid-creation or mid-teardown).")
		return
	}

	fmt.Println("Live state:")
	fmt.Printf("  references:  %d\n", state.Segment.References)
	fmt.Printf("  nodes:       %d\n", state.Segment.Nodes)
	roles := make([]string, 0, len(state.Segment.Ports))
	for r := range state.Segment.Ports {
		roles = append(roles, r)
	}
	sort.Strings(roles)
	for _, r := range roles {
		fmt.Printf("  %-12s %d\n", r+":", state.Segment.Ports[r])
	}
	fmt.Printf("  segment:     %d bytes\n", state.Segment.Size)
}
