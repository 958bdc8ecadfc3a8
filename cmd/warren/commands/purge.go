package commands

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dyluth/warren/internal/printer"
	"github.com/dyluth/warren/internal/resolver"
	"github.com/dyluth/warren/pkg/warren"
)

var (
	purgeForce bool
	purgeYes   bool
)

var purgeCmd = &cobra.Command{
	Use:   "purge [SERVICE_ID]",
	Short: "Remove leftover service files",
	Long: `Remove the files of services that are beyond use: corrupted
descriptors, descriptors whose reference count reached zero without
cleanup, and segments abandoned by a creator that died before
publishing.

With a SERVICE_ID (short IDs supported), purges exactly that service
whatever its state. With --force, purges every service under the root,
live ones included.

Purging never touches the memory of attached processes: anyone already
attached keeps working on the mapped segment and only notices when
they resolve the name again.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPurge,
}

func init() {
	purgeCmd.Flags().BoolVar(&purgeForce, "force", false, "Purge every service, not just leftovers")
	purgeCmd.Flags().BoolVar(&purgeYes, "yes", false, "Skip the confirmation prompt")
	rootCmd.AddCommand(purgeCmd)
}

// purgeTarget pairs a service id with the reason it was selected.
type purgeTarget struct {
	id     string
	reason string
}

func runPurge(cmd *cobra.Command, args []string) error {
	node, err := newNode()
	if err != nil {
		return err
	}
	defer node.Close()

	var targets []purgeTarget
	if len(args) > 0 {
		targets, err = resolvePurgeTarget(node, args[0])
	} else {
		targets, err = findLeftovers(node, purgeForce)
	}
	if err != nil {
		return err
	}

	if len(targets) == 0 {
		printer.Info("Nothing to purge.\n")
		return nil
	}

	fmt.Printf("About to remove %d service(s):\n", len(targets))
	for _, t := range targets {
		fmt.Printf("  %s  (%s)\n", t.id, t.reason)
	}
	fmt.Println()

	if !purgeYes && !confirm(fmt.Sprintf("Remove %d service(s)?", len(targets))) {
		printer.Info("Aborted.\n")
		return nil
	}

	var failed int
	for _, t := range targets {
		if err := warren.PurgeService(node, t.id); err != nil {
			printer.Warning("Failed to purge %s: %v\n", t.id, err)
			failed++
			continue
		}
		printer.Step("Removed %s\n", t.id)
	}
	if failed > 0 {
		return fmt.Errorf("failed to purge %d of %d service(s)", failed, len(targets))
	}
	printer.Success("Purged %d service(s).\n", len(targets))
	return nil
}

// resolvePurgeTarget matches a user-supplied id prefix against descriptors
// and abandoned segments alike, so leftovers without a descriptor can still
// be purged by id.
func resolvePurgeTarget(node *warren.Node, prefix string) ([]purgeTarget, error) {
	ids, err := serviceIDs(node)
	if err != nil {
		return nil, fmt.Errorf("failed to list services: %w", err)
	}
	orphans, err := warren.OrphanedSegments(node)
	if err != nil {
		return nil, fmt.Errorf("failed to scan segments: %w", err)
	}
	ids = append(ids, orphans...)

	fullID, err := resolver.ResolveServiceID(ids, prefix)
	if err != nil {
		if resolver.IsNotFoundError(err) {
			return nil, printer.Error(
				fmt.Sprintf("service with ID '%s' not found", prefix),
				"No published service matches that id.",
				[]string{"List all services:\n  warren list"},
			)
		}
		if resolver.IsAmbiguousError(err) {
			ambigErr := err.(*resolver.AmbiguousError)
			fmt.Fprintln(os.Stderr, resolver.FormatAmbiguousError(ambigErr))
			return nil, fmt.Errorf("ambiguous service ID")
		}
		return nil, fmt.Errorf("failed to resolve service ID: %w", err)
	}
	return []purgeTarget{{id: fullID, reason: "selected by id"}}, nil
}

// findLeftovers scans the root for services that are beyond use. With
// everything set, every service is selected regardless of state.
func findLeftovers(node *warren.Node, everything bool) ([]purgeTarget, error) {
	var details []warren.ServiceDetails
	err := warren.ListServices(node, func(d warren.ServiceDetails) bool {
		details = append(details, d)
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list services: %w", err)
	}

	var targets []purgeTarget
	for _, d := range details {
		switch {
		case everything:
			targets = append(targets, purgeTarget{id: d.ID, reason: "selected by --force"})
		case d.Static.Corrupted:
			targets = append(targets, purgeTarget{id: d.ID, reason: "corrupted descriptor"})
		default:
			state, err := warren.InspectService(node, d.ID)
			if err != nil {
				continue
			}
			if state.Segment == nil {
				targets = append(targets, purgeTarget{id: d.ID, reason: "segment missing or unreadable"})
			} else if state.Segment.References == 0 {
				targets = append(targets, purgeTarget{id: d.ID, reason: "no references left"})
			}
		}
	}

	orphans, err := warren.OrphanedSegments(node)
	if err != nil {
		return nil, fmt.Errorf("failed to scan segments: %w", err)
	}
	for _, id := range orphans {
		targets = append(targets, purgeTarget{id: id, reason: "abandoned segment without descriptor"})
	}

	sort.Slice(targets, func(i, j int) bool { return targets[i].id < targets[j].id })
	return targets, nil
}

// confirm prompts on stdout and reads a y/N answer from stdin.
func confirm(question string) bool {
	fmt.Printf("%s [y/N]: ", question)
	answer, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}
