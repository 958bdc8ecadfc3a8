package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/dyluth/warren/pkg/warren"
)

var (
	listJSON bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all published services",
	Long: `List all services published under the storage root.

For each service, displays:
  • Service name
  • Messaging pattern
  • Service id
  • Age since creation

Corrupted services are listed too; they hold their name until purged.

Use --json for machine-readable output.`,
	RunE: runList,
}

func init() {
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Output in JSON format")
	rootCmd.AddCommand(listCmd)
}

// serviceEntry is the JSON shape of one listed service.
type serviceEntry struct {
	Name      string `json:"name,omitempty"`
	Pattern   string `json:"messaging_pattern,omitempty"`
	ID        string `json:"service_id"`
	CreatedAt string `json:"created_at,omitempty"`
	Corrupted bool   `json:"corrupted,omitempty"`

	createdAt time.Time
}

func runList(cmd *cobra.Command, args []string) error {
	node, err := newNode()
	if err != nil {
		return err
	}
	defer node.Close()

	var entries []serviceEntry
	err = warren.ListServices(node, func(d warren.ServiceDetails) bool {
		e := serviceEntry{
			Name:      d.Name,
			Pattern:   string(d.Pattern),
			ID:        d.ID,
			Corrupted: d.Static.Corrupted,
			createdAt: d.Static.CreatedAt,
		}
		if !e.createdAt.IsZero() {
			e.CreatedAt = e.createdAt.UTC().Format(time.RFC3339)
		}
		entries = append(entries, e)
		return true
	})
	if err != nil {
		return fmt.Errorf("failed to list services: %w", err)
	}

	// Sort by name, corrupted entries last
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Corrupted != entries[j].Corrupted {
			return !entries[i].Corrupted
		}
		if entries[i].Name != entries[j].Name {
			return entries[i].Name < entries[j].Name
		}
		return entries[i].ID < entries[j].ID
	})

	if len(entries) == 0 {
		if !listJSON {
			fmt.Println("No services found.")
		} else {
			fmt.Println("[]")
		}
		return nil
	}

	if listJSON {
		return outputJSON(entries)
	}
	return outputTable(entries)
}

func outputJSON(entries []serviceEntry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func outputTable(entries []serviceEntry) error {
	table := tablewriter.NewTable(os.Stdout)
	table.Header([]string{"NAME", "PATTERN", "SERVICE ID", "AGE"})

	for _, e := range entries {
		name := e.Name
		pattern := e.Pattern
		age := "-"
		if e.Corrupted {
			name = "(corrupted)"
			pattern = "-"
		} else if !e.createdAt.IsZero() {
			age = formatAge(time.Since(e.createdAt))
		}
		if err := table.Append([]string{name, pattern, e.ID, age}); err != nil {
			return err
		}
	}

	return table.Render()
}

func formatAge(d time.Duration) string {
	d = d.Round(time.Second)

	hours := d / time.Hour
	d -= hours * time.Hour

	minutes := d / time.Minute
	d -= minutes * time.Minute

	seconds := d / time.Second

	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	} else if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
