package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentpack-labs/agentpack/internal/config"
	"github.com/agentpack-labs/agentpack/internal/installer"
)

var (
	listTarget string
	listJSON   bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List components installed in the target directory",
	Long:  `Read the install ledger under the target directory and list every recorded component.`,
	RunE:  runList,
}

func init() {
	listCmd.Flags().StringVarP(&listTarget, "target", "t", "", "Target directory (default from config)")
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Output in JSON format")
	rootCmd.AddCommand(listCmd)
}

// listEntry represents one ledger record for display.
type listEntry struct {
	Name        string    `json:"name"`
	Version     string    `json:"version"`
	Files       int       `json:"files"`
	InstalledAt time.Time `json:"installedAt"`
	Direct      bool      `json:"requestedDirectly"`
}

func runList(cmd *cobra.Command, args []string) error {
	target := listTarget
	if target == "" {
		target = config.Get(config.KeyTargetRoot)
	}

	ledger, err := installer.OpenLedger(target)
	if err != nil {
		return fmt.Errorf("reading ledger: %w", err)
	}

	records := ledger.Entries()
	if len(records) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No components installed yet.")
		return nil
	}

	entries := make([]listEntry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, listEntry{
			Name:        rec.Name,
			Version:     rec.Version,
			Files:       len(rec.Files),
			InstalledAt: rec.InstalledAt,
			Direct:      rec.RequestedDirectly,
		})
	}

	if listJSON {
		return printListJSON(cmd, entries)
	}
	return printListTable(cmd, entries)
}

func printListTable(cmd *cobra.Command, entries []listEntry) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "NAME\tVERSION\tFILES\tINSTALLED")
	for _, e := range entries {
		installed := e.InstalledAt.Local().Format("2006-01-02 15:04")
		name := e.Name
		if !e.Direct {
			name += " (dep)"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", name, e.Version, e.Files, installed)
	}
	return w.Flush()
}

func printListJSON(cmd *cobra.Command, entries []listEntry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}
