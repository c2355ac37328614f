package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentpack-labs/agentpack/internal/config"
	"github.com/agentpack-labs/agentpack/internal/resolver"
)

var (
	planRegistry string
	planJSON     bool
)

var planCmd = &cobra.Command{
	Use:   "plan <name>[@constraint]...",
	Short: "Resolve components and print the install plan without installing",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runPlan,
}

func init() {
	planCmd.Flags().StringVar(&planRegistry, "registry", "", "Registry URL or local registry directory")
	planCmd.Flags().BoolVar(&planJSON, "json", false, "Output in JSON format")
	rootCmd.AddCommand(planCmd)
}

// planEntry represents one resolved component for display.
type planEntry struct {
	Name              string `json:"name"`
	Version           string `json:"version"`
	ComponentType     string `json:"componentType"`
	RequestedDirectly bool   `json:"requestedDirectly"`
}

func runPlan(cmd *cobra.Command, args []string) error {
	requests, err := parseRequests(args)
	if err != nil {
		return err
	}

	log := newLogger()
	client, err := newRegistryClient(planRegistry, log)
	if err != nil {
		return err
	}

	workers := config.GetInt(config.KeyWorkers)
	plan, err := resolver.New(client, log, workers).Resolve(cmd.Context(), requests)
	if err != nil {
		return err
	}

	if planJSON {
		entries := make([]planEntry, 0, len(plan.Components))
		for _, c := range plan.Components {
			entries = append(entries, planEntry{
				Name:              c.Manifest.Name,
				Version:           c.Manifest.Version,
				ComponentType:     string(c.Manifest.ComponentType),
				RequestedDirectly: c.RequestedDirectly,
			})
		}
		data, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return err
	}

	printPlan(cmd.OutOrStdout(), plan)
	return nil
}
