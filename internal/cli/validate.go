package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentpack-labs/agentpack/internal/manifest"
)

var validateCmd = &cobra.Command{
	Use:   "validate <manifest.json>...",
	Short: "Validate component manifest files",
	Long: `Check each manifest file against the manifest schema, then apply the
semantic checks (version and constraint syntax, file mapping paths). Schema
validation reports every structural problem at once.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	failed := 0

	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(out, "✗ %s: %v\n", path, err)
			failed++
			continue
		}

		result, err := manifest.ValidateSchema(data)
		if err != nil {
			fmt.Fprintf(out, "✗ %s: %v\n", path, err)
			failed++
			continue
		}
		if !result.Valid {
			fmt.Fprintf(out, "✗ %s: %d schema issues\n", path, len(result.Issues))
			for _, issue := range result.Issues {
				loc := issue.Path
				if loc == "" {
					loc = "/"
				}
				fmt.Fprintf(out, "    %s: %s\n", loc, issue.Message)
			}
			failed++
			continue
		}

		m, err := manifest.Load(data)
		if err != nil {
			var merr *manifest.Error
			if errors.As(err, &merr) {
				fmt.Fprintf(out, "✗ %s: field %s: %s\n", path, merr.Field, merr.Msg)
			} else {
				fmt.Fprintf(out, "✗ %s: %v\n", path, err)
			}
			failed++
			continue
		}

		fmt.Fprintf(out, "✓ %s: %s %s\n", path, m.ComponentType, m.ID())
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d manifests invalid", failed, len(args))
	}
	return nil
}
