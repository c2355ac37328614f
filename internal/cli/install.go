package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agentpack-labs/agentpack/internal/config"
	"github.com/agentpack-labs/agentpack/internal/installer"
	"github.com/agentpack-labs/agentpack/internal/resolver"
)

var (
	installTarget   string
	installRegistry string
	installForce    bool
	installWorkers  int
	installYes      bool
	installVars     []string
)

var installCmd = &cobra.Command{
	Use:   "install <name>[@constraint]...",
	Short: "Install components and their dependencies",
	Long: `Resolve the requested components against the registry, print the
install plan, and write each component's files into the target directory.
Dependencies are installed before their dependents. Template variables are
supplied per component with --set, e.g. --set my-agent.api_host=example.com.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runInstall,
}

func init() {
	installCmd.Flags().StringVarP(&installTarget, "target", "t", "", "Target directory (default from config)")
	installCmd.Flags().StringVar(&installRegistry, "registry", "", "Registry URL or local registry directory")
	installCmd.Flags().BoolVar(&installForce, "force", false, "Overwrite destination files that already exist")
	installCmd.Flags().IntVar(&installWorkers, "workers", 0, "Concurrent component installs (default from config)")
	installCmd.Flags().BoolVarP(&installYes, "yes", "y", false, "Skip confirmation prompt")
	installCmd.Flags().StringArrayVar(&installVars, "set", nil, "Template variable as <component>.<name>=<value> (repeatable)")
	rootCmd.AddCommand(installCmd)
}

func runInstall(cmd *cobra.Command, args []string) error {
	requests, err := parseRequests(args)
	if err != nil {
		return err
	}
	vars, err := parseVars(installVars)
	if err != nil {
		return err
	}

	target := installTarget
	if target == "" {
		target = config.Get(config.KeyTargetRoot)
	}
	workers := installWorkers
	if workers == 0 {
		workers = config.GetInt(config.KeyWorkers)
	}

	log := newLogger()
	client, err := newRegistryClient(installRegistry, log)
	if err != nil {
		return err
	}

	plan, err := resolver.New(client, log, workers).Resolve(cmd.Context(), requests)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	printPlan(out, plan)

	// Prompt for confirmation unless -y is set.
	if !installYes {
		fmt.Fprint(out, "? Proceed with installation? (Y/n) ")
		scanner := bufio.NewScanner(os.Stdin)
		if scanner.Scan() {
			answer := strings.TrimSpace(strings.ToLower(scanner.Text()))
			if answer != "" && answer != "y" && answer != "yes" {
				fmt.Fprintln(out, "Installation cancelled.")
				return nil
			}
		}
	}

	fmt.Fprintln(out, "Installing...")
	report, err := installer.New(client, log, workers).
		Install(cmd.Context(), plan, target, vars, installer.Policy{Force: installForce})
	if err != nil {
		return err
	}

	printReport(out, report)
	if n := report.Failed(); n > 0 {
		return fmt.Errorf("%d of %d components failed", n, len(report.Results))
	}
	return nil
}

// parseRequests turns "name" or "name@>=1.2.0" arguments into resolver
// requests. Constraint validity is checked by the resolver.
func parseRequests(args []string) ([]resolver.ComponentRequest, error) {
	requests := make([]resolver.ComponentRequest, 0, len(args))
	for _, arg := range args {
		name, constraintStr, _ := strings.Cut(arg, "@")
		if name == "" {
			return nil, fmt.Errorf("invalid component argument %q", arg)
		}
		requests = append(requests, resolver.ComponentRequest{
			Name:              name,
			VersionConstraint: constraintStr,
		})
	}
	return requests, nil
}

// parseVars turns repeated --set flags into per-component variable maps.
func parseVars(flags []string) (map[string]map[string]string, error) {
	if len(flags) == 0 {
		return nil, nil
	}
	vars := make(map[string]map[string]string)
	for _, f := range flags {
		key, value, ok := strings.Cut(f, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --set %q: expected <component>.<name>=<value>", f)
		}
		component, name, ok := strings.Cut(key, ".")
		if !ok || component == "" || name == "" {
			return nil, fmt.Errorf("invalid --set %q: expected <component>.<name>=<value>", f)
		}
		if vars[component] == nil {
			vars[component] = make(map[string]string)
		}
		vars[component][name] = value
	}
	return vars, nil
}

// printPlan lists the resolved components in install order.
func printPlan(w io.Writer, plan *resolver.Plan) {
	fmt.Fprintf(w, "Install plan (%d components):\n", len(plan.Components))
	for _, c := range plan.Components {
		suffix := ""
		if !c.RequestedDirectly {
			suffix = " (dependency)"
		}
		fmt.Fprintf(w, "  %s %s@%s%s\n", c.Manifest.ComponentType, c.Manifest.Name, c.Manifest.Version, suffix)
	}
}

// printReport prints per-component outcomes and a summary line.
func printReport(w io.Writer, report *installer.Report) {
	for _, res := range report.Results {
		switch res.Status {
		case installer.StatusInstalled:
			fmt.Fprintf(w, "  ✓ %s@%s (%d files)\n", res.Name, res.Version, len(res.Files))
			for _, warning := range res.Warnings {
				fmt.Fprintf(w, "    ⚠️  %s\n", warning)
			}
			if res.PostInstall != "" {
				fmt.Fprintf(w, "    %s\n", res.PostInstall)
			}
		case installer.StatusFailed:
			fmt.Fprintf(w, "  ✗ %s@%s: %v\n", res.Name, res.Version, res.Err)
		case installer.StatusSkipped:
			fmt.Fprintf(w, "  - %s@%s skipped: %s\n", res.Name, res.Version, res.SkippedBecause)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "✓ Installed %d components.", report.Installed())
	if n := report.Failed(); n > 0 {
		fmt.Fprintf(w, " %d failed.", n)
	}
	if n := report.Skipped(); n > 0 {
		fmt.Fprintf(w, " %d skipped.", n)
	}
	fmt.Fprintln(w)
}
