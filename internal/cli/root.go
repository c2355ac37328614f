package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/agentpack-labs/agentpack/internal/branding"
	"github.com/agentpack-labs/agentpack/internal/config"
	"github.com/agentpack-labs/agentpack/internal/logger"
	"github.com/agentpack-labs/agentpack/internal/registry"
)

var (
	buildVersion string
	buildCommit  string
	buildDate    string
)

var rootCmd = &cobra.Command{
	Use:   branding.CLIName(),
	Short: branding.Description(),
	Long: branding.DisplayName() + ` installs reusable AI component bundles (agents, tools,
prompt templates) into a project, resolving dependencies and rendering
template-parameterized files along the way.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		config.Load()
	},
}

// Execute runs the root command with build info injected via ldflags.
func Execute(version, commit, date string) error {
	buildVersion = version
	buildCommit = commit
	buildDate = date
	return rootCmd.Execute()
}

// newLogger builds the command logger from loaded configuration.
func newLogger() zerolog.Logger {
	return logger.New(os.Stderr, logger.Config{
		Level:  config.Get(config.KeyLogLevel),
		Pretty: config.GetBool(config.KeyLogPretty),
	})
}

// newRegistryClient picks the client by URL shape: http(s) URLs get the
// retrying HTTP client, anything else is treated as a local registry
// directory. Manifest lookups are memoized for the life of the command.
func newRegistryClient(registryURL string, log zerolog.Logger) (registry.Client, error) {
	if registryURL == "" {
		registryURL = config.Get(config.KeyRegistryURL)
	}

	var inner registry.Client
	if strings.HasPrefix(registryURL, "http://") || strings.HasPrefix(registryURL, "https://") {
		hc, err := registry.NewHTTPClient(registryURL, log)
		if err != nil {
			return nil, err
		}
		inner = hc
	} else {
		info, err := os.Stat(registryURL)
		if err != nil || !info.IsDir() {
			return nil, fmt.Errorf("registry %q is neither an http(s) URL nor a directory", registryURL)
		}
		inner = registry.NewDirClient(registryURL)
	}

	return registry.NewCachingClient(inner, 0), nil
}
