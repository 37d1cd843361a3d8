package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/omnitak/pluginhost/internal/config"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	platform   string
	logLevel   string
}

func newRootCommand(version, commit, date string) *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "omnitak-plugin",
		Short: "Validate, inspect and run OmniTAK plugins",
		Long: `omnitak-plugin checks OmniTAK plugin packages the way the host does
before loading them, and runs a plugin directory against an in-memory host
for development.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", config.DefaultPath(), "Path to host configuration file")
	pf.StringVarP(&flags.platform, "platform", "p", "", "Host platform (ios, android); overrides config")
	pf.StringVar(&flags.logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides config")

	rootCmd.AddCommand(
		newValidateCommand(flags),
		newInspectCommand(flags),
		newListCommand(flags),
		newCompareCommand(),
		newPermissionsCommand(),
		newRunCommand(flags),
		newConfigCommand(flags),
	)

	return rootCmd
}

// loadConfig loads the host configuration and applies flag overrides.
func (f *globalFlags) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if f.platform != "" {
		cfg.Platform = f.platform
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
