package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/omnitak/pluginhost/internal/config"
	"github.com/omnitak/pluginhost/internal/plugin/security"
	pluginversion "github.com/omnitak/pluginhost/internal/plugin/version"
)

func newCompareCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "compare <version-a> <version-b>",
		Short: "Compare two plugin versions",
		Long: `Compare orders two versions the way the host orders plugin upgrades.
A prerelease sorts before its release.`,
		Example: `  omnitak-plugin compare 1.2.0 1.10.0
  omnitak-plugin compare 2.0.0-beta 2.0.0`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompare(cmd.OutOrStdout(), args[0], args[1])
		},
	}
}

func runCompare(out io.Writer, a, b string) error {
	va, err := pluginversion.Parse(a)
	if err != nil {
		return err
	}
	vb, err := pluginversion.Parse(b)
	if err != nil {
		return err
	}

	op := "="
	switch pluginversion.Compare(va, vb) {
	case -1:
		op = "<"
	case 1:
		op = ">"
	}
	fmt.Fprintf(out, "%s %s %s\n", va, op, vb)
	return nil
}

func newPermissionsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "permissions",
		Short: "List the permissions a manifest may declare",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printPermissions(cmd.OutOrStdout())
		},
	}
}

func printPermissions(out io.Writer) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PERMISSION\tACCESS\tRISK\tDESCRIPTION")
	for _, p := range security.All() {
		info, _ := p.Info()
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", info.Name, info.Access, info.RiskLevel, info.Description)
	}
	return w.Flush()
}

func newConfigCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "config [key]",
		Short: "Print the effective host configuration",
		Long: `Config prints the configuration after defaults, the config file and
OMNITAK_* environment overrides are merged. Given a dot-separated key it
prints only that value.`,
		Example: `  omnitak-plugin config
  omnitak-plugin config network.timeout`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			if len(args) == 1 {
				return printConfigKey(cmd.OutOrStdout(), cfg, args[0])
			}
			data, err := cfg.Encode()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func printConfigKey(out io.Writer, cfg *config.Config, key string) error {
	v, ok := cfg.Get(key)
	if !ok {
		return fmt.Errorf("unknown config key %q", key)
	}
	if table, ok := v.(map[string]any); ok {
		data, err := toml.Marshal(table)
		if err != nil {
			return err
		}
		_, err = out.Write(data)
		return err
	}
	fmt.Fprintln(out, v)
	return nil
}
