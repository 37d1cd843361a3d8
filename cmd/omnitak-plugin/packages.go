package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/omnitak/pluginhost/internal/plugin"
	"github.com/omnitak/pluginhost/internal/plugin/security"
	pluginversion "github.com/omnitak/pluginhost/internal/plugin/version"
)

func newValidateCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <package-dir>...",
		Short: "Validate plugin packages",
		Long: `Validate checks each package the way the host does before loading it:
the manifest must carry every required field and pass validation for the
host platform, the host must satisfy omnitak_version, and a script entry
point must exist inside the package.`,
		Example: `  # Validate one package for the configured platform
  omnitak-plugin validate ./plugins/weather

  # Validate several packages for Android
  omnitak-plugin validate -p android ./plugins/*`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			return runValidate(cmd.OutOrStdout(), args, cfg.Platform, cfg.ParsedHostVersion())
		},
	}
}

func runValidate(out io.Writer, dirs []string, platform string, host pluginversion.Version) error {
	var failed []error
	for _, dir := range dirs {
		m, err := plugin.ValidatePackage(dir, platform)
		if err == nil {
			err = m.CheckHostCompatibility(host)
		}
		if err != nil {
			fmt.Fprintf(out, "FAIL %s: %v\n", dir, err)
			failed = append(failed, fmt.Errorf("%s: %w", dir, err))
			continue
		}
		fmt.Fprintf(out, "ok   %s %s (%s)\n", m.ID, m.Version, dir)
		if review := highRisk(m); len(review) > 0 {
			fmt.Fprintf(out, "     review: %s\n", strings.Join(review, ", "))
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d of %d packages invalid: %w", len(failed), len(dirs), errors.Join(failed...))
	}
	return nil
}

// highRisk returns the manifest's permissions an operator should review.
func highRisk(m *plugin.Manifest) []string {
	var names []string
	for _, p := range security.HighRisk() {
		if slices.Contains(m.Permissions, p.String()) {
			names = append(names, p.String())
		}
	}
	return names
}

func newInspectCommand(flags *globalFlags) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "inspect <package-dir>",
		Short: "Show a package manifest",
		Long: `Inspect prints the manifest of a package with its permissions
annotated by risk. Use --output to print it as JSON or YAML instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := plugin.LoadManifestFromDir(args[0])
			if err != nil {
				return err
			}
			return printManifest(cmd.OutOrStdout(), m, format)
		},
	}

	cmd.Flags().StringVarP(&format, "output", "o", "text", "Output format (text, json, yaml)")
	return cmd
}

func printManifest(out io.Writer, m *plugin.Manifest, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(m)
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(m)
	case "text":
	default:
		return fmt.Errorf("unknown output format %q", format)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID:\t%s\n", m.ID)
	fmt.Fprintf(w, "Name:\t%s\n", m.Name)
	fmt.Fprintf(w, "Version:\t%s\n", m.Version)
	fmt.Fprintf(w, "Type:\t%s\n", m.Type)
	fmt.Fprintf(w, "Author:\t%s\n", m.Author)
	fmt.Fprintf(w, "License:\t%s\n", m.License)
	fmt.Fprintf(w, "Requires:\t%s\n", m.OmniTAKVersion)
	fmt.Fprintf(w, "Platforms:\t%s\n", strings.Join(m.SortedPlatforms(), ", "))

	platforms := make([]string, 0, len(m.EntryPoints))
	for p := range m.EntryPoints {
		platforms = append(platforms, p)
	}
	sort.Strings(platforms)
	for _, p := range platforms {
		fmt.Fprintf(w, "Entry (%s):\t%s\n", p, m.EntryPoints[p])
	}
	if len(m.Dependencies) > 0 {
		fmt.Fprintf(w, "Depends on:\t%s\n", strings.Join(m.Dependencies, ", "))
	}

	fmt.Fprintln(w, "Permissions:")
	for _, name := range m.Permissions {
		p, ok := security.ParsePermission(name)
		if !ok {
			fmt.Fprintf(w, "  %s\t(unknown)\n", name)
			continue
		}
		info, _ := p.Info()
		fmt.Fprintf(w, "  %s\t%s risk\t%s\n", name, info.RiskLevel, info.Description)
	}
	return w.Flush()
}

func newListCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List packages in the plugin search paths",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			loader := plugin.NewLoader(plugin.WithPaths(cfg.PluginPaths...))
			pkgs, err := loader.Discover()
			if err != nil {
				return err
			}
			return printPackages(cmd.OutOrStdout(), pkgs, cfg.Platform)
		},
	}
}

func printPackages(out io.Writer, pkgs []*plugin.PackageInfo, platform string) error {
	if len(pkgs) == 0 {
		fmt.Fprintln(out, "No plugin packages found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tVERSION\tSTATUS\tPATH")
	for _, info := range pkgs {
		ver, status := "-", "ok"
		switch {
		case info.Error != nil:
			status = info.Error.Error()
		default:
			ver = info.Manifest.Version
			if err := info.Manifest.Validate(platform); err != nil {
				status = err.Error()
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", info.ID, ver, status, info.Path)
	}
	return w.Flush()
}
