package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/fxlab/internal/version"
)

var (
	versionFormat string
	versionShort  bool
)

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long: `Display version information for fxlab: version, commit, build time,
Go version and target platform.

Examples:
  fxlab version                # Show version details
  fxlab version --short        # Show short version
  fxlab version --format json  # Output as JSON`,
	Args: cobra.NoArgs,
	RunE: runVersionCommand,
}

func init() {
	rootCmd.AddCommand(versionCmd)

	versionCmd.Flags().StringVarP(&versionFormat, "format", "f", "text", "Output format (text, json, yaml)")
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "Show short version only")
}

func runVersionCommand(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	switch versionFormat {
	case "json":
		return outputVersionJSON(out)
	case "yaml":
		encoder := yaml.NewEncoder(out)
		defer encoder.Close()
		return encoder.Encode(versionInfo())
	case "text":
		if versionShort {
			fmt.Fprintln(out, version.GetShortVersion())
			return nil
		}
		fmt.Fprintln(out, version.GetBuildInfo().String())
		return nil
	default:
		return fmt.Errorf("unsupported format: %s (supported: text, json, yaml)", versionFormat)
	}
}

type versionOutput struct {
	version.BuildInfo `yaml:",inline"`
	IsRelease         bool `json:"is_release" yaml:"is_release"`
}

func versionInfo() versionOutput {
	return versionOutput{BuildInfo: version.GetBuildInfo(), IsRelease: version.IsRelease()}
}

func outputVersionJSON(w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(versionInfo())
}
