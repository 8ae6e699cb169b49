package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/fxlab/internal/config"
	"github.com/conneroisu/fxlab/internal/logging"
	"github.com/conneroisu/fxlab/internal/registry"
)

var listCmd = &cobra.Command{
	Use:     "list [query]",
	Aliases: []string{"l", "ls"},
	Short:   "List catalog effects",
	Long: `List the effects in the catalog with their titles and keywords. A query
filters case-insensitively on id, title, description and keywords.

Examples:
  fxlab list                   # Table of every effect
  fxlab list button            # Only effects matching "button"
  fxlab list -o json           # JSON, one object per effect
  fxlab list -o yaml --code    # YAML including the source bundles`,
	Args: cobra.MaximumNArgs(1),
	RunE: runList,
}

var (
	listFlags    *StandardFlags
	listWithCode bool
)

func init() {
	rootCmd.AddCommand(listCmd)

	listFlags = AddStandardFlags(listCmd, "output")
	listCmd.Flags().BoolVar(&listWithCode, "code", false, "Include each effect's source bundle")

	AddFlagValidation(listCmd, "output", func(format string) error {
		return ValidateFormatWithSuggestion(format, []string{"table", "json", "yaml"})
	})
}

// listItem is an effect as the list command prints it.
type listItem struct {
	ID          string      `json:"id" yaml:"id"`
	Title       string      `json:"title" yaml:"title"`
	Description string      `json:"description" yaml:"description"`
	Keywords    []string    `json:"keywords" yaml:"keywords"`
	Code        interface{} `json:"code,omitempty" yaml:"code,omitempty"`
}

func runList(cmd *cobra.Command, args []string) error {
	if err := listFlags.ValidateFlags(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	catalog, err := loadCatalog(cfg)
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}

	effects := catalog.List()
	if len(args) == 1 {
		effects = catalog.Search(args[0])
	}

	out := cmd.OutOrStdout()
	switch strings.ToLower(listFlags.OutputFormat) {
	case "json":
		return outputListJSON(out, effects)
	case "yaml":
		return outputListYAML(out, effects)
	default:
		return outputListTable(out, effects)
	}
}

func listItems(effects []registry.Effect) []listItem {
	items := make([]listItem, 0, len(effects))
	for _, e := range effects {
		item := listItem{
			ID:          e.ID,
			Title:       e.Title,
			Description: e.Description,
			Keywords:    e.Keywords,
		}
		if item.Keywords == nil {
			item.Keywords = []string{}
		}
		if listWithCode {
			item.Code = e.Code
		}
		items = append(items, item)
	}
	return items
}

func outputListJSON(w io.Writer, effects []registry.Effect) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(listItems(effects))
}

func outputListYAML(w io.Writer, effects []registry.Effect) error {
	encoder := yaml.NewEncoder(w)
	defer encoder.Close()
	encoder.SetIndent(2)
	return encoder.Encode(listItems(effects))
}

func outputListTable(w io.Writer, effects []registry.Effect) error {
	if len(effects) == 0 {
		if !listFlags.Quiet {
			fmt.Fprintln(w, "No effects found.")
		}
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tKEYWORDS")
	for _, e := range effects {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", e.ID, e.Title, strings.Join(e.Keywords, ", "))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if listFlags.Verbose {
		fmt.Fprintf(w, "\n%d effects\n", len(effects))
		for _, e := range effects {
			fmt.Fprintf(w, "\n%s\n  %s\n", e.ID, logging.Truncate(e.Description, 100))
		}
	}
	return nil
}
