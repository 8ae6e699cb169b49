package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"
	"github.com/spf13/cobra"

	"github.com/conneroisu/fxlab/internal/config"
	fxerrors "github.com/conneroisu/fxlab/internal/errors"
	"github.com/conneroisu/fxlab/internal/renderer"
	"github.com/conneroisu/fxlab/internal/store"
)

var exportCmd = &cobra.Command{
	Use:   "export <id>",
	Short: "Write an effect as a standalone HTML page",
	Long: `Write the effect as a single self-contained HTML page, the same file the
editor's download button produces. The page has no console relay.

The file is named <id>.html and replaced atomically if it exists.

Examples:
  fxlab export neon-button                 # Writes ./neon-button.html
  fxlab export neon-button -d dist         # Writes dist/neon-button.html
  fxlab export neon-button --draft --client <token>
                                           # Export a browser's saved draft

Drafts saved by the server belong to the browser that made them; --client
takes that browser's fxlab_client cookie value.`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

var (
	exportDir    string
	exportDraft  bool
	exportClient string
)

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringVarP(&exportDir, "dir", "d", ".", "Directory to write the page to")
	exportCmd.Flags().BoolVar(&exportDraft, "draft", false, "Export the stored draft instead of the catalog source")
	exportCmd.Flags().StringVar(&exportClient, "client", "", "Client token owning the draft")
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	catalog, err := loadCatalog(cfg)
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}
	effect, ok := catalog.Get(args[0])
	if !ok {
		return fxerrors.ErrEffectNotFound(args[0])
	}

	bundle := effect.Code
	if exportDraft {
		drafts, err := store.Open(cmd.Context(), cfg.Storage)
		if err != nil {
			return fmt.Errorf("failed to open draft storage: %w", err)
		}
		defer drafts.Close()

		draft, err := drafts.Load(cmd.Context(), store.Key(exportClient, effect.ID))
		switch {
		case err == nil:
			bundle = draft.Bundle
		case fxerrors.IsNotFound(err):
			fmt.Fprintf(cmd.ErrOrStderr(), "No draft for %s, exporting the catalog source\n", effect.ID)
		default:
			return fmt.Errorf("failed to load draft: %w", err)
		}
	}

	doc := renderer.Export(bundle, effect.Title)
	path := filepath.Join(exportDir, renderer.ExportFilename(effect.ID))
	if err := atomic.WriteFile(path, strings.NewReader(doc.Content)); err != nil {
		return fxerrors.NewIOError(fxerrors.ErrCodeExport, "failed to write "+path, err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}
