package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/fxlab/internal/config"
	"github.com/conneroisu/fxlab/internal/monitoring"
	"github.com/conneroisu/fxlab/internal/server"
	"github.com/conneroisu/fxlab/internal/store"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s"},
	Short:   "Start the preview server",
	Long: `Start the gallery and live editor server.

The catalog is the built-in one unless --catalog (or catalog.path) names a
YAML file, which is reloaded whenever it changes.

Examples:
  fxlab serve                          # Serve on localhost:8080
  fxlab serve -p 3000 --host 0.0.0.0   # Listen on all interfaces
  fxlab serve --catalog effects.yaml   # Serve and watch a catalog file
  fxlab serve --debounce 300ms         # Reload the preview sooner`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 8080, "Port to serve on")
	serveCmd.Flags().String("host", "localhost", "Host to bind to")
	serveCmd.Flags().String("catalog", "", "Catalog YAML file (default is the built-in catalog)")
	serveCmd.Flags().Bool("watch", true, "Reload the catalog file when it changes")
	serveCmd.Flags().Duration("debounce", config.DefaultDebounce, "Quiet period before the editor preview reloads")
	serveCmd.Flags().String("storage", "memory", "Draft storage driver (memory, sqlite)")

	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("catalog.path", serveCmd.Flags().Lookup("catalog"))
	_ = viper.BindPFlag("catalog.watch", serveCmd.Flags().Lookup("watch"))
	_ = viper.BindPFlag("preview.debounce", serveCmd.Flags().Lookup("debounce"))
	_ = viper.BindPFlag("storage.driver", serveCmd.Flags().Lookup("storage"))

	AddFlagValidation(serveCmd, "port", ValidatePort)
	AddFlagValidation(serveCmd, "catalog", ValidateFileExists)
	AddFlagValidation(serveCmd, "storage", func(driver string) error {
		return ValidateFormatWithSuggestion(driver, []string{"memory", "sqlite"})
	})
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	catalog, err := loadCatalog(cfg)
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}

	drafts, err := store.Open(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to open draft storage: %w", err)
	}
	defer func() {
		if closeErr := drafts.Close(); closeErr != nil {
			logger.Warn(context.Background(), closeErr, "Failed to close draft storage")
		}
	}()

	srv, err := server.New(cfg, catalog,
		server.WithLogger(logger),
		server.WithMetrics(monitoring.NewMetrics()),
		server.WithDrafts(drafts),
	)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Serving %d effects at http://%s\n", catalog.Count(), cfg.Server.Addr())
	return srv.Start(ctx)
}
