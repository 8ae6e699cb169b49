// Package cmd provides the command-line interface for fxlab.
//
// Configuration is read with the following precedence:
//  1. Command-line flags (--config, --port, etc.)
//  2. FXLAB_CONFIG_FILE, naming the config file to read
//  3. FXLAB_<SECTION>_<KEY> environment variables
//  4. .fxlab.yml in the working directory
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/fxlab/internal/config"
	"github.com/conneroisu/fxlab/internal/logging"
	"github.com/conneroisu/fxlab/internal/registry"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "fxlab",
	Short: "A sandboxed live preview workbench for HTML/CSS/JS effects",
	Long: `fxlab serves a gallery of front-end effects and a live editor for each.
Every preview runs in a sandboxed frame that may execute scripts but has an
opaque origin, and its console output is relayed back to the editor.

Quick Start:
  fxlab serve                     Start the preview server
  fxlab list                      List catalog effects
  fxlab run neon-button --click button
                                  Execute an effect headlessly
  fxlab export glass-morphism     Write a standalone HTML page`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is .fxlab.yml, can also use FXLAB_CONFIG_FILE env var)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

// initConfig points viper at the config file and the FXLAB_ environment.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv("FXLAB_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".fxlab")
	}

	viper.SetEnvPrefix("FXLAB")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	// A missing file is fine; defaults apply.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// newLogger builds the process logger from the log section.
func newLogger(cfg *config.Config) (logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	return logging.NewLogger(&logging.LoggerConfig{
		Level:  level,
		Format: cfg.Log.Format,
		Output: os.Stderr,
	}), nil
}

// loadCatalog returns the configured catalog file, or the built-in catalog
// when no path is set.
func loadCatalog(cfg *config.Config) (*registry.Registry, error) {
	if cfg.Catalog.Path == "" {
		return registry.Default(), nil
	}
	effects, err := registry.LoadFile(cfg.Catalog.Path)
	if err != nil {
		return nil, err
	}
	r := registry.New()
	r.Replace(effects)
	return r, nil
}
