// Package commands implements the pagedemo CLI.
package commands

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/zhangzqs/pagedlist-go/internal/appconfig"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "pagedemo",
	Short: "Scroll a paged list backed by a local store and an HTTP API",
	Long: `pagedemo exercises the pagedlist engine end to end.

"pagedemo serve" starts a fixture API serving synthetic items in pages.
"pagedemo scroll" pages through such an API the way a list view would,
caching pages in a local badger store.

Settings come from --config and PAGEDEMO_* environment variables, e.g.
  PAGEDEMO_REMOTE_ENDPOINT=http://127.0.0.1:9000/items pagedemo scroll`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: built-in settings)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(scrollCmd)
}

func loadConfig() (*appconfig.Config, error) {
	cfg, err := appconfig.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// newLogger builds the process logger. Console output goes to w.
func newLogger(cfg appconfig.LoggingConfig, w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	out := w
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

func stderrLogger(cfg *appconfig.Config) zerolog.Logger {
	return newLogger(cfg.Logging, os.Stderr)
}
