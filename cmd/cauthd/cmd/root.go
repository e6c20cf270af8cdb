package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/awnumar/memguard"
	"github.com/spf13/cobra"
)

var (
	configPath string
	envFiles   []string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "cauthd",
	Short: "cauthd serves account registration, login and token refresh over HTTP",
	Long: `cauthd runs the cauth engine behind a JSON HTTP API.

Settings come from a TOML file (--config), then CAUTH_* environment
variables (after loading .env and .env.local), then flags.`,
	SilenceUsage: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	memguard.CatchInterrupt()
	defer memguard.Purge()

	if err := rootCmd.Execute(); err != nil {
		memguard.Purge()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a TOML config file")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env", ".env.local"}, "dotenv files to load when present")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
}

func newLogger(level string) (*slog.Logger, error) {
	var l slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		l = slog.LevelInfo
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", level)
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l})), nil
}
