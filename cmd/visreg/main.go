// Command visreg captures web pages, compares screenshots and tracks
// approved baselines.
//
// Usage:
//
//	visreg capture --url https://example.com --out home.png
//	visreg responsive --url https://example.com --viewports 375x667,1280x720
//	visreg animate --url https://example.com --selector .spinner --duration 1s --fps 10
//	visreg compare before.png after.png --diff-out diff.png
//	visreg check --url https://example.com --name home
//	visreg approve --id shot_...
//	visreg serve --config visreg.yaml
//	visreg mcp
//	visreg install
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/visreg/config"
)

// errRegression makes the process exit with status 2: the command ran but
// found failed or errored checks.
var errRegression = errors.New("visual regression detected")

var (
	configPath string
	envFile    string
	logLevel   string

	logger *slog.Logger
	cfg    *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "visreg",
	Short: "Visual regression toolkit",
	Long: `visreg drives a headless Chromium to capture pages, elements, responsive
layouts and animation frames, compares screenshots pixel by pixel and keeps
approved baselines in a SQLite archive.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger = newLogger(logLevel)
		slog.SetDefault(logger)
		var err error
		cfg, err = config.Load(configPath, envFile)
		return err
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "path to visreg.yaml (defaults apply when empty)")
	pf.StringVar(&envFile, "env", ".env", "dotenv file with VISREG_* overrides (ignored if missing)")
	pf.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")

	rootCmd.AddCommand(captureCmd, responsiveCmd, animateCmd, compareCmd,
		checkCmd, approveCmd, serveCmd, mcpCmd, installCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if errors.Is(err, errRegression) {
		stop()
		os.Exit(2)
	}
	if err != nil {
		if logger != nil {
			logger.Error("visreg: fatal", "error", err)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		stop()
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
