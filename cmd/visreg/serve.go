package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/visreg/browser"
	"github.com/hazyhaar/visreg/suite"
)

const version = "0.1.0"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the visreg tools over MCP on stdio",
	RunE:  runMCP,
}

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Download the managed Chromium build",
	RunE:  runInstall,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := openApp(needs{browser: true, store: true, remote: true, sinkOut: os.Stdout})
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.Archive.Retention > 0 {
		go pruneLoop(ctx, a, cfg.Archive.Retention)
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Listen,
		Handler:           a.suite.Handler(suite.HTTPConfig{MaxBody: cfg.HTTP.MaxBody, Logger: logger}),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("visreg: server starting", "listen", cfg.HTTP.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	logger.Info("visreg: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("visreg: shutdown", "error", err)
	}
	logger.Info("visreg: server stopped")
	return nil
}

// pruneLoop drops archived screenshots and diffs older than retention,
// once at start and then hourly.
func pruneLoop(ctx context.Context, a *app, retention time.Duration) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		shots, diffs, err := a.store.Prune(ctx, time.Now().Add(-retention))
		if err != nil {
			logger.Warn("visreg: prune failed", "error", err)
		} else if shots+diffs > 0 {
			logger.Info("visreg: pruned archive", "screenshots", shots, "diffs", diffs)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func runMCP(cmd *cobra.Command, _ []string) error {
	a, err := openApp(needs{browser: true, store: true, remote: true})
	if err != nil {
		return err
	}
	defer a.Close()

	srv := mcp.NewServer(&mcp.Implementation{Name: "visreg", Version: version}, nil)
	a.suite.RegisterMCP(srv, logger)
	logger.Info("visreg: mcp serving on stdio")
	return srv.Run(cmd.Context(), &mcp.StdioTransport{})
}

func runInstall(cmd *cobra.Command, _ []string) error {
	if cfg.Browser.Remote != "" {
		logger.Info("visreg: remote browser configured, nothing to install", "remote", cfg.Browser.Remote)
		return nil
	}
	a, err := openApp(needs{browser: true})
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.capture.Controller().Install(cmd.Context()); err != nil {
		return err
	}
	path, _ := browser.InstalledPath()
	logger.Info("visreg: chromium ready", "path", path)
	return nil
}
