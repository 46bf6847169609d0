// Package main provides the CLI entry point for repackradar.
package main

import (
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/alecthomas/kong"
	kongyaml "github.com/alecthomas/kong-yaml"

	"github.com/repackradar/repackradar/internal/aggregate"
	"github.com/repackradar/repackradar/internal/config"
	"github.com/repackradar/repackradar/internal/decrypt"
	"github.com/repackradar/repackradar/internal/imageproxy"
	"github.com/repackradar/repackradar/internal/server"
	"github.com/repackradar/repackradar/internal/transform"
	"github.com/repackradar/repackradar/pkg/access"
	"github.com/repackradar/repackradar/pkg/cache"
	"github.com/repackradar/repackradar/pkg/database"
	httputil "github.com/repackradar/repackradar/pkg/http"

	// Import sites to trigger init() self-registration
	_ "github.com/repackradar/repackradar/internal/sites"
)

// CLI structure
var CLI struct {
	Config string `help:"Configuration file path" default:"config.yaml"`
	Debug  bool   `help:"Enable debug logging" default:"false"`

	Serve struct {
		Listen string `help:"HTTP listen address, overrides the config file" default:""`
	} `cmd:"serve" help:"Run the aggregation API server."`
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Configuration(kongyaml.Loader, "config.yaml", "~/.repackradar/config.yaml"),
	)

	// Configure logging level based on debug flag
	if CLI.Debug {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	} else {
		slog.SetLogLoggerLevel(slog.LevelInfo)
	}

	switch ctx.Command() {
	case "serve":
		serve()
	default:
		panic(ctx.Command())
	}
}

func serve() {
	cfg, err := config.LoadConfig(CLI.Config)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	listenAddr := cfg.Server.ListenAddr
	if CLI.Serve.Listen != "" {
		listenAddr = CLI.Serve.Listen
	}

	if err := database.EnsureDirectoryExists(cfg.Cache.DBPath); err != nil {
		slog.Error("Failed to prepare database directory", "error", err)
		os.Exit(1)
	}
	db, err := database.Open(database.Config{Path: cfg.Cache.DBPath})
	if err != nil {
		slog.Error("Failed to open database", "path", cfg.Cache.DBPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	responseStore := database.NewCache(db, "response_cache")
	if err := responseStore.Initialize(); err != nil {
		slog.Error("Failed to initialize response cache", "error", err)
		os.Exit(1)
	}
	kvStore := database.NewCache(db, "decrypted_links")
	if err := kvStore.Initialize(); err != nil {
		slog.Error("Failed to initialize decrypt cache", "error", err)
		os.Exit(1)
	}

	client := httputil.NewClient(nil)
	var solver *access.Solver
	if cfg.Solver.URL != "" {
		solver = access.NewSolver(cfg.Solver.URL, cfg.Solver.UserAgent)
	} else {
		slog.Warn("No challenge solver configured, cookie-protected sites will fail")
	}
	fetcher := access.NewFetcher(client, solver)

	transformer := transform.New(fetcher, cfg.Server.PublicURL)
	aggregator := aggregate.New(fetcher, transformer)
	resolver := decrypt.New(client, kvStore, cfg.Decrypt.APIURL, cfg.Decrypt.ProxyURL)
	images := imageproxy.New(fetcher, client)
	responses := cache.New(responseStore,
		time.Duration(cfg.Cache.FreshSeconds)*time.Second,
		time.Duration(cfg.Cache.StaleSeconds)*time.Second)

	srv := server.New(aggregator, resolver, images, responses)

	slog.Info("Starting server", "addr", listenAddr)
	if err := http.ListenAndServe(listenAddr, srv.Handler()); err != nil {
		slog.Error("Server stopped", "error", err)
		os.Exit(1)
	}
}
