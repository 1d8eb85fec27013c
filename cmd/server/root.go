package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/JustJay7/juvenile-rep-analytics/internal/cache"
	"github.com/JustJay7/juvenile-rep-analytics/internal/config"
	"github.com/JustJay7/juvenile-rep-analytics/internal/database"
	"github.com/JustJay7/juvenile-rep-analytics/internal/dataset"
	"github.com/JustJay7/juvenile-rep-analytics/internal/fetcher"
	"github.com/JustJay7/juvenile-rep-analytics/internal/loader"
	"github.com/JustJay7/juvenile-rep-analytics/internal/pipeline"
	"github.com/JustJay7/juvenile-rep-analytics/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:   "juvenile-rep-analytics",
	Short: "Legal representation and case outcome analytics for juvenile immigration cases",
	Long: `juvenile-rep-analytics serves representation and outcome reports over HTTP.

Examples:

  juvenile-rep-analytics serve
  juvenile-rep-analytics load --force
`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd, args)
	},
}

// Execute runs the CLI
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("❌", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(loadCmd)
}

// app is everything a command needs, wired from configuration
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	db      *gorm.DB
	data    *dataset.Manager
	browser *fetcher.BrowserResolver
}

func bootstrap() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	db, err := database.Initialize(cfg.SnapshotPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize snapshot database: %w", err)
	}
	snapshot := database.NewSnapshot(db)

	manifest, err := loader.LoadManifest(cfg.SourcesFile)
	if err != nil {
		return nil, err
	}

	client := fetcher.NewClient(cfg, log)
	var browser *fetcher.BrowserResolver
	if cfg.BrowserFallback {
		browser = fetcher.NewBrowserResolver(cfg, log)
		client.WithResolver(browser)
	}

	l := loader.New(loader.Options{
		DataDir:  cfg.DataDir,
		Manifest: manifest,
		Snapshot: snapshot,
		Fetcher:  client,
	}, log)

	data := dataset.NewManager(cache.New(), l, pipeline.NewBuilder(log), snapshot, log).WithDownloads(client)

	return &app{cfg: cfg, log: log, db: db, data: data, browser: browser}, nil
}

func (a *app) close() {
	if a.browser != nil {
		if err := a.browser.Close(); err != nil {
			a.log.Warn("Failed to close browser", "error", err)
		}
	}
	if err := database.Close(a.db); err != nil {
		a.log.Warn("Failed to close snapshot database", "error", err)
	}
	_ = a.log.Sync()
}
