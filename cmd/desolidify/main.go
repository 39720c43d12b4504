package main

import (
	"context"
	"log"
	"os"

	"github.com/seantiz/desolidify/internal/api"
	"github.com/seantiz/desolidify/internal/artifact"
	"github.com/seantiz/desolidify/internal/client"
	"github.com/seantiz/desolidify/internal/config"
	"github.com/seantiz/desolidify/internal/render"
	"github.com/seantiz/desolidify/internal/session"
	"github.com/seantiz/desolidify/internal/viewer"
)

// Initial size of each viewport until a client resizes it.
const (
	viewportWidth  = 640
	viewportHeight = 480
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("desolidify: starting",
		"listen_addr", cfg.ListenAddr,
		"api_base", cfg.APIBase,
		"artifact_db", cfg.ArtifactDB,
	)

	var backend artifact.Backend = artifact.NewMemoryBackend()
	if cfg.ArtifactDB != "" {
		db, err := artifact.NewSQLiteBackend(cfg.ArtifactDB)
		if err != nil {
			log.Fatalf("failed to open artifact database: %v", err)
		}
		backend = db
	}
	store := artifact.NewStore(backend, logger)
	defer store.Close()

	jc, err := client.New(client.Config{
		BaseURL: cfg.APIBase,
		Timeout: cfg.RequestTimeout,
	}, logger)
	if err != nil {
		log.Fatalf("failed to create job client: %v", err)
	}

	ctl := session.New(jc, store, session.Options{
		PollInterval:    cfg.PollInterval,
		MaxPollFailures: cfg.MaxPollFailures,
	}, logger)
	defer ctl.Close()

	ctx := context.Background()
	ctl.Init(ctx)

	viewports := viewer.NewRegistry()
	defer viewports.Close()
	err = viewer.OpenLayouts(viewports, store, render.NewEngine(), viewer.DefaultLayouts,
		viewportWidth, viewportHeight, viewer.Options{FrameInterval: cfg.FrameInterval}, logger)
	if err != nil {
		log.Fatalf("failed to open viewports: %v", err)
	}

	srv := api.NewServer(cfg.ListenAddr, ctl, viewports, logger)

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
	}
}
