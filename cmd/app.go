package cmd

import (
	"context"
	"fmt"
	"io"

	"productfinder/blobstore"
	"productfinder/config"
	"productfinder/database"
	"productfinder/imageprocessor"
	"productfinder/index"
	"productfinder/matcher"
)

// app holds the collaborators a command works with.
type app struct {
	cfg     *config.Config
	catalog *database.Catalog
	blobs   blobstore.Store
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOrDefault(flagConfig)
	if err != nil {
		return nil, fmt.Errorf("cannot load config: %w\nRun 'productfinder config init' to write a default one.", err)
	}
	return cfg, nil
}

func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	cat, err := database.Open(cfg.Service.Catalog.Driver, cfg.Service.Catalog.DSN)
	if err != nil {
		return nil, err
	}
	blobs, err := blobstore.Open(ctx, cfg.Service.Blob)
	if err != nil {
		cat.Close()
		return nil, err
	}
	return &app{cfg: cfg, catalog: cat, blobs: blobs}, nil
}

func (a *app) Close() {
	a.catalog.Close()
}

func (a *app) cache() *index.Cache {
	return index.NewCache(a.cfg.Service.CacheDir)
}

// matcher builds the index owner for the configured pipeline. topK <= 0
// keeps the configured value.
func (a *app) matcher(topK int, progress io.Writer) (*matcher.Matcher, error) {
	p, err := imageprocessor.New(a.cfg.Pipeline)
	if err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = a.cfg.Service.TopK
	}
	return matcher.New(p, a.catalog, a.blobs, a.cache(), matcher.Options{
		TopK:     topK,
		Workers:  a.cfg.Service.Workers,
		Progress: progress,
	}), nil
}
