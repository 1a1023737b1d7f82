package main

import (
	"fmt"
	"os"

	"github.com/bnema/waveshift/config"
	"github.com/bnema/waveshift/internal/adapter/storage/jsonfile"
	sqlitestore "github.com/bnema/waveshift/internal/adapter/storage/sqlite"
	"github.com/bnema/waveshift/internal/port"
)

type taskStore interface {
	port.TaskStore
	port.TranscriptStore
	Close() error
}

// openStore opens the configured driver under DATA_DIR, creating it first.
func openStore(cfg *config.Config) (taskStore, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	switch cfg.StoreDriver {
	case config.StoreSQLite:
		store, err := sqlitestore.NewStore(cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, nil
	case config.StoreJSONFile:
		store, err := jsonfile.NewStore(cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("open json store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
