package db

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Options struct {
	Driver    string
	Path      string
	URL       string
	CacheSize int
}

// Open builds the configured store wrapped in the read cache.
func Open(ctx context.Context, opts Options) (RecordStore, error) {
	var (
		store RecordStore
		err   error
	)
	switch opts.Driver {
	case "", DriverSQLite:
		if dir := filepath.Dir(opts.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, eris.Wrap(err, "sqlite: create data dir")
			}
		}
		store, err = NewSQLiteStore(opts.Path)
	case DriverPostgres:
		store, err = NewPostgresStore(ctx, opts.URL)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
	}
	if err != nil {
		return nil, err
	}
	if opts.CacheSize < 0 {
		return store, nil
	}
	cached, err := NewCachedStore(store, opts.CacheSize)
	if err != nil {
		store.Close()
		return nil, err
	}
	return cached, nil
}
