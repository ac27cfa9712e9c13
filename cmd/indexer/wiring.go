package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sdi-catalog/csw-indexer/internal/catalog/queryable"
	"github.com/sdi-catalog/csw-indexer/internal/metadata/reader"
	"github.com/sdi-catalog/csw-indexer/pkg/config"
	"github.com/sdi-catalog/csw-indexer/pkg/postgres"
)

// metadataSource is the configured reader with its decode mode, health ping
// and cleanup. The change consumer decodes inline records with the same mode.
type metadataSource struct {
	reader reader.Reader
	mode   reader.Mode
	ping   func(ctx context.Context) error
	close  func() error
}

func openReader(ctx context.Context, cfg config.CatalogConfig, pg config.PostgresConfig, lite config.SQLiteConfig) (*metadataSource, error) {
	mode, err := reader.ParseMode(cfg.DecodeMode)
	if err != nil {
		return nil, fmt.Errorf("catalog.decodeMode: %w", err)
	}
	switch cfg.Reader {
	case "filesystem":
		dir := cfg.DataDir
		return &metadataSource{
			reader: reader.NewFSReader(dir, mode, cfg.AdditionalQueryables),
			mode:   mode,
			ping: func(context.Context) error {
				_, err := os.Stat(dir)
				return err
			},
			close: func() error { return nil },
		}, nil
	case "sqlite":
		r, err := reader.OpenSQLite(ctx, lite.Path, lite.RecordsTable, mode, cfg.AdditionalQueryables)
		if err != nil {
			return nil, err
		}
		return &metadataSource{reader: r, mode: mode, ping: r.Ping, close: r.Close}, nil
	case "postgres":
		client, err := postgres.New(ctx, pg)
		if err != nil {
			return nil, err
		}
		r, err := reader.NewSQLReader(client.DB, reader.Postgres, pg.RecordsTable, mode, cfg.AdditionalQueryables)
		if err != nil {
			client.Close()
			return nil, err
		}
		return &metadataSource{reader: r, mode: mode, ping: client.Ping, close: client.Close}, nil
	}
	return nil, fmt.Errorf("unsupported catalog reader %q", cfg.Reader)
}

// loadQueryables returns the standard maps and the reader's additional map.
func loadQueryables(cfg config.CatalogConfig, r reader.Reader) (*queryable.Set, *queryable.Map, error) {
	var (
		set *queryable.Set
		err error
	)
	if cfg.QueryablesFile != "" {
		set, err = queryable.LoadFile(cfg.QueryablesFile)
	} else {
		set, err = queryable.Default()
	}
	if err != nil {
		return nil, nil, err
	}
	additional, err := queryable.Additional(r.AdditionalQueryables())
	if err != nil {
		return nil, nil, err
	}
	return set, additional, nil
}
