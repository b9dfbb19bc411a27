package cli

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"vitalpipe.dev/config"
	"vitalpipe.dev/dbmodel"
	"vitalpipe.dev/storage"
)

// deps bundles the connections and config every subcommand needs, so
// ingest and reprocess share one setup path instead of duplicating it.
type deps struct {
	cfg   config.PipelineConfig
	gdb   *gorm.DB
	pool  *pgxpool.Pool
	store storage.ArchiveStore
}

func connect(ctx context.Context) (*deps, error) {
	cfg, err := config.LoadPipelineConfig(viper.GetViper())
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	gdb, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := dbmodel.AutoMigrate(gdb); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("opening connection pool: %w", err)
	}

	store, err := storage.New(ctx, storage.Options{
		Backend:    cfg.StorageBackend,
		LocalRoot:  cfg.ArchiveRoot,
		S3Bucket:   cfg.S3Bucket,
		S3Region:   cfg.S3Region,
		S3Endpoint: cfg.S3Endpoint,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("building archive store: %w", err)
	}

	return &deps{cfg: cfg, gdb: gdb, pool: pool, store: store}, nil
}

func (d *deps) close() {
	d.pool.Close()
}
