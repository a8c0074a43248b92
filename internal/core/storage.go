package core

import (
	"context"
	"fmt"

	"termsync/internal/config"
	"termsync/internal/infra/persistence/memory"
	"termsync/internal/infra/persistence/postgres"
	"termsync/internal/infra/persistence/sqlite"
	"termsync/pkg/domain"
)

// OpenStatusStore selects the status store backend named by cfg. An empty
// driver selects sqlite.
func OpenStatusStore(ctx context.Context, cfg config.Config) (domain.StatusStore, error) {
	driver := cfg.StorageDriver
	if driver == "" {
		driver = config.StorageSQLite
	}
	switch driver {
	case config.StorageMemory:
		return memory.NewStore(), nil
	case config.StorageSQLite:
		st, err := sqlite.NewStore(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return st, nil
	case config.StoragePostgres:
		st, err := postgres.NewStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
