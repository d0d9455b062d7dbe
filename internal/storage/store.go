package storage

import (
	"context"
	"fmt"

	"mucsmake/internal/config"
)

// Open connects to the backend named by cfg.Driver.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.Database.Driver {
	case "", "sqlite":
		return OpenSQLite(cfg.DatabasePath())
	case "postgres":
		return OpenPostgres(ctx, cfg.Database.DSN)
	default:
		return nil, fmt.Errorf("unknown database driver %q: must be sqlite or postgres", cfg.Database.Driver)
	}
}
