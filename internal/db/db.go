package db

import (
	"context"
	"fmt"

	"marker/internal/bookmark"
	"marker/internal/config"
	"marker/internal/store/postgres"
	"marker/internal/store/sqlite"
)

// Store is a bookmark store that can report its own health.
type Store interface {
	bookmark.Store
	Ping(ctx context.Context) error
}

// Open connects to the store DATABASE_URL selects and creates its tables.
func Open(ctx context.Context, cfg config.Config) (Store, error) {
	switch cfg.Driver() {
	case "postgres":
		s, err := postgres.Connect(cfg.DatabaseURL, postgres.Options{
			MaxOpenConns: cfg.DBMaxOpenConns,
			MaxIdleConns: cfg.DBMaxIdleConns,
		})
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := s.AutoMigrateAndIndexes(ctx); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		return s, nil
	default:
		s, err := sqlite.Open(cfg.SQLiteDSN(), cfg.DBMaxOpenConns)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		if err := s.Migrate(ctx); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("migrate sqlite: %w", err)
		}
		return s, nil
	}
}
