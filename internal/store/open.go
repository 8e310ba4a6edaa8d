package store

import (
	"context"

	"github.com/pkg/errors"

	"github.com/ugsoil/soilserver/internal/config"
)

// Open creates and initializes the backend named by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "sqlite":
		s := NewSQLiteStore(cfg.SQLitePath)
		if err := s.Initialize(); err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		s, err := NewPostgresStore(ctx, cfg.Postgres.ConnString(), cfg.Postgres.Timescale)
		if err != nil {
			return nil, err
		}
		if err := s.Initialize(ctx); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, errors.Errorf("unknown store driver %q", cfg.Driver)
	}
}
