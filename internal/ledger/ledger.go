package ledger

import (
	"context"
	"fmt"

	"github.com/OceanOptics/getOC/internal/database"
)

// Driver names.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config selects and configures the ledger storage.
type Config struct {
	Driver string `env:"DRIVER" envDefault:"memory"`

	// Path is the SQLite database file.
	Path string `env:"PATH" envDefault:"getoc-ledger.db"`

	Postgres database.Config `envPrefix:"POSTGRES_"`
}

// Open creates the repository selected by cfg.Driver.
func Open(ctx context.Context, cfg Config) (Repository, error) {
	switch cfg.Driver {
	case "", DriverMemory:
		return NewInMemoryRepository(), nil
	case DriverSQLite:
		return NewSQLiteRepository(cfg.Path)
	case DriverPostgres:
		pool, err := database.Connect(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("connecting ledger database: %w", err)
		}
		repo, err := NewPostgresRepository(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unknown ledger driver %q", cfg.Driver)
	}
}
