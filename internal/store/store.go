// Package store define el agregado de repositorios del núcleo y la factory
// por driver. Los adapters implementan los contratos de domain/repository;
// los services nunca conocen el driver concreto.
package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/dropDatabas3/salus/internal/domain/repository"
	"github.com/dropDatabas3/salus/internal/store/memory"
	"github.com/dropDatabas3/salus/internal/store/pg"
)

// Store agrupa los repositorios del núcleo sobre un mismo backend.
type Store interface {
	MFAConfigs() repository.MFAConfigRepository
	Sessions() repository.SessionRepository
	Keys() repository.KeyRepository
	Events() repository.EventRepository
	Policies() repository.PolicyRepository
	Users() repository.UserRepository

	// Ping verifica la conexión al backend.
	Ping(ctx context.Context) error

	// Close libera recursos (idempotente).
	Close() error
}

// Config selecciona e inicializa el backend.
type Config struct {
	// memory | postgres
	Driver string
	DSN    string

	Postgres PostgresTuning
}

// PostgresTuning ajusta el pool de conexiones del driver postgres.
type PostgresTuning struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime string
}

// Open crea el Store según el driver configurado.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "memory":
		return memory.New(), nil
	case "postgres", "pg", "postgresql":
		return pg.New(ctx, cfg.DSN, pg.Tuning{
			MaxOpenConns:    cfg.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Postgres.MaxIdleConns,
			ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
		})
	default:
		return nil, fmt.Errorf("store: unsupported driver: %s", cfg.Driver)
	}
}
