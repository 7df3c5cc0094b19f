// Package pg implementa el Store sobre PostgreSQL con pgxpool.
//
// Las garantías de atomicidad del contrato se resuelven en SQL: incrementos
// con UPDATE ... RETURNING, consumo de backup codes en un solo UPDATE
// condicional y rotación de claves dentro de una transacción.
package pg

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/salus/internal/domain/repository"
	"github.com/dropDatabas3/salus/internal/observability/logger"
)

// Store implementa el agregado sobre un pool pgx.
type Store struct{ pool *pgxpool.Pool }

// Tuning parámetros opcionales del pool.
type Tuning struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime string
}

// New abre el pool. El ping inicial no es fatal: la app puede levantar con
// la base temporalmente caída.
func New(ctx context.Context, dsn string, t Tuning) (*Store, error) {
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	if t.MaxOpenConns > 0 {
		pcfg.MaxConns = int32(t.MaxOpenConns)
	}
	// Mapear MaxIdleConns → MinConns (pgxpool)
	if t.MaxIdleConns > 0 {
		pcfg.MinConns = int32(t.MaxIdleConns)
	}
	if t.ConnMaxLifetime != "" {
		if d, err := time.ParseDuration(t.ConnMaxLifetime); err == nil {
			pcfg.MaxConnLifetime = d
			pcfg.MaxConnIdleTime = d
		}
	}
	if pcfg.MaxConns == 0 {
		pcfg.MaxConns = 8
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		logger.L().Warn("pg pool startup ping failed", logger.Err(err))
	} else {
		logger.L().Info("pg pool ready", logger.Int("max_conns", int(pcfg.MaxConns)))
	}
	return &Store{pool: pool}, nil
}

func (s *Store) MFAConfigs() repository.MFAConfigRepository { return &mfaRepo{s.pool} }
func (s *Store) Sessions() repository.SessionRepository     { return &sessionRepo{s.pool} }
func (s *Store) Keys() repository.KeyRepository             { return &keyRepo{s.pool} }
func (s *Store) Events() repository.EventRepository         { return &eventRepo{s.pool} }
func (s *Store) Policies() repository.PolicyRepository      { return &policyRepo{s.pool} }
func (s *Store) Users() repository.UserRepository           { return &userRepo{s.pool} }

// Pool expone el pool interno (migraciones, métricas).
func (s *Store) Pool() *pgxpool.Pool {
	if s == nil {
		return nil
	}
	return s.pool
}

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Close cierra el pool (idempotente).
func (s *Store) Close() error {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// isUniqueViolation detecta el código 23505 de Postgres.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
