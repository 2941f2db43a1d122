package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolSize bounds the pgx connection pool.
type PoolSize struct {
	Max, Min int32
}

// ConnectPostgres opens a pgxpool for the journal and pings it once.
func ConnectPostgres(ctx context.Context, databaseURL string, size PoolSize) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	if size.Max > 0 {
		poolCfg.MaxConns = size.Max
	}
	if size.Min > 0 {
		poolCfg.MinConns = size.Min
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// MigratePostgres applies pending journal migrations. Already-applied
// migrations are skipped.
func MigratePostgres(databaseURL string) error {
	src, err := iofs.New(migrations, "migrations/postgres")
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, migrateURL(databaseURL))
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer m.Close()

	return up(m)
}

// migrateURL rewrites a postgres:// or postgresql:// URL to the pgx5://
// scheme registered by golang-migrate's pgx/v5 driver.
func migrateURL(databaseURL string) string {
	for _, scheme := range []string{"postgresql://", "postgres://"} {
		if rest, ok := strings.CutPrefix(databaseURL, scheme); ok {
			return "pgx5://" + rest
		}
	}
	return databaseURL
}
