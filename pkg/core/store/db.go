package store

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"fact_reconciler/pkg/core/errs"
)

var (
	pool *pgxpool.Pool
	once sync.Once
)

// InitDB initializes the process-wide connection pool from the DSN named by
// envVar (DATABASE_URL when empty). The pool is optional: callers that get an
// error here run the snapshot store in file mode instead.
func InitDB(ctx context.Context, envVar string) error {
	var err error
	once.Do(func() {
		if envVar == "" {
			envVar = "DATABASE_URL"
		}
		dsn := os.Getenv(envVar)
		if dsn == "" {
			err = fmt.Errorf("%s environment variable not set: %w", envVar, errs.ErrConfiguration)
			return
		}

		config, parseErr := pgxpool.ParseConfig(dsn)
		if parseErr != nil {
			err = fmt.Errorf("parse database config: %w", parseErr)
			return
		}

		pool, err = pgxpool.NewWithConfig(ctx, config)
	})
	return err
}

// GetPool returns the database connection pool, nil before InitDB succeeds.
func GetPool() *pgxpool.Pool {
	return pool
}

// Close closes the database connection pool.
func Close() {
	if pool != nil {
		pool.Close()
	}
}
