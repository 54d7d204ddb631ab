package db

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Account is a player account as the LoginApp sees it.
type Account struct {
	Login        string
	PasswordHash string
	AccessLevel  int
	LastIP       string
	LastActive   time.Time
	LoginCount   int
}

// Banned accounts have a negative access level.
func (a *Account) Banned() bool { return a.AccessLevel < 0 }

// DB wraps a pgx connection pool.
type DB struct {
	pool *pgxpool.Pool
}

// New connects to PostgreSQL and returns a DB handle.
func New(ctx context.Context, dsn string) (*DB, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return &DB{pool: pool}, nil
}

// Close closes the database connection pool.
func (d *DB) Close() {
	d.pool.Close()
}

// Pool returns the underlying pgx pool.
func (d *DB) Pool() *pgxpool.Pool {
	return d.pool
}

// Accounts returns the account repository backed by this database.
func (d *DB) Accounts() *PostgresAccountRepository {
	return NewPostgresAccountRepository(d.pool)
}

// HashPassword хэширует пароль: SHA-256, затем Base64.
func HashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return base64.StdEncoding.EncodeToString(sum[:])
}
