package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const accountColumns = `login, password, access_level, last_ip, last_active, login_count`

// PostgresAccountRepository хранит аккаунты в PostgreSQL.
type PostgresAccountRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresAccountRepository(pool *pgxpool.Pool) *PostgresAccountRepository {
	return &PostgresAccountRepository{pool: pool}
}

func scanAccount(row pgx.Row) (*Account, error) {
	var acc Account
	err := row.Scan(&acc.Login, &acc.PasswordHash, &acc.AccessLevel, &acc.LastIP, &acc.LastActive, &acc.LoginCount)
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

// GetAccount возвращает аккаунт по логину.
// Возвращает nil, nil если аккаунт не найден.
func (r *PostgresAccountRepository) GetAccount(ctx context.Context, login string) (*Account, error) {
	login = strings.ToLower(login)
	acc, err := scanAccount(r.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE login = $1`, login))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying account %q: %w", login, err)
	}
	return acc, nil
}

// GetOrCreateAccount атомарно получает существующий или создаёт новый аккаунт.
// INSERT ... ON CONFLICT DO NOTHING защищает от гонки двух логинов.
func (r *PostgresAccountRepository) GetOrCreateAccount(ctx context.Context, login, passwordHash, ip string) (*Account, error) {
	login = strings.ToLower(login)

	_, err := r.pool.Exec(ctx,
		`INSERT INTO accounts (login, password, last_active, access_level, last_ip)
		 VALUES ($1, $2, $3, 0, $4)
		 ON CONFLICT (login) DO NOTHING`,
		login, passwordHash, time.Now(), ip,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting account %q: %w", login, err)
	}

	acc, err := r.GetAccount(ctx, login)
	if err != nil {
		return nil, fmt.Errorf("getting account after insert %q: %w", login, err)
	}
	if acc == nil {
		return nil, fmt.Errorf("account %q not found after insert", login)
	}
	return acc, nil
}

// RecordLogin обновляет last_active, last_ip и счётчик входов.
func (r *PostgresAccountRepository) RecordLogin(ctx context.Context, login, ip string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE accounts SET last_active = $1, last_ip = $2, login_count = login_count + 1 WHERE login = $3`,
		time.Now(), ip, strings.ToLower(login),
	)
	if err != nil {
		return fmt.Errorf("updating last login for %q: %w", login, err)
	}
	return nil
}

// SetAccessLevel is used to ban (negative level) or promote an account.
func (r *PostgresAccountRepository) SetAccessLevel(ctx context.Context, login string, level int) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE accounts SET access_level = $1 WHERE login = $2`,
		level, strings.ToLower(login),
	)
	if err != nil {
		return fmt.Errorf("setting access level for %q: %w", login, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("setting access level for %q: %w", login, ErrNoAccount)
	}
	return nil
}

// ErrNoAccount is returned by updates addressed at a missing account.
var ErrNoAccount = errors.New("account does not exist")
