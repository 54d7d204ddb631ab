package devserver

import (
	"context"

	"github.com/udisondev/worldlink/internal/db"
)

// AccountRepository определяет операции с аккаунтами, нужные LoginApp.
type AccountRepository interface {
	// GetAccount возвращает аккаунт по логину.
	// Возвращает nil, nil если аккаунт не найден.
	GetAccount(ctx context.Context, login string) (*db.Account, error)

	// GetOrCreateAccount атомарно получает существующий или создаёт новый аккаунт.
	GetOrCreateAccount(ctx context.Context, login, passwordHash, ip string) (*db.Account, error)

	// RecordLogin отмечает успешный вход.
	RecordLogin(ctx context.Context, login, ip string) error
}

var (
	_ AccountRepository = (*db.PostgresAccountRepository)(nil)
	_ AccountRepository = (*db.MemoryAccountRepository)(nil)
)
