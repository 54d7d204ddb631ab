package db

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MemoryAccountRepository keeps accounts in a map. The dev server uses it
// when no database is configured.
type MemoryAccountRepository struct {
	mu       sync.Mutex
	accounts map[string]Account
}

func NewMemoryAccountRepository() *MemoryAccountRepository {
	return &MemoryAccountRepository{accounts: make(map[string]Account)}
}

func (r *MemoryAccountRepository) GetAccount(_ context.Context, login string) (*Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	acc, ok := r.accounts[strings.ToLower(login)]
	if !ok {
		return nil, nil
	}
	return &acc, nil
}

func (r *MemoryAccountRepository) GetOrCreateAccount(_ context.Context, login, passwordHash, ip string) (*Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	login = strings.ToLower(login)
	acc, ok := r.accounts[login]
	if !ok {
		acc = Account{Login: login, PasswordHash: passwordHash, LastIP: ip, LastActive: time.Now()}
		r.accounts[login] = acc
	}
	return &acc, nil
}

func (r *MemoryAccountRepository) RecordLogin(_ context.Context, login, ip string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	login = strings.ToLower(login)
	acc, ok := r.accounts[login]
	if !ok {
		return fmt.Errorf("updating last login for %q: %w", login, ErrNoAccount)
	}
	acc.LastIP = ip
	acc.LastActive = time.Now()
	acc.LoginCount++
	r.accounts[login] = acc
	return nil
}

func (r *MemoryAccountRepository) SetAccessLevel(_ context.Context, login string, level int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	login = strings.ToLower(login)
	acc, ok := r.accounts[login]
	if !ok {
		return fmt.Errorf("setting access level for %q: %w", login, ErrNoAccount)
	}
	acc.AccessLevel = level
	r.accounts[login] = acc
	return nil
}
