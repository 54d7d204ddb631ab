package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryAccountRepository(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryAccountRepository()

	acc, err := r.GetAccount(ctx, "Alice")
	require.NoError(t, err)
	assert.Nil(t, acc)

	acc, err = r.GetOrCreateAccount(ctx, "Alice", HashPassword("secret"), "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "alice", acc.Login)

	// Второй вызов не перезаписывает пароль.
	acc, err = r.GetOrCreateAccount(ctx, "alice", HashPassword("other"), "10.0.0.2")
	require.NoError(t, err)
	assert.Equal(t, HashPassword("secret"), acc.PasswordHash)

	require.NoError(t, r.RecordLogin(ctx, "ALICE", "10.0.0.3"))
	acc, err = r.GetAccount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.3", acc.LastIP)
	assert.Equal(t, 1, acc.LoginCount)

	require.NoError(t, r.SetAccessLevel(ctx, "alice", -1))
	acc, _ = r.GetAccount(ctx, "alice")
	assert.True(t, acc.Banned())

	assert.ErrorIs(t, r.RecordLogin(ctx, "bob", "10.0.0.1"), ErrNoAccount)
	assert.ErrorIs(t, r.SetAccessLevel(ctx, "bob", 1), ErrNoAccount)
}

func TestHashPassword(t *testing.T) {
	assert.Equal(t, HashPassword("pw"), HashPassword("pw"))
	assert.NotEqual(t, HashPassword("pw"), HashPassword("Pw"))
	assert.Len(t, HashPassword(""), 44)
}
