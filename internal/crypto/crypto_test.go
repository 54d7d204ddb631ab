package crypto

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// одна пара на весь пакет, генерация 2048 бит не бесплатна
var testKey = func() *PrivateKey {
	k, err := GeneratePrivateKey(1024)
	if err != nil {
		panic(err)
	}
	return k
}()

func TestRSA_EncryptDecrypt(t *testing.T) {
	pub := testKey.Public()

	tests := []struct {
		name string
		size int
	}{
		{"empty", 0},
		{"small", 20},
		{"exact chunk", pub.maxChunk()},
		{"multi chunk", pub.maxChunk()*2 + 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plain := bytes.Repeat([]byte{0x5A}, tt.size)
			c, err := pub.Encrypt(plain)
			require.NoError(t, err)
			assert.Zero(t, len(c)%pub.Size())

			got, err := testKey.Decrypt(c)
			require.NoError(t, err)
			assert.Equal(t, len(plain), len(got))
			assert.True(t, bytes.Equal(plain, got))
		})
	}
}

func TestRSA_DecryptRejectsGarbage(t *testing.T) {
	_, err := testKey.Decrypt([]byte{1, 2, 3})
	require.Error(t, err)

	_, err = testKey.Decrypt(make([]byte, testKey.Public().Size()))
	require.Error(t, err)
}

func TestRSA_PEMFiles(t *testing.T) {
	dir := t.TempDir()
	priv := filepath.Join(dir, "loginapp.privkey")
	pub := filepath.Join(dir, "loginapp.pubkey")
	require.NoError(t, testKey.WriteFiles(priv, pub))

	pk, err := LoadPublicKey(pub)
	require.NoError(t, err)
	k, err := LoadPrivateKey(priv)
	require.NoError(t, err)

	c, err := pk.Encrypt([]byte("secret"))
	require.NoError(t, err)
	p, err := k.Decrypt(c)
	require.NoError(t, err)
	assert.Equal(t, "secret", string(p))

	_, err = LoadPublicKey(filepath.Join(dir, "missing"))
	require.ErrorIs(t, err, os.ErrNotExist)

	_, err = ParsePublicKey([]byte("not pem"))
	require.ErrorIs(t, err, ErrNoPEMBlock)
}

func TestBlowfishFilter_RoundTrip(t *testing.T) {
	f, err := GenerateBlowfishFilter()
	require.NoError(t, err)
	assert.Len(t, f.Key(), BlowfishKeySize)

	for _, n := range []int{0, 1, 7, 8, 9, 64, 1000} {
		plain := bytes.Repeat([]byte{byte(n)}, n)
		c := f.Encrypt(plain)
		assert.Zero(t, len(c)%8, "size %d", n)
		assert.Greater(t, len(c), n)

		got, err := f.Decrypt(c)
		require.NoError(t, err, "size %d", n)
		assert.Equal(t, len(plain), len(got))
		assert.True(t, bytes.Equal(plain, got))
	}
}

func TestBlowfishFilter_WrongKey(t *testing.T) {
	a, err := NewBlowfishFilter([]byte("key-one-key-one!"))
	require.NoError(t, err)
	b, err := NewBlowfishFilter([]byte("key-two-key-two!"))
	require.NoError(t, err)

	c := a.Encrypt([]byte("session record"))
	got, err := b.Decrypt(c)
	if err == nil {
		assert.NotEqual(t, "session record", string(got))
	}

	_, err = a.Decrypt([]byte{1, 2, 3})
	require.Error(t, err)

	_, err = NewBlowfishFilter(nil)
	require.Error(t, err)
}
