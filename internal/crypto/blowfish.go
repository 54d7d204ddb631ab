package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/blowfish"
)

// BlowfishKeySize is the size of keys produced by GenerateBlowfishFilter.
const BlowfishKeySize = 16

const blowfishBlock = blowfish.BlockSize

// ErrBadPadding reports a decrypted payload whose trailing pad count is invalid.
var ErrBadPadding = errors.New("blowfish: bad padding")

// BlowfishFilter is the symmetric session filter. The client picks the key,
// sends it inside the RSA-protected login params, and both sides then filter
// the login reply record and every channel bundle with it.
type BlowfishFilter struct {
	key    []byte
	cipher *blowfish.Cipher
}

// NewBlowfishFilter creates a filter from key (4..56 bytes).
func NewBlowfishFilter(key []byte) (*BlowfishFilter, error) {
	c, err := blowfish.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating blowfish cipher: %w", err)
	}
	return &BlowfishFilter{key: append([]byte(nil), key...), cipher: c}, nil
}

// GenerateBlowfishFilter creates a filter with a fresh random key.
func GenerateBlowfishFilter() (*BlowfishFilter, error) {
	key := make([]byte, BlowfishKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating blowfish key: %w", err)
	}
	return NewBlowfishFilter(key)
}

// Key returns a copy of the key material.
func (f *BlowfishFilter) Key() []byte {
	return append([]byte(nil), f.key...)
}

// Encrypt pads plain to the block size (the last byte holds the pad count, 1..8)
// and encrypts it in ECB mode. plain is not modified.
func (f *BlowfishFilter) Encrypt(plain []byte) []byte {
	pad := blowfishBlock - len(plain)%blowfishBlock
	out := make([]byte, len(plain)+pad)
	copy(out, plain)
	for i := len(plain); i < len(out); i++ {
		out[i] = byte(pad)
	}
	for i := 0; i < len(out); i += blowfishBlock {
		f.cipher.Encrypt(out[i:i+blowfishBlock], out[i:i+blowfishBlock])
	}
	return out
}

// Decrypt reverses Encrypt.
func (f *BlowfishFilter) Decrypt(data []byte) ([]byte, error) {
	if len(data) == 0 || len(data)%blowfishBlock != 0 {
		return nil, fmt.Errorf("blowfish decrypt: size %d is not a multiple of %d", len(data), blowfishBlock)
	}
	out := make([]byte, len(data))
	for i := 0; i < len(data); i += blowfishBlock {
		f.cipher.Decrypt(out[i:i+blowfishBlock], data[i:i+blowfishBlock])
	}
	pad := int(out[len(out)-1])
	if pad < 1 || pad > blowfishBlock {
		return nil, ErrBadPadding
	}
	for _, b := range out[len(out)-pad:] {
		if int(b) != pad {
			return nil, ErrBadPadding
		}
	}
	return out[:len(out)-pad], nil
}
