package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

// DefaultRSABits is the modulus size used when the dev server generates its key.
const DefaultRSABits = 2048

// ErrNoPEMBlock is returned when key material contains no PEM block.
var ErrNoPEMBlock = errors.New("no PEM block found")

// PublicKey encrypts login credentials for the LoginApp.
// RSA-OAEP with SHA-1, the payload is split into chunks that fit the modulus.
type PublicKey struct {
	key *rsa.PublicKey
}

// PrivateKey is the LoginApp side of the pair.
type PrivateKey struct {
	key *rsa.PrivateKey
}

// LoadPublicKey reads a PEM encoded public key from path.
func LoadPublicKey(path string) (*PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading public key %s: %w", path, err)
	}
	pk, err := ParsePublicKey(data)
	if err != nil {
		return nil, fmt.Errorf("loading public key %s: %w", path, err)
	}
	return pk, nil
}

// ParsePublicKey accepts both PKIX ("PUBLIC KEY") and PKCS#1 ("RSA PUBLIC KEY") blocks.
func ParsePublicKey(data []byte) (*PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, ErrNoPEMBlock
	}
	if block.Type == "RSA PUBLIC KEY" {
		k, err := x509.ParsePKCS1PublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parsing PKCS1 public key: %w", err)
		}
		return &PublicKey{key: k}, nil
	}
	k, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing PKIX public key: %w", err)
	}
	rk, ok := k.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("parsing public key: unsupported key type %T", k)
	}
	return &PublicKey{key: rk}, nil
}

// Size returns the modulus size in bytes, which is also the ciphertext chunk size.
func (p *PublicKey) Size() int {
	return p.key.Size()
}

func (p *PublicKey) maxChunk() int {
	return p.key.Size() - 2*sha1.Size - 2
}

// Encrypt encrypts plain chunk by chunk. Output length is a multiple of Size().
func (p *PublicKey) Encrypt(plain []byte) ([]byte, error) {
	chunk := p.maxChunk()
	out := make([]byte, 0, (len(plain)/chunk+1)*p.key.Size())
	for len(plain) > 0 || len(out) == 0 {
		n := min(chunk, len(plain))
		c, err := rsa.EncryptOAEP(sha1.New(), rand.Reader, p.key, plain[:n], nil)
		if err != nil {
			return nil, fmt.Errorf("rsa encrypt: %w", err)
		}
		out = append(out, c...)
		plain = plain[n:]
	}
	return out, nil
}

// PEM returns the PKIX encoding of the key.
func (p *PublicKey) PEM() ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(p.key)
	if err != nil {
		return nil, fmt.Errorf("marshalling public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// GeneratePrivateKey creates a new key pair with exponent 65537.
func GeneratePrivateKey(bits int) (*PrivateKey, error) {
	k, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("generating RSA key: %w", err)
	}
	return &PrivateKey{key: k}, nil
}

// LoadPrivateKey reads a PEM encoded private key from path.
func LoadPrivateKey(path string) (*PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading private key %s: %w", path, err)
	}
	k, err := ParsePrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("loading private key %s: %w", path, err)
	}
	return k, nil
}

// ParsePrivateKey accepts PKCS#1 and PKCS#8 blocks.
func ParsePrivateKey(data []byte) (*PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, ErrNoPEMBlock
	}
	if block.Type == "RSA PRIVATE KEY" {
		k, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parsing PKCS1 private key: %w", err)
		}
		return &PrivateKey{key: k}, nil
	}
	k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing PKCS8 private key: %w", err)
	}
	rk, ok := k.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("parsing private key: unsupported key type %T", k)
	}
	return &PrivateKey{key: rk}, nil
}

// Public returns the matching public key.
func (k *PrivateKey) Public() *PublicKey {
	return &PublicKey{key: &k.key.PublicKey}
}

// Decrypt reverses PublicKey.Encrypt.
func (k *PrivateKey) Decrypt(cipher []byte) ([]byte, error) {
	size := k.key.Size()
	if len(cipher) == 0 || len(cipher)%size != 0 {
		return nil, fmt.Errorf("rsa decrypt: ciphertext length %d is not a multiple of %d", len(cipher), size)
	}
	var out []byte
	for off := 0; off < len(cipher); off += size {
		p, err := rsa.DecryptOAEP(sha1.New(), nil, k.key, cipher[off:off+size], nil)
		if err != nil {
			return nil, fmt.Errorf("rsa decrypt chunk at %d: %w", off, err)
		}
		out = append(out, p...)
	}
	return out, nil
}

// PEM returns the PKCS#1 encoding of the key.
func (k *PrivateKey) PEM() []byte {
	return pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(k.key),
	})
}

// WriteFiles stores the private key (0600) and its public half (0644).
func (k *PrivateKey) WriteFiles(privPath, pubPath string) error {
	if err := os.WriteFile(privPath, k.PEM(), 0o600); err != nil {
		return fmt.Errorf("writing private key %s: %w", privPath, err)
	}
	pub, err := k.Public().PEM()
	if err != nil {
		return err
	}
	if err := os.WriteFile(pubPath, pub, 0o644); err != nil {
		return fmt.Errorf("writing public key %s: %w", pubPath, err)
	}
	return nil
}
