package login

import (
	"bytes"
	"fmt"
	"math/rand/v2"

	"github.com/udisondev/worldlink/internal/crypto"
	"github.com/udisondev/worldlink/internal/wire"
)

// Flags select the optional fields of LogOnParams on the wire.
type Flags uint8

const (
	FlagHasDigest Flags = 0x1
	FlagHasAll    Flags = 0x1
	// FlagPassThru tells AddToStream to use the flags stored in the params.
	FlagPassThru Flags = 0xFF
)

// DigestSize is the length of the MD5 credential digest.
const DigestSize = 16

// LogOnParams are the credentials sent to the LoginApp.
type LogOnParams struct {
	Flags         Flags
	Username      string
	Password      string
	EncryptionKey string
	Digest        [DigestSize]byte
	Nonce         uint32
}

// NewLogOnParams returns params with every optional field present and a
// random nonce.
func NewLogOnParams(username, password, encryptionKey string) *LogOnParams {
	return &LogOnParams{
		Flags:         FlagHasAll,
		Username:      username,
		Password:      password,
		EncryptionKey: encryptionKey,
		Nonce:         rand.Uint32(),
	}
}

// AddToStream writes the params to w. With a key the whole block is
// RSA-encrypted and written raw, filling the rest of the message.
func (p *LogOnParams) AddToStream(w *wire.Writer, flags Flags, key *crypto.PublicKey) error {
	if flags == FlagPassThru {
		flags = p.Flags
	}

	out := w
	if key != nil {
		out = wire.GetWriter()
		defer out.Put()
	}

	out.WriteUint8(uint8(flags))
	out.WriteString(p.Username)
	out.WriteString(p.Password)
	out.WriteString(p.EncryptionKey)
	if flags&FlagHasDigest != 0 {
		out.WriteBytes(p.Digest[:])
	}
	// Nonce дважды: старый формат, сервер LOGIN_VERSION 51 читает оба.
	out.WriteUint32(p.Nonce)
	out.WriteUint32(p.Nonce)

	if key != nil {
		enc, err := key.Encrypt(out.Bytes())
		if err != nil {
			return fmt.Errorf("encrypting log on params: %w", err)
		}
		w.WriteBytes(enc)
	}
	return nil
}

// ReadFromStream is the inverse of AddToStream. A missing nonce reads as 0.
func (p *LogOnParams) ReadFromStream(r *wire.Reader, key *crypto.PrivateKey) error {
	if key != nil {
		plain, err := key.Decrypt(r.Rest())
		if err != nil {
			return fmt.Errorf("decrypting log on params: %w", err)
		}
		r = wire.NewReader(plain)
	}

	flags, err := r.ReadUint8()
	if err != nil {
		return fmt.Errorf("reading flags: %w", err)
	}
	p.Flags = Flags(flags)
	if p.Username, err = r.ReadString(); err != nil {
		return fmt.Errorf("reading username: %w", err)
	}
	if p.Password, err = r.ReadString(); err != nil {
		return fmt.Errorf("reading password: %w", err)
	}
	if p.EncryptionKey, err = r.ReadString(); err != nil {
		return fmt.Errorf("reading encryption key: %w", err)
	}
	if p.Flags&FlagHasDigest != 0 {
		d, err := r.ReadBytes(DigestSize)
		if err != nil {
			return fmt.Errorf("reading digest: %w", err)
		}
		copy(p.Digest[:], d)
	}

	for range 2 {
		p.Nonce = 0
		if r.Remaining() > 0 {
			if p.Nonce, err = r.ReadUint32(); err != nil {
				return fmt.Errorf("reading nonce: %w", err)
			}
		}
	}
	return nil
}

// Equal compares the security-relevant fields of two requests.
func (p *LogOnParams) Equal(o *LogOnParams) bool {
	return p.Username == o.Username &&
		p.Password == o.Password &&
		p.EncryptionKey == o.EncryptionKey &&
		p.Nonce == o.Nonce
}

// HasDigest reports whether a non-zero digest has been set.
func (p *LogOnParams) HasDigest() bool {
	return !bytes.Equal(p.Digest[:], make([]byte, DigestSize))
}

// ReplyRecord is the LoginApp's answer to a successful login.
type ReplyRecord struct {
	ServerAddr wire.Address
	SessionKey uint32
}

func (rr *ReplyRecord) Read(r *wire.Reader) error {
	addr, err := r.ReadAddress()
	if err != nil {
		return fmt.Errorf("reading server address: %w", err)
	}
	key, err := r.ReadUint32()
	if err != nil {
		return fmt.Errorf("reading session key: %w", err)
	}
	rr.ServerAddr = addr
	rr.SessionKey = key
	return nil
}

func (rr ReplyRecord) Write(w *wire.Writer) {
	w.WriteAddress(rr.ServerAddr)
	w.WriteUint32(rr.SessionKey)
}
