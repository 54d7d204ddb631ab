package login

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/worldlink/internal/testutil"
	"github.com/udisondev/worldlink/internal/wire"
)

func TestLogOnParams_RoundTripClear(t *testing.T) {
	in := NewLogOnParams("bob", "pw", "k")

	w := wire.NewWriter(64)
	require.NoError(t, in.AddToStream(w, FlagPassThru, nil))

	var out LogOnParams
	require.NoError(t, out.ReadFromStream(wire.NewReader(w.Bytes()), nil))

	assert.True(t, in.Equal(&out))
	assert.Equal(t, FlagHasAll, out.Flags)
}

func TestLogOnParams_RoundTripEncrypted(t *testing.T) {
	key := testutil.TestKey(t)
	in := NewLogOnParams("alice", "secret", "0123456789abcdef")
	in.Digest[0] = 0xAB

	w := wire.NewWriter(256)
	require.NoError(t, in.AddToStream(w, FlagHasAll, key.Public()))
	assert.NotContains(t, string(w.Bytes()), "secret")

	var out LogOnParams
	require.NoError(t, out.ReadFromStream(wire.NewReader(w.Bytes()), key))
	assert.True(t, in.Equal(&out))
	assert.Equal(t, in.Digest, out.Digest)
	assert.True(t, out.HasDigest())
}

func TestLogOnParams_NonceDefaultsToZero(t *testing.T) {
	full := &LogOnParams{Flags: 0, Username: "u", Password: "p", EncryptionKey: "", Nonce: 42}
	w := wire.NewWriter(64)
	require.NoError(t, full.AddToStream(w, FlagPassThru, nil))
	data := w.Bytes()

	tests := []struct {
		name string
		cut  int
		want uint32
	}{
		{"both nonces", 0, 42},
		{"second missing", 4, 0},
		{"both missing", 8, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out LogOnParams
			require.NoError(t, out.ReadFromStream(wire.NewReader(data[:len(data)-tt.cut]), nil))
			assert.Equal(t, tt.want, out.Nonce)
			assert.Equal(t, "u", out.Username)
		})
	}
}

func TestLogOnParams_FlagsOmitDigest(t *testing.T) {
	p := NewLogOnParams("u", "p", "k")
	withDigest := wire.NewWriter(64)
	require.NoError(t, p.AddToStream(withDigest, FlagHasAll, nil))
	without := wire.NewWriter(64)
	require.NoError(t, p.AddToStream(without, 0, nil))

	assert.Equal(t, DigestSize, withDigest.Len()-without.Len())
}

func TestLogOnParams_Truncated(t *testing.T) {
	var out LogOnParams
	err := out.ReadFromStream(wire.NewReader([]byte{1, 5, 'a'}), nil)
	require.ErrorIs(t, err, wire.ErrShortRead)
}

func TestLogOnParams_Equal(t *testing.T) {
	a := &LogOnParams{Username: "u", Password: "p", EncryptionKey: "k", Nonce: 1}
	b := *a
	b.Digest[3] = 9
	b.Flags = 0
	assert.True(t, a.Equal(&b), "digest and flags do not take part")

	b.Nonce = 2
	assert.False(t, a.Equal(&b))
}

func TestReplyRecord_ReadShort(t *testing.T) {
	w := wire.NewWriter(16)
	ReplyRecord{ServerAddr: wire.NewAddress([]byte{10, 0, 0, 5}, 20014), SessionKey: 0xABCD1234}.Write(w)

	var rr ReplyRecord
	require.NoError(t, rr.Read(wire.NewReader(w.Bytes())))
	assert.Equal(t, uint32(0xABCD1234), rr.SessionKey)
	assert.Equal(t, "10.0.0.5:20014", rr.ServerAddr.String())

	err := rr.Read(wire.NewReader(w.Bytes()[:10]))
	require.ErrorIs(t, err, wire.ErrShortRead)
}

func TestStatus_Predicates(t *testing.T) {
	tests := []struct {
		s                     Status
		succeeded, fatal, ok bool
		clientSide           bool
	}{
		{StatusNotSet, false, false, true, true},
		{StatusLoggedOn, true, false, true, true},
		{StatusConnectionFailed, false, true, false, true},
		{StatusCancelled, false, true, false, true},
		{StatusUnknownError, false, true, false, true},
		{StatusDNSLookupFailed, false, false, false, true},
		{StatusNoSuchUser, false, false, false, false},
		{StatusCustomDefinedError, false, false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.s.String(), func(t *testing.T) {
			assert.Equal(t, tt.succeeded, tt.s.Succeeded())
			assert.Equal(t, tt.fatal, tt.s.Fatal())
			assert.Equal(t, tt.ok, tt.s.Okay())
			assert.Equal(t, tt.clientSide, tt.s.IsClientSide())
		})
	}
	assert.Equal(t, Status(66), StatusNoSuchUser)
	assert.Equal(t, "STATUS(200)", Status(200).String())
}
