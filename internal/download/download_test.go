package download

import (
	"bytes"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/worldlink/internal/seqnum"
)

func TestDownload_OutOfOrderCompletesWithDescription(t *testing.T) {
	d := New(1)
	d.Insert(2, []byte("c"), true)
	d.Insert(0, []byte("a"), false)
	d.Insert(1, []byte("b"), false)

	assert.Empty(t, d.Holes())
	assert.False(t, d.Complete(), "no description yet")

	d.SetDescription("welcome")
	assert.True(t, d.Complete())
	assert.Equal(t, []byte("abc"), d.Bytes())
	assert.Equal(t, seqnum.Seq8(3), d.Expected())
}

func TestDownload_Holes(t *testing.T) {
	d := New(1)
	d.SetDescription("x")
	d.Insert(0, []byte("a"), false)
	d.Insert(2, []byte("c"), true)

	assert.Equal(t, []seqnum.Seq8{1}, d.Holes())
	assert.False(t, d.Complete())
	assert.Equal(t, seqnum.Seq8(1), d.Expected())

	d.Insert(1, []byte("b"), false)
	assert.Empty(t, d.Holes())
	assert.True(t, d.Complete())
	assert.Equal(t, []byte("abc"), d.Bytes())
}

func TestDownload_LeadingHoles(t *testing.T) {
	d := New(1)
	d.Insert(3, []byte("d"), true)
	assert.Equal(t, []seqnum.Seq8{0, 1, 2}, d.Holes())
	assert.Equal(t, seqnum.Seq8(0), d.Expected())
}

func TestDownload_DuplicateIgnored(t *testing.T) {
	d := New(1)
	d.Insert(0, []byte("a"), false)
	d.Insert(1, []byte("b"), true)
	d.Insert(1, []byte("B"), true)

	d.SetDescription("x")
	assert.True(t, d.Complete())
	assert.Equal(t, []byte("ab"), d.Bytes())
	assert.Equal(t, 2, d.Len())
}

func TestDownload_DuplicateAfterConsume(t *testing.T) {
	d := New(1)
	d.SetDescription("x")
	d.Insert(0, []byte("a"), false)
	d.Insert(1, []byte("b"), false)
	require.Equal(t, seqnum.Seq8(2), d.Expected())

	d.Insert(0, []byte("A"), false)
	assert.Empty(t, d.Holes(), "a consumed fragment must not open holes")
	assert.Equal(t, seqnum.Seq8(2), d.Expected())
	assert.Equal(t, 2, d.Len())

	d.Insert(2, []byte("c"), true)
	require.True(t, d.Complete())
	assert.Equal(t, []byte("abc"), d.Bytes())
}

func TestDownload_DuplicatePending(t *testing.T) {
	d := New(1)
	d.SetDescription("x")
	d.Insert(2, []byte("c"), true)
	d.Insert(1, []byte("b"), false)
	d.Insert(2, []byte("C"), true)
	d.Insert(1, []byte("B"), false)
	assert.Equal(t, []seqnum.Seq8{0}, d.Holes())
	assert.Equal(t, 2, d.Len())

	d.Insert(0, []byte("a"), false)
	require.True(t, d.Complete())
	assert.Equal(t, []byte("abc"), d.Bytes())
}

func TestDownload_DuplicateAfterWrap(t *testing.T) {
	const n = 300
	d := New(1)
	d.SetDescription("x")
	for i := range n {
		d.Insert(seqnum.Seq8(uint8(i)), []byte{byte(i)}, false)
		if i >= 10 {
			// повтор фрагмента, собранного десять шагов назад
			d.Insert(seqnum.Seq8(uint8(i-10)), []byte{0xFF}, false)
		}
	}
	last := n
	d.Insert(seqnum.Seq8(uint8(last)), []byte{byte(last)}, true)

	require.True(t, d.Complete())
	assert.Empty(t, d.Holes())
	got := d.Bytes()
	require.Len(t, got, n+1)
	for i, b := range got {
		assert.Equal(t, byte(i), b, "byte %d", i)
	}
}

func TestDownload_MoreThan256Fragments(t *testing.T) {
	const n = 700
	want := make([]byte, n)
	for i := range want {
		want[i] = byte(i * 7)
	}

	// Перемешиваем внутри окон по 64 фрагмента.
	rng := rand.New(rand.NewPCG(1, 2))
	d := New(9)
	d.SetDescription("big")
	for start := 0; start < n; start += 64 {
		end := min(start+64, n)
		order := rng.Perm(end - start)
		for _, k := range order {
			i := start + k
			d.Insert(seqnum.Seq8(uint8(i)), want[i:i+1], i == n-1)
		}
	}

	require.True(t, d.Complete())
	assert.True(t, bytes.Equal(want, d.Bytes()))
}

func TestTracker_FragmentsThenHeader(t *testing.T) {
	tr := NewTracker()

	_, done := tr.HandleFragment(5, 1, []byte("world"), true)
	assert.False(t, done)
	_, done = tr.HandleFragment(5, 0, []byte("hello "), false)
	assert.False(t, done)
	assert.Equal(t, 1, tr.Len())

	c, done := tr.HandleHeader(5, "greeting")
	require.True(t, done)
	assert.Equal(t, Completed{ID: 5, Description: "greeting", Data: []byte("hello world")}, c)
	assert.Zero(t, tr.Len())
}

func TestTracker_HeaderThenFragments(t *testing.T) {
	tr := NewTracker()
	_, done := tr.HandleHeader(7, "d")
	assert.False(t, done)

	_, done = tr.HandleFragment(7, 0, []byte("x"), false)
	assert.False(t, done)
	c, done := tr.HandleFragment(7, 1, []byte("y"), true)
	require.True(t, done)
	assert.Equal(t, []byte("xy"), c.Data)

	_, ok := tr.Get(7)
	assert.False(t, ok)
}

func TestTracker_DuplicateFragments(t *testing.T) {
	tr := NewTracker()
	tr.HandleHeader(4, "dup")

	_, done := tr.HandleFragment(4, 0, []byte("a"), false)
	assert.False(t, done)
	_, done = tr.HandleFragment(4, 1, []byte("b"), false)
	assert.False(t, done)
	_, done = tr.HandleFragment(4, 0, []byte("A"), false)
	assert.False(t, done)
	_, done = tr.HandleFragment(4, 1, []byte("B"), false)
	assert.False(t, done)

	c, done := tr.HandleFragment(4, 2, []byte("c"), true)
	require.True(t, done)
	assert.Equal(t, []byte("abc"), c.Data)
	assert.Zero(t, tr.Len())
}

func TestTracker_LateMessagesAfterCompletion(t *testing.T) {
	tr := NewTracker()
	tr.HandleHeader(6, "d")
	_, done := tr.HandleFragment(6, 0, []byte("x"), true)
	require.True(t, done)

	_, done = tr.HandleFragment(6, 0, []byte("x"), true)
	assert.False(t, done, "a finished transfer is not delivered twice")
	_, done = tr.HandleHeader(6, "d")
	assert.False(t, done)
	assert.Zero(t, tr.Len())
	_, ok := tr.Get(6)
	assert.False(t, ok)

	// Другие id не затронуты.
	_, done = tr.HandleFragment(7, 0, []byte("y"), false)
	assert.False(t, done)
	assert.Equal(t, 1, tr.Len())
}

func TestTracker_ResetForgetsCompleted(t *testing.T) {
	tr := NewTracker()
	tr.HandleHeader(1, "d")
	_, done := tr.HandleFragment(1, 0, []byte("x"), true)
	require.True(t, done)

	// After a reconnect ids start over.
	tr.Reset()
	tr.HandleHeader(1, "again")
	c, done := tr.HandleFragment(1, 0, []byte("z"), true)
	require.True(t, done)
	assert.Equal(t, "again", c.Description)
}

func TestTracker_HeaderCollision(t *testing.T) {
	tr := NewTracker()
	tr.HandleHeader(3, "first")
	_, done := tr.HandleHeader(3, "second")
	assert.False(t, done)

	d, ok := tr.Get(3)
	require.True(t, ok)
	desc, _ := d.Description()
	assert.Equal(t, "first", desc)
}

func TestTracker_Reset(t *testing.T) {
	tr := NewTracker()
	tr.HandleFragment(1, 0, []byte("a"), false)
	tr.HandleHeader(2, "b")
	require.Equal(t, 2, tr.Len())

	tr.Reset()
	assert.Zero(t, tr.Len())
}
