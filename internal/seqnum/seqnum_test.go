package seqnum

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeq8_Wrap(t *testing.T) {
	assert.Equal(t, Seq8(0), Seq8(255).Next())
	assert.Equal(t, Seq8(4), Seq8(250).Add(10))
	assert.Equal(t, Seq8(250), Seq8(4).Add(-10))
}

func TestSeq8_Distance(t *testing.T) {
	tests := []struct {
		from, to Seq8
		dist     int
		diff     int
	}{
		{0, 0, 0, 0},
		{0, 1, 1, 1},
		{255, 0, 1, 1},
		{250, 3, 9, 9},
		{3, 250, 247, -9},
		{0, 128, 128, -128},
		{0, 127, 127, 127},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.dist, tt.from.Distance(tt.to), "distance %d->%d", tt.from, tt.to)
		assert.Equal(t, tt.diff, tt.from.Diff(tt.to), "diff %d->%d", tt.from, tt.to)
	}
}

func TestBefore_RelativeToBase(t *testing.T) {
	// base 250: 252 < 255 < 0 < 3
	assert.True(t, Before(252, 255, 250))
	assert.True(t, Before(255, 0, 250))
	assert.True(t, Before(0, 3, 250))
	assert.False(t, Before(3, 0, 250))
	assert.False(t, Before(7, 7, 250))
	assert.Equal(t, 0, Offset(7, 7, 250))
	assert.Positive(t, Offset(1, 254, 250))
}
