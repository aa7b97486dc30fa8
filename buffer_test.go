package someip

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecvBuffer_Defaults(t *testing.T) {
	b := newRecvBuffer(0, 0)
	assert.Equal(t, HeaderSize, b.capacity())
	assert.Equal(t, HeaderSize, b.initial)
	assert.Zero(t, b.fill)
}

func TestRecvBuffer_PrepareWholeFreeRegion(t *testing.T) {
	b := newRecvBuffer(32, 0)
	copy(b.prepare(), []byte("abcdef"))
	b.commit(6)

	free := b.prepare()
	assert.Len(t, free, 26)
	assert.Equal(t, []byte("abcdef"), b.bytes())
}

func TestRecvBuffer_PrepareGrowsForMissing(t *testing.T) {
	b := newRecvBuffer(8, 0)
	copy(b.prepare(), []byte("12345678"))
	b.commit(8)
	b.missing = 24

	free := b.prepare()
	assert.Len(t, free, 24)
	assert.Equal(t, 32, b.capacity())
	assert.Zero(t, b.missing)
	assert.Equal(t, []byte("12345678"), b.bytes())
}

func TestRecvBuffer_PrepareMissingWithinCapacity(t *testing.T) {
	b := newRecvBuffer(64, 0)
	b.commit(4)
	b.missing = 4

	free := b.prepare()
	assert.Len(t, free, 4)
	assert.Equal(t, 64, b.capacity())
}

func TestRecvBuffer_Commit_Overflow(t *testing.T) {
	b := newRecvBuffer(8, 0)
	assert.Panics(t, func() { b.commit(9) })
}

func TestRecvBuffer_ShrinkPressure(t *testing.T) {
	b := newRecvBuffer(8, 2)
	b.ensureCapacity(64)

	b.fill = 10
	b.noteShrinkPressure()
	b.noteShrinkPressure()
	assert.Equal(t, 2, b.shrinkCount)

	// Above half the capacity resets the counter.
	b.fill = 40
	b.noteShrinkPressure()
	assert.Zero(t, b.shrinkCount)

	b.fill = 0
	for i := 0; i < 3; i++ {
		b.noteShrinkPressure()
	}
	require.Equal(t, 3, b.shrinkCount)

	free := b.prepare()
	assert.Len(t, free, 8)
	assert.Equal(t, 8, b.capacity())
	assert.Zero(t, b.shrinkCount)
}

func TestRecvBuffer_NoShrinkWhileFilled(t *testing.T) {
	b := newRecvBuffer(8, 1)
	b.ensureCapacity(64)
	b.shrinkCount = 5
	b.fill = 3

	b.prepare()
	assert.Equal(t, 64, b.capacity())
}

func TestRecvBuffer_ShrinkDisabled(t *testing.T) {
	b := newRecvBuffer(8, 0)
	b.ensureCapacity(64)
	for i := 0; i < 10; i++ {
		b.noteShrinkPressure()
	}
	assert.Zero(t, b.shrinkCount)

	b.prepare()
	assert.Equal(t, 64, b.capacity())
}

func TestRecvBuffer_NoPressureAtInitialSize(t *testing.T) {
	b := newRecvBuffer(8, 1)
	b.noteShrinkPressure()
	assert.Zero(t, b.shrinkCount)
}

func TestRecvBuffer_CompactFrom(t *testing.T) {
	b := newRecvBuffer(16, 0)
	copy(b.prepare(), []byte("0123456789"))
	b.commit(10)

	// Consumed 6 bytes, 4 left at offset 6.
	b.fill = 4
	b.missing = 4
	b.compactFrom(6)

	assert.Equal(t, []byte("6789"), b.bytes())
	assert.Zero(t, b.missing, "missing bytes fit the existing capacity")
}

func TestRecvBuffer_CompactKeepsMissingBeyondCapacity(t *testing.T) {
	b := newRecvBuffer(16, 0)
	b.commit(10)
	b.fill = 4
	b.missing = 20
	b.compactFrom(6)
	assert.Equal(t, 20, b.missing)
}

func TestRecvBuffer_ShrinkToKeepsData(t *testing.T) {
	b := newRecvBuffer(8, 0)
	b.ensureCapacity(32)
	copy(b.data, []byte("abc"))
	b.fill = 3

	b.shrinkTo(2)
	assert.Equal(t, 32, b.capacity(), "cannot cut into data")

	b.shrinkTo(8)
	assert.Equal(t, 8, b.capacity())
	assert.Equal(t, []byte("abc"), b.bytes())
}
