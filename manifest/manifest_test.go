package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func block(version int64) BlockInfo {
	var h [32]byte
	h[0] = byte(version)
	return BlockInfo{Version: version, Hash: h, Type: BlockTypeData}
}

func TestPutBlockRejectsOverwrite(t *testing.T) {
	m := New(1, 1, 1, 1)
	require.NoError(t, m.PutBlock(0, block(1), false))

	err := m.PutBlock(0, block(2), false)
	require.Error(t, err)
}

func TestPutBlockOverwriteAllowed(t *testing.T) {
	m := New(1, 1, 1, 1)
	require.NoError(t, m.PutBlock(0, block(1), false))
	require.NoError(t, m.PutBlock(0, block(2), true))

	bi, ok := m.GetBlock(0)
	require.True(t, ok)
	assert.Equal(t, int64(2), bi.Version)
}

func TestTruncateDropsAboveMax(t *testing.T) {
	m := New(1, 1, 1, 1)
	for i := uint64(0); i < 5; i++ {
		require.NoError(t, m.PutBlock(i, block(1), false))
	}
	m.Truncate(2)

	assert.Equal(t, 3, m.NumBlocks())
	_, ok := m.GetBlock(3)
	assert.False(t, ok)
}

func TestIterIsAscending(t *testing.T) {
	m := New(1, 1, 1, 1)
	for _, id := range []uint64{5, 1, 3, 0, 2, 4} {
		require.NoError(t, m.PutBlock(id, block(1), false))
	}
	var order []uint64
	m.Iter(func(id uint64, _ BlockInfo) { order = append(order, id) })

	assert.Equal(t, []uint64{0, 1, 2, 3, 4, 5}, order)
}

// §8 property 1: patch is idempotent.
func TestPatchIdempotent(t *testing.T) {
	base := New(1, 1, 1, 1)
	require.NoError(t, base.PutBlock(0, block(1), false))

	delta := New(1, 1, 1, 1)
	require.NoError(t, delta.PutBlock(0, block(2), false))
	require.NoError(t, delta.PutBlock(1, block(1), false))

	once := base.Clone()
	once.Patch(delta)

	twice := base.Clone()
	twice.Patch(delta)
	twice.Patch(delta)

	assert.True(t, once.Equal(twice))
}

// §8 property 2: strict-progress deltas commute.
func TestPatchCommutesForStrictProgressDeltas(t *testing.T) {
	base := New(1, 1, 1, 1)
	require.NoError(t, base.PutBlock(0, block(1), false))
	require.NoError(t, base.PutBlock(1, block(1), false))

	d1 := New(1, 1, 1, 1)
	require.NoError(t, d1.PutBlock(0, block(2), false))

	d2 := New(1, 1, 1, 1)
	require.NoError(t, d2.PutBlock(1, block(3), false))

	order1 := base.Clone()
	order1.Patch(d1)
	order1.Patch(d2)

	order2 := base.Clone()
	order2.Patch(d2)
	order2.Patch(d1)

	assert.True(t, order1.Equal(order2))
}

// §8 S4: a strictly-newer local write survives a merge against a stale
// refresh and the merge is re-runnable without change.
func TestPatchPreservesNewerLocalWrite(t *testing.T) {
	local := New(1, 1, 1, 1)
	require.NoError(t, local.PutBlock(0, block(3), false))

	refreshed := New(1, 1, 1, 1)
	require.NoError(t, refreshed.PutBlock(0, block(2), false))

	local.Patch(refreshed)
	bi, ok := local.GetBlock(0)
	require.True(t, ok)
	assert.Equal(t, int64(3), bi.Version)

	before := local.Clone()
	local.Patch(refreshed)
	assert.True(t, before.Equal(local))
}

func TestValidateDenseAllowsShortFinalBlock(t *testing.T) {
	m := New(1, 1, 1, 1)
	m.Size = 150
	require.NoError(t, m.PutBlock(0, block(1), false))
	require.NoError(t, m.PutBlock(1, block(1), false))

	assert.NoError(t, m.ValidateDense(100))
}

func TestValidateDenseRejectsHole(t *testing.T) {
	m := New(1, 1, 1, 1)
	m.Size = 250
	require.NoError(t, m.PutBlock(0, block(1), false))
	require.NoError(t, m.PutBlock(2, block(1), false))

	assert.Error(t, m.ValidateDense(100))
}
