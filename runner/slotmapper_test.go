package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlotMapper_Compute_SingleRequestWithinOnePage(t *testing.T) {
	pt := NewPageTable(2, 4)
	require.NoError(t, pt.AddRow([]int32{100}, 0))

	sm := NewSlotMapper(16)
	triples := sm.Compute([]int32{0}, []int32{5}, pt)

	require.Len(t, triples, 1)
	assert.Equal(t, int32(100*16), triples[0].KVCacheStartIndex)
	assert.Equal(t, int32(0), triples[0].NewKVStartIndex)
	assert.Equal(t, int32(5), triples[0].SliceLen)
}

func TestSlotMapper_Compute_SpansTwoPages(t *testing.T) {
	pt := NewPageTable(2, 4)
	require.NoError(t, pt.AddRow([]int32{5, 6}, 0))

	sm := NewSlotMapper(16)
	// start=12, scheduled=8 -> tokens [12,20), crosses page boundary at 16
	triples := sm.Compute([]int32{12}, []int32{8}, pt)

	require.Len(t, triples, 2)
	assert.Equal(t, int32(5*16+12), triples[0].KVCacheStartIndex)
	assert.Equal(t, int32(4), triples[0].SliceLen) // [12,16)
	assert.Equal(t, int32(6*16), triples[1].KVCacheStartIndex)
	assert.Equal(t, int32(4), triples[1].SliceLen) // [16,20)
	assert.Equal(t, int32(4), triples[1].NewKVStartIndex)
}

func TestSlotMapper_Compute_SkipsZeroScheduledRequests(t *testing.T) {
	pt := NewPageTable(2, 4)
	require.NoError(t, pt.AddRow([]int32{1}, 0))
	require.NoError(t, pt.AddRow([]int32{2}, 1))

	sm := NewSlotMapper(16)
	triples := sm.Compute([]int32{0, 0}, []int32{0, 5}, pt)
	require.Len(t, triples, 1)
	assert.Equal(t, int32(2*16), triples[0].KVCacheStartIndex)
}

func TestPad_ZeroFillsTailAndTransposes(t *testing.T) {
	triples := []SlotTriple{{KVCacheStartIndex: 1, NewKVStartIndex: 0, SliceLen: 3}}
	kv, newKV, sl := Pad(triples, 4)
	assert.Equal(t, []int32{1, 0, 0, 0}, kv)
	assert.Equal(t, []int32{0, 0, 0, 0}, newKV)
	assert.Equal(t, []int32{3, 0, 0, 0}, sl)
}
