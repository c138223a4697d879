package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageTable_AddRow_WritesColumnsFromZero(t *testing.T) {
	pt := NewPageTable(4, 4)
	require.NoError(t, pt.AddRow([]int32{10, 11, 12}, 1))
	assert.Equal(t, int32(10), pt.Get(1, 0))
	assert.Equal(t, int32(11), pt.Get(1, 1))
	assert.Equal(t, int32(12), pt.Get(1, 2))
	assert.Equal(t, 3, pt.RowLen(1))
}

func TestPageTable_AddRow_ExceedsWidth_IsCapacityError(t *testing.T) {
	pt := NewPageTable(2, 2)
	err := pt.AddRow([]int32{1, 2, 3}, 0)
	require.Error(t, err)
	var rerr *RunnerError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, ErrCapacityExceeded, rerr.Kind)
}

func TestPageTable_AppendRow_ContinuesFromCurrentLength(t *testing.T) {
	pt := NewPageTable(2, 4)
	require.NoError(t, pt.AddRow([]int32{1, 2}, 0))
	require.NoError(t, pt.AppendRow([]int32{3, 4}, 0))
	assert.Equal(t, 4, pt.RowLen(0))
	assert.Equal(t, int32(3), pt.Get(0, 2))
	assert.Equal(t, int32(4), pt.Get(0, 3))
}

func TestPageTable_SwapRow_ExchangesBothRows(t *testing.T) {
	pt := NewPageTable(2, 2)
	require.NoError(t, pt.AddRow([]int32{1, 2}, 0))
	require.NoError(t, pt.AddRow([]int32{3, 4}, 1))
	pt.SwapRow(0, 1)
	assert.Equal(t, int32(3), pt.Get(0, 0))
	assert.Equal(t, int32(1), pt.Get(1, 0))
}

func TestPageTable_MoveRow_ClearsSource(t *testing.T) {
	pt := NewPageTable(2, 2)
	require.NoError(t, pt.AddRow([]int32{5, 6}, 0))
	pt.MoveRow(0, 1)
	assert.Equal(t, int32(5), pt.Get(1, 0))
	assert.Equal(t, 0, pt.RowLen(0))
	assert.Equal(t, int32(0), pt.Get(0, 0))
}

func TestMultiGroupPageTable_AddRow_IsAtomicAcrossGroups(t *testing.T) {
	m := NewMultiGroupPageTable(2, 2, 2)
	require.NoError(t, m.AddRow([][]int32{{1, 2}, {9, 8}}, 0))
	assert.Equal(t, int32(1), m.Group(0).Get(0, 0))
	assert.Equal(t, int32(9), m.Group(1).Get(0, 0))
}

func TestMultiGroupPageTable_SwapRow_AppliesToEveryGroup(t *testing.T) {
	m := NewMultiGroupPageTable(2, 2, 2)
	require.NoError(t, m.AddRow([][]int32{{1}, {2}}, 0))
	require.NoError(t, m.AddRow([][]int32{{3}, {4}}, 1))
	m.SwapRow(0, 1)
	assert.Equal(t, int32(3), m.Group(0).Get(0, 0))
	assert.Equal(t, int32(4), m.Group(1).Get(0, 0))
}
