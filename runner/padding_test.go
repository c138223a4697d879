package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPadding() *PaddingPolicy {
	cfg := DefaultRunnerConfig()
	cfg.MaxModelLen = 256
	cfg.TokenPaddingMinSize = 16
	cfg.TokenPaddingGap = 0
	cfg.MaxNumSeqs = 32
	cfg.PageSize = 16
	cfg.NumSlicesPerKVCacheUpdatePage = 8
	return NewPaddingPolicy(cfg)
}

func TestPaddingPolicy_PadNumTokens_RoundsUpToPowerOfTwo(t *testing.T) {
	p := testPadding()
	n, err := p.PadNumTokens(17)
	require.NoError(t, err)
	assert.Equal(t, 32, n)
}

func TestPaddingPolicy_PadNumTokens_ExactBucketStaysSame(t *testing.T) {
	p := testPadding()
	n, err := p.PadNumTokens(64)
	require.NoError(t, err)
	assert.Equal(t, 64, n)
}

func TestPaddingPolicy_PadNumTokens_ExceedsMax_IsCapacityError(t *testing.T) {
	p := testPadding()
	_, err := p.PadNumTokens(10000)
	require.Error(t, err)
	var rerr *RunnerError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, ErrCapacityExceeded, rerr.Kind)
}

func TestPaddingPolicy_PadNumReqs_SmallCountFloorsAtEight(t *testing.T) {
	p := testPadding()
	assert.Equal(t, 8, p.PadNumReqs(1))
	assert.Equal(t, 8, p.PadNumReqs(8))
}

func TestPaddingPolicy_PadNumReqs_RoundsUpToPowerOfTwo(t *testing.T) {
	p := testPadding()
	assert.Equal(t, 16, p.PadNumReqs(9))
	assert.Equal(t, 32, p.PadNumReqs(17))
}

func TestPaddingPolicy_PadNumReqs_CapsAtMaxNumSeqs(t *testing.T) {
	p := testPadding()
	assert.Equal(t, 32, p.PadNumReqs(1000))
}

func TestPaddingPolicy_PadNumSlices_RoundsToSlicesPerPage(t *testing.T) {
	p := testPadding()
	n := p.PadNumSlices(100)
	assert.Equal(t, 0, n%8)
}

func TestTokenPaddingBuckets_PanicsOnNonPowerOfTwoMinSize(t *testing.T) {
	assert.Panics(t, func() {
		tokenPaddingBuckets(17, 256, 0)
	})
}

func TestNextPowerOfTwo(t *testing.T) {
	assert.Equal(t, 1, nextPowerOfTwo(0))
	assert.Equal(t, 1, nextPowerOfTwo(1))
	assert.Equal(t, 2, nextPowerOfTwo(2))
	assert.Equal(t, 4, nextPowerOfTwo(3))
	assert.Equal(t, 16, nextPowerOfTwo(9))
}
