package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAssemblerConfig() RunnerConfig {
	cfg := DefaultRunnerConfig()
	cfg.MaxNumSeqs = 8
	cfg.MaxModelLen = 64
	cfg.VocabSize = 50
	cfg.PageSize = 4
	cfg.MaxNumPagesPerReq = 16
	cfg.NumCacheGroups = 1
	cfg.TokenPaddingMinSize = 16
	cfg.TokenPaddingGap = 0
	cfg.NumSlicesPerKVCacheUpdatePage = 4
	cfg.MaxNumReqsPerForward = 8
	return cfg
}

func TestInputAssembler_Prepare_PadsTokensAndRequests(t *testing.T) {
	cfg := testAssemblerConfig()
	sb := NewSequenceBuffer(cfg)
	_, err := sb.AddRequest(&CachedRequestState{
		ReqID:          "a",
		PromptTokenIDs: []int32{1, 2, 3},
		SamplingParams: SamplingParams{Type: SamplingGreedy},
		PageIDs:        [][]int32{{0, 1}},
	}, nil)
	require.NoError(t, err)

	ia := NewInputAssembler(cfg, NewPaddingPolicy(cfg))
	prepared, err := ia.Prepare(sb, 0, func(slot int) int32 { return 3 })
	require.NoError(t, err)

	assert.Equal(t, 16, len(prepared.Batch.InputIDs)) // smallest bucket >= 3
	assert.Equal(t, 8, prepared.PaddedNumReqs)         // floor of 8
	assert.Equal(t, []int32{1, 2, 3}, prepared.Batch.InputIDs[:3])
	assert.Equal(t, 1, prepared.NumReqs)
	assert.Equal(t, 1, prepared.EndIndex)
}

func TestInputAssembler_Prepare_LogitsIndicesPointAtLastTokenOfEachRequest(t *testing.T) {
	cfg := testAssemblerConfig()
	sb := NewSequenceBuffer(cfg)
	for _, id := range []string{"a", "b"} {
		_, err := sb.AddRequest(&CachedRequestState{
			ReqID:          id,
			PromptTokenIDs: []int32{1, 2, 3, 4},
			SamplingParams: SamplingParams{Type: SamplingGreedy},
			PageIDs:        [][]int32{{0, 1}},
		}, nil)
		require.NoError(t, err)
	}

	ia := NewInputAssembler(cfg, NewPaddingPolicy(cfg))
	prepared, err := ia.Prepare(sb, 0, func(slot int) int32 { return 4 })
	require.NoError(t, err)

	// request a occupies input positions [0,4), request b occupies [4,8).
	assert.Equal(t, int32(3), prepared.LogitsIndices[0])
	assert.Equal(t, int32(7), prepared.LogitsIndices[1])
}

func TestInputAssembler_Prepare_SplitsAcrossSubBatchesWhenOverCap(t *testing.T) {
	cfg := testAssemblerConfig()
	cfg.MaxNumReqsPerForward = 1
	sb := NewSequenceBuffer(cfg)
	for _, id := range []string{"a", "b"} {
		_, err := sb.AddRequest(&CachedRequestState{
			ReqID:          id,
			PromptTokenIDs: []int32{1, 2},
			SamplingParams: SamplingParams{Type: SamplingGreedy},
			PageIDs:        [][]int32{{0}},
		}, nil)
		require.NoError(t, err)
	}

	ia := NewInputAssembler(cfg, NewPaddingPolicy(cfg))
	prepared, err := ia.Prepare(sb, 0, func(slot int) int32 { return 2 })
	require.NoError(t, err)
	assert.Equal(t, 1, prepared.NumReqs)
	assert.Equal(t, 1, prepared.EndIndex)

	prepared2, err := ia.Prepare(sb, prepared.EndIndex, func(slot int) int32 { return 2 })
	require.NoError(t, err)
	assert.Equal(t, 1, prepared2.NumReqs)
	assert.Equal(t, 2, prepared2.EndIndex)
}

func TestInputAssembler_Prepare_OutOfRangeStartIndex_IsProtocolError(t *testing.T) {
	cfg := testAssemblerConfig()
	sb := NewSequenceBuffer(cfg)
	ia := NewInputAssembler(cfg, NewPaddingPolicy(cfg))
	_, err := ia.Prepare(sb, 0, func(slot int) int32 { return 0 })
	require.Error(t, err)
	var rerr *RunnerError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, ErrProtocolViolation, rerr.Kind)
}
