package cmd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/batchrunner/runner"
)

func demoTestConfig() runner.RunnerConfig {
	cfg := runner.DefaultRunnerConfig()
	cfg.MaxNumSeqs = 4
	cfg.VocabSize = 32
	cfg.PageSize = 4
	cfg.MaxNumPagesPerReq = 16
	cfg.NumCacheGroups = 1
	cfg.TokenPaddingMinSize = 16
	cfg.TokenPaddingGap = 0
	cfg.NumSlicesPerKVCacheUpdatePage = 4
	cfg.MaxNumReqsPerForward = 4
	cfg.MasterSeed = 1
	return cfg
}

func TestDemoWorkload_GenerateArrivals_ProducesRequestedCount(t *testing.T) {
	cfg := demoTestConfig()
	w := newDemoWorkload(cfg, 5, 0.5, 2, 4, 8, 1)
	assert.Len(t, w.pending, 5)
	for _, p := range w.pending {
		assert.GreaterOrEqual(t, len(p.promptTokenIDs), 2)
		assert.Less(t, len(p.promptTokenIDs), 4+1)
	}
}

func TestDemoWorkload_Step_AdmitsArrivedRequestsAsPrefill(t *testing.T) {
	cfg := demoTestConfig()
	w := newDemoWorkload(cfg, 1, 0, 2, 2, 8, 1) // rate 0 forces arrivalStep 0
	so := w.Step(0, nil)
	require.Len(t, so.ScheduledNewReqs, 1)
	assert.Equal(t, int32(2), so.NumScheduledTokens[so.ScheduledNewReqs[0].ReqID])
	assert.Equal(t, so.NumScheduledTokens[so.ScheduledNewReqs[0].ReqID], so.TotalNumScheduledTokens)
	assert.Len(t, w.admitted, 1)
}

func TestDemoWorkload_Step_RespectsMaxNumSeqsAdmissionCap(t *testing.T) {
	cfg := demoTestConfig()
	cfg.MaxNumSeqs = 1
	w := newDemoWorkload(cfg, 3, 0, 2, 2, 8, 1)
	so := w.Step(0, nil)
	assert.Len(t, so.ScheduledNewReqs, 1)
	assert.Len(t, w.pending, 2)
}

func TestDemoWorkload_Step_EOSTokenFinishesRequest(t *testing.T) {
	cfg := demoTestConfig()
	w := newDemoWorkload(cfg, 1, 0, 2, 2, 8, 1)
	so := w.Step(0, nil)
	reqID := so.ScheduledNewReqs[0].ReqID

	out := &runner.ModelRunnerOutput{
		ReqIDs:          []string{reqID},
		SampledTokenIDs: [][]int32{{w.eosToken}},
	}
	so2 := w.Step(1, out)
	_, finished := so2.FinishedReqIDs[reqID]
	assert.True(t, finished)
	assert.Empty(t, w.admitted)
}

func TestDemoWorkload_Step_MaxOutputTokensForcesCompletion(t *testing.T) {
	cfg := demoTestConfig()
	w := newDemoWorkload(cfg, 1, 0, 2, 2, 1, 1) // maxOutput=1
	so := w.Step(0, nil)
	reqID := so.ScheduledNewReqs[0].ReqID

	out := &runner.ModelRunnerOutput{
		ReqIDs:          []string{reqID},
		SampledTokenIDs: [][]int32{{0}}, // not the eos token
	}
	so2 := w.Step(1, out)
	_, finished := so2.FinishedReqIDs[reqID]
	assert.True(t, finished)
}

func TestToyForward_ReturnsOneRowPerInputToken(t *testing.T) {
	cfg := demoTestConfig()
	fwd := toyForward(cfg, int32(cfg.VocabSize-1), 1)
	batch := runner.InputBatch{InputIDs: []int32{1, 2, 3}}
	rows, err := fwd(context.Background(), batch)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Len(t, rows[0], cfg.VocabSize)
}

func TestDemoWorkload_Done_TrueOnlyWhenNothingPendingOrAdmitted(t *testing.T) {
	cfg := demoTestConfig()
	w := newDemoWorkload(cfg, 1, 0, 2, 2, 8, 1)
	assert.False(t, w.Done())
	w.Step(0, nil)
	assert.False(t, w.Done())
}
