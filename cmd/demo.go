// cmd/demo.go
package cmd

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/inference-sim/batchrunner/runner"
)

// demoWorkload drives a Runner through a synthetic Poisson arrival stream,
// playing the part the scheduler plays in production: admission, page
// allocation, and per-step scheduling decisions. Grounded in the teacher's
// sim/simulator.go GeneratePoissonArrivals + Run loop, adapted from a
// discrete-event simulation to the step-synchronous Runner contract.
type demoWorkload struct {
	cfg         runner.RunnerConfig
	numRequests int
	rate        float64
	promptMin   int
	promptMax   int
	maxOutput   int
	eosToken    int32
	rng         *rand.Rand

	nextPage int32

	pending  []*pendingRequest
	admitted map[string]*admittedRequest
}

type pendingRequest struct {
	reqID          string
	promptTokenIDs []int32
	arrivalStep    int64
}

type admittedRequest struct {
	reqID             string
	promptLen         int
	numComputedTokens int64
	numOutputTokens   int
	pageIDs           []int32
	prefillDone       bool
}

func newDemoWorkload(cfg runner.RunnerConfig, numRequests int, rate float64, promptMin, promptMax, maxOutput int, seed int64) *demoWorkload {
	w := &demoWorkload{
		cfg:         cfg,
		numRequests: numRequests,
		rate:        rate,
		promptMin:   promptMin,
		promptMax:   promptMax,
		maxOutput:   maxOutput,
		eosToken:    int32(cfg.VocabSize - 1),
		rng:         rand.New(rand.NewSource(seed)),
		admitted:    make(map[string]*admittedRequest),
	}
	w.generateArrivals()
	return w
}

// generateArrivals lays out numRequests synthetic requests along a Poisson
// process at the given rate, mirroring the teacher's
// GeneratePoissonArrivals but in step units rather than microseconds.
func (w *demoWorkload) generateArrivals() {
	step := int64(0)
	for i := 0; i < w.numRequests; i++ {
		if w.rate > 0 {
			gap := -math.Log(1-w.rng.Float64()) / w.rate
			step += int64(gap) + 1
		}
		promptLen := w.promptMin
		if w.promptMax > w.promptMin {
			promptLen += w.rng.Intn(w.promptMax - w.promptMin + 1)
		}
		prompt := make([]int32, promptLen)
		for j := range prompt {
			prompt[j] = int32(w.rng.Intn(w.cfg.VocabSize - 1)) // reserve eosToken
		}
		w.pending = append(w.pending, &pendingRequest{
			reqID:          fmt.Sprintf("req-%d", i),
			promptTokenIDs: prompt,
			arrivalStep:    step,
		})
	}
}

// Step builds the SchedulerOutput for one runner step: admits any requests
// whose arrival step has passed (subject to MaxNumSeqs) with their whole
// prompt scheduled as one prefill, schedules one decode token per other
// admitted request, and finishes requests that hit the EOS token or
// maxOutput.
func (w *demoWorkload) Step(step int64, lastOutput *runner.ModelRunnerOutput) *runner.SchedulerOutput {
	so := &runner.SchedulerOutput{
		FinishedReqIDs:     make(map[string]struct{}),
		NumScheduledTokens: make(map[string]int32),
	}

	if lastOutput != nil {
		for slot, reqID := range lastOutput.ReqIDs {
			toks := lastOutput.SampledTokenIDs[slot]
			if len(toks) == 0 {
				continue
			}
			ar, ok := w.admitted[reqID]
			if !ok {
				continue
			}
			ar.numOutputTokens++
			if toks[0] == w.eosToken || ar.numOutputTokens >= w.maxOutput {
				so.FinishedReqIDs[reqID] = struct{}{}
				delete(w.admitted, reqID)
			}
		}
	}

	for len(w.pending) > 0 && w.pending[0].arrivalStep <= step && len(w.admitted) < w.cfg.MaxNumSeqs {
		pr := w.pending[0]
		w.pending = w.pending[1:]

		pageIDs := w.allocatePages(len(pr.promptTokenIDs))
		ar := &admittedRequest{reqID: pr.reqID, promptLen: len(pr.promptTokenIDs), pageIDs: pageIDs}
		w.admitted[pr.reqID] = ar

		so.ScheduledNewReqs = append(so.ScheduledNewReqs, runner.ScheduledNewRequest{
			ReqID:          pr.reqID,
			PromptTokenIDs: pr.promptTokenIDs,
			SamplingParams: runnerSamplingParams(w.eosToken),
			PageIDs:        [][]int32{pageIDs},
		})
		so.NumScheduledTokens[pr.reqID] = int32(len(pr.promptTokenIDs))
		ar.numComputedTokens = int64(len(pr.promptTokenIDs))
		ar.prefillDone = true
	}

	for reqID, ar := range w.admitted {
		if _, justAdded := so.NumScheduledTokens[reqID]; justAdded {
			continue
		}
		curLen := int(ar.numComputedTokens) + ar.numOutputTokens + 1
		var newPages [][]int32
		if needed := (curLen + w.cfg.PageSize - 1) / w.cfg.PageSize; needed > len(ar.pageIDs) {
			extra := w.allocatePages(w.cfg.PageSize)
			ar.pageIDs = append(ar.pageIDs, extra...)
			newPages = [][]int32{extra}
		}
		so.ScheduledCachedReqs = append(so.ScheduledCachedReqs, runner.ScheduledCachedRequest{
			ReqID:             reqID,
			NumComputedTokens: ar.numComputedTokens + int64(ar.numOutputTokens),
			NewPageIDs:        newPages,
		})
		so.NumScheduledTokens[reqID] = 1
	}

	var total int32
	for _, n := range so.NumScheduledTokens {
		total += n
	}
	so.TotalNumScheduledTokens = total
	return so
}

func (w *demoWorkload) allocatePages(tokens int) []int32 {
	n := (tokens + w.cfg.PageSize - 1) / w.cfg.PageSize
	if n == 0 {
		n = 1
	}
	pages := make([]int32, n)
	for i := range pages {
		pages[i] = w.nextPage
		w.nextPage++
	}
	return pages
}

func (w *demoWorkload) Done() bool {
	return len(w.pending) == 0 && len(w.admitted) == 0
}

func runnerSamplingParams(eosToken int32) runner.SamplingParams {
	return runner.SamplingParams{
		Type:              runner.SamplingGreedy,
		RepetitionPenalty: 1,
		AllStopTokenIDs:   map[int32]struct{}{eosToken: {}},
	}
}

// toyForward is a placeholder ForwardFunc for the demo CLI: it has no real
// model weights, so it returns logits drawn from a per-(step,row)
// deterministic RNG, occasionally favoring the eos token so requests
// terminate instead of running to maxOutput every time.
func toyForward(cfg runner.RunnerConfig, eosToken int32, seed int64) runner.ForwardFunc {
	step := int64(0)
	return func(ctx context.Context, batch runner.InputBatch) ([][]float32, error) {
		step++
		rows := make([][]float32, len(batch.InputIDs))
		for i := range rows {
			row := make([]float32, cfg.VocabSize)
			rowRNG := rand.New(rand.NewSource(seed ^ (step << 20) ^ int64(i)))
			for j := range row {
				row[j] = float32(rowRNG.NormFloat64())
			}
			if rowRNG.Float64() < 0.12 {
				row[eosToken] = 50
			}
			rows[i] = row
		}
		return rows, nil
	}
}
