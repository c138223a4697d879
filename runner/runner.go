// Implements the outer step driver (spec.md §4.7): reconciles scheduler
// decisions into the SequenceBuffer, loops over sub-batches through
// InputAssembler/SlotMapper/PaddingPolicy/forward/Sampler, and commits
// sampled tokens back. Grounded in original_source/.../model_runner.py's
// execute_model/_update_states/_prepare_inputs trio, with the
// BatchContext/BatchResult struct-passing and logrus step logging style
// of the teacher's sim/batch_formation.go and sim/simulator.go.

package runner

import (
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
)

// ForwardFunc is the external forward pass: a pure function from a padded
// input batch to logits over the full padded token axis, shaped
// [len(batch.InputIDs), vocab_size]. The implementation owns the KV cache
// tensor; the runner only passes paging metadata describing where to
// read/write it.
type ForwardFunc func(ctx context.Context, batch InputBatch) ([][]float32, error)

// Runner is the single-threaded cooperative driver described in spec.md
// §5: exactly one step in flight, all buffer mutations between forward
// passes.
type Runner struct {
	cfg       RunnerConfig
	buffer    *SequenceBuffer
	requests  map[string]*CachedRequestState
	padding   *PaddingPolicy
	assembler *InputAssembler
	sampler   *Sampler
	rng       *PartitionedRNG
	forward   ForwardFunc
	Metrics   Metrics
	step      int64
}

// NewRunner builds a Runner over a fresh SequenceBuffer for cfg, driving
// forward passes through fn.
func NewRunner(cfg RunnerConfig, fn ForwardFunc) *Runner {
	padding := NewPaddingPolicy(cfg)
	rng := NewPartitionedRNG(MasterSeed(cfg.MasterSeed))
	return &Runner{
		cfg:       cfg,
		buffer:    NewSequenceBuffer(cfg),
		requests:  make(map[string]*CachedRequestState),
		padding:   padding,
		assembler: NewInputAssembler(cfg, padding),
		sampler:   NewSampler(rng),
		rng:       rng,
		forward:   fn,
	}
}

// ExecuteModel runs one scheduling step to completion: reconcile, loop
// over sub-batches, sample, commit, and report.
func (r *Runner) ExecuteModel(ctx context.Context, so *SchedulerOutput) (*ModelRunnerOutput, error) {
	r.step++
	if err := r.reconcileState(so); err != nil {
		return nil, err
	}

	if so.TotalNumScheduledTokens == 0 {
		logrus.Debugf("[step %05d] empty step, no tokens scheduled", r.step)
		return emptyModelRunnerOutput(), nil
	}

	numReqs := r.buffer.NumReqs()
	sampled := make(map[int]SampledToken, numReqs)
	scheduledBySlot := make([]int32, numReqs)

	for i := 0; i < numReqs; i++ {
		reqID := r.buffer.reqIDs[i]
		n, ok := so.NumScheduledTokens[reqID]
		if !ok {
			return nil, newProtocolError("scheduler omitted num_scheduled_tokens for active req %q", reqID)
		}
		scheduledBySlot[i] = n
	}

	var sumScheduled int32
	for _, n := range scheduledBySlot {
		sumScheduled += n
	}
	if sumScheduled != so.TotalNumScheduledTokens {
		return nil, newProtocolError("scheduled token counts sum to %d, want total_num_scheduled_tokens %d", sumScheduled, so.TotalNumScheduledTokens)
	}

	start := 0
	forwardCalls := 0
	var kvSlices int64
	for start < numReqs {
		prepared, err := r.assembler.Prepare(r.buffer, start, func(slot int) int32 { return scheduledBySlot[slot] })
		if err != nil {
			return nil, err
		}

		rawLogits, err := r.forward(ctx, prepared.Batch)
		if err != nil {
			return nil, newForwardError(err)
		}

		forwardCalls++
		kvSlices += int64(prepared.Batch.CacheMetadata.NumKVUpdateSlices)

		for localIdx := 0; localIdx < prepared.NumReqs; localIdx++ {
			slot := start + localIdx
			logitsRow := int(prepared.LogitsIndices[localIdx])
			if logitsRow < 0 || logitsRow >= len(rawLogits) {
				return nil, newProtocolError("logits index %d out of range for %d forward rows", logitsRow, len(rawLogits))
			}
			if !r.willCommit(slot, scheduledBySlot) {
				// Prefill chunk: this row's sample would be discarded, so
				// skip the RNG draw; it stays available for this request's
				// next actual decode step (spec.md §4.8).
				continue
			}
			reqID := r.buffer.reqIDs[slot]
			cached := r.requests[reqID]
			tok := r.sampler.SampleRow(reqID, cached.GeneratorSeed, rawLogits[logitsRow], cached.SamplingParams, cached.OutputTokenIDs)
			sampled[slot] = tok
		}

		start = prepared.EndIndex
	}

	out, tokensCommitted := r.commitTokens(sampled, scheduledBySlot)
	r.Metrics.RecordStep(numReqs, r.pagesInUse(), tokensCommitted, forwardCalls, kvSlices)
	logrus.Infof("[step %05d] reqs=%d forward_calls=%d tokens_committed=%d", r.step, numReqs, forwardCalls, tokensCommitted)
	return out, nil
}

// reconcileState folds a SchedulerOutput into the buffer: drops finished
// and unscheduled requests, adds new ones, extends or replaces continuing
// ones' page rows, then condenses.
func (r *Runner) reconcileState(so *SchedulerOutput) error {
	var emptied []int
	for reqID := range so.FinishedReqIDs {
		if _, ok := r.requests[reqID]; !ok {
			return newProtocolError("finished_req_ids names unknown request %q", reqID)
		}
		delete(r.requests, reqID)
		if slot, ok := r.buffer.RemoveRequest(reqID); ok {
			emptied = append(emptied, slot)
		}
		r.rng.Forget(reqID)
		r.Metrics.RequestsRemoved++
	}

	scheduledThisStep := make(map[string]struct{}, len(so.ScheduledNewReqs)+len(so.ScheduledCachedReqs))
	for _, nr := range so.ScheduledNewReqs {
		scheduledThisStep[nr.ReqID] = struct{}{}
	}
	for _, cr := range so.ScheduledCachedReqs {
		scheduledThisStep[cr.ReqID] = struct{}{}
	}

	for _, reqID := range append([]string(nil), r.buffer.reqIDs...) {
		if reqID == "" {
			continue
		}
		if _, finished := so.FinishedReqIDs[reqID]; finished {
			continue
		}
		if _, still := scheduledThisStep[reqID]; !still {
			if slot, ok := r.buffer.RemoveRequest(reqID); ok {
				emptied = append(emptied, slot)
			}
		}
	}
	sort.Ints(emptied)

	// emptied holds the slots vacated above by finished and unscheduled
	// requests, sorted ascending by slot index. New/resumed requests reuse
	// these holes instead of appending at NumReqs(), which would otherwise
	// alias a still-live slot whenever a removal and an addition land in
	// the same step (the steady state of continuous batching: one request
	// finishes while another is admitted). Mirrors model_runner.py:397-401,
	// which pops a free req_index per addition before condensing the rest.
	nextEmptied := 0
	popEmptiedSlot := func() *int {
		if nextEmptied >= len(emptied) {
			return nil
		}
		s := emptied[nextEmptied]
		nextEmptied++
		return &s
	}

	for _, nr := range so.ScheduledNewReqs {
		if _, exists := r.requests[nr.ReqID]; exists {
			return newProtocolError("scheduled_new_reqs names already-known request %q", nr.ReqID)
		}
		cached := &CachedRequestState{
			ReqID:             nr.ReqID,
			PromptTokenIDs:    nr.PromptTokenIDs,
			SamplingParams:    nr.SamplingParams,
			PageIDs:           nr.PageIDs,
			NumComputedTokens: nr.NumComputedTokens,
		}
		r.requests[nr.ReqID] = cached
		if _, err := r.buffer.AddRequest(cached, popEmptiedSlot()); err != nil {
			return err
		}
		r.Metrics.RequestsAdded++
	}

	for _, cr := range so.ScheduledCachedReqs {
		cached, ok := r.requests[cr.ReqID]
		if !ok {
			return newProtocolError("scheduled_cached_reqs names unknown request %q", cr.ReqID)
		}
		cached.NumComputedTokens = cr.NumComputedTokens

		slot, inBuffer := r.buffer.IndexOf(cr.ReqID)
		if !inBuffer {
			if _, err := r.buffer.AddRequest(cached, popEmptiedSlot()); err != nil {
				return err
			}
			continue
		}
		r.buffer.SetNumComputedTokens(slot, int32(cr.NumComputedTokens))

		if cr.ResumedFromPreemption {
			if err := r.buffer.PageTable().AddRow(cr.NewPageIDs, slot); err != nil {
				return err
			}
			cached.PageIDs = cr.NewPageIDs
		} else if len(cr.NewPageIDs) > 0 && hasAnyPages(cr.NewPageIDs) {
			if err := r.buffer.PageTable().AppendRow(cr.NewPageIDs, slot); err != nil {
				return err
			}
			cached.PageIDs = appendPageGroups(cached.PageIDs, cr.NewPageIDs)
		}
	}

	if remaining := emptied[nextEmptied:]; len(remaining) > 0 {
		r.buffer.Condense(remaining)
		r.Metrics.CondenseCalls++
	}
	return nil
}

func hasAnyPages(groups [][]int32) bool {
	for _, g := range groups {
		if len(g) > 0 {
			return true
		}
	}
	return false
}

func appendPageGroups(existing, extra [][]int32) [][]int32 {
	out := make([][]int32, len(existing))
	for i := range existing {
		out[i] = append(append([]int32(nil), existing[i]...), extra[i]...)
	}
	return out
}

// commitTokens applies spec.md §4.7's commit rule: a slot's sampled token
// is only accepted once its request's prompt has been fully consumed this
// step. It commits exactly the slots present in sampled, which the
// sampling loop in ExecuteModel fills only where willCommit holds; slots
// of prefill chunks are absent and leave no output.
func (r *Runner) commitTokens(sampled map[int]SampledToken, scheduledBySlot []int32) (*ModelRunnerOutput, int64) {
	numReqs := r.buffer.NumReqs()
	out := &ModelRunnerOutput{
		ReqIDs:          make([]string, numReqs),
		ReqIDToIndex:    make(map[string]int, numReqs),
		SampledTokenIDs: make([][]int32, numReqs),
	}

	var committed int64
	for slot := 0; slot < numReqs; slot++ {
		reqID := r.buffer.reqIDs[slot]
		out.ReqIDs[slot] = reqID
		out.ReqIDToIndex[reqID] = slot

		tok, ok := sampled[slot]
		if !ok {
			continue
		}
		seqLen := r.buffer.NumComputedTokens(slot) + scheduledBySlot[slot]

		r.buffer.SetTokenAt(slot, int(seqLen), tok.TokenID)
		r.buffer.IncrNumTokens(slot, 1)
		cached := r.requests[reqID]
		cached.OutputTokenIDs = append(cached.OutputTokenIDs, tok.TokenID)
		out.SampledTokenIDs[slot] = []int32{tok.TokenID}
		committed++

		if isStopToken(tok.TokenID, cached.SamplingParams) {
			r.Metrics.RequestsCompleted++
		}
	}
	return out, committed
}

// willCommit reports whether slot's step output will be committed: only
// once its prompt has been fully consumed (seqLen, the total tokens
// computed once this step lands, reaches the tokens already resident
// before the step). Called by the sampling loop in ExecuteModel, which
// samples (and so draws from the RNG) only for slots where it holds;
// commitTokens then writes exactly those sampled slots.
func (r *Runner) willCommit(slot int, scheduledBySlot []int32) bool {
	numTokensBeforeStep := r.buffer.NumTokens(slot)
	seqLen := r.buffer.NumComputedTokens(slot) + scheduledBySlot[slot]
	return seqLen >= numTokensBeforeStep
}

func isStopToken(tok int32, params SamplingParams) bool {
	_, ok := params.AllStopTokenIDs[tok]
	return ok
}

func (r *Runner) pagesInUse() int {
	total := 0
	for slot := 0; slot < r.buffer.NumReqs(); slot++ {
		total += r.buffer.PageTable().Group(0).RowLen(slot)
	}
	return total
}

// String renders a compact step summary, used by the cmd-level demo.
func (r *Runner) String() string {
	return fmt.Sprintf("Runner{step=%d, reqs=%d}", r.step, r.buffer.NumReqs())
}
