// External interfaces (spec.md §6): the per-step input the Runner
// consumes and the per-step output it produces. Shaped after the
// scheduler/runner boundary in original_source/.../model_runner.py, which
// receives an analogous SchedulerOutput each call to execute_model.

package runner

// ScheduledNewRequest describes a request entering the buffer for the
// first time this step.
type ScheduledNewRequest struct {
	ReqID             string
	PromptTokenIDs    []int32
	SamplingParams    SamplingParams
	PageIDs           [][]int32 // per cache group
	NumComputedTokens int64
}

// ScheduledCachedRequest describes a request already known to the runner
// that continues (or resumes) this step.
type ScheduledCachedRequest struct {
	ReqID                string
	NumComputedTokens    int64
	NewPageIDs           [][]int32 // per cache group; appended unless resumed
	ResumedFromPreemption bool
}

// SchedulerOutput is the external scheduler's per-step decision: which
// requests are new, continuing, or finished, and how many tokens each
// gets this step.
type SchedulerOutput struct {
	FinishedReqIDs         map[string]struct{}
	ScheduledNewReqs        []ScheduledNewRequest
	ScheduledCachedReqs     []ScheduledCachedRequest
	NumScheduledTokens      map[string]int32
	TotalNumScheduledTokens int32
}

// ModelRunnerOutput is the per-step result the Runner emits once all
// sub-batches of a step have been sampled and committed.
type ModelRunnerOutput struct {
	ReqIDs          []string
	ReqIDToIndex    map[string]int
	SampledTokenIDs [][]int32 // one slice per req_id; empty when nothing was committed this step
}

func emptyModelRunnerOutput() *ModelRunnerOutput {
	return &ModelRunnerOutput{
		ReqIDs:          nil,
		ReqIDToIndex:    map[string]int{},
		SampledTokenIDs: nil,
	}
}
