// Defines Request (the caller-owned, persistent view of a generation
// request) and CachedRequestState (the runner's private mirror of it
// between scheduler steps).

package runner

// Request models a single generation request's persistent state, as owned
// by the caller (typically the scheduler). The runner never constructs one
// itself — it receives Requests via ScheduledNewRequest and mirrors the
// fields it needs into a CachedRequestState.
type Request struct {
	ReqID string // stable identifier

	PromptTokenIDs []int32 // immutable after creation
	OutputTokenIDs []int32 // append-only; grows as tokens are committed

	SamplingParams SamplingParams // immutable policy

	// NumComputedTokens is the count of tokens whose K/V has been written
	// to the cache. Invariant: NumComputedTokens <= NumTokens().
	NumComputedTokens int64

	// PageIDs holds, per cache group, the ordered physical page indices
	// this request currently owns.
	PageIDs [][]int32
}

// NumTokens returns len(prompt) + len(output).
func (r *Request) NumTokens() int64 {
	return int64(len(r.PromptTokenIDs) + len(r.OutputTokenIDs))
}

// CachedRequestState is the runner's own bookkeeping record for a request
// that is (or was, until recently) resident in the SequenceBuffer. It is
// distinct from Request: the scheduler is the source of truth for
// PageIDs/NumComputedTokens, and every field here is overwritten from the
// next SchedulerOutput rather than derived independently.
type CachedRequestState struct {
	ReqID string

	PromptTokenIDs []int32
	OutputTokenIDs []int32

	SamplingParams SamplingParams

	PageIDs           [][]int32
	NumComputedTokens int64

	// GeneratorSeed seeds this request's per-slot RNG stream, if the
	// caller asked for a specific seed (nil means derive one from the
	// runner's master seed and ReqID).
	GeneratorSeed *int64
}

// NumTokens returns len(prompt) + len(output), mirroring Request.NumTokens.
func (c *CachedRequestState) NumTokens() int64 {
	return int64(len(c.PromptTokenIDs) + len(c.OutputTokenIDs))
}
