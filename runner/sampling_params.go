// Defines SamplingParams, the concrete tagged record replacing the
// duck-typed sampling policy object of the reference implementation
// (spec.md Design Note: "Duck-typed SamplingParams").

package runner

// SamplingType selects between greedy and randomized decoding.
type SamplingType int

const (
	// SamplingGreedy forces temperature to the -1 sentinel, signaling the
	// sampler to emit argmax for this row, ignoring temperature, top-p,
	// top-k and min-p. Logit bias, token masks and penalties still apply
	// before the argmax.
	SamplingGreedy SamplingType = iota
	SamplingRandom
)

// SamplingParams is the immutable per-request sampling policy. Optional
// fields are explicit nil/zero rather than duck-typed attribute access.
type SamplingParams struct {
	Type SamplingType

	// Temperature is ignored when Type == SamplingGreedy; the sequence
	// buffer stores -1 for greedy rows regardless of this value.
	Temperature float32

	// TopP in (0, 1] activates nucleus filtering when < 1.
	TopP float32

	// TopK in [0, vocab_size]; active when 0 < TopK < vocab_size.
	TopK int32

	// MinP >= 0; active when > 1e-5.
	MinP float32

	FrequencyPenalty  float32 // active when != 0
	PresencePenalty   float32 // active when != 0
	RepetitionPenalty float32 // active when != 1

	MinTokens       uint32
	AllStopTokenIDs map[int32]struct{} // suppressed until MinTokens satisfied

	LogitBias map[int32]float32 // optional

	AllowedTokenIDs  []int32 // optional; if set, all other tokens are masked
	BadWordsTokenIDs [][]int32

	Logprobs       *int32 // out of scope for sampling itself; carried for API shape
	PromptLogprobs *int32
}

// IsGreedy reports whether this policy always takes argmax.
func (p SamplingParams) IsGreedy() bool {
	return p.Type == SamplingGreedy
}
