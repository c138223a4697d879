// Implements Sampler (spec.md §4.6): per-request greedy or temperature/
// top-p/top-k/min-p/penalty sampling over a padded logits matrix. Grounded
// in original_source/.../model_runner.py's sample_from_logits_func call
// site (temperature + top_p passed per request) and generalized to the
// fuller penalty/top-k/min-p surface spec.md adds. Vector reductions use
// gonum, following the teacher's numeric-heavy sim packages.
package runner

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// SampledToken is one request's sampling result plus the logprob info the
// caller needs to persist, if requested.
type SampledToken struct {
	TokenID int32
	Logprob float32
}

// Sampler turns a row of logits into a sampled token id per request.
type Sampler struct {
	rng *PartitionedRNG
}

// NewSampler builds a Sampler backed by the given per-request RNG source.
func NewSampler(rng *PartitionedRNG) *Sampler {
	return &Sampler{rng: rng}
}

// SampleRow samples one token for a single request's logits row, given its
// sampling params, its prior output token ids (for penalty and min-tokens
// accounting), and its request id (for RNG derivation).
func (s *Sampler) SampleRow(reqID string, generatorSeed *int64, logits []float32, params SamplingParams, priorOutput []int32) SampledToken {
	row := make([]float64, len(logits))
	for i, v := range logits {
		row[i] = float64(v)
	}

	applyLogitBias(row, params.LogitBias)
	applyAllowedTokenIDs(row, params.AllowedTokenIDs)
	applyBadWords(row, params.BadWordsTokenIDs, priorOutput)
	applyPenalties(row, params, priorOutput)
	if len(priorOutput) < int(params.MinTokens) {
		for tok := range params.AllStopTokenIDs {
			if int(tok) < len(row) {
				row[tok] = negInf
			}
		}
	}

	if params.IsGreedy() {
		idx := argmax(row)
		return SampledToken{TokenID: int32(idx), Logprob: float32(logProbAt(row, idx))}
	}

	temp := float64(params.Temperature)
	if temp <= 0 {
		temp = 1.0
	}
	for i := range row {
		row[i] /= temp
	}

	probs := softmax(row)
	applyTopK(probs, int(params.TopK))
	applyTopP(probs, float64(params.TopP))
	applyMinP(probs, float64(params.MinP))
	renormalize(probs)

	rng := s.rng.ForRequest(reqID, generatorSeed)
	idx := sampleFromDist(probs, rng.Float64())
	return SampledToken{TokenID: int32(idx), Logprob: float32(math.Log(probs[idx] + 1e-300))}
}

func applyLogitBias(row []float64, bias map[int32]float32) {
	for tok, b := range bias {
		if int(tok) < len(row) {
			row[tok] += float64(b)
		}
	}
}

func applyAllowedTokenIDs(row []float64, allowed []int32) {
	if len(allowed) == 0 {
		return
	}
	mask := make(map[int32]struct{}, len(allowed))
	for _, t := range allowed {
		mask[t] = struct{}{}
	}
	for i := range row {
		if _, ok := mask[int32(i)]; !ok {
			row[i] = negInf
		}
	}
}

func applyBadWords(row []float64, badWords [][]int32, priorOutput []int32) {
	for _, seq := range badWords {
		if len(seq) == 0 {
			continue
		}
		last := seq[:len(seq)-1]
		if !endsWith(priorOutput, last) {
			continue
		}
		tok := seq[len(seq)-1]
		if int(tok) < len(row) {
			row[tok] = negInf
		}
	}
}

func endsWith(output []int32, suffix []int32) bool {
	if len(suffix) == 0 {
		return true
	}
	if len(suffix) > len(output) {
		return false
	}
	tail := output[len(output)-len(suffix):]
	for i := range suffix {
		if tail[i] != suffix[i] {
			return false
		}
	}
	return true
}

// applyPenalties applies frequency/presence/repetition penalties over the
// request's generated tokens so far (priorOutput); prompt tokens are not
// counted.
func applyPenalties(row []float64, params SamplingParams, priorOutput []int32) {
	if params.FrequencyPenalty == 0 && params.PresencePenalty == 0 && params.RepetitionPenalty == 1 {
		return
	}
	counts := make(map[int32]int, len(priorOutput))
	for _, t := range priorOutput {
		counts[t]++
	}
	for tok, count := range counts {
		if int(tok) >= len(row) {
			continue
		}
		if params.RepetitionPenalty != 0 && params.RepetitionPenalty != 1 {
			if row[tok] > 0 {
				row[tok] /= float64(params.RepetitionPenalty)
			} else {
				row[tok] *= float64(params.RepetitionPenalty)
			}
		}
		row[tok] -= float64(params.FrequencyPenalty) * float64(count)
		if count > 0 {
			row[tok] -= float64(params.PresencePenalty)
		}
	}
}

const negInf = -1e38

func argmax(row []float64) int {
	best := 0
	for i, v := range row {
		if v > row[best] {
			best = i
		}
	}
	return best
}

func logProbAt(row []float64, idx int) float64 {
	probs := softmax(row)
	return math.Log(probs[idx] + 1e-300)
}

func softmax(row []float64) []float64 {
	out := make([]float64, len(row))
	copy(out, row)
	m := floats.Max(out)
	for i := range out {
		out[i] = math.Exp(out[i] - m)
	}
	total := floats.Sum(out)
	if total == 0 {
		return out
	}
	floats.Scale(1/total, out)
	return out
}

func renormalize(probs []float64) {
	total := floats.Sum(probs)
	if total <= 0 {
		return
	}
	floats.Scale(1/total, probs)
}

// applyTopK zeroes every probability outside the k highest, leaving at
// least one candidate. k <= 0 is treated as "no filtering".
func applyTopK(probs []float64, k int) {
	if k <= 0 || k >= len(probs) {
		return
	}
	sorted := append([]float64(nil), probs...)
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))
	threshold := sorted[k-1]
	for i, p := range probs {
		if p < threshold {
			probs[i] = 0
		}
	}
}

// applyTopP zeroes the smallest-probability tail whose cumulative mass
// exceeds 1-p, keeping the minimal nucleus whose mass is >= p.
func applyTopP(probs []float64, p float64) {
	if p <= 0 || p >= 1 {
		return
	}
	type idxProb struct {
		idx int
		p   float64
	}
	sorted := make([]idxProb, len(probs))
	for i, v := range probs {
		sorted[i] = idxProb{i, v}
	}
	sort.Slice(sorted, func(a, b int) bool { return sorted[a].p > sorted[b].p })

	var cum float64
	cutoff := len(sorted)
	for i, v := range sorted {
		cum += v.p
		if cum >= p {
			cutoff = i + 1
			break
		}
	}
	for i := cutoff; i < len(sorted); i++ {
		probs[sorted[i].idx] = 0
	}
}

// applyMinP drops candidates whose probability is below minP times the
// top candidate's probability.
func applyMinP(probs []float64, minP float64) {
	if minP <= 1e-5 {
		return
	}
	top := floats.Max(probs)
	threshold := minP * top
	for i, p := range probs {
		if p < threshold {
			probs[i] = 0
		}
	}
}

func sampleFromDist(probs []float64, u float64) int {
	total := floats.Sum(probs)
	if total <= 0 {
		return argmax(probs)
	}
	target := u * total
	var cum float64
	for i, p := range probs {
		cum += p
		if cum >= target {
			return i
		}
	}
	return len(probs) - 1
}
