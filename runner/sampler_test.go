package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSampler_SampleRow_GreedyPicksArgmax(t *testing.T) {
	s := NewSampler(NewPartitionedRNG(1))
	logits := []float32{0.1, 5.0, 0.2, -1.0}
	tok := s.SampleRow("r", nil, logits, SamplingParams{Type: SamplingGreedy}, nil)
	assert.Equal(t, int32(1), tok.TokenID)
}

func TestSampler_SampleRow_SameSeedSameInputsAreReproducible(t *testing.T) {
	params := SamplingParams{Type: SamplingRandom, Temperature: 1.0, TopP: 1.0}
	logits := []float32{1, 2, 3, 0.5, 0.2}

	s1 := NewSampler(NewPartitionedRNG(123))
	s2 := NewSampler(NewPartitionedRNG(123))
	tok1 := s1.SampleRow("req", nil, logits, params, nil)
	tok2 := s2.SampleRow("req", nil, logits, params, nil)
	assert.Equal(t, tok1.TokenID, tok2.TokenID)
}

func TestSampler_SampleRow_TopKRestrictsToKHighestLogits(t *testing.T) {
	params := SamplingParams{Type: SamplingRandom, Temperature: 1.0, TopP: 1.0, TopK: 1}
	logits := []float32{-10, -10, 50, -10}
	s := NewSampler(NewPartitionedRNG(1))
	for i := 0; i < 10; i++ {
		tok := s.SampleRow("req", nil, logits, params, nil)
		assert.Equal(t, int32(2), tok.TokenID)
	}
}

func TestSampler_SampleRow_AllowedTokenIDsRestrictsChoice(t *testing.T) {
	params := SamplingParams{
		Type:            SamplingRandom,
		Temperature:     1.0,
		TopP:            1.0,
		AllowedTokenIDs: []int32{1},
	}
	logits := []float32{10, 0, 10, 10}
	s := NewSampler(NewPartitionedRNG(1))
	for i := 0; i < 10; i++ {
		tok := s.SampleRow("req", nil, logits, params, nil)
		assert.Equal(t, int32(1), tok.TokenID)
	}
}

func TestSampler_SampleRow_FrequencyPenaltySuppressesRepeatedTokens(t *testing.T) {
	params := SamplingParams{Type: SamplingGreedy, FrequencyPenalty: 100, RepetitionPenalty: 1}
	logits := []float32{5, 5, 0}
	priorOutput := []int32{0, 0, 0} // token 0 seen 3 times
	s := NewSampler(NewPartitionedRNG(1))
	tok := s.SampleRow("req", nil, logits, params, priorOutput)
	assert.Equal(t, int32(1), tok.TokenID)
}

func TestApplyTopP_KeepsMinimalNucleus(t *testing.T) {
	probs := []float64{0.5, 0.3, 0.15, 0.05}
	applyTopP(probs, 0.8)
	assert.Greater(t, probs[0], 0.0)
	assert.Greater(t, probs[1], 0.0)
	assert.Equal(t, 0.0, probs[3])
}

func TestApplyMinP_DropsBelowThreshold(t *testing.T) {
	probs := []float64{1.0, 0.5, 0.05}
	applyMinP(probs, 0.1)
	assert.Equal(t, 0.0, probs[2])
	assert.Greater(t, probs[0], 0.0)
}
