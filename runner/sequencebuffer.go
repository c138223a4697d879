// Implements SequenceBuffer (spec.md §4.2), ported field-for-field from
// original_source/.../sequence_buffer.py's SequenceBuffer class: dense
// per-slot arrays for tokens and sampling state, membership sets for which
// optional sampling features are in play, and sparse maps for the rarely
// used per-slot extras (min_tokens, generator seeds, logit bias, bad
// words, allowed-token mask).

package runner

// minTokensEntry pairs a minimum-token count with the stop token ids it
// suppresses until satisfied.
type minTokensEntry struct {
	MinTokens       uint32
	StopTokenIDs    map[int32]struct{}
}

// SequenceBuffer is the dense, compacted batch of live requests and all
// their sampling state. Filled slots form a contiguous prefix
// [0, NumReqs()); callers must call Condense after any removal to restore
// that invariant.
type SequenceBuffer struct {
	maxNumReqs  int
	maxModelLen int
	vocabSize   int

	reqIDs       []string // "" marks an empty slot
	reqIDToIndex map[string]int

	tokenIDs         []int32 // flat [maxNumReqs * maxModelLen]
	numTokens        []int32
	numPromptTokens  []int32
	numComputedTokens []int32

	pageTable *MultiGroupPageTable

	temperature         []float32
	topP                []float32
	topK                []int32
	minP                []float32
	frequencyPenalties  []float32
	presencePenalties   []float32
	repetitionPenalties []float32

	greedyReqs          map[string]struct{}
	randomReqs          map[string]struct{}
	topPReqs            map[string]struct{}
	topKReqs            map[string]struct{}
	minPReqs            map[string]struct{}
	freqPenaltyReqs     map[string]struct{}
	presPenaltyReqs     map[string]struct{}
	repPenaltyReqs      map[string]struct{}
	allowedTokenIDsReqs map[string]struct{}

	minTokens        map[int]minTokensEntry
	generatorSeeds   map[int]int64
	logitBias        []map[int32]float32 // size maxNumReqs; nil entry means none
	badWordsTokenIDs map[int][][]int32

	allowedTokenIDsMask *bitset // lazily allocated
}

// NewSequenceBuffer allocates a SequenceBuffer sized per cfg.
func NewSequenceBuffer(cfg RunnerConfig) *SequenceBuffer {
	sb := &SequenceBuffer{
		maxNumReqs:        cfg.MaxNumSeqs,
		maxModelLen:       cfg.MaxModelLen,
		vocabSize:         cfg.VocabSize,
		reqIDs:            make([]string, cfg.MaxNumSeqs),
		reqIDToIndex:      make(map[string]int),
		tokenIDs:          make([]int32, cfg.MaxNumSeqs*cfg.MaxModelLen),
		numTokens:         make([]int32, cfg.MaxNumSeqs),
		numPromptTokens:   make([]int32, cfg.MaxNumSeqs),
		numComputedTokens: make([]int32, cfg.MaxNumSeqs),
		pageTable:         NewMultiGroupPageTable(cfg.NumCacheGroups, cfg.MaxNumSeqs, cfg.MaxNumPagesPerReq),
		logitBias:         make([]map[int32]float32, cfg.MaxNumSeqs),

		greedyReqs:          make(map[string]struct{}),
		randomReqs:          make(map[string]struct{}),
		topPReqs:            make(map[string]struct{}),
		topKReqs:            make(map[string]struct{}),
		minPReqs:            make(map[string]struct{}),
		freqPenaltyReqs:     make(map[string]struct{}),
		presPenaltyReqs:     make(map[string]struct{}),
		repPenaltyReqs:      make(map[string]struct{}),
		allowedTokenIDsReqs: make(map[string]struct{}),

		minTokens:        make(map[int]minTokensEntry),
		generatorSeeds:   make(map[int]int64),
		badWordsTokenIDs: make(map[int][][]int32),
	}
	sb.temperature = fillFloat32(cfg.MaxNumSeqs, -1.0)
	sb.topP = fillFloat32(cfg.MaxNumSeqs, 1.0)
	sb.topK = fillInt32(cfg.MaxNumSeqs, int32(cfg.VocabSize))
	sb.minP = make([]float32, cfg.MaxNumSeqs)
	sb.repetitionPenalties = fillFloat32(cfg.MaxNumSeqs, 1.0)
	sb.frequencyPenalties = make([]float32, cfg.MaxNumSeqs)
	sb.presencePenalties = make([]float32, cfg.MaxNumSeqs)
	return sb
}

func fillFloat32(n int, v float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func fillInt32(n int, v int32) []int32 {
	out := make([]int32, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// NumReqs returns the number of currently occupied slots.
func (sb *SequenceBuffer) NumReqs() int { return len(sb.reqIDToIndex) }

// ReqIDs returns the slot-ordered ids of the filled prefix.
func (sb *SequenceBuffer) ReqIDs() []string {
	n := sb.NumReqs()
	out := make([]string, n)
	copy(out, sb.reqIDs[:n])
	return out
}

// IndexOf returns the slot for reqID, if present.
func (sb *SequenceBuffer) IndexOf(reqID string) (int, bool) {
	i, ok := sb.reqIDToIndex[reqID]
	return i, ok
}

// PageTable exposes the multi-group page table for callers (SlotMapper,
// InputAssembler) that need the raw rows.
func (sb *SequenceBuffer) PageTable() *MultiGroupPageTable { return sb.pageTable }

// TokenAt returns token_ids[slot, pos].
func (sb *SequenceBuffer) TokenAt(slot, pos int) int32 {
	return sb.tokenIDs[slot*sb.maxModelLen+pos]
}

// SetTokenAt sets token_ids[slot, pos] = tok.
func (sb *SequenceBuffer) SetTokenAt(slot, pos int, tok int32) {
	sb.tokenIDs[slot*sb.maxModelLen+pos] = tok
}

func (sb *SequenceBuffer) NumTokens(slot int) int32         { return sb.numTokens[slot] }
func (sb *SequenceBuffer) NumPromptTokens(slot int) int32   { return sb.numPromptTokens[slot] }
func (sb *SequenceBuffer) NumComputedTokens(slot int) int32 { return sb.numComputedTokens[slot] }

func (sb *SequenceBuffer) SetNumComputedTokens(slot int, v int32) { sb.numComputedTokens[slot] = v }
func (sb *SequenceBuffer) IncrNumTokens(slot int, delta int32)    { sb.numTokens[slot] += delta }

// AllGreedy reports whether every occupied slot uses greedy sampling.
func (sb *SequenceBuffer) AllGreedy() bool { return len(sb.randomReqs) == 0 }

// AddRequest installs req at slot (appending at NumReqs() if slot is nil).
func (sb *SequenceBuffer) AddRequest(req *CachedRequestState, slot *int) (int, error) {
	idx := sb.NumReqs()
	if slot != nil {
		idx = *slot
	}
	if idx >= sb.maxNumReqs {
		return 0, newCapacityError("sequence buffer: slot %d exceeds max_num_seqs %d", idx, sb.maxNumReqs)
	}

	sb.reqIDs[idx] = req.ReqID
	sb.reqIDToIndex[req.ReqID] = idx

	if err := sb.copyTokens(req, idx); err != nil {
		return 0, err
	}

	sb.numTokens[idx] = int32(req.NumTokens())
	sb.numComputedTokens[idx] = int32(req.NumComputedTokens)

	if err := sb.pageTable.AddRow(req.PageIDs, idx); err != nil {
		return 0, err
	}

	sb.processSamplingParams(req.SamplingParams, req.ReqID, idx)
	sb.processOptionalParams(req, idx)

	return idx, nil
}

func (sb *SequenceBuffer) copyTokens(req *CachedRequestState, idx int) error {
	numPrompt := len(req.PromptTokenIDs)
	if numPrompt+len(req.OutputTokenIDs) > sb.maxModelLen {
		return newCapacityError("sequence buffer: request %s has %d tokens, exceeds max_model_len %d",
			req.ReqID, numPrompt+len(req.OutputTokenIDs), sb.maxModelLen)
	}
	sb.numPromptTokens[idx] = int32(numPrompt)
	base := idx * sb.maxModelLen
	copy(sb.tokenIDs[base:base+numPrompt], req.PromptTokenIDs)
	if len(req.OutputTokenIDs) > 0 {
		copy(sb.tokenIDs[base+numPrompt:base+numPrompt+len(req.OutputTokenIDs)], req.OutputTokenIDs)
	}
	return nil
}

func (sb *SequenceBuffer) processSamplingParams(sp SamplingParams, reqID string, idx int) {
	if sp.IsGreedy() {
		sb.temperature[idx] = -1.0
		sb.greedyReqs[reqID] = struct{}{}
	} else {
		sb.temperature[idx] = sp.Temperature
		sb.randomReqs[reqID] = struct{}{}
	}

	sb.topP[idx] = sp.TopP
	if sp.TopP > 0 && sp.TopP < 1 {
		sb.topPReqs[reqID] = struct{}{}
	}

	if sp.TopK > 0 && int(sp.TopK) < sb.vocabSize {
		sb.topKReqs[reqID] = struct{}{}
		sb.topK[idx] = sp.TopK
	} else {
		sb.topK[idx] = int32(sb.vocabSize)
	}

	sb.minP[idx] = sp.MinP
	if sp.MinP > 1e-5 {
		sb.minPReqs[reqID] = struct{}{}
	}

	if sp.FrequencyPenalty != 0 {
		sb.frequencyPenalties[idx] = sp.FrequencyPenalty
		sb.freqPenaltyReqs[reqID] = struct{}{}
	}
	if sp.PresencePenalty != 0 {
		sb.presencePenalties[idx] = sp.PresencePenalty
		sb.presPenaltyReqs[reqID] = struct{}{}
	}
	if sp.RepetitionPenalty != 0 && sp.RepetitionPenalty != 1 {
		sb.repetitionPenalties[idx] = sp.RepetitionPenalty
		sb.repPenaltyReqs[reqID] = struct{}{}
	}
}

func (sb *SequenceBuffer) processOptionalParams(req *CachedRequestState, idx int) {
	sp := req.SamplingParams
	if sp.MinTokens > 0 {
		sb.minTokens[idx] = minTokensEntry{MinTokens: sp.MinTokens, StopTokenIDs: sp.AllStopTokenIDs}
	}
	if req.GeneratorSeed != nil {
		sb.generatorSeeds[idx] = *req.GeneratorSeed
	}
	if sp.LogitBias != nil {
		sb.logitBias[idx] = sp.LogitBias
	}
	if len(sp.AllowedTokenIDs) > 0 {
		sb.setAllowedTokenIDs(req.ReqID, idx, sp.AllowedTokenIDs)
	}
	if len(sp.BadWordsTokenIDs) > 0 {
		sb.badWordsTokenIDs[idx] = sp.BadWordsTokenIDs
	}
}

func (sb *SequenceBuffer) setAllowedTokenIDs(reqID string, idx int, allowed []int32) {
	sb.allowedTokenIDsReqs[reqID] = struct{}{}
	if sb.allowedTokenIDsMask == nil {
		sb.allowedTokenIDsMask = newBitset(sb.maxNumReqs, sb.vocabSize)
	}
	sb.allowedTokenIDsMask.SetRow(idx, true)
	for _, tok := range allowed {
		sb.allowedTokenIDsMask.Clear(idx, int(tok))
	}
}

// RemoveRequest drops all state for reqID, leaving an empty slot behind to
// be condensed later. Returns the freed slot, or false if reqID was not
// present (spec.md §7: removing an id never added is a protocol
// violation the caller must check for).
func (sb *SequenceBuffer) RemoveRequest(reqID string) (int, bool) {
	idx, ok := sb.reqIDToIndex[reqID]
	if !ok {
		return 0, false
	}
	delete(sb.reqIDToIndex, reqID)
	sb.reqIDs[idx] = ""

	delete(sb.greedyReqs, reqID)
	delete(sb.randomReqs, reqID)
	delete(sb.topPReqs, reqID)
	delete(sb.topKReqs, reqID)
	delete(sb.minPReqs, reqID)
	delete(sb.freqPenaltyReqs, reqID)
	delete(sb.presPenaltyReqs, reqID)
	delete(sb.repPenaltyReqs, reqID)
	delete(sb.allowedTokenIDsReqs, reqID)

	delete(sb.minTokens, idx)
	delete(sb.generatorSeeds, idx)
	delete(sb.badWordsTokenIDs, idx)
	sb.logitBias[idx] = nil

	if sb.allowedTokenIDsMask != nil {
		sb.allowedTokenIDsMask.SetRow(idx, false)
	}

	return idx, true
}

// SwapStates symmetrically exchanges all state between slots i and j.
func (sb *SequenceBuffer) SwapStates(i, j int) {
	if i == j {
		return
	}
	sb.reqIDs[i], sb.reqIDs[j] = sb.reqIDs[j], sb.reqIDs[i]
	if sb.reqIDs[i] != "" {
		sb.reqIDToIndex[sb.reqIDs[i]] = i
	}
	if sb.reqIDs[j] != "" {
		sb.reqIDToIndex[sb.reqIDs[j]] = j
	}

	sb.swapScalarArrays(i, j)
	swapMapValue(sb.generatorSeeds, i, j)
	swapMinTokens(sb.minTokens, i, j)
	swapMapValue(sb.badWordsTokenIDs, i, j)
	sb.logitBias[i], sb.logitBias[j] = sb.logitBias[j], sb.logitBias[i]
	sb.pageTable.SwapRow(i, j)

	if sb.allowedTokenIDsMask != nil {
		sb.allowedTokenIDsMask.SwapRows(i, j)
	}
}

func (sb *SequenceBuffer) swapScalarArrays(i, j int) {
	sb.numTokens[i], sb.numTokens[j] = sb.numTokens[j], sb.numTokens[i]
	sb.numPromptTokens[i], sb.numPromptTokens[j] = sb.numPromptTokens[j], sb.numPromptTokens[i]
	sb.numComputedTokens[i], sb.numComputedTokens[j] = sb.numComputedTokens[j], sb.numComputedTokens[i]
	sb.temperature[i], sb.temperature[j] = sb.temperature[j], sb.temperature[i]
	sb.topP[i], sb.topP[j] = sb.topP[j], sb.topP[i]
	sb.topK[i], sb.topK[j] = sb.topK[j], sb.topK[i]
	sb.minP[i], sb.minP[j] = sb.minP[j], sb.minP[i]
	sb.frequencyPenalties[i], sb.frequencyPenalties[j] = sb.frequencyPenalties[j], sb.frequencyPenalties[i]
	sb.presencePenalties[i], sb.presencePenalties[j] = sb.presencePenalties[j], sb.presencePenalties[i]
	sb.repetitionPenalties[i], sb.repetitionPenalties[j] = sb.repetitionPenalties[j], sb.repetitionPenalties[i]

	rowI := i * sb.maxModelLen
	rowJ := j * sb.maxModelLen
	n := int(max32(sb.numTokens[i], sb.numTokens[j]))
	for k := 0; k < n; k++ {
		sb.tokenIDs[rowI+k], sb.tokenIDs[rowJ+k] = sb.tokenIDs[rowJ+k], sb.tokenIDs[rowI+k]
	}
}

func max32(a, b int32) int32 {
	if a > b {
		return a
	}
	return b
}

func swapMapValue[V any](m map[int]V, i, j int) {
	vi, oki := m[i]
	vj, okj := m[j]
	if okj {
		m[i] = vj
	} else {
		delete(m, i)
	}
	if oki {
		m[j] = vi
	} else {
		delete(m, j)
	}
}

func swapMinTokens(m map[int]minTokensEntry, i, j int) {
	swapMapValue(m, i, j)
}

// Condense restores the filled-prefix invariant by moving the
// highest-index filled slots down into emptyIndices. emptyIndices need not
// be sorted; order does not affect the result.
func (sb *SequenceBuffer) Condense(emptyIndices []int) {
	numReqs := sb.NumReqs()
	if numReqs == 0 {
		return
	}

	sorted := append([]int(nil), emptyIndices...)
	sortIntsDesc(sorted)

	// Fill the lowest empty slot first from the highest filled slot.
	lastIdx := numReqs + len(emptyIndices) - 1
	for k := len(sorted) - 1; k >= 0; k-- {
		emptyIdx := sorted[k]
		for lastIdx > emptyIdx && sb.reqIDs[lastIdx] == "" {
			lastIdx--
		}
		if emptyIdx >= lastIdx {
			break
		}
		sb.moveRequest(lastIdx, emptyIdx)
		lastIdx--
	}

	for i := numReqs; i < sb.maxNumReqs; i++ {
		sb.reqIDs[i] = ""
	}
}

func sortIntsDesc(xs []int) {
	for i := 1; i < len(xs); i++ {
		v := xs[i]
		j := i - 1
		for j >= 0 && xs[j] < v {
			xs[j+1] = xs[j]
			j--
		}
		xs[j+1] = v
	}
}

func (sb *SequenceBuffer) moveRequest(from, to int) {
	reqID := sb.reqIDs[from]
	sb.reqIDs[to] = reqID
	sb.reqIDs[from] = ""
	if reqID != "" {
		sb.reqIDToIndex[reqID] = to
	}

	n := int(sb.numTokens[from])
	fromBase := from * sb.maxModelLen
	toBase := to * sb.maxModelLen
	copy(sb.tokenIDs[toBase:toBase+n], sb.tokenIDs[fromBase:fromBase+n])

	sb.numTokens[to] = sb.numTokens[from]
	sb.numPromptTokens[to] = sb.numPromptTokens[from]
	sb.numComputedTokens[to] = sb.numComputedTokens[from]
	sb.temperature[to] = sb.temperature[from]
	sb.topP[to] = sb.topP[from]
	sb.topK[to] = sb.topK[from]
	sb.minP[to] = sb.minP[from]
	sb.frequencyPenalties[to] = sb.frequencyPenalties[from]
	sb.presencePenalties[to] = sb.presencePenalties[from]
	sb.repetitionPenalties[to] = sb.repetitionPenalties[from]

	sb.pageTable.MoveRow(from, to)
	sb.moveSparseData(from, to)
}

func (sb *SequenceBuffer) moveSparseData(from, to int) {
	if v, ok := sb.generatorSeeds[from]; ok {
		sb.generatorSeeds[to] = v
		delete(sb.generatorSeeds, from)
	}
	if v, ok := sb.minTokens[from]; ok {
		sb.minTokens[to] = v
		delete(sb.minTokens, from)
	}
	if v, ok := sb.badWordsTokenIDs[from]; ok {
		sb.badWordsTokenIDs[to] = v
		delete(sb.badWordsTokenIDs, from)
	}
	sb.logitBias[to] = sb.logitBias[from]
	sb.logitBias[from] = nil

	if sb.allowedTokenIDsMask != nil {
		sb.allowedTokenIDsMask.MoveRow(from, to)
	}
}
