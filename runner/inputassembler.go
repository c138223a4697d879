// Implements InputAssembler (spec.md §4.5), ported from
// original_source/.../model_runner.py's _prepare_inputs.

package runner

// CacheMetadata carries the attention/paging metadata the forward pass
// needs for one sub-batch (spec.md §4.5 step 7 / §6 forward contract).
type CacheMetadata struct {
	PagesTables               [][]int32 // [padded_num_reqs, max_num_pages_per_req]
	ContextLens               []int32   // seq_lens: num_computed_tokens + scheduled, per request
	QueryStartLoc             []int32   // cumsum([0, scheduled...]), tail padded with 1s
	NumSeqs                   int32
	SlotMapping               [3][]int32 // [kv_start, new_kv_start, slice_len], each padded_num_slices wide
	NumKVUpdateSlices         int32
	PageSize                  int
	NumSlicesPerKVCacheUpdatePage int
}

// InputBatch is everything the forward pass needs for one sub-batch call.
type InputBatch struct {
	InputIDs      []int32
	PositionIDs   []int32
	CacheMetadata CacheMetadata
}

// PreparedInputs bundles InputBatch with the bookkeeping the Runner needs
// after the forward pass returns (spec.md §4.5 steps 1-8).
type PreparedInputs struct {
	Batch           InputBatch
	LogitsIndices   []int32 // index into the padded-token logits for each request's next-token row
	PaddedNumReqs   int
	NumReqs         int
	EndIndex        int
	Scheduled       []int32 // this sub-batch's scheduled token count per request, slot-ordered from startIndex
}

// InputAssembler scatters token/position ids into padded batch arrays and
// builds the paging metadata, one sub-batch per call.
type InputAssembler struct {
	cfg     RunnerConfig
	padding *PaddingPolicy
	mapper  *SlotMapper
}

// NewInputAssembler builds an InputAssembler for the given config.
func NewInputAssembler(cfg RunnerConfig, padding *PaddingPolicy) *InputAssembler {
	return &InputAssembler{cfg: cfg, padding: padding, mapper: NewSlotMapper(cfg.PageSize)}
}

// Prepare scans slots [startIndex, sb.NumReqs()) up to cfg.MaxNumReqsPerForward,
// collecting this step's scheduled token counts via scheduledForSlot, and
// assembles the padded inputs for a single forward-pass sub-batch.
func (ia *InputAssembler) Prepare(sb *SequenceBuffer, startIndex int, scheduledForSlot func(slot int) int32) (*PreparedInputs, error) {
	numReqsTotal := sb.NumReqs()
	if numReqsTotal == 0 || startIndex >= numReqsTotal {
		return nil, newProtocolError("input assembler: start_index %d out of range for num_reqs %d", startIndex, numReqsTotal)
	}

	perForward := ia.cfg.MaxNumReqsPerForward
	endIndex := numReqsTotal
	if startIndex+perForward < numReqsTotal {
		endIndex = startIndex + perForward
	}

	numReqs := endIndex - startIndex
	scheduled := make([]int32, numReqs)
	startComputed := make([]int32, numReqs)
	for i := 0; i < numReqs; i++ {
		slot := startIndex + i
		scheduled[i] = scheduledForSlot(slot)
		startComputed[i] = sb.NumComputedTokens(slot)
	}

	var totalScheduled int32
	for _, s := range scheduled {
		totalScheduled += s
	}

	reqIndices := make([]int32, 0, totalScheduled)
	arange := make([]int32, 0, totalScheduled)
	for i, s := range scheduled {
		for k := int32(0); k < s; k++ {
			reqIndices = append(reqIndices, int32(i))
			arange = append(arange, k)
		}
	}

	positions := make([]int32, totalScheduled)
	inputIDs := make([]int32, totalScheduled)
	for k := range positions {
		req := int(reqIndices[k])
		slot := startIndex + req
		pos := startComputed[req] + arange[k]
		positions[k] = pos
		inputIDs[k] = sb.TokenAt(slot, int(pos))
	}

	paddedNumTokens, err := ia.padding.PadNumTokens(int(totalScheduled))
	if err != nil {
		return nil, err
	}

	paddedInputIDs := make([]int32, paddedNumTokens)
	copy(paddedInputIDs, inputIDs)
	paddedPositions := make([]int32, paddedNumTokens)
	copy(paddedPositions, positions)

	paddedNumReqs := ia.padding.PadNumReqs(numReqs)

	queryStartLoc := make([]int32, paddedNumReqs+1)
	var cum int32
	for i := 0; i < numReqs; i++ {
		queryStartLoc[i] = cum
		cum += scheduled[i]
	}
	queryStartLoc[numReqs] = cum
	for i := numReqs + 1; i <= paddedNumReqs; i++ {
		queryStartLoc[i] = 1
	}

	seqLens := make([]int32, paddedNumReqs)
	for i := 0; i < numReqs; i++ {
		seqLens[i] = startComputed[i] + scheduled[i]
	}

	pageGroup := sb.PageTable().Group(0)
	triples := ia.mapper.Compute(startComputed, scheduled, sliceRowShiftedPageTable{pageGroup, startIndex})
	paddedNumSlices := ia.padding.PadNumSlices(paddedNumTokens)
	if len(triples) > paddedNumSlices {
		return nil, newCapacityError("input assembler: %d kv-update slices exceed padded bucket %d", len(triples), paddedNumSlices)
	}
	kvStart, newKVStart, sliceLen := Pad(triples, paddedNumSlices)

	pagesTables := make([][]int32, paddedNumReqs)
	rawTables := sb.PageTable().Group(0).GetArray(startIndex + numReqs)
	for i := 0; i < paddedNumReqs; i++ {
		if i < numReqs {
			pagesTables[i] = rawTables[startIndex+i]
		} else {
			pagesTables[i] = make([]int32, ia.cfg.MaxNumPagesPerReq)
		}
	}

	meta := CacheMetadata{
		PagesTables:       pagesTables,
		ContextLens:       seqLens,
		QueryStartLoc:     queryStartLoc,
		NumSeqs:           int32(numReqs),
		SlotMapping:       [3][]int32{kvStart, newKVStart, sliceLen},
		NumKVUpdateSlices: int32(len(triples)),
		PageSize:          ia.cfg.PageSize,
		NumSlicesPerKVCacheUpdatePage: ia.cfg.NumSlicesPerKVCacheUpdatePage,
	}

	logitsIndices := make([]int32, paddedNumReqs)
	for i := 0; i < paddedNumReqs; i++ {
		logitsIndices[i] = queryStartLoc[i+1] - 1
	}

	return &PreparedInputs{
		Batch: InputBatch{
			InputIDs:      paddedInputIDs,
			PositionIDs:   paddedPositions,
			CacheMetadata: meta,
		},
		LogitsIndices: logitsIndices,
		PaddedNumReqs: paddedNumReqs,
		NumReqs:       numReqs,
		EndIndex:      endIndex,
		Scheduled:     scheduled,
	}, nil
}

// sliceRowShiftedPageTable adapts PageTable.Get so SlotMapper.Compute,
// which indexes requests starting at 0, reads from the correct absolute
// slot (startIndex + local request index) in the underlying page table.
type sliceRowShiftedPageTable struct {
	*PageTable
	startIndex int
}

func (s sliceRowShiftedPageTable) Get(localReq, logicalPage int) int32 {
	return s.PageTable.Get(s.startIndex+localReq, logicalPage)
}
