// Implements SlotMapper (spec.md §4.3), ported from
// original_source/.../model_runner.py's _get_slot_mapping_metadata.

package runner

// SlotTriple is one (kv_cache_start_index, new_kv_start_index, slice_len)
// entry describing where a contiguous run of newly computed K/V vectors
// must land inside the physical paged cache.
type SlotTriple struct {
	KVCacheStartIndex int32
	NewKVStartIndex   int32
	SliceLen          int32
}

// SlotMapper computes, for one cache group, the write triples for a
// sub-batch of requests given their current num_computed_tokens and this
// step's scheduled token counts.
type SlotMapper struct {
	pageSize int
}

// NewSlotMapper builds a SlotMapper for the given page size.
func NewSlotMapper(pageSize int) *SlotMapper {
	return &SlotMapper{pageSize: pageSize}
}

// Compute returns one triple per physical page touched across all numReqs
// requests, in request order then page order, matching the flattened
// layout the forward pass expects before padding/transposition.
//
// pageGetter is the minimal view SlotMapper needs of a page table: the
// physical page id at (request row, logical page). *PageTable satisfies
// this directly; callers needing a row offset (sub-batch slicing) can
// wrap it instead of copying rows.
type pageGetter interface {
	Get(row, col int) int32
}

// startComputed[i] is num_computed_tokens for request i at slot i;
// scheduled[i] is this step's scheduled token count for that request;
// pageTable provides the physical page id at (slot, logicalPage).
func (sm *SlotMapper) Compute(startComputed, scheduled []int32, pageTable pageGetter) []SlotTriple {
	numReqs := len(startComputed)
	var triples []SlotTriple
	var newKVCursor int32

	for i := 0; i < numReqs; i++ {
		start := startComputed[i]
		end := start + scheduled[i]
		if scheduled[i] <= 0 {
			continue
		}
		firstLogicalPage := int(start) / sm.pageSize
		lastLogicalPage := int(end-1) / sm.pageSize

		for logicalPage := firstLogicalPage; logicalPage <= lastLogicalPage; logicalPage++ {
			var intraStart, intraEnd int
			switch {
			case logicalPage == firstLogicalPage && logicalPage == lastLogicalPage:
				intraStart = int(start) % sm.pageSize
				intraEnd = int(end-1)%sm.pageSize + 1
			case logicalPage == firstLogicalPage:
				intraStart = int(start) % sm.pageSize
				intraEnd = sm.pageSize
			case logicalPage == lastLogicalPage:
				intraStart = 0
				intraEnd = int(end-1)%sm.pageSize + 1
			default:
				intraStart = 0
				intraEnd = sm.pageSize
			}

			sliceLen := int32(intraEnd - intraStart)
			physicalPage := pageTable.Get(i, logicalPage)

			triples = append(triples, SlotTriple{
				KVCacheStartIndex: physicalPage*int32(sm.pageSize) + int32(intraStart),
				NewKVStartIndex:   newKVCursor,
				SliceLen:          sliceLen,
			})
			newKVCursor += sliceLen
		}
	}
	return triples
}

// Pad zero-pads triples up to paddedNumSlices so the forward pass sees a
// constant shape, then transposes into the [3, paddedNumSlices] layout
// the cache metadata contract expects.
func Pad(triples []SlotTriple, paddedNumSlices int) (kvStart, newKVStart, sliceLen []int32) {
	kvStart = make([]int32, paddedNumSlices)
	newKVStart = make([]int32, paddedNumSlices)
	sliceLen = make([]int32, paddedNumSlices)
	for i, t := range triples {
		if i >= paddedNumSlices {
			break
		}
		kvStart[i] = t.KVCacheStartIndex
		newKVStart[i] = t.NewKVStartIndex
		sliceLen[i] = t.SliceLen
	}
	return
}
