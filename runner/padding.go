// Implements PaddingPolicy (spec.md §4.4), grounded in
// original_source/.../model_runner.py's _get_token_paddings,
// _get_padded_token_len, _get_padded_num_reqs_with_upper_limit, and
// _get_padded_num_kv_cache_update_slices.

package runner

import "sort"

// PaddingPolicy rounds token-counts, request-counts, and slice-counts to
// compile-time bucket sizes so exactly one compiled kernel variant handles
// each step shape.
type PaddingPolicy struct {
	tokenPaddings []int // sorted ascending
	maxNumSeqs    int
	pageSize      int
	slicesPerPage int
}

// NewPaddingPolicy builds the token-padding bucket list from cfg and
// returns a ready-to-use PaddingPolicy.
func NewPaddingPolicy(cfg RunnerConfig) *PaddingPolicy {
	return &PaddingPolicy{
		tokenPaddings: tokenPaddingBuckets(cfg.TokenPaddingMinSize, cfg.MaxModelLen, cfg.TokenPaddingGap),
		maxNumSeqs:    cfg.MaxNumSeqs,
		pageSize:      cfg.PageSize,
		slicesPerPage: cfg.NumSlicesPerKVCacheUpdatePage,
	}
}

// tokenPaddingBuckets generates the bucket list: pure powers of two from
// minSize up to maxSize when gap == 0, else powers of two up to gap and
// then +gap increments beyond it (mirrors _get_token_paddings exactly).
func tokenPaddingBuckets(minSize, maxSize, gap int) []int {
	if minSize <= 0 || (minSize&(minSize-1)) != 0 {
		panic("padding: min token size must be a power of two")
	}
	var paddings []int
	n := minSize
	if gap == 0 {
		for n <= maxSize {
			paddings = append(paddings, n)
			n *= 2
		}
		return paddings
	}
	for n <= gap {
		paddings = append(paddings, n)
		n *= 2
	}
	n /= 2
	for n < maxSize {
		n += gap
		paddings = append(paddings, n)
	}
	return paddings
}

// MaxTokenBucket returns the largest token bucket this policy will pad to.
func (p *PaddingPolicy) MaxTokenBucket() int {
	if len(p.tokenPaddings) == 0 {
		return 0
	}
	return p.tokenPaddings[len(p.tokenPaddings)-1]
}

// PadNumTokens returns the smallest bucket >= n. Fatal (capacity error) if
// n exceeds the largest bucket.
func (p *PaddingPolicy) PadNumTokens(n int) (int, error) {
	idx := sort.SearchInts(p.tokenPaddings, n)
	if idx >= len(p.tokenPaddings) {
		return 0, newCapacityError("token count %d exceeds largest padding bucket %d", n, p.MaxTokenBucket())
	}
	return p.tokenPaddings[idx], nil
}

// PadNumReqs returns 8 if n <= 8, else the next power of two, capped at
// maxNumSeqs.
func (p *PaddingPolicy) PadNumReqs(n int) int {
	var res int
	if n <= 8 {
		res = 8
	} else {
		res = nextPowerOfTwo(n)
	}
	if res > p.maxNumSeqs {
		res = p.maxNumSeqs
	}
	return res
}

// nextPowerOfTwo mirrors Python's `1 << (x - 1).bit_length()`: the
// smallest power of two strictly greater than x-1, i.e. >= x for x > 1.
func nextPowerOfTwo(x int) int {
	if x <= 1 {
		return 1
	}
	bits := 0
	for v := x - 1; v > 0; v >>= 1 {
		bits++
	}
	return 1 << bits
}

// PadNumSlices rounds up to a multiple of slicesPerPage of
// min(2*maxReqs + numTokens/pageSize, numTokens).
func (p *PaddingPolicy) PadNumSlices(numTokens int) int {
	expr := 2*p.maxNumSeqs + numTokens/p.pageSize
	if numTokens < expr {
		expr = numTokens
	}
	if p.slicesPerPage <= 0 {
		return expr
	}
	return ((expr + p.slicesPerPage - 1) / p.slicesPerPage) * p.slicesPerPage
}
