package runner

// RunnerConfig groups the parameters that together determine the runner's
// batch shapes and cache layout. Mirrors the teacher's config.go style of
// grouping related constructor parameters into small structs (KVCacheConfig,
// BatchConfig) rather than a single flat parameter list.
type RunnerConfig struct {
	// MaxNumSeqs is max_num_seqs: the slot axis size of every dense array.
	MaxNumSeqs int
	// MaxModelLen is max_model_len: the token axis width of token_ids.
	MaxModelLen int
	// VocabSize bounds TopK and sizes the (lazily allocated) allowed-token mask.
	VocabSize int
	// PageSize is tokens per physical KV page.
	PageSize int
	// MaxNumPagesPerReq bounds a single request's page table row.
	MaxNumPagesPerReq int
	// NumCacheGroups is the number of independent KV-cache groups (e.g.
	// one per distinct attention layer shape); almost always 1.
	NumCacheGroups int

	// TokenPaddingMinSize is the smallest token bucket (must be a power of two).
	TokenPaddingMinSize int
	// TokenPaddingGap is the gap between buckets once TokenPaddingMinSize is
	// exceeded; 0 means keep doubling (pure powers of two).
	TokenPaddingGap int

	// NumSlicesPerKVCacheUpdatePage rounds the slice-count bucket (see
	// PaddingPolicy.PadNumSlices).
	NumSlicesPerKVCacheUpdatePage int

	// MaxNumReqsPerForward caps how many slots one forward-pass sub-batch
	// may cover; the Runner loops over multiple sub-batches when the
	// SequenceBuffer holds more than this many active requests.
	MaxNumReqsPerForward int

	// MasterSeed derives the per-slot sampler RNGs when a request has no
	// explicit GeneratorSeed.
	MasterSeed int64
}

// DefaultRunnerConfig returns reasonable defaults for the demo CLI and
// for tests that don't care about exact bucket boundaries.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		MaxNumSeqs:                    64,
		MaxModelLen:                   8192,
		VocabSize:                     32000,
		PageSize:                      16,
		MaxNumPagesPerReq:             8192 / 16,
		NumCacheGroups:                1,
		TokenPaddingMinSize:           16,
		TokenPaddingGap:               0,
		NumSlicesPerKVCacheUpdatePage: 8,
		MaxNumReqsPerForward:          64,
		MasterSeed:                    0,
	}
}
