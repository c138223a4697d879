// Package runner implements the continuous-batching inference runner: the
// per-step driver that folds many in-flight generation requests of
// differing prompt length, completion state, and sampling policy into a
// single batched forward-pass call over a shared paged KV cache.
//
// # Reading Guide
//
// Start with these files to understand the step pipeline:
//   - request.go: persistent Request and the runner's CachedRequestState mirror
//   - scheduler_output.go: the external scheduler's per-step decision
//   - runner.go: the outer driver — ExecuteModel, reconcileState, commitTokens
//
// # Architecture
//
// Leaf to root:
//   - pagetable.go: slot -> physical page id rows
//   - sequencebuffer.go: dense per-slot batch state (tokens, sampling params)
//   - slotmapper.go: per-step KV cache write addressing
//   - padding.go: bucket rounding so the forward pass sees few distinct shapes
//   - inputassembler.go: per-step scatter/gather into padded arrays
//   - sampler.go: vectorized greedy/top-p/top-k/min-p/penalty sampling
//   - runner.go: ties the above together once per scheduler step
//
// The neural-network forward pass, tokenizer, high-level scheduler, and
// transport layer are treated as external collaborators with the
// interfaces defined in this package (see ForwardFunc, SchedulerOutput).
package runner
