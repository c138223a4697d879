// Tracks run-wide performance counters, adapted from the teacher's
// sim/metrics.go Metrics/Print shape to the runner's step/forward-pass
// domain.

package runner

import "fmt"

// Metrics aggregates statistics about a run of ExecuteModel calls, for
// final reporting once the caller is done driving the Runner.
type Metrics struct {
	Steps               int64 // number of ExecuteModel calls
	ForwardCalls        int64 // number of forward-pass sub-batch invocations
	TokensGenerated     int64 // total newly sampled output tokens
	RequestsCompleted   int64 // requests that hit a stop condition
	RequestsAdded       int64
	RequestsRemoved     int64
	PeakNumReqs         int
	PeakPagesInUse      int
	CondenseCalls       int64
	KVUpdateSlicesTotal int64
}

// RecordStep folds one ExecuteModel call's outcome into the running totals.
func (m *Metrics) RecordStep(numReqs, pagesInUse int, tokensSampled int64, forwardCalls int, kvSlices int64) {
	m.Steps++
	m.ForwardCalls += int64(forwardCalls)
	m.TokensGenerated += tokensSampled
	m.KVUpdateSlicesTotal += kvSlices
	if numReqs > m.PeakNumReqs {
		m.PeakNumReqs = numReqs
	}
	if pagesInUse > m.PeakPagesInUse {
		m.PeakPagesInUse = pagesInUse
	}
}

// Print displays aggregated metrics at the end of a run.
func (m *Metrics) Print() {
	fmt.Println("=== Runner Metrics ===")
	fmt.Printf("Steps                : %d\n", m.Steps)
	fmt.Printf("Forward Calls        : %d\n", m.ForwardCalls)
	fmt.Printf("Tokens Generated     : %d\n", m.TokensGenerated)
	fmt.Printf("Requests Added       : %d\n", m.RequestsAdded)
	fmt.Printf("Requests Removed     : %d\n", m.RequestsRemoved)
	fmt.Printf("Requests Completed   : %d\n", m.RequestsCompleted)
	fmt.Printf("Condense Calls       : %d\n", m.CondenseCalls)
	fmt.Printf("Peak Concurrent Reqs : %d\n", m.PeakNumReqs)
	fmt.Printf("Peak Pages In Use    : %d\n", m.PeakPagesInUse)
	if m.Steps > 0 {
		fmt.Printf("Avg KV Slices/Step   : %.2f\n", float64(m.KVUpdateSlicesTotal)/float64(m.Steps))
	}
}
