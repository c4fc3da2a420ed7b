/*
sequence.go - Per-year analysis number allocation

PURPOSE:
  Analysis numbers identify samples lab-wide and must be strictly increasing
  and unique within a calendar year, formatted "<year>-<5-digit-sequence>".

THE MAX-WITH-SERVER RULE:
  Two workflow instances may start with different local counters (one tab
  has been open all morning, another just loaded). Each allocation reads the
  highest sequence the authoritative store has seen for the year and takes
  max(localCounter, serverMax) + 1, so the store's view always dominates and
  numbers never repeat across instances.
*/
package custody

import (
	"context"
	"fmt"
	"sync"
)

// SequenceSource reads the highest analysis sequence already persisted for
// a calendar year. Returns 0 when the year has no samples yet.
type SequenceSource interface {
	MaxAnalysisSequence(ctx context.Context, year int) (int, error)
}

// SequenceAllocator hands out analysis numbers using the max-with-server
// rule. Safe for concurrent use within one process; across processes the
// store read keeps allocations ahead of everything already persisted.
type SequenceAllocator struct {
	mu     sync.Mutex
	source SequenceSource
	last   map[int]int // year -> last sequence handed out locally
}

func NewSequenceAllocator(source SequenceSource) *SequenceAllocator {
	return &SequenceAllocator{source: source, last: make(map[int]int)}
}

// Next allocates the next analysis number for the year.
func (a *SequenceAllocator) Next(ctx context.Context, year int) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	serverMax, err := a.source.MaxAnalysisSequence(ctx, year)
	if err != nil {
		return "", err
	}

	n := serverMax
	if local := a.last[year]; local > n {
		n = local
	}
	n++
	a.last[year] = n

	return FormatAnalysisNumber(year, n), nil
}

// FormatAnalysisNumber renders "<year>-<seq:05>", e.g. "2026-00042".
func FormatAnalysisNumber(year, seq int) string {
	return fmt.Sprintf("%d-%05d", year, seq)
}

// ParseAnalysisNumber splits an analysis number back into year and sequence.
// Returns ok=false for anything that does not match the format.
func ParseAnalysisNumber(number string) (year, seq int, ok bool) {
	if _, err := fmt.Sscanf(number, "%4d-%5d", &year, &seq); err != nil {
		return 0, 0, false
	}
	return year, seq, true
}
