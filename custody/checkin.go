/*
checkin.go - Sample intake workflow

PURPOSE:
  Records incoming samples, validating each against the cylinder registry
  and the custody ledger, and queues them for work-order assembly. Each
  accepted sample gets a per-year analysis number at intake time.

VALIDATION CHAIN (per sample):
  1. Cylinder number and company are required
  2. Normalize the cylinder number (uppercase, trim)
  3. Reject duplicates within the current intake batch (case-insensitive)
  4. For lab-pool cylinders (CustomerOwned=false):
     a. Resolve through the registry (ErrNotFound / ErrInactive)
     b. The cylinder must be checked out (ErrInvalidState otherwise)
     c. The open custody must belong to the selected company
        (OwnershipMismatchError names the holder otherwise)
  Customer-owned cylinders skip 4 entirely - they never enter custody.

QUEUE SEMANTICS:
  Accepted samples go to the in-memory intake queue AND the authoritative
  store at the same time. Remove() deletes from both; after removal no other
  component may reference the sample. The work-order assembler drains the
  queue through the IntakeQueue view (Pending/Clear).
*/
package custody

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// SAMPLE STORE - Persistence interface
// =============================================================================

// SampleStore persists check-in samples. It also serves as the
// SequenceSource for the analysis-number allocator.
type SampleStore interface {
	SequenceSource

	SaveSample(ctx context.Context, s CheckInSample) error
	DeleteSample(ctx context.Context, id string) error
	UpdateSample(ctx context.Context, s CheckInSample) error

	// ListPendingSamples returns all samples not yet on a work order,
	// oldest first.
	ListPendingSamples(ctx context.Context) ([]CheckInSample, error)
}

// =============================================================================
// CHECK-IN WORKFLOW
// =============================================================================

// CheckInWorkflow validates and queues incoming samples for one operator
// session.
type CheckInWorkflow struct {
	registry Registry
	ledger   *Ledger
	samples  SampleStore
	seq      *SequenceAllocator
	actor    UserID
	clock    func() time.Time

	mu    sync.Mutex
	queue []CheckInSample
	index map[string]string // normalized cylinder number -> sample id
}

func NewCheckInWorkflow(registry Registry, ledger *Ledger, samples SampleStore, seq *SequenceAllocator, actor UserID) *CheckInWorkflow {
	return &CheckInWorkflow{
		registry: registry,
		ledger:   ledger,
		samples:  samples,
		seq:      seq,
		actor:    actor,
		clock:    time.Now,
		index:    make(map[string]string),
	}
}

// WithClock overrides the workflow clock. Test hook.
func (w *CheckInWorkflow) WithClock(clock func() time.Time) *CheckInWorkflow {
	w.clock = clock
	return w
}

// Add validates one sample and appends it to the intake queue and the store.
// The returned sample carries the generated id and analysis number.
func (w *CheckInWorkflow) Add(ctx context.Context, s CheckInSample) (*CheckInSample, error) {
	s.CylinderNumber = NormalizeNumber(s.CylinderNumber)
	switch {
	case s.CylinderNumber == "":
		return nil, fmt.Errorf("%w: cylinder number is required", ErrValidation)
	case s.CompanyID == "":
		return nil, fmt.Errorf("%w: company must be selected", ErrValidation)
	}

	w.mu.Lock()
	if _, dup := w.index[s.CylinderNumber]; dup {
		w.mu.Unlock()
		return nil, &DuplicateScanError{Number: s.CylinderNumber}
	}
	w.mu.Unlock()

	if !s.CustomerOwned {
		cyl, err := w.registry.CylinderByNumber(ctx, s.CylinderNumber)
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("cylinder id not found for this barcode %q: %w", s.CylinderNumber, ErrNotFound)
		}
		if err != nil {
			// Registry outage, not an unknown barcode. Surface it as-is.
			return nil, err
		}
		if !cyl.Active {
			return nil, fmt.Errorf("cylinder %s: %w", s.CylinderNumber, ErrInactive)
		}

		open, err := w.ledger.FindOpen(ctx, cyl.ID)
		if err != nil {
			return nil, err
		}
		if open == nil {
			return nil, fmt.Errorf("cylinder %s is not currently checked out: %w", s.CylinderNumber, ErrInvalidState)
		}
		if open.CompanyID != s.CompanyID {
			return nil, &OwnershipMismatchError{
				Number:   s.CylinderNumber,
				Expected: open.CompanyID,
				Selected: s.CompanyID,
			}
		}
		s.CylinderID = cyl.ID
	}

	now := w.clock().UTC()
	number, err := w.seq.Next(ctx, now.Year())
	if err != nil {
		return nil, err
	}

	s.ID = uuid.NewString()
	s.AnalysisNumber = number
	s.CheckedInAt = now
	s.Status = SamplePending
	if s.CreatedBy == "" {
		s.CreatedBy = w.actor
	}

	// Reserve the number before the store write. A concurrent Add racing us
	// on the same cylinder loses here instead of after both persist.
	w.mu.Lock()
	if _, dup := w.index[s.CylinderNumber]; dup {
		w.mu.Unlock()
		return nil, &DuplicateScanError{Number: s.CylinderNumber}
	}
	w.index[s.CylinderNumber] = s.ID
	w.mu.Unlock()

	if err := w.samples.SaveSample(ctx, s); err != nil {
		w.mu.Lock()
		delete(w.index, s.CylinderNumber)
		w.mu.Unlock()
		return nil, &PersistenceError{Op: "save check-in sample", Err: err}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.queue = append(w.queue, s)
	return &s, nil
}

// Remove deletes a queued sample from the store and the in-memory queue
// before assembly. Returns ErrNotFound when the id is not in the queue.
func (w *CheckInWorkflow) Remove(ctx context.Context, id string) error {
	w.mu.Lock()
	pos := -1
	for i, s := range w.queue {
		if s.ID == id {
			pos = i
			break
		}
	}
	w.mu.Unlock()
	if pos == -1 {
		return fmt.Errorf("queued sample %s: %w", id, ErrNotFound)
	}

	if err := w.samples.DeleteSample(ctx, id); err != nil {
		return &PersistenceError{Op: "delete check-in sample", Err: err}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for i, s := range w.queue {
		if s.ID == id {
			delete(w.index, s.CylinderNumber)
			w.queue = append(w.queue[:i], w.queue[i+1:]...)
			break
		}
	}
	return nil
}

// Pending returns a snapshot of the intake queue, oldest first.
func (w *CheckInWorkflow) Pending() []CheckInSample {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]CheckInSample, len(w.queue))
	copy(out, w.queue)
	return out
}

// Clear empties the intake queue. Called by the assembler after the work
// order is persisted; the samples themselves live on in the store.
func (w *CheckInWorkflow) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.queue = nil
	w.index = make(map[string]string)
}
