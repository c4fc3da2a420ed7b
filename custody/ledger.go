/*
ledger.go - Custody ledger with the exclusivity invariant

PURPOSE:
  The Ledger is the source of truth for who holds which cylinder. Opening a
  record means a cylinder left the lab; closing it means the cylinder is back
  in the pool. Records are never deleted - the full history is the audit
  trail for every cylinder.

CRITICAL INVARIANTS:
  1. EXCLUSIVE: At most one open record per cylinder at any time
  2. APPEND-AND-CLOSE: Records are closed, never deleted or rewritten
  3. AUTHORITATIVE: The store's uniqueness check is the final word - a stale
     local cache never overrides a store-level conflict

CONCURRENCY:
  Two operators racing to check out the same cylinder both reach
  Open(); the store accepts exactly one and rejects the other with
  ErrConflict, which surfaces here as AlreadyCheckedOutError.

SEE ALSO:
  - checkout.go: Opens records on confirmed checkout
  - workorder (package): Closes records when samples land on a work order
*/
package custody

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// LEDGER STORE - Persistence interface
// =============================================================================

// LedgerStore persists custody records. The store enforces the exclusivity
// invariant: OpenCustody fails with ErrConflict while an open record exists
// for the cylinder.
type LedgerStore interface {
	// OpenCustody persists a new open record.
	// Returns ErrConflict if an open record already exists for the cylinder.
	OpenCustody(ctx context.Context, rec CustodyRecord) error

	// FindOpenCustody returns the open record for a cylinder, or (nil, nil)
	// when the cylinder is not checked out.
	FindOpenCustody(ctx context.Context, id CylinderID) (*CustodyRecord, error)

	// CloseCustody closes the open records for the given cylinders.
	// Ids with no open record are skipped silently - customer-owned
	// cylinders never have one.
	CloseCustody(ctx context.Context, ids []CylinderID, at time.Time) error

	// CustodyHistory returns every record ever opened for a cylinder,
	// oldest first.
	CustodyHistory(ctx context.Context, id CylinderID) ([]CustodyRecord, error)
}

// =============================================================================
// LEDGER
// =============================================================================

// Ledger wraps a LedgerStore with id generation and error translation.
type Ledger struct {
	records LedgerStore
	clock   func() time.Time
}

func NewLedger(records LedgerStore) *Ledger {
	return &Ledger{records: records, clock: time.Now}
}

// WithClock overrides the ledger clock. Test hook.
func (l *Ledger) WithClock(clock func() time.Time) *Ledger {
	l.clock = clock
	return l
}

// Open creates an open custody record for cylinderID held by companyID.
// Returns AlreadyCheckedOutError (wrapping ErrAlreadyCheckedOut) when an
// open record already exists, naming the current holder when known.
func (l *Ledger) Open(ctx context.Context, cylinderID CylinderID, companyID CompanyID) (*CustodyRecord, error) {
	rec := CustodyRecord{
		ID:         uuid.NewString(),
		CylinderID: cylinderID,
		CompanyID:  companyID,
		OpenedAt:   l.clock().UTC(),
	}
	err := l.records.OpenCustody(ctx, rec)
	if errors.Is(err, ErrConflict) {
		holder := CompanyID("")
		if open, ferr := l.records.FindOpenCustody(ctx, cylinderID); ferr == nil && open != nil {
			holder = open.CompanyID
		}
		return nil, &AlreadyCheckedOutError{Number: string(cylinderID), Holder: holder}
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// FindOpen returns the open record for a cylinder, or (nil, nil) when the
// cylinder is in the pool.
func (l *Ledger) FindOpen(ctx context.Context, id CylinderID) (*CustodyRecord, error) {
	return l.records.FindOpenCustody(ctx, id)
}

// Close marks the open records for the given cylinders closed. A cylinder
// with no open record is not an error: customer-owned cylinders pass through
// work-order assembly without ever entering custody.
func (l *Ledger) Close(ctx context.Context, ids []CylinderID) error {
	if len(ids) == 0 {
		return nil
	}
	return l.records.CloseCustody(ctx, ids, l.clock().UTC())
}

// History returns the full custody trail for a cylinder, oldest first.
func (l *Ledger) History(ctx context.Context, id CylinderID) ([]CustodyRecord, error) {
	return l.records.CustodyHistory(ctx, id)
}
