/*
checkout.go - Batch checkout workflow

PURPOSE:
  An operator scans cylinder barcodes one at a time into an in-memory batch,
  picks the company and contact taking them, and confirms. Confirmation opens
  a custody record per cylinder, persists the batch, and emails the contact.

VALIDATION CHAIN (per scan):
  1. Reject empty/whitespace-only input
  2. Normalize (uppercase, trim)
  3. Reject duplicates within the current batch (case-insensitive)
  4. Resolve through the cylinder registry
  5. Reject cylinders already in custody

STALENESS:
  Scans are validated against the store at scan time, but the store's
  uniqueness check at Open() remains the final word: another operator may
  check the cylinder out between our scan and our confirm. The loser gets
  AlreadyCheckedOutError at confirm and the remaining scans stay in the
  batch for correction and resubmit.

SESSION SHAPE:
  One workflow instance per operator session. Confirm clears the scan list
  but keeps the company/contact selection so back-to-back batches for the
  same customer stay convenient.
*/
package custody

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// =============================================================================
// COLLABORATOR INTERFACES
// =============================================================================

// CheckoutStore persists confirmed checkout batches.
type CheckoutStore interface {
	SaveCheckoutBatch(ctx context.Context, batch CheckoutBatch) error
	ListCheckoutBatches(ctx context.Context) ([]CheckoutBatch, error)
}

// Confirmation is the payload handed to the notifier on a confirmed batch.
type Confirmation struct {
	ContactID   ContactID
	CompanyID   CompanyID
	Numbers     []string
	ConfirmedAt time.Time
}

// ConfirmationNotifier delivers the checkout confirmation to the selected
// contact. Delivery failure is non-fatal: custody is already open.
type ConfirmationNotifier interface {
	CheckoutConfirmed(ctx context.Context, c Confirmation) error
}

// =============================================================================
// CHECKOUT WORKFLOW
// =============================================================================

// CheckoutWorkflow accumulates scanned cylinders for one operator session.
type CheckoutWorkflow struct {
	registry Registry
	ledger   *Ledger
	store    CheckoutStore
	notifier ConfirmationNotifier
	actor    UserID
	log      *zap.Logger
	clock    func() time.Time

	mu      sync.Mutex
	company CompanyID
	contact ContactID
	scans   []Cylinder
	index   map[string]int // normalized number -> position in scans
}

func NewCheckoutWorkflow(registry Registry, ledger *Ledger, store CheckoutStore, notifier ConfirmationNotifier, actor UserID, log *zap.Logger) *CheckoutWorkflow {
	if log == nil {
		log = zap.NewNop()
	}
	return &CheckoutWorkflow{
		registry: registry,
		ledger:   ledger,
		store:    store,
		notifier: notifier,
		actor:    actor,
		log:      log,
		clock:    time.Now,
		index:    make(map[string]int),
	}
}

// SelectCompany sets the company receiving the batch.
func (w *CheckoutWorkflow) SelectCompany(id CompanyID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.company = id
}

// SelectContact sets the contact who gets the confirmation email.
func (w *CheckoutWorkflow) SelectContact(id ContactID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.contact = id
}

// Scan validates one barcode and adds the cylinder to the batch.
func (w *CheckoutWorkflow) Scan(ctx context.Context, raw string) (*Cylinder, error) {
	number := NormalizeNumber(raw)
	if number == "" {
		return nil, fmt.Errorf("%w: cylinder number is required", ErrValidation)
	}

	w.mu.Lock()
	if _, dup := w.index[number]; dup {
		w.mu.Unlock()
		return nil, &DuplicateScanError{Number: number}
	}
	w.mu.Unlock()

	cyl, err := w.registry.CylinderByNumber(ctx, number)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("cylinder id not found for this barcode %q: %w", number, ErrNotFound)
	}
	if err != nil {
		// Registry outage, not an unknown barcode. Surface it as-is.
		return nil, err
	}

	open, err := w.ledger.FindOpen(ctx, cyl.ID)
	if err != nil {
		return nil, err
	}
	if open != nil {
		return nil, &AlreadyCheckedOutError{Number: number, Holder: open.CompanyID}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	// Re-check: another Scan may have raced us between the unlock above
	// and here.
	if _, dup := w.index[number]; dup {
		return nil, &DuplicateScanError{Number: number}
	}
	w.index[number] = len(w.scans)
	w.scans = append(w.scans, *cyl)
	return cyl, nil
}

// Unscan removes a previously scanned cylinder from the batch before
// confirmation. Returns false when the number is not in the batch.
func (w *CheckoutWorkflow) Unscan(raw string) bool {
	number := NormalizeNumber(raw)

	w.mu.Lock()
	defer w.mu.Unlock()
	i, ok := w.index[number]
	if !ok {
		return false
	}
	w.scans = append(w.scans[:i], w.scans[i+1:]...)
	delete(w.index, number)
	for n, j := range w.index {
		if j > i {
			w.index[n] = j - 1
		}
	}
	return true
}

// Scans returns the normalized numbers currently in the batch, scan order.
func (w *CheckoutWorkflow) Scans() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	numbers := make([]string, len(w.scans))
	for i, c := range w.scans {
		numbers[i] = c.Number
	}
	return numbers
}

// Selection returns the current company/contact selection.
func (w *CheckoutWorkflow) Selection() (CompanyID, ContactID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.company, w.contact
}

// Confirm opens custody for every scanned cylinder, persists the batch, and
// notifies the contact. Requires a company, a contact, and at least one scan.
//
// A store-level conflict on any cylinder aborts the confirm; cylinders whose
// custody already opened stay open (no compensating transaction) and are
// dropped from the batch, so a resubmit retries only what failed.
func (w *CheckoutWorkflow) Confirm(ctx context.Context) (*CheckoutBatch, error) {
	w.mu.Lock()
	company, contact := w.company, w.contact
	scans := make([]Cylinder, len(w.scans))
	copy(scans, w.scans)
	w.mu.Unlock()

	switch {
	case company == "":
		return nil, fmt.Errorf("%w: company must be selected", ErrValidation)
	case contact == "":
		return nil, fmt.Errorf("%w: contact must be selected", ErrValidation)
	case len(scans) == 0:
		return nil, fmt.Errorf("%w: at least one cylinder must be scanned", ErrValidation)
	}

	batch := CheckoutBatch{
		ID:          uuid.NewString(),
		CompanyID:   company,
		ContactID:   contact,
		ConfirmedAt: w.clock().UTC(),
		CreatedBy:   w.actor,
	}

	for _, cyl := range scans {
		if _, err := w.ledger.Open(ctx, cyl.ID, company); err != nil {
			return nil, err
		}
		batch.CylinderIDs = append(batch.CylinderIDs, cyl.ID)
		batch.Numbers = append(batch.Numbers, cyl.Number)
		// Custody is open now. Drop the scan so a retry after a later
		// failure does not double-open.
		w.dropScan(cyl.Number)
	}

	if err := w.store.SaveCheckoutBatch(ctx, batch); err != nil {
		return nil, &PersistenceError{Op: "save checkout batch", Err: err}
	}

	if err := w.notifier.CheckoutConfirmed(ctx, Confirmation{
		ContactID:   contact,
		CompanyID:   company,
		Numbers:     batch.Numbers,
		ConfirmedAt: batch.ConfirmedAt,
	}); err != nil {
		w.log.Warn("checkout confirmation notification failed",
			zap.String("batch_id", batch.ID),
			zap.Error(err))
	}

	return &batch, nil
}

func (w *CheckoutWorkflow) dropScan(number string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	i, ok := w.index[number]
	if !ok {
		return
	}
	w.scans = append(w.scans[:i], w.scans[i+1:]...)
	delete(w.index, number)
	for n, j := range w.index {
		if j > i {
			w.index[n] = j - 1
		}
	}
}
