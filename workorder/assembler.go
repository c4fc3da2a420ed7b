/*
assembler.go - Work-order assembly

PURPOSE:
  Drains the intake queue into one work order: validates the batch, fills
  in any missing analysis numbers, allocates a lab-unique work-order
  number, prices every sample, persists header + lines + outbound sample
  records, and releases custody of returned lab-pool cylinders.

FAILURE POLICY:
  Steps before persistence (validation, numbering, pricing) abort with no
  side effects. A store rejection during persistence surfaces as
  custody.PersistenceError and leaves the intake queue intact for retry.
  The custody-close step AFTER the work order is persisted is non-fatal:
  its error is reported on the Result and logged, not rolled back. No
  compensating workflow reconciles that drift here - callers decide.
*/
package workorder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/labworks/custody-engine/custody"
	"github.com/labworks/custody-engine/pricing"
)

// IntakeQueue is the assembler's view of the check-in workflow's queue.
// custody.CheckInWorkflow implements it.
type IntakeQueue interface {
	Pending() []custody.CheckInSample
	Clear()
}

// Result is what a successful assembly returns. CustodyCloseErr carries the
// non-fatal failure of the custody release step, nil when the release
// succeeded.
type Result struct {
	Header          *Header
	Lines           []Line
	CustodyCloseErr error
}

// Assembler turns queued samples into work orders.
type Assembler struct {
	samples custody.SampleStore
	ledger  *custody.Ledger
	pricer  *pricing.Engine
	seq     *custody.SequenceAllocator
	store   Store
	log     *zap.Logger
	clock   func() time.Time

	mu      sync.Mutex
	lastSeq map[int]int // year -> last work-order sequence handed out locally
}

func NewAssembler(samples custody.SampleStore, ledger *custody.Ledger, pricer *pricing.Engine, seq *custody.SequenceAllocator, store Store, log *zap.Logger) *Assembler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Assembler{
		samples: samples,
		ledger:  ledger,
		pricer:  pricer,
		seq:     seq,
		store:   store,
		log:     log,
		clock:   time.Now,
		lastSeq: make(map[int]int),
	}
}

// WithClock overrides the assembler clock. Test hook.
func (a *Assembler) WithClock(clock func() time.Time) *Assembler {
	a.clock = clock
	return a
}

// Assemble groups the queued samples into one priced work order for the
// company/contact and releases custody of the returned lab-pool cylinders.
func (a *Assembler) Assemble(ctx context.Context, queue IntakeQueue, companyID custody.CompanyID, contactID custody.ContactID, actor custody.UserID) (*Result, error) {
	batch := queue.Pending()
	switch {
	case companyID == "":
		return nil, fmt.Errorf("%w: company must be selected", custody.ErrValidation)
	case contactID == "":
		return nil, fmt.Errorf("%w: contact must be selected", custody.ErrValidation)
	case len(batch) == 0:
		return nil, fmt.Errorf("%w: intake queue is empty", custody.ErrValidation)
	}

	now := a.clock().UTC()

	// Any sample that slipped through intake without an analysis number
	// gets the next sequence here, through the shared allocator, so
	// numbers stay unique across the batch.
	for i := range batch {
		if batch[i].AnalysisNumber != "" {
			continue
		}
		number, err := a.seq.Next(ctx, now.Year())
		if err != nil {
			return nil, err
		}
		batch[i].AnalysisNumber = number
	}

	number, err := a.allocateNumber(ctx, now.Year())
	if err != nil {
		return nil, err
	}

	header := Header{
		Number:     number,
		Date:       now,
		CompanyID:  companyID,
		ContactID:  contactID,
		MileageFee: decimal.Zero,
		MiscFee:    decimal.Zero,
		HourlyFee:  decimal.Zero,
		Status:     StatusPending,
		CreatedBy:  actor,
	}

	monthly, err := a.store.MonthlyAnalysisCount(ctx, companyID, now)
	if err != nil {
		return nil, err
	}

	lines := make([]Line, 0, len(batch))
	for _, s := range batch {
		bd, err := a.pricer.PriceBreakdown(ctx, s.AnalysisCode, s.Rushed, monthly)
		if err != nil {
			return nil, fmt.Errorf("sample %s: %w", s.AnalysisNumber, err)
		}
		lines = append(lines, snapshotLine(number, s, bd))
	}

	// Persistence. From here on a failure surfaces as PersistenceError and
	// the intake queue stays intact for retry.
	if err := a.store.CreateWorkOrder(ctx, header, lines); err != nil {
		return nil, &custody.PersistenceError{Op: "create work order " + number, Err: err}
	}
	for _, s := range batch {
		s.WorkOrderNumber = number
		s.Status = custody.SampleAssembled
		if err := a.samples.UpdateSample(ctx, s); err != nil {
			return nil, &custody.PersistenceError{Op: "submit sample " + s.AnalysisNumber, Err: err}
		}
	}

	result := &Result{Header: &header, Lines: lines}

	// Release returned lab-pool cylinders. Non-fatal: the work order is
	// already persisted.
	var returned []custody.CylinderID
	for _, s := range batch {
		if !s.CustomerOwned && s.CylinderID != "" {
			returned = append(returned, s.CylinderID)
		}
	}
	if err := a.ledger.Close(ctx, returned); err != nil {
		a.log.Warn("custody release failed after work order was persisted",
			zap.String("work_order", number),
			zap.Int("cylinders", len(returned)),
			zap.Error(err))
		result.CustodyCloseErr = err
	}

	queue.Clear()
	return result, nil
}

// allocateNumber hands out "WO-<year>-<seq:05>" using the same
// max-with-server rule as analysis numbers, then collision-checks against
// the store before committing to it.
func (a *Assembler) allocateNumber(ctx context.Context, year int) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	serverMax, err := a.store.MaxWorkOrderSequence(ctx, year)
	if err != nil {
		return "", err
	}
	n := serverMax
	if local := a.lastSeq[year]; local > n {
		n = local
	}

	for {
		n++
		number := FormatNumber(year, n)
		exists, err := a.store.WorkOrderNumberExists(ctx, number)
		if err != nil {
			return "", err
		}
		if !exists {
			a.lastSeq[year] = n
			return number, nil
		}
	}
}

// FormatNumber renders a work-order number, e.g. "WO-2026-00007".
func FormatNumber(year, seq int) string {
	return fmt.Sprintf("WO-%d-%05d", year, seq)
}

func snapshotLine(number string, s custody.CheckInSample, bd *pricing.Breakdown) Line {
	return Line{
		ID:              uuid.NewString(),
		WorkOrderNumber: number,
		SampleID:        s.ID,
		AnalysisNumber:  s.AnalysisNumber,
		AnalysisCode:    s.AnalysisCode,
		CylinderNumber:  s.CylinderNumber,
		CustomerOwned:   s.CustomerOwned,
		Rushed:          s.Rushed,
		Area:            s.Area,
		Producer:        s.Producer,
		WellName:        s.WellName,
		MeterNumber:     s.MeterNumber,
		FlowRate:        s.FlowRate,
		Pressure:        s.Pressure,
		Temperature:     s.Temperature,
		H2S:             s.H2S,
		CostCode:        s.CostCode,
		Remarks:         s.Remarks,
		BaseRate:        bd.BaseRate,
		SampleFee:       bd.SampleFee,
		Discount:        bd.Discount,
		Price:           bd.Total,
		CheckedInAt:     s.CheckedInAt,
	}
}
