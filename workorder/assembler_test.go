package workorder_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labworks/custody-engine/catalog"
	"github.com/labworks/custody-engine/custody"
	"github.com/labworks/custody-engine/pricing"
	"github.com/labworks/custody-engine/store/memory"
	"github.com/labworks/custody-engine/workorder"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type fixture struct {
	store     *memory.Store
	ledger    *custody.Ledger
	pricer    *pricing.Engine
	checkin   *custody.CheckInWorkflow
	assembler *workorder.Assembler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	store.PutCylinder(custody.Cylinder{ID: "cyl-100", Number: "C-100", Active: true})
	store.PutRule(pricing.Rule{
		Code:         "btu",
		StandardRate: decimal.NewFromInt(100),
		RushedRate:   decimal.NewFromInt(150),
		SampleFee:    decimal.NewFromInt(20),
		Active:       true,
	})

	ledger := custody.NewLedger(store)
	seq := custody.NewSequenceAllocator(store)
	pricer := pricing.NewEngine(catalog.NewSnapshot(store))
	return &fixture{
		store:     store,
		ledger:    ledger,
		pricer:    pricer,
		checkin:   custody.NewCheckInWorkflow(store, ledger, store, seq, "tech-1"),
		assembler: workorder.NewAssembler(store, ledger, pricer, seq, store, nil),
	}
}

// queueOne checks C-100 out to the company and checks a sample back in, so
// the intake queue holds exactly one priced-able sample.
func (f *fixture) queueOne(t *testing.T, company custody.CompanyID, rushed bool) custody.CheckInSample {
	t.Helper()
	ctx := context.Background()
	_, err := f.ledger.Open(ctx, "cyl-100", company)
	require.NoError(t, err)
	s, err := f.checkin.Add(ctx, custody.CheckInSample{
		CylinderNumber: "C-100",
		CompanyID:      company,
		AnalysisCode:   "btu",
		Rushed:         rushed,
	})
	require.NoError(t, err)
	return *s
}

// =============================================================================
// ASSEMBLY TESTS
// =============================================================================

func TestAssembler_Assemble_BuildsPricedOrderAndReleasesCustody(t *testing.T) {
	// GIVEN: One rushed sample queued for company 7
	// WHEN: Assembling
	// THEN: A Pending WO-<year>-00001 exists with one line priced at the
	//       rushed rate plus fee, the cylinder's custody is closed, the
	//       sample is marked assembled, and the queue is empty

	f := newFixture(t)
	ctx := context.Background()
	sample := f.queueOne(t, "7", true)

	result, err := f.assembler.Assemble(ctx, f.checkin, "7", "contact-1", "tech-1")
	require.NoError(t, err)
	require.NoError(t, result.CustodyCloseErr)

	wantNumber := workorder.FormatNumber(time.Now().UTC().Year(), 1)
	assert.Equal(t, wantNumber, result.Header.Number)
	assert.Equal(t, workorder.StatusPending, result.Header.Status)
	assert.True(t, result.Header.MileageFee.IsZero())
	assert.Equal(t, custody.UserID("tech-1"), result.Header.CreatedBy)

	require.Len(t, result.Lines, 1)
	line := result.Lines[0]
	assert.Equal(t, sample.AnalysisNumber, line.AnalysisNumber)
	assert.True(t, line.Price.Equal(decimal.NewFromInt(170)), "150 rushed + 20 fee, got %s", line.Price)

	open, err := f.ledger.FindOpen(ctx, "cyl-100")
	require.NoError(t, err)
	assert.Nil(t, open, "custody should be released")

	pending, err := f.store.ListPendingSamples(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending, "sample should be marked assembled")
	assert.Empty(t, f.checkin.Pending(), "queue should be drained")

	saved, err := f.store.WorkOrderByNumber(ctx, wantNumber)
	require.NoError(t, err)
	assert.Equal(t, custody.CompanyID("7"), saved.CompanyID)
}

func TestAssembler_Assemble_ValidatesInputs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.assembler.Assemble(ctx, f.checkin, "", "contact-1", "tech-1")
	assert.ErrorIs(t, err, custody.ErrValidation, "missing company")

	_, err = f.assembler.Assemble(ctx, f.checkin, "7", "", "tech-1")
	assert.ErrorIs(t, err, custody.ErrValidation, "missing contact")

	_, err = f.assembler.Assemble(ctx, f.checkin, "7", "contact-1", "tech-1")
	assert.ErrorIs(t, err, custody.ErrValidation, "empty queue")
}

func TestAssembler_Assemble_UnknownAnalysisCodeAborts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.ledger.Open(ctx, "cyl-100", "7")
	require.NoError(t, err)
	_, err = f.checkin.Add(ctx, custody.CheckInSample{
		CylinderNumber: "C-100",
		CompanyID:      "7",
		AnalysisCode:   "nope",
	})
	require.NoError(t, err)

	_, err = f.assembler.Assemble(ctx, f.checkin, "7", "contact-1", "tech-1")
	assert.ErrorIs(t, err, pricing.ErrNoPriceRule)
	assert.Len(t, f.checkin.Pending(), 1, "queue stays intact for correction")
}

func TestAssembler_Assemble_NumbersAreSequentialAcrossOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	year := time.Now().UTC().Year()

	f.queueOne(t, "7", false)
	first, err := f.assembler.Assemble(ctx, f.checkin, "7", "contact-1", "tech-1")
	require.NoError(t, err)
	assert.Equal(t, workorder.FormatNumber(year, 1), first.Header.Number)

	f.queueOne(t, "7", false)
	second, err := f.assembler.Assemble(ctx, f.checkin, "7", "contact-1", "tech-1")
	require.NoError(t, err)
	assert.Equal(t, workorder.FormatNumber(year, 2), second.Header.Number)
}

// =============================================================================
// FAILURE POLICY TESTS
// =============================================================================

// failingOrderStore rejects CreateWorkOrder and delegates everything else.
type failingOrderStore struct {
	workorder.Store
}

func (s *failingOrderStore) CreateWorkOrder(context.Context, workorder.Header, []workorder.Line) error {
	return errors.New("disk full")
}

func TestAssembler_Assemble_PersistenceFailureLeavesQueueIntact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.queueOne(t, "7", false)

	seq := custody.NewSequenceAllocator(f.store)
	broken := workorder.NewAssembler(f.store, f.ledger, f.pricer, seq, &failingOrderStore{Store: f.store}, nil)

	_, err := broken.Assemble(ctx, f.checkin, "7", "contact-1", "tech-1")
	var persist *custody.PersistenceError
	require.ErrorAs(t, err, &persist)

	assert.Len(t, f.checkin.Pending(), 1, "queue must survive for retry")
	open, ferr := f.ledger.FindOpen(ctx, "cyl-100")
	require.NoError(t, ferr)
	assert.NotNil(t, open, "custody must stay open")
}

// failingLedgerStore rejects CloseCustody and delegates everything else.
type failingLedgerStore struct {
	custody.LedgerStore
}

func (s *failingLedgerStore) CloseCustody(context.Context, []custody.CylinderID, time.Time) error {
	return errors.New("connection reset")
}

func TestAssembler_Assemble_CustodyCloseFailureIsNonFatal(t *testing.T) {
	// The work order is persisted before custody release; a release failure
	// is reported on the Result, never rolled back.

	f := newFixture(t)
	ctx := context.Background()
	f.queueOne(t, "7", false)

	brokenLedger := custody.NewLedger(&failingLedgerStore{LedgerStore: f.store})
	seq := custody.NewSequenceAllocator(f.store)
	assembler := workorder.NewAssembler(f.store, brokenLedger, f.pricer, seq, f.store, nil)

	result, err := assembler.Assemble(ctx, f.checkin, "7", "contact-1", "tech-1")
	require.NoError(t, err)
	require.Error(t, result.CustodyCloseErr)

	exists, err := f.store.WorkOrderNumberExists(ctx, result.Header.Number)
	require.NoError(t, err)
	assert.True(t, exists, "work order stays persisted")
	assert.Empty(t, f.checkin.Pending())
}
