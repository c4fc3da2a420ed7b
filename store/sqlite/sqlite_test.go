package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labworks/custody-engine/access"
	"github.com/labworks/custody-engine/catalog"
	"github.com/labworks/custody-engine/custody"
	"github.com/labworks/custody-engine/store/sqlite"
	"github.com/labworks/custody-engine/workorder"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func openRecord(id string, cylinder custody.CylinderID, company custody.CompanyID) custody.CustodyRecord {
	return custody.CustodyRecord{
		ID:         id,
		CylinderID: cylinder,
		CompanyID:  company,
		OpenedAt:   time.Now().UTC(),
	}
}

// =============================================================================
// CYLINDER REGISTRY TESTS
// =============================================================================

func TestStore_Cylinders_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveCylinder(ctx, custody.Cylinder{
		ID: "cyl-1", Number: "C-100", Active: true, OwnerCompanyID: "7",
	}))

	byNumber, err := store.CylinderByNumber(ctx, "C-100")
	require.NoError(t, err)
	assert.Equal(t, custody.CylinderID("cyl-1"), byNumber.ID)
	assert.Equal(t, custody.CompanyID("7"), byNumber.OwnerCompanyID)
	assert.True(t, byNumber.Active)

	_, err = store.CylinderByNumber(ctx, "C-999")
	assert.ErrorIs(t, err, custody.ErrNotFound)
}

// =============================================================================
// CUSTODY LEDGER TESTS
// =============================================================================

func TestStore_OpenCustody_SchemaEnforcesExclusivity(t *testing.T) {
	// GIVEN: An open custody record for cyl-1
	// WHEN: A second open record for the same cylinder is inserted
	// THEN: The partial unique index rejects it as ErrConflict

	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.OpenCustody(ctx, openRecord("r-1", "cyl-1", "7")))

	err := store.OpenCustody(ctx, openRecord("r-2", "cyl-1", "9"))
	assert.ErrorIs(t, err, custody.ErrConflict)

	// A different cylinder is unaffected.
	assert.NoError(t, store.OpenCustody(ctx, openRecord("r-3", "cyl-2", "9")))
}

func TestStore_CloseCustody_ReopensAndKeepsHistory(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Distinct opened_at values: history ordering is by opened_at, stored
	// at second precision.
	first := openRecord("r-1", "cyl-1", "7")
	first.OpenedAt = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, store.OpenCustody(ctx, first))
	require.NoError(t, store.CloseCustody(ctx, []custody.CylinderID{"cyl-1"}, time.Now().UTC()))

	open, err := store.FindOpenCustody(ctx, "cyl-1")
	require.NoError(t, err)
	assert.Nil(t, open)

	// Closing freed the index slot, so the cylinder can go out again.
	require.NoError(t, store.OpenCustody(ctx, openRecord("r-2", "cyl-1", "9")))

	history, err := store.CustodyHistory(ctx, "cyl-1")
	require.NoError(t, err)
	require.Len(t, history, 2, "closed records are never deleted")
	assert.False(t, history[0].Open())
	assert.True(t, history[1].Open())
	assert.Equal(t, custody.CompanyID("9"), history[1].CompanyID)
}

func TestStore_CloseCustody_SkipsCylindersWithoutOpenRecord(t *testing.T) {
	store := newTestStore(t)

	err := store.CloseCustody(context.Background(),
		[]custody.CylinderID{"never-out"}, time.Now().UTC())
	assert.NoError(t, err)
}

func TestStore_FindOpenCustody_AbsenceIsNilNil(t *testing.T) {
	store := newTestStore(t)

	open, err := store.FindOpenCustody(context.Background(), "cyl-1")
	require.NoError(t, err)
	assert.Nil(t, open)
}

// =============================================================================
// SAMPLE TESTS
// =============================================================================

func TestStore_Samples_RoundTripAndSequence(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	max, err := store.MaxAnalysisSequence(ctx, 2026)
	require.NoError(t, err)
	assert.Zero(t, max)

	sample := custody.CheckInSample{
		ID:             "s-1",
		CompanyID:      "7",
		AnalysisCode:   "btu",
		CylinderNumber: "C-100",
		AnalysisNumber: "2026-00007",
		Rushed:         true,
		Producer:       "Northfield",
		H2S:            "0.4",
		CheckedInAt:    time.Now().UTC(),
		Status:         custody.SamplePending,
		CreatedBy:      "tech-1",
	}
	require.NoError(t, store.SaveSample(ctx, sample))

	max, err = store.MaxAnalysisSequence(ctx, 2026)
	require.NoError(t, err)
	assert.Equal(t, 7, max)

	max, err = store.MaxAnalysisSequence(ctx, 2025)
	require.NoError(t, err)
	assert.Zero(t, max, "sequence is scoped per year")

	pending, err := store.ListPendingSamples(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "Northfield", pending[0].Producer)
	assert.True(t, pending[0].Rushed)
}

func TestStore_UpdateSample_PersistsLateAnalysisNumber(t *testing.T) {
	// GIVEN: A queued sample stored without an analysis number
	// WHEN: Updating it with the number allocated later
	// THEN: The number and its sequence columns land, so the allocator
	//       resumes past it after a restart

	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveSample(ctx, custody.CheckInSample{
		ID: "s-1", CompanyID: "7", CylinderNumber: "C-100",
		Status: custody.SamplePending, CheckedInAt: time.Now().UTC(),
	}))

	require.NoError(t, store.UpdateSample(ctx, custody.CheckInSample{
		ID: "s-1", CompanyID: "7", CylinderNumber: "C-100",
		AnalysisNumber: "2026-00009",
		Status:         custody.SamplePending, CheckedInAt: time.Now().UTC(),
	}))

	pending, err := store.ListPendingSamples(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "2026-00009", pending[0].AnalysisNumber)

	max, err := store.MaxAnalysisSequence(ctx, 2026)
	require.NoError(t, err)
	assert.Equal(t, 9, max)
}

func TestStore_UpdateSample_UnknownIDRejected(t *testing.T) {
	store := newTestStore(t)

	err := store.UpdateSample(context.Background(), custody.CheckInSample{
		ID: "no-such", AnalysisNumber: "2026-00001",
	})
	assert.ErrorIs(t, err, custody.ErrNotFound)
}

func TestStore_DeleteSample_RemovesPendingRow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveSample(ctx, custody.CheckInSample{
		ID: "s-1", CompanyID: "7", CylinderNumber: "C-100",
		AnalysisNumber: "2026-00001", Status: custody.SamplePending,
		CheckedInAt: time.Now().UTC(),
	}))
	require.NoError(t, store.DeleteSample(ctx, "s-1"))

	pending, err := store.ListPendingSamples(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestStore_MonthlyAnalysisCount_TrailingWindowPerCompany(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	put := func(id string, company custody.CompanyID, at time.Time) {
		require.NoError(t, store.SaveSample(ctx, custody.CheckInSample{
			ID: id, CompanyID: company, CylinderNumber: "C-" + id,
			AnalysisNumber: "2026-0000" + id[len(id)-1:],
			Status:         custody.SamplePending, CheckedInAt: at,
		}))
	}
	put("s-1", "7", now.AddDate(0, 0, -3))
	put("s-2", "7", now.AddDate(0, -2, 0)) // outside the window
	put("s-3", "9", now.AddDate(0, 0, -1)) // other company

	count, err := store.MonthlyAnalysisCount(ctx, "7", now)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

// =============================================================================
// WORK ORDER TESTS
// =============================================================================

func TestStore_WorkOrders_CreateAndRead(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	header := workorder.Header{
		Number:     "WO-2026-00001",
		Date:       time.Now().UTC(),
		CompanyID:  "7",
		ContactID:  "c-1",
		MileageFee: decimal.Zero,
		MiscFee:    decimal.Zero,
		HourlyFee:  decimal.Zero,
		Status:     workorder.StatusPending,
		CreatedBy:  "tech-1",
	}
	lines := []workorder.Line{{
		ID:              "l-1",
		WorkOrderNumber: "WO-2026-00001",
		SampleID:        "s-1",
		AnalysisNumber:  "2026-00001",
		AnalysisCode:    "btu",
		CylinderNumber:  "C-100",
		BaseRate:        decimal.NewFromInt(150),
		SampleFee:       decimal.NewFromInt(20),
		Discount:        decimal.Zero,
		Price:           decimal.NewFromInt(170),
		CheckedInAt:     time.Now().UTC(),
	}}
	require.NoError(t, store.CreateWorkOrder(ctx, header, lines))

	saved, err := store.WorkOrderByNumber(ctx, "WO-2026-00001")
	require.NoError(t, err)
	assert.Equal(t, workorder.StatusPending, saved.Status)
	assert.Equal(t, custody.CompanyID("7"), saved.CompanyID)

	savedLines, err := store.LinesByNumber(ctx, "WO-2026-00001")
	require.NoError(t, err)
	require.Len(t, savedLines, 1)
	assert.True(t, savedLines[0].Price.Equal(decimal.NewFromInt(170)))

	exists, err := store.WorkOrderNumberExists(ctx, "WO-2026-00001")
	require.NoError(t, err)
	assert.True(t, exists)

	max, err := store.MaxWorkOrderSequence(ctx, 2026)
	require.NoError(t, err)
	assert.Equal(t, 1, max)
}

func TestStore_CreateWorkOrder_DuplicateNumberRejected(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	header := workorder.Header{
		Number: "WO-2026-00001", Date: time.Now().UTC(),
		CompanyID: "7", ContactID: "c-1",
		MileageFee: decimal.Zero, MiscFee: decimal.Zero, HourlyFee: decimal.Zero,
		Status: workorder.StatusPending, CreatedBy: "tech-1",
	}
	require.NoError(t, store.CreateWorkOrder(ctx, header, nil))

	err := store.CreateWorkOrder(ctx, header, nil)
	assert.ErrorIs(t, err, custody.ErrConflict)
}

func TestStore_UpdateWorkOrderFeesAndStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateWorkOrder(ctx, workorder.Header{
		Number: "WO-2026-00001", Date: time.Now().UTC(),
		CompanyID: "7", ContactID: "c-1",
		MileageFee: decimal.Zero, MiscFee: decimal.Zero, HourlyFee: decimal.Zero,
		Status: workorder.StatusPending, CreatedBy: "tech-1",
	}, nil))

	require.NoError(t, store.UpdateWorkOrderFees(ctx, "WO-2026-00001",
		decimal.NewFromInt(35), decimal.RequireFromString("12.5"), decimal.Zero))
	require.NoError(t, store.UpdateWorkOrderStatus(ctx, "WO-2026-00001", workorder.StatusInProgress))

	saved, err := store.WorkOrderByNumber(ctx, "WO-2026-00001")
	require.NoError(t, err)
	assert.True(t, saved.MileageFee.Equal(decimal.NewFromInt(35)))
	assert.True(t, saved.MiscFee.Equal(decimal.RequireFromString("12.5")))
	assert.Equal(t, workorder.StatusInProgress, saved.Status)
}

// =============================================================================
// CATALOG AND IDENTITY TESTS
// =============================================================================

func TestStore_Catalog_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveCompany(ctx, catalog.Company{ID: "7", Name: "ACME Gas", Active: true}))
	require.NoError(t, store.SaveContact(ctx, catalog.Contact{
		ID: "c-1", CompanyID: "7", Name: "Pat", Email: "pat@acme.example", Active: true,
	}))

	companies, err := store.ListCompanies(ctx)
	require.NoError(t, err)
	require.Len(t, companies, 1)
	assert.Equal(t, "ACME Gas", companies[0].Name)

	contacts, err := store.ListContacts(ctx)
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	assert.Equal(t, custody.CompanyID("7"), contacts[0].CompanyID)
}

func TestStore_IdentityByToken(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveToken(ctx, "tok-abc", access.Identity{
		UserID: "u-1", RoleID: access.RoleEmployee, CompanyID: "7",
	}))

	id, err := store.IdentityByToken(ctx, "tok-abc")
	require.NoError(t, err)
	assert.Equal(t, "u-1", id.UserID)
	assert.Equal(t, access.RoleEmployee, id.RoleID)

	_, err = store.IdentityByToken(ctx, "tok-unknown")
	assert.ErrorIs(t, err, access.ErrUnauthorized)
}
