package custody_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labworks/custody-engine/custody"
	"github.com/labworks/custody-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestLedger(t *testing.T) (*custody.Ledger, *memory.Store) {
	t.Helper()
	store := memory.New()
	return custody.NewLedger(store), store
}

// =============================================================================
// EXCLUSIVITY INVARIANT TESTS
// =============================================================================

func TestLedger_Open_SecondOpenRejected(t *testing.T) {
	// GIVEN: Cylinder CYL-1 is checked out to company 7
	// WHEN: Opening custody for CYL-1 again, for any company
	// THEN: AlreadyCheckedOutError naming company 7

	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	rec, err := ledger.Open(ctx, "CYL-1", "7")
	require.NoError(t, err)
	require.True(t, rec.Open())

	_, err = ledger.Open(ctx, "CYL-1", "9")
	require.Error(t, err)

	var conflict *custody.AlreadyCheckedOutError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, custody.CompanyID("7"), conflict.Holder)
	assert.ErrorIs(t, err, custody.ErrAlreadyCheckedOut)
}

func TestLedger_Open_AfterCloseSucceeds(t *testing.T) {
	// GIVEN: Custody for CYL-1 was opened and closed
	// WHEN: Opening custody again
	// THEN: The second open succeeds and history keeps both records

	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := ledger.Open(ctx, "CYL-1", "7")
	require.NoError(t, err)
	require.NoError(t, ledger.Close(ctx, []custody.CylinderID{"CYL-1"}))

	_, err = ledger.Open(ctx, "CYL-1", "9")
	require.NoError(t, err)

	history, err := ledger.History(ctx, "CYL-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.False(t, history[0].Open(), "first holding should be closed")
	assert.True(t, history[1].Open(), "second holding should be open")
	assert.Equal(t, custody.CompanyID("9"), history[1].CompanyID)
}

func TestLedger_Close_SkipsCylindersWithoutOpenRecord(t *testing.T) {
	// GIVEN: CYL-1 is checked out, CYL-2 never was
	// WHEN: Closing both in one call
	// THEN: No error; CYL-1 is closed, CYL-2 untouched

	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := ledger.Open(ctx, "CYL-1", "7")
	require.NoError(t, err)

	err = ledger.Close(ctx, []custody.CylinderID{"CYL-1", "CYL-2"})
	require.NoError(t, err)

	open, err := ledger.FindOpen(ctx, "CYL-1")
	require.NoError(t, err)
	assert.Nil(t, open, "CYL-1 should be back in the pool")
}

func TestLedger_Close_EmptySetIsNoop(t *testing.T) {
	ledger, _ := newTestLedger(t)
	assert.NoError(t, ledger.Close(context.Background(), nil))
}

func TestLedger_FindOpen_PoolCylinderReturnsNil(t *testing.T) {
	// Absence of an open record is an answer, not an error.
	ledger, _ := newTestLedger(t)

	open, err := ledger.FindOpen(context.Background(), "CYL-UNSEEN")
	require.NoError(t, err)
	assert.Nil(t, open)
}

func TestLedger_Open_RecordsAreNeverDeleted(t *testing.T) {
	// GIVEN: Three checkout/return cycles for one cylinder
	// WHEN: Reading history
	// THEN: All three holdings are present, oldest first

	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	for i, company := range []custody.CompanyID{"7", "9", "7"} {
		_, err := ledger.Open(ctx, "CYL-1", company)
		require.NoError(t, err, "cycle %d", i)
		require.NoError(t, ledger.Close(ctx, []custody.CylinderID{"CYL-1"}))
		time.Sleep(time.Millisecond) // keep OpenedAt ordering unambiguous
	}

	history, err := ledger.History(ctx, "CYL-1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, custody.CompanyID("7"), history[0].CompanyID)
	assert.Equal(t, custody.CompanyID("9"), history[1].CompanyID)
}
