package catalog_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labworks/custody-engine/access"
	"github.com/labworks/custody-engine/catalog"
	"github.com/labworks/custody-engine/custody"
	"github.com/labworks/custody-engine/pricing"
	"github.com/labworks/custody-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func seededSource(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.New()
	store.PutCompany(catalog.Company{ID: "7", Name: "ACME Gas", Active: true})
	store.PutContact(catalog.Contact{ID: "c-1", CompanyID: "7", Name: "Pat", Email: "pat@acme.example", Active: true})
	store.PutRule(pricing.Rule{Code: "btu", StandardRate: decimal.NewFromInt(100), Active: true})
	store.PutPermission(access.Permission{
		RoleID: access.RoleEmployee, ModuleID: access.ModuleCheckouts,
		Level: access.LevelFull, Active: true,
	})
	return store
}

// countingSource wraps a Source and counts Load round-trips.
type countingSource struct {
	catalog.Source
	loads int
}

func (s *countingSource) ListCompanies(ctx context.Context) ([]catalog.Company, error) {
	s.loads++
	return s.Source.ListCompanies(ctx)
}

// failingSource rejects every list call.
type failingSource struct{}

func (failingSource) ListCompanies(context.Context) ([]catalog.Company, error) {
	return nil, errors.New("records service unreachable")
}
func (failingSource) ListContacts(context.Context) ([]catalog.Contact, error) {
	return nil, errors.New("records service unreachable")
}
func (failingSource) ListPriceRules(context.Context) ([]pricing.Rule, error) {
	return nil, errors.New("records service unreachable")
}
func (failingSource) ListPermissions(context.Context) ([]access.Permission, error) {
	return nil, errors.New("records service unreachable")
}

// =============================================================================
// SNAPSHOT TESTS
// =============================================================================

func TestSnapshot_LazyLoadOnFirstRead(t *testing.T) {
	snap := catalog.NewSnapshot(seededSource(t))
	assert.True(t, snap.LoadedAt().IsZero(), "nothing loaded yet")

	company, err := snap.CompanyByID(context.Background(), "7")
	require.NoError(t, err)
	assert.Equal(t, "ACME Gas", company.Name)
	assert.False(t, snap.LoadedAt().IsZero())
}

func TestSnapshot_ReadsAreCachedUntilInvalidate(t *testing.T) {
	// GIVEN: A loaded snapshot
	// WHEN: The source changes without an Invalidate
	// THEN: Reads keep serving the stale snapshot; Invalidate forces a reload

	store := seededSource(t)
	counting := &countingSource{Source: store}
	snap := catalog.NewSnapshot(counting)
	ctx := context.Background()

	_, err := snap.CompanyByID(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, 1, counting.loads)

	store.PutCompany(catalog.Company{ID: "9", Name: "Northfield", Active: true})
	_, err = snap.CompanyByID(ctx, "9")
	assert.ErrorIs(t, err, custody.ErrNotFound, "stale snapshot does not see the new row")
	assert.Equal(t, 1, counting.loads)

	snap.Invalidate()
	company, err := snap.CompanyByID(ctx, "9")
	require.NoError(t, err)
	assert.Equal(t, "Northfield", company.Name)
	assert.Equal(t, 2, counting.loads)
}

func TestSnapshot_RuleByCode_UnknownIsNilNil(t *testing.T) {
	snap := catalog.NewSnapshot(seededSource(t))
	ctx := context.Background()

	rule, err := snap.RuleByCode(ctx, "btu")
	require.NoError(t, err)
	require.NotNil(t, rule)
	assert.True(t, rule.StandardRate.Equal(decimal.NewFromInt(100)))

	rule, err = snap.RuleByCode(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, rule, "absence is an answer, not an error")
}

func TestSnapshot_PermissionsForRole_FiltersByRole(t *testing.T) {
	snap := catalog.NewSnapshot(seededSource(t))
	ctx := context.Background()

	perms, err := snap.PermissionsForRole(ctx, access.RoleEmployee)
	require.NoError(t, err)
	require.Len(t, perms, 1)
	assert.Equal(t, access.ModuleCheckouts, perms[0].ModuleID)

	perms, err = snap.PermissionsForRole(ctx, access.RoleCustomer)
	require.NoError(t, err)
	assert.Empty(t, perms)
}

func TestSnapshot_PutRules_VisibleWithoutReload(t *testing.T) {
	// A price-book import echoes straight into the snapshot.
	snap := catalog.NewSnapshot(seededSource(t))
	ctx := context.Background()

	_, err := snap.RuleByCode(ctx, "btu") // force the initial load
	require.NoError(t, err)

	snap.PutRules([]pricing.Rule{{Code: "h2s", StandardRate: decimal.NewFromInt(75), Active: true}})

	rule, err := snap.RuleByCode(ctx, "h2s")
	require.NoError(t, err)
	require.NotNil(t, rule)
	assert.True(t, rule.StandardRate.Equal(decimal.NewFromInt(75)))
}

func TestSnapshot_LoadFailurePropagates(t *testing.T) {
	snap := catalog.NewSnapshot(failingSource{})

	_, err := snap.CompanyByID(context.Background(), "7")
	assert.Error(t, err)
	assert.True(t, snap.LoadedAt().IsZero())
}
