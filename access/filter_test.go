package access_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/labworks/custody-engine/access"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// record is a minimal Record for the predicates.
type record struct {
	company string
	creator string
}

func (r record) RecordCompany() string { return r.company }
func (r record) RecordCreator() string { return r.creator }

func adminCaller() access.Caller {
	return access.NewCaller(access.Identity{UserID: "u-admin", RoleID: access.RoleAdministrator}, nil)
}

func ownDataCaller(userID, companyID string) access.Caller {
	return access.NewCaller(
		access.Identity{UserID: userID, RoleID: access.RoleCustomer, CompanyID: companyID},
		[]access.Permission{{
			RoleID:   access.RoleCustomer,
			ModuleID: access.ModuleWorkOrders,
			Level:    access.LevelReadOnlyOwn,
			Active:   true,
		}},
	)
}

// =============================================================================
// FILTER TESTS
// =============================================================================

func TestFilter_AdministratorSeesEverything(t *testing.T) {
	records := []record{{company: "7"}, {company: "9"}, {creator: "someone"}}

	got := access.Filter(adminCaller(), records, access.ModuleWorkOrders)
	assert.Equal(t, records, got)
}

func TestFilter_OwnDataSeesOnlyOwnCompany(t *testing.T) {
	// GIVEN: A company-7 customer with "Read-only (Own Data)" on work orders
	// WHEN: Filtering a mixed result set
	// THEN: Only company-7 records survive

	records := []record{
		{company: "7", creator: "a"},
		{company: "9", creator: "b"},
		{company: "7", creator: "c"},
	}

	got := access.Filter(ownDataCaller("u-1", "7"), records, access.ModuleWorkOrders)
	assert.Equal(t, []record{{company: "7", creator: "a"}, {company: "7", creator: "c"}}, got)
}

func TestFilter_OwnDataFallsBackToCreatorWhenCompanyMissing(t *testing.T) {
	// Records with no company column (and callers with no company) are
	// judged by who created them.
	records := []record{
		{creator: "u-1"},
		{creator: "u-2"},
		{company: "7", creator: "u-2"},
	}

	got := access.Filter(ownDataCaller("u-1", "7"), records, access.ModuleWorkOrders)
	assert.Equal(t, []record{{creator: "u-1"}, {company: "7", creator: "u-2"}}, got)
}

func TestFilter_OtherLevelsPassThrough(t *testing.T) {
	caller := access.NewCaller(
		access.Identity{UserID: "u-1", RoleID: access.RoleEmployee, CompanyID: "7"},
		[]access.Permission{{
			RoleID:   access.RoleEmployee,
			ModuleID: access.ModuleWorkOrders,
			Level:    access.LevelFull,
			Active:   true,
		}},
	)
	records := []record{{company: "7"}, {company: "9"}}

	got := access.Filter(caller, records, access.ModuleWorkOrders)
	assert.Equal(t, records, got)
}

func TestFilter_DifferentModuleUnaffected(t *testing.T) {
	// The own-data restriction is scoped to the module it was granted on.
	records := []record{{company: "9"}}

	got := access.Filter(ownDataCaller("u-1", "7"), records, access.ModuleCheckins)
	assert.Equal(t, records, got)
}

// =============================================================================
// CAN VIEW TESTS
// =============================================================================

func TestCanView(t *testing.T) {
	own := ownDataCaller("u-1", "7")

	assert.True(t, access.CanView(adminCaller(), record{company: "9"}, access.ModuleWorkOrders))
	assert.True(t, access.CanView(own, record{company: "7"}, access.ModuleWorkOrders))
	assert.False(t, access.CanView(own, record{company: "9"}, access.ModuleWorkOrders))
	assert.True(t, access.CanView(own, record{creator: "u-1"}, access.ModuleWorkOrders))
	assert.False(t, access.CanView(own, record{creator: "u-2"}, access.ModuleWorkOrders))
}

// =============================================================================
// MODULE ACCESS TESTS
// =============================================================================

func TestCaller_HasModuleAccess(t *testing.T) {
	caller := access.NewCaller(
		access.Identity{UserID: "u-1", RoleID: access.RoleEmployee},
		[]access.Permission{
			{RoleID: access.RoleEmployee, ModuleID: access.ModuleCheckouts, Level: access.LevelFull, Active: true},
			{RoleID: access.RoleEmployee, ModuleID: access.ModuleCheckins, Level: access.LevelFull, Active: false},
			// Row for a different role must never leak onto this caller.
			{RoleID: access.RoleCustomer, ModuleID: access.ModuleWorkOrders, Level: access.LevelFull, Active: true},
		},
	)

	assert.True(t, caller.HasModuleAccess(access.ModuleCheckouts))
	assert.False(t, caller.HasModuleAccess(access.ModuleCheckins), "inactive row grants nothing")
	assert.False(t, caller.HasModuleAccess(access.ModuleWorkOrders), "other role's row ignored")
}

func TestCaller_HasModuleAccessByName(t *testing.T) {
	caller := access.NewCaller(
		access.Identity{UserID: "u-1", RoleID: access.RoleEmployee},
		[]access.Permission{
			{RoleID: access.RoleEmployee, ModuleID: access.ModulePricing, Level: access.LevelReadOnly, Active: true},
		},
	)

	assert.True(t, caller.HasModuleAccessByName("pricing"))
	assert.False(t, caller.HasModuleAccessByName("no-such-module"))
}
