package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labworks/custody-engine/access"
	"github.com/labworks/custody-engine/api"
	"github.com/labworks/custody-engine/catalog"
	"github.com/labworks/custody-engine/custody"
	"github.com/labworks/custody-engine/factory"
	"github.com/labworks/custody-engine/notify"
	"github.com/labworks/custody-engine/pricing"
	"github.com/labworks/custody-engine/store/memory"
	"github.com/labworks/custody-engine/workorder"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const (
	tokenTech     = "tok-tech"
	tokenCustomer = "tok-cust9"
)

func fullAccess(role access.RoleID) []access.Permission {
	modules := []access.ModuleID{
		access.ModuleCheckouts, access.ModuleCheckins,
		access.ModuleWorkOrders, access.ModulePricing, access.ModuleCatalog,
	}
	perms := make([]access.Permission, 0, len(modules))
	for _, m := range modules {
		perms = append(perms, access.Permission{
			RoleID: role, ModuleID: m, Level: access.LevelFull, Active: true,
		})
	}
	return perms
}

func newTestServer(t *testing.T) (*httptest.Server, *memory.Store) {
	t.Helper()
	store := memory.New()

	store.PutCylinder(custody.Cylinder{ID: "cyl-100", Number: "C-100", Active: true})
	store.PutCompany(catalog.Company{ID: "7", Name: "ACME Gas", Active: true})
	store.PutCompany(catalog.Company{ID: "9", Name: "Northfield", Active: true})
	store.PutContact(catalog.Contact{ID: "c-7", CompanyID: "7", Name: "Pat", Email: "pat@acme.example", Active: true})
	store.PutContact(catalog.Contact{ID: "c-9", CompanyID: "9", Name: "Sam", Email: "sam@northfield.example", Active: true})
	store.PutRule(pricing.Rule{
		Code:         "standard",
		StandardRate: decimal.NewFromInt(150),
		RushedRate:   decimal.NewFromInt(225),
		Active:       true,
	})

	for _, p := range fullAccess(access.RoleEmployee) {
		store.PutPermission(p)
	}
	store.PutPermission(access.Permission{
		RoleID: access.RoleCustomer, ModuleID: access.ModuleWorkOrders,
		Level: access.LevelReadOnlyOwn, Active: true,
	})
	store.PutToken(tokenTech, access.Identity{UserID: "u-tech", RoleID: access.RoleEmployee})
	store.PutToken(tokenCustomer, access.Identity{UserID: "u-cust9", RoleID: access.RoleCustomer, CompanyID: "9"})

	snap := catalog.NewSnapshot(store)
	ledger := custody.NewLedger(store)
	seq := custody.NewSequenceAllocator(store)
	pricer := pricing.NewEngine(snap)
	assembler := workorder.NewAssembler(store, ledger, pricer, seq, store, nil)

	handler := api.NewHandler(api.Deps{
		Registry:  store,
		Ledger:    ledger,
		Checkouts: store,
		Samples:   store,
		Orders:    store,
		Snapshot:  snap,
		Pricer:    pricer,
		Seq:       seq,
		Assembler: assembler,
		Editor:    workorder.NewEditor(store, pricer),
		Importer:  factory.NewImporter(store, snap),
		Notifier:  notify.NewCheckoutConfirmer(snap, notify.Nop{}),
	})
	auth := &api.Authenticator{Identities: store, Permissions: snap}

	ts := httptest.NewServer(api.NewRouter(handler, auth))
	t.Cleanup(ts.Close)
	return ts, store
}

func do(t *testing.T, ts *httptest.Server, token, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var buf io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		buf = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.URL+path, buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	return resp, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), "body: %s", data)
	return v
}

// =============================================================================
// AUTHENTICATION TESTS
// =============================================================================

func TestAPI_Authentication(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, _ := do(t, ts, "", http.MethodGet, "/api/checkouts/session", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "missing token")

	resp, _ = do(t, ts, "tok-bogus", http.MethodGet, "/api/checkouts/session", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "unknown token")
}

func TestAPI_ModuleGating(t *testing.T) {
	// The customer role only holds a work-orders permission; every other
	// route group answers 403.
	ts, _ := newTestServer(t)

	resp, _ := do(t, ts, tokenCustomer, http.MethodGet, "/api/checkouts/session", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = do(t, ts, tokenCustomer, http.MethodGet, "/api/workorders", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// =============================================================================
// CHECKOUT-TO-WORK-ORDER FLOW
// =============================================================================

func TestAPI_CheckoutCheckInAssembleFlow(t *testing.T) {
	// GIVEN: An operator scanning C-100 out to ACME (company 7)
	// WHEN: The cylinder comes back and the queue is assembled
	// THEN: A wrong-company check-in is rejected with the real holder
	//       named; the right one gets the first analysis number of the
	//       year; assembly yields a Pending order priced at the standard
	//       rate with custody released

	ts, store := newTestServer(t)
	year := time.Now().UTC().Year()

	// Checkout: select ACME and scan.
	resp, _ := do(t, ts, tokenTech, http.MethodPost, "/api/checkouts/selection",
		api.SelectionRequest{CompanyID: "7", ContactID: "c-7"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := do(t, ts, tokenTech, http.MethodPost, "/api/checkouts/scans",
		api.ScanRequest{Number: "c-100"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	session := decode[api.CheckoutSessionDTO](t, body)
	assert.Equal(t, []string{"C-100"}, session.Scans)

	resp, body = do(t, ts, tokenTech, http.MethodPost, "/api/checkouts/confirm", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	batch := decode[api.CheckoutBatchDTO](t, body)
	assert.Equal(t, "7", batch.CompanyID)
	assert.Equal(t, []string{"C-100"}, batch.Numbers)

	// Check-in against the wrong company names the actual holder.
	resp, body = do(t, ts, tokenTech, http.MethodPost, "/api/checkins",
		api.CheckInRequest{CompanyID: "9", CylinderNumber: "C-100", AnalysisCode: "standard"})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, decode[api.ErrorResponse](t, body).Details, "7")

	// Check-in for the right company gets the year's first number.
	resp, body = do(t, ts, tokenTech, http.MethodPost, "/api/checkins",
		api.CheckInRequest{CompanyID: "7", CylinderNumber: "C-100", AnalysisCode: "standard"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	sample := decode[api.SampleDTO](t, body)
	assert.Equal(t, fmt.Sprintf("%d-00001", year), sample.AnalysisNumber)
	assert.Equal(t, "Pending", sample.Status)

	// Assemble the queue.
	resp, body = do(t, ts, tokenTech, http.MethodPost, "/api/workorders",
		api.AssembleRequest{CompanyID: "7", ContactID: "c-7"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	detail := decode[api.WorkOrderDetailDTO](t, body)
	assert.Equal(t, fmt.Sprintf("WO-%d-00001", year), detail.Header.Number)
	assert.Equal(t, "Pending", detail.Header.Status)
	assert.Empty(t, detail.CustodyCloseErr)
	require.Len(t, detail.Lines, 1)
	assert.Equal(t, "150", detail.Lines[0].Price)

	// Custody released: the cylinder scans cleanly for the next checkout.
	open, err := custody.NewLedger(store).FindOpen(context.Background(), "cyl-100")
	require.NoError(t, err)
	assert.Nil(t, open)

	// The queue is gone.
	resp, body = do(t, ts, tokenTech, http.MethodGet, "/api/checkins", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[[]api.SampleDTO](t, body))
}

func TestAPI_ConfirmWithoutSelectionRejected(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, _ := do(t, ts, tokenTech, http.MethodPost, "/api/checkouts/confirm", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_SelectionContactMustMatchCompany(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, _ := do(t, ts, tokenTech, http.MethodPost, "/api/checkouts/selection",
		api.SelectionRequest{CompanyID: "7", ContactID: "c-9"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// =============================================================================
// ACCESS FILTERING OVER HTTP
// =============================================================================

func TestAPI_WorkOrderVisibilityPerCompany(t *testing.T) {
	// GIVEN: One order for company 7 and one for company 9
	// WHEN: The company-9 customer lists and fetches orders
	// THEN: Only the company-9 order is visible; the other answers 404

	ts, store := newTestServer(t)
	ctx := context.Background()

	for i, company := range []custody.CompanyID{"7", "9"} {
		require.NoError(t, store.CreateWorkOrder(ctx, workorder.Header{
			Number: fmt.Sprintf("WO-2026-0000%d", i+1), Date: time.Now().UTC(),
			CompanyID: company, ContactID: "c-7",
			MileageFee: decimal.Zero, MiscFee: decimal.Zero, HourlyFee: decimal.Zero,
			Status: workorder.StatusPending, CreatedBy: "u-tech",
		}, nil))
	}

	resp, body := do(t, ts, tokenCustomer, http.MethodGet, "/api/workorders", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	visible := decode[[]api.WorkOrderDTO](t, body)
	require.Len(t, visible, 1)
	assert.Equal(t, "9", visible[0].CompanyID)

	resp, _ = do(t, ts, tokenCustomer, http.MethodGet, "/api/workorders/WO-2026-00002", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = do(t, ts, tokenCustomer, http.MethodGet, "/api/workorders/WO-2026-00001", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "other company's order looks nonexistent")

	// The technician sees both.
	resp, body = do(t, ts, tokenTech, http.MethodGet, "/api/workorders", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]api.WorkOrderDTO](t, body), 2)
}

// =============================================================================
// PRICING AND CATALOG ENDPOINTS
// =============================================================================

func TestAPI_PriceBreakdown(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, body := do(t, ts, tokenTech, http.MethodGet, "/api/pricing/standard?rushed=true&monthly=50", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	bd := decode[api.BreakdownDTO](t, body)
	assert.Equal(t, "225", bd.BaseRate)
	assert.Equal(t, "213.75", bd.FinalPrice, "225 * 0.95")

	resp, _ = do(t, ts, tokenTech, http.MethodGet, "/api/pricing/unknown-code", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = do(t, ts, tokenTech, http.MethodGet, "/api/pricing/standard?monthly=-1", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_PriceBookImport(t *testing.T) {
	ts, _ := newTestServer(t)

	book := `[{"code": "h2s", "standard_rate": "75", "rushed_rate": "110", "sample_fee": "5"}]`
	resp, body := do(t, ts, tokenTech, http.MethodPost, "/api/catalog/pricebook", json.RawMessage(book))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, decode[api.CountResponse](t, body).Count)

	// The imported rule prices immediately.
	resp, body = do(t, ts, tokenTech, http.MethodGet, "/api/pricing/h2s", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "80", decode[api.BreakdownDTO](t, body).Total)

	resp, _ = do(t, ts, tokenTech, http.MethodPost, "/api/catalog/pricebook", json.RawMessage(`[]`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
