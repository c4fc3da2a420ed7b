/*
handlers.go - HTTP API handlers for the cylinder custody engine

PURPOSE:
  Exposes the custody, pricing and work-order engine via REST API. Handles
  HTTP request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Checkouts:
    POST   /api/checkouts/scans           Scan a barcode into the caller's batch
    DELETE /api/checkouts/scans/{number}  Remove a scan
    POST   /api/checkouts/selection       Set receiving company and contact
    GET    /api/checkouts/session         Current in-progress batch
    POST   /api/checkouts/confirm         Confirm the batch
    GET    /api/checkouts                 List confirmed batches (filtered)

  Check-ins:
    POST   /api/checkins                  Queue a returned sample
    GET    /api/checkins                  List queued samples (filtered)
    DELETE /api/checkins/{id}             Remove a queued sample

  Work orders:
    POST   /api/workorders                Assemble the caller's queue
    GET    /api/workorders                List headers (filtered)
    GET    /api/workorders/{number}       Header + lines
    PUT    /api/workorders/{number}/fees  Update header fees
    POST   /api/workorders/{number}/advance  Advance status
    PUT    /api/workorders/lines/{id}     Edit a line

  Pricing:
    GET    /api/pricing/{code}            Price breakdown (?rushed=&monthly=)

  Catalog:
    POST   /api/catalog/pricebook         Import a JSON price book
    POST   /api/catalog/refresh           Invalidate + reload reference data

SESSIONS:
  Scanning is stateful: each authenticated operator gets one checkout
  workflow and one check-in workflow, created lazily and kept in memory.
  Confirmed state always lives in the store; losing a session loses only
  unconfirmed scans.

ERROR HANDLING:
  Domain errors map to HTTP status via writeDomainError:
  - 400: validation, duplicate scan in batch
  - 404: unknown cylinder / order / price rule
  - 409: cylinder already checked out, number collision
  - 422: not checked out, ownership mismatch, inactive, bad status step
  - 502: the authoritative store rejected or dropped a write
  - 500: everything else

SEE ALSO:
  - dto.go: Request/response data structures
  - middleware.go: Caller resolution
  - server.go: Router setup
*/
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/labworks/custody-engine/access"
	"github.com/labworks/custody-engine/catalog"
	"github.com/labworks/custody-engine/custody"
	"github.com/labworks/custody-engine/factory"
	"github.com/labworks/custody-engine/pricing"
	"github.com/labworks/custody-engine/workorder"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Deps bundles everything the handlers need.
type Deps struct {
	Registry  custody.Registry
	Ledger    *custody.Ledger
	Checkouts custody.CheckoutStore
	Samples   custody.SampleStore
	Orders    workorder.Store
	Snapshot  *catalog.Snapshot
	Pricer    *pricing.Engine
	Seq       *custody.SequenceAllocator
	Assembler *workorder.Assembler
	Editor    *workorder.Editor
	Importer  *factory.Importer
	Notifier  custody.ConfirmationNotifier
	Log       *zap.Logger
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	deps Deps
	log  *zap.Logger

	mu       sync.Mutex
	sessions map[string]*operatorSession
}

// operatorSession is one operator's in-progress scanning state.
type operatorSession struct {
	checkout *custody.CheckoutWorkflow
	checkin  *custody.CheckInWorkflow
}

// NewHandler creates a new handler with the given dependencies.
func NewHandler(d Deps) *Handler {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		deps:     d,
		log:      log,
		sessions: make(map[string]*operatorSession),
	}
}

// session returns the caller's workflows, creating them on first use.
func (h *Handler) session(caller access.Caller) *operatorSession {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.sessions[caller.UserID]
	if !ok {
		actor := custody.UserID(caller.UserID)
		s = &operatorSession{
			checkout: custody.NewCheckoutWorkflow(
				h.deps.Registry, h.deps.Ledger, h.deps.Checkouts,
				h.deps.Notifier, actor, h.log),
			checkin: custody.NewCheckInWorkflow(
				h.deps.Registry, h.deps.Ledger, h.deps.Samples,
				h.deps.Seq, actor),
		}
		h.sessions[caller.UserID] = s
	}
	return s
}

// =============================================================================
// CHECKOUT ENDPOINTS
// =============================================================================

// ScanCylinder adds one barcode to the caller's checkout batch.
// POST /api/checkouts/scans
func (h *Handler) ScanCylinder(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	var req ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	s := h.session(caller)
	if _, err := s.checkout.Scan(r.Context(), req.Number); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.sessionDTO(s))
}

// UnscanCylinder removes a scan before the batch is confirmed.
// DELETE /api/checkouts/scans/{number}
func (h *Handler) UnscanCylinder(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	s := h.session(caller)
	if !s.checkout.Unscan(chi.URLParam(r, "number")) {
		writeError(w, http.StatusNotFound, "Cylinder is not in the batch", nil)
		return
	}
	writeJSON(w, http.StatusOK, h.sessionDTO(s))
}

// SetSelection sets the receiving company and contact for the batch.
// POST /api/checkouts/selection
func (h *Handler) SetSelection(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	var req SelectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	company, err := h.deps.Snapshot.CompanyByID(r.Context(), custody.CompanyID(req.CompanyID))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	contact, err := h.deps.Snapshot.ContactByID(r.Context(), custody.ContactID(req.ContactID))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if contact.CompanyID != company.ID {
		writeError(w, http.StatusBadRequest, "Contact does not belong to the selected company", nil)
		return
	}

	s := h.session(caller)
	s.checkout.SelectCompany(company.ID)
	s.checkout.SelectContact(contact.ID)
	writeJSON(w, http.StatusOK, h.sessionDTO(s))
}

// GetSession returns the caller's in-progress checkout batch.
// GET /api/checkouts/session
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	writeJSON(w, http.StatusOK, h.sessionDTO(h.session(caller)))
}

func (h *Handler) sessionDTO(s *operatorSession) CheckoutSessionDTO {
	company, contact := s.checkout.Selection()
	return CheckoutSessionDTO{
		CompanyID: string(company),
		ContactID: string(contact),
		Scans:     s.checkout.Scans(),
	}
}

// ConfirmCheckout opens custody for every scanned cylinder and persists
// the batch.
// POST /api/checkouts/confirm
func (h *Handler) ConfirmCheckout(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	batch, err := h.session(caller).checkout.Confirm(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBatchDTO(*batch))
}

// ListCheckouts returns confirmed batches visible to the caller.
// GET /api/checkouts
func (h *Handler) ListCheckouts(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	batches, err := h.deps.Checkouts.ListCheckoutBatches(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list checkouts", err)
		return
	}

	visible := access.Filter(caller, batches, access.ModuleCheckouts)
	dtos := make([]CheckoutBatchDTO, 0, len(visible))
	for _, b := range visible {
		dtos = append(dtos, toBatchDTO(b))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// CHECK-IN ENDPOINTS
// =============================================================================

// AddCheckIn validates and queues one returned sample.
// POST /api/checkins
func (h *Handler) AddCheckIn(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	var req CheckInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	sample, err := h.session(caller).checkin.Add(r.Context(), req.toSample())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSampleDTO(*sample))
}

// ListCheckIns returns queued samples visible to the caller.
// GET /api/checkins
func (h *Handler) ListCheckIns(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	samples, err := h.deps.Samples.ListPendingSamples(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list check-ins", err)
		return
	}

	visible := access.Filter(caller, samples, access.ModuleCheckins)
	dtos := make([]SampleDTO, 0, len(visible))
	for _, s := range visible {
		dtos = append(dtos, toSampleDTO(s))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// RemoveCheckIn deletes a queued sample.
// DELETE /api/checkins/{id}
func (h *Handler) RemoveCheckIn(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	if err := h.session(caller).checkin.Remove(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// WORK ORDER ENDPOINTS
// =============================================================================

// AssembleWorkOrder drains the caller's intake queue into a priced work
// order.
// POST /api/workorders
func (h *Handler) AssembleWorkOrder(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	var req AssembleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	result, err := h.deps.Assembler.Assemble(r.Context(),
		h.session(caller).checkin,
		custody.CompanyID(req.CompanyID),
		custody.ContactID(req.ContactID),
		custody.UserID(caller.UserID))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	detail := WorkOrderDetailDTO{
		Header: toWorkOrderDTO(*result.Header),
	}
	for _, l := range result.Lines {
		detail.Lines = append(detail.Lines, toLineDTO(l))
	}
	if result.CustodyCloseErr != nil {
		detail.CustodyCloseErr = result.CustodyCloseErr.Error()
	}
	writeJSON(w, http.StatusCreated, detail)
}

// ListWorkOrders returns headers visible to the caller.
// GET /api/workorders
func (h *Handler) ListWorkOrders(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	headers, err := h.deps.Orders.ListWorkOrders(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list work orders", err)
		return
	}

	visible := access.Filter(caller, headers, access.ModuleWorkOrders)
	dtos := make([]WorkOrderDTO, 0, len(visible))
	for _, wo := range visible {
		dtos = append(dtos, toWorkOrderDTO(wo))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetWorkOrder returns one header with its lines.
// GET /api/workorders/{number}
func (h *Handler) GetWorkOrder(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	number := chi.URLParam(r, "number")

	header, err := h.deps.Orders.WorkOrderByNumber(r.Context(), number)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	// A caller who cannot see the order gets the same answer as a
	// nonexistent one.
	if !access.CanView(caller, *header, access.ModuleWorkOrders) {
		writeError(w, http.StatusNotFound, "Work order not found", nil)
		return
	}

	lines, err := h.deps.Orders.LinesByNumber(r.Context(), number)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load lines", err)
		return
	}

	detail := WorkOrderDetailDTO{Header: toWorkOrderDTO(*header)}
	for _, l := range lines {
		detail.Lines = append(detail.Lines, toLineDTO(l))
	}
	writeJSON(w, http.StatusOK, detail)
}

// UpdateWorkOrderFees overwrites the header fees.
// PUT /api/workorders/{number}/fees
func (h *Handler) UpdateWorkOrderFees(w http.ResponseWriter, r *http.Request) {
	var req UpdateFeesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	mileage, err := decimal.NewFromString(req.MileageFee)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid mileage_fee", err)
		return
	}
	misc, err := decimal.NewFromString(req.MiscFee)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid misc_fee", err)
		return
	}
	hourly, err := decimal.NewFromString(req.HourlyFee)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid hourly_fee", err)
		return
	}

	header, err := h.deps.Editor.UpdateFees(r.Context(), chi.URLParam(r, "number"), mileage, misc, hourly)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toWorkOrderDTO(*header))
}

// AdvanceWorkOrderStatus moves the header one step forward.
// POST /api/workorders/{number}/advance
func (h *Handler) AdvanceWorkOrderStatus(w http.ResponseWriter, r *http.Request) {
	header, err := h.deps.Editor.AdvanceStatus(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toWorkOrderDTO(*header))
}

// UpdateWorkOrderLine edits one line, re-pricing only when the analysis
// selection changes.
// PUT /api/workorders/lines/{id}
func (h *Handler) UpdateWorkOrderLine(w http.ResponseWriter, r *http.Request) {
	var req UpdateLineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	line, err := h.deps.Editor.UpdateLine(r.Context(), chi.URLParam(r, "id"), workorder.LineEdit{
		CostCode:     req.CostCode,
		AnalysisCode: req.AnalysisCode,
		Rushed:       req.Rushed,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLineDTO(*line))
}

// =============================================================================
// PRICING ENDPOINTS
// =============================================================================

// GetPriceBreakdown quotes one analysis code.
// GET /api/pricing/{code}?rushed=true&monthly=50
func (h *Handler) GetPriceBreakdown(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	rushed := r.URL.Query().Get("rushed") == "true"
	monthly := 0
	if raw := r.URL.Query().Get("monthly"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid monthly count", err)
			return
		}
		monthly = n
	}

	bd, err := h.deps.Pricer.PriceBreakdown(r.Context(), code, rushed, monthly)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBreakdownDTO(*bd))
}

// =============================================================================
// CATALOG ENDPOINTS
// =============================================================================

// ImportPriceBook loads a JSON price book.
// POST /api/catalog/pricebook
func (h *Handler) ImportPriceBook(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read request body", err)
		return
	}

	n, err := h.deps.Importer.ImportJSON(r.Context(), data)
	if err != nil {
		if errors.Is(err, custody.ErrPersistence) {
			writeDomainError(w, err)
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid price book", err)
		return
	}
	h.log.Info("price book imported", zap.Int("rules", n))
	writeJSON(w, http.StatusOK, CountResponse{Count: n})
}

// RefreshCatalog invalidates and reloads the reference-data snapshot.
// POST /api/catalog/refresh
func (h *Handler) RefreshCatalog(w http.ResponseWriter, r *http.Request) {
	h.deps.Snapshot.Invalidate()
	if err := h.deps.Snapshot.Load(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, "Failed to reload reference data", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"loaded_at": h.deps.Snapshot.LoadedAt().Format("2006-01-02T15:04:05Z07:00"),
	})
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps domain errors to HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, custody.ErrValidation), errors.Is(err, custody.ErrDuplicateInBatch):
		writeError(w, http.StatusBadRequest, "Invalid request", err)
	case errors.Is(err, custody.ErrNotFound), errors.Is(err, pricing.ErrNoPriceRule):
		writeError(w, http.StatusNotFound, "Not found", err)
	case errors.Is(err, custody.ErrAlreadyCheckedOut), errors.Is(err, custody.ErrConflict):
		writeError(w, http.StatusConflict, "Conflict", err)
	case errors.Is(err, custody.ErrInvalidState),
		errors.Is(err, custody.ErrOwnershipMismatch),
		errors.Is(err, custody.ErrInactive):
		writeError(w, http.StatusUnprocessableEntity, "Cannot process", err)
	case errors.Is(err, access.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "Unauthorized", err)
	case errors.Is(err, access.ErrForbidden):
		writeError(w, http.StatusForbidden, "Forbidden", err)
	case errors.Is(err, custody.ErrPersistence):
		writeError(w, http.StatusBadGateway, "Store rejected the operation", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}
