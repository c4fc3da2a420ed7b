/*
Package memory provides the in-memory authoritative store (testing/dev).

Everything is held in maps keyed by the natural identifier. Custody
exclusivity is enforced at the data-structure level: the open-custody map
is keyed by cylinder id, so at most one open record per cylinder can exist
by construction.
*/
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/labworks/custody-engine/access"
	"github.com/labworks/custody-engine/catalog"
	"github.com/labworks/custody-engine/custody"
	"github.com/labworks/custody-engine/pricing"
	"github.com/labworks/custody-engine/workorder"
)

// Store implements every persistence interface the engine consumes.
type Store struct {
	mu sync.RWMutex

	cylinders map[custody.CylinderID]custody.Cylinder
	byNumber  map[string]custody.CylinderID

	open   map[custody.CylinderID]custody.CustodyRecord // at most one per cylinder, by construction
	closed []custody.CustodyRecord

	samples     map[string]custody.CheckInSample
	sampleOrder []string
	maxSeq      map[int]int // year -> highest analysis sequence seen

	checkouts []custody.CheckoutBatch

	orders     map[string]workorder.Header
	orderLines map[string][]workorder.Line
	lineIndex  map[string]string // line id -> work-order number

	companies map[custody.CompanyID]catalog.Company
	contacts  map[custody.ContactID]catalog.Contact
	rules     map[string]pricing.Rule
	perms     []access.Permission
	tokens    map[string]access.Identity
}

func New() *Store {
	return &Store{
		cylinders:  make(map[custody.CylinderID]custody.Cylinder),
		byNumber:   make(map[string]custody.CylinderID),
		open:       make(map[custody.CylinderID]custody.CustodyRecord),
		samples:    make(map[string]custody.CheckInSample),
		maxSeq:     make(map[int]int),
		orders:     make(map[string]workorder.Header),
		orderLines: make(map[string][]workorder.Line),
		lineIndex:  make(map[string]string),
		companies:  make(map[custody.CompanyID]catalog.Company),
		contacts:   make(map[custody.ContactID]catalog.Contact),
		rules:      make(map[string]pricing.Rule),
		tokens:     make(map[string]access.Identity),
	}
}

// =============================================================================
// SEEDING (reference data is CRUD-managed elsewhere; tests seed directly)
// =============================================================================

func (s *Store) PutCylinder(c custody.Cylinder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.Number = custody.NormalizeNumber(c.Number)
	s.cylinders[c.ID] = c
	s.byNumber[c.Number] = c.ID
}

func (s *Store) PutCompany(c catalog.Company) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.companies[c.ID] = c
}

func (s *Store) PutContact(c catalog.Contact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts[c.ID] = c
}

func (s *Store) PutRule(r pricing.Rule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[r.Code] = r
}

func (s *Store) PutPermission(p access.Permission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.perms = append(s.perms, p)
}

func (s *Store) PutToken(token string, id access.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token] = id
}

// =============================================================================
// custody.Registry
// =============================================================================

func (s *Store) CylinderByNumber(_ context.Context, number string) (*custody.Cylinder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byNumber[custody.NormalizeNumber(number)]
	if !ok {
		return nil, custody.ErrNotFound
	}
	c := s.cylinders[id]
	return &c, nil
}

func (s *Store) CylinderByID(_ context.Context, id custody.CylinderID) (*custody.Cylinder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cylinders[id]
	if !ok {
		return nil, custody.ErrNotFound
	}
	return &c, nil
}

// =============================================================================
// custody.LedgerStore
// =============================================================================

func (s *Store) OpenCustody(_ context.Context, rec custody.CustodyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.open[rec.CylinderID]; exists {
		return custody.ErrConflict
	}
	s.open[rec.CylinderID] = rec
	return nil
}

func (s *Store) FindOpenCustody(_ context.Context, id custody.CylinderID) (*custody.CustodyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.open[id]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *Store) CloseCustody(_ context.Context, ids []custody.CylinderID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		rec, ok := s.open[id]
		if !ok {
			continue // customer-owned cylinders never open custody
		}
		closedAt := at
		rec.ClosedAt = &closedAt
		s.closed = append(s.closed, rec)
		delete(s.open, id)
	}
	return nil
}

func (s *Store) CustodyHistory(_ context.Context, id custody.CylinderID) ([]custody.CustodyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []custody.CustodyRecord
	for _, rec := range s.closed {
		if rec.CylinderID == id {
			out = append(out, rec)
		}
	}
	if rec, ok := s.open[id]; ok {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out, nil
}

// =============================================================================
// custody.CheckoutStore
// =============================================================================

func (s *Store) SaveCheckoutBatch(_ context.Context, batch custody.CheckoutBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkouts = append(s.checkouts, batch)
	return nil
}

func (s *Store) ListCheckoutBatches(_ context.Context) ([]custody.CheckoutBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]custody.CheckoutBatch, len(s.checkouts))
	copy(out, s.checkouts)
	return out, nil
}

// =============================================================================
// custody.SampleStore
// =============================================================================

func (s *Store) SaveSample(_ context.Context, sample custody.CheckInSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.samples[sample.ID]; !exists {
		s.sampleOrder = append(s.sampleOrder, sample.ID)
	}
	s.samples[sample.ID] = sample
	s.trackSequence(sample.AnalysisNumber)
	return nil
}

func (s *Store) UpdateSample(_ context.Context, sample custody.CheckInSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.samples[sample.ID]; !exists {
		return custody.ErrNotFound
	}
	s.samples[sample.ID] = sample
	s.trackSequence(sample.AnalysisNumber)
	return nil
}

func (s *Store) DeleteSample(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.samples[id]; !exists {
		return custody.ErrNotFound
	}
	delete(s.samples, id)
	for i, sid := range s.sampleOrder {
		if sid == id {
			s.sampleOrder = append(s.sampleOrder[:i], s.sampleOrder[i+1:]...)
			break
		}
	}
	return nil
}

func (s *Store) ListPendingSamples(_ context.Context) ([]custody.CheckInSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []custody.CheckInSample
	for _, id := range s.sampleOrder {
		if sample, ok := s.samples[id]; ok && sample.Status == custody.SamplePending {
			out = append(out, sample)
		}
	}
	return out, nil
}

func (s *Store) MaxAnalysisSequence(_ context.Context, year int) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxSeq[year], nil
}

// trackSequence keeps the per-year high-water mark in step with every
// persisted analysis number. Callers hold the lock.
func (s *Store) trackSequence(number string) {
	year, seq, ok := custody.ParseAnalysisNumber(number)
	if !ok {
		return
	}
	if seq > s.maxSeq[year] {
		s.maxSeq[year] = seq
	}
}

// =============================================================================
// workorder.Store
// =============================================================================

func (s *Store) CreateWorkOrder(_ context.Context, h workorder.Header, lines []workorder.Line) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.orders[h.Number]; exists {
		return custody.ErrConflict
	}
	s.orders[h.Number] = h
	s.orderLines[h.Number] = append([]workorder.Line(nil), lines...)
	for _, l := range lines {
		s.lineIndex[l.ID] = h.Number
	}
	return nil
}

func (s *Store) WorkOrderByNumber(_ context.Context, number string) (*workorder.Header, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.orders[number]
	if !ok {
		return nil, custody.ErrNotFound
	}
	return &h, nil
}

func (s *Store) ListWorkOrders(_ context.Context) ([]workorder.Header, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]workorder.Header, 0, len(s.orders))
	for _, h := range s.orders {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	return out, nil
}

func (s *Store) LinesByNumber(_ context.Context, number string) ([]workorder.Line, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lines := s.orderLines[number]
	out := make([]workorder.Line, len(lines))
	copy(out, lines)
	return out, nil
}

func (s *Store) LineByID(_ context.Context, id string) (*workorder.Line, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	number, ok := s.lineIndex[id]
	if !ok {
		return nil, custody.ErrNotFound
	}
	for _, l := range s.orderLines[number] {
		if l.ID == id {
			return &l, nil
		}
	}
	return nil, custody.ErrNotFound
}

func (s *Store) UpdateWorkOrderFees(_ context.Context, number string, mileage, misc, hourly decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.orders[number]
	if !ok {
		return custody.ErrNotFound
	}
	h.MileageFee, h.MiscFee, h.HourlyFee = mileage, misc, hourly
	s.orders[number] = h
	return nil
}

func (s *Store) UpdateWorkOrderStatus(_ context.Context, number string, status workorder.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.orders[number]
	if !ok {
		return custody.ErrNotFound
	}
	h.Status = status
	s.orders[number] = h
	return nil
}

func (s *Store) UpdateLine(_ context.Context, line workorder.Line) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	number, ok := s.lineIndex[line.ID]
	if !ok {
		return custody.ErrNotFound
	}
	lines := s.orderLines[number]
	for i := range lines {
		if lines[i].ID == line.ID {
			lines[i] = line
			return nil
		}
	}
	return custody.ErrNotFound
}

func (s *Store) WorkOrderNumberExists(_ context.Context, number string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.orders[number]
	return ok, nil
}

func (s *Store) MaxWorkOrderSequence(_ context.Context, year int) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	max := 0
	for number := range s.orders {
		var y, seq int
		if _, err := fmt.Sscanf(number, "WO-%4d-%5d", &y, &seq); err == nil && y == year && seq > max {
			max = seq
		}
	}
	return max, nil
}

func (s *Store) MonthlyAnalysisCount(_ context.Context, companyID custody.CompanyID, ref time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	since := ref.AddDate(0, -1, 0)
	count := 0
	for _, sample := range s.samples {
		if sample.CompanyID == companyID && !sample.CheckedInAt.Before(since) && !sample.CheckedInAt.After(ref) {
			count++
		}
	}
	return count, nil
}

// =============================================================================
// catalog.Source
// =============================================================================

func (s *Store) ListCompanies(_ context.Context) ([]catalog.Company, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]catalog.Company, 0, len(s.companies))
	for _, c := range s.companies {
		out = append(out, c)
	}
	return out, nil
}

func (s *Store) ListContacts(_ context.Context) ([]catalog.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]catalog.Contact, 0, len(s.contacts))
	for _, c := range s.contacts {
		out = append(out, c)
	}
	return out, nil
}

func (s *Store) ListPriceRules(_ context.Context) ([]pricing.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]pricing.Rule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r)
	}
	return out, nil
}

func (s *Store) SavePriceRules(_ context.Context, rules []pricing.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rules {
		s.rules[r.Code] = r
	}
	return nil
}

func (s *Store) ListPermissions(_ context.Context) ([]access.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]access.Permission, len(s.perms))
	copy(out, s.perms)
	return out, nil
}

// PermissionsForRole implements access.PermissionSource directly, for
// callers that bypass the catalog snapshot.
func (s *Store) PermissionsForRole(_ context.Context, roleID access.RoleID) ([]access.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []access.Permission
	for _, p := range s.perms {
		if p.RoleID == roleID {
			out = append(out, p)
		}
	}
	return out, nil
}

// =============================================================================
// access.IdentitySource
// =============================================================================

func (s *Store) IdentityByToken(_ context.Context, token string) (*access.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.tokens[token]
	if !ok {
		return nil, access.ErrUnauthorized
	}
	return &id, nil
}
