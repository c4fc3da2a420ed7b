/*
Package catalog caches reference data as an explicit snapshot repository.

PURPOSE:
  Companies, contacts, analysis price rules, and role permissions are plain
  reference data maintained elsewhere. Workflows read them constantly, so
  the catalog holds an in-memory snapshot with an explicit lifecycle:
  Load() pulls everything from the source, Invalidate() marks it stale,
  and the read accessors lazily reload when stale.

STALENESS:
  A snapshot is NOT invalidated by other sessions' writes - it stays stale
  until the next Load. Anything that must be current (custody uniqueness,
  sequence numbers) always defers to the authoritative store instead of
  this cache.

SEE ALSO:
  - refresher.go: Cron-driven periodic reload
*/
package catalog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/labworks/custody-engine/access"
	"github.com/labworks/custody-engine/custody"
	"github.com/labworks/custody-engine/pricing"
)

// =============================================================================
// REFERENCE TYPES
// =============================================================================

type Company struct {
	ID     custody.CompanyID
	Name   string
	Active bool
}

type Contact struct {
	ID        custody.ContactID
	CompanyID custody.CompanyID
	Name      string
	Email     string
	Active    bool
}

// =============================================================================
// SOURCE - Where the snapshot loads from
// =============================================================================

// Source lists the reference data the snapshot caches.
// Implementations: store/memory, store/sqlite, store/remote.
type Source interface {
	ListCompanies(ctx context.Context) ([]Company, error)
	ListContacts(ctx context.Context) ([]Contact, error)
	ListPriceRules(ctx context.Context) ([]pricing.Rule, error)
	ListPermissions(ctx context.Context) ([]access.Permission, error)
}

// =============================================================================
// SNAPSHOT
// =============================================================================

// Snapshot is the cached reference-data view. Construct one per process and
// pass it by reference; nothing here is ambient global state.
type Snapshot struct {
	source Source

	mu        sync.RWMutex
	companies map[custody.CompanyID]Company
	contacts  map[custody.ContactID]Contact
	rules     map[string]pricing.Rule
	perms     map[access.RoleID][]access.Permission
	loaded    bool
	loadedAt  time.Time
}

func NewSnapshot(source Source) *Snapshot {
	return &Snapshot{source: source}
}

// Load pulls every reference set from the source and swaps the snapshot in
// one shot. Safe to call concurrently; the last load wins.
func (s *Snapshot) Load(ctx context.Context) error {
	companies, err := s.source.ListCompanies(ctx)
	if err != nil {
		return fmt.Errorf("load companies: %w", err)
	}
	contacts, err := s.source.ListContacts(ctx)
	if err != nil {
		return fmt.Errorf("load contacts: %w", err)
	}
	rules, err := s.source.ListPriceRules(ctx)
	if err != nil {
		return fmt.Errorf("load price rules: %w", err)
	}
	perms, err := s.source.ListPermissions(ctx)
	if err != nil {
		return fmt.Errorf("load permissions: %w", err)
	}

	companyIdx := make(map[custody.CompanyID]Company, len(companies))
	for _, c := range companies {
		companyIdx[c.ID] = c
	}
	contactIdx := make(map[custody.ContactID]Contact, len(contacts))
	for _, c := range contacts {
		contactIdx[c.ID] = c
	}
	ruleIdx := make(map[string]pricing.Rule, len(rules))
	for _, r := range rules {
		ruleIdx[r.Code] = r
	}
	permIdx := make(map[access.RoleID][]access.Permission)
	for _, p := range perms {
		permIdx[p.RoleID] = append(permIdx[p.RoleID], p)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.companies = companyIdx
	s.contacts = contactIdx
	s.rules = ruleIdx
	s.perms = permIdx
	s.loaded = true
	s.loadedAt = time.Now().UTC()
	return nil
}

// Invalidate marks the snapshot stale. The next read reloads.
func (s *Snapshot) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaded = false
}

// LoadedAt returns when the snapshot was last loaded, zero when never.
func (s *Snapshot) LoadedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadedAt
}

func (s *Snapshot) ensure(ctx context.Context) error {
	s.mu.RLock()
	loaded := s.loaded
	s.mu.RUnlock()
	if loaded {
		return nil
	}
	return s.Load(ctx)
}

// =============================================================================
// READ ACCESSORS
// =============================================================================

// CompanyByID resolves a company. custody.ErrNotFound when absent.
func (s *Snapshot) CompanyByID(ctx context.Context, id custody.CompanyID) (*Company, error) {
	if err := s.ensure(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.companies[id]
	if !ok {
		return nil, fmt.Errorf("company %s: %w", id, custody.ErrNotFound)
	}
	return &c, nil
}

// ContactByID resolves a contact. custody.ErrNotFound when absent.
func (s *Snapshot) ContactByID(ctx context.Context, id custody.ContactID) (*Contact, error) {
	if err := s.ensure(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contacts[id]
	if !ok {
		return nil, fmt.Errorf("contact %s: %w", id, custody.ErrNotFound)
	}
	return &c, nil
}

// RuleByCode implements pricing.RuleSource: (nil, nil) for unknown codes.
func (s *Snapshot) RuleByCode(ctx context.Context, code string) (*pricing.Rule, error) {
	if err := s.ensure(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rules[code]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

// PermissionsForRole implements access.PermissionSource.
func (s *Snapshot) PermissionsForRole(ctx context.Context, roleID access.RoleID) ([]access.Permission, error) {
	if err := s.ensure(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	perms := s.perms[roleID]
	out := make([]access.Permission, len(perms))
	copy(out, perms)
	return out, nil
}

// PutRules echoes freshly imported price rules into the snapshot so a
// price-book import is visible without waiting for the next Load.
func (s *Snapshot) PutRules(rules []pricing.Rule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rules == nil {
		s.rules = make(map[string]pricing.Rule, len(rules))
	}
	for _, r := range rules {
		s.rules[r.Code] = r
	}
}
