/*
Package custody provides the core chain-of-custody engine.

PURPOSE:
  This package contains the types and workflows that track physical sample
  cylinders through the laboratory custody lifecycle: a cylinder is checked
  out to a customer, comes back as a check-in sample with measurement
  metadata, and is released to the pool when its samples land on a work order.

KEY CONCEPTS IN THIS FILE (types.go):
  - Cylinder: A catalog entry for a physical cylinder (read-only here)
  - CustodyRecord: One open-or-closed holding of a cylinder by a company
  - CheckInSample: A returned sample with its measurement fields
  - CheckoutBatch: The persisted record of one confirmed checkout

DESIGN PRINCIPLES:
  1. Exclusivity: At most one open CustodyRecord per cylinder, always
  2. Audit trail: Custody records are closed, never deleted
  3. Normalization: Cylinder numbers compare case-insensitively and are
     stored uppercase; normalization happens once, at the scan boundary
  4. Type Safety: Strong typing for IDs prevents mixing company/contact ids

SEE ALSO:
  - ledger.go: Custody open/close with the exclusivity invariant
  - checkout.go: Batch scanning workflow
  - checkin.go: Sample intake workflow
  - sequence.go: Per-year analysis number allocation
*/
package custody

import (
	"strings"
	"time"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type CylinderID string
type CompanyID string
type ContactID string
type UserID string

// =============================================================================
// CYLINDER - Catalog entry (read-only from this package's perspective)
// =============================================================================

// Cylinder is an entry in the authoritative cylinder catalog. The catalog is
// maintained by reference-data management; workflows here only read it.
type Cylinder struct {
	ID     CylinderID
	Number string // stored normalized (uppercase, trimmed)
	Active bool

	// OwnerCompanyID is a hint about who owns the physical cylinder.
	// Empty for lab-pool cylinders.
	OwnerCompanyID CompanyID
}

// NormalizeNumber canonicalizes a raw barcode/cylinder-number string.
// Cylinder numbers are unique when compared case-insensitively, so every
// comparison in this package goes through this function first.
func NormalizeNumber(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// =============================================================================
// CUSTODY RECORD - One holding of a cylinder by a company
// =============================================================================

// CustodyRecord records that a company held a cylinder for some interval.
// ClosedAt is nil while the cylinder is still out.
//
// INVARIANT: at most one open record exists per cylinder at any time.
// Records are closed when the cylinder returns; they are never deleted.
type CustodyRecord struct {
	ID         string
	CylinderID CylinderID
	CompanyID  CompanyID
	OpenedAt   time.Time
	ClosedAt   *time.Time
}

// Open reports whether the record is still active.
func (r CustodyRecord) Open() bool { return r.ClosedAt == nil }

// =============================================================================
// CHECK-IN SAMPLE - A returned sample queued for work-order assembly
// =============================================================================

type SampleStatus string

const (
	// SamplePending means the sample sits in the intake queue, not yet
	// assembled into a work order.
	SamplePending SampleStatus = "Pending"

	// SampleAssembled means the sample has been placed on a work order.
	SampleAssembled SampleStatus = "Assembled"
)

// CheckInSample captures one returned sample plus its measurement metadata.
// CylinderID is empty for customer-owned cylinders, which never pass through
// the custody ledger.
type CheckInSample struct {
	ID             string
	CompanyID      CompanyID
	ContactID      ContactID
	AnalysisCode   string
	Area           string
	CylinderNumber string // normalized
	CylinderID     CylinderID
	AnalysisNumber string // "<year>-<seq:05>", unique per calendar year
	Rushed         bool
	CustomerOwned  bool

	// Free-form measurement fields recorded by the operator.
	Producer    string
	WellName    string
	MeterNumber string
	FlowRate    string
	Pressure    string
	Temperature string
	H2S         string
	CostCode    string
	Remarks     string

	CheckedInAt     time.Time
	BillingRef      string
	WorkOrderNumber string // set at assembly
	Status          SampleStatus
	CreatedBy       UserID
}

// RecordCompany implements access.Record.
func (s CheckInSample) RecordCompany() string { return string(s.CompanyID) }

// RecordCreator implements access.Record.
func (s CheckInSample) RecordCreator() string { return string(s.CreatedBy) }

// =============================================================================
// CHECKOUT BATCH - Persisted record of one confirmed checkout
// =============================================================================

// CheckoutBatch is what gets persisted when an operator confirms a set of
// scanned cylinders leaving the lab.
type CheckoutBatch struct {
	ID          string
	CompanyID   CompanyID
	ContactID   ContactID
	CylinderIDs []CylinderID
	Numbers     []string
	ConfirmedAt time.Time
	CreatedBy   UserID
}

func (b CheckoutBatch) RecordCompany() string { return string(b.CompanyID) }
func (b CheckoutBatch) RecordCreator() string { return string(b.CreatedBy) }
