/*
Package workorder assembles check-in samples into priced work orders.

PURPOSE:
  A work order is the billing/tracking unit that groups queued check-in
  samples for one company: a header carrying order-level fees and a line
  per sample carrying a denormalized snapshot of the sample's fields plus
  the computed price.

SNAPSHOT SEMANTICS:
  Lines are written once, at assembly. Later edits to the analysis catalog
  never retroactively change historical lines; only the explicit line-edit
  surface (edit.go) re-prices, and only when the operator re-picks the
  analysis type.

SEE ALSO:
  - assembler.go: Queue -> header + lines, custody release
  - edit.go: Operator-adjustable fields after creation
*/
package workorder

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/labworks/custody-engine/custody"
)

// =============================================================================
// STATUS - Forward-only lifecycle
// =============================================================================

type Status string

const (
	StatusPending    Status = "Pending"
	StatusInProgress Status = "In Progress"
	StatusCompleted  Status = "Completed"
	StatusInvoiced   Status = "Invoiced"
)

// Next returns the following status. ok is false at the end of the
// lifecycle; no transition ever reverses.
func (s Status) Next() (Status, bool) {
	switch s {
	case StatusPending:
		return StatusInProgress, true
	case StatusInProgress:
		return StatusCompleted, true
	case StatusCompleted:
		return StatusInvoiced, true
	default:
		return s, false
	}
}

// =============================================================================
// HEADER AND LINE
// =============================================================================

// Header is the order-level record. The fee fields default to zero at
// assembly and are editable afterwards through UpdateFees.
type Header struct {
	Number    string // lab-wide unique, "WO-<year>-<seq:05>"
	Date      time.Time
	CompanyID custody.CompanyID
	ContactID custody.ContactID

	MileageFee decimal.Decimal
	MiscFee    decimal.Decimal
	HourlyFee  decimal.Decimal

	Status    Status
	CreatedBy custody.UserID
}

func (h Header) RecordCompany() string { return string(h.CompanyID) }
func (h Header) RecordCreator() string { return string(h.CreatedBy) }

// Line is the per-sample snapshot taken at assembly time.
type Line struct {
	ID              string
	WorkOrderNumber string
	SampleID        string

	AnalysisNumber string
	AnalysisCode   string
	Description    string
	CylinderNumber string
	CustomerOwned  bool
	Rushed         bool

	Area        string
	Producer    string
	WellName    string
	MeterNumber string
	FlowRate    string
	Pressure    string
	Temperature string
	H2S         string
	CostCode    string
	Remarks     string

	BaseRate  decimal.Decimal
	SampleFee decimal.Decimal
	Discount  decimal.Decimal
	Price     decimal.Decimal // final line price: discounted rate + sample fee

	CheckedInAt time.Time
}

// =============================================================================
// STORE - Persistence interface
// =============================================================================

// Store persists work orders and answers the volume/numbering queries the
// assembler needs.
//
// Implementations: store/memory, store/sqlite, store/remote.
type Store interface {
	// CreateWorkOrder persists the header and its lines atomically.
	CreateWorkOrder(ctx context.Context, h Header, lines []Line) error

	// WorkOrderByNumber returns the header. custody.ErrNotFound when absent.
	WorkOrderByNumber(ctx context.Context, number string) (*Header, error)

	// ListWorkOrders returns all headers, newest first.
	ListWorkOrders(ctx context.Context) ([]Header, error)

	// LinesByNumber returns the lines for a header, line order.
	LinesByNumber(ctx context.Context, number string) ([]Line, error)

	// LineByID returns one line. custody.ErrNotFound when absent.
	LineByID(ctx context.Context, id string) (*Line, error)

	// UpdateWorkOrderFees overwrites the header fee fields.
	UpdateWorkOrderFees(ctx context.Context, number string, mileage, misc, hourly decimal.Decimal) error

	// UpdateWorkOrderStatus overwrites the header status.
	UpdateWorkOrderStatus(ctx context.Context, number string, s Status) error

	// UpdateLine overwrites an existing line.
	UpdateLine(ctx context.Context, l Line) error

	// WorkOrderNumberExists reports whether a header already carries the
	// number. Used for collision checks during allocation.
	WorkOrderNumberExists(ctx context.Context, number string) (bool, error)

	// MaxWorkOrderSequence returns the highest work-order sequence issued
	// for the year, 0 when none.
	MaxWorkOrderSequence(ctx context.Context, year int) (int, error)

	// MonthlyAnalysisCount returns the company's trailing monthly analysis
	// count as of ref. Drives the volume discount.
	MonthlyAnalysisCount(ctx context.Context, companyID custody.CompanyID, ref time.Time) (int, error)
}
