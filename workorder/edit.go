/*
edit.go - Post-assembly edit surface

Header fees and a narrow set of line fields stay operator-adjustable after
assembly. Everything else on a line is a historical snapshot and is never
re-derived from the source sample or the current catalog.
*/
package workorder

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/labworks/custody-engine/custody"
	"github.com/labworks/custody-engine/pricing"
)

// Editor applies the allowed post-assembly mutations.
type Editor struct {
	store  Store
	pricer *pricing.Engine
}

func NewEditor(store Store, pricer *pricing.Engine) *Editor {
	return &Editor{store: store, pricer: pricer}
}

// UpdateFees overwrites the header-level mileage/miscellaneous/hourly fees.
func (e *Editor) UpdateFees(ctx context.Context, number string, mileage, misc, hourly decimal.Decimal) (*Header, error) {
	h, err := e.store.WorkOrderByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if err := e.store.UpdateWorkOrderFees(ctx, number, mileage, misc, hourly); err != nil {
		return nil, &custody.PersistenceError{Op: "update fees for " + number, Err: err}
	}
	h.MileageFee, h.MiscFee, h.HourlyFee = mileage, misc, hourly
	return h, nil
}

// AdvanceStatus moves the header to the next lifecycle status.
// The lifecycle only moves forward; at Invoiced this fails with
// custody.ErrInvalidState.
func (e *Editor) AdvanceStatus(ctx context.Context, number string) (*Header, error) {
	h, err := e.store.WorkOrderByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	next, ok := h.Status.Next()
	if !ok {
		return nil, fmt.Errorf("work order %s is already %s: %w", number, h.Status, custody.ErrInvalidState)
	}
	if err := e.store.UpdateWorkOrderStatus(ctx, number, next); err != nil {
		return nil, &custody.PersistenceError{Op: "advance status for " + number, Err: err}
	}
	h.Status = next
	return h, nil
}

// LineEdit names the operator-adjustable line fields. Nil means unchanged.
type LineEdit struct {
	CostCode     *string
	AnalysisCode *string
	Rushed       *bool
}

// UpdateLine applies a LineEdit. Re-picking the analysis type (or toggling
// rush) re-prices the line from the CURRENT catalog with no volume context;
// a plain cost-code edit leaves the historical price untouched.
func (e *Editor) UpdateLine(ctx context.Context, lineID string, edit LineEdit) (*Line, error) {
	l, err := e.store.LineByID(ctx, lineID)
	if err != nil {
		return nil, err
	}

	if edit.CostCode != nil {
		l.CostCode = *edit.CostCode
	}

	reprice := false
	if edit.AnalysisCode != nil && *edit.AnalysisCode != l.AnalysisCode {
		l.AnalysisCode = *edit.AnalysisCode
		reprice = true
	}
	if edit.Rushed != nil && *edit.Rushed != l.Rushed {
		l.Rushed = *edit.Rushed
		reprice = true
	}

	if reprice {
		bd, err := e.pricer.PriceBreakdown(ctx, l.AnalysisCode, l.Rushed, 0)
		if err != nil {
			return nil, err
		}
		l.BaseRate = bd.BaseRate
		l.SampleFee = bd.SampleFee
		l.Discount = bd.Discount
		l.Price = bd.Total
	}

	if err := e.store.UpdateLine(ctx, *l); err != nil {
		return nil, &custody.PersistenceError{Op: "update line " + lineID, Err: err}
	}
	return l, nil
}
