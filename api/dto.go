/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Decimal amounts travel as strings ("162.50") so clients never see
  binary floating point artifacts.

VALIDATION:
  Validation is done in handlers and workflows, not in DTOs. DTOs are
  pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/pricebook.go: RuleJSON for price-book import
*/
package api

import (
	"time"

	"github.com/labworks/custody-engine/custody"
	"github.com/labworks/custody-engine/pricing"
	"github.com/labworks/custody-engine/workorder"
)

// =============================================================================
// CHECKOUT TYPES
// =============================================================================

// ScanRequest carries one barcode read.
type ScanRequest struct {
	Number string `json:"number"`
}

// SelectionRequest sets the receiving company and contact for the
// caller's checkout session.
type SelectionRequest struct {
	CompanyID string `json:"company_id"`
	ContactID string `json:"contact_id"`
}

// CheckoutSessionDTO is the caller's in-progress checkout batch.
type CheckoutSessionDTO struct {
	CompanyID string   `json:"company_id,omitempty"`
	ContactID string   `json:"contact_id,omitempty"`
	Scans     []string `json:"scans"`
}

// CheckoutBatchDTO is a confirmed checkout in API responses.
type CheckoutBatchDTO struct {
	ID          string   `json:"id"`
	CompanyID   string   `json:"company_id"`
	ContactID   string   `json:"contact_id"`
	Numbers     []string `json:"numbers"`
	ConfirmedAt string   `json:"confirmed_at"`
	CreatedBy   string   `json:"created_by,omitempty"`
}

func toBatchDTO(b custody.CheckoutBatch) CheckoutBatchDTO {
	return CheckoutBatchDTO{
		ID:          b.ID,
		CompanyID:   string(b.CompanyID),
		ContactID:   string(b.ContactID),
		Numbers:     b.Numbers,
		ConfirmedAt: b.ConfirmedAt.Format(time.RFC3339),
		CreatedBy:   string(b.CreatedBy),
	}
}

// =============================================================================
// CHECK-IN TYPES
// =============================================================================

// CheckInRequest is one returned sample with its measurement fields.
type CheckInRequest struct {
	CompanyID      string `json:"company_id"`
	ContactID      string `json:"contact_id,omitempty"`
	AnalysisCode   string `json:"analysis_code"`
	Area           string `json:"area,omitempty"`
	CylinderNumber string `json:"cylinder_number"`
	Rushed         bool   `json:"rushed"`
	CustomerOwned  bool   `json:"customer_owned"`

	Producer    string `json:"producer,omitempty"`
	WellName    string `json:"well_name,omitempty"`
	MeterNumber string `json:"meter_number,omitempty"`
	FlowRate    string `json:"flow_rate,omitempty"`
	Pressure    string `json:"pressure,omitempty"`
	Temperature string `json:"temperature,omitempty"`
	H2S         string `json:"h2s,omitempty"`
	CostCode    string `json:"cost_code,omitempty"`
	Remarks     string `json:"remarks,omitempty"`

	BillingRef string `json:"billing_ref,omitempty"`
}

func (r CheckInRequest) toSample() custody.CheckInSample {
	return custody.CheckInSample{
		CompanyID:      custody.CompanyID(r.CompanyID),
		ContactID:      custody.ContactID(r.ContactID),
		AnalysisCode:   r.AnalysisCode,
		Area:           r.Area,
		CylinderNumber: r.CylinderNumber,
		Rushed:         r.Rushed,
		CustomerOwned:  r.CustomerOwned,
		Producer:       r.Producer,
		WellName:       r.WellName,
		MeterNumber:    r.MeterNumber,
		FlowRate:       r.FlowRate,
		Pressure:       r.Pressure,
		Temperature:    r.Temperature,
		H2S:            r.H2S,
		CostCode:       r.CostCode,
		Remarks:        r.Remarks,
		BillingRef:     r.BillingRef,
	}
}

// SampleDTO is a queued check-in sample in API responses.
type SampleDTO struct {
	ID             string `json:"id"`
	CompanyID      string `json:"company_id"`
	ContactID      string `json:"contact_id,omitempty"`
	AnalysisCode   string `json:"analysis_code"`
	AnalysisNumber string `json:"analysis_number"`
	CylinderNumber string `json:"cylinder_number"`
	Rushed         bool   `json:"rushed"`
	CustomerOwned  bool   `json:"customer_owned"`
	CheckedInAt    string `json:"checked_in_at"`
	Status         string `json:"status"`
	CreatedBy      string `json:"created_by,omitempty"`
}

func toSampleDTO(s custody.CheckInSample) SampleDTO {
	return SampleDTO{
		ID:             s.ID,
		CompanyID:      string(s.CompanyID),
		ContactID:      string(s.ContactID),
		AnalysisCode:   s.AnalysisCode,
		AnalysisNumber: s.AnalysisNumber,
		CylinderNumber: s.CylinderNumber,
		Rushed:         s.Rushed,
		CustomerOwned:  s.CustomerOwned,
		CheckedInAt:    s.CheckedInAt.Format(time.RFC3339),
		Status:         string(s.Status),
		CreatedBy:      string(s.CreatedBy),
	}
}

// =============================================================================
// WORK ORDER TYPES
// =============================================================================

// AssembleRequest turns the caller's intake queue into a work order.
type AssembleRequest struct {
	CompanyID string `json:"company_id"`
	ContactID string `json:"contact_id"`
}

// WorkOrderDTO is a work-order header in API responses.
type WorkOrderDTO struct {
	Number     string `json:"number"`
	Date       string `json:"date"`
	CompanyID  string `json:"company_id"`
	ContactID  string `json:"contact_id"`
	MileageFee string `json:"mileage_fee"`
	MiscFee    string `json:"misc_fee"`
	HourlyFee  string `json:"hourly_fee"`
	Status     string `json:"status"`
	CreatedBy  string `json:"created_by,omitempty"`
}

func toWorkOrderDTO(h workorder.Header) WorkOrderDTO {
	return WorkOrderDTO{
		Number:     h.Number,
		Date:       h.Date.Format(time.RFC3339),
		CompanyID:  string(h.CompanyID),
		ContactID:  string(h.ContactID),
		MileageFee: h.MileageFee.String(),
		MiscFee:    h.MiscFee.String(),
		HourlyFee:  h.HourlyFee.String(),
		Status:     string(h.Status),
		CreatedBy:  string(h.CreatedBy),
	}
}

// WorkOrderLineDTO is a priced line in API responses.
type WorkOrderLineDTO struct {
	ID             string `json:"id"`
	AnalysisNumber string `json:"analysis_number"`
	AnalysisCode   string `json:"analysis_code"`
	CylinderNumber string `json:"cylinder_number,omitempty"`
	CustomerOwned  bool   `json:"customer_owned"`
	Rushed         bool   `json:"rushed"`
	CostCode       string `json:"cost_code,omitempty"`
	BaseRate       string `json:"base_rate"`
	SampleFee      string `json:"sample_fee"`
	Discount       string `json:"discount"`
	Price          string `json:"price"`
}

func toLineDTO(l workorder.Line) WorkOrderLineDTO {
	return WorkOrderLineDTO{
		ID:             l.ID,
		AnalysisNumber: l.AnalysisNumber,
		AnalysisCode:   l.AnalysisCode,
		CylinderNumber: l.CylinderNumber,
		CustomerOwned:  l.CustomerOwned,
		Rushed:         l.Rushed,
		CostCode:       l.CostCode,
		BaseRate:       l.BaseRate.String(),
		SampleFee:      l.SampleFee.String(),
		Discount:       l.Discount.String(),
		Price:          l.Price.String(),
	}
}

// WorkOrderDetailDTO bundles a header with its lines, plus the custody
// drift warning when releasing cylinders back to the pool failed.
type WorkOrderDetailDTO struct {
	Header          WorkOrderDTO       `json:"header"`
	Lines           []WorkOrderLineDTO `json:"lines"`
	CustodyCloseErr string             `json:"custody_close_error,omitempty"`
}

// UpdateFeesRequest overwrites the header-level fees.
type UpdateFeesRequest struct {
	MileageFee string `json:"mileage_fee"`
	MiscFee    string `json:"misc_fee"`
	HourlyFee  string `json:"hourly_fee"`
}

// UpdateLineRequest edits one line. Nil fields are left untouched.
type UpdateLineRequest struct {
	CostCode     *string `json:"cost_code,omitempty"`
	AnalysisCode *string `json:"analysis_code,omitempty"`
	Rushed       *bool   `json:"rushed,omitempty"`
}

// =============================================================================
// PRICING TYPES
// =============================================================================

// BreakdownDTO itemizes one price quote.
type BreakdownDTO struct {
	Code       string `json:"code"`
	Rushed     bool   `json:"rushed"`
	BaseRate   string `json:"base_rate"`
	SampleFee  string `json:"sample_fee"`
	Discount   string `json:"discount"`
	FinalPrice string `json:"final_price"`
	Total      string `json:"total"`
}

func toBreakdownDTO(b pricing.Breakdown) BreakdownDTO {
	return BreakdownDTO{
		Code:       b.Code,
		Rushed:     b.Rushed,
		BaseRate:   b.BaseRate.String(),
		SampleFee:  b.SampleFee.String(),
		Discount:   b.Discount.String(),
		FinalPrice: b.FinalPrice.String(),
		Total:      b.Total.String(),
	}
}

// =============================================================================
// GENERIC TYPES
// =============================================================================

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// CountResponse reports how many records an import touched.
type CountResponse struct {
	Count int `json:"count"`
}
