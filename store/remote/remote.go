/*
Package remote provides a client-backed store that delegates persistence to
the lab's authoritative records service over HTTP.

PURPOSE:
  Deployments that run this engine next to an existing records service do
  not own the database; they talk to the service's REST API instead. This
  package implements the same interfaces as store/sqlite against that API,
  so the engine is indifferent to which backing it gets.

STATUS MAPPING:
  401 -> access.ErrUnauthorized
  404 -> custody.ErrNotFound
  409 -> custody.ErrConflict (open custody record already exists)
  anything else >= 400 -> wrapped transport error

SEQUENCE NUMBERS:
  MaxAnalysisSequence and MaxWorkOrderSequence ask the server, which is what
  makes the max-with-server allocation rule meaningful: a freshly restarted
  engine never reissues a number the service has already recorded.

SEE ALSO:
  - store/sqlite: Local authoritative implementation
  - custody, workorder, catalog, access: Interface definitions
*/
package remote

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/labworks/custody-engine/access"
	"github.com/labworks/custody-engine/catalog"
	"github.com/labworks/custody-engine/custody"
	"github.com/labworks/custody-engine/pricing"
	"github.com/labworks/custody-engine/workorder"
)

// Store talks to the authoritative records service.
type Store struct {
	client *resty.Client
}

// New builds a Store against the service at baseURL, authenticating every
// request with the given API token.
func New(baseURL, token string) *Store {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Authorization", "Bearer "+token).
		SetHeader("Accept", "application/json").
		SetTimeout(15 * time.Second)
	return &Store{client: client}
}

type apiError struct {
	Message string `json:"message"`
}

// check translates an HTTP response into the engine's error vocabulary.
func check(resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("records service unreachable: %w", err)
	}
	switch resp.StatusCode() {
	case 401:
		return access.ErrUnauthorized
	case 404:
		return custody.ErrNotFound
	case 409:
		return custody.ErrConflict
	}
	if resp.IsError() {
		msg := resp.Status()
		if e, ok := resp.Error().(*apiError); ok && e.Message != "" {
			msg = e.Message
		}
		return fmt.Errorf("records service: %s %s: %s",
			resp.Request.Method, resp.Request.URL, msg)
	}
	return nil
}

func (s *Store) get(ctx context.Context, path string, out any) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetResult(out).
		SetError(&apiError{}).
		Get(path)
	return check(resp, err)
}

func (s *Store) send(ctx context.Context, method, path string, body any) error {
	req := s.client.R().SetContext(ctx).SetError(&apiError{})
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Execute(method, path)
	return check(resp, err)
}

// =============================================================================
// WIRE TYPES - decimals travel as strings
// =============================================================================

type cylinderDTO struct {
	ID             string `json:"id"`
	Number         string `json:"number"`
	Active         bool   `json:"active"`
	OwnerCompanyID string `json:"owner_company_id,omitempty"`
}

func (d cylinderDTO) toDomain() *custody.Cylinder {
	return &custody.Cylinder{
		ID:             custody.CylinderID(d.ID),
		Number:         custody.NormalizeNumber(d.Number),
		Active:         d.Active,
		OwnerCompanyID: custody.CompanyID(d.OwnerCompanyID),
	}
}

type custodyRecordDTO struct {
	ID         string     `json:"id"`
	CylinderID string     `json:"cylinder_id"`
	CompanyID  string     `json:"company_id"`
	OpenedAt   time.Time  `json:"opened_at"`
	ClosedAt   *time.Time `json:"closed_at,omitempty"`
}

func (d custodyRecordDTO) toDomain() custody.CustodyRecord {
	return custody.CustodyRecord{
		ID:         d.ID,
		CylinderID: custody.CylinderID(d.CylinderID),
		CompanyID:  custody.CompanyID(d.CompanyID),
		OpenedAt:   d.OpenedAt,
		ClosedAt:   d.ClosedAt,
	}
}

type sampleDTO struct {
	ID             string `json:"id"`
	CompanyID      string `json:"company_id"`
	ContactID      string `json:"contact_id,omitempty"`
	AnalysisCode   string `json:"analysis_code"`
	Area           string `json:"area,omitempty"`
	CylinderNumber string `json:"cylinder_number"`
	CylinderID     string `json:"cylinder_id,omitempty"`
	AnalysisNumber string `json:"analysis_number"`
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

	CheckedInAt     time.Time `json:"checked_in_at"`
	BillingRef      string    `json:"billing_ref,omitempty"`
	WorkOrderNumber string    `json:"work_order_number,omitempty"`
	Status          string    `json:"status"`
	CreatedBy       string    `json:"created_by,omitempty"`
}

func sampleToDTO(sm custody.CheckInSample) sampleDTO {
	return sampleDTO{
		ID:             sm.ID,
		CompanyID:      string(sm.CompanyID),
		ContactID:      string(sm.ContactID),
		AnalysisCode:   sm.AnalysisCode,
		Area:           sm.Area,
		CylinderNumber: sm.CylinderNumber,
		CylinderID:     string(sm.CylinderID),
		AnalysisNumber: sm.AnalysisNumber,
		Rushed:         sm.Rushed,
		CustomerOwned:  sm.CustomerOwned,
		Producer:       sm.Producer,
		WellName:       sm.WellName,
		MeterNumber:    sm.MeterNumber,
		FlowRate:       sm.FlowRate,
		Pressure:       sm.Pressure,
		Temperature:    sm.Temperature,
		H2S:            sm.H2S,
		CostCode:       sm.CostCode,
		Remarks:        sm.Remarks,
		CheckedInAt:    sm.CheckedInAt,
		BillingRef:     sm.BillingRef,
		WorkOrderNumber: sm.WorkOrderNumber,
		Status:          string(sm.Status),
		CreatedBy:       string(sm.CreatedBy),
	}
}

func (d sampleDTO) toDomain() custody.CheckInSample {
	return custody.CheckInSample{
		ID:              d.ID,
		CompanyID:       custody.CompanyID(d.CompanyID),
		ContactID:       custody.ContactID(d.ContactID),
		AnalysisCode:    d.AnalysisCode,
		Area:            d.Area,
		CylinderNumber:  d.CylinderNumber,
		CylinderID:      custody.CylinderID(d.CylinderID),
		AnalysisNumber:  d.AnalysisNumber,
		Rushed:          d.Rushed,
		CustomerOwned:   d.CustomerOwned,
		Producer:        d.Producer,
		WellName:        d.WellName,
		MeterNumber:     d.MeterNumber,
		FlowRate:        d.FlowRate,
		Pressure:        d.Pressure,
		Temperature:     d.Temperature,
		H2S:             d.H2S,
		CostCode:        d.CostCode,
		Remarks:         d.Remarks,
		CheckedInAt:     d.CheckedInAt,
		BillingRef:      d.BillingRef,
		WorkOrderNumber: d.WorkOrderNumber,
		Status:          custody.SampleStatus(d.Status),
		CreatedBy:       custody.UserID(d.CreatedBy),
	}
}

type headerDTO struct {
	Number     string    `json:"number"`
	Date       time.Time `json:"date"`
	CompanyID  string    `json:"company_id"`
	ContactID  string    `json:"contact_id"`
	MileageFee string    `json:"mileage_fee"`
	MiscFee    string    `json:"misc_fee"`
	HourlyFee  string    `json:"hourly_fee"`
	Status     string    `json:"status"`
	CreatedBy  string    `json:"created_by,omitempty"`
}

func headerToDTO(h workorder.Header) headerDTO {
	return headerDTO{
		Number:     h.Number,
		Date:       h.Date,
		CompanyID:  string(h.CompanyID),
		ContactID:  string(h.ContactID),
		MileageFee: h.MileageFee.String(),
		MiscFee:    h.MiscFee.String(),
		HourlyFee:  h.HourlyFee.String(),
		Status:     string(h.Status),
		CreatedBy:  string(h.CreatedBy),
	}
}

func (d headerDTO) toDomain() (*workorder.Header, error) {
	mileage, err := decimal.NewFromString(d.MileageFee)
	if err != nil {
		return nil, fmt.Errorf("work order %s: bad mileage_fee %q: %w", d.Number, d.MileageFee, err)
	}
	misc, err := decimal.NewFromString(d.MiscFee)
	if err != nil {
		return nil, fmt.Errorf("work order %s: bad misc_fee %q: %w", d.Number, d.MiscFee, err)
	}
	hourly, err := decimal.NewFromString(d.HourlyFee)
	if err != nil {
		return nil, fmt.Errorf("work order %s: bad hourly_fee %q: %w", d.Number, d.HourlyFee, err)
	}
	return &workorder.Header{
		Number:     d.Number,
		Date:       d.Date,
		CompanyID:  custody.CompanyID(d.CompanyID),
		ContactID:  custody.ContactID(d.ContactID),
		MileageFee: mileage,
		MiscFee:    misc,
		HourlyFee:  hourly,
		Status:     workorder.Status(d.Status),
		CreatedBy:  custody.UserID(d.CreatedBy),
	}, nil
}

type lineDTO struct {
	ID              string `json:"id"`
	WorkOrderNumber string `json:"work_order_number"`
	SampleID        string `json:"sample_id"`
	AnalysisNumber  string `json:"analysis_number"`
	AnalysisCode    string `json:"analysis_code"`
	Description     string `json:"description,omitempty"`
	CylinderNumber  string `json:"cylinder_number,omitempty"`
	CustomerOwned   bool   `json:"customer_owned"`
	Rushed          bool   `json:"rushed"`

	Area        string `json:"area,omitempty"`
	Producer    string `json:"producer,omitempty"`
	WellName    string `json:"well_name,omitempty"`
	MeterNumber string `json:"meter_number,omitempty"`
	FlowRate    string `json:"flow_rate,omitempty"`
	Pressure    string `json:"pressure,omitempty"`
	Temperature string `json:"temperature,omitempty"`
	H2S         string `json:"h2s,omitempty"`
	CostCode    string `json:"cost_code,omitempty"`
	Remarks     string `json:"remarks,omitempty"`

	BaseRate  string `json:"base_rate"`
	SampleFee string `json:"sample_fee"`
	Discount  string `json:"discount"`
	Price     string `json:"price"`

	CheckedInAt time.Time `json:"checked_in_at"`
}

func lineToDTO(l workorder.Line) lineDTO {
	return lineDTO{
		ID:              l.ID,
		WorkOrderNumber: l.WorkOrderNumber,
		SampleID:        l.SampleID,
		AnalysisNumber:  l.AnalysisNumber,
		AnalysisCode:    l.AnalysisCode,
		Description:     l.Description,
		CylinderNumber:  l.CylinderNumber,
		CustomerOwned:   l.CustomerOwned,
		Rushed:          l.Rushed,
		Area:            l.Area,
		Producer:        l.Producer,
		WellName:        l.WellName,
		MeterNumber:     l.MeterNumber,
		FlowRate:        l.FlowRate,
		Pressure:        l.Pressure,
		Temperature:     l.Temperature,
		H2S:             l.H2S,
		CostCode:        l.CostCode,
		Remarks:         l.Remarks,
		BaseRate:        l.BaseRate.String(),
		SampleFee:       l.SampleFee.String(),
		Discount:        l.Discount.String(),
		Price:           l.Price.String(),
		CheckedInAt:     l.CheckedInAt,
	}
}

func (d lineDTO) toDomain() (*workorder.Line, error) {
	baseRate, err := decimal.NewFromString(d.BaseRate)
	if err != nil {
		return nil, fmt.Errorf("line %s: bad base_rate %q: %w", d.ID, d.BaseRate, err)
	}
	sampleFee, err := decimal.NewFromString(d.SampleFee)
	if err != nil {
		return nil, fmt.Errorf("line %s: bad sample_fee %q: %w", d.ID, d.SampleFee, err)
	}
	discount, err := decimal.NewFromString(d.Discount)
	if err != nil {
		return nil, fmt.Errorf("line %s: bad discount %q: %w", d.ID, d.Discount, err)
	}
	price, err := decimal.NewFromString(d.Price)
	if err != nil {
		return nil, fmt.Errorf("line %s: bad price %q: %w", d.ID, d.Price, err)
	}
	return &workorder.Line{
		ID:              d.ID,
		WorkOrderNumber: d.WorkOrderNumber,
		SampleID:        d.SampleID,
		AnalysisNumber:  d.AnalysisNumber,
		AnalysisCode:    d.AnalysisCode,
		Description:     d.Description,
		CylinderNumber:  d.CylinderNumber,
		CustomerOwned:   d.CustomerOwned,
		Rushed:          d.Rushed,
		Area:            d.Area,
		Producer:        d.Producer,
		WellName:        d.WellName,
		MeterNumber:     d.MeterNumber,
		FlowRate:        d.FlowRate,
		Pressure:        d.Pressure,
		Temperature:     d.Temperature,
		H2S:             d.H2S,
		CostCode:        d.CostCode,
		Remarks:         d.Remarks,
		BaseRate:        baseRate,
		SampleFee:       sampleFee,
		Discount:        discount,
		Price:           price,
		CheckedInAt:     d.CheckedInAt,
	}, nil
}

type ruleDTO struct {
	Code         string `json:"code"`
	Description  string `json:"description,omitempty"`
	StandardRate string `json:"standard_rate"`
	RushedRate   string `json:"rushed_rate"`
	SampleFee    string `json:"sample_fee"`
	Active       bool   `json:"active"`
}

func (d ruleDTO) toDomain() (*pricing.Rule, error) {
	standard, err := decimal.NewFromString(d.StandardRate)
	if err != nil {
		return nil, fmt.Errorf("rule %s: bad standard_rate %q: %w", d.Code, d.StandardRate, err)
	}
	rushed, err := decimal.NewFromString(d.RushedRate)
	if err != nil {
		return nil, fmt.Errorf("rule %s: bad rushed_rate %q: %w", d.Code, d.RushedRate, err)
	}
	fee, err := decimal.NewFromString(d.SampleFee)
	if err != nil {
		return nil, fmt.Errorf("rule %s: bad sample_fee %q: %w", d.Code, d.SampleFee, err)
	}
	return &pricing.Rule{
		Code:         d.Code,
		Description:  d.Description,
		StandardRate: standard,
		RushedRate:   rushed,
		SampleFee:    fee,
		Active:       d.Active,
	}, nil
}

// =============================================================================
// custody.Registry
// =============================================================================

func (s *Store) CylinderByNumber(ctx context.Context, number string) (*custody.Cylinder, error) {
	var dto cylinderDTO
	err := s.get(ctx, "/cylinders/by-number/"+url.PathEscape(custody.NormalizeNumber(number)), &dto)
	if err != nil {
		return nil, err
	}
	return dto.toDomain(), nil
}

func (s *Store) CylinderByID(ctx context.Context, id custody.CylinderID) (*custody.Cylinder, error) {
	var dto cylinderDTO
	err := s.get(ctx, "/cylinders/"+url.PathEscape(string(id)), &dto)
	if err != nil {
		return nil, err
	}
	return dto.toDomain(), nil
}

// =============================================================================
// custody.LedgerStore
// =============================================================================

func (s *Store) OpenCustody(ctx context.Context, rec custody.CustodyRecord) error {
	return s.send(ctx, resty.MethodPost, "/custody-records", custodyRecordDTO{
		ID:         rec.ID,
		CylinderID: string(rec.CylinderID),
		CompanyID:  string(rec.CompanyID),
		OpenedAt:   rec.OpenedAt,
	})
}

func (s *Store) FindOpenCustody(ctx context.Context, id custody.CylinderID) (*custody.CustodyRecord, error) {
	var dto custodyRecordDTO
	err := s.get(ctx, "/cylinders/"+url.PathEscape(string(id))+"/open-custody", &dto)
	if err == custody.ErrNotFound {
		// The service answers 404 when nothing is open; for this query
		// that is an answer, not an error.
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec := dto.toDomain()
	return &rec, nil
}

func (s *Store) CloseCustody(ctx context.Context, ids []custody.CylinderID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	body := struct {
		CylinderIDs []custody.CylinderID `json:"cylinder_ids"`
		ClosedAt    time.Time            `json:"closed_at"`
	}{ids, at}
	return s.send(ctx, resty.MethodPost, "/custody-records/close", body)
}

func (s *Store) CustodyHistory(ctx context.Context, id custody.CylinderID) ([]custody.CustodyRecord, error) {
	var dtos []custodyRecordDTO
	if err := s.get(ctx, "/cylinders/"+url.PathEscape(string(id))+"/custody-history", &dtos); err != nil {
		return nil, err
	}
	out := make([]custody.CustodyRecord, 0, len(dtos))
	for _, d := range dtos {
		out = append(out, d.toDomain())
	}
	return out, nil
}

// =============================================================================
// custody.CheckoutStore
// =============================================================================

type batchDTO struct {
	ID          string    `json:"id"`
	CompanyID   string    `json:"company_id"`
	ContactID   string    `json:"contact_id"`
	CylinderIDs []string  `json:"cylinder_ids"`
	Numbers     []string  `json:"numbers"`
	ConfirmedAt time.Time `json:"confirmed_at"`
	CreatedBy   string    `json:"created_by,omitempty"`
}

func (s *Store) SaveCheckoutBatch(ctx context.Context, batch custody.CheckoutBatch) error {
	ids := make([]string, len(batch.CylinderIDs))
	for i, id := range batch.CylinderIDs {
		ids[i] = string(id)
	}
	return s.send(ctx, resty.MethodPost, "/checkout-batches", batchDTO{
		ID:          batch.ID,
		CompanyID:   string(batch.CompanyID),
		ContactID:   string(batch.ContactID),
		CylinderIDs: ids,
		Numbers:     batch.Numbers,
		ConfirmedAt: batch.ConfirmedAt,
		CreatedBy:   string(batch.CreatedBy),
	})
}

func (s *Store) ListCheckoutBatches(ctx context.Context) ([]custody.CheckoutBatch, error) {
	var dtos []batchDTO
	if err := s.get(ctx, "/checkout-batches", &dtos); err != nil {
		return nil, err
	}
	out := make([]custody.CheckoutBatch, 0, len(dtos))
	for _, d := range dtos {
		ids := make([]custody.CylinderID, len(d.CylinderIDs))
		for i, id := range d.CylinderIDs {
			ids[i] = custody.CylinderID(id)
		}
		out = append(out, custody.CheckoutBatch{
			ID:          d.ID,
			CompanyID:   custody.CompanyID(d.CompanyID),
			ContactID:   custody.ContactID(d.ContactID),
			CylinderIDs: ids,
			Numbers:     d.Numbers,
			ConfirmedAt: d.ConfirmedAt,
			CreatedBy:   custody.UserID(d.CreatedBy),
		})
	}
	return out, nil
}

// =============================================================================
// custody.SampleStore
// =============================================================================

func (s *Store) SaveSample(ctx context.Context, sm custody.CheckInSample) error {
	return s.send(ctx, resty.MethodPost, "/samples", sampleToDTO(sm))
}

func (s *Store) UpdateSample(ctx context.Context, sm custody.CheckInSample) error {
	return s.send(ctx, resty.MethodPut, "/samples/"+url.PathEscape(sm.ID), sampleToDTO(sm))
}

func (s *Store) DeleteSample(ctx context.Context, id string) error {
	return s.send(ctx, resty.MethodDelete, "/samples/"+url.PathEscape(id), nil)
}

func (s *Store) ListPendingSamples(ctx context.Context) ([]custody.CheckInSample, error) {
	var dtos []sampleDTO
	if err := s.get(ctx, "/samples?status=Pending", &dtos); err != nil {
		return nil, err
	}
	out := make([]custody.CheckInSample, 0, len(dtos))
	for _, d := range dtos {
		out = append(out, d.toDomain())
	}
	return out, nil
}

func (s *Store) MaxAnalysisSequence(ctx context.Context, year int) (int, error) {
	var res struct {
		Max int `json:"max"`
	}
	err := s.get(ctx, fmt.Sprintf("/samples/max-sequence?year=%d", year), &res)
	return res.Max, err
}

// =============================================================================
// workorder.Store
// =============================================================================

func (s *Store) CreateWorkOrder(ctx context.Context, h workorder.Header, lines []workorder.Line) error {
	lineDTOs := make([]lineDTO, len(lines))
	for i, l := range lines {
		lineDTOs[i] = lineToDTO(l)
	}
	body := struct {
		Header headerDTO `json:"header"`
		Lines  []lineDTO `json:"lines"`
	}{headerToDTO(h), lineDTOs}
	return s.send(ctx, resty.MethodPost, "/work-orders", body)
}

func (s *Store) WorkOrderByNumber(ctx context.Context, number string) (*workorder.Header, error) {
	var dto headerDTO
	if err := s.get(ctx, "/work-orders/"+url.PathEscape(number), &dto); err != nil {
		return nil, err
	}
	return dto.toDomain()
}

func (s *Store) ListWorkOrders(ctx context.Context) ([]workorder.Header, error) {
	var dtos []headerDTO
	if err := s.get(ctx, "/work-orders", &dtos); err != nil {
		return nil, err
	}
	out := make([]workorder.Header, 0, len(dtos))
	for _, d := range dtos {
		h, err := d.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, *h)
	}
	return out, nil
}

func (s *Store) LinesByNumber(ctx context.Context, number string) ([]workorder.Line, error) {
	var dtos []lineDTO
	if err := s.get(ctx, "/work-orders/"+url.PathEscape(number)+"/lines", &dtos); err != nil {
		return nil, err
	}
	out := make([]workorder.Line, 0, len(dtos))
	for _, d := range dtos {
		l, err := d.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, nil
}

func (s *Store) LineByID(ctx context.Context, id string) (*workorder.Line, error) {
	var dto lineDTO
	if err := s.get(ctx, "/work-order-lines/"+url.PathEscape(id), &dto); err != nil {
		return nil, err
	}
	return dto.toDomain()
}

func (s *Store) UpdateWorkOrderFees(ctx context.Context, number string, mileage, misc, hourly decimal.Decimal) error {
	body := struct {
		MileageFee string `json:"mileage_fee"`
		MiscFee    string `json:"misc_fee"`
		HourlyFee  string `json:"hourly_fee"`
	}{mileage.String(), misc.String(), hourly.String()}
	return s.send(ctx, resty.MethodPatch, "/work-orders/"+url.PathEscape(number)+"/fees", body)
}

func (s *Store) UpdateWorkOrderStatus(ctx context.Context, number string, status workorder.Status) error {
	body := struct {
		Status string `json:"status"`
	}{string(status)}
	return s.send(ctx, resty.MethodPatch, "/work-orders/"+url.PathEscape(number)+"/status", body)
}

func (s *Store) UpdateLine(ctx context.Context, l workorder.Line) error {
	return s.send(ctx, resty.MethodPut, "/work-order-lines/"+url.PathEscape(l.ID), lineToDTO(l))
}

func (s *Store) WorkOrderNumberExists(ctx context.Context, number string) (bool, error) {
	var dto headerDTO
	err := s.get(ctx, "/work-orders/"+url.PathEscape(number), &dto)
	if err == custody.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) MaxWorkOrderSequence(ctx context.Context, year int) (int, error) {
	var res struct {
		Max int `json:"max"`
	}
	err := s.get(ctx, fmt.Sprintf("/work-orders/max-sequence?year=%d", year), &res)
	return res.Max, err
}

func (s *Store) MonthlyAnalysisCount(ctx context.Context, companyID custody.CompanyID, ref time.Time) (int, error) {
	var res struct {
		Count int `json:"count"`
	}
	err := s.get(ctx, fmt.Sprintf("/companies/%s/analysis-count?ref=%s",
		url.PathEscape(string(companyID)), url.QueryEscape(ref.Format(time.RFC3339))), &res)
	return res.Count, err
}

// =============================================================================
// catalog.Source
// =============================================================================

type companyDTO struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

type contactDTO struct {
	ID        string `json:"id"`
	CompanyID string `json:"company_id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	Active    bool   `json:"active"`
}

func (s *Store) ListCompanies(ctx context.Context) ([]catalog.Company, error) {
	var dtos []companyDTO
	if err := s.get(ctx, "/companies", &dtos); err != nil {
		return nil, err
	}
	out := make([]catalog.Company, 0, len(dtos))
	for _, d := range dtos {
		out = append(out, catalog.Company{
			ID:     custody.CompanyID(d.ID),
			Name:   d.Name,
			Active: d.Active,
		})
	}
	return out, nil
}

func (s *Store) ListContacts(ctx context.Context) ([]catalog.Contact, error) {
	var dtos []contactDTO
	if err := s.get(ctx, "/contacts", &dtos); err != nil {
		return nil, err
	}
	out := make([]catalog.Contact, 0, len(dtos))
	for _, d := range dtos {
		out = append(out, catalog.Contact{
			ID:        custody.ContactID(d.ID),
			CompanyID: custody.CompanyID(d.CompanyID),
			Name:      d.Name,
			Email:     d.Email,
			Active:    d.Active,
		})
	}
	return out, nil
}

func (s *Store) ListPriceRules(ctx context.Context) ([]pricing.Rule, error) {
	var dtos []ruleDTO
	if err := s.get(ctx, "/price-rules", &dtos); err != nil {
		return nil, err
	}
	out := make([]pricing.Rule, 0, len(dtos))
	for _, d := range dtos {
		r, err := d.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, nil
}

// SavePriceRules pushes imported price rules to the service.
func (s *Store) SavePriceRules(ctx context.Context, rules []pricing.Rule) error {
	dtos := make([]ruleDTO, len(rules))
	for i, r := range rules {
		dtos[i] = ruleDTO{
			Code:         r.Code,
			Description:  r.Description,
			StandardRate: r.StandardRate.String(),
			RushedRate:   r.RushedRate.String(),
			SampleFee:    r.SampleFee.String(),
			Active:       r.Active,
		}
	}
	return s.send(ctx, resty.MethodPut, "/price-rules", dtos)
}

type permissionDTO struct {
	RoleID   string `json:"role_id"`
	ModuleID string `json:"module_id"`
	Level    string `json:"level"`
	Active   bool   `json:"active"`
}

func (s *Store) ListPermissions(ctx context.Context) ([]access.Permission, error) {
	var dtos []permissionDTO
	if err := s.get(ctx, "/permissions", &dtos); err != nil {
		return nil, err
	}
	out := make([]access.Permission, 0, len(dtos))
	for _, d := range dtos {
		out = append(out, access.Permission{
			RoleID:   access.RoleID(d.RoleID),
			ModuleID: access.ModuleID(d.ModuleID),
			Level:    access.AccessLevel(d.Level),
			Active:   d.Active,
		})
	}
	return out, nil
}

// =============================================================================
// access.IdentitySource
// =============================================================================

type identityDTO struct {
	UserID    string `json:"user_id"`
	RoleID    string `json:"role_id"`
	CompanyID string `json:"company_id,omitempty"`
}

func (s *Store) IdentityByToken(ctx context.Context, token string) (*access.Identity, error) {
	var dto identityDTO
	body := struct {
		Token string `json:"token"`
	}{token}
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&dto).
		SetError(&apiError{}).
		Post("/auth/introspect")
	if err := check(resp, err); err != nil {
		if err == custody.ErrNotFound {
			return nil, access.ErrUnauthorized
		}
		return nil, err
	}
	return &access.Identity{
		UserID:    dto.UserID,
		RoleID:    access.RoleID(dto.RoleID),
		CompanyID: dto.CompanyID,
	}, nil
}
