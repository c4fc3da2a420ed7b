/*
Package sqlite provides the SQLite-backed authoritative store.

PURPOSE:
  Implements every persistence interface the engine consumes (cylinder
  registry, custody ledger, sample store, checkout store, work-order store,
  catalog source, identity source) over a single SQLite database.

EXCLUSIVITY ENFORCEMENT:
  The custody invariant lives in the schema, not in application code:

    CREATE UNIQUE INDEX idx_custody_open
      ON custody_records(cylinder_id) WHERE closed_at IS NULL;

  Two sessions racing to check out the same cylinder both INSERT; SQLite
  accepts one and rejects the other with a constraint violation, surfaced
  as custody.ErrConflict.

AUDIT TRAIL:
  custody_records are closed with an UPDATE of closed_at only. No DELETE
  statement touches that table.

WAL MODE:
  The database is opened with WAL (Write-Ahead Logging) for better read
  concurrency and crash recovery. A sync.RWMutex serializes writers
  within the process.

USAGE:
  store, err := sqlite.New("./data/custody.db")   // ":memory:" for tests
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - custody package: Interface definitions (Registry, LedgerStore, ...)
  - store/memory: In-memory implementation used by most tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/labworks/custody-engine/access"
	"github.com/labworks/custody-engine/catalog"
	"github.com/labworks/custody-engine/custody"
	"github.com/labworks/custody-engine/pricing"
	"github.com/labworks/custody-engine/workorder"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: writers are serialized by s.mu anyway, and a pool
	// of connections against ":memory:" would each see a separate empty
	// database.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Cylinder catalog (reference data, read-only to the engine)
	CREATE TABLE IF NOT EXISTS cylinders (
		id TEXT PRIMARY KEY,
		number TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		owner_company_id TEXT NOT NULL DEFAULT ''
	);
	-- Numbers are stored normalized (uppercase, trimmed)
	CREATE UNIQUE INDEX IF NOT EXISTS idx_cylinders_number ON cylinders(number);

	-- Custody records: closed, never deleted
	CREATE TABLE IF NOT EXISTS custody_records (
		id TEXT PRIMARY KEY,
		cylinder_id TEXT NOT NULL,
		company_id TEXT NOT NULL,
		opened_at TEXT NOT NULL,
		closed_at TEXT
	);
	-- CRITICAL: at most one open record per cylinder
	CREATE UNIQUE INDEX IF NOT EXISTS idx_custody_open
		ON custody_records(cylinder_id) WHERE closed_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_custody_cylinder
		ON custody_records(cylinder_id, opened_at);

	-- Check-in samples
	CREATE TABLE IF NOT EXISTS checkin_samples (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		contact_id TEXT,
		analysis_code TEXT NOT NULL,
		area TEXT,
		cylinder_number TEXT NOT NULL,
		cylinder_id TEXT,
		analysis_number TEXT NOT NULL UNIQUE,
		seq_year INTEGER NOT NULL,
		seq INTEGER NOT NULL,
		rushed INTEGER NOT NULL DEFAULT 0,
		customer_owned INTEGER NOT NULL DEFAULT 0,
		producer TEXT, well_name TEXT, meter_number TEXT,
		flow_rate TEXT, pressure TEXT, temperature TEXT, h2s TEXT,
		cost_code TEXT, remarks TEXT,
		checked_in_at TEXT NOT NULL,
		billing_ref TEXT,
		work_order_number TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		created_by TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_samples_status ON checkin_samples(status, checked_in_at);
	CREATE INDEX IF NOT EXISTS idx_samples_seq ON checkin_samples(seq_year, seq DESC);
	CREATE INDEX IF NOT EXISTS idx_samples_company_date ON checkin_samples(company_id, checked_in_at);

	-- Confirmed checkout batches
	CREATE TABLE IF NOT EXISTS checkout_batches (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		contact_id TEXT NOT NULL,
		cylinder_ids_json TEXT NOT NULL,
		numbers_json TEXT NOT NULL,
		confirmed_at TEXT NOT NULL,
		created_by TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_checkouts_confirmed ON checkout_batches(confirmed_at DESC);

	-- Work orders (fees stored as decimal strings)
	CREATE TABLE IF NOT EXISTS work_orders (
		number TEXT PRIMARY KEY,
		date TEXT NOT NULL,
		company_id TEXT NOT NULL,
		contact_id TEXT NOT NULL,
		mileage_fee TEXT NOT NULL DEFAULT '0',
		misc_fee TEXT NOT NULL DEFAULT '0',
		hourly_fee TEXT NOT NULL DEFAULT '0',
		status TEXT NOT NULL,
		created_by TEXT,
		seq_year INTEGER NOT NULL,
		seq INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_work_orders_seq ON work_orders(seq_year, seq DESC);
	CREATE INDEX IF NOT EXISTS idx_work_orders_date ON work_orders(date DESC);

	CREATE TABLE IF NOT EXISTS work_order_lines (
		id TEXT PRIMARY KEY,
		work_order_number TEXT NOT NULL,
		sample_id TEXT NOT NULL,
		analysis_number TEXT NOT NULL,
		analysis_code TEXT NOT NULL,
		description TEXT,
		cylinder_number TEXT,
		customer_owned INTEGER NOT NULL DEFAULT 0,
		rushed INTEGER NOT NULL DEFAULT 0,
		area TEXT, producer TEXT, well_name TEXT, meter_number TEXT,
		flow_rate TEXT, pressure TEXT, temperature TEXT, h2s TEXT,
		cost_code TEXT, remarks TEXT,
		base_rate TEXT NOT NULL,
		sample_fee TEXT NOT NULL,
		discount TEXT NOT NULL,
		price TEXT NOT NULL,
		checked_in_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_lines_order ON work_order_lines(work_order_number);

	-- Reference data
	CREATE TABLE IF NOT EXISTS companies (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS contacts (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		name TEXT NOT NULL,
		email TEXT,
		active INTEGER NOT NULL DEFAULT 1
	);
	CREATE INDEX IF NOT EXISTS idx_contacts_company ON contacts(company_id);

	CREATE TABLE IF NOT EXISTS price_rules (
		code TEXT PRIMARY KEY,
		description TEXT,
		standard_rate TEXT NOT NULL,
		rushed_rate TEXT NOT NULL,
		sample_fee TEXT NOT NULL DEFAULT '0',
		active INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS permissions (
		role_id TEXT NOT NULL,
		module_id TEXT NOT NULL,
		level TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		UNIQUE(role_id, module_id)
	);

	CREATE TABLE IF NOT EXISTS api_tokens (
		token TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		role_id TEXT NOT NULL,
		company_id TEXT NOT NULL DEFAULT ''
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func isUniqueViolation(err error) bool {
	if sqliteErr, ok := err.(sqlite3.Error); ok {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}

// =============================================================================
// custody.Registry
// =============================================================================

func (s *Store) CylinderByNumber(ctx context.Context, number string) (*custody.Cylinder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT id, number, active, owner_company_id FROM cylinders WHERE number = ?`,
		custody.NormalizeNumber(number))
	return scanCylinder(row)
}

func (s *Store) CylinderByID(ctx context.Context, id custody.CylinderID) (*custody.Cylinder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT id, number, active, owner_company_id FROM cylinders WHERE id = ?`, id)
	return scanCylinder(row)
}

func scanCylinder(row *sql.Row) (*custody.Cylinder, error) {
	var c custody.Cylinder
	var active int
	err := row.Scan(&c.ID, &c.Number, &active, &c.OwnerCompanyID)
	if err == sql.ErrNoRows {
		return nil, custody.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.Active = active != 0
	return &c, nil
}

// SaveCylinder upserts a catalog entry. Seeding and import surface.
func (s *Store) SaveCylinder(ctx context.Context, c custody.Cylinder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cylinders (id, number, active, owner_company_id)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			number = excluded.number,
			active = excluded.active,
			owner_company_id = excluded.owner_company_id`,
		c.ID, custody.NormalizeNumber(c.Number), boolToInt(c.Active), c.OwnerCompanyID)
	return err
}

// =============================================================================
// custody.LedgerStore
// =============================================================================

func (s *Store) OpenCustody(ctx context.Context, rec custody.CustodyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO custody_records (id, cylinder_id, company_id, opened_at, closed_at)
		VALUES (?, ?, ?, ?, NULL)`,
		rec.ID, rec.CylinderID, rec.CompanyID, rec.OpenedAt.Format(time.RFC3339))
	if err != nil && isUniqueViolation(err) {
		return custody.ErrConflict
	}
	return err
}

func (s *Store) FindOpenCustody(ctx context.Context, id custody.CylinderID) (*custody.CustodyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, cylinder_id, company_id, opened_at, closed_at
		FROM custody_records
		WHERE cylinder_id = ? AND closed_at IS NULL`, id)

	rec, err := scanCustodyRecord(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Store) CloseCustody(ctx context.Context, ids []custody.CylinderID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Ids with no open record match zero rows, which is exactly the
	// required silent skip.
	stmt, err := s.db.PrepareContext(ctx, `
		UPDATE custody_records SET closed_at = ?
		WHERE cylinder_id = ? AND closed_at IS NULL`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	closedAt := at.Format(time.RFC3339)
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, closedAt, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) CustodyHistory(ctx context.Context, id custody.CylinderID) ([]custody.CustodyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, cylinder_id, company_id, opened_at, closed_at
		FROM custody_records
		WHERE cylinder_id = ?
		ORDER BY opened_at ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []custody.CustodyRecord
	for rows.Next() {
		rec, err := scanCustodyRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func scanCustodyRecord(scan func(...any) error) (*custody.CustodyRecord, error) {
	var rec custody.CustodyRecord
	var openedAt string
	var closedAt sql.NullString
	if err := scan(&rec.ID, &rec.CylinderID, &rec.CompanyID, &openedAt, &closedAt); err != nil {
		return nil, err
	}

	t, err := time.Parse(time.RFC3339, openedAt)
	if err != nil {
		return nil, fmt.Errorf("bad opened_at %q: %w", openedAt, err)
	}
	rec.OpenedAt = t

	if closedAt.Valid {
		ct, err := time.Parse(time.RFC3339, closedAt.String)
		if err != nil {
			return nil, fmt.Errorf("bad closed_at %q: %w", closedAt.String, err)
		}
		rec.ClosedAt = &ct
	}
	return &rec, nil
}

// =============================================================================
// custody.CheckoutStore
// =============================================================================

func (s *Store) SaveCheckoutBatch(ctx context.Context, batch custody.CheckoutBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idsJSON, err := json.Marshal(batch.CylinderIDs)
	if err != nil {
		return err
	}
	numbersJSON, err := json.Marshal(batch.Numbers)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkout_batches
		(id, company_id, contact_id, cylinder_ids_json, numbers_json, confirmed_at, created_by)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		batch.ID, batch.CompanyID, batch.ContactID,
		string(idsJSON), string(numbersJSON),
		batch.ConfirmedAt.Format(time.RFC3339), batch.CreatedBy)
	return err
}

func (s *Store) ListCheckoutBatches(ctx context.Context) ([]custody.CheckoutBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, company_id, contact_id, cylinder_ids_json, numbers_json, confirmed_at, created_by
		FROM checkout_batches ORDER BY confirmed_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []custody.CheckoutBatch
	for rows.Next() {
		var b custody.CheckoutBatch
		var idsJSON, numbersJSON, confirmedAt string
		if err := rows.Scan(&b.ID, &b.CompanyID, &b.ContactID, &idsJSON, &numbersJSON, &confirmedAt, &b.CreatedBy); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(idsJSON), &b.CylinderIDs); err != nil {
			return nil, fmt.Errorf("batch %s: bad cylinder_ids_json: %w", b.ID, err)
		}
		if err := json.Unmarshal([]byte(numbersJSON), &b.Numbers); err != nil {
			return nil, fmt.Errorf("batch %s: bad numbers_json: %w", b.ID, err)
		}
		if t, err := time.Parse(time.RFC3339, confirmedAt); err == nil {
			b.ConfirmedAt = t
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// =============================================================================
// custody.SampleStore
// =============================================================================

const sampleColumns = `id, company_id, contact_id, analysis_code, area,
	cylinder_number, cylinder_id, analysis_number, rushed, customer_owned,
	producer, well_name, meter_number, flow_rate, pressure, temperature, h2s,
	cost_code, remarks, checked_in_at, billing_ref, work_order_number, status, created_by`

func (s *Store) SaveSample(ctx context.Context, sample custody.CheckInSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeSample(ctx, sample, false)
}

func (s *Store) UpdateSample(ctx context.Context, sample custody.CheckInSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeSample(ctx, sample, true)
}

func (s *Store) writeSample(ctx context.Context, sample custody.CheckInSample, mustExist bool) error {
	year, seq, _ := custody.ParseAnalysisNumber(sample.AnalysisNumber)

	if mustExist {
		var exists int
		err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM checkin_samples WHERE id = ?`, sample.ID).Scan(&exists)
		if err != nil {
			return err
		}
		if exists == 0 {
			return custody.ErrNotFound
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkin_samples (`+sampleColumns+`, seq_year, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			analysis_code = excluded.analysis_code,
			analysis_number = excluded.analysis_number,
			seq_year = excluded.seq_year,
			seq = excluded.seq,
			rushed = excluded.rushed,
			cost_code = excluded.cost_code,
			billing_ref = excluded.billing_ref,
			work_order_number = excluded.work_order_number,
			status = excluded.status`,
		sample.ID, sample.CompanyID, sample.ContactID, sample.AnalysisCode, sample.Area,
		sample.CylinderNumber, sample.CylinderID, sample.AnalysisNumber,
		boolToInt(sample.Rushed), boolToInt(sample.CustomerOwned),
		sample.Producer, sample.WellName, sample.MeterNumber, sample.FlowRate,
		sample.Pressure, sample.Temperature, sample.H2S, sample.CostCode, sample.Remarks,
		sample.CheckedInAt.Format(time.RFC3339), sample.BillingRef,
		sample.WorkOrderNumber, sample.Status, sample.CreatedBy,
		year, seq)
	return err
}

func (s *Store) DeleteSample(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM checkin_samples WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return custody.ErrNotFound
	}
	return nil
}

func (s *Store) ListPendingSamples(ctx context.Context) ([]custody.CheckInSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sampleColumns+` FROM checkin_samples
		WHERE status = ? ORDER BY checked_in_at ASC`, custody.SamplePending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []custody.CheckInSample
	for rows.Next() {
		sample, err := scanSample(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *sample)
	}
	return out, rows.Err()
}

func scanSample(scan func(...any) error) (*custody.CheckInSample, error) {
	var sm custody.CheckInSample
	var rushed, customerOwned int
	var checkedInAt string
	err := scan(&sm.ID, &sm.CompanyID, &sm.ContactID, &sm.AnalysisCode, &sm.Area,
		&sm.CylinderNumber, &sm.CylinderID, &sm.AnalysisNumber, &rushed, &customerOwned,
		&sm.Producer, &sm.WellName, &sm.MeterNumber, &sm.FlowRate,
		&sm.Pressure, &sm.Temperature, &sm.H2S, &sm.CostCode, &sm.Remarks,
		&checkedInAt, &sm.BillingRef, &sm.WorkOrderNumber, &sm.Status, &sm.CreatedBy)
	if err != nil {
		return nil, err
	}
	sm.Rushed = rushed != 0
	sm.CustomerOwned = customerOwned != 0
	if t, err := time.Parse(time.RFC3339, checkedInAt); err == nil {
		sm.CheckedInAt = t
	}
	return &sm, nil
}

func (s *Store) MaxAnalysisSequence(ctx context.Context, year int) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var max int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM checkin_samples WHERE seq_year = ?`, year).Scan(&max)
	return max, err
}

// =============================================================================
// workorder.Store
// =============================================================================

func (s *Store) CreateWorkOrder(ctx context.Context, h workorder.Header, lines []workorder.Line) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var year, seq int
	fmt.Sscanf(h.Number, "WO-%4d-%5d", &year, &seq)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO work_orders
		(number, date, company_id, contact_id, mileage_fee, misc_fee, hourly_fee, status, created_by, seq_year, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.Number, h.Date.Format(time.RFC3339), h.CompanyID, h.ContactID,
		h.MileageFee.String(), h.MiscFee.String(), h.HourlyFee.String(),
		h.Status, h.CreatedBy, year, seq)
	if err != nil {
		if isUniqueViolation(err) {
			return custody.ErrConflict
		}
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO work_order_lines
		(id, work_order_number, sample_id, analysis_number, analysis_code, description,
		 cylinder_number, customer_owned, rushed,
		 area, producer, well_name, meter_number, flow_rate, pressure, temperature, h2s,
		 cost_code, remarks, base_rate, sample_fee, discount, price, checked_in_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, l := range lines {
		_, err := stmt.ExecContext(ctx,
			l.ID, l.WorkOrderNumber, l.SampleID, l.AnalysisNumber, l.AnalysisCode, l.Description,
			l.CylinderNumber, boolToInt(l.CustomerOwned), boolToInt(l.Rushed),
			l.Area, l.Producer, l.WellName, l.MeterNumber, l.FlowRate,
			l.Pressure, l.Temperature, l.H2S, l.CostCode, l.Remarks,
			l.BaseRate.String(), l.SampleFee.String(), l.Discount.String(), l.Price.String(),
			l.CheckedInAt.Format(time.RFC3339))
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) WorkOrderByNumber(ctx context.Context, number string) (*workorder.Header, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT number, date, company_id, contact_id, mileage_fee, misc_fee, hourly_fee, status, created_by
		FROM work_orders WHERE number = ?`, number)
	h, err := scanHeader(row.Scan)
	if err == sql.ErrNoRows {
		return nil, custody.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (s *Store) ListWorkOrders(ctx context.Context) ([]workorder.Header, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT number, date, company_id, contact_id, mileage_fee, misc_fee, hourly_fee, status, created_by
		FROM work_orders ORDER BY date DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []workorder.Header
	for rows.Next() {
		h, err := scanHeader(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *h)
	}
	return out, rows.Err()
}

func scanHeader(scan func(...any) error) (*workorder.Header, error) {
	var h workorder.Header
	var date, mileage, misc, hourly string
	if err := scan(&h.Number, &date, &h.CompanyID, &h.ContactID, &mileage, &misc, &hourly, &h.Status, &h.CreatedBy); err != nil {
		return nil, err
	}
	if t, err := time.Parse(time.RFC3339, date); err == nil {
		h.Date = t
	}
	var err error
	if h.MileageFee, err = decimal.NewFromString(mileage); err != nil {
		return nil, fmt.Errorf("bad mileage_fee %q: %w", mileage, err)
	}
	if h.MiscFee, err = decimal.NewFromString(misc); err != nil {
		return nil, fmt.Errorf("bad misc_fee %q: %w", misc, err)
	}
	if h.HourlyFee, err = decimal.NewFromString(hourly); err != nil {
		return nil, fmt.Errorf("bad hourly_fee %q: %w", hourly, err)
	}
	return &h, nil
}

const lineColumns = `id, work_order_number, sample_id, analysis_number, analysis_code, description,
	cylinder_number, customer_owned, rushed,
	area, producer, well_name, meter_number, flow_rate, pressure, temperature, h2s,
	cost_code, remarks, base_rate, sample_fee, discount, price, checked_in_at`

func (s *Store) LinesByNumber(ctx context.Context, number string) ([]workorder.Line, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+lineColumns+` FROM work_order_lines WHERE work_order_number = ? ORDER BY analysis_number`, number)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []workorder.Line
	for rows.Next() {
		l, err := scanLine(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

func (s *Store) LineByID(ctx context.Context, id string) (*workorder.Line, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+lineColumns+` FROM work_order_lines WHERE id = ?`, id)
	l, err := scanLine(row.Scan)
	if err == sql.ErrNoRows {
		return nil, custody.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return l, nil
}

func scanLine(scan func(...any) error) (*workorder.Line, error) {
	var l workorder.Line
	var customerOwned, rushed int
	var baseRate, sampleFee, discount, price, checkedInAt string
	err := scan(&l.ID, &l.WorkOrderNumber, &l.SampleID, &l.AnalysisNumber, &l.AnalysisCode, &l.Description,
		&l.CylinderNumber, &customerOwned, &rushed,
		&l.Area, &l.Producer, &l.WellName, &l.MeterNumber, &l.FlowRate,
		&l.Pressure, &l.Temperature, &l.H2S, &l.CostCode, &l.Remarks,
		&baseRate, &sampleFee, &discount, &price, &checkedInAt)
	if err != nil {
		return nil, err
	}
	l.CustomerOwned = customerOwned != 0
	l.Rushed = rushed != 0
	if l.BaseRate, err = decimal.NewFromString(baseRate); err != nil {
		return nil, fmt.Errorf("bad base_rate %q: %w", baseRate, err)
	}
	if l.SampleFee, err = decimal.NewFromString(sampleFee); err != nil {
		return nil, fmt.Errorf("bad sample_fee %q: %w", sampleFee, err)
	}
	if l.Discount, err = decimal.NewFromString(discount); err != nil {
		return nil, fmt.Errorf("bad discount %q: %w", discount, err)
	}
	if l.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("bad price %q: %w", price, err)
	}
	if t, err := time.Parse(time.RFC3339, checkedInAt); err == nil {
		l.CheckedInAt = t
	}
	return &l, nil
}

func (s *Store) UpdateWorkOrderFees(ctx context.Context, number string, mileage, misc, hourly decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE work_orders SET mileage_fee = ?, misc_fee = ?, hourly_fee = ? WHERE number = ?`,
		mileage.String(), misc.String(), hourly.String(), number)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return custody.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateWorkOrderStatus(ctx context.Context, number string, status workorder.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE work_orders SET status = ? WHERE number = ?`, status, number)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return custody.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateLine(ctx context.Context, l workorder.Line) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE work_order_lines SET
			analysis_code = ?, rushed = ?, cost_code = ?,
			base_rate = ?, sample_fee = ?, discount = ?, price = ?
		WHERE id = ?`,
		l.AnalysisCode, boolToInt(l.Rushed), l.CostCode,
		l.BaseRate.String(), l.SampleFee.String(), l.Discount.String(), l.Price.String(),
		l.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return custody.ErrNotFound
	}
	return nil
}

func (s *Store) WorkOrderNumberExists(ctx context.Context, number string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM work_orders WHERE number = ?`, number).Scan(&n)
	return n > 0, err
}

func (s *Store) MaxWorkOrderSequence(ctx context.Context, year int) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var max int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM work_orders WHERE seq_year = ?`, year).Scan(&max)
	return max, err
}

func (s *Store) MonthlyAnalysisCount(ctx context.Context, companyID custody.CompanyID, ref time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	since := ref.AddDate(0, -1, 0)
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM checkin_samples
		WHERE company_id = ? AND checked_in_at >= ? AND checked_in_at <= ?`,
		companyID, since.Format(time.RFC3339), ref.Format(time.RFC3339)).Scan(&n)
	return n, err
}

// =============================================================================
// catalog.Source
// =============================================================================

func (s *Store) ListCompanies(ctx context.Context) ([]catalog.Company, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id, name, active FROM companies`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []catalog.Company
	for rows.Next() {
		var c catalog.Company
		var active int
		if err := rows.Scan(&c.ID, &c.Name, &active); err != nil {
			return nil, err
		}
		c.Active = active != 0
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) ListContacts(ctx context.Context) ([]catalog.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id, company_id, name, email, active FROM contacts`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []catalog.Contact
	for rows.Next() {
		var c catalog.Contact
		var active int
		if err := rows.Scan(&c.ID, &c.CompanyID, &c.Name, &c.Email, &active); err != nil {
			return nil, err
		}
		c.Active = active != 0
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) ListPriceRules(ctx context.Context) ([]pricing.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT code, description, standard_rate, rushed_rate, sample_fee, active FROM price_rules`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []pricing.Rule
	for rows.Next() {
		var r pricing.Rule
		var standard, rushed, fee string
		var active int
		if err := rows.Scan(&r.Code, &r.Description, &standard, &rushed, &fee, &active); err != nil {
			return nil, err
		}
		if r.StandardRate, err = decimal.NewFromString(standard); err != nil {
			return nil, fmt.Errorf("rule %s: bad standard_rate %q: %w", r.Code, standard, err)
		}
		if r.RushedRate, err = decimal.NewFromString(rushed); err != nil {
			return nil, fmt.Errorf("rule %s: bad rushed_rate %q: %w", r.Code, rushed, err)
		}
		if r.SampleFee, err = decimal.NewFromString(fee); err != nil {
			return nil, fmt.Errorf("rule %s: bad sample_fee %q: %w", r.Code, fee, err)
		}
		r.Active = active != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// SavePriceRules upserts imported price rules (price-book import).
func (s *Store) SavePriceRules(ctx context.Context, rules []pricing.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO price_rules (code, description, standard_rate, rushed_rate, sample_fee, active)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET
			description = excluded.description,
			standard_rate = excluded.standard_rate,
			rushed_rate = excluded.rushed_rate,
			sample_fee = excluded.sample_fee,
			active = excluded.active`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range rules {
		if _, err := stmt.ExecContext(ctx,
			r.Code, r.Description, r.StandardRate.String(), r.RushedRate.String(),
			r.SampleFee.String(), boolToInt(r.Active)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) ListPermissions(ctx context.Context) ([]access.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT role_id, module_id, level, active FROM permissions`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []access.Permission
	for rows.Next() {
		var p access.Permission
		var active int
		if err := rows.Scan(&p.RoleID, &p.ModuleID, &p.Level, &active); err != nil {
			return nil, err
		}
		p.Active = active != 0
		out = append(out, p)
	}
	return out, rows.Err()
}

// SavePermission upserts one (role, module) row. Seeding surface.
func (s *Store) SavePermission(ctx context.Context, p access.Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO permissions (role_id, module_id, level, active)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(role_id, module_id) DO UPDATE SET
			level = excluded.level, active = excluded.active`,
		p.RoleID, p.ModuleID, p.Level, boolToInt(p.Active))
	return err
}

// =============================================================================
// access.IdentitySource
// =============================================================================

func (s *Store) IdentityByToken(ctx context.Context, token string) (*access.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var id access.Identity
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, role_id, company_id FROM api_tokens WHERE token = ?`,
		token).Scan(&id.UserID, &id.RoleID, &id.CompanyID)
	if err == sql.ErrNoRows {
		return nil, access.ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// SaveToken registers a bearer token for a user. Seeding surface.
func (s *Store) SaveToken(ctx context.Context, token string, id access.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_tokens (token, user_id, role_id, company_id)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(token) DO UPDATE SET
			user_id = excluded.user_id,
			role_id = excluded.role_id,
			company_id = excluded.company_id`,
		token, id.UserID, id.RoleID, id.CompanyID)
	return err
}

// SaveCompany upserts a company reference row. Seeding surface.
func (s *Store) SaveCompany(ctx context.Context, c catalog.Company) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO companies (id, name, active) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, active = excluded.active`,
		c.ID, c.Name, boolToInt(c.Active))
	return err
}

// SaveContact upserts a contact reference row. Seeding surface.
func (s *Store) SaveContact(ctx context.Context, c catalog.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contacts (id, company_id, name, email, active) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			company_id = excluded.company_id, name = excluded.name,
			email = excluded.email, active = excluded.active`,
		c.ID, c.CompanyID, c.Name, c.Email, boolToInt(c.Active))
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
