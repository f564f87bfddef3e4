package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"complyline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func (r Repo) InsertAgent(ctx context.Context, tx *sql.Tx, a domain.Agent) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO agents(id,npn,first_name,last_name,email,status,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		a.ID, nullable(a.NPN), a.FirstName, a.LastName, nullable(a.Email), a.Status, a.CreatedAt, a.UpdatedAt)
	return err
}

func (r Repo) GetAgent(ctx context.Context, id string) (domain.Agent, error) {
	var a domain.Agent
	var npn, email sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,npn,first_name,last_name,email,status,created_at,updated_at FROM agents WHERE id=?`, id).
		Scan(&a.ID, &npn, &a.FirstName, &a.LastName, &email, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if npn.Valid {
		a.NPN = npn.String
	}
	if email.Valid {
		a.Email = email.String
	}
	return a, nil
}

func (r Repo) ListAgents(ctx context.Context, status string) ([]domain.Agent, error) {
	query := `SELECT id,npn,first_name,last_name,email,status,created_at,updated_at FROM agents`
	var args []any
	if status != "" {
		query += ` WHERE status=?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Agent
	for rows.Next() {
		var a domain.Agent
		var npn, email sql.NullString
		if err := rows.Scan(&a.ID, &npn, &a.FirstName, &a.LastName, &email, &a.Status, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		if npn.Valid {
			a.NPN = npn.String
		}
		if email.Valid {
			a.Email = email.String
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) UpdateAgentStatus(ctx context.Context, tx *sql.Tx, id, status, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE agents SET status=?, updated_at=? WHERE id=?`, status, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanLicense(scan func(dest ...any) error) (domain.License, error) {
	var l domain.License
	var loa, expiration sql.NullString
	err := scan(&l.ID, &l.AgentID, &l.State, &l.LicenseNumber, &loa, &l.Status, &expiration, &l.CreatedAt, &l.UpdatedAt)
	if err == sql.ErrNoRows {
		return l, ErrNotFound
	}
	if err != nil {
		return l, err
	}
	if loa.Valid {
		l.LineOfAuthority = loa.String
	}
	if expiration.Valid {
		l.ExpirationDate = &expiration.String
	}
	return l, nil
}

func (r Repo) InsertLicense(ctx context.Context, tx *sql.Tx, l domain.License) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO licenses(id,agent_id,state,license_number,line_of_authority,status,expiration_date,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?)`,
		l.ID, l.AgentID, l.State, l.LicenseNumber, nullable(l.LineOfAuthority), l.Status, nullableStringPtr(l.ExpirationDate), l.CreatedAt, l.UpdatedAt)
	return err
}

func (r Repo) UpdateLicense(ctx context.Context, tx *sql.Tx, l domain.License) error {
	res, err := tx.ExecContext(ctx, `UPDATE licenses SET state=?, license_number=?, line_of_authority=?, status=?, expiration_date=?, updated_at=? WHERE id=?`,
		l.State, l.LicenseNumber, nullable(l.LineOfAuthority), l.Status, nullableStringPtr(l.ExpirationDate), l.UpdatedAt, l.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const licenseColumns = `id,agent_id,state,license_number,line_of_authority,status,expiration_date,created_at,updated_at`

func (r Repo) GetLicense(ctx context.Context, id string) (domain.License, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+licenseColumns+` FROM licenses WHERE id=?`, id)
	return scanLicense(row.Scan)
}

type LicenseFilters struct {
	AgentID string
	Status  string
}

func (r Repo) ListLicenses(ctx context.Context, f LicenseFilters) ([]domain.License, error) {
	var clauses []string
	var args []any
	if f.AgentID != "" {
		clauses = append(clauses, "agent_id=?")
		args = append(args, f.AgentID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	query := `SELECT ` + licenseColumns + ` FROM licenses`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.License
	for rows.Next() {
		l, err := scanLicense(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}

func scanContract(scan func(dest ...any) error) (domain.Contract, error) {
	var c domain.Contract
	var writing, notes, expiration sql.NullString
	err := scan(&c.ID, &c.AgentID, &c.CarrierName, &writing, &c.Status, &notes, &expiration, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	if writing.Valid {
		c.WritingNumber = &writing.String
	}
	if notes.Valid {
		c.CorrectionNotes = &notes.String
	}
	if expiration.Valid {
		c.ExpirationDate = &expiration.String
	}
	return c, nil
}

const contractColumns = `id,agent_id,carrier_name,writing_number,status,correction_notes,expiration_date,created_at,updated_at`

func (r Repo) InsertContract(ctx context.Context, tx *sql.Tx, c domain.Contract) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO contracts(id,agent_id,carrier_name,writing_number,status,correction_notes,expiration_date,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?)`,
		c.ID, c.AgentID, c.CarrierName, nullableStringPtr(c.WritingNumber), c.Status, nullableStringPtr(c.CorrectionNotes), nullableStringPtr(c.ExpirationDate), c.CreatedAt, c.UpdatedAt)
	return err
}

func (r Repo) UpdateContract(ctx context.Context, tx *sql.Tx, c domain.Contract) error {
	res, err := tx.ExecContext(ctx, `UPDATE contracts SET carrier_name=?, writing_number=?, status=?, correction_notes=?, expiration_date=?, updated_at=? WHERE id=?`,
		c.CarrierName, nullableStringPtr(c.WritingNumber), c.Status, nullableStringPtr(c.CorrectionNotes), nullableStringPtr(c.ExpirationDate), c.UpdatedAt, c.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetContract(ctx context.Context, id string) (domain.Contract, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+contractColumns+` FROM contracts WHERE id=?`, id)
	return scanContract(row.Scan)
}

type ContractFilters struct {
	AgentID string
	Status  string
}

func (r Repo) ListContracts(ctx context.Context, f ContractFilters) ([]domain.Contract, error) {
	var clauses []string
	var args []any
	if f.AgentID != "" {
		clauses = append(clauses, "agent_id=?")
		args = append(args, f.AgentID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	query := `SELECT ` + contractColumns + ` FROM contracts`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Contract
	for rows.Next() {
		c, err := scanContract(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) InsertDocument(ctx context.Context, tx *sql.Tx, d domain.Document) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO documents(id,agent_id,type,file_name,uploaded_by,uploaded_at) VALUES (?,?,?,?,?,?)`,
		d.ID, d.AgentID, d.Type, nullable(d.FileName), d.UploadedBy, d.UploadedAt)
	return err
}

func (r Repo) ListDocuments(ctx context.Context, agentID string) ([]domain.Document, error) {
	query := `SELECT id,agent_id,type,file_name,uploaded_by,uploaded_at FROM documents`
	var args []any
	if agentID != "" {
		query += ` WHERE agent_id=?`
		args = append(args, agentID)
	}
	query += ` ORDER BY uploaded_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Document
	for rows.Next() {
		var d domain.Document
		var fileName sql.NullString
		if err := rows.Scan(&d.ID, &d.AgentID, &d.Type, &fileName, &d.UploadedBy, &d.UploadedAt); err != nil {
			return nil, err
		}
		if fileName.Valid {
			d.FileName = fileName.String
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// LatestEventsFrom returns events newest first, optionally filtered and
// paginated by a descending id cursor.
func (r Repo) LatestEventsFrom(ctx context.Context, limit int, cursor int64, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events WHERE id>? ORDER BY id ASC LIMIT ?`
	return r.queryEvents(ctx, query, cursor, limit)
}

// LatestEventID returns the most recent event ID.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if entityID.Valid {
			e.EntityID = entityID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
