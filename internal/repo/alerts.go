package repo

import (
	"context"
	"database/sql"
	"strings"

	"complyline/internal/domain"
)

const alertColumns = `id,agent_id,type,severity,title,message,due_date,is_resolved,resolved_at,related_entity_type,related_entity_id,created_at`

func scanAlert(scan func(dest ...any) error) (domain.Alert, error) {
	var a domain.Alert
	var resolved int
	var message, dueDate, resolvedAt sql.NullString
	err := scan(&a.ID, &a.AgentID, &a.Type, &a.Severity, &a.Title, &message, &dueDate, &resolved, &resolvedAt, &a.RelatedEntityType, &a.RelatedEntityID, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	a.IsResolved = resolved != 0
	if message.Valid {
		a.Message = message.String
	}
	if dueDate.Valid {
		a.DueDate = &dueDate.String
	}
	if resolvedAt.Valid {
		a.ResolvedAt = &resolvedAt.String
	}
	return a, nil
}

func (r Repo) InsertAlert(ctx context.Context, tx *sql.Tx, a domain.Alert) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO alerts(id,agent_id,type,severity,title,message,due_date,is_resolved,resolved_at,related_entity_type,related_entity_id,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.AgentID, a.Type, a.Severity, a.Title, nullable(a.Message), nullableStringPtr(a.DueDate), boolToInt(a.IsResolved), nullableStringPtr(a.ResolvedAt), a.RelatedEntityType, a.RelatedEntityID, a.CreatedAt)
	return err
}

// ResolveAlert marks one alert resolved. Resolving an already-resolved alert
// is a no-op at the store level.
func (r Repo) ResolveAlert(ctx context.Context, tx *sql.Tx, id, resolvedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE alerts SET is_resolved=1, resolved_at=? WHERE id=?`, resolvedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetAlert(ctx context.Context, id string) (domain.Alert, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id=?`, id)
	return scanAlert(row.Scan)
}

type AlertFilters struct {
	AgentID  string
	Type     string
	Severity string
	Resolved *bool
	Limit    int
}

func (r Repo) ListAlerts(ctx context.Context, f AlertFilters) ([]domain.Alert, error) {
	var clauses []string
	var args []any
	if f.AgentID != "" {
		clauses = append(clauses, "agent_id=?")
		args = append(args, f.AgentID)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.Severity != "" {
		clauses = append(clauses, "severity=?")
		args = append(args, f.Severity)
	}
	if f.Resolved != nil {
		clauses = append(clauses, "is_resolved=?")
		args = append(args, boolToInt(*f.Resolved))
	}
	query := `SELECT ` + alertColumns + ` FROM alerts`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Alert
	for rows.Next() {
		a, err := scanAlert(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
