package repo

import (
	"context"
	"database/sql"

	"complyline/internal/domain"
)

const checklistColumns = `id,agent_id,item_key,name,is_completed,completed_by,completed_at,notes,created_at`

func scanChecklistItem(scan func(dest ...any) error) (domain.ChecklistItem, error) {
	var it domain.ChecklistItem
	var completed int
	var completedBy, completedAt, notes sql.NullString
	err := scan(&it.ID, &it.AgentID, &it.ItemKey, &it.Name, &completed, &completedBy, &completedAt, &notes, &it.CreatedAt)
	if err == sql.ErrNoRows {
		return it, ErrNotFound
	}
	if err != nil {
		return it, err
	}
	it.IsCompleted = completed != 0
	if completedBy.Valid {
		it.CompletedBy = &completedBy.String
	}
	if completedAt.Valid {
		it.CompletedAt = &completedAt.String
	}
	if notes.Valid {
		it.Notes = &notes.String
	}
	return it, nil
}

func (r Repo) InsertChecklistItem(ctx context.Context, tx *sql.Tx, it domain.ChecklistItem) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO checklist_items(id,agent_id,item_key,name,is_completed,completed_by,completed_at,notes,created_at)
VALUES (?,?,?,?,?,?,?,?,?)`,
		it.ID, it.AgentID, it.ItemKey, it.Name, boolToInt(it.IsCompleted), nullableStringPtr(it.CompletedBy), nullableStringPtr(it.CompletedAt), nullableStringPtr(it.Notes), it.CreatedAt)
	return err
}

// UpdateChecklistItem writes completion state. It never clears a completion;
// administrative corrections go through direct SQL, not this store.
func (r Repo) UpdateChecklistItem(ctx context.Context, tx *sql.Tx, it domain.ChecklistItem) error {
	res, err := tx.ExecContext(ctx, `UPDATE checklist_items SET is_completed=?, completed_by=?, completed_at=?, notes=? WHERE id=?`,
		boolToInt(it.IsCompleted), nullableStringPtr(it.CompletedBy), nullableStringPtr(it.CompletedAt), nullableStringPtr(it.Notes), it.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetChecklistItem(ctx context.Context, id string) (domain.ChecklistItem, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+checklistColumns+` FROM checklist_items WHERE id=?`, id)
	return scanChecklistItem(row.Scan)
}

// ListChecklistItems returns an agent's checklist in seed order.
func (r Repo) ListChecklistItems(ctx context.Context, agentID string) ([]domain.ChecklistItem, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+checklistColumns+` FROM checklist_items WHERE agent_id=? ORDER BY created_at ASC, rowid ASC`, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ChecklistItem
	for rows.Next() {
		it, err := scanChecklistItem(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	return res, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
