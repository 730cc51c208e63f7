package sqlite

import (
	"context"
	"time"
)

type AuditEntry struct {
	ID        int64
	Action    string
	Details   string
	CreatedAt time.Time
}

func (s *Store) LogAction(ctx context.Context, action string, details any) error {
	return s.logAction(ctx, s.db, action, details)
}

// ListLogs returns audit rows for action, oldest first. An empty action
// returns every row.
func (s *Store) ListLogs(ctx context.Context, action string) ([]AuditEntry, error) {
	query := `SELECT id, action, details, created_at FROM logs`
	var args []any
	if action != "" {
		query += ` WHERE action = ?`
		args = append(args, action)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.Action, &e.Details, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
