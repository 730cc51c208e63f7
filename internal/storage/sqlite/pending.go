package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"scoreledger/internal/domain"
)

const pendingColumns = `id, item_index, student_name, student_no, class, reason, teacher_name, subject, others,
	points, batch_id, raw_data, unbound_reason, match_suggestions, status, score_id, created_at, resolved_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// InsertPending appends a pending record. Duplicate content is accepted.
func (s *Store) InsertPending(ctx context.Context, c domain.Candidate, unboundReason string, suggestions []int64) (domain.PendingRecord, error) {
	if suggestions == nil {
		suggestions = []int64{}
	}
	suggestionsJSON, err := json.Marshal(suggestions)
	if err != nil {
		return domain.PendingRecord{}, err
	}
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	points := c.Points
	if points.IsZero() {
		points = domain.DefaultPoints
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.PendingRecord{}, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO pending_scores (item_index, student_name, student_no, class, reason, teacher_name, subject, others,
			points, batch_id, raw_data, unbound_reason, match_suggestions, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'pending', ?)`,
		c.Index, c.StudentNameRaw, c.StudentIDRaw, c.ClassRaw, c.Reason, c.TeacherNameRaw, c.SubjectRaw, c.Notes,
		points.String(), c.BatchID, string(c.Raw), unboundReason, string(suggestionsJSON), createdAt,
	)
	if err != nil {
		return domain.PendingRecord{}, fmt.Errorf("inserting pending record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.PendingRecord{}, err
	}
	if err := s.logAction(ctx, tx, domain.ActionEnqueuePending, map[string]any{
		"pending_id": id,
		"reason":     unboundReason,
		"batch_id":   c.BatchID,
	}); err != nil {
		return domain.PendingRecord{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.PendingRecord{}, err
	}

	c.Points = points
	c.CreatedAt = createdAt
	return domain.PendingRecord{
		ID:            id,
		Candidate:     c,
		Status:        domain.PendingStatusPending,
		UnboundReason: unboundReason,
		Suggestions:   suggestions,
		CreatedAt:     createdAt,
	}, nil
}

func (s *Store) GetPending(ctx context.Context, id int64) (domain.PendingRecord, error) {
	return getPending(ctx, s.db, id)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getPending(ctx context.Context, q queryRower, id int64) (domain.PendingRecord, error) {
	row := q.QueryRowContext(ctx, `SELECT `+pendingColumns+` FROM pending_scores WHERE id = ?`, id)
	rec, err := scanPending(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PendingRecord{}, &domain.NotFoundError{ID: id}
	}
	return rec, err
}

// ListPending returns records oldest first. An empty status lists all.
func (s *Store) ListPending(ctx context.Context, status domain.PendingStatus) ([]domain.PendingRecord, error) {
	query := `SELECT ` + pendingColumns + ` FROM pending_scores`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PendingRecord
	for rows.Next() {
		rec, err := scanPending(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) CountPending(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_scores WHERE status = 'pending'`).Scan(&n)
	return n, err
}

// ResolvePending writes exactly one ledger entry for the record and marks
// it resolved, in one transaction. The status flip is a check-and-set on
// status = 'pending'; if it matches no row the ledger insert is rolled back.
func (s *Store) ResolvePending(ctx context.Context, id, studentID int64, date string) (domain.LedgerEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	defer tx.Rollback()

	rec, err := getPending(ctx, tx, id)
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	if rec.Status != domain.PendingStatusPending {
		return domain.LedgerEntry{}, &domain.NotFoundError{ID: id, Status: rec.Status}
	}

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM students WHERE id = ?`, studentID).Scan(&exists); err != nil {
		return domain.LedgerEntry{}, err
	}
	if exists == 0 {
		return domain.LedgerEntry{}, &domain.ReferentialError{Entity: "student", ID: studentID}
	}

	entry, err := s.insertScore(ctx, tx, domain.NewLedgerEntry{
		StudentID:   studentID,
		Points:      rec.Candidate.Points,
		Reason:      rec.Candidate.Reason,
		TeacherName: rec.Candidate.TeacherNameRaw,
		Date:        date,
		BatchID:     rec.Candidate.BatchID,
	})
	if err != nil {
		return domain.LedgerEntry{}, err
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE pending_scores SET status = 'resolved', score_id = ?, resolved_at = ?
		 WHERE id = ? AND status = 'pending'`,
		entry.ID, s.now(), id,
	)
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return domain.LedgerEntry{}, err
	} else if n == 0 {
		return domain.LedgerEntry{}, s.terminalError(ctx, tx, id)
	}

	if err := s.logAction(ctx, tx, domain.ActionResolvePending, map[string]any{
		"pending_id": id,
		"student_id": studentID,
		"score_id":   entry.ID,
	}); err != nil {
		return domain.LedgerEntry{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.LedgerEntry{}, err
	}
	return entry, nil
}

// RejectPending marks the record rejected. Nothing is written to the ledger.
func (s *Store) RejectPending(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE pending_scores SET status = 'rejected', resolved_at = ? WHERE id = ? AND status = 'pending'`,
		s.now(), id,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return s.terminalError(ctx, tx, id)
	}

	if err := s.logAction(ctx, tx, domain.ActionRejectPending, map[string]any{"pending_id": id}); err != nil {
		return err
	}
	return tx.Commit()
}

// terminalError explains why a check-and-set on id matched nothing.
func (s *Store) terminalError(ctx context.Context, q queryRower, id int64) error {
	rec, err := getPending(ctx, q, id)
	if err != nil {
		return err
	}
	return &domain.NotFoundError{ID: id, Status: rec.Status}
}

func scanPending(row rowScanner) (domain.PendingRecord, error) {
	var (
		rec         domain.PendingRecord
		c           domain.Candidate
		points      string
		raw         string
		suggestions string
		status      string
		scoreID     sql.NullInt64
		resolvedAt  sql.NullTime
	)
	err := row.Scan(
		&rec.ID, &c.Index, &c.StudentNameRaw, &c.StudentIDRaw, &c.ClassRaw, &c.Reason, &c.TeacherNameRaw,
		&c.SubjectRaw, &c.Notes, &points, &c.BatchID, &raw, &rec.UnboundReason, &suggestions, &status,
		&scoreID, &rec.CreatedAt, &resolvedAt,
	)
	if err != nil {
		return domain.PendingRecord{}, err
	}

	if c.Points, err = decimal.NewFromString(points); err != nil {
		return domain.PendingRecord{}, fmt.Errorf("pending %d has invalid points %q: %w", rec.ID, points, err)
	}
	if raw != "" {
		c.Raw = json.RawMessage(raw)
	}
	if suggestions != "" {
		if err := json.Unmarshal([]byte(suggestions), &rec.Suggestions); err != nil {
			return domain.PendingRecord{}, fmt.Errorf("pending %d has invalid suggestions: %w", rec.ID, err)
		}
	}
	c.CreatedAt = rec.CreatedAt
	rec.Candidate = c
	rec.Status = domain.PendingStatus(status)
	rec.LedgerEntryID = scoreID.Int64
	if resolvedAt.Valid {
		t := resolvedAt.Time
		rec.ResolvedAt = &t
	}
	return rec, nil
}
