package sqlite

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"scoreledger/internal/domain"
)

// CreateEntry writes one ledger row and its audit row atomically. A student
// id that does not exist yields *domain.ReferentialError and nothing is
// written.
func (s *Store) CreateEntry(ctx context.Context, in domain.NewLedgerEntry) (domain.LedgerEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	defer tx.Rollback()

	entry, err := s.insertScore(ctx, tx, in)
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	if err := s.logAction(ctx, tx, domain.ActionAddScore, map[string]any{
		"score_id":   entry.ID,
		"student_id": entry.StudentID,
		"points":     entry.Points.String(),
		"batch_id":   entry.BatchID,
	}); err != nil {
		return domain.LedgerEntry{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.LedgerEntry{}, err
	}
	return entry, nil
}

func (s *Store) insertScore(ctx context.Context, ex execer, in domain.NewLedgerEntry) (domain.LedgerEntry, error) {
	createdAt := s.now()
	res, err := ex.ExecContext(ctx,
		`INSERT INTO scores (student_id, points, reason, teacher_name, date, batch_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		in.StudentID, in.Points.String(), in.Reason, in.TeacherName, in.Date, in.BatchID, createdAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return domain.LedgerEntry{}, &domain.ReferentialError{Entity: "student", ID: in.StudentID}
		}
		return domain.LedgerEntry{}, fmt.Errorf("inserting score: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	return domain.LedgerEntry{
		ID:          id,
		StudentID:   in.StudentID,
		Points:      in.Points,
		Reason:      in.Reason,
		TeacherName: in.TeacherName,
		Date:        in.Date,
		BatchID:     in.BatchID,
		CreatedAt:   createdAt,
	}, nil
}

// ListEntries returns ledger rows, oldest first. studentID 0 lists all.
func (s *Store) ListEntries(ctx context.Context, studentID int64) ([]domain.LedgerEntry, error) {
	query := `SELECT id, student_id, points, reason, teacher_name, date, batch_id, created_at FROM scores`
	var args []any
	if studentID != 0 {
		query += ` WHERE student_id = ?`
		args = append(args, studentID)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var (
			e      domain.LedgerEntry
			points string
		)
		if err := rows.Scan(&e.ID, &e.StudentID, &points, &e.Reason, &e.TeacherName, &e.Date, &e.BatchID, &e.CreatedAt); err != nil {
			return nil, err
		}
		if e.Points, err = decimal.NewFromString(points); err != nil {
			return nil, fmt.Errorf("score %d has invalid points %q: %w", e.ID, points, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// StudentTotals sums each student's ledger points. Students without records
// are included with a zero total. Sums are exact decimals.
func (s *Store) StudentTotals(ctx context.Context) ([]domain.StudentTotal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT st.id, st.student_id, st.name, st.class, sc.points
		 FROM students st LEFT JOIN scores sc ON sc.student_id = st.id
		 ORDER BY st.class, st.name, st.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	index := make(map[int64]int)
	var totals []domain.StudentTotal
	for rows.Next() {
		var (
			st     domain.Student
			points *string
		)
		if err := rows.Scan(&st.ID, &st.StudentID, &st.Name, &st.Class, &points); err != nil {
			return nil, err
		}
		i, ok := index[st.ID]
		if !ok {
			i = len(totals)
			index[st.ID] = i
			totals = append(totals, domain.StudentTotal{Student: st, TotalPoints: decimal.Zero})
		}
		if points == nil {
			continue
		}
		p, err := decimal.NewFromString(*points)
		if err != nil {
			return nil, fmt.Errorf("student %d has invalid points %q: %w", st.ID, *points, err)
		}
		totals[i].TotalPoints = totals[i].TotalPoints.Add(p)
		totals[i].RecordCount++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(totals, func(a, b int) bool {
		return totals[a].TotalPoints.GreaterThan(totals[b].TotalPoints)
	})
	return totals, nil
}

func (s *Store) CreateTeacherEntry(ctx context.Context, e domain.TeacherLedgerEntry) (domain.TeacherLedgerEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.TeacherLedgerEntry{}, err
	}
	defer tx.Rollback()

	e.CreatedAt = s.now()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO teacher_scores (teacher_id, teacher_name, points, reason, class, subject, date, batch_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.TeacherID, e.TeacherName, e.Points.String(), e.Reason, e.Class, e.Subject, e.Date, e.BatchID, e.CreatedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return domain.TeacherLedgerEntry{}, &domain.ReferentialError{Entity: "teacher", ID: e.TeacherID}
		}
		return domain.TeacherLedgerEntry{}, fmt.Errorf("inserting teacher score: %w", err)
	}
	if e.ID, err = res.LastInsertId(); err != nil {
		return domain.TeacherLedgerEntry{}, err
	}
	if err := s.logAction(ctx, tx, domain.ActionAddTeacherScore, map[string]any{
		"teacher_score_id": e.ID,
		"teacher_id":       e.TeacherID,
		"batch_id":         e.BatchID,
	}); err != nil {
		return domain.TeacherLedgerEntry{}, err
	}
	return e, tx.Commit()
}

func (s *Store) ListTeacherEntries(ctx context.Context) ([]domain.TeacherLedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, teacher_id, teacher_name, points, reason, class, subject, date, batch_id, created_at
		 FROM teacher_scores ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.TeacherLedgerEntry
	for rows.Next() {
		var (
			e      domain.TeacherLedgerEntry
			points string
		)
		if err := rows.Scan(&e.ID, &e.TeacherID, &e.TeacherName, &points, &e.Reason, &e.Class, &e.Subject, &e.Date, &e.BatchID, &e.CreatedAt); err != nil {
			return nil, err
		}
		if e.Points, err = decimal.NewFromString(points); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// AddObservations stores lecture-observation records in one transaction.
func (s *Store) AddObservations(ctx context.Context, observations []domain.Observation) (int, error) {
	if len(observations) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO teaching_observations (observer_teacher, teaching_teacher, class, date, notes, batch_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	createdAt := s.now()
	inserted := 0
	for _, o := range observations {
		if _, err := stmt.ExecContext(ctx, o.ObserverTeacher, o.TeachingTeacher, o.Class, o.Date, o.Notes, o.BatchID, createdAt); err != nil {
			return inserted, err
		}
		inserted++
	}
	return inserted, tx.Commit()
}

func (s *Store) ListObservations(ctx context.Context) ([]domain.Observation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, observer_teacher, teaching_teacher, class, date, notes, batch_id
		 FROM teaching_observations ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Observation
	for rows.Next() {
		var o domain.Observation
		if err := rows.Scan(&o.ID, &o.ObserverTeacher, &o.TeachingTeacher, &o.Class, &o.Date, &o.Notes, &o.BatchID); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
