package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"scoreledger/internal/domain"
)

func (s *Store) ListStudents(ctx context.Context) ([]domain.Student, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, student_id, name, class FROM students ORDER BY class, name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var students []domain.Student
	for rows.Next() {
		var st domain.Student
		if err := rows.Scan(&st.ID, &st.StudentID, &st.Name, &st.Class); err != nil {
			return nil, err
		}
		students = append(students, st)
	}
	return students, rows.Err()
}

func (s *Store) ListTeachers(ctx context.Context) ([]domain.Teacher, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, subject, teaching_classes FROM teachers ORDER BY name, subject, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var teachers []domain.Teacher
	for rows.Next() {
		var t domain.Teacher
		if err := rows.Scan(&t.ID, &t.Name, &t.Subject, &t.Classes); err != nil {
			return nil, err
		}
		teachers = append(teachers, t)
	}
	return teachers, rows.Err()
}

func (s *Store) GetStudent(ctx context.Context, id int64) (domain.Student, error) {
	var st domain.Student
	err := s.db.QueryRowContext(ctx,
		`SELECT id, student_id, name, class FROM students WHERE id = ?`, id,
	).Scan(&st.ID, &st.StudentID, &st.Name, &st.Class)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Student{}, &domain.ReferentialError{Entity: "student", ID: id}
	}
	return st, err
}

func (s *Store) AddStudent(ctx context.Context, st domain.Student) (domain.Student, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO students (student_id, name, class) VALUES (?, ?, ?)`,
		st.StudentID, st.Name, st.Class,
	)
	if err != nil {
		return domain.Student{}, fmt.Errorf("inserting student %q: %w", st.Name, err)
	}
	st.ID, err = res.LastInsertId()
	return st, err
}

func (s *Store) DeleteStudent(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM students WHERE id = ?`, id)
	return err
}

func (s *Store) AddTeacher(ctx context.Context, t domain.Teacher) (domain.Teacher, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO teachers (name, subject, teaching_classes) VALUES (?, ?, ?)`,
		t.Name, t.Subject, t.Classes,
	)
	if err != nil {
		return domain.Teacher{}, fmt.Errorf("inserting teacher %q: %w", t.Name, err)
	}
	t.ID, err = res.LastInsertId()
	return t, err
}

// RosterCounts reports how many rows an import inserted and updated.
type RosterCounts struct {
	StudentsInserted int
	StudentsUpdated  int
	TeachersInserted int
	TeachersUpdated  int
}

// ImportRoster upserts students and teachers in one transaction. Students
// are keyed by student number when present, otherwise by (name, class).
// Teachers are keyed by (name, subject).
func (s *Store) ImportRoster(ctx context.Context, students []domain.Student, teachers []domain.Teacher) (RosterCounts, error) {
	var counts RosterCounts
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return counts, err
	}
	defer tx.Rollback()

	for _, st := range students {
		var (
			id    int64
			query = `SELECT id FROM students WHERE student_id = ?`
			args  = []any{st.StudentID}
		)
		if st.StudentID == "" {
			query = `SELECT id FROM students WHERE student_id = '' AND name = ? AND class = ?`
			args = []any{st.Name, st.Class}
		}
		err := tx.QueryRowContext(ctx, query, args...).Scan(&id)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO students (student_id, name, class) VALUES (?, ?, ?)`,
				st.StudentID, st.Name, st.Class,
			); err != nil {
				return counts, fmt.Errorf("inserting student %q: %w", st.Name, err)
			}
			counts.StudentsInserted++
		case err != nil:
			return counts, err
		default:
			if _, err := tx.ExecContext(ctx,
				`UPDATE students SET name = ?, class = ? WHERE id = ?`, st.Name, st.Class, id,
			); err != nil {
				return counts, fmt.Errorf("updating student %d: %w", id, err)
			}
			counts.StudentsUpdated++
		}
	}

	for _, t := range teachers {
		res, err := tx.ExecContext(ctx,
			`UPDATE teachers SET teaching_classes = ? WHERE name = ? AND subject = ?`,
			t.Classes, t.Name, t.Subject,
		)
		if err != nil {
			return counts, fmt.Errorf("updating teacher %q: %w", t.Name, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			counts.TeachersUpdated++
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO teachers (name, subject, teaching_classes) VALUES (?, ?, ?)`,
			t.Name, t.Subject, t.Classes,
		); err != nil {
			return counts, fmt.Errorf("inserting teacher %q: %w", t.Name, err)
		}
		counts.TeachersInserted++
	}

	if err := s.logAction(ctx, tx, domain.ActionImportRoster, counts); err != nil {
		return counts, err
	}
	return counts, tx.Commit()
}
