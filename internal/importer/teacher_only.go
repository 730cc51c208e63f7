package importer

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"scoreledger/internal/domain"
)

// Disposition is a reviewer's decision for a batch of teacher-only items.
type Disposition string

const (
	// DispositionTeacher records the points against the resolved teacher.
	DispositionTeacher Disposition = "teacher"
	// DispositionStudent queues the items for manual student assignment.
	DispositionStudent Disposition = "student"
	DispositionDiscard Disposition = "discard"
)

func ParseDisposition(s string) (Disposition, error) {
	switch d := Disposition(strings.ToLower(strings.TrimSpace(s))); d {
	case DispositionTeacher, DispositionStudent, DispositionDiscard:
		return d, nil
	}
	return "", fmt.Errorf("unknown disposition %q (want teacher, student or discard)", s)
}

type TeacherOnlyResult struct {
	Recorded  []domain.TeacherLedgerEntry
	Queued    []domain.PendingRecord
	Discarded int
	Errors    []string
}

// ProcessTeacherOnly applies one disposition to every item. Failures are
// itemized; the remaining items are still processed.
func (o *Orchestrator) ProcessTeacherOnly(ctx context.Context, items []TeacherOnlyItem, d Disposition) (TeacherOnlyResult, error) {
	var res TeacherOnlyResult
	if _, err := ParseDisposition(string(d)); err != nil {
		return res, err
	}
	date := o.deps.Now().In(o.deps.Location).Format("2006-01-02")

	for _, item := range items {
		c := item.Candidate
		switch d {
		case DispositionTeacher:
			if item.Teacher == nil {
				res.Errors = append(res.Errors, fmt.Sprintf("item %d: teacher %q is not on the roster", c.Index, teacherLabel(item)))
				continue
			}
			if o.deps.TeacherLedger == nil {
				return res, fmt.Errorf("teacher ledger is not configured")
			}
			subject := c.SubjectRaw
			if subject == "" {
				subject = item.Teacher.Subject
			}
			entry, err := o.deps.TeacherLedger.CreateTeacherEntry(ctx, domain.TeacherLedgerEntry{
				TeacherID:   item.Teacher.ID,
				TeacherName: item.Teacher.Name,
				Points:      c.Points,
				Reason:      c.Reason,
				Class:       c.ClassRaw,
				Subject:     subject,
				Date:        date,
				BatchID:     c.BatchID,
			})
			if err != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("item %d: %v", c.Index, err))
				continue
			}
			res.Recorded = append(res.Recorded, entry)

		case DispositionStudent:
			rec, err := o.deps.Pending.Enqueue(ctx, c, domain.UnboundTeacherOnly, nil)
			if err != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("item %d: %v", c.Index, err))
				continue
			}
			res.Queued = append(res.Queued, rec)

		case DispositionDiscard:
			if o.deps.Audit != nil {
				if err := o.deps.Audit.LogAction(ctx, domain.ActionDiscardTeacherOnly, map[string]any{
					"batch_id": c.BatchID,
					"index":    c.Index,
					"teacher":  teacherLabel(item),
					"reason":   c.Reason,
					"points":   c.Points.String(),
				}); err != nil {
					res.Errors = append(res.Errors, fmt.Sprintf("item %d: %v", c.Index, err))
					continue
				}
			}
			res.Discarded++
		}
	}

	o.log.WithFields(logrus.Fields{
		"disposition": d,
		"items":       len(items),
		"recorded":    len(res.Recorded),
		"queued":      len(res.Queued),
		"discarded":   res.Discarded,
		"errors":      len(res.Errors),
	}).Info("teacher-only items processed")
	return res, nil
}

func teacherLabel(item TeacherOnlyItem) string {
	if item.Teacher != nil {
		return item.Teacher.Name
	}
	if item.Candidate.TeacherNameRaw != "" {
		return item.Candidate.TeacherNameRaw
	}
	return item.Candidate.StudentNameRaw
}
