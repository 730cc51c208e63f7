package importer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"scoreledger/internal/domain"
	"scoreledger/internal/integrations/llm"
	"scoreledger/internal/logging"
	"scoreledger/internal/parse"
	"scoreledger/internal/resolve"
)

type Ledger interface {
	CreateEntry(ctx context.Context, in domain.NewLedgerEntry) (domain.LedgerEntry, error)
}

type TeacherLedger interface {
	CreateTeacherEntry(ctx context.Context, e domain.TeacherLedgerEntry) (domain.TeacherLedgerEntry, error)
}

type ObservationStore interface {
	AddObservations(ctx context.Context, observations []domain.Observation) (int, error)
}

type Queue interface {
	Enqueue(ctx context.Context, c domain.Candidate, unboundReason string, suggestions []int64) (domain.PendingRecord, error)
}

type Auditor interface {
	LogAction(ctx context.Context, action string, details any) error
}

type Deps struct {
	Extractor     llm.Extractor
	Retry         llm.RetryPolicy
	Roster        resolve.Roster
	Ledger        Ledger
	TeacherLedger TeacherLedger
	Observations  ObservationStore
	Pending       Queue
	Audit         Auditor
	Logger        logrus.FieldLogger
	Location      *time.Location
	Now           func() time.Time
	NewBatchID    func() string
}

// Orchestrator runs one import batch end to end: extract, parse, resolve
// against a roster snapshot, then commit or enqueue each candidate.
type Orchestrator struct {
	deps Deps
	log  *logrus.Entry
}

func New(deps Deps) *Orchestrator {
	if deps.Location == nil {
		deps.Location = time.Local
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewBatchID == nil {
		deps.NewBatchID = uuid.NewString
	}
	return &Orchestrator{deps: deps, log: logging.Component(deps.Logger, "importer")}
}

// TeacherOnlyItem is a candidate that names no plausible student. The caller
// decides its fate with ProcessTeacherOnly.
type TeacherOnlyItem struct {
	Candidate domain.Candidate
	Teacher   *domain.Teacher // resolved teacher, nil when the roster has no match
	Why       string
}

const (
	WhyNoStudentReference = "no_student_reference"
	WhyNameIsTeacher      = "name_is_teacher"
)

// Result itemizes a batch. Every decoded candidate lands in exactly one of
// Committed, Pending, TeacherOnly or Errors.
type Result struct {
	BatchID      string
	Total        int
	Committed    []domain.LedgerEntry
	Pending      []domain.PendingRecord
	TeacherOnly  []TeacherOnlyItem
	Observations []domain.Observation
	Errors       []string
	RawPayload   string
}

type Summary struct {
	SuccessCount     int      `json:"successCount"`
	PendingCount     int      `json:"pendingCount"`
	TeacherOnlyCount int      `json:"teacherOnlyCount"`
	ErrorCount       int      `json:"errorCount"`
	Errors           []string `json:"errors"`
}

func (r Result) Summary() Summary {
	return Summary{
		SuccessCount:     len(r.Committed),
		PendingCount:     len(r.Pending),
		TeacherOnlyCount: len(r.TeacherOnly),
		ErrorCount:       len(r.Errors),
		Errors:           r.Errors,
	}
}

// ImportText extracts candidates from free text and imports them. Network
// failures are retried per the configured policy. A malformed extraction
// returns *domain.MalformedResponseError with the raw payload also set on
// Result.RawPayload for manual repair via ImportPayload.
func (o *Orchestrator) ImportText(ctx context.Context, rawText string) (Result, error) {
	extractor := o.deps.Retry.Wrap(o.deps.Extractor)
	payload, err := extractor.Extract(ctx, rawText)
	if err != nil {
		logging.LogError(o.log, "importer", "ImportText", "extract candidates", map[string]int{"input_bytes": len(rawText)}, err)
		return Result{}, fmt.Errorf("extracting candidates: %w", err)
	}
	return o.ImportPayload(ctx, payload)
}

// ImportPayload imports an already extracted payload, typically one a
// reviewer edited after a malformed response.
func (o *Orchestrator) ImportPayload(ctx context.Context, payload string) (Result, error) {
	res := Result{BatchID: o.deps.NewBatchID(), RawPayload: payload}

	parsed, err := parse.Parse(payload)
	if err != nil {
		o.log.WithField("batch", res.BatchID).WithError(err).Warn("import payload malformed")
		return res, err
	}
	res.Total = parsed.Decoded

	snap, err := resolve.TakeSnapshot(ctx, o.deps.Roster)
	if err != nil {
		return res, fmt.Errorf("loading roster: %w", err)
	}

	now := o.deps.Now()
	date := now.In(o.deps.Location).Format("2006-01-02")

	for _, verr := range parsed.ItemErrors {
		res.Errors = append(res.Errors, verr.Error())
	}
	for _, c := range parsed.Candidates {
		c.BatchID = res.BatchID
		c.CreatedAt = now
		o.importCandidate(ctx, snap, c, date, &res)
	}

	o.storeObservations(ctx, parsed.Observations, date, &res)

	sum := res.Summary()
	if o.deps.Audit != nil {
		if err := o.deps.Audit.LogAction(ctx, domain.ActionImportBatch, map[string]any{
			"batch_id":     res.BatchID,
			"total":        res.Total,
			"committed":    sum.SuccessCount,
			"pending":      sum.PendingCount,
			"teacher_only": sum.TeacherOnlyCount,
			"errors":       sum.ErrorCount,
		}); err != nil {
			o.log.WithError(err).Warn("import audit write failed")
		}
	}
	o.log.WithFields(logrus.Fields{
		"batch":        res.BatchID,
		"total":        res.Total,
		"committed":    sum.SuccessCount,
		"pending":      sum.PendingCount,
		"teacher_only": sum.TeacherOnlyCount,
		"errors":       sum.ErrorCount,
		"observations": len(res.Observations),
	}).Info("import batch done")
	return res, nil
}

func (o *Orchestrator) importCandidate(ctx context.Context, snap *resolve.Snapshot, c domain.Candidate, date string, res *Result) {
	if snap.StudentCount() == 0 {
		o.enqueue(ctx, c, domain.UnboundNoRoster, nil, res)
		return
	}
	if !c.HasStudentReference() && c.TeacherNameRaw != "" {
		res.TeacherOnly = append(res.TeacherOnly, teacherOnly(snap, c, c.TeacherNameRaw, WhyNoStudentReference))
		return
	}

	binding := snap.ResolveStudent(c)
	if binding.Bound() {
		o.commit(ctx, snap, c, binding.Student, date, res)
		return
	}

	if c.StudentNameRaw != "" && binding.Reason != domain.UnboundAmbiguous {
		tb := snap.ResolveTeacher(c.StudentNameRaw, c.SubjectRaw)
		if tb.Bound() && (tb.Tier == resolve.TierExactName || tb.Tier == resolve.TierSubjectAndName) {
			res.TeacherOnly = append(res.TeacherOnly, TeacherOnlyItem{Candidate: c, Teacher: tb.Teacher, Why: WhyNameIsTeacher})
			return
		}
	}

	o.enqueue(ctx, c, binding.Reason, binding.Suggestions, res)
}

func (o *Orchestrator) commit(ctx context.Context, snap *resolve.Snapshot, c domain.Candidate, student *domain.Student, date string, res *Result) {
	teacherName := c.TeacherNameRaw
	if teacherName == "" {
		if t, ok := snap.InferTeacher(c.ClassRaw, c.SubjectRaw); ok {
			teacherName = t.Name
		}
	}

	entry, err := o.deps.Ledger.CreateEntry(ctx, domain.NewLedgerEntry{
		StudentID:   student.ID,
		Points:      c.Points,
		Reason:      c.Reason,
		TeacherName: teacherName,
		Date:        date,
		BatchID:     c.BatchID,
	})
	switch {
	case errors.Is(err, domain.ErrReferential):
		// removed from the roster after the snapshot was taken
		o.log.WithFields(logrus.Fields{"item": c.Index, "student_id": student.ID}).Warn("student vanished, queueing for review")
		o.enqueue(ctx, c, domain.UnboundNoMatch, nil, res)
	case err != nil:
		res.Errors = append(res.Errors, fmt.Sprintf("item %d: commit: %v", c.Index, err))
	default:
		res.Committed = append(res.Committed, entry)
	}
}

func (o *Orchestrator) enqueue(ctx context.Context, c domain.Candidate, reason string, suggestions []int64, res *Result) {
	rec, err := o.deps.Pending.Enqueue(ctx, c, reason, suggestions)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("item %d: enqueue: %v", c.Index, err))
		return
	}
	res.Pending = append(res.Pending, rec)
}

func (o *Orchestrator) storeObservations(ctx context.Context, observations []domain.Observation, date string, res *Result) {
	if len(observations) == 0 {
		return
	}
	for i := range observations {
		observations[i].BatchID = res.BatchID
		observations[i].Date = date
	}
	res.Observations = observations
	if o.deps.Observations == nil {
		return
	}
	if _, err := o.deps.Observations.AddObservations(ctx, observations); err != nil {
		o.log.WithField("batch", res.BatchID).WithError(err).Warn("storing observations failed")
	}
}

func teacherOnly(snap *resolve.Snapshot, c domain.Candidate, name, why string) TeacherOnlyItem {
	item := TeacherOnlyItem{Candidate: c, Why: why}
	if tb := snap.ResolveTeacher(name, c.SubjectRaw); tb.Bound() {
		item.Teacher = tb.Teacher
	}
	return item
}
