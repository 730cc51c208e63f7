package pending

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"scoreledger/internal/domain"
	"scoreledger/internal/logging"
)

const defaultBatchConcurrency = 4

// Backend persists pending records. Status transitions must be a
// check-and-set on status = pending.
type Backend interface {
	InsertPending(ctx context.Context, c domain.Candidate, unboundReason string, suggestions []int64) (domain.PendingRecord, error)
	ListPending(ctx context.Context, status domain.PendingStatus) ([]domain.PendingRecord, error)
	GetPending(ctx context.Context, id int64) (domain.PendingRecord, error)
	ResolvePending(ctx context.Context, id, studentID int64, date string) (domain.LedgerEntry, error)
	RejectPending(ctx context.Context, id int64) error
}

type Options struct {
	Location    *time.Location
	Now         func() time.Time
	Concurrency int
}

// Service is the review queue for candidates that could not be bound
// automatically.
type Service struct {
	backend     Backend
	log         *logrus.Entry
	location    *time.Location
	now         func() time.Time
	concurrency int
}

func NewService(backend Backend, logger logrus.FieldLogger, opts Options) *Service {
	svc := &Service{
		backend:     backend,
		log:         logging.Component(logger, "pending"),
		location:    opts.Location,
		now:         opts.Now,
		concurrency: opts.Concurrency,
	}
	if svc.location == nil {
		svc.location = time.Local
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	if svc.concurrency <= 0 {
		svc.concurrency = defaultBatchConcurrency
	}
	return svc
}

func (s *Service) today() string {
	return s.now().In(s.location).Format("2006-01-02")
}

// Enqueue appends c to the queue. Identical candidates are not merged.
func (s *Service) Enqueue(ctx context.Context, c domain.Candidate, unboundReason string, suggestions []int64) (domain.PendingRecord, error) {
	rec, err := s.backend.InsertPending(ctx, c, unboundReason, suggestions)
	if err != nil {
		logging.LogError(s.log, "pending", "Enqueue", "insert pending record", map[string]any{"batch_id": c.BatchID, "index": c.Index}, err)
		return domain.PendingRecord{}, fmt.Errorf("enqueue pending: %w", err)
	}
	s.log.WithFields(logrus.Fields{
		"id":     rec.ID,
		"reason": unboundReason,
		"batch":  c.BatchID,
	}).Debug("pending enqueued")
	return rec, nil
}

// List returns records with the given status, or all records when status
// is empty.
func (s *Service) List(ctx context.Context, status domain.PendingStatus) ([]domain.PendingRecord, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("unknown pending status %q", status)
	}
	return s.backend.ListPending(ctx, status)
}

func (s *Service) Get(ctx context.Context, id int64) (domain.PendingRecord, error) {
	return s.backend.GetPending(ctx, id)
}

// Resolve binds record id to studentID and writes one ledger entry dated
// today. Unknown or terminal ids fail with *domain.NotFoundError; a missing
// student fails with *domain.ReferentialError and leaves the record pending.
func (s *Service) Resolve(ctx context.Context, id, studentID int64) (domain.LedgerEntry, error) {
	entry, err := s.backend.ResolvePending(ctx, id, studentID, s.today())
	if err != nil {
		s.log.WithFields(logrus.Fields{"id": id, "student_id": studentID}).WithError(err).Warn("pending resolve failed")
		return domain.LedgerEntry{}, err
	}
	s.log.WithFields(logrus.Fields{"id": id, "student_id": studentID, "score_id": entry.ID}).Info("pending resolved")
	return entry, nil
}

func (s *Service) Reject(ctx context.Context, id int64) error {
	if err := s.backend.RejectPending(ctx, id); err != nil {
		s.log.WithField("id", id).WithError(err).Warn("pending reject failed")
		return err
	}
	s.log.WithField("id", id).Info("pending rejected")
	return nil
}

type Resolution struct {
	ID        int64
	StudentID int64
}

// Outcome is the per-id result of a batch operation. Entry is set only for
// successful resolves.
type Outcome struct {
	ID    int64
	Entry *domain.LedgerEntry
	Err   error
}

// ResolveBatch resolves every item independently. Outcomes are returned in
// input order and one failure never blocks the others.
func (s *Service) ResolveBatch(ctx context.Context, items []Resolution) []Outcome {
	outcomes := make([]Outcome, len(items))
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, item := range items {
		g.Go(func() error {
			outcomes[i].ID = item.ID
			entry, err := s.Resolve(ctx, item.ID, item.StudentID)
			if err != nil {
				outcomes[i].Err = err
				return nil
			}
			outcomes[i].Entry = &entry
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (s *Service) RejectBatch(ctx context.Context, ids []int64) []Outcome {
	outcomes := make([]Outcome, len(ids))
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, id := range ids {
		g.Go(func() error {
			outcomes[i] = Outcome{ID: id, Err: s.Reject(ctx, id)}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// Failed counts outcomes that carry an error.
func Failed(outcomes []Outcome) int {
	n := 0
	for _, o := range outcomes {
		if o.Err != nil {
			n++
		}
	}
	return n
}
