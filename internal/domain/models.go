package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultPoints is applied when the extractor omits points or returns a
// non-numeric value.
var DefaultPoints = decimal.NewFromInt(2)

// Candidate is one extracted, unvalidated behavioural event.
type Candidate struct {
	Index          int // 1-based position in the decoded batch
	StudentNameRaw string
	StudentIDRaw   string
	ClassRaw       string
	Reason         string
	TeacherNameRaw string
	SubjectRaw     string
	Notes          string // extracted text that fits no other field
	Points         decimal.Decimal
	BatchID        string
	CreatedAt      time.Time
	Raw            json.RawMessage // element as returned by the extractor
}

// HasStudentReference reports whether anything in the candidate points at a
// student rather than only at a teacher.
func (c Candidate) HasStudentReference() bool {
	return c.StudentNameRaw != "" || c.StudentIDRaw != "" || c.ClassRaw != ""
}

type PendingStatus string

const (
	PendingStatusPending  PendingStatus = "pending"
	PendingStatusResolved PendingStatus = "resolved"
	PendingStatusRejected PendingStatus = "rejected"
)

func (s PendingStatus) Valid() bool {
	switch s {
	case PendingStatusPending, PendingStatusResolved, PendingStatusRejected:
		return true
	}
	return false
}

func (s PendingStatus) Terminal() bool {
	return s == PendingStatusResolved || s == PendingStatusRejected
}

// Reasons recorded on a PendingRecord for why automatic resolution failed.
const (
	UnboundNoMatch     = "no_match"
	UnboundAmbiguous   = "ambiguous"
	UnboundNoRoster    = "no_roster"
	UnboundTeacherOnly = "teacher_only"
)

// PendingRecord is a candidate persisted for human review after automatic
// resolution failed. Once Status leaves pending the record never changes.
type PendingRecord struct {
	ID            int64
	Candidate     Candidate
	Status        PendingStatus
	UnboundReason string
	Suggestions   []int64 // canonical student ids that partially matched
	LedgerEntryID int64   // set once resolved
	CreatedAt     time.Time
	ResolvedAt    *time.Time
}

type Student struct {
	ID        int64
	StudentID string // school-issued number
	Name      string
	Class     string
}

type Teacher struct {
	ID      int64
	Name    string
	Subject string
	Classes string // teaching classes, separated by ";" "," or "、"
}

// LedgerEntry is one committed score record. StudentID always references an
// existing Student.ID.
type LedgerEntry struct {
	ID          int64
	StudentID   int64
	Points      decimal.Decimal
	Reason      string
	TeacherName string
	Date        string // YYYY-MM-DD
	BatchID     string
	CreatedAt   time.Time
}

// NewLedgerEntry is the write model handed to a Ledger.
type NewLedgerEntry struct {
	StudentID   int64
	Points      decimal.Decimal
	Reason      string
	TeacherName string
	Date        string
	BatchID     string
}

type TeacherLedgerEntry struct {
	ID          int64
	TeacherID   int64
	TeacherName string
	Points      decimal.Decimal
	Reason      string
	Class       string
	Subject     string
	Date        string
	BatchID     string
	CreatedAt   time.Time
}

// Observation is a lecture-observation record (one teacher sitting in on
// another teacher's class).
type Observation struct {
	ID              int64
	ObserverTeacher string
	TeachingTeacher string
	Class           string
	Date            string
	Notes           string
	BatchID         string
}

type StudentTotal struct {
	Student     Student
	TotalPoints decimal.Decimal
	RecordCount int
}
