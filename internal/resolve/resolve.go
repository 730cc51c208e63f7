package resolve

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"scoreledger/internal/domain"
)

const maxSuggestions = 5

// Tier identifies which matching rule bound a candidate.
type Tier int

const (
	TierNone Tier = iota
	TierExactName
	TierClassAndName
	TierStudentID
	TierContainment
	TierSubjectAndName
)

func (t Tier) String() string {
	switch t {
	case TierExactName:
		return "exact_name"
	case TierClassAndName:
		return "class_and_name"
	case TierStudentID:
		return "student_id"
	case TierContainment:
		return "containment"
	case TierSubjectAndName:
		return "subject_and_name"
	default:
		return "none"
	}
}

// Roster is the read side of the student and teacher directory.
type Roster interface {
	ListStudents(ctx context.Context) ([]domain.Student, error)
	ListTeachers(ctx context.Context) ([]domain.Teacher, error)
}

type normStudent struct {
	domain.Student
	name  string
	class string
	id    string
}

type normTeacher struct {
	domain.Teacher
	name    string
	subject string
	classes []string
}

// Snapshot is an immutable copy of the roster. Every candidate of a batch is
// resolved against the same snapshot so roster edits made while the batch
// runs do not change its decisions.
type Snapshot struct {
	students []normStudent
	teachers []normTeacher
	byID     map[int64]int
}

func TakeSnapshot(ctx context.Context, roster Roster) (*Snapshot, error) {
	students, err := roster.ListStudents(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing students: %w", err)
	}
	teachers, err := roster.ListTeachers(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing teachers: %w", err)
	}
	return NewSnapshot(students, teachers), nil
}

func NewSnapshot(students []domain.Student, teachers []domain.Teacher) *Snapshot {
	s := &Snapshot{
		students: make([]normStudent, 0, len(students)),
		teachers: make([]normTeacher, 0, len(teachers)),
		byID:     make(map[int64]int, len(students)),
	}
	for _, st := range students {
		s.byID[st.ID] = len(s.students)
		s.students = append(s.students, normStudent{
			Student: st,
			name:    nameKey(st.Name),
			class:   CanonicalClass(st.Class),
			id:      nameKey(st.StudentID),
		})
	}
	for _, t := range teachers {
		s.teachers = append(s.teachers, normTeacher{
			Teacher: t,
			name:    teacherKey(t.Name),
			subject: nameKey(t.Subject),
			classes: SplitClasses(t.Classes),
		})
	}
	return s
}

func (s *Snapshot) StudentCount() int { return len(s.students) }

func (s *Snapshot) TeacherCount() int { return len(s.teachers) }

func (s *Snapshot) Student(id int64) (domain.Student, bool) {
	i, ok := s.byID[id]
	if !ok {
		return domain.Student{}, false
	}
	return s.students[i].Student, true
}

// StudentBinding is the result of resolving a candidate. Exactly one of
// Student and Reason is set.
type StudentBinding struct {
	Student     *domain.Student
	Tier        Tier
	Reason      string
	Suggestions []int64
}

func (b StudentBinding) Bound() bool { return b.Student != nil }

// ResolveStudent binds a candidate to one canonical student. Tiers run in
// order and the first tier with exactly one match wins. A tier with several
// matches never picks one; it falls through and the candidate ends up
// Unbound as ambiguous unless a later tier is unique.
func (s *Snapshot) ResolveStudent(c domain.Candidate) StudentBinding {
	if len(s.students) == 0 {
		return StudentBinding{Reason: domain.UnboundNoRoster}
	}

	name := nameKey(c.StudentNameRaw)
	class := CanonicalClass(c.ClassRaw)
	id := nameKey(c.StudentIDRaw)
	var acc suggestions

	if name != "" {
		m := s.matchStudents(func(st normStudent) bool { return st.name == name })
		if b, ok := acc.bind(s, m, TierExactName); ok {
			return b
		}
		if class != "" {
			m = s.matchStudents(func(st normStudent) bool { return st.name == name && st.class == class })
			if b, ok := acc.bind(s, m, TierClassAndName); ok {
				return b
			}
		}
	}

	if id != "" {
		m := s.matchStudents(func(st normStudent) bool { return st.id != "" && st.id == id })
		if b, ok := acc.bind(s, m, TierStudentID); ok {
			return b
		}
	}

	if name != "" {
		m := s.matchStudents(func(st normStudent) bool {
			return st.name != "" && (strings.Contains(st.name, name) || strings.Contains(name, st.name))
		})
		if len(m) > 1 && class != "" {
			acc.ambiguous = true
			acc.add(s, m)
			m = filterIdx(m, func(i int) bool { return s.students[i].class == class })
		}
		if b, ok := acc.bind(s, m, TierContainment); ok {
			return b
		}
	}

	return StudentBinding{Reason: acc.reason(), Suggestions: acc.ids}
}

func (s *Snapshot) matchStudents(pred func(normStudent) bool) []int {
	var out []int
	for i, st := range s.students {
		if pred(st) {
			out = append(out, i)
		}
	}
	return out
}

type suggestions struct {
	ambiguous bool
	ids       []int64
}

func (a *suggestions) add(s *Snapshot, idx []int) {
	for _, i := range idx {
		id := s.students[i].ID
		if len(a.ids) >= maxSuggestions || slices.Contains(a.ids, id) {
			continue
		}
		a.ids = append(a.ids, id)
	}
}

func (a *suggestions) bind(s *Snapshot, idx []int, tier Tier) (StudentBinding, bool) {
	switch len(idx) {
	case 0:
		return StudentBinding{}, false
	case 1:
		st := s.students[idx[0]].Student
		return StudentBinding{Student: &st, Tier: tier}, true
	default:
		a.ambiguous = true
		a.add(s, idx)
		return StudentBinding{}, false
	}
}

func (a *suggestions) reason() string {
	if a.ambiguous {
		return domain.UnboundAmbiguous
	}
	return domain.UnboundNoMatch
}

// TeacherBinding is the result of resolving a teacher name.
type TeacherBinding struct {
	Teacher *domain.Teacher
	Tier    Tier
	Reason  string
}

func (b TeacherBinding) Bound() bool { return b.Teacher != nil }

// ResolveTeacher follows the student tiers with subject in place of class.
// Honorifics such as 老师 are ignored, so "李老师" binds to the only teacher
// surnamed 李.
func (s *Snapshot) ResolveTeacher(rawName, rawSubject string) TeacherBinding {
	if len(s.teachers) == 0 {
		return TeacherBinding{Reason: domain.UnboundNoRoster}
	}
	name := teacherKey(rawName)
	if name == "" {
		return TeacherBinding{Reason: domain.UnboundNoMatch}
	}
	subject := nameKey(rawSubject)
	ambiguous := false

	pick := func(idx []int, tier Tier) (TeacherBinding, bool) {
		switch len(idx) {
		case 0:
			return TeacherBinding{}, false
		case 1:
			t := s.teachers[idx[0]].Teacher
			return TeacherBinding{Teacher: &t, Tier: tier}, true
		default:
			ambiguous = true
			return TeacherBinding{}, false
		}
	}

	m := s.matchTeachers(func(t normTeacher) bool { return t.name == name })
	if b, ok := pick(m, TierExactName); ok {
		return b
	}
	if subject != "" {
		m = s.matchTeachers(func(t normTeacher) bool { return t.name == name && t.subject == subject })
		if b, ok := pick(m, TierSubjectAndName); ok {
			return b
		}
	}
	m = s.matchTeachers(func(t normTeacher) bool {
		return t.name != "" && (strings.Contains(t.name, name) || strings.Contains(name, t.name))
	})
	if len(m) > 1 && subject != "" {
		m = filterIdx(m, func(i int) bool { return s.teachers[i].subject == subject })
	}
	if b, ok := pick(m, TierContainment); ok {
		return b
	}

	if ambiguous {
		return TeacherBinding{Reason: domain.UnboundAmbiguous}
	}
	return TeacherBinding{Reason: domain.UnboundNoMatch}
}

// InferTeacher finds the single teacher who teaches subject in class. It is
// used to fill in the teacher of a record that names neither.
func (s *Snapshot) InferTeacher(rawClass, rawSubject string) (domain.Teacher, bool) {
	class := CanonicalClass(rawClass)
	subject := nameKey(rawSubject)
	if class == "" || subject == "" {
		return domain.Teacher{}, false
	}
	m := s.matchTeachers(func(t normTeacher) bool {
		return t.subject == subject && slices.Contains(t.classes, class)
	})
	if len(m) != 1 {
		return domain.Teacher{}, false
	}
	return s.teachers[m[0]].Teacher, true
}

func (s *Snapshot) matchTeachers(pred func(normTeacher) bool) []int {
	var out []int
	for i, t := range s.teachers {
		if pred(t) {
			out = append(out, i)
		}
	}
	return out
}

func filterIdx(idx []int, keep func(int) bool) []int {
	out := idx[:0:0]
	for _, i := range idx {
		if keep(i) {
			out = append(out, i)
		}
	}
	return out
}
