package parse

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"scoreledger/internal/domain"
)

var errNoArray = errors.New("no JSON array found in extraction output")

var (
	studentNameKeys = []string{"studentName", "name", "student_name", "student"}
	studentIDKeys   = []string{"studentId", "student_id", "studentNo", "student_no"}
	classKeys       = []string{"class", "className", "class_name"}
	reasonKeys      = []string{"reason"}
	teacherKeys     = []string{"teacherName", "teacher", "teacher_name"}
	subjectKeys     = []string{"subject"}
	notesKeys       = []string{"others", "notes", "other"}
	pointsKeys      = []string{"points", "score"}

	observerKeys = []string{"teacherName", "observer", "observerTeacher"}
	teachingKeys = []string{"teachName", "teachingTeacher", "teach_name"}
)

var validate = validator.New()

// candidateFields is the minimal shape every student element must satisfy.
type candidateFields struct {
	Reason string `validate:"required"`
}

// Result is the decoded extraction output. Decoded counts every element of
// the student array, including the ones reported in ItemErrors.
type Result struct {
	Candidates   []domain.Candidate
	Observations []domain.Observation
	ItemErrors   []*domain.ValidationError
	Decoded      int
}

// Parse decodes the raw extraction output. It fails only when no array can
// be recovered; the returned *domain.MalformedResponseError keeps the raw
// text so a reviewer can fix it and call Parse again.
func Parse(raw string) (Result, error) {
	cleaned := StripWrapping(raw)

	students, observations, ok := decodeArrays(cleaned)
	if !ok {
		return Result{}, &domain.MalformedResponseError{Raw: raw, Err: errNoArray}
	}

	res := Result{Decoded: len(students)}
	for i, elem := range students {
		index := i + 1
		c, verr := decodeCandidate(index, elem)
		if verr != nil {
			res.ItemErrors = append(res.ItemErrors, verr)
			continue
		}
		res.Candidates = append(res.Candidates, c)
	}
	for _, elem := range observations {
		if obs, ok := decodeObservation(elem); ok {
			res.Observations = append(res.Observations, obs)
		}
	}
	return res, nil
}

// decodeArrays returns the student elements and, when present, the
// observation elements that follow them.
func decodeArrays(text string) ([]json.RawMessage, []json.RawMessage, bool) {
	if strings.HasPrefix(text, "[") {
		var direct []json.RawMessage
		if err := json.Unmarshal([]byte(text), &direct); err == nil {
			return direct, nil, true
		}
	}

	var found [][]json.RawMessage
	for _, literal := range balancedArrays(text) {
		elems, ok := decodeObjectArray(literal)
		if !ok {
			continue
		}
		found = append(found, elems)
		if len(found) == 2 {
			break
		}
	}
	switch len(found) {
	case 0:
		return nil, nil, false
	case 1:
		return found[0], nil, true
	default:
		return found[0], found[1], true
	}
}

// decodeObjectArray accepts an array holding at least one object, leaving
// any other elements to be itemized by decodeCandidate. It rejects bracketed
// prose such as "[注意]" and arrays of plain values like "[1, 2]".
func decodeObjectArray(literal string) ([]json.RawMessage, bool) {
	var elems []json.RawMessage
	if err := json.Unmarshal([]byte(literal), &elems); err != nil {
		return nil, false
	}
	for _, e := range elems {
		if t := bytes.TrimSpace(e); len(t) > 0 && t[0] == '{' {
			return elems, true
		}
	}
	return nil, false
}

func decodeCandidate(index int, elem json.RawMessage) (domain.Candidate, *domain.ValidationError) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(elem, &fields); err != nil || fields == nil {
		return domain.Candidate{}, &domain.ValidationError{Index: index, Msg: "element is not an object"}
	}

	c := domain.Candidate{
		Index:          index,
		StudentNameRaw: stringField(fields, studentNameKeys...),
		StudentIDRaw:   stringField(fields, studentIDKeys...),
		ClassRaw:       stringField(fields, classKeys...),
		Reason:         stringField(fields, reasonKeys...),
		TeacherNameRaw: stringField(fields, teacherKeys...),
		SubjectRaw:     stringField(fields, subjectKeys...),
		Notes:          stringField(fields, notesKeys...),
		Points:         pointsField(fields, pointsKeys...),
		Raw:            append(json.RawMessage(nil), elem...),
	}

	if err := validate.Struct(candidateFields{Reason: c.Reason}); err != nil {
		return domain.Candidate{}, &domain.ValidationError{Index: index, Field: "reason", Msg: "is required"}
	}
	return c, nil
}

func decodeObservation(elem json.RawMessage) (domain.Observation, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(elem, &fields); err != nil || fields == nil {
		return domain.Observation{}, false
	}
	obs := domain.Observation{
		ObserverTeacher: stringField(fields, observerKeys...),
		TeachingTeacher: stringField(fields, teachingKeys...),
		Class:           stringField(fields, classKeys...),
		Notes:           stringField(fields, notesKeys...),
	}
	if obs.ObserverTeacher == "" && obs.TeachingTeacher == "" {
		return domain.Observation{}, false
	}
	return obs, true
}

// stringField returns the first alias present as a string or number.
func stringField(fields map[string]json.RawMessage, keys ...string) string {
	for _, key := range keys {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return strings.TrimSpace(s)
		}
		var n json.Number
		if err := json.Unmarshal(raw, &n); err == nil {
			return n.String()
		}
	}
	return ""
}

// pointsField accepts numbers and numeric strings ("-2", "3分"). Anything
// else, and zero, yields domain.DefaultPoints.
func pointsField(fields map[string]json.RawMessage, keys ...string) decimal.Decimal {
	text := stringField(fields, keys...)
	text = strings.TrimSpace(strings.TrimSuffix(text, "分"))
	if text == "" {
		return domain.DefaultPoints
	}
	d, err := decimal.NewFromString(text)
	if err != nil || d.IsZero() {
		return domain.DefaultPoints
	}
	return d
}
