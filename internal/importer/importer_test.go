package importer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scoreledger/internal/domain"
	"scoreledger/internal/integrations/llm"
	"scoreledger/internal/logging"
	"scoreledger/internal/pending"
	"scoreledger/internal/storage/sqlite"
)

var testNow = time.Date(2026, 10, 19, 20, 30, 0, 0, time.UTC)

type harness struct {
	store   *sqlite.Store
	pending *pending.Service
	deps    Deps
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "import.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	shanghai, err := time.LoadLocation("Asia/Shanghai")
	require.NoError(t, err)
	now := func() time.Time { return testNow }
	svc := pending.NewService(store, logging.Discard(), pending.Options{Location: shanghai, Now: now})

	batch := 0
	return &harness{
		store:   store,
		pending: svc,
		deps: Deps{
			Retry:         llm.RetryPolicy{Attempts: 1},
			Roster:        store,
			Ledger:        store,
			TeacherLedger: store,
			Observations:  store,
			Pending:       svc,
			Audit:         store,
			Logger:        logging.Discard(),
			Location:      shanghai,
			Now:           now,
			NewBatchID: func() string {
				batch++
				return fmt.Sprintf("batch-%d", batch)
			},
		},
	}
}

func (h *harness) orchestrator() *Orchestrator { return New(h.deps) }

func (h *harness) addStudent(t *testing.T, name, class string) domain.Student {
	t.Helper()
	st, err := h.store.AddStudent(context.Background(), domain.Student{Name: name, Class: class})
	require.NoError(t, err)
	return st
}

func (h *harness) addTeacher(t *testing.T, name, subject, classes string) domain.Teacher {
	t.Helper()
	tc, err := h.store.AddTeacher(context.Background(), domain.Teacher{Name: name, Subject: subject, Classes: classes})
	require.NoError(t, err)
	return tc
}

func assertAccounted(t *testing.T, res Result) {
	t.Helper()
	sum := res.Summary()
	assert.Equal(t, res.Total, sum.SuccessCount+sum.PendingCount+sum.TeacherOnlyCount+sum.ErrorCount,
		"every decoded item must be accounted for: %+v", sum)
}

func TestImportCommitsBoundAndQueuesNameless(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	zhang := h.addStudent(t, "张三", "1班")

	payload := `[
		{"studentName":"张三","class":"1班","reason":"迟到","teacherName":"李老师"},
		{"studentName":"","class":"2班","reason":"集体卫生","teacherName":"王老师"}
	]`
	res, err := h.orchestrator().ImportPayload(ctx, payload)
	require.NoError(t, err)

	sum := res.Summary()
	assert.Equal(t, 1, sum.SuccessCount)
	assert.Equal(t, 1, sum.PendingCount)
	assert.Zero(t, sum.TeacherOnlyCount)
	assert.Zero(t, sum.ErrorCount)
	assertAccounted(t, res)

	entries, err := h.store.ListEntries(ctx, zhang.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Points.Equal(decimal.NewFromInt(2)))
	assert.Equal(t, "迟到", entries[0].Reason)
	assert.Equal(t, "李老师", entries[0].TeacherName)
	assert.Equal(t, "2026-10-20", entries[0].Date)
	assert.Equal(t, "batch-1", entries[0].BatchID)

	queued, err := h.pending.List(ctx, domain.PendingStatusPending)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Empty(t, queued[0].Candidate.StudentNameRaw)
	assert.Equal(t, "2班", queued[0].Candidate.ClassRaw)
	assert.Equal(t, "集体卫生", queued[0].Candidate.Reason)
	assert.Equal(t, domain.UnboundNoMatch, queued[0].UnboundReason)

	logs, err := h.store.ListLogs(ctx, domain.ActionImportBatch)
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestImportEmptyRosterQueuesEverything(t *testing.T) {
	h := newHarness(t)
	payload := `[
		{"studentName":"张三","class":"1班","reason":"迟到"},
		{"studentName":"李四","reason":"作业优秀","points":3},
		{"teacherName":"王老师","reason":"公开课"}
	]`
	res, err := h.orchestrator().ImportPayload(context.Background(), payload)
	require.NoError(t, err)

	assert.Zero(t, res.Summary().SuccessCount)
	assert.Equal(t, 3, res.Summary().PendingCount)
	for _, rec := range res.Pending {
		assert.Equal(t, domain.UnboundNoRoster, rec.UnboundReason)
	}
}

func TestImportAmbiguousNeverGuesses(t *testing.T) {
	h := newHarness(t)
	first := h.addStudent(t, "张三", "1班")
	second := h.addStudent(t, "张三", "2班")

	res, err := h.orchestrator().ImportPayload(context.Background(),
		`[{"studentName":"张三","reason":"迟到"}]`)
	require.NoError(t, err)

	require.Len(t, res.Pending, 1)
	assert.Empty(t, res.Committed)
	assert.Equal(t, domain.UnboundAmbiguous, res.Pending[0].UnboundReason)
	assert.ElementsMatch(t, []int64{first.ID, second.ID}, res.Pending[0].Suggestions)
}

func TestImportInfersMissingTeacher(t *testing.T) {
	h := newHarness(t)
	h.addStudent(t, "张三", "1班")
	h.addTeacher(t, "李明", "数学", "1班,2班")

	res, err := h.orchestrator().ImportPayload(context.Background(),
		`[{"studentName":"张三","class":"一班","subject":"数学","reason":"作业优秀","points":"3分"}]`)
	require.NoError(t, err)

	require.Len(t, res.Committed, 1)
	assert.Equal(t, "李明", res.Committed[0].TeacherName)
	assert.True(t, res.Committed[0].Points.Equal(decimal.NewFromInt(3)))
}

func TestImportSegregatesTeacherOnly(t *testing.T) {
	h := newHarness(t)
	h.addStudent(t, "张三", "1班")
	li := h.addTeacher(t, "李明", "数学", "1班")

	payload := `[
		{"teacherName":"李明","reason":"公开课","points":3},
		{"studentName":"李明","subject":"数学","reason":"教研活动"},
		{"studentName":"张三","reason":"迟到"}
	]`
	res, err := h.orchestrator().ImportPayload(context.Background(), payload)
	require.NoError(t, err)
	assertAccounted(t, res)

	require.Len(t, res.TeacherOnly, 2)
	assert.Equal(t, WhyNoStudentReference, res.TeacherOnly[0].Why)
	assert.Equal(t, WhyNameIsTeacher, res.TeacherOnly[1].Why)
	for _, item := range res.TeacherOnly {
		require.NotNil(t, item.Teacher)
		assert.Equal(t, li.ID, item.Teacher.ID)
	}
	assert.Len(t, res.Committed, 1)
	assert.Empty(t, res.Pending)
}

func TestProcessTeacherOnlyDispositions(t *testing.T) {
	ctx := context.Background()
	payload := `[
		{"teacherName":"李明","reason":"公开课","points":3},
		{"teacherName":"赵老师","reason":"值班"}
	]`

	setup := func(t *testing.T) (*harness, *Orchestrator, []TeacherOnlyItem) {
		h := newHarness(t)
		h.addStudent(t, "张三", "1班")
		h.addTeacher(t, "李明", "数学", "1班")
		o := h.orchestrator()
		res, err := o.ImportPayload(ctx, payload)
		require.NoError(t, err)
		require.Len(t, res.TeacherOnly, 2)
		return h, o, res.TeacherOnly
	}

	t.Run("teacher", func(t *testing.T) {
		h, o, items := setup(t)
		out, err := o.ProcessTeacherOnly(ctx, items, DispositionTeacher)
		require.NoError(t, err)

		require.Len(t, out.Recorded, 1)
		assert.Equal(t, "李明", out.Recorded[0].TeacherName)
		assert.Equal(t, "数学", out.Recorded[0].Subject)
		assert.True(t, out.Recorded[0].Points.Equal(decimal.NewFromInt(3)))
		require.Len(t, out.Errors, 1)
		assert.Contains(t, out.Errors[0], "item 2")

		stored, err := h.store.ListTeacherEntries(ctx)
		require.NoError(t, err)
		assert.Len(t, stored, 1)
	})

	t.Run("student", func(t *testing.T) {
		h, o, items := setup(t)
		out, err := o.ProcessTeacherOnly(ctx, items, DispositionStudent)
		require.NoError(t, err)
		assert.Len(t, out.Queued, 2)

		queued, err := h.pending.List(ctx, domain.PendingStatusPending)
		require.NoError(t, err)
		require.Len(t, queued, 2)
		assert.Equal(t, domain.UnboundTeacherOnly, queued[0].UnboundReason)
	})

	t.Run("discard", func(t *testing.T) {
		h, o, items := setup(t)
		out, err := o.ProcessTeacherOnly(ctx, items, DispositionDiscard)
		require.NoError(t, err)
		assert.Equal(t, 2, out.Discarded)

		logs, err := h.store.ListLogs(ctx, domain.ActionDiscardTeacherOnly)
		require.NoError(t, err)
		assert.Len(t, logs, 2)
		queued, err := h.pending.List(ctx, "")
		require.NoError(t, err)
		assert.Empty(t, queued)
	})

	t.Run("unknown", func(t *testing.T) {
		_, o, items := setup(t)
		_, err := o.ProcessTeacherOnly(ctx, items, Disposition("archive"))
		assert.Error(t, err)
	})
}

func TestParseDisposition(t *testing.T) {
	d, err := ParseDisposition(" Teacher ")
	require.NoError(t, err)
	assert.Equal(t, DispositionTeacher, d)

	_, err = ParseDisposition("keep")
	assert.Error(t, err)
}

func TestImportItemizesValidationErrors(t *testing.T) {
	h := newHarness(t)
	h.addStudent(t, "张三", "1班")

	payload := `[
		{"studentName":"张三","reason":"迟到"},
		{"studentName":"张三"},
		{"studentName":"王五","reason":"早退"}
	]`
	res, err := h.orchestrator().ImportPayload(context.Background(), payload)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Total)
	assert.Len(t, res.Committed, 1)
	assert.Len(t, res.Pending, 1)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "item 2: reason is required", res.Errors[0])
	assertAccounted(t, res)
}

func TestImportMalformedKeepsPayload(t *testing.T) {
	h := newHarness(t)
	h.addStudent(t, "张三", "1班")
	raw := "抱歉，我无法解析这段文字。"

	res, err := h.orchestrator().ImportPayload(context.Background(), raw)
	var malformed *domain.MalformedResponseError
	require.ErrorAs(t, err, &malformed)
	assert.Equal(t, raw, malformed.Raw)
	assert.Equal(t, raw, res.RawPayload)

	entries, err := h.store.ListEntries(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestImportTextRetriesNetworkFailures(t *testing.T) {
	h := newHarness(t)
	h.addStudent(t, "张三", "1班")

	calls, slept := 0, 0
	h.deps.Extractor = llm.ExtractorFunc(func(ctx context.Context, rawText string) (string, error) {
		calls++
		if calls == 1 {
			return "", &domain.NetworkError{Endpoint: "test", StatusCode: 503}
		}
		assert.Equal(t, "张三 迟到", rawText)
		return "<think>张三是学生</think>```json\n[{\"studentName\":\"张三\",\"reason\":\"迟到\"}]\n```", nil
	})
	h.deps.Retry = llm.RetryPolicy{
		Attempts: 3,
		Backoff:  time.Second,
		Sleep:    func(context.Context, time.Duration) error { slept++; return nil },
	}

	res, err := h.orchestrator().ImportText(context.Background(), "张三 迟到")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, slept)
	assert.Len(t, res.Committed, 1)
}

func TestImportTextSurfacesExhaustedRetries(t *testing.T) {
	h := newHarness(t)
	h.deps.Extractor = llm.ExtractorFunc(func(context.Context, string) (string, error) {
		return "", &domain.NetworkError{Endpoint: "test", Err: errors.New("connection refused")}
	})
	h.deps.Retry = llm.RetryPolicy{Attempts: 2, Sleep: func(context.Context, time.Duration) error { return nil }}

	_, err := h.orchestrator().ImportText(context.Background(), "张三 迟到")
	var netErr *domain.NetworkError
	assert.ErrorAs(t, err, &netErr)
}

// vanishingLedger deletes the student between resolution and commit.
type vanishingLedger struct {
	store *sqlite.Store
}

func (l vanishingLedger) CreateEntry(ctx context.Context, in domain.NewLedgerEntry) (domain.LedgerEntry, error) {
	if err := l.store.DeleteStudent(ctx, in.StudentID); err != nil {
		return domain.LedgerEntry{}, err
	}
	return l.store.CreateEntry(ctx, in)
}

func TestImportQueuesWhenStudentVanishes(t *testing.T) {
	h := newHarness(t)
	h.addStudent(t, "张三", "1班")
	h.deps.Ledger = vanishingLedger{store: h.store}

	res, err := h.orchestrator().ImportPayload(context.Background(),
		`[{"studentName":"张三","class":"1班","reason":"迟到"}]`)
	require.NoError(t, err)

	assert.Empty(t, res.Committed)
	require.Len(t, res.Pending, 1)
	assert.Equal(t, "张三", res.Pending[0].Candidate.StudentNameRaw)
	assertAccounted(t, res)
}

func TestImportStoresObservations(t *testing.T) {
	h := newHarness(t)
	h.addStudent(t, "张三", "1班")

	payload := `[{"studentName":"张三","reason":"迟到"}]
[{"teacherName":"李明","teachName":"王芳","class":"3班","others":"听课"}]`
	res, err := h.orchestrator().ImportPayload(context.Background(), payload)
	require.NoError(t, err)
	require.Len(t, res.Observations, 1)

	stored, err := h.store.ListObservations(context.Background())
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "李明", stored[0].ObserverTeacher)
	assert.Equal(t, "王芳", stored[0].TeachingTeacher)
	assert.Equal(t, "batch-1", stored[0].BatchID)
	assert.Equal(t, "2026-10-20", stored[0].Date)
}
