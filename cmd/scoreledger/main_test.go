package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scoreledger/internal/domain"
	"scoreledger/internal/importer"
)

func TestReadInput(t *testing.T) {
	text, err := readInput(strings.NewReader("张三 迟到"), nil)
	require.NoError(t, err)
	assert.Equal(t, "张三 迟到", text)

	text, err = readInput(strings.NewReader("stdin"), []string{"-"})
	require.NoError(t, err)
	assert.Equal(t, "stdin", text)

	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("李四 早退"), 0o644))
	text, err = readInput(nil, []string{path})
	require.NoError(t, err)
	assert.Equal(t, "李四 早退", text)

	_, err = readInput(nil, []string{filepath.Join(t.TempDir(), "missing.txt")})
	assert.Error(t, err)
}

func TestHandleMalformedSavesRaw(t *testing.T) {
	rawOut := filepath.Join(t.TempDir(), "raw.txt")
	importRawOut = rawOut
	t.Cleanup(func() { importRawOut = "" })

	err := handleMalformed(&domain.MalformedResponseError{Raw: "not json", Err: errors.New("no array")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--payload "+rawOut)
	var malformed *domain.MalformedResponseError
	assert.ErrorAs(t, err, &malformed)

	saved, readErr := os.ReadFile(rawOut)
	require.NoError(t, readErr)
	assert.Equal(t, "not json", string(saved))

	other := errors.New("boom")
	assert.Equal(t, other, handleMalformed(other))
}

func TestPrintImportResult(t *testing.T) {
	res := importer.Result{
		BatchID:   "b1",
		Total:     3,
		Committed: []domain.LedgerEntry{{ID: 1, StudentID: 7, Points: decimal.NewFromInt(2), Reason: "迟到"}},
		Pending: []domain.PendingRecord{{
			ID:            2,
			Candidate:     domain.Candidate{ClassRaw: "2班", Reason: "集体卫生"},
			UnboundReason: domain.UnboundNoMatch,
		}},
		TeacherOnly: []importer.TeacherOnlyItem{{
			Candidate: domain.Candidate{Index: 3, TeacherNameRaw: "王老师", Reason: "值班"},
			Why:       importer.WhyNoStudentReference,
		}},
	}

	var buf bytes.Buffer
	printImportResult(&buf, res)
	out := buf.String()
	assert.Contains(t, out, "batch b1: total=3 committed=1 pending=1 teacher-only=1 errors=0")
	assert.Contains(t, out, `pending #2 "" 2班 集体卫生 [no_match]`)
	assert.Contains(t, out, "teacher-only item 3 王老师 值班 (no_student_reference)")
}

func TestJoinIDs(t *testing.T) {
	assert.Equal(t, "3,5", joinIDs([]int64{3, 5}))
	assert.Equal(t, "", joinIDs(nil))
}

func TestRunClosesApplicationWhenCommandFails(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CONFIG_PATH", filepath.Join(dir, "missing-config.yaml"))
	t.Setenv("DB_PATH", filepath.Join(dir, "cli.db"))
	t.Setenv("TIMEZONE", "UTC")
	t.Setenv("LOG_LEVEL", "error")
	t.Cleanup(func() { _ = closeApplication() })

	err := run(context.Background(), []string{"pending", "resolve", "12"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid pair")
	assert.Nil(t, application)

	require.NoError(t, run(context.Background(), []string{"pending", "list"}))
	assert.Nil(t, application)
}
