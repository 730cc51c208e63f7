package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"scoreledger/internal/domain"
	"scoreledger/internal/resolve"
)

func TestWritePending(t *testing.T) {
	snap := resolve.NewSnapshot([]domain.Student{
		{ID: 7, Name: "张三", Class: "1班"},
		{ID: 9, Name: "张三", Class: "2班"},
	}, nil)
	records := []domain.PendingRecord{{
		ID:     3,
		Status: domain.PendingStatusPending,
		Candidate: domain.Candidate{
			StudentNameRaw: "张三",
			Reason:         "迟到",
			TeacherNameRaw: "李老师",
			Points:         decimal.NewFromInt(-2),
			BatchID:        "b1",
		},
		UnboundReason: domain.UnboundAmbiguous,
		Suggestions:   []int64{7, 9, 42},
		CreatedAt:     time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC),
	}}

	var buf bytes.Buffer
	require.NoError(t, WritePending(&buf, records, snap))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(PendingSheet)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, pendingHeaders, rows[0])
	assert.Equal(t, "3", rows[1][0])
	assert.Equal(t, "pending", rows[1][1])
	assert.Equal(t, "张三", rows[1][2])
	assert.Equal(t, "-2", rows[1][6])
	assert.Equal(t, "ambiguous", rows[1][10])
	assert.Equal(t, "张三(1班)#7; 张三(2班)#9; #42", rows[1][11])
	assert.Equal(t, "2026-10-19 09:00:00", rows[1][13])
}

func TestWriteTally(t *testing.T) {
	totals := []domain.StudentTotal{
		{Student: domain.Student{Name: "张三", Class: "1班"}, TotalPoints: decimal.RequireFromString("4.5"), RecordCount: 2},
		{Student: domain.Student{Name: "李四", Class: "2班"}, TotalPoints: decimal.Zero},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteTally(&buf, totals))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(TallySheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"1", "张三", "", "1班", "4.5", "2"}, rows[1])
	assert.Equal(t, "李四", rows[2][1])
}
