package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"scoreledger/internal/domain"
)

const (
	PendingSheet = "待处理"
	TallySheet   = "积分汇总"
)

// StudentLookup resolves suggestion ids to display names. A nil lookup
// prints the raw ids.
type StudentLookup interface {
	Student(id int64) (domain.Student, bool)
}

var pendingHeaders = []string{
	"ID", "状态", "学生姓名", "学号", "班级", "原因", "分数", "教师", "科目", "备注",
	"未匹配原因", "候选学生", "批次", "创建时间",
}

// WritePending writes the review queue as a single-sheet workbook.
func WritePending(w io.Writer, records []domain.PendingRecord, students StudentLookup) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", PendingSheet); err != nil {
		return err
	}
	if err := writeRow(f, PendingSheet, 1, toAny(pendingHeaders)); err != nil {
		return err
	}
	for i, rec := range records {
		c := rec.Candidate
		row := []any{
			rec.ID,
			string(rec.Status),
			c.StudentNameRaw,
			c.StudentIDRaw,
			c.ClassRaw,
			c.Reason,
			c.Points.InexactFloat64(),
			c.TeacherNameRaw,
			c.SubjectRaw,
			c.Notes,
			rec.UnboundReason,
			suggestionLabels(rec.Suggestions, students),
			c.BatchID,
			rec.CreatedAt.Format("2006-01-02 15:04:05"),
		}
		if err := writeRow(f, PendingSheet, i+2, row); err != nil {
			return err
		}
	}
	if err := f.SetPanes(PendingSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return err
	}
	return f.Write(w)
}

// WriteTally writes per-student totals, highest first as given.
func WriteTally(w io.Writer, totals []domain.StudentTotal) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", TallySheet); err != nil {
		return err
	}
	if err := writeRow(f, TallySheet, 1, []any{"排名", "学生姓名", "学号", "班级", "总分", "记录数"}); err != nil {
		return err
	}
	for i, t := range totals {
		row := []any{
			i + 1,
			t.Student.Name,
			t.Student.StudentID,
			t.Student.Class,
			t.TotalPoints.InexactFloat64(),
			t.RecordCount,
		}
		if err := writeRow(f, TallySheet, i+2, row); err != nil {
			return err
		}
	}
	return f.Write(w)
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}

func suggestionLabels(ids []int64, students StudentLookup) string {
	labels := make([]string, 0, len(ids))
	for _, id := range ids {
		if students != nil {
			if st, ok := students.Student(id); ok {
				labels = append(labels, fmt.Sprintf("%s(%s)#%d", st.Name, st.Class, id))
				continue
			}
		}
		labels = append(labels, fmt.Sprintf("#%d", id))
	}
	return strings.Join(labels, "; ")
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
