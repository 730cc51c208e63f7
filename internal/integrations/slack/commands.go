package slackbot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"scoreledger/internal/domain"
	"scoreledger/internal/importer"
	"scoreledger/internal/pending"
)

const pendingPageSize = 15

// parseResolveArgs reads "ID=STUDENT" pairs separated by spaces, commas or
// newlines.
func parseResolveArgs(text string) ([]pending.Resolution, error) {
	fields := splitArgs(text)
	if len(fields) == 0 {
		return nil, errors.New("Usage: /resolve <pendingID>=<studentID> ...\nExample: /resolve 12=305 13=311")
	}
	out := make([]pending.Resolution, 0, len(fields))
	for _, f := range fields {
		left, right, ok := strings.Cut(f, "=")
		if !ok {
			return nil, fmt.Errorf("invalid pair %q, want <pendingID>=<studentID>", f)
		}
		id, err := parseID(left)
		if err != nil {
			return nil, fmt.Errorf("invalid pending id in %q: %w", f, err)
		}
		sid, err := parseID(right)
		if err != nil {
			return nil, fmt.Errorf("invalid student id in %q: %w", f, err)
		}
		out = append(out, pending.Resolution{ID: id, StudentID: sid})
	}
	return out, nil
}

func parseRejectArgs(text string) ([]int64, error) {
	fields := splitArgs(text)
	if len(fields) == 0 {
		return nil, errors.New("Usage: /reject <pendingID> ...\nExample: /reject 12 13")
	}
	ids := make([]int64, 0, len(fields))
	for _, f := range fields {
		id, err := parseID(f)
		if err != nil {
			return nil, fmt.Errorf("invalid pending id %q: %w", f, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// parsePendingArgs maps "/pending [pending|resolved|rejected|all]" to a
// status filter. Empty means pending.
func parsePendingArgs(text string) (domain.PendingStatus, error) {
	arg := strings.ToLower(strings.TrimSpace(text))
	switch arg {
	case "":
		return domain.PendingStatusPending, nil
	case "all":
		return "", nil
	}
	status := domain.PendingStatus(arg)
	if !status.Valid() {
		return "", fmt.Errorf("unknown status %q (want pending, resolved, rejected or all)", arg)
	}
	return status, nil
}

func splitArgs(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		switch r {
		case ' ', ',', '，', '\n', '\t':
			return true
		}
		return false
	})
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(strings.TrimSpace(s), "#"), 10, 64)
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, fmt.Errorf("id must be positive")
	}
	return id, nil
}

func formatImportSummary(res importer.Result) string {
	sum := res.Summary()
	lines := []string{
		fmt.Sprintf("导入完成：成功 %d 条，待处理 %d 条，仅教师 %d 条，错误 %d 条。",
			sum.SuccessCount, sum.PendingCount, sum.TeacherOnlyCount, sum.ErrorCount),
	}
	for _, e := range res.Committed {
		lines = append(lines, fmt.Sprintf("✓ 学生#%d %s %s分", e.StudentID, e.Reason, e.Points.String()))
	}
	for _, rec := range res.Pending {
		lines = append(lines, "… "+pendingLine(rec))
	}
	for _, msg := range sum.Errors {
		lines = append(lines, "✗ "+msg)
	}
	if len(res.Observations) > 0 {
		lines = append(lines, fmt.Sprintf("听课记录 %d 条已保存。", len(res.Observations)))
	}
	return strings.Join(lines, "\n")
}

func formatTeacherOnly(items []importer.TeacherOnlyItem) string {
	lines := []string{fmt.Sprintf("以下 %d 条记录未指向学生，请选择处理方式：", len(items))}
	for _, item := range items {
		c := item.Candidate
		who := c.TeacherNameRaw
		if who == "" {
			who = c.StudentNameRaw
		}
		if item.Teacher != nil {
			who = fmt.Sprintf("%s(%s)", item.Teacher.Name, item.Teacher.Subject)
		}
		lines = append(lines, fmt.Sprintf("• 第%d条 %s %s %s分", c.Index, who, c.Reason, c.Points.String()))
	}
	return strings.Join(lines, "\n")
}

func formatTeacherOnlyResult(d importer.Disposition, res importer.TeacherOnlyResult) string {
	var msg string
	switch d {
	case importer.DispositionTeacher:
		msg = fmt.Sprintf("已记入教师积分 %d 条。", len(res.Recorded))
	case importer.DispositionStudent:
		msg = fmt.Sprintf("已转入待处理 %d 条。", len(res.Queued))
	default:
		msg = fmt.Sprintf("已丢弃 %d 条。", res.Discarded)
	}
	for _, e := range res.Errors {
		msg += "\n✗ " + e
	}
	return msg
}

func formatPendingList(records []domain.PendingRecord, status domain.PendingStatus) string {
	label := string(status)
	if label == "" {
		label = "all"
	}
	if len(records) == 0 {
		return fmt.Sprintf("No %s records.", label)
	}
	lines := []string{fmt.Sprintf("*%s records: %d*", label, len(records))}
	shown := records
	if len(shown) > pendingPageSize {
		shown = shown[:pendingPageSize]
	}
	for _, rec := range shown {
		lines = append(lines, pendingLine(rec))
	}
	if extra := len(records) - len(shown); extra > 0 {
		lines = append(lines, fmt.Sprintf("…and %d more. Use `scoreledger pending export` for the full list.", extra))
	}
	return strings.Join(lines, "\n")
}

func pendingLine(rec domain.PendingRecord) string {
	c := rec.Candidate
	name := c.StudentNameRaw
	if name == "" {
		name = "(无姓名)"
	}
	line := fmt.Sprintf("#%d %s %s %s %s分 [%s]", rec.ID, name, c.ClassRaw, c.Reason, c.Points.String(), rec.UnboundReason)
	if rec.Status != domain.PendingStatusPending && rec.Status != "" {
		line += " " + string(rec.Status)
	}
	if len(rec.Suggestions) > 0 {
		ids := make([]string, len(rec.Suggestions))
		for i, id := range rec.Suggestions {
			ids[i] = strconv.FormatInt(id, 10)
		}
		line += " 候选: " + strings.Join(ids, ",")
	}
	return line
}

func formatOutcomes(verb string, outcomes []pending.Outcome) string {
	failed := pending.Failed(outcomes)
	lines := []string{fmt.Sprintf("%s %d of %d.", verb, len(outcomes)-failed, len(outcomes))}
	for _, o := range outcomes {
		switch {
		case o.Err != nil:
			lines = append(lines, fmt.Sprintf("✗ #%d: %v", o.ID, o.Err))
		case o.Entry != nil:
			lines = append(lines, fmt.Sprintf("✓ #%d → score #%d", o.ID, o.Entry.ID))
		default:
			lines = append(lines, fmt.Sprintf("✓ #%d", o.ID))
		}
	}
	return strings.Join(lines, "\n")
}
