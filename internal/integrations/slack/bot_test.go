package slackbot

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scoreledger/internal/domain"
	"scoreledger/internal/importer"
	"scoreledger/internal/logging"
	"scoreledger/internal/pending"
)

type ephemeral struct {
	user   string
	text   string
	blocks string
}

type mockSlack struct {
	mu         sync.Mutex
	ephemerals []ephemeral
}

func (m *mockSlack) sent() []ephemeral {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ephemeral(nil), m.ephemerals...)
}

func newMockSlackAPI(t *testing.T) (*slack.Client, *mockSlack) {
	t.Helper()

	m := &mockSlack{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/api/")
		switch path {
		case "users.list":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"ok": true,
				"members": []map[string]any{
					{
						"id":        "U0REVIEW1",
						"name":      "wang",
						"real_name": "王芳",
						"profile":   map[string]any{"display_name": "王老师"},
					},
				},
			})
		case "chat.postEphemeral":
			_ = r.ParseForm()
			m.mu.Lock()
			m.ephemerals = append(m.ephemerals, ephemeral{
				user:   r.Form.Get("user"),
				text:   r.Form.Get("text"),
				blocks: r.Form.Get("blocks"),
			})
			m.mu.Unlock()
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "message_ts": "1.23"})
		default:
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
		}
	}))
	t.Cleanup(server.Close)

	return slack.New("xoxb-test", slack.OptionAPIURL(server.URL+"/api/")), m
}

type fakeImporter struct {
	result   importer.Result
	err      error
	disposed []importer.Disposition
	items    [][]importer.TeacherOnlyItem
}

func (f *fakeImporter) ImportText(context.Context, string) (importer.Result, error) {
	return f.result, f.err
}

func (f *fakeImporter) ProcessTeacherOnly(_ context.Context, items []importer.TeacherOnlyItem, d importer.Disposition) (importer.TeacherOnlyResult, error) {
	f.disposed = append(f.disposed, d)
	f.items = append(f.items, items)
	return importer.TeacherOnlyResult{Discarded: len(items)}, nil
}

type fakeQueue struct {
	records  []domain.PendingRecord
	resolved []pending.Resolution
	rejected []int64
}

func (q *fakeQueue) List(_ context.Context, status domain.PendingStatus) ([]domain.PendingRecord, error) {
	return q.records, nil
}

func (q *fakeQueue) ResolveBatch(_ context.Context, items []pending.Resolution) []pending.Outcome {
	q.resolved = append(q.resolved, items...)
	out := make([]pending.Outcome, len(items))
	for i, it := range items {
		out[i] = pending.Outcome{ID: it.ID, Entry: &domain.LedgerEntry{ID: 100 + it.ID, StudentID: it.StudentID}}
	}
	return out
}

func (q *fakeQueue) RejectBatch(_ context.Context, ids []int64) []pending.Outcome {
	q.rejected = append(q.rejected, ids...)
	out := make([]pending.Outcome, len(ids))
	for i, id := range ids {
		out[i] = pending.Outcome{ID: id}
		if id == 404 {
			out[i].Err = &domain.NotFoundError{ID: id}
		}
	}
	return out
}

func teacherOnlyResult() importer.Result {
	return importer.Result{
		BatchID: "batch-9",
		Total:   2,
		Committed: []domain.LedgerEntry{
			{ID: 1, StudentID: 7, Reason: "迟到", Points: decimal.NewFromInt(2)},
		},
		TeacherOnly: []importer.TeacherOnlyItem{{
			Candidate: domain.Candidate{Index: 2, TeacherNameRaw: "李明", Reason: "公开课", Points: decimal.NewFromInt(3)},
			Teacher:   &domain.Teacher{ID: 1, Name: "李明", Subject: "数学"},
			Why:       importer.WhyNoStudentReference,
		}},
	}
}

func TestHandleScoreHoldsTeacherOnlyForDisposition(t *testing.T) {
	api, mock := newMockSlackAPI(t)
	imp := &fakeImporter{result: teacherOnlyResult()}
	bot := New(api, imp, &fakeQueue{}, nil, logging.Discard())
	ctx := context.Background()

	bot.handleSlashCommand(ctx, slack.SlashCommand{Command: "/score", Text: "张三 迟到；李明 公开课 3分", UserID: "U0REVIEW1", ChannelID: "C1"})

	sent := mock.sent()
	require.Len(t, sent, 2)
	assert.Contains(t, sent[0].text, "成功 1 条")
	assert.Contains(t, sent[0].text, "仅教师 1 条")
	assert.Contains(t, sent[1].text, "李明(数学) 公开课 3分")
	assert.Contains(t, sent[1].blocks, actionTeacherOnlyDiscard)

	click := slack.InteractionCallback{Type: slack.InteractionTypeBlockActions}
	click.User.ID = "U0REVIEW1"
	click.Channel.ID = "C1"
	click.ActionCallback.BlockActions = []*slack.BlockAction{{ActionID: actionTeacherOnlyDiscard, Value: "batch-9"}}
	bot.handleInteraction(ctx, click)

	require.Equal(t, []importer.Disposition{importer.DispositionDiscard}, imp.disposed)
	require.Len(t, imp.items[0], 1)
	assert.Contains(t, mock.sent()[2].text, "已丢弃 1 条")

	// a second click finds nothing held
	bot.handleInteraction(ctx, click)
	assert.Len(t, imp.disposed, 1)
	assert.Contains(t, mock.sent()[3].text, "已处理过")
}

func TestUndecidedTeacherOnlyIsQueuedAfterTTL(t *testing.T) {
	api, _ := newMockSlackAPI(t)
	imp := &fakeImporter{result: teacherOnlyResult()}
	bot := New(api, imp, &fakeQueue{}, nil, logging.Discard())
	now := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	bot.now = func() time.Time { return now }
	ctx := context.Background()

	bot.handleSlashCommand(ctx, slack.SlashCommand{Command: "/score", Text: "李明 公开课 3分", UserID: "U1", ChannelID: "C1"})

	now = now.Add(time.Hour)
	assert.Equal(t, 0, bot.releaseHeld(ctx, false))
	assert.Empty(t, imp.disposed)

	now = now.Add(defaultHoldTTL)
	assert.Equal(t, 1, bot.releaseHeld(ctx, false))
	require.Equal(t, []importer.Disposition{importer.DispositionStudent}, imp.disposed)
	require.Len(t, imp.items[0], 1)
	assert.Equal(t, "李明", imp.items[0][0].Candidate.TeacherNameRaw)
	assert.Empty(t, bot.held)
}

func TestReleaseAllHeldOnShutdown(t *testing.T) {
	api, _ := newMockSlackAPI(t)
	imp := &fakeImporter{result: teacherOnlyResult()}
	bot := New(api, imp, &fakeQueue{}, nil, logging.Discard())
	ctx := context.Background()

	bot.handleSlashCommand(ctx, slack.SlashCommand{Command: "/score", Text: "李明 公开课 3分", UserID: "U1", ChannelID: "C1"})

	assert.Equal(t, 1, bot.releaseHeld(ctx, true))
	assert.Equal(t, []importer.Disposition{importer.DispositionStudent}, imp.disposed)
	assert.Equal(t, 0, bot.releaseHeld(ctx, true))
}

func TestHandleScoreEchoesMalformedPayload(t *testing.T) {
	api, mock := newMockSlackAPI(t)
	imp := &fakeImporter{err: &domain.MalformedResponseError{Raw: "抱歉，无法识别", Err: errors.New("no array")}}
	bot := New(api, imp, &fakeQueue{}, nil, logging.Discard())

	bot.handleSlashCommand(context.Background(), slack.SlashCommand{Command: "/score", Text: "???", UserID: "U1", ChannelID: "C1"})

	sent := mock.sent()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].text, "抱歉，无法识别")
	assert.Contains(t, sent[0].text, "--payload")
}

func TestResolveRequiresReviewer(t *testing.T) {
	api, mock := newMockSlackAPI(t)
	queue := &fakeQueue{}
	bot := New(api, &fakeImporter{}, queue, []string{"王老师"}, logging.Discard())
	ids, err := bot.ReviewerIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"U0REVIEW1"}, ids)
	ctx := context.Background()

	bot.handleSlashCommand(ctx, slack.SlashCommand{Command: "/resolve", Text: "12=7", UserID: "U0OUTSIDE", ChannelID: "C1"})
	assert.Empty(t, queue.resolved)
	assert.Contains(t, mock.sent()[0].text, "only reviewers")

	bot.handleSlashCommand(ctx, slack.SlashCommand{Command: "/resolve", Text: "12=7, 13=8", UserID: "U0REVIEW1", ChannelID: "C1"})
	assert.Equal(t, []pending.Resolution{{ID: 12, StudentID: 7}, {ID: 13, StudentID: 8}}, queue.resolved)
	assert.Contains(t, mock.sent()[1].text, "Resolved 2 of 2.")
	assert.Contains(t, mock.sent()[1].text, "#12 → score #112")
}

func TestRejectReportsPerIDOutcome(t *testing.T) {
	api, mock := newMockSlackAPI(t)
	queue := &fakeQueue{}
	bot := New(api, &fakeImporter{}, queue, nil, logging.Discard())

	bot.handleSlashCommand(context.Background(), slack.SlashCommand{Command: "/reject", Text: "5 404", UserID: "U1", ChannelID: "C1"})

	assert.Equal(t, []int64{5, 404}, queue.rejected)
	text := mock.sent()[0].text
	assert.Contains(t, text, "Rejected 1 of 2.")
	assert.Contains(t, text, "✗ #404: pending record 404 not found")
}

func TestHandlePendingLists(t *testing.T) {
	api, mock := newMockSlackAPI(t)
	queue := &fakeQueue{records: []domain.PendingRecord{{
		ID:            3,
		Status:        domain.PendingStatusPending,
		Candidate:     domain.Candidate{ClassRaw: "2班", Reason: "集体卫生", Points: decimal.NewFromInt(2)},
		UnboundReason: domain.UnboundNoMatch,
	}}}
	bot := New(api, &fakeImporter{}, queue, nil, logging.Discard())

	bot.handleSlashCommand(context.Background(), slack.SlashCommand{Command: "/pending", UserID: "U1", ChannelID: "C1"})
	text := mock.sent()[0].text
	assert.Contains(t, text, "*pending records: 1*")
	assert.Contains(t, text, "#3 (无姓名) 2班 集体卫生 2分 [no_match]")
}
