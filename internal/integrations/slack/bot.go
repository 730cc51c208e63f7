package slackbot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"

	"scoreledger/internal/domain"
	"scoreledger/internal/importer"
	"scoreledger/internal/logging"
	"scoreledger/internal/pending"
)

const (
	actionTeacherOnlyTeacher = "teacher_only_teacher"
	actionTeacherOnlyStudent = "teacher_only_student"
	actionTeacherOnlyDiscard = "teacher_only_discard"
	blockTeacherOnlyActions  = "teacher_only_actions"

	maxRawEcho = 2500

	defaultHoldTTL    = 24 * time.Hour
	holdSweepInterval = 10 * time.Minute
)

type Importer interface {
	ImportText(ctx context.Context, rawText string) (importer.Result, error)
	ProcessTeacherOnly(ctx context.Context, items []importer.TeacherOnlyItem, d importer.Disposition) (importer.TeacherOnlyResult, error)
}

type ReviewQueue interface {
	List(ctx context.Context, status domain.PendingStatus) ([]domain.PendingRecord, error)
	ResolveBatch(ctx context.Context, items []pending.Resolution) []pending.Outcome
	RejectBatch(ctx context.Context, ids []int64) []pending.Outcome
}

// Bot serves the score slash commands over Socket Mode.
type Bot struct {
	api       *slack.Client
	importer  Importer
	queue     ReviewQueue
	users     *userDirectory
	reviewers []string
	log       *logrus.Entry

	holdTTL time.Duration
	now     func() time.Time

	mu          sync.Mutex
	reviewerIDs map[string]bool
	held        map[string]heldBatch // by batch id, awaiting a disposition
}

type heldBatch struct {
	items  []importer.TeacherOnlyItem
	heldAt time.Time
}

func New(api *slack.Client, imp Importer, queue ReviewQueue, reviewers []string, logger logrus.FieldLogger) *Bot {
	log := logging.Component(logger, "slack")
	return &Bot{
		api:       api,
		importer:  imp,
		queue:     queue,
		users:     &userDirectory{api: api, log: log},
		reviewers: reviewers,
		log:       log,
		holdTTL:   defaultHoldTTL,
		now:       time.Now,
		held:      make(map[string]heldBatch),
	}
}

// ReviewerIDs resolves the configured reviewers to Slack user IDs. Names
// that match no workspace user are logged and skipped.
func (b *Bot) ReviewerIDs() ([]string, error) {
	ids, unresolved, err := b.users.resolveUserIDs(b.reviewers)
	if len(unresolved) > 0 {
		b.log.WithField("names", strings.Join(unresolved, ", ")).Warn("unresolved reviewers")
	}
	b.mu.Lock()
	b.reviewerIDs = make(map[string]bool, len(ids))
	for _, id := range ids {
		b.reviewerIDs[id] = true
	}
	b.mu.Unlock()
	return ids, err
}

// isReviewer reports whether userID may resolve, reject or dispose. With no
// reviewers configured everyone may.
func (b *Bot) isReviewer(userID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.reviewers) == 0 {
		return true
	}
	return b.reviewerIDs[userID]
}

// Run connects via Socket Mode and blocks until ctx is done or the
// connection fails.
func (b *Bot) Run(ctx context.Context) error {
	if _, err := b.ReviewerIDs(); err != nil {
		b.log.WithError(err).Warn("resolving reviewers failed")
	}
	client := socketmode.New(b.api)

	go func() {
		for evt := range client.Events {
			switch evt.Type {
			case socketmode.EventTypeSlashCommand:
				client.Ack(*evt.Request)
				cmd, ok := evt.Data.(slack.SlashCommand)
				if !ok {
					continue
				}
				b.log.WithFields(logrus.Fields{"command": cmd.Command, "user": cmd.UserID, "channel": cmd.ChannelID}).Info("slash command received")
				go b.handleSlashCommand(ctx, cmd)
			case socketmode.EventTypeInteractive:
				client.Ack(*evt.Request)
				callback, ok := evt.Data.(slack.InteractionCallback)
				if !ok {
					continue
				}
				go b.handleInteraction(ctx, callback)
			}
		}
	}()

	go b.sweepHeld(ctx)

	b.log.Info("slack bot connected via socket mode")
	err := client.RunContext(ctx)
	b.releaseHeld(context.WithoutCancel(ctx), true)
	return err
}

func (b *Bot) sweepHeld(ctx context.Context) {
	ticker := time.NewTicker(holdSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.releaseHeld(ctx, false)
		}
	}
}

// releaseHeld moves teacher-only batches nobody decided on into the pending
// queue so they survive a restart and stay reviewable. Only batches older
// than holdTTL are released unless all is set. It returns the number of
// batches released.
func (b *Bot) releaseHeld(ctx context.Context, all bool) int {
	cutoff := b.now().Add(-b.holdTTL)
	released := make(map[string][]importer.TeacherOnlyItem)
	b.mu.Lock()
	for batchID, h := range b.held {
		if all || !h.heldAt.After(cutoff) {
			released[batchID] = h.items
			delete(b.held, batchID)
		}
	}
	b.mu.Unlock()

	for batchID, items := range released {
		res, err := b.importer.ProcessTeacherOnly(ctx, items, importer.DispositionStudent)
		if err != nil {
			logging.LogError(b.log, "slack", "releaseHeld", "queue undecided teacher-only", map[string]string{"batch": batchID}, err)
			continue
		}
		b.log.WithFields(logrus.Fields{"batch": batchID, "queued": len(res.Queued), "errors": len(res.Errors)}).Info("undecided teacher-only records queued")
	}
	return len(released)
}

func (b *Bot) handleSlashCommand(ctx context.Context, cmd slack.SlashCommand) {
	switch cmd.Command {
	case "/score":
		b.handleScore(ctx, cmd)
	case "/pending":
		b.handlePending(ctx, cmd)
	case "/resolve":
		b.handleResolve(ctx, cmd)
	case "/reject":
		b.handleReject(ctx, cmd)
	case "/score-help":
		b.postEphemeral(cmd.ChannelID, cmd.UserID, helpText)
	}
}

const helpText = "*ScoreLedger Commands*\n" +
	"`/score <文字>` — 从自由文本导入积分记录。\n" +
	">*Example:* `/score 张三 1班 迟到 -2分 李老师`\n" +
	"`/pending [pending|resolved|rejected|all]` — 查看待处理记录。\n" +
	"`/resolve <pendingID>=<studentID> ...` — 指定学生并入账。\n" +
	"`/reject <pendingID> ...` — 驳回记录。\n" +
	"`/score-help` — 显示本帮助。"

func (b *Bot) handleScore(ctx context.Context, cmd slack.SlashCommand) {
	text := strings.TrimSpace(cmd.Text)
	if text == "" {
		b.postEphemeral(cmd.ChannelID, cmd.UserID, "Usage: /score <文字>\nExample: /score 张三 1班 迟到 -2分 李老师")
		return
	}

	res, err := b.importer.ImportText(ctx, text)
	if err != nil {
		var malformed *domain.MalformedResponseError
		if errors.As(err, &malformed) {
			b.postEphemeral(cmd.ChannelID, cmd.UserID,
				"模型返回的内容无法解析，请修正后用 `scoreledger import --payload` 重新导入：\n```"+truncate(malformed.Raw, maxRawEcho)+"```")
			return
		}
		b.postEphemeral(cmd.ChannelID, cmd.UserID, fmt.Sprintf("导入失败：%v", err))
		logging.LogError(b.log, "slack", "handleScore", "import text", map[string]string{"user": cmd.UserID}, err)
		return
	}

	b.postEphemeral(cmd.ChannelID, cmd.UserID, formatImportSummary(res))
	if len(res.TeacherOnly) == 0 {
		return
	}

	b.mu.Lock()
	b.held[res.BatchID] = heldBatch{items: res.TeacherOnly, heldAt: b.now()}
	b.mu.Unlock()
	b.postTeacherOnlyPrompt(cmd.ChannelID, cmd.UserID, res.BatchID, res.TeacherOnly)
}

func (b *Bot) postTeacherOnlyPrompt(channelID, userID, batchID string, items []importer.TeacherOnlyItem) {
	text := formatTeacherOnly(items)
	button := func(actionID, label string, style slack.Style) *slack.ButtonBlockElement {
		btn := slack.NewButtonBlockElement(actionID, batchID, slack.NewTextBlockObject(slack.PlainTextType, label, false, false))
		if style != "" {
			btn.Style = style
		}
		return btn
	}
	blocks := []slack.Block{
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, text, false, false), nil, nil),
		slack.NewActionBlock(blockTeacherOnlyActions,
			button(actionTeacherOnlyTeacher, "记为教师积分", slack.StylePrimary),
			button(actionTeacherOnlyStudent, "转入待处理", ""),
			button(actionTeacherOnlyDiscard, "丢弃", slack.StyleDanger),
		),
	}
	if _, err := b.api.PostEphemeral(channelID, userID, slack.MsgOptionText(text, false), slack.MsgOptionBlocks(blocks...)); err != nil {
		b.log.WithError(err).Warn("posting teacher-only prompt failed")
	}
}

func (b *Bot) handlePending(ctx context.Context, cmd slack.SlashCommand) {
	status, err := parsePendingArgs(cmd.Text)
	if err != nil {
		b.postEphemeral(cmd.ChannelID, cmd.UserID, err.Error())
		return
	}
	records, err := b.queue.List(ctx, status)
	if err != nil {
		b.postEphemeral(cmd.ChannelID, cmd.UserID, fmt.Sprintf("Error loading pending records: %v", err))
		logging.LogError(b.log, "slack", "handlePending", "list pending", nil, err)
		return
	}
	b.postEphemeral(cmd.ChannelID, cmd.UserID, formatPendingList(records, status))
}

func (b *Bot) handleResolve(ctx context.Context, cmd slack.SlashCommand) {
	if !b.isReviewer(cmd.UserID) {
		b.postEphemeral(cmd.ChannelID, cmd.UserID, "Sorry, only reviewers can resolve pending records.")
		return
	}
	items, err := parseResolveArgs(cmd.Text)
	if err != nil {
		b.postEphemeral(cmd.ChannelID, cmd.UserID, err.Error())
		return
	}
	outcomes := b.queue.ResolveBatch(ctx, items)
	b.log.WithFields(logrus.Fields{"user": cmd.UserID, "items": len(items), "failed": pending.Failed(outcomes)}).Info("resolve via slack")
	b.postEphemeral(cmd.ChannelID, cmd.UserID, formatOutcomes("Resolved", outcomes))
}

func (b *Bot) handleReject(ctx context.Context, cmd slack.SlashCommand) {
	if !b.isReviewer(cmd.UserID) {
		b.postEphemeral(cmd.ChannelID, cmd.UserID, "Sorry, only reviewers can reject pending records.")
		return
	}
	ids, err := parseRejectArgs(cmd.Text)
	if err != nil {
		b.postEphemeral(cmd.ChannelID, cmd.UserID, err.Error())
		return
	}
	outcomes := b.queue.RejectBatch(ctx, ids)
	b.log.WithFields(logrus.Fields{"user": cmd.UserID, "items": len(ids), "failed": pending.Failed(outcomes)}).Info("reject via slack")
	b.postEphemeral(cmd.ChannelID, cmd.UserID, formatOutcomes("Rejected", outcomes))
}

func (b *Bot) handleInteraction(ctx context.Context, cb slack.InteractionCallback) {
	if cb.Type != slack.InteractionTypeBlockActions || len(cb.ActionCallback.BlockActions) == 0 {
		return
	}
	act := cb.ActionCallback.BlockActions[0]
	channelID := cb.Channel.ID
	if channelID == "" {
		channelID = cb.Container.ChannelID
	}
	userID := cb.User.ID

	var d importer.Disposition
	switch act.ActionID {
	case actionTeacherOnlyTeacher:
		d = importer.DispositionTeacher
	case actionTeacherOnlyStudent:
		d = importer.DispositionStudent
	case actionTeacherOnlyDiscard:
		d = importer.DispositionDiscard
	default:
		return
	}

	if !b.isReviewer(userID) {
		b.postEphemeral(channelID, userID, "Sorry, only reviewers can decide teacher-only records.")
		return
	}

	batchID := act.Value
	b.mu.Lock()
	h, ok := b.held[batchID]
	delete(b.held, batchID)
	b.mu.Unlock()
	if !ok {
		b.postEphemeral(channelID, userID, "这批记录已处理过或已转入待处理队列。")
		return
	}

	res, err := b.importer.ProcessTeacherOnly(ctx, h.items, d)
	if err != nil {
		b.postEphemeral(channelID, userID, fmt.Sprintf("处理失败：%v", err))
		logging.LogError(b.log, "slack", "handleInteraction", "process teacher-only", map[string]string{"batch": batchID}, err)
		return
	}
	b.postEphemeral(channelID, userID, formatTeacherOnlyResult(d, res))
}

func (b *Bot) postEphemeral(channelID, userID, text string) {
	if _, err := b.api.PostEphemeral(channelID, userID, slack.MsgOptionText(text, false)); err != nil {
		b.log.WithError(err).Warn("posting ephemeral failed")
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
