package reminder

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/slack-go/slack"

	"scoreledger/internal/domain"
	"scoreledger/internal/logging"
)

const previewLimit = 5

type PendingLister interface {
	List(ctx context.Context, status domain.PendingStatus) ([]domain.PendingRecord, error)
}

// Poster is the subset of *slack.Client used to deliver reminders.
type Poster interface {
	PostMessage(channelID string, options ...slack.MsgOption) (string, string, error)
	OpenConversation(params *slack.OpenConversationParameters) (*slack.Channel, bool, bool, error)
}

type Options struct {
	Schedule    string // 5-field cron
	ChannelID   string
	ReviewerIDs []string
	Location    *time.Location
}

// Reminder tells reviewers how many records wait in the review queue. With
// a channel it posts there and mentions the reviewers; without one it DMs
// each reviewer.
type Reminder struct {
	pending PendingLister
	poster  Poster
	opts    Options
	log     *logrus.Entry
}

func New(pending PendingLister, poster Poster, logger logrus.FieldLogger, opts Options) *Reminder {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Reminder{pending: pending, poster: poster, opts: opts, log: logging.Component(logger, "reminder")}
}

// Start schedules reminders until ctx is done. An empty schedule disables
// the reminder.
func (r *Reminder) Start(ctx context.Context) error {
	schedule := strings.TrimSpace(r.opts.Schedule)
	if schedule == "" {
		r.log.Info("pending reminder disabled (pending_reminder_schedule not set)")
		return nil
	}
	if r.opts.ChannelID == "" && len(r.opts.ReviewerIDs) == 0 {
		r.log.Warn("pending reminder disabled: no review channel or reviewers")
		return nil
	}

	c := cron.New(
		cron.WithLocation(r.opts.Location),
		cron.WithParser(cron.NewParser(cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow)),
	)
	if _, err := c.AddFunc(schedule, func() {
		if _, err := r.RunOnce(ctx); err != nil {
			logging.LogError(r.log, "reminder", "Start", "scheduled reminder", nil, err)
		}
	}); err != nil {
		return fmt.Errorf("invalid pending_reminder_schedule %q: %w", schedule, err)
	}

	r.log.WithFields(logrus.Fields{"cron": schedule, "channel": r.opts.ChannelID, "reviewers": len(r.opts.ReviewerIDs)}).Info("pending reminder scheduled")
	c.Start()
	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
	}()
	return nil
}

// RunOnce sends one reminder and reports how many messages were delivered.
// Nothing is sent when the queue is empty.
func (r *Reminder) RunOnce(ctx context.Context) (int, error) {
	records, err := r.pending.List(ctx, domain.PendingStatusPending)
	if err != nil {
		return 0, fmt.Errorf("listing pending: %w", err)
	}
	if len(records) == 0 {
		r.log.Debug("pending queue empty, no reminder")
		return 0, nil
	}

	if r.opts.ChannelID != "" {
		msg := FormatReminder(records, r.opts.ReviewerIDs, r.opts.Location)
		if _, _, err := r.poster.PostMessage(r.opts.ChannelID, slack.MsgOptionText(msg, false)); err != nil {
			return 0, fmt.Errorf("posting reminder to %s: %w", r.opts.ChannelID, err)
		}
		r.log.WithFields(logrus.Fields{"channel": r.opts.ChannelID, "pending": len(records)}).Info("pending reminder posted")
		return 1, nil
	}

	msg := FormatReminder(records, nil, r.opts.Location)
	sent := 0
	for _, userID := range r.opts.ReviewerIDs {
		channel, _, _, err := r.poster.OpenConversation(&slack.OpenConversationParameters{Users: []string{userID}})
		if err != nil {
			r.log.WithField("user", userID).WithError(err).Warn("opening reminder DM failed")
			continue
		}
		if _, _, err := r.poster.PostMessage(channel.ID, slack.MsgOptionText(msg, false)); err != nil {
			r.log.WithField("user", userID).WithError(err).Warn("sending reminder DM failed")
			continue
		}
		sent++
	}
	r.log.WithFields(logrus.Fields{"sent": sent, "pending": len(records)}).Info("pending reminder DMs sent")
	return sent, nil
}

// FormatReminder renders the queue size and the oldest records.
func FormatReminder(records []domain.PendingRecord, mentionIDs []string, loc *time.Location) string {
	var b strings.Builder
	for _, id := range mentionIDs {
		fmt.Fprintf(&b, "<@%s> ", id)
	}
	fmt.Fprintf(&b, "待处理积分记录 %d 条，请使用 `/pending` 查看并用 `/resolve` 或 `/reject` 处理。", len(records))

	oldest := records
	if len(oldest) > previewLimit {
		oldest = oldest[:previewLimit]
	}
	for _, rec := range oldest {
		c := rec.Candidate
		name := c.StudentNameRaw
		if name == "" {
			name = "(无姓名)"
		}
		fmt.Fprintf(&b, "\n• #%d %s %s %s %s分 (%s)",
			rec.ID, name, c.ClassRaw, c.Reason, c.Points.String(), rec.CreatedAt.In(loc).Format("01-02 15:04"))
	}
	if extra := len(records) - len(oldest); extra > 0 {
		fmt.Fprintf(&b, "\n…另有 %d 条", extra)
	}
	return b.String()
}
