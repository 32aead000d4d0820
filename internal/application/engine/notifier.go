package engine

import (
	"context"
	"html"
	"strings"
	"time"

	"github.com/lyutobor/OneuiBot-sub000/internal/domain/achievement"
	"github.com/lyutobor/OneuiBot-sub000/internal/domain/shared"
	"github.com/lyutobor/OneuiBot-sub000/pkg/logger"
)

// Sender delivers a text message to a chat.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// Announcer is called once per confirmed unlock.
type Announcer interface {
	Announce(ctx context.Context, a Announcement)
}

// Announcement is one confirmed unlock to tell the user about.
type Announcement struct {
	PassID     string
	ChatID     int64
	Definition achievement.Definition
	Record     achievement.UnlockRecord
}

// NotifierConfig toggles delivery. Audit entries are written either way.
type NotifierConfig struct {
	Enabled     bool
	SendTimeout time.Duration
}

// DefaultNotifierConfig returns delivery enabled with a 10s send budget.
func DefaultNotifierConfig() NotifierConfig {
	return NotifierConfig{Enabled: true, SendTimeout: 10 * time.Second}
}

// Notifier sends the unlock message and writes the audit entry.
type Notifier struct {
	sender Sender
	audit  achievement.AuditSink
	ids    IDGenerator
	log    *logger.Logger
	cfg    NotifierConfig
}

// NewNotifier creates a notifier. audit may be nil.
func NewNotifier(sender Sender, audit achievement.AuditSink, ids IDGenerator, log *logger.Logger, cfg NotifierConfig) *Notifier {
	if ids == nil {
		ids = UUIDGenerator{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Notifier{
		sender: sender,
		audit:  audit,
		ids:    ids,
		log:    log.With(logger.Component("notifier")),
		cfg:    cfg,
	}
}

// Announce never fails the unlock: the record is already persisted, so
// delivery and audit errors are only logged.
func (n *Notifier) Announce(ctx context.Context, a Announcement) {
	log := n.log.With(
		logger.PassID(a.PassID),
		logger.UserID(a.Record.UserID),
		logger.ChatID(a.ChatID),
		logger.AchievementKey(a.Record.Key),
	)

	entry := achievement.AuditEntry{
		ID:         n.ids.NewID(),
		PassID:     a.PassID,
		UserID:     a.Record.UserID,
		ChatID:     a.ChatID,
		Key:        a.Record.Key,
		Name:       a.Definition.Display.Name,
		UnlockedAt: a.Record.UnlockedAt,
	}

	if n.cfg.Enabled && n.sender != nil {
		if err := n.send(ctx, a.ChatID, ComposeMessage(a.Definition)); err != nil {
			entry.Error = err.Error()
			log.Warn("achievement notification not delivered", logger.Err(err))
		} else {
			entry.Delivered = true
		}
	}

	if n.audit == nil {
		return
	}
	if err := n.audit.Record(ctx, entry); err != nil {
		log.Warn("achievement audit entry not recorded", logger.Err(err))
	}
}

func (n *Notifier) send(ctx context.Context, chatID int64, text string) error {
	if n.cfg.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.cfg.SendTimeout)
		defer cancel()
	}
	if err := n.sender.Send(ctx, chatID, text); err != nil {
		return shared.WrapError("achievement", "Announce", shared.ErrNotificationFailed, "send", err)
	}
	return nil
}

// ComposeMessage renders the HTML unlock message from the display data.
func ComposeMessage(d achievement.Definition) string {
	name := d.Display.Name
	if name == "" {
		name = d.Key
	}
	icon := d.Display.Icon
	if icon == "" {
		icon = "🎖"
	}

	var b strings.Builder
	b.WriteString("🏆 <b>Новое достижение!</b>\n\n")
	b.WriteString(icon)
	b.WriteString(" <b>")
	b.WriteString(html.EscapeString(name))
	b.WriteString("</b>")
	if d.Display.Description != "" {
		b.WriteString("\n<i>")
		b.WriteString(html.EscapeString(d.Display.Description))
		b.WriteString("</i>")
	}
	return b.String()
}
