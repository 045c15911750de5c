package notify

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/tazhate/coursesync/internal/domain"
	"github.com/tazhate/coursesync/internal/engine"
)

// maxListed caps the item titles listed per section
const maxListed = 5

// Sender is the part of tgbotapi.BotAPI used here
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram delivers run summaries to a user's chat
type Telegram struct {
	api Sender
}

// NewTelegram authorizes the bot token
func NewTelegram(token string) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	slog.Info("telegram notifier authorized", "bot", api.Self.UserName)
	return &Telegram{api: api}, nil
}

// NewTelegramWithSender wraps an existing sender
func NewTelegramWithSender(s Sender) *Telegram {
	return &Telegram{api: s}
}

// Notify sends the summary of a run. Users without a chat id are skipped.
func (t *Telegram) Notify(_ context.Context, user *domain.User, report *engine.CombinedReport, runErr error) error {
	if user == nil || user.TelegramChatID == 0 {
		return nil
	}
	text := Format(report)
	if runErr != nil {
		text = "❌ <b>Sync failed</b>\n\n" + html.EscapeString(runErr.Error())
	}
	msg := tgbotapi.NewMessage(user.TelegramChatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if _, err := t.api.Send(msg); err != nil {
		return fmt.Errorf("send to %d: %w", user.TelegramChatID, err)
	}
	return nil
}

// Format renders a report as Telegram HTML
func Format(r *engine.CombinedReport) string {
	if r == nil {
		return "❌ <b>Sync failed</b>"
	}

	var b strings.Builder
	if r.Failed() {
		b.WriteString("⚠️ <b>Sync finished with failures</b>\n")
	} else {
		b.WriteString("✅ <b>Sync finished</b>\n")
	}
	fmt.Fprintf(&b, "Parsed %d items, %d filtered out\n", r.Metadata.TotalParsed, r.Metadata.FilteredOut)

	writeOutcome(&b, "📅 Calendar", &r.Calendar, r.CalendarSummary)
	writeOutcome(&b, "📋 Tasks", &r.Tasks, r.TasksSummary)

	for _, c := range r.PolicyChanges.Tasks.Removed {
		fmt.Fprintf(&b, "\nRemoved from tasks: %s", html.EscapeString(c))
	}
	for _, c := range r.PolicyChanges.Calendar.Removed {
		fmt.Fprintf(&b, "\nRemoved from calendar: %s", html.EscapeString(c))
	}
	return strings.TrimRight(b.String(), "\n")
}

func writeOutcome(b *strings.Builder, title string, o *engine.Outcome, s engine.Summary) {
	fmt.Fprintf(b, "\n<b>%s</b>\n", title)
	if o.Aborted {
		msg := "destination failed"
		if len(o.Errors) > 0 {
			msg = o.Errors[0].Message
		}
		fmt.Fprintf(b, "Skipped: %s\n", html.EscapeString(msg))
		return
	}
	fmt.Fprintf(b, "+%d  ~%d  -%d  =%d", s.Created, s.Updated, s.Deleted, s.Unchanged)
	if s.Errored > 0 {
		fmt.Fprintf(b, "  ❗%d", s.Errored)
	}
	b.WriteString("\n")
	if s.CollectionsCreated > 0 {
		fmt.Fprintf(b, "New lists: %s\n", html.EscapeString(strings.Join(o.Collections.Created, ", ")))
	}
	writeRefs(b, "New", o.Created)
	writeRefs(b, "Removed", o.Deleted)
}

func writeRefs(b *strings.Builder, label string, refs []engine.ItemRef) {
	for i, ref := range refs {
		if i == maxListed {
			fmt.Fprintf(b, "  … and %d more\n", len(refs)-maxListed)
			return
		}
		fmt.Fprintf(b, "  %s: %s\n", label, html.EscapeString(ref.Title))
	}
}
