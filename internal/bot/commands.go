package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/tazhate/healthreminders/internal/domain"
	"github.com/tazhate/healthreminders/internal/recurrence"
)

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message, user *domain.User) {
	chatID := msg.Chat.ID
	args := strings.TrimSpace(msg.CommandArguments())

	switch msg.Command() {
	case "start":
		b.SendMessage(chatID, fmt.Sprintf("👋 Hi, %s!\n\nI will remind you to log your health data.\n\n/help — list of commands", escape(user.Name)))
	case "help":
		b.cmdHelp(chatID)
	case "due":
		b.cmdDue(ctx, chatID, user)
	case "schedules":
		b.cmdSchedules(ctx, chatID, user)
	case "variables":
		b.cmdVariables(ctx, chatID)
	case "track":
		b.cmdTrack(ctx, chatID, user, args)
	default:
		b.SendMessage(chatID, "Unknown command. /help for the list of commands")
	}
}

func (b *Bot) cmdHelp(chatID int64) {
	text := `<b>Commands:</b>

/due — reminders waiting for you
/schedules — your reminder schedules
/variables — what can be tracked
/track name — daily reminder for a variable`
	b.SendMessage(chatID, text)
}

func (b *Bot) cmdDue(ctx context.Context, chatID int64, user *domain.User) {
	due, err := b.queue.ListPendingDue(ctx, user.ID, b.clock())
	if err != nil {
		b.reportError(chatID, err)
		return
	}
	if len(due) == 0 {
		b.SendMessage(chatID, "Nothing due 🎉")
		return
	}
	for _, n := range due {
		if err := b.SendReminder(chatID, n); err != nil {
			b.log.WithComponent("bot").WithError(err).Warn("Failed to send due reminder")
		}
	}
}

func (b *Bot) cmdSchedules(ctx context.Context, chatID int64, user *domain.User) {
	list, err := b.schedules.List(ctx, user.ID)
	if err != nil {
		b.reportError(chatID, err)
		return
	}
	if len(list) == 0 {
		b.SendMessage(chatID, "No schedules yet. /track name to add one")
		return
	}

	var sb strings.Builder
	sb.WriteString("🗓 <b>Schedules</b>\n")
	for _, sc := range list {
		sb.WriteString("\n" + formatSchedule(sc))
	}
	b.SendMessage(chatID, sb.String())
}

func (b *Bot) cmdVariables(ctx context.Context, chatID int64) {
	vars, err := b.variables.ListGlobalVariables(ctx)
	if err != nil {
		b.reportError(chatID, err)
		return
	}
	if len(vars) == 0 {
		b.SendMessage(chatID, "Nothing to track yet")
		return
	}

	var sb strings.Builder
	sb.WriteString("📋 <b>Variables</b>\n")
	for _, v := range vars {
		fmt.Fprintf(&sb, "\n• %s <i>(%s)</i>", escape(v.Name), v.Category)
	}
	b.SendMessage(chatID, sb.String())
}

func (b *Bot) cmdTrack(ctx context.Context, chatID int64, user *domain.User, name string) {
	if name == "" {
		b.SendMessage(chatID, "Usage: /track name")
		return
	}

	vars, err := b.variables.ListGlobalVariables(ctx)
	if err != nil {
		b.reportError(chatID, err)
		return
	}
	var found *domain.GlobalVariable
	for _, v := range vars {
		if strings.EqualFold(v.Name, name) {
			found = v
			break
		}
	}
	if found == nil {
		b.SendMessage(chatID, fmt.Sprintf("Unknown variable %q. /variables for the list", escape(name)))
		return
	}

	sc, err := b.schedules.CreateDefault(ctx, user.ID, found.ID, user.Timezone)
	if err != nil {
		b.reportError(chatID, err)
		return
	}
	b.SendMessage(chatID, "✅ Tracking "+escape(found.Name)+"\n\n"+formatSchedule(sc))
}

func (b *Bot) reportError(chatID int64, err error) {
	if domain.IsUserError(err) {
		b.SendMessage(chatID, "❌ "+escape(err.Error()))
		return
	}
	b.log.WithComponent("bot").WithError(err).Error("Command failed")
	b.SendMessage(chatID, "❌ Something went wrong, try again later")
}

func formatSchedule(sc *domain.Schedule) string {
	line := fmt.Sprintf("<b>#%d</b> %s", sc.ID, escape(describeRule(sc.Spec)))
	if !sc.IsActive {
		return line + " — paused"
	}
	if sc.NextTriggerAt == nil {
		return line + " — finished"
	}
	next := *sc.NextTriggerAt
	if loc, err := time.LoadLocation(sc.Spec.Timezone); err == nil {
		next = next.In(loc)
	}
	return line + "\n   next: " + next.Format("Mon 02.01 15:04")
}

func describeRule(spec domain.RecurrenceSpec) string {
	rule, err := recurrence.NewRule(spec)
	if err != nil {
		return string(spec.Frequency)
	}
	return rule.String()
}
