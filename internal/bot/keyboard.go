package bot

import (
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/tazhate/healthreminders/internal/domain"
)

const (
	actionDone = "done"
	actionSkip = "skip"
)

func reminderKeyboard(instanceID int64) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Done", fmt.Sprintf("%s:%d", actionDone, instanceID)),
			tgbotapi.NewInlineKeyboardButtonData("⏭ Skip", fmt.Sprintf("%s:%d", actionSkip, instanceID)),
		),
	)
}

// parseCallback splits "done:12" into its action and instance id.
func parseCallback(data string) (action string, id int64, ok bool) {
	action, rawID, found := strings.Cut(data, ":")
	if !found {
		return "", 0, false
	}
	if action != actionDone && action != actionSkip {
		return "", 0, false
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || id <= 0 {
		return "", 0, false
	}
	return action, id, true
}

func outcomeFor(action string) domain.InstanceStatus {
	if action == actionDone {
		return domain.StatusCompleted
	}
	return domain.StatusSkipped
}

func escape(s string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeHTML, s)
}

func formatReminder(n *domain.DueNotification) string {
	return fmt.Sprintf("🔔 <b>%s</b>\n\n%s", escape(n.Title), escape(n.Message))
}

func statusLine(status domain.InstanceStatus) string {
	switch status {
	case domain.StatusCompleted:
		return "✅ Done"
	case domain.StatusSkipped:
		return "⏭ Skipped"
	default:
		return string(status)
	}
}
