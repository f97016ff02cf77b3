package bot

import (
	"context"
	"errors"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/tazhate/healthreminders/internal/domain"
)

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.Message != nil {
		b.handleMessage(ctx, update.Message)
	} else if update.CallbackQuery != nil {
		b.handleCallback(ctx, update.CallbackQuery)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || !msg.IsCommand() {
		return
	}

	user, err := b.users.EnsureTelegramUser(ctx, msg.From.ID, displayName(msg.From))
	if err != nil {
		b.log.WithComponent("bot").WithError(err).Error("Failed to resolve user")
		b.SendMessage(msg.Chat.ID, "❌ Something went wrong, try again later")
		return
	}

	b.handleCommand(ctx, msg, user)
}

func (b *Bot) handleCallback(ctx context.Context, callback *tgbotapi.CallbackQuery) {
	action, instanceID, ok := parseCallback(callback.Data)
	if !ok {
		b.answer(callback.ID, "Unknown action")
		return
	}

	user, err := b.users.EnsureTelegramUser(ctx, callback.From.ID, displayName(callback.From))
	if err != nil {
		b.log.WithComponent("bot").WithError(err).Error("Failed to resolve user")
		b.answer(callback.ID, "❌ Something went wrong")
		return
	}

	n, err := b.queue.Resolve(ctx, instanceID, user.ID, string(outcomeFor(action)), nil)
	if err != nil {
		var ar *domain.AlreadyResolvedError
		var nf *domain.NotFoundError
		switch {
		case errors.As(err, &ar):
			b.answer(callback.ID, "Already "+string(ar.Status))
		case errors.As(err, &nf):
			b.answer(callback.ID, "Reminder not found")
		default:
			b.log.WithComponent("bot").WithError(err).WithField("instance_id", instanceID).Error("Resolve failed")
			b.answer(callback.ID, "❌ Something went wrong")
		}
		return
	}

	b.answer(callback.ID, statusLine(n.Status))

	if callback.Message != nil {
		text := callback.Message.Text + "\n\n" + statusLine(n.Status)
		edit := tgbotapi.NewEditMessageText(callback.Message.Chat.ID, callback.Message.MessageID, escape(text))
		edit.ParseMode = tgbotapi.ModeHTML
		if _, err := b.api.Request(edit); err != nil {
			b.log.WithComponent("bot").WithError(err).Warn("Failed to edit reminder message")
		}
	}
}

func (b *Bot) answer(callbackID, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		b.log.WithComponent("bot").WithError(err).Warn("Failed to answer callback")
	}
}

func displayName(u *tgbotapi.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.UserName
	}
	return name
}
