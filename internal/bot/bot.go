package bot

import (
	"context"
	"fmt"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/tazhate/healthreminders/config"
	"github.com/tazhate/healthreminders/internal/domain"
	"github.com/tazhate/healthreminders/internal/logger"
	"github.com/tazhate/healthreminders/internal/service"
)

const webhookPath = "/bot"

type Bot struct {
	api       *tgbotapi.BotAPI
	cfg       *config.Config
	users     *service.UserService
	variables *service.VariableService
	schedules *service.ScheduleManager
	queue     *service.NotificationQueue
	clock     service.Clock
	log       *logger.Logger
}

func New(cfg *config.Config, users *service.UserService, variables *service.VariableService, schedules *service.ScheduleManager, queue *service.NotificationQueue, log *logger.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	log.WithComponent("bot").WithField("username", api.Self.UserName).Info("Authorized")

	bot := newBot(api, cfg, users, variables, schedules, queue, log)
	bot.setCommands()
	return bot, nil
}

func newBot(api *tgbotapi.BotAPI, cfg *config.Config, users *service.UserService, variables *service.VariableService, schedules *service.ScheduleManager, queue *service.NotificationQueue, log *logger.Logger) *Bot {
	return &Bot{
		api:       api,
		cfg:       cfg,
		users:     users,
		variables: variables,
		schedules: schedules,
		queue:     queue,
		clock:     service.SystemClock,
		log:       log,
	}
}

func (b *Bot) setCommands() {
	commands := []tgbotapi.BotCommand{
		{Command: "due", Description: "🔔 Reminders waiting for you"},
		{Command: "schedules", Description: "🗓 Your reminder schedules"},
		{Command: "variables", Description: "📋 What can be tracked"},
		{Command: "track", Description: "➕ Daily reminder for a variable"},
		{Command: "help", Description: "❓ Help"},
	}

	cfg := tgbotapi.NewSetMyCommands(commands...)
	if _, err := b.api.Request(cfg); err != nil {
		b.log.WithComponent("bot").WithError(err).Warn("Failed to set commands")
	}
}

// SetupWebhook points Telegram at WebhookURL + /bot.
func (b *Bot) SetupWebhook() error {
	webhookURL := b.cfg.WebhookURL + webhookPath

	wh, err := tgbotapi.NewWebhook(webhookURL)
	if err != nil {
		return fmt.Errorf("create webhook: %w", err)
	}

	if _, err := b.api.Request(wh); err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}

	info, err := b.api.GetWebhookInfo()
	if err != nil {
		return fmt.Errorf("get webhook info: %w", err)
	}
	if info.LastErrorDate != 0 {
		b.log.WithComponent("bot").WithField("error", info.LastErrorMessage).Warn("Webhook reported an error")
	}

	b.log.WithComponent("bot").WithField("url", webhookURL).Info("Webhook set")
	return nil
}

// WebhookPath is where WebhookHandler must be mounted.
func (b *Bot) WebhookPath() string { return webhookPath }

// WebhookHandler handles updates pushed by Telegram.
func (b *Bot) WebhookHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		update, err := b.api.HandleUpdate(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), b.cfg.OperationTimeout)
		defer cancel()
		b.handleUpdate(ctx, *update)
		w.WriteHeader(http.StatusOK)
	}
}

// Poll receives updates by long polling until ctx is done. Used when no
// webhook URL is configured.
func (b *Bot) Poll(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := b.api.GetUpdatesChan(u)
	defer b.api.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return
		case update := <-updates:
			uctx, cancel := context.WithTimeout(ctx, b.cfg.OperationTimeout)
			b.handleUpdate(uctx, update)
			cancel()
		}
	}
}

func (b *Bot) SendMessage(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) SendMessageWithKeyboard(chatID int64, text string, keyboard tgbotapi.InlineKeyboardMarkup) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = keyboard
	_, err := b.api.Send(msg)
	return err
}

// SendReminder delivers a due notification with done / skip buttons.
func (b *Bot) SendReminder(chatID int64, n *domain.DueNotification) error {
	return b.SendMessageWithKeyboard(chatID, formatReminder(n), reminderKeyboard(n.Instance.ID))
}
