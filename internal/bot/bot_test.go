package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tazhate/healthreminders/config"
	"github.com/tazhate/healthreminders/internal/domain"
	"github.com/tazhate/healthreminders/internal/logger"
	"github.com/tazhate/healthreminders/internal/service"
	"github.com/tazhate/healthreminders/internal/storage"
)

type call struct {
	method string
	params url.Values
}

// fakeTelegram answers Bot API calls and records them.
type fakeTelegram struct {
	mu    sync.Mutex
	calls []call
}

func (f *fakeTelegram) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	method := path.Base(r.URL.Path)

	f.mu.Lock()
	f.calls = append(f.calls, call{method: method, params: r.PostForm})
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch method {
	case "getMe":
		_, _ = w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"Reminders","username":"reminders_bot"}}`))
	case "sendMessage":
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":10,"date":0,"chat":{"id":555,"type":"private"}}}`))
	default:
		_, _ = w.Write([]byte(`{"ok":true,"result":true}`))
	}
}

func (f *fakeTelegram) byMethod(method string) []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []call
	for _, c := range f.calls {
		if c.method == method {
			out = append(out, c)
		}
	}
	return out
}

type env struct {
	bot       *Bot
	tg        *fakeTelegram
	schedules *service.ScheduleManager
	queue     *service.NotificationQueue
	variables *service.VariableService
	users     *service.UserService
	now       time.Time
}

func newEnv(t *testing.T) *env {
	t.Helper()

	db, err := storage.New(filepath.Join(t.TempDir(), "reminders.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	tg := &fakeTelegram{}
	srv := httptest.NewServer(tg)
	t.Cleanup(srv.Close)

	api, err := tgbotapi.NewBotAPIWithClient("token", srv.URL+"/bot%s/%s", srv.Client())
	require.NoError(t, err)

	e := &env{tg: tg, now: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return e.now }
	log := logger.Discard()

	e.users = service.NewUserService(db, time.UTC)
	e.variables = service.NewVariableService(db, log)
	e.queue = service.NewNotificationQueue(db, clock, log)
	e.schedules = service.NewScheduleManager(db, e.queue, e.variables, nil, clock, log)

	cfg := &config.Config{OperationTimeout: 5 * time.Second}
	e.bot = newBot(api, cfg, e.users, e.variables, e.schedules, e.queue, log)
	e.bot.clock = clock
	return e
}

func command(text string) tgbotapi.Update {
	cmd, _, _ := strings.Cut(text, " ")
	return tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 1,
		From:      &tgbotapi.User{ID: 555, FirstName: "Ann"},
		Chat:      &tgbotapi.Chat{ID: 555, Type: "private"},
		Text:      text,
		Entities:  []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}},
	}}
}

func tap(data string) tgbotapi.Update {
	return tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:   "cb1",
		From: &tgbotapi.User{ID: 555, FirstName: "Ann"},
		Message: &tgbotapi.Message{
			MessageID: 10,
			Chat:      &tgbotapi.Chat{ID: 555, Type: "private"},
			Text:      "🔔 Time to track Headache",
		},
		Data: data,
	}}
}

func (e *env) trackHeadache(t *testing.T) *domain.Schedule {
	t.Helper()
	ctx := context.Background()
	_, err := e.variables.CreateGlobalVariable(ctx, "Headache", domain.CategoryCondition, "")
	require.NoError(t, err)
	e.bot.handleUpdate(ctx, command("/track headache"))

	u, err := e.users.EnsureTelegramUser(ctx, 555, "")
	require.NoError(t, err)
	list, err := e.schedules.List(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	return list[0]
}

func TestParseCallback(t *testing.T) {
	action, id, ok := parseCallback("done:12")
	assert.True(t, ok)
	assert.Equal(t, actionDone, action)
	assert.Equal(t, int64(12), id)

	for _, bad := range []string{"", "done", "done:x", "done:-1", "snooze:3"} {
		_, _, ok := parseCallback(bad)
		assert.False(t, ok, bad)
	}
}

func TestFormatReminder_Escapes(t *testing.T) {
	text := formatReminder(&domain.DueNotification{Title: "BP <sys>", Message: "a & b"})
	assert.Equal(t, "🔔 <b>BP &lt;sys&gt;</b>\n\na &amp; b", text)
}

func TestStart_RegistersUser(t *testing.T) {
	e := newEnv(t)
	e.bot.handleUpdate(context.Background(), command("/start"))

	u, err := e.users.EnsureTelegramUser(context.Background(), 555, "")
	require.NoError(t, err)
	assert.Equal(t, "Ann", u.Name)

	sent := e.tg.byMethod("sendMessage")
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].params.Get("text"), "Hi, Ann")
}

func TestTrack_CreatesDefaultSchedule(t *testing.T) {
	e := newEnv(t)
	sc := e.trackHeadache(t)

	assert.Equal(t, domain.FrequencyDaily, sc.Spec.Frequency)
	assert.Equal(t, "20:00", sc.Spec.TimeOfDay)

	sent := e.tg.byMethod("sendMessage")
	require.NotEmpty(t, sent)
	assert.Contains(t, sent[len(sent)-1].params.Get("text"), "Tracking Headache")
}

func TestDue_SendsEachReminderWithButtons(t *testing.T) {
	e := newEnv(t)
	e.trackHeadache(t)

	e.now = time.Date(2024, 1, 1, 20, 5, 0, 0, time.UTC)
	e.bot.handleUpdate(context.Background(), command("/due"))

	sent := e.tg.byMethod("sendMessage")
	last := sent[len(sent)-1]
	assert.Contains(t, last.params.Get("text"), "Time to track Headache")
	assert.Contains(t, last.params.Get("reply_markup"), `"callback_data":"done:`)
	assert.Contains(t, last.params.Get("reply_markup"), `"callback_data":"skip:`)
}

func TestCallback_ResolvesOnceThenNoOp(t *testing.T) {
	e := newEnv(t)
	sc := e.trackHeadache(t)
	ctx := context.Background()

	e.now = time.Date(2024, 1, 1, 20, 5, 0, 0, time.UTC)
	due, err := e.queue.ListPendingDue(ctx, sc.UserID, e.now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	data := "done:" + strconv.FormatInt(due[0].Instance.ID, 10)

	e.bot.handleUpdate(ctx, tap(data))
	e.bot.handleUpdate(ctx, tap("skip:"+strconv.FormatInt(due[0].Instance.ID, 10)))

	answers := e.tg.byMethod("answerCallbackQuery")
	require.Len(t, answers, 2)
	assert.Equal(t, "✅ Done", answers[0].params.Get("text"))
	assert.Equal(t, "Already completed", answers[1].params.Get("text"))

	edits := e.tg.byMethod("editMessageText")
	require.Len(t, edits, 1, "only the first tap edits the message")

	history, err := e.queue.History(ctx, sc.ID, sc.UserID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, history[0].Status)
}

func TestCallback_UnknownInstance(t *testing.T) {
	e := newEnv(t)
	e.bot.handleUpdate(context.Background(), tap("done:999"))

	answers := e.tg.byMethod("answerCallbackQuery")
	require.Len(t, answers, 1)
	assert.Equal(t, "Reminder not found", answers[0].params.Get("text"))
}

func TestWebhookHandler(t *testing.T) {
	e := newEnv(t)

	body, err := json.Marshal(command("/help"))
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	e.bot.WebhookHandler()(rec, httptest.NewRequest(http.MethodPost, "/bot", bytes.NewReader(body)))
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, e.tg.byMethod("sendMessage"), 1)

	rec = httptest.NewRecorder()
	e.bot.WebhookHandler()(rec, httptest.NewRequest(http.MethodGet, "/bot", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
