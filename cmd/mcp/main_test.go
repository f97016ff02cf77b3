package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	method string
	path   string
	body   map[string]interface{}
}

func newTestServer(t *testing.T, status int, response string) (*MCPServer, *[]recorded) {
	t.Helper()
	var calls []recorded

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, _ := r.BasicAuth()
		assert.Equal(t, "admin", user)
		assert.Equal(t, "secret", pass)

		rec := recorded{method: r.Method, path: r.URL.RequestURI()}
		raw, _ := io.ReadAll(r.Body)
		if len(raw) > 0 {
			require.NoError(t, json.Unmarshal(raw, &rec.body))
		}
		calls = append(calls, rec)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(api.Close)

	return &MCPServer{
		apiURL:      api.URL,
		apiUsername: "admin",
		apiPassword: "secret",
		ownerID:     "7",
		client:      api.Client(),
	}, &calls
}

func TestRun_InitializeAndList(t *testing.T) {
	s, _ := newTestServer(t, http.StatusOK, `{"success":true}`)

	in := strings.NewReader(strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`,
		`{"jsonrpc":"2.0","id":3,"method":"bogus"}`,
	}, "\n"))
	var out bytes.Buffer
	s.Run(in, &out)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3, "notifications get no response")

	assert.Contains(t, lines[0], `"healthreminders-mcp"`)
	assert.Contains(t, lines[1], `"reminders_create_schedule"`)
	assert.Contains(t, lines[2], `-32601`)
}

func TestCreateSchedule_BuildsRule(t *testing.T) {
	s, calls := newTestServer(t, http.StatusCreated, `{"success":true,"data":{"id":5}}`)

	text, isErr := s.callTool("reminders_create_schedule", map[string]interface{}{
		"variable_id": float64(3),
		"frequency":   "weekly",
		"interval":    "2",
		"by_weekday":  "1, 3",
		"anchor_date": "2024-01-01",
		"time_of_day": "08:30",
		"timezone":    "Europe/Berlin",
	})
	require.False(t, isErr, text)
	assert.Contains(t, text, `"id": 5`)

	require.Len(t, *calls, 1)
	c := (*calls)[0]
	assert.Equal(t, http.MethodPost, c.method)
	assert.Equal(t, "/api/owners/7/schedules", c.path)
	assert.Equal(t, float64(3), c.body["global_variable_id"])

	rule := c.body["rule"].(map[string]interface{})
	assert.Equal(t, "WEEKLY", rule["frequency"])
	assert.Equal(t, float64(2), rule["interval"])
	assert.Equal(t, []interface{}{float64(1), float64(3)}, rule["by_weekday"])
}

func TestCreateSchedule_RejectsBadArguments(t *testing.T) {
	s, calls := newTestServer(t, http.StatusOK, `{"success":true}`)

	_, isErr := s.callTool("reminders_create_schedule", map[string]interface{}{"frequency": "DAILY"})
	assert.True(t, isErr)

	_, isErr = s.callTool("reminders_create_schedule", map[string]interface{}{"variable_id": "1", "by_weekday": "mon"})
	assert.True(t, isErr)

	assert.Empty(t, *calls)
}

func TestResolve_ReportsAPIError(t *testing.T) {
	s, calls := newTestServer(t, http.StatusConflict, `{"success":false,"error":"notification 9 already completed"}`)

	text, isErr := s.callTool("reminders_resolve_notification", map[string]interface{}{
		"notification_id": "9",
		"outcome":         "skipped",
	})
	assert.True(t, isErr)
	assert.Equal(t, "API Error: notification 9 already completed", text)
	assert.Equal(t, "/api/owners/7/notifications/9/resolve", (*calls)[0].path)
}

func TestPartialFailureIsReported(t *testing.T) {
	s, _ := newTestServer(t, http.StatusInternalServerError, `{"success":false,"partial":true,"error":"not rescheduled","data":{"id":4}}`)

	text, isErr := s.callTool("reminders_deactivate_schedule", map[string]interface{}{"schedule_id": float64(4)})
	assert.True(t, isErr)
	assert.Contains(t, text, "change was saved")
}

func TestOwnerRequired(t *testing.T) {
	s, _ := newTestServer(t, http.StatusOK, `{"success":true,"data":[]}`)
	s.ownerID = ""

	_, isErr := s.callTool("reminders_list_schedules", nil)
	assert.True(t, isErr)

	_, isErr = s.callTool("reminders_list_variables", nil)
	assert.False(t, isErr)
}
