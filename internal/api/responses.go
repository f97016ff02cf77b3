package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/tazhate/healthreminders/internal/domain"
	"github.com/tazhate/healthreminders/internal/recurrence"
)

type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Partial bool        `json:"partial,omitempty"`
}

type ScheduleResponse struct {
	ID              int64                 `json:"id"`
	UserVariableID  int64                 `json:"user_variable_id"`
	Rule            domain.RecurrenceSpec `json:"rule"`
	RRule           string                `json:"rrule"`
	IsActive        bool                  `json:"is_active"`
	NextTriggerAt   *string               `json:"next_trigger_at"`
	DefaultValue    *float64              `json:"default_value,omitempty"`
	TitleTemplate   string                `json:"title_template"`
	MessageTemplate string                `json:"message_template"`
	CreatedAt       string                `json:"created_at"`
	UpdatedAt       string                `json:"updated_at"`
}

type NotificationResponse struct {
	ID                   int64           `json:"id"`
	ScheduleID           int64           `json:"schedule_id"`
	TriggerAt            string          `json:"trigger_at"`
	Status               string          `json:"status"`
	Title                string          `json:"title,omitempty"`
	Message              string          `json:"message,omitempty"`
	Variable             string          `json:"variable,omitempty"`
	DefaultValue         *float64        `json:"default_value,omitempty"`
	CompletedOrSkippedAt *string         `json:"completed_or_skipped_at,omitempty"`
	LogDetails           json.RawMessage `json:"log_details,omitempty"`
}

type VariableResponse struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Unit     string `json:"unit,omitempty"`
}

type UserResponse struct {
	ID         int64  `json:"id"`
	TelegramID int64  `json:"telegram_id,omitempty"`
	Name       string `json:"name"`
	Timezone   string `json:"timezone"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func toScheduleResponse(sc *domain.Schedule) ScheduleResponse {
	resp := ScheduleResponse{
		ID:              sc.ID,
		UserVariableID:  sc.UserVariableID,
		Rule:            sc.Spec,
		IsActive:        sc.IsActive,
		NextTriggerAt:   formatTimePtr(sc.NextTriggerAt),
		DefaultValue:    sc.DefaultValue,
		TitleTemplate:   sc.TitleTemplate,
		MessageTemplate: sc.MessageTemplate,
	}
	if rule, err := recurrence.NewRule(sc.Spec); err == nil {
		resp.RRule = rule.RRule()
	}
	if !sc.CreatedAt.IsZero() {
		resp.CreatedAt = formatTime(sc.CreatedAt)
	}
	if !sc.UpdatedAt.IsZero() {
		resp.UpdatedAt = formatTime(sc.UpdatedAt)
	}
	return resp
}

func toInstanceResponse(n *domain.NotificationInstance) NotificationResponse {
	return NotificationResponse{
		ID:                   n.ID,
		ScheduleID:           n.ScheduleID,
		TriggerAt:            formatTime(n.TriggerAt),
		Status:               string(n.Status),
		CompletedOrSkippedAt: formatTimePtr(n.CompletedOrSkippedAt),
		LogDetails:           n.LogDetails,
	}
}

func toDueResponse(d *domain.DueNotification) NotificationResponse {
	resp := toInstanceResponse(d.Instance)
	resp.Title = d.Title
	resp.Message = d.Message
	resp.Variable = d.VariableName
	resp.DefaultValue = d.DefaultValue
	return resp
}

func toVariableResponse(v *domain.GlobalVariable) VariableResponse {
	return VariableResponse{ID: v.ID, Name: v.Name, Category: string(v.Category), Unit: v.Unit}
}

func jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIResponse{Success: true, Data: data})
}

func jsonError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIResponse{Success: false, Error: msg})
}

// writeServiceError maps a service error onto a status code. User errors
// carry their message; internal failures are reported generically.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error, data interface{}) {
	var (
		ve  *domain.ValidationError
		nf  *domain.NotFoundError
		ar  *domain.AlreadyResolvedError
		dep *domain.DependencyError
	)

	switch {
	case errors.As(err, &ve):
		jsonError(w, err.Error(), http.StatusBadRequest)
	case errors.As(err, &nf):
		jsonError(w, err.Error(), http.StatusNotFound)
	case errors.As(err, &ar):
		jsonError(w, err.Error(), http.StatusConflict)
	case errors.As(err, &dep) && dep.Partial:
		s.log.WithComponent("api").WithError(err).WithField("path", r.URL.Path).Error("Partially applied mutation")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(APIResponse{
			Success: false,
			Data:    data,
			Error:   "change saved but reminders could not be rescheduled; it will be repaired automatically",
			Partial: true,
		})
	case errors.As(err, &dep):
		s.log.WithComponent("api").WithError(err).WithField("path", r.URL.Path).Error("Dependency failure")
		jsonError(w, "service temporarily unavailable", http.StatusServiceUnavailable)
	default:
		s.log.WithComponent("api").WithError(err).WithField("path", r.URL.Path).Error("Unexpected error")
		jsonError(w, "internal error", http.StatusInternalServerError)
	}
}
