package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/tazhate/healthreminders/internal/domain"
	"github.com/tazhate/healthreminders/internal/service"
)

type createUserRequest struct {
	TelegramID int64  `json:"telegram_id"`
	Name       string `json:"name"`
	Timezone   string `json:"timezone"`
}

type createVariableRequest struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	Unit     string `json:"unit"`
}

type ownerLinkRequest struct {
	GlobalVariableID int64 `json:"global_variable_id"`
}

type createScheduleRequest struct {
	UserVariableID   int64                 `json:"user_variable_id"`
	GlobalVariableID int64                 `json:"global_variable_id"`
	Rule             domain.RecurrenceSpec `json:"rule"`
	IsActive         *bool                 `json:"is_active"`
	DefaultValue     *float64              `json:"default_value"`
	TitleTemplate    string                `json:"title_template"`
	MessageTemplate  string                `json:"message_template"`
}

type updateScheduleRequest struct {
	Rule              *domain.RecurrenceSpec `json:"rule"`
	IsActive          *bool                  `json:"is_active"`
	DefaultValue      *float64               `json:"default_value"`
	ClearDefaultValue bool                   `json:"clear_default_value"`
	TitleTemplate     *string                `json:"title_template"`
	MessageTemplate   *string                `json:"message_template"`
}

type resolveRequest struct {
	Outcome    string          `json:"outcome"`
	LogDetails json.RawMessage `json:"log_details"`
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	return id, err == nil && id > 0
}

// ids extracts the owner and, when present, the entity id from the path.
func ids(w http.ResponseWriter, r *http.Request, withID bool) (ownerID, id int64, ok bool) {
	ownerID, ok = pathID(r, "ownerID")
	if !ok {
		jsonError(w, "invalid owner ID", http.StatusBadRequest)
		return 0, 0, false
	}
	if !withID {
		return ownerID, 0, true
	}
	id, ok = pathID(r, "id")
	if !ok {
		jsonError(w, "invalid ID", http.StatusBadRequest)
		return 0, 0, false
	}
	return ownerID, id, true
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		jsonError(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// POST /api/users
func (s *Server) registerUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !decode(w, r, &req) {
		return
	}
	u, err := s.users.Register(r.Context(), req.TelegramID, req.Name, req.Timezone)
	if err != nil {
		s.writeServiceError(w, r, err, nil)
		return
	}
	jsonResponse(w, http.StatusCreated, UserResponse{ID: u.ID, TelegramID: u.TelegramID, Name: u.Name, Timezone: u.Timezone})
}

// GET /api/variables
func (s *Server) listVariables(w http.ResponseWriter, r *http.Request) {
	vars, err := s.variables.ListGlobalVariables(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err, nil)
		return
	}
	resp := make([]VariableResponse, 0, len(vars))
	for _, v := range vars {
		resp = append(resp, toVariableResponse(v))
	}
	jsonResponse(w, http.StatusOK, resp)
}

// POST /api/variables
func (s *Server) createVariable(w http.ResponseWriter, r *http.Request) {
	var req createVariableRequest
	if !decode(w, r, &req) {
		return
	}
	v, err := s.variables.CreateGlobalVariable(r.Context(), req.Name, domain.VariableCategory(req.Category), req.Unit)
	if err != nil {
		s.writeServiceError(w, r, err, nil)
		return
	}
	jsonResponse(w, http.StatusCreated, toVariableResponse(v))
}

// POST /api/owners/{ownerID}/variables
func (s *Server) ensureOwnerLink(w http.ResponseWriter, r *http.Request) {
	ownerID, _, ok := ids(w, r, false)
	if !ok {
		return
	}
	var req ownerLinkRequest
	if !decode(w, r, &req) {
		return
	}
	linkID, err := s.variables.EnsureOwnerLink(r.Context(), ownerID, req.GlobalVariableID)
	if err != nil {
		s.writeServiceError(w, r, err, nil)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]int64{"user_variable_id": linkID})
}

// GET /api/owners/{ownerID}/schedules
func (s *Server) listSchedules(w http.ResponseWriter, r *http.Request) {
	ownerID, _, ok := ids(w, r, false)
	if !ok {
		return
	}
	list, err := s.schedules.List(r.Context(), ownerID)
	if err != nil {
		s.writeServiceError(w, r, err, nil)
		return
	}
	resp := make([]ScheduleResponse, 0, len(list))
	for _, sc := range list {
		resp = append(resp, toScheduleResponse(sc))
	}
	jsonResponse(w, http.StatusOK, resp)
}

// POST /api/owners/{ownerID}/schedules
func (s *Server) createSchedule(w http.ResponseWriter, r *http.Request) {
	ownerID, _, ok := ids(w, r, false)
	if !ok {
		return
	}
	var req createScheduleRequest
	if !decode(w, r, &req) {
		return
	}

	sc, err := s.schedules.Create(r.Context(), service.CreateScheduleInput{
		OwnerID:          ownerID,
		UserVariableID:   req.UserVariableID,
		GlobalVariableID: req.GlobalVariableID,
		Spec:             req.Rule,
		Inactive:         req.IsActive != nil && !*req.IsActive,
		DefaultValue:     req.DefaultValue,
		TitleTemplate:    req.TitleTemplate,
		MessageTemplate:  req.MessageTemplate,
	})
	if err != nil {
		s.writeServiceError(w, r, err, scheduleData(sc))
		return
	}
	jsonResponse(w, http.StatusCreated, toScheduleResponse(sc))
}

// GET /api/owners/{ownerID}/schedules/{id}
func (s *Server) getSchedule(w http.ResponseWriter, r *http.Request) {
	ownerID, id, ok := ids(w, r, true)
	if !ok {
		return
	}
	sc, err := s.schedules.Get(r.Context(), id, ownerID)
	if err != nil {
		s.writeServiceError(w, r, err, nil)
		return
	}
	jsonResponse(w, http.StatusOK, toScheduleResponse(sc))
}

// PUT /api/owners/{ownerID}/schedules/{id}
func (s *Server) updateSchedule(w http.ResponseWriter, r *http.Request) {
	ownerID, id, ok := ids(w, r, true)
	if !ok {
		return
	}
	var req updateScheduleRequest
	if !decode(w, r, &req) {
		return
	}

	sc, err := s.schedules.Update(r.Context(), id, ownerID, service.UpdateScheduleInput{
		Spec:              req.Rule,
		IsActive:          req.IsActive,
		DefaultValue:      req.DefaultValue,
		ClearDefaultValue: req.ClearDefaultValue,
		TitleTemplate:     req.TitleTemplate,
		MessageTemplate:   req.MessageTemplate,
	})
	if err != nil {
		s.writeServiceError(w, r, err, scheduleData(sc))
		return
	}
	jsonResponse(w, http.StatusOK, toScheduleResponse(sc))
}

// POST /api/owners/{ownerID}/schedules/{id}/deactivate
func (s *Server) deactivateSchedule(w http.ResponseWriter, r *http.Request) {
	ownerID, id, ok := ids(w, r, true)
	if !ok {
		return
	}
	sc, err := s.schedules.Deactivate(r.Context(), id, ownerID)
	if err != nil {
		s.writeServiceError(w, r, err, scheduleData(sc))
		return
	}
	jsonResponse(w, http.StatusOK, toScheduleResponse(sc))
}

// DELETE /api/owners/{ownerID}/schedules/{id}
func (s *Server) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	ownerID, id, ok := ids(w, r, true)
	if !ok {
		return
	}
	if err := s.schedules.Delete(r.Context(), id, ownerID); err != nil {
		s.writeServiceError(w, r, err, nil)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]int64{"deleted": id})
}

// GET /api/owners/{ownerID}/schedules/{id}/preview?count=N
func (s *Server) previewSchedule(w http.ResponseWriter, r *http.Request) {
	ownerID, id, ok := ids(w, r, true)
	if !ok {
		return
	}
	count := 5
	if raw := r.URL.Query().Get("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			jsonError(w, "invalid count", http.StatusBadRequest)
			return
		}
		count = n
	}

	times, err := s.schedules.Preview(r.Context(), id, ownerID, count)
	if err != nil {
		s.writeServiceError(w, r, err, nil)
		return
	}
	resp := make([]string, 0, len(times))
	for _, t := range times {
		resp = append(resp, formatTime(t))
	}
	jsonResponse(w, http.StatusOK, resp)
}

// GET /api/owners/{ownerID}/schedules/{id}/history
func (s *Server) scheduleHistory(w http.ResponseWriter, r *http.Request) {
	ownerID, id, ok := ids(w, r, true)
	if !ok {
		return
	}
	list, err := s.queue.History(r.Context(), id, ownerID)
	if err != nil {
		s.writeServiceError(w, r, err, nil)
		return
	}
	resp := make([]NotificationResponse, 0, len(list))
	for _, n := range list {
		resp = append(resp, toInstanceResponse(n))
	}
	jsonResponse(w, http.StatusOK, resp)
}

// GET /api/owners/{ownerID}/notifications/due?as_of=RFC3339
func (s *Server) dueNotifications(w http.ResponseWriter, r *http.Request) {
	ownerID, _, ok := ids(w, r, false)
	if !ok {
		return
	}
	asOf := s.clock()
	if raw := r.URL.Query().Get("as_of"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			jsonError(w, "invalid as_of, want RFC3339", http.StatusBadRequest)
			return
		}
		asOf = t
	}

	due, err := s.queue.ListPendingDue(r.Context(), ownerID, asOf)
	if err != nil {
		s.writeServiceError(w, r, err, nil)
		return
	}
	resp := make([]NotificationResponse, 0, len(due))
	for _, d := range due {
		resp = append(resp, toDueResponse(d))
	}
	jsonResponse(w, http.StatusOK, resp)
}

// POST /api/owners/{ownerID}/notifications/{id}/resolve
func (s *Server) resolveNotification(w http.ResponseWriter, r *http.Request) {
	ownerID, id, ok := ids(w, r, true)
	if !ok {
		return
	}
	var req resolveRequest
	if !decode(w, r, &req) {
		return
	}
	if string(req.LogDetails) == "null" {
		req.LogDetails = nil
	}
	n, err := s.queue.Resolve(r.Context(), id, ownerID, req.Outcome, req.LogDetails)
	if err != nil {
		s.writeServiceError(w, r, err, nil)
		return
	}
	jsonResponse(w, http.StatusOK, toInstanceResponse(n))
}

func scheduleData(sc *domain.Schedule) interface{} {
	if sc == nil {
		return nil
	}
	return toScheduleResponse(sc)
}
