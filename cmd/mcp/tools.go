package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

var idProperty = Property{Type: "string", Description: "ID (number)"}

var tools = []Tool{
	{
		Name:        "reminders_list_variables",
		Description: "List the variables that can be tracked (symptoms, medications, measurements).",
		InputSchema: InputSchema{Type: "object", Properties: map[string]Property{}},
	},
	{
		Name:        "reminders_list_schedules",
		Description: "List the owner's reminder schedules with their rules and next trigger times.",
		InputSchema: InputSchema{Type: "object", Properties: map[string]Property{}},
	},
	{
		Name:        "reminders_create_schedule",
		Description: "Create a recurring reminder for a variable. WEEKLY rules need by_weekday (0=Sunday, e.g. \"1,3,5\"); MONTHLY rules may set by_month_day.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"variable_id":  {Type: "string", Description: "Global variable ID"},
				"frequency":    {Type: "string", Description: "Recurrence frequency", Enum: []string{"DAILY", "WEEKLY", "MONTHLY"}},
				"interval":     {Type: "string", Description: "Repeat every N periods (default 1)"},
				"by_weekday":   {Type: "string", Description: "Comma separated weekdays, 0=Sunday"},
				"by_month_day": {Type: "string", Description: "Day of month 1-31"},
				"anchor_date":  {Type: "string", Description: "First eligible date YYYY-MM-DD"},
				"time_of_day":  {Type: "string", Description: "Local time HH:MM"},
				"timezone":     {Type: "string", Description: "IANA timezone, e.g. Europe/Berlin"},
				"end_date":     {Type: "string", Description: "Last eligible date YYYY-MM-DD (optional)"},
			},
			Required: []string{"variable_id", "frequency", "anchor_date", "time_of_day", "timezone"},
		},
	},
	{
		Name:        "reminders_deactivate_schedule",
		Description: "Pause a schedule. Its future reminders are removed; history is kept.",
		InputSchema: InputSchema{
			Type:       "object",
			Properties: map[string]Property{"schedule_id": idProperty},
			Required:   []string{"schedule_id"},
		},
	},
	{
		Name:        "reminders_preview_schedule",
		Description: "Show the next trigger times of a schedule.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"schedule_id": idProperty,
				"count":       {Type: "string", Description: "Number of occurrences (default 5)"},
			},
			Required: []string{"schedule_id"},
		},
	},
	{
		Name:        "reminders_due_notifications",
		Description: "List pending reminders that have already triggered.",
		InputSchema: InputSchema{Type: "object", Properties: map[string]Property{}},
	},
	{
		Name:        "reminders_resolve_notification",
		Description: "Mark a pending reminder completed or skipped. A reminder can only be resolved once.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"notification_id": idProperty,
				"outcome":         {Type: "string", Description: "Outcome", Enum: []string{"completed", "skipped"}},
				"log_details":     {Type: "object", Description: "Logged values, e.g. {\"value\": 3}"},
			},
			Required: []string{"notification_id", "outcome"},
		},
	},
}

func (s *MCPServer) handleToolsCall(req JSONRPCRequest) JSONRPCResponse {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &RPCError{Code: -32602, Message: "Invalid params"},
		}
	}

	result, isError := s.callTool(params.Name, params.Arguments)

	return JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: ToolCallResult{
			Content: []ContentBlock{{Type: "text", Text: result}},
			IsError: isError,
		},
	}
}

func (s *MCPServer) callTool(name string, args map[string]interface{}) (string, bool) {
	if name == "reminders_list_variables" {
		return s.apiRequest(http.MethodGet, "/api/variables", nil)
	}

	if s.ownerID == "" {
		return "REMINDERS_OWNER_ID is not set", true
	}
	owner := "/api/owners/" + s.ownerID

	switch name {
	case "reminders_list_schedules":
		return s.apiRequest(http.MethodGet, owner+"/schedules", nil)
	case "reminders_create_schedule":
		body, err := createScheduleBody(args)
		if err != nil {
			return err.Error(), true
		}
		return s.apiRequest(http.MethodPost, owner+"/schedules", body)
	case "reminders_deactivate_schedule":
		return s.apiRequest(http.MethodPost, owner+"/schedules/"+argString(args, "schedule_id")+"/deactivate", nil)
	case "reminders_preview_schedule":
		path := owner + "/schedules/" + argString(args, "schedule_id") + "/preview"
		if count := argString(args, "count"); count != "" {
			path += "?count=" + url.QueryEscape(count)
		}
		return s.apiRequest(http.MethodGet, path, nil)
	case "reminders_due_notifications":
		return s.apiRequest(http.MethodGet, owner+"/notifications/due", nil)
	case "reminders_resolve_notification":
		body := map[string]interface{}{"outcome": argString(args, "outcome")}
		if details, ok := args["log_details"]; ok {
			body["log_details"] = details
		}
		return s.apiRequest(http.MethodPost, owner+"/notifications/"+argString(args, "notification_id")+"/resolve", body)
	default:
		return "Unknown tool: " + name, true
	}
}

// argString renders an argument as a string; models send ids both as
// numbers and as strings.
func argString(args map[string]interface{}, key string) string {
	switch v := args[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func argInt(args map[string]interface{}, key string) (int, bool, error) {
	raw := argString(args, key)
	if raw == "" {
		return 0, false, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%s must be a number, got %q", key, raw)
	}
	return n, true, nil
}

func createScheduleBody(args map[string]interface{}) (map[string]interface{}, error) {
	variableID, ok, err := argInt(args, "variable_id")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("variable_id is required")
	}

	rule := map[string]interface{}{
		"frequency":   strings.ToUpper(argString(args, "frequency")),
		"interval":    1,
		"anchor_date": argString(args, "anchor_date"),
		"time_of_day": argString(args, "time_of_day"),
		"timezone":    argString(args, "timezone"),
	}
	if n, ok, err := argInt(args, "interval"); err != nil {
		return nil, err
	} else if ok {
		rule["interval"] = n
	}
	if n, ok, err := argInt(args, "by_month_day"); err != nil {
		return nil, err
	} else if ok {
		rule["by_month_day"] = n
	}
	if end := argString(args, "end_date"); end != "" {
		rule["end_date"] = end
	}
	if raw := argString(args, "by_weekday"); raw != "" {
		var days []int
		for _, part := range strings.Split(raw, ",") {
			d, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				return nil, fmt.Errorf("by_weekday must list numbers 0-6, got %q", raw)
			}
			days = append(days, d)
		}
		rule["by_weekday"] = days
	}

	return map[string]interface{}{
		"global_variable_id": variableID,
		"rule":               rule,
	}, nil
}

func (s *MCPServer) apiRequest(method, path string, body interface{}) (string, bool) {
	var reqBody io.Reader
	if body != nil {
		jsonBody, _ := json.Marshal(body)
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequest(method, s.apiURL+path, reqBody)
	if err != nil {
		return fmt.Sprintf("Error creating request: %v", err), true
	}

	req.SetBasicAuth(s.apiUsername, s.apiPassword)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Sprintf("Error making request: %v", err), true
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Sprintf("Error reading response: %v", err), true
	}

	var apiResp struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   string          `json:"error"`
		Partial bool            `json:"partial"`
	}

	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return string(respBody), resp.StatusCode >= 400
	}

	if !apiResp.Success {
		if apiResp.Partial {
			return fmt.Sprintf("API Error (change was saved): %s\n%s", apiResp.Error, apiResp.Data), true
		}
		return fmt.Sprintf("API Error: %s", apiResp.Error), true
	}

	var prettyData bytes.Buffer
	if err := json.Indent(&prettyData, apiResp.Data, "", "  "); err != nil {
		return string(apiResp.Data), false
	}

	return prettyData.String(), false
}
