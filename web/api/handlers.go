package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hochfrequenz/claude-automations/internal/domain"
	"github.com/hochfrequenz/claude-automations/internal/trigger"
)

// AutomationResponse is an automation with its next scheduled fire
type AutomationResponse struct {
	*domain.Automation
	NextRun *string `json:"nextRun,omitempty"`
}

// StatusResponse is the API response for overall status
type StatusResponse struct {
	Automations int `json:"automations"`
	Enabled     int `json:"enabled"`
	Running     int `json:"running_runs"`
	Unread      int `json:"unread_runs"`
}

// TriggerRequest fires an automation manually
type TriggerRequest struct {
	ProjectID string            `json:"projectId,omitempty"`
	Context   map[string]string `json:"context,omitempty"`
}

func (s *Server) automationToResponse(a *domain.Automation) AutomationResponse {
	resp := AutomationResponse{Automation: a}
	if next, ok := s.svc.GetNextRunTime(a.ID); ok {
		t := next.Format(time.RFC3339)
		resp.NextRun = &t
	}
	return resp
}

func (s *Server) statusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		var status StatusResponse
		for _, a := range s.svc.ListAutomations() {
			status.Automations++
			if a.Enabled {
				status.Enabled++
			}
		}
		for _, run := range s.svc.GetRuns("", 0) {
			if run.Status == domain.RunRunning {
				status.Running++
			}
			if run.Status.Terminal() && !run.Read {
				status.Unread++
			}
		}

		writeJSON(w, status)
	}
}

func (s *Server) automationsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			automations := s.svc.ListAutomations()
			resp := make([]AutomationResponse, 0, len(automations))
			for _, a := range automations {
				resp = append(resp, s.automationToResponse(a))
			}
			writeJSON(w, resp)

		case http.MethodPost:
			var a domain.Automation
			if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
				writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
				return
			}
			created, err := s.svc.CreateAutomation(&a)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			w.WriteHeader(http.StatusCreated)
			writeJSON(w, s.automationToResponse(created))

		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	}
}

// automationHandler serves /api/automations/{id} and its action
// sub-paths: /enable, /disable, /trigger
func (s *Server) automationHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, action := splitIDAction(r.URL.Path, "/api/automations/")
		if id == "" {
			writeError(w, http.StatusBadRequest, "automation ID required")
			return
		}

		if action != "" {
			s.automationAction(w, r, id, action)
			return
		}

		switch r.Method {
		case http.MethodGet:
			a, err := s.svc.GetAutomation(id)
			if err != nil {
				writeStoreError(w, err)
				return
			}
			writeJSON(w, s.automationToResponse(a))

		case http.MethodPatch:
			var u domain.AutomationUpdate
			if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
				writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
				return
			}
			a, err := s.svc.UpdateAutomation(id, u)
			if err != nil {
				writeStoreError(w, err)
				return
			}
			writeJSON(w, s.automationToResponse(a))

		case http.MethodDelete:
			if err := s.svc.DeleteAutomation(id); err != nil {
				writeStoreError(w, err)
				return
			}
			writeJSON(w, map[string]string{"status": "deleted"})

		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	}
}

func (s *Server) automationAction(w http.ResponseWriter, r *http.Request, id, action string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	switch action {
	case "enable", "disable":
		a, err := s.svc.ToggleAutomation(id, action == "enable")
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, s.automationToResponse(a))

	case "trigger":
		a, err := s.svc.GetAutomation(id)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		var req TriggerRequest
		if r.Body != nil {
			json.NewDecoder(r.Body).Decode(&req) // empty body is fine
		}

		projects := a.ProjectIDs
		if req.ProjectID != "" {
			if !a.TargetsProject(req.ProjectID) {
				writeError(w, http.StatusBadRequest, "automation does not target that project")
				return
			}
			projects = []string{req.ProjectID}
		}

		var started []*domain.Run
		for _, pid := range projects {
			if run := s.svc.TriggerRun(a, pid, trigger.Context(req.Context)); run != nil {
				started = append(started, run)
			}
		}
		writeJSON(w, map[string]interface{}{"started": started})

	default:
		writeError(w, http.StatusNotFound, "unknown action "+action)
	}
}

func (s *Server) runsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		automationID := r.URL.Query().Get("automation")
		limit := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			limit = n
		}

		runs := s.svc.GetRuns(automationID, limit)
		if runs == nil {
			runs = []*domain.Run{}
		}
		writeJSON(w, runs)
	}
}

// runHandler serves /api/runs/{id} and its action sub-paths: /stop,
// /read, /output
func (s *Server) runHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, action := splitIDAction(r.URL.Path, "/api/runs/")
		if id == "" {
			writeError(w, http.StatusBadRequest, "run ID required")
			return
		}

		switch {
		case action == "" && r.Method == http.MethodGet:
			run, err := s.svc.GetRun(id)
			if err != nil {
				writeStoreError(w, err)
				return
			}
			writeJSON(w, run)

		case action == "" && r.Method == http.MethodDelete:
			if err := s.svc.DeleteRun(id); err != nil {
				writeStoreError(w, err)
				return
			}
			writeJSON(w, map[string]string{"status": "deleted"})

		case action == "stop" && r.Method == http.MethodPost:
			if err := s.svc.StopRun(id); err != nil {
				writeStoreError(w, err)
				return
			}
			writeJSON(w, map[string]string{"status": "stopped"})

		case action == "read" && r.Method == http.MethodPost:
			if err := s.svc.MarkRunRead(id); err != nil {
				writeStoreError(w, err)
				return
			}
			writeJSON(w, map[string]string{"status": "read"})

		case action == "output" && r.Method == http.MethodGet:
			s.streamRunOutput(w, r, id)

		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	}
}

// splitIDAction parses "{prefix}{id}" and "{prefix}{id}/{action}"
func splitIDAction(path, prefix string) (id, action string) {
	rest := strings.TrimPrefix(path, prefix)
	rest = strings.TrimSuffix(rest, "/")
	if rest == "" {
		return "", ""
	}
	if idx := strings.IndexByte(rest, '/'); idx >= 0 {
		return rest[:idx], rest[idx+1:]
	}
	return rest, ""
}
