package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/smahud/traffic-buster/internal/audit"
	"github.com/smahud/traffic-buster/internal/dataset"
	"github.com/smahud/traffic-buster/internal/events"
	"github.com/smahud/traffic-buster/internal/history"
	"github.com/smahud/traffic-buster/internal/job"
	"github.com/smahud/traffic-buster/internal/license"
	"github.com/smahud/traffic-buster/internal/proxytest"
	"github.com/smahud/traffic-buster/internal/schedule"
	"github.com/smahud/traffic-buster/pkg/models"
)

// Handler holds dependencies for HTTP handlers
type Handler struct {
	jobs      *job.Manager
	datasets  *dataset.Store
	histories *history.FileRecorder
	schedules *schedule.Scheduler
	hub       *events.Hub
	tester    *proxytest.Tester
	trail     *audit.Trail
	overrides func(userID string) *license.Overrides
}

// HandlerConfig wires the collaborators into the HTTP layer.
type HandlerConfig struct {
	Jobs      *job.Manager
	Datasets  *dataset.Store
	Histories *history.FileRecorder
	Schedules *schedule.Scheduler
	Hub       *events.Hub
	Tester    *proxytest.Tester
	Trail     *audit.Trail
	// Overrides resolves per-user license overrides, nil for none.
	Overrides func(userID string) *license.Overrides
}

// NewHandler creates a new HTTP handler
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		jobs:      cfg.Jobs,
		datasets:  cfg.Datasets,
		histories: cfg.Histories,
		schedules: cfg.Schedules,
		hub:       cfg.Hub,
		tester:    cfg.Tester,
		trail:     cfg.Trail,
		overrides: cfg.Overrides,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"code": code, "error": message})
}

func (h *Handler) matrix(r *http.Request) license.Matrix {
	lic := licenseOf(r)
	var o *license.Overrides
	if h.overrides != nil {
		o = h.overrides(userOf(r))
	}
	return license.Derive(lic, o)
}

func (h *Handler) auditAction(r *http.Request, action string, detail map[string]any) {
	if h.trail == nil {
		return
	}
	if err := h.trail.Record(userOf(r), licenseOf(r), action, detail); err != nil {
		log.Printf("[api] audit write failed: %v", err)
	}
}

// CreateJob handles POST /v1/jobs
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var refs models.DatasetRefs
	if err := json.NewDecoder(r.Body).Decode(&refs); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Invalid request body: "+err.Error())
		return
	}
	if refs.TargetSet == "" || refs.SettingsProfile == "" {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "targetSet and settingsProfile are required")
		return
	}

	userID := userOf(r)
	snap, err := h.jobs.CreateJob(r.Context(), userID, h.matrix(r), refs)
	if err != nil {
		var lerr *job.LicenseError
		switch {
		case errors.Is(err, job.ErrJobLimit):
			writeError(w, http.StatusConflict, "JOB_LIMIT_REACHED", "Another job is still holding the slot, try again shortly")
		case errors.Is(err, job.ErrDatasetNotFound):
			writeError(w, http.StatusNotFound, "DATASET_NOT_FOUND", err.Error())
		case errors.As(err, &lerr):
			writeJSON(w, http.StatusForbidden, map[string]any{
				"code":       "LICENSE_VIOLATION",
				"violations": lerr.Violations,
			})
		default:
			writeError(w, http.StatusInternalServerError, "JOB_START_FAILED", err.Error())
		}
		return
	}

	h.auditAction(r, "job.create", map[string]any{"jobId": snap.JobID, "targetSet": refs.TargetSet})
	writeJSON(w, http.StatusCreated, snap)
}

// ListJobs handles GET /v1/jobs
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.jobs.ListJobsForUser(userOf(r)))
}

// GetJob handles GET /v1/jobs/{id}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.jobs.GetJobStatus(userOf(r), mux.Vars(r)["id"])
	if !ok {
		writeError(w, http.StatusNotFound, "JOB_NOT_FOUND", "Job not found")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// StopJob handles POST /v1/jobs/{id}/stop
func (h *Handler) StopJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]
	stopped := h.jobs.StopJob(userOf(r), jobID)
	if stopped {
		h.auditAction(r, "job.stop", map[string]any{"jobId": jobID})
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobId": jobID, "stopped": stopped})
}

// StopAllJobs handles POST /v1/jobs/stop
func (h *Handler) StopAllJobs(w http.ResponseWriter, r *http.Request) {
	count := h.jobs.StopAllJobsForUser(userOf(r))
	if count > 0 {
		h.auditAction(r, "job.stopAll", map[string]any{"count": count})
	}
	writeJSON(w, http.StatusOK, map[string]any{"stopped": count})
}

// ListHistory handles GET /v1/history
func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.histories.List(userOf(r)))
}

// GetHistoryRollup handles GET /v1/history/rollup
func (h *Handler) GetHistoryRollup(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.histories.Rollup(userOf(r)))
}

// DeleteHistory handles DELETE /v1/history/{id}
func (h *Handler) DeleteHistory(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	entry, err := h.histories.Get(id)
	if err != nil || entry.UserID != userOf(r) {
		writeError(w, http.StatusNotFound, "HISTORY_NOT_FOUND", "History entry not found")
		return
	}
	if err := h.histories.Delete(id); err != nil {
		writeError(w, http.StatusInternalServerError, "HISTORY_DELETE_FAILED", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearHistory handles DELETE /v1/history
func (h *Handler) ClearHistory(w http.ResponseWriter, r *http.Request) {
	removed := h.histories.ClearForUser(userOf(r))
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

// GetLicense handles GET /v1/license
func (h *Handler) GetLicense(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"license": licenseOf(r),
		"matrix":  h.matrix(r),
	})
}

// CreateSchedule handles POST /v1/schedules
func (h *Handler) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	if !h.matrix(r).AllowScheduler {
		writeError(w, http.StatusForbidden, "LICENSE_FEATURE_DISABLED", "Scheduling is not available on this license")
		return
	}

	var sched models.ScheduledJob
	if err := json.NewDecoder(r.Body).Decode(&sched); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Invalid request body: "+err.Error())
		return
	}
	sched.License = string(licenseOf(r))

	created, err := h.schedules.Create(userOf(r), sched)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_SCHEDULE", err.Error())
		return
	}
	h.auditAction(r, "schedule.create", map[string]any{"scheduleId": created.ID})
	writeJSON(w, http.StatusCreated, created)
}

// ListSchedules handles GET /v1/schedules
func (h *Handler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.schedules.List(userOf(r)))
}

// DeleteSchedule handles DELETE /v1/schedules/{id}
func (h *Handler) DeleteSchedule(w http.ResponseWriter, r *http.Request) {
	if err := h.schedules.Delete(userOf(r), mux.Vars(r)["id"]); err != nil {
		writeError(w, http.StatusNotFound, "SCHEDULE_NOT_FOUND", "Schedule not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// TestProxies handles POST /v1/proxies/test
func (h *Handler) TestProxies(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Set         string         `json:"set,omitempty"`
		Proxies     []models.Proxy `json:"proxies,omitempty"`
		Concurrency int            `json:"concurrency,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Invalid request body: "+err.Error())
		return
	}

	proxies := req.Proxies
	if req.Set != "" {
		stored, err := h.datasets.Proxies(userOf(r), req.Set)
		if err != nil {
			writeError(w, http.StatusNotFound, "DATASET_NOT_FOUND", "Proxy set not found")
			return
		}
		proxies = stored
	}
	if len(proxies) == 0 {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "No proxies to test")
		return
	}
	if req.Concurrency <= 0 {
		req.Concurrency = 5
	}

	results := h.tester.TestAll(r.Context(), proxies, req.Concurrency)
	writeJSON(w, http.StatusOK, results)
}

// HandleEvents handles GET /v1/events, the live event stream.
func (h *Handler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	h.hub.HandleConnection(w, r, userOf(r))
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
