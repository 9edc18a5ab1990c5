package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/guregu/null/v6"
	"github.com/sirupsen/logrus"

	"github.com/Dan9191/tsf-backend/internal/forecast"
	"github.com/Dan9191/tsf-backend/internal/jobs"
	"github.com/Dan9191/tsf-backend/internal/models"
	"github.com/Dan9191/tsf-backend/internal/utils"
)

const maxUploadSize = 64 << 20

// DataService serves metadata, uploads and health checks
type DataService interface {
	Targets(ctx context.Context) ([]string, error)
	Filters(ctx context.Context, target string) (map[string][]string, error)
	LastDate(ctx context.Context, state, parameter string) (null.Time, error)
	UploadObservations(ctx context.Context, r io.Reader, failFast bool) (models.UploadResult, error)
	Ping(ctx context.Context) error
}

// Stager copies a ready forecast table into the staging database
type Stager interface {
	Stage(ctx context.Context, jobID string, table *models.ForecastTable) (int64, error)
}

type Handler struct {
	svc     DataService
	tracker jobs.Tracker
	stager  Stager
	log     *logrus.Logger
	version string
}

// NewHandler creates the HTTP handlers. stager may be nil when staging is not configured.
func NewHandler(svc DataService, tracker jobs.Tracker, stager Stager, log *logrus.Logger, version string) *Handler {
	return &Handler{svc: svc, tracker: tracker, stager: stager, log: log, version: version}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// writeError maps the error taxonomy onto HTTP statuses
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrValidation):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrNotReady):
		status = http.StatusConflict
	case errors.Is(err, models.ErrConfiguration):
		status = http.StatusServiceUnavailable
	}
	detail := utils.RedactError(err)
	if status == http.StatusInternalServerError {
		h.log.WithField("path", r.URL.Path).Error(detail)
	}
	writeDetail(w, status, detail)
}

func jobID(r *http.Request) (string, error) {
	id := r.URL.Query().Get("job_id")
	if id == "" {
		return "", fmt.Errorf("job_id is required: %w", models.ErrValidation)
	}
	return id, nil
}

// Root lists the service entry points
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"service": "tsf-backend",
		"health":  "/health",
		"metrics": "/metrics",
		"classical": map[string]string{
			"start":    "POST /classical/start",
			"status":   "GET /classical/status?job_id=",
			"resume":   "POST /classical/resume?job_id=",
			"download": "GET /classical/download?job_id=",
		},
	})
}

// Health reports database connectivity
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	if err := h.svc.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"ok":       false,
			"database": "error",
			"detail":   utils.RedactError(err),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "database": "connected"})
}

// Version reports the build version
func (h *Handler) Version(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": h.version})
}

// Start submits a forecast job
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	var req models.StartRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		h.writeError(w, r, fmt.Errorf("invalid request body: %v: %w", err, models.ErrValidation))
		return
	}
	id, err := h.tracker.Submit(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": id, "state": string(models.JobQueued)})
}

// Status reports a job's state and progress
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	id, err := jobID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	job, err := h.tracker.Status(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// Resume restarts a failed or stalled job
func (h *Handler) Resume(w http.ResponseWriter, r *http.Request) {
	id, err := jobID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	job, err := h.tracker.Resume(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// Download streams the CSV of a ready job
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	id, err := jobID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	path, err := h.tracker.Download(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.csv"`, id))
	http.ServeFile(w, r, path)
}

func (h *Handler) readyTable(r *http.Request) (string, *models.ForecastTable, error) {
	id, err := jobID(r)
	if err != nil {
		return "", nil, err
	}
	path, err := h.tracker.Download(r.Context(), id)
	if err != nil {
		return "", nil, err
	}
	table, err := forecast.ReadCSVFile(path)
	if err != nil {
		return "", nil, err
	}
	return id, table, nil
}

// Result returns a ready table as JSON rows, optionally only the last ?limit= rows
func (h *Handler) Result(w http.ResponseWriter, r *http.Request) {
	id, table, err := h.readyTable(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	rows := table.Rows
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			h.writeError(w, r, fmt.Errorf("limit must be a non-negative integer: %w", models.ErrValidation))
			return
		}
		if limit < len(rows) {
			rows = rows[len(rows)-limit:]
		}
	}
	out := make([]map[string]any, len(rows))
	for i, row := range rows {
		out[i] = row.MarshalRow()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"job_id":  id,
		"columns": models.ForecastHeader,
		"rows":    out,
	})
}

// Stage exports a ready table to the staging database
func (h *Handler) Stage(w http.ResponseWriter, r *http.Request) {
	if h.stager == nil {
		writeDetail(w, http.StatusServiceUnavailable, "staging database is not configured")
		return
	}
	id, table, err := h.readyTable(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	n, err := h.stager.Stage(r.Context(), id, table)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.log.WithField("job_id", id).Infof("Staged %d forecast rows", n)
	writeJSON(w, http.StatusOK, map[string]any{"job_id": id, "rows": n})
}

// Targets lists forecastable parameters
func (h *Handler) Targets(w http.ResponseWriter, r *http.Request) {
	targets, err := h.svc.Targets(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"targets": targets})
}

// Filters lists geographic filter values for ?target=
func (h *Handler) Filters(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("target")
	filters, err := h.svc.Filters(r.Context(), target)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"target": target, "filters": filters})
}

// LastDate reports the latest observation for ?state= and ?parameter=
func (h *Handler) LastDate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	last, err := h.svc.LastDate(r.Context(), q.Get("state"), q.Get("parameter"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var lastDate null.String
	if last.Valid {
		lastDate = null.StringFrom(last.Time.Format(models.DateLayout))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"state":     q.Get("state"),
		"parameter": q.Get("parameter"),
		"last_date": lastDate,
	})
}

// UploadAirQuality ingests a multipart CSV of raw observations
func (h *Handler) UploadAirQuality(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("on_conflict")
	if mode == "" {
		mode = "ignore"
	}
	if mode != "ignore" && mode != "fail" {
		h.writeError(w, r, fmt.Errorf("on_conflict must be ignore or fail: %w", models.ErrValidation))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	file, _, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, r, fmt.Errorf("file is required: %v: %w", err, models.ErrValidation))
		return
	}
	defer file.Close()

	res, err := h.svc.UploadObservations(r.Context(), file, mode == "fail")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
