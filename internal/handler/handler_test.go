package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/guregu/null/v6"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/Dan9191/tsf-backend/internal/config"
	"github.com/Dan9191/tsf-backend/internal/forecast"
	"github.com/Dan9191/tsf-backend/internal/middleware"
	"github.com/Dan9191/tsf-backend/internal/models"
)

type fakeTracker struct {
	jobs map[string]*models.Job
}

func (f *fakeTracker) Submit(ctx context.Context, req models.StartRequest) (string, error) {
	if err := req.Normalize(); err != nil {
		return "", err
	}
	id := fmt.Sprintf("job-%d", len(f.jobs)+1)
	f.jobs[id] = &models.Job{ID: id, State: models.JobQueued, Progress: 5, Request: req}
	return id, nil
}

func (f *fakeTracker) Status(ctx context.Context, id string) (*models.Job, error) {
	job, ok := f.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, models.ErrNotFound)
	}
	return job, nil
}

func (f *fakeTracker) Resume(ctx context.Context, id string) (*models.Job, error) {
	return f.Status(ctx, id)
}

func (f *fakeTracker) Download(ctx context.Context, id string) (string, error) {
	job, err := f.Status(ctx, id)
	if err != nil {
		return "", err
	}
	if job.State != models.JobReady {
		return "", fmt.Errorf("job %s: %w", id, models.ErrNotReady)
	}
	return job.OutputFile, nil
}

type fakeData struct {
	pingErr error
	upload  []byte
}

func (f *fakeData) Targets(ctx context.Context) ([]string, error) {
	return []string{"Ozone", "PM2.5"}, nil
}

func (f *fakeData) Filters(ctx context.Context, target string) (map[string][]string, error) {
	if target == "" {
		return nil, fmt.Errorf("target is required: %w", models.ErrValidation)
	}
	return map[string][]string{"State Name": {"Ohio"}}, nil
}

func (f *fakeData) LastDate(ctx context.Context, state, parameter string) (null.Time, error) {
	return null.TimeFrom(time.Date(2024, 5, 31, 0, 0, 0, 0, time.UTC)), nil
}

func (f *fakeData) UploadObservations(ctx context.Context, r io.Reader, failFast bool) (models.UploadResult, error) {
	f.upload, _ = io.ReadAll(r)
	return models.UploadResult{RowsInserted: 2}, nil
}

func (f *fakeData) Ping(ctx context.Context) error { return f.pingErr }

type env struct {
	tracker *fakeTracker
	data    *fakeData
	handler http.Handler
}

func newEnv(t *testing.T, cfg *config.Config, limiter *rate.Limiter) *env {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	path := filepath.Join(t.TempDir(), "ready.csv")
	table := &models.ForecastTable{Rows: []models.ForecastRow{
		{Date: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Value: null.FloatFrom(1)},
		{Date: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Value: null.FloatFrom(2)},
		{Date: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)},
	}}
	if err := forecast.WriteCSVFile(path, table); err != nil {
		t.Fatal(err)
	}

	tracker := &fakeTracker{jobs: map[string]*models.Job{
		"ready":   {ID: "ready", State: models.JobReady, Progress: 100, OutputFile: path},
		"running": {ID: "running", State: models.JobRunning, Progress: 40},
	}}
	data := &fakeData{}
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	h := NewHandler(data, tracker, nil, log, "1.2.3")
	return &env{tracker: tracker, data: data, handler: h.Routes(cfg, limiter)}
}

func (e *env) do(method, target string, body io.Reader, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func detail(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not JSON: %q", w.Body.String())
	}
	s, _ := body["detail"].(string)
	return s
}

func TestRoutes_StatusCodes(t *testing.T) {
	e := newEnv(t, &config.Config{AllowedOrigins: []string{"*"}}, nil)
	tests := []struct {
		name   string
		method string
		target string
		body   string
		want   int
	}{
		{"start", "POST", "/classical/start", `{"target_value":"Ozone","state_name":"Ohio"}`, http.StatusOK},
		{"start missing target", "POST", "/classical/start", `{"state_name":"Ohio"}`, http.StatusUnprocessableEntity},
		{"start bad agg", "POST", "/classical/start", `{"target_value":"Ozone","agg":"max"}`, http.StatusUnprocessableEntity},
		{"start bad json", "POST", "/classical/start", `{`, http.StatusUnprocessableEntity},
		{"status", "GET", "/classical/status?job_id=running", "", http.StatusOK},
		{"status unknown", "GET", "/classical/status?job_id=nope", "", http.StatusNotFound},
		{"status without id", "GET", "/classical/status", "", http.StatusUnprocessableEntity},
		{"resume unknown", "POST", "/classical/resume?job_id=nope", "", http.StatusNotFound},
		{"download not ready", "GET", "/classical/download?job_id=running", "", http.StatusConflict},
		{"download unknown", "GET", "/classical/download?job_id=nope", "", http.StatusNotFound},
		{"stage unconfigured", "POST", "/classical/stage?job_id=ready", "", http.StatusServiceUnavailable},
		{"filters without target", "GET", "/data/filters", "", http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := e.do(tt.method, tt.target, strings.NewReader(tt.body), nil)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.want, w.Body.String())
			}
			if w.Code >= 400 && detail(t, w) == "" {
				t.Errorf("error response without detail: %s", w.Body.String())
			}
		})
	}
}

func TestStart_ReturnsQueuedJob(t *testing.T) {
	e := newEnv(t, &config.Config{}, nil)
	w := e.do("POST", "/classical/start", strings.NewReader(`{"target_value":" Ozone "}`), nil)
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["state"] != "queued" || resp["job_id"] == "" {
		t.Fatalf("response = %v", resp)
	}
	if got := e.tracker.jobs[resp["job_id"]].Request; got.TargetValue != "Ozone" || got.Agg != "mean" {
		t.Fatalf("request = %+v", got)
	}
}

func TestDownload_ServesCSV(t *testing.T) {
	e := newEnv(t, &config.Config{}, nil)
	w := e.do("GET", "/classical/download?job_id=ready", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/csv" {
		t.Errorf("content type = %q", ct)
	}
	if !strings.Contains(w.Header().Get("Content-Disposition"), "ready.csv") {
		t.Errorf("disposition = %q", w.Header().Get("Content-Disposition"))
	}
	if !strings.HasPrefix(w.Body.String(), "DATE,VALUE,SES-M,HWES-M,ARIMA-M,SES-Q,HWES-Q,ARIMA-Q\n") {
		t.Errorf("body = %q", w.Body.String())
	}
}

func TestResult_Limit(t *testing.T) {
	e := newEnv(t, &config.Config{}, nil)
	w := e.do("GET", "/classical/result?job_id=ready&limit=2", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Rows []map[string]any `json:"rows"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Rows) != 2 || resp.Rows[0]["DATE"] != "2024-01-02" || resp.Rows[1]["VALUE"] != nil {
		t.Fatalf("rows = %v", resp.Rows)
	}
}

func TestAuth_ProtectsMutatingRoutes(t *testing.T) {
	cfg := &config.Config{JWTSecret: "k"}
	e := newEnv(t, cfg, nil)

	if w := e.do("POST", "/classical/start", strings.NewReader(`{"target_value":"Ozone"}`), nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated start = %d", w.Code)
	}
	if w := e.do("GET", "/classical/status?job_id=running", nil, nil); w.Code != http.StatusOK {
		t.Fatalf("status must stay public, got %d", w.Code)
	}

	token, err := middleware.IssueToken("k", "analyst", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	w := e.do("POST", "/classical/start", strings.NewReader(`{"target_value":"Ozone"}`), map[string]string{"Authorization": "Bearer " + token})
	if w.Code != http.StatusOK {
		t.Fatalf("authenticated start = %d: %s", w.Code, w.Body.String())
	}
}

func TestStart_RateLimited(t *testing.T) {
	e := newEnv(t, &config.Config{}, rate.NewLimiter(rate.Every(time.Hour), 1))
	first := e.do("POST", "/classical/start", strings.NewReader(`{"target_value":"Ozone"}`), nil)
	second := e.do("POST", "/classical/start", strings.NewReader(`{"target_value":"Ozone"}`), nil)
	if first.Code != http.StatusOK || second.Code != http.StatusTooManyRequests {
		t.Fatalf("codes = %d, %d", first.Code, second.Code)
	}
}

func TestHealth(t *testing.T) {
	e := newEnv(t, &config.Config{}, nil)
	if w := e.do("GET", "/health", nil, nil); w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"connected"`) {
		t.Fatalf("healthy: %d %s", w.Code, w.Body.String())
	}

	e.data.pingErr = errors.New("dial postgres://tsf:hunter2@db/air: refused")
	w := e.do("GET", "/health", nil, nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "hunter2") {
		t.Fatalf("credentials leaked: %s", w.Body.String())
	}
}

func TestUploadAirQuality(t *testing.T) {
	e := newEnv(t, &config.Config{}, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "obs.csv")
	if err != nil {
		t.Fatal(err)
	}
	fw.Write([]byte("Date Local,Parameter Name,Arithmetic Mean,State Name\n"))
	mw.Close()

	w := e.do("POST", "/upload/air_quality?on_conflict=fail", &buf, map[string]string{"Content-Type": mw.FormDataContentType()})
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"rows_inserted":2`) {
		t.Fatalf("upload: %d %s", w.Code, w.Body.String())
	}
	if !strings.HasPrefix(string(e.data.upload), "Date Local") {
		t.Errorf("uploaded body = %q", e.data.upload)
	}

	if w := e.do("POST", "/upload/air_quality?on_conflict=replace", nil, nil); w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("bad mode: %d", w.Code)
	}
}

func TestMetadataRoutes(t *testing.T) {
	e := newEnv(t, &config.Config{}, nil)
	tests := []struct {
		target string
		want   string
	}{
		{"/data/targets", `"PM2.5"`},
		{"/data/filters?target=Ozone", `"State Name":["Ohio"]`},
		{"/data/last_date?state=Ohio&parameter=Ozone", `"last_date":"2024-05-31"`},
		{"/version", `"1.2.3"`},
		{"/", `"tsf-backend"`},
	}
	for _, tt := range tests {
		w := e.do("GET", tt.target, nil, nil)
		if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), tt.want) {
			t.Errorf("%s: %d %s", tt.target, w.Code, w.Body.String())
		}
	}
}
