package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/quiet-owl-labs/threattriage/internal/ml"
	"github.com/quiet-owl-labs/threattriage/internal/models"
	"github.com/quiet-owl-labs/threattriage/internal/pipeline"
	"github.com/quiet-owl-labs/threattriage/internal/rules"
	"github.com/quiet-owl-labs/threattriage/internal/storage"
)

type fakeRunner struct {
	mu     sync.Mutex
	err    error
	report *pipeline.Report
	rows   []pipeline.Row
}

func (f *fakeRunner) Run(ctx context.Context, rows []pipeline.Row, source string) (*pipeline.Report, error) {
	f.mu.Lock()
	f.rows = rows
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.report != nil {
		return f.report, nil
	}
	return &pipeline.Report{BatchID: "batch-1", Processed: len(rows)}, nil
}

type fakeTrainer struct {
	version string
	err     error
}

func (f *fakeTrainer) Train(ctx context.Context, datasetPath string) (string, error) {
	return f.version, f.err
}

type testEnv struct {
	server   *httptest.Server
	store    storage.Storage
	runner   *fakeRunner
	trainer  *fakeTrainer
	modelDir string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dir := t.TempDir()

	store := storage.NewSQLiteStorage(filepath.Join(dir, "triage.db"))
	if err := store.Open(); err != nil {
		t.Fatalf("open storage: %v", err)
	}
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	rulesPath := filepath.Join(dir, "rules.json")
	doc := `{"slack": [{"priorities": ["BLOCK IMMEDIATELY"], "min_confidence": 0.5}]}`
	if err := os.WriteFile(rulesPath, []byte(doc), 0o644); err != nil {
		t.Fatalf("write rules: %v", err)
	}

	modelDir := filepath.Join(dir, "models")
	runner := &fakeRunner{}
	trainer := &fakeTrainer{version: "v20260101-120000"}

	cfg := &Config{Address: "127.0.0.1:0", RateLimitPerIP: 1000}
	deps := &Dependencies{
		Store:       store,
		Runner:      runner,
		Rules:       rules.NewStore(rulesPath),
		Registry:    ml.NewRegistry(modelDir),
		Trainer:     trainer,
		DatasetPath: func() string { return filepath.Join(dir, "dataset.csv") },
	}
	srv, err := New(cfg, deps)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	ts := httptest.NewServer(srv.setupRouter())
	t.Cleanup(ts.Close)

	return &testEnv{server: ts, store: store, runner: runner, trainer: trainer, modelDir: modelDir}
}

func (e *testEnv) do(t *testing.T, method, path string, body string) *http.Response {
	t.Helper()
	var rd *bytes.Reader
	if body == "" {
		rd = bytes.NewReader(nil)
	} else {
		rd = bytes.NewReader([]byte(body))
	}
	req, err := http.NewRequest(method, e.server.URL+path, rd)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decodeData(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	var envelope struct {
		Data  json.RawMessage `json:"data"`
		Error json.RawMessage `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			t.Fatalf("decode data: %v", err)
		}
	}
}

func TestProcessEndpoint(t *testing.T) {
	env := newTestEnv(t)

	csv := "timestamp,event_type,ioc_type,ioc_value\n2026-01-10T12:00:00Z,brute_force,ip,203.0.113.5\n"
	req, err := http.NewRequest(http.MethodPost, env.server.URL+"/api/v1/alerts/process", strings.NewReader(csv))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "text/csv")

	resp, err := env.server.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var report pipeline.Report
	decodeData(t, resp, &report)
	if report.Processed != 1 {
		t.Errorf("processed = %d, want 1", report.Processed)
	}

	env.runner.mu.Lock()
	defer env.runner.mu.Unlock()
	if len(env.runner.rows) != 1 || env.runner.rows[0].IOCValue != "203.0.113.5" {
		t.Errorf("runner rows = %+v", env.runner.rows)
	}
}

func TestProcessWithoutTrainedModel(t *testing.T) {
	env := newTestEnv(t)
	env.runner.err = fmt.Errorf("precheck: %w", ml.ErrNoTrainedModel)

	csv := "timestamp,event_type,ioc_type,ioc_value\n2026-01-10T12:00:00Z,port_scan,ip,198.51.100.9\n"
	req, _ := http.NewRequest(http.MethodPost, env.server.URL+"/api/v1/alerts/process", strings.NewReader(csv))
	req.Header.Set("Content-Type", "text/csv")

	resp, err := env.server.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}

	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatal(err)
	}
	if envelope.Error.Code != "MODEL_NOT_TRAINED" {
		t.Errorf("error code = %q, want MODEL_NOT_TRAINED", envelope.Error.Code)
	}
}

func TestAlertQueries(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/api/v1/alerts", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	var page struct {
		Items []models.Alert `json:"items"`
		Total int64          `json:"total"`
	}
	decodeData(t, resp, &page)
	if page.Total != 0 || len(page.Items) != 0 {
		t.Errorf("expected empty listing, got %+v", page)
	}

	resp = env.do(t, http.MethodGet, "/api/v1/alerts/no-such-id", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get unknown alert status = %d, want 404", resp.StatusCode)
	}

	resp = env.do(t, http.MethodGet, "/api/v1/stats/high-risk-countries", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("high-risk countries status = %d", resp.StatusCode)
	}
	var countries struct {
		Countries []string `json:"countries"`
	}
	decodeData(t, resp, &countries)
	if countries.Countries == nil {
		t.Error("countries should decode to an empty list, not null")
	}
}

func TestRuleCRUDOverHTTP(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/v1/rules/webhook", `{"priorities": ["MONITOR"], "min_confidence": 0.2}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add rule status = %d, want 201", resp.StatusCode)
	}

	resp = env.do(t, http.MethodGet, "/api/v1/rules/webhook", "")
	var dest struct {
		Destination string       `json:"destination"`
		Rules       []rules.Rule `json:"rules"`
	}
	decodeData(t, resp, &dest)
	if len(dest.Rules) != 1 || dest.Rules[0].Priorities[0] != "MONITOR" {
		t.Fatalf("rules after add = %+v", dest)
	}

	resp = env.do(t, http.MethodPut, "/api/v1/rules/webhook/0", `{"priorities": ["ESCALATE TO TIER 2"], "min_confidence": 0.4}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("edit rule status = %d", resp.StatusCode)
	}

	resp = env.do(t, http.MethodPost, "/api/v1/rules/webhook/0/toggle", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("toggle rule status = %d", resp.StatusCode)
	}

	resp = env.do(t, http.MethodPut, "/api/v1/rules/webhook/5", `{"priorities": ["MONITOR"], "min_confidence": 0}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("edit out-of-range status = %d, want 404", resp.StatusCode)
	}

	resp = env.do(t, http.MethodDelete, "/api/v1/rules/webhook/0", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete rule status = %d, want 204", resp.StatusCode)
	}

	resp = env.do(t, http.MethodPost, "/api/v1/rules/webhook", `{"min_confidence": 0.2}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid rule status = %d, want 400", resp.StatusCode)
	}
}

func TestModelLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/api/v1/model/versions", "")
	var versions struct {
		Active   string           `json:"active"`
		Versions []ml.VersionInfo `json:"versions"`
	}
	decodeData(t, resp, &versions)
	if versions.Active != "" || len(versions.Versions) != 0 {
		t.Fatalf("untrained versions = %+v", versions)
	}

	resp = env.do(t, http.MethodPost, "/api/v1/model/train", "")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("train status = %d, want 201", resp.StatusCode)
	}
	var trained struct {
		Version string `json:"version"`
	}
	decodeData(t, resp, &trained)
	if trained.Version != "v20260101-120000" {
		t.Errorf("trained version = %q", trained.Version)
	}

	env.trainer.err = fmt.Errorf("trainer exited 1")
	resp = env.do(t, http.MethodPost, "/api/v1/model/train", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("failed train status = %d, want 409", resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Join(env.modelDir, "v20260101-120000"), 0o755); err != nil {
		t.Fatal(err)
	}
	resp = env.do(t, http.MethodPost, "/api/v1/model/reset", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("reset status = %d, want 204", resp.StatusCode)
	}
	entries, err := os.ReadDir(env.modelDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("model dir not emptied: %v", entries)
	}
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/health", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", resp.StatusCode)
	}

	resp = env.do(t, http.MethodGet, "/health/ready", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("ready status = %d", resp.StatusCode)
	}

	resp = env.do(t, http.MethodGet, "/metrics", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("metrics status = %d", resp.StatusCode)
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.SetDefaults()
	if cfg.Address != ":8080" {
		t.Errorf("address = %q", cfg.Address)
	}
	if cfg.RateLimitPerIP != 120 {
		t.Errorf("rate limit = %d", cfg.RateLimitPerIP)
	}
	if cfg.QueryTimeout != 10*time.Second {
		t.Errorf("query timeout = %v", cfg.QueryTimeout)
	}
}

func TestNewRejectsMissingDependencies(t *testing.T) {
	if _, err := New(nil, &Dependencies{}); err == nil {
		t.Error("nil config should fail")
	}
	if _, err := New(&Config{}, nil); err == nil {
		t.Error("nil dependencies should fail")
	}
	if _, err := New(&Config{}, &Dependencies{}); err == nil {
		t.Error("empty dependencies should fail")
	}
}
