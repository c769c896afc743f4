package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/orchestrator"
	"github.com/shaiso/Conveyor/internal/repo"
	"github.com/shaiso/Conveyor/internal/telemetry"
	"github.com/shaiso/Conveyor/internal/trigger"
)

// fakeOrchestrator создаёт run в хранилище без выполнения.
type fakeOrchestrator struct {
	store    repo.RunStore
	pipeline *domain.Pipeline
	decision trigger.Decision
	err      error
	events   []domain.Event
	active   map[uuid.UUID]bool
}

func (f *fakeOrchestrator) Pipeline() *domain.Pipeline { return f.pipeline }

func (f *fakeOrchestrator) HandleEvent(ctx context.Context, ev domain.Event) ([]*domain.Run, trigger.Decision, error) {
	f.events = append(f.events, ev)
	if f.err != nil {
		return nil, trigger.Decision{}, f.err
	}
	if !f.decision.Matched {
		return nil, f.decision, nil
	}
	var runs []*domain.Run
	for _, label := range f.pipeline.RunsOn {
		run := domain.NewRun(f.pipeline.Name, label, ev)
		if err := f.store.Create(ctx, run); err != nil {
			return runs, f.decision, err
		}
		runs = append(runs, run)
	}
	return runs, f.decision, nil
}

func (f *fakeOrchestrator) Trigger(ctx context.Context, ref, sha string) ([]*domain.Run, error) {
	runs, _, err := f.HandleEvent(ctx, domain.Event{Type: domain.EventManual, Ref: ref, SHA: sha})
	return runs, err
}

func (f *fakeOrchestrator) Cancel(id uuid.UUID) error {
	if !f.active[id] {
		return orchestrator.ErrRunNotActive
	}
	delete(f.active, id)
	return nil
}

func (f *fakeOrchestrator) ActiveRuns() int { return len(f.active) }

type fixture struct {
	server *httptest.Server
	store  *repo.MemoryRunRepo
	orch   *fakeOrchestrator
}

const testRepository = "https://example.com/app.git"

func newFixture(t *testing.T, opts ...func(*Config)) *fixture {
	t.Helper()

	store := repo.NewMemoryRunRepo()
	orch := &fakeOrchestrator{
		store: store,
		pipeline: &domain.Pipeline{
			Name:   "build-and-audit",
			RunsOn: []string{"ubuntu-latest", "macos-latest"},
		},
		decision: trigger.Decision{Matched: true, Reason: "push to master"},
		active:   make(map[uuid.UUID]bool),
	}

	reg := prometheus.NewRegistry()
	cfg := Config{
		Runs:         store,
		Orchestrator: orch,
		Gatherer:     reg,
		Metrics:      telemetry.NewMetrics(reg),
		Repository:   testRepository,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	h := NewHandler(cfg)

	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)
	return &fixture{server: srv, store: store, orch: orch}
}

func (f *fixture) do(t *testing.T, method, path, body string, header map[string]string) (*http.Response, []byte) {
	t.Helper()

	req, err := http.NewRequest(method, f.server.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}

func decodeData[T any](t *testing.T, body []byte) T {
	t.Helper()
	var env struct {
		Data T `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatalf("decode %s: %v", body, err)
	}
	return env.Data
}

func (f *fixture) seedRun(t *testing.T, status domain.RunStatus, created time.Time) *domain.Run {
	t.Helper()
	run := domain.NewRun("build-and-audit", "ubuntu-latest", domain.Event{Type: domain.EventPush, Ref: "refs/heads/master"})
	run.Status = status
	run.CreatedAt = created
	if err := f.store.Create(context.Background(), run); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return run
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodGet, "/healthz", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var health HealthResponse
	if err := json.Unmarshal(body, &health); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if health.Status != "ok" {
		t.Errorf("status = %q", health.Status)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)

	f.do(t, http.MethodGet, "/healthz", "", nil)
	resp, body := f.do(t, http.MethodGet, "/metrics", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "conveyor_api_http_requests_total") {
		t.Errorf("metrics output has no http counter:\n%s", body)
	}
}

func TestReceiveEvent_Matched(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/api/v1/events",
		`{"type":"push","ref":"refs/heads/master","sha":"abc123"}`, nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}

	got := decodeData[EventResponse](t, body)
	if !got.Matched || len(got.Runs) != 2 {
		t.Fatalf("response = %+v", got)
	}
	if got.Runs[0].RunnerLabel != "ubuntu-latest" || got.Runs[1].RunnerLabel != "macos-latest" {
		t.Errorf("labels = %s, %s", got.Runs[0].RunnerLabel, got.Runs[1].RunnerLabel)
	}
	if got.Runs[0].Event.SHA != "abc123" {
		t.Errorf("sha = %q", got.Runs[0].Event.SHA)
	}
}

func TestReceiveEvent_Filtered(t *testing.T) {
	f := newFixture(t)
	f.orch.decision = trigger.Decision{Matched: false, Reason: "branch feature not in push.branches"}

	resp, body := f.do(t, http.MethodPost, "/api/v1/events",
		`{"type":"push","ref":"refs/heads/feature"}`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	got := decodeData[EventResponse](t, body)
	if got.Matched || got.Reason == "" || len(got.Runs) != 0 {
		t.Errorf("response = %+v", got)
	}
}

func TestReceiveEvent_Webhook(t *testing.T) {
	f := newFixture(t)

	payload := `{"ref":"refs/heads/master","after":"deadbeef","repository":{"clone_url":"https://example.com/app.git"}}`
	resp, body := f.do(t, http.MethodPost, "/api/v1/events", payload,
		map[string]string{"X-GitHub-Event": "push"})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}

	if len(f.orch.events) != 1 {
		t.Fatalf("events = %d", len(f.orch.events))
	}
	ev := f.orch.events[0]
	if ev.Type != domain.EventPush || ev.SHA != "deadbeef" || ev.Repository != "https://example.com/app.git" {
		t.Errorf("event = %+v", ev)
	}
}

func TestReceiveEvent_Signature(t *testing.T) {
	withSecret := func(cfg *Config) { cfg.WebhookSecret = "s3cret" }
	payload := `{"ref":"refs/heads/master","after":"deadbeef","repository":{"clone_url":"https://example.com/app.git"}}`

	tests := []struct {
		name      string
		signature string
		wantCode  int
	}{
		{name: "valid", signature: trigger.Sign("s3cret", []byte(payload)), wantCode: http.StatusAccepted},
		{name: "wrong secret", signature: trigger.Sign("guess", []byte(payload)), wantCode: http.StatusUnauthorized},
		{name: "missing", signature: "", wantCode: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, withSecret)

			header := map[string]string{"X-GitHub-Event": "push"}
			if tt.signature != "" {
				header[trigger.SignatureHeader] = tt.signature
			}
			resp, body := f.do(t, http.MethodPost, "/api/v1/events", payload, header)
			if resp.StatusCode != tt.wantCode {
				t.Fatalf("status = %d, want %d (body %s)", resp.StatusCode, tt.wantCode, body)
			}
			if tt.wantCode != http.StatusAccepted && len(f.orch.events) != 0 {
				t.Errorf("unsigned event reached orchestrator: %+v", f.orch.events)
			}
		})
	}

	// Подпись обязательна и для событий в формате Event
	f := newFixture(t, withSecret)
	resp, _ := f.do(t, http.MethodPost, "/api/v1/events", `{"type":"manual"}`, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unsigned JSON event: status = %d", resp.StatusCode)
	}
}

func TestReceiveEvent_ForeignRepository(t *testing.T) {
	payload := `{"ref":"refs/heads/master","after":"deadbeef","repository":{"clone_url":"https://evil.example.com/payload.git"}}`
	header := map[string]string{"X-GitHub-Event": "push"}

	f := newFixture(t)
	resp, body := f.do(t, http.MethodPost, "/api/v1/events", payload, header)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}
	if len(f.orch.events) != 0 {
		t.Errorf("foreign event reached orchestrator: %+v", f.orch.events)
	}

	resp, _ = f.do(t, http.MethodPost, "/api/v1/events",
		`{"type":"manual","repository":"https://evil.example.com/payload.git"}`, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("JSON event: status = %d", resp.StatusCode)
	}

	// Явное разрешение
	f = newFixture(t, func(cfg *Config) { cfg.AllowForeignRepositories = true })
	resp, body = f.do(t, http.MethodPost, "/api/v1/events", payload, header)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("allowed: status = %d, body = %s", resp.StatusCode, body)
	}
}

func TestReceiveEvent_Errors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		header   map[string]string
		orchErr  error
		wantCode int
	}{
		{name: "malformed json", body: `{`, wantCode: http.StatusBadRequest},
		{name: "unsupported webhook", body: `{}`, header: map[string]string{"X-GitHub-Event": "issues"}, wantCode: http.StatusOK},
		{name: "invalid webhook", body: `not json`, header: map[string]string{"X-GitHub-Event": "push"}, wantCode: http.StatusBadRequest},
		{name: "invalid event", body: `{}`, orchErr: orchestrator.ErrInvalidEvent, wantCode: http.StatusBadRequest},
		{name: "stopped", body: `{"type":"push"}`, orchErr: orchestrator.ErrStopped, wantCode: http.StatusServiceUnavailable},
		{name: "store failure", body: `{"type":"push"}`, orchErr: errors.New("db down"), wantCode: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.orch.err = tt.orchErr

			resp, body := f.do(t, http.MethodPost, "/api/v1/events", tt.body, tt.header)
			if resp.StatusCode != tt.wantCode {
				t.Errorf("status = %d, want %d (body %s)", resp.StatusCode, tt.wantCode, body)
			}
		})
	}
}

func TestCreateRun(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/api/v1/runs", `{"ref":"refs/heads/release","sha":"f00"}`, nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}

	runs := decodeData[[]RunResponse](t, body)
	if len(runs) != 2 {
		t.Fatalf("runs = %d", len(runs))
	}
	if runs[0].Event.Type != domain.EventManual || runs[0].Status != string(domain.RunStatusPending) {
		t.Errorf("run = %+v", runs[0])
	}

	resp, _ = f.do(t, http.MethodPost, "/api/v1/runs", `{}`, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty request status = %d, want 400", resp.StatusCode)
	}
}

func TestListRuns(t *testing.T) {
	f := newFixture(t)
	base := time.Now().Add(-time.Hour)
	f.seedRun(t, domain.RunStatusSucceeded, base)
	f.seedRun(t, domain.RunStatusFailed, base.Add(time.Minute))
	newest := f.seedRun(t, domain.RunStatusFailed, base.Add(2*time.Minute))

	tests := []struct {
		name     string
		query    string
		wantCode int
		wantLen  int
	}{
		{name: "all", query: "", wantCode: http.StatusOK, wantLen: 3},
		{name: "by status", query: "?status=FAILED", wantCode: http.StatusOK, wantLen: 2},
		{name: "by pipeline", query: "?pipeline=other", wantCode: http.StatusOK, wantLen: 0},
		{name: "limit", query: "?limit=1", wantCode: http.StatusOK, wantLen: 1},
		{name: "offset", query: "?offset=2", wantCode: http.StatusOK, wantLen: 1},
		{name: "bad status", query: "?status=DONE", wantCode: http.StatusBadRequest},
		{name: "bad limit", query: "?limit=abc", wantCode: http.StatusBadRequest},
		{name: "negative offset", query: "?offset=-1", wantCode: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := f.do(t, http.MethodGet, "/api/v1/runs"+tt.query, "", nil)
			if resp.StatusCode != tt.wantCode {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantCode)
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			runs := decodeData[[]RunResponse](t, body)
			if len(runs) != tt.wantLen {
				t.Errorf("len = %d, want %d", len(runs), tt.wantLen)
			}
		})
	}

	_, body := f.do(t, http.MethodGet, "/api/v1/runs?limit=1", "", nil)
	if runs := decodeData[[]RunResponse](t, body); runs[0].ID != newest.ID {
		t.Errorf("first run = %s, want newest %s", runs[0].ID, newest.ID)
	}
}

func TestGetRunAndSteps(t *testing.T) {
	f := newFixture(t)
	run := f.seedRun(t, domain.RunStatusRunning, time.Now())
	run.Steps = []domain.StepResult{
		{StepID: "checkout", Name: "checkout", Kind: domain.StepKindCheckout, Status: domain.StepStatusSucceeded},
		{StepID: "build", Name: "build", Kind: domain.StepKindBuild, Status: domain.StepStatusFailed, ExitCode: 101},
	}
	if err := f.store.Update(context.Background(), run); err != nil {
		t.Fatalf("update: %v", err)
	}

	resp, body := f.do(t, http.MethodGet, "/api/v1/runs/"+run.ID.String(), "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	got := decodeData[RunResponse](t, body)
	if got.ID != run.ID || len(got.Steps) != 2 {
		t.Errorf("run = %+v", got)
	}

	resp, body = f.do(t, http.MethodGet, "/api/v1/runs/"+run.ID.String()+"/steps", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("steps status = %d", resp.StatusCode)
	}
	steps := decodeData[[]StepResultResponse](t, body)
	if len(steps) != 2 || steps[1].ExitCode != 101 || steps[1].Status != string(domain.StepStatusFailed) {
		t.Errorf("steps = %+v", steps)
	}

	resp, _ = f.do(t, http.MethodGet, "/api/v1/runs/"+uuid.NewString(), "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing run status = %d, want 404", resp.StatusCode)
	}
	resp, _ = f.do(t, http.MethodGet, "/api/v1/runs/not-a-uuid", "", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad id status = %d, want 400", resp.StatusCode)
	}
}

func TestCancelRun(t *testing.T) {
	f := newFixture(t)
	active := f.seedRun(t, domain.RunStatusRunning, time.Now())
	finished := f.seedRun(t, domain.RunStatusSucceeded, time.Now())
	f.orch.active[active.ID] = true

	resp, _ := f.do(t, http.MethodPost, "/api/v1/runs/"+active.ID.String()+"/cancel", "", nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("active cancel status = %d, want 202", resp.StatusCode)
	}

	resp, _ = f.do(t, http.MethodPost, "/api/v1/runs/"+finished.ID.String()+"/cancel", "", nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("finished cancel status = %d, want 422", resp.StatusCode)
	}

	resp, _ = f.do(t, http.MethodPost, "/api/v1/runs/"+uuid.NewString()+"/cancel", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing cancel status = %d, want 404", resp.StatusCode)
	}
}

func TestRouting(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.do(t, http.MethodGet, "/api/v1/nope", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown route = %d, want 404", resp.StatusCode)
	}
	resp, _ = f.do(t, http.MethodDelete, "/api/v1/runs", "", nil)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("wrong method = %d, want 405", resp.StatusCode)
	}

	resp, body := f.do(t, http.MethodGet, "/api/v1/pipeline", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("pipeline status = %d", resp.StatusCode)
	}
	if p := decodeData[domain.Pipeline](t, body); p.Name != "build-and-audit" {
		t.Errorf("pipeline = %q", p.Name)
	}
}
