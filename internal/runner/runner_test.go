package runner

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/shaiso/Conveyor/internal/cache"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/engine"
)

// fakeExecutor — executor, возвращающий заранее заданные коды завершения.
type fakeExecutor struct {
	mu        sync.Mutex
	exitCodes map[string]int
	errs      map[string]error
	hooks     map[string]func(ctx context.Context)
	calls     []string
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{
		exitCodes: make(map[string]int),
		errs:      make(map[string]error),
		hooks:     make(map[string]func(ctx context.Context)),
	}
}

func (f *fakeExecutor) Execute(ctx context.Context, req *Request) (*ExecutionResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req.Step.ID)
	code := f.exitCodes[req.Step.ID]
	err := f.errs[req.Step.ID]
	hook := f.hooks[req.Step.ID]
	f.mu.Unlock()

	if hook != nil {
		hook(ctx)
	}
	if err != nil {
		return nil, err
	}
	return &ExecutionResult{ExitCode: code, Output: req.Step.ID + " output\n"}, nil
}

func (f *fakeExecutor) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// failingStore — хранилище, которое всегда возвращает ошибку.
type failingStore struct{}

func (failingStore) Get(context.Context, string) (io.ReadCloser, error) {
	return nil, errors.New("connection refused")
}

func (failingStore) Put(context.Context, string, io.Reader) error {
	return errors.New("connection refused")
}

// pipelineSteps возвращает шесть шагов в порядке встроенного pipeline.
func pipelineSteps() []domain.Step {
	return []domain.Step{
		{ID: "toolchain", Kind: domain.StepKindToolchain, Run: "rustup default stable"},
		{ID: "cache", Kind: domain.StepKindCache, Cache: &domain.CacheSpec{
			Key:   `{{ .Runner.OS }}-{{ .Runner.Label }}-cargo-{{ hashFiles "**/Cargo.lock" }}`,
			Paths: []string{"target"},
		}},
		{ID: "tool-install", Kind: domain.StepKindToolInstall, Run: "cargo install cargo-audit"},
		{ID: "checkout", Kind: domain.StepKindCheckout, Run: "git fetch"},
		{ID: "build", Kind: domain.StepKindBuild, Run: "cargo build --release"},
		{ID: "audit", Kind: domain.StepKindAudit, Run: "cargo audit"},
	}
}

// testRunner собирает Runner с fakeExecutor для командных шагов
// и настоящим CacheExecutor поверх store.
func testRunner(t *testing.T, fake *fakeExecutor, store cache.Store) *Runner {
	t.Helper()
	registry := NewRegistry(nil)
	for _, kind := range []domain.StepKind{
		domain.StepKindToolchain,
		domain.StepKindToolInstall,
		domain.StepKindCheckout,
		domain.StepKindBuild,
		domain.StepKindAudit,
		domain.StepKindCommand,
	} {
		registry.Register(kind, fake)
	}
	registry.Register(domain.StepKindCache, &CacheExecutor{Store: store, Home: t.TempDir()})
	return New(Config{Registry: registry})
}

// testWorkspace создаёт workspace с Cargo.lock и target/.
func testWorkspace(t *testing.T) string {
	t.Helper()
	ws := t.TempDir()
	if err := os.WriteFile(filepath.Join(ws, "Cargo.lock"), []byte("version = 3\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(ws, "target", "release"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(ws, "target", "release", "app"), []byte("bin"), 0o644); err != nil {
		t.Fatal(err)
	}
	return ws
}

func runContext(ws string) *RunContext {
	return &RunContext{
		Pipeline:    "build-and-audit",
		RunnerLabel: "ubuntu-latest",
		Event:       domain.Event{Type: domain.EventPush, Ref: "refs/heads/master", SHA: "abc123"},
		Workspace:   ws,
	}
}

func newStore(t *testing.T) *cache.FileStore {
	t.Helper()
	store, err := cache.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func TestRun_AllStepsSucceed(t *testing.T) {
	fake := newFakeExecutor()
	r := testRunner(t, fake, newStore(t))

	run, err := r.Run(context.Background(), pipelineSteps(), runContext(testWorkspace(t)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if run.Status != domain.RunStatusSucceeded {
		t.Fatalf("expected SUCCEEDED, got %s (%s)", run.Status, run.Error)
	}
	if run.ExitCode() != 0 {
		t.Errorf("expected exit code 0, got %d", run.ExitCode())
	}
	if run.SkippedCount() != 0 {
		t.Errorf("expected no skipped steps, got %d", run.SkippedCount())
	}

	// Шесть результатов в порядке шагов
	want := []string{"toolchain", "cache", "tool-install", "checkout", "build", "audit"}
	if len(run.Steps) != len(want) {
		t.Fatalf("expected %d results, got %d", len(want), len(run.Steps))
	}
	for i, id := range want {
		if run.Steps[i].StepID != id {
			t.Errorf("result %d: expected %s, got %s", i, id, run.Steps[i].StepID)
		}
		if run.Steps[i].Status != domain.StepStatusSucceeded {
			t.Errorf("step %s: expected SUCCEEDED, got %s", id, run.Steps[i].Status)
		}
	}

	// Командные шаги выполнены последовательно
	calls := fake.Calls()
	wantCalls := []string{"toolchain", "tool-install", "checkout", "build", "audit"}
	if strings.Join(calls, ",") != strings.Join(wantCalls, ",") {
		t.Errorf("expected calls %v, got %v", wantCalls, calls)
	}

	if run.StartedAt == nil || run.FinishedAt == nil {
		t.Error("run timestamps should be set")
	}
	if FailureOf(run) != nil {
		t.Errorf("expected no failure, got %v", FailureOf(run))
	}
}

func TestRun_RequiredFailureSkipsRest(t *testing.T) {
	steps := pipelineSteps()

	for i, step := range steps {
		if step.Kind == domain.StepKindCache {
			continue
		}
		t.Run(step.ID, func(t *testing.T) {
			fake := newFakeExecutor()
			fake.exitCodes[step.ID] = 101
			r := testRunner(t, fake, newStore(t))

			run, err := r.Run(context.Background(), pipelineSteps(), runContext(testWorkspace(t)))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if run.Status != domain.RunStatusFailed {
				t.Fatalf("expected FAILED, got %s", run.Status)
			}
			if run.ExitCode() == 0 {
				t.Error("expected non-zero exit code")
			}
			if run.FailedStep != step.ID {
				t.Errorf("expected failed step %s, got %s", step.ID, run.FailedStep)
			}
			if len(run.Steps) != len(steps) {
				t.Fatalf("expected %d results, got %d", len(steps), len(run.Steps))
			}

			failed := run.Steps[i]
			if failed.Status != domain.StepStatusFailed || failed.ExitCode != 101 {
				t.Errorf("unexpected failed result: %+v", failed)
			}

			// Все последующие шаги пропущены и не запускались
			for _, res := range run.Steps[i+1:] {
				if res.Status != domain.StepStatusSkipped {
					t.Errorf("step %s: expected SKIPPED, got %s", res.StepID, res.Status)
				}
				if res.ExitCode != domain.ExitCodeNotRun {
					t.Errorf("step %s: expected exit code -1, got %d", res.StepID, res.ExitCode)
				}
				for _, call := range fake.Calls() {
					if call == res.StepID {
						t.Errorf("skipped step %s was executed", res.StepID)
					}
				}
			}
			if run.SkippedCount() != len(steps)-i-1 {
				t.Errorf("expected %d skipped, got %d", len(steps)-i-1, run.SkippedCount())
			}
		})
	}
}

func TestRun_BuildFailure(t *testing.T) {
	fake := newFakeExecutor()
	fake.exitCodes["build"] = 101
	store := newStore(t)
	r := testRunner(t, fake, store)

	run, err := r.Run(context.Background(), pipelineSteps(), runContext(testWorkspace(t)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if run.FailedStep != "build" || run.FailureKind != domain.StepKindBuild {
		t.Errorf("expected build failure, got step=%s kind=%s", run.FailedStep, run.FailureKind)
	}
	audit, _ := run.StepResult("audit")
	if audit.Status != domain.StepStatusSkipped {
		t.Errorf("expected audit SKIPPED, got %s", audit.Status)
	}

	failure := FailureOf(run)
	if !errors.Is(failure, ErrBuild) {
		t.Errorf("expected ErrBuild, got %v", failure)
	}
	if errors.Is(failure, ErrAuditFinding) {
		t.Error("build failure must not be classified as audit finding")
	}

	var stepErr *StepError
	if !errors.As(failure, &stepErr) {
		t.Fatalf("expected *StepError, got %T", failure)
	}
	if stepErr.ExitCode != 101 || !strings.Contains(stepErr.Output, "build output") {
		t.Errorf("unexpected step error: %+v", stepErr)
	}

	// Кэш не сохраняется после неуспешного run
	if _, err := store.Get(context.Background(), run.CacheKey); !errors.Is(err, cache.ErrMiss) {
		t.Errorf("cache should not be saved after failed run, got %v", err)
	}
}

func TestRun_AuditFinding(t *testing.T) {
	fake := newFakeExecutor()
	fake.exitCodes["audit"] = 1
	r := testRunner(t, fake, newStore(t))

	run, err := r.Run(context.Background(), pipelineSteps(), runContext(testWorkspace(t)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if run.Status != domain.RunStatusFailed {
		t.Fatalf("expected FAILED, got %s", run.Status)
	}
	if run.FailedStep != "audit" || run.FailureKind != domain.StepKindAudit {
		t.Errorf("expected audit failure, got step=%s kind=%s", run.FailedStep, run.FailureKind)
	}
	if run.SkippedCount() != 0 {
		t.Errorf("audit is last, expected no skipped, got %d", run.SkippedCount())
	}

	failure := FailureOf(run)
	if !errors.Is(failure, ErrAuditFinding) {
		t.Errorf("expected ErrAuditFinding, got %v", failure)
	}
	if errors.Is(failure, ErrBuild) {
		t.Error("audit finding must not be classified as build failure")
	}
}

func TestRun_CacheMissThenHit(t *testing.T) {
	store := newStore(t)
	ws := testWorkspace(t)

	// Первый run — промах, статус не меняется, кэш сохраняется после успеха
	r := testRunner(t, newFakeExecutor(), store)
	run, err := r.Run(context.Background(), pipelineSteps(), runContext(ws))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.Status != domain.RunStatusSucceeded {
		t.Fatalf("cache miss must not change status, got %s", run.Status)
	}
	cacheRes, _ := run.StepResult("cache")
	if cacheRes.Status != domain.StepStatusSucceeded || cacheRes.CacheHit() {
		t.Errorf("expected successful miss, got %+v", cacheRes)
	}
	if !strings.HasPrefix(run.CacheKey, "Linux-ubuntu-latest-cargo-") || run.CacheKey == "Linux-ubuntu-latest-cargo-" {
		t.Errorf("unexpected cache key %q", run.CacheKey)
	}
	if _, err := store.Get(context.Background(), run.CacheKey); err != nil {
		t.Fatalf("cache should be saved after successful run: %v", err)
	}

	// Второй run в чистом workspace с тем же Cargo.lock — попадание и восстановление target/
	ws2 := t.TempDir()
	if err := os.WriteFile(filepath.Join(ws2, "Cargo.lock"), []byte("version = 3\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	run2, err := r.Run(context.Background(), pipelineSteps(), runContext(ws2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run2.CacheKey != run.CacheKey {
		t.Errorf("same lock file and runner must give same key: %q != %q", run2.CacheKey, run.CacheKey)
	}
	cacheRes2, _ := run2.StepResult("cache")
	if !cacheRes2.CacheHit() {
		t.Errorf("expected cache hit, got %+v", cacheRes2)
	}
	data, err := os.ReadFile(filepath.Join(ws2, "target", "release", "app"))
	if err != nil || string(data) != "bin" {
		t.Errorf("target not restored: %q, %v", data, err)
	}
}

func TestRun_CacheStoreErrorIsAdvisory(t *testing.T) {
	r := testRunner(t, newFakeExecutor(), failingStore{})

	run, err := r.Run(context.Background(), pipelineSteps(), runContext(testWorkspace(t)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if run.Status != domain.RunStatusSucceeded {
		t.Fatalf("cache store error must not fail run, got %s", run.Status)
	}
	cacheRes, _ := run.StepResult("cache")
	if cacheRes.Status != domain.StepStatusFailed {
		t.Errorf("expected cache step FAILED, got %s", cacheRes.Status)
	}
	if !cacheRes.Advisory {
		t.Error("cache step should be advisory")
	}
	if !strings.Contains(cacheRes.Error, "connection refused") {
		t.Errorf("expected store error in result, got %q", cacheRes.Error)
	}
}

func TestRun_NilCacheStore(t *testing.T) {
	r := testRunner(t, newFakeExecutor(), nil)

	run, err := r.Run(context.Background(), pipelineSteps(), runContext(testWorkspace(t)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.Status != domain.RunStatusSucceeded {
		t.Fatalf("expected SUCCEEDED, got %s", run.Status)
	}
	cacheRes, _ := run.StepResult("cache")
	if cacheRes.CacheHit() {
		t.Error("disabled cache must miss")
	}
}

func TestRun_ContinueOnFailure(t *testing.T) {
	steps := []domain.Step{
		{ID: "lint", Run: "cargo clippy", ContinueOnFailure: true},
		{ID: "build", Kind: domain.StepKindBuild, Run: "cargo build"},
	}

	fake := newFakeExecutor()
	fake.exitCodes["lint"] = 1
	r := testRunner(t, fake, nil)

	run, err := r.Run(context.Background(), steps, runContext(t.TempDir()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if run.Status != domain.RunStatusSucceeded {
		t.Fatalf("advisory failure must not fail run, got %s", run.Status)
	}
	if run.Steps[0].Status != domain.StepStatusFailed || !run.Steps[0].Advisory {
		t.Errorf("unexpected lint result: %+v", run.Steps[0])
	}
	if run.Steps[1].Status != domain.StepStatusSucceeded {
		t.Errorf("build should run after advisory failure, got %s", run.Steps[1].Status)
	}
}

func TestRun_InfrastructureErrorFailsStep(t *testing.T) {
	fake := newFakeExecutor()
	fake.errs["checkout"] = errors.New(`exec: "git": executable file not found in $PATH`)
	r := testRunner(t, fake, nil)

	run, err := r.Run(context.Background(), pipelineSteps(), runContext(testWorkspace(t)))
	if err != nil {
		t.Fatalf("step failure must not be a runner error, got %v", err)
	}

	if run.FailedStep != "checkout" {
		t.Errorf("expected checkout failure, got %s", run.FailedStep)
	}
	res, _ := run.StepResult("checkout")
	if res.ExitCode != domain.ExitCodeNotRun {
		t.Errorf("expected exit code -1, got %d", res.ExitCode)
	}
	if !errors.Is(FailureOf(run), ErrCheckout) {
		t.Errorf("expected ErrCheckout, got %v", FailureOf(run))
	}
}

func TestRun_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fake := newFakeExecutor()
	fake.hooks["checkout"] = func(context.Context) { cancel() }
	fake.exitCodes["checkout"] = -1
	r := testRunner(t, fake, nil)

	run, err := r.Run(ctx, pipelineSteps(), runContext(testWorkspace(t)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if run.Status != domain.RunStatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", run.Status)
	}
	checkout, _ := run.StepResult("checkout")
	if checkout.Status != domain.StepStatusFailed {
		t.Errorf("expected interrupted step FAILED, got %s", checkout.Status)
	}
	for _, id := range []string{"build", "audit"} {
		res, _ := run.StepResult(id)
		if res.Status != domain.StepStatusSkipped {
			t.Errorf("step %s: expected SKIPPED, got %s", id, res.Status)
		}
	}

	failure := FailureOf(run)
	if !errors.Is(failure, ErrRunCancelled) {
		t.Errorf("expected ErrRunCancelled, got %v", failure)
	}
	var stepErr *StepError
	if errors.As(failure, &stepErr) && stepErr.StepID != "checkout" {
		t.Errorf("expected cancelled step checkout, got %s", stepErr.StepID)
	}
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fake := newFakeExecutor()
	r := testRunner(t, fake, nil)

	run, err := r.Run(ctx, pipelineSteps(), runContext(testWorkspace(t)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.Status != domain.RunStatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", run.Status)
	}
	if len(fake.Calls()) != 0 {
		t.Errorf("no step should run, got %v", fake.Calls())
	}
	if len(run.Steps) != 6 || run.SkippedCount() != 5 {
		t.Errorf("expected 6 results with 5 skipped, got %d/%d", len(run.Steps), run.SkippedCount())
	}
}

func TestRun_ValidationErrors(t *testing.T) {
	r := testRunner(t, newFakeExecutor(), nil)
	ws := t.TempDir()

	tests := []struct {
		name    string
		steps   []domain.Step
		rc      *RunContext
		wantErr error
	}{
		{
			name:    "nil run context",
			steps:   pipelineSteps(),
			rc:      nil,
			wantErr: ErrInvalidRunContext,
		},
		{
			name:    "no workspace",
			steps:   pipelineSteps(),
			rc:      &RunContext{RunnerLabel: "ubuntu-latest"},
			wantErr: ErrInvalidRunContext,
		},
		{
			name:    "empty steps",
			steps:   nil,
			rc:      runContext(ws),
			wantErr: engine.ErrEmptySteps,
		},
		{
			name: "duplicate ids",
			steps: []domain.Step{
				{ID: "a", Run: "true"},
				{ID: "a", Run: "true"},
			},
			rc:      runContext(ws),
			wantErr: engine.ErrDuplicateStepID,
		},
		{
			name:    "unknown kind",
			steps:   []domain.Step{{ID: "a", Kind: "deploy", Run: "true"}},
			rc:      runContext(ws),
			wantErr: engine.ErrUnknownStepKind,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run, err := r.Run(context.Background(), tt.steps, tt.rc)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
			if run != nil {
				t.Error("run should be nil on validation error")
			}
			if !IsValidationError(err) {
				t.Errorf("IsValidationError(%v) = false", err)
			}
		})
	}
}

func TestRun_MissingExecutor(t *testing.T) {
	registry := &Registry{executors: map[domain.StepKind]Executor{
		domain.StepKindCommand: newFakeExecutor(),
	}}
	r := New(Config{Registry: registry})

	_, err := r.Run(context.Background(), pipelineSteps(), runContext(t.TempDir()))
	if !errors.Is(err, ErrUnknownStepKind) {
		t.Errorf("expected ErrUnknownStepKind, got %v", err)
	}
}

func TestRun_EnvMerge(t *testing.T) {
	r := New(Config{
		BaseEnv: func() []string {
			return []string{"PATH=" + os.Getenv("PATH"), "A=process", "B=process", "C=process"}
		},
	})

	steps := []domain.Step{{
		ID:  "env",
		Run: `printf '%s %s %s %s %s' "$A" "$B" "$C" "$CI" "$RUNNER_OS"`,
		Env: map[string]string{"C": "step"},
	}}
	rc := runContext(t.TempDir())
	rc.Env = map[string]string{"B": "context", "C": "context"}

	run, err := r.Run(context.Background(), steps, rc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.Status != domain.RunStatusSucceeded {
		t.Fatalf("expected SUCCEEDED, got %s: %s", run.Status, run.Steps[0].Output)
	}
	if got := run.Steps[0].Output; got != "process context step true Linux" {
		t.Errorf("unexpected env precedence: %q", got)
	}
}

func TestRun_InjectedEnvAndTemplates(t *testing.T) {
	r := New(Config{})

	steps := []domain.Step{{
		ID:      "echo",
		Command: []string{"sh", "-c", `printf '%s|%s|%s' "$CONVEYOR_RUN_ID" "$CONVEYOR_SHA" "{{ .Runner.Label }}"`},
	}}
	original := steps[0].Command[2]

	run, err := r.Run(context.Background(), steps, runContext(t.TempDir()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := run.ID.String() + "|abc123|ubuntu-latest"
	if got := run.Steps[0].Output; got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
	if steps[0].Command[2] != original {
		t.Error("caller's step must not be mutated")
	}
}

func TestRun_WorkingDirectory(t *testing.T) {
	ws := t.TempDir()
	if err := os.MkdirAll(filepath.Join(ws, "crates", "core"), 0o755); err != nil {
		t.Fatal(err)
	}

	r := New(Config{})
	steps := []domain.Step{{ID: "pwd", Run: "pwd", WorkingDirectory: "crates/core"}}

	run, err := r.Run(context.Background(), steps, runContext(ws))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := strings.TrimSpace(run.Steps[0].Output)
	want, _ := filepath.EvalSymlinks(filepath.Join(ws, "crates", "core"))
	if gotReal, _ := filepath.EvalSymlinks(got); gotReal != want {
		t.Errorf("expected dir %q, got %q", want, got)
	}
}

func TestRun_RenderFailureFailsStep(t *testing.T) {
	r := testRunner(t, newFakeExecutor(), nil)
	steps := []domain.Step{{ID: "bad", Run: "echo {{ .Broken"}}

	run, err := r.Run(context.Background(), steps, runContext(t.TempDir()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.Status != domain.RunStatusFailed || run.FailedStep != "bad" {
		t.Errorf("expected failed run on bad template, got %s/%s", run.Status, run.FailedStep)
	}
}

func TestExecute_RequiresPendingRun(t *testing.T) {
	r := testRunner(t, newFakeExecutor(), nil)
	run := domain.NewRun("p", "ubuntu-latest", domain.Event{})
	run.MarkRunning()

	err := r.Execute(context.Background(), run, pipelineSteps(), runContext(t.TempDir()))
	if !errors.Is(err, ErrInvalidRunContext) {
		t.Errorf("expected ErrInvalidRunContext, got %v", err)
	}
}

func TestMergeEnv(t *testing.T) {
	env := mergeEnv(
		[]string{"A=1", "B=1", "=bad", "noequals"},
		map[string]string{"B": "2", "C": "2"},
		map[string]string{"C": "3"},
	)
	want := []string{"A=1", "B=2", "C=3"}
	if strings.Join(env, ",") != strings.Join(want, ",") {
		t.Errorf("expected %v, got %v", want, env)
	}
}

func TestRun_ProgressReportsEachStep(t *testing.T) {
	fake := newFakeExecutor()
	fake.exitCodes["build"] = 101
	r := testRunner(t, fake, newStore(t))

	var snapshots []domain.RunStatus
	var stepCounts []int
	rc := runContext(testWorkspace(t))
	rc.Progress = func(run *domain.Run) {
		snapshots = append(snapshots, run.Status)
		stepCounts = append(stepCounts, len(run.Steps))
	}

	run, err := r.Run(context.Background(), pipelineSteps(), rc)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Status != domain.RunStatusFailed {
		t.Fatalf("Status = %s, want FAILED", run.Status)
	}

	// старт + toolchain, cache, tool-install, checkout, build
	wantCounts := []int{0, 1, 2, 3, 4, 5}
	if len(stepCounts) != len(wantCounts) {
		t.Fatalf("progress calls = %v, want %v", stepCounts, wantCounts)
	}
	for i, want := range wantCounts {
		if stepCounts[i] != want {
			t.Errorf("call %d: steps = %d, want %d", i, stepCounts[i], want)
		}
		if snapshots[i] != domain.RunStatusRunning {
			t.Errorf("call %d: status = %s, want RUNNING", i, snapshots[i])
		}
	}
}
