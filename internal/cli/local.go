package cli

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaiso/Conveyor/internal/cache"
	"github.com/shaiso/Conveyor/internal/config"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/engine"
	"github.com/shaiso/Conveyor/internal/repo"
	"github.com/shaiso/Conveyor/internal/runner"
	"github.com/shaiso/Conveyor/internal/scheduler"
)

// ExitError — команда завершилась, но процесс должен выйти с Code.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// ErrExistingCheckout — workspace уже содержит git checkout, а запрошен другой ref.
var ErrExistingCheckout = errors.New("workspace is an existing git checkout")

// runOptions — флаги локального запуска.
type runOptions struct {
	pipelineFile string
	workspace    string
	label        string
	env          []string
	ref          string
	sha          string
	repository   string
	skip         []string
	noCache      bool
}

// NewRunCmd создаёт команду локального выполнения pipeline.
//
// Шаги выполняются в workspace текущей машины. Процесс завершается
// с кодом 1, если упал хотя бы один обязательный шаг.
// В существующем git checkout шаг checkout не выполняется.
func NewRunCmd(cfgFn func() (*config.Config, error), outputFn func() *Output) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline locally",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cfgFn()
			if err != nil {
				return err
			}
			return runLocal(cmd.Context(), cfg, opts, outputFn())
		},
	}

	addPipelineFlag(cmd, &opts.pipelineFile)
	cmd.Flags().StringVar(&opts.workspace, "workspace", ".", "Working directory of the run")
	cmd.Flags().StringVar(&opts.label, "label", "", "Runner label (default: first runs_on entry)")
	cmd.Flags().StringArrayVar(&opts.env, "env", nil, "Build environment override KEY=VALUE (repeatable)")
	cmd.Flags().StringVar(&opts.ref, "ref", "", "Git ref for the checkout step")
	cmd.Flags().StringVar(&opts.sha, "sha", "", "Commit for the checkout step")
	cmd.Flags().StringVar(&opts.repository, "repository", "", "Repository for the checkout step (default: config repository)")
	cmd.Flags().StringSliceVar(&opts.skip, "skip", nil, "Step IDs to leave out (e.g. checkout)")
	cmd.Flags().BoolVar(&opts.noCache, "no-cache", false, "Disable the dependency cache")

	return cmd
}

func runLocal(ctx context.Context, cfg *config.Config, opts runOptions, out *Output) error {
	p, err := engine.Load(pipelinePath(cfg, opts.pipelineFile))
	if err != nil {
		return err
	}

	steps, err := withoutSteps(p.Steps, opts.skip)
	if err != nil {
		return err
	}

	label, err := runnerLabel(p, opts.label)
	if err != nil {
		return err
	}

	workspace, err := filepath.Abs(opts.workspace)
	if err != nil {
		return fmt.Errorf("workspace: %w", err)
	}

	steps, err = localCheckout(steps, workspace, opts)
	if err != nil {
		return err
	}

	overrides, err := ParseEnv(opts.env)
	if err != nil {
		return err
	}
	env := maps.Clone(p.Env)
	if env == nil {
		env = make(map[string]string)
	}
	maps.Copy(env, cfg.Env)
	maps.Copy(env, overrides)

	var store cache.Store
	if !opts.noCache {
		s, closeStore, err := OpenCacheStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeStore()
		store = s
	}

	repository := opts.repository
	if repository == "" {
		repository = cfg.Repository
	}

	r := runner.New(runner.Config{CacheStore: store})

	stream := out.Writer()
	if out.JSONMode() {
		stream = out.errW
	}

	run, err := r.Run(ctx, steps, &runner.RunContext{
		Pipeline:    p.Name,
		RunnerLabel: label,
		Event: domain.Event{
			Type:       domain.EventManual,
			Ref:        opts.ref,
			SHA:        opts.sha,
			Repository: repository,
			ReceivedAt: time.Now(),
		},
		Workspace: workspace,
		Env:       env,
		Output:    stream,
	})
	if err != nil {
		return err
	}

	printRun(out, run)

	if run.Status != domain.RunStatusSucceeded {
		return &ExitError{Code: run.ExitCode(), Err: runner.FailureOf(run)}
	}
	return nil
}

// printRun выводит итог локального run.
func printRun(out *Output, run *domain.Run) {
	if out.JSONMode() {
		out.JSON(run)
		return
	}

	steps := make([]StepResponse, len(run.Steps))
	for i, s := range run.Steps {
		steps[i] = StepResponse{
			StepID:     s.StepID,
			Kind:       string(s.Kind),
			Status:     string(s.Status),
			ExitCode:   s.ExitCode,
			DurationMs: s.Duration.Milliseconds(),
			Error:      s.Error,
			Advisory:   s.Advisory,
		}
	}

	fmt.Fprintln(out.Writer())
	out.Table(stepHeaders, StepRows(steps))

	msg := fmt.Sprintf("Run %s: %s in %s", run.ID, run.Status, run.Duration().Round(time.Millisecond))
	if run.CacheKey != "" {
		msg += ", cache key " + run.CacheKey
	}
	out.Success(msg)
}

// NewValidateCmd создаёт команду проверки pipeline.
func NewValidateCmd(cfgFn func() (*config.Config, error), outputFn func() *Output) *cobra.Command {
	var pipelineFile string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the pipeline definition",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cfgFn()
			if err != nil {
				return err
			}
			out := outputFn()

			p, err := engine.Load(pipelinePath(cfg, pipelineFile))
			if err != nil {
				return err
			}

			now := time.Now()
			rows := make([][]string, 0, len(p.On.Schedule))
			for _, sched := range p.On.Schedule {
				if err := scheduler.ValidateSchedule(&sched); err != nil {
					return err
				}
				next, err := scheduler.CalculateNextDue(&sched, now)
				if err != nil {
					return err
				}
				rows = append(rows, []string{sched.CronExpr, sched.Timezone, next.Format(time.RFC3339)})
			}

			out.Success(fmt.Sprintf("Pipeline %s is valid: %d steps, runs on %s",
				p.Name, len(p.Steps), strings.Join(p.RunsOn, ", ")))
			if len(rows) > 0 && !out.JSONMode() {
				out.Table([]string{"CRON", "TIMEZONE", "NEXT"}, rows)
			}
			return nil
		},
	}

	addPipelineFlag(cmd, &pipelineFile)

	return cmd
}

// NewCacheKeyCmd создаёт команду вычисления ключей кэша для workspace.
func NewCacheKeyCmd(cfgFn func() (*config.Config, error), outputFn func() *Output) *cobra.Command {
	var pipelineFile, workspace, label string

	cmd := &cobra.Command{
		Use:   "cache-key",
		Short: "Print cache keys the pipeline derives for a workspace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cfgFn()
			if err != nil {
				return err
			}

			p, err := engine.Load(pipelinePath(cfg, pipelineFile))
			if err != nil {
				return err
			}
			label, err := runnerLabel(p, label)
			if err != nil {
				return err
			}
			root, err := filepath.Abs(workspace)
			if err != nil {
				return fmt.Errorf("workspace: %w", err)
			}

			keys, err := CacheKeys(p, label, root, cfg.Env)
			if err != nil {
				return err
			}

			rows := make([][]string, len(keys))
			for i, k := range keys {
				rows[i] = []string{k.StepID, k.Key}
			}
			outputFn().Print([]string{"STEP", "KEY"}, rows, keys)
			return nil
		},
	}

	addPipelineFlag(cmd, &pipelineFile)
	cmd.Flags().StringVar(&workspace, "workspace", ".", "Workspace the lock files are hashed in")
	cmd.Flags().StringVar(&label, "label", "", "Runner label (default: first runs_on entry)")

	return cmd
}

// CacheKey — ключ кэша шага.
type CacheKey struct {
	StepID string `json:"step_id"`
	Key    string `json:"key"`
}

// CacheKeys рендерит ключи всех шагов кэша pipeline для workspace.
func CacheKeys(p *domain.Pipeline, label, workspace string, env map[string]string) ([]CacheKey, error) {
	tctx := engine.NewContext(label, domain.Event{Type: domain.EventManual}, workspace)
	maps.Copy(tctx.Env, p.Env)
	maps.Copy(tctx.Env, env)

	var keys []CacheKey
	for _, step := range p.Steps {
		if step.Cache == nil {
			continue
		}
		key, err := engine.Render(step.Cache.Key, tctx)
		if err != nil {
			return nil, fmt.Errorf("step %s: %w", step.ID, err)
		}
		keys = append(keys, CacheKey{StepID: step.ID, Key: key})
	}
	return keys, nil
}

// NewPipelineCmd создаёт группу команд для pipeline.
func NewPipelineCmd(cfgFn func() (*config.Config, error), outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Inspect the pipeline definition",
	}

	var pipelineFile string
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective pipeline (the built-in one if no file is configured)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cfgFn()
			if err != nil {
				return err
			}
			out := outputFn()

			p, err := engine.Load(pipelinePath(cfg, pipelineFile))
			if err != nil {
				return err
			}

			if out.JSONMode() {
				out.JSON(p)
				return nil
			}

			data, err := engine.Marshal(p)
			if err != nil {
				return err
			}
			_, err = out.Writer().Write(data)
			return err
		},
	}
	addPipelineFlag(show, &pipelineFile)

	cmd.AddCommand(show)
	return cmd
}

// OpenCacheStore открывает хранилище кэша согласно cache_backend.
// Для none возвращает nil: кэш всегда промахивается.
func OpenCacheStore(ctx context.Context, cfg *config.Config) (cache.Store, func(), error) {
	noop := func() {}

	switch cfg.CacheBackend {
	case config.BackendNone:
		return nil, noop, nil

	case config.BackendPostgres:
		pool, err := repo.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, noop, err
		}
		if err := repo.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, noop, err
		}
		return cache.NewPGStore(pool), pool.Close, nil

	default:
		store, err := cache.NewFileStore(cfg.CacheDir)
		if err != nil {
			return nil, noop, err
		}
		return store, noop, nil
	}
}

// ParseEnv разбирает пары KEY=VALUE.
func ParseEnv(pairs []string) (map[string]string, error) {
	env := make(map[string]string, len(pairs))
	for _, kv := range pairs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid env %q, expected KEY=VALUE", kv)
		}
		env[k] = v
	}
	return env, nil
}

func addPipelineFlag(cmd *cobra.Command, target *string) {
	cmd.Flags().StringVarP(target, "pipeline", "p", "", "Pipeline file (default: config pipeline_file or the built-in pipeline)")
}

func pipelinePath(cfg *config.Config, flag string) string {
	if flag != "" {
		return flag
	}
	return cfg.PipelineFile
}

// runnerLabel проверяет метку или берёт первую из runs_on.
func runnerLabel(p *domain.Pipeline, label string) (string, error) {
	if label == "" {
		if len(p.RunsOn) == 0 {
			return "", fmt.Errorf("pipeline %s has no runs_on labels", p.Name)
		}
		return p.RunsOn[0], nil
	}
	if !slices.Contains(p.RunsOn, label) {
		return "", fmt.Errorf("runner label %q is not in runs_on %v", label, p.RunsOn)
	}
	return label, nil
}

// withoutSteps убирает шаги с указанными ID, сохраняя порядок.
func withoutSteps(steps []domain.Step, skip []string) ([]domain.Step, error) {
	if len(skip) == 0 {
		return steps, nil
	}

	known := make(map[string]bool, len(steps))
	for _, s := range steps {
		known[s.ID] = true
	}
	for _, id := range skip {
		if !known[id] {
			return nil, fmt.Errorf("unknown step %q in --skip", id)
		}
	}

	kept := make([]domain.Step, 0, len(steps))
	for _, s := range steps {
		if !slices.Contains(skip, s.ID) {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		return nil, fmt.Errorf("--skip leaves no steps to run")
	}
	return kept, nil
}

// localCheckout не даёт шагу checkout перезаписать рабочую копию пользователя.
//
// Если workspace уже git checkout, шаги checkout убираются и собирается
// текущее дерево. Запрос --ref или --sha в таком workspace — ошибка.
func localCheckout(steps []domain.Step, workspace string, opts runOptions) ([]domain.Step, error) {
	if _, err := os.Stat(filepath.Join(workspace, ".git")); err != nil {
		if os.IsNotExist(err) {
			return steps, nil
		}
		return nil, fmt.Errorf("workspace: %w", err)
	}

	hasCheckout := slices.ContainsFunc(steps, func(s domain.Step) bool {
		return s.Kind == domain.StepKindCheckout
	})
	if !hasCheckout {
		return steps, nil
	}
	if opts.ref != "" || opts.sha != "" {
		return nil, fmt.Errorf("%w: %s; use an empty --workspace to build --ref/--sha", ErrExistingCheckout, workspace)
	}

	kept := slices.DeleteFunc(slices.Clone(steps), func(s domain.Step) bool {
		return s.Kind == domain.StepKindCheckout
	})
	if len(kept) == 0 {
		return nil, fmt.Errorf("%w: %s; nothing to run besides checkout", ErrExistingCheckout, workspace)
	}
	return kept, nil
}
