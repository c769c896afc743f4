package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/shaiso/Conveyor/internal/cache"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// Outputs шага кэша.
const (
	OutputCacheKey = "cache_key"
	OutputCacheHit = "cache_hit"
	OutputEntries  = "entries"
)

// CacheExecutor восстанавливает кэш при выполнении шага и сохраняет его после
// успешного run, если восстановление промахнулось.
//
// Промах — успешный шаг с cache_hit=false. Ошибка хранилища или распаковки —
// инфраструктурная ошибка; шаг кэша всегда advisory, поэтому run продолжается.
type CacheExecutor struct {
	// Store — хранилище архивов. nil — кэш отключён, всегда промах.
	Store cache.Store

	// Home — директория для раскрытия "~" (default: os.UserHomeDir()).
	Home string

	// Metrics — метрики (опционально).
	Metrics *telemetry.Metrics

	// Logger (опционально).
	Logger *slog.Logger
}

// Execute восстанавливает кэш по ключу из Step.Cache.Key.
func (e *CacheExecutor) Execute(ctx context.Context, req *Request) (*ExecutionResult, error) {
	spec := req.Step.Cache
	if spec == nil {
		return nil, fmt.Errorf("%w: step %s has no cache section", ErrCacheMiss, req.Step.ID)
	}

	outputs := map[string]any{
		OutputCacheKey: spec.Key,
		OutputCacheHit: false,
	}

	entries, err := e.restore(ctx, spec.Key, e.paths(req))
	switch {
	case errors.Is(err, ErrCacheMiss):
		e.Metrics.CacheLookup("miss")
		e.logger().Info("cache miss", "step_id", req.Step.ID, "key", spec.Key)
		return &ExecutionResult{
			Outputs: outputs,
			Output:  fmt.Sprintf("cache not found for key: %s\n", spec.Key),
		}, nil

	case err != nil:
		e.Metrics.CacheLookup("error")
		return &ExecutionResult{ExitCode: domain.ExitCodeNotRun, Outputs: outputs}, err
	}

	e.Metrics.CacheLookup("hit")
	e.logger().Info("cache restored", "step_id", req.Step.ID, "key", spec.Key, "entries", entries)

	outputs[OutputCacheHit] = true
	outputs[OutputEntries] = entries
	return &ExecutionResult{
		Outputs: outputs,
		Output:  fmt.Sprintf("cache restored from key: %s\n", spec.Key),
	}, nil
}

// Post сохраняет кэш, если восстановление промахнулось.
func (e *CacheExecutor) Post(ctx context.Context, req *Request, res domain.StepResult) error {
	if e.Store == nil || req.Step.Cache == nil {
		return nil
	}
	if !res.Succeeded() || res.CacheHit() {
		return nil
	}

	key := req.Step.Cache.Key
	paths := e.paths(req)

	pr, pw := io.Pipe()
	var entries int

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := cache.Pack(pw, paths)
		entries = n
		pw.CloseWithError(err)
		return err
	})
	g.Go(func() error {
		err := e.Store.Put(gctx, key, pr)
		pr.CloseWithError(err)
		return err
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("save cache %s: %w", key, err)
	}

	e.logger().Info("cache saved", "step_id", req.Step.ID, "key", key, "entries", entries)
	return nil
}

// restore достаёт архив и распаковывает его в paths.
func (e *CacheExecutor) restore(ctx context.Context, key string, paths []string) (int, error) {
	if e.Store == nil {
		return 0, ErrCacheMiss
	}

	rc, err := e.Store.Get(ctx, key)
	if errors.Is(err, cache.ErrMiss) {
		return 0, fmt.Errorf("%w: %s", ErrCacheMiss, key)
	}
	if err != nil {
		return 0, fmt.Errorf("restore cache: %w", err)
	}
	defer rc.Close()

	n, err := cache.Unpack(rc, paths)
	if err != nil {
		return n, fmt.Errorf("unpack cache: %w", err)
	}
	return n, nil
}

// paths возвращает абсолютные пути кэша для запроса.
func (e *CacheExecutor) paths(req *Request) []string {
	home := e.Home
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return cache.ResolvePaths(req.Step.Cache.Paths, home, req.Dir)
}

func (e *CacheExecutor) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}
