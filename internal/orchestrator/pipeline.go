package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/engine"
)

// reloadDebounce — пауза после последнего изменения файла перед перечитыванием.
// Редакторы сохраняют файл несколькими операциями подряд.
const reloadDebounce = 200 * time.Millisecond

// PipelineSource хранит текущий pipeline и перечитывает его при изменении файла.
//
// Некорректная версия файла не заменяет текущий pipeline: run продолжают
// использовать последнюю корректную версию.
type PipelineSource struct {
	path    string
	current atomic.Pointer[domain.Pipeline]
	logger  *slog.Logger

	mu        sync.Mutex
	listeners []func(*domain.Pipeline)
}

// NewPipelineSource загружает pipeline из path.
// Пустой path — встроенный pipeline, Watch для него ничего не делает.
func NewPipelineSource(path string, logger *slog.Logger) (*PipelineSource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path != "" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("pipeline path: %w", err)
		}
		path = abs
	}

	p, err := engine.Load(path)
	if err != nil {
		return nil, err
	}

	s := &PipelineSource{
		path:   path,
		logger: logger.With("component", "pipeline"),
	}
	s.current.Store(p)
	return s, nil
}

// StaticPipelineSource возвращает источник с фиксированным pipeline.
func StaticPipelineSource(p *domain.Pipeline) *PipelineSource {
	s := &PipelineSource{logger: slog.Default()}
	s.current.Store(p)
	return s
}

// Current возвращает текущий pipeline. Возвращённое значение нельзя изменять.
func (s *PipelineSource) Current() *domain.Pipeline {
	return s.current.Load()
}

// Path возвращает путь к файлу pipeline ("" для встроенного).
func (s *PipelineSource) Path() string {
	return s.path
}

// OnReload регистрирует функцию, вызываемую после успешной перезагрузки.
func (s *PipelineSource) OnReload(fn func(*domain.Pipeline)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Reload перечитывает файл pipeline.
// При ошибке текущий pipeline не меняется.
func (s *PipelineSource) Reload() error {
	if s.path == "" {
		return nil
	}

	p, err := engine.ParseFile(s.path)
	if err != nil {
		return err
	}
	s.current.Store(p)

	s.mu.Lock()
	listeners := slices.Clone(s.listeners)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(p)
	}

	s.logger.Info("pipeline reloaded", "name", p.Name, "steps", len(p.Steps), "path", s.path)
	return nil
}

// Watch следит за файлом pipeline до отмены ctx.
//
// Наблюдается директория файла: редакторы часто заменяют файл
// через rename, и наблюдение за самим файлом теряется.
func (s *PipelineSource) Watch(ctx context.Context) error {
	if s.path == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(s.path), err)
	}
	s.logger.Info("watching pipeline", "path", s.path)

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != s.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			if err := s.Reload(); err != nil {
				s.logger.Error("pipeline reload failed, keeping previous version", "error", err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("pipeline watcher error", "error", err)
		}
	}
}
