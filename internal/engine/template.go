package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"runtime"
	"strings"
	"text/template"

	"github.com/shaiso/Conveyor/internal/cache"
	"github.com/shaiso/Conveyor/internal/domain"
)

// Context — контекст для рендеринга шаблонов.
//
// Используется в Go templates для доступа к данным:
//   - {{ .Runner.OS }}, {{ .Runner.Label }}
//   - {{ .Event.Ref }}, {{ .Event.SHA }}
//   - {{ .Steps.step_id.Outputs.field }}
//   - {{ .Env.VAR_NAME }}
//   - {{ hashFiles "**/Cargo.lock" }}
type Context struct {
	// Runner — описание runner'а, на котором выполняется run.
	Runner RunnerContext `json:"runner"`

	// Event — событие, запустившее run.
	Event domain.Event `json:"event"`

	// Steps — результаты выполненных шагов.
	Steps map[string]*StepContext `json:"steps"`

	// Env — переменные окружения run.
	Env map[string]string `json:"env"`

	// Workspace — корень рабочей директории run. От него считается hashFiles.
	Workspace string `json:"workspace"`
}

// RunnerContext — описание runner'а.
type RunnerContext struct {
	// OS — операционная система: "Linux", "macOS", "Windows".
	OS string `json:"os"`

	// Label — метка из матрицы runs_on.
	Label string `json:"label"`

	// Arch — архитектура процессора.
	Arch string `json:"arch"`
}

// StepContext — результат выполнения шага для использования в шаблонах.
type StepContext struct {
	// Outputs — выходные данные шага.
	Outputs map[string]any `json:"outputs"`

	// Status — статус выполнения: "SUCCEEDED", "FAILED".
	Status string `json:"status"`
}

// NewContext создаёт новый контекст для run на runner'е с меткой label.
func NewContext(label string, event domain.Event, workspace string) *Context {
	return &Context{
		Runner:    NewRunnerContext(label),
		Event:     event,
		Steps:     make(map[string]*StepContext),
		Env:       make(map[string]string),
		Workspace: workspace,
	}
}

// NewRunnerContext строит RunnerContext по метке runner'а.
// ОС выводится из префикса метки ("ubuntu-latest" → "Linux"),
// для неизвестных меток используется ОС хоста.
func NewRunnerContext(label string) RunnerContext {
	return RunnerContext{
		OS:    RunnerOS(label),
		Label: label,
		Arch:  runtime.GOARCH,
	}
}

// RunnerOS возвращает имя ОС для метки runner'а.
func RunnerOS(label string) string {
	l := strings.ToLower(label)
	switch {
	case strings.HasPrefix(l, "ubuntu"), strings.HasPrefix(l, "linux"):
		return "Linux"
	case strings.HasPrefix(l, "macos"), strings.HasPrefix(l, "darwin"):
		return "macOS"
	case strings.HasPrefix(l, "windows"):
		return "Windows"
	}
	switch runtime.GOOS {
	case "darwin":
		return "macOS"
	case "windows":
		return "Windows"
	default:
		return "Linux"
	}
}

// AddStepResult добавляет результат выполнения шага в контекст.
func (c *Context) AddStepResult(stepID string, outputs map[string]any, status string) {
	if outputs == nil {
		outputs = make(map[string]any)
	}
	c.Steps[stepID] = &StepContext{
		Outputs: outputs,
		Status:  status,
	}
}

// SetEnv устанавливает переменную окружения.
func (c *Context) SetEnv(key, value string) {
	c.Env[key] = value
}

// templateFuncs — дополнительные функции для шаблонов.
var templateFuncs = template.FuncMap{
	// json — сериализует значение в JSON строку
	"json": func(v any) string {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("error: %v", err)
		}
		return string(b)
	},

	// default — возвращает значение по умолчанию, если первый аргумент пустой
	"default": func(def, val any) any {
		if val == nil {
			return def
		}
		if s, ok := val.(string); ok && s == "" {
			return def
		}
		return val
	},

	// coalesce — возвращает первое непустое значение
	"coalesce": func(values ...any) any {
		for _, v := range values {
			if v != nil {
				if s, ok := v.(string); ok && s == "" {
					continue
				}
				return v
			}
		}
		return nil
	},

	"join": func(sep string, items []string) string {
		return strings.Join(items, sep)
	},
	"split": func(sep, s string) []string {
		return strings.Split(s, sep)
	},
	"contains":  strings.Contains,
	"hasPrefix": strings.HasPrefix,
	"hasSuffix": strings.HasSuffix,
	"lower":     strings.ToLower,
	"upper":     strings.ToUpper,
	"trim":      strings.TrimSpace,
	"replace":   strings.ReplaceAll,
}

// funcsFor возвращает функции шаблона, привязанные к контексту.
// hashFiles считает хеш относительно Workspace.
func funcsFor(ctx *Context) template.FuncMap {
	root := ""
	if ctx != nil {
		root = ctx.Workspace
	}
	return template.FuncMap{
		"hashFiles": func(patterns ...string) (string, error) {
			return cache.HashFiles(root, patterns...)
		},
	}
}

// Render рендерит строковый шаблон с контекстом.
//
// Шаблон может содержать Go template выражения:
//
//	{{ .Runner.OS }}-cargo-{{ hashFiles "**/Cargo.lock" }}
//	{{ .Steps.cache.Outputs.cache_hit }}
//	{{ if eq .Event.Type "push" }}...{{ end }}
//
// Отсутствующие ключи map рендерятся как пустые значения.
func Render(tmpl string, ctx *Context) (string, error) {
	// Проверяем, содержит ли строка шаблонные выражения
	if !strings.Contains(tmpl, "{{") {
		return tmpl, nil
	}

	t, err := template.New("").
		Option("missingkey=zero").
		Funcs(templateFuncs).
		Funcs(funcsFor(ctx)).
		Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTemplateParse, err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, ctx); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTemplateRender, err)
	}

	// missingkey=zero для map[string]any даёт "<no value>"
	return strings.ReplaceAll(buf.String(), "<no value>", ""), nil
}

// RenderStrings рендерит каждый элемент слайса.
func RenderStrings(items []string, ctx *Context) ([]string, error) {
	if items == nil {
		return nil, nil
	}
	result := make([]string, len(items))
	for i, item := range items {
		rendered, err := Render(item, ctx)
		if err != nil {
			return nil, err
		}
		result[i] = rendered
	}
	return result, nil
}

// RenderEnv рендерит значения переменных окружения.
func RenderEnv(env map[string]string, ctx *Context) (map[string]string, error) {
	if env == nil {
		return nil, nil
	}
	result := make(map[string]string, len(env))
	for key, val := range env {
		rendered, err := Render(val, ctx)
		if err != nil {
			return nil, fmt.Errorf("env %s: %w", key, err)
		}
		result[key] = rendered
	}
	return result, nil
}

// RenderStep рендерит шаблоны в копии шага: run, command, working_directory,
// env и ключ кэша. Исходный шаг не изменяется.
func RenderStep(step domain.Step, ctx *Context) (domain.Step, error) {
	out := step.Clone()

	var err error
	if out.Run, err = Render(out.Run, ctx); err != nil {
		return step, NewValidationError(step.ID, "run", err.Error(), err)
	}
	if out.Command, err = RenderStrings(out.Command, ctx); err != nil {
		return step, NewValidationError(step.ID, "command", err.Error(), err)
	}
	if out.WorkingDirectory, err = Render(out.WorkingDirectory, ctx); err != nil {
		return step, NewValidationError(step.ID, "working_directory", err.Error(), err)
	}
	if out.Env, err = RenderEnv(out.Env, ctx); err != nil {
		return step, NewValidationError(step.ID, "env", err.Error(), err)
	}
	if out.Cache != nil {
		if out.Cache.Key, err = Render(out.Cache.Key, ctx); err != nil {
			return step, NewValidationError(step.ID, "cache.key", err.Error(), err)
		}
		if out.Cache.Paths, err = RenderStrings(out.Cache.Paths, ctx); err != nil {
			return step, NewValidationError(step.ID, "cache.paths", err.Error(), err)
		}
	}
	return out, nil
}

// MustRender рендерит шаблон и паникует при ошибке.
// Используется только для тестов.
func MustRender(tmpl string, ctx *Context) string {
	result, err := Render(tmpl, ctx)
	if err != nil {
		panic(err)
	}
	return result
}
