package domain

// Pipeline — декларативное описание pipeline.
//
// Pipeline — это упорядоченный, неизменяемый список шагов плюс
// условия запуска и матрица runner'ов. Порядок шагов фиксирован и полон:
// графа зависимостей нет.
type Pipeline struct {
	// Name — имя pipeline (например, "build-and-audit").
	Name string `yaml:"name" json:"name"`

	// On — условия запуска.
	On Triggers `yaml:"on" json:"on"`

	// RunsOn — метки runner'ов. Для каждой метки создаётся отдельный run.
	RunsOn []string `yaml:"runs_on" json:"runs_on"`

	// Env — переменные окружения для всех шагов.
	Env map[string]string `yaml:"env,omitempty" json:"env,omitempty"`

	// Steps — шаги в порядке выполнения.
	Steps []Step `yaml:"steps" json:"steps"`
}

// Triggers — условия запуска pipeline.
type Triggers struct {
	// Push — запуск на push в перечисленные ветки.
	Push *PushTrigger `yaml:"push,omitempty" json:"push,omitempty"`

	// PullRequest — запуск на переходы жизненного цикла pull request.
	PullRequest *PullRequestTrigger `yaml:"pull_request,omitempty" json:"pull_request,omitempty"`

	// Schedule — запуск по cron-расписанию.
	Schedule []Schedule `yaml:"schedule,omitempty" json:"schedule,omitempty"`
}

// PushTrigger — фильтр push-событий.
type PushTrigger struct {
	// Branches — ветки, push в которые запускает pipeline.
	// Пустой список — любая ветка.
	Branches []string `yaml:"branches,omitempty" json:"branches,omitempty"`
}

// PullRequestTrigger — фильтр событий pull request.
type PullRequestTrigger struct {
	// Types — действия, запускающие pipeline.
	// Пустой список — opened, synchronize, reopened.
	Types []string `yaml:"types,omitempty" json:"types,omitempty"`
}

// StepByID возвращает шаг по ID.
func (p *Pipeline) StepByID(id string) (Step, bool) {
	for _, s := range p.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return Step{}, false
}

// CloneSteps возвращает копию списка шагов.
func (p *Pipeline) CloneSteps() []Step {
	steps := make([]Step, len(p.Steps))
	for i, s := range p.Steps {
		steps[i] = s.Clone()
	}
	return steps
}
