package domain

// StepKind — категория шага.
//
// Категория определяет executor и то, как ошибка шага классифицируется
// при разборе упавшего run (сломалась сборка или найдена уязвимость).
type StepKind string

const (
	// StepKindToolchain — установка toolchain.
	StepKindToolchain StepKind = "toolchain"

	// StepKindCache — восстановление (и последующее сохранение) кэша.
	// Всегда advisory: промах или ошибка хранилища не валят run.
	StepKindCache StepKind = "cache"

	// StepKindToolInstall — установка вспомогательной утилиты (аудитора).
	StepKindToolInstall StepKind = "tool-install"

	// StepKindCheckout — получение исходников репозитория.
	StepKindCheckout StepKind = "checkout"

	// StepKindBuild — сборка в release-режиме.
	StepKindBuild StepKind = "build"

	// StepKindAudit — аудит зависимостей на известные уязвимости.
	StepKindAudit StepKind = "audit"

	// StepKindCommand — произвольная команда без особой семантики.
	StepKindCommand StepKind = "command"
)

// stepKinds — все допустимые категории.
var stepKinds = map[StepKind]bool{
	StepKindToolchain:   true,
	StepKindCache:       true,
	StepKindToolInstall: true,
	StepKindCheckout:    true,
	StepKindBuild:       true,
	StepKindAudit:       true,
	StepKindCommand:     true,
}

// IsValid проверяет, что категория известна.
func (k StepKind) IsValid() bool {
	return stepKinds[k]
}

// Step — определение шага pipeline.
//
// Step — value object: после загрузки pipeline не изменяется.
// Runner получает копию и рендерит шаблоны в собственных переменных.
type Step struct {
	// ID — уникальный идентификатор шага в рамках pipeline.
	ID string `yaml:"id" json:"id"`

	// Name — человекочитаемое имя шага.
	Name string `yaml:"name,omitempty" json:"name,omitempty"`

	// Kind — категория шага. Пустое значение означает "command".
	Kind StepKind `yaml:"kind,omitempty" json:"kind,omitempty"`

	// Run — строка для выполнения через shell (sh -c).
	Run string `yaml:"run,omitempty" json:"run,omitempty"`

	// Command — argv для прямого запуска без shell.
	// Используется, если Run пустой.
	Command []string `yaml:"command,omitempty" json:"command,omitempty"`

	// WorkingDirectory — рабочая директория относительно корня workspace.
	WorkingDirectory string `yaml:"working_directory,omitempty" json:"working_directory,omitempty"`

	// Env — переопределения переменных окружения.
	// При совпадении ключей побеждают значения шага.
	Env map[string]string `yaml:"env,omitempty" json:"env,omitempty"`

	// ContinueOnFailure — продолжать run, если шаг упал.
	ContinueOnFailure bool `yaml:"continue_on_failure,omitempty" json:"continue_on_failure,omitempty"`

	// Cache — настройки кэша (только для kind=cache).
	Cache *CacheSpec `yaml:"cache,omitempty" json:"cache,omitempty"`
}

// CacheSpec — что и под каким ключом кэшировать.
type CacheSpec struct {
	// Key — шаблон ключа, например
	// "{{ .Runner.OS }}-{{ .Runner.Label }}-cargo-{{ hashFiles \"**/Cargo.lock\" }}".
	Key string `yaml:"key" json:"key"`

	// Paths — пути для сохранения/восстановления.
	// Относительные пути считаются от рабочей директории шага, "~" раскрывается в HOME.
	Paths []string `yaml:"paths" json:"paths"`
}

// EffectiveKind возвращает категорию с учётом значения по умолчанию.
func (s Step) EffectiveKind() StepKind {
	if s.Kind == "" {
		return StepKindCommand
	}
	return s.Kind
}

// DisplayName возвращает имя для логов и вывода.
func (s Step) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.ID
}

// IsAdvisory возвращает true, если падение шага не влияет на итоговый статус.
// Шаги кэша advisory всегда.
func (s Step) IsAdvisory() bool {
	return s.ContinueOnFailure || s.EffectiveKind() == StepKindCache
}

// Clone возвращает глубокую копию шага.
func (s Step) Clone() Step {
	c := s
	if s.Command != nil {
		c.Command = append([]string(nil), s.Command...)
	}
	if s.Env != nil {
		c.Env = make(map[string]string, len(s.Env))
		for k, v := range s.Env {
			c.Env[k] = v
		}
	}
	if s.Cache != nil {
		cs := *s.Cache
		cs.Paths = append([]string(nil), s.Cache.Paths...)
		c.Cache = &cs
	}
	return c
}
