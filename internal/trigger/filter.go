package trigger

import (
	"fmt"
	"path"
	"slices"
	"strings"

	"github.com/shaiso/Conveyor/internal/domain"
)

// DefaultPullRequestTypes — действия pull request, запускающие pipeline,
// если on.pull_request.types не задан.
var DefaultPullRequestTypes = []string{"opened", "synchronize", "reopened"}

// Decision — результат сопоставления события с условиями запуска.
type Decision struct {
	// Matched — pipeline нужно запустить.
	Matched bool

	// Reason — почему событие принято или отклонено.
	Reason string
}

func accept(format string, args ...any) Decision {
	return Decision{Matched: true, Reason: fmt.Sprintf(format, args...)}
}

func reject(format string, args ...any) Decision {
	return Decision{Matched: false, Reason: fmt.Sprintf(format, args...)}
}

// Match проверяет, принимает ли секция on событие.
//
// Правила:
//   - push — ветка события входит в on.push.branches (поддерживаются шаблоны path.Match;
//     пустой список — любая ветка); push тегов не запускает pipeline
//   - pull_request — действие входит в on.pull_request.types
//   - schedule — в pipeline есть хотя бы одно расписание
//   - manual — всегда
func Match(on domain.Triggers, ev domain.Event) Decision {
	switch ev.Type {
	case domain.EventPush:
		return matchPush(on.Push, ev)
	case domain.EventPullRequest:
		return matchPullRequest(on.PullRequest, ev)
	case domain.EventSchedule:
		if len(on.Schedule) == 0 {
			return reject("pipeline has no schedule")
		}
		return accept("scheduled")
	case domain.EventManual:
		return accept("manual run")
	default:
		return reject("unsupported event type %q", ev.Type)
	}
}

func matchPush(t *domain.PushTrigger, ev domain.Event) Decision {
	if t == nil {
		return reject("pipeline does not run on push")
	}
	if !strings.HasPrefix(ev.Ref, "refs/heads/") && strings.HasPrefix(ev.Ref, "refs/") {
		return reject("ref %s is not a branch", ev.Ref)
	}

	branch := ev.Branch()
	if branch == "" {
		return reject("push event has no ref")
	}
	if len(t.Branches) == 0 {
		return accept("push to %s", branch)
	}
	for _, pattern := range t.Branches {
		if MatchBranch(pattern, branch) {
			return accept("push to %s matches %s", branch, pattern)
		}
	}
	return reject("branch %s is not in %v", branch, t.Branches)
}

func matchPullRequest(t *domain.PullRequestTrigger, ev domain.Event) Decision {
	if t == nil {
		return reject("pipeline does not run on pull_request")
	}

	types := t.Types
	if len(types) == 0 {
		types = DefaultPullRequestTypes
	}
	if slices.Contains(types, ev.Action) {
		return accept("pull_request %s", ev.Action)
	}
	return reject("pull_request action %q is not in %v", ev.Action, types)
}

// MatchBranch сопоставляет ветку с шаблоном ("master", "release/*").
func MatchBranch(pattern, branch string) bool {
	if pattern == branch {
		return true
	}
	ok, err := path.Match(pattern, branch)
	return err == nil && ok
}

// IsPattern сообщает, содержит ли имя ветки glob-символы.
func IsPattern(branch string) bool {
	return strings.ContainsAny(branch, `*?[\`)
}
