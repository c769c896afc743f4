package runner

import (
	"sort"
	"strings"
)

// injectedEnv возвращает переменные, которые runner выставляет каждому run.
func injectedEnv(rc *RunContext, runnerOS string) map[string]string {
	return map[string]string{
		"CI":                  "true",
		"CONVEYOR":            "true",
		"CONVEYOR_RUN_ID":     rc.RunID.String(),
		"CONVEYOR_WORKSPACE":  rc.Workspace,
		"CONVEYOR_EVENT":      string(rc.Event.Type),
		"CONVEYOR_REF":        rc.Event.Ref,
		"CONVEYOR_SHA":        rc.Event.SHA,
		"CONVEYOR_REPOSITORY": rc.Event.Repository,
		"RUNNER_OS":           runnerOS,
		"RUNNER_LABEL":        rc.RunnerLabel,
	}
}

// mergeEnv накладывает слои окружения по порядку: последний слой побеждает.
// Первый слой — окружение процесса в формате KEY=VALUE.
// Результат отсортирован по ключу.
func mergeEnv(base []string, layers ...map[string]string) []string {
	merged := make(map[string]string, len(base))
	for _, kv := range base {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		merged[k] = v
	}
	for _, layer := range layers {
		for k, v := range layer {
			merged[k] = v
		}
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, len(keys))
	for i, k := range keys {
		env[i] = k + "=" + merged[k]
	}
	return env
}
