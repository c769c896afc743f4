// Package engine понимает структуру pipeline.
//
// Включает:
//   - loader.go   — загрузка pipeline из YAML (и встроенный pipeline по умолчанию)
//   - parser.go   — валидация Pipeline
//   - template.go — рендеринг Go templates ({{ .Runner.OS }}, {{ hashFiles "**/Cargo.lock" }})
//
// Engine не выполняет шаги: порядок шагов задан списком и не меняется,
// исполнением занимается пакет runner.
package engine
