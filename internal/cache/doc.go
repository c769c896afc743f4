// Package cache — кэш зависимостей между run'ами.
//
// Включает:
//   - hash.go       — вычисление хеша lock-файлов для ключа кэша (hashFiles)
//   - archive.go    — упаковка/распаковка кэшируемых путей в tar.gz
//   - store.go      — интерфейс Store и файловое хранилище
//   - pg_store.go   — хранилище в PostgreSQL
//
// Хранилище непрозрачно: архив кладётся и достаётся целиком по ключу.
// При конкурентной записи одного ключа побеждает последняя.
package cache
