package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore — хранилище архивов в таблице cache_entries.
// Схема создаётся миграцией repo.Migrate.
type PGStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PGStore)(nil)

// NewPGStore создаёт новый PGStore.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// Get возвращает архив по ключу.
func (s *PGStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if strings.TrimSpace(key) == "" {
		return nil, ErrInvalidKey
	}

	query := `
		SELECT data
		FROM cache_entries
		WHERE key = $1
	`
	var data []byte
	err := s.pool.QueryRow(ctx, query, key).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("get cache entry: %w", err)
	}

	// Обновляем время последнего чтения для будущей очистки
	_, _ = s.pool.Exec(ctx, `UPDATE cache_entries SET accessed_at = NOW() WHERE key = $1`, key)

	return io.NopCloser(bytes.NewReader(data)), nil
}

// Put сохраняет архив (upsert).
func (s *PGStore) Put(ctx context.Context, key string, r io.Reader) error {
	if strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read cache archive: %w", err)
	}

	query := `
		INSERT INTO cache_entries (key, data, size_bytes, created_at, accessed_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (key) DO UPDATE
		SET data = EXCLUDED.data,
		    size_bytes = EXCLUDED.size_bytes,
		    created_at = NOW(),
		    accessed_at = NOW()
	`
	if _, err := s.pool.Exec(ctx, query, key, data, len(data)); err != nil {
		return fmt.Errorf("put cache entry: %w", err)
	}
	return nil
}
