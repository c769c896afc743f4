package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Ошибки хранилища.
var (
	// ErrMiss — по ключу ничего не сохранено.
	ErrMiss = errors.New("cache miss")

	// ErrInvalidKey — пустой или некорректный ключ.
	ErrInvalidKey = errors.New("invalid cache key")
)

// Store — хранилище архивов кэша.
//
// Реализации должны быть безопасны для конкурентного использования:
// читатели не блокируют друг друга, при записи одного ключа побеждает последняя.
type Store interface {
	// Get возвращает архив по ключу или ErrMiss.
	// Вызывающий обязан закрыть reader.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Put сохраняет архив под ключом, заменяя прежний.
	Put(ctx context.Context, key string, r io.Reader) error
}

// FileStore — хранилище в локальной директории.
// Каждый ключ — отдельный файл <dir>/<key>.tar.gz.
type FileStore struct {
	dir string
}

var _ Store = (*FileStore)(nil)

// NewFileStore создаёт FileStore, при необходимости создавая директорию.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("cache dir is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir возвращает директорию хранилища.
func (s *FileStore) Dir() string {
	return s.dir
}

// Get открывает архив по ключу.
func (s *FileStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	name, err := s.path(key)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(name)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("open cache entry: %w", err)
	}
	return f, nil
}

// Put записывает архив во временный файл и атомарно переименовывает его.
func (s *FileStore) Put(ctx context.Context, key string, r io.Reader) error {
	name, err := s.path(key)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, ".put-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("write cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close cache entry: %w", err)
	}
	if err := os.Rename(tmp.Name(), name); err != nil {
		return fmt.Errorf("commit cache entry: %w", err)
	}
	return nil
}

// path возвращает имя файла для ключа.
func (s *FileStore) path(key string) (string, error) {
	safe, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.dir, safe+".tar.gz"), nil
}

// sanitizeKey экранирует ключ в имя файла.
//
// Буквы, цифры, '-' и '.' остаются как есть, остальные байты
// (включая '_') записываются как "_XX". Разные ключи дают разные имена.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" || strings.Trim(key, ".") == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	var b strings.Builder
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '.':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "_%02X", c)
		}
	}
	return b.String(), nil
}
