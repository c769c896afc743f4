package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// skipDirs — директории, которые не обходятся при поиске файлов.
var skipDirs = map[string]bool{
	".git": true,
}

// HashFiles вычисляет хеш файлов, совпавших с шаблонами, относительно root.
//
// Шаблоны поддерживают синтаксис path.Match плюс "**" — любое количество
// сегментов пути ("**/Cargo.lock" совпадает и с "Cargo.lock", и с "a/b/Cargo.lock").
//
// Файлы сортируются по пути; результат — sha256 от конкатенации sha256 каждого файла
// в hex. Если ни один файл не совпал, возвращается пустая строка.
func HashFiles(root string, patterns ...string) (string, error) {
	files, err := MatchFiles(root, patterns...)
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "", nil
	}

	outer := sha256.New()
	for _, rel := range files {
		sum, err := hashFile(filepath.Join(root, filepath.FromSlash(rel)))
		if err != nil {
			return "", err
		}
		outer.Write(sum)
	}
	return hex.EncodeToString(outer.Sum(nil)), nil
}

// MatchFiles возвращает отсортированные пути (через "/", относительно root)
// обычных файлов, совпавших хотя бы с одним шаблоном.
func MatchFiles(root string, patterns ...string) ([]string, error) {
	if root == "" {
		root = "."
	}

	var compiled [][]string
	for _, p := range patterns {
		p = strings.TrimPrefix(path.Clean(filepath.ToSlash(p)), "./")
		if p == "" || p == "." {
			continue
		}
		if _, err := path.Match(strings.ReplaceAll(p, "**", "*"), ""); err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", p, err)
		}
		compiled = append(compiled, strings.Split(p, "/"))
	}
	if len(compiled) == 0 {
		return nil, nil
	}

	var matches []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && p == root {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() {
			if p != root && skipDirs[d.Name()] {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		segments := strings.Split(filepath.ToSlash(rel), "/")
		for _, pattern := range compiled {
			if matchSegments(pattern, segments) {
				matches = append(matches, filepath.ToSlash(rel))
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}

	sort.Strings(matches)
	return matches, nil
}

// matchSegments сопоставляет сегменты пути с сегментами шаблона.
// "**" поглощает ноль или больше сегментов.
func matchSegments(pattern, segments []string) bool {
	if len(pattern) == 0 {
		return len(segments) == 0
	}

	if pattern[0] == "**" {
		for i := 0; i <= len(segments); i++ {
			if matchSegments(pattern[1:], segments[i:]) {
				return true
			}
		}
		return false
	}

	if len(segments) == 0 {
		return false
	}
	ok, _ := path.Match(pattern[0], segments[0])
	return ok && matchSegments(pattern[1:], segments[1:])
}

// hashFile возвращает sha256 содержимого файла.
func hashFile(name string) ([]byte, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, fmt.Errorf("hash %s: %w", name, err)
	}
	return h.Sum(nil), nil
}
