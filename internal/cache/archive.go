package cache

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrUnsafePath — запись архива указывает за пределы целевого пути.
var ErrUnsafePath = errors.New("unsafe path in archive")

// ResolvePaths приводит пути кэша к абсолютным:
// "~" раскрывается в home, относительные пути считаются от base.
func ResolvePaths(paths []string, home, base string) []string {
	resolved := make([]string, len(paths))
	for i, p := range paths {
		switch {
		case p == "~":
			p = home
		case strings.HasPrefix(p, "~/"):
			p = filepath.Join(home, p[2:])
		case !filepath.IsAbs(p):
			p = filepath.Join(base, p)
		}
		resolved[i] = filepath.Clean(p)
	}
	return resolved
}

// Pack пишет в w tar.gz архив с содержимым paths.
//
// Записи архива адресуются позицией пути в списке: "0/...", "1/...".
// Unpack восстанавливает их в пути с теми же позициями.
// Несуществующие пути пропускаются. Возвращает количество записанных записей.
func Pack(w io.Writer, paths []string) (int, error) {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	count := 0
	for i, root := range paths {
		if _, err := os.Lstat(root); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return count, fmt.Errorf("stat %s: %w", root, err)
		}

		prefix := strconv.Itoa(i)
		err := filepath.Walk(root, func(p string, info fs.FileInfo, err error) error {
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(root, p)
			if err != nil {
				return err
			}
			name := prefix
			if rel != "." {
				name = prefix + "/" + filepath.ToSlash(rel)
			}
			if err := addEntry(tw, p, name, info); err != nil {
				return err
			}
			count++
			return nil
		})
		if err != nil {
			return count, fmt.Errorf("pack %s: %w", root, err)
		}
	}

	if err := tw.Close(); err != nil {
		return count, fmt.Errorf("close tar: %w", err)
	}
	if err := gz.Close(); err != nil {
		return count, fmt.Errorf("close gzip: %w", err)
	}
	return count, nil
}

// addEntry добавляет в архив один файл, директорию или symlink.
func addEntry(tw *tar.Writer, p, name string, info fs.FileInfo) error {
	var link string
	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(p)
		if err != nil {
			return err
		}
		link = target
	} else if !info.Mode().IsRegular() && !info.IsDir() {
		// сокеты, устройства и прочее не кэшируются
		return nil
	}

	hdr, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return err
	}
	hdr.Name = name
	if info.IsDir() {
		hdr.Name += "/"
	}
	hdr.Uname, hdr.Gname = "", ""

	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return nil
	}

	f, err := os.Open(p)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(tw, f)
	return err
}

// Unpack распаковывает архив, созданный Pack, в paths.
// Записи с индексом за пределами paths пропускаются.
// Возвращает количество восстановленных записей.
func Unpack(r io.Reader, paths []string) (int, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return 0, fmt.Errorf("open gzip: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	count := 0
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return count, nil
		}
		if err != nil {
			return count, fmt.Errorf("read tar: %w", err)
		}

		root, target, ok, err := entryTarget(hdr.Name, paths)
		if err != nil {
			return count, err
		}
		if !ok {
			continue
		}
		if err := checkParents(root, target); err != nil {
			return count, fmt.Errorf("%w: %s", err, hdr.Name)
		}

		if err := extractEntry(tr, hdr, target); err != nil {
			return count, fmt.Errorf("extract %s: %w", hdr.Name, err)
		}
		count++
	}
}

// entryTarget вычисляет корневой путь и путь назначения для записи архива.
func entryTarget(name string, paths []string) (string, string, bool, error) {
	name = strings.TrimSuffix(name, "/")
	idxStr, rel, _ := strings.Cut(name, "/")

	idx, err := strconv.Atoi(idxStr)
	if err != nil {
		return "", "", false, fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	if idx < 0 || idx >= len(paths) {
		return "", "", false, nil
	}
	root := paths[idx]
	if rel == "" {
		return root, root, true, nil
	}
	if !filepath.IsLocal(filepath.FromSlash(rel)) {
		return "", "", false, fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	return root, filepath.Join(root, filepath.FromSlash(rel)), true, nil
}

// checkParents запрещает запись через symlink внутри root.
// Pack не заходит в symlink'и, поэтому такая запись означает подделанный архив.
func checkParents(root, target string) error {
	if target == root {
		return nil
	}
	rel, err := filepath.Rel(root, filepath.Dir(target))
	if err != nil || rel == "." {
		return err
	}

	cur := root
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		cur = filepath.Join(cur, part)
		fi, err := os.Lstat(cur)
		if os.IsNotExist(err) {
			return nil
		}
		if err != nil {
			return err
		}
		if fi.Mode()&os.ModeSymlink != 0 || !fi.IsDir() {
			return ErrUnsafePath
		}
	}
	return nil
}

// extractEntry восстанавливает одну запись.
func extractEntry(tr *tar.Reader, hdr *tar.Header, target string) error {
	mode := hdr.FileInfo().Mode().Perm()

	switch hdr.Typeflag {
	case tar.TypeDir:
		return os.MkdirAll(target, mode|0o700)

	case tar.TypeSymlink:
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		_ = os.Remove(target)
		return os.Symlink(hdr.Linkname, target)

	case tar.TypeReg:
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if fi, err := os.Lstat(target); err == nil && fi.Mode()&os.ModeSymlink != 0 {
			_ = os.Remove(target)
		}
		f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode|0o600)
		if err != nil {
			return err
		}
		if _, err := io.Copy(f, tr); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		return os.Chtimes(target, hdr.ModTime, hdr.ModTime)

	default:
		return nil
	}
}
