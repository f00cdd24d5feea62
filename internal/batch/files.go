package batch

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"horse.fit/marketpulse/internal/reconcile"
)

// CollectFiles expands paths into batch files. A file path is taken as is; a
// directory contributes its *.json files, descending into subdirectories when
// recursive is set. Dotfiles and dot-directories are skipped. Each directory's
// files are sorted; duplicates are dropped.
func CollectFiles(paths []string, recursive bool) ([]string, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no batch paths given")
	}

	seen := make(map[string]struct{})
	var out []string
	add := func(path string) {
		if _, dup := seen[path]; dup {
			return
		}
		seen[path] = struct{}{}
		out = append(out, path)
	}

	for _, raw := range paths {
		clean := strings.TrimSpace(raw)
		if clean == "" {
			return nil, fmt.Errorf("batch path is empty")
		}
		info, err := os.Stat(clean)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", clean, err)
		}
		if !info.IsDir() {
			add(filepath.Clean(clean))
			continue
		}
		files, err := collectDir(clean, recursive)
		if err != nil {
			return nil, err
		}
		for _, file := range files {
			add(file)
		}
	}
	return out, nil
}

func collectDir(root string, recursive bool) ([]string, error) {
	var files []string
	if !recursive {
		entries, err := os.ReadDir(root)
		if err != nil {
			return nil, fmt.Errorf("read directory %s: %w", root, err)
		}
		for _, entry := range entries {
			if entry.IsDir() || !isBatchFile(entry.Name()) {
				continue
			}
			files = append(files, filepath.Join(root, entry.Name()))
		}
		sort.Strings(files)
		return files, nil
	}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if isBatchFile(d.Name()) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk directory %s: %w", root, err)
	}

	sort.Strings(files)
	return files, nil
}

func isBatchFile(name string) bool {
	return !strings.HasPrefix(name, ".") && strings.EqualFold(filepath.Ext(name), ".json")
}

// ReadFile decodes one batch file. Batches without a source are labelled with
// the file name.
func ReadFile(path string) (reconcile.Batch, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return reconcile.Batch{}, fmt.Errorf("read %s: %w", path, err)
	}
	fallback := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	b, err := Decode(raw, fallback)
	if err != nil {
		return reconcile.Batch{}, fmt.Errorf("%s: %w", path, err)
	}
	return b, nil
}

// FileSource yields batches from files in order. It returns io.EOF once all
// files have been read.
type FileSource struct {
	files []string
	next  int
}

func NewFileSource(files []string) *FileSource {
	return &FileSource{files: append([]string(nil), files...)}
}

func (s *FileSource) Next(ctx context.Context) (reconcile.Batch, error) {
	if err := ctx.Err(); err != nil {
		return reconcile.Batch{}, err
	}
	if s.next >= len(s.files) {
		return reconcile.Batch{}, io.EOF
	}
	path := s.files[s.next]
	s.next++
	return ReadFile(path)
}
