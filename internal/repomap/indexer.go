package repomap

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// IndexedFile describes a discovered source file in the project tree.
type IndexedFile struct {
	AbsPath  string
	RelPath  string
	Language string
}

// FileIndex is a deterministic snapshot of source files under a project root.
type FileIndex struct {
	Root  string
	Files []IndexedFile
}

// Languages returns the languages present in the index, sorted.
func (idx *FileIndex) Languages() []string {
	seen := make(map[string]struct{})
	for _, f := range idx.Files {
		seen[f.Language] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Filter returns the files whose language is in languages.
func (idx *FileIndex) Filter(languages []string) []IndexedFile {
	out := make([]IndexedFile, 0, len(idx.Files))
	for _, f := range idx.Files {
		if languageEnabled(languages, f.Language) {
			out = append(out, f)
		}
	}
	return out
}

// excludeMatcher applies directory rules and user supplied doublestar patterns.
type excludeMatcher struct {
	patterns []string
}

func newExcludeMatcher(patterns []string) (*excludeMatcher, error) {
	clean := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid exclude pattern: %q", p)
		}
		clean = append(clean, p)
	}
	return &excludeMatcher{patterns: clean}, nil
}

// excluded reports whether relPath (slash separated) matches a user pattern.
func (m *excludeMatcher) excluded(relPath string) bool {
	if m == nil {
		return false
	}
	for _, p := range m.patterns {
		if ok, _ := doublestar.Match(p, relPath); ok {
			return true
		}
	}
	return false
}

// excludedPath also rejects files that live under an always-skipped directory.
func (m *excludeMatcher) excludedPath(relPath string) bool {
	dir := filepath.ToSlash(filepath.Dir(relPath))
	if dir != "." {
		for _, part := range strings.Split(dir, "/") {
			if isExcludedDir(part) {
				return true
			}
		}
	}
	return m.excluded(relPath)
}

// BuildFileIndex walks root once and captures every scannable source file.
func BuildFileIndex(ctx context.Context, root string, exclude *excludeMatcher) (*FileIndex, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}

	idx := &FileIndex{Root: absRoot}
	err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if path == absRoot {
			return nil
		}
		relPath, err := filepath.Rel(absRoot, path)
		if err != nil {
			relPath = path
		}
		relPath = filepath.ToSlash(relPath)

		if d.IsDir() {
			if isExcludedDir(d.Name()) || exclude.excluded(relPath) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		lang, ok := languageForPath(relPath)
		if !ok || exclude.excluded(relPath) {
			return nil
		}
		idx.Files = append(idx.Files, IndexedFile{
			AbsPath:  path,
			RelPath:  relPath,
			Language: lang,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk directory: %w", err)
	}

	sort.Slice(idx.Files, func(i, j int) bool {
		return idx.Files[i].RelPath < idx.Files[j].RelPath
	})
	return idx, nil
}

func isExcludedDir(name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	switch name {
	case "vendor", "node_modules", "target", "dist", "build", "__pycache__", "venv", "coverage":
		return true
	}
	return false
}
