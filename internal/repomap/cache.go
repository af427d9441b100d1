package repomap

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	mapFileName    = "repo-map.json"
	staleFileName  = "repo-map.stale"
	lockFileName   = "repo-map.lock"
	defaultDirName = ".claude"

	// StateDirEnv overrides the state directory for every store.
	StateDirEnv = "AI_STATE_DIR"
)

// stateDirCandidates are probed in order when no override is set.
var stateDirCandidates = []string{".claude", ".opencode", ".codex"}

// Store persists a RepoMap and its stale marker under a project-local state
// directory. It assumes one writer per repository; Lock provides an advisory
// guard for callers that need it.
type Store struct {
	// StateDir overrides directory discovery. Relative paths are resolved
	// against the base path.
	StateDir string
	now      func() time.Time
}

// NewStore returns a store using stateDir as override ("" for discovery).
func NewStore(stateDir string) *Store {
	return &Store{StateDir: stateDir, now: time.Now}
}

func (s *Store) clock() time.Time {
	if s == nil || s.now == nil {
		return time.Now().UTC()
	}
	return s.now().UTC()
}

// Dir returns the state directory for basePath.
func (s *Store) Dir(basePath string) string {
	override := os.Getenv(StateDirEnv)
	if override == "" && s != nil {
		override = s.StateDir
	}
	if override != "" {
		if filepath.IsAbs(override) {
			return override
		}
		return filepath.Join(basePath, override)
	}
	for _, name := range stateDirCandidates {
		dir := filepath.Join(basePath, name)
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
	}
	return filepath.Join(basePath, defaultDirName)
}

// Path returns the map file location for basePath.
func (s *Store) Path(basePath string) string {
	return filepath.Join(s.Dir(basePath), mapFileName)
}

func (s *Store) stalePath(basePath string) string {
	return filepath.Join(s.Dir(basePath), staleFileName)
}

// Exists reports whether a map file is present for basePath.
func (s *Store) Exists(basePath string) bool {
	info, err := os.Stat(s.Path(basePath))
	return err == nil && info.Mode().IsRegular()
}

// Load reads and normalises the persisted map. A missing or unreadable
// document yields nil.
func (s *Store) Load(basePath string) *RepoMap {
	data, err := os.ReadFile(s.Path(basePath))
	if err != nil {
		return nil
	}
	var m RepoMap
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	if m.Files == nil {
		m.Files = make(map[string]*FileRecord)
	}
	return normalizeMap(&m)
}

// Save stamps m.Updated, writes the map atomically and clears the stale
// marker.
func (s *Store) Save(basePath string, m *RepoMap) error {
	if m == nil {
		return fmt.Errorf("save repo map: nil map")
	}
	dir := s.Dir(basePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	m.Updated = s.clock()
	m.Docs = nil
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode repo map: %w", err)
	}

	path := filepath.Join(dir, mapFileName)
	tmp, err := os.CreateTemp(dir, mapFileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp map: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp map: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp map: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace repo map: %w", err)
	}

	if err := s.ClearStale(basePath); err != nil {
		return err
	}
	return nil
}

// MarkStale creates the stale marker.
func (s *Store) MarkStale(basePath string) error {
	dir := s.Dir(basePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	stamp := []byte(s.clock().Format(time.RFC3339) + "\n")
	if err := os.WriteFile(filepath.Join(dir, staleFileName), stamp, 0o644); err != nil {
		return fmt.Errorf("write stale marker: %w", err)
	}
	return nil
}

// IsMarkedStale reports whether the stale marker is present.
func (s *Store) IsMarkedStale(basePath string) bool {
	_, err := os.Stat(s.stalePath(basePath))
	return err == nil
}

// ClearStale removes the stale marker if present.
func (s *Store) ClearStale(basePath string) error {
	if err := os.Remove(s.stalePath(basePath)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clear stale marker: %w", err)
	}
	return nil
}

// Unlocker releases a lock taken with Store.Lock.
type Unlocker interface {
	Unlock() error
}

// Lock takes the advisory lock for basePath without blocking. It returns
// ErrLocked when another holder has it.
func (s *Store) Lock(basePath string) (Unlocker, error) {
	dir := s.Dir(basePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	lock, err := acquireFileLock(filepath.Join(dir, lockFileName))
	if err != nil {
		return nil, err
	}
	return lock, nil
}

// MapSummary is the header of a persisted map, readable without keeping the
// file records in memory.
type MapSummary struct {
	Path         string    `json:"path"`
	Version      int       `json:"version"`
	Generated    time.Time `json:"generated"`
	Updated      time.Time `json:"updated"`
	Git          *GitInfo  `json:"git,omitempty"`
	Languages    []string  `json:"languages"`
	TotalFiles   int       `json:"totalFiles"`
	TotalSymbols int       `json:"totalSymbols"`
	ScanErrors   int       `json:"scanErrors"`
	MarkedStale  bool      `json:"markedStale"`
}

// GetStatus returns the summary of the persisted map, or nil when there is no
// readable map.
func (s *Store) GetStatus(basePath string) *MapSummary {
	path := s.Path(basePath)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var header struct {
		Version   int       `json:"version"`
		Generated time.Time `json:"generated"`
		Updated   time.Time `json:"updated"`
		Git       *GitInfo  `json:"git"`
		Project   Project   `json:"project"`
		Stats     struct {
			TotalFiles   int               `json:"totalFiles"`
			TotalSymbols int               `json:"totalSymbols"`
			Errors       []json.RawMessage `json:"errors"`
		} `json:"stats"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return nil
	}
	languages := header.Project.Languages
	if languages == nil {
		languages = []string{}
	}
	return &MapSummary{
		Path:         path,
		Version:      header.Version,
		Generated:    header.Generated,
		Updated:      header.Updated,
		Git:          header.Git,
		Languages:    languages,
		TotalFiles:   header.Stats.TotalFiles,
		TotalSymbols: header.Stats.TotalSymbols,
		ScanErrors:   len(header.Stats.Errors),
		MarkedStale:  s.IsMarkedStale(basePath),
	}
}
