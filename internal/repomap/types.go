package repomap

import (
	"encoding/json"
	"time"
)

// MapVersion is the schema version written into new maps.
const MapVersion = 2

// RepoMap is the persisted structural index of a repository.
type RepoMap struct {
	Version      int                    `json:"version"`
	Generated    time.Time              `json:"generated"`
	Updated      time.Time              `json:"updated"`
	Git          *GitInfo               `json:"git,omitempty"`
	Project      Project                `json:"project"`
	Files        map[string]*FileRecord `json:"files"`
	Dependencies map[string][]string    `json:"dependencies"`
	Stats        Stats                  `json:"stats"`

	// Docs is a legacy field from maps that folded documentation analysis in.
	// It is purged by normalizeMap and never written back.
	Docs json.RawMessage `json:"docs,omitempty"`
}

// GitInfo records the repository state a map reflects.
type GitInfo struct {
	Commit string `json:"commit"`
	Branch string `json:"branch,omitempty"`
}

// Project holds project-level metadata.
type Project struct {
	Languages []string `json:"languages"`
}

// FileRecord is one file's structural snapshot.
type FileRecord struct {
	Hash     string   `json:"hash"`
	Language string   `json:"language,omitempty"`
	Symbols  Symbols  `json:"symbols"`
	Imports  []Import `json:"imports"`
}

// Symbols groups the symbol descriptors of a file by category.
type Symbols struct {
	Functions []Symbol `json:"functions"`
	Classes   []Symbol `json:"classes"`
	Types     []Symbol `json:"types"`
	Constants []Symbol `json:"constants"`
}

// Count returns the total number of symbols across all categories.
func (s Symbols) Count() int {
	return len(s.Functions) + len(s.Classes) + len(s.Types) + len(s.Constants)
}

// Symbol describes a single declaration.
type Symbol struct {
	Name     string `json:"name"`
	Line     int    `json:"line,omitempty"`
	Kind     string `json:"kind,omitempty"` // function, method, class, struct, interface, enum, ...
	Exported bool   `json:"exported,omitempty"`
}

// Import is a single import statement found in a file.
type Import struct {
	Source string `json:"source"`
	Kind   string `json:"kind,omitempty"` // import, from, require, use, source
}

// ScanError records a per-file scan failure.
type ScanError struct {
	File    string `json:"file"`
	Message string `json:"message"`
}

// Stats are aggregate counters, always recomputable from Files.
type Stats struct {
	TotalFiles     int         `json:"totalFiles"`
	TotalSymbols   int         `json:"totalSymbols"`
	ScanDurationMs int64       `json:"scanDurationMs"`
	Errors         []ScanError `json:"errors"`
}

// Changes summarises what an update applied.
type Changes struct {
	Total   int `json:"total"`
	Updated int `json:"updated"`
	Added   int `json:"added"`
	Deleted int `json:"deleted"`
	Renamed int `json:"renamed"`

	AddedFiles   []string `json:"addedFiles,omitempty"`
	UpdatedFiles []string `json:"updatedFiles,omitempty"`
	DeletedFiles []string `json:"deletedFiles,omitempty"`
	RenamedFiles []Rename `json:"renamedFiles,omitempty"`
}

// Rename is a path move detected by git.
type Rename struct {
	From       string `json:"from"`
	To         string `json:"to"`
	Similarity int    `json:"similarity"`
}

// newRepoMap returns an empty map with all collections allocated.
func newRepoMap(now time.Time) *RepoMap {
	return &RepoMap{
		Version:      MapVersion,
		Generated:    now,
		Updated:      now,
		Files:        make(map[string]*FileRecord),
		Dependencies: make(map[string][]string),
		Stats:        Stats{Errors: []ScanError{}},
	}
}

// normalizeMap migrates a freshly loaded map in place: the legacy docs blob is
// dropped and nil collections are allocated. It returns m for chaining.
func normalizeMap(m *RepoMap) *RepoMap {
	if m == nil {
		return nil
	}
	m.Docs = nil
	if m.Dependencies == nil {
		m.Dependencies = make(map[string][]string)
	}
	if m.Stats.Errors == nil {
		m.Stats.Errors = []ScanError{}
	}
	if m.Project.Languages == nil {
		m.Project.Languages = []string{}
	}
	for _, rec := range m.Files {
		if rec != nil {
			rec.normalize()
		}
	}
	return m
}

func (r *FileRecord) normalize() {
	if r.Symbols.Functions == nil {
		r.Symbols.Functions = []Symbol{}
	}
	if r.Symbols.Classes == nil {
		r.Symbols.Classes = []Symbol{}
	}
	if r.Symbols.Types == nil {
		r.Symbols.Types = []Symbol{}
	}
	if r.Symbols.Constants == nil {
		r.Symbols.Constants = []Symbol{}
	}
	if r.Imports == nil {
		r.Imports = []Import{}
	}
}
