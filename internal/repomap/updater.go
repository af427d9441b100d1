package repomap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Update methods reported in UpdateResult.Method.
const (
	MethodGit  = "git"
	MethodHash = "hash"
)

// UpdateResult is a successful incremental update. Map must be saved by the
// caller; nothing is persisted by the updater.
type UpdateResult struct {
	Map     *RepoMap `json:"-"`
	Changes Changes  `json:"changes"`
	Method  string   `json:"method"`
}

// updater applies incremental changes to a loaded map. The map passed to
// update is owned by the updater until it returns and may be left modified
// on failure.
type updater struct {
	scanner     Scanner
	git         *gitClient
	concurrency int
	exclude     *excludeMatcher
	logger      *slog.Logger
	now         func() time.Time
}

func (u *updater) clock() time.Time {
	if u.now == nil {
		return time.Now().UTC()
	}
	return u.now().UTC()
}

// scannable reports whether relPath is a file this updater's scanner handles
// and is not excluded.
func (u *updater) scannable(relPath string) bool {
	if !hasScannableExtension(relPath, extensionSet(u.scanner.Languages())) {
		return false
	}
	return !u.exclude.excludedPath(relPath)
}

func (u *updater) update(ctx context.Context, basePath string, m *RepoMap) (*UpdateResult, error) {
	if m == nil || m.Files == nil {
		return nil, rebuildError("invalid repo map: missing files mapping", ErrMapNotFound, nil)
	}
	normalizeMap(m)

	if m.Git != nil && m.Git.Commit != "" && u.git.isRepo(ctx, basePath) {
		if head := u.git.stamp(ctx, basePath); head != nil {
			return u.updateFromGit(ctx, basePath, m, head)
		}
	}
	return u.updateFromHashes(ctx, basePath, m)
}

func (u *updater) updateFromGit(ctx context.Context, basePath string, m *RepoMap, head *GitInfo) (*UpdateResult, error) {
	base := m.Git.Commit
	if !u.git.commitExists(ctx, basePath, base) {
		return nil, rebuildError(fmt.Sprintf("base commit %s no longer exists (history rewritten?)", base), ErrCommitNotFound, nil)
	}

	var diff gitChanges
	switch outcome := u.git.diffSince(ctx, basePath, base).(type) {
	case diffOK:
		diff = outcome.Changes
	case diffUnavailable:
		u.logger.Warn("git diff unavailable, falling back to hash comparison", "base", base, "error", outcome.Reason)
		return u.updateFromHashes(ctx, basePath, m)
	}

	start := time.Now()
	diff = u.filterDiff(diff, m)
	if err := checkCancelled(ctx); err != nil {
		return nil, err
	}
	if diff.total() == 0 {
		m.Git = head
		m.Updated = u.clock()
		return &UpdateResult{Map: m, Method: MethodGit}, nil
	}

	var changes Changes
	for _, p := range diff.Deleted {
		delete(m.Files, p)
		delete(m.Dependencies, p)
		changes.DeletedFiles = append(changes.DeletedFiles, p)
	}

	rescan := make([]string, 0, len(diff.Added)+len(diff.Modified)+len(diff.Renamed))
	inRescan := make(map[string]struct{})
	queue := func(p string) {
		if _, dup := inRescan[p]; dup {
			return
		}
		inRescan[p] = struct{}{}
		rescan = append(rescan, p)
	}

	for _, r := range diff.Renamed {
		rec, known := m.Files[r.From]
		deps, hadDeps := m.Dependencies[r.From]
		delete(m.Files, r.From)
		delete(m.Dependencies, r.From)
		changes.RenamedFiles = append(changes.RenamedFiles, r)

		if !u.scannable(r.To) {
			continue
		}
		switch {
		case !known:
			queue(r.To)
		case r.Similarity < 100:
			m.Files[r.To] = rec
			if hadDeps {
				m.Dependencies[r.To] = deps
			}
			queue(r.To)
		default:
			m.Files[r.To] = rec
			if hadDeps {
				m.Dependencies[r.To] = deps
			}
		}
	}

	for _, p := range diff.Added {
		if fileExists(basePath, p) {
			queue(p)
			changes.AddedFiles = append(changes.AddedFiles, p)
		}
	}
	for _, p := range diff.Modified {
		if fileExists(basePath, p) {
			queue(p)
			changes.UpdatedFiles = append(changes.UpdatedFiles, p)
		}
	}

	onDisk := rescan[:0]
	for _, p := range rescan {
		if fileExists(basePath, p) {
			onDisk = append(onDisk, p)
			continue
		}
		// Renamed away again before the scan; nothing to keep.
		delete(m.Files, p)
		delete(m.Dependencies, p)
	}

	records, failures := scanFiles(ctx, u.scanner, basePath, onDisk, u.concurrency)
	if len(failures) > 0 {
		u.logger.Error("incremental rescan failed", "method", MethodGit, "failed", len(failures))
		return nil, rebuildError("rescan failed during incremental update", nil, failedPaths(failures))
	}
	if err := checkCancelled(ctx); err != nil {
		return nil, err
	}

	for p, rec := range records {
		m.Files[p] = rec
		setDependencies(m, p, rec)
	}
	pruneScanErrors(m, onDisk, changes.DeletedFiles, renameSources(diff.Renamed))
	mergeLanguages(m)

	changes.finish()
	recalculateStats(m, time.Since(start))
	m.Git = head
	m.Updated = u.clock()

	u.logger.Info("repo map updated", "method", MethodGit, "base", base, "head", head.Commit, "changes", changes.Total, "rescanned", len(onDisk))
	return &UpdateResult{Map: m, Changes: changes, Method: MethodGit}, nil
}

// filterDiff drops paths the map can never hold: files the scanner cannot
// read and excluded paths. Deletions of tracked entries are always kept.
func (u *updater) filterDiff(diff gitChanges, m *RepoMap) gitChanges {
	keep := func(paths []string) []string {
		out := make([]string, 0, len(paths))
		for _, p := range paths {
			if u.scannable(p) {
				out = append(out, p)
			}
		}
		return out
	}

	var out gitChanges
	out.Added = keep(diff.Added)
	out.Modified = keep(diff.Modified)
	for _, p := range diff.Deleted {
		if _, known := m.Files[p]; known || u.scannable(p) {
			out.Deleted = append(out.Deleted, p)
		}
	}
	for _, r := range diff.Renamed {
		if _, known := m.Files[r.From]; known || u.scannable(r.To) {
			out.Renamed = append(out.Renamed, r)
		}
	}
	return out
}

func (u *updater) updateFromHashes(ctx context.Context, basePath string, m *RepoMap) (*UpdateResult, error) {
	start := time.Now()
	idx, err := BuildFileIndex(ctx, basePath, u.exclude)
	if err != nil {
		return nil, rebuildError("enumerate files", err, nil)
	}

	languages := m.Project.Languages
	if len(languages) == 0 {
		languages = idx.Languages()
	}
	current := make(map[string]struct{})
	for _, f := range idx.Filter(intersectLanguages(languages, u.scanner.Languages())) {
		current[f.RelPath] = struct{}{}
	}

	var changes Changes
	var candidates []string
	for p := range m.Files {
		if _, present := current[p]; !present {
			changes.DeletedFiles = append(changes.DeletedFiles, p)
			continue
		}
		candidates = append(candidates, p)
	}
	for p := range current {
		if _, known := m.Files[p]; !known {
			changes.AddedFiles = append(changes.AddedFiles, p)
		}
	}
	sort.Strings(candidates)
	sort.Strings(changes.AddedFiles)

	type hashCheck struct {
		done    bool
		changed bool
		gone    bool
	}
	checks := RunWithConcurrency(ctx, candidates, u.concurrency, func(ctx context.Context, _ int, p string) hashCheck {
		if ctx.Err() != nil {
			return hashCheck{}
		}
		hash, err := hashFileContents(filepath.Join(basePath, filepath.FromSlash(p)))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return hashCheck{done: true, gone: true}
			}
			return hashCheck{done: true, changed: true}
		}
		return hashCheck{done: true, changed: hash != m.Files[p].hashOrEmpty()}
	})
	if err := checkCancelled(ctx); err != nil {
		return nil, err
	}
	var unchecked []string
	for i, p := range candidates {
		if !checks[i].done {
			unchecked = append(unchecked, p)
		}
	}
	if len(unchecked) > 0 {
		return nil, rebuildError("hash comparison did not complete", nil, unchecked)
	}
	for i, p := range candidates {
		switch {
		case checks[i].gone:
			changes.DeletedFiles = append(changes.DeletedFiles, p)
		case checks[i].changed:
			changes.UpdatedFiles = append(changes.UpdatedFiles, p)
		}
	}
	sort.Strings(changes.DeletedFiles)

	for _, p := range changes.DeletedFiles {
		delete(m.Files, p)
		delete(m.Dependencies, p)
	}

	rescan := make([]string, 0, len(changes.AddedFiles)+len(changes.UpdatedFiles))
	rescan = append(rescan, changes.AddedFiles...)
	rescan = append(rescan, changes.UpdatedFiles...)

	records, failures := scanFiles(ctx, u.scanner, basePath, rescan, u.concurrency)
	if len(failures) > 0 {
		u.logger.Error("incremental rescan failed", "method", MethodHash, "failed", len(failures))
		return nil, rebuildError("rescan failed during incremental update", nil, failedPaths(failures))
	}
	if err := checkCancelled(ctx); err != nil {
		return nil, err
	}

	for p, rec := range records {
		m.Files[p] = rec
		setDependencies(m, p, rec)
	}
	pruneScanErrors(m, rescan, changes.DeletedFiles)
	mergeLanguages(m)

	changes.finish()
	recalculateStats(m, time.Since(start))
	m.Updated = u.clock()

	u.logger.Info("repo map updated", "method", MethodHash, "changes", changes.Total, "rescanned", len(rescan))
	return &UpdateResult{Map: m, Changes: changes, Method: MethodHash}, nil
}

// checkCancelled fails the update once ctx is done. A pass that stopped early
// must never be reported, or saved, as a complete one.
func checkCancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return rebuildError("update cancelled", err, nil)
	}
	return nil
}

func (r *FileRecord) hashOrEmpty() string {
	if r == nil {
		return ""
	}
	return r.Hash
}

// finish fills the counters from the path lists.
func (c *Changes) finish() {
	sort.Strings(c.AddedFiles)
	sort.Strings(c.UpdatedFiles)
	sort.Strings(c.DeletedFiles)
	sort.Slice(c.RenamedFiles, func(i, j int) bool { return c.RenamedFiles[i].To < c.RenamedFiles[j].To })
	c.Added = len(c.AddedFiles)
	c.Updated = len(c.UpdatedFiles)
	c.Deleted = len(c.DeletedFiles)
	c.Renamed = len(c.RenamedFiles)
	c.Total = c.Added + c.Updated + c.Deleted + c.Renamed
}

type scanOutcome struct {
	rec *FileRecord
	err *ScanError
}

// scanFiles scans paths with bounded concurrency. Every path yields either a
// record or a ScanError; failures are sorted by file.
func scanFiles(ctx context.Context, sc Scanner, basePath string, paths []string, limit int) (map[string]*FileRecord, []ScanError) {
	outcomes := RunWithConcurrency(ctx, paths, limit, func(ctx context.Context, _ int, p string) scanOutcome {
		var out scanOutcome
		out.rec = ScanFile(ctx, sc, basePath, p, func(e ScanError) { out.err = &e })
		return out
	})

	records := make(map[string]*FileRecord, len(paths))
	var failures []ScanError
	for i, p := range paths {
		switch o := outcomes[i]; {
		case o.rec != nil:
			records[p] = o.rec
		case o.err != nil:
			failures = append(failures, *o.err)
		default:
			failures = append(failures, ScanError{File: p, Message: "scan not started: " + errString(ctx.Err())})
		}
	}
	sort.Slice(failures, func(i, j int) bool { return failures[i].File < failures[j].File })
	return records, failures
}

func errString(err error) string {
	if err == nil {
		return "unknown"
	}
	return err.Error()
}

func failedPaths(failures []ScanError) []string {
	out := make([]string, 0, len(failures))
	for _, f := range failures {
		out = append(out, f.File)
	}
	return out
}

func renameSources(renames []Rename) []string {
	out := make([]string, 0, len(renames))
	for _, r := range renames {
		out = append(out, r.From)
	}
	return out
}

// setDependencies projects rec's imports into m.Dependencies. Files without
// imports have no entry.
func setDependencies(m *RepoMap, relPath string, rec *FileRecord) {
	deps := dependencySources(rec)
	if len(deps) == 0 {
		delete(m.Dependencies, relPath)
		return
	}
	m.Dependencies[relPath] = deps
}

func dependencySources(rec *FileRecord) []string {
	if rec == nil || len(rec.Imports) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(rec.Imports))
	out := make([]string, 0, len(rec.Imports))
	for _, imp := range rec.Imports {
		if imp.Source == "" {
			continue
		}
		if _, dup := seen[imp.Source]; dup {
			continue
		}
		seen[imp.Source] = struct{}{}
		out = append(out, imp.Source)
	}
	sort.Strings(out)
	return out
}

// buildDependencies rebuilds the whole dependency projection from m.Files.
func buildDependencies(m *RepoMap) {
	m.Dependencies = make(map[string][]string, len(m.Files))
	for p, rec := range m.Files {
		setDependencies(m, p, rec)
	}
}

// recalculateStats recomputes the aggregate counters from m.Files.
func recalculateStats(m *RepoMap, elapsed time.Duration) {
	total := 0
	for _, rec := range m.Files {
		if rec != nil {
			total += rec.Symbols.Count()
		}
	}
	m.Stats.TotalFiles = len(m.Files)
	m.Stats.TotalSymbols = total
	m.Stats.ScanDurationMs = elapsed.Milliseconds()
	if m.Stats.Errors == nil {
		m.Stats.Errors = []ScanError{}
	}
}

// pruneScanErrors drops recorded errors for files that were rescanned or
// removed in this pass.
func pruneScanErrors(m *RepoMap, pathSets ...[]string) {
	if len(m.Stats.Errors) == 0 {
		return
	}
	touched := make(map[string]struct{})
	for _, set := range pathSets {
		for _, p := range set {
			touched[p] = struct{}{}
		}
	}
	kept := m.Stats.Errors[:0]
	for _, e := range m.Stats.Errors {
		if _, ok := touched[e.File]; !ok {
			kept = append(kept, e)
		}
	}
	m.Stats.Errors = kept
}

// mergeLanguages adds languages of current files to m.Project.Languages.
func mergeLanguages(m *RepoMap) {
	set := make(map[string]struct{}, len(m.Project.Languages))
	for _, id := range m.Project.Languages {
		set[id] = struct{}{}
	}
	for _, rec := range m.Files {
		if rec != nil && rec.Language != "" {
			set[rec.Language] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	m.Project.Languages = out
}

func intersectLanguages(a, b []string) []string {
	out := make([]string, 0, len(a))
	for _, id := range a {
		if languageEnabled(b, id) {
			out = append(out, id)
		}
	}
	return out
}

func fileExists(basePath, relPath string) bool {
	info, err := os.Stat(filepath.Join(basePath, filepath.FromSlash(relPath)))
	return err == nil && info.Mode().IsRegular()
}
