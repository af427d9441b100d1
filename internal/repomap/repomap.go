// Package repomap maintains an incremental, cached, AST-derived index of the
// symbols and imports of a repository.
//
// A map is built once by Service.Init and then kept current by Service.Update,
// which rescans only the files changed since the recorded git commit, or
// compares content hashes when git history is unavailable.
package repomap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Scanner backends.
const (
	BackendAstGrep = "ast-grep"
	BackendNative  = "native"
)

// MethodFull is reported when Update delegated to a full rebuild.
const MethodFull = "full"

// Options configures a Service.
type Options struct {
	// Backend is BackendAstGrep (default) or BackendNative.
	Backend        string
	Concurrency    int
	ToolTimeout    time.Duration
	ProbeTimeout   time.Duration
	GitTimeout     time.Duration
	StateDir       string
	Exclude        []string
	Languages      []string
	ScanCacheSize  int
	ToolCandidates []ToolCommand
}

// Option customises a Service beyond Options.
type Option func(*Service)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithScanner replaces backend selection with a fixed scanner. The AST tool
// precondition is skipped.
func WithScanner(sc Scanner) Option {
	return func(s *Service) { s.fixed = sc }
}

// WithClock sets the time source used for map timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// Service is the entry point for building, updating and inspecting maps.
type Service struct {
	opts      Options
	store     *Store
	git       *gitClient
	exclude   *excludeMatcher
	languages []string
	logger    *slog.Logger
	fixed     Scanner
	now       func() time.Time

	mu       sync.Mutex
	scanners map[string]Scanner
}

// InitOptions controls Init.
type InitOptions struct {
	// Force rebuilds even when a map already exists.
	Force bool
}

// UpdateOptions controls Update.
type UpdateOptions struct {
	// Full discards the map and rebuilds it from scratch.
	Full bool
}

// StatusReport describes the persisted map of a project.
type StatusReport struct {
	Path      string      `json:"path"`
	Exists    bool        `json:"exists"`
	Summary   *MapSummary `json:"summary,omitempty"`
	Staleness *Staleness  `json:"staleness,omitempty"`
}

// New validates opts and returns a Service.
func New(opts Options, options ...Option) (*Service, error) {
	if opts.Backend == "" {
		opts.Backend = BackendAstGrep
	}
	if opts.Backend != BackendAstGrep && opts.Backend != BackendNative {
		return nil, fmt.Errorf("unknown backend %q (want %s or %s)", opts.Backend, BackendAstGrep, BackendNative)
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.ToolTimeout <= 0 {
		opts.ToolTimeout = DefaultScanTimeout
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = DefaultProbeTimeout
	}

	exclude, err := newExcludeMatcher(opts.Exclude)
	if err != nil {
		return nil, err
	}
	languages, err := resolveLanguages(opts.Languages)
	if err != nil {
		return nil, err
	}

	s := &Service{
		opts:      opts,
		store:     NewStore(opts.StateDir),
		git:       newGitClient(opts.GitTimeout),
		exclude:   exclude,
		languages: languages,
		logger:    slog.Default(),
		now:       time.Now,
		scanners:  make(map[string]Scanner),
	}
	for _, opt := range options {
		opt(s)
	}
	s.store.now = s.now
	s.logger = s.logger.With("component", "repomap")
	return s, nil
}

// Store returns the cache store used by the service.
func (s *Service) Store() *Store { return s.store }

// CheckTool probes for the AST tool using the configured candidates.
func (s *Service) CheckTool(ctx context.Context) ToolStatus {
	return CheckInstalled(ctx, s.opts.ProbeTimeout, s.opts.ToolCandidates...)
}

// scanner returns the scanner for this call. For the ast-grep backend the tool
// must be installed and recent enough.
func (s *Service) scanner(ctx context.Context) (Scanner, error) {
	if s.fixed != nil {
		return s.fixed, nil
	}

	var inner Scanner
	key := BackendNative
	if s.opts.Backend == BackendAstGrep {
		status := s.CheckTool(ctx)
		if err := status.Err(); err != nil {
			return nil, err
		}
		key = status.Command.String()
		inner = NewAstGrepScanner(status.Command, s.opts.ToolTimeout)
	} else {
		inner = NativeScanner{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sc, ok := s.scanners[key]; ok {
		return sc, nil
	}
	sc, err := NewCachingScanner(inner, s.opts.ScanCacheSize)
	if err != nil {
		return nil, err
	}
	s.scanners[key] = sc
	return sc, nil
}

func resolveBase(path string) (string, error) {
	if path == "" {
		path = "."
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", abs, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", abs)
	}
	return abs, nil
}

// Init performs a full scan of path and saves the resulting map. Files that
// fail to scan are recorded in stats.errors.
func (s *Service) Init(ctx context.Context, path string, opts InitOptions) (*RepoMap, error) {
	base, err := resolveBase(path)
	if err != nil {
		return nil, err
	}
	sc, err := s.scanner(ctx)
	if err != nil {
		return nil, err
	}
	if !opts.Force && s.store.Exists(base) {
		return nil, fmt.Errorf("%w at %s (use force to rebuild)", ErrMapExists, s.store.Path(base))
	}

	lock, err := s.store.Lock(base)
	if err != nil {
		return nil, err
	}
	defer lock.Unlock()

	start := time.Now()
	idx, err := BuildFileIndex(ctx, base, s.exclude)
	if err != nil {
		return nil, fmt.Errorf("index files: %w", err)
	}

	languages := s.languages
	if len(languages) == 0 {
		languages = idx.Languages()
	}
	languages = intersectLanguages(languages, sc.Languages())

	files := idx.Filter(languages)
	paths := make([]string, 0, len(files))
	for _, f := range files {
		paths = append(paths, f.RelPath)
	}

	s.logger.Info("scanning repository", "path", base, "files", len(paths), "languages", languages, "backend", sc.Name())
	records, failures := scanFiles(ctx, sc, base, paths, s.opts.Concurrency)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("scan repository: %w", err)
	}

	m := newRepoMap(s.now().UTC())
	m.Project.Languages = append([]string{}, languages...)
	m.Files = records
	buildDependencies(m)
	if len(failures) > 0 {
		m.Stats.Errors = failures
		s.logger.Warn("some files failed to scan", "failed", len(failures))
	}
	recalculateStats(m, time.Since(start))
	if s.git.isRepo(ctx, base) {
		m.Git = s.git.stamp(ctx, base)
	}

	if err := s.store.Save(base, m); err != nil {
		return nil, err
	}
	s.logger.Info("repo map created", "files", m.Stats.TotalFiles, "symbols", m.Stats.TotalSymbols, "duration_ms", m.Stats.ScanDurationMs)
	return m, nil
}

// Update brings the saved map of path up to date. A failure never touches the
// saved map; errors.Is(err, ErrNeedsFullRebuild) tells the caller to rerun
// with Full.
func (s *Service) Update(ctx context.Context, path string, opts UpdateOptions) (*UpdateResult, error) {
	if opts.Full {
		m, err := s.Init(ctx, path, InitOptions{Force: true})
		if err != nil {
			return nil, err
		}
		var changes Changes
		for p := range m.Files {
			changes.AddedFiles = append(changes.AddedFiles, p)
		}
		changes.finish()
		return &UpdateResult{Map: m, Changes: changes, Method: MethodFull}, nil
	}

	base, err := resolveBase(path)
	if err != nil {
		return nil, err
	}
	sc, err := s.scanner(ctx)
	if err != nil {
		return nil, err
	}

	lock, err := s.store.Lock(base)
	if err != nil {
		return nil, err
	}
	defer lock.Unlock()

	m := s.store.Load(base)
	if m == nil {
		return nil, &UpdateError{
			Message:          "no readable repo map at " + s.store.Path(base),
			NeedsFullRebuild: true,
			Err:              ErrMapNotFound,
		}
	}

	u := &updater{
		scanner:     sc,
		git:         s.git,
		concurrency: s.opts.Concurrency,
		exclude:     s.exclude,
		logger:      s.logger,
		now:         s.now,
	}
	res, err := u.update(ctx, base, m)
	if err != nil {
		var uerr *UpdateError
		if errors.As(err, &uerr) && uerr.NeedsFullRebuild {
			s.logger.Warn("incremental update needs full rebuild", "error", err)
		}
		return nil, err
	}

	if err := s.store.Save(base, res.Map); err != nil {
		return nil, err
	}
	return res, nil
}

// Status reports whether a map exists and how stale it is, without loading
// the file records.
func (s *Service) Status(ctx context.Context, path string) (*StatusReport, error) {
	base, err := resolveBase(path)
	if err != nil {
		return nil, err
	}
	report := &StatusReport{Path: s.store.Path(base)}
	summary := s.store.GetStatus(base)
	if summary == nil {
		return report, nil
	}
	report.Exists = true
	report.Summary = summary

	staleness := checkStaleness(ctx, s.git, s.store, base, &RepoMap{Git: summary.Git})
	report.Staleness = &staleness
	return report, nil
}

// Load returns the saved map of path, or nil when none is readable.
func (s *Service) Load(path string) *RepoMap {
	base, err := resolveBase(path)
	if err != nil {
		return nil
	}
	return s.store.Load(base)
}

// Exists reports whether a map is saved for path.
func (s *Service) Exists(path string) bool {
	base, err := resolveBase(path)
	if err != nil {
		return false
	}
	return s.store.Exists(base)
}

// MarkStale raises the stale marker for path.
func (s *Service) MarkStale(path string) error {
	base, err := resolveBase(path)
	if err != nil {
		return err
	}
	return s.store.MarkStale(base)
}
