package repomap

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestNewRejectsUnknownBackend(t *testing.T) {
	if _, err := New(Options{Backend: "regex"}); err == nil {
		t.Fatal("expected error for unknown backend")
	}
	if _, err := New(Options{Languages: []string{"cobol"}}); err == nil {
		t.Fatal("expected error for unknown language")
	}
	if _, err := New(Options{Exclude: []string{"[unclosed"}}); err == nil {
		t.Fatal("expected error for invalid exclude pattern")
	}
}

func TestInitCleanFullScanWithAstGrep(t *testing.T) {
	dir := newGitFixture(t)
	svc := newTestService(t, Options{ToolCandidates: []ToolCommand{fakeTool()}})
	ctx := context.Background()

	m, err := svc.Init(ctx, dir, InitOptions{})
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	if m.Stats.TotalFiles != 3 || len(m.Files) != 3 {
		t.Fatalf("totalFiles = %d, files = %d; want 3", m.Stats.TotalFiles, len(m.Files))
	}
	if len(m.Dependencies) != 2 {
		t.Fatalf("dependencies = %v; want 2 entries", m.Dependencies)
	}
	for _, p := range []string{"a.go", "b.go"} {
		if deps := m.Dependencies[p]; len(deps) != 1 || deps[0] != "fixture/shared" {
			t.Fatalf("dependencies[%s] = %v", p, deps)
		}
	}
	if _, ok := m.Dependencies["shared/shared.go"]; ok {
		t.Fatal("standalone file should have no dependency entry")
	}
	if len(m.Stats.Errors) != 0 {
		t.Fatalf("unexpected scan errors: %+v", m.Stats.Errors)
	}
	if m.Git == nil || m.Git.Commit != gitRun(t, dir, "rev-parse", "HEAD") || m.Git.Branch != "main" {
		t.Fatalf("git = %+v", m.Git)
	}
	if !reflect.DeepEqual(m.Project.Languages, []string{"go"}) {
		t.Fatalf("languages = %v", m.Project.Languages)
	}
	checkInvariants(t, m)

	loaded := svc.Load(dir)
	if loaded == nil || !reflect.DeepEqual(loaded.Files, m.Files) {
		t.Fatal("saved map differs from returned map")
	}

	if _, err := svc.Init(ctx, dir, InitOptions{}); !errors.Is(err, ErrMapExists) {
		t.Fatalf("second Init error = %v, want ErrMapExists", err)
	}
	if _, err := svc.Init(ctx, dir, InitOptions{Force: true}); err != nil {
		t.Fatalf("forced Init failed: %v", err)
	}
}

func TestInitRequiresTool(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir)

	svc := newTestService(t, Options{ToolCandidates: []ToolCommand{{Path: "repomap-test-no-such-binary"}}})
	if _, err := svc.Init(context.Background(), dir, InitOptions{}); !errors.Is(err, ErrToolMissing) {
		t.Fatalf("Init error = %v, want ErrToolMissing", err)
	}
	if svc.Exists(dir) {
		t.Fatal("no map should be written without the tool")
	}

	old := newTestService(t, Options{ToolCandidates: []ToolCommand{fakeTool("FAKE_ASTGREP_VERSION=0.20.1")}})
	if _, err := old.Init(context.Background(), dir, InitOptions{}); !errors.Is(err, ErrToolTooOld) {
		t.Fatalf("Init error = %v, want ErrToolTooOld", err)
	}
}

func TestInitRecordsScanFailures(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir)
	writeFile(t, dir, "broken.go", "package fixture\n// SCAN_FAIL\n")

	svc := newTestService(t, Options{ToolCandidates: []ToolCommand{fakeTool()}})
	m, err := svc.Init(context.Background(), dir, InitOptions{})
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if len(m.Stats.Errors) != 1 || m.Stats.Errors[0].File != "broken.go" {
		t.Fatalf("errors = %+v", m.Stats.Errors)
	}
	if _, ok := m.Files["broken.go"]; ok {
		t.Fatal("failed file should not have a record")
	}
	if m.Stats.TotalFiles != 3 {
		t.Fatalf("totalFiles = %d, want 3", m.Stats.TotalFiles)
	}
	checkInvariants(t, m)
}

func TestInitHonoursExcludeAndLanguages(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir)
	writeFile(t, dir, "gen/generated.go", "package gen\n\nfunc Gen() {}\n")
	writeFile(t, dir, "tools/run.py", "def main():\n    pass\n")
	writeFile(t, dir, "node_modules/dep/index.js", "function dep() {}\n")

	svc := newTestService(t, Options{
		Backend:   BackendNative,
		Exclude:   []string{"gen/**"},
		Languages: []string{"go"},
	})
	m, err := svc.Init(context.Background(), dir, InitOptions{})
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{"gen/generated.go", "tools/run.py", "node_modules/dep/index.js"} {
		if _, ok := m.Files[p]; ok {
			t.Fatalf("%s should not be scanned", p)
		}
	}
	if len(m.Files) != 3 {
		t.Fatalf("files = %d, want 3", len(m.Files))
	}
	if m.Git != nil {
		t.Fatalf("non-git directory should have no git info: %+v", m.Git)
	}
}

func TestUpdateSingleDelete(t *testing.T) {
	dir := newGitFixture(t)
	svc := newTestService(t, Options{Backend: BackendNative})
	ctx := context.Background()

	if _, err := svc.Init(ctx, dir, InitOptions{}); err != nil {
		t.Fatal(err)
	}
	gitRun(t, dir, "rm", "-q", "a.go")
	head := gitCommitAll(t, dir, "delete a")

	res, err := svc.Update(ctx, dir, UpdateOptions{})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if res.Method != MethodGit {
		t.Fatalf("method = %s, want git", res.Method)
	}
	c := res.Changes
	if c.Total != 1 || c.Deleted != 1 || c.Added != 0 || c.Updated != 0 || c.Renamed != 0 {
		t.Fatalf("changes = %+v", c)
	}
	m := svc.Load(dir)
	if _, ok := m.Files["a.go"]; ok {
		t.Fatal("a.go still in files")
	}
	if _, ok := m.Dependencies["a.go"]; ok {
		t.Fatal("a.go still in dependencies")
	}
	if m.Git.Commit != head {
		t.Fatalf("git commit = %s, want %s", m.Git.Commit, head)
	}
	checkInvariants(t, m)
}

func TestUpdateAddAndModify(t *testing.T) {
	dir := newGitFixture(t)
	counting := newCountingScanner(NativeScanner{})
	svc := newTestService(t, Options{}, WithScanner(counting))
	ctx := context.Background()

	if _, err := svc.Init(ctx, dir, InitOptions{}); err != nil {
		t.Fatal(err)
	}
	counting.reset()

	writeFile(t, dir, "a.go", fixtureA+"\nconst Added = 1\n")
	writeFile(t, dir, "pkg/new.go", "package pkg\n\nimport \"os\"\n\nfunc New() { os.Exit(0) }\n")
	writeFile(t, dir, "README.md", "# docs\n")
	gitCommitAll(t, dir, "add and modify")

	res, err := svc.Update(ctx, dir, UpdateOptions{})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	c := res.Changes
	if c.Total != 2 || c.Added != 1 || c.Updated != 1 {
		t.Fatalf("changes = %+v", c)
	}
	if !reflect.DeepEqual(c.AddedFiles, []string{"pkg/new.go"}) || !reflect.DeepEqual(c.UpdatedFiles, []string{"a.go"}) {
		t.Fatalf("changes = %+v", c)
	}
	if counting.count("b.go") != 0 || counting.count("shared/shared.go") != 0 {
		t.Fatal("unchanged files were rescanned")
	}

	m := svc.Load(dir)
	if got := m.Files["a.go"].Symbols.Constants; len(got) != 1 || got[0].Name != "Added" {
		t.Fatalf("a.go constants = %+v", got)
	}
	if deps := m.Dependencies["pkg/new.go"]; !reflect.DeepEqual(deps, []string{"os"}) {
		t.Fatalf("pkg/new.go dependencies = %v", deps)
	}
	checkInvariants(t, m)
}

func TestUpdateRewrittenHistoryNeedsFullRebuild(t *testing.T) {
	dir := newGitFixture(t)
	svc := newTestService(t, Options{Backend: BackendNative})
	ctx := context.Background()

	m, err := svc.Init(ctx, dir, InitOptions{})
	if err != nil {
		t.Fatal(err)
	}
	m.Git.Commit = "deadbeefdeadbeefdeadbeefdeadbeefdeadbeef"
	if err := svc.Store().Save(dir, m); err != nil {
		t.Fatal(err)
	}
	before, err := os.ReadFile(svc.Store().Path(dir))
	if err != nil {
		t.Fatal(err)
	}

	_, err = svc.Update(ctx, dir, UpdateOptions{})
	if !errors.Is(err, ErrNeedsFullRebuild) {
		t.Fatalf("Update error = %v, want ErrNeedsFullRebuild", err)
	}
	var uerr *UpdateError
	if !errors.As(err, &uerr) || !uerr.NeedsFullRebuild {
		t.Fatalf("expected UpdateError with NeedsFullRebuild, got %#v", err)
	}
	if !errors.Is(err, ErrCommitNotFound) {
		t.Fatalf("error should wrap ErrCommitNotFound: %v", err)
	}

	after, err := os.ReadFile(svc.Store().Path(dir))
	if err != nil {
		t.Fatal(err)
	}
	if string(before) != string(after) {
		t.Fatal("failed update modified the saved map")
	}

	res, err := svc.Update(ctx, dir, UpdateOptions{Full: true})
	if err != nil {
		t.Fatalf("full update failed: %v", err)
	}
	if res.Method != MethodFull || res.Changes.Total != 3 || res.Changes.Added != 3 {
		t.Fatalf("full update = %+v", res)
	}
	if want := []string{"a.go", "b.go", "shared/shared.go"}; !reflect.DeepEqual(res.Changes.AddedFiles, want) {
		t.Fatalf("full update added files = %v, want %v", res.Changes.AddedFiles, want)
	}
	if svc.Load(dir).Git.Commit != gitRun(t, dir, "rev-parse", "HEAD") {
		t.Fatal("full update should stamp HEAD")
	}
}

func TestUpdatePureRenameSkipsRescan(t *testing.T) {
	dir := newGitFixture(t)
	counting := newCountingScanner(NativeScanner{})
	svc := newTestService(t, Options{}, WithScanner(counting))
	ctx := context.Background()

	m, err := svc.Init(ctx, dir, InitOptions{})
	if err != nil {
		t.Fatal(err)
	}
	oldRecord := m.Files["b.go"]
	counting.reset()

	gitRun(t, dir, "mv", "b.go", "c.go")
	gitCommitAll(t, dir, "rename")

	res, err := svc.Update(ctx, dir, UpdateOptions{})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	c := res.Changes
	if c.Total != 1 || c.Renamed != 1 || c.Added != 0 || c.Deleted != 0 || c.Updated != 0 {
		t.Fatalf("changes = %+v", c)
	}
	if c.RenamedFiles[0] != (Rename{From: "b.go", To: "c.go", Similarity: 100}) {
		t.Fatalf("renamed = %+v", c.RenamedFiles)
	}
	if counting.count("c.go") != 0 {
		t.Fatal("pure rename should not rescan")
	}

	updated := svc.Load(dir)
	if _, ok := updated.Files["b.go"]; ok {
		t.Fatal("old path still present")
	}
	if !reflect.DeepEqual(updated.Files["c.go"], oldRecord) {
		t.Fatalf("renamed record changed: %+v", updated.Files["c.go"])
	}
	if _, ok := updated.Dependencies["b.go"]; ok {
		t.Fatal("old path still in dependencies")
	}
	if deps := updated.Dependencies["c.go"]; !reflect.DeepEqual(deps, []string{"fixture/shared"}) {
		t.Fatalf("dependencies[c.go] = %v", deps)
	}
	checkInvariants(t, updated)
}

func TestUpdateRenameWithEditRescans(t *testing.T) {
	dir := newGitFixture(t)
	counting := newCountingScanner(NativeScanner{})
	svc := newTestService(t, Options{}, WithScanner(counting))
	ctx := context.Background()

	m, err := svc.Init(ctx, dir, InitOptions{})
	if err != nil {
		t.Fatal(err)
	}
	oldHash := m.Files["b.go"].Hash
	counting.reset()

	gitRun(t, dir, "mv", "b.go", "d.go")
	writeFile(t, dir, "d.go", fixtureB+"\nfunc B5() string { return \"b5\" }\n")
	gitCommitAll(t, dir, "rename with edit")

	res, err := svc.Update(ctx, dir, UpdateOptions{})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	c := res.Changes
	if c.Total != 1 || c.Renamed != 1 || c.Updated != 0 || c.Added != 0 || c.Deleted != 0 {
		t.Fatalf("changes = %+v", c)
	}
	if sim := c.RenamedFiles[0].Similarity; sim >= 100 || sim < 50 {
		t.Fatalf("similarity = %d", sim)
	}
	if counting.count("d.go") != 1 {
		t.Fatalf("d.go scanned %d times, want 1", counting.count("d.go"))
	}

	updated := svc.Load(dir)
	rec := updated.Files["d.go"]
	if rec == nil || rec.Hash == oldHash {
		t.Fatalf("d.go record not refreshed: %+v", rec)
	}
	findSymbol(t, rec.Symbols.Functions, "B5")
	if _, ok := updated.Files["b.go"]; ok {
		t.Fatal("old path still present")
	}
	checkInvariants(t, updated)
}

func TestUpdateIsIdempotent(t *testing.T) {
	dir := newGitFixture(t)
	svc := newTestService(t, Options{Backend: BackendNative})
	ctx := context.Background()

	if _, err := svc.Init(ctx, dir, InitOptions{}); err != nil {
		t.Fatal(err)
	}
	writeFile(t, dir, "a.go", fixtureA+"\nfunc More() {}\n")
	gitCommitAll(t, dir, "change")

	if _, err := svc.Update(ctx, dir, UpdateOptions{}); err != nil {
		t.Fatal(err)
	}
	first := svc.Load(dir)

	res, err := svc.Update(ctx, dir, UpdateOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Changes.Total != 0 {
		t.Fatalf("second update changes = %+v", res.Changes)
	}
	second := svc.Load(dir)
	if !reflect.DeepEqual(first.Files, second.Files) || !reflect.DeepEqual(first.Dependencies, second.Dependencies) {
		t.Fatal("second update changed the map contents")
	}
	if first.Git.Commit != second.Git.Commit {
		t.Fatal("second update changed the recorded commit")
	}
}

func TestUpdateIgnoresUnscannableChanges(t *testing.T) {
	dir := newGitFixture(t)
	svc := newTestService(t, Options{Backend: BackendNative})
	ctx := context.Background()

	if _, err := svc.Init(ctx, dir, InitOptions{}); err != nil {
		t.Fatal(err)
	}
	writeFile(t, dir, "docs/guide.md", "# guide\n")
	writeFile(t, dir, "src/Main.java", "class Main {}\n")
	head := gitCommitAll(t, dir, "docs")

	res, err := svc.Update(ctx, dir, UpdateOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Changes.Total != 0 {
		t.Fatalf("changes = %+v, want none", res.Changes)
	}
	if svc.Load(dir).Git.Commit != head {
		t.Fatal("commit should advance even without relevant changes")
	}
}

func TestUpdateRescanFailureLeavesMapUntouched(t *testing.T) {
	dir := newGitFixture(t)
	svc := newTestService(t, Options{ToolCandidates: []ToolCommand{fakeTool()}})
	ctx := context.Background()

	if _, err := svc.Init(ctx, dir, InitOptions{}); err != nil {
		t.Fatal(err)
	}
	before, err := os.ReadFile(svc.Store().Path(dir))
	if err != nil {
		t.Fatal(err)
	}

	writeFile(t, dir, "a.go", fixtureA+"// SCAN_FAIL\n")
	writeFile(t, dir, "e.go", "package fixture\n\nfunc E() {}\n")
	gitCommitAll(t, dir, "break a")

	_, err = svc.Update(ctx, dir, UpdateOptions{})
	if !errors.Is(err, ErrNeedsFullRebuild) {
		t.Fatalf("Update error = %v, want ErrNeedsFullRebuild", err)
	}
	var uerr *UpdateError
	if !errors.As(err, &uerr) || !reflect.DeepEqual(uerr.FailedFiles, []string{"a.go"}) {
		t.Fatalf("failed files = %#v", err)
	}

	after, err := os.ReadFile(svc.Store().Path(dir))
	if err != nil {
		t.Fatal(err)
	}
	if string(before) != string(after) {
		t.Fatal("failed update modified the saved map")
	}
}

func TestUpdateWithoutMap(t *testing.T) {
	dir := t.TempDir()
	svc := newTestService(t, Options{Backend: BackendNative})

	_, err := svc.Update(context.Background(), dir, UpdateOptions{})
	if !errors.Is(err, ErrNeedsFullRebuild) || !errors.Is(err, ErrMapNotFound) {
		t.Fatalf("Update error = %v, want ErrNeedsFullRebuild wrapping ErrMapNotFound", err)
	}
}

func TestUpdateHashPathWithoutGit(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir)
	writeFile(t, dir, "c.go", "package fixture\n\nfunc C() {}\n")

	counting := newCountingScanner(NativeScanner{})
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	svc := newTestService(t, Options{}, WithScanner(counting), WithClock(func() time.Time { return fixed }))
	ctx := context.Background()

	m, err := svc.Init(ctx, dir, InitOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if m.Git != nil {
		t.Fatal("temp dir should not be a git repository")
	}
	if !m.Generated.Equal(fixed) {
		t.Fatalf("generated = %v, want %v", m.Generated, fixed)
	}
	counting.reset()

	writeFile(t, dir, "a.go", fixtureA+"\nfunc A2() {}\n")
	writeFile(t, dir, "new.go", "package fixture\n\nimport \"io\"\n\nvar _ io.Reader\n")
	if err := os.Remove(filepath.Join(dir, "c.go")); err != nil {
		t.Fatal(err)
	}
	// Same bytes, new mtime.
	writeFile(t, dir, "b.go", fixtureB)

	res, err := svc.Update(ctx, dir, UpdateOptions{})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if res.Method != MethodHash {
		t.Fatalf("method = %s, want hash", res.Method)
	}
	c := res.Changes
	if c.Total != 3 || c.Added != 1 || c.Updated != 1 || c.Deleted != 1 || c.Renamed != 0 {
		t.Fatalf("changes = %+v", c)
	}
	if !reflect.DeepEqual(c.AddedFiles, []string{"new.go"}) ||
		!reflect.DeepEqual(c.UpdatedFiles, []string{"a.go"}) ||
		!reflect.DeepEqual(c.DeletedFiles, []string{"c.go"}) {
		t.Fatalf("changes = %+v", c)
	}
	if counting.count("b.go") != 0 {
		t.Fatal("unchanged content should not be rescanned")
	}

	updated := svc.Load(dir)
	if updated.Git != nil {
		t.Fatal("hash path must not stamp git info")
	}
	if deps := updated.Dependencies["new.go"]; !reflect.DeepEqual(deps, []string{"io"}) {
		t.Fatalf("dependencies[new.go] = %v", deps)
	}
	checkInvariants(t, updated)

	res, err = svc.Update(ctx, dir, UpdateOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Changes.Total != 0 {
		t.Fatalf("second hash update changes = %+v", res.Changes)
	}
}

func TestUpdateCancelledDuringHashCheckFails(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir)

	sc := &cancellingScanner{Scanner: NativeScanner{}}
	svc := newTestService(t, Options{}, WithScanner(sc))

	if _, err := svc.Init(context.Background(), dir, InitOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := svc.MarkStale(dir); err != nil {
		t.Fatal(err)
	}
	before, err := os.ReadFile(svc.Store().Path(dir))
	if err != nil {
		t.Fatal(err)
	}

	writeFile(t, dir, "a.go", fixtureA+"\nfunc A2() {}\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sc.arm(cancel)

	res, err := svc.Update(ctx, dir, UpdateOptions{})
	if err == nil {
		t.Fatalf("cancelled update succeeded: %+v", res.Changes)
	}
	if !errors.Is(err, context.Canceled) || !errors.Is(err, ErrNeedsFullRebuild) {
		t.Fatalf("Update error = %v, want context.Canceled and ErrNeedsFullRebuild", err)
	}

	after, err := os.ReadFile(svc.Store().Path(dir))
	if err != nil {
		t.Fatal(err)
	}
	if string(before) != string(after) {
		t.Fatal("cancelled update modified the saved map")
	}
	if !svc.Store().IsMarkedStale(dir) {
		t.Fatal("cancelled update cleared the stale marker")
	}
}

func TestUpdateCancelledDuringGitDiffFails(t *testing.T) {
	dir := newGitFixture(t)

	sc := &cancellingScanner{Scanner: NativeScanner{}}
	svc := newTestService(t, Options{}, WithScanner(sc))

	if _, err := svc.Init(context.Background(), dir, InitOptions{}); err != nil {
		t.Fatal(err)
	}
	before, err := os.ReadFile(svc.Store().Path(dir))
	if err != nil {
		t.Fatal(err)
	}

	writeFile(t, dir, "a.go", fixtureA+"\nfunc A2() {}\n")
	gitCommitAll(t, dir, "edit a")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sc.arm(cancel)

	if _, err := svc.Update(ctx, dir, UpdateOptions{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("Update error = %v, want context.Canceled", err)
	}
	after, err := os.ReadFile(svc.Store().Path(dir))
	if err != nil {
		t.Fatal(err)
	}
	if string(before) != string(after) {
		t.Fatal("cancelled update modified the saved map")
	}
}

func TestUpdateFallsBackToHashesWhenDiffUnavailable(t *testing.T) {
	dir := newGitFixture(t)
	svc := newTestService(t, Options{Backend: BackendNative})
	ctx := context.Background()

	m, err := svc.Init(ctx, dir, InitOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if m.Git == nil {
		t.Fatal("init should stamp git info")
	}
	initial := m.Git.Commit

	writeFile(t, dir, "a.go", fixtureA+"\nfunc A2() {}\n")
	head := gitCommitAll(t, dir, "edit a")
	if head == initial {
		t.Fatal("commit did not move HEAD")
	}

	svc.git.Path = writeGitWithoutDiff(t)

	res, err := svc.Update(ctx, dir, UpdateOptions{})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if res.Method != MethodHash {
		t.Fatalf("method = %s, want hash", res.Method)
	}
	c := res.Changes
	if c.Total != 1 || !reflect.DeepEqual(c.UpdatedFiles, []string{"a.go"}) {
		t.Fatalf("changes = %+v", c)
	}

	saved := svc.Load(dir)
	if saved.Git == nil || saved.Git.Commit != initial {
		t.Fatalf("git = %+v, want commit %s left in place", saved.Git, initial)
	}
	if fn := findSymbol(t, saved.Files["a.go"].Symbols.Functions, "A2"); fn.Kind != "function" {
		t.Fatalf("A2 kind = %q, want function", fn.Kind)
	}
	checkInvariants(t, saved)
}

func TestUpdatePrunesResolvedScanErrors(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir)
	writeFile(t, dir, "broken.go", "package fixture\n// SCAN_FAIL\n")

	svc := newTestService(t, Options{ToolCandidates: []ToolCommand{fakeTool()}})
	ctx := context.Background()
	if _, err := svc.Init(ctx, dir, InitOptions{}); err != nil {
		t.Fatal(err)
	}

	writeFile(t, dir, "broken.go", "package fixture\n\nfunc Fixed() {}\n")
	res, err := svc.Update(ctx, dir, UpdateOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Changes.Added != 1 {
		t.Fatalf("changes = %+v", res.Changes)
	}
	m := svc.Load(dir)
	if len(m.Stats.Errors) != 0 {
		t.Fatalf("errors = %+v, want none", m.Stats.Errors)
	}
	checkInvariants(t, m)
}

func TestStatusAndStaleness(t *testing.T) {
	dir := newGitFixture(t)
	svc := newTestService(t, Options{Backend: BackendNative})
	ctx := context.Background()

	report, err := svc.Status(ctx, dir)
	if err != nil {
		t.Fatal(err)
	}
	if report.Exists || report.Summary != nil {
		t.Fatalf("report = %+v", report)
	}

	if _, err := svc.Init(ctx, dir, InitOptions{}); err != nil {
		t.Fatal(err)
	}
	report, err = svc.Status(ctx, dir)
	if err != nil {
		t.Fatal(err)
	}
	if !report.Exists || report.Summary.TotalFiles != 3 || report.Staleness.IsStale {
		t.Fatalf("fresh report = %+v, staleness = %+v", report, report.Staleness)
	}

	if err := svc.MarkStale(dir); err != nil {
		t.Fatal(err)
	}
	report, _ = svc.Status(ctx, dir)
	if !report.Staleness.IsStale || report.Staleness.Reason != "map marked stale" {
		t.Fatalf("staleness = %+v", report.Staleness)
	}
	if _, err := svc.Update(ctx, dir, UpdateOptions{}); err != nil {
		t.Fatal(err)
	}

	writeFile(t, dir, "e.go", "package fixture\n")
	gitCommitAll(t, dir, "one")
	writeFile(t, dir, "f.go", "package fixture\n")
	gitCommitAll(t, dir, "two")
	report, _ = svc.Status(ctx, dir)
	if !report.Staleness.IsStale || report.Staleness.CommitsBehind != 2 || report.Staleness.SuggestFullRebuild {
		t.Fatalf("staleness = %+v", report.Staleness)
	}

	gitRun(t, dir, "checkout", "-q", "-b", "feature")
	report, _ = svc.Status(ctx, dir)
	if !report.Staleness.IsStale || report.Staleness.Reason != "branch changed from main to feature" {
		t.Fatalf("staleness = %+v", report.Staleness)
	}
}

func TestCheckStalenessWithoutCommit(t *testing.T) {
	store := NewStore("")
	g := newGitClient(time.Second)
	base := t.TempDir()
	t.Setenv(StateDirEnv, "")

	st := checkStaleness(context.Background(), g, store, base, nil)
	if !st.IsStale || !st.SuggestFullRebuild {
		t.Fatalf("nil map staleness = %+v", st)
	}
	st = checkStaleness(context.Background(), g, store, base, &RepoMap{})
	if !st.IsStale || !st.SuggestFullRebuild || st.Reason != "map has no recorded commit" {
		t.Fatalf("no commit staleness = %+v", st)
	}
}

func TestCheckStalenessMissingCommit(t *testing.T) {
	dir := newGitFixture(t)
	t.Setenv(StateDirEnv, "")
	m := &RepoMap{Git: &GitInfo{Commit: "deadbeefdeadbeefdeadbeefdeadbeefdeadbeef", Branch: "main"}}

	st := checkStaleness(context.Background(), newGitClient(10*time.Second), NewStore(""), dir, m)
	if !st.IsStale || !st.SuggestFullRebuild {
		t.Fatalf("staleness = %+v", st)
	}
}
