package repomap

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultGitTimeout bounds every git subprocess.
const DefaultGitTimeout = 10 * time.Second

var commitHashPattern = regexp.MustCompile(`^[0-9a-fA-F]{4,40}$`)

// validCommitHash reports whether s may be passed to git as a commit.
func validCommitHash(s string) bool {
	return commitHashPattern.MatchString(s)
}

// gitClient runs git subcommands in a working directory.
type gitClient struct {
	Path    string
	Timeout time.Duration
}

func newGitClient(timeout time.Duration) *gitClient {
	if timeout <= 0 {
		timeout = DefaultGitTimeout
	}
	return &gitClient{Path: "git", Timeout: timeout}
}

// run executes git and returns its stdout.
func (g *gitClient) run(ctx context.Context, dir string, args ...string) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, g.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, g.Path, args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	sub := args[0]
	if sub == "-c" && len(args) > 2 {
		sub = args[2]
	}
	if err := cmd.Run(); err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("git %s: timed out after %s", sub, g.Timeout)
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return "", fmt.Errorf("git %s: %w", sub, err)
		}
		return "", fmt.Errorf("git %s: %s: %w", sub, msg, err)
	}
	return stdout.String(), nil
}

// isRepo reports whether dir is inside a git work tree.
func (g *gitClient) isRepo(ctx context.Context, dir string) bool {
	out, err := g.run(ctx, dir, "rev-parse", "--is-inside-work-tree")
	return err == nil && strings.TrimSpace(out) == "true"
}

func (g *gitClient) headCommit(ctx context.Context, dir string) (string, error) {
	out, err := g.run(ctx, dir, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	commit := strings.TrimSpace(out)
	if !validCommitHash(commit) {
		return "", fmt.Errorf("unexpected HEAD output %q", commit)
	}
	return commit, nil
}

func (g *gitClient) currentBranch(ctx context.Context, dir string) (string, error) {
	out, err := g.run(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// stamp returns the current commit and branch, or nil when dir has no
// resolvable HEAD.
func (g *gitClient) stamp(ctx context.Context, dir string) *GitInfo {
	commit, err := g.headCommit(ctx, dir)
	if err != nil {
		return nil
	}
	branch, _ := g.currentBranch(ctx, dir)
	return &GitInfo{Commit: commit, Branch: branch}
}

// commitExists reports whether commit names a commit object. Malformed input
// is never passed to git.
func (g *gitClient) commitExists(ctx context.Context, dir, commit string) bool {
	if !validCommitHash(commit) {
		return false
	}
	_, err := g.run(ctx, dir, "cat-file", "-e", commit+"^{commit}")
	return err == nil
}

// commitsBehind counts commits reachable from HEAD but not from commit.
func (g *gitClient) commitsBehind(ctx context.Context, dir, commit string) (int, error) {
	if !validCommitHash(commit) {
		return 0, fmt.Errorf("%w: %q", ErrCommitNotFound, commit)
	}
	out, err := g.run(ctx, dir, "rev-list", commit+"..HEAD", "--count")
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return 0, fmt.Errorf("parse rev-list count: %w", err)
	}
	return n, nil
}

// gitChanges is a parsed name-status diff. The four sets are disjoint:
// a path modified and renamed in the same diff is only listed as renamed.
type gitChanges struct {
	Added    []string
	Modified []string
	Deleted  []string
	Renamed  []Rename
}

func (c gitChanges) total() int {
	return len(c.Added) + len(c.Modified) + len(c.Deleted) + len(c.Renamed)
}

// diffOutcome is either diffOK or diffUnavailable.
type diffOutcome interface {
	isDiffOutcome()
}

type diffOK struct {
	Changes gitChanges
}

type diffUnavailable struct {
	Reason error
}

func (diffOK) isDiffOutcome()          {}
func (diffUnavailable) isDiffOutcome() {}

// diffSince computes the name-status diff between commit and HEAD with rename
// detection. Paths are relative to dir.
func (g *gitClient) diffSince(ctx context.Context, dir, commit string) diffOutcome {
	if !validCommitHash(commit) {
		return diffUnavailable{Reason: fmt.Errorf("%w: %q", ErrCommitNotFound, commit)}
	}
	out, err := g.run(ctx, dir, "-c", "core.quotepath=off", "diff", "--name-status", "-M", "--relative", commit, "HEAD")
	if err != nil {
		return diffUnavailable{Reason: err}
	}
	changes, err := parseNameStatus(out)
	if err != nil {
		return diffUnavailable{Reason: err}
	}
	return diffOK{Changes: changes}
}

// parseNameStatus parses `git diff --name-status -M` output.
func parseNameStatus(out string) (gitChanges, error) {
	var changes gitChanges
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		status := fields[0]
		if status == "" {
			return gitChanges{}, fmt.Errorf("malformed diff line %q", line)
		}
		switch status[0] {
		case 'A':
			if len(fields) < 2 {
				return gitChanges{}, fmt.Errorf("malformed diff line %q", line)
			}
			changes.Added = append(changes.Added, fields[1])
		case 'M', 'T', 'U':
			if len(fields) < 2 {
				return gitChanges{}, fmt.Errorf("malformed diff line %q", line)
			}
			changes.Modified = append(changes.Modified, fields[1])
		case 'D':
			if len(fields) < 2 {
				return gitChanges{}, fmt.Errorf("malformed diff line %q", line)
			}
			changes.Deleted = append(changes.Deleted, fields[1])
		case 'R':
			if len(fields) < 3 {
				return gitChanges{}, fmt.Errorf("malformed diff line %q", line)
			}
			similarity, err := strconv.Atoi(status[1:])
			if err != nil {
				similarity = 0
			}
			changes.Renamed = append(changes.Renamed, Rename{From: fields[1], To: fields[2], Similarity: similarity})
		case 'C':
			// A copy leaves the source in place; only the destination is new.
			if len(fields) < 3 {
				return gitChanges{}, fmt.Errorf("malformed diff line %q", line)
			}
			changes.Added = append(changes.Added, fields[2])
		default:
			return gitChanges{}, fmt.Errorf("unknown diff status %q", status)
		}
	}

	if len(changes.Renamed) > 0 {
		renamedTo := make(map[string]struct{}, len(changes.Renamed))
		for _, r := range changes.Renamed {
			renamedTo[r.To] = struct{}{}
		}
		modified := changes.Modified[:0]
		for _, p := range changes.Modified {
			if _, dup := renamedTo[p]; !dup {
				modified = append(modified, p)
			}
		}
		changes.Modified = modified
	}
	return changes, nil
}
