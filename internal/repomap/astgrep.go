package repomap

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// MinToolVersion is the oldest ast-grep release whose JSON output and
// inline-rules support this package relies on.
const MinToolVersion = "0.25.0"

// DefaultProbeTimeout bounds each --version probe.
const DefaultProbeTimeout = 5 * time.Second

// InstallHint is attached to tool precondition failures.
const InstallHint = "install ast-grep: `npm install -g @ast-grep/cli`, `cargo install ast-grep --locked` or `brew install ast-grep`"

var semverPattern = regexp.MustCompile(`(\d+)\.(\d+)\.(\d+)`)

// ToolCommand is a runnable command prefix for the AST tool.
type ToolCommand struct {
	Path string   `json:"path"`
	Args []string `json:"args,omitempty"` // prepended to every invocation
	Env  []string `json:"-"`              // appended to the inherited environment
}

// String renders the command for logs and status output.
func (c ToolCommand) String() string {
	if len(c.Args) == 0 {
		return c.Path
	}
	return c.Path + " " + strings.Join(c.Args, " ")
}

// Command builds an *exec.Cmd running the tool with args.
func (c ToolCommand) Command(ctx context.Context, args ...string) *exec.Cmd {
	full := make([]string, 0, len(c.Args)+len(args))
	full = append(full, c.Args...)
	full = append(full, args...)
	cmd := exec.CommandContext(ctx, c.Path, full...)
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	return cmd
}

// DefaultToolCandidates lists the command names probed, in order.
func DefaultToolCandidates() []ToolCommand {
	return []ToolCommand{{Path: "ast-grep"}, {Path: "sg"}}
}

// ToolStatus is the result of probing for the AST tool.
type ToolStatus struct {
	Found   bool        `json:"found"`
	Version string      `json:"version,omitempty"`
	Command ToolCommand `json:"command"`
}

// Compatible reports whether the tool was found and meets MinToolVersion.
func (s ToolStatus) Compatible() bool {
	return s.Found && MeetsMinimumVersion(s.Version)
}

// Err converts the status into a precondition error, or nil when usable.
func (s ToolStatus) Err() error {
	switch {
	case !s.Found:
		return fmt.Errorf("%w; %s", ErrToolMissing, InstallHint)
	case !MeetsMinimumVersion(s.Version):
		return fmt.Errorf("%w: have %q, need >= %s; %s", ErrToolTooOld, s.Version, MinToolVersion, InstallHint)
	default:
		return nil
	}
}

// CheckInstalled probes candidates in order and returns the first one that
// answers a version query within timeout. It never fails: an absent tool is
// reported as Found=false.
func CheckInstalled(ctx context.Context, timeout time.Duration, candidates ...ToolCommand) ToolStatus {
	if len(candidates) == 0 {
		candidates = DefaultToolCandidates()
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	for _, cand := range candidates {
		version, ok := probeVersion(ctx, timeout, cand)
		if ok {
			return ToolStatus{Found: true, Version: version, Command: cand}
		}
	}
	return ToolStatus{}
}

func probeVersion(ctx context.Context, timeout time.Duration, cand ToolCommand) (string, bool) {
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := cand.Command(probeCtx, "--version").Output()
	if err != nil {
		return "", false
	}
	match := semverPattern.FindString(string(out))
	if match == "" {
		return "", false
	}
	return match, true
}

// MeetsMinimumVersion compares the first major.minor.patch found in version
// against MinToolVersion. Unparseable input never meets the floor.
func MeetsMinimumVersion(version string) bool {
	have, ok := parseVersion(version)
	if !ok {
		return false
	}
	floor, _ := parseVersion(MinToolVersion)
	for i := range have {
		if have[i] != floor[i] {
			return have[i] > floor[i]
		}
	}
	return true
}

func parseVersion(version string) ([3]int, bool) {
	var out [3]int
	m := semverPattern.FindStringSubmatch(version)
	if m == nil {
		return out, false
	}
	for i := 0; i < 3; i++ {
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return out, false
		}
		out[i] = n
	}
	return out, true
}
