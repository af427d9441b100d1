package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Someblueman/repomap/internal/repomap"
)

func (a *app) initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Scan the repository and create its map",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.svc.Init(cmd.Context(), pathArg(args), repomap.InitOptions{Force: force})
			if err != nil {
				return err
			}
			a.out.Success(fmt.Sprintf("Created repo map: %d files, %d symbols", m.Stats.TotalFiles, m.Stats.TotalSymbols))
			a.out.Step(a.svc.Store().Path(absOrSelf(pathArg(args))))
			if n := len(m.Stats.Errors); n > 0 {
				a.out.Info(fmt.Sprintf("%d file(s) failed to scan", n))
				for _, e := range m.Stats.Errors {
					a.out.Verbose(e.File + ": " + e.Message)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Rebuild even if a map exists")
	return cmd
}

func (a *app) updateCmd() *cobra.Command {
	var full bool
	cmd := &cobra.Command{
		Use:   "update [path]",
		Short: "Rescan files changed since the last update",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.svc.Update(cmd.Context(), pathArg(args), repomap.UpdateOptions{Full: full})
			if err != nil {
				var uerr *repomap.UpdateError
				if errors.As(err, &uerr) {
					for _, f := range uerr.FailedFiles {
						a.out.Verbose("failed: " + f)
					}
				}
				return err
			}

			c := res.Changes
			if c.Total == 0 {
				a.out.Success(fmt.Sprintf("Repo map is up to date (%s)", res.Method))
				return nil
			}
			a.out.Success(fmt.Sprintf("Updated repo map via %s: %d change(s)", res.Method, c.Total))
			if res.Method != repomap.MethodFull {
				a.out.Step(fmt.Sprintf("+%d added  ~%d updated  -%d deleted  >%d renamed", c.Added, c.Updated, c.Deleted, c.Renamed))
			}
			for _, p := range c.AddedFiles {
				a.out.Verbose("+ " + p)
			}
			for _, p := range c.UpdatedFiles {
				a.out.Verbose("~ " + p)
			}
			for _, p := range c.DeletedFiles {
				a.out.Verbose("- " + p)
			}
			for _, r := range c.RenamedFiles {
				a.out.Verbose(fmt.Sprintf("> %s -> %s (%d%%)", r.From, r.To, r.Similarity))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "Discard the map and rebuild it")
	return cmd
}

func (a *app) statusCmd() *cobra.Command {
	var (
		asJSON bool
		check  bool
	)
	cmd := &cobra.Command{
		Use:   "status [path]",
		Short: "Report whether the map exists and how stale it is",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := a.svc.Status(cmd.Context(), pathArg(args))
			if err != nil {
				return err
			}

			if asJSON {
				data, err := json.MarshalIndent(report, "", "  ")
				if err != nil {
					return fmt.Errorf("encode status: %w", err)
				}
				a.out.Plain(string(data) + "\n")
			} else {
				a.printStatus(report)
			}

			if check && (!report.Exists || (report.Staleness != nil && report.Staleness.IsStale)) {
				return exitCodeError{code: exitStale}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	cmd.Flags().BoolVar(&check, "check", false, "Exit with status 2 when the map is missing or stale")
	return cmd
}

func (a *app) printStatus(report *repomap.StatusReport) {
	if !report.Exists {
		a.out.Info("No repo map at " + report.Path)
		a.out.Step("run `repomap init` to create one")
		return
	}
	s := report.Summary
	a.out.Info(fmt.Sprintf("Repo map: %d files, %d symbols (%s)", s.TotalFiles, s.TotalSymbols, joinOrNone(s.Languages)))
	a.out.Step("updated " + s.Updated.Format(time.RFC3339))
	if s.Git != nil {
		a.out.Step(fmt.Sprintf("commit %s on %s", s.Git.Commit, s.Git.Branch))
	}
	if s.ScanErrors > 0 {
		a.out.Step(fmt.Sprintf("%d scan error(s)", s.ScanErrors))
	}

	st := report.Staleness
	switch {
	case st == nil || !st.IsStale:
		a.out.Success("Up to date")
	case st.SuggestFullRebuild:
		a.out.Info("Stale: " + st.Reason)
		a.out.Step("run `repomap update --full`")
	default:
		a.out.Info("Stale: " + st.Reason)
		a.out.Step("run `repomap update`")
	}
}

func (a *app) showCmd() *cobra.Command {
	var (
		limit int
		paths bool
	)
	cmd := &cobra.Command{
		Use:   "show [path]",
		Short: "Print a summary of the map",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m := a.svc.Load(pathArg(args))
			if m == nil {
				return fmt.Errorf("%w: run `repomap init` first", repomap.ErrMapNotFound)
			}
			if paths {
				a.out.Plain(repomap.RenderPaths(m))
				return nil
			}
			text, err := repomap.Render(m, limit)
			if err != nil {
				return err
			}
			a.out.Plain(text)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum files listed (0 for all)")
	cmd.Flags().BoolVar(&paths, "paths", false, "Print one tab separated line per file")
	return cmd
}

func (a *app) markStaleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mark-stale [path]",
		Short: "Flag the map as outdated (for git hooks)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.svc.MarkStale(pathArg(args)); err != nil {
				return err
			}
			a.out.Verbose("marked stale")
			return nil
		},
	}
}

func (a *app) checkToolCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-tool",
		Short: "Check that ast-grep is installed and recent enough",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			status := a.svc.CheckTool(cmd.Context())
			if err := status.Err(); err != nil {
				return err
			}
			a.out.Success(fmt.Sprintf("ast-grep %s (%s)", status.Version, status.Command.String()))
			a.out.Step("minimum supported version " + repomap.MinToolVersion)
			return nil
		},
	}
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "no languages"
	}
	return strings.Join(items, ", ")
}

func absOrSelf(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
