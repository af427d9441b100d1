package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/Someblueman/repomap/internal/config"
	"github.com/Someblueman/repomap/internal/logger"
	"github.com/Someblueman/repomap/internal/output"
	"github.com/Someblueman/repomap/internal/repomap"
)

// Exit codes.
const (
	exitOK           = 0
	exitError        = 1
	exitStale        = 2
	exitNeedsRebuild = 3
)

// exitCodeError ends the process with code and prints nothing.
type exitCodeError struct {
	code int
}

func (e exitCodeError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

func main() {
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{out: output.New(stdout, stderr), stdout: stdout, stderr: stderr}
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}

	var codeErr exitCodeError
	if errors.As(err, &codeErr) {
		return codeErr.code
	}
	a.out.Error(err.Error())
	if errors.Is(err, repomap.ErrNeedsFullRebuild) {
		a.out.Step("run `repomap update --full` to rebuild the map")
		return exitNeedsRebuild
	}
	return exitError
}

// app holds state shared by all commands.
type app struct {
	stdout io.Writer
	stderr io.Writer
	out    *output.Printer

	configFile  string
	logLevel    string
	backend     string
	concurrency int
	verbose     bool

	cfg *config.Config
	svc *repomap.Service
}

func (a *app) rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repomap",
		Short: "Incremental symbol and dependency map of a repository",
		Long: `repomap builds a cached index of the functions, classes, types, constants
and imports of every source file in a repository, and keeps it current by
rescanning only what changed since the last run.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd, args)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "Configuration file (default: <path>/.repomap.yml)")
	flags.StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flags.StringVar(&a.backend, "backend", "", "Scanner backend: ast-grep or native")
	flags.IntVar(&a.concurrency, "concurrency", 0, "Maximum concurrent file scans")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "Verbose output")

	cmd.AddCommand(
		a.initCmd(),
		a.updateCmd(),
		a.statusCmd(),
		a.showCmd(),
		a.markStaleCmd(),
		a.checkToolCmd(),
	)
	return cmd
}

// setup loads configuration for the project named by the first argument and
// builds the service.
func (a *app) setup(cmd *cobra.Command, args []string) error {
	a.out.SetVerbose(a.verbose)

	projectDir := "."
	if len(args) > 0 {
		projectDir = args[0]
	}

	overrides := make(map[string]any)
	if cmd.Flags().Changed("log-level") {
		overrides["log.level"] = a.logLevel
	}
	if cmd.Flags().Changed("backend") {
		overrides["backend"] = a.backend
	}
	if cmd.Flags().Changed("concurrency") {
		overrides["concurrency"] = a.concurrency
	}

	cfg, err := config.Load(config.LoadOptions{
		ProjectDir: projectDir,
		File:       a.configFile,
		Overrides:  overrides,
	})
	if err != nil {
		return err
	}
	a.cfg = cfg
	if cfg.File != "" {
		a.out.Verbose("config: " + cfg.File)
	}

	log := logger.New(cfg.Log, a.stderr)
	svc, err := repomap.New(repomap.Options{
		Backend:       cfg.Backend,
		Concurrency:   cfg.Concurrency,
		ToolTimeout:   cfg.ToolTimeout,
		ProbeTimeout:  cfg.ProbeTimeout,
		GitTimeout:    cfg.GitTimeout,
		StateDir:      cfg.StateDir,
		Exclude:       cfg.Exclude,
		Languages:     cfg.Languages,
		ScanCacheSize: cfg.ScanCacheSize,
	}, repomap.WithLogger(log))
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}
	a.svc = svc
	return nil
}

func pathArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return "."
}
