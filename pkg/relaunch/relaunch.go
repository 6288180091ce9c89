// Package relaunch hands a staged self-update over to an external script.
//
// PrepareRelaunch writes a script into the install directory that waits for
// the running process to exit, moves every staged file into place and starts
// the application again. Handoff launches that script as an independent
// process and exits. Staged files are never removed by this package; only a
// script that completed every move deletes the staging directory.
package relaunch

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/yuya-takeyama/manifest-sync/internal/walker"
	"github.com/yuya-takeyama/manifest-sync/pkg/executor"
	"github.com/yuya-takeyama/manifest-sync/pkg/logger"
)

var (
	// ErrRelaunch marks every failure to write or start the handoff script.
	ErrRelaunch = errors.New("relaunch failed")

	ErrNothingStaged = errors.New("staging directory contains no files")
)

// RelaunchError wraps ErrRelaunch so callers can use errors.Is.
type RelaunchError struct {
	Op   string
	Path string
	Err  error
}

func (e *RelaunchError) Error() string {
	return fmt.Sprintf("relaunch: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *RelaunchError) Unwrap() []error { return []error{ErrRelaunch, e.Err} }

type (
	// Move is one staged file and where the script puts it.
	Move struct {
		From string
		To   string
	}

	// Script is a generated relaunch script, already written to Path.
	Script struct {
		Path       string
		Dialect    string
		PID        int
		StagingDir string
		InstallDir string
		Moves      []Move
		// Executable is the entry point relative to InstallDir.
		Executable string
		Args       []string
		Content    string
		command    []string
	}

	Orchestrator struct {
		dialect    Dialect
		executable string
		args       []string
		excludes   []string
		logger     logger.Logger
		start      func(*exec.Cmd) error
		exit       func(int)
	}

	Option func(*Orchestrator)
)

// WithDialect overrides the script dialect chosen from runtime.GOOS.
func WithDialect(d Dialect) Option {
	return func(o *Orchestrator) { o.dialect = d }
}

// WithArgs sets the arguments the restarted application receives.
func WithArgs(args ...string) Option {
	return func(o *Orchestrator) { o.args = args }
}

// WithExcludes replaces the doublestar patterns of staged files the script
// never moves. The default skips interrupted downloads.
func WithExcludes(patterns ...string) Option {
	return func(o *Orchestrator) { o.excludes = patterns }
}

func WithLogger(l logger.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithStarter replaces exec.Cmd.Start.
func WithStarter(start func(*exec.Cmd) error) Option {
	return func(o *Orchestrator) { o.start = start }
}

// WithExit replaces os.Exit.
func WithExit(exit func(int)) Option {
	return func(o *Orchestrator) { o.exit = exit }
}

// New returns an orchestrator that restarts executable, a path relative to
// the install directory.
func New(executable string, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		dialect:    DialectFor(runtime.GOOS),
		executable: executable,
		excludes:   []string{"**/*" + executor.PartialSuffix},
		logger:     logger.NullLogger{},
		start:      (*exec.Cmd).Start,
		exit:       os.Exit,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// PrepareRelaunch enumerates stagingDir and writes the relaunch script for
// process pid into installDir.
func (o *Orchestrator) PrepareRelaunch(stagingDir, installDir string, pid int) (*Script, error) {
	installDir, err := filepath.Abs(installDir)
	if err != nil {
		return nil, &RelaunchError{Op: "resolve", Path: installDir, Err: err}
	}

	w, err := walker.NewWalker(stagingDir, o.excludes)
	if err != nil {
		return nil, &RelaunchError{Op: "enumerate", Path: stagingDir, Err: err}
	}
	files, err := w.Walk()
	if err != nil {
		return nil, &RelaunchError{Op: "enumerate", Path: stagingDir, Err: err}
	}
	if len(files) == 0 {
		return nil, &RelaunchError{Op: "enumerate", Path: stagingDir, Err: ErrNothingStaged}
	}

	script := &Script{
		Path:       filepath.Join(installDir, o.dialect.FileName()),
		Dialect:    o.dialect.Name(),
		PID:        pid,
		StagingDir: w.Root(),
		InstallDir: installDir,
		Executable: o.executable,
		Args:       o.args,
	}
	for _, f := range files {
		script.Moves = append(script.Moves, Move{
			From: f.Path,
			To:   filepath.Join(installDir, filepath.FromSlash(f.RelPath)),
		})
	}

	content, err := o.dialect.Render(script)
	if err != nil {
		return nil, &RelaunchError{Op: "render", Path: script.Path, Err: err}
	}
	script.Content = content
	script.command = o.dialect.Command(script.Path)

	if err := writeScript(script.Path, content); err != nil {
		return nil, &RelaunchError{Op: "write", Path: script.Path, Err: err}
	}

	o.logger.Debug("relaunch script written", "path", script.Path, "moves", len(script.Moves), "pid", pid)
	return script, nil
}

// Handoff starts the script detached from this process and exits with status
// 0. It returns only when the script could not be started.
func (o *Orchestrator) Handoff(script *Script) error {
	if script == nil || script.Path == "" {
		return &RelaunchError{Op: "start", Err: errors.New("no script prepared")}
	}

	command := script.command
	if len(command) == 0 {
		command = o.dialect.Command(script.Path)
	}

	cmd := exec.Command(command[0], command[1:]...)
	cmd.Dir = script.InstallDir
	detach(cmd)

	if err := o.start(cmd); err != nil {
		return &RelaunchError{Op: "start", Path: script.Path, Err: err}
	}
	if cmd.Process != nil {
		// The script's exit status is never inspected.
		_ = cmd.Process.Release()
	}

	o.logger.Debug("handing off to relaunch script", "path", script.Path)
	o.exit(0)
	return nil
}

// writeScript writes through a temp file in the same directory so a partial
// script is never left at path.
func writeScript(path, content string) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".relaunch-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.WriteString(content); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Chmod(0o755); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
