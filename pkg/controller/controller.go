// Package controller drives one synchronization cycle: fetch the manifest,
// diff it against the local tree, wait for confirmation, download, and either
// hand off to the relaunch script or report ready.
//
// A Controller is not safe for concurrent use. A UI calls its methods from one
// goroutine, away from its render loop, and receives notifications through an
// Observer.
package controller

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/yuya-takeyama/manifest-sync/internal/logging"
	"github.com/yuya-takeyama/manifest-sync/internal/walker"
	"github.com/yuya-takeyama/manifest-sync/pkg/executor"
	"github.com/yuya-takeyama/manifest-sync/pkg/logger"
	"github.com/yuya-takeyama/manifest-sync/pkg/manifest"
	"github.com/yuya-takeyama/manifest-sync/pkg/origin"
	"github.com/yuya-takeyama/manifest-sync/pkg/planner"
	"github.com/yuya-takeyama/manifest-sync/pkg/progress"
	"github.com/yuya-takeyama/manifest-sync/pkg/relaunch"
)

// Directory names below InstallDir used when StagingDir or ContentDir is
// unset.
const (
	DefaultStagingDir = "tmp"
	DefaultContentDir = "game"
)

var (
	ErrManifestFetch     = errors.New("manifest fetch failed")
	ErrInvalidTransition = errors.New("invalid state transition")
)

// ManifestFetchError wraps a network or origin failure while fetching the
// manifest.
type ManifestFetchError struct {
	Name string
	Err  error
}

func (e *ManifestFetchError) Error() string {
	return fmt.Sprintf("failed to fetch manifest %s: %v", e.Name, e.Err)
}

func (e *ManifestFetchError) Unwrap() []error { return []error{ErrManifestFetch, e.Err} }

// TransitionError is returned when a method is called in a state that does
// not allow it.
type TransitionError struct {
	Op    string
	State State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s not allowed while %s", e.Op, e.State)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

type (
	Config struct {
		Origin origin.Origin
		// ManifestName is the OS qualified resource, e.g. manifest.linux.
		ManifestName string
		// InstallDir holds the updater's own files; launcher entries are
		// compared here.
		InstallDir string
		// StagingDir receives launcher downloads until the relaunch script
		// moves them into InstallDir.
		StagingDir string
		// ContentDir is compared against and written to for content entries.
		ContentDir   string
		Excludes     []string
		Protect      []string
		FetchTimeout time.Duration
		IdleTimeout  time.Duration
		// Executable and Args start the updater again after a self-update.
		Executable string
		Args       []string
		// PID is the process the relaunch script waits for. Zero means this
		// process.
		PID int
	}

	// Runner executes a download plan.
	Runner interface {
		Run(ctx context.Context, plan *planner.Plan, obs executor.Observer) executor.Result
	}

	// Relauncher performs the self-update handoff.
	Relauncher interface {
		PrepareRelaunch(stagingDir, installDir string, pid int) (*relaunch.Script, error)
		Handoff(script *relaunch.Script) error
	}

	Controller struct {
		cfg        Config
		planner    planner.Planner
		runner     Runner
		relauncher Relauncher
		observer   Observer
		logger     logger.Logger

		state    State
		kind     PlanKind
		plan     *planner.Plan
		progress progress.Progress
		lastErr  error
	}

	Option func(*Controller)
)

func WithPlanner(p planner.Planner) Option {
	return func(c *Controller) { c.planner = p }
}

func WithRunner(r Runner) Option {
	return func(c *Controller) { c.runner = r }
}

func WithRelauncher(r Relauncher) Option {
	return func(c *Controller) { c.relauncher = r }
}

func WithObserver(o Observer) Option {
	return func(c *Controller) { c.observer = o }
}

func WithLogger(l logger.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// New returns a controller in the Idle state. Planner, runner and relauncher
// default to the diff planner, the sequential executor and the relaunch
// orchestrator for the running platform.
func New(cfg Config, opts ...Option) *Controller {
	if cfg.PID == 0 {
		cfg.PID = os.Getpid()
	}
	if cfg.StagingDir == "" {
		cfg.StagingDir = filepath.Join(cfg.InstallDir, DefaultStagingDir)
	}
	if cfg.ContentDir == "" {
		cfg.ContentDir = filepath.Join(cfg.InstallDir, DefaultContentDir)
	}

	c := &Controller{
		cfg:      cfg,
		observer: NopObserver{},
		logger:   logger.NullLogger{},
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.planner == nil {
		c.planner = planner.NewDiffPlanner(c.logger)
	}
	if c.runner == nil {
		c.runner = executor.NewExecutor(cfg.Origin, c.logger, cfg.IdleTimeout)
	}
	if c.relauncher == nil {
		c.relauncher = relaunch.New(cfg.Executable,
			relaunch.WithArgs(cfg.Args...),
			relaunch.WithLogger(c.logger),
		)
	}
	return c
}

func (c *Controller) State() State { return c.state }

// Kind returns which group the current plan targets.
func (c *Controller) Kind() PlanKind { return c.kind }

// Plan returns the plan of the current cycle, or nil before one was computed.
func (c *Controller) Plan() *planner.Plan { return c.plan }

// LastError returns the cause of the Error state.
func (c *Controller) LastError() error { return c.lastErr }

func (c *Controller) Progress() progress.Progress { return c.progress }

// Status describes the current state for display.
func (c *Controller) Status() string {
	switch c.state {
	case Idle:
		return "Idle"
	case FetchingManifest:
		return "Checking for updates..."
	case PlanReady, AwaitingConfirmation:
		if !c.plan.Pending() {
			return "Up to date"
		}
		what := "Update"
		if c.kind == PlanLauncher {
			if c.plan.Empty() {
				return "Launcher update ready to install"
			}
			what = "Launcher update"
		}
		return fmt.Sprintf("%s available: %d files (%s)", what, len(c.plan.Items), logging.FormatBytes(c.plan.TotalBytes))
	case Downloading:
		return fmt.Sprintf("Downloading %d of %d (%d%%)",
			min(c.progress.ItemsCompleted+1, c.progress.ItemsTotal), c.progress.ItemsTotal, c.progress.Percent())
	case Finalizing:
		return "Installing launcher update and restarting..."
	case Ready:
		return "Ready"
	case Error:
		if c.lastErr != nil {
			return "Error: " + c.lastErr.Error()
		}
		return "Error"
	default:
		return c.state.String()
	}
}

// Start fetches the manifest and computes the plan. It is allowed from Idle
// and from Ready. An empty plan ends in Ready; otherwise the controller waits
// in AwaitingConfirmation.
func (c *Controller) Start(ctx context.Context) error {
	switch c.state {
	case Ready:
		c.transition(Idle)
	case Idle:
	default:
		return &TransitionError{Op: "start", State: c.state}
	}
	return c.check(ctx)
}

// Retry starts a new cycle after an error, refetching the manifest.
func (c *Controller) Retry(ctx context.Context) error {
	if c.state != Error {
		return &TransitionError{Op: "retry", State: c.state}
	}
	return c.check(ctx)
}

func (c *Controller) check(ctx context.Context) error {
	c.plan = nil
	c.kind = PlanNone
	c.progress = progress.Progress{}
	c.lastErr = nil
	c.transition(FetchingManifest)

	m, err := c.fetch(ctx)
	if err != nil {
		return c.fail(err, nil)
	}

	kind, plan, err := c.diff(ctx, m)
	if err != nil {
		return c.fail(err, nil)
	}

	c.kind, c.plan = kind, plan
	c.transition(PlanReady)
	c.observer.PlanReady(kind, plan)

	if !plan.Pending() {
		if ierr := executor.EnsureDirectories(plan.Directories); ierr != nil {
			return c.fail(ierr, nil)
		}
		c.transition(Ready)
		c.observer.CycleComplete(Outcome{Kind: kind, State: Ready})
		return nil
	}

	c.transition(AwaitingConfirmation)
	return nil
}

func (c *Controller) fetch(ctx context.Context) (*manifest.Manifest, error) {
	if c.cfg.Origin == nil {
		return nil, &ManifestFetchError{Name: c.cfg.ManifestName, Err: errors.New("no origin configured")}
	}

	fetchCtx := ctx
	if c.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, c.cfg.FetchTimeout)
		defer cancel()
	}

	c.logger.Debug("fetching manifest", "origin", c.cfg.Origin.String(), "name", c.cfg.ManifestName)
	data, err := c.cfg.Origin.Get(fetchCtx, c.cfg.ManifestName)
	if err != nil {
		return nil, &ManifestFetchError{Name: c.cfg.ManifestName, Err: err}
	}

	m, err := manifest.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", c.cfg.ManifestName, err)
	}
	return m, nil
}

// diff plans the launcher group first. Content is only evaluated when the
// launcher is current, since a new launcher may expect a different manifest.
func (c *Controller) diff(ctx context.Context, m *manifest.Manifest) (PlanKind, *planner.Plan, error) {
	if group := m.Group(manifest.GroupLauncher); group != nil {
		plan, err := c.planner.Plan(ctx, group, planner.Options{
			ReferenceRoot: c.cfg.InstallDir,
			OutputRoot:    c.cfg.StagingDir,
			SelfUpdate:    true,
			Excludes:      c.cfg.Excludes,
			Protect:       c.cfg.Protect,
			Logger:        c.logger,
		})
		if err != nil {
			return PlanNone, nil, fmt.Errorf("failed to generate launcher plan: %w", err)
		}
		if plan.Pending() {
			return PlanLauncher, plan, nil
		}
	}

	group := m.Group(manifest.GroupGame)
	if group == nil {
		group = &manifest.Group{Name: manifest.GroupGame}
	}
	plan, err := c.planner.Plan(ctx, group, planner.Options{
		ReferenceRoot: c.cfg.ContentDir,
		Directories:   m.Directories,
		Excludes:      c.cfg.Excludes,
		Protect:       c.cfg.Protect,
		Logger:        c.logger,
	})
	if err != nil {
		return PlanNone, nil, fmt.Errorf("failed to generate content plan: %w", err)
	}
	if plan.Empty() {
		return PlanNone, plan, nil
	}
	return PlanContent, plan, nil
}

// Confirm downloads the pending plan. After a launcher plan it hands off to
// the relaunch script, and on success the process exits inside this call.
func (c *Controller) Confirm(ctx context.Context) error {
	if c.state != AwaitingConfirmation {
		return &TransitionError{Op: "confirm", State: c.state}
	}

	c.transition(Downloading)
	c.progress = progress.Progress{ItemsTotal: len(c.plan.Items), BytesTotal: c.plan.TotalBytes}

	if c.kind == PlanLauncher {
		if err := c.pruneStaging(); err != nil {
			return c.fail(err, nil)
		}
	}

	result := c.runner.Run(ctx, c.plan, runObserver{c})
	c.progress = result.Progress
	if err := result.Err(); err != nil {
		return c.fail(err, &result)
	}

	if c.kind != PlanLauncher {
		c.transition(Ready)
		c.observer.CycleComplete(Outcome{Kind: c.kind, State: Ready, Result: &result})
		return nil
	}

	c.transition(Finalizing)
	script, err := c.relauncher.PrepareRelaunch(c.cfg.StagingDir, c.cfg.InstallDir, c.cfg.PID)
	if err != nil {
		return c.fail(err, &result)
	}
	c.observer.CycleComplete(Outcome{Kind: c.kind, State: Finalizing, Result: &result})
	if err := c.relauncher.Handoff(script); err != nil {
		return c.fail(err, &result)
	}
	return nil
}

// pruneStaging removes staged files the launcher plan neither downloads nor
// reuses, so the relaunch script only moves files of this manifest.
func (c *Controller) pruneStaging() error {
	if _, err := os.Stat(c.cfg.StagingDir); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	keep := make(map[string]bool, len(c.plan.Items)+len(c.plan.Staged))
	for _, items := range [][]planner.Item{c.plan.Items, c.plan.Staged} {
		for _, item := range items {
			if rel, err := filepath.Rel(c.cfg.StagingDir, item.Destination); err == nil {
				keep[filepath.ToSlash(rel)] = true
			}
		}
	}

	w, err := walker.NewWalker(c.cfg.StagingDir, nil)
	if err != nil {
		return &executor.ItemError{Index: -1, Kind: executor.ErrLocalIO, Err: err}
	}
	files, err := w.Walk()
	if err != nil {
		return &executor.ItemError{Index: -1, Kind: executor.ErrLocalIO, Err: err}
	}
	for _, f := range files {
		if keep[f.RelPath] {
			continue
		}
		if err := os.Remove(f.Path); err != nil {
			return &executor.ItemError{
				Index: -1,
				Item:  planner.Item{Destination: f.Path},
				Kind:  executor.ErrLocalIO,
				Err:   fmt.Errorf("failed to remove stale staged file: %w", err),
			}
		}
		c.logger.Debug("removed stale staged file", "path", f.RelPath)
	}
	return nil
}

func (c *Controller) fail(err error, result *executor.Result) error {
	c.lastErr = err
	c.logger.Error(c.state.String(), c.cfg.ManifestName, err)
	kind := c.kind
	c.transition(Error)
	c.observer.CycleComplete(Outcome{Kind: kind, State: Error, Result: result, Err: err})
	return err
}

func (c *Controller) transition(to State) {
	from := c.state
	if !canTransition(from, to) {
		// Guarded by the public methods; reaching this is a bug.
		panic(fmt.Sprintf("controller: transition %s -> %s", from, to))
	}
	c.state = to
	c.observer.StateChanged(from, to)
}

// runObserver forwards executor events to the controller's observer.
type runObserver struct {
	c *Controller
}

func (r runObserver) Progress(p progress.Progress) {
	r.c.progress = p
	r.c.observer.Progress(p)
}

func (r runObserver) ItemDone(item planner.Item, p progress.Progress) {
	r.c.progress = p
	r.c.observer.ItemDone(item)
}

func (r runObserver) ItemFailed(err *executor.ItemError) {
	r.c.observer.ItemFailed(err)
}

func (r runObserver) ItemCancelled(item planner.Item) {
	r.c.logger.Debug("download cancelled", "path", item.Entry.TargetPath)
}
