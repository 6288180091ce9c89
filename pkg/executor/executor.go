package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/yuya-takeyama/manifest-sync/pkg/fingerprint"
	"github.com/yuya-takeyama/manifest-sync/pkg/logger"
	"github.com/yuya-takeyama/manifest-sync/pkg/origin"
	"github.com/yuya-takeyama/manifest-sync/pkg/planner"
	"github.com/yuya-takeyama/manifest-sync/pkg/progress"
)

const (
	DefaultChunkSize   = 32 * 1024
	DefaultIdleTimeout = 60 * time.Second

	// PartialSuffix marks a download in progress. The destination itself is
	// only ever replaced by a verified file.
	PartialSuffix = ".part"
)

type Executor struct {
	origin      origin.Origin
	logger      logger.Logger
	idleTimeout time.Duration
	chunkSize   int
}

// NewExecutor returns an executor that downloads from o. An idleTimeout of
// zero or less disables the stalled transfer watchdog.
func NewExecutor(o origin.Origin, logger logger.Logger, idleTimeout time.Duration) *Executor {
	return &Executor{
		origin:      o,
		logger:      logger,
		idleTimeout: idleTimeout,
		chunkSize:   DefaultChunkSize,
	}
}

type Result struct {
	Completed        []planner.Item
	Failed           *ItemError
	Cancelled        bool
	BytesTransferred int64
	Progress         progress.Progress
	cause            error
}

// Err returns nil for a run where every item completed.
func (r Result) Err() error {
	switch {
	case r.Failed != nil:
		return r.Failed
	case r.Cancelled:
		if r.cause != nil {
			return fmt.Errorf("%w: %w", ErrCancelled, r.cause)
		}
		return ErrCancelled
	}
	return nil
}

// Run downloads the plan's items one at a time, in order. The first failure
// stops the queue; items after it are never requested. Partial output of the
// failed item is left on disk next to its destination, with PartialSuffix.
func (e *Executor) Run(ctx context.Context, plan *planner.Plan, obs Observer) Result {
	if obs == nil {
		obs = ObserverFuncs{}
	}
	log := e.logger
	if log == nil {
		log = logger.NullLogger{}
	}

	items := []planner.Item{}
	var total int64
	var dirs []string
	if plan != nil {
		items = plan.Items
		total = plan.TotalBytes
		dirs = plan.Directories
	}

	acc := progress.NewAccumulator(len(items), total)
	result := Result{Completed: []planner.Item{}}

	if err := EnsureDirectories(dirs); err != nil {
		result.Failed = err
		log.Error("mkdir", err.Item.Destination, err.Err)
		obs.ItemFailed(result.Failed)
		result.Progress = acc.Snapshot()
		return result
	}

	obs.Progress(acc.Snapshot())

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			result.Cancelled = true
			result.cause = context.Cause(ctx)
			break
		}

		log.Download(item.Source, item.Destination)
		n, err := e.download(ctx, item, acc, obs)
		result.BytesTransferred += n

		if err == nil {
			p := acc.ItemDone()
			result.Completed = append(result.Completed, item)
			obs.ItemDone(item, p)
			obs.Progress(p)
			continue
		}

		acc.ItemAborted()
		if ctx.Err() != nil {
			result.Cancelled = true
			result.cause = context.Cause(ctx)
			log.Debug("download cancelled", "path", item.Entry.TargetPath)
			obs.ItemCancelled(item)
			break
		}

		var itemErr *ItemError
		if !errors.As(err, &itemErr) {
			itemErr = &ItemError{Item: item, Kind: ErrDownload, Err: err}
		}
		itemErr.Index = i
		result.Failed = itemErr
		log.Error("download", item.Destination, itemErr.Err)
		obs.ItemFailed(itemErr)
		break
	}

	result.Progress = acc.Snapshot()
	return result
}

// EnsureDirectories creates dirs and any missing parents. Existing
// directories are not an error.
func EnsureDirectories(dirs []string) *ItemError {
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &ItemError{
				Index: -1,
				Item:  planner.Item{Destination: dir},
				Kind:  ErrLocalIO,
				Err:   fmt.Errorf("failed to create directory: %w", err),
			}
		}
	}
	return nil
}

func (e *Executor) download(ctx context.Context, item planner.Item, acc *progress.Accumulator, obs Observer) (int64, error) {
	localErr := func(format string, err error) error {
		return &ItemError{Item: item, Kind: ErrLocalIO, Err: fmt.Errorf(format, err)}
	}
	downloadErr := func(err error) error {
		return &ItemError{Item: item, Kind: ErrDownload, Err: err}
	}

	if err := os.MkdirAll(filepath.Dir(item.Destination), 0o755); err != nil {
		return 0, localErr("failed to create parent directory: %w", err)
	}

	partial := item.Destination + PartialSuffix
	file, err := os.OpenFile(partial, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, localErr("failed to open destination: %w", err)
	}
	defer file.Close()

	itemCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	wd := e.startWatchdog(cancel)
	defer wd.stop()

	// A stalled read that the watchdog interrupted surfaces as a context
	// error; report the timeout instead.
	interrupted := func(err error) error {
		if cause := context.Cause(itemCtx); ctx.Err() == nil && errors.Is(cause, ErrIdleTimeout) {
			return downloadErr(fmt.Errorf("%s: %w", item.Source, ErrIdleTimeout))
		}
		return downloadErr(err)
	}

	body, _, err := e.origin.Open(itemCtx, item.Source)
	if err != nil {
		return 0, interrupted(err)
	}
	defer body.Close()

	tee := fingerprint.NewTeeReader(body)
	buf := make([]byte, e.chunkSize)
	var written int64

	for {
		if itemCtx.Err() != nil {
			return written, interrupted(itemCtx.Err())
		}

		n, rerr := tee.Read(buf)
		if n > 0 {
			wd.reset()
			if tee.BytesRead() > item.BytesExpected {
				return written, downloadErr(fmt.Errorf("%s: %w: more than %d bytes", item.Source, ErrSizeMismatch, item.BytesExpected))
			}
			if _, werr := file.Write(buf[:n]); werr != nil {
				return written, localErr("failed to write destination: %w", werr)
			}
			written += int64(n)
			obs.Progress(acc.Received(int64(n)))
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return written, interrupted(rerr)
		}
	}

	if written != item.BytesExpected {
		return written, downloadErr(fmt.Errorf("%s: %w: got %d bytes, want %d", item.Source, ErrSizeMismatch, written, item.BytesExpected))
	}
	sum, err := tee.Sum()
	if err != nil {
		return written, downloadErr(err)
	}
	if !fingerprint.Equal(sum, item.Entry.ExpectedHash) {
		return written, downloadErr(fmt.Errorf("%s: %w: got %s, want %s", item.Source, ErrChecksumMismatch, sum, item.Entry.ExpectedHash))
	}

	if err := file.Close(); err != nil {
		return written, localErr("failed to close destination: %w", err)
	}
	if err := os.Rename(partial, item.Destination); err != nil {
		return written, localErr("failed to replace destination: %w", err)
	}
	return written, nil
}

type watchdog struct {
	timer   *time.Timer
	timeout time.Duration
}

func (e *Executor) startWatchdog(cancel context.CancelCauseFunc) *watchdog {
	if e.idleTimeout <= 0 {
		return &watchdog{}
	}
	return &watchdog{
		timer:   time.AfterFunc(e.idleTimeout, func() { cancel(ErrIdleTimeout) }),
		timeout: e.idleTimeout,
	}
}

func (w *watchdog) reset() {
	if w.timer != nil {
		w.timer.Reset(w.timeout)
	}
}

func (w *watchdog) stop() {
	if w.timer != nil {
		w.timer.Stop()
	}
}
