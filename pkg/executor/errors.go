package executor

import (
	"errors"
	"fmt"

	"github.com/yuya-takeyama/manifest-sync/pkg/planner"
)

var (
	// ErrDownload marks network and origin failures for one item.
	ErrDownload = errors.New("download failed")
	// ErrLocalIO marks failures creating directories or writing files.
	ErrLocalIO = errors.New("local I/O error")

	ErrCancelled        = errors.New("download cancelled")
	ErrIdleTimeout      = errors.New("no data received within idle timeout")
	ErrSizeMismatch     = errors.New("size mismatch")
	ErrChecksumMismatch = errors.New("checksum mismatch")
)

// ItemError identifies the plan item a run stopped at.
type ItemError struct {
	// Index is the item's position in the plan, or -1 for a path outside
	// the plan's items, such as a manifest directory.
	Index int
	Item  planner.Item
	// Kind is ErrDownload or ErrLocalIO.
	Kind error
	Err  error
}

func (e *ItemError) Error() string {
	name := e.Item.Entry.TargetPath
	if name == "" {
		name = e.Item.Destination
	}
	return fmt.Sprintf("%s: %s: %v", name, e.Kind, e.Err)
}

func (e *ItemError) Unwrap() []error { return []error{e.Kind, e.Err} }
