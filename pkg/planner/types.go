package planner

import (
	"context"

	"github.com/yuya-takeyama/manifest-sync/pkg/logger"
	"github.com/yuya-takeyama/manifest-sync/pkg/manifest"
)

type Planner interface {
	Plan(ctx context.Context, group *manifest.Group, opts Options) (*Plan, error)
}

type Options struct {
	// ReferenceRoot is where existing files are compared.
	ReferenceRoot string
	// OutputRoot is where downloads are written. For a self-update it is the
	// staging directory; otherwise it equals ReferenceRoot.
	OutputRoot  string
	Directories []string
	SelfUpdate  bool
	// Excludes are fnmatch patterns; matching entries are never planned.
	Excludes []string
	// Protect are doublestar patterns treated like the manifest's protected flag.
	Protect []string
	Logger  logger.Logger
}

const (
	ReasonStaged          = "already staged"
	ReasonNewFile         = "new file"
	ReasonSizeDiffers     = "size differs"
	ReasonChecksumDiffers = "checksum differs"
	ReasonUnreadable      = "unreadable"
)

type Item struct {
	Entry         manifest.Entry
	Source        string
	Destination   string
	BytesExpected int64
	Reason        string
}

type Plan struct {
	Group       string
	Directories []string
	Items       []Item
	// Staged are self-update entries whose copy in OutputRoot already
	// matches. They need no download but still have to be installed.
	Staged     []Item
	TotalBytes int64
	SelfUpdate bool
}

// Empty reports whether nothing needs to be downloaded.
func (p *Plan) Empty() bool {
	return p == nil || len(p.Items) == 0
}

// Pending reports whether the plan still has work, either downloads or
// staged files waiting to be installed.
func (p *Plan) Pending() bool {
	return !p.Empty() || (p != nil && len(p.Staged) > 0)
}
