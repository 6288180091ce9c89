package planner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/yuya-takeyama/manifest-sync/pkg/fingerprint"
	"github.com/yuya-takeyama/manifest-sync/pkg/logger"
	"github.com/yuya-takeyama/manifest-sync/pkg/manifest"
)

type DiffPlanner struct {
	logger logger.Logger
}

func NewDiffPlanner(logger logger.Logger) *DiffPlanner {
	return &DiffPlanner{logger: logger}
}

// Plan compares group against the files under opts.ReferenceRoot and returns
// the entries that must be downloaded, in manifest order. It reads the
// filesystem and writes nothing.
func (p *DiffPlanner) Plan(ctx context.Context, group *manifest.Group, opts Options) (*Plan, error) {
	if group == nil {
		return nil, fmt.Errorf("manifest group is nil")
	}
	if opts.ReferenceRoot == "" {
		return nil, fmt.Errorf("reference root is required")
	}

	log := p.logger
	if opts.Logger != nil {
		log = opts.Logger
	}
	if log == nil {
		log = logger.NullLogger{}
	}

	local := gatherLocalState(opts.ReferenceRoot, group.Entries)

	phase1, err := Phase1Classify(group.Entries, local, opts.ReferenceRoot, opts.Excludes, opts.Protect)
	if err != nil {
		return nil, fmt.Errorf("failed to classify %s files: %w", group.Name, err)
	}

	for _, ref := range phase1.Excluded {
		log.Skip(ref.Entry.TargetPath, "excluded")
	}
	for _, ref := range phase1.Protected {
		log.Skip(ref.Entry.TargetPath, "protected")
	}
	for _, ref := range phase1.Unreadable {
		log.Error("stat", ref.Path, local[ref.Entry.TargetPath].Err)
	}

	checksums, err := p.Phase2CollectChecksums(ctx, phase1.NeedChecksum)
	if err != nil {
		return nil, err
	}
	for _, cs := range checksums {
		switch {
		case cs.Err != nil:
			log.Error("checksum", cs.Ref.Path, cs.Err)
		case cs.Matches:
			log.Skip(cs.Ref.Entry.TargetPath, "checksum matches")
		}
	}

	plan := Phase3GeneratePlan(group, phase1, checksums, opts)
	if opts.SelfUpdate && opts.OutputRoot != "" && opts.OutputRoot != opts.ReferenceRoot {
		if err := p.collectStaged(ctx, plan, log); err != nil {
			return nil, err
		}
	}
	for _, item := range plan.Items {
		log.Debug("planned download", "path", item.Entry.TargetPath, "reason", item.Reason, "size", item.BytesExpected)
	}

	return plan, nil
}

// Phase2CollectChecksums hashes the entries whose size already matches.
func (p *DiffPlanner) Phase2CollectChecksums(ctx context.Context, refs []EntryRef) ([]ChecksumData, error) {
	checksums := make([]ChecksumData, 0, len(refs))
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		checksums = append(checksums, collectChecksum(ref))
	}
	return checksums, nil
}

// collectStaged moves items whose staged copy already matches out of Items,
// so an interrupted self-update resumes without downloading them again.
func (p *DiffPlanner) collectStaged(ctx context.Context, plan *Plan, log logger.Logger) error {
	pending := make([]Item, 0, len(plan.Items))
	for _, item := range plan.Items {
		if err := ctx.Err(); err != nil {
			return err
		}
		ok, err := fingerprint.Matches(item.Destination, item.BytesExpected, item.Entry.ExpectedHash)
		if err != nil {
			log.Debug("staged copy unusable", "path", item.Destination, "error", err)
		}
		if !ok {
			pending = append(pending, item)
			continue
		}
		log.Skip(item.Entry.TargetPath, ReasonStaged)
		item.Reason = ReasonStaged
		plan.Staged = append(plan.Staged, item)
		plan.TotalBytes -= item.BytesExpected
	}
	if len(plan.Staged) > 0 {
		plan.Items = pending
	}
	return nil
}

func gatherLocalState(root string, entries []manifest.Entry) map[string]LocalState {
	local := make(map[string]LocalState, len(entries))
	for _, entry := range entries {
		info, err := os.Stat(filepath.Join(root, filepath.FromSlash(entry.TargetPath)))
		switch {
		case err == nil:
			local[entry.TargetPath] = LocalState{Exists: true, IsDir: info.IsDir(), Size: info.Size()}
		case errors.Is(err, os.ErrNotExist):
			local[entry.TargetPath] = LocalState{}
		default:
			local[entry.TargetPath] = LocalState{Err: err}
		}
	}
	return local
}
