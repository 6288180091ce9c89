package planner

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/yuya-takeyama/manifest-sync/pkg/fingerprint"
	"github.com/yuya-takeyama/manifest-sync/pkg/fnmatch"
	"github.com/yuya-takeyama/manifest-sync/pkg/manifest"
)

// ErrTargetIsDirectory is returned when an entry's target path is a local
// directory.
var ErrTargetIsDirectory = errors.New("target path is a directory")

// Phase1Classify sorts entries by what the local stat says about them. It
// touches no filesystem; local holds the stat results keyed by target path.
func Phase1Classify(entries []manifest.Entry, local map[string]LocalState, root string, excludes, protect []string) (Phase1Result, error) {
	result := Phase1Result{
		Missing:      []EntryRef{},
		SizeMismatch: []EntryRef{},
		NeedChecksum: []EntryRef{},
		Unreadable:   []EntryRef{},
		Protected:    []EntryRef{},
		Excluded:     []EntryRef{},
	}

	for i, entry := range entries {
		ref := EntryRef{
			Index: i,
			Entry: entry,
			Path:  filepath.Join(root, filepath.FromSlash(entry.TargetPath)),
		}

		excluded, err := IsExcluded(entry.TargetPath, excludes)
		if err != nil {
			return Phase1Result{}, err
		}
		if excluded {
			result.Excluded = append(result.Excluded, ref)
			continue
		}

		state := local[entry.TargetPath]
		if state.Err != nil {
			result.Unreadable = append(result.Unreadable, ref)
			continue
		}
		if state.IsDir {
			return Phase1Result{}, fmt.Errorf("%s (%s): %w", entry.TargetPath, ref.Path, ErrTargetIsDirectory)
		}

		protected, err := IsProtected(entry, protect)
		if err != nil {
			return Phase1Result{}, err
		}

		switch {
		case !state.Exists:
			result.Missing = append(result.Missing, ref)
		case protected:
			result.Protected = append(result.Protected, ref)
		case state.Size != entry.ExpectedSize:
			result.SizeMismatch = append(result.SizeMismatch, ref)
		default:
			result.NeedChecksum = append(result.NeedChecksum, ref)
		}
	}

	return result, nil
}

// Phase3GeneratePlan merges the planned entries back into manifest order.
func Phase3GeneratePlan(group *manifest.Group, phase1 Phase1Result, checksums []ChecksumData, opts Options) *Plan {
	type planned struct {
		ref    EntryRef
		reason string
	}
	var all []planned

	for _, ref := range phase1.Missing {
		all = append(all, planned{ref, ReasonNewFile})
	}
	for _, ref := range phase1.SizeMismatch {
		all = append(all, planned{ref, ReasonSizeDiffers})
	}
	for _, ref := range phase1.Unreadable {
		all = append(all, planned{ref, ReasonUnreadable})
	}
	for _, cs := range checksums {
		switch {
		case cs.Err != nil:
			all = append(all, planned{cs.Ref, ReasonUnreadable})
		case !cs.Matches:
			all = append(all, planned{cs.Ref, ReasonChecksumDiffers})
		}
	}

	sort.Slice(all, func(i, j int) bool {
		return all[i].ref.Index < all[j].ref.Index
	})

	outputRoot := opts.OutputRoot
	if outputRoot == "" {
		outputRoot = opts.ReferenceRoot
	}

	plan := &Plan{
		Group:       group.Name,
		Directories: []string{},
		Items:       []Item{},
		SelfUpdate:  opts.SelfUpdate,
	}
	for _, dir := range opts.Directories {
		plan.Directories = append(plan.Directories, filepath.Join(outputRoot, filepath.FromSlash(dir)))
	}
	for _, p := range all {
		plan.Items = append(plan.Items, Item{
			Entry:         p.ref.Entry,
			Source:        group.Source(p.ref.Entry),
			Destination:   filepath.Join(outputRoot, filepath.FromSlash(p.ref.Entry.TargetPath)),
			BytesExpected: p.ref.Entry.ExpectedSize,
			Reason:        p.reason,
		})
		plan.TotalBytes += p.ref.Entry.ExpectedSize
	}

	return plan
}

// IsExcluded matches path against fnmatch exclude patterns.
func IsExcluded(path string, patterns []string) (bool, error) {
	return fnmatch.MatchAny(patterns, path)
}

// IsProtected reports whether the entry is flagged protected or matches one
// of the doublestar protect patterns.
func IsProtected(entry manifest.Entry, patterns []string) (bool, error) {
	if entry.Protected {
		return true, nil
	}
	for _, pattern := range patterns {
		matched, err := doublestar.Match(pattern, entry.TargetPath)
		if err != nil {
			return false, err
		}
		if matched {
			return true, nil
		}
	}
	return false, nil
}

func collectChecksum(ref EntryRef) ChecksumData {
	ok, err := fingerprint.Matches(ref.Path, ref.Entry.ExpectedSize, ref.Entry.ExpectedHash)
	return ChecksumData{Ref: ref, Matches: ok, Err: err}
}
