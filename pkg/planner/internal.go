package planner

import "github.com/yuya-takeyama/manifest-sync/pkg/manifest"

// LocalState is what a stat of an entry's reference path found.
type LocalState struct {
	Exists bool
	IsDir  bool
	Size   int64
	Err    error
}

type EntryRef struct {
	Index int
	Entry manifest.Entry
	Path  string
}

type Phase1Result struct {
	Missing      []EntryRef
	SizeMismatch []EntryRef
	NeedChecksum []EntryRef
	Unreadable   []EntryRef
	Protected    []EntryRef
	Excluded     []EntryRef
}

type ChecksumData struct {
	Ref     EntryRef
	Matches bool
	Err     error
}
