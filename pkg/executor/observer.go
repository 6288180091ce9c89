package executor

import (
	"github.com/yuya-takeyama/manifest-sync/pkg/planner"
	"github.com/yuya-takeyama/manifest-sync/pkg/progress"
)

// Observer receives run events on the goroutine that called Run.
type Observer interface {
	Progress(p progress.Progress)
	ItemDone(item planner.Item, p progress.Progress)
	ItemFailed(err *ItemError)
	ItemCancelled(item planner.Item)
}

// ObserverFuncs adapts optional callbacks to Observer. Nil fields are
// skipped.
type ObserverFuncs struct {
	OnProgress      func(progress.Progress)
	OnItemDone      func(planner.Item, progress.Progress)
	OnItemFailed    func(*ItemError)
	OnItemCancelled func(planner.Item)
}

func (f ObserverFuncs) Progress(p progress.Progress) {
	if f.OnProgress != nil {
		f.OnProgress(p)
	}
}

func (f ObserverFuncs) ItemDone(item planner.Item, p progress.Progress) {
	if f.OnItemDone != nil {
		f.OnItemDone(item, p)
	}
}

func (f ObserverFuncs) ItemFailed(err *ItemError) {
	if f.OnItemFailed != nil {
		f.OnItemFailed(err)
	}
}

func (f ObserverFuncs) ItemCancelled(item planner.Item) {
	if f.OnItemCancelled != nil {
		f.OnItemCancelled(item)
	}
}
