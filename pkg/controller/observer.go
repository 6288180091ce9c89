package controller

import (
	"github.com/yuya-takeyama/manifest-sync/pkg/executor"
	"github.com/yuya-takeyama/manifest-sync/pkg/planner"
	"github.com/yuya-takeyama/manifest-sync/pkg/progress"
)

// Observer receives controller notifications on the goroutine that called
// the controller method. Implementations must not call back into the
// controller.
type Observer interface {
	StateChanged(from, to State)
	PlanReady(kind PlanKind, plan *planner.Plan)
	Progress(p progress.Progress)
	ItemDone(item planner.Item)
	ItemFailed(err *executor.ItemError)
	CycleComplete(outcome Outcome)
}

// Outcome summarizes one finished cycle.
type Outcome struct {
	Kind  PlanKind
	State State
	// Result is nil when nothing was downloaded.
	Result *executor.Result
	Err    error
}

// NopObserver ignores every notification. Embed it to implement only some
// methods.
type NopObserver struct{}

func (NopObserver) StateChanged(from, to State)                 {}
func (NopObserver) PlanReady(kind PlanKind, plan *planner.Plan) {}
func (NopObserver) Progress(p progress.Progress)                {}
func (NopObserver) ItemDone(item planner.Item)                  {}
func (NopObserver) ItemFailed(err *executor.ItemError)          {}
func (NopObserver) CycleComplete(outcome Outcome)               {}

type multiObserver []Observer

// Multi fans every notification out to observers in order.
func Multi(observers ...Observer) Observer {
	return multiObserver(observers)
}

func (m multiObserver) StateChanged(from, to State) {
	for _, o := range m {
		o.StateChanged(from, to)
	}
}

func (m multiObserver) PlanReady(kind PlanKind, plan *planner.Plan) {
	for _, o := range m {
		o.PlanReady(kind, plan)
	}
}

func (m multiObserver) Progress(p progress.Progress) {
	for _, o := range m {
		o.Progress(p)
	}
}

func (m multiObserver) ItemDone(item planner.Item) {
	for _, o := range m {
		o.ItemDone(item)
	}
}

func (m multiObserver) ItemFailed(err *executor.ItemError) {
	for _, o := range m {
		o.ItemFailed(err)
	}
}

func (m multiObserver) CycleComplete(outcome Outcome) {
	for _, o := range m {
		o.CycleComplete(outcome)
	}
}

type EventType int

const (
	EventStateChanged EventType = iota
	EventPlanReady
	EventProgress
	EventItemDone
	EventItemFailed
	EventCycleComplete
)

// Event is one notification delivered by ChanObserver. Only the fields for
// its Type are set.
type Event struct {
	Type     EventType
	From, To State
	Kind     PlanKind
	Plan     *planner.Plan
	Progress progress.Progress
	Item     planner.Item
	ItemErr  *executor.ItemError
	Outcome  Outcome
}

// ChanObserver turns notifications into Events for a UI that drains them on
// its own loop. Progress events are dropped while the buffer is full; every
// other event blocks until it is received.
type ChanObserver struct {
	ch chan Event
}

func NewChanObserver(buffer int) *ChanObserver {
	return &ChanObserver{ch: make(chan Event, buffer)}
}

func (c *ChanObserver) Events() <-chan Event {
	return c.ch
}

// Close ends the event stream. No notification may follow it.
func (c *ChanObserver) Close() {
	close(c.ch)
}

func (c *ChanObserver) StateChanged(from, to State) {
	c.ch <- Event{Type: EventStateChanged, From: from, To: to}
}

func (c *ChanObserver) PlanReady(kind PlanKind, plan *planner.Plan) {
	c.ch <- Event{Type: EventPlanReady, Kind: kind, Plan: plan}
}

func (c *ChanObserver) Progress(p progress.Progress) {
	select {
	case c.ch <- Event{Type: EventProgress, Progress: p}:
	default:
	}
}

func (c *ChanObserver) ItemDone(item planner.Item) {
	c.ch <- Event{Type: EventItemDone, Item: item}
}

func (c *ChanObserver) ItemFailed(err *executor.ItemError) {
	c.ch <- Event{Type: EventItemFailed, ItemErr: err}
}

func (c *ChanObserver) CycleComplete(outcome Outcome) {
	c.ch <- Event{Type: EventCycleComplete, Outcome: outcome}
}
