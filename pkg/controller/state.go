package controller

import "fmt"

type State int

const (
	Idle State = iota
	FetchingManifest
	PlanReady
	AwaitingConfirmation
	Downloading
	Finalizing
	Ready
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case FetchingManifest:
		return "fetching manifest"
	case PlanReady:
		return "plan ready"
	case AwaitingConfirmation:
		return "awaiting confirmation"
	case Downloading:
		return "downloading"
	case Finalizing:
		return "finalizing"
	case Ready:
		return "ready"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// PlanKind says which manifest group the current plan came from.
type PlanKind int

const (
	PlanNone PlanKind = iota
	PlanLauncher
	PlanContent
)

func (k PlanKind) String() string {
	switch k {
	case PlanNone:
		return "none"
	case PlanLauncher:
		return "launcher"
	case PlanContent:
		return "content"
	default:
		return fmt.Sprintf("PlanKind(%d)", int(k))
	}
}

// transitions lists the allowed moves of the state machine.
var transitions = map[State][]State{
	Idle:                 {FetchingManifest},
	FetchingManifest:     {PlanReady, Error},
	PlanReady:            {AwaitingConfirmation, Ready, Error},
	AwaitingConfirmation: {Downloading},
	Downloading:          {Finalizing, Ready, Error},
	Finalizing:           {Error},
	Ready:                {Idle},
	Error:                {FetchingManifest},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
