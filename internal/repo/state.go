package repo

import "slices"

// State is the lifecycle stage of a DocHandle.
type State int

const (
	// StateLoading means the document is being read from storage or requested from peers.
	StateLoading State = iota
	// StateReady means the document is live and editable.
	StateReady
	// StateUnavailable means neither storage nor any peer had the document.
	StateUnavailable
	// StateDeleted is final.
	StateDeleted
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateUnavailable:
		return "unavailable"
	case StateDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

var transitions = map[State][]State{
	StateLoading:     {StateReady, StateUnavailable, StateDeleted},
	StateReady:       {StateDeleted},
	StateUnavailable: {StateLoading, StateReady, StateDeleted},
	StateDeleted:     nil,
}

// CanTransition reports whether a handle may move from s to next.
func (s State) CanTransition(next State) bool {
	return slices.Contains(transitions[s], next)
}
