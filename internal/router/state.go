package router

import "fmt"

// State is a step in the processing of one inbound event.
type State int

// Processing states. FilteredOut, Replied, Suppressed and Failed are terminal.
const (
	StateReceived State = iota
	StateFilteredOut
	StateClassified
	StateAudioPath
	StateTextPath
	StateReplied
	StateSuppressed
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateFilteredOut:
		return "filtered_out"
	case StateClassified:
		return "classified"
	case StateAudioPath:
		return "audio_path"
	case StateTextPath:
		return "text_path"
	case StateReplied:
		return "replied"
	case StateSuppressed:
		return "suppressed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// transitions lists the valid successors of each state.
var transitions = map[State][]State{
	StateReceived:    {StateFilteredOut, StateClassified},
	StateClassified:  {StateFilteredOut, StateAudioPath, StateTextPath},
	StateAudioPath:   {StateTextPath, StateReplied, StateSuppressed, StateFailed},
	StateTextPath:    {StateReplied, StateSuppressed, StateFailed},
	StateFilteredOut: {},
	StateReplied:     {},
	StateSuppressed:  {},
	StateFailed:      {},
}

// CanTransition checks if a transition from one state to another is valid.
func CanTransition(from, to State) bool {
	for _, state := range transitions[from] {
		if state == to {
			return true
		}
	}
	return false
}

// IsTerminal checks if a state has no outgoing transitions.
func (s State) IsTerminal() bool {
	next, exists := transitions[s]
	return exists && len(next) == 0
}

// Outcome is the terminal state of an event and why it was reached.
type Outcome struct {
	Reason string
	State  State
}
