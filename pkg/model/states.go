package model

// State is the lifecycle state stored on every managed document.
type State string

const (
	StatePublic  State = "PUBLIC"
	StateDraft   State = "DRAFT"
	StateTrash   State = "TRASH"
	StateDeleted State = "DELETED"
)

// States returns all valid lifecycle states.
func States() []State {
	return []State{StatePublic, StateDraft, StateTrash, StateDeleted}
}

// IsValid checks if the state is one of the four lifecycle states.
func (s State) IsValid() bool {
	switch s {
	case StatePublic, StateDraft, StateTrash, StateDeleted:
		return true
	}
	return false
}

// ParseState converts a raw string into a State.
func ParseState(raw string) (State, error) {
	s := State(raw)
	if !s.IsValid() {
		return "", NewBadRequest("unknown state %q", raw)
	}
	return s, nil
}

// Transitions maps each state to the states it may legally move to.
var Transitions = map[State][]State{
	StatePublic:  {StateDraft, StatePublic, StateTrash},
	StateDraft:   {StateDraft, StatePublic, StateTrash},
	StateTrash:   {StateDeleted, StateDraft, StateTrash},
	StateDeleted: {StateDeleted, StateTrash},
}

// AllowedSources is the inverse of Transitions: for each target state,
// the states a document may currently be in for the move to be legal.
var AllowedSources = map[State][]State{
	StatePublic:  {StatePublic, StateDraft},
	StateDraft:   {StatePublic, StateDraft, StateTrash},
	StateTrash:   {StatePublic, StateDraft, StateTrash, StateDeleted},
	StateDeleted: {StateTrash, StateDeleted},
}

// CanTransitionTo reports whether the transition s -> to is allowed.
func (s State) CanTransitionTo(to State) bool {
	for _, allowed := range Transitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// SourcesFor returns the set of states allowed to transition into target.
func SourcesFor(target State) ([]State, error) {
	sources, ok := AllowedSources[target]
	if !ok {
		return nil, NewBadRequest("unknown state %q", string(target))
	}
	return sources, nil
}

// ErrInvalidTransition builds the client-facing error for an illegal move.
func ErrInvalidTransition(from, to State) error {
	return NewBadRequest("transition from %s to %s not allowed", from, to)
}
