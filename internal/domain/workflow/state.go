package workflow

// State is a lifecycle state of an approvable request.
type State string

const (
	StateDraft                  State = "DRAFT"
	StateSubmitted              State = "SUBMITTED"
	StatePendingApproval        State = "PENDING_APPROVAL"
	StateClarificationRequested State = "CLARIFICATION_REQUESTED"
	StateResubmitted            State = "RESUBMITTED"
	StateApproved               State = "APPROVED"
	StateRejected               State = "REJECTED"
	StateWithdrawn              State = "WITHDRAWN"
	StatePaid                   State = "PAID"
)

// States lists every lifecycle state in lifecycle order.
func States() []State {
	return []State{
		StateDraft, StateSubmitted, StatePendingApproval,
		StateClarificationRequested, StateResubmitted,
		StateApproved, StateRejected, StateWithdrawn, StatePaid,
	}
}

// IsTerminal reports whether no further transition is possible from s.
func (s State) IsTerminal() bool {
	switch s {
	case StateRejected, StateWithdrawn, StatePaid:
		return true
	}
	return false
}

// IsValid reports whether s is a known lifecycle state.
func (s State) IsValid() bool {
	for _, known := range States() {
		if s == known {
			return true
		}
	}
	return false
}

func (s State) String() string { return string(s) }
