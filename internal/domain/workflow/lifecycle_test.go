package workflow

import (
	"errors"
	"testing"
)

func TestState_IsTerminal(t *testing.T) {
	tests := []struct {
		state    State
		expected bool
	}{
		{StateDraft, false},
		{StateSubmitted, false},
		{StatePendingApproval, false},
		{StateClarificationRequested, false},
		{StateResubmitted, false},
		{StateApproved, false},
		{StateRejected, true},
		{StateWithdrawn, true},
		{StatePaid, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			if got := tt.state.IsTerminal(); got != tt.expected {
				t.Errorf("State.IsTerminal() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestState_IsValid(t *testing.T) {
	tests := []struct {
		name     string
		state    State
		expected bool
	}{
		{"draft", StateDraft, true},
		{"paid", StatePaid, true},
		{"unknown", State("COMPLETED"), false},
		{"empty", State(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.IsValid(); got != tt.expected {
				t.Errorf("State.IsValid() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestNewLifecycle_RejectsBadTables(t *testing.T) {
	cases := map[string][]Transition{
		"unknown from":  {{From: "NOPE", Trigger: TriggerSubmit, To: StateSubmitted}},
		"unknown to":    {{From: StateDraft, Trigger: TriggerSubmit, To: "NOPE"}},
		"from terminal": {{From: StatePaid, Trigger: TriggerPay, To: StatePaid}},
		"duplicate edge": {
			{From: StateDraft, Trigger: TriggerSubmit, To: StateSubmitted},
			{From: StateDraft, Trigger: TriggerSubmit, To: StateWithdrawn},
		},
	}

	for name, table := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := NewLifecycle(table...); err == nil {
				t.Errorf("NewLifecycle() accepted %s", name)
			}
		})
	}
}

func TestMustLifecycle_Panics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustLifecycle should panic on an invalid table")
		}
	}()
	MustLifecycle(Transition{From: "NOPE", Trigger: TriggerSubmit, To: StateDraft})
}

func TestLifecycle_Next(t *testing.T) {
	l := MustLifecycle(
		Transition{StateDraft, TriggerSubmit, StateSubmitted},
		Transition{StateSubmitted, TriggerRoute, StatePendingApproval},
	)

	to, err := l.Next(StateDraft, TriggerSubmit)
	if err != nil {
		t.Fatalf("Next() failed: %v", err)
	}
	if to != StateSubmitted {
		t.Errorf("Next() = %v, want %v", to, StateSubmitted)
	}

	to, err = l.Next(StateDraft, TriggerRoute)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Next() error = %v, want %v", err, ErrInvalidTransition)
	}
	if to != StateDraft {
		t.Errorf("Next() on failure = %v, want unchanged %v", to, StateDraft)
	}
}

func TestLifecycle_WalkIsAllOrNothing(t *testing.T) {
	l := MustLifecycle(Transition{StateDraft, TriggerSubmit, StateSubmitted})

	got, err := l.Walk(StateDraft, TriggerSubmit, TriggerRoute)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Walk() error = %v, want %v", err, ErrInvalidTransition)
	}
	if got != StateDraft {
		t.Errorf("Walk() = %v, want %v after failure", got, StateDraft)
	}

	got, err = l.Walk(StateDraft)
	if err != nil || got != StateDraft {
		t.Errorf("Walk() with no triggers = %v, %v", got, err)
	}
}

func TestLifecycle_PermittedSorted(t *testing.T) {
	l := MustLifecycle(
		Transition{StatePendingApproval, TriggerReject, StateRejected},
		Transition{StatePendingApproval, TriggerApprove, StateApproved},
		Transition{StatePendingApproval, TriggerClarify, StateClarificationRequested},
		Transition{StateApproved, TriggerPay, StatePaid},
	)

	got := l.Permitted(StatePendingApproval)
	want := []Trigger{TriggerApprove, TriggerClarify, TriggerReject}
	if len(got) != len(want) {
		t.Fatalf("Permitted() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Permitted()[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	if n := len(l.Permitted(StateDraft)); n != 0 {
		t.Errorf("Permitted() on unconfigured state returned %d triggers", n)
	}
	if !l.Allows(StateApproved, TriggerPay) || l.Allows(StateApproved, TriggerApprove) {
		t.Error("Allows() disagrees with the table")
	}
}
