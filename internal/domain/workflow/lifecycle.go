package workflow

import (
	"fmt"
	"sort"
)

// Transition is one edge of a lifecycle: Trigger moves a request from From to To.
type Transition struct {
	From    State
	Trigger Trigger
	To      State
}

type edge struct {
	from    State
	trigger Trigger
}

// Lifecycle is an immutable transition table. It is safe for concurrent use.
type Lifecycle struct {
	next map[edge]State
}

// NewLifecycle compiles a transition table. Unknown states, transitions out
// of terminal states and duplicate edges are rejected.
func NewLifecycle(transitions ...Transition) (*Lifecycle, error) {
	l := &Lifecycle{next: make(map[edge]State, len(transitions))}
	for _, t := range transitions {
		if !t.From.IsValid() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidState, t.From)
		}
		if !t.To.IsValid() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidState, t.To)
		}
		if t.From.IsTerminal() {
			return nil, fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, t.From)
		}
		k := edge{t.From, t.Trigger}
		if prev, dup := l.next[k]; dup {
			return nil, fmt.Errorf("duplicate transition %s --%s--> %s (already goes to %s)", t.From, t.Trigger, t.To, prev)
		}
		l.next[k] = t.To
	}
	return l, nil
}

// MustLifecycle is NewLifecycle for package-level tables.
func MustLifecycle(transitions ...Transition) *Lifecycle {
	l, err := NewLifecycle(transitions...)
	if err != nil {
		panic(err)
	}
	return l
}

// Next returns the state trigger leads to from the given state.
func (l *Lifecycle) Next(from State, trigger Trigger) (State, error) {
	to, ok := l.next[edge{from, trigger}]
	if !ok {
		return from, fmt.Errorf("%w: cannot %s from %s", ErrInvalidTransition, trigger, from)
	}
	return to, nil
}

// Walk applies triggers in order and returns the final state. Nothing is
// partially applied: on error the returned state is from.
func (l *Lifecycle) Walk(from State, triggers ...Trigger) (State, error) {
	cur := from
	for _, trigger := range triggers {
		to, err := l.Next(cur, trigger)
		if err != nil {
			return from, err
		}
		cur = to
	}
	return cur, nil
}

// Allows reports whether trigger is defined for the state.
func (l *Lifecycle) Allows(from State, trigger Trigger) bool {
	_, ok := l.next[edge{from, trigger}]
	return ok
}

// Permitted lists the triggers available from a state, sorted.
func (l *Lifecycle) Permitted(from State) []Trigger {
	var out []Trigger
	for k := range l.next {
		if k.from == from {
			out = append(out, k.trigger)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
