package workflow

import (
	"context"
	"fmt"
	"sort"
)

// GuardFunc decides whether a guarded transition may be taken
type GuardFunc func(ctx context.Context) bool

// TransitionObserver is told about every transition a machine takes
type TransitionObserver func(Transition)

// StateMachineBuilder holds a transition table and stamps out machines from it
type StateMachineBuilder interface {
	// Configure returns the configuration of one non-terminal state
	Configure(state State) StateConfiguration

	// OnTransition registers an observer copied into every machine built afterwards
	OnTransition(observer TransitionObserver) StateMachineBuilder

	// Build creates a machine positioned at initialState
	Build(initialState State) StateMachine
}

// StateConfiguration adds outgoing transitions to one state
type StateConfiguration interface {
	// Permit allows trigger to move the machine to toState
	Permit(trigger Trigger, toState State) StateConfiguration

	// PermitIf is Permit behind a guard. Several guarded transitions for one
	// trigger are tried in the order they were added.
	PermitIf(trigger Trigger, toState State, guard GuardFunc) StateConfiguration
}

type edgeKey struct {
	from    State
	trigger Trigger
}

type edge struct {
	to    State
	guard GuardFunc
}

// table maps (state, trigger) to candidate edges
type table map[edgeKey][]edge

func (t table) clone() table {
	out := make(table, len(t))
	for k, edges := range t {
		out[k] = append([]edge(nil), edges...)
	}
	return out
}

type stateMachineBuilder struct {
	edges      table
	configured map[State]*stateConfig
	observers  []TransitionObserver
}

type stateConfig struct {
	state State
	edges table
}

// NewBuilder creates an empty builder
func NewBuilder() StateMachineBuilder {
	return &stateMachineBuilder{
		edges:      make(table),
		configured: make(map[State]*stateConfig),
	}
}

// Configure panics for unknown and terminal states; both are programming errors
func (b *stateMachineBuilder) Configure(state State) StateConfiguration {
	if !state.IsValid() {
		panic(fmt.Sprintf("invalid state: %s", state))
	}
	if state.IsTerminal() {
		panic(fmt.Sprintf("terminal state cannot have transitions: %s", state))
	}

	if cfg, ok := b.configured[state]; ok {
		return cfg
	}
	cfg := &stateConfig{state: state, edges: b.edges}
	b.configured[state] = cfg
	return cfg
}

func (b *stateMachineBuilder) OnTransition(observer TransitionObserver) StateMachineBuilder {
	if observer != nil {
		b.observers = append(b.observers, observer)
	}
	return b
}

// Build gives each machine its own copy of the table, so later Configure
// calls do not change machines already built
func (b *stateMachineBuilder) Build(initialState State) StateMachine {
	if !initialState.IsValid() {
		panic(fmt.Sprintf("invalid initial state: %s", initialState))
	}

	return &stateMachine{
		current:   initialState,
		edges:     b.edges.clone(),
		observers: append([]TransitionObserver(nil), b.observers...),
	}
}

func (c *stateConfig) Permit(trigger Trigger, toState State) StateConfiguration {
	return c.PermitIf(trigger, toState, nil)
}

func (c *stateConfig) PermitIf(trigger Trigger, toState State, guard GuardFunc) StateConfiguration {
	if !toState.IsValid() {
		panic(fmt.Sprintf("invalid target state: %s", toState))
	}

	key := edgeKey{from: c.state, trigger: trigger}
	c.edges[key] = append(c.edges[key], edge{to: toState, guard: guard})
	return c
}

type stateMachine struct {
	current   State
	edges     table
	observers []TransitionObserver
	history   []Transition
}

func (m *stateMachine) State() State {
	return m.current
}

// CanFire ignores guards; they need the context Fire is given
func (m *stateMachine) CanFire(trigger Trigger) bool {
	return len(m.edges[edgeKey{from: m.current, trigger: trigger}]) > 0
}

func (m *stateMachine) Fire(ctx context.Context, trigger Trigger) error {
	if m.current.IsTerminal() {
		return fmt.Errorf("%w: %s (trigger %s)", ErrTerminalState, m.current, trigger)
	}

	edges := m.edges[edgeKey{from: m.current, trigger: trigger}]
	if len(edges) == 0 {
		return fmt.Errorf("%w: cannot fire trigger %s from state %s", ErrInvalidTransition, trigger, m.current)
	}

	for _, e := range edges {
		if e.guard != nil && !e.guard(ctx) {
			continue
		}

		t := Transition{From: m.current, Trigger: trigger, To: e.to}
		m.history = append(m.history, t)
		m.current = e.to
		for _, observe := range m.observers {
			observe(t)
		}
		return nil
	}

	return fmt.Errorf("%w: trigger %s from state %s", ErrGuardFailed, trigger, m.current)
}

// PermittedTriggers returns the configured triggers of the current state, sorted
func (m *stateMachine) PermittedTriggers() []Trigger {
	triggers := []Trigger{}
	for k := range m.edges {
		if k.from == m.current {
			triggers = append(triggers, k.trigger)
		}
	}
	sort.Slice(triggers, func(i, j int) bool { return triggers[i] < triggers[j] })
	return triggers
}

func (m *stateMachine) History() []Transition {
	return append([]Transition(nil), m.history...)
}
