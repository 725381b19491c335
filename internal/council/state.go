package council

import "fmt"

// State is a pipeline run's position in its lifecycle.
type State int

const (
	Idle State = iota
	Stage1Running
	Stage2Running
	Stage3Running
	Complete
	Failed
)

var stateNames = [...]string{
	Idle:          "idle",
	Stage1Running: "stage1_running",
	Stage2Running: "stage2_running",
	Stage3Running: "stage3_running",
	Complete:      "complete",
	Failed:        "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// Stage1Running may fail when no council member answered, Stage2Running
// only when the caller goes away at the stage boundary.
var transitions = map[State][]State{
	Idle:          {Stage1Running, Failed},
	Stage1Running: {Stage2Running, Failed},
	Stage2Running: {Stage3Running, Failed},
	Stage3Running: {Complete, Failed},
}

// TransitionError reports an attempt to move between states out of order.
type TransitionError struct {
	From, To State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal pipeline transition %s -> %s", e.From, e.To)
}

type machine struct {
	state    State
	observer func(State)
}

func (m *machine) to(next State) error {
	for _, allowed := range transitions[m.state] {
		if allowed == next {
			m.state = next
			if m.observer != nil {
				m.observer(next)
			}
			return nil
		}
	}
	return &TransitionError{From: m.state, To: next}
}
