package pool

import "fmt"

// State is the lifecycle state of a Pool.
//
//	Uninitialized -> Starting -> Ready <-> Scaling
//	Ready, Scaling -> ShuttingDown -> Closed
type State int

const (
	Uninitialized State = iota
	Starting
	Ready
	Scaling
	ShuttingDown
	Closed
)

var stateNames = map[State]string{
	Uninitialized: "Uninitialized",
	Starting:      "Starting",
	Ready:         "Ready",
	Scaling:       "Scaling",
	ShuttingDown:  "ShuttingDown",
	Closed:        "Closed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

var allowedTransitions = map[State][]State{
	Uninitialized: {Starting, Closed},
	Starting:      {Ready, ShuttingDown},
	Ready:         {Scaling, ShuttingDown},
	Scaling:       {Ready, ShuttingDown},
	ShuttingDown:  {Closed},
}

func canTransition(from, to State) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// acceptsTasks reports whether Submit is allowed in s.
func (s State) acceptsTasks() bool {
	return s == Ready || s == Scaling
}
