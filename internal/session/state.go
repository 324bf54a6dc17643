package session

import "fmt"

// State is the controller's position in the session machine. Only the
// controller loop writes it.
type State int

const (
	Idle State = iota
	Connecting
	Listening
	Processing
	Speaking
)

var stateNames = map[State]string{
	Idle:       "idle",
	Connecting: "connecting",
	Listening:  "listening",
	Processing: "processing",
	Speaking:   "speaking",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	for st, n := range stateNames {
		if n == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown session state %q", b)
}
