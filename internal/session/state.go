package session

// State is the session's connection state.
type State int

// Session states.
const (
	Disconnected State = iota
	Connecting
	ConnectedUnauthenticated
	Authenticated
	Reconnecting
	Stopped
)

var stateNames = [...]string{
	Disconnected:             "disconnected",
	Connecting:               "connecting",
	ConnectedUnauthenticated: "connected_unauthenticated",
	Authenticated:            "authenticated",
	Reconnecting:             "reconnecting",
	Stopped:                  "stopped",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "invalid"
	}
	return stateNames[s]
}

// transitions lists the allowed successors of each state. Stopped has none.
var transitions = map[State][]State{
	Disconnected:             {Connecting, Stopped},
	Connecting:               {ConnectedUnauthenticated, Reconnecting, Disconnected, Stopped},
	ConnectedUnauthenticated: {Authenticated, Reconnecting, Disconnected, Stopped},
	Authenticated:            {Reconnecting, Disconnected, Stopped},
	Reconnecting:             {Connecting, Disconnected, Stopped},
	Stopped:                  {},
}

// CanTransition reports whether the table allows moving from s to next.
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
