package loader

// State is a step of the load protocol.
type State int

const (
	// Start is the state before any check ran.
	Start State = iota
	// IntegrityChecked means the live document matched its embedded hash.
	IntegrityChecked
	// Negotiating means the embedding parent is being asked for a policy.
	Negotiating
	// Granted means the parent's policy allows this frame's scripts.
	Granted
	// Revealed is terminal: the document may be shown.
	Revealed
	// Rejected is terminal: the document must never be shown.
	Rejected
	// Reloading is terminal: a new policy was installed and the page
	// reloads to run under it.
	Reloading
)

var stateNames = map[State]string{
	Start:            "START",
	IntegrityChecked: "INTEGRITY_CHECKED",
	Negotiating:      "NEGOTIATING",
	Granted:          "GRANTED",
	Revealed:         "REVEALED",
	Rejected:         "REJECTED",
	Reloading:        "RELOADING",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == Revealed || s == Rejected || s == Reloading
}

// Strategy is what the loader does after installing a new policy.
type Strategy int

const (
	// Reload reloads the page so it runs under the new policy.
	Reload Strategy = iota
	// Confirm reads the policy back and proceeds once it matches.
	Confirm
)

func (s Strategy) String() string {
	if s == Confirm {
		return "confirm"
	}
	return "reload"
}
