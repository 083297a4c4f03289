package backends

// State is the health state of a backend.
type State string

const (
	StateHealthy State = "healthy"
	StateSuspect State = "suspect"
	StateDown    State = "down"
)

// Value returns the gauge value of a state: 0 healthy, 1 suspect, 2 down.
func (s State) Value() float64 {
	switch s {
	case StateSuspect:
		return 1
	case StateDown:
		return 2
	default:
		return 0
	}
}

// event is an input to the health state machine.
type event int

const (
	// eventSuccess is a non-5xx upstream response.
	eventSuccess event = iota

	// eventFailure is a timeout, connection error or 5xx below the threshold.
	eventFailure

	// eventThreshold is a failure that brings consecutive failures to the
	// configured threshold or beyond.
	eventThreshold

	// eventCooldown fires on read when a down backend's last failure is
	// older than the cooldown.
	eventCooldown
)

type transitionKey struct {
	from  State
	event event
}

// transitions is the complete health state machine. A missing entry leaves
// the state unchanged.
var transitions = map[transitionKey]State{
	{StateHealthy, eventSuccess}:   StateHealthy,
	{StateHealthy, eventFailure}:   StateSuspect,
	{StateHealthy, eventThreshold}: StateDown,

	{StateSuspect, eventSuccess}:   StateHealthy,
	{StateSuspect, eventFailure}:   StateSuspect,
	{StateSuspect, eventThreshold}: StateDown,

	// A down backend only leaves via cooldown; late results from requests
	// sent before it went down do not revive it.
	{StateDown, eventSuccess}:   StateDown,
	{StateDown, eventFailure}:   StateDown,
	{StateDown, eventThreshold}: StateDown,
	{StateDown, eventCooldown}:  StateSuspect,
}

func next(from State, ev event) State {
	if to, ok := transitions[transitionKey{from, ev}]; ok {
		return to
	}
	return from
}
