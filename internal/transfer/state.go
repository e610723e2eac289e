package transfer

// Direction tells whether this node sends or receives a transfer.
type Direction uint8

const (
	Outgoing Direction = iota
	Incoming
)

func (d Direction) String() string {
	switch d {
	case Outgoing:
		return "outgoing"
	case Incoming:
		return "incoming"
	default:
		return "unknown"
	}
}

// State is a transfer's lifecycle position. Outgoing transfers move
// Idle → Announced → Streaming → Completed | Aborted. Incoming transfers move
// WaitingMetadata → Receiving → Completed | Aborted.
type State uint8

const (
	StateIdle State = iota
	StateAnnounced
	StateStreaming
	StateWaitingMetadata
	StateReceiving
	StateCompleted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAnnounced:
		return "announced"
	case StateStreaming:
		return "streaming"
	case StateWaitingMetadata:
		return "waiting-metadata"
	case StateReceiving:
		return "receiving"
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateAborted
}

var transitions = map[State][]State{
	StateIdle:            {StateAnnounced, StateAborted},
	StateAnnounced:       {StateStreaming, StateAborted},
	StateStreaming:       {StateCompleted, StateAborted},
	StateWaitingMetadata: {StateReceiving, StateAborted},
	StateReceiving:       {StateCompleted, StateAborted},
}

func (s State) canTransition(to State) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

func initialState(d Direction) State {
	if d == Incoming {
		return StateWaitingMetadata
	}
	return StateIdle
}
