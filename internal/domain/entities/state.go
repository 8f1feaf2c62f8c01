package entities

// IngestState is the position of a file in the ingestion state machine.
//
//	received -> parsing -> chunking -> embedding -> stored
//	any non-terminal state -> failed
type IngestState string

const (
	StateReceived  IngestState = "received"
	StateParsing   IngestState = "parsing"
	StateChunking  IngestState = "chunking"
	StateEmbedding IngestState = "embedding"
	StateStored    IngestState = "stored"
	StateFailed    IngestState = "failed"
)

var nextState = map[IngestState]IngestState{
	StateReceived:  StateParsing,
	StateParsing:   StateChunking,
	StateChunking:  StateEmbedding,
	StateEmbedding: StateStored,
}

// Terminal reports whether no further transition is possible.
func (s IngestState) Terminal() bool {
	return s == StateStored || s == StateFailed
}

// Valid reports whether s is a known state.
func (s IngestState) Valid() bool {
	switch s {
	case StateReceived, StateParsing, StateChunking, StateEmbedding, StateStored, StateFailed:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to to is allowed.
// Transitions only go forward; there is no retry in place.
func (s IngestState) CanTransition(to IngestState) bool {
	if s.Terminal() || !s.Valid() {
		return false
	}
	if to == StateFailed {
		return true
	}
	return nextState[s] == to
}

// Status maps a state onto the coarse file status.
func (s IngestState) Status() FileStatus {
	switch s {
	case StateStored:
		return StatusProcessed
	case StateFailed:
		return StatusFailed
	default:
		return StatusPending
	}
}
