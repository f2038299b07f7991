package harvest

// runState tracks where a single source's harvest loop is. Transitions are
// Idle -> Fetching -> Parsing -> Persisting -> Checkpointing, looping back to
// Fetching until the source is exhausted (Completed) or a fatal error ends
// the run (Aborted). An Aborted run resumes from its last checkpoint on the
// next invocation.
type runState int

const (
	stateIdle runState = iota
	stateFetching
	stateParsing
	statePersisting
	stateCheckpointing
	stateCompleted
	stateAborted
)

func (s runState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateFetching:
		return "fetching"
	case stateParsing:
		return "parsing"
	case statePersisting:
		return "persisting"
	case stateCheckpointing:
		return "checkpointing"
	case stateCompleted:
		return "completed"
	case stateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// terminal reports whether the state ends the run.
func (s runState) terminal() bool {
	return s == stateCompleted || s == stateAborted
}
