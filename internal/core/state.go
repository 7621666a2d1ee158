package core

// Job states. A job moves Queued → Processing → terminal, with
// Processing → Queued allowed for bounded retries.
const (
	StateQueued     = "queued"
	StateProcessing = "processing"
	StateCompleted  = "completed"
	StateFailed     = "failed"
	StateExhausted  = "exhausted"
	StateCancelled  = "cancelled"
)

// validTransitions defines the allowed state transitions. Queued → Exhausted
// covers a job whose maximum quota wait elapsed before it could run.
var validTransitions = map[string][]string{
	StateQueued:     {StateProcessing, StateCancelled, StateExhausted},
	StateProcessing: {StateCompleted, StateFailed, StateExhausted, StateQueued},
	StateCompleted:  {},
	StateFailed:     {},
	StateExhausted:  {},
	StateCancelled:  {},
}

// IsValidTransition checks if a state transition is allowed.
func IsValidTransition(from, to string) bool {
	for _, t := range validTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// IsTerminalState returns true if the state is terminal. Terminal jobs are
// immutable and eligible for archival by an external collaborator.
func IsTerminalState(state string) bool {
	switch state {
	case StateCompleted, StateFailed, StateExhausted, StateCancelled:
		return true
	}
	return false
}

// IsCancellableState returns true if the job can still be cancelled. Only
// queued jobs are cancellable: once a worker holds the lease the external
// call may already be in flight and cancellation is not preemptive.
func IsCancellableState(state string) bool {
	return state == StateQueued
}
