package model

// JobState is the client-side lifecycle state of the session's job.
type JobState string

// Job state constants.
const (
	StateIdle     JobState = "idle"
	StateQueued   JobState = "queued"
	StateRunning  JobState = "running"
	StateFinished JobState = "finished"
	StateError    JobState = "error"
)

// Server-reported job states that end polling.
const (
	ServerStateFinished = "finished"
	ServerStateError    = "error"
)

// validTransitions maps each state to the set of states it may transition to.
// Any state may return to idle (cancel or new file), so idle is not listed.
var validTransitions = map[JobState]map[JobState]bool{
	StateIdle: {
		StateQueued: true,
		StateError:  true,
	},
	StateQueued: {
		StateRunning: true,
		StateError:   true,
	},
	StateRunning: {
		StateRunning:  true,
		StateFinished: true,
		StateError:    true,
	},
	StateFinished: {
		StateQueued: true,
		StateError:  true,
	},
	StateError: {
		StateQueued: true,
		StateError:  true,
	},
}

// ValidTransition reports whether moving from one state to another is allowed.
func ValidTransition(from, to JobState) bool {
	if to == StateIdle {
		return true
	}
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// Active reports whether a job in this state is still outstanding on the server.
func (s JobState) Active() bool {
	return s == StateQueued || s == StateRunning
}

// Terminal reports whether polling has ended for a job in this state.
func (s JobState) Terminal() bool {
	return s == StateFinished || s == StateError
}

// JobStatus is the body of GET /jobs/{id}.
type JobStatus struct {
	JobID    string  `json:"job_id,omitempty"`
	State    string  `json:"state"`
	Progress float64 `json:"progress"`
	Message  string  `json:"message,omitempty"`
}

// Job is a snapshot of the session's job.
type Job struct {
	ID          string   `json:"id,omitempty"`
	State       JobState `json:"state"`
	ServerState string   `json:"server_state,omitempty"`
	Progress    float64  `json:"progress"`
	Message     string   `json:"message"`
	HasResult   bool     `json:"has_result"`
}
