package login

import "sync"

// State is the controller's position in the sign-in flow
type State int

const (
	StateNotStarted State = iota
	StateViewSelected
	StateCredentialsFilled
	StateSubmitted
	StateChallengePending
	StateAuthCaptured
	StateArtifactReady
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateViewSelected:
		return "view_selected"
	case StateCredentialsFilled:
		return "credentials_filled"
	case StateSubmitted:
		return "submitted"
	case StateChallengePending:
		return "challenge_pending"
	case StateAuthCaptured:
		return "auth_captured"
	case StateArtifactReady:
		return "artifact_ready"
	case StateTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// ChallengeState tracks the device-bind modal for one controller.
// inProgress doubles as the handler's lock; both flags reset when the modal goes away.
type ChallengeState struct {
	mu         sync.Mutex
	inProgress bool
	completed  bool
}

// begin claims the handler. It fails while another attempt runs or after completion.
func (c *ChallengeState) begin() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inProgress || c.completed {
		return false
	}
	c.inProgress = true
	return true
}

func (c *ChallengeState) finish(completed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inProgress = false
	c.completed = completed
}

func (c *ChallengeState) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inProgress = false
	c.completed = false
}

// Completed reports whether the current modal was resolved
func (c *ChallengeState) Completed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.completed
}

// InProgress reports whether a resolution attempt is running
func (c *ChallengeState) InProgress() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inProgress
}
