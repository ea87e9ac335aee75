package domain

// Status is the lifecycle state of a Transfer.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

var allowedTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusProcessing: true,
		StatusCompleted:  true,
		StatusFailed:     true,
		StatusCancelled:  true,
	},
	StatusProcessing: {
		StatusCompleted: true,
		StatusFailed:    true,
		StatusCancelled: true,
	},
}

// IsTerminal reports whether no further transition is permitted from s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to Status) bool {
	return allowedTransitions[from][to]
}

// TransitionDecision is the outcome of evaluating an event against the current status.
type TransitionDecision int

const (
	// DecisionApply means the transition is legal and should be written.
	DecisionApply TransitionDecision = iota
	// DecisionNoop means the transfer already holds the target status.
	DecisionNoop
	// DecisionAnomaly means the event conflicts with a terminal status or an illegal edge.
	DecisionAnomaly
	// DecisionDefer means the event is ahead of a step the ledger has not recorded yet.
	// It may become applicable later, so it must not be marked as processed.
	DecisionDefer
)

func (d TransitionDecision) String() string {
	switch d {
	case DecisionApply:
		return "apply"
	case DecisionNoop:
		return "noop"
	case DecisionDefer:
		return "defer"
	default:
		return "anomaly"
	}
}

// DecideTransition evaluates a requested target status for a transfer.
// Outbound BTC payouts may only complete after execution moved them to processing.
func DecideTransition(t *Transfer, target Status) TransitionDecision {
	if t.Status == target {
		return DecisionNoop
	}
	if t.Status.IsTerminal() {
		return DecisionAnomaly
	}
	if t.IsBTCPayout() && t.Status == StatusPending && (target == StatusCompleted || target == StatusProcessing) {
		// processing is entered only through ExecutePayout, completion only after it.
		return DecisionDefer
	}
	if !CanTransition(t.Status, target) {
		return DecisionAnomaly
	}
	return DecisionApply
}
