package model

// transitions is the complete table of legal status changes. Re-entering
// estimate_provided is the estimate edit.
var transitions = map[Status][]Status{
	StatusPending:          {StatusEstimateProvided},
	StatusEstimateProvided: {StatusEstimateProvided, StatusAccepted, StatusDeclined},
	StatusAccepted:         {StatusInProgress},
	StatusInProgress:       {StatusCompleted},
}

// CanTransition reports whether a task may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NextStatuses returns the statuses reachable from s in one step.
func NextStatuses(s Status) []Status {
	return append([]Status(nil), transitions[s]...)
}
