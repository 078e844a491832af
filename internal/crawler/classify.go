package crawler

import "github.com/JakeFAU/crawlengine/internal/job"

// Action is what the engine does with a classified outcome.
type Action int

// Actions.
const (
	ActionHandle Action = iota
	ActionRetry
	ActionDrop
)

func (a Action) String() string {
	switch a {
	case ActionHandle:
		return "handle"
	case ActionRetry:
		return "retry"
	case ActionDrop:
		return "drop"
	default:
		return "unknown"
	}
}

// Drop reasons, also used as metric labels.
const (
	ReasonStopCode     = "stop code"
	ReasonCancelled    = "cancelled"
	ReasonMaxRetries   = "max retries reached"
	ReasonNoHandler    = "no handler"
	ReasonRequeueError = "requeue failed"
)

// Verdict is the classification of one attempt.
type Verdict struct {
	Action Action
	Reason string
}

// Classify decides the fate of a job whose attempt number attempt ended with r.
func Classify(r Result, attempt, maxTries int) Verdict {
	switch r.Kind {
	case OutcomeSuccess:
		return Verdict{Action: ActionHandle}
	case OutcomeCancelled:
		return Verdict{Action: ActionDrop, Reason: ReasonCancelled}
	}
	if job.IsStop(r.Err) {
		return Verdict{Action: ActionDrop, Reason: ReasonStopCode}
	}
	if attempt < maxTries {
		return Verdict{Action: ActionRetry}
	}
	return Verdict{Action: ActionDrop, Reason: ReasonMaxRetries}
}

// outcomeLabel separates stop-class failures from ordinary ones for metrics.
func outcomeLabel(r Result) string {
	if r.Kind == OutcomeFailure && job.IsStop(r.Err) {
		return "stop"
	}
	return r.Kind.String()
}
