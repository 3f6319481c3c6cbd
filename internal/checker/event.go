package checker

import (
	"fmt"

	"github.com/moira-alert/moira/internal/moira"
)

// transition is the generic shape both per-metric and trigger-level state
// objects share for event-emission purposes: a current/previous state pair
// plus the previous event bookkeeping (§4.F.event).
type transition struct {
	CurrentState   moira.State
	PreviousState  moira.State
	EventTimestamp int64 // previous event_timestamp, 0 if never set
	Suppressed     bool  // previous suppressed flag
}

// emission is what decideEmission resolved: whether to push a Store event,
// and the new suppressed/event_timestamp/message to persist on the state.
type emission struct {
	Push           bool
	Suppressed     bool
	EventTimestamp int64
	Message        string
}

// decideEmission implements §4.F.event. It does not mutate anything itself —
// callers apply the returned emission to their own MetricState/LastCheck and
// push a moira.Event through the Store when Push is true.
func decideEmission(tr transition, timestamp int64, sched *moira.Schedule, triggerMaintenance, stateMaintenance int64) emission {
	message := ""

	if tr.CurrentState == tr.PreviousState {
		interval, hasInterval := reminderIntervals[tr.CurrentState]
		prevEventTS := tr.EventTimestamp
		if prevEventTS == 0 {
			prevEventTS = timestamp
		}
		reminded := hasInterval && timestamp-prevEventTS >= interval

		if !reminded && (!tr.Suppressed || tr.CurrentState == moira.StateOK) {
			return emission{Push: false, Suppressed: tr.Suppressed, EventTimestamp: tr.EventTimestamp}
		}
		if reminded {
			message = fmt.Sprintf("This metric has been in bad state for more than %d hours - please, fix.", interval/3600)
		}
	}

	out := emission{EventTimestamp: timestamp, Message: message}

	if sched != nil && !ScheduleAllows(sched, timestamp) {
		out.Suppressed = true
		return out
	}

	switch {
	case triggerMaintenance >= timestamp:
		out.Suppressed = true
	case stateMaintenance >= timestamp:
		out.Suppressed = true
	default:
		out.Push = true
	}
	return out
}
