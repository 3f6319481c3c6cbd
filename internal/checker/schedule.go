package checker

import (
	"time"

	"github.com/moira-alert/moira/internal/moira"
)

// ScheduleAllows reports whether ts falls inside sched's configured weekly
// window ("Schedule semantics", §4.F). A nil schedule always allows.
func ScheduleAllows(sched *moira.Schedule, ts int64) bool {
	if sched == nil {
		return true
	}

	local := ts - ts%60 - sched.TimezoneOffset*60
	t := time.Unix(local, 0).UTC()

	day := (int(t.Weekday()) + 6) % 7 // Sunday=0 -> Monday=0
	if !sched.Days[day].Enabled {
		return false
	}

	dayStart := local - local%86400
	if local < dayStart+sched.StartOffset*60 {
		return false
	}
	if local > dayStart+sched.EndOffset*60 {
		return false
	}
	return true
}
