package checker

import (
	"time"

	"github.com/moira-alert/moira/internal/moira"
)

const (
	// MetricsTTL is how far back metric samples are kept once a trigger has
	// checked them (§4.F step 7), mirroring moira/config.py's METRICS_TTL.
	MetricsTTL = 3600

	// CheckpointGap widens the "already processed" boundary used to resume
	// stepping (§4.F step 9). Zero reproduces the original algorithm, which
	// resumes exactly at the previous check's timestamp with no slack.
	CheckpointGap = 0

	// DefaultCacheTTL gates the step-7 metric cleanup dedup when the caller
	// doesn't specify one, matching check()'s documented cache_ttl=60 default.
	DefaultCacheTTL = 60 * time.Second

	// minRequestWindow is the floor applied to ttl when sizing the fetch
	// context in step 5 (`max(ttl, 600)`), so triggers with a short or unset
	// TTL still get enough history to resume from their checkpoint.
	minRequestWindow = 600
)

// reminderIntervals names how often a metric stuck in the same bad state
// still gets a repeat notification even without a state transition
// (§4.F.event's "bad-state reminder interval").
var reminderIntervals = map[moira.State]int64{
	moira.StateError:  86400,
	moira.StateNoData: 86400,
}
