package eval

import (
	"strconv"
	"strings"

	"github.com/moira-alert/moira/internal/moira"
)

// bootstrapDeltaSeconds resolves a movingAverage/movingMedian window
// argument (a point count or a "10min"-style duration) into a lookback in
// seconds, using seriesArg's step when the window names a duration.
func bootstrapDeltaSeconds(windowArg, seriesArg moira.Value) int64 {
	step := int64(60)
	if len(seriesArg.Series) > 0 && seriesArg.Series[0].Step > 0 {
		step = seriesArg.Series[0].Step
	}

	switch windowArg.Kind {
	case moira.KindNumber:
		return int64(windowArg.Number) * step
	case moira.KindString:
		seconds, ok := parseDurationSeconds(windowArg.Str)
		if !ok {
			return 0
		}
		return seconds
	default:
		return 0
	}
}

func parseDurationSeconds(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 {
		return 0, false
	}
	n, err := strconv.ParseInt(s[:i], 10, 64)
	if err != nil {
		return 0, false
	}
	unit := s[i:]
	switch {
	case strings.HasPrefix(unit, "s"):
		return n, true
	case strings.HasPrefix(unit, "min") || unit == "m":
		return n * 60, true
	case strings.HasPrefix(unit, "h"):
		return n * 3600, true
	case strings.HasPrefix(unit, "d"):
		return n * 86400, true
	default:
		return 0, false
	}
}
