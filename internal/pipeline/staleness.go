package pipeline

import (
	"time"

	"github.com/Janar2510/driveapipe-app/model"
)

// DefaultStaleThresholdDays is the number of days a deal may sit in one stage
// before it is considered stale.
const DefaultStaleThresholdDays = 14

const day = 24 * time.Hour

// DaysBetween returns the whole number of calendar days from a to b. Both
// instants are reduced to their UTC date first, so 23:59 to 00:01 on the next
// day counts as one day. The result is negative when b is before a.
func DaysBetween(a, b time.Time) int {
	return int(utcDate(b).Sub(utcDate(a)) / day)
}

func utcDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// IsStale reports whether the deal has not changed stage for more than
// thresholdDays. A deal without history is never stale. The threshold is
// taken as given, so callers resolve defaults first (see Engine.staleDays).
func IsStale(deal model.Deal, thresholdDays int, now time.Time) bool {
	last, ok := deal.LastHistory()
	if !ok {
		return false
	}
	return DaysBetween(last.Date, now) > thresholdDays
}

// StaleDeals returns the deals of the pipeline that are stale at now, in
// stage order.
func StaleDeals(p model.Pipeline, thresholdDays int, now time.Time) []model.Deal {
	var out []model.Deal
	for _, s := range p.Stages {
		for _, d := range s.Deals {
			if IsStale(d, thresholdDays, now) {
				out = append(out, d)
			}
		}
	}
	return out
}
