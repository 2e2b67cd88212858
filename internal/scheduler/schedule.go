package scheduler

import (
	"time"

	"github.com/smallbiznis/boxoffice/internal/config"
)

// NextRunAfter returns the first daily run time strictly after after, in UTC.
// The wall-clock time is taken in the policy's timezone, so a DST shift moves
// the UTC instant rather than the local one.
func NextRunAfter(policy config.PayoutPolicy, after time.Time) (time.Time, error) {
	hour, minute, err := policy.DailyTime()
	if err != nil {
		return time.Time{}, err
	}
	local := after.In(policy.Location())
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, local.Location())
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, hour, minute, 0, 0, local.Location())
	}
	return next.UTC(), nil
}
