package scheduler

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var ErrRunPanicked = errors.New("payout run panicked")

// recoverRun turns a panic inside a run into an error so the timer loop survives.
func recoverRun(log *zap.Logger, runID string, errp *error) {
	r := recover()
	if r == nil {
		return
	}
	log.Error("scheduler.job.panic",
		zap.String("run_id", runID),
		zap.Any("panic", r),
		zap.Stack("stack"),
	)
	*errp = fmt.Errorf("%w: %v", ErrRunPanicked, r)
}
