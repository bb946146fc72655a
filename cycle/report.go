package cycle

import (
	"time"

	"github.com/ahmed-com/tickclock"
)

// Group outcomes reported for a cycle
const (
	OutcomeRunning   = "running"
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeCanceled  = "canceled"
)

// Report provides detailed information about one tick cycle
type Report struct {
	CycleID      string
	Seq          int64
	StartTime    time.Time
	EndTime      *time.Time
	TaskReports  []*TaskReport
	GroupOutcome string
}

// TaskReport provides detailed information about one listener's run
type TaskReport struct {
	Listener     string
	Status       tickclock.TaskStatus
	StartTime    *time.Time
	Duration     time.Duration
	ErrorMessage string
}

// Failed returns the reports of listeners that faulted
func (r *Report) Failed() []*TaskReport {
	var failed []*TaskReport
	for _, tr := range r.TaskReports {
		if tr.Status == tickclock.TaskStatusFailed {
			failed = append(failed, tr)
		}
	}
	return failed
}

func groupOutcome(reports []*TaskReport) string {
	outcome := OutcomeCompleted
	for _, tr := range reports {
		switch tr.Status {
		case tickclock.TaskStatusPending, tickclock.TaskStatusRunning:
			return OutcomeRunning
		case tickclock.TaskStatusFailed:
			outcome = OutcomeFailed
		case tickclock.TaskStatusCanceled:
			if outcome == OutcomeCompleted {
				outcome = OutcomeCanceled
			}
		}
	}
	return outcome
}
