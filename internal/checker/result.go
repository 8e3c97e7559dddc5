package checker

import "time"

// Status represents the health state of a service.
type Status string

const (
	StatusUp   Status = "up"
	StatusDown Status = "down"
)

// CheckResult is the outcome of a single health check.
type CheckResult struct {
	ServiceID   uint64
	ServiceName string
	Status      Status
	Duration    time.Duration
	Error       string
	CheckedAt   time.Time
}

// OK reports whether the check command exited with status zero.
func (r CheckResult) OK() bool {
	return r.Status == StatusUp
}
