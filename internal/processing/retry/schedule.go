package retry

import (
	"errors"
	"fmt"
	"time"
)

// Schedule is a fixed, ascending table of retry delays. The n-th failure of a
// job waits Schedule[n-1]; failures beyond the table dead-letter the job.
type Schedule []time.Duration

// DefaultSchedule returns 1s, 5s, 15s, 30s, 60s.
func DefaultSchedule() Schedule {
	return Schedule{
		1 * time.Second,
		5 * time.Second,
		15 * time.Second,
		30 * time.Second,
		60 * time.Second,
	}
}

// Delay returns the wait before the attempt following the retryCount-th failure.
func (s Schedule) Delay(retryCount int) time.Duration {
	if len(s) == 0 {
		return 0
	}
	i := retryCount - 1
	if i < 0 {
		i = 0
	}
	if i > len(s)-1 {
		i = len(s) - 1
	}
	return s[i]
}

// Exhausted reports whether retryCount failures exceed the retry budget.
func (s Schedule) Exhausted(retryCount int) bool {
	return retryCount > len(s)
}

// Validate checks the table is non-empty, positive and non-decreasing.
func (s Schedule) Validate() error {
	if len(s) == 0 {
		return errors.New("backoff schedule is empty")
	}
	for i, d := range s {
		if d <= 0 {
			return fmt.Errorf("backoff delay %d must be positive, got %s", i, d)
		}
		if i > 0 && d < s[i-1] {
			return fmt.Errorf("backoff delay %d (%s) is shorter than the previous one (%s)", i, d, s[i-1])
		}
	}
	return nil
}
