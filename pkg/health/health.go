package health

import (
	"context"
	"time"
)

// CheckType represents the type of health check
type CheckType string

const (
	CheckTypeTCP CheckType = "tcp"
	CheckTypeDNS CheckType = "dns"
)

// Result represents the outcome of a health check
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration

	// Err is the underlying failure, nil when Healthy
	Err error
}

// Checker is the interface that all health checkers must implement
type Checker interface {
	// Check performs the health check and returns the result
	Check(ctx context.Context) Result

	// Type returns the type of health check
	Type() CheckType
}

func healthy(start time.Time, msg string) Result {
	return Result{
		Healthy:   true,
		Message:   msg,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

func unhealthy(start time.Time, msg string, err error) Result {
	return Result{
		Healthy:   false,
		Message:   msg,
		CheckedAt: start,
		Duration:  time.Since(start),
		Err:       err,
	}
}
