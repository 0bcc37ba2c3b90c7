package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config configures retry behavior with exponential backoff
type Config struct {
	MaxAttempts int           `json:"max_attempts"` // Total attempts including the first (default: 3)
	BaseDelay   time.Duration `json:"base_delay"`   // Delay before the first retry (default: 1s)
	MaxDelay    time.Duration `json:"max_delay"`    // Cap on the delay between retries (default: 30s)
	Multiplier  float64       `json:"multiplier"`   // Exponential backoff multiplier (default: 2.0)
	Jitter      bool          `json:"jitter"`       // Add random jitter to prevent thundering herd
}

// Result contains information about the retry operation
type Result struct {
	Attempts      int           `json:"attempts"`       // Total number of attempts made
	TotalDuration time.Duration `json:"total_duration"` // Total time spent on all attempts
	LastError     error         `json:"-"`              // Last error encountered
	Success       bool          `json:"success"`        // Whether the operation eventually succeeded
}

// DefaultConfig returns a retry configuration with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
		Jitter:      false,
	}
}

// Retryable marks an error as explicitly retryable or terminal. Errors that
// do not implement it fall back to the string heuristics in IsRetryable.
type Retryable interface {
	Retryable() bool
}

// Do executes an operation with exponential backoff. A terminal (non-retryable)
// error aborts immediately; retryable errors are retried until the attempt
// budget is exhausted. The backoff delay is applied before each retry, never
// after the final attempt.
func Do(ctx context.Context, config Config, logger zerolog.Logger, operation func(attempt int) error) Result {
	startTime := time.Now()

	result := Result{}

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		result.Attempts = attempt

		err := operation(attempt)
		if err == nil {
			result.Success = true
			result.TotalDuration = time.Since(startTime)
			if attempt > 1 {
				logger.Info().Int("attempts", attempt).Dur("total", result.TotalDuration).
					Msg("operation succeeded after retries")
			}
			return result
		}

		result.LastError = err

		if !IsRetryable(err) {
			result.TotalDuration = time.Since(startTime)
			logger.Warn().Int("attempt", attempt).Err(err).Msg("terminal error, not retrying")
			return result
		}

		if attempt >= config.MaxAttempts {
			result.TotalDuration = time.Since(startTime)
			logger.Warn().Int("attempts", attempt).Err(err).Msg("retry budget exhausted")
			return result
		}

		delay := calculateDelay(config, attempt-1)
		logger.Warn().Int("attempt", attempt).Int("max_attempts", config.MaxAttempts).
			Dur("backoff", delay).Err(err).Msg("retryable failure, backing off")

		select {
		case <-ctx.Done():
			result.LastError = ctx.Err()
			result.TotalDuration = time.Since(startTime)
			return result
		case <-time.After(delay):
		}
	}

	result.TotalDuration = time.Since(startTime)
	return result
}

// calculateDelay calculates the delay before retry number attempt+1 using
// exponential backoff: baseDelay * multiplier^attempt, capped at MaxDelay.
func calculateDelay(config Config, attempt int) time.Duration {
	delay := float64(config.BaseDelay) * math.Pow(config.Multiplier, float64(attempt))

	if config.MaxDelay > 0 && delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}

	if config.Jitter {
		// Up to 10% random jitter in either direction
		jitterRange := delay * 0.1
		delay += (rand.Float64() - 0.5) * 2 * jitterRange
		if delay < 0 {
			delay = float64(config.BaseDelay)
		}
	}

	return time.Duration(delay)
}

// IsRetryable determines if an error is worth retrying
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var r Retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}

	errStr := strings.ToLower(err.Error())

	// Network-level failures that are typically transient
	retryableErrors := []string{
		"connection refused",
		"connection reset",
		"timeout",
		"temporary failure",
		"service unavailable",
		"too many requests",
		"rate limit",
		"no such host",
		"network unreachable",
		"broken pipe",
		"eof",
	}

	for _, retryable := range retryableErrors {
		if strings.Contains(errStr, retryable) {
			return true
		}
	}

	return false
}
