package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type terminalErr struct{ msg string }

func (e terminalErr) Error() string   { return e.msg }
func (e terminalErr) Retryable() bool { return false }

type transientErr struct{ msg string }

func (e transientErr) Error() string   { return e.msg }
func (e transientErr) Retryable() bool { return true }

func testConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    100 * time.Millisecond,
		Multiplier:  2.0,
		Jitter:      false,
	}
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.MaxAttempts != 3 {
		t.Errorf("Expected MaxAttempts=3, got %d", config.MaxAttempts)
	}

	if config.BaseDelay != time.Second {
		t.Errorf("Expected BaseDelay=1s, got %v", config.BaseDelay)
	}

	if config.Multiplier != 2.0 {
		t.Errorf("Expected Multiplier=2.0, got %f", config.Multiplier)
	}

	if config.Jitter {
		t.Error("Expected Jitter=false")
	}
}

func TestDo_Success(t *testing.T) {
	result := Do(context.Background(), testConfig(), zerolog.Nop(), func(int) error {
		return nil
	})

	if !result.Success {
		t.Error("Expected success=true")
	}

	if result.Attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", result.Attempts)
	}

	if result.LastError != nil {
		t.Errorf("Expected no error, got %v", result.LastError)
	}
}

func TestDo_EventualSuccess(t *testing.T) {
	attempts := 0
	result := Do(context.Background(), testConfig(), zerolog.Nop(), func(int) error {
		attempts++
		if attempts < 3 {
			return transientErr{"temporary failure"}
		}
		return nil
	})

	if !result.Success {
		t.Error("Expected success=true")
	}

	if result.Attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", result.Attempts)
	}

	if result.TotalDuration == 0 {
		t.Error("Expected non-zero total duration")
	}
}

func TestDo_BudgetExhausted(t *testing.T) {
	expectedError := transientErr{"persistent failure"}
	attempts := 0
	result := Do(context.Background(), testConfig(), zerolog.Nop(), func(int) error {
		attempts++
		return expectedError
	})

	if result.Success {
		t.Error("Expected success=false")
	}

	if result.Attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", result.Attempts)
	}

	if attempts != 3 {
		t.Errorf("Expected operation to run 3 times, ran %d", attempts)
	}

	if !errors.Is(result.LastError, expectedError) {
		t.Errorf("Expected last error to be %v, got %v", expectedError, result.LastError)
	}
}

func TestDo_TerminalErrorNotRetried(t *testing.T) {
	attempts := 0
	result := Do(context.Background(), testConfig(), zerolog.Nop(), func(int) error {
		attempts++
		return terminalErr{"permission denied"}
	})

	if result.Success {
		t.Error("Expected success=false")
	}

	if attempts != 1 {
		t.Errorf("Expected exactly 1 attempt for a terminal error, got %d", attempts)
	}
}

func TestDo_ContextCancellation(t *testing.T) {
	config := Config{
		MaxAttempts: 5,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    time.Second,
		Multiplier:  2.0,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	result := Do(ctx, config, zerolog.Nop(), func(int) error {
		return transientErr{"always fails"}
	})

	if result.Success {
		t.Error("Expected success=false due to context cancellation")
	}

	if !errors.Is(result.LastError, context.DeadlineExceeded) {
		t.Errorf("Expected context.DeadlineExceeded, got %v", result.LastError)
	}

	if result.Attempts > 2 {
		t.Errorf("Expected few attempts due to quick timeout, got %d", result.Attempts)
	}
}

func TestCalculateDelay(t *testing.T) {
	config := Config{
		BaseDelay:  1 * time.Second,
		MaxDelay:   10 * time.Second,
		Multiplier: 2.0,
	}

	delay0 := calculateDelay(config, 0)
	delay1 := calculateDelay(config, 1)
	delay2 := calculateDelay(config, 2)

	if delay0 != 1*time.Second {
		t.Errorf("Expected delay0=1s, got %v", delay0)
	}

	if delay1 != 2*time.Second {
		t.Errorf("Expected delay1=2s, got %v", delay1)
	}

	if delay2 != 4*time.Second {
		t.Errorf("Expected delay2=4s, got %v", delay2)
	}

	// Max delay cap
	delay10 := calculateDelay(config, 10)
	if delay10 != 10*time.Second {
		t.Errorf("Expected delay10=10s (capped), got %v", delay10)
	}
}

func TestIsRetryable(t *testing.T) {
	retryableErrors := []error{
		errors.New("connection refused"),
		errors.New("connection timeout"),
		errors.New("temporary failure"),
		errors.New("rate limit exceeded"),
		errors.New("no such host"),
		transientErr{"explicitly transient"},
	}

	for _, err := range retryableErrors {
		if !IsRetryable(err) {
			t.Errorf("Expected %v to be retryable", err)
		}
	}

	nonRetryableErrors := []error{
		errors.New("invalid input"),
		errors.New("permission denied"),
		terminalErr{"explicitly terminal"},
	}

	for _, err := range nonRetryableErrors {
		if IsRetryable(err) {
			t.Errorf("Expected %v to NOT be retryable", err)
		}
	}

	if IsRetryable(nil) {
		t.Error("Expected nil error to NOT be retryable")
	}
}
