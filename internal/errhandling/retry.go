// Package errhandling provides retry configuration and mechanism for source downloads.
// This file defines retry configuration parsing, validation, and delay calculation.
package errhandling

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// Default retry configuration values
const (
	DefaultMaxAttempts       = 3
	DefaultDelayMs           = 1000
	DefaultBackoffMultiplier = 2.0
	DefaultMaxDelayMs        = 30000
	MaxRetryAttempts         = 10
	MinBackoffMultiplier     = 1.0
)

// RetryConfig holds retry configuration for downloads.
type RetryConfig struct {
	// MaxAttempts is the maximum number of retry attempts (0 = no retry).
	// Default: 3, Max: 10
	MaxAttempts int `yaml:"maxAttempts" json:"maxAttempts"`

	// DelayMs is the initial delay between retries in milliseconds.
	// Default: 1000
	DelayMs int `yaml:"delayMs" json:"delayMs"`

	// BackoffMultiplier is the multiplier for exponential backoff.
	// Default: 2.0, Min: 1.0
	BackoffMultiplier float64 `yaml:"backoffMultiplier" json:"backoffMultiplier"`

	// MaxDelayMs is the maximum delay between retries in milliseconds.
	// Default: 30000
	MaxDelayMs int `yaml:"maxDelayMs" json:"maxDelayMs"`
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       DefaultMaxAttempts,
		DelayMs:           DefaultDelayMs,
		BackoffMultiplier: DefaultBackoffMultiplier,
		MaxDelayMs:        DefaultMaxDelayMs,
	}
}

// Validate validates the retry configuration.
// Returns an error if any value is out of valid range.
func (c RetryConfig) Validate() error {
	if c.MaxAttempts < 0 {
		return errors.New("maxAttempts must be >= 0")
	}
	if c.MaxAttempts > MaxRetryAttempts {
		return fmt.Errorf("maxAttempts must be <= %d", MaxRetryAttempts)
	}
	if c.DelayMs < 0 {
		return errors.New("delayMs must be >= 0")
	}
	if c.BackoffMultiplier < MinBackoffMultiplier {
		return fmt.Errorf("backoffMultiplier must be >= %v", MinBackoffMultiplier)
	}
	if c.MaxDelayMs < 0 {
		return errors.New("maxDelayMs must be >= 0")
	}
	return nil
}

// CalculateDelay calculates the retry delay for a given attempt using exponential backoff.
// The formula is: min(delayMs * (backoffMultiplier ^ attempt), maxDelayMs)
func (c RetryConfig) CalculateDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delayMs := float64(c.DelayMs) * math.Pow(c.BackoffMultiplier, float64(attempt))
	if delayMs > float64(c.MaxDelayMs) {
		delayMs = float64(c.MaxDelayMs)
	}

	return time.Duration(delayMs) * time.Millisecond
}

// ShouldRetry determines if a retry should be attempted based on the attempt number and error.
// Returns false if:
//   - Error is nil
//   - MaxAttempts is 0 (retries disabled)
//   - Current attempt >= MaxAttempts
//   - Error is not retryable
func (c RetryConfig) ShouldRetry(attempt int, err error) bool {
	if err == nil || c.MaxAttempts == 0 || attempt >= c.MaxAttempts {
		return false
	}
	return IsRetryable(err)
}

// ParseRetryConfig parses retry configuration from a map.
// Missing values are filled with defaults.
func ParseRetryConfig(m map[string]interface{}) RetryConfig {
	config := DefaultRetryConfig()
	if m == nil {
		return config
	}

	if maxAttempts, ok := getInt(m, "maxAttempts"); ok {
		config.MaxAttempts = maxAttempts
	}
	if delayMs, ok := getInt(m, "delayMs"); ok {
		config.DelayMs = delayMs
	}
	if backoffMultiplier, ok := getFloat(m, "backoffMultiplier"); ok {
		config.BackoffMultiplier = backoffMultiplier
	}
	if maxDelayMs, ok := getInt(m, "maxDelayMs"); ok {
		config.MaxDelayMs = maxDelayMs
	}

	return config
}

func getInt(m map[string]interface{}, key string) (int, bool) {
	switch v := m[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

func getFloat(m map[string]interface{}, key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// ============================
// Retry Executor
// ============================

// RetryFunc is a function that can be retried.
type RetryFunc func(ctx context.Context) error

// RetryInfo contains information about retry attempts.
type RetryInfo struct {
	// TotalAttempts is the total number of attempts made.
	TotalAttempts int

	// RetryCount is the number of retries (TotalAttempts - 1).
	RetryCount int

	// TotalDuration is the total time spent including retries.
	TotalDuration time.Duration

	// Delays is the list of delays between retries.
	Delays []time.Duration

	// Errors is the list of errors encountered during retries.
	Errors []error
}

// RetryExecutor executes functions with retry logic.
type RetryExecutor struct {
	config    RetryConfig
	retryInfo RetryInfo

	// sleep is replaced in tests
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetryExecutor creates a new retry executor with the given configuration.
func NewRetryExecutor(config RetryConfig) *RetryExecutor {
	return &RetryExecutor{config: config, sleep: sleepContext}
}

// Execute runs the given function with retry logic.
// It retries on transient errors up to MaxAttempts times.
// The callback, if non-nil, is called after every failed attempt with the
// delay that precedes the next one (0 when no retry follows).
func (e *RetryExecutor) Execute(ctx context.Context, fn RetryFunc, callback func(attempt int, err error, nextDelay time.Duration)) error {
	startTime := time.Now()
	e.retryInfo = RetryInfo{}
	defer func() {
		e.retryInfo.RetryCount = e.retryInfo.TotalAttempts - 1
		e.retryInfo.TotalDuration = time.Since(startTime)
	}()

	var lastErr error
	for attempt := 0; attempt <= e.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return ClassifyNetworkError(err)
		}

		e.retryInfo.TotalAttempts = attempt + 1
		err := fn(ctx)
		if err == nil {
			return nil
		}

		lastErr = err
		e.retryInfo.Errors = append(e.retryInfo.Errors, err)

		var delay time.Duration
		retry := e.config.ShouldRetry(attempt, err)
		if retry {
			delay = e.config.CalculateDelay(attempt)
			e.retryInfo.Delays = append(e.retryInfo.Delays, delay)
		}
		if callback != nil {
			callback(attempt, err, delay)
		}
		if !retry {
			return err
		}

		if err := e.sleep(ctx, delay); err != nil {
			return ClassifyNetworkError(err)
		}
	}

	return lastErr
}

// GetRetryInfo returns information about the retry attempts.
func (e *RetryExecutor) GetRetryInfo() RetryInfo {
	return e.retryInfo
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
