package errhandling

import (
	"context"
	"errors"
	"testing"
	"time"
)

// noSleep records delays instead of waiting.
func noSleep(delays *[]time.Duration) func(context.Context, time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return ctx.Err()
	}
}

// TestRetryConfig_Defaults tests default retry configuration values.
func TestRetryConfig_Defaults(t *testing.T) {
	config := DefaultRetryConfig()

	if config.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", config.MaxAttempts)
	}
	if config.DelayMs != 1000 {
		t.Errorf("DelayMs = %d, want 1000", config.DelayMs)
	}
	if config.BackoffMultiplier != 2.0 {
		t.Errorf("BackoffMultiplier = %v, want 2.0", config.BackoffMultiplier)
	}
	if config.MaxDelayMs != 30000 {
		t.Errorf("MaxDelayMs = %d, want 30000", config.MaxDelayMs)
	}
	if err := config.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestRetryConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*RetryConfig)
		wantErr bool
	}{
		{"valid", func(*RetryConfig) {}, false},
		{"negative attempts", func(c *RetryConfig) { c.MaxAttempts = -1 }, true},
		{"too many attempts", func(c *RetryConfig) { c.MaxAttempts = 11 }, true},
		{"negative delay", func(c *RetryConfig) { c.DelayMs = -1 }, true},
		{"low multiplier", func(c *RetryConfig) { c.BackoffMultiplier = 0.5 }, true},
		{"negative max delay", func(c *RetryConfig) { c.MaxDelayMs = -1 }, true},
		{"zero attempts", func(c *RetryConfig) { c.MaxAttempts = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultRetryConfig()
			tt.mutate(&config)
			err := config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRetryConfig_ParseFromMap(t *testing.T) {
	config := ParseRetryConfig(map[string]interface{}{
		"maxAttempts":       5,
		"delayMs":           float64(200),
		"backoffMultiplier": 3,
	})

	if config.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", config.MaxAttempts)
	}
	if config.DelayMs != 200 {
		t.Errorf("DelayMs = %d, want 200", config.DelayMs)
	}
	if config.BackoffMultiplier != 3.0 {
		t.Errorf("BackoffMultiplier = %v, want 3", config.BackoffMultiplier)
	}
	if config.MaxDelayMs != DefaultMaxDelayMs {
		t.Errorf("MaxDelayMs = %d, want default", config.MaxDelayMs)
	}

	if ParseRetryConfig(nil) != DefaultRetryConfig() {
		t.Error("nil map should yield defaults")
	}
}

func TestRetryConfig_CalculateDelay(t *testing.T) {
	config := RetryConfig{DelayMs: 100, BackoffMultiplier: 2, MaxDelayMs: 500}

	expected := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		500 * time.Millisecond,
	}
	for attempt, want := range expected {
		if got := config.CalculateDelay(attempt); got != want {
			t.Errorf("CalculateDelay(%d) = %v, want %v", attempt, got, want)
		}
	}
	if got := config.CalculateDelay(-1); got != 100*time.Millisecond {
		t.Errorf("CalculateDelay(-1) = %v", got)
	}
}

func TestRetryConfig_ShouldRetry(t *testing.T) {
	config := DefaultRetryConfig()
	transient := ClassifyHTTPStatus(503, "")
	fatal := ClassifyHTTPStatus(404, "")

	if config.ShouldRetry(0, nil) {
		t.Error("nil error should not retry")
	}
	if !config.ShouldRetry(0, transient) {
		t.Error("503 should retry")
	}
	if config.ShouldRetry(0, fatal) {
		t.Error("404 should not retry")
	}
	if config.ShouldRetry(3, transient) {
		t.Error("attempts exhausted should not retry")
	}
	if (RetryConfig{}).ShouldRetry(0, transient) {
		t.Error("disabled retry should not retry")
	}
}

// ============================
// Retry Executor
// ============================

func TestRetryExecutor_Success(t *testing.T) {
	executor := NewRetryExecutor(DefaultRetryConfig())
	calls := 0

	err := executor.Execute(context.Background(), func(context.Context) error {
		calls++
		return nil
	}, nil)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if executor.GetRetryInfo().RetryCount != 0 {
		t.Errorf("RetryCount = %d, want 0", executor.GetRetryInfo().RetryCount)
	}
}

func TestRetryExecutor_RetryThenSuccess(t *testing.T) {
	var delays []time.Duration
	executor := NewRetryExecutor(RetryConfig{MaxAttempts: 3, DelayMs: 10, BackoffMultiplier: 2, MaxDelayMs: 1000})
	executor.sleep = noSleep(&delays)

	calls := 0
	var seen []int
	err := executor.Execute(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return ClassifyHTTPStatus(503, "")
		}
		return nil
	}, func(attempt int, err error, _ time.Duration) {
		seen = append(seen, attempt)
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if len(seen) != 2 {
		t.Errorf("callback calls = %d, want 2", len(seen))
	}
	if len(delays) != 2 || delays[0] != 10*time.Millisecond || delays[1] != 20*time.Millisecond {
		t.Errorf("delays = %v", delays)
	}
	info := executor.GetRetryInfo()
	if info.TotalAttempts != 3 || info.RetryCount != 2 {
		t.Errorf("info = %+v", info)
	}
}

func TestRetryExecutor_NoRetryOnFatalError(t *testing.T) {
	var delays []time.Duration
	executor := NewRetryExecutor(DefaultRetryConfig())
	executor.sleep = noSleep(&delays)

	calls := 0
	fatal := ClassifyHTTPStatus(404, "")
	err := executor.Execute(context.Background(), func(context.Context) error {
		calls++
		return fatal
	}, nil)

	if !errors.Is(err, fatal) {
		t.Errorf("err = %v, want %v", err, fatal)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if len(delays) != 0 {
		t.Errorf("no delays expected, got %v", delays)
	}
}

func TestRetryExecutor_MaxAttemptsExhausted(t *testing.T) {
	var delays []time.Duration
	executor := NewRetryExecutor(RetryConfig{MaxAttempts: 2, DelayMs: 1, BackoffMultiplier: 1, MaxDelayMs: 1})
	executor.sleep = noSleep(&delays)

	calls := 0
	err := executor.Execute(context.Background(), func(context.Context) error {
		calls++
		return errors.New("flaky")
	}, nil)

	if err == nil || err.Error() != "flaky" {
		t.Errorf("err = %v, want flaky", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryExecutor_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	executor := NewRetryExecutor(DefaultRetryConfig())
	calls := 0
	err := executor.Execute(ctx, func(context.Context) error {
		calls++
		return nil
	}, nil)

	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if calls != 0 {
		t.Errorf("calls = %d, want 0", calls)
	}
}

func TestRetryExecutor_DisabledRetry(t *testing.T) {
	executor := NewRetryExecutor(RetryConfig{})
	calls := 0
	err := executor.Execute(context.Background(), func(context.Context) error {
		calls++
		return ClassifyHTTPStatus(500, "")
	}, nil)

	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
