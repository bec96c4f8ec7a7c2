package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

type testErr struct {
	retryable bool
}

func (e *testErr) Error() string     { return "test error" }
func (e *testErr) IsRetryable() bool { return e.retryable }

func fastConfig() *Config {
	return &Config{MaxRetries: 3, Delay: time.Millisecond}
}

func TestDoWithResult_Success(t *testing.T) {
	calls := 0
	result, attempts, err := DoWithResult(context.Background(), fastConfig(), func() (string, error) {
		calls++
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result != "ok" || attempts != 1 || calls != 1 {
		t.Errorf("expected 1 attempt returning ok, got result=%q attempts=%d calls=%d", result, attempts, calls)
	}
}

func TestDoWithResult_SuccessOnAttemptK(t *testing.T) {
	calls := 0
	result, attempts, err := DoWithResult(context.Background(), fastConfig(), func() (string, error) {
		calls++
		if calls < 3 {
			return "", &testErr{retryable: true}
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("expected success on attempt 3, got %v", err)
	}
	if result != "ok" || attempts != 3 {
		t.Errorf("expected attempts=3, got result=%q attempts=%d", result, attempts)
	}
}

func TestDoWithResult_ExhaustsRetries(t *testing.T) {
	calls := 0
	_, attempts, err := DoWithResult(context.Background(), fastConfig(), func() (string, error) {
		calls++
		return "", &testErr{retryable: true}
	})
	if err == nil {
		t.Fatal("expected error after exhaustion")
	}
	if attempts != 3 || calls != 3 {
		t.Errorf("expected exactly 3 attempts, got attempts=%d calls=%d", attempts, calls)
	}
}

func TestDoWithResult_NonRetryableReturnsImmediately(t *testing.T) {
	calls := 0
	_, attempts, err := DoWithResult(context.Background(), fastConfig(), func() (string, error) {
		calls++
		return "", &testErr{retryable: false}
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 || calls != 1 {
		t.Errorf("expected single attempt for non-retryable error, got attempts=%d calls=%d", attempts, calls)
	}
}

func TestDoWithResult_PlainErrorNotRetried(t *testing.T) {
	calls := 0
	_, _, err := DoWithResult(context.Background(), fastConfig(), func() (string, error) {
		calls++
		return "", errors.New("opaque failure")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("plain errors must not be retried, got %d calls", calls)
	}
}

func TestDoWithResult_ContextCancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := &Config{MaxRetries: 3, Delay: time.Minute}

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, _, err := DoWithResult(ctx, cfg, func() (string, error) {
		return "", &testErr{retryable: true}
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestDo(t *testing.T) {
	calls := 0
	attempts, err := Do(context.Background(), fastConfig(), func() error {
		calls++
		if calls < 2 {
			return &testErr{retryable: true}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
}

func TestIsRetryable(t *testing.T) {
	if IsRetryable(nil) {
		t.Error("nil must not be retryable")
	}
	if IsRetryable(errors.New("anything")) {
		t.Error("undeclared errors must not be retryable")
	}
	if !IsRetryable(&testErr{retryable: true}) {
		t.Error("declared retryable error should be retryable")
	}
}
