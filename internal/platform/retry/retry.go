package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Outcome classifies the result of a single attempt.
type Outcome int

const (
	Ok Outcome = iota
	Retryable
	Fatal
)

func (o Outcome) String() string {
	switch o {
	case Ok:
		return "ok"
	case Retryable:
		return "retryable"
	case Fatal:
		return "fatal"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is what an attempt reports back to Do.
type Result struct {
	Outcome Outcome
	Err     error
}

// OK reports success.
func OK() Result { return Result{Outcome: Ok} }

// Retry reports a transient failure worth another attempt.
func Retry(err error) Result { return Result{Outcome: Retryable, Err: err} }

// Fail reports a failure that no further attempt can fix.
func Fail(err error) Result { return Result{Outcome: Fatal, Err: err} }

// Policy controls the number of attempts and the delay between them.
// Backoff doubles after every retryable attempt.
type Policy struct {
	Attempts int
	Backoff  time.Duration
	// Sleep waits for d or until ctx is done. Defaults to a timer-based wait.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Once is the policy used for upstream calls: the first attempt plus a single
// retry after backoff.
func Once(backoff time.Duration) Policy {
	return Policy{Attempts: 2, Backoff: backoff}
}

// ExhaustedError is returned when every attempt came back Retryable.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempt(s): %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// IsExhausted reports whether err came from running out of attempts.
func IsExhausted(err error) bool {
	var ex *ExhaustedError
	return errors.As(err, &ex)
}

// Do runs fn until it reports Ok or Fatal, or the attempts run out.
// A Fatal result is returned unchanged; running out of attempts yields an
// *ExhaustedError wrapping the last cause.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) Result) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	delay := p.Backoff
	var last error
	for i := 1; i <= attempts; i++ {
		res := fn(ctx)
		switch res.Outcome {
		case Ok:
			return nil
		case Fatal:
			return res.Err
		}
		last = res.Err
		if i == attempts {
			break
		}
		if err := sleep(ctx, delay); err != nil {
			return fmt.Errorf("retry interrupted: %w", err)
		}
		delay *= 2
	}
	return &ExhaustedError{Attempts: attempts, Last: last}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
