package pipeline

import (
	"context"
	"time"
)

// RetryState is the caller-visible state of an in-progress retry loop.
type RetryState struct {
	Attempt      int
	CurrentDelay time.Duration
	Failures     []error
}

// RetryFilter decides whether a failure should be retried. A nil Filter
// means "retry everything" up to MaxAttempts.
type RetryFilter func(policy *RetryPolicy, state RetryState, err error) bool

// FailureHook reacts to a retryable failure — logging it, recording it,
// or aborting further retries by returning a non-nil error (which becomes
// the error reported to the caller, in place of the original failure).
type FailureHook func(ctx context.Context, policy *RetryPolicy, state RetryState, err error) error

// RetryPolicy is a bounded exponential-backoff retry policy, the Go
// rendering of spec.md §4.5. A nil *RetryPolicy means "run the block
// exactly once" everywhere this package accepts one.
type RetryPolicy struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	BackoffMultiplier float64
	Filter            RetryFilter
}

// Retry runs block under p, retrying on failure per Filter up to
// MaxAttempts, sleeping CurrentDelay (growing by BackoffMultiplier,
// rounded to the nearest millisecond) between attempts. Context
// cancellation is never retried: it propagates immediately regardless of
// Filter.
func (p *RetryPolicy) Retry(ctx context.Context, block func() error) error {
	return p.ControlledRetry(ctx, block, nil)
}

// ControlledRetry is Retry with an explicit FailureHook, invoked on every
// retryable failure (distinct from Filter, which only decides whether to
// retry at all).
func (p *RetryPolicy) ControlledRetry(ctx context.Context, block func() error, onFailure FailureHook) error {
	if p == nil {
		return block()
	}

	state := RetryState{Attempt: 1, CurrentDelay: p.InitialDelay}

	for {
		err := block()
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return err
		}

		if p.Filter != nil && !p.Filter(p, state, err) {
			return err
		}

		if onFailure != nil {
			if hookErr := onFailure(ctx, p, state, err); hookErr != nil {
				return hookErr
			}
		}

		state.Failures = append(state.Failures, err)

		if state.Attempt >= p.MaxAttempts {
			return &ExceededRetryAttemptsError{Failures: state.Failures}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(state.CurrentDelay):
		}

		state.Attempt++
		nextDelay := float64(state.CurrentDelay) * p.BackoffMultiplier
		state.CurrentDelay = time.Duration(nextDelay/float64(time.Millisecond)+0.5) * time.Millisecond
	}
}
