package types

import (
	"errors"
	"fmt"
)

// Error taxonomy for the orchestrator. Collaborator clients wrap failures in
// one of these sentinels so callers can decide whether to retry.
var (
	// ErrIgnoredEvent marks an envelope the normalizer does not recognize.
	// Not an error in the operational sense; no incident is created.
	ErrIgnoredEvent = errors.New("unknown event type")

	// ErrTransient marks retryable network or availability failures.
	ErrTransient = errors.New("transient collaborator failure")

	// ErrPermanent marks failures that must not be retried: malformed
	// configuration, authorization denied, invariant violations.
	ErrPermanent = errors.New("permanent failure")

	// ErrLLMParse marks non-JSON LLM output. Each agent defines a
	// deterministic fallback when it sees this.
	ErrLLMParse = errors.New("failed to parse LLM response")

	// ErrDeadlineExceeded marks expiry of the per-incident deadline.
	ErrDeadlineExceeded = errors.New("deadline_exceeded")
)

// Transient wraps err as a retryable failure.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// Permanent wraps err as a non-retryable failure.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// IsRetryable reports whether err should be retried with backoff.
// Permanent classification wins if an error is somehow tagged with both.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrPermanent) {
		return false
	}
	return errors.Is(err, ErrTransient)
}
