// internal/retry/retry.go
//
// Backoff policy for the Micro-Worktree Transactor's transient-infrastructure
// retries (spec.md §5). Field shape grounded on the pack's
// githubnext-gh-aw/pkg/ratelimit.Config, stripped of its token-bucket rate
// limiting and renamed to the spec's own vocabulary (maxAttempts, baseMs,
// maxMs, multiplier, jitter).

package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"regexp"
	"time"
)

// Disposition classifies whether an error should be retried.
type Disposition int

const (
	// Permanent errors abort the operation immediately.
	Permanent Disposition = iota
	// Transient errors are retried per the policy.
	Transient
)

// Policy describes an exponential-backoff-with-jitter retry schedule.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	JitterFrac  float64
	Classify    func(error) Disposition
}

// CompletePreset matches spec.md §5's "wu_done-style operations" preset:
// ~6 attempts, base 2s, cap 60s, 15% jitter.
var CompletePreset = Policy{
	MaxAttempts: 6,
	BaseDelay:   2 * time.Second,
	MaxDelay:    60 * time.Second,
	Multiplier:  2.0,
	JitterFrac:  0.15,
	Classify:    ClassifyGitError,
}

// transientPatterns enumerates the error substrings spec.md §4.5/§6 names as
// retryable: ref-lock contention, non-fast-forward pushes, and network
// timeouts/resets.
var transientPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)cannot lock ref`),
	regexp.MustCompile(`(?i)not possible to fast-forward`),
	regexp.MustCompile(`(?i)non-fast-forward`),
	regexp.MustCompile(`(?i)\[rejected\]`),
	regexp.MustCompile(`(?i)\betimedout\b`),
	regexp.MustCompile(`(?i)\beconnreset\b`),
	regexp.MustCompile(`(?i)failed to push`),
	regexp.MustCompile(`(?i)failed to fetch`),
	regexp.MustCompile(`(?i)connection (reset|refused|timed out)`),
}

// conflictPatterns enumerates true-content-conflict markers. These are never
// retried even though the message may otherwise resemble a transient one.
var conflictPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)merge conflict`),
	regexp.MustCompile(`(?i)automatic merge failed`),
	regexp.MustCompile(`(?i)conflict \(content\)`),
}

// ClassifyGitError is the default classifier: a predicate over the error's
// stringified form. Conflicts are always permanent; the enumerated
// transient patterns are always retried.
func ClassifyGitError(err error) Disposition {
	if err == nil {
		return Permanent
	}
	msg := err.Error()
	for _, p := range conflictPatterns {
		if p.MatchString(msg) {
			return Permanent
		}
	}
	for _, p := range transientPatterns {
		if p.MatchString(msg) {
			return Transient
		}
	}
	return Permanent
}

// ErrPermanent wraps a non-retryable failure so callers can distinguish it
// from retry exhaustion without inspecting message text again.
var ErrPermanent = errors.New("retry: permanent failure")

// Do runs fn until it succeeds, the classifier reports Permanent, or the
// attempt budget is exhausted. It returns the last error seen.
func (p Policy) Do(ctx context.Context, fn func(attempt int) error) error {
	classify := p.Classify
	if classify == nil {
		classify = ClassifyGitError
	}
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	var lastErr error
	delay := p.BaseDelay
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}
		lastErr = err
		if classify(err) != Transient {
			return err
		}
		if attempt == maxAttempts {
			break
		}
		wait := jittered(delay, p.JitterFrac)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		delay = nextDelay(delay, p.Multiplier, p.MaxDelay)
	}
	return lastErr
}

func nextDelay(current time.Duration, multiplier float64, cap time.Duration) time.Duration {
	if multiplier <= 1 {
		multiplier = 2
	}
	next := time.Duration(float64(current) * multiplier)
	if cap > 0 && next > cap {
		next = cap
	}
	return next
}

func jittered(base time.Duration, frac float64) time.Duration {
	if frac <= 0 {
		return base
	}
	spread := float64(base) * frac
	delta := (rand.Float64()*2 - 1) * spread
	result := time.Duration(math.Max(0, float64(base)+delta))
	return result
}
