package source

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hifzlab/tasmee/internal/quran"
)

// ErrUnavailable is returned by [API.Ayahs] while the upstream is considered
// down and the retry window has not yet elapsed. Callers can fail fast
// instead of stacking requests behind a dead endpoint.
var ErrUnavailable = errors.New("upstream unavailable")

const (
	// breakerMaxFailures is the number of consecutive fetch failures after
	// which the source stops calling the upstream.
	breakerMaxFailures = 5

	// breakerRetryAfter is how long the source fails fast before letting a
	// probe fetch through again.
	breakerRetryAfter = 15 * time.Second
)

// breaker tracks upstream health for the API source. After maxFailures
// consecutive fetch failures it rejects further fetches until retryAfter has
// elapsed, then admits a single probe at a time; the probe's outcome decides
// whether the upstream is healthy again.
//
// A not-found reply counts as an answer, not a failure, and a canceled
// context says nothing about upstream health either way.
type breaker struct {
	maxFailures int
	retryAfter  time.Duration
	now         func() time.Time

	mu       sync.Mutex
	failures int
	openedAt time.Time
	probing  bool
}

func newBreaker(maxFailures int, retryAfter time.Duration) *breaker {
	return &breaker{
		maxFailures: maxFailures,
		retryAfter:  retryAfter,
		now:         time.Now,
	}
}

// allow reports whether a fetch may proceed. While tripped it returns false
// until retryAfter has elapsed since the last failure, then admits one probe
// fetch; further fetches wait for the probe's outcome.
func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failures < b.maxFailures {
		return true
	}
	if b.probing || b.now().Sub(b.openedAt) < b.retryAfter {
		return false
	}
	b.probing = true
	return true
}

// report records the outcome of a fetch admitted by allow.
func (b *breaker) report(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
	switch {
	case err == nil, errors.Is(err, quran.ErrNotFound):
		if b.failures >= b.maxFailures {
			slog.Info("quran source upstream recovered")
		}
		b.failures = 0

	case errors.Is(err, context.Canceled):
		// The caller gave up mid-fetch.

	default:
		b.failures++
		if b.failures < b.maxFailures {
			return
		}
		b.openedAt = b.now()
		if b.failures == b.maxFailures {
			slog.Warn("quran source upstream failing, fetches suspended",
				"consecutive_failures", b.failures,
				"retry_after", b.retryAfter)
		}
	}
}
