package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zaihebian/LeadGenNewVersion/pkg/metrics"
)

// Clock abstracts wall-clock time so the daily window can be tested.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// RealClock returns the wall clock.
func RealClock() Clock { return realClock{} }

// Stats is a snapshot of the limiter at one instant.
type Stats struct {
	SentToday      int       `json:"sent_today"`
	DailyLimit     int       `json:"daily_limit"`
	RemainingToday int       `json:"remaining_today"`
	LastSentAt     time.Time `json:"last_sent_at"`
	WindowDate     string    `json:"window_date"`
}

// Limiter enforces a per-process daily send quota and a minimum interval
// between consecutive sends. The daily window rolls over at UTC midnight.
// All counters live in memory; a restart forfeits the day's history and
// under-counts, which is the safe direction for a send quota.
type Limiter struct {
	mu          sync.Mutex
	maxPerDay   int
	minInterval time.Duration
	clock       Clock
	logger      *zap.Logger

	sentToday  int
	windowDate string
	lastSentAt time.Time
}

func New(maxPerDay int, minInterval time.Duration, clock Clock, logger *zap.Logger) *Limiter {
	if clock == nil {
		clock = realClock{}
	}
	l := &Limiter{
		maxPerDay:   maxPerDay,
		minInterval: minInterval,
		clock:       clock,
		logger:      logger,
	}
	l.windowDate = dayKey(clock.Now())
	return l
}

func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// rollWindow resets the daily counter when the UTC date has changed.
// Callers must hold mu.
func (l *Limiter) rollWindow(now time.Time) {
	key := dayKey(now)
	if key != l.windowDate {
		l.logger.Info("Daily send window rolled over",
			zap.String("previous_date", l.windowDate),
			zap.String("new_date", key),
			zap.Int("previous_sent", l.sentToday),
		)
		l.windowDate = key
		l.sentToday = 0
	}
}

// CanSend reports whether a send is allowed right now. It never mutates the
// counters beyond the window rollover, so callers may probe freely.
func (l *Limiter) CanSend() (bool, string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.rollWindow(now)

	if l.sentToday >= l.maxPerDay {
		metrics.RateLimitBlocks.WithLabelValues("daily_limit").Inc()
		return false, fmt.Sprintf("Daily limit reached (%d/%d)", l.sentToday, l.maxPerDay)
	}

	if !l.lastSentAt.IsZero() {
		elapsed := now.Sub(l.lastSentAt)
		if elapsed < l.minInterval {
			metrics.RateLimitBlocks.WithLabelValues("min_interval").Inc()
			wait := l.minInterval - elapsed
			return false, fmt.Sprintf("Minimum interval not elapsed, wait %ds", int(wait.Seconds()))
		}
	}

	return true, ""
}

// RecordSend counts a completed send. Callers invoke it only after the
// transport confirmed delivery; a failed send must not consume quota.
func (l *Limiter) RecordSend() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.rollWindow(now)

	l.sentToday++
	l.lastSentAt = now
}

// Stats returns the current window snapshot for reporting.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.rollWindow(now)

	remaining := l.maxPerDay - l.sentToday
	if remaining < 0 {
		remaining = 0
	}
	return Stats{
		SentToday:      l.sentToday,
		DailyLimit:     l.maxPerDay,
		RemainingToday: remaining,
		LastSentAt:     l.lastSentAt,
		WindowDate:     l.windowDate,
	}
}
