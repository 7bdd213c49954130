package models

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimitError(t *testing.T) {
	err := fmt.Errorf("login: %w", &RateLimitError{RetryAfter: 4*time.Minute + 500*time.Millisecond})

	assert.True(t, errors.Is(err, ErrRateLimited))

	var rle *RateLimitError
	if assert.True(t, errors.As(err, &rle)) {
		assert.Equal(t, 241, rle.RetryAfterSeconds())
	}
}

func TestRateLimitErrorMinimumOneSecond(t *testing.T) {
	rle := &RateLimitError{RetryAfter: 0}
	assert.Equal(t, 1, rle.RetryAfterSeconds())
}

func TestEventFilterMatches(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	event := &SecurityEvent{EventType: EventLoginFailure, Severity: SeverityMedium, ActorID: "u1", Timestamp: now}

	assert.True(t, EventFilter{}.Matches(event))
	assert.True(t, EventFilter{Types: []string{EventLoginFailure}}.Matches(event))
	assert.False(t, EventFilter{Types: []string{EventLoginSuccess}}.Matches(event))
	assert.False(t, EventFilter{Severities: []string{SeverityHigh}}.Matches(event))
	assert.False(t, EventFilter{ActorID: "u2"}.Matches(event))
	assert.True(t, EventFilter{Since: now.Add(-time.Minute), Until: now.Add(time.Minute)}.Matches(event))
	assert.False(t, EventFilter{Since: now.Add(time.Minute)}.Matches(event))
}
