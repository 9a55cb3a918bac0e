package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicyDelayFixed(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, Backoff: BackoffFixed, BaseDelay: 30 * time.Second}

	for attempt := 1; attempt <= 3; attempt++ {
		d := p.Delay(attempt)
		assert.InDelta(t, float64(30*time.Second), float64(d), float64(3*time.Second),
			"fixed backoff stays at base delay within jitter, attempt %d", attempt)
	}
}

func TestRetryPolicyDelayExponential(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, Backoff: BackoffExponential, BaseDelay: 30 * time.Second}

	expected := map[int]time.Duration{
		1: 30 * time.Second,
		2: 60 * time.Second,
		3: 120 * time.Second,
	}

	for attempt, want := range expected {
		d := p.Delay(attempt)
		assert.InDelta(t, float64(want), float64(d), float64(want)/10+float64(time.Millisecond),
			"attempt %d", attempt)
	}
}

func TestRetryPolicyDelayCapped(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 20, Backoff: BackoffExponential, BaseDelay: 30 * time.Second}

	d := p.Delay(15)
	assert.LessOrEqual(t, d, 11*time.Minute, "delay is capped even for high attempts")
	assert.GreaterOrEqual(t, d, 9*time.Minute)
}
