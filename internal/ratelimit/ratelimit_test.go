package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiterAllowsWithinWindow(t *testing.T) {
	l := New(Config{ClientLimit: 5, ClientWindow: time.Second, GlobalLimit: 1000, GlobalWindow: time.Second})

	for i := 0; i < 5; i++ {
		res := l.Check("1.2.3.4")
		assert.Equal(t, Allowed, res.Verdict, "request %d should be allowed", i)
		l.Record("1.2.3.4")
	}
}

func TestLimiterRejectsOverLimit(t *testing.T) {
	l := New(Config{ClientLimit: 3, ClientWindow: time.Minute, GlobalLimit: 1000, GlobalWindow: time.Minute})

	for i := 0; i < 3; i++ {
		res := l.Check("5.6.7.8")
		assert.Equal(t, Allowed, res.Verdict)
		l.Record("5.6.7.8")
	}

	res := l.Check("5.6.7.8")
	assert.Equal(t, Limited, res.Verdict)
	assert.Greater(t, res.RetryAfter, time.Duration(0))
}

func TestLimiterIsolatesClients(t *testing.T) {
	l := New(Config{ClientLimit: 1, ClientWindow: time.Minute, GlobalLimit: 1000, GlobalWindow: time.Minute})

	l.Record("10.0.0.1")
	res := l.Check("10.0.0.1")
	assert.Equal(t, Limited, res.Verdict)

	res2 := l.Check("10.0.0.2")
	assert.Equal(t, Allowed, res2.Verdict, "a different client must not be affected")
}

func TestLimiterGlobalCeilingAdapts(t *testing.T) {
	l := New(Config{ClientLimit: 10000, ClientWindow: time.Minute, GlobalLimit: 10, GlobalWindow: 10 * time.Millisecond})
	initial := l.Ceiling()
	assert.Equal(t, 10, initial)

	for i := 0; i < 3; i++ {
		l.Record("192.0.2.1")
	}
	time.Sleep(15 * time.Millisecond)
	l.Record("192.0.2.2") // triggers a sample on low usage

	assert.GreaterOrEqual(t, l.Ceiling(), initial, "low usage should raise or hold the ceiling")
}

func TestBackoffForRatio(t *testing.T) {
	base := time.Second
	assert.Equal(t, base, backoffFor(1.2, base))
	assert.Equal(t, 2*base, backoffFor(1.7, base))
	assert.Equal(t, 4*base, backoffFor(2.5, base))
}
