package ratelimit_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alwitt/cardvault/models"
	"github.com/alwitt/cardvault/ratelimit"
	"github.com/apex/log"
	"github.com/stretchr/testify/assert"
)

type testClock struct {
	lock sync.Mutex
	now  time.Time
}

func (c *testClock) Now() time.Time {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.now = c.now.Add(d)
}

func TestLimiterSlidingWindow(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	clock := &testClock{now: time.Now()}
	uut := ratelimit.NewLimiter(ratelimit.DefaultBudgets(), clock.Now)

	// Case 0: passphrase-check allows 3 per minute
	assert.Equal(3, uut.Remaining(ratelimit.ActionPassphraseCheck, "user-1"))
	assert.Equal(time.Duration(0), uut.RetryAfter(ratelimit.ActionPassphraseCheck, "user-1"))
	for itr := 0; itr < 3; itr++ {
		assert.True(uut.Allow(ratelimit.ActionPassphraseCheck, "user-1"))
		clock.Advance(time.Second * 10)
	}
	assert.Equal(0, uut.Remaining(ratelimit.ActionPassphraseCheck, "user-1"))
	assert.False(uut.Allow(ratelimit.ActionPassphraseCheck, "user-1"))

	// Other users and categories are independent
	assert.True(uut.Allow(ratelimit.ActionPassphraseCheck, "user-2"))
	assert.True(uut.Allow(ratelimit.ActionRecordCreate, "user-1"))

	// Case 1: the oldest call leaves the window 60s after it was made
	assert.Equal(time.Second*30, uut.RetryAfter(ratelimit.ActionPassphraseCheck, "user-1"))
	clock.Advance(time.Second * 29)
	assert.False(uut.Allow(ratelimit.ActionPassphraseCheck, "user-1"))
	clock.Advance(time.Second)
	assert.Equal(1, uut.Remaining(ratelimit.ActionPassphraseCheck, "user-1"))
	assert.True(uut.Allow(ratelimit.ActionPassphraseCheck, "user-1"))
	assert.False(uut.Allow(ratelimit.ActionPassphraseCheck, "user-1"))

	// Case 2: reset
	uut.Reset()
	assert.Equal(3, uut.Remaining(ratelimit.ActionPassphraseCheck, "user-1"))
}

func TestLimiterRejectedCallsNotRecorded(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	clock := &testClock{now: time.Now()}
	uut := ratelimit.NewLimiter(ratelimit.DefaultBudgets(), clock.Now)

	for itr := 0; itr < 5; itr++ {
		assert.True(uut.Allow(ratelimit.ActionAuthAttempt, "user-1"))
	}
	// Hammer while limited
	for itr := 0; itr < 20; itr++ {
		clock.Advance(time.Second)
		assert.False(uut.Allow(ratelimit.ActionAuthAttempt, "user-1"))
	}
	// Full budget returns once the first 5 calls expire
	clock.Advance(time.Second * 40)
	assert.Equal(5, uut.Remaining(ratelimit.ActionAuthAttempt, "user-1"))
}

func TestLimiterDefaultBudget(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	clock := &testClock{now: time.Now()}
	uut := ratelimit.NewLimiter(nil, clock.Now)

	for itr := 0; itr < 100; itr++ {
		assert.True(uut.Allow("unknown-action", "user-1"))
	}
	assert.False(uut.Allow("unknown-action", "user-1"))
	assert.Equal(time.Minute, uut.RetryAfter("unknown-action", "user-1"))
}

func TestLimiterCheck(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	clock := &testClock{now: time.Now()}
	uut := ratelimit.NewLimiter(map[ratelimit.ActionCategory]ratelimit.Budget{
		ratelimit.ActionRecordDelete: {Max: 1, Window: time.Second * 10},
	}, clock.Now)

	assert.Nil(uut.Check(ratelimit.ActionRecordDelete, "user-1"))
	clock.Advance(time.Millisecond * 2500)
	err := uut.Check(ratelimit.ActionRecordDelete, "user-1")
	assert.True(errors.Is(err, models.ErrRateLimited))
	var limited *models.RateLimitedError
	assert.True(errors.As(err, &limited))
	assert.Equal(string(ratelimit.ActionRecordDelete), limited.Category)
	assert.Equal(time.Millisecond*7500, limited.RetryAfter)
	assert.Equal("too many attempts for record-delete, wait 8s", err.Error())
}

func TestLimiterJanitor(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	uut := ratelimit.NewLimiter(map[ratelimit.ActionCategory]ratelimit.Budget{
		ratelimit.ActionAuthAttempt: {Max: 1, Window: time.Millisecond * 20},
	}, nil)

	assert.Error(uut.StartJanitor(utCtx, 0))
	assert.Nil(uut.StartJanitor(utCtx, time.Millisecond*10))

	assert.True(uut.Allow(ratelimit.ActionAuthAttempt, "user-1"))
	assert.False(uut.Allow(ratelimit.ActionAuthAttempt, "user-1"))
	assert.Eventually(func() bool {
		return uut.RetryAfter(ratelimit.ActionAuthAttempt, "user-1") == 0
	}, time.Second, time.Millisecond*5)
	assert.True(uut.Allow(ratelimit.ActionAuthAttempt, "user-1"))
}
