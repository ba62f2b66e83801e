// Package ratelimit - in-memory sliding window call budgets
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alwitt/cardvault/models"
	"github.com/alwitt/goutils"
	"github.com/apex/log"
)

// ActionCategory rate limited action category
type ActionCategory string

const (
	// ActionRecordCreate card creation
	ActionRecordCreate ActionCategory = "record-create"
	// ActionRecordUpdate card update
	ActionRecordUpdate ActionCategory = "record-update"
	// ActionRecordDelete card deletion
	ActionRecordDelete ActionCategory = "record-delete"
	// ActionAuthAttempt sign in attempt
	ActionAuthAttempt ActionCategory = "auth-attempt"
	// ActionPassphraseCheck passphrase validation
	ActionPassphraseCheck ActionCategory = "passphrase-check"
	// ActionMobileUpdate mobile number update
	ActionMobileUpdate ActionCategory = "mobile-update"
)

// Budget call budget of one category
type Budget struct {
	// Max max number of calls within the window
	Max int `yaml:"max" validate:"gte=1"`
	// Window sliding window length
	Window time.Duration `yaml:"window" validate:"gte=1ms"`
}

// DefaultBudget budget of any category not in the table
var DefaultBudget = Budget{Max: 100, Window: time.Minute}

// DefaultBudgets the default category table
func DefaultBudgets() map[ActionCategory]Budget {
	return map[ActionCategory]Budget{
		ActionRecordCreate:    {Max: 10, Window: time.Minute},
		ActionRecordUpdate:    {Max: 20, Window: time.Minute},
		ActionRecordDelete:    {Max: 10, Window: time.Minute},
		ActionAuthAttempt:     {Max: 5, Window: time.Minute},
		ActionPassphraseCheck: {Max: 3, Window: time.Minute},
		ActionMobileUpdate:    {Max: 3, Window: time.Minute},
	}
}

/*
Limiter sliding window call budget per (action category, user ID) pair

The state is held only in process memory and resets on restart. A rejected call is not
recorded in the window.
*/
type Limiter interface {
	/*
		Allow consume one call of the budget if available

			@param action ActionCategory - action category
			@param userID string - the user
			@returns whether the call is allowed
	*/
	Allow(action ActionCategory, userID string) bool

	/*
		Check same as Allow, reporting a rejection as *models.RateLimitedError

			@param action ActionCategory - action category
			@param userID string - the user
	*/
	Check(action ActionCategory, userID string) error

	/*
		Remaining number of calls left in the current window

			@param action ActionCategory - action category
			@param userID string - the user
			@returns remaining calls
	*/
	Remaining(action ActionCategory, userID string) int

	/*
		RetryAfter time until the oldest call in the window expires

			@param action ActionCategory - action category
			@param userID string - the user
			@returns wait time, 0 if no call is recorded
	*/
	RetryAfter(action ActionCategory, userID string) time.Duration

	// Reset forget every recorded call
	Reset()

	/*
		StartJanitor periodically drop windows which hold no live calls

			@param ctx context.Context - execution context. The janitor stops when it is cancelled.
			@param interval time.Duration - cleanup interval
	*/
	StartJanitor(ctx context.Context, interval time.Duration) error
}

// limiterImpl implements Limiter
type limiterImpl struct {
	goutils.Component
	lock    sync.Mutex
	budgets map[ActionCategory]Budget
	windows map[windowID][]time.Time
	nowFn   func() time.Time
}

// windowID identifies one sliding window
type windowID struct {
	action ActionCategory
	userID string
}

/*
NewLimiter define a new rate limiter

	@param budgets map[ActionCategory]Budget - category budget table. Categories not in the
	    table use DefaultBudget.
	@param nowFn func() time.Time - clock, nil for time.Now
	@returns limiter instance
*/
func NewLimiter(budgets map[ActionCategory]Budget, nowFn func() time.Time) Limiter {
	if nowFn == nil {
		nowFn = time.Now
	}
	table := map[ActionCategory]Budget{}
	for category, budget := range budgets {
		table[category] = budget
	}
	logTags := log.Fields{"module": "ratelimit", "component": "limiter"}
	return &limiterImpl{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		budgets: table,
		windows: make(map[windowID][]time.Time),
		nowFn:   nowFn,
	}
}

func windowKey(action ActionCategory, userID string) windowID {
	return windowID{action: action, userID: userID}
}

func (l *limiterImpl) budget(action ActionCategory) Budget {
	if budget, ok := l.budgets[action]; ok {
		return budget
	}
	return DefaultBudget
}

// prune drop the calls which left the window. Caller holds the lock.
func (l *limiterImpl) prune(key windowID, window time.Duration, now time.Time) []time.Time {
	calls := l.windows[key]
	kept := calls[:0]
	for _, ts := range calls {
		if now.Sub(ts) < window {
			kept = append(kept, ts)
		}
	}
	if len(kept) == 0 {
		delete(l.windows, key)
		return nil
	}
	l.windows[key] = kept
	return kept
}

func (l *limiterImpl) Allow(action ActionCategory, userID string) bool {
	l.lock.Lock()
	defer l.lock.Unlock()

	budget := l.budget(action)
	key := windowKey(action, userID)
	now := l.nowFn()

	calls := l.prune(key, budget.Window, now)
	if len(calls) >= budget.Max {
		log.WithFields(l.LogTags).
			WithField("action", string(action)).
			WithField("user", userID).
			Warn("Rate limit exceeded")
		return false
	}
	l.windows[key] = append(calls, now)
	return true
}

func (l *limiterImpl) Check(action ActionCategory, userID string) error {
	if l.Allow(action, userID) {
		return nil
	}
	return &models.RateLimitedError{
		Category: string(action), RetryAfter: l.RetryAfter(action, userID),
	}
}

func (l *limiterImpl) Remaining(action ActionCategory, userID string) int {
	l.lock.Lock()
	defer l.lock.Unlock()

	budget := l.budget(action)
	calls := l.prune(windowKey(action, userID), budget.Window, l.nowFn())
	if remaining := budget.Max - len(calls); remaining > 0 {
		return remaining
	}
	return 0
}

func (l *limiterImpl) RetryAfter(action ActionCategory, userID string) time.Duration {
	l.lock.Lock()
	defer l.lock.Unlock()

	budget := l.budget(action)
	now := l.nowFn()
	calls := l.prune(windowKey(action, userID), budget.Window, now)
	if len(calls) == 0 {
		return 0
	}
	oldest := calls[0]
	for _, ts := range calls[1:] {
		if ts.Before(oldest) {
			oldest = ts
		}
	}
	if wait := oldest.Add(budget.Window).Sub(now); wait > 0 {
		return wait
	}
	return 0
}

func (l *limiterImpl) Reset() {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.windows = make(map[windowID][]time.Time)
}

// sweep drop every window with no live call
func (l *limiterImpl) sweep() int {
	l.lock.Lock()
	defer l.lock.Unlock()

	now := l.nowFn()
	dropped := 0
	for key, calls := range l.windows {
		if l.prune(key, l.budget(key.action).Window, now) == nil && len(calls) > 0 {
			dropped++
		}
	}
	return dropped
}

func (l *limiterImpl) StartJanitor(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("janitor interval must be positive")
	}
	logTags := l.GetLogTagsForContext(ctx)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		log.WithFields(logTags).Debug("Rate limit janitor started")
		for {
			select {
			case <-ctx.Done():
				log.WithFields(logTags).Debug("Rate limit janitor stopped")
				return
			case <-ticker.C:
				if dropped := l.sweep(); dropped > 0 {
					log.WithFields(logTags).WithField("dropped", dropped).Debug("Dropped idle windows")
				}
			}
		}
	}()
	return nil
}
