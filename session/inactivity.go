package session

import (
	"context"
	"sync"
	"time"
)

// DefaultInactivityTimeout default session inactivity timeout
const DefaultInactivityTimeout = time.Minute * 5

/*
InactivityDetector broadcasts EventTimeout once no activity was reported for the timeout.

Touch reports activity and restarts the countdown. After firing, the detector is idle
until the next Arm.
*/
type InactivityDetector struct {
	lock        sync.Mutex
	timeout     time.Duration
	broadcaster Broadcaster
	timer       *time.Timer
	userID      string
	armed       bool
}

/*
NewInactivityDetector define new inactivity detector

	@param timeout time.Duration - inactivity timeout
	@param broadcaster Broadcaster - where the timeout is signalled
	@returns detector instance
*/
func NewInactivityDetector(timeout time.Duration, broadcaster Broadcaster) *InactivityDetector {
	return &InactivityDetector{timeout: timeout, broadcaster: broadcaster}
}

/*
Arm start watching the session of a user

	@param userID string - the user
*/
func (d *InactivityDetector) Arm(userID string) {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.userID = userID
	d.armed = true
	d.restart()
}

// restart reset the countdown. Caller holds the lock.
func (d *InactivityDetector) restart() {
	if d.timer != nil {
		d.timer.Stop()
	}
	userID := d.userID
	var timer *time.Timer
	timer = time.AfterFunc(d.timeout, func() {
		d.lock.Lock()
		if !d.armed || d.timer != timer {
			d.lock.Unlock()
			return
		}
		d.armed = false
		d.timer = nil
		d.lock.Unlock()
		d.broadcaster.Broadcast(
			context.Background(), Event{Type: EventTimeout, UserID: userID},
		)
	})
	d.timer = timer
}

// Touch report user activity
func (d *InactivityDetector) Touch() {
	d.lock.Lock()
	defer d.lock.Unlock()
	if !d.armed {
		return
	}
	d.restart()
}

// Disarm stop watching without signalling
func (d *InactivityDetector) Disarm() {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.armed = false
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// Armed whether a countdown is running
func (d *InactivityDetector) Armed() bool {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.armed
}
