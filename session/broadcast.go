// Package session - session end signalling
package session

import (
	"context"
	"sync"

	"github.com/alwitt/goutils"
	"github.com/apex/log"
)

// EventENUMType session end event ENUM type
type EventENUMType string

const (
	// EventTimeout the session ended due to inactivity
	EventTimeout EventENUMType = "session-timeout"
	// EventLogout the user logged out
	EventLogout EventENUMType = "logout"
	// EventPassphraseChanged the passphrase changed, so every derived value is stale
	EventPassphraseChanged EventENUMType = "passphrase-changed"
)

// Event one session end signal
type Event struct {
	// Type event type
	Type EventENUMType
	// UserID the user whose session ended
	UserID string
}

// Handler session end event handler
type Handler func(ctx context.Context, event Event)

/*
Broadcaster fans session end events out to every subscriber.

Handlers run synchronously on the broadcasting goroutine, so once Broadcast returns every
subscriber has finished reacting to the event.
*/
type Broadcaster interface {
	/*
		Subscribe register a handler

			@param handler Handler - the event handler
			@returns function to remove the subscription
	*/
	Subscribe(handler Handler) func()

	/*
		Broadcast deliver an event to every subscriber

			@param ctx context.Context - execution context
			@param event Event - the event
	*/
	Broadcast(ctx context.Context, event Event)
}

// broadcasterImpl implements Broadcaster
type broadcasterImpl struct {
	goutils.Component
	lock        sync.RWMutex
	nextID      uint64
	subscribers map[uint64]Handler
}

// NewBroadcaster define new session end broadcaster
func NewBroadcaster() Broadcaster {
	logTags := log.Fields{"module": "session", "component": "broadcaster"}
	return &broadcasterImpl{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		subscribers: make(map[uint64]Handler),
	}
}

func (b *broadcasterImpl) Subscribe(handler Handler) func() {
	b.lock.Lock()
	defer b.lock.Unlock()
	id := b.nextID
	b.nextID++
	b.subscribers[id] = handler
	return func() {
		b.lock.Lock()
		defer b.lock.Unlock()
		delete(b.subscribers, id)
	}
}

func (b *broadcasterImpl) Broadcast(ctx context.Context, event Event) {
	b.lock.RLock()
	handlers := make([]Handler, 0, len(b.subscribers))
	for _, handler := range b.subscribers {
		handlers = append(handlers, handler)
	}
	b.lock.RUnlock()

	logTags := b.GetLogTagsForContext(ctx)
	log.WithFields(logTags).
		WithField("event", string(event.Type)).
		WithField("user", event.UserID).
		WithField("subscribers", len(handlers)).
		Debug("Broadcasting session end")

	for _, handler := range handlers {
		handler(ctx, event)
	}
}
