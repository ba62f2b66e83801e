package secret

import (
	"context"
	"sync"
	"time"

	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/awnumar/memguard"
)

// DefaultFailsafeTimeout default time after which a forgotten buffer is zeroed
const DefaultFailsafeTimeout = time.Minute * 5

/*
Registry tracks every live secret buffer it produced, so that all of them can be wiped
at once (e.g. on logout or session timeout).
*/
type Registry struct {
	goutils.Component
	lock     sync.Mutex
	live     map[*Buffer]struct{}
	failsafe time.Duration
}

/*
NewRegistry define a new secret buffer registry

	@param failsafe time.Duration - buffers are force zeroed this long after creation.
	    Zero or less disables the failsafe.
	@returns registry instance
*/
func NewRegistry(failsafe time.Duration) *Registry {
	logTags := log.Fields{"module": "secret", "component": "registry"}
	return &Registry{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		live:     make(map[*Buffer]struct{}),
		failsafe: failsafe,
	}
}

/*
Create place a copy of the plain text into a new registered buffer

The source slice is wiped once copied.

	@param plainText []byte - the secret
	@returns the buffer
*/
func (r *Registry) Create(plainText []byte) *Buffer {
	return r.create(plainText, r.failsafe)
}

/*
CreateWithoutFailsafe place a copy of the plain text into a new registered buffer which is
only zeroed explicitly or by WipeAll

	@param plainText []byte - the secret
	@returns the buffer
*/
func (r *Registry) CreateWithoutFailsafe(plainText []byte) *Buffer {
	return r.create(plainText, 0)
}

/*
CreateFromString place a copy of the plain text into a new registered buffer

	@param plainText string - the secret
	@returns the buffer
*/
func (r *Registry) CreateFromString(plainText string) *Buffer {
	return r.Create([]byte(plainText))
}

func (r *Registry) create(plainText []byte, failsafe time.Duration) *Buffer {
	buf := &Buffer{size: len(plainText), registry: r}
	if len(plainText) > 0 {
		buf.locked = memguard.NewBuffer(len(plainText))
		copy(buf.locked.Bytes(), plainText)
		memguard.WipeBytes(plainText)
	}

	r.lock.Lock()
	r.live[buf] = struct{}{}
	r.lock.Unlock()

	if failsafe > 0 {
		buf.lock.Lock()
		buf.failsafe = time.AfterFunc(failsafe, buf.Zero)
		buf.lock.Unlock()
	}
	return buf
}

/*
Unregister stop tracking a buffer. Zero calls this on its own.

	@param buf *Buffer - the buffer
*/
func (r *Registry) Unregister(buf *Buffer) {
	r.lock.Lock()
	defer r.lock.Unlock()
	delete(r.live, buf)
}

// Live number of live buffers
func (r *Registry) Live() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return len(r.live)
}

/*
WipeAll zero every live buffer

	@param ctx context.Context - execution context
	@returns number of buffers zeroed
*/
func (r *Registry) WipeAll(ctx context.Context) int {
	r.lock.Lock()
	buffers := make([]*Buffer, 0, len(r.live))
	for buf := range r.live {
		buffers = append(buffers, buf)
	}
	r.live = make(map[*Buffer]struct{})
	r.lock.Unlock()

	for _, buf := range buffers {
		buf.Zero()
	}

	if len(buffers) > 0 {
		logTags := r.GetLogTagsForContext(ctx)
		log.WithFields(logTags).WithField("count", len(buffers)).Debug("Wiped live secrets")
	}
	return len(buffers)
}
