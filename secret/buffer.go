// Package secret - bounded lifetime containers for decrypted secrets
package secret

import (
	"context"
	"sync"
	"time"

	"github.com/alwitt/cardvault/models"
	"github.com/awnumar/memguard"
)

/*
Buffer holds one decrypted secret in guarded memory.

The plain text is only reachable through Read or Use while the buffer is alive. Zero
scrambles then wipes the content, and releases the guarded memory. A buffer is zeroed
exactly once; later calls to Zero do nothing, and later reads return
models.ErrUseAfterZero.
*/
type Buffer struct {
	lock     sync.Mutex
	locked   *memguard.LockedBuffer
	size     int
	zeroed   bool
	failsafe *time.Timer
	registry *Registry
}

/*
Read fetch a copy of the secret

	@returns the plain text
*/
func (b *Buffer) Read() (string, error) {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.zeroed {
		return "", models.ErrUseAfterZero
	}
	if b.size == 0 {
		return "", nil
	}
	return string(b.locked.Bytes()), nil
}

/*
Use operate on the secret bytes in place, without copying them out of guarded memory

The slice passed to the callback must not be retained after the callback returns.

	@param fn func([]byte) error - callback operating on the secret
*/
func (b *Buffer) Use(fn func([]byte) error) error {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.zeroed {
		return models.ErrUseAfterZero
	}
	if b.size == 0 {
		return fn([]byte{})
	}
	return fn(b.locked.Bytes())
}

// Len length of the secret in bytes, 0 once zeroed
func (b *Buffer) Len() int {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.zeroed {
		return 0
	}
	return b.size
}

// IsZeroed whether the buffer was zeroed
func (b *Buffer) IsZeroed() bool {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.zeroed
}

// Zero scramble and wipe the secret, then release the guarded memory. Idempotent.
func (b *Buffer) Zero() {
	b.lock.Lock()
	if b.zeroed {
		b.lock.Unlock()
		return
	}
	b.zeroed = true
	if b.failsafe != nil {
		b.failsafe.Stop()
	}
	if b.locked != nil {
		b.locked.Melt()
		if b.size > 0 {
			memguard.ScrambleBytes(b.locked.Bytes())
			memguard.WipeBytes(b.locked.Bytes())
		}
		b.locked.Destroy()
		b.locked = nil
	}
	b.size = 0
	b.lock.Unlock()

	if b.registry != nil {
		b.registry.Unregister(b)
	}
}

/*
WithSecret scoped acquisition of a decrypted secret

The buffer produced by acquire is zeroed on every return path, including a panic in
fn. If the context is cancelled before fn runs, fn is skipped.

	@param ctx context.Context - execution context
	@param acquire func(ctx context.Context) (*Buffer, error) - produce the secret
	@param fn func(ctx context.Context, buf *Buffer) error - operate on the secret
*/
func WithSecret(
	ctx context.Context,
	acquire func(ctx context.Context) (*Buffer, error),
	fn func(ctx context.Context, buf *Buffer) error,
) error {
	buf, err := acquire(ctx)
	if err != nil {
		return err
	}
	defer buf.Zero()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx, buf)
}
