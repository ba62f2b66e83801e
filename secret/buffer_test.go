package secret_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alwitt/cardvault/models"
	"github.com/alwitt/cardvault/secret"
	"github.com/apex/log"
	"github.com/stretchr/testify/assert"
)

func TestBufferZero(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	uut := secret.NewRegistry(0)

	source := []byte("4111111111")
	buf := uut.Create(source)
	assert.Equal(1, uut.Live())

	// Source is wiped once copied
	for _, b := range source {
		assert.Equal(byte(0), b)
	}

	// Case 0: read while alive
	{
		value, err := buf.Read()
		assert.Nil(err)
		assert.Equal("4111111111", value)
		assert.Equal(10, buf.Len())
		assert.False(buf.IsZeroed())
	}

	// Case 1: in place access
	{
		err := buf.Use(func(b []byte) error {
			assert.Equal("4111111111", string(b))
			return nil
		})
		assert.Nil(err)
	}

	// Case 2: zero, repeatedly
	buf.Zero()
	buf.Zero()
	assert.True(buf.IsZeroed())
	assert.Equal(0, buf.Len())
	assert.Equal(0, uut.Live())
	{
		_, err := buf.Read()
		assert.True(errors.Is(err, models.ErrUseAfterZero))
		err = buf.Use(func(b []byte) error { return nil })
		assert.True(errors.Is(err, models.ErrUseAfterZero))
	}

	// Case 3: empty secret
	{
		empty := uut.CreateFromString("")
		value, err := empty.Read()
		assert.Nil(err)
		assert.Equal("", value)
		empty.Zero()
		_, err = empty.Read()
		assert.True(errors.Is(err, models.ErrUseAfterZero))
	}
}

func TestBufferConcurrentZero(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	uut := secret.NewRegistry(0)
	buf := uut.CreateFromString("123")

	wg := sync.WaitGroup{}
	for itr := 0; itr < 8; itr++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			buf.Zero()
		}()
		go func() {
			defer wg.Done()
			value, err := buf.Read()
			if err == nil {
				assert.Equal("123", value)
			} else {
				assert.True(errors.Is(err, models.ErrUseAfterZero))
			}
		}()
	}
	wg.Wait()
	assert.True(buf.IsZeroed())
	assert.Equal(0, uut.Live())
}

func TestRegistryFailsafe(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	uut := secret.NewRegistry(time.Millisecond * 50)

	forgotten := uut.CreateFromString("123")
	pinned := uut.CreateWithoutFailsafe([]byte("I had coffee today"))
	assert.Equal(2, uut.Live())

	assert.Eventually(func() bool {
		return forgotten.IsZeroed()
	}, time.Second, time.Millisecond*10)
	assert.False(pinned.IsZeroed())
	assert.Equal(1, uut.Live())

	pinned.Zero()
	assert.Equal(0, uut.Live())
}

func TestRegistryWipeAll(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	uut := secret.NewRegistry(0)
	buffers := []*secret.Buffer{}
	for itr := 0; itr < 5; itr++ {
		buffers = append(buffers, uut.CreateFromString("secret"))
	}
	assert.Equal(5, uut.Live())

	// Zero one in advance
	buffers[0].Zero()

	assert.Equal(4, uut.WipeAll(utCtx))
	assert.Equal(0, uut.Live())
	for _, buf := range buffers {
		assert.True(buf.IsZeroed())
	}

	// Nothing left
	assert.Equal(0, uut.WipeAll(utCtx))
}

func TestWithSecret(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	uut := secret.NewRegistry(0)

	acquire := func(_ context.Context) (*secret.Buffer, error) {
		return uut.CreateFromString("737"), nil
	}

	// Case 0: normal return
	{
		var held *secret.Buffer
		err := secret.WithSecret(utCtx, acquire, func(_ context.Context, buf *secret.Buffer) error {
			held = buf
			value, err := buf.Read()
			assert.Nil(err)
			assert.Equal("737", value)
			return nil
		})
		assert.Nil(err)
		assert.True(held.IsZeroed())
	}

	// Case 1: error return
	{
		var held *secret.Buffer
		testErr := errors.New("dummy error")
		err := secret.WithSecret(utCtx, acquire, func(_ context.Context, buf *secret.Buffer) error {
			held = buf
			return testErr
		})
		assert.Equal(testErr, err)
		assert.True(held.IsZeroed())
	}

	// Case 2: panic
	{
		var held *secret.Buffer
		assert.Panics(func() {
			_ = secret.WithSecret(utCtx, acquire, func(_ context.Context, buf *secret.Buffer) error {
				held = buf
				panic("dummy panic")
			})
		})
		assert.True(held.IsZeroed())
	}

	// Case 3: context already cancelled
	{
		lclCtx, cancel := context.WithCancel(utCtx)
		cancel()
		called := false
		err := secret.WithSecret(lclCtx, acquire, func(_ context.Context, _ *secret.Buffer) error {
			called = true
			return nil
		})
		assert.True(errors.Is(err, context.Canceled))
		assert.False(called)
	}

	assert.Equal(0, uut.Live())
}
