package keymutex

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyMutex_SerialisesSameKey(t *testing.T) {
	km := New()
	counter := 0
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("user-1")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, counter)
	assert.Equal(t, 0, km.Len())
}

func TestKeyMutex_IndependentKeys(t *testing.T) {
	km := New()
	unlockA := km.Lock("a")

	done := make(chan struct{})
	go func() {
		unlock := km.Lock("b")
		unlock()
		close(done)
	}()
	<-done

	assert.Equal(t, 1, km.Len())
	unlockA()
	assert.Equal(t, 0, km.Len())
}

func TestKeyMutex_Acquire(t *testing.T) {
	km := New()

	unlock, err := km.Acquire(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, 1, km.Len())
	unlock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = km.Acquire(ctx, "a")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, km.Len())
}
