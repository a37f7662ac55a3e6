package lock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyed_MutualExclusionPerKey(t *testing.T) {
	k := NewKeyed()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("doc-1")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, counter)
}

func TestKeyed_IndependentKeysDoNotBlock(t *testing.T) {
	k := NewKeyed()

	unlockA := k.Lock("doc-a")

	done := make(chan struct{})
	go func() {
		unlockB := k.Lock("doc-b")
		unlockB()
		close(done)
	}()

	<-done // must finish while doc-a is still held
	unlockA()
}

func TestKeyed_TableShrinks(t *testing.T) {
	k := NewKeyed()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			unlock := k.Lock(string(rune('a' + n%10)))
			unlock()
		}(i)
	}
	wg.Wait()

	k.mu.Lock()
	defer k.mu.Unlock()
	assert.Empty(t, k.entries, "released keys must be removed from the table")
}
