package cooldown

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	key := Key("0xAbCd", 137, "wmatic", "usdc")
	assert.Equal(t, "cooldown:0xabcd:137:WMATIC:USDC", key)
}

func TestSetIfAbsentBlocksSecondCall(t *testing.T) {
	s := NewMemoryStore()

	ok, err := s.SetIfAbsent(context.Background(), "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.SetIfAbsent(context.Background(), "k", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSetIfAbsentExpires(t *testing.T) {
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := NewMemoryStore()
	s.now = func() time.Time { return clock }

	ok, _ := s.SetIfAbsent(context.Background(), "k", 30*time.Second)
	assert.True(t, ok)

	clock = clock.Add(29 * time.Second)
	ok, _ = s.SetIfAbsent(context.Background(), "k", 30*time.Second)
	assert.False(t, ok, "still inside the TTL")

	clock = clock.Add(2 * time.Second)
	ok, _ = s.SetIfAbsent(context.Background(), "k", 30*time.Second)
	assert.True(t, ok, "key expired, slot reclaimable")
}

func TestSetIfAbsentSingleWinner(t *testing.T) {
	s := NewMemoryStore()

	var wins int64
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			ok, err := s.SetIfAbsent(context.Background(), "contested", time.Minute)
			require.NoError(t, err)
			if ok {
				atomic.AddInt64(&wins, 1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(1), wins, "exactly one goroutine may claim the slot")
}

func TestGCDropsExpiredKeys(t *testing.T) {
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := NewMemoryStore()
	s.now = func() time.Time { return clock }

	for _, k := range []string{"a", "b", "c"} {
		s.SetIfAbsent(context.Background(), k, time.Second)
	}
	require.Len(t, s.expiry, 3)

	clock = clock.Add(2 * time.Minute)
	s.SetIfAbsent(context.Background(), "d", time.Second)

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Len(t, s.expiry, 1, "expired keys evicted on the next sweep")
}
