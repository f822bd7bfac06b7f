package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutThenGet(t *testing.T) {
	c := New()
	before := time.Now()

	c.Put(SlotMids, map[string]string{"BTC": "50000"})

	v, at, ok := c.Get(SlotMids)
	require.True(t, ok)
	assert.Equal(t, map[string]string{"BTC": "50000"}, v)
	assert.False(t, at.Before(before), "update time must not precede the put")
}

func TestGetMissingSlot(t *testing.T) {
	c := New()
	_, _, ok := c.Get(SlotAssetCtxs)
	assert.False(t, ok)
}

func TestPutReplaces(t *testing.T) {
	c := New()
	c.Put(SlotMids, map[string]string{"BTC": "50000"})
	c.Put(SlotMids, map[string]string{"BTC": "50001"})

	v, _, ok := c.Get(SlotMids)
	require.True(t, ok)
	assert.Equal(t, "50001", v.(map[string]string)["BTC"])
}

func TestStatus(t *testing.T) {
	c := New()
	c.Put(SlotMids, map[string]string{})

	st := c.Status()
	require.Len(t, st, 3)
	assert.True(t, st[SlotMids].Present)
	require.NotNil(t, st[SlotMids].AgeMS)
	assert.GreaterOrEqual(t, *st[SlotMids].AgeMS, int64(0))
	assert.False(t, st[SlotAssetCtxs].Present)
	assert.Nil(t, st[SlotAssetCtxs].AgeMS)
	assert.False(t, st[SlotPerpMetas].Present)
}

func TestConcurrentReadersAndWriter(t *testing.T) {
	c := New()
	done := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-done:
				return
			default:
				c.Put(SlotMids, map[string]string{"BTC": fmt.Sprintf("%d", i)})
			}
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				if v, _, ok := c.Get(SlotMids); ok {
					// A snapshot is always a complete map, never torn.
					_ = v.(map[string]string)["BTC"]
				}
			}
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(done)
	wg.Wait()
}
