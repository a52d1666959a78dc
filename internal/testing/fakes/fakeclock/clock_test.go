package fakeclock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestClock_Now(t *testing.T) {
	c := New(epoch)
	assert.True(t, c.Now().Equal(epoch))
}

func TestClock_AdvanceAndSet(t *testing.T) {
	c := New(epoch)
	c.Advance(5 * time.Minute)
	assert.True(t, c.Now().Equal(epoch.Add(5*time.Minute)))

	later := time.Date(2025, 6, 15, 12, 30, 0, 0, time.UTC)
	c.Set(later)
	assert.True(t, c.Now().Equal(later))
}

func TestClock_SleepAdvancesAndRecords(t *testing.T) {
	c := New(epoch)
	c.Sleep(200 * time.Millisecond)
	c.Sleep(time.Second)

	assert.True(t, c.Now().Equal(epoch.Add(1200*time.Millisecond)))
	assert.Equal(t, []time.Duration{200 * time.Millisecond, time.Second}, c.Slept())
}

func TestClock_ConcurrentAccess(t *testing.T) {
	c := New(epoch)
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Advance(time.Second)
			_ = c.Now()
		}()
	}
	wg.Wait()
	assert.True(t, c.Now().Equal(epoch.Add(10*time.Second)))
}
