package alert

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureDispatcher struct {
	mu            sync.Mutex
	notifications []Notification
}

func (c *captureDispatcher) Dispatch(n Notification) {
	c.mu.Lock()
	c.notifications = append(c.notifications, n)
	c.mu.Unlock()
}

func (c *captureDispatcher) all() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Notification(nil), c.notifications...)
}

func event(ms int64) Event {
	return Event{Message: "disk trouble on %s", Args: []any{"vol1"}, TimeMs: ms}
}

// With a 1000 ms warn interval and 1000 WARN events at one per
// millisecond, exactly one emission occurs in the first second and one per
// subsequent interval.
func TestRateLimit_OnePerInterval(t *testing.T) {
	capture := &captureDispatcher{}
	m := NewMonitor(capture)
	require.NoError(t, m.SetWarnInterval(1000*time.Millisecond))

	base := int64(1_000_000)
	for i := int64(0); i < 1000; i++ {
		m.Post("io", event(base+i), LevelWarn)
	}
	assert.Len(t, capture.all(), 1, "first second must emit exactly once")

	// The next interval boundary releases exactly one more.
	m.Poll(base+2001, false)
	assert.Len(t, capture.all(), 2)

	// Polling again inside the same interval stays silent.
	m.Poll(base+2500, false)
	assert.Len(t, capture.all(), 2)
}

func TestPoll_ForceOverridesInterval(t *testing.T) {
	capture := &captureDispatcher{}
	m := NewMonitor(capture)

	base := int64(5_000_000)
	for i := int64(0); i < 5; i++ {
		m.Post("io", event(base+i), LevelWarn)
	}
	// One emission fired on the first post.
	require.Len(t, capture.all(), 1)

	m.Poll(base+10, true)
	notifications := capture.all()
	require.Len(t, notifications, 2, "force must emit despite the interval")

	history := m.History("io")
	require.NotNil(t, history)
	assert.Equal(t, history.Count(), 5)
	// reportedCount advanced to count: a further forced poll is silent.
	m.Poll(base+20, true)
	assert.Len(t, capture.all(), 2)
}

// Five WARN events within 500 ms polled after the interval emit one
// recurring message with count=5 and duration=0.
func TestRecurringMessageShape(t *testing.T) {
	capture := &captureDispatcher{}
	m := NewMonitor(capture)

	base := int64(9_000_000)
	for i := int64(0); i < 5; i++ {
		m.Post("io", event(base+i*100), LevelWarn)
	}
	require.Len(t, capture.all(), 1, "the first post emits immediately")

	m.Poll(base+700_000, false)
	notifications := capture.all()
	require.Len(t, notifications, 2)

	n := notifications[1]
	assert.Equal(t, "io", n.Category)
	assert.Equal(t, 5, n.Count)
	assert.EqualValues(t, 0, n.Duration, "400 ms spread truncates to 0 seconds")
	assert.Equal(t, LevelWarn, n.Level)
}

func TestNormalNeverEmits(t *testing.T) {
	capture := &captureDispatcher{}
	m := NewMonitor(capture)

	for i := int64(0); i < 10; i++ {
		m.Post("stats", event(1000+i), LevelNormal)
	}
	m.Poll(1_000_000, true)
	assert.Empty(t, capture.all())
}

func TestErrorInterval_Independent(t *testing.T) {
	capture := &captureDispatcher{}
	m := NewMonitor(capture)
	require.NoError(t, m.SetErrorInterval(1000*time.Millisecond))

	base := int64(2_000_000)
	m.Post("disk", event(base), LevelError)
	m.Post("disk", event(base+1), LevelError)
	require.Len(t, capture.all(), 1)

	m.Poll(base+1500, false)
	assert.Len(t, capture.all(), 2)
}

func TestHistoryTruncation_RetainsFirstEvent(t *testing.T) {
	m := NewMonitor(nil)
	require.NoError(t, m.SetHistoryLength(3))

	base := int64(7_000_000)
	for i := int64(0); i < 10; i++ {
		m.Post("io", event(base+i), LevelWarn)
	}
	history := m.History("io")
	require.NotNil(t, history)

	assert.Equal(t, 10, history.Count())
	require.NotNil(t, history.FirstEvent())
	assert.EqualValues(t, base, history.FirstEvent().TimeMs, "the first event ever is retained")
	require.NotNil(t, history.LastEvent())
	assert.EqualValues(t, base+9, history.LastEvent().TimeMs)
}

func TestConfigurationBounds(t *testing.T) {
	m := NewMonitor(nil)

	assert.Error(t, m.SetHistoryLength(0))
	assert.Error(t, m.SetHistoryLength(1001))
	assert.NoError(t, m.SetHistoryLength(1000))

	assert.Error(t, m.SetWarnInterval(999*time.Millisecond))
	assert.Error(t, m.SetWarnInterval(24*time.Hour+time.Millisecond))
	assert.NoError(t, m.SetWarnInterval(time.Second))

	assert.Error(t, m.SetErrorInterval(500*time.Millisecond))
	assert.NoError(t, m.SetErrorInterval(15*time.Second))
}

func TestReset(t *testing.T) {
	m := NewMonitor(nil)
	m.Post("io", event(1000), LevelWarn)
	require.NotNil(t, m.History("io"))

	m.Reset()
	assert.Nil(t, m.History("io"))
	assert.Equal(t, LevelNormal, m.AlertLevel())
}

func TestAlertLevel_Highest(t *testing.T) {
	m := NewMonitor(nil)
	m.Post("a", event(1000), LevelWarn)
	assert.Equal(t, LevelWarn, m.AlertLevel())
	m.Post("b", event(1001), LevelError)
	assert.Equal(t, LevelError, m.AlertLevel())
}

func TestQueueDispatcher_DeliversOffMutex(t *testing.T) {
	var mu sync.Mutex
	var delivered []Notification
	done := make(chan struct{}, 16)

	d := NewQueueDispatcher(16, func(n Notification) {
		mu.Lock()
		delivered = append(delivered, n)
		mu.Unlock()
		done <- struct{}{}
	})
	defer d.Close()

	m := NewMonitor(d)
	m.Post("io", event(1000), LevelError)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("notification never delivered")
	}
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, delivered, 1)
	assert.Equal(t, "io", delivered[0].Category)
}
