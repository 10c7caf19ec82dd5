package notification

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

type countingListener struct {
	calls atomic.Int32
	last  atomic.Value
}

func (c *countingListener) Handle(value string) {
	c.calls.Add(1)
	c.last.Store(value)
}

func TestHubDistributesToEveryListenerOnce(t *testing.T) {
	hub := NewHub[string]()
	a, b := &countingListener{}, &countingListener{}

	hub.Subscribe(a)
	hub.Subscribe(b)
	hub.Distribute("x")

	assert.Equal(t, int32(1), a.calls.Load())
	assert.Equal(t, int32(1), b.calls.Load())
	assert.Equal(t, "x", a.last.Load())
	assert.Equal(t, "x", b.last.Load())
}

func TestHubSubscribeTwiceInvokesOnce(t *testing.T) {
	hub := NewHub[string]()
	l := &countingListener{}

	hub.Subscribe(l)
	hub.Subscribe(l)
	hub.Distribute("x")
	hub.Distribute("y")

	assert.Equal(t, 1, hub.Len())
	assert.Equal(t, int32(2), l.calls.Load())
}

func TestHubIgnoresNil(t *testing.T) {
	hub := NewHub[string]()

	assert.False(t, hub.Subscribe(nil))
	hub.Unsubscribe(nil)
	hub.Distribute("x")

	assert.Equal(t, 0, hub.Len())
}

// sliceListener cannot be a map key when used as a value.
type sliceListener struct {
	seen []string
}

func (s sliceListener) Handle(string) {}

func TestHubIgnoresIncomparableListeners(t *testing.T) {
	hub := NewHub[string]()
	kept := &countingListener{}

	assert.True(t, hub.Subscribe(kept))
	assert.NotPanics(t, func() {
		assert.False(t, hub.Subscribe(sliceListener{seen: []string{"a"}}))
		hub.Unsubscribe(sliceListener{})
	})
	hub.Distribute("x")

	assert.Equal(t, 1, hub.Len())
	assert.Equal(t, int32(1), kept.calls.Load())
	assert.True(t, hub.Subscribe(&sliceListener{}), "pointers are always comparable")
}

func TestHubUnsubscribe(t *testing.T) {
	hub := NewHub[string]()
	kept, removed := &countingListener{}, &countingListener{}
	hub.Subscribe(kept)
	hub.Subscribe(removed)

	hub.Unsubscribe(removed)
	hub.Unsubscribe(&countingListener{})
	hub.Distribute("x")

	assert.Equal(t, int32(1), kept.calls.Load())
	assert.Equal(t, int32(0), removed.calls.Load())
}

func TestHubZeroValueUsable(t *testing.T) {
	var hub Hub[int]
	var got int
	hub.Subscribe(Func(func(v int) { got = v }))

	hub.Distribute(3)

	assert.Equal(t, 3, got)
}

func TestFuncListenersHaveDistinctIdentity(t *testing.T) {
	hub := NewHub[int]()
	var calls atomic.Int32
	fn := func(int) { calls.Add(1) }

	first := Func(fn)
	hub.Subscribe(first)
	hub.Subscribe(first)
	hub.Subscribe(Func(fn))
	hub.Distribute(1)

	assert.Equal(t, 2, hub.Len())
	assert.Equal(t, int32(2), calls.Load())
}

func TestHubSharesValueReference(t *testing.T) {
	type payload struct{ n int }
	hub := NewHub[*payload]()
	seen := make([]*payload, 0, 2)
	var mu sync.Mutex
	record := func(p *payload) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, p)
	}
	hub.Subscribe(Func(record))
	hub.Subscribe(Func(record))

	value := &payload{n: 1}
	hub.Distribute(value)

	assert.Len(t, seen, 2)
	assert.Same(t, value, seen[0])
	assert.Same(t, value, seen[1])
}

func TestHubConcurrentSubscribeAndDistribute(t *testing.T) {
	hub := NewHub[int]()
	var total atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			hub.Subscribe(Func(func(v int) { total.Add(int64(v)) }))
		}()
		go func() {
			defer wg.Done()
			hub.Distribute(1)
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, hub.Len())
	before := total.Load()
	hub.Distribute(1)
	assert.Equal(t, before+20, total.Load())
}
