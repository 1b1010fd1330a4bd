package events

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/treesync/internal/core/change"
	"github.com/zeusync/treesync/internal/core/tree"
	"github.com/zeusync/treesync/internal/core/view"
)

type testObserver struct {
	delivered int
	lastErr   error
}

func (o *testObserver) OnDelivered(_ view.Event, err error, _ int64) {
	o.delivered++
	o.lastErr = err
}

func valueEvent(reg *view.Registration, path string) view.Event {
	return view.Event{Kind: change.Value, Path: tree.ParsePath(path), Snapshot: tree.Empty, Registration: reg.ID()}
}

func childEvent(reg *view.Registration, path string) view.Event {
	return view.Event{Kind: change.ChildAdded, Path: tree.ParsePath(path), Snapshot: tree.Empty, Registration: reg.ID()}
}

type recorder struct {
	got []string
}

func (r *recorder) handler(name string) Handler {
	return func(e view.Event) error {
		r.got = append(r.got, name+" "+e.Path.String())
		return nil
	}
}

func TestDispatcherRoutesByRegistration(t *testing.T) {
	d := NewDispatcher()
	a, b := view.NewRegistration(), view.NewRegistration()
	rec := &recorder{}
	d.Subscribe(a, rec.handler("a"))
	d.Subscribe(b, rec.handler("b"))

	require.NoError(t, d.Deliver(valueEvent(b, "/x"), valueEvent(a, "/y")))
	assert.Equal(t, []string{"b /x", "a /y"}, rec.got)
}

func TestDispatcherJoinsHandlerErrors(t *testing.T) {
	d := NewDispatcher()
	obs := &testObserver{}
	d.AddObserver(obs)

	first, second := errors.New("first"), errors.New("second")
	a, b := view.NewRegistration(), view.NewRegistration()
	d.Subscribe(a, func(view.Event) error { return first })
	d.Subscribe(b, func(view.Event) error { return second })

	err := d.Deliver(valueEvent(a, "/"), valueEvent(b, "/"))
	assert.ErrorIs(t, err, first)
	assert.ErrorIs(t, err, second)
	assert.Equal(t, 2, obs.delivered)
	assert.Equal(t, Metrics{Delivered: 2, Errors: 2}, d.Metrics())

	d.RemoveObserver(obs)
	_ = d.Deliver(valueEvent(a, "/"))
	assert.Equal(t, 2, obs.delivered)
}

func TestCancelEventEndsSubscription(t *testing.T) {
	d := NewDispatcher()
	reg := view.NewRegistration()
	rec := &recorder{}
	sub := d.Subscribe(reg, rec.handler("r"))

	require.NoError(t, d.Deliver(reg.CreateCancelEvent(errors.New("denied"), tree.ParsePath("/a"))))
	assert.False(t, sub.IsActive())

	require.NoError(t, d.Deliver(valueEvent(reg, "/a")))
	assert.Equal(t, []string{"r /a"}, rec.got)
}

func TestUnsubscribedEventsAreDropped(t *testing.T) {
	d := NewDispatcher()
	obs := &testObserver{}
	d.AddObserver(obs)
	reg := view.NewRegistration()
	sub := d.Subscribe(reg, func(view.Event) error { return nil })
	sub.Cancel()
	sub.Cancel()

	require.NoError(t, d.Deliver(valueEvent(reg, "/")))
	assert.Equal(t, uint64(1), d.Metrics().Dropped)
	assert.Zero(t, obs.delivered)
}

func TestQueueRaisesAtPath(t *testing.T) {
	d := NewDispatcher()
	reg := view.NewChildRegistration()
	rec := &recorder{}
	d.Subscribe(reg, rec.handler("r"))
	q := NewQueue(d)

	q.QueueEvents([]view.Event{childEvent(reg, "/a/x"), childEvent(reg, "/a/y"), valueEvent(reg, "/b")})
	assert.Equal(t, 3, q.Len())

	require.NoError(t, q.RaiseEventsAtPath(tree.ParsePath("/a"), nil))
	assert.Equal(t, []string{"r /a/x", "r /a/y"}, rec.got)
	assert.Equal(t, 1, q.Len())

	require.NoError(t, q.RaiseEventsAtPath(tree.ParsePath("/b"), nil))
	assert.Equal(t, []string{"r /a/x", "r /a/y", "r /b"}, rec.got)
	assert.Zero(t, q.Len())
}

func TestQueueRaisesForChangedPath(t *testing.T) {
	d := NewDispatcher()
	reg := view.NewRegistration()
	rec := &recorder{}
	d.Subscribe(reg, rec.handler("r"))
	q := NewQueue(d)

	events := []view.Event{valueEvent(reg, "/a/b/c"), valueEvent(reg, "/a"), valueEvent(reg, "/z")}
	require.NoError(t, q.RaiseEventsForChangedPath(tree.ParsePath("/a/b"), events))
	assert.Equal(t, []string{"r /a/b/c", "r /a"}, rec.got)
	assert.Equal(t, 1, q.Len())
}

func TestQueueKeepsListsQueuedDuringDelivery(t *testing.T) {
	d := NewDispatcher()
	outer, nested := view.NewRegistration(), view.NewRegistration()
	rec := &recorder{}
	q := NewQueue(d)
	d.Subscribe(outer, func(e view.Event) error {
		q.QueueEvents([]view.Event{valueEvent(nested, "/elsewhere")})
		return rec.handler("outer")(e)
	})
	d.Subscribe(nested, rec.handler("nested"))

	require.NoError(t, q.RaiseEventsAtPath(tree.ParsePath("/a"), []view.Event{valueEvent(outer, "/a")}))
	assert.Equal(t, []string{"outer /a"}, rec.got)
	assert.Equal(t, 1, q.Len())

	require.NoError(t, q.RaiseEventsAtPath(tree.ParsePath("/elsewhere"), nil))
	assert.Equal(t, []string{"outer /a", "nested /elsewhere"}, rec.got)
	assert.Zero(t, q.Len())
}

func TestSubscriptionStateIsSafeAcrossGoroutines(t *testing.T) {
	d := NewDispatcher()
	sub := d.Subscribe(view.NewRegistration(), func(view.Event) error { return nil })

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = sub.IsActive()
			sub.Cancel()
		}()
	}
	wg.Wait()
	assert.False(t, sub.IsActive())
}

func BenchmarkDeliver(b *testing.B) {
	d := NewDispatcher()
	reg := view.NewRegistration()
	d.Subscribe(reg, func(view.Event) error { return nil })
	e := valueEvent(reg, "/bench")
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = d.Deliver(e)
	}
}
