package docstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu        sync.Mutex
	snapshots [][]Document
	errs      []error
}

func (r *recorder) snapshot(docs []Document) {
	r.mu.Lock()
	r.snapshots = append(r.snapshots, docs)
	r.mu.Unlock()
}

func (r *recorder) fail(err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
}

func (r *recorder) last() []Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshots[len(r.snapshots)-1]
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snapshots)
}

func TestBusInitialSnapshot(t *testing.T) {
	ctx := context.Background()
	mem := NewMemStore()
	_, err := mem.Create(ctx, "c", map[string]any{"n": 1})
	require.NoError(t, err)

	bus := NewBus(mem)
	var rec recorder
	unsub := bus.Subscribe(ctx, "c", Order{}, rec.snapshot, rec.fail)
	defer unsub()

	require.Equal(t, 1, rec.count(), "initial snapshot is delivered before Subscribe returns")
	assert.Len(t, rec.last(), 1)
}

func TestBusPublishesOnWrites(t *testing.T) {
	ctx := context.Background()
	bus := NewBus(NewMemStore())

	var tasks, other recorder
	unsubTasks := bus.Subscribe(ctx, "users/u/tasks", Order{}, tasks.snapshot, tasks.fail)
	defer unsubTasks()
	unsubOther := bus.Subscribe(ctx, "users/u/projects", Order{}, other.snapshot, other.fail)
	defer unsubOther()

	id, err := bus.Create(ctx, "users/u/tasks", map[string]any{"title": "a"})
	require.NoError(t, err)
	assert.Len(t, tasks.last(), 1)

	require.NoError(t, bus.Update(ctx, Path("users/u/tasks", id), map[string]any{"title": "b"}))
	assert.Equal(t, "b", tasks.last()[0].Fields["title"])

	require.NoError(t, bus.BatchDelete(ctx, []string{Path("users/u/tasks", id)}))
	assert.Empty(t, tasks.last())

	assert.Equal(t, 4, tasks.count())
	assert.Equal(t, 1, other.count(), "other collections are not notified")
}

func TestBusFailedWriteDoesNotPublish(t *testing.T) {
	ctx := context.Background()
	bus := NewBus(NewMemStore())
	var rec recorder
	defer bus.Subscribe(ctx, "c", Order{}, rec.snapshot, rec.fail)()

	err := bus.Update(ctx, Path("c", "missing"), map[string]any{"x": 1})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, rec.count())
}

func TestBusUnsubscribe(t *testing.T) {
	ctx := context.Background()
	bus := NewBus(NewMemStore())
	var rec recorder
	unsub := bus.Subscribe(ctx, "c", Order{}, rec.snapshot, rec.fail)
	unsub()
	unsub()

	_, err := bus.Create(ctx, "c", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.count())
}

type failingList struct {
	*MemStore
	err error
}

func (f failingList) List(ctx context.Context, collection string, order Order) ([]Document, error) {
	return nil, f.err
}

func TestBusDeliversListErrors(t *testing.T) {
	boom := errors.New("permission denied")
	bus := NewBus(failingList{MemStore: NewMemStore(), err: boom})
	var rec recorder
	defer bus.Subscribe(context.Background(), "c", Order{}, rec.snapshot, rec.fail)()

	assert.Equal(t, 0, rec.count())
	require.Len(t, rec.errs, 1)
	assert.ErrorIs(t, rec.errs[0], boom)
}

func TestBusConcurrentWritesEndConsistent(t *testing.T) {
	ctx := context.Background()
	bus := NewBus(NewMemStore())
	var rec recorder
	defer bus.Subscribe(ctx, "c", Order{}, rec.snapshot, rec.fail)()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := bus.Create(ctx, "c", map[string]any{"n": 1})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, rec.last(), 20, "the newest snapshot is never replaced by an older one")
}

func TestBusRefreshSeesWritesAroundIt(t *testing.T) {
	ctx := context.Background()
	mem := NewMemStore()
	bus := NewBus(mem)
	var rec recorder
	unsub := bus.Subscribe(ctx, "c", Order{}, rec.snapshot, rec.fail)
	defer unsub()

	// A write straight to the store, as another process would make it.
	_, err := mem.Create(ctx, "c", map[string]any{"n": 1})
	require.NoError(t, err)
	assert.Empty(t, rec.last())

	bus.Refresh(ctx)
	assert.Equal(t, 2, rec.count())
	assert.Len(t, rec.last(), 1)
}

func TestBusPollStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	bus := NewBus(NewMemStore())
	var rec recorder
	unsub := bus.Subscribe(ctx, "c", Order{}, rec.snapshot, rec.fail)
	defer unsub()

	done := make(chan struct{})
	go func() {
		bus.Poll(ctx, time.Millisecond)
		close(done)
	}()
	require.Eventually(t, func() bool { return rec.count() > 2 }, time.Second, time.Millisecond)
	cancel()
	<-done
}
