package docstore

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Bus wraps a Store with in-process snapshot subscriptions.
// After every successful write, subscribers of the touched collection
// receive the full, freshly listed collection.
type Bus struct {
	Store
	mu   sync.RWMutex
	subs map[*subscription]struct{}
	seq  atomic.Uint64
}

type subscription struct {
	collection string
	order      Order
	onSnapshot func([]Document)
	onError    func(error)

	mu        sync.Mutex
	delivered uint64
	closed    bool
}

// NewBus creates a Bus wrapping the given store.
func NewBus(store Store) *Bus {
	return &Bus{
		Store: store,
		subs:  make(map[*subscription]struct{}),
	}
}

// Subscribe registers callbacks for collection and delivers the current
// snapshot before returning. Snapshots are delivered in write order; a
// snapshot older than one already delivered is dropped. The returned func
// unsubscribes and is safe to call more than once.
func (b *Bus) Subscribe(ctx context.Context, collection string, order Order, onSnapshot func([]Document), onError func(error)) func() {
	sub := &subscription{
		collection: collection,
		order:      order,
		onSnapshot: onSnapshot,
		onError:    onError,
	}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	b.deliver(ctx, sub, b.seq.Add(1))

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, sub)
			b.mu.Unlock()
			sub.mu.Lock()
			sub.closed = true
			sub.mu.Unlock()
		})
	}
}

// Create delegates to the underlying store, then publishes the collection.
func (b *Bus) Create(ctx context.Context, collection string, fields map[string]any) (string, error) {
	id, err := b.Store.Create(ctx, collection, fields)
	if err != nil {
		return "", err
	}
	b.publish(ctx, collection)
	return id, nil
}

// Update delegates to the underlying store, then publishes the collection.
func (b *Bus) Update(ctx context.Context, path string, fields map[string]any) error {
	if err := b.Store.Update(ctx, path, fields); err != nil {
		return err
	}
	b.publishPaths(ctx, path)
	return nil
}

// Delete delegates to the underlying store, then publishes the collection.
func (b *Bus) Delete(ctx context.Context, path string) error {
	if err := b.Store.Delete(ctx, path); err != nil {
		return err
	}
	b.publishPaths(ctx, path)
	return nil
}

// BatchDelete delegates to the underlying store, then publishes every
// touched collection once.
func (b *Bus) BatchDelete(ctx context.Context, paths []string) error {
	if err := b.Store.BatchDelete(ctx, paths); err != nil {
		return err
	}
	b.publishPaths(ctx, paths...)
	return nil
}

// Refresh re-lists every subscribed collection and delivers the result,
// picking up writes made by other processes sharing the store.
func (b *Bus) Refresh(ctx context.Context) {
	b.mu.RLock()
	seen := make(map[string]bool)
	var collections []string
	for sub := range b.subs {
		if !seen[sub.collection] {
			seen[sub.collection] = true
			collections = append(collections, sub.collection)
		}
	}
	b.mu.RUnlock()

	for _, c := range collections {
		b.publish(ctx, c)
	}
}

// Poll calls Refresh every interval until ctx is cancelled.
func (b *Bus) Poll(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.Refresh(ctx)
		}
	}
}

func (b *Bus) publishPaths(ctx context.Context, paths ...string) {
	seen := make(map[string]bool)
	for _, p := range paths {
		collection, _, err := Split(p)
		if err != nil || seen[collection] {
			continue
		}
		seen[collection] = true
		b.publish(ctx, collection)
	}
}

func (b *Bus) publish(ctx context.Context, collection string) {
	seq := b.seq.Add(1)

	b.mu.RLock()
	var targets []*subscription
	for sub := range b.subs {
		if sub.collection == collection {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		b.deliver(ctx, sub, seq)
	}
}

// deliver lists the collection and hands it to sub unless a newer snapshot
// already went out. Listing ignores cancellation of the writer's context.
func (b *Bus) deliver(ctx context.Context, sub *subscription, seq uint64) {
	docs, err := b.Store.List(context.WithoutCancel(ctx), sub.collection, sub.order)

	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed || seq < sub.delivered {
		return
	}
	sub.delivered = seq
	if err != nil {
		if sub.onError != nil {
			sub.onError(err)
		}
		return
	}
	sub.onSnapshot(docs)
}
