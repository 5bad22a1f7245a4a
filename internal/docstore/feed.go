package docstore

import "sync"

// Feed delivers snapshots to one subscriber on its own goroutine. Publish never
// blocks the writer: when the subscriber is slower than the writers only the
// newest pending snapshot is kept, which is safe because every snapshot is
// complete. Snapshots are delivered in publish order.
type Feed struct {
	fn SnapshotFunc

	mu      sync.Mutex
	pending *Snapshot
	closed  bool

	wake chan struct{}
	done chan struct{}
}

// NewFeed starts a delivery goroutine calling fn.
func NewFeed(fn SnapshotFunc) *Feed {
	f := &Feed{
		fn:   fn,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go f.run()
	return f
}

// Publish queues snap for delivery, replacing any undelivered snapshot.
func (f *Feed) Publish(snap Snapshot) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.pending = &snap
	f.mu.Unlock()

	select {
	case f.wake <- struct{}{}:
	default:
	}
}

// Close stops delivery. Pending snapshots are dropped; a delivery already in
// progress finishes.
func (f *Feed) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	f.pending = nil
	f.mu.Unlock()
	close(f.done)
}

// Done is closed once the feed is closed.
func (f *Feed) Done() <-chan struct{} { return f.done }

func (f *Feed) run() {
	for {
		select {
		case <-f.done:
			return
		case <-f.wake:
		}

		f.mu.Lock()
		if f.closed {
			f.mu.Unlock()
			return
		}
		snap := f.pending
		f.pending = nil
		f.mu.Unlock()

		if snap != nil {
			f.fn(*snap)
		}
	}
}
