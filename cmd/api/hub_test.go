package main

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"
)

type offlineRecorder struct {
	mu   sync.Mutex
	uids []string
	err  error
	// block, when set, holds onLast until it is closed
	block   chan struct{}
	started chan struct{}
}

func (r *offlineRecorder) onLast(ctx context.Context, uid string) error {
	if r.block != nil {
		close(r.started)
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	r.uids = append(r.uids, uid)
	return r.err
}

func (r *offlineRecorder) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.uids...)
}

func TestStreamHub_OfflineOnlyAfterLastStream(t *testing.T) {
	rec := &offlineRecorder{}
	hub := NewStreamHub(rec.onLast, nil)

	idA := hub.Register("u1", func() {})
	idB := hub.Register("u1", func() {}) // second device
	if !hub.Connected("u1") {
		t.Fatal("u1 should be connected")
	}
	if n := hub.Count(); n != 2 {
		t.Fatalf("Count() = %d, want 2", n)
	}

	hub.Unregister(context.Background(), "u1", idA)
	if calls := rec.calls(); len(calls) != 0 {
		t.Fatalf("offline reported with a stream still open: %v", calls)
	}
	if !hub.Connected("u1") {
		t.Fatal("u1 should still be connected")
	}

	hub.Unregister(context.Background(), "u1", idB)
	if calls := rec.calls(); !slices.Equal(calls, []string{"u1"}) {
		t.Fatalf("offline calls = %v, want [u1]", calls)
	}
	if hub.Connected("u1") || hub.Count() != 0 {
		t.Fatal("hub should be empty")
	}

	// unknown ids are ignored
	hub.Unregister(context.Background(), "u1", idB)
	if calls := rec.calls(); len(calls) != 1 {
		t.Fatalf("offline calls = %v, want one", calls)
	}
}

func TestStreamHub_OnLastSurvivesCancelledContext(t *testing.T) {
	rec := &offlineRecorder{}
	hub := NewStreamHub(rec.onLast, nil)

	ctx, cancel := context.WithCancel(context.Background())
	id := hub.Register("u1", cancel)
	cancel()

	hub.Unregister(ctx, "u1", id)
	if calls := rec.calls(); !slices.Equal(calls, []string{"u1"}) {
		t.Fatalf("offline calls = %v, want [u1]", calls)
	}
}

func TestStreamHub_OnLastErrorIsLogged(t *testing.T) {
	rec := &offlineRecorder{err: errors.New("store down")}
	hub := NewStreamHub(rec.onLast, nil)

	id := hub.Register("u1", func() {})
	hub.Unregister(context.Background(), "u1", id)
	if calls := rec.calls(); !slices.Equal(calls, []string{"u1"}) {
		t.Fatalf("offline calls = %v, want [u1]", calls)
	}
}

func TestStreamHub_ReconnectBeforeOfflineWrite(t *testing.T) {
	rec := &offlineRecorder{}
	hub := NewStreamHub(rec.onLast, nil)

	id := hub.Register("u1", func() {})
	last, gen := hub.release("u1", id)
	if !last {
		t.Fatal("release should report the last stream")
	}

	// the client reconnects between release and the offline write
	hub.Register("u1", func() {})
	hub.finishOffline(context.Background(), "u1", gen)

	if calls := rec.calls(); len(calls) != 0 {
		t.Fatalf("reconnected user marked offline: %v", calls)
	}
	if !hub.Connected("u1") {
		t.Fatal("u1 should be connected")
	}
}

func TestStreamHub_RegisterWaitsForOfflineWrite(t *testing.T) {
	rec := &offlineRecorder{block: make(chan struct{}), started: make(chan struct{})}
	hub := NewStreamHub(rec.onLast, nil)

	id := hub.Register("u1", func() {})
	unregistered := make(chan struct{})
	go func() {
		hub.Unregister(context.Background(), "u1", id)
		close(unregistered)
	}()
	<-rec.started

	registered := make(chan struct{})
	go func() {
		hub.Register("u1", func() {})
		close(registered)
	}()
	select {
	case <-registered:
		t.Fatal("Register returned while the offline write was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	// other users are not held up
	hub.Register("u2", func() {})

	close(rec.block)
	<-unregistered
	select {
	case <-registered:
	case <-time.After(time.Second):
		t.Fatal("Register did not return after the offline write")
	}
	if !hub.Connected("u1") {
		t.Fatal("u1 should be connected after registering again")
	}
}

func TestStreamHub_Disconnect(t *testing.T) {
	hub := NewStreamHub(nil, nil)

	ctxA, cancelA := context.WithCancel(context.Background())
	ctxB, cancelB := context.WithCancel(context.Background())
	ctxOther, cancelOther := context.WithCancel(context.Background())
	defer cancelOther()

	hub.Register("u1", cancelA)
	hub.Register("u1", cancelB)
	hub.Register("u2", cancelOther)

	if n := hub.Disconnect("u1"); n != 2 {
		t.Fatalf("Disconnect(u1) = %d, want 2", n)
	}
	if ctxA.Err() == nil || ctxB.Err() == nil {
		t.Fatal("u1 streams should be cancelled")
	}
	if ctxOther.Err() != nil {
		t.Fatal("u2 stream should stay open")
	}
	if n := hub.Disconnect("nobody"); n != 0 {
		t.Fatalf("Disconnect(nobody) = %d, want 0", n)
	}
}
