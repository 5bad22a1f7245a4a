package data

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/apperr"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/db"
	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/docstore"
)

func setupStore(t *testing.T) *MongoStore {
	t.Helper()
	uri := os.Getenv("MONGODB_URI")
	if uri == "" {
		t.Skip("MONGODB_URI not set; skipping integration test")
	}

	ctx := context.Background()
	name := fmt.Sprintf("classroom_it_%d", time.Now().UnixNano())
	c, err := db.New(ctx, uri, name)
	if err != nil {
		t.Fatalf("db.New failed: %v", err)
	}
	t.Cleanup(func() {
		_ = c.Database().Drop(context.Background())
		_ = c.Close(context.Background())
	})
	if err := c.CreateIndexes(ctx); err != nil {
		t.Fatalf("CreateIndexes failed: %v", err)
	}
	return NewMongoStore(c.Database(), WithPollInterval(100*time.Millisecond))
}

func TestMongoStoreSetMergeAndUpdate(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "onlineUsers", "u1", map[string]any{"name": "Amy", "isOnline": true, "lastSeen": docstore.ServerTimestamp()}, true); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	// second upsert must not create a duplicate
	if err := s.Set(ctx, "onlineUsers", "u1", map[string]any{"isOnline": false}, true); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	docs, err := s.Query(ctx, docstore.Query{Collection: "onlineUsers"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(docs) != 1 || docs[0].Bool("isOnline") || docs[0].String("name") != "Amy" {
		t.Fatalf("unexpected presence docs: %+v", docs)
	}

	err = s.Update(ctx, "doubts", "missing", map[string]any{"status": "answered"})
	if !apperr.IsNotFound(err) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestMongoStoreCreateConflict(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	if err := s.Create(ctx, "account_emails", "a@example.com", map[string]any{"uid": "1"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := s.Create(ctx, "account_emails", "a@example.com", map[string]any{"uid": "2"}); err != docstore.ErrAlreadyExists {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestMongoStoreConcurrentAppends(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	id, err := s.Add(ctx, "doubts", map[string]any{"question": "why?", "answers": []any{}, "createdAt": docstore.ServerTimestamp()})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := s.Update(ctx, "doubts", id, map[string]any{"answers": docstore.Append(fmt.Sprint(i))}); err != nil {
				t.Errorf("Update failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	doc, err := s.Get(ctx, "doubts", id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if n := len(doc.Slice("answers")); n != 10 {
		t.Fatalf("expected 10 answers, got %d", n)
	}
}

func TestMongoStoreOrderedLimitAndSubscribe(t *testing.T) {
	s := setupStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := docstore.Query{Collection: "community", OrderBy: "timestamp", Direction: docstore.Desc, Limit: 2}
	snaps := make(chan docstore.Snapshot, 16)
	unsub, err := s.Subscribe(ctx, q, func(snap docstore.Snapshot) { snaps <- snap })
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer unsub()

	for _, name := range []string{"A", "B", "C"} {
		if _, err := s.Add(ctx, "community", map[string]any{"content": name, "timestamp": docstore.ServerTimestamp()}); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case snap := <-snaps:
			if len(snap.Docs) == 2 && snap.Docs[0].String("content") == "C" && snap.Docs[1].String("content") == "B" {
				return
			}
		case <-deadline:
			t.Fatal("never observed [C, B]")
		}
	}
}
