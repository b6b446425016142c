package sqlstore

import (
	"context"
	"testing"

	"lracoord/internal/store"
)

func TestWriteReadRemove(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	if _, err := s.Read(ctx, store.TypeLRA, "missing"); err != store.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := s.Write(ctx, store.TypeLRA, "a", []byte(`{"id":"http://c/a","status":"Active"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	data, err := s.Read(ctx, store.TypeLRA, "a")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != `{"id":"http://c/a","status":"Active"}` {
		t.Fatalf("unexpected payload: %q", data)
	}

	if err := s.Remove(ctx, store.TypeLRA, "a"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := s.Read(ctx, store.TypeLRA, "a"); err != store.ErrNotFound {
		t.Fatalf("expected ErrNotFound after remove, got %v", err)
	}
}

func TestWriteIsAtomicReplace(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	s.Write(ctx, store.TypeLRA, "a", []byte(`{"id":"x","status":"Active"}`))
	s.Write(ctx, store.TypeLRA, "a", []byte(`{"id":"x","status":"Closed"}`))

	data, err := s.Read(ctx, store.TypeLRA, "a")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != `{"id":"x","status":"Closed"}` {
		t.Fatalf("expected replaced payload, got %q", data)
	}

	uids, err := s.List(ctx, store.TypeLRA)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(uids) != 1 {
		t.Fatalf("expected exactly one row after replace, got %v", uids)
	}
}

func TestMoveNeverLosesVisibility(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	s.Write(ctx, store.TypeLRA, "a", []byte(`{"id":"x","status":"FailedToClose"}`))
	if err := s.Move(ctx, store.TypeLRA, store.TypeFailedLRA, "a"); err != nil {
		t.Fatalf("move: %v", err)
	}

	if _, err := s.Read(ctx, store.TypeLRA, "a"); err != store.ErrNotFound {
		t.Fatalf("expected record gone from source type, got %v", err)
	}
	data, err := s.Read(ctx, store.TypeFailedLRA, "a")
	if err != nil {
		t.Fatalf("expected record under dest type: %v", err)
	}
	if string(data) != `{"id":"x","status":"FailedToClose"}` {
		t.Fatalf("payload changed across move: %q", data)
	}
}
