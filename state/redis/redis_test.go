package redis

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/agentgrid-dev/agentgrid/state"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewFromClient(client, "test:state:")
}

func TestCreateGetDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	st, err := s.Create(ctx, "a1")
	if err != nil {
		t.Fatal(err)
	}
	if st.AgentID() != "a1" {
		t.Fatalf("got agent id %q", st.AgentID())
	}

	if _, err := s.Create(ctx, "a1"); !errors.Is(err, state.ErrExists) {
		t.Fatalf("second create should fail with ErrExists, got %v", err)
	}

	if ok, err := s.Exists(ctx, "a1"); err != nil || !ok {
		t.Fatalf("a1 should exist: %v, %v", ok, err)
	}

	if err := s.Delete(ctx, "a1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, "a1"); !errors.Is(err, state.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.Delete(ctx, "a1"); err != nil {
		t.Fatal("deleting an absent id should be a no-op")
	}
}

func TestValuesRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	st, err := s.Create(ctx, "a1")
	if err != nil {
		t.Fatal(err)
	}

	if err := st.Put("name", "alice"); err != nil {
		t.Fatal(err)
	}
	if v, ok := st.GetString("name"); !ok || v != "alice" {
		t.Fatalf("got %q, %v", v, ok)
	}

	type point struct {
		X int `json:"x"`
		Y int `json:"y"`
	}
	if err := st.Put("pos", point{X: 1, Y: 2}); err != nil {
		t.Fatal(err)
	}
	var p point
	ok, err := st.Decode("pos", &p)
	if err != nil || !ok {
		t.Fatalf("decode: %v, %v", ok, err)
	}
	if p.X != 1 || p.Y != 2 {
		t.Fatalf("got %+v", p)
	}

	if err := st.Remove("name"); err != nil {
		t.Fatal(err)
	}
	if st.Contains("name") {
		t.Fatal("name should be gone")
	}
}

func TestValuesVisibleAcrossHandles(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	st1, err := s.Create(ctx, "a1")
	if err != nil {
		t.Fatal(err)
	}
	if err := st1.SetAgentType("EchoAgent"); err != nil {
		t.Fatal(err)
	}
	if err := st1.Put("count", 5); err != nil {
		t.Fatal(err)
	}

	st2, err := s.Get(ctx, "a1")
	if err != nil {
		t.Fatal(err)
	}
	if st2.AgentType() != "EchoAgent" {
		t.Fatalf("got type %q", st2.AgentType())
	}
	var count int
	if _, err := st2.Decode("count", &count); err != nil {
		t.Fatal(err)
	}
	if count != 5 {
		t.Fatalf("got count %d", count)
	}
}

func TestReservedKeysRejected(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	st, err := s.Create(ctx, "a1")
	if err != nil {
		t.Fatal(err)
	}
	if err := st.Put("_type", "Sneaky"); !errors.Is(err, state.ErrReservedKey) {
		t.Fatalf("expected ErrReservedKey, got %v", err)
	}
}

func TestAllIDs(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	for _, id := range []string{"a1", "a2"} {
		if _, err := s.Create(ctx, id); err != nil {
			t.Fatal(err)
		}
	}
	ids, err := s.AllIDs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 {
		t.Fatalf("got ids %v", ids)
	}
}

func TestClosedStoreRefusesOps(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Create(ctx, "a1"); err == nil {
		t.Fatal("closed store should refuse operations")
	}
}
