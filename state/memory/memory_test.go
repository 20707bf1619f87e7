package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/agentgrid-dev/agentgrid/state"
)

func TestCreateGetDelete(t *testing.T) {
	ctx := context.Background()
	s := New()

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

	if ok, _ := s.Exists(ctx, "a1"); !ok {
		t.Fatal("a1 should exist")
	}

	if err := s.Delete(ctx, "a1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, "a1"); !errors.Is(err, state.ErrNotFound) {
		t.Fatalf("get after delete should fail with ErrNotFound, got %v", err)
	}
	// Absent ids delete as a no-op.
	if err := s.Delete(ctx, "a1"); err != nil {
		t.Fatal(err)
	}
}

func TestValuesRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New()
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

	type profile struct {
		Age  int      `json:"age"`
		Tags []string `json:"tags"`
	}
	if err := st.Put("profile", profile{Age: 30, Tags: []string{"x"}}); err != nil {
		t.Fatal(err)
	}
	var p profile
	ok, err := st.Decode("profile", &p)
	if err != nil || !ok {
		t.Fatalf("decode: %v, %v", ok, err)
	}
	if p.Age != 30 || len(p.Tags) != 1 {
		t.Fatalf("got %+v", p)
	}

	if err := st.Remove("name"); err != nil {
		t.Fatal(err)
	}
	if st.Contains("name") {
		t.Fatal("name should be gone")
	}
}

func TestReservedKeysRejected(t *testing.T) {
	ctx := context.Background()
	s := New()
	st, _ := s.Create(ctx, "a1")

	if err := st.Put("_type", "Sneaky"); !errors.Is(err, state.ErrReservedKey) {
		t.Fatalf("expected ErrReservedKey, got %v", err)
	}
	if err := st.Remove("_type"); !errors.Is(err, state.ErrReservedKey) {
		t.Fatalf("expected ErrReservedKey, got %v", err)
	}
}

func TestAgentTypeSlot(t *testing.T) {
	ctx := context.Background()
	s := New()
	st, _ := s.Create(ctx, "a1")

	if st.AgentType() != "" {
		t.Fatal("fresh state has no type")
	}
	if err := st.SetAgentType("EchoAgent"); err != nil {
		t.Fatal(err)
	}
	if st.AgentType() != "EchoAgent" {
		t.Fatalf("got type %q", st.AgentType())
	}
}

func TestAllIDs(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, id := range []string{"a1", "a2", "a3"} {
		if _, err := s.Create(ctx, id); err != nil {
			t.Fatal(err)
		}
	}
	ids, err := s.AllIDs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 3 {
		t.Fatalf("got %d ids", len(ids))
	}
}
