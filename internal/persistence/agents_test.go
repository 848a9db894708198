package persistence_test

import (
	"context"
	"testing"

	"github.com/basket/crewctl/internal/persistence"
)

func TestRegisterUpserts(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	mustOK(t)(s.Register(ctx, "alice", "planner"))
	mustOK(t)(s.Register(ctx, "alice", "architect"))

	agent, err := s.GetAgent(ctx, "alice")
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	if agent == nil || agent.Role != "architect" {
		t.Fatalf("agent = %+v, want updated role", agent)
	}
	if agent.Status != "idle" {
		t.Fatalf("status = %s, want idle for fresh agent", agent.Status)
	}
}

func TestRegisterRequiresName(t *testing.T) {
	s := newStore(t)
	res, err := s.Register(context.Background(), "", "coder")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if res.Code != persistence.CodeInvalid {
		t.Fatalf("code = %d, want invalid", res.Code)
	}
}

func TestCheckinDerivesBusyFromOwnership(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	mustOK(t)(s.Register(ctx, "bob", "coder"))

	id := mustCreate(t, s, "Implement auth", persistence.CreateTaskOptions{})
	mustOK(t)(s.Claim(ctx, id, "bob", false))
	mustOK(t)(s.Start(ctx, id, "bob"))
	mustOK(t)(s.Checkin(ctx, "bob"))

	agent, err := s.GetAgent(ctx, "bob")
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	if agent.Status != "busy" {
		t.Fatalf("status = %s, want busy while owning in_progress work", agent.Status)
	}
	if agent.LastSeen == nil {
		t.Fatal("checkin must stamp last_seen")
	}

	mustOK(t)(s.Complete(ctx, id, "bob", "", false))
	mustOK(t)(s.Checkin(ctx, "bob"))
	agent, err = s.GetAgent(ctx, "bob")
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	if agent.Status != "idle" {
		t.Fatalf("status = %s after completing, want idle", agent.Status)
	}
}

func TestCheckinRegistersUnknownAgent(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	mustOK(t)(s.Checkin(ctx, "drifter"))

	agent, err := s.GetAgent(ctx, "drifter")
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	if agent == nil || agent.Role != "" {
		t.Fatalf("agent = %+v, want implicit registration with empty role", agent)
	}
}

func TestFleetShowsCurrentWork(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	mustOK(t)(s.Register(ctx, "alice", "planner"))
	mustOK(t)(s.Register(ctx, "bob", "coder"))

	id := mustCreate(t, s, "Implement auth", persistence.CreateTaskOptions{})
	mustOK(t)(s.Claim(ctx, id, "bob", false))
	mustOK(t)(s.Start(ctx, id, "bob"))

	fleet, err := s.Fleet(ctx)
	if err != nil {
		t.Fatalf("fleet: %v", err)
	}
	if len(fleet) != 2 {
		t.Fatalf("fleet = %d agents, want 2", len(fleet))
	}
	// Ordered by name: alice, bob.
	if fleet[0].Name != "alice" || fleet[0].WorkingOn != "" {
		t.Fatalf("fleet[0] = %+v", fleet[0])
	}
	if fleet[1].Name != "bob" || fleet[1].WorkingOn != "Implement auth" {
		t.Fatalf("fleet[1] = %+v", fleet[1])
	}
}
