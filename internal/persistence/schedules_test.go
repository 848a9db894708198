package persistence_test

import (
	"context"
	"testing"
	"time"

	"github.com/basket/crewctl/internal/persistence"
)

func TestScheduleLifecycle(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	next := time.Now().Add(time.Hour)

	id, err := s.CreateSchedule(ctx, "daily-standup", "0 9 * * *", "Run the standup", 3, "alice", next)
	if err != nil {
		t.Fatalf("create schedule: %v", err)
	}

	schedules, err := s.ListSchedules(ctx)
	if err != nil {
		t.Fatalf("list schedules: %v", err)
	}
	if len(schedules) != 1 {
		t.Fatalf("schedules = %d, want 1", len(schedules))
	}
	sc := schedules[0]
	if sc.ID != id || sc.Name != "daily-standup" || sc.CronExpr != "0 9 * * *" || !sc.Enabled {
		t.Fatalf("schedule = %+v", sc)
	}
	if sc.NextRunAt == nil {
		t.Fatal("next run must be set at creation")
	}

	res, err := s.DeleteSchedule(ctx, id, "alice")
	if err != nil {
		t.Fatalf("delete schedule: %v", err)
	}
	if !res.OK() {
		t.Fatalf("delete rejected: %s", res.Info)
	}

	res, err = s.DeleteSchedule(ctx, id, "alice")
	if err != nil {
		t.Fatalf("delete schedule: %v", err)
	}
	if res.Code != persistence.CodeNotFound {
		t.Fatalf("code = %d, want not found on second delete", res.Code)
	}
}

func TestDueSchedulesAndRunAdvance(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now()

	overdue, err := s.CreateSchedule(ctx, "overdue", "* * * * *", "Tick", 0, "alice", now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("create overdue: %v", err)
	}
	if _, err := s.CreateSchedule(ctx, "future", "0 9 * * *", "Later", 0, "alice", now.Add(time.Hour)); err != nil {
		t.Fatalf("create future: %v", err)
	}

	due, err := s.DueSchedules(ctx, now)
	if err != nil {
		t.Fatalf("due schedules: %v", err)
	}
	if len(due) != 1 || due[0].ID != overdue {
		t.Fatalf("due = %+v, want only the overdue schedule", due)
	}

	if err := s.MarkScheduleRun(ctx, overdue, 0, now, now.Add(time.Minute)); err != nil {
		t.Fatalf("mark run: %v", err)
	}
	due, err = s.DueSchedules(ctx, now)
	if err != nil {
		t.Fatalf("due schedules: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("due = %d after advance, want 0", len(due))
	}
}

func TestMarkScheduleRunRecordsLedgerEntry(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now()

	id, err := s.CreateSchedule(ctx, "nightly-report", "0 2 * * *", "Build the report", 0, "alice", now)
	if err != nil {
		t.Fatalf("create schedule: %v", err)
	}
	taskID := mustCreate(t, s, "Build the report", persistence.CreateTaskOptions{
		CreatedBy: "scheduler:nightly-report",
	})

	if err := s.MarkScheduleRun(ctx, id, taskID, now, now.Add(24*time.Hour)); err != nil {
		t.Fatalf("mark run: %v", err)
	}

	feed, err := s.Feed(ctx, 10, "")
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	var fired *persistence.Activity
	for i := range feed {
		if feed[i].Action == "schedule_fired" {
			fired = &feed[i]
			break
		}
	}
	if fired == nil {
		t.Fatalf("ledger missing schedule_fired: %+v", feed)
	}
	if fired.EntityType != "schedule" || fired.EntityID != id || fired.Detail != "nightly-report" {
		t.Fatalf("schedule_fired entry = %+v", fired)
	}
}
