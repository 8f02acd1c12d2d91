package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/auriance-health/auriance/internal/models"
	"github.com/auriance-health/auriance/internal/store"
)

func TestSchedulerAddJob(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	// Should add a valid cron job without error
	if err := s.AddJob("* * * * *", func() {}); err != nil {
		t.Errorf("Expected no error adding job, got %v", err)
	}
	if err := s.AddJob("@every 10m", func() {}); err != nil {
		t.Errorf("Expected descriptor to be accepted, got %v", err)
	}
	if err := s.AddJob("not a schedule", func() {}); err == nil {
		t.Error("Expected error for invalid expression")
	}
}

func TestSchedulerRunsJob(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	ran := make(chan struct{}, 1)
	if err := s.AddJob("@every 1s", func() {
		select {
		case ran <- struct{}{}:
		default:
		}
	}); err != nil {
		t.Fatalf("AddJob failed: %v", err)
	}
	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not run")
	}
}

func TestIdleSweepRun(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	st := store.NewInMemoryStore(store.WithClock(clock))
	ctx := context.Background()

	if err := store.AppendTurn(ctx, st, "old", models.RoleUser, "bonjour"); err != nil {
		t.Fatalf("AppendTurn failed: %v", err)
	}
	now = now.Add(25 * time.Hour)
	if err := store.AppendTurn(ctx, st, "fresh", models.RoleUser, "bonjour"); err != nil {
		t.Fatalf("AppendTurn failed: %v", err)
	}

	sweep := NewIdleSweep(st, 24*time.Hour, nil, clock)
	evicted, err := sweep.Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if evicted != 1 {
		t.Errorf("expected 1 eviction, got %d", evicted)
	}
	if n, _ := st.Len(ctx); n != 1 {
		t.Errorf("expected 1 remaining conversation, got %d", n)
	}
}

func TestIdleSweepDisabled(t *testing.T) {
	st := store.NewInMemoryStore()
	sweep := NewIdleSweep(st, 0, nil, nil)
	s := NewScheduler()
	defer s.Stop()

	if err := sweep.Schedule(context.Background(), s, "garbage"); err != nil {
		t.Errorf("disabled sweep must not validate the schedule, got %v", err)
	}
	if n, err := sweep.Run(context.Background()); n != 0 || err != nil {
		t.Errorf("disabled sweep should do nothing, got %d, %v", n, err)
	}
}

func TestIdleSweepScheduleRejectsInvalid(t *testing.T) {
	sweep := NewIdleSweep(store.NewInMemoryStore(), time.Hour, nil, nil)
	s := NewScheduler()
	defer s.Stop()
	if err := sweep.Schedule(context.Background(), s, "every now and then"); err == nil {
		t.Error("expected invalid schedule error")
	}
}
