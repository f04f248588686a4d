package backup

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"seatwatch/internal/eventbus"
	"seatwatch/internal/memory"
	"seatwatch/pkg/logx"
)

func openStore(t *testing.T) memory.Store {
	t.Helper()
	st, err := memory.Open(context.Background(), memory.Config{Path: filepath.Join(t.TempDir(), "m.json")}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	rec := memory.Empty()
	rec.KnownItems["CSA0701"] = 3
	if err := st.Save(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
	return st
}

func TestRunPublishesAndPrunes(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()

	s := New(Config{Dir: dir, Keep: 2}, openStore(t), logx.Nop(), bus)
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }

	for i := 0; i < 3; i++ {
		clock = clock.Add(time.Hour)
		if _, err := s.Run(context.Background()); err != nil {
			t.Fatalf("Run %d: %v", i, err)
		}
	}
	names, err := memory.ListBackups(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 2 || names[1] != "memory-20260101T030000.json" {
		t.Fatalf("backups = %v", names)
	}
	for i := 0; i < 3; i++ {
		ev := <-events
		if ev.Type != eventbus.TypeBackupFinished || ev.Data.(Result).Error != "" {
			t.Fatalf("event %d = %+v", i, ev)
		}
	}
}

func TestRunWithoutDir(t *testing.T) {
	t.Parallel()
	s := New(Config{}, openStore(t), logx.Nop(), nil)
	if _, err := s.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestStartSchedules(t *testing.T) {
	t.Parallel()
	s := New(Config{Schedule: "@every 1h", Dir: t.TempDir()}, openStore(t), logx.Nop(), nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop(context.Background())
	if next := s.Next(); next.IsZero() || time.Until(next) > time.Hour+time.Minute {
		t.Fatalf("next = %v", next)
	}

	bad := New(Config{Schedule: "whenever", Dir: t.TempDir()}, openStore(t), logx.Nop(), nil)
	if err := bad.Start(context.Background()); err == nil {
		t.Fatal("bad schedule accepted")
	}
	if New(Config{}, nil, logx.Nop(), nil).Start(context.Background()) != nil {
		t.Fatal("disabled service should start as no-op")
	}
}
