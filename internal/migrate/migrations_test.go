package migrate

import (
	"context"
	"testing"

	"missionctl/internal/db"
)

func TestMigrateIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()
	ctx := context.Background()

	before, err := CurrentStatus(ctx, conn)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if before.Current != 0 || before.UpToDate() {
		t.Fatalf("fresh db should be behind, got %+v", before)
	}

	for i := 0; i < 2; i++ {
		if err := Migrate(conn); err != nil {
			t.Fatalf("migrate #%d: %v", i+1, err)
		}
	}
	after, err := CurrentStatus(ctx, conn)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !after.UpToDate() || after.Current != after.Latest {
		t.Fatalf("expected up to date, got %+v", after)
	}

	for _, table := range []string{"agents", "tasks", "task_activities", "agent_mentions", "events"} {
		var n int
		if err := conn.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&n); err != nil {
			t.Fatalf("lookup %s: %v", table, err)
		}
		if n != 1 {
			t.Fatalf("table %s missing", table)
		}
	}
}

func TestLoadMigrationsOrdered(t *testing.T) {
	ms, err := loadMigrations()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(ms) == 0 || ms[0].Version != 1 {
		t.Fatalf("unexpected migrations %+v", ms)
	}
	for i := 1; i < len(ms); i++ {
		if ms[i].Version <= ms[i-1].Version {
			t.Fatalf("migrations out of order at %d", i)
		}
	}
}
