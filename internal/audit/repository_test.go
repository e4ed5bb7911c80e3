package audit

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-ipmi/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-ipmi/internal/infrastructure/database"
	_ "github.com/nerrad567/gray-logic-ipmi/migrations" // registers schema
)

func setupRepo(t *testing.T) (*SQLiteRepository, *time.Time) {
	t.Helper()

	db, err := database.Open(config.DatabaseConfig{Path: database.MemoryPath, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup
	if _, err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := NewSQLiteRepository(db.DB)
	repo.now = func() time.Time { return now }
	return repo, &now
}

func TestRecord_FillsDefaults(t *testing.T) {
	repo, now := setupRepo(t)

	e := &Entry{Command: "power_on", DeviceKey: "rack3", Source: SourceMQTT}
	if err := repo.Record(context.Background(), e); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if !strings.HasPrefix(e.ID, "cmd-") {
		t.Errorf("ID = %q, want cmd- prefix", e.ID)
	}
	if !e.CreatedAt.Equal(*now) {
		t.Errorf("CreatedAt = %v, want %v", e.CreatedAt, *now)
	}
	if e.Outcome != OutcomeAccepted {
		t.Errorf("Outcome = %q, want accepted", e.Outcome)
	}

	failed := &Entry{Command: "power_off", DeviceKey: "rack3", Source: SourceAPI, Error: "bridge unreachable"}
	if err := repo.Record(context.Background(), failed); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if failed.Outcome != OutcomeFailed {
		t.Errorf("Outcome with error = %q, want failed", failed.Outcome)
	}
}

func TestRecord_Validation(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		entry Entry
	}{
		{"missing command", Entry{DeviceKey: "rack3", Source: SourceAPI}},
		{"missing device", Entry{Command: "power_on", Source: SourceAPI}},
		{"missing source", Entry{Command: "power_on", DeviceKey: "rack3"}},
		{"unknown source", Entry{Command: "power_on", DeviceKey: "rack3", Source: "telnet"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := repo.Record(ctx, &tt.entry); err == nil {
				t.Error("Record() succeeded, want error")
			}
		})
	}
}

func TestList_FiltersAndOrder(t *testing.T) {
	repo, now := setupRepo(t)
	ctx := context.Background()

	start := *now
	seed := []Entry{
		{Command: "power_on", DeviceKey: "rack3", DeviceID: "Supermicro_rack3", CommandID: "c1", Source: SourceMQTT},
		{Command: "power_off", DeviceKey: "rack3", Source: SourceAPI, Error: "timeout"},
		{Command: "power_on", DeviceKey: "rack4", Source: SourceMQTT},
	}
	for i := range seed {
		*now = start.Add(time.Duration(i) * time.Minute)
		if err := repo.Record(ctx, &seed[i]); err != nil {
			t.Fatalf("Record(%d) error = %v", i, err)
		}
	}

	all, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if all.Total != 3 || len(all.Entries) != 3 || all.Limit != defaultListLimit {
		t.Fatalf("List() = %+v", all)
	}
	if all.Entries[0].DeviceKey != "rack4" || all.Entries[2].CommandID != "c1" {
		t.Errorf("order = %s, %s, want newest first", all.Entries[0].DeviceKey, all.Entries[2].CommandID)
	}
	if all.Entries[2].DeviceID != "Supermicro_rack3" {
		t.Errorf("DeviceID = %q", all.Entries[2].DeviceID)
	}

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"by device", Filter{DeviceKey: "rack3"}, 2},
		{"by command", Filter{Command: "power_on"}, 2},
		{"by source", Filter{Source: SourceMQTT}, 2},
		{"by outcome", Filter{Outcome: OutcomeFailed}, 1},
		{"combined", Filter{DeviceKey: "rack3", Command: "power_on"}, 1},
		{"since", Filter{Since: start.Add(time.Minute)}, 2},
		{"no match", Filter{DeviceKey: "rack9"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := repo.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if res.Total != tt.want || len(res.Entries) != tt.want {
				t.Errorf("total=%d len=%d, want %d", res.Total, len(res.Entries), tt.want)
			}
		})
	}
}

func TestList_Pagination(t *testing.T) {
	repo, now := setupRepo(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		*now = now.Add(time.Second)
		if err := repo.Record(ctx, &Entry{Command: "power_cycle", DeviceKey: "rack3", Source: SourceAPI}); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	page, err := repo.List(ctx, Filter{Limit: 2, Offset: 4})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if page.Total != 5 || len(page.Entries) != 1 {
		t.Errorf("page = total %d len %d, want 5/1", page.Total, len(page.Entries))
	}

	capped, err := repo.List(ctx, Filter{Limit: 1000, Offset: -3})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if capped.Limit != maxListLimit || capped.Offset != 0 {
		t.Errorf("limit/offset = %d/%d, want %d/0", capped.Limit, capped.Offset, maxListLimit)
	}

	empty, err := repo.List(ctx, Filter{DeviceKey: "none"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if empty.Entries == nil {
		t.Error("Entries is nil, want empty slice")
	}
}
