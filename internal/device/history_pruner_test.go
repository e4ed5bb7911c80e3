package device

import (
	"context"
	"testing"
	"time"
)

func TestHistoryPruner_Prune(t *testing.T) {
	repo, now := setupHistory(t)
	ctx := context.Background()

	start := *now
	for _, age := range []time.Duration{72 * time.Hour, time.Hour} {
		*now = start.Add(-age)
		if err := repo.RecordStateChange(ctx, "Supermicro_rack3", State{"power_on": true}, ""); err != nil {
			t.Fatalf("RecordStateChange() error = %v", err)
		}
	}
	*now = start

	p := NewHistoryPruner(repo, 48*time.Hour, "@every 1h")
	deleted, err := p.Prune(ctx)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if deleted != 1 {
		t.Errorf("Prune() deleted %d, want 1", deleted)
	}
}

func TestHistoryPruner_ZeroRetentionDisables(t *testing.T) {
	repo, _ := setupHistory(t)

	p := NewHistoryPruner(repo, 0, "not a schedule")
	if err := p.Start(); err != nil {
		t.Fatalf("Start() with zero retention error = %v", err)
	}
	defer p.Stop()

	if n, err := p.Prune(context.Background()); n != 0 || err != nil {
		t.Errorf("Prune() = %d, %v; want 0, nil", n, err)
	}
}

func TestHistoryPruner_StartStop(t *testing.T) {
	repo, _ := setupHistory(t)

	p := NewHistoryPruner(repo, time.Hour, "@every 1h")
	if err := p.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := p.Start(); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}
	p.Stop()
	p.Stop()
}

func TestHistoryPruner_InvalidSchedule(t *testing.T) {
	repo, _ := setupHistory(t)

	p := NewHistoryPruner(repo, time.Hour, "every now and then")
	if err := p.Start(); err == nil {
		p.Stop()
		t.Fatal("Start() with invalid schedule succeeded")
	}
}
