package audit

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/wirehome/internal/eventbus"
	"github.com/nerrad567/wirehome/internal/infrastructure/database"
	"github.com/nerrad567/wirehome/migrations"
)

func openRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{Path: filepath.Join(t.TempDir(), "journal.db"), WALMode: true, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

func TestRepository_CreateAndList(t *testing.T) {
	repo := openRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 22, 0, 0, 0, time.UTC)

	entries := []Entry{
		{Kind: "alarm_state_changed", ChannelRole: "alarm", Timestamp: base, Payload: json.RawMessage(`{"from":"disarmed","to":"armed"}`)},
		{Kind: "device_health_changed", ChannelRole: "relays", Timestamp: base.Add(time.Minute)},
		{Kind: "alarm_state_changed", ChannelRole: "alarm", Timestamp: base.Add(2 * time.Minute), Payload: json.RawMessage(`{"from":"armed","to":"triggered"}`)},
	}
	for i := range entries {
		if err := repo.Create(ctx, &entries[i]); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if entries[i].ID == "" {
			t.Error("Create() did not assign an ID")
		}
	}

	tests := []struct {
		name      string
		filter    Filter
		wantTotal int
		wantFirst string
	}{
		{"all newest first", Filter{}, 3, "alarm_state_changed"},
		{"by kind", Filter{Kind: "device_health_changed"}, 1, "device_health_changed"},
		{"by role", Filter{ChannelRole: "alarm"}, 2, "alarm_state_changed"},
		{"since", Filter{Since: base.Add(90 * time.Second)}, 1, "alarm_state_changed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := repo.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if res.Total != tt.wantTotal || len(res.Entries) != tt.wantTotal {
				t.Fatalf("List() total = %d (%d entries), want %d", res.Total, len(res.Entries), tt.wantTotal)
			}
			if res.Entries[0].Kind != tt.wantFirst {
				t.Errorf("first kind = %q, want %q", res.Entries[0].Kind, tt.wantFirst)
			}
		})
	}

	res, err := repo.List(ctx, Filter{Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Entries[0].Timestamp.Equal(base.Add(2*time.Minute)) {
		t.Errorf("newest timestamp = %v", res.Entries[0].Timestamp)
	}
	if string(res.Entries[0].Payload) != `{"from":"armed","to":"triggered"}` {
		t.Errorf("payload = %s", res.Entries[0].Payload)
	}
	if res.Limit != 1 || res.Total != 3 {
		t.Errorf("page = limit %d total %d, want 1 and 3", res.Limit, res.Total)
	}
}

func TestRepository_ListLimitClamp(t *testing.T) {
	repo := openRepo(t)
	res, err := repo.List(context.Background(), Filter{Limit: 1000, Offset: -5})
	if err != nil {
		t.Fatal(err)
	}
	if res.Limit != maxLimit || res.Offset != 0 {
		t.Errorf("limit/offset = %d/%d, want %d/0", res.Limit, res.Offset, maxLimit)
	}
	if res.Entries == nil {
		t.Error("Entries = nil, want empty slice")
	}
}

func TestRepository_Prune(t *testing.T) {
	repo := openRepo(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for _, age := range []time.Duration{100 * 24 * time.Hour, time.Hour} {
		if err := repo.Create(ctx, &Entry{Kind: "mode_changed", ChannelRole: "mode", Timestamp: now.Add(-age)}); err != nil {
			t.Fatal(err)
		}
	}

	n, err := repo.Prune(ctx, now.Add(-DefaultRetention))
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Prune() = %d, want 1", n)
	}
}

// memRepo records entries in memory.
type memRepo struct {
	mu      sync.Mutex
	entries []Entry
	pruned  []time.Time
}

func (m *memRepo) Create(_ context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, *e)
	return nil
}

func (m *memRepo) List(context.Context, Filter) (*ListResult, error) { return &ListResult{}, nil }

func (m *memRepo) Prune(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruned = append(m.pruned, before)
	return 0, nil
}

func (m *memRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func TestJournal_RecordsSubscribedKinds(t *testing.T) {
	repo := &memRepo{}
	eb := eventbus.New()
	sub := eb.Subscribe("journal", 16, JournalKinds...)

	j := NewJournal(repo, WithRetention(time.Hour))
	j.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		j.Run(ctx, sub)
		close(done)
	}()

	eb.Publish(eventbus.NewEvent(eventbus.KindStateChanged, "hallway-pir", eventbus.StateChange{New: 1}))
	eb.Publish(eventbus.NewEvent(eventbus.KindAlarmStateChanged, eventbus.RoleAlarm,
		eventbus.AlarmChange{From: "armed", To: "triggered", Reason: "motion"}))
	eb.Publish(eventbus.NewEvent(eventbus.KindActuationFailed, "siren", eventbus.ActuationResult{DeviceID: "relays"}))

	deadline := time.Now().Add(2 * time.Second)
	for repo.count() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("journal recorded %d entries, want 2", repo.count())
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	repo.mu.Lock()
	defer repo.mu.Unlock()
	if len(repo.entries) != 2 {
		t.Fatalf("entries = %d, want 2 (state changes are not journalled)", len(repo.entries))
	}
	var ac eventbus.AlarmChange
	if err := json.Unmarshal(repo.entries[0].Payload, &ac); err != nil || ac.To != "triggered" {
		t.Errorf("alarm payload = %s (%v)", repo.entries[0].Payload, err)
	}
	if len(repo.pruned) == 0 || !repo.pruned[0].Equal(time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)) {
		t.Errorf("pruned = %v, want cutoff one hour back", repo.pruned)
	}
}
