package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nerrad567/wirehome/internal/eventbus"
)

// JournalKinds are the event kinds the journal records.
var JournalKinds = []eventbus.Kind{
	eventbus.KindAlarmStateChanged,
	eventbus.KindDeviceHealthChanged,
	eventbus.KindActuationFailed,
	eventbus.KindModeChanged,
	eventbus.KindOverflow,
}

// DefaultRetention is how long entries are kept when none is configured.
const DefaultRetention = 90 * 24 * time.Hour

// Logger is the logging surface used by the journal.
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Journal copies bus events into a Repository.
type Journal struct {
	repo      Repository
	logger    Logger
	retention time.Duration
	now       func() time.Time
}

// Option configures a Journal.
type Option func(*Journal)

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(j *Journal) { j.logger = l }
}

// WithRetention sets how long entries are kept. Zero disables pruning.
func WithRetention(d time.Duration) Option {
	return func(j *Journal) { j.retention = d }
}

// NewJournal creates a journal writing to repo.
func NewJournal(repo Repository, opts ...Option) *Journal {
	j := &Journal{
		repo:      repo,
		logger:    noopLogger{},
		retention: DefaultRetention,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Run records events from sub until ctx ends. Old entries are pruned
// at start and once a day.
func (j *Journal) Run(ctx context.Context, sub *eventbus.Subscription) {
	defer sub.Close()

	j.prune(ctx)
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Keep what is already queued.
			for {
				ev, ok := sub.TryNext()
				if !ok {
					return
				}
				j.Record(context.WithoutCancel(ctx), ev)
			}
		case <-ticker.C:
			j.prune(ctx)
		case <-sub.Wait():
			for {
				ev, ok := sub.TryNext()
				if !ok {
					break
				}
				j.Record(ctx, ev)
			}
		}
	}
}

// Record writes one event.
func (j *Journal) Record(ctx context.Context, ev eventbus.Event) {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		j.logger.Error("journal: encoding payload", "kind", string(ev.Kind), "error", err)
		return
	}

	entry := &Entry{
		ID:          ev.ID.String(),
		Kind:        string(ev.Kind),
		ChannelRole: ev.ChannelRole,
		Timestamp:   ev.Timestamp,
		Payload:     payload,
	}
	if err := j.repo.Create(ctx, entry); err != nil {
		j.logger.Warn("journal: write failed", "kind", entry.Kind, "role", entry.ChannelRole, "error", err)
	}
}

func (j *Journal) prune(ctx context.Context) {
	if j.retention <= 0 {
		return
	}
	if _, err := j.repo.Prune(ctx, j.now().Add(-j.retention)); err != nil {
		j.logger.Warn("journal: prune failed", "error", err)
	}
}
