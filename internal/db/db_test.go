package db

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func startTestRun(t *testing.T, db *DB, id string, at time.Time) {
	t.Helper()
	require.NoError(t, db.StartRun(context.Background(), Run{
		ID: id, StartedAt: at, SerialPort: "/dev/ttyACM0", PanelCount: 4, ConfigJSON: "{}",
	}))
}

func TestMigrations_ApplyToLatest(t *testing.T) {
	db := newTestDB(t)
	version, dirty, err := db.MigrateVersion(MigrationsFS())
	require.NoError(t, err)
	assert.Equal(t, uint(3), version)
	assert.False(t, dirty)

	// idempotent
	require.NoError(t, db.MigrateUp(MigrationsFS()))

	for _, table := range []string{"runs", "link_events", "tick_stats"} {
		var n int
		err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&n)
		require.NoError(t, err)
		assert.Equal(t, 1, n, "table %s", table)
	}
}

func TestMigrations_Down(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.MigrateDown(MigrationsFS()))
	version, _, err := db.MigrateVersion(MigrationsFS())
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
}

func TestRuns(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	t0 := time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC)

	startTestRun(t, db, "run-a", t0)
	startTestRun(t, db, "run-b", t0.Add(time.Hour))
	require.NoError(t, db.FinishRun(ctx, "run-a", t0.Add(30*time.Minute)))

	err := db.FinishRun(ctx, "missing", t0)
	assert.Error(t, err)

	runs, err := db.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-b", runs[0].ID)
	assert.Nil(t, runs[0].EndedAt)
	require.NotNil(t, runs[1].EndedAt)
	assert.True(t, runs[1].EndedAt.Equal(t0.Add(30*time.Minute)))
	assert.Equal(t, 4, runs[1].PanelCount)
}

func TestLinkEvents(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	t0 := time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC)
	startTestRun(t, db, "run", t0)

	require.NoError(t, db.RecordLinkEvent(ctx, LinkEvent{RunID: "run", At: t0.Add(time.Second), Kind: "opened", Port: "p"}))
	require.NoError(t, db.RecordLinkEvent(ctx, LinkEvent{RunID: "run", At: t0.Add(2 * time.Second), Kind: "write_failed", Port: "p", Error: "EIO"}))

	events, err := db.LinkEvents(ctx, "run")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "opened", events[0].Kind)
	assert.Equal(t, "", events[0].Error)
	assert.Equal(t, "EIO", events[1].Error)
	assert.True(t, events[1].At.Equal(t0.Add(2*time.Second)))
}

func TestLinkEvents_UnknownRunRejected(t *testing.T) {
	db := newTestDB(t)
	err := db.RecordLinkEvent(context.Background(), LinkEvent{RunID: "nope", At: time.Now(), Kind: "opened", Port: "p"})
	assert.Error(t, err, "foreign key should reject events without a run")
}

func TestTickStats(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	t0 := time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC)
	startTestRun(t, db, "run", t0)

	for i := 0; i < 5; i++ {
		start := t0.Add(time.Duration(i) * 10 * time.Second)
		require.NoError(t, db.RecordTickStats(ctx, TickStats{
			RunID: "run", WindowStart: start, WindowEnd: start.Add(10 * time.Second),
			Ticks: 600, SessionsWritten: int64(590 + i), SessionsDropped: int64(10 - i),
			BytesWritten: 1000, MaxTick: 3 * time.Millisecond, MeanTick: 1500 * time.Microsecond,
		}))
	}

	stats, err := db.RecentTickStats(ctx, "run", 3)
	require.NoError(t, err)
	require.Len(t, stats, 3)
	assert.Equal(t, int64(592), stats[0].SessionsWritten, "oldest of the three most recent first")
	assert.Equal(t, int64(594), stats[2].SessionsWritten)
	assert.Equal(t, 3*time.Millisecond, stats[0].MaxTick)
	assert.Equal(t, 1500*time.Microsecond, stats[0].MeanTick)
}

type fakeStore struct {
	mu     sync.Mutex
	events []LinkEvent
	stats  []TickStats
	block  chan struct{}
	fail   bool
}

func (f *fakeStore) RecordLinkEvent(_ context.Context, ev LinkEvent) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("disk full")
	}
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeStore) RecordTickStats(_ context.Context, s TickStats) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats = append(f.stats, s)
	return nil
}

func TestRecorder_WritesAndDrains(t *testing.T) {
	store := &fakeStore{}
	r := NewRecorder(store, 8)
	assert.True(t, r.RecordLinkEvent(LinkEvent{Kind: "opened"}))
	assert.True(t, r.RecordTickStats(TickStats{Ticks: 1}))
	r.Close()

	assert.Len(t, store.events, 1)
	assert.Len(t, store.stats, 1)
	assert.Equal(t, uint64(2), r.Written())
	assert.False(t, r.RecordLinkEvent(LinkEvent{}), "closed recorder accepts nothing")
	r.Close()
}

func TestRecorder_DropsWhenFull(t *testing.T) {
	store := &fakeStore{block: make(chan struct{})}
	r := NewRecorder(store, 1)

	// first record is taken by the writer and blocks, second fills the queue
	r.RecordLinkEvent(LinkEvent{Kind: "a"})
	require.Eventually(t, func() bool { return r.RecordLinkEvent(LinkEvent{Kind: "b"}) }, time.Second, time.Millisecond)
	for i := 0; i < 5; i++ {
		r.RecordLinkEvent(LinkEvent{Kind: "c"})
	}
	assert.GreaterOrEqual(t, r.Dropped(), uint64(5))

	close(store.block)
	r.Close()
}

func TestRecorder_StoreErrorsAreLogged(t *testing.T) {
	store := &fakeStore{fail: true}
	r := NewRecorder(store, 4)
	r.RecordLinkEvent(LinkEvent{Kind: "opened"})
	r.Close()
	assert.Equal(t, uint64(0), r.Written())
}

func TestRecorder_WithRealDB(t *testing.T) {
	db := newTestDB(t)
	t0 := time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC)
	startTestRun(t, db, "run", t0)

	r := NewRecorder(db, 16)
	r.RecordLinkEvent(LinkEvent{RunID: "run", At: t0, Kind: "opened", Port: "p"})
	r.Close()

	events, err := db.LinkEvents(context.Background(), "run")
	require.NoError(t, err)
	assert.Len(t, events, 1)
}
