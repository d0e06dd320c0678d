package updatelog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TickerVault/internal/model"
	"TickerVault/internal/store"
)

func TestRun_StartFinish(t *testing.T) {
	st := store.NewMemoryStore()
	svc := New(st, zerolog.Nop())
	clock := time.Date(2024, 3, 1, 16, 30, 0, 0, time.UTC)
	svc.now = func() time.Time { return clock }

	run := svc.Start(context.Background(), "historical-prices", map[string]any{"region": "USD"})
	clock = clock.Add(1500 * time.Millisecond)
	run.Finish(context.Background(), nil, "4/5 symbols updated", map[string]any{"success_count": 4})

	entries, err := svc.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	final, started := entries[0], entries[1]
	assert.Equal(t, model.StatusInProgress, started.Status)
	assert.Equal(t, model.StatusSuccess, final.Status)
	assert.Equal(t, "4/5 symbols updated", final.Message)
	assert.Equal(t, run.ID, started.Details["run_id"])
	assert.Equal(t, run.ID, final.Details["run_id"])
	assert.EqualValues(t, 1500, final.Details["duration_ms"])
	assert.Equal(t, "USD", started.Details["region"])
}

func TestRun_FinishWithError(t *testing.T) {
	svc := New(store.NewMemoryStore(), zerolog.Nop())

	run := svc.Start(context.Background(), "weekly-performance", nil)
	run.Finish(context.Background(), errors.New("store unavailable"), "", nil)

	entries, err := svc.List(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.StatusError, entries[0].Status)
	assert.Equal(t, "store unavailable", entries[0].Message)
	assert.Equal(t, "store unavailable", entries[0].Details["error"])
}

func TestRun_FinishSummary(t *testing.T) {
	svc := New(store.NewMemoryStore(), zerolog.Nop())

	run := svc.Start(context.Background(), TypeManualUpdate, map[string]any{"region": "USD"})
	run.FinishSummary(context.Background(), nil, model.Summarize([]model.SymbolResult{
		{Symbol: "AAPL", Region: "USD", Success: true},
		{Symbol: "BAD", Region: "USD", Error: "not found"},
	}))

	entries, err := svc.List(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, model.StatusSuccess, e.Status)
	assert.Equal(t, "1/2 symbols updated", e.Message)
	assert.Equal(t, []string{"USD:BAD"}, e.Details["failed"])

	run = svc.Start(context.Background(), TypeManualUpdate, nil)
	run.FinishSummary(context.Background(), &model.AlreadyRunningError{JobID: "update-all-regions"}, model.RunSummary{Skipped: true})
	entries, err = svc.List(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, model.StatusError, entries[0].Status)
	assert.Contains(t, entries[0].Message, "already running")
}

func TestService_Clear(t *testing.T) {
	svc := New(store.NewMemoryStore(), zerolog.Nop())
	for i := 0; i < 3; i++ {
		_, err := svc.Record(context.Background(), "manual", model.StatusSuccess, "", nil)
		require.NoError(t, err)
	}

	n, err := svc.Clear(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	entries, err := svc.List(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

type failingStore struct{ Store }

func (failingStore) AppendLog(context.Context, model.UpdateLogEntry) (int64, error) {
	return 0, errors.New("disk full")
}

func TestRun_AppendFailureDoesNotPanic(t *testing.T) {
	svc := New(failingStore{}, zerolog.Nop())
	run := svc.Start(context.Background(), "market-open", nil)
	assert.NotPanics(t, func() { run.Finish(context.Background(), nil, "ok", nil) })
}
