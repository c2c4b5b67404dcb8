package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/quakeloss/internal/exposure"
	"github.com/sells-group/quakeloss/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func testEvent(id string) model.Event {
	return model.Event{
		ID:        id,
		Magnitude: 7.8,
		Time:      time.Date(2015, 4, 25, 6, 11, 26, 0, time.UTC),
		Depth:     8.2,
		Lat:       28.23,
		Lon:       84.73,
		Location:  "Nepal",
	}
}

func TestSQLite_RunLifecycle(t *testing.T) {
	t.Parallel()
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, testEvent("us20002926"))
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, model.RunStatusQueued, run.Status)

	require.NoError(t, st.UpdateRunStatus(ctx, run.ID, model.RunStatusEstimating))
	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusEstimating, got.Status)
	assert.Equal(t, "Nepal", got.Event.Location)
	assert.Nil(t, got.Result)

	result := &model.RunResult{
		SummaryAlert:   model.AlertRed,
		FatalityAlert:  model.AlertRed,
		EconomicAlert:  model.AlertOrange,
		FatalityMedian: 4200,
		FatalitySigma:  1.3,
		TotalExposed:   1_000_000,
	}
	require.NoError(t, st.CompleteRun(ctx, run.ID, result))

	got, err = st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, model.AlertRed, got.Result.SummaryAlert)
	assert.Equal(t, model.AlertOrange, got.Result.EconomicAlert)
	assert.InDelta(t, 4200.0, got.Result.FatalityMedian, 1e-9)
}

func TestSQLite_FailRun(t *testing.T) {
	t.Parallel()
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, testEvent("ev1"))
	require.NoError(t, err)

	cause := &model.GridMismatchError{Grid: "population"}
	require.NoError(t, st.FailRun(ctx, run.ID, cause))

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, got.Status)
	assert.Contains(t, got.Error, "population")
}

func TestSQLite_NotFound(t *testing.T) {
	t.Parallel()
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.GetRun(ctx, "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))

	err = st.UpdateRunStatus(ctx, "missing", model.RunStatusFailed)
	assert.True(t, errors.Is(err, ErrNotFound))

	err = st.CompleteRun(ctx, "missing", &model.RunResult{})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLite_ListRuns(t *testing.T) {
	t.Parallel()
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	a, err := st.CreateRun(ctx, testEvent("a"))
	require.NoError(t, err)
	_, err = st.CreateRun(ctx, testEvent("b"))
	require.NoError(t, err)
	_, err = st.CreateRun(ctx, testEvent("b"))
	require.NoError(t, err)
	require.NoError(t, st.UpdateRunStatus(ctx, a.ID, model.RunStatusFailed))

	tests := []struct {
		name   string
		filter RunFilter
		want   int
	}{
		{"all", RunFilter{}, 3},
		{"by status", RunFilter{Status: model.RunStatusFailed}, 1},
		{"by event", RunFilter{EventID: "b"}, 2},
		{"limit", RunFilter{Limit: 1}, 1},
		{"offset", RunFilter{Offset: 2}, 1},
		{"no match", RunFilter{EventID: "zzz"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runs, err := st.ListRuns(ctx, tt.filter)
			require.NoError(t, err)
			assert.Len(t, runs, tt.want)
		})
	}
}

func TestSQLite_Exposure(t *testing.T) {
	t.Parallel()
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, testEvent("ev"))
	require.NoError(t, err)

	rows := []exposure.Row{
		{Country: 524, Bin: 8, Population: 300},
		{Country: 356, Bin: 6, Population: 100},
		{Country: 524, Bin: 7, Population: 200},
	}
	require.NoError(t, st.SaveExposure(ctx, run.ID, rows))

	// Saving again replaces rows with the same key.
	require.NoError(t, st.SaveExposure(ctx, run.ID, []exposure.Row{{Country: 524, Bin: 8, Population: 301}}))

	got, err := st.GetExposure(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, []exposure.Row{
		{Country: 356, Bin: 6, Population: 100},
		{Country: 524, Bin: 7, Population: 200},
		{Country: 524, Bin: 8, Population: 301},
	}, got)

	empty, err := st.GetExposure(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, empty)
}
