package housekeeping_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-push-relay/internal/housekeeping"
	"github.com/tinywideclouds/go-push-relay/internal/storage/memory"
	"github.com/tinywideclouds/go-push-relay/pkg/push"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type failingPurger struct{}

func (failingPurger) DeleteLogsBefore(context.Context, time.Time) (int, error) {
	return 0, errors.New("store down")
}

func TestSweep(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := now

	store := memory.NewStore().WithClock(func() time.Time { return clock })

	clock = now.Add(-15 * 24 * time.Hour)
	require.NoError(t, store.CreateLog(ctx, &push.NotificationLog{ID: "old", Status: push.LogSent}))
	clock = now.Add(-13 * 24 * time.Hour)
	require.NoError(t, store.CreateLog(ctx, &push.NotificationLog{ID: "recent", Status: push.LogFailed}))
	clock = now

	sweeper := housekeeping.NewSweeper(store, 0, newTestLogger()).WithClock(func() time.Time { return now })

	n, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = store.GetLog(ctx, "old")
	assert.Error(t, err)
	_, err = store.GetLog(ctx, "recent")
	assert.NoError(t, err)
}

func TestSweep_StoreError(t *testing.T) {
	sweeper := housekeeping.NewSweeper(failingPurger{}, time.Hour, newTestLogger())
	_, err := sweeper.Sweep(context.Background())
	assert.Error(t, err)
}

func TestSchedule(t *testing.T) {
	sweeper := housekeeping.NewSweeper(memory.NewStore(), time.Hour, newTestLogger())

	c, err := sweeper.Schedule("0 3 * * *", nil)
	require.NoError(t, err)
	assert.Len(t, c.Entries(), 1)

	_, err = sweeper.Schedule("not a schedule", nil)
	assert.Error(t, err)
}

func TestValidateSchedule(t *testing.T) {
	assert.NoError(t, housekeeping.ValidateSchedule("30 2 * * *"))
	assert.Error(t, housekeeping.ValidateSchedule(""))
	assert.Error(t, housekeeping.ValidateSchedule("61 * * * *"))
}
