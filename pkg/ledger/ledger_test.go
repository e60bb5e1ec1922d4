package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAccumulatesTotal(t *testing.T) {
	l := New(BudgetSpec{}, 100)
	require.NoError(t, l.Record(CostEntry{Timestamp: time.Unix(100, 0), Cost: 1.5}))
	require.NoError(t, l.Record(CostEntry{Timestamp: time.Unix(200, 0), Cost: 2.5}))
	assert.InDelta(t, 4.0, l.Total(), 1e-9)
}

// Daily budget breach scenario: a daily budget of $10, spend already at
// $9.50, a new $1.00 entry pushes the window over the cap. The call fails
// with ErrBudgetExceeded but the entry is still retained in the ledger.
func TestDailyBudgetBreach(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	l := New(BudgetSpec{Daily: 10}, 100, WithClock(func() time.Time { return base }))
	require.NoError(t, l.Record(CostEntry{Timestamp: base, Cost: 9.50}))

	err := l.Record(CostEntry{Timestamp: base.Add(time.Minute), Cost: 1.00})
	assert.ErrorIs(t, err, ErrBudgetExceeded)
	assert.InDelta(t, 10.50, l.Total(), 1e-9)
}

func TestBudgetWindowExcludesOldEntries(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	l := New(BudgetSpec{Daily: 10}, 100)
	require.NoError(t, l.Record(CostEntry{Timestamp: base, Cost: 9.50}))

	// 25 hours later, the first entry has rolled out of the daily window.
	require.NoError(t, l.Record(CostEntry{Timestamp: base.Add(25 * time.Hour), Cost: 9.50}))
}

// Alert at 80% scenario: threshold crossing fires exactly once per epoch.
func TestAlertFiresOnceAtThresholdCrossing(t *testing.T) {
	var fired []float64
	base := time.Unix(1_700_000_000, 0)
	l := New(BudgetSpec{Daily: 10}, 100,
		WithAlertThresholds(0.8),
		WithAlertFunc(func(w Window, threshold, spend, limit float64) {
			fired = append(fired, threshold)
		}),
	)

	require.NoError(t, l.Record(CostEntry{Timestamp: base, Cost: 7.0}))
	assert.Empty(t, fired)

	require.NoError(t, l.Record(CostEntry{Timestamp: base.Add(time.Second), Cost: 1.0}))
	require.Len(t, fired, 1)
	assert.Equal(t, 0.8, fired[0])

	// Another entry still above threshold must not re-fire.
	require.NoError(t, l.Record(CostEntry{Timestamp: base.Add(2 * time.Second), Cost: 0.1}))
	assert.Len(t, fired, 1)
}

func TestBreakdownByModel(t *testing.T) {
	l := New(BudgetSpec{}, 100)
	require.NoError(t, l.Record(CostEntry{Provider: "openai", Model: "gpt-5", Cost: 1.0}))
	require.NoError(t, l.Record(CostEntry{Provider: "openai", Model: "gpt-5", Cost: 2.0}))
	require.NoError(t, l.Record(CostEntry{Provider: "anthropic", Model: "claude-sonnet", Cost: 3.0}))

	breakdown := l.BreakdownByModel(time.Time{})
	assert.InDelta(t, 3.0, breakdown["openai/gpt-5"], 1e-9)
	assert.InDelta(t, 3.0, breakdown["anthropic/claude-sonnet"], 1e-9)
}

func TestRingBufferEvictsOldestOnOverflow(t *testing.T) {
	l := New(BudgetSpec{}, 3)
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Record(CostEntry{Timestamp: time.Unix(int64(i), 0), Cost: 1.0}))
	}
	assert.InDelta(t, 3.0, l.Total(), 1e-9)
}
