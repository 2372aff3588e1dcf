package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testJournal(t *testing.T) *Database {
	t.Helper()
	d, err := New(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	require.NoError(t, d.Init())
	return d
}

func TestNewRejectsEmptyPath(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}

func TestInitIsIdempotent(t *testing.T) {
	d := testJournal(t)
	require.NoError(t, d.Init())
	require.NoError(t, d.Init())
}

func TestDecisionRoundTrip(t *testing.T) {
	d := testJournal(t)
	ctx := context.Background()

	require.NoError(t, d.InsertDecision(ctx, DecisionRecord{
		ID: "a", Symbol: "BTC-USDT", Side: "buy", OrderType: "market",
		Admitted: false, Reason: "raw R too low", Confidence: 0.6, Price: 50000,
	}))
	require.NoError(t, d.InsertDecision(ctx, DecisionRecord{
		ID: "b", Symbol: "ETH-USDT", Side: "sell", OrderType: "limit",
		Admitted: true, Reason: "ok", Size: 1.5, Price: 3000, Confidence: 0.9,
	}))

	recs, err := d.RecentDecisions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	// Newest first.
	assert.Equal(t, "b", recs[0].ID)
	assert.True(t, recs[0].Admitted)
	assert.Equal(t, "ok", recs[0].Reason)
	assert.Equal(t, 1.5, recs[0].Size)
	assert.False(t, recs[0].CreatedAt.IsZero())

	assert.Equal(t, "a", recs[1].ID)
	assert.False(t, recs[1].Admitted)
	assert.Equal(t, "raw R too low", recs[1].Reason)
}

func TestFillRoundTrip(t *testing.T) {
	d := testJournal(t)
	ctx := context.Background()

	require.NoError(t, d.InsertFill(ctx, FillRecord{
		ID: "f1", Symbol: "BTC-USDT", Side: "sell", Size: 0.5, Price: 50100, RealizedPnL: -42.5,
	}))

	recs, err := d.RecentFills(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "f1", recs[0].ID)
	assert.Equal(t, -42.5, recs[0].RealizedPnL)
	assert.False(t, recs[0].CreatedAt.IsZero())
}

func TestRecentDecisionsHonorsLimit(t *testing.T) {
	d := testJournal(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, d.InsertDecision(ctx, DecisionRecord{
			ID: string(rune('a' + i)), Symbol: "BTC-USDT", Side: "buy", Reason: "ok",
		}))
	}

	recs, err := d.RecentDecisions(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, recs, 3)
}

func TestDuplicateIDRejected(t *testing.T) {
	d := testJournal(t)
	ctx := context.Background()

	rec := DecisionRecord{ID: "dup", Symbol: "BTC-USDT", Side: "buy", Reason: "ok"}
	require.NoError(t, d.InsertDecision(ctx, rec))
	assert.Error(t, d.InsertDecision(ctx, rec))
}
