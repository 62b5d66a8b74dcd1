package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantleap/edgebot/internal/types"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "edgebot.db"))
	require.NoError(t, err)
	return s
}

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

// seedMarket satisfies the position/quote foreign keys.
func seedMarket(t *testing.T, s *Store, id string) {
	t.Helper()
	require.NoError(t, s.UpsertMatchedMarket(&types.MatchedMarket{
		ID:       id,
		VenueAID: "GEMI-" + id,
		Category: types.CategoryCrypto,
		Title:    "seed " + id,
		LastSeen: time.Now().UTC(),
	}))
}

func openPosition(t *testing.T, s *Store, matchedID string, cat types.Category) *types.Position {
	t.Helper()
	seedMarket(t, s, matchedID)
	now := time.Now().UTC()
	p := &types.Position{
		MatchedID:  matchedID,
		VenueAID:   "GEMI-" + matchedID,
		Direction:  types.DirectionYes,
		EntryPrice: dec(0.55),
		Qty:        dec(10),
		Notional:   dec(5.5),
		EntryTS:    now,
		Mode:       types.ModePaper,
		Category:   cat,
		TakeProfit: dec(0.65),
		StopLoss:   dec(0.50),
		MaxHoldTS:  now.Add(4 * time.Hour),
		HighWater:  dec(0.55),
		LowWater:   dec(0.55),
		State:      types.StateOpen,
	}
	require.NoError(t, s.CreatePosition(p))
	require.NotZero(t, p.ID)
	return p
}

func closeAt(t *testing.T, s *Store, p *types.Position, exitPx float64, reason types.ExitReason) *types.ClosedTrade {
	t.Helper()
	gross := dec(exitPx).Sub(p.EntryPrice).Mul(p.Qty)
	tr := &types.ClosedTrade{
		PositionID: p.ID,
		ExitPrice:  dec(exitPx),
		ExitTS:     time.Now().UTC(),
		GrossPnL:   gross,
		NetPnL:     gross,
		Reason:     reason,
		Mode:       p.Mode,
		Category:   p.Category,
		Won:        gross.IsPositive(),
	}
	require.NoError(t, s.ClosePosition(p, tr))
	return tr
}

func TestWalletBalanceEqualsInitialPlusPnL(t *testing.T) {
	s := testStore(t)
	_, err := s.LoadWallet(dec(500))
	require.NoError(t, err)

	p1 := openPosition(t, s, "mm-1", types.CategoryCrypto)
	closeAt(t, s, p1, 0.65, types.ExitTakeProfit) // +1.00
	p2 := openPosition(t, s, "mm-2", types.CategoryCrypto)
	closeAt(t, s, p2, 0.50, types.ExitStopLoss) // −0.50

	w, err := s.Wallet()
	require.NoError(t, err)
	assert.True(t, w.Balance.Equal(dec(500.5)), "balance %s", w.Balance)
	assert.True(t, w.Peak.Equal(dec(501)), "peak %s", w.Peak)
	assert.True(t, w.DailyPnL.Equal(dec(0.5)))
	assert.Equal(t, 1, w.DailyLosses)
}

func TestClosePositionLeavesOpenSet(t *testing.T) {
	s := testStore(t)
	_, err := s.LoadWallet(dec(500))
	require.NoError(t, err)

	p := openPosition(t, s, "mm-1", types.CategoryCrypto)
	has, err := s.HasOpenPosition("mm-1")
	require.NoError(t, err)
	assert.True(t, has)

	closeAt(t, s, p, 0.60, types.ExitTakeProfit)

	has, err = s.HasOpenPosition("mm-1")
	require.NoError(t, err)
	assert.False(t, has)

	open, err := s.OpenPositions()
	require.NoError(t, err)
	assert.Empty(t, open)

	// A matching audit row was written in the same transaction.
	audits, err := s.RecentAudit(5)
	require.NoError(t, err)
	require.NotEmpty(t, audits)
	assert.Equal(t, "position_closed", audits[0].Kind)
}

func TestLoadWalletSeedsOnceOnly(t *testing.T) {
	s := testStore(t)
	w, err := s.LoadWallet(dec(500))
	require.NoError(t, err)
	assert.True(t, w.Balance.Equal(dec(500)))

	p := openPosition(t, s, "mm-1", types.CategoryCrypto)
	closeAt(t, s, p, 0.65, types.ExitTakeProfit)

	// A second load with a different seed must not reset the balance.
	w, err = s.LoadWallet(dec(9999))
	require.NoError(t, err)
	assert.True(t, w.Balance.Equal(dec(501)), "balance %s", w.Balance)
}

func TestResetDailyKeepsBalance(t *testing.T) {
	s := testStore(t)
	_, err := s.LoadWallet(dec(500))
	require.NoError(t, err)

	p := openPosition(t, s, "mm-1", types.CategoryCrypto)
	closeAt(t, s, p, 0.50, types.ExitStopLoss)

	require.NoError(t, s.ResetDaily(time.Now()))

	w, err := s.Wallet()
	require.NoError(t, err)
	assert.True(t, w.DailyPnL.IsZero())
	assert.Equal(t, 0, w.DailyLosses)
	assert.True(t, w.Balance.Equal(dec(499.5)), "balance %s", w.Balance)
}

func TestMarkPhantomRemovesFromOpenSet(t *testing.T) {
	s := testStore(t)
	_, err := s.LoadWallet(dec(500))
	require.NoError(t, err)

	p := openPosition(t, s, "mm-1", types.CategoryCrypto)
	require.NoError(t, s.MarkPhantom(p.ID, "venue reports no position"))

	open, err := s.OpenPositions()
	require.NoError(t, err)
	assert.Empty(t, open)

	got, err := s.GetPosition(p.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatePhantom, got.State)
}

func TestCountOpenByCategory(t *testing.T) {
	s := testStore(t)
	openPosition(t, s, "mm-1", types.CategoryCrypto)
	openPosition(t, s, "mm-2", types.CategoryCrypto)
	openPosition(t, s, "mm-3", types.CategorySports)

	n, err := s.CountOpen()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = s.CountOpenByCategory(types.CategoryCrypto)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestCategoryWinRateBootstrap(t *testing.T) {
	s := testStore(t)
	_, err := s.LoadWallet(dec(500))
	require.NoError(t, err)

	rate, samples := s.CategoryWinRate(types.CategoryCrypto)
	assert.Equal(t, 0.5, rate)
	assert.Equal(t, 0, samples)

	for i, px := range []float64{0.65, 0.65, 0.50} {
		p := openPosition(t, s, "mm-"+string(rune('a'+i)), types.CategoryCrypto)
		closeAt(t, s, p, px, types.ExitTakeProfit)
	}

	rate, samples = s.CategoryWinRate(types.CategoryCrypto)
	assert.InDelta(t, 2.0/3.0, rate, 1e-9)
	assert.Equal(t, 3, samples)
}

func TestRecentTradesFilteredByMode(t *testing.T) {
	s := testStore(t)
	_, err := s.LoadWallet(dec(500))
	require.NoError(t, err)

	p := openPosition(t, s, "mm-1", types.CategoryCrypto)
	closeAt(t, s, p, 0.65, types.ExitTakeProfit)

	paper, err := s.RecentTrades(types.ModePaper, 10)
	require.NoError(t, err)
	assert.Len(t, paper, 1)

	live, err := s.RecentTrades(types.ModeLive, 10)
	require.NoError(t, err)
	assert.Empty(t, live)
}

func TestMatchedMarketRoundTrip(t *testing.T) {
	s := testStore(t)
	expiry := time.Date(2025, 8, 24, 17, 0, 0, 0, time.UTC)
	m := &types.MatchedMarket{
		ID:         "mm-1",
		VenueAID:   "GEMI-BTC2508241700-HI67500",
		VenueBID:   "0xabc",
		VenueCIDs:  []string{"KXBTCD-25AUG2417-B67250", "KXBTCD-25AUG2417-B67750"},
		Category:   types.CategoryCrypto,
		Title:      "BTC above 67500 at 17:00",
		Confidence: 1.0,
		Structural: &types.StructuralMeta{
			Asset: "BTC", Strike: dec(67500), Expiry: expiry, Direction: types.PayoffAbove,
		},
		LastSeen: time.Now().UTC(),
	}
	require.NoError(t, s.UpsertMatchedMarket(m))

	list, err := s.ListMatchedMarkets()
	require.NoError(t, err)
	require.Len(t, list, 1)
	got := list[0]
	assert.Equal(t, m.VenueCIDs, got.VenueCIDs)
	require.NotNil(t, got.Structural)
	assert.True(t, got.Structural.Strike.Equal(dec(67500)))
	assert.True(t, got.Structural.Expiry.Equal(expiry))

	require.NoError(t, s.DeleteMatchedMarket("mm-1"))
	list, err = s.ListMatchedMarkets()
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSaveQuotePrunesRing(t *testing.T) {
	s := testStore(t)
	seedMarket(t, s, "mm-1")
	for i := 0; i < quoteRingCap+25; i++ {
		q := types.Quote{
			Venue: types.VenueA,
			Bid:   dec(0.50), Ask: dec(0.54), Last: dec(0.52),
			TS: time.Now().UTC(),
		}
		require.NoError(t, s.SaveQuote("mm-1", q))
	}

	rows, err := s.RecentQuotes("mm-1", quoteRingCap*2)
	require.NoError(t, err)
	assert.Len(t, rows, quoteRingCap)
}

func TestPositionInsertRequiresMarket(t *testing.T) {
	s := testStore(t)
	p := &types.Position{
		MatchedID: "no-such-market",
		VenueAID:  "GEMI-X",
		Direction: types.DirectionYes,
		EntryTS:   time.Now().UTC(),
		Mode:      types.ModePaper,
		Category:  types.CategoryCrypto,
		State:     types.StateOpen,
	}
	assert.Error(t, s.CreatePosition(p))
}

func TestDeleteMarketKeepsClosedHistory(t *testing.T) {
	s := testStore(t)
	_, err := s.LoadWallet(dec(500))
	require.NoError(t, err)

	p := openPosition(t, s, "mm-1", types.CategoryCrypto)
	closeAt(t, s, p, 0.65, types.ExitTakeProfit)
	require.NoError(t, s.SaveQuote("mm-1", types.Quote{
		Venue: types.VenueA, Bid: dec(0.50), Ask: dec(0.54), TS: time.Now().UTC(),
	}))

	require.NoError(t, s.DeleteMatchedMarket("mm-1"))

	// Quote ring goes with the market; the closed position survives with the
	// market link released.
	rows, err := s.RecentQuotes("mm-1", 10)
	require.NoError(t, err)
	assert.Empty(t, rows)

	got, err := s.GetPosition(p.ID)
	require.NoError(t, err)
	assert.Equal(t, "", got.MatchedID)

	trades, err := s.RecentTrades(types.ModePaper, 10)
	require.NoError(t, err)
	assert.Len(t, trades, 1)
}

func TestParameterRoundTrip(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.SaveParameter("score_threshold", 60))
	require.NoError(t, s.SaveParameter("score_threshold", 50)) // overwrite
	require.NoError(t, s.SaveParameter("kelly_ceiling", 0.2))

	vals, err := s.LoadParameters()
	require.NoError(t, err)
	assert.Equal(t, 50.0, vals["score_threshold"])
	assert.Equal(t, 0.2, vals["kelly_ceiling"])
}
