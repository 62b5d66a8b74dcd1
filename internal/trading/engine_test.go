package trading

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantleap/edgebot/internal/params"
	"github.com/quantleap/edgebot/internal/spot"
	"github.com/quantleap/edgebot/internal/types"
	"github.com/quantleap/edgebot/internal/venue"
)

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

// ============ FAKES ============

type fakeStore struct {
	positions []*types.Position
	trades    []*types.ClosedTrade
	wallet    types.Wallet
	audits    []string
	nextID    int64
}

func newFakeStore(balance float64) *fakeStore {
	b := dec(balance)
	return &fakeStore{wallet: types.Wallet{Balance: b, Initial: b, Peak: b}}
}

func (s *fakeStore) CreatePosition(p *types.Position) error {
	s.nextID++
	p.ID = s.nextID
	cp := *p
	s.positions = append(s.positions, &cp)
	return nil
}

func (s *fakeStore) UpdatePosition(p *types.Position) error {
	for i, q := range s.positions {
		if q.ID == p.ID {
			cp := *p
			s.positions[i] = &cp
		}
	}
	return nil
}

func (s *fakeStore) OpenPositions() ([]*types.Position, error) {
	var out []*types.Position
	for _, p := range s.positions {
		if p.State == types.StateNascent || p.State == types.StateOpen || p.State == types.StateExiting {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *fakeStore) HasOpenPosition(matchedID string) (bool, error) {
	for _, p := range s.positions {
		if p.MatchedID == matchedID && p.State != types.StateClosed && p.State != types.StatePhantom {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) CountOpen() (int, error) {
	open, _ := s.OpenPositions()
	return len(open), nil
}

func (s *fakeStore) CountOpenByCategory(cat types.Category) (int, error) {
	open, _ := s.OpenPositions()
	n := 0
	for _, p := range open {
		if p.Category == cat {
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) ClosePosition(p *types.Position, t *types.ClosedTrade) error {
	for _, q := range s.positions {
		if q.ID == p.ID {
			q.State = types.StateClosed
		}
	}
	s.trades = append(s.trades, t)
	s.wallet.Balance = s.wallet.Balance.Add(t.NetPnL)
	if s.wallet.Balance.GreaterThan(s.wallet.Peak) {
		s.wallet.Peak = s.wallet.Balance
	}
	s.wallet.DailyPnL = s.wallet.DailyPnL.Add(t.NetPnL)
	return nil
}

func (s *fakeStore) MarkPhantom(id int64, _ string) error {
	for _, p := range s.positions {
		if p.ID == id {
			p.State = types.StatePhantom
		}
	}
	return nil
}

func (s *fakeStore) Wallet() (*types.Wallet, error) {
	w := s.wallet
	return &w, nil
}

func (s *fakeStore) RecentTrades(mode types.Mode, limit int) ([]*types.ClosedTrade, error) {
	var out []*types.ClosedTrade
	for i := len(s.trades) - 1; i >= 0 && len(out) < limit; i-- {
		if s.trades[i].Mode == mode {
			out = append(out, s.trades[i])
		}
	}
	return out, nil
}

func (s *fakeStore) Audit(kind string, _ map[string]any) error {
	s.audits = append(s.audits, kind)
	return nil
}

func (s *fakeStore) audited(kind string) bool {
	for _, k := range s.audits {
		if k == kind {
			return true
		}
	}
	return false
}

type fakeExec struct {
	placed  []venue.OrderRequest
	report  types.OrderReport
	open    []types.OrderReport
	history []types.OrderReport
	held    map[string]decimal.Decimal
}

func (e *fakeExec) PlaceOrder(_ context.Context, req venue.OrderRequest) (types.OrderReport, error) {
	e.placed = append(e.placed, req)
	return e.report, nil
}
func (e *fakeExec) CancelOrder(context.Context, string) error               { return nil }
func (e *fakeExec) OpenOrders(context.Context) ([]types.OrderReport, error) { return e.open, nil }
func (e *fakeExec) OrderHistory(context.Context, int) ([]types.OrderReport, error) {
	return e.history, nil
}
func (e *fakeExec) Positions(context.Context) (map[string]decimal.Decimal, error) {
	return e.held, nil
}
func (e *fakeExec) AvailableBalance(context.Context) (decimal.Decimal, error) {
	return dec(1000), nil
}

type fakeQuotes map[string]types.Quote

func (q fakeQuotes) CachedQuote(id string) (types.Quote, bool) {
	quote, ok := q[id]
	return quote, ok
}

type fakeSpot map[string]float64

func (s fakeSpot) Fresh(asset string) (spot.Price, bool) {
	v, ok := s[asset]
	if !ok {
		return spot.Price{}, false
	}
	return spot.Price{Asset: asset, Value: dec(v), TS: time.Now()}, true
}

type fakeBreaker bool

func (b fakeBreaker) Open() bool { return bool(b) }

// ============ HELPERS ============

func quoteAt(bid, ask, depth float64) types.Quote {
	return types.Quote{
		Venue:    types.VenueA,
		Bid:      dec(bid),
		Ask:      dec(ask),
		Last:     dec((bid + ask) / 2),
		BidDepth: dec(depth),
		AskDepth: dec(depth),
		TS:       time.Now(),
	}
}

func testEngine(st *fakeStore, spotPx fakeSpot, mode types.Mode) *Engine {
	return New(st, &fakeExec{}, fakeQuotes{}, spotPx, params.Defaults(), fakeBreaker(false), nil, mode, NewPaperFiller(1))
}

func cryptoMarket(id string) *types.MatchedMarket {
	return &types.MatchedMarket{
		ID:       id,
		VenueAID: "GEMI-BTC2612311700-HI67500",
		Category: types.CategoryCrypto,
		Structural: &types.StructuralMeta{
			Asset:     "BTC",
			Strike:    dec(67500),
			Expiry:    time.Now().Add(24 * time.Hour),
			Direction: types.PayoffAbove,
		},
	}
}

func signalFor(m *types.MatchedMarket, dir types.Direction, edge float64, q types.Quote) types.Signal {
	return types.Signal{
		MatchedID: m.ID,
		VenueAID:  m.VenueAID,
		Direction: dir,
		Score:     70,
		NetEdge:   edge,
		Category:  m.Category,
		Strategy:  types.StrategyComposite,
		Target:    dec(0.65),
		Quotes:    types.QuoteSnapshot{A: &q},
	}
}

// ============ GUARDS ============

func TestGuardNoLeverage(t *testing.T) {
	st := newFakeStore(500)
	e := testEngine(st, fakeSpot{"BTC": 67000}, types.ModePaper)
	snap := e.params.Snapshot()

	m := cryptoMarket("mm-1")
	// NO at mid 0.97 means the NO leg costs 3¢.
	sig := signalFor(m, types.DirectionNo, 0.20, quoteAt(0.96, 0.98, 400))

	w, _ := st.Wallet()
	_, reason := e.guard(context.Background(), sig, m, w, snap, 0)
	assert.Equal(t, "no_leverage", reason)
}

func TestGuardDeepITM(t *testing.T) {
	st := newFakeStore(500)
	// Spot 75000 vs strike 60000: ratio 1.25, NO is insane.
	e := testEngine(st, fakeSpot{"BTC": 75000}, types.ModePaper)
	snap := e.params.Snapshot()

	m := cryptoMarket("mm-1")
	m.Structural.Strike = dec(60000)
	sig := signalFor(m, types.DirectionNo, 0.20, quoteAt(0.90, 0.94, 400))

	w, _ := st.Wallet()
	_, reason := e.guard(context.Background(), sig, m, w, snap, 0)
	assert.Equal(t, "deep_itm", reason)
}

func TestGuardDeepOTM(t *testing.T) {
	st := newFakeStore(500)
	e := testEngine(st, fakeSpot{"BTC": 50000}, types.ModePaper)
	snap := e.params.Snapshot()

	m := cryptoMarket("mm-1")
	sig := signalFor(m, types.DirectionYes, 0.20, quoteAt(0.05, 0.09, 400))

	w, _ := st.Wallet()
	_, reason := e.guard(context.Background(), sig, m, w, snap, 0)
	assert.Equal(t, "deep_otm", reason)
}

func TestGuardEdgeBelowSpreadFloor(t *testing.T) {
	st := newFakeStore(500)
	e := testEngine(st, fakeSpot{"BTC": 67800}, types.ModePaper)
	snap := e.params.Snapshot()

	m := cryptoMarket("mm-1")
	// Edge 0.04 < max(0.05, 2·0.04+0.01).
	sig := signalFor(m, types.DirectionYes, 0.04, quoteAt(0.53, 0.57, 400))

	w, _ := st.Wallet()
	_, reason := e.guard(context.Background(), sig, m, w, snap, 0)
	assert.Equal(t, "edge_below_spread", reason)
}

func TestGuardMaxConcurrent(t *testing.T) {
	st := newFakeStore(500)
	e := testEngine(st, fakeSpot{"BTC": 67800}, types.ModePaper)
	snap := e.params.Snapshot()

	for i := 0; i < int(snap[params.KeyMaxConcurrent]); i++ {
		_ = st.CreatePosition(&types.Position{MatchedID: "other", State: types.StateOpen, Category: types.CategorySports})
	}

	m := cryptoMarket("mm-1")
	sig := signalFor(m, types.DirectionYes, 0.10, quoteAt(0.53, 0.57, 400))
	w, _ := st.Wallet()
	_, reason := e.guard(context.Background(), sig, m, w, snap, 0)
	assert.Equal(t, "max_concurrent", reason)
}

func TestGuardDuplicatePosition(t *testing.T) {
	st := newFakeStore(500)
	e := testEngine(st, fakeSpot{"BTC": 67800}, types.ModePaper)
	snap := e.params.Snapshot()

	_ = st.CreatePosition(&types.Position{MatchedID: "mm-1", State: types.StateOpen, Category: types.CategoryCrypto})

	m := cryptoMarket("mm-1")
	sig := signalFor(m, types.DirectionYes, 0.10, quoteAt(0.53, 0.57, 400))
	w, _ := st.Wallet()
	_, reason := e.guard(context.Background(), sig, m, w, snap, 0)
	assert.Equal(t, "duplicate_position", reason)
}

func TestGuardBreakerOpen(t *testing.T) {
	st := newFakeStore(500)
	e := New(st, &fakeExec{}, fakeQuotes{}, fakeSpot{"BTC": 67800}, params.Defaults(), fakeBreaker(true), nil, types.ModePaper, NewPaperFiller(1))
	snap := e.params.Snapshot()

	m := cryptoMarket("mm-1")
	sig := signalFor(m, types.DirectionYes, 0.10, quoteAt(0.53, 0.57, 400))
	w, _ := st.Wallet()
	_, reason := e.guard(context.Background(), sig, m, w, snap, 0)
	assert.Equal(t, "breaker_open", reason)
}

func TestGuardPassRoutesPaper(t *testing.T) {
	st := newFakeStore(500)
	e := testEngine(st, fakeSpot{"BTC": 67800}, types.ModePaper)
	snap := e.params.Snapshot()

	m := cryptoMarket("mm-1")
	sig := signalFor(m, types.DirectionYes, 0.10, quoteAt(0.53, 0.57, 400))
	w, _ := st.Wallet()
	mode, reason := e.guard(context.Background(), sig, m, w, snap, 0)
	assert.Empty(t, reason)
	assert.Equal(t, types.ModePaper, mode)
}

// ============ SIZING ============

func TestSizeBoundedByMaxPositionSize(t *testing.T) {
	st := newFakeStore(500)
	e := testEngine(st, fakeSpot{"BTC": 67800}, types.ModePaper)
	snap := e.params.Snapshot()

	m := cryptoMarket("mm-1")
	// Deep book, decent edge: max_position_size ($10) binds before
	// wallet pct ($60) and Kelly (≈ $20).
	sig := signalFor(m, types.DirectionYes, 0.068, quoteAt(0.57, 0.61, 5000))
	w, _ := st.Wallet()
	qty, notional := e.size(sig, w, snap)

	assert.True(t, notional.Equal(dec(10)), "notional %s", notional)
	assert.True(t, qty.IsPositive())
}

func TestSizeLiquidityCapBinds(t *testing.T) {
	st := newFakeStore(500)
	e := testEngine(st, fakeSpot{"BTC": 67800}, types.ModePaper)
	snap := e.params.Snapshot()

	m := cryptoMarket("mm-1")
	// Thin book: 0.10 · 50 · 0.59 ≈ $2.95 binds.
	sig := signalFor(m, types.DirectionYes, 0.068, quoteAt(0.57, 0.61, 50))
	w, _ := st.Wallet()
	_, notional := e.size(sig, w, snap)
	assert.True(t, notional.LessThan(dec(3.0)), "notional %s", notional)
	assert.True(t, notional.GreaterThan(dec(2.9)), "notional %s", notional)
}

func TestSizeBelowMinimumSkips(t *testing.T) {
	st := newFakeStore(500)
	e := testEngine(st, fakeSpot{"BTC": 67800}, types.ModePaper)
	snap := e.params.Snapshot()

	m := cryptoMarket("mm-1")
	sig := signalFor(m, types.DirectionYes, 0.068, quoteAt(0.57, 0.61, 5))
	w, _ := st.Wallet()
	qty, _ := e.size(sig, w, snap)
	assert.True(t, qty.IsZero())
}

// ============ ENTRY + EXIT ROUND TRIP ============

func TestPaperEntryAndTakeProfit(t *testing.T) {
	st := newFakeStore(500)
	quotes := fakeQuotes{}
	e := New(st, &fakeExec{}, quotes, fakeSpot{"BTC": 67800}, params.Defaults(), fakeBreaker(false), nil, types.ModePaper, NewPaperFiller(1))

	m := cryptoMarket("mm-1")
	entryQuote := quoteAt(0.58, 0.60, 5000)
	sig := signalFor(m, types.DirectionYes, 0.068, entryQuote)

	e.Tick(context.Background(), []types.Signal{sig}, func(id string) (*types.MatchedMarket, bool) {
		return m, id == "mm-1"
	})

	open, _ := st.OpenPositions()
	require.Len(t, open, 1)
	pos := open[0]
	assert.Equal(t, types.ModePaper, pos.Mode)
	assert.Equal(t, types.StateOpen, pos.State)

	// Rally through the take-profit.
	quotes[m.VenueAID] = quoteAt(0.70, 0.72, 5000)
	e.Monitor(context.Background(), e.params.Snapshot())

	open, _ = st.OpenPositions()
	assert.Empty(t, open)
	require.Len(t, st.trades, 1)
	assert.Equal(t, types.ExitTakeProfit, st.trades[0].Reason)
	assert.True(t, st.trades[0].Won)
	assert.True(t, st.wallet.Balance.GreaterThan(dec(500)))
}

func TestMonitorStopLossAndWalletInvariant(t *testing.T) {
	st := newFakeStore(500)
	quotes := fakeQuotes{}
	e := New(st, &fakeExec{}, quotes, fakeSpot{"BTC": 67800}, params.Defaults(), fakeBreaker(false), nil, types.ModePaper, NewPaperFiller(1))

	m := cryptoMarket("mm-1")
	sig := signalFor(m, types.DirectionYes, 0.068, quoteAt(0.58, 0.60, 5000))
	e.Tick(context.Background(), []types.Signal{sig}, func(string) (*types.MatchedMarket, bool) { return m, true })

	quotes[m.VenueAID] = quoteAt(0.40, 0.44, 5000)
	e.Monitor(context.Background(), e.params.Snapshot())

	require.Len(t, st.trades, 1)
	assert.Equal(t, types.ExitStopLoss, st.trades[0].Reason)
	assert.False(t, st.trades[0].Won)

	// balance = initial + Σ net pnl
	want := dec(500).Add(st.trades[0].NetPnL)
	assert.True(t, st.wallet.Balance.Equal(want))
	assert.True(t, st.wallet.Peak.GreaterThanOrEqual(st.wallet.Balance))
}

func TestMonitorTrailsStop(t *testing.T) {
	st := newFakeStore(500)
	quotes := fakeQuotes{}
	e := New(st, &fakeExec{}, quotes, fakeSpot{"BTC": 67800}, params.Defaults(), fakeBreaker(false), nil, types.ModePaper, NewPaperFiller(1))

	m := cryptoMarket("mm-1")
	sig := signalFor(m, types.DirectionYes, 0.068, quoteAt(0.58, 0.60, 5000))
	e.Tick(context.Background(), []types.Signal{sig}, func(string) (*types.MatchedMarket, bool) { return m, true })

	open, _ := st.OpenPositions()
	require.Len(t, open, 1)
	slBefore := open[0].StopLoss

	// Mid drifts up but short of TP: the stop must ratchet up.
	quotes[m.VenueAID] = quoteAt(0.62, 0.64, 5000)
	e.Monitor(context.Background(), e.params.Snapshot())

	open, _ = st.OpenPositions()
	require.Len(t, open, 1)
	assert.True(t, open[0].StopLoss.GreaterThan(slBefore))
}

func TestLiveExitStaysExitingUntilConfirmed(t *testing.T) {
	st := newFakeStore(500)
	quotes := fakeQuotes{}
	exec := &fakeExec{report: types.OrderReport{OrderID: "ord-1", Status: "open", RemainingQty: dec(5)}}
	e := New(st, exec, quotes, fakeSpot{"BTC": 67800}, params.Defaults(), fakeBreaker(false), nil, types.ModeLive, NewPaperFiller(1))

	pos := &types.Position{
		MatchedID:  "mm-1",
		VenueAID:   "GEMI-BTC2612311700-HI67500",
		Direction:  types.DirectionYes,
		EntryPrice: dec(0.59),
		Qty:        dec(5),
		Mode:       types.ModeLive,
		Category:   types.CategoryCrypto,
		TakeProfit: dec(0.65),
		StopLoss:   dec(0.54),
		MaxHoldTS:  time.Now().Add(time.Hour),
		EntryTS:    time.Now().Add(-time.Minute),
		HighWater:  dec(0.59),
		LowWater:   dec(0.59),
		State:      types.StateOpen,
	}
	require.NoError(t, st.CreatePosition(pos))

	quotes[pos.VenueAID] = quoteAt(0.70, 0.72, 5000)
	e.Monitor(context.Background(), e.params.Snapshot())

	// Sell submitted, not yet confirmed: wallet untouched, state exiting.
	require.Len(t, exec.placed, 1)
	assert.Equal(t, "sell", exec.placed[0].Side)
	open, _ := st.OpenPositions()
	require.Len(t, open, 1)
	assert.Equal(t, types.StateExiting, open[0].State)
	assert.Empty(t, st.trades)
	assert.True(t, st.wallet.Balance.Equal(dec(500)))
	assert.True(t, st.audited("exit_order_submitted"))
}

func liveOpenPosition(dir types.Direction) *types.Position {
	return &types.Position{
		MatchedID:  "mm-1",
		VenueAID:   "GEMI-BTC2612311700-HI67500",
		Direction:  dir,
		EntryPrice: dec(0.59),
		Qty:        dec(5),
		Mode:       types.ModeLive,
		Category:   types.CategoryCrypto,
		TakeProfit: dec(0.65),
		StopLoss:   dec(0.54),
		MaxHoldTS:  time.Now().Add(time.Hour),
		EntryTS:    time.Now().Add(-time.Minute),
		HighWater:  dec(0.59),
		LowWater:   dec(0.59),
		State:      types.StateOpen,
	}
}

func TestLiveExitFinalizesAtLimitWhenQuoteCacheEmpty(t *testing.T) {
	st := newFakeStore(500)
	quotes := fakeQuotes{}
	exec := &fakeExec{report: types.OrderReport{OrderID: "ord-1", Status: "open", RemainingQty: dec(5)}}
	e := New(st, exec, quotes, fakeSpot{"BTC": 67800}, params.Defaults(), fakeBreaker(false), nil, types.ModeLive, NewPaperFiller(1))

	pos := liveOpenPosition(types.DirectionYes)
	require.NoError(t, st.CreatePosition(pos))

	quotes[pos.VenueAID] = quoteAt(0.70, 0.72, 5000)
	e.Monitor(context.Background(), e.params.Snapshot())

	open, _ := st.OpenPositions()
	require.Len(t, open, 1)
	require.Equal(t, types.StateExiting, open[0].State)

	// The quote cache drops the symbol before the next tick. The close must
	// book at the sell order's limit price, not at a zero-value quote.
	delete(quotes, pos.VenueAID)
	e.Monitor(context.Background(), e.params.Snapshot())

	require.Len(t, st.trades, 1)
	assert.True(t, st.trades[0].ExitPrice.Equal(dec(0.70)), "exit %s", st.trades[0].ExitPrice)
	assert.Equal(t, types.ExitTakeProfit, st.trades[0].Reason)
	assert.True(t, st.trades[0].Won)
	want := dec(500).Add(st.trades[0].NetPnL)
	assert.True(t, st.wallet.Balance.Equal(want))
}

func TestLiveExitNoDirectionFinalizesAtLimit(t *testing.T) {
	st := newFakeStore(500)
	quotes := fakeQuotes{}
	exec := &fakeExec{report: types.OrderReport{OrderID: "ord-2", Status: "open", RemainingQty: dec(5)}}
	e := New(st, exec, quotes, fakeSpot{"BTC": 67800}, params.Defaults(), fakeBreaker(false), nil, types.ModeLive, NewPaperFiller(1))

	pos := liveOpenPosition(types.DirectionNo)
	require.NoError(t, st.CreatePosition(pos))

	// YES book 0.28/0.30 puts the NO mid at 0.71, through the take-profit;
	// the sell goes in at 1 − ask = 0.70.
	quotes[pos.VenueAID] = quoteAt(0.28, 0.30, 5000)
	e.Monitor(context.Background(), e.params.Snapshot())

	delete(quotes, pos.VenueAID)
	e.Monitor(context.Background(), e.params.Snapshot())

	require.Len(t, st.trades, 1)
	// A missing quote must not book the NO close at the 1 − 0 ceiling.
	assert.True(t, st.trades[0].ExitPrice.Equal(dec(0.70)), "exit %s", st.trades[0].ExitPrice)
	assert.Equal(t, types.ExitTakeProfit, st.trades[0].Reason)
}

func TestLiveExitRecoveredFromHistoryAfterRestart(t *testing.T) {
	st := newFakeStore(500)
	exec := &fakeExec{history: []types.OrderReport{
		{OrderID: "ord-9", Status: "closed", AvgPrice: dec(0.68), FilledQty: dec(5)},
	}}
	e := New(st, exec, fakeQuotes{}, fakeSpot{"BTC": 67800}, params.Defaults(), fakeBreaker(false), nil, types.ModeLive, NewPaperFiller(1))

	pos := liveOpenPosition(types.DirectionYes)
	pos.State = types.StateExiting
	pos.ExitOrderID = "ord-9"
	require.NoError(t, st.CreatePosition(pos))

	// No in-memory record survives a restart; the fill comes from history.
	e.Monitor(context.Background(), e.params.Snapshot())

	require.Len(t, st.trades, 1)
	assert.True(t, st.trades[0].ExitPrice.Equal(dec(0.68)), "exit %s", st.trades[0].ExitPrice)
	assert.Equal(t, types.ExitManual, st.trades[0].Reason)
}

func TestLiveExitUnknownFillStaysExiting(t *testing.T) {
	st := newFakeStore(500)
	exec := &fakeExec{}
	e := New(st, exec, fakeQuotes{}, fakeSpot{"BTC": 67800}, params.Defaults(), fakeBreaker(false), nil, types.ModeLive, NewPaperFiller(1))

	pos := liveOpenPosition(types.DirectionYes)
	pos.State = types.StateExiting
	pos.ExitOrderID = "ord-x"
	require.NoError(t, st.CreatePosition(pos))

	e.Monitor(context.Background(), e.params.Snapshot())

	// No record, no history match: the position waits for a real price.
	open, _ := st.OpenPositions()
	require.Len(t, open, 1)
	assert.Equal(t, types.StateExiting, open[0].State)
	assert.Empty(t, st.trades)
	assert.True(t, st.wallet.Balance.Equal(dec(500)))
}

func TestReconcileFlagsPhantom(t *testing.T) {
	st := newFakeStore(500)
	exec := &fakeExec{held: map[string]decimal.Decimal{}}
	e := New(st, exec, fakeQuotes{}, fakeSpot{}, params.Defaults(), fakeBreaker(false), nil, types.ModeLive, NewPaperFiller(1))

	_ = st.CreatePosition(&types.Position{
		MatchedID: "mm-1", VenueAID: "GEMI-BTC2612311700-HI67500",
		Mode: types.ModeLive, State: types.StateOpen, Category: types.CategoryCrypto,
	})

	e.Reconcile(context.Background())

	open, _ := st.OpenPositions()
	assert.Empty(t, open)
	assert.Equal(t, types.StatePhantom, st.positions[0].State)
}

func TestReconcileSkipsPaper(t *testing.T) {
	st := newFakeStore(500)
	exec := &fakeExec{held: map[string]decimal.Decimal{}}
	e := New(st, exec, fakeQuotes{}, fakeSpot{}, params.Defaults(), fakeBreaker(false), nil, types.ModeLive, NewPaperFiller(1))

	_ = st.CreatePosition(&types.Position{
		MatchedID: "mm-1", VenueAID: "paper-market",
		Mode: types.ModePaper, State: types.StateOpen, Category: types.CategorySports,
	})

	e.Reconcile(context.Background())

	open, _ := st.OpenPositions()
	assert.Len(t, open, 1)
}
