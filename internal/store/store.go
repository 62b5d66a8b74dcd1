package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/quantleap/edgebot/internal/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// STORE - Single-writer persistence layer
// ═══════════════════════════════════════════════════════════════════════════════
//
// All writes funnel through one mutex; sqlite under WAL tolerates concurrent
// readers but a second writer hits SQLITE_BUSY, so the serialization happens
// here instead of in retry loops. Closing a position, writing the trade,
// updating the wallet and the audit row happen in one transaction: a crash
// can never leave a closed position without its wallet effect.
//
// ═══════════════════════════════════════════════════════════════════════════════

const quoteRingCap = 500

type Store struct {
	mu sync.Mutex
	db *gorm.DB
}

// Open connects to the database. A postgres:// URL selects Postgres, anything
// else is a sqlite path (WAL, 10s busy timeout, foreign keys on).
func Open(dsn string) (*Store, error) {
	var db *gorm.DB
	var err error

	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dsn), cfg)
		if err != nil {
			return nil, err
		}
		log.Info().Msg("Database connected (PostgreSQL)")
	} else {
		if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
			return nil, err
		}
		sqliteDSN := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=10000&_foreign_keys=on", dsn)
		db, err = gorm.Open(sqlite.Open(sqliteDSN), cfg)
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", dsn).Msg("Database initialized (SQLite, WAL)")
	}

	if err := db.AutoMigrate(
		&MatchedMarketRow{}, &QuoteRow{}, &PositionRow{},
		&TradeRow{}, &WalletRow{}, &ParameterRow{}, &AuditRow{},
	); err != nil {
		return nil, err
	}

	return &Store{db: db}, nil
}

// ============ MATCHED MARKETS ============

func (s *Store) UpsertMatchedMarket(m *types.MatchedMarket) error {
	row, err := matchedToRow(m)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Save(row).Error
}

func (s *Store) ListMatchedMarkets() ([]*types.MatchedMarket, error) {
	var rows []MatchedMarketRow
	if err := s.db.Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*types.MatchedMarket, 0, len(rows))
	for i := range rows {
		m, err := rowToMatched(&rows[i])
		if err != nil {
			log.Warn().Err(err).Str("id", rows[i].ID).Msg("Skipping corrupt matched market row")
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *Store) DeleteMatchedMarket(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("matched_id = ?", id).Delete(&QuoteRow{}).Error; err != nil {
			return err
		}
		return tx.Delete(&MatchedMarketRow{}, "id = ?", id).Error
	})
}

func matchedToRow(m *types.MatchedMarket) (*MatchedMarketRow, error) {
	cids, err := json.Marshal(m.VenueCIDs)
	if err != nil {
		return nil, err
	}
	structural := ""
	if m.Structural != nil {
		b, err := json.Marshal(m.Structural)
		if err != nil {
			return nil, err
		}
		structural = string(b)
	}
	return &MatchedMarketRow{
		ID:         m.ID,
		VenueAID:   m.VenueAID,
		VenueBID:   m.VenueBID,
		VenueCIDs:  string(cids),
		Category:   string(m.Category),
		Title:      m.Title,
		Confidence: m.Confidence,
		Structural: structural,
		FeeRate:    m.FeeRate,
		FirstSeen:  m.FirstSeen,
		LastSeen:   m.LastSeen,
	}, nil
}

func rowToMatched(r *MatchedMarketRow) (*types.MatchedMarket, error) {
	m := &types.MatchedMarket{
		ID:         r.ID,
		VenueAID:   r.VenueAID,
		VenueBID:   r.VenueBID,
		Category:   types.Category(r.Category),
		Title:      r.Title,
		Confidence: r.Confidence,
		FeeRate:    r.FeeRate,
		FirstSeen:  r.FirstSeen,
		LastSeen:   r.LastSeen,
	}
	if r.VenueCIDs != "" {
		if err := json.Unmarshal([]byte(r.VenueCIDs), &m.VenueCIDs); err != nil {
			return nil, err
		}
	}
	if r.Structural != "" {
		var meta types.StructuralMeta
		if err := json.Unmarshal([]byte(r.Structural), &meta); err != nil {
			return nil, err
		}
		m.Structural = &meta
	}
	return m, nil
}

// ============ QUOTE HISTORY ============

// SaveQuote appends one sample and prunes the market's ring past the cap.
func (s *Store) SaveQuote(matchedID string, q types.Quote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Transaction(func(tx *gorm.DB) error {
		row := QuoteRow{
			MatchedID: matchedID,
			Venue:     string(q.Venue),
			Bid:       q.Bid,
			Ask:       q.Ask,
			Last:      q.Last,
			BidDepth:  q.BidDepth,
			AskDepth:  q.AskDepth,
			TS:        q.TS,
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		keep := tx.Model(&QuoteRow{}).Select("id").
			Where("matched_id = ?", matchedID).
			Order("id DESC").Limit(quoteRingCap)
		return tx.Where("matched_id = ? AND id NOT IN (?)", matchedID, keep).
			Delete(&QuoteRow{}).Error
	})
}

// RecentQuotes returns the newest samples for a market, newest first.
func (s *Store) RecentQuotes(matchedID string, limit int) ([]QuoteRow, error) {
	var rows []QuoteRow
	err := s.db.Where("matched_id = ?", matchedID).
		Order("id DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

// ============ POSITIONS ============

func (s *Store) CreatePosition(p *types.Position) error {
	row := positionToRow(p)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.Create(row).Error; err != nil {
		return err
	}
	p.ID = row.ID
	return nil
}

func (s *Store) UpdatePosition(p *types.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Save(positionToRow(p)).Error
}

// OpenPositions returns everything not yet closed, oldest entry first.
func (s *Store) OpenPositions() ([]*types.Position, error) {
	var rows []PositionRow
	err := s.db.Where("state IN ?", []string{
		string(types.StateNascent), string(types.StateOpen), string(types.StateExiting),
	}).Order("entry_ts").Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]*types.Position, len(rows))
	for i := range rows {
		out[i] = rowToPosition(&rows[i])
	}
	return out, nil
}

func (s *Store) GetPosition(id int64) (*types.Position, error) {
	var row PositionRow
	if err := s.db.First(&row, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return rowToPosition(&row), nil
}

// HasOpenPosition reports whether a market already carries an open position.
func (s *Store) HasOpenPosition(matchedID string) (bool, error) {
	var n int64
	err := s.db.Model(&PositionRow{}).
		Where("matched_id = ? AND state IN ?", matchedID, []string{
			string(types.StateNascent), string(types.StateOpen), string(types.StateExiting),
		}).Count(&n).Error
	return n > 0, err
}

func (s *Store) CountOpen() (int, error) {
	var n int64
	err := s.db.Model(&PositionRow{}).Where("state IN ?", []string{
		string(types.StateNascent), string(types.StateOpen), string(types.StateExiting),
	}).Count(&n).Error
	return int(n), err
}

func (s *Store) CountOpenByCategory(cat types.Category) (int, error) {
	var n int64
	err := s.db.Model(&PositionRow{}).
		Where("category = ? AND state IN ?", string(cat), []string{
			string(types.StateNascent), string(types.StateOpen), string(types.StateExiting),
		}).Count(&n).Error
	return int(n), err
}

// MarkPhantom flags a position the venue no longer knows about.
func (s *Store) MarkPhantom(id int64, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&PositionRow{}).Where("id = ?", id).
			Update("state", string(types.StatePhantom)).Error; err != nil {
			return err
		}
		return auditTx(tx, "phantom_position", map[string]any{"position_id": id, "note": note})
	})
}

func positionToRow(p *types.Position) *PositionRow {
	return &PositionRow{
		ID:          p.ID,
		MatchedID:   p.MatchedID,
		VenueAID:    p.VenueAID,
		Direction:   string(p.Direction),
		EntryPrice:  p.EntryPrice,
		Qty:         p.Qty,
		Notional:    p.Notional,
		EntryTS:     p.EntryTS,
		Mode:        string(p.Mode),
		Category:    string(p.Category),
		TakeProfit:  p.TakeProfit,
		StopLoss:    p.StopLoss,
		MaxHoldTS:   p.MaxHoldTS,
		HighWater:   p.HighWater,
		LowWater:    p.LowWater,
		State:       string(p.State),
		ExitOrderID: p.ExitOrderID,
	}
}

func rowToPosition(r *PositionRow) *types.Position {
	return &types.Position{
		ID:          r.ID,
		MatchedID:   r.MatchedID,
		VenueAID:    r.VenueAID,
		Direction:   types.Direction(r.Direction),
		EntryPrice:  r.EntryPrice,
		Qty:         r.Qty,
		Notional:    r.Notional,
		EntryTS:     r.EntryTS,
		Mode:        types.Mode(r.Mode),
		Category:    types.Category(r.Category),
		TakeProfit:  r.TakeProfit,
		StopLoss:    r.StopLoss,
		MaxHoldTS:   r.MaxHoldTS,
		HighWater:   r.HighWater,
		LowWater:    r.LowWater,
		State:       types.PositionState(r.State),
		ExitOrderID: r.ExitOrderID,
	}
}

// ============ CLOSE + WALLET (ATOMIC) ============

// ClosePosition finalizes a position: position row flipped to closed, trade
// written, wallet balance/peak/daily counters applied, audit appended. One
// transaction, all or nothing.
func (s *Store) ClosePosition(p *types.Position, t *types.ClosedTrade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&PositionRow{}).Where("id = ?", p.ID).Updates(map[string]any{
			"state":         string(types.StateClosed),
			"exit_order_id": p.ExitOrderID,
		}).Error; err != nil {
			return err
		}

		row := TradeRow{
			PositionID: p.ID,
			ExitPrice:  t.ExitPrice,
			ExitTS:     t.ExitTS,
			GrossPnL:   t.GrossPnL,
			NetPnL:     t.NetPnL,
			Fees:       t.Fees,
			Reason:     string(t.Reason),
			HoldSecs:   t.HoldSecs,
			Mode:       string(t.Mode),
			Category:   string(t.Category),
			Won:        t.Won,
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		t.ID = row.ID

		var w WalletRow
		if err := tx.First(&w, "id = 1").Error; err != nil {
			return err
		}
		w.Balance = w.Balance.Add(t.NetPnL)
		if w.Balance.GreaterThan(w.Peak) {
			w.Peak = w.Balance
		}
		w.DailyPnL = w.DailyPnL.Add(t.NetPnL)
		if t.NetPnL.IsNegative() {
			w.DailyLosses++
		}
		if err := tx.Save(&w).Error; err != nil {
			return err
		}

		return auditTx(tx, "position_closed", map[string]any{
			"position_id": p.ID,
			"trade_id":    row.ID,
			"reason":      string(t.Reason),
			"net_pnl":     t.NetPnL.String(),
			"balance":     w.Balance.String(),
		})
	})
}

// ============ WALLET ============

// LoadWallet returns the singleton, seeding it at initial on first run.
func (s *Store) LoadWallet(initial decimal.Decimal) (*types.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var row WalletRow
	err := s.db.Where(WalletRow{ID: 1}).Attrs(WalletRow{
		Balance:      initial,
		Initial:      initial,
		Peak:         initial,
		DailyStartTS: time.Now().UTC().Truncate(24 * time.Hour),
	}).FirstOrCreate(&row).Error
	if err != nil {
		return nil, err
	}
	return walletFromRow(&row), nil
}

func (s *Store) SaveWallet(w *types.Wallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Save(&WalletRow{
		ID:           1,
		Balance:      w.Balance,
		Initial:      w.Initial,
		Peak:         w.Peak,
		DailyPnL:     w.DailyPnL,
		DailyLosses:  w.DailyLosses,
		DailyStartTS: w.DailyStartTS,
	}).Error
}

// Wallet returns the current singleton state.
func (s *Store) Wallet() (*types.Wallet, error) {
	var row WalletRow
	if err := s.db.First(&row, "id = 1").Error; err != nil {
		return nil, err
	}
	return walletFromRow(&row), nil
}

// ResetDaily zeroes the daily counters at the UTC day boundary.
func (s *Store) ResetDaily(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Model(&WalletRow{}).Where("id = 1").Updates(map[string]any{
		"daily_pn_l":     decimal.Zero,
		"daily_losses":   0,
		"daily_start_ts": now.UTC().Truncate(24 * time.Hour),
	}).Error
}

func walletFromRow(r *WalletRow) *types.Wallet {
	return &types.Wallet{
		Balance:      r.Balance,
		Initial:      r.Initial,
		Peak:         r.Peak,
		DailyPnL:     r.DailyPnL,
		DailyLosses:  r.DailyLosses,
		DailyStartTS: r.DailyStartTS,
	}
}

// ============ TRADE STATS ============

// RecentTrades returns the newest closed trades for a mode, newest first.
func (s *Store) RecentTrades(mode types.Mode, limit int) ([]*types.ClosedTrade, error) {
	var rows []TradeRow
	err := s.db.Where("mode = ?", string(mode)).
		Order("id DESC").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]*types.ClosedTrade, len(rows))
	for i := range rows {
		out[i] = rowToTrade(&rows[i])
	}
	return out, nil
}

// CategoryWinRate is the fraction of winning trades in the category's recent
// window. samples gates the bootstrap in the score.
func (s *Store) CategoryWinRate(cat types.Category) (float64, int) {
	var rows []TradeRow
	err := s.db.Select("won").Where("category = ?", string(cat)).
		Order("id DESC").Limit(100).Find(&rows).Error
	if err != nil || len(rows) == 0 {
		return 0.5, 0
	}
	won := 0
	for _, r := range rows {
		if r.Won {
			won++
		}
	}
	return float64(won) / float64(len(rows)), len(rows)
}

func rowToTrade(r *TradeRow) *types.ClosedTrade {
	return &types.ClosedTrade{
		ID:         r.ID,
		PositionID: r.PositionID,
		ExitPrice:  r.ExitPrice,
		ExitTS:     r.ExitTS,
		GrossPnL:   r.GrossPnL,
		NetPnL:     r.NetPnL,
		Fees:       r.Fees,
		Reason:     types.ExitReason(r.Reason),
		HoldSecs:   r.HoldSecs,
		Mode:       types.Mode(r.Mode),
		Category:   types.Category(r.Category),
		Won:        r.Won,
	}
}

// ============ PARAMETERS ============

func (s *Store) SaveParameter(key string, value float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Save(&ParameterRow{Key: key, Value: value}).Error
}

func (s *Store) LoadParameters() (map[string]float64, error) {
	var rows []ParameterRow
	if err := s.db.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(rows))
	for _, r := range rows {
		out[r.Key] = r.Value
	}
	return out, nil
}

// ============ AUDIT ============

// Audit appends one audit row. detail is marshaled to JSON.
func (s *Store) Audit(kind string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return auditTx(s.db, kind, detail)
}

// RecentAudit returns the newest audit rows, newest first.
func (s *Store) RecentAudit(limit int) ([]AuditRow, error) {
	var rows []AuditRow
	err := s.db.Order("id DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

func auditTx(tx *gorm.DB, kind string, detail map[string]any) error {
	b, err := json.Marshal(detail)
	if err != nil {
		return err
	}
	return tx.Create(&AuditRow{Kind: kind, Detail: string(b)}).Error
}
