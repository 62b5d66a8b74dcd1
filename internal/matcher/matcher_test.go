package matcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantleap/edgebot/internal/types"
	"github.com/quantleap/edgebot/internal/venue/kalshi"
)

type fakeReader struct {
	name    types.Venue
	markets []types.MarketDescriptor
}

func (f *fakeReader) Name() types.Venue { return f.name }
func (f *fakeReader) ListMarkets(ctx context.Context, categories []types.Category) ([]types.MarketDescriptor, error) {
	return f.markets, nil
}
func (f *fakeReader) BatchQuotes(ctx context.Context, marketIDs []string) (map[string]types.Quote, error) {
	return nil, nil
}
func (f *fakeReader) BookTop(ctx context.Context, marketID string) (types.BookTop, error) {
	return types.BookTop{}, nil
}
func (f *fakeReader) CachedQuote(marketID string) (types.Quote, bool) {
	return types.Quote{}, false
}

type fakeVenueA struct{ fakeReader }

func (f *fakeVenueA) ClearUnavailable()       {}
func (f *fakeVenueA) Unavailable(string) bool { return false }

type fakeBrackets struct{}

func (fakeBrackets) EventBrackets(string) []kalshi.BracketMeta { return nil }

type fakeMatchStore struct {
	markets map[string]*types.MatchedMarket
	open    map[string]bool
	deleted []string
}

func newFakeMatchStore() *fakeMatchStore {
	return &fakeMatchStore{markets: map[string]*types.MatchedMarket{}, open: map[string]bool{}}
}

func (s *fakeMatchStore) UpsertMatchedMarket(m *types.MatchedMarket) error {
	s.markets[m.ID] = m
	return nil
}

func (s *fakeMatchStore) ListMatchedMarkets() ([]*types.MatchedMarket, error) {
	out := make([]*types.MatchedMarket, 0, len(s.markets))
	for _, m := range s.markets {
		out = append(out, m)
	}
	return out, nil
}

func (s *fakeMatchStore) DeleteMatchedMarket(id string) error {
	delete(s.markets, id)
	s.deleted = append(s.deleted, id)
	return nil
}

func (s *fakeMatchStore) HasOpenPosition(matchedID string) (bool, error) {
	return s.open[matchedID], nil
}

func staleMarket(id, aID string, age time.Duration) *types.MatchedMarket {
	return &types.MatchedMarket{
		ID:       id,
		VenueAID: aID,
		Category: types.CategoryCrypto,
		Title:    aID,
		LastSeen: time.Now().UTC().Add(-age),
	}
}

func TestGCKeepsMarketsWithOpenPositions(t *testing.T) {
	st := newFakeMatchStore()
	st.markets["mm-held"] = staleMarket("mm-held", "GEMI-A", time.Hour)
	st.markets["mm-free"] = staleMarket("mm-free", "GEMI-B", time.Hour)
	st.open["mm-held"] = true

	m := New(&fakeVenueA{fakeReader{name: types.VenueA}}, &fakeReader{name: types.VenueB},
		&fakeReader{name: types.VenueC}, fakeBrackets{}, st, 5*time.Minute)

	delta, err := m.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, delta.Removed)
	assert.Equal(t, []string{"mm-free"}, st.deleted)
	assert.Contains(t, st.markets, "mm-held")
}

func TestGCSparesRecentlySeenMarkets(t *testing.T) {
	st := newFakeMatchStore()
	st.markets["mm-fresh"] = staleMarket("mm-fresh", "GEMI-C", time.Minute)

	m := New(&fakeVenueA{fakeReader{name: types.VenueA}}, &fakeReader{name: types.VenueB},
		&fakeReader{name: types.VenueC}, fakeBrackets{}, st, 5*time.Minute)

	delta, err := m.Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, delta.Removed)
	assert.Empty(t, st.deleted)
}
