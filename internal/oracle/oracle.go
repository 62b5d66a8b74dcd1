package oracle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantleap/edgebot/internal/types"
	"github.com/quantleap/edgebot/internal/venue"
)

// ═══════════════════════════════════════════════════════════════════════════════
// AUX ORACLES - Category-specific probability sources
// ═══════════════════════════════════════════════════════════════════════════════
//
// Oracles are consulted per cycle, keyed by matched market. An enabled oracle
// that returns nothing contributes nothing and its ensemble weight is
// redistributed; an oracle that is not configured is absent from the registry
// entirely, never silently latent.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Provider answers a probability for a matched market, or ok=false.
type Provider interface {
	Name() string
	Categories() []types.Category
	Prob(ctx context.Context, m *types.MatchedMarket) (float64, bool)
}

// Registry holds the enabled providers.
type Registry struct {
	mu        sync.RWMutex
	providers []Provider
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry { return &Registry{} }

// Register adds a provider.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers = append(r.providers, p)
	log.Info().Str("oracle", p.Name()).Msg("Oracle registered")
}

// Lookup queries every provider whose category set covers the market.
// Returns provider name → probability for this cycle.
func (r *Registry) Lookup(ctx context.Context, m *types.MatchedMarket) map[string]float64 {
	r.mu.RLock()
	providers := r.providers
	r.mu.RUnlock()

	out := map[string]float64{}
	for _, p := range providers {
		if !covers(p.Categories(), m.Category) {
			continue
		}
		if prob, ok := p.Prob(ctx, m); ok && prob >= 0 && prob <= 1 {
			out[p.Name()] = prob
		}
	}
	return out
}

// Enabled reports whether any provider covers the category.
func (r *Registry) Enabled(cat types.Category) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.providers {
		if covers(p.Categories(), cat) {
			return true
		}
	}
	return false
}

func covers(cats []types.Category, want types.Category) bool {
	for _, c := range cats {
		if c == want {
			return true
		}
	}
	return false
}

// ───────────────────────────────────────────────────────────────────────────────
// HTTP consensus provider
// ───────────────────────────────────────────────────────────────────────────────

// httpConsensus polls a consensus endpoint per cycle with a short cache so a
// 2 s fast loop does not re-fetch an oracle that updates on minutes.
type httpConsensus struct {
	name      string
	baseURL   string
	cats      []types.Category
	transport *venue.Transport

	mu    sync.Mutex
	cache map[string]cached
}

type cached struct {
	prob float64
	ok   bool
	ts   time.Time
}

const consensusCacheAge = 60 * time.Second

// NewHTTPConsensus builds a consensus oracle reading
// GET {baseURL}/prob?title=<market title>.
func NewHTTPConsensus(name, baseURL string, cats ...types.Category) Provider {
	return &httpConsensus{
		name:      name,
		baseURL:   baseURL,
		cats:      cats,
		transport: venue.NewTransport("oracle:"+name, 2, 4, 3*time.Second),
		cache:     make(map[string]cached),
	}
}

func (h *httpConsensus) Name() string                 { return h.name }
func (h *httpConsensus) Categories() []types.Category { return h.cats }

func (h *httpConsensus) Prob(ctx context.Context, m *types.MatchedMarket) (float64, bool) {
	h.mu.Lock()
	if c, ok := h.cache[m.ID]; ok && time.Since(c.ts) < consensusCacheAge {
		h.mu.Unlock()
		return c.prob, c.ok
	}
	h.mu.Unlock()

	prob, ok := h.fetch(ctx, m)

	h.mu.Lock()
	h.cache[m.ID] = cached{prob: prob, ok: ok, ts: time.Now()}
	h.mu.Unlock()

	return prob, ok
}

func (h *httpConsensus) fetch(ctx context.Context, m *types.MatchedMarket) (float64, bool) {
	u := h.baseURL + "/prob?title=" + url.QueryEscape(m.Title)
	data, err := h.transport.Do(ctx, http.MethodGet, u, nil)
	if err != nil {
		log.Debug().Err(err).Str("oracle", h.name).Msg("Oracle lookup failed")
		return 0, false
	}

	var resp struct {
		Prob *float64 `json:"prob"`
	}
	if err := json.Unmarshal(data, &resp); err != nil || resp.Prob == nil {
		return 0, false
	}
	p := *resp.Prob
	if p < 0 || p > 1 {
		return 0, false
	}
	return p, true
}
