package gemini

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// ═══════════════════════════════════════════════════════════════════════════════
// NONCE STORE - Strictly increasing, seconds-resolution, survives restarts
// ═══════════════════════════════════════════════════════════════════════════════
//
// The venue rejects any nonce ≤ the last one it saw for the key, forever.
// A single integer counter behind a mutex: start at max(wall clock, persisted),
// and when two requests land in the same second bump by one. The counter is
// flushed to disk on every advance so a crash cannot replay a nonce.
//
// ═══════════════════════════════════════════════════════════════════════════════

// NonceStore issues strictly increasing nonces persisted to a file.
type NonceStore struct {
	mu   sync.Mutex
	last int64
	path string

	now func() int64 // injectable for tests
}

// NewNonceStore loads the persisted counter, if any.
func NewNonceStore(path string, now func() int64) (*NonceStore, error) {
	ns := &NonceStore{path: path, now: now}

	if data, err := os.ReadFile(path); err == nil {
		if v, perr := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64); perr == nil {
			ns.last = v
		} else {
			return nil, fmt.Errorf("corrupt nonce file %s: %w", path, perr)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read nonce file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create nonce dir: %w", err)
	}

	return ns, nil
}

// Next returns the next nonce: wall-clock seconds, bumped past the last issued.
func (ns *NonceStore) Next() int64 {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	n := ns.now()
	if n <= ns.last {
		n = ns.last + 1
	}
	ns.last = n
	ns.flushLocked()
	return n
}

// Resync jumps the counter to serverTime+1 after a nonce-out-of-window error.
func (ns *NonceStore) Resync(serverTime int64) {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	if serverTime >= ns.last {
		ns.last = serverTime + 1
		ns.flushLocked()
	}
	log.Warn().
		Int64("server_time", serverTime).
		Int64("nonce", ns.last).
		Msg("Nonce counter resynchronized")
}

// Last returns the last issued nonce.
func (ns *NonceStore) Last() int64 {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	return ns.last
}

func (ns *NonceStore) flushLocked() {
	tmp := ns.path + ".tmp"
	data := []byte(strconv.FormatInt(ns.last, 10))
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		log.Error().Err(err).Msg("Failed to persist nonce")
		return
	}
	if err := os.Rename(tmp, ns.path); err != nil {
		log.Error().Err(err).Msg("Failed to persist nonce")
	}
}
