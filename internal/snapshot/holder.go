package snapshot

import (
	"sync"

	"backend/internal/models"
)

// Holder owns the currently served snapshot. Regeneration produces a fresh
// snapshot and swaps the handle; readers never observe a snapshot being
// mutated in place. The version increases monotonically with every swap so
// change detection (WebSocket heartbeats) stays cheap.
type Holder struct {
	mu      sync.RWMutex
	current *models.Snapshot
	version int64
}

// NewHolder creates an empty holder; Get returns nil until the first Swap
func NewHolder() *Holder {
	return &Holder{}
}

// Swap installs a new snapshot and returns the new version
func (h *Holder) Swap(snap *models.Snapshot) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.current = snap
	h.version++
	return h.version
}

// Get returns the current snapshot, nil when nothing has been loaded yet
func (h *Holder) Get() *models.Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Version returns the current snapshot version, zero before the first load
func (h *Holder) Version() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.version
}

// Loaded reports whether a snapshot has been installed
func (h *Holder) Loaded() bool {
	return h.Get() != nil
}
