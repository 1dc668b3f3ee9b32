// Package pool implements the Account Pool (C5): an in-process, round-robin
// view over the active credential records in the store, with a background
// expiration-aware refresh loop (§4.4/§4.5).
package pool

import (
	"context"
	"sync"
	"time"

	"github.com/jwadow/kiro-gateway/internal/credential"
	"github.com/jwadow/kiro-gateway/internal/credstore"
	"github.com/jwadow/kiro-gateway/internal/metrics"
	log "github.com/sirupsen/logrus"
)

const (
	refreshThreshold    = credential.RefreshThreshold
	minRefreshInterval  = 60 * time.Second
	maxCheckInterval    = 300 * time.Second
	poolTickInterval    = 300 * time.Second
	fallbackTickUnknown = 1800 * time.Second
)

// Refresher is the subset of kiro.Refresher that the pool depends on,
// kept as an interface so the pool can be tested without real HTTP calls.
type Refresher interface {
	Refresh(ctx context.Context, rec *credential.Record) (credential.TokenUpdate, error)
}

// Pool is the account pool described in §4.4: an ordered list of active
// record ids, a cursor, and a map id→record, protected by one mutex — the
// same shape as the teacher's RoundRobinSelector cursor map in
// sdk/cliproxy/auth/selector.go, generalized from a per-provider cooldown
// selector down to this gateway's simpler round-robin-plus-refresh
// contract (no quota cooldown tracking; every active record is always a
// candidate).
type Pool struct {
	store     credstore.Store
	refresher Refresher

	mu     sync.Mutex
	ids    []int64
	byID   map[int64]*credential.Record
	cursor int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Pool backed by store and refresher. Call Load before Next
// to populate the in-memory view.
func New(store credstore.Store, refresher Refresher) *Pool {
	return &Pool{store: store, refresher: refresher, byID: make(map[int64]*credential.Record)}
}

// Load drains and reloads the pool's in-memory state from the store's
// active records (§4.4 load()).
func (p *Pool) Load(ctx context.Context) error {
	records, err := p.store.ListActive(ctx)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.ids = p.ids[:0]
	p.byID = make(map[int64]*credential.Record, len(records))
	for _, r := range records {
		p.ids = append(p.ids, r.ID)
		p.byID[r.ID] = r
	}
	if p.cursor >= len(p.ids) {
		p.cursor = 0
	}
	metrics.PoolActiveRecords.Set(float64(len(p.ids)))
	return nil
}

// Next returns the next record in round-robin order, or nil if the pool is
// empty. The cursor advances modulo list length; the caller observes the
// record at the pre-advance position, matching §4.4's contract that
// concurrent callers each observe a distinct successor of the pre-call
// cursor.
func (p *Pool) Next() *credential.Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.ids) == 0 {
		return nil
	}
	id := p.ids[p.cursor]
	p.cursor = (p.cursor + 1) % len(p.ids)
	rec := p.byID[id]
	if rec == nil {
		return nil
	}
	cloned := rec.Clone()
	go p.bumpUsage(id)
	return cloned
}

// Len reports how many active records the pool currently holds.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ids)
}

// bumpUsage asynchronously increments request_count and last_used_at in the
// store for the record that Next just returned (§4.4's "fire-and-forget
// goroutine" note).
func (p *Pool) bumpUsage(id int64) {
	p.mu.Lock()
	rec := p.byID[id]
	p.mu.Unlock()
	if rec == nil {
		return
	}
	count := rec.RequestCount + 1
	now := time.Now().UTC()
	patch := credential.Patch{RequestCount: &count, LastUsedAt: &now}
	updated, err := p.store.Update(context.Background(), id, patch)
	if err != nil {
		log.Warnf("pool: bump usage for record %d failed: %v", id, err)
		return
	}
	p.mu.Lock()
	p.byID[id] = updated
	p.mu.Unlock()
}

// remove drops id from the pool, resetting the cursor to 0 if it now
// exceeds the new length (§4.4's round-robin contract).
func (p *Pool) remove(id int64) {
	idx := -1
	for i, v := range p.ids {
		if v == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	p.ids = append(p.ids[:idx], p.ids[idx+1:]...)
	delete(p.byID, id)
	if p.cursor >= len(p.ids) {
		p.cursor = 0
	}
	metrics.PoolActiveRecords.Set(float64(len(p.ids)))
}

// Deactivate marks id inactive in the store and drops it from the
// in-memory pool view, so a subsequent Next never returns it.
func (p *Pool) Deactivate(ctx context.Context, id int64) error {
	inactive := false
	if _, err := p.store.Update(ctx, id, credential.Patch{IsActive: &inactive}); err != nil {
		return err
	}
	p.mu.Lock()
	p.remove(id)
	p.mu.Unlock()
	return nil
}

// RefreshOne delegates to C3 for a single record id, persists the result
// through the store, and updates the in-memory view (§4.4 refresh_one()).
func (p *Pool) RefreshOne(ctx context.Context, id int64) (bool, string) {
	p.mu.Lock()
	rec := p.byID[id]
	p.mu.Unlock()
	if rec == nil {
		return false, "record not in pool"
	}

	update, err := p.refresher.Refresh(ctx, rec)
	if err != nil {
		metrics.RefreshOutcomesTotal.WithLabelValues("failure").Inc()
		return false, err.Error()
	}

	updated, err := p.store.UpdateTokens(ctx, id, update)
	if err != nil {
		metrics.RefreshOutcomesTotal.WithLabelValues("failure").Inc()
		return false, err.Error()
	}

	p.mu.Lock()
	p.byID[id] = updated
	p.mu.Unlock()
	metrics.RefreshOutcomesTotal.WithLabelValues("success").Inc()
	return true, "refreshed"
}

// RefreshAll iterates all active records, refreshing each that is expiring
// soon (or all of them if force), and returns the count of successes
// (§4.4 refresh_all()).
func (p *Pool) RefreshAll(ctx context.Context, force bool) int {
	p.mu.Lock()
	ids := make([]int64, len(p.ids))
	copy(ids, p.ids)
	snapshot := make(map[int64]*credential.Record, len(p.byID))
	for k, v := range p.byID {
		snapshot[k] = v
	}
	p.mu.Unlock()

	now := time.Now()
	successes := 0
	for _, id := range ids {
		rec := snapshot[id]
		if rec == nil {
			continue
		}
		if !force && !rec.ExpiringSoon(now) {
			continue
		}
		if ok, msg := p.RefreshOne(ctx, id); ok {
			successes++
		} else {
			log.Warnf("pool: refresh of record %d failed: %s", id, msg)
		}
	}
	return successes
}

// NextCheckDelay implements §4.5's per-record scheduling formula. The pool's
// own background loop ticks at a fixed REFRESH_INTERVAL instead (see
// StartBackgroundRefresh); this is the expiration-aware variant. No other
// package calls it: the resolver's single-credential mode (C6) refreshes
// on demand in Resolve rather than on a schedule.
func NextCheckDelay(ttl time.Duration, ttlKnown bool) time.Duration {
	if !ttlKnown {
		return fallbackTickUnknown
	}
	if ttl <= 0 {
		return 0
	}
	if ttl <= refreshThreshold {
		return minRefreshInterval
	}
	delay := ttl - refreshThreshold - 30*time.Second
	if delay < minRefreshInterval {
		return minRefreshInterval
	}
	if delay > maxCheckInterval {
		return maxCheckInterval
	}
	return delay
}

// StartBackgroundRefresh starts the pool-level refresh loop at a fixed
// REFRESH_INTERVAL=300s tick, running an initial sweep immediately
// (§4.5). It is stopped via the returned CancelFunc's effect on ctx, the
// same StartAutoRefresh/StopAutoRefresh shape as the teacher's
// conductor_token.go ticker.
func (p *Pool) StartBackgroundRefresh(parent context.Context) context.CancelFunc {
	ctx, cancel := context.WithCancel(parent)
	p.cancel = cancel

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.RefreshAll(ctx, false)

		ticker := time.NewTicker(poolTickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.RefreshAll(ctx, false)
			}
		}
	}()

	return func() {
		cancel()
		p.wg.Wait()
	}
}
