package tasklifecycle

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"sync"

	"github.com/bits-and-blooms/bitset"

	"github.com/eirenewatch/eirenewatch/internal/config"
)

// ManagerPool maps slot index to TaskManager and reconciles incoming
// (config, data) against the live map: create, update, or destroy per
// index (spec §3, §4.2).
type ManagerPool struct {
	template *TaskTemplate
	log      *slog.Logger
	metrics  metricsSink

	mu       sync.Mutex
	managers map[int]*TaskManager
	n        int // length of the data slice seen by the previous Trigger call

	// present tracks, as of the most recent Trigger call, which slot
	// indices had a defined data entry. It exists purely for
	// diagnostics (Snapshot) and is rebuilt on every Trigger call
	// rather than driving reconciliation itself.
	present *bitset.BitSet
}

// SlotStatus is a point-in-time view of one live slot, used by the
// diagnostics server.
type SlotStatus struct {
	Index   int
	EntryID string
	// HasActive reports whether the slot had a defined data entry in the
	// most recent Trigger call. It does not show whether a task is
	// currently running on the slot.
	HasActive bool
}

// NewManagerPool constructs an empty pool sharing template across
// every manager it creates.
func NewManagerPool(template *TaskTemplate, log *slog.Logger) *ManagerPool {
	if log == nil {
		log = slog.Default()
	}
	return &ManagerPool{
		template: template,
		log:      log,
		metrics:  noopMetrics{},
		managers: make(map[int]*TaskManager),
		present:  bitset.New(0),
	}
}

// WithMetrics attaches a metrics sink; returns the pool for chaining.
func (p *ManagerPool) WithMetrics(m metricsSink) *ManagerPool {
	if m != nil {
		p.metrics = m
	}
	return p
}

// Trigger reconciles the pool against data (spec §4.2). Slots
// [0, N) are processed in ascending order, sequentially, where
// N = max(len(data), the length seen by the previous call). Any
// panic escaping an individual slot's operation is caught and logged;
// the pool remains usable afterward.
func (p *ManagerPool) Trigger(ctx context.Context, cfg *config.Config, data []any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("panic during pool reconciliation", "panic", r)
		}
	}()

	n := len(data)
	if p.n > n {
		n = p.n
	}

	present := bitset.New(uint(n))

	for i := 0; i < n; i++ {
		defined := i < len(data) && data[i] != nil
		var item any
		if defined {
			item = data[i]
			present.Set(uint(i))
		}

		mgr, exists := p.managers[i]

		switch {
		case !defined && exists:
			mgr.Teardown(ctx)
			delete(p.managers, i)
			p.metrics.ManagerDestroyed(strconv.Itoa(i))
		case !defined:
			// no-op: slot absent both before and after
		case exists:
			mgr.Update(cfg, item)
		default:
			entryID := strconv.Itoa(i)
			mgr = NewTaskManager(p.template, entryID, p.log).WithMetrics(p.metrics)
			p.managers[i] = mgr
			p.metrics.ManagerCreated(entryID)
			mgr.Update(cfg, item)
		}
	}

	p.present = present
	p.n = len(data)
}

// Teardown tears every manager down: it first awaits every manager's
// active task (swallowing errors), then invokes each manager's Teardown
// in ascending index order (spec §4.2). After it returns, every
// previously-held manager has had Teardown called exactly once.
func (p *ManagerPool) Teardown(ctx context.Context) {
	p.mu.Lock()
	keys := make([]int, 0, len(p.managers))
	for k := range p.managers {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	managers := make([]*TaskManager, len(keys))
	for idx, k := range keys {
		managers[idx] = p.managers[k]
	}
	p.managers = make(map[int]*TaskManager)
	p.n = 0
	p.present = bitset.New(0)
	p.mu.Unlock()

	for _, mgr := range managers {
		mgr.Drain()
	}
	for _, mgr := range managers {
		mgr.Teardown(ctx)
	}
}

// Snapshot returns a point-in-time, ascending-index view of live
// slots, for the diagnostics server's /status endpoint.
func (p *ManagerPool) Snapshot() []SlotStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	keys := make([]int, 0, len(p.managers))
	for k := range p.managers {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	out := make([]SlotStatus, 0, len(keys))
	for _, k := range keys {
		out = append(out, SlotStatus{
			Index:     k,
			EntryID:   strconv.Itoa(k),
			HasActive: p.present.Test(uint(k)),
		})
	}
	return out
}
