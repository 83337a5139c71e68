// Package orderbook implements the Order Book (spec §4.6): the
// exclusive owner of active Orders, serving queries and enforcing
// replacement/cancellation atomically. The in-memory store here,
// backed by an atomic JSON-snapshot file, stands in for the out-of-scope
// persistent SQL store spec §1 names as an external collaborator — the
// Book interface is the real contract any production-grade store
// (SQL-backed, per spec) must satisfy.
package orderbook

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"auction-coordinator/pkg/types"
)

// Placement tracks where an order was placed on-chain.
type Placement struct {
	Block     uint64
	LogIndex  uint64
	Sender    common.Address
	IsReorged bool
	Error     string
}

// OrderEvent is one book mutation, returned by OrderEventsAfter.
type OrderEvent struct {
	Block uint64
	UID   types.UID
	Kind  string // "added", "replaced", "cancelled", "filled"
}

type record struct {
	Order     types.Order
	Placement *Placement
}

// Book is the exclusive owner of active orders (spec §3 Ownership).
type Book struct {
	mu         sync.RWMutex
	byUID      map[types.UID]*record
	events     []OrderEvent
	snapshotAt string // empty disables persistence
}

// New constructs an empty Book. snapshotPath, if non-empty, is the file
// an atomic JSON snapshot is written to after every mutation.
func New(snapshotPath string) *Book {
	return &Book{byUID: make(map[types.UID]*record), snapshotAt: snapshotPath}
}

// Add inserts a newly validated order.
func (b *Book) Add(o *types.Order) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.byUID[o.UID]; exists {
		return fmt.Errorf("orderbook: %s: order %x already exists", types.ReasonInvalidReplacement, o.UID)
	}
	b.byUID[o.UID] = &record{Order: *o}
	b.recordEvent(o.UID, "added")
	return b.persistLocked()
}

// Replace atomically swaps oldUID for newOrder, requiring the same owner
// (spec §4.6). Any other condition rejects with InvalidReplacement.
func (b *Book) Replace(oldUID types.UID, newOrder *types.Order) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	old, ok := b.byUID[oldUID]
	if !ok {
		return fmt.Errorf("orderbook: %s: no order %x to replace", types.ReasonInvalidReplacement, oldUID)
	}
	if old.Order.Owner != newOrder.Owner {
		return fmt.Errorf("orderbook: %s: replacement owner mismatch", types.ReasonInvalidReplacement)
	}
	delete(b.byUID, oldUID)
	b.byUID[newOrder.UID] = &record{Order: *newOrder}
	b.recordEvent(newOrder.UID, "replaced")
	return b.persistLocked()
}

// Cancel removes an order from the book.
func (b *Book) Cancel(uid types.UID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.byUID[uid]; !ok {
		return fmt.Errorf("orderbook: no order %x to cancel", uid)
	}
	delete(b.byUID, uid)
	b.recordEvent(uid, "cancelled")
	return b.persistLocked()
}

// GetByUID returns a copy of the order with the given uid, if present.
func (b *Book) GetByUID(uid types.UID) (*types.Order, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	r, ok := b.byUID[uid]
	if !ok {
		return nil, false
	}
	o := r.Order
	return &o, true
}

// SolvableOrders returns every order eligible for the next auction round:
// not fully executed, and (if non-partially-fillable) untouched.
func (b *Book) SolvableOrders() []types.Order {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]types.Order, 0, len(b.byUID))
	for _, r := range b.byUID {
		full := r.Order.SellAmount
		if r.Order.Side == types.Buy {
			full = r.Order.BuyAmount
		}
		remaining := r.Order.ExecutedAmount.IsZero() ||
			(r.Order.PartiallyFillable && r.Order.ExecutedAmount.Cmp(full) < 0)
		if remaining {
			out = append(out, r.Order)
		}
	}
	return out
}

// OrderEventsAfter returns every recorded event with Block > block.
func (b *Book) OrderEventsAfter(block uint64) []OrderEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]OrderEvent, 0)
	for _, e := range b.events {
		if e.Block > block {
			out = append(out, e)
		}
	}
	return out
}

// RecordExecution updates an order's executed amount (called by the
// indexer, C12, upon settlement reconciliation).
func (b *Book) RecordExecution(uid types.UID, executed types.Amount) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.byUID[uid]
	if !ok {
		return fmt.Errorf("orderbook: no order %x to update", uid)
	}
	r.Order.ExecutedAmount = executed
	b.recordEvent(uid, "filled")
	return b.persistLocked()
}

// SetPlacement records or updates on-chain placement metadata for uid. A
// later insertion at the same uid clears any prior is_reorged flag and
// overwrites sender/error (spec §4.6).
func (b *Book) SetPlacement(uid types.UID, block, logIndex uint64, sender common.Address) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.byUID[uid]
	if !ok {
		return
	}
	r.Placement = &Placement{Block: block, LogIndex: logIndex, Sender: sender}
}

// MarkReorged flags uid's placement as reorged (spec §4.6), called by the
// indexer (C12) on reorg detection.
func (b *Book) MarkReorged(uid types.UID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r, ok := b.byUID[uid]; ok && r.Placement != nil {
		r.Placement.IsReorged = true
	}
}

func (b *Book) recordEvent(uid types.UID, kind string) {
	var block uint64
	if r, ok := b.byUID[uid]; ok && r.Placement != nil {
		block = r.Placement.Block
	}
	b.events = append(b.events, OrderEvent{Block: block, UID: uid, Kind: kind})
}

// snapshot is the on-disk JSON shape. Orders use encoding/json's default
// encoding; types.UID is a fixed-size byte array with no marshaller, so
// it is written as a JSON array of byte values.
type snapshot struct {
	Orders []types.Order `json:"orders"`
}

// persistLocked writes the current book state to snapshotAt atomically
// (write to a temp file, then rename), so a crash mid-write never
// corrupts the snapshot. Caller must hold b.mu.
func (b *Book) persistLocked() error {
	if b.snapshotAt == "" {
		return nil
	}
	snap := snapshot{Orders: make([]types.Order, 0, len(b.byUID))}
	for _, r := range b.byUID {
		snap.Orders = append(snap.Orders, r.Order)
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("orderbook: marshal snapshot: %w", err)
	}

	dir := filepath.Dir(b.snapshotAt)
	tmp, err := os.CreateTemp(dir, ".orderbook-snapshot-*")
	if err != nil {
		return fmt.Errorf("orderbook: create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("orderbook: write temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("orderbook: close temp snapshot: %w", err)
	}
	if err := os.Rename(tmpName, b.snapshotAt); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("orderbook: rename temp snapshot: %w", err)
	}
	return nil
}

// Load restores a Book's contents from a previously written snapshot
// file. A missing file is not an error — it means a fresh book.
func Load(snapshotPath string) (*Book, error) {
	b := New(snapshotPath)
	data, err := os.ReadFile(snapshotPath)
	if os.IsNotExist(err) {
		return b, nil
	}
	if err != nil {
		return nil, fmt.Errorf("orderbook: read snapshot: %w", err)
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("orderbook: unmarshal snapshot: %w", err)
	}
	for i := range snap.Orders {
		o := snap.Orders[i]
		b.byUID[o.UID] = &record{Order: o}
	}
	return b, nil
}
