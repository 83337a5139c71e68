// Package chain implements the block watcher (spec §4.1): it polls the
// chain head and republishes it to subscribers as a most-recent-value
// stream (Subscribe) and as a no-drop buffered stream (BufferingSubscribe).
package chain

import (
	"context"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// BlockInfo is the latest block snapshot the watcher publishes.
type BlockInfo struct {
	Number     uint64
	Hash       common.Hash
	ParentHash common.Hash
	Timestamp  uint64
	GasLimit   uint64
	BaseFee    *big.Int
}

// Reader is the external RPC collaborator (spec §1: blockchain RPC
// transport is out of scope); Watcher depends only on this small
// interface so it can be satisfied by go-ethereum's ethclient or a fake.
type Reader interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (BlockInfo, error)
}

// bufferedStreamSize bounds the no-drop stream (spec §4.1: "bounded
// buffer of 1000; overflow is a fatal operator error").
const bufferedStreamSize = 1000

// Watcher polls Reader at a fixed interval and fans the result out to
// subscribers.
type Watcher struct {
	reader   Reader
	interval time.Duration
	logger   *slog.Logger

	mu       sync.RWMutex
	current  BlockInfo
	hasValue bool

	subMu       sync.Mutex
	subscribers []chan BlockInfo
	buffered    []chan BlockInfo
}

// New constructs a block watcher.
func New(reader Reader, interval time.Duration, logger *slog.Logger) *Watcher {
	return &Watcher{
		reader:   reader,
		interval: interval,
		logger:   logger.With("component", "chain_watcher"),
	}
}

// Current returns the latest known block. The second return value is
// false until the first successful poll.
func (w *Watcher) Current() (BlockInfo, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current, w.hasValue
}

// Subscribe returns a most-recent-value channel: it immediately receives
// the current value (if any) and every subsequent update. Slow
// subscribers lose intermediate values — only the latest is buffered.
func (w *Watcher) Subscribe() <-chan BlockInfo {
	ch := make(chan BlockInfo, 1)
	w.subMu.Lock()
	w.subscribers = append(w.subscribers, ch)
	w.subMu.Unlock()

	if cur, ok := w.Current(); ok {
		select {
		case ch <- cur:
		default:
		}
	}
	return ch
}

// BufferingSubscribe returns a channel that receives every new block with
// no drops, up to bufferedStreamSize outstanding. Per spec §4.1, overflow
// is a fatal operator error — the watcher panics rather than silently
// dropping a block in this stream.
func (w *Watcher) BufferingSubscribe() <-chan BlockInfo {
	ch := make(chan BlockInfo, bufferedStreamSize)
	w.subMu.Lock()
	w.buffered = append(w.buffered, ch)
	w.subMu.Unlock()
	return ch
}

// Run polls until ctx is cancelled. Transient RPC errors are logged and
// retried next tick; the stream never terminates while the process lives
// (spec §4.1).
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

func (w *Watcher) poll(ctx context.Context) {
	info, err := w.reader.HeaderByNumber(ctx, nil)
	if err != nil {
		w.logger.Warn("block poll failed, will retry next tick", "error", err)
		return
	}

	w.mu.Lock()
	prev := w.current
	hadValue := w.hasValue
	// Skip if hash unchanged, or if number did not advance (a same-number
	// block with a different hash is skipped too).
	if hadValue && info.Hash == prev.Hash {
		w.mu.Unlock()
		return
	}
	if hadValue && info.Number <= prev.Number {
		w.mu.Unlock()
		return
	}
	w.current = info
	w.hasValue = true
	w.mu.Unlock()

	w.publish(info)
}

func (w *Watcher) publish(info BlockInfo) {
	w.subMu.Lock()
	defer w.subMu.Unlock()

	for _, ch := range w.subscribers {
		select {
		case ch <- info:
		default:
			// Drain the stale value so the most-recent-value semantics
			// hold, then deliver the new one.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- info:
			default:
			}
		}
	}

	for _, ch := range w.buffered {
		select {
		case ch <- info:
		default:
			panic("chain: buffering stream overflowed (fatal operator error)")
		}
	}
}
