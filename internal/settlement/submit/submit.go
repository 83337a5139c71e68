// Package submit implements the Settlement Submitter (spec §4.11): signs
// and sends a winning settlement transaction across one or more mempools
// through a pool of submission keys, tracking each attempt through a
// Pending -> Mined|Reverted|Expired state machine until the auction's
// block-number deadline.
package submit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"auction-coordinator/pkg/types"
)

// State is one attempt's position in the spec §4.11 state machine.
type State int

const (
	StatePending State = iota
	StateMined
	StateReverted
	StateExpired
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateMined:
		return "mined"
	case StateReverted:
		return "reverted"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Mempool is one channel a signed transaction can be broadcast through:
// the public mempool, a private relay, or a delegated-EOA forwarder (spec
// §4.11). Each submission key is bound to exactly one.
type Mempool interface {
	Name() string
	Send(ctx context.Context, signedTx []byte) (txHash common.Hash, err error)
}

// Signer produces the raw signed transaction bytes for one submission
// key's next nonce.
type Signer interface {
	Sign(ctx context.Context, key common.Address, nonce uint64, tx *types.SettlementTransaction) (signedTx []byte, err error)
}

// Simulator re-checks whether a pending transaction would still succeed
// against the latest block, used to detect the "winner voided" condition
// spec §4.11 names.
type Simulator interface {
	WouldRevert(ctx context.Context, tx *types.SettlementTransaction) (bool, error)
}

// BlockSource reports the chain's current block number, driving both the
// deadline check and the voided-winner re-simulation trigger.
type BlockSource interface {
	CurrentBlock(ctx context.Context) (uint64, error)
	NewHeads(ctx context.Context) (<-chan uint64, error)
}

// ReceiptStatus is a mined transaction's on-chain outcome.
type ReceiptStatus int

const (
	ReceiptNotFound ReceiptStatus = iota
	ReceiptSuccess
	ReceiptFailed
)

// ReceiptFetcher polls for a submitted transaction's mined receipt.
type ReceiptFetcher interface {
	Receipt(ctx context.Context, txHash common.Hash) (status ReceiptStatus, block uint64, err error)
}

// Key pairs a submission EOA (or delegated forwarder identity) with the
// mempool it submits through.
type Key struct {
	Address common.Address
	Mempool Mempool
}

// Attempt is one key's submission progress, reported on the Submitter's
// result channel as it changes.
type Attempt struct {
	Key     Key
	State   State
	TxHash  common.Hash
	Block   uint64
	Reason  string
}

// Config bounds retry behavior for non-revert errors (spec §4.11: "retries
// on non-revert errors up to a configured bound").
type Config struct {
	MaxRetries    int
	RetryBackoff  time.Duration
}

// RateLimiter gates subsequent sends after a 429 from any upstream mempool
// (spec §4.7/§4.11). internal/ratelimit.Limiter does not implement it (it
// has no Wait or Note429 method); cmd/coordinator passes nil.
type RateLimiter interface {
	Wait(ctx context.Context) error
	Note429()
}

// Submitter runs one auction's settlement submission across every
// configured key in parallel, each with its own nonce lock, all sharing
// one deadline-bound context.
type Submitter struct {
	signer    Signer
	simulator Simulator
	blocks    BlockSource
	receipts  ReceiptFetcher
	limiter   RateLimiter
	cfg       Config
	logger    *slog.Logger

	nonceMu sync.Mutex
	nonces  map[common.Address]uint64
}

// New constructs a Submitter. limiter may be nil to disable 429 gating.
func New(signer Signer, simulator Simulator, blocks BlockSource, receipts ReceiptFetcher, limiter RateLimiter, cfg Config, logger *slog.Logger) *Submitter {
	return &Submitter{
		signer:    signer,
		simulator: simulator,
		blocks:    blocks,
		receipts:  receipts,
		limiter:   limiter,
		cfg:       cfg,
		logger:    logger.With("component", "settlement_submitter"),
		nonces:    make(map[common.Address]uint64),
	}
}

// SetNonce seeds a key's starting nonce; call once per key before Submit
// if the caller already knows the account's transaction count.
func (s *Submitter) SetNonce(key common.Address, nonce uint64) {
	s.nonceMu.Lock()
	defer s.nonceMu.Unlock()
	s.nonces[key] = nonce
}

// Submit launches one goroutine per key and returns a channel of Attempt
// updates, closed once every key reaches a terminal state or ctx's
// deadline (the auction's deadline block, translated into a context
// deadline by the caller) is reached.
func (s *Submitter) Submit(ctx context.Context, tx *types.SettlementTransaction, keys []Key, deadlineBlock uint64) <-chan Attempt {
	updates := make(chan Attempt, len(keys)*4)

	var wg sync.WaitGroup
	for _, key := range keys {
		wg.Add(1)
		go func(k Key) {
			defer wg.Done()
			s.runKey(ctx, tx, k, deadlineBlock, updates)
		}(key)
	}

	go func() {
		wg.Wait()
		close(updates)
	}()

	return updates
}

// runKey drives one submission key's Pending->terminal transition,
// mirroring the teacher's per-goroutine-with-own-lifecycle shape
// (internal/engine/engine.go's marketSlot) but keyed on a submission
// address instead of a market.
func (s *Submitter) runKey(ctx context.Context, tx *types.SettlementTransaction, key Key, deadlineBlock uint64, updates chan<- Attempt) {
	nonce := s.nextNonce(key.Address)

	var lastErr error
	attempt := Attempt{Key: key, State: StatePending}
	updates <- attempt

	for retry := 0; retry <= s.cfg.MaxRetries; retry++ {
		if ctx.Err() != nil {
			updates <- Attempt{Key: key, State: StateExpired, Reason: "context cancelled before send"}
			return
		}

		if current, err := s.blocks.CurrentBlock(ctx); err == nil && current > deadlineBlock {
			updates <- Attempt{Key: key, State: StateExpired, Block: current, Reason: "deadline block exceeded"}
			return
		}

		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				updates <- Attempt{Key: key, State: StateExpired, Reason: fmt.Sprintf("rate limiter: %v", err)}
				return
			}
		}

		signed, err := s.signer.Sign(ctx, key.Address, nonce, tx)
		if err != nil {
			lastErr = err
			s.logger.Warn("sign failed", "key", key.Address, "mempool", key.Mempool.Name(), "error", err)
			s.backoff(ctx, retry)
			continue
		}

		txHash, err := key.Mempool.Send(ctx, signed)
		if err != nil {
			if isRateLimited(err) && s.limiter != nil {
				s.limiter.Note429()
			}
			lastErr = err
			s.logger.Warn("send failed", "key", key.Address, "mempool", key.Mempool.Name(), "error", err, "retry", retry)
			s.backoff(ctx, retry)
			continue
		}

		s.watchPending(ctx, tx, key, txHash, deadlineBlock, updates)
		return
	}

	updates <- Attempt{Key: key, State: StateReverted, Reason: fmt.Sprintf("exhausted retries: %v", lastErr)}
}

// watchPending blocks until the attempt is mined, the deadline block is
// reached, or a re-simulation against a new head reveals the winner was
// voided (logged as a non-fatal reverted-but-still-pending signal; spec
// §4.11 says submission continues regardless).
func (s *Submitter) watchPending(ctx context.Context, tx *types.SettlementTransaction, key Key, txHash common.Hash, deadlineBlock uint64, updates chan<- Attempt) {
	heads, err := s.blocks.NewHeads(ctx)
	if err != nil {
		updates <- Attempt{Key: key, State: StateReverted, TxHash: txHash, Reason: fmt.Sprintf("head subscription: %v", err)}
		return
	}

	for {
		select {
		case <-ctx.Done():
			updates <- Attempt{Key: key, State: StateExpired, TxHash: txHash, Reason: "context cancelled while pending"}
			return
		case block, ok := <-heads:
			if !ok {
				return
			}

			if s.receipts != nil {
				status, minedAt, err := s.receipts.Receipt(ctx, txHash)
				if err != nil {
					s.logger.Warn("receipt lookup failed", "key", key.Address, "tx", txHash, "error", err)
				} else {
					switch status {
					case ReceiptSuccess:
						updates <- Attempt{Key: key, State: StateMined, TxHash: txHash, Block: minedAt}
						return
					case ReceiptFailed:
						updates <- Attempt{Key: key, State: StateReverted, TxHash: txHash, Block: minedAt, Reason: "transaction reverted"}
						return
					}
				}
			}

			if block > deadlineBlock {
				updates <- Attempt{Key: key, State: StateExpired, TxHash: txHash, Block: block, Reason: "deadline block exceeded while pending"}
				return
			}

			if s.simulator != nil {
				if reverted, simErr := s.simulator.WouldRevert(ctx, tx); simErr == nil && reverted {
					s.logger.Warn("winner voided: pending settlement now reverts", "key", key.Address, "tx", txHash, "block", block)
				}
			}
		}
	}
}

func (s *Submitter) nextNonce(key common.Address) uint64 {
	s.nonceMu.Lock()
	defer s.nonceMu.Unlock()
	n := s.nonces[key]
	s.nonces[key] = n + 1
	return n
}

func (s *Submitter) backoff(ctx context.Context, retry int) {
	wait := s.cfg.RetryBackoff * time.Duration(retry+1)
	select {
	case <-ctx.Done():
	case <-time.After(wait):
	}
}

func isRateLimited(err error) bool {
	type rateLimited interface {
		RateLimited() bool
	}
	rl, ok := err.(rateLimited)
	return ok && rl.RateLimited()
}
