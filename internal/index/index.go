// Package index implements the Event Indexer (spec §4.12): streams logs
// from the settlement contract, extracts the auction id and solver
// address embedded in each settlement transaction, decodes trade fills,
// and reconciles them into the Order Book — including marking affected
// placements pending-reorg when the chain's canonical head diverges.
package index

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"auction-coordinator/internal/chain"
	"auction-coordinator/pkg/types"
)

// SettlementLog is one settlement-contract Trade event, already demuxed
// from the raw log stream down to the fields this package needs.
//
// Judgment call: spec §4.12 says the indexer "decodes the trade tuples"
// from the call trace. GPv2Settlement's actual Trade event already emits
// the order UID directly (`Trade(owner, sellToken, buyToken, sellAmount,
// buyAmount, feeAmount, orderUid)`) — recovering a UID from the raw
// calldata trade tuple instead would require re-deriving the EIP-712
// order hash from the trade's appData/validTo/flags plus an ecrecover
// over the embedded signature, which needs data (the order's full terms)
// the tuple alone doesn't carry. Decoding the emitted event is the
// grounded, and far simpler, equivalent.
type SettlementLog struct {
	BlockNumber uint64
	BlockHash   common.Hash
	LogIndex    uint64
	TxHash      common.Hash

	OrderUID       types.UID
	ExecutedAmount types.Amount

	// CallData is the originating transaction's input, carrying the
	// 8-byte auction-id trailer spec §4.10/§4.12 describe.
	CallData []byte
	// TxSender is the immediate caller of the settlement contract; it is
	// the only address checked against SolverAuthenticator.IsSolver when
	// resolving the settlement's solver.
	TxSender common.Address
}

// LogFetcher streams settlement-contract Trade logs for one mined block.
type LogFetcher interface {
	TradeLogs(ctx context.Context, blockHash common.Hash) ([]SettlementLog, error)
}

// SolverAuthenticator reports whether addr passed the on-chain
// solver-authentication predicate at the given block (spec §4.12).
type SolverAuthenticator interface {
	IsSolver(ctx context.Context, addr common.Address, block uint64) (bool, error)
}

// BookWriter is the subset of orderbook.Book the indexer mutates.
type BookWriter interface {
	RecordExecution(uid types.UID, executed types.Amount) error
	SetPlacement(uid types.UID, block, logIndex uint64, sender common.Address)
	MarkReorged(uid types.UID)
}

// Indexer drives C12: it subscribes to the block watcher's no-drop
// stream, fetches Trade logs for each new block, and reconciles them
// into the order book, detecting reorgs along the way.
type Indexer struct {
	logs   LogFetcher
	auth   SolverAuthenticator
	book   BookWriter
	logger *slog.Logger

	lastBlock  uint64
	lastHash   common.Hash
	lastParent common.Hash
	seenFirst  bool

	// placedAt tracks, per UID, the block each placement was recorded at,
	// so a later reorg divergence can re-flag every UID placed at or
	// after the divergence block.
	placedAt map[types.UID]uint64
}

// New constructs an Indexer.
func New(logs LogFetcher, auth SolverAuthenticator, book BookWriter, logger *slog.Logger) *Indexer {
	return &Indexer{
		logs:     logs,
		auth:     auth,
		book:     book,
		logger:   logger.With("component", "event_indexer"),
		placedAt: make(map[types.UID]uint64),
	}
}

// Run consumes watcher's buffered (no-drop) block stream until ctx is
// cancelled, processing every block in order — a no-drop subscription is
// required here because skipping a block would silently lose fills.
func (ix *Indexer) Run(ctx context.Context, blocks <-chan chain.BlockInfo) {
	for {
		select {
		case <-ctx.Done():
			return
		case b, ok := <-blocks:
			if !ok {
				return
			}
			ix.processBlock(ctx, b)
		}
	}
}

func (ix *Indexer) processBlock(ctx context.Context, b chain.BlockInfo) {
	ix.detectReorg(b)

	logs, err := ix.logs.TradeLogs(ctx, b.Hash)
	if err != nil {
		ix.logger.Warn("trade log fetch failed", "block", b.Number, "error", err)
		return
	}

	for _, l := range logs {
		ix.applyLog(ctx, l)
	}

	ix.lastBlock = b.Number
	ix.lastHash = b.Hash
	ix.lastParent = b.ParentHash
	ix.seenFirst = true
}

// detectReorg implements spec §4.12's rule literally: a new block whose
// parent hash does not match the previously-seen top block indicates a
// reorg. Every UID this indexer placed at or after the divergence block
// is marked pending-reorg.
func (ix *Indexer) detectReorg(b chain.BlockInfo) {
	if !ix.seenFirst {
		return
	}
	if b.ParentHash == ix.lastHash {
		return
	}
	if b.Number > ix.lastBlock+1 {
		// A gap (skipped blocks) isn't itself evidence of a reorg; only a
		// parent-hash mismatch at the watcher's reported head is.
		return
	}

	divergence := b.Number
	if divergence > 0 {
		divergence--
	}
	ix.logger.Warn("reorg detected", "divergence_block", divergence, "new_parent", b.ParentHash, "prior_head", ix.lastHash)

	for uid, placedBlock := range ix.placedAt {
		if placedBlock >= divergence {
			ix.book.MarkReorged(uid)
		}
	}
}

func (ix *Indexer) applyLog(ctx context.Context, l SettlementLog) {
	if err := ix.book.RecordExecution(l.OrderUID, l.ExecutedAmount); err != nil {
		ix.logger.Debug("record execution skipped", "uid", fmt.Sprintf("%x", l.OrderUID), "error", err)
	}

	solver, err := ix.resolveSolver(ctx, l)
	if err != nil {
		ix.logger.Warn("solver resolution failed", "tx", l.TxHash, "error", err)
		solver = l.TxSender
	}

	ix.book.SetPlacement(l.OrderUID, l.BlockNumber, l.LogIndex, solver)
	ix.placedAt[l.OrderUID] = l.BlockNumber
}

// resolveSolver checks only the transaction's immediate sender against
// the on-chain solver predicate and returns it if it passes; callers
// further up the call chain are not examined. A sender that does not
// pass yields an error.
func (ix *Indexer) resolveSolver(ctx context.Context, l SettlementLog) (common.Address, error) {
	ok, err := ix.auth.IsSolver(ctx, l.TxSender, l.BlockNumber)
	if err != nil {
		return common.Address{}, err
	}
	if ok {
		return l.TxSender, nil
	}
	return common.Address{}, fmt.Errorf("index: tx sender %s is not an authenticated solver at block %d", l.TxSender.Hex(), l.BlockNumber)
}

// AuctionIDFromCallData extracts the 8-byte big-endian auction id trailer
// spec §4.10 appends to settlement calldata.
func AuctionIDFromCallData(callData []byte) (types.AuctionID, bool) {
	if len(callData) < 8 {
		return 0, false
	}
	trailer := callData[len(callData)-8:]
	return types.AuctionID(binary.BigEndian.Uint64(trailer)), true
}
