package submit

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"auction-coordinator/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeMempool struct {
	name   string
	hash   common.Hash
	sendErr error
}

func (f *fakeMempool) Name() string { return f.name }

func (f *fakeMempool) Send(context.Context, []byte) (common.Hash, error) {
	return f.hash, f.sendErr
}

type fakeSigner struct{}

func (fakeSigner) Sign(context.Context, common.Address, uint64, *types.SettlementTransaction) ([]byte, error) {
	return []byte{0x01}, nil
}

type fakeBlocks struct {
	current uint64
	heads   chan uint64
}

func (b *fakeBlocks) CurrentBlock(context.Context) (uint64, error) { return b.current, nil }

func (b *fakeBlocks) NewHeads(context.Context) (<-chan uint64, error) { return b.heads, nil }

type fakeReceipts struct {
	mu     sync.Mutex
	status ReceiptStatus
	block  uint64
}

func (r *fakeReceipts) set(status ReceiptStatus, block uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = status
	r.block = block
}

func (r *fakeReceipts) Receipt(context.Context, common.Hash) (ReceiptStatus, uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status, r.block, nil
}

func TestSubmitReportsMinedOnSuccessfulReceipt(t *testing.T) {
	heads := make(chan uint64, 4)
	blocks := &fakeBlocks{current: 10, heads: heads}
	receipts := &fakeReceipts{status: ReceiptNotFound}

	s := New(fakeSigner{}, nil, blocks, receipts, nil, Config{MaxRetries: 1, RetryBackoff: time.Millisecond}, testLogger())

	key := Key{Address: common.HexToAddress("0xKey1"), Mempool: &fakeMempool{name: "public", hash: common.HexToHash("0xabc")}}
	tx := &types.SettlementTransaction{}

	updates := s.Submit(context.Background(), tx, []Key{key}, 100)

	// First head tick: not yet mined.
	heads <- 11
	receipts.set(ReceiptSuccess, 12)
	heads <- 12

	var last Attempt
	for u := range updates {
		last = u
	}
	if last.State != StateMined {
		t.Fatalf("expected final state Mined, got %s (reason %q)", last.State, last.Reason)
	}
	if last.Block != 12 {
		t.Fatalf("expected mined block 12, got %d", last.Block)
	}
}

func TestSubmitExpiresAtDeadlineBlock(t *testing.T) {
	heads := make(chan uint64, 4)
	blocks := &fakeBlocks{current: 10, heads: heads}
	receipts := &fakeReceipts{status: ReceiptNotFound}

	s := New(fakeSigner{}, nil, blocks, receipts, nil, Config{MaxRetries: 1, RetryBackoff: time.Millisecond}, testLogger())

	key := Key{Address: common.HexToAddress("0xKey2"), Mempool: &fakeMempool{name: "public", hash: common.HexToHash("0xdef")}}
	tx := &types.SettlementTransaction{}

	updates := s.Submit(context.Background(), tx, []Key{key}, 5)
	heads <- 6

	var last Attempt
	for u := range updates {
		last = u
	}
	if last.State != StateExpired {
		t.Fatalf("expected final state Expired, got %s", last.State)
	}
}

func TestSubmitReportsRevertedReceipt(t *testing.T) {
	heads := make(chan uint64, 4)
	blocks := &fakeBlocks{current: 10, heads: heads}
	receipts := &fakeReceipts{status: ReceiptFailed, block: 11}

	s := New(fakeSigner{}, nil, blocks, receipts, nil, Config{MaxRetries: 1, RetryBackoff: time.Millisecond}, testLogger())

	key := Key{Address: common.HexToAddress("0xKey3"), Mempool: &fakeMempool{name: "relay", hash: common.HexToHash("0x111")}}
	tx := &types.SettlementTransaction{}

	updates := s.Submit(context.Background(), tx, []Key{key}, 100)
	heads <- 11

	var last Attempt
	for u := range updates {
		last = u
	}
	if last.State != StateReverted {
		t.Fatalf("expected final state Reverted, got %s", last.State)
	}
}

func TestNextNonceIncreasesPerKey(t *testing.T) {
	s := New(fakeSigner{}, nil, &fakeBlocks{}, nil, nil, Config{}, testLogger())
	addr := common.HexToAddress("0xShared")

	first := s.nextNonce(addr)
	second := s.nextNonce(addr)
	if second != first+1 {
		t.Fatalf("expected strictly increasing nonces per key, got %d then %d", first, second)
	}
}
