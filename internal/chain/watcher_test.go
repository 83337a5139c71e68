package chain

import (
	"context"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type fakeReader struct {
	blocks []BlockInfo
	idx    int
}

func (f *fakeReader) HeaderByNumber(context.Context, *big.Int) (BlockInfo, error) {
	if f.idx >= len(f.blocks) {
		f.idx = len(f.blocks) - 1
	}
	b := f.blocks[f.idx]
	f.idx++
	return b, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestWatcherSkipsUnchangedHash(t *testing.T) {
	h := common.HexToHash("0x1")
	reader := &fakeReader{blocks: []BlockInfo{
		{Number: 1, Hash: h},
		{Number: 1, Hash: h},
	}}
	w := New(reader, time.Millisecond, discardLogger())
	sub := w.Subscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	go w.Run(ctx)

	<-sub // initial poll
	select {
	case <-sub:
		t.Fatalf("should not republish an unchanged hash")
	case <-time.After(10 * time.Millisecond):
	}
}

func TestWatcherSkipsRegressedNumber(t *testing.T) {
	reader := &fakeReader{blocks: []BlockInfo{
		{Number: 5, Hash: common.HexToHash("0x5")},
		{Number: 3, Hash: common.HexToHash("0x3")},
	}}
	w := New(reader, time.Millisecond, discardLogger())
	sub := w.Subscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	go w.Run(ctx)

	first := <-sub
	if first.Number != 5 {
		t.Fatalf("expected first block 5, got %d", first.Number)
	}
	select {
	case b := <-sub:
		t.Fatalf("should not publish regressed block number, got %d", b.Number)
	case <-time.After(10 * time.Millisecond):
	}
}

func TestBufferingSubscribePanicsOnOverflow(t *testing.T) {
	reader := &fakeReader{blocks: []BlockInfo{{Number: 1, Hash: common.HexToHash("0x1")}}}
	w := New(reader, time.Hour, discardLogger())
	_ = w.BufferingSubscribe()

	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("expected panic on buffering stream overflow")
		}
	}()

	for i := 0; i < bufferedStreamSize+1; i++ {
		w.poll(context.Background())
		reader.blocks[0].Hash = common.BigToHash(big.NewInt(int64(i) + 2))
		reader.blocks[0].Number = uint64(i) + 2
	}
}
