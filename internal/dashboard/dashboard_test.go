package dashboard

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"auction-coordinator/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeProvider struct {
	active     int
	rounds     []RoundEvent
	settlement []SettlementEvent
}

func (f *fakeProvider) ActiveOrderCount() int { return f.active }
func (f *fakeProvider) RecentRounds(limit int) []RoundEvent {
	if len(f.rounds) > limit {
		return f.rounds[len(f.rounds)-limit:]
	}
	return f.rounds
}
func (f *fakeProvider) PendingSettlements() []SettlementEvent { return f.settlement }

func TestBuildSnapshotReflectsProviderState(t *testing.T) {
	p := &fakeProvider{
		active: 3,
		rounds: []RoundEvent{{AuctionID: 1, OrderCount: 2, SolverCount: 4, WinningSolver: "solver-a", Objective: "12.5"}},
		settlement: []SettlementEvent{
			{AuctionID: 1, TxHash: "0xabc", Mempool: "public", State: "pending"},
		},
	}

	snap := BuildSnapshot(p, ConfigSummary{ChainID: 1, DryRun: true})

	if snap.ActiveOrders != 3 {
		t.Fatalf("expected 3 active orders, got %d", snap.ActiveOrders)
	}
	if len(snap.RecentRounds) != 1 || snap.RecentRounds[0].WinningSolver != "solver-a" {
		t.Fatalf("expected round data to pass through, got %+v", snap.RecentRounds)
	}
	if len(snap.PendingSettlements) != 1 || snap.PendingSettlements[0].State != "pending" {
		t.Fatalf("expected pending settlement data to pass through, got %+v", snap.PendingSettlements)
	}
	if !snap.Config.DryRun {
		t.Fatalf("expected config summary to pass through")
	}
}

func TestBuildSnapshotCapsRecentRoundsAtLimit(t *testing.T) {
	rounds := make([]RoundEvent, 0, defaultRecentRounds+5)
	for i := 0; i < defaultRecentRounds+5; i++ {
		rounds = append(rounds, RoundEvent{AuctionID: types.AuctionID(i)})
	}
	p := &fakeProvider{rounds: rounds}

	snap := BuildSnapshot(p, ConfigSummary{})

	if len(snap.RecentRounds) != defaultRecentRounds {
		t.Fatalf("expected %d rounds, got %d", defaultRecentRounds, len(snap.RecentRounds))
	}
}

func TestHubBroadcastDeliversToRegisteredClientBuffer(t *testing.T) {
	hub := NewHub(testLogger())
	done := make(chan struct{})
	go hub.Run(done)
	defer close(done)

	c := &Client{hub: hub, send: make(chan []byte, clientSendBuf)}
	hub.Register(c)
	// Give the Hub goroutine a turn to process the registration before
	// broadcasting, since both are separate channel sends.
	time.Sleep(10 * time.Millisecond)

	hub.Broadcast(NewRoundEvent(RoundEvent{AuctionID: 7, OrderCount: 1}))

	select {
	case data := <-c.send:
		var evt Event
		if err := json.Unmarshal(data, &evt); err != nil {
			t.Fatalf("unmarshal broadcast payload: %v", err)
		}
		if evt.Type != "round" {
			t.Fatalf("expected round event type, got %q", evt.Type)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for broadcast delivery")
	}
}
