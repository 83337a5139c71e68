package dashboard

import "time"

// Provider supplies the read-model state BuildSnapshot assembles. The
// coordinator (internal/coordinator) is the production implementation;
// dashboard never reaches into the order book or round history itself —
// it only reads through this seam, mirroring the teacher's
// MarketSnapshotProvider split between internal/engine and internal/api.
type Provider interface {
	ActiveOrderCount() int
	RecentRounds(limit int) []RoundEvent
	PendingSettlements() []SettlementEvent
}

const defaultRecentRounds = 20

// BuildSnapshot assembles the current Snapshot from provider and the
// subset of cfg an operator is allowed to see.
func BuildSnapshot(provider Provider, cfg ConfigSummary) Snapshot {
	return Snapshot{
		Timestamp:          time.Now(),
		ActiveOrders:       provider.ActiveOrderCount(),
		RecentRounds:       provider.RecentRounds(defaultRecentRounds),
		PendingSettlements: provider.PendingSettlements(),
		Config:             cfg,
	}
}
