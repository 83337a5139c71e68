package observability

import (
	"context"
	"testing"
)

func TestNewMetricsRegistersDistinctRegistryPerCall(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()

	if a.Registry == b.Registry {
		t.Fatalf("expected each NewMetrics call to build its own registry, not share a package-level default")
	}

	a.AuctionRoundsTotal.WithLabelValues("won").Inc()
	families, err := a.Registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) == 0 {
		t.Fatalf("expected at least one registered metric family")
	}
}

func TestParseLogLevelDefaultsToInfo(t *testing.T) {
	logger := NewLogger(LogConfig{Level: "unrecognized", Format: "text"})
	if !logger.Enabled(context.Background(), 0) {
		t.Fatalf("expected the default info-or-above level to be enabled")
	}
}
