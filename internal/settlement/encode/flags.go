package encode

import "auction-coordinator/pkg/types"

// tradeFlags packs an order's side/fill-kind/balance-source/signing-scheme
// into the single flags word spec §6 defines: bit 0 side; bit 1 partial;
// bits 2-3 sell-source; bit 4 buy-destination; bits 5-6 signing scheme.
func tradeFlags(o *types.Order) uint64 {
	var f uint64

	if o.Side == types.Buy {
		f |= 1 << 0
	}
	if o.PartiallyFillable {
		f |= 1 << 1
	}

	var source uint64
	switch o.SellSource {
	case types.SourceErc20:
		source = 0b00
	case types.SourceExternal:
		source = 0b10
	case types.SourceInternal:
		source = 0b11
	}
	f |= source << 2

	if o.BuyDestination == types.DestinationInternal {
		f |= 1 << 4
	}

	var scheme uint64
	switch o.Signature.Scheme {
	case types.SchemeEip712:
		scheme = 0b00
	case types.SchemeEthSign:
		scheme = 0b01
	case types.SchemePredicate:
		scheme = 0b10
	case types.SchemePreSign:
		scheme = 0b11
	}
	f |= scheme << 5

	return f
}
