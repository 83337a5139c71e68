package solver

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"auction-coordinator/pkg/types"
)

var errUnsupportedSide = fmt.Errorf("solver: unsupported order side")

func errUnknownOrderUID(uid types.UID) error {
	return fmt.Errorf("solver: fulfillment references unknown order uid %x", uid)
}

func errMissingReferencePrice(token common.Address) error {
	return fmt.Errorf("solver: no reference price for token %s", token.Hex())
}
