package encode

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"auction-coordinator/pkg/types"
)

func encodingErr(format string, args ...any) error {
	return fmt.Errorf("%s: "+format, append([]any{string(types.ReasonSettlementEncodingFailed)}, args...)...)
}

func errUnknownOrderUID(uid types.UID) error {
	return fmt.Errorf("%s: unknown order uid %x", types.ReasonSettlementEncodingFailed, uid)
}

func errMissingClearingPrice(token common.Address) error {
	return fmt.Errorf("%s: missing clearing price for token %s", types.ReasonSettlementInvalidClearingPrice, token.Hex())
}
