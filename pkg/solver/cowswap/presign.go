package cowswap

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
)

const settlementABI = `[{"inputs":[{"name":"orderUid","type":"bytes"},{"name":"signed","type":"bool"}],"name":"setPreSignature","outputs":[],"stateMutability":"nonpayable","type":"function"}]`

var parsedSettlementABI abi.ABI

func init() {
	var err error
	parsedSettlementABI, err = abi.JSON(strings.NewReader(settlementABI))
	if err != nil {
		panic(err)
	}
}

// PreSignatureCall returns the settlement calldata that presigns orderUID.
// A Safe batches it together with the approval for the sold token.
func PreSignatureCall(orderUID string) ([]byte, error) {
	uid, err := hexutil.Decode(orderUID)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid order uid %q", orderUID)
	}
	if len(uid) != 56 {
		return nil, errors.Errorf("order uid must be 56 bytes, got %d", len(uid))
	}
	data, err := parsedSettlementABI.Pack("setPreSignature", uid, true)
	if err != nil {
		return nil, errors.Wrap(err, "failed to pack setPreSignature")
	}
	return data, nil
}
