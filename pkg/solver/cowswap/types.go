package cowswap

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

var (
	// SettlementAddress is the GPv2Settlement contract, identical on every chain
	SettlementAddress = common.HexToAddress("0x9008D19f58AAbD9eD0D60971565AA8510560ab41")
	// VaultRelayerAddress pulls sold tokens and must be approved
	VaultRelayerAddress = common.HexToAddress("0xC92E8bdf79f0507f65a392b0ab4667716BFE0110")
)

const (
	kindSell     = "sell"
	balanceERC20 = "erc20"
	// zeroAppData is the empty app data hash
	zeroAppData = "0x0000000000000000000000000000000000000000000000000000000000000000"
)

// quoteRequest is the body of POST /api/v1/quote
type quoteRequest struct {
	SellToken           string `json:"sellToken"`
	BuyToken            string `json:"buyToken"`
	Receiver            string `json:"receiver"`
	From                string `json:"from"`
	Kind                string `json:"kind"`
	SellAmountBeforeFee string `json:"sellAmountBeforeFee"`
	ValidFor            int64  `json:"validFor"`
	AppData             string `json:"appData"`
	PartiallyFillable   bool   `json:"partiallyFillable"`
	SellTokenBalance    string `json:"sellTokenBalance"`
	BuyTokenBalance     string `json:"buyTokenBalance"`
	SigningScheme       string `json:"signingScheme"`
	OnchainOrder        bool   `json:"onchainOrder"`
}

type quoteParams struct {
	SellToken         string `json:"sellToken"`
	BuyToken          string `json:"buyToken"`
	Receiver          string `json:"receiver"`
	SellAmount        string `json:"sellAmount"`
	BuyAmount         string `json:"buyAmount"`
	ValidTo           uint32 `json:"validTo"`
	AppData           string `json:"appData"`
	AppDataHash       string `json:"appDataHash"`
	FeeAmount         string `json:"feeAmount"`
	Kind              string `json:"kind"`
	PartiallyFillable bool   `json:"partiallyFillable"`
	SellTokenBalance  string `json:"sellTokenBalance"`
	BuyTokenBalance   string `json:"buyTokenBalance"`
}

// quoteResponse is the body returned by POST /api/v1/quote
type quoteResponse struct {
	Quote      quoteParams `json:"quote"`
	From       string      `json:"from"`
	Expiration string      `json:"expiration"`
	ID         int64       `json:"id"`
	Verified   bool        `json:"verified"`
}

// orderCreation is the body of POST /api/v1/orders
type orderCreation struct {
	SellToken         string `json:"sellToken"`
	BuyToken          string `json:"buyToken"`
	Receiver          string `json:"receiver"`
	SellAmount        string `json:"sellAmount"`
	BuyAmount         string `json:"buyAmount"`
	ValidTo           uint32 `json:"validTo"`
	AppData           string `json:"appData"`
	FeeAmount         string `json:"feeAmount"`
	Kind              string `json:"kind"`
	PartiallyFillable bool   `json:"partiallyFillable"`
	SellTokenBalance  string `json:"sellTokenBalance"`
	BuyTokenBalance   string `json:"buyTokenBalance"`
	SigningScheme     string `json:"signingScheme"`
	Signature         string `json:"signature"`
	From              string `json:"from"`
	QuoteID           int64  `json:"quoteId,omitempty"`
}

// apiError is the error body of the orderbook API
type apiError struct {
	ErrorType   string `json:"errorType"`
	Description string `json:"description"`
}

type orderResponse struct {
	UID    string `json:"uid"`
	Status string `json:"status"`
}

// order is the signable form of a GPv2 order
type order struct {
	SellToken         common.Address
	BuyToken          common.Address
	Receiver          common.Address
	SellAmount        *big.Int
	BuyAmount         *big.Int
	ValidTo           uint32
	AppData           string
	FeeAmount         *big.Int
	Kind              string
	PartiallyFillable bool
	SellTokenBalance  string
	BuyTokenBalance   string
}

var orderTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"Order": {
		{Name: "sellToken", Type: "address"},
		{Name: "buyToken", Type: "address"},
		{Name: "receiver", Type: "address"},
		{Name: "sellAmount", Type: "uint256"},
		{Name: "buyAmount", Type: "uint256"},
		{Name: "validTo", Type: "uint32"},
		{Name: "appData", Type: "bytes32"},
		{Name: "feeAmount", Type: "uint256"},
		{Name: "kind", Type: "string"},
		{Name: "partiallyFillable", Type: "bool"},
		{Name: "sellTokenBalance", Type: "string"},
		{Name: "buyTokenBalance", Type: "string"},
	},
}

// typedData builds the EIP-712 payload a wallet signs for the order
func (o order) typedData(chainID int64) apitypes.TypedData {
	return apitypes.TypedData{
		Types:       orderTypes,
		PrimaryType: "Order",
		Domain: apitypes.TypedDataDomain{
			Name:              "Gnosis Protocol",
			Version:           "v2",
			ChainId:           math.NewHexOrDecimal256(chainID),
			VerifyingContract: SettlementAddress.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"sellToken":         o.SellToken.Hex(),
			"buyToken":          o.BuyToken.Hex(),
			"receiver":          o.Receiver.Hex(),
			"sellAmount":        o.SellAmount.String(),
			"buyAmount":         o.BuyAmount.String(),
			"validTo":           strconv.FormatUint(uint64(o.ValidTo), 10),
			"appData":           o.AppData,
			"feeAmount":         o.FeeAmount.String(),
			"kind":              o.Kind,
			"partiallyFillable": o.PartiallyFillable,
			"sellTokenBalance":  o.SellTokenBalance,
			"buyTokenBalance":   o.BuyTokenBalance,
		},
	}
}
