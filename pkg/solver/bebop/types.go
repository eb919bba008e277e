package bebop

import (
	"encoding/json"
	"strconv"

	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Bebop error codes that mean the pair can never be quoted
const (
	codeInvalidRequest        = 101
	codeInsufficientLiquidity = 102
	codeGasExceedsSize        = 103
	codeUnsupportedToken      = 105
	codeTokenNotTradable      = 107
)

type tokenAmount struct {
	Amount   string `json:"amount"`
	Decimals uint8  `json:"decimals"`
	Symbol   string `json:"symbol"`
}

// quoteResponse is the body of GET /v2/quote
type quoteResponse struct {
	QuoteID           string                 `json:"quoteId"`
	Status            string                 `json:"status"`
	ChainID           int64                  `json:"chainId"`
	ApprovalType      string                 `json:"approvalType"`
	Expiry            int64                  `json:"expiry"`
	BuyTokens         map[string]tokenAmount `json:"buyTokens"`
	SellTokens        map[string]tokenAmount `json:"sellTokens"`
	SettlementAddress string                 `json:"settlementAddress"`
	ApprovalTarget    string                 `json:"approvalTarget"`
	ToSign            map[string]interface{} `json:"toSign"`
	Error             *apiError              `json:"error,omitempty"`
}

type apiError struct {
	ErrorCode int    `json:"errorCode"`
	Message   string `json:"message"`
}

type errorEnvelope struct {
	Error *apiError `json:"error"`
}

type orderRequest struct {
	Signature string `json:"signature"`
	QuoteID   string `json:"quote_id"`
}

type orderResponse struct {
	TxHash string    `json:"txHash"`
	Status string    `json:"status"`
	Expiry int64     `json:"expiry"`
	Error  *apiError `json:"error,omitempty"`
}

type statusResponse struct {
	Status string `json:"status"`
	TxHash string `json:"txHash"`
}

var jamOrderTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"JamOrder": {
		{Name: "taker", Type: "address"},
		{Name: "receiver", Type: "address"},
		{Name: "expiry", Type: "uint256"},
		{Name: "exclusivityDeadline", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "executor", Type: "address"},
		{Name: "partnerInfo", Type: "uint256"},
		{Name: "sellTokens", Type: "address[]"},
		{Name: "buyTokens", Type: "address[]"},
		{Name: "sellAmounts", Type: "uint256[]"},
		{Name: "buyAmounts", Type: "uint256[]"},
		{Name: "hooksHash", Type: "bytes32"},
	},
}

// normalize turns decoded JSON numbers into decimal strings, the form
// apitypes accepts for integer fields
func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[k] = normalize(e)
		}
		return out
	default:
		return v
	}
}
