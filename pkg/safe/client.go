package safe

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const DefaultServiceURL = "https://safe-transaction-mainnet.safe.global"

// Signer is a Safe owner able to sign the SafeTx hash
type Signer interface {
	Address() common.Address
	SignTypedData(ctx context.Context, data apitypes.TypedData) ([]byte, error)
}

// Client proposes transactions to the Safe Transaction Service
type Client struct {
	baseURL string
	chainID int64
	safe    common.Address
	http    *http.Client
	logger  *logrus.Logger
}

// NewClient creates a client for one Safe
func NewClient(baseURL string, chainID int64, safeAddress common.Address, logger *logrus.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultServiceURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		chainID: chainID,
		safe:    safeAddress,
		http:    &http.Client{Timeout: 15 * time.Second},
		logger:  logger,
	}
}

func (c *Client) Address() common.Address {
	return c.safe
}

type safeInfo struct {
	Address   string      `json:"address"`
	Nonce     json.Number `json:"nonce"`
	Threshold int         `json:"threshold"`
	Owners    []string    `json:"owners"`
}

type proposal struct {
	To                      string  `json:"to"`
	Value                   string  `json:"value"`
	Data                    *string `json:"data"`
	Operation               uint8   `json:"operation"`
	SafeTxGas               string  `json:"safeTxGas"`
	BaseGas                 string  `json:"baseGas"`
	GasPrice                string  `json:"gasPrice"`
	GasToken                string  `json:"gasToken"`
	RefundReceiver          string  `json:"refundReceiver"`
	Nonce                   uint64  `json:"nonce"`
	ContractTransactionHash string  `json:"contractTransactionHash"`
	Sender                  string  `json:"sender"`
	Signature               string  `json:"signature"`
	Origin                  string  `json:"origin,omitempty"`
}

// Nonce returns the next nonce of the Safe
func (c *Client) Nonce(ctx context.Context) (uint64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/safes/"+c.safe.Hex()+"/", nil)
	if err != nil {
		return 0, errors.Wrap(err, "failed to create request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, errors.Wrap(err, "failed to fetch safe info")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return 0, errors.Errorf("safe service returned %d: %s", resp.StatusCode, string(body))
	}

	var info safeInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return 0, errors.Wrap(err, "failed to decode safe info")
	}

	nonce, err := strconv.ParseUint(info.Nonce.String(), 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid nonce %q", info.Nonce)
	}
	return nonce, nil
}

// Propose combines txs into one Safe transaction, signs it with owner and
// submits it for confirmation. It returns the SafeTx hash.
func (c *Client) Propose(ctx context.Context, owner Signer, txs []MetaTx) (string, error) {
	tx, operation, err := Combine(txs)
	if err != nil {
		return "", err
	}

	nonce, err := c.Nonce(ctx)
	if err != nil {
		return "", err
	}

	typed := TypedData(c.chainID, c.safe, tx, operation, nonce)
	hash, _, err := apitypes.TypedDataAndHash(typed)
	if err != nil {
		return "", errors.Wrap(err, "failed to hash safe transaction")
	}

	sig, err := owner.SignTypedData(ctx, typed)
	if err != nil {
		return "", errors.Wrap(err, "failed to sign safe transaction")
	}

	value := tx.Value
	if value == nil {
		value = new(big.Int)
	}
	var data *string
	if len(tx.Data) > 0 {
		encoded := hexutil.Encode(tx.Data)
		data = &encoded
	}

	body := proposal{
		To:                      tx.To.Hex(),
		Value:                   value.String(),
		Data:                    data,
		Operation:               operation,
		SafeTxGas:               "0",
		BaseGas:                 "0",
		GasPrice:                "0",
		GasToken:                common.Address{}.Hex(),
		RefundReceiver:          common.Address{}.Hex(),
		Nonce:                   nonce,
		ContractTransactionHash: hexutil.Encode(hash),
		Sender:                  owner.Address().Hex(),
		Signature:               hexutil.Encode(sig),
		Origin:                  "token-dump",
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal proposal")
	}

	url := c.baseURL + "/api/v1/safes/" + c.safe.Hex() + "/multisig-transactions/"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "failed to propose transaction")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return "", errors.Errorf("safe service rejected proposal (%d): %s", resp.StatusCode, string(msg))
	}

	c.logger.WithFields(logrus.Fields{
		"safe":    c.safe.Hex(),
		"nonce":   nonce,
		"calls":   len(txs),
		"safe_tx": body.ContractTransactionHash,
	}).Info("safe transaction proposed")

	return body.ContractTransactionHash, nil
}

var safeTxTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"SafeTx": {
		{Name: "to", Type: "address"},
		{Name: "value", Type: "uint256"},
		{Name: "data", Type: "bytes"},
		{Name: "operation", Type: "uint8"},
		{Name: "safeTxGas", Type: "uint256"},
		{Name: "baseGas", Type: "uint256"},
		{Name: "gasPrice", Type: "uint256"},
		{Name: "gasToken", Type: "address"},
		{Name: "refundReceiver", Type: "address"},
		{Name: "nonce", Type: "uint256"},
	},
}

// TypedData is the EIP-712 SafeTx payload owners sign
func TypedData(chainID int64, safeAddress common.Address, tx MetaTx, operation uint8, nonce uint64) apitypes.TypedData {
	value := tx.Value
	if value == nil {
		value = new(big.Int)
	}
	data := tx.Data
	if data == nil {
		data = []byte{}
	}
	return apitypes.TypedData{
		Types:       safeTxTypes,
		PrimaryType: "SafeTx",
		Domain: apitypes.TypedDataDomain{
			ChainId:           math.NewHexOrDecimal256(chainID),
			VerifyingContract: safeAddress.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"to":             tx.To.Hex(),
			"value":          value.String(),
			"data":           data,
			"operation":      strconv.Itoa(int(operation)),
			"safeTxGas":      "0",
			"baseGas":        "0",
			"gasPrice":       "0",
			"gasToken":       common.Address{}.Hex(),
			"refundReceiver": common.Address{}.Hex(),
			"nonce":          strconv.FormatUint(nonce, 10),
		},
	}
}
