// Package bebop is a client for the Bebop JAM API. All sold tokens go into a
// single aggregated order with one signature and one settlement.
package bebop

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"token-dump/pkg/quote"
	"token-dump/pkg/solver"
	"token-dump/pkg/types"
)

const DefaultBaseURL = "https://api.bebop.xyz/jam/ethereum"

// Config holds the client settings
type Config struct {
	BaseURL  string
	ChainID  int64
	User     string
	Password string
}

// Client talks to the Bebop JAM API
type Client struct {
	cfg    Config
	http   *http.Client
	logger *logrus.Logger
	now    func() time.Time
}

var _ solver.Solver = (*Client)(nil)

// NewClient creates a new JAM client
func NewClient(cfg Config, logger *logrus.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.ChainID == 0 {
		cfg.ChainID = 1
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: 15 * time.Second},
		logger: logger,
		now:    time.Now,
	}
}

func (c *Client) Type() types.SolverType {
	return types.SolverBebop
}

// Spender is the approval target of the quote, falling back to the
// settlement contract
func (c *Client) Spender(q quote.Quote) common.Address {
	bq, err := quote.AssertBebop(q)
	if err != nil {
		return common.Address{}
	}
	if bq.Order.ApprovalTarget != (common.Address{}) {
		return bq.Order.ApprovalTarget
	}
	return bq.Order.Settlement
}

// GetQuote requests one aggregated quote for every input token. The quote
// is stamped with the time the request was sent, so a slow response never
// replaces the answer to a later request.
func (c *Client) GetQuote(ctx context.Context, args types.RequestArgs) (quote.Quote, error) {
	if err := args.Validate(); err != nil {
		return nil, err
	}
	sent := c.now()

	sellTokens := make([]string, len(args.InputTokens))
	sellAmounts := make([]string, len(args.InputTokens))
	for i, t := range args.InputTokens {
		sellTokens[i] = t.Address.Hex()
		sellAmounts[i] = args.InputAmounts[i].String()
	}

	params := url.Values{}
	params.Set("sell_tokens", strings.Join(sellTokens, ","))
	params.Set("sell_amounts", strings.Join(sellAmounts, ","))
	params.Set("buy_tokens", args.OutputToken.Address.Hex())
	params.Set("taker_address", args.From.Hex())
	params.Set("receiver_address", args.Receiver.Hex())
	params.Set("approval_type", "Standard")
	params.Set("gasless", "true")

	status, body, err := c.do(ctx, http.MethodGet, "/v2/quote?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, quoteError(status, body)
	}

	var resp quoteResponse
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&resp); err != nil {
		return nil, errors.Wrap(err, "failed to decode quote")
	}
	if resp.Error != nil {
		return nil, toQuoteError(status, resp.Error)
	}

	q, err := c.toQuote(args, resp, sent)
	if err != nil {
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"solver":   types.SolverBebop,
		"quote_id": resp.QuoteID,
		"tokens":   len(args.InputTokens),
	}).Debug("quote received")

	return q, nil
}

func (c *Client) toQuote(args types.RequestArgs, resp quoteResponse, sent time.Time) (*quote.BebopQuote, error) {
	q := &quote.BebopQuote{
		BuyTokens:  make(map[string]types.TokenWithAmount, len(resp.BuyTokens)),
		SellTokens: make(map[string]types.TokenWithAmount, len(resp.SellTokens)),
		Order: quote.BebopOrder{
			OrderEntry: quote.OrderEntry{
				ExpirationTimestamp: resp.Expiry,
				OrderStatus:         types.OrderNotStarted,
			},
			QuoteID:        resp.QuoteID,
			Expiry:         resp.Expiry,
			Settlement:     common.HexToAddress(resp.SettlementAddress),
			ApprovalTarget: common.HexToAddress(resp.ApprovalTarget),
			ToSign:         resp.ToSign,
		},
		LastUpdate: sent.UnixMilli(),
	}

	known := make(map[string]types.Token, len(args.InputTokens)+1)
	for _, t := range args.InputTokens {
		known[t.Key()] = t
	}
	known[args.OutputToken.Key()] = args.OutputToken

	fill := func(dst map[string]types.TokenWithAmount, src map[string]tokenAmount) error {
		for addr, ta := range src {
			if !common.IsHexAddress(addr) {
				return errors.Errorf("invalid token address %q", addr)
			}
			key := types.TokenKey(common.HexToAddress(addr))
			token, ok := known[key]
			if !ok {
				token = types.Token{
					Address:  common.HexToAddress(addr),
					Symbol:   ta.Symbol,
					Decimals: ta.Decimals,
					ChainID:  args.OutputToken.ChainID,
				}
			}
			amount, ok := new(big.Int).SetString(ta.Amount, 10)
			if !ok {
				return errors.Errorf("invalid amount %q for %s", ta.Amount, addr)
			}
			dst[key] = token.WithAmount(types.NewAmount(amount, token.Decimals))
		}
		return nil
	}

	if err := fill(q.BuyTokens, resp.BuyTokens); err != nil {
		return nil, err
	}
	if err := fill(q.SellTokens, resp.SellTokens); err != nil {
		return nil, err
	}
	return q, nil
}

// Sign signs the aggregated JamOrder. The key is ignored since the order
// covers every sold token. Only plain accounts can sign: the taker must be
// the address the signature recovers to.
func (c *Client) Sign(ctx context.Context, q quote.Quote, _ string, signer solver.TypedDataSigner) (solver.Signature, error) {
	if signer.IsSafe() {
		return solver.Signature{}, errors.Wrap(solver.ErrSafeUnsupported, "bebop")
	}
	bq, err := quote.AssertBebop(q)
	if err != nil {
		return solver.Signature{}, err
	}
	if len(bq.Order.ToSign) == 0 {
		return solver.Signature{}, errors.New("bebop order has nothing to sign")
	}

	sig, err := signer.SignTypedData(ctx, c.typedData(bq.Order))
	if err != nil {
		return solver.Signature{}, errors.Wrap(err, "failed to sign order")
	}

	return solver.Signature{Value: hexutil.Encode(sig), Scheme: quote.SchemeEIP712}, nil
}

func (c *Client) typedData(o quote.BebopOrder) apitypes.TypedData {
	msg := apitypes.TypedDataMessage{}
	for k, v := range o.ToSign {
		msg[k] = normalize(v)
	}
	return apitypes.TypedData{
		Types:       jamOrderTypes,
		PrimaryType: "JamOrder",
		Domain: apitypes.TypedDataDomain{
			Name:              "JamSettlement",
			Version:           "2",
			ChainId:           math.NewHexOrDecimal256(c.cfg.ChainID),
			VerifyingContract: o.Settlement.Hex(),
		},
		Message: msg,
	}
}

// Execute submits the signed order. The quote ID doubles as the order UID
// since order status is looked up by it.
func (c *Client) Execute(ctx context.Context, q quote.Quote, _ string) (string, error) {
	bq, err := quote.AssertBebop(q)
	if err != nil {
		return "", err
	}
	if bq.Order.Signature == "" {
		return "", solver.ErrNotSigned
	}

	status, body, err := c.do(ctx, http.MethodPost, "/v2/order", orderRequest{
		Signature: bq.Order.Signature,
		QuoteID:   bq.Order.QuoteID,
	})
	if err != nil {
		return "", err
	}

	var resp orderResponse
	_ = json.Unmarshal(body, &resp)
	if status != http.StatusOK || resp.Error != nil {
		return "", orderError(status, body)
	}

	c.logger.WithFields(logrus.Fields{
		"solver":   types.SolverBebop,
		"quote_id": bq.Order.QuoteID,
		"tx":       resp.TxHash,
	}).Info("order submitted")

	return bq.Order.QuoteID, nil
}

// PollStatus maps the JAM order status onto an OrderStatus
func (c *Client) PollStatus(ctx context.Context, orderUID string) (types.OrderStatus, error) {
	status, body, err := c.do(ctx, http.MethodGet, "/v2/order-status?quote_id="+url.QueryEscape(orderUID), nil)
	if err != nil {
		return types.OrderPending, err
	}
	switch {
	case status == http.StatusNotFound:
		return types.OrderPending, errors.Wrapf(solver.ErrOrderNotFound, "quote %s", orderUID)
	case status != http.StatusOK:
		return types.OrderPending, orderError(status, body)
	}

	var resp statusResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return types.OrderPending, errors.Wrap(err, "failed to decode order status")
	}
	return mapStatus(resp.Status), nil
}

func mapStatus(s string) types.OrderStatus {
	switch strings.ToLower(s) {
	case "confirmed", "settled":
		return types.OrderBebopConfirmed
	case "failed":
		return types.OrderBebopFailed
	default:
		return types.OrderPending
	}
}

func quoteError(status int, body []byte) error {
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err != nil || env.Error == nil {
		return &solver.QuoteError{
			Solver:  types.SolverBebop,
			Message: fmt.Sprintf("unexpected status %d", status),
			Code:    status,
		}
	}
	return toQuoteError(status, env.Error)
}

func toQuoteError(status int, e *apiError) error {
	code := e.ErrorCode
	if code == 0 {
		code = status
	}
	return &solver.QuoteError{
		Solver:        types.SolverBebop,
		Kind:          errorKind(e.ErrorCode),
		Message:       e.Message,
		ShouldDisable: e.ErrorCode == codeUnsupportedToken || e.ErrorCode == codeTokenNotTradable,
		Code:          code,
	}
}

func errorKind(code int) string {
	switch code {
	case codeInvalidRequest:
		return "InvalidRequest"
	case codeInsufficientLiquidity:
		return "InsufficientLiquidity"
	case codeGasExceedsSize:
		return "GasExceedsSize"
	case codeUnsupportedToken:
		return "UnsupportedToken"
	case codeTokenNotTradable:
		return "TokenNotTradable"
	default:
		return ""
	}
}

func orderError(status int, body []byte) error {
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err != nil || env.Error == nil {
		return errors.Errorf("bebop returned status %d", status)
	}
	if strings.Contains(strings.ToLower(env.Error.Message), "allowance") {
		return errors.Wrap(solver.ErrInsufficientAllowance, env.Error.Message)
	}
	return errors.Errorf("bebop rejected order (%d): %s", env.Error.ErrorCode, env.Error.Message)
}

func (c *Client) do(ctx context.Context, method, path string, in interface{}) (int, []byte, error) {
	var reader io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return 0, nil, errors.Wrap(err, "failed to marshal request")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.cfg.BaseURL, "/")+path, reader)
	if err != nil {
		return 0, nil, errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.User != "" || c.cfg.Password != "" {
		req.SetBasicAuth(c.cfg.User, c.cfg.Password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, errors.Wrapf(err, "%s %s failed", method, req.URL.Path)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, errors.Wrap(err, "failed to read response")
	}
	return resp.StatusCode, body, nil
}
