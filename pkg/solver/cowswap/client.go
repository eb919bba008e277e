// Package cowswap is a client for the CoW Protocol orderbook API. Every sold
// token gets its own quote and its own order.
package cowswap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"token-dump/pkg/quote"
	"token-dump/pkg/solver"
	"token-dump/pkg/types"
)

const (
	DefaultBaseURL  = "https://api.cow.fi/mainnet"
	DefaultValidFor = 30 * time.Minute
)

// Config holds the client settings
type Config struct {
	BaseURL string
	ChainID int64
	// SlippageBps is taken off the quoted buy amount when building orders
	SlippageBps int
	ValidFor    time.Duration
	// Presign quotes orders for a Safe, which signs them on-chain
	Presign bool
}

// Client talks to the CoW Protocol orderbook
type Client struct {
	cfg    Config
	http   *http.Client
	logger *logrus.Logger
	now    func() time.Time
}

var _ solver.Solver = (*Client)(nil)

// NewClient creates a new orderbook client
func NewClient(cfg Config, logger *logrus.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.ValidFor <= 0 {
		cfg.ValidFor = DefaultValidFor
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
	return types.SolverCowswap
}

func (c *Client) Spender(quote.Quote) common.Address {
	return VaultRelayerAddress
}

// GetQuote requests one quote per input token
func (c *Client) GetQuote(ctx context.Context, args types.RequestArgs) (quote.Quote, error) {
	if err := args.Validate(); err != nil {
		return nil, err
	}

	out := &quote.CowswapQuote{
		BuyToken:   args.OutputToken,
		SellTokens: make(map[string]types.TokenWithAmount, len(args.InputTokens)),
		Orders:     make(map[string]quote.CowswapOrder, len(args.InputTokens)),
	}

	for i, token := range args.InputTokens {
		amount := args.InputAmounts[i]
		order, err := c.quoteToken(ctx, args, token, amount)
		if err != nil {
			return nil, err
		}
		out.SellTokens[token.Key()] = token.WithAmount(types.NewAmount(amount, token.Decimals))
		out.Orders[token.Key()] = order
	}

	return out, nil
}

func (c *Client) quoteToken(ctx context.Context, args types.RequestArgs, token types.Token, amount *big.Int) (quote.CowswapOrder, error) {
	scheme := quote.SchemeEIP712
	if c.cfg.Presign {
		scheme = quote.SchemePresign
	}

	req := quoteRequest{
		SellToken:           token.Address.Hex(),
		BuyToken:            args.OutputToken.Address.Hex(),
		Receiver:            args.Receiver.Hex(),
		From:                args.From.Hex(),
		Kind:                kindSell,
		SellAmountBeforeFee: amount.String(),
		ValidFor:            int64(c.cfg.ValidFor / time.Second),
		AppData:             zeroAppData,
		SellTokenBalance:    balanceERC20,
		BuyTokenBalance:     balanceERC20,
		SigningScheme:       string(scheme),
	}

	var resp quoteResponse
	status, body, err := c.do(ctx, http.MethodPost, "/api/v1/quote", req, &resp)
	if err != nil {
		return quote.CowswapOrder{}, err
	}
	if status != http.StatusOK {
		return quote.CowswapOrder{}, quoteError(status, body)
	}

	params, err := resp.Quote.toParams()
	if err != nil {
		return quote.CowswapOrder{}, errors.Wrap(err, "failed to parse quote")
	}

	expiration := c.now().Add(c.cfg.ValidFor).Unix()
	if resp.Expiration != "" {
		if t, err := time.Parse(time.RFC3339Nano, resp.Expiration); err == nil {
			expiration = t.Unix()
		}
	}

	c.logger.WithFields(logrus.Fields{
		"solver":   types.SolverCowswap,
		"token":    token.Symbol,
		"quote_id": resp.ID,
		"buy":      params.BuyAmount.String(),
	}).Debug("quote received")

	return quote.CowswapOrder{
		OrderEntry: quote.OrderEntry{
			ExpirationTimestamp: expiration,
			OrderStatus:         types.OrderNotStarted,
		},
		QuoteID:   resp.ID,
		From:      args.From,
		SellToken: token.WithAmount(types.NewAmount(amount, token.Decimals)),
		BuyToken:  args.OutputToken.WithAmount(types.NewAmount(params.BuyAmount, args.OutputToken.Decimals)),
		Params:    params,
	}, nil
}

// Sign signs the order for key. Safe wallets presign on-chain, so the
// signature is just the owner address.
func (c *Client) Sign(ctx context.Context, q quote.Quote, key string, signer solver.TypedDataSigner) (solver.Signature, error) {
	o, err := c.lookup(q, key)
	if err != nil {
		return solver.Signature{}, err
	}

	if signer.IsSafe() {
		return solver.Signature{Value: signer.Address().Hex(), Scheme: quote.SchemePresign}, nil
	}

	sig, err := signer.SignTypedData(ctx, c.buildOrder(o).typedData(c.cfg.ChainID))
	if err != nil {
		return solver.Signature{}, errors.Wrap(err, "failed to sign order")
	}

	return solver.Signature{Value: hexutil.Encode(sig), Scheme: quote.SchemeEIP712}, nil
}

// Execute posts the signed order and returns its UID
func (c *Client) Execute(ctx context.Context, q quote.Quote, key string) (string, error) {
	o, err := c.lookup(q, key)
	if err != nil {
		return "", err
	}
	if o.Signature == "" {
		return "", solver.ErrNotSigned
	}

	built := c.buildOrder(o)
	req := orderCreation{
		SellToken:         built.SellToken.Hex(),
		BuyToken:          built.BuyToken.Hex(),
		Receiver:          built.Receiver.Hex(),
		SellAmount:        built.SellAmount.String(),
		BuyAmount:         built.BuyAmount.String(),
		ValidTo:           built.ValidTo,
		AppData:           built.AppData,
		FeeAmount:         built.FeeAmount.String(),
		Kind:              built.Kind,
		PartiallyFillable: built.PartiallyFillable,
		SellTokenBalance:  built.SellTokenBalance,
		BuyTokenBalance:   built.BuyTokenBalance,
		SigningScheme:     string(o.SigningScheme),
		Signature:         o.Signature,
		From:              o.From.Hex(),
		QuoteID:           o.QuoteID,
	}

	var uid string
	status, body, err := c.do(ctx, http.MethodPost, "/api/v1/orders", req, &uid)
	if err != nil {
		return "", err
	}
	if status != http.StatusCreated && status != http.StatusOK {
		return "", orderError(status, body)
	}

	c.logger.WithFields(logrus.Fields{
		"solver": types.SolverCowswap,
		"token":  o.SellToken.Symbol,
		"uid":    uid,
	}).Info("order submitted")

	return uid, nil
}

// PollStatus maps the orderbook status onto an OrderStatus
func (c *Client) PollStatus(ctx context.Context, orderUID string) (types.OrderStatus, error) {
	var resp orderResponse
	status, body, err := c.do(ctx, http.MethodGet, "/api/v1/orders/"+orderUID, nil, &resp)
	if err != nil {
		return types.OrderPending, err
	}
	switch {
	case status == http.StatusNotFound:
		return types.OrderPending, errors.Wrapf(solver.ErrOrderNotFound, "uid %s", orderUID)
	case status != http.StatusOK:
		return types.OrderPending, orderError(status, body)
	}

	return mapStatus(resp.Status), nil
}

func mapStatus(s string) types.OrderStatus {
	switch s {
	case "fulfilled":
		return types.OrderCowswapFulfilled
	case "cancelled":
		return types.OrderCowswapCancelled
	case "expired":
		return types.OrderCowswapExpired
	case "open", "presignaturePending":
		return types.OrderPending
	default:
		return types.OrderPending
	}
}

func (c *Client) lookup(q quote.Quote, key string) (quote.CowswapOrder, error) {
	cq, err := quote.AssertCowswap(q)
	if err != nil {
		return quote.CowswapOrder{}, err
	}
	o, ok := cq.Orders[key]
	if !ok {
		return quote.CowswapOrder{}, errors.Errorf("no cowswap order for token %s", key)
	}
	if o.Params.SellAmount == nil || o.Params.BuyAmount == nil {
		return quote.CowswapOrder{}, errors.Errorf("cowswap order for token %s has not been quoted", key)
	}
	return o, nil
}

// buildOrder turns quoted parameters into the order that is signed and
// posted: the fee is folded into the sell amount and the buy amount is
// reduced by the configured slippage.
func (c *Client) buildOrder(o quote.CowswapOrder) order {
	p := o.Params

	sellAmount := new(big.Int).Set(p.SellAmount)
	if p.FeeAmount != nil {
		sellAmount.Add(sellAmount, p.FeeAmount)
	}

	buyAmount := applySlippage(p.BuyAmount, c.cfg.SlippageBps)

	receiver := p.Receiver
	if receiver == (common.Address{}) {
		receiver = o.From
	}

	appData := p.AppData
	if appData == "" {
		appData = zeroAppData
	}

	kind := p.Kind
	if kind == "" {
		kind = kindSell
	}

	return order{
		SellToken:         p.SellToken,
		BuyToken:          p.BuyToken,
		Receiver:          receiver,
		SellAmount:        sellAmount,
		BuyAmount:         buyAmount,
		ValidTo:           p.ValidTo,
		AppData:           appData,
		FeeAmount:         new(big.Int),
		Kind:              kind,
		PartiallyFillable: p.PartiallyFillable,
		SellTokenBalance:  orDefault(p.SellTokenBalance, balanceERC20),
		BuyTokenBalance:   orDefault(p.BuyTokenBalance, balanceERC20),
	}
}

func applySlippage(amount *big.Int, bps int) *big.Int {
	if bps <= 0 {
		return new(big.Int).Set(amount)
	}
	out := new(big.Int).Mul(amount, big.NewInt(int64(10_000-bps)))
	return out.Div(out, big.NewInt(10_000))
}

func (p quoteParams) toParams() (quote.CowswapParams, error) {
	sellAmount, ok := new(big.Int).SetString(p.SellAmount, 10)
	if !ok {
		return quote.CowswapParams{}, errors.Errorf("invalid sellAmount %q", p.SellAmount)
	}
	buyAmount, ok := new(big.Int).SetString(p.BuyAmount, 10)
	if !ok {
		return quote.CowswapParams{}, errors.Errorf("invalid buyAmount %q", p.BuyAmount)
	}
	feeAmount := new(big.Int)
	if p.FeeAmount != "" {
		if _, ok := feeAmount.SetString(p.FeeAmount, 10); !ok {
			return quote.CowswapParams{}, errors.Errorf("invalid feeAmount %q", p.FeeAmount)
		}
	}

	appData := p.AppDataHash
	if appData == "" && strings.HasPrefix(p.AppData, "0x") {
		appData = p.AppData
	}

	params := quote.CowswapParams{
		SellToken:         common.HexToAddress(p.SellToken),
		BuyToken:          common.HexToAddress(p.BuyToken),
		SellAmount:        sellAmount,
		BuyAmount:         buyAmount,
		FeeAmount:         feeAmount,
		ValidTo:           p.ValidTo,
		AppData:           appData,
		Kind:              p.Kind,
		PartiallyFillable: p.PartiallyFillable,
		SellTokenBalance:  p.SellTokenBalance,
		BuyTokenBalance:   p.BuyTokenBalance,
	}
	if common.IsHexAddress(p.Receiver) {
		params.Receiver = common.HexToAddress(p.Receiver)
	}
	return params, nil
}

// quoteError translates a rejected quote into a tagged QuoteError
func quoteError(status int, body []byte) error {
	var apiErr apiError
	if err := json.Unmarshal(body, &apiErr); err != nil || apiErr.ErrorType == "" {
		return &solver.QuoteError{
			Solver:  types.SolverCowswap,
			Message: fmt.Sprintf("unexpected status %d: %s", status, truncate(body)),
			Code:    status,
		}
	}

	return &solver.QuoteError{
		Solver:        types.SolverCowswap,
		Kind:          apiErr.ErrorType,
		Message:       apiErr.Description,
		ShouldDisable: shouldDisable(apiErr.ErrorType),
		Code:          status,
	}
}

// shouldDisable is true for errors retrying cannot fix
func shouldDisable(errorType string) bool {
	switch errorType {
	case "UnsupportedToken", "UnsupportedBuyTokenDestination", "UnsupportedSellTokenSource", "TransferSimulationFailed":
		return true
	default:
		return false
	}
}

func orderError(status int, body []byte) error {
	var apiErr apiError
	if err := json.Unmarshal(body, &apiErr); err != nil || apiErr.ErrorType == "" {
		return errors.Errorf("orderbook returned status %d: %s", status, truncate(body))
	}
	if apiErr.ErrorType == "InsufficientAllowance" {
		return errors.Wrap(solver.ErrInsufficientAllowance, apiErr.Description)
	}
	return errors.Errorf("orderbook rejected order (%s): %s", apiErr.ErrorType, apiErr.Description)
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) (int, []byte, error) {
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

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, errors.Wrapf(err, "%s %s failed", method, path)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, errors.Wrap(err, "failed to read response")
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 && out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return resp.StatusCode, body, errors.Wrap(err, "failed to decode response")
		}
	}

	return resp.StatusCode, body, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func truncate(body []byte) string {
	if len(body) > 256 {
		return string(body[:256]) + "..."
	}
	return string(body)
}
