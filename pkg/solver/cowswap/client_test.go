package cowswap

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/sirupsen/logrus"

	"token-dump/pkg/quote"
	"token-dump/pkg/solver"
	"token-dump/pkg/types"
)

var (
	sellToken = types.Token{Address: common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F"), Symbol: "DAI", Decimals: 18, ChainID: 1}
	buyToken  = types.Token{Address: common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"), Symbol: "USDC", Decimals: 6, ChainID: 1}
	owner     = common.HexToAddress("0x1111111111111111111111111111111111111111")
)

type keySigner struct {
	key  *ecdsa.PrivateKey
	safe bool
}

func (s *keySigner) Address() common.Address { return crypto.PubkeyToAddress(s.key.PublicKey) }
func (s *keySigner) IsSafe() bool            { return s.safe }

func (s *keySigner) SignTypedData(_ context.Context, data apitypes.TypedData) ([]byte, error) {
	hash, _, err := apitypes.TypedDataAndHash(data)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(hash, s.key)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func args() types.RequestArgs {
	return types.RequestArgs{
		From:         owner,
		Receiver:     owner,
		InputTokens:  []types.Token{sellToken},
		InputAmounts: []*big.Int{big.NewInt(1_000_000)},
		OutputToken:  buyToken,
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL, ChainID: 1, SlippageBps: 100}, quietLogger())
}

func quoteHandler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/quote" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var req quoteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.SellAmountBeforeFee != "1000000" || req.Kind != "sell" {
			t.Errorf("unexpected quote request %+v", req)
		}
		_, _ = io.WriteString(w, `{
			"quote": {
				"sellToken": "`+sellToken.Address.Hex()+`",
				"buyToken": "`+buyToken.Address.Hex()+`",
				"receiver": "`+owner.Hex()+`",
				"sellAmount": "990000",
				"buyAmount": "20000",
				"validTo": 1700001800,
				"appData": "0x0000000000000000000000000000000000000000000000000000000000000000",
				"feeAmount": "10000",
				"kind": "sell",
				"partiallyFillable": false,
				"sellTokenBalance": "erc20",
				"buyTokenBalance": "erc20"
			},
			"from": "`+owner.Hex()+`",
			"expiration": "2023-11-14T22:13:20Z",
			"id": 42
		}`)
	}
}

func TestGetQuoteBuildsOneOrderPerToken(t *testing.T) {
	c := newTestClient(t, quoteHandler(t))

	q, err := c.GetQuote(context.Background(), args())
	if err != nil {
		t.Fatalf("GetQuote: %v", err)
	}
	cq, err := quote.AssertCowswap(q)
	if err != nil {
		t.Fatalf("expected cowswap quote: %v", err)
	}

	o, ok := cq.Orders[sellToken.Key()]
	if !ok {
		t.Fatalf("missing order for %s", sellToken.Symbol)
	}
	if o.QuoteID != 42 {
		t.Errorf("QuoteID = %d, want 42", o.QuoteID)
	}
	if o.ExpirationTimestamp != 1_700_000_000 {
		t.Errorf("ExpirationTimestamp = %d, want 1700000000", o.ExpirationTimestamp)
	}
	if o.BuyToken.Amount.Raw.Int64() != 20000 {
		t.Errorf("buy amount = %s, want 20000", o.BuyToken.Amount.Raw)
	}
	if got := quote.SellAmount(q, sellToken.Key()).Raw.Int64(); got != 1_000_000 {
		t.Errorf("SellAmount = %d, want 1000000", got)
	}
}

func TestGetQuoteClassifiesErrors(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantKind    string
		wantDisable bool
	}{
		{"unsupported token", http.StatusBadRequest, `{"errorType":"UnsupportedToken","description":"Token not supported"}`, "UnsupportedToken", true},
		{"fee too high", http.StatusBadRequest, `{"errorType":"SellAmountDoesNotCoverFee","description":"fee"}`, "SellAmountDoesNotCoverFee", false},
		{"no liquidity", http.StatusNotFound, `{"errorType":"NoLiquidity","description":"no route"}`, "NoLiquidity", false},
		{"garbage", http.StatusInternalServerError, `oops`, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})

			_, err := c.GetQuote(context.Background(), args())
			qe, ok := solver.AsQuoteError(err)
			if !ok {
				t.Fatalf("expected QuoteError, got %v", err)
			}
			if qe.Kind != tt.wantKind || qe.ShouldDisable != tt.wantDisable || qe.Code != tt.status {
				t.Errorf("got %+v", qe)
			}
			if qe.Solver != types.SolverCowswap {
				t.Errorf("Solver = %s", qe.Solver)
			}
		})
	}
}

func TestSignRecoversOwner(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	signer := &keySigner{key: key}

	c := newTestClient(t, quoteHandler(t))
	q, err := c.GetQuote(context.Background(), args())
	if err != nil {
		t.Fatalf("GetQuote: %v", err)
	}

	sig, err := c.Sign(context.Background(), q, sellToken.Key(), signer)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if sig.Scheme != quote.SchemeEIP712 {
		t.Errorf("Scheme = %s", sig.Scheme)
	}

	raw, err := hexutil.Decode(sig.Value)
	if err != nil || len(raw) != 65 {
		t.Fatalf("bad signature %q: %v", sig.Value, err)
	}
	raw[64] -= 27

	cq, _ := quote.AssertCowswap(q)
	hash, _, err := apitypes.TypedDataAndHash(c.buildOrder(cq.Orders[sellToken.Key()]).typedData(1))
	if err != nil {
		t.Fatal(err)
	}
	pub, err := crypto.SigToPub(hash, raw)
	if err != nil {
		t.Fatal(err)
	}
	if crypto.PubkeyToAddress(*pub) != signer.Address() {
		t.Errorf("recovered %s, want %s", crypto.PubkeyToAddress(*pub).Hex(), signer.Address().Hex())
	}
}

func TestSignSafeUsesPresign(t *testing.T) {
	key, _ := crypto.GenerateKey()
	signer := &keySigner{key: key, safe: true}

	c := newTestClient(t, quoteHandler(t))
	q, err := c.GetQuote(context.Background(), args())
	if err != nil {
		t.Fatalf("GetQuote: %v", err)
	}

	sig, err := c.Sign(context.Background(), q, sellToken.Key(), signer)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if sig.Scheme != quote.SchemePresign || sig.Value != signer.Address().Hex() {
		t.Errorf("got %+v", sig)
	}
}

func TestExecutePostsAdjustedOrder(t *testing.T) {
	var posted orderCreation
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/quote":
			quoteHandler(t)(w, r)
		case "/api/v1/orders":
			if err := json.NewDecoder(r.Body).Decode(&posted); err != nil {
				t.Errorf("decode order: %v", err)
			}
			w.WriteHeader(http.StatusCreated)
			_, _ = io.WriteString(w, `"0xabc"`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	q, err := c.GetQuote(context.Background(), args())
	if err != nil {
		t.Fatalf("GetQuote: %v", err)
	}

	if _, err := c.Execute(context.Background(), q, sellToken.Key()); !errors.Is(err, solver.ErrNotSigned) {
		t.Fatalf("expected ErrNotSigned, got %v", err)
	}

	q = quote.AssignSignature(q, sellToken.Key(), "0xdeadbeef", quote.SchemeEIP712)
	uid, err := c.Execute(context.Background(), q, sellToken.Key())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if uid != "0xabc" {
		t.Errorf("uid = %q", uid)
	}
	if posted.SellAmount != "1000000" {
		t.Errorf("sellAmount = %s, want fee folded in", posted.SellAmount)
	}
	if posted.FeeAmount != "0" {
		t.Errorf("feeAmount = %s, want 0", posted.FeeAmount)
	}
	// 20000 minus 1%
	if posted.BuyAmount != "19800" {
		t.Errorf("buyAmount = %s, want 19800", posted.BuyAmount)
	}
	if posted.QuoteID != 42 || posted.Signature != "0xdeadbeef" {
		t.Errorf("unexpected order %+v", posted)
	}
}

func TestExecuteInsufficientAllowance(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/quote" {
			quoteHandler(t)(w, r)
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"errorType":"InsufficientAllowance","description":"allowance too low"}`)
	})

	q, err := c.GetQuote(context.Background(), args())
	if err != nil {
		t.Fatalf("GetQuote: %v", err)
	}
	q = quote.AssignSignature(q, sellToken.Key(), "0x01", quote.SchemeEIP712)

	_, err = c.Execute(context.Background(), q, sellToken.Key())
	if !errors.Is(err, solver.ErrInsufficientAllowance) {
		t.Fatalf("expected ErrInsufficientAllowance, got %v", err)
	}
}

func TestPollStatus(t *testing.T) {
	tests := map[string]types.OrderStatus{
		"open":                types.OrderPending,
		"presignaturePending": types.OrderPending,
		"fulfilled":           types.OrderCowswapFulfilled,
		"cancelled":           types.OrderCowswapCancelled,
		"expired":             types.OrderCowswapExpired,
	}

	for remote, want := range tests {
		t.Run(remote, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/api/v1/orders/0xuid" {
					t.Errorf("unexpected path %s", r.URL.Path)
				}
				_, _ = io.WriteString(w, `{"uid":"0xuid","status":"`+remote+`"}`)
			})
			got, err := c.PollStatus(context.Background(), "0xuid")
			if err != nil {
				t.Fatalf("PollStatus: %v", err)
			}
			if got != want {
				t.Errorf("status = %s, want %s", got, want)
			}
		})
	}
}

func TestPollStatusNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	_, err := c.PollStatus(context.Background(), "0xmissing")
	if !errors.Is(err, solver.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestPreSignatureCall(t *testing.T) {
	uid := "0x" + common.Bytes2Hex(make([]byte, 56))
	data, err := PreSignatureCall(uid)
	if err != nil {
		t.Fatalf("PreSignatureCall: %v", err)
	}
	method, err := parsedSettlementABI.MethodById(data[:4])
	if err != nil || method.Name != "setPreSignature" {
		t.Fatalf("unexpected selector: %v", err)
	}

	if _, err := PreSignatureCall("0x1234"); err == nil {
		t.Error("expected error for short uid")
	}
}
