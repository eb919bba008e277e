// Package wallet holds the two wallet kinds a dump can run from: a plain
// key-backed account and a Safe whose owner proposes batched transactions.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"token-dump/pkg/safe"
)

// ErrTransactionFailed is returned when a mined transaction reverted
var ErrTransactionFailed = errors.New("transaction failed")

// ErrOffchainSignature is returned when a Safe is asked for an off-chain
// signature
var ErrOffchainSignature = errors.New("safe cannot sign off-chain")

// Backend is the slice of ethclient the wallet uses
type Backend interface {
	bind.DeployBackend
	ethereum.ContractCaller
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// EOA is an externally owned account backed by a private key
type EOA struct {
	backend    Backend
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int
	logger     *logrus.Logger
}

// Dial connects to rpcURL and loads the hex private key
func Dial(rpcURL, privateKey string, chainID int64, logger *logrus.Logger) (*EOA, error) {
	if rpcURL == "" {
		return nil, errors.New("rpc url not configured")
	}
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to RPC endpoint")
	}
	return NewEOA(client, privateKey, chainID, logger)
}

// NewEOA creates an account on top of an existing backend
func NewEOA(backend Backend, privateKey string, chainID int64, logger *logrus.Logger) (*EOA, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKey, "0x"))
	if err != nil {
		return nil, errors.Wrap(err, "invalid private key")
	}
	return &EOA{
		backend:    backend,
		privateKey: key,
		address:    crypto.PubkeyToAddress(key.PublicKey),
		chainID:    big.NewInt(chainID),
		logger:     logger,
	}, nil
}

func (w *EOA) Address() common.Address {
	return w.address
}

func (w *EOA) IsSafe() bool {
	return false
}

// Caller exposes the backend for contract reads
func (w *EOA) Caller() ethereum.ContractCaller {
	return w.backend
}

// SignTypedData signs the EIP-712 hash of data. V is 27/28.
func (w *EOA) SignTypedData(_ context.Context, data apitypes.TypedData) ([]byte, error) {
	hash, _, err := apitypes.TypedDataAndHash(data)
	if err != nil {
		return nil, errors.Wrap(err, "failed to hash typed data")
	}
	sig, err := crypto.Sign(hash, w.privateKey)
	if err != nil {
		return nil, errors.Wrap(err, "failed to sign typed data")
	}
	sig[64] += 27
	return sig, nil
}

// SendTransaction signs and broadcasts a call to `to`
func (w *EOA) SendTransaction(ctx context.Context, to common.Address, data []byte) (*types.Transaction, error) {
	nonce, err := w.backend.PendingNonceAt(ctx, w.address)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get nonce")
	}

	gasPrice, err := w.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get gas price")
	}

	gasLimit, err := w.backend.EstimateGas(ctx, ethereum.CallMsg{From: w.address, To: &to, Data: data})
	if err != nil {
		return nil, errors.Wrap(err, "failed to estimate gas")
	}
	gasLimit = gasLimit * 120 / 100

	tx := types.NewTransaction(nonce, to, big.NewInt(0), gasLimit, gasPrice, data)
	signed, err := types.SignTx(tx, types.NewEIP155Signer(w.chainID), w.privateKey)
	if err != nil {
		return nil, errors.Wrap(err, "failed to sign transaction")
	}

	if err := w.backend.SendTransaction(ctx, signed); err != nil {
		return nil, errors.Wrap(err, "failed to send transaction")
	}

	w.logger.WithFields(logrus.Fields{
		"to":    to.Hex(),
		"hash":  signed.Hash().Hex(),
		"nonce": nonce,
	}).Debug("transaction sent")

	return signed, nil
}

// WaitMined blocks until tx is mined and fails if it reverted
func (w *EOA) WaitMined(ctx context.Context, tx *types.Transaction) error {
	receipt, err := bind.WaitMined(ctx, w.backend, tx)
	if err != nil {
		return errors.Wrap(err, "failed waiting for transaction")
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return errors.Wrapf(ErrTransactionFailed, "tx %s", tx.Hash().Hex())
	}
	return nil
}

// Proposer submits batched calls on behalf of a Safe
type Proposer interface {
	Propose(ctx context.Context, owner safe.Signer, txs []safe.MetaTx) (string, error)
}

// Safe is a Safe account operated by one of its owners
type Safe struct {
	address common.Address
	owner   *EOA
	service Proposer
}

// NewSafe wraps owner so that it acts for the Safe at address
func NewSafe(address common.Address, owner *EOA, service Proposer) *Safe {
	return &Safe{address: address, owner: owner, service: service}
}

func (s *Safe) Address() common.Address {
	return s.address
}

func (s *Safe) IsSafe() bool {
	return true
}

// Owner is the account that signs for the Safe
func (s *Safe) Owner() *EOA {
	return s.owner
}

func (s *Safe) Caller() ethereum.ContractCaller {
	return s.owner.Caller()
}

// SignTypedData always fails. An owner signature does not recover to the
// Safe, so orders for a Safe are signed on-chain through the batch.
func (s *Safe) SignTypedData(_ context.Context, _ apitypes.TypedData) ([]byte, error) {
	return nil, ErrOffchainSignature
}

// Propose submits the batch as one Safe transaction and returns its hash
func (s *Safe) Propose(ctx context.Context, batch *safe.Batch) (string, error) {
	txs := batch.Transactions()
	if len(txs) == 0 {
		return "", errors.New("nothing to propose")
	}
	return s.service.Propose(ctx, s.owner, txs)
}
