// Package safe batches calls into a single Safe transaction and proposes it
// to the Safe Transaction Service for the owners to confirm.
package safe

import (
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/pkg/errors"
)

// MultiSendCallOnlyAddress is the canonical MultiSendCallOnly v1.3.0 deployment
var MultiSendCallOnlyAddress = common.HexToAddress("0x40A2aCCbd92BCA938b02010E17A5b8929b49130D")

const (
	OperationCall         uint8 = 0
	OperationDelegateCall uint8 = 1
)

const multiSendABI = `[{"inputs":[{"name":"transactions","type":"bytes"}],"name":"multiSend","outputs":[],"stateMutability":"payable","type":"function"}]`

var parsedMultiSendABI abi.ABI

func init() {
	var err error
	parsedMultiSendABI, err = abi.JSON(strings.NewReader(multiSendABI))
	if err != nil {
		panic(err)
	}
}

// MetaTx is one call inside a Safe batch
type MetaTx struct {
	To    common.Address
	Value *big.Int
	Data  []byte
}

// EncodeMultiSend packs the calls the way MultiSend expects them:
// operation(1) to(20) value(32) dataLength(32) data
func EncodeMultiSend(txs []MetaTx) []byte {
	var out []byte
	for _, tx := range txs {
		value := tx.Value
		if value == nil {
			value = new(big.Int)
		}
		out = append(out, OperationCall)
		out = append(out, tx.To.Bytes()...)
		out = append(out, math.U256Bytes(new(big.Int).Set(value))...)
		out = append(out, math.U256Bytes(big.NewInt(int64(len(tx.Data))))...)
		out = append(out, tx.Data...)
	}
	return out
}

// Combine collapses the calls into the single transaction the Safe executes.
// One call is sent as is, more go through MultiSendCallOnly.
func Combine(txs []MetaTx) (MetaTx, uint8, error) {
	switch len(txs) {
	case 0:
		return MetaTx{}, 0, errors.New("empty batch")
	case 1:
		return txs[0], OperationCall, nil
	}

	data, err := parsedMultiSendABI.Pack("multiSend", EncodeMultiSend(txs))
	if err != nil {
		return MetaTx{}, 0, errors.Wrap(err, "failed to pack multiSend")
	}
	return MetaTx{To: MultiSendCallOnlyAddress, Value: new(big.Int), Data: data}, OperationDelegateCall, nil
}

// Batch collects calls per order. Adding calls for an order that is
// already in the batch is a no-op, so retried steps never duplicate.
type Batch struct {
	mu    sync.Mutex
	ids   []string
	calls map[string][]MetaTx
}

func NewBatch() *Batch {
	return &Batch{calls: make(map[string][]MetaTx)}
}

// Add queues the calls under id and reports whether they were added
func (b *Batch) Add(id string, txs ...MetaTx) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.calls[id]; ok {
		return false
	}
	b.ids = append(b.ids, id)
	b.calls[id] = append([]MetaTx(nil), txs...)
	return true
}

// Has reports whether calls are queued under id
func (b *Batch) Has(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.calls[id]
	return ok
}

// IDs returns the queued ids in insertion order
func (b *Batch) IDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.ids...)
}

// Transactions flattens the batch in insertion order
func (b *Batch) Transactions() []MetaTx {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []MetaTx
	for _, id := range b.ids {
		out = append(out, b.calls[id]...)
	}
	return out
}

func (b *Batch) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.ids)
}

// Reset empties the batch after it has been submitted
func (b *Batch) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ids = nil
	b.calls = make(map[string][]MetaTx)
}
