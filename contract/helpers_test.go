package contract

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"contract-lab/hashing"
	"contract-lab/models"
)

// stubWorld is a controllable execution environment. onPay, when set, runs
// before the payout is credited and may call back into the contract, which
// is exactly how a hostile payee behaves.
type stubWorld struct {
	payouts   map[common.Address]*uint256.Int
	onPay     func(to common.Address, amount *uint256.Int) error
	payErr    error
	parent    common.Hash
	blockTime int64
}

func newStubWorld() *stubWorld {
	return &stubWorld{
		payouts: make(map[common.Address]*uint256.Int),
	}
}

func (w *stubWorld) Pay(to common.Address, amount *uint256.Int) error {
	if w.payErr != nil {
		return w.payErr
	}
	if w.onPay != nil {
		if err := w.onPay(to, amount); err != nil {
			return err
		}
	}
	balance, ok := w.payouts[to]
	if !ok {
		balance = uint256.NewInt(0)
	}
	w.payouts[to] = new(uint256.Int).Add(balance, amount)
	return nil
}

func (w *stubWorld) ParentHash() common.Hash { return w.parent }

func (w *stubWorld) BlockTime() int64 { return w.blockTime }

func (w *stubWorld) paidTo(account common.Address) *uint256.Int {
	if balance, ok := w.payouts[account]; ok {
		return balance.Clone()
	}
	return uint256.NewInt(0)
}

var (
	ownerAddr   = common.HexToAddress("0x0000000000000000000000000000000000000a11")
	aliceAddr   = common.HexToAddress("0x0000000000000000000000000000000000000b22")
	bobAddr     = common.HexToAddress("0x0000000000000000000000000000000000000c33")
	malloryAddr = common.HexToAddress("0x0000000000000000000000000000000000000d44")
	pluginAddr  = common.HexToAddress("0x0000000000000000000000000000000000000e55")
)

func newSecureForTest(t *testing.T) (*SecureContract, *stubWorld) {
	t.Helper()
	world := newStubWorld()
	secure, err := NewSecure(NewState(ownerAddr), world, hashing.NewService())
	require.NoError(t, err)
	return secure, world
}

func newVulnerableForTest(t *testing.T) (*VulnerableContract, *stubWorld) {
	t.Helper()
	world := newStubWorld()
	return NewVulnerable(NewState(ownerAddr), world), world
}

// recordingSink collects emitted event types in order.
type recordingSink struct {
	types []models.EventType
}

func (r *recordingSink) sink(eventType models.EventType, caller common.Address, params map[string]string) {
	r.types = append(r.types, eventType)
}
