package service

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"contract-lab/contract"
	"contract-lab/hashing"
)

// PluginAddress derives a stable, non-zero address for a named delegate so
// deployments and tests agree on where a plugin lives.
func PluginAddress(hasher *hashing.Service, name string) common.Address {
	return common.BytesToAddress(hasher.Keccak256([]byte("plugin/" + name)))
}

// AirdropPayload is the JSON payload the airdrop plugin expects.
type AirdropPayload struct {
	Account common.Address `json:"account"`
	Amount  string         `json:"amount"` // decimal
}

// NewAirdropPlugin returns a delegate that credits a ledger account,
// the kind of privileged maintenance call Execute exists for. It runs
// against the dispatcher's own state, so a malformed payload must fail
// cleanly and let the dispatcher roll back.
func NewAirdropPlugin() contract.Plugin {
	return contract.PluginFunc(func(state *contract.State, caller common.Address, payload []byte) error {
		var airdrop AirdropPayload
		if err := json.Unmarshal(payload, &airdrop); err != nil {
			return fmt.Errorf("invalid airdrop payload: %w", err)
		}
		if airdrop.Account == (common.Address{}) {
			return fmt.Errorf("airdrop account must not be the zero address")
		}
		amount, err := uint256.FromDecimal(airdrop.Amount)
		if err != nil {
			return fmt.Errorf("invalid airdrop amount: %w", err)
		}
		if amount.IsZero() {
			return fmt.Errorf("airdrop amount must be greater than zero")
		}

		credited, overflow := new(uint256.Int).AddOverflow(state.BalanceOf(airdrop.Account), amount)
		if overflow {
			return fmt.Errorf("airdrop would overflow balance of %s", airdrop.Account.Hex())
		}
		state.Balances[airdrop.Account] = credited
		return nil
	})
}

// NewSweepPlugin returns a delegate that moves an account's whole balance
// to the current owner, a second exhibit of what delegated code can do to
// the dispatcher's state once it runs there.
func NewSweepPlugin() contract.Plugin {
	return contract.PluginFunc(func(state *contract.State, caller common.Address, payload []byte) error {
		var from common.Address
		if err := json.Unmarshal(payload, &from); err != nil {
			return fmt.Errorf("invalid sweep payload: %w", err)
		}
		balance := state.BalanceOf(from)
		if balance.IsZero() {
			return fmt.Errorf("nothing to sweep from %s", from.Hex())
		}

		credited, overflow := new(uint256.Int).AddOverflow(state.BalanceOf(state.Owner), balance)
		if overflow {
			return fmt.Errorf("sweep would overflow owner balance")
		}
		state.Balances[from] = uint256.NewInt(0)
		state.Balances[state.Owner] = credited
		return nil
	})
}
