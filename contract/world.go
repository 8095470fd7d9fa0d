package contract

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// World is the execution environment a contract instance runs against.
// It stands in for the parts of the chain the contract cannot own: external
// account balances, block history and block time.
type World interface {
	// Pay moves value out of the contract to an external account. In a
	// hostile environment the payee can synchronously call back into the
	// contract before Pay returns; guarded operations must tolerate that.
	Pay(to common.Address, amount *uint256.Int) error

	// ParentHash returns the hash of the latest sealed block of the
	// environment's history, the seed of the lottery draw.
	ParentHash() common.Hash

	// BlockTime returns the current block timestamp in unix seconds.
	BlockTime() int64
}
