package contract

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"contract-lab/models"
)

// State is the single shared state record all four sub-machines operate on:
// the ledger balances, the current owner, the candidate registry with its
// voted set, and the stored credential digests. One contract instance owns
// exactly one State; nothing is shared across instances.
type State struct {
	Balances    map[common.Address]*uint256.Int      `json:"balances"`
	Owner       common.Address                       `json:"owner"`
	Candidates  []models.Candidate                   `json:"candidates"`
	Voted       map[common.Address]bool              `json:"voted"`
	Credentials map[common.Address]models.Credential `json:"credentials"`
}

// NewState returns an empty state owned by the deployer.
func NewState(owner common.Address) *State {
	return &State{
		Balances:    make(map[common.Address]*uint256.Int),
		Owner:       owner,
		Candidates:  make([]models.Candidate, 0),
		Voted:       make(map[common.Address]bool),
		Credentials: make(map[common.Address]models.Credential),
	}
}

// BalanceOf returns a copy of the account's balance, zero if unknown.
func (s *State) BalanceOf(account common.Address) *uint256.Int {
	if balance, ok := s.Balances[account]; ok {
		return balance.Clone()
	}
	return uint256.NewInt(0)
}

// Copy deep-copies the state so a failed multi-step operation can be
// rolled back without the environment's help.
func (s *State) Copy() *State {
	cp := &State{
		Balances:    make(map[common.Address]*uint256.Int, len(s.Balances)),
		Owner:       s.Owner,
		Candidates:  make([]models.Candidate, len(s.Candidates)),
		Voted:       make(map[common.Address]bool, len(s.Voted)),
		Credentials: make(map[common.Address]models.Credential, len(s.Credentials)),
	}
	for account, balance := range s.Balances {
		cp.Balances[account] = balance.Clone()
	}
	copy(cp.Candidates, s.Candidates)
	for account, voted := range s.Voted {
		cp.Voted[account] = voted
	}
	for account, credential := range s.Credentials {
		cp.Credentials[account] = credential
	}
	return cp
}

// restore overwrites the state in place from a previously taken copy,
// so holders of the *State pointer observe the rollback.
func (s *State) restore(from *State) {
	*s = *from
}
