package contract

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"contract-lab/hashing"
	"contract-lab/models"
)

// Scale is the fixed-point denominator of Divide results: a quotient q
// represents the fraction q/Scale.
var Scale = uint256.NewInt(1_000_000_000_000_000_000)

// SecureContract is the hardened variant of the state machine. Every
// operation is all-or-nothing: preconditions are checked before any
// mutation, and the two multi-step paths (Withdraw, Execute) roll their
// effects back explicitly when the external step fails.
type SecureContract struct {
	state   *State
	world   World
	hasher  *hashing.Service
	plugins map[common.Address]Plugin
	sink    EventSink
	locked  bool
}

// NewSecure wires a contract instance over the given state. The state's
// owner is the deployer and must not be the zero address.
func NewSecure(state *State, world World, hasher *hashing.Service) (*SecureContract, error) {
	if state == nil || state.Owner == (common.Address{}) {
		return nil, precondition("new", ErrZeroAddress)
	}
	return &SecureContract{
		state:   state,
		world:   world,
		hasher:  hasher,
		plugins: make(map[common.Address]Plugin),
	}, nil
}

// SetEventSink routes emitted events to the given sink.
func (c *SecureContract) SetEventSink(sink EventSink) { c.sink = sink }

// RegisterPlugin adds a delegate to the closed set Execute may dispatch to.
// This is deployment-time wiring, not part of the request surface.
func (c *SecureContract) RegisterPlugin(target common.Address, plugin Plugin) error {
	if target == (common.Address{}) {
		return precondition("registerPlugin", ErrZeroAddress)
	}
	c.plugins[target] = plugin
	return nil
}

// State exposes the underlying state record for inspection and snapshots.
func (c *SecureContract) State() *State { return c.state }

func (c *SecureContract) emit(eventType models.EventType, caller common.Address, params map[string]string) {
	if c.sink != nil {
		c.sink(eventType, caller, params)
	}
}

// Deposit credits the caller's balance. The amount must be positive and the
// resulting balance must not wrap.
func (c *SecureContract) Deposit(caller common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return precondition("deposit", ErrZeroAmount)
	}
	balance := c.state.BalanceOf(caller)
	credited, overflow := new(uint256.Int).AddOverflow(balance, amount)
	if overflow {
		return precondition("deposit", ErrOverflow)
	}
	c.state.Balances[caller] = credited
	c.emit(models.EventDeposited, caller, map[string]string{"amount": amount.Dec()})
	return nil
}

// Withdraw pays the caller's full balance out through the environment.
// The balance is zeroed before the external call (checks-effects-
// interactions) and the whole operation is re-entrancy guarded: a nested
// Withdraw issued from inside the payout fails. If the payout itself fails
// the zeroing is rolled back and a TransferError is returned.
func (c *SecureContract) Withdraw(caller common.Address) error {
	if c.locked {
		return precondition("withdraw", ErrReentrantCall)
	}
	c.locked = true
	defer func() { c.locked = false }()

	balance := c.state.BalanceOf(caller)
	if balance.IsZero() {
		return precondition("withdraw", ErrInsufficientBalance)
	}

	c.state.Balances[caller] = uint256.NewInt(0)
	if err := c.world.Pay(caller, balance); err != nil {
		c.state.Balances[caller] = balance
		return &TransferError{To: caller, Err: err}
	}

	c.emit(models.EventWithdrawn, caller, map[string]string{"amount": balance.Dec()})
	return nil
}

// Transfer moves value between two ledger accounts with checked arithmetic:
// a debit or credit that would wrap fails the whole operation.
func (c *SecureContract) Transfer(caller, to common.Address, amount *uint256.Int) error {
	if amount == nil {
		return precondition("transfer", ErrZeroAmount)
	}
	fromBalance := c.state.BalanceOf(caller)
	if fromBalance.Lt(amount) {
		return precondition("transfer", ErrInsufficientBalance)
	}

	if to != caller {
		toBalance := c.state.BalanceOf(to)
		credited, overflow := new(uint256.Int).AddOverflow(toBalance, amount)
		if overflow {
			return precondition("transfer", ErrOverflow)
		}
		c.state.Balances[caller] = new(uint256.Int).Sub(fromBalance, amount)
		c.state.Balances[to] = credited
	}

	c.emit(models.EventTransferred, caller, map[string]string{
		"to":     to.Hex(),
		"amount": amount.Dec(),
	})
	return nil
}

// ChangeOwner replaces the stored owner. Owner-only; the zero address is
// never a valid owner.
func (c *SecureContract) ChangeOwner(caller, newOwner common.Address) error {
	if caller != c.state.Owner {
		return precondition("changeOwner", ErrNotOwner)
	}
	if newOwner == (common.Address{}) {
		return precondition("changeOwner", ErrZeroAddress)
	}
	oldOwner := c.state.Owner
	c.state.Owner = newOwner
	c.emit(models.EventOwnerChanged, caller, map[string]string{
		"old_owner": oldOwner.Hex(),
		"new_owner": newOwner.Hex(),
	})
	return nil
}

// RegisterCandidate appends a candidate with zero votes. Owner-only.
func (c *SecureContract) RegisterCandidate(caller common.Address, name string) error {
	if caller != c.state.Owner {
		return precondition("registerCandidate", ErrNotOwner)
	}
	if name == "" {
		return precondition("registerCandidate", ErrEmptyName)
	}
	c.state.Candidates = append(c.state.Candidates, models.Candidate{Name: name})
	c.emit(models.EventCandidateRegistered, caller, map[string]string{
		"name":  name,
		"index": strconv.Itoa(len(c.state.Candidates) - 1),
	})
	return nil
}

// Vote increments the chosen candidate's count and marks the caller as
// having voted. One vote per account for the lifetime of the contract.
func (c *SecureContract) Vote(caller common.Address, candidateIndex int) error {
	if candidateIndex < 0 || candidateIndex >= len(c.state.Candidates) {
		return precondition("vote", ErrIndexOutOfRange)
	}
	if c.state.Voted[caller] {
		return precondition("vote", ErrAlreadyVoted)
	}
	c.state.Candidates[candidateIndex].VoteCount++
	c.state.Voted[caller] = true
	c.emit(models.EventVoted, caller, map[string]string{
		"index": strconv.Itoa(candidateIndex),
	})
	return nil
}

// FindWinner returns the name of the candidate with the strictly greatest
// vote count, lowest index winning ties. An empty registry is a
// precondition failure, not a guessed winner.
func (c *SecureContract) FindWinner() (string, error) {
	if len(c.state.Candidates) == 0 {
		return "", precondition("findWinner", ErrNoCandidates)
	}
	winner := 0
	for i := 1; i < len(c.state.Candidates); i++ {
		if c.state.Candidates[i].VoteCount > c.state.Candidates[winner].VoteCount {
			winner = i
		}
	}
	return c.state.Candidates[winner].Name, nil
}

// Execute dispatches a payload to a registered plugin, which runs against
// the contract's own state. Owner-only, zero target rejected, unknown
// targets rejected. A failing plugin leaves no trace: the state is
// snapshotted before the run and restored on error.
func (c *SecureContract) Execute(caller, target common.Address, payload []byte) error {
	if caller != c.state.Owner {
		return precondition("execute", ErrNotOwner)
	}
	if target == (common.Address{}) {
		return precondition("execute", ErrZeroAddress)
	}
	plugin, ok := c.plugins[target]
	if !ok {
		return precondition("execute", ErrUnknownPlugin)
	}

	snapshot := c.state.Copy()
	if err := plugin.Run(c.state, caller, payload); err != nil {
		c.state.restore(snapshot)
		return &DelegationError{Target: target, Err: err}
	}
	return nil
}

// Divide returns (a*Scale)/b as a fixed-point value with Scale denominator.
// Division by zero fails explicitly; a numerator too large to scale fails
// rather than wrapping.
func (c *SecureContract) Divide(a, b *uint256.Int) (*uint256.Int, error) {
	if b == nil || b.IsZero() {
		return nil, precondition("divide", ErrZeroDenominator)
	}
	if a == nil {
		a = uint256.NewInt(0)
	}
	scaled, overflow := new(uint256.Int).MulOverflow(a, Scale)
	if overflow {
		return nil, precondition("divide", ErrOverflow)
	}
	return new(uint256.Int).Div(scaled, b), nil
}

// Register stores keccak digests of the credentials, keyed by caller.
// The plaintext is hashed immediately and never retained.
func (c *SecureContract) Register(caller common.Address, username, password string) error {
	if username == "" || password == "" {
		return precondition("register", ErrEmptyCredential)
	}
	c.state.Credentials[caller] = models.Credential{
		UsernameHash: c.hasher.HashString(username),
		PasswordHash: c.hasher.HashString(password),
	}
	return nil
}

// VerifyUser reports whether the password hashes to the digest stored for
// the account. An unregistered account verifies false, it is not an error.
func (c *SecureContract) VerifyUser(account common.Address, password string) bool {
	credential, ok := c.state.Credentials[account]
	if !ok {
		return false
	}
	return c.hasher.HashString(password) == credential.PasswordHash
}

// IsLuckyWinner draws a boolean from keccak(parent block hash, caller).
// The seed is only an improvement over the current block's timestamp:
// whoever produces blocks can grind the parent hash, so this must not be
// used where the outcome is worth attacking.
func (c *SecureContract) IsLuckyWinner(caller common.Address) bool {
	digest := c.hasher.Keccak256Hash(c.world.ParentHash().Bytes(), caller.Bytes())
	return digest[common.HashLength-1]&1 == 1
}
