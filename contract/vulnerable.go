package contract

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"contract-lab/models"
)

// PlainCredential is what the vulnerable variant stores on Register:
// the credentials exactly as submitted. It exists so the test suite can
// demonstrate the disclosure; the secure variant never holds one.
type PlainCredential struct {
	Username string
	Password string
}

// VulnerableContract is the flawed twin of SecureContract. It keeps the
// same surface but reproduces the classic mistakes the secure variant
// fixes: payout before zeroing with no re-entrancy guard, wrapping
// arithmetic, unprotected ownership transfer and delegation, truncating
// division, plaintext credential storage, block-time randomness and
// missing double-vote enforcement. It is a teaching target for the attack
// suite, not something to deploy.
type VulnerableContract struct {
	state     *State
	world     World
	plugins   map[common.Address]Plugin
	plaintext map[common.Address]PlainCredential
	sink      EventSink
}

// NewVulnerable wires the flawed variant over the given state. True to
// form, it does not even insist on a non-zero owner.
func NewVulnerable(state *State, world World) *VulnerableContract {
	return &VulnerableContract{
		state:     state,
		world:     world,
		plugins:   make(map[common.Address]Plugin),
		plaintext: make(map[common.Address]PlainCredential),
	}
}

func (c *VulnerableContract) SetEventSink(sink EventSink) { c.sink = sink }

// RegisterPlugin mirrors the secure wiring so both variants can host the
// same delegates.
func (c *VulnerableContract) RegisterPlugin(target common.Address, plugin Plugin) {
	c.plugins[target] = plugin
}

func (c *VulnerableContract) State() *State { return c.state }

// StoredPassword returns the plaintext password kept for an account,
// demonstrating that it is retrievable at all.
func (c *VulnerableContract) StoredPassword(account common.Address) (string, bool) {
	credential, ok := c.plaintext[account]
	return credential.Password, ok
}

func (c *VulnerableContract) emit(eventType models.EventType, caller common.Address, params map[string]string) {
	if c.sink != nil {
		c.sink(eventType, caller, params)
	}
}

// Deposit credits the caller with wrapping arithmetic: a balance at the
// top of the range silently wraps around zero.
func (c *VulnerableContract) Deposit(caller common.Address, amount *uint256.Int) error {
	if amount == nil {
		amount = uint256.NewInt(0)
	}
	c.state.Balances[caller] = new(uint256.Int).Add(c.state.BalanceOf(caller), amount)
	c.emit(models.EventDeposited, caller, map[string]string{"amount": amount.Dec()})
	return nil
}

// Withdraw pays out first and zeroes the balance afterwards, with no
// re-entrancy guard: a payee that calls back in sees its balance still
// intact and can drain the environment.
func (c *VulnerableContract) Withdraw(caller common.Address) error {
	balance := c.state.BalanceOf(caller)
	if balance.IsZero() {
		return precondition("withdraw", ErrInsufficientBalance)
	}

	if err := c.world.Pay(caller, balance); err != nil {
		return &TransferError{To: caller, Err: err}
	}
	c.state.Balances[caller] = uint256.NewInt(0)

	c.emit(models.EventWithdrawn, caller, map[string]string{"amount": balance.Dec()})
	return nil
}

// Transfer checks the debit but credits with wrapping arithmetic, so a
// recipient balance near the top of the range wraps instead of failing.
func (c *VulnerableContract) Transfer(caller, to common.Address, amount *uint256.Int) error {
	if amount == nil {
		amount = uint256.NewInt(0)
	}
	fromBalance := c.state.BalanceOf(caller)
	if fromBalance.Lt(amount) {
		return precondition("transfer", ErrInsufficientBalance)
	}
	if to != caller {
		c.state.Balances[caller] = new(uint256.Int).Sub(fromBalance, amount)
		c.state.Balances[to] = new(uint256.Int).Add(c.state.BalanceOf(to), amount)
	}
	c.emit(models.EventTransferred, caller, map[string]string{
		"to":     to.Hex(),
		"amount": amount.Dec(),
	})
	return nil
}

// ChangeOwner is missing its access check: any caller takes ownership.
func (c *VulnerableContract) ChangeOwner(caller, newOwner common.Address) error {
	oldOwner := c.state.Owner
	c.state.Owner = newOwner
	c.emit(models.EventOwnerChanged, caller, map[string]string{
		"old_owner": oldOwner.Hex(),
		"new_owner": newOwner.Hex(),
	})
	return nil
}

// RegisterCandidate is likewise open to anyone and accepts empty names.
func (c *VulnerableContract) RegisterCandidate(caller common.Address, name string) error {
	c.state.Candidates = append(c.state.Candidates, models.Candidate{Name: name})
	c.emit(models.EventCandidateRegistered, caller, map[string]string{
		"name":  name,
		"index": strconv.Itoa(len(c.state.Candidates) - 1),
	})
	return nil
}

// Vote never consults the voted set, so one account can vote any number
// of times. The bounds check stays: a slice trap would abort the process,
// which no execution environment analogue would do.
func (c *VulnerableContract) Vote(caller common.Address, candidateIndex int) error {
	if candidateIndex < 0 || candidateIndex >= len(c.state.Candidates) {
		return precondition("vote", ErrIndexOutOfRange)
	}
	c.state.Candidates[candidateIndex].VoteCount++
	c.state.Voted[caller] = true
	c.emit(models.EventVoted, caller, map[string]string{
		"index": strconv.Itoa(candidateIndex),
	})
	return nil
}

// FindWinner falls back to an empty name on an empty registry instead of
// reporting the condition.
func (c *VulnerableContract) FindWinner() (string, error) {
	if len(c.state.Candidates) == 0 {
		return "", nil
	}
	winner := 0
	for i := 1; i < len(c.state.Candidates); i++ {
		if c.state.Candidates[i].VoteCount > c.state.Candidates[winner].VoteCount {
			winner = i
		}
	}
	return c.state.Candidates[winner].Name, nil
}

// Execute dispatches to a plugin with no owner check and no target
// validation: anyone can run any wired delegate against the contract's
// state, and nothing is rolled back on failure.
func (c *VulnerableContract) Execute(caller, target common.Address, payload []byte) error {
	plugin, ok := c.plugins[target]
	if !ok {
		return &DelegationError{Target: target, Err: ErrUnknownPlugin}
	}
	if err := plugin.Run(c.state, caller, payload); err != nil {
		return &DelegationError{Target: target, Err: err}
	}
	return nil
}

// Divide truncates: 5/2 is 2, and the fraction is simply lost. A zero
// denominator yields zero instead of failing.
func (c *VulnerableContract) Divide(a, b *uint256.Int) (*uint256.Int, error) {
	if a == nil {
		a = uint256.NewInt(0)
	}
	if b == nil {
		b = uint256.NewInt(0)
	}
	return new(uint256.Int).Div(a, b), nil
}

// Register stores the credentials exactly as submitted.
func (c *VulnerableContract) Register(caller common.Address, username, password string) error {
	c.plaintext[caller] = PlainCredential{Username: username, Password: password}
	return nil
}

// VerifyUser compares plaintext against plaintext.
func (c *VulnerableContract) VerifyUser(account common.Address, password string) bool {
	credential, ok := c.plaintext[account]
	if !ok {
		return false
	}
	return credential.Password == password
}

// IsLuckyWinner keys the draw off the current block time, which the block
// producer chooses outright.
func (c *VulnerableContract) IsLuckyWinner(caller common.Address) bool {
	return c.world.BlockTime()%2 == 0
}
