package service

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"

	"contract-lab/contract"
	"contract-lab/hashing"
	"contract-lab/models"
	"contract-lab/storage"
)

// Variant selects which of the paired machines a request is routed to.
type Variant string

const (
	VariantSecure     Variant = "secure"
	VariantVulnerable Variant = "vulnerable"
)

// Machine is the request surface both contract variants expose.
type Machine interface {
	Deposit(caller common.Address, amount *uint256.Int) error
	Withdraw(caller common.Address) error
	Transfer(caller, to common.Address, amount *uint256.Int) error
	ChangeOwner(caller, newOwner common.Address) error
	RegisterCandidate(caller common.Address, name string) error
	Vote(caller common.Address, candidateIndex int) error
	FindWinner() (string, error)
	Execute(caller, target common.Address, payload []byte) error
	Divide(a, b *uint256.Int) (*uint256.Int, error)
	Register(caller common.Address, username, password string) error
	VerifyUser(account common.Address, password string) bool
	IsLuckyWinner(caller common.Address) bool
	State() *contract.State
}

// Config carries the simulator settings.
type Config struct {
	StoragePath string
	Difficulty  uint8
}

// Simulator owns one secure and one vulnerable contract instance, plays the
// execution environment for both, and seals every emitted event into a
// hash-linked chain that it persists together with state snapshots.
// Requests are processed one at a time to completion, matching the
// call/return model the contracts assume.
type Simulator struct {
	mu         sync.RWMutex
	store      *storage.JSONStore
	hasher     *hashing.Service
	secure     *contract.SecureContract
	vulnerable *contract.VulnerableContract
	blocks     []*models.Block
	external   map[common.Address]*uint256.Int
	pending    []models.Event
	seq        uint64
	difficulty uint8
	metrics    *MetricsCollector
	log        *logrus.Entry
}

// NewSimulator restores a simulator from the store, or deploys fresh
// contracts owned by deployer when no snapshot exists.
func NewSimulator(config Config, deployer common.Address, hasher *hashing.Service, logger *logrus.Logger) (*Simulator, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	store, err := storage.NewJSONStore(config.StoragePath)
	if err != nil {
		return nil, err
	}

	sim := &Simulator{
		store:      store,
		hasher:     hasher,
		external:   make(map[common.Address]*uint256.Int),
		difficulty: config.Difficulty,
		metrics:    NewMetricsCollector(),
		log:        logger.WithField("component", "simulator"),
	}

	snapshot, err := store.LoadSnapshot()
	if err != nil {
		return nil, err
	}

	secureState := contract.NewState(deployer)
	vulnerableState := contract.NewState(deployer)
	if snapshot != nil {
		secureState = normalizeState(snapshot.Secure, deployer)
		vulnerableState = normalizeState(snapshot.Vulnerable, deployer)
		if snapshot.External != nil {
			sim.external = snapshot.External
		}
		sim.seq = snapshot.Seq
	}

	secure, err := contract.NewSecure(secureState, sim, hasher)
	if err != nil {
		return nil, fmt.Errorf("failed to deploy secure contract: %w", err)
	}
	sim.secure = secure
	sim.vulnerable = contract.NewVulnerable(vulnerableState, sim)

	sim.secure.SetEventSink(sim.makeSink(VariantSecure))
	sim.vulnerable.SetEventSink(sim.makeSink(VariantVulnerable))

	blocks, err := store.LoadChain()
	if err != nil {
		return nil, err
	}
	if !models.ValidateChain(blocks) {
		return nil, errors.New("persisted event chain failed validation")
	}
	sim.blocks = blocks

	sim.log.WithFields(logrus.Fields{
		"owner":  deployer.Hex(),
		"blocks": len(blocks),
	}).Info("simulator ready")

	return sim, nil
}

func normalizeState(state *contract.State, deployer common.Address) *contract.State {
	if state == nil {
		return contract.NewState(deployer)
	}
	if state.Balances == nil {
		state.Balances = make(map[common.Address]*uint256.Int)
	}
	if state.Voted == nil {
		state.Voted = make(map[common.Address]bool)
	}
	if state.Credentials == nil {
		state.Credentials = make(map[common.Address]models.Credential)
	}
	return state
}

// RegisterPlugin wires a delegate into the chosen variant's dispatcher.
func (sim *Simulator) RegisterPlugin(variant Variant, target common.Address, plugin contract.Plugin) error {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	if variant == VariantVulnerable {
		sim.vulnerable.RegisterPlugin(target, plugin)
		return nil
	}
	return sim.secure.RegisterPlugin(target, plugin)
}

func (sim *Simulator) machine(variant Variant) Machine {
	if variant == VariantVulnerable {
		return sim.vulnerable
	}
	return sim.secure
}

func (sim *Simulator) makeSink(variant Variant) contract.EventSink {
	return func(eventType models.EventType, caller common.Address, params map[string]string) {
		if params == nil {
			params = make(map[string]string)
		}
		params["variant"] = string(variant)
		sim.pending = append(sim.pending, models.Event{
			Type:   eventType,
			Caller: caller,
			Params: params,
		})
	}
}

// World implementation. These run on the request goroutine while the
// request lock is held, never on their own.

// Pay credits an external account with value leaving the contract.
func (sim *Simulator) Pay(to common.Address, amount *uint256.Int) error {
	balance, ok := sim.external[to]
	if !ok {
		balance = uint256.NewInt(0)
	}
	credited, overflow := new(uint256.Int).AddOverflow(balance, amount)
	if overflow {
		return fmt.Errorf("external balance of %s would overflow", to.Hex())
	}
	sim.external[to] = credited
	return nil
}

// ParentHash returns the hash of the latest sealed event block, the zero
// hash before the first event.
func (sim *Simulator) ParentHash() common.Hash {
	if len(sim.blocks) == 0 {
		return common.Hash{}
	}
	return common.BytesToHash(sim.blocks[len(sim.blocks)-1].Hash)
}

// BlockTime returns the environment clock.
func (sim *Simulator) BlockTime() int64 {
	return time.Now().Unix()
}

// finalize seals pending events on success and drops them on failure, then
// records metrics. Contract operations are all-or-nothing, so a failed
// request has mutated nothing and there is nothing to persist.
func (sim *Simulator) finalize(op Op, variant Variant, start time.Time, err error) error {
	defer sim.metrics.Record(op, start, err != nil)

	if err != nil {
		sim.pending = nil
		sim.log.WithFields(logrus.Fields{
			"op":      op,
			"variant": variant,
		}).WithError(err).Warn("request rejected")
		return err
	}

	if sealErr := sim.sealPending(); sealErr != nil {
		return sealErr
	}

	sim.log.WithFields(logrus.Fields{
		"op":      op,
		"variant": variant,
	}).Debug("request applied")
	return nil
}

func (sim *Simulator) sealPending() error {
	events := sim.pending
	sim.pending = nil

	lastTimestamp := int64(0)
	if len(sim.blocks) > 0 {
		lastTimestamp = sim.blocks[len(sim.blocks)-1].Timestamp
	}

	for _, event := range events {
		sim.seq++
		event.Seq = sim.seq
		event.ID = uuid.New().String()
		lastTimestamp = ensureUniqueTimestamp(lastTimestamp)
		event.Timestamp = lastTimestamp

		block, err := models.NewEventBlock(uint64(len(sim.blocks)), event, sim.lastHash(), sim.difficulty)
		if err != nil {
			return err
		}
		if err := sim.store.SaveBlock(block); err != nil {
			return fmt.Errorf("failed to persist event block: %w", err)
		}
		sim.blocks = append(sim.blocks, block)
	}

	if len(events) == 0 {
		return nil
	}
	return sim.saveSnapshot()
}

func (sim *Simulator) saveSnapshot() error {
	return sim.store.SaveSnapshot(&storage.Snapshot{
		Secure:     sim.secure.State(),
		Vulnerable: sim.vulnerable.State(),
		External:   sim.external,
		Seq:        sim.seq,
	})
}

func ensureUniqueTimestamp(lastTimestamp int64) int64 {
	currentTime := time.Now().Unix()
	if currentTime <= lastTimestamp {
		return lastTimestamp + 1
	}
	return currentTime
}

func (sim *Simulator) lastHash() []byte {
	if len(sim.blocks) == 0 {
		return make([]byte, 32)
	}
	return sim.blocks[len(sim.blocks)-1].Hash
}

// Request surface.

func (sim *Simulator) Deposit(variant Variant, caller common.Address, amount *uint256.Int) error {
	start := time.Now()
	sim.mu.Lock()
	defer sim.mu.Unlock()
	return sim.finalize(OpDeposit, variant, start, sim.machine(variant).Deposit(caller, amount))
}

func (sim *Simulator) Withdraw(variant Variant, caller common.Address) error {
	start := time.Now()
	sim.mu.Lock()
	defer sim.mu.Unlock()
	return sim.finalize(OpWithdraw, variant, start, sim.machine(variant).Withdraw(caller))
}

func (sim *Simulator) Transfer(variant Variant, caller, to common.Address, amount *uint256.Int) error {
	start := time.Now()
	sim.mu.Lock()
	defer sim.mu.Unlock()
	return sim.finalize(OpTransfer, variant, start, sim.machine(variant).Transfer(caller, to, amount))
}

func (sim *Simulator) ChangeOwner(variant Variant, caller, newOwner common.Address) error {
	start := time.Now()
	sim.mu.Lock()
	defer sim.mu.Unlock()
	return sim.finalize(OpChangeOwner, variant, start, sim.machine(variant).ChangeOwner(caller, newOwner))
}

func (sim *Simulator) RegisterCandidate(variant Variant, caller common.Address, name string) error {
	start := time.Now()
	sim.mu.Lock()
	defer sim.mu.Unlock()
	return sim.finalize(OpRegisterCandidate, variant, start, sim.machine(variant).RegisterCandidate(caller, name))
}

func (sim *Simulator) Vote(variant Variant, caller common.Address, candidateIndex int) error {
	start := time.Now()
	sim.mu.Lock()
	defer sim.mu.Unlock()
	return sim.finalize(OpVote, variant, start, sim.machine(variant).Vote(caller, candidateIndex))
}

func (sim *Simulator) Execute(variant Variant, caller, target common.Address, payload []byte) error {
	start := time.Now()
	sim.mu.Lock()
	defer sim.mu.Unlock()
	return sim.finalize(OpExecute, variant, start, sim.machine(variant).Execute(caller, target, payload))
}

func (sim *Simulator) Register(variant Variant, caller common.Address, username, password string) error {
	start := time.Now()
	sim.mu.Lock()
	defer sim.mu.Unlock()
	return sim.finalize(OpRegister, variant, start, sim.machine(variant).Register(caller, username, password))
}

func (sim *Simulator) FindWinner(variant Variant) (string, error) {
	start := time.Now()
	sim.mu.RLock()
	defer sim.mu.RUnlock()
	winner, err := sim.machine(variant).FindWinner()
	sim.metrics.Record(OpFindWinner, start, err != nil)
	return winner, err
}

func (sim *Simulator) Divide(variant Variant, a, b *uint256.Int) (*uint256.Int, error) {
	start := time.Now()
	sim.mu.RLock()
	defer sim.mu.RUnlock()
	quotient, err := sim.machine(variant).Divide(a, b)
	sim.metrics.Record(OpDivide, start, err != nil)
	return quotient, err
}

func (sim *Simulator) VerifyUser(variant Variant, account common.Address, password string) bool {
	start := time.Now()
	sim.mu.RLock()
	defer sim.mu.RUnlock()
	match := sim.machine(variant).VerifyUser(account, password)
	sim.metrics.Record(OpVerifyUser, start, false)
	return match
}

func (sim *Simulator) IsLuckyWinner(variant Variant, caller common.Address) bool {
	start := time.Now()
	sim.mu.RLock()
	defer sim.mu.RUnlock()
	lucky := sim.machine(variant).IsLuckyWinner(caller)
	sim.metrics.Record(OpIsLuckyWinner, start, false)
	return lucky
}

// Inspection.

// BalanceOf returns a copy of the ledger balance in the chosen variant.
func (sim *Simulator) BalanceOf(variant Variant, account common.Address) *uint256.Int {
	sim.mu.RLock()
	defer sim.mu.RUnlock()
	return sim.machine(variant).State().BalanceOf(account)
}

// ExternalBalanceOf returns a copy of the value paid out to an account.
func (sim *Simulator) ExternalBalanceOf(account common.Address) *uint256.Int {
	sim.mu.RLock()
	defer sim.mu.RUnlock()
	if balance, ok := sim.external[account]; ok {
		return balance.Clone()
	}
	return uint256.NewInt(0)
}

// OwnerOf returns the current owner of the chosen variant.
func (sim *Simulator) OwnerOf(variant Variant) common.Address {
	sim.mu.RLock()
	defer sim.mu.RUnlock()
	return sim.machine(variant).State().Owner
}

// Candidates returns a copy of the candidate registry.
func (sim *Simulator) Candidates(variant Variant) []models.Candidate {
	sim.mu.RLock()
	defer sim.mu.RUnlock()
	state := sim.machine(variant).State()
	candidates := make([]models.Candidate, len(state.Candidates))
	copy(candidates, state.Candidates)
	return candidates
}

// StateCopy returns a deep copy of a variant's full state record.
func (sim *Simulator) StateCopy(variant Variant) *contract.State {
	sim.mu.RLock()
	defer sim.mu.RUnlock()
	return sim.machine(variant).State().Copy()
}

// Events decodes the sealed event log in order.
func (sim *Simulator) Events() ([]models.Event, error) {
	sim.mu.RLock()
	defer sim.mu.RUnlock()

	events := make([]models.Event, 0, len(sim.blocks))
	for _, block := range sim.blocks {
		event, err := block.Event()
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}

// Blocks returns a copy of the sealed event chain.
func (sim *Simulator) Blocks() []*models.Block {
	sim.mu.RLock()
	defer sim.mu.RUnlock()
	blocks := make([]*models.Block, len(sim.blocks))
	copy(blocks, sim.blocks)
	return blocks
}

// ChainValid revalidates the in-memory event chain.
func (sim *Simulator) ChainValid() bool {
	sim.mu.RLock()
	defer sim.mu.RUnlock()
	return models.ValidateChain(sim.blocks)
}

// Metrics returns the per-operation counters.
func (sim *Simulator) Metrics() MetricsResponse {
	return sim.metrics.Snapshot()
}
