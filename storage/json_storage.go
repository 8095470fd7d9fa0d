package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"contract-lab/contract"
	"contract-lab/models"
)

// Chain is the persisted form of the event log.
type Chain struct {
	Blocks []*models.Block `json:"blocks"`
}

// Snapshot is the persisted form of the simulator's mutable state. The
// vulnerable variant's plaintext credentials are deliberately absent:
// they only ever live in memory, as an exhibit.
type Snapshot struct {
	Secure     *contract.State                 `json:"secure"`
	Vulnerable *contract.State                 `json:"vulnerable"`
	External   map[common.Address]*uint256.Int `json:"external"`
	Seq        uint64                          `json:"seq"`
}

// JSONStore persists the event chain and state snapshots as JSON files
// under a base directory. Writes go to a temp file first and are renamed
// into place so a crash never leaves a torn file.
type JSONStore struct {
	basePath string
	mu       sync.RWMutex
	chain    *Chain
}

const (
	chainFileName    = "events_chain.json"
	snapshotFileName = "snapshot.json"
)

func NewJSONStore(basePath string) (*JSONStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %v", err)
	}

	store := &JSONStore{
		basePath: basePath,
	}

	chain, err := store.loadChainFromFile()
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load event chain: %v", err)
	}
	if chain == nil {
		chain = &Chain{Blocks: make([]*models.Block, 0)}
	}
	store.chain = chain

	return store, nil
}

// SaveBlock appends a block to the event chain and persists the chain.
func (s *JSONStore) SaveBlock(block *models.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.chain.Blocks = append(s.chain.Blocks, block)
	return s.saveChainToFile(s.chain)
}

// LoadChain returns a copy of the event chain blocks.
func (s *JSONStore) LoadChain() ([]*models.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	blocks := make([]*models.Block, len(s.chain.Blocks))
	copy(blocks, s.chain.Blocks)
	return blocks, nil
}

func (s *JSONStore) loadChainFromFile() (*Chain, error) {
	path := filepath.Join(s.basePath, chainFileName)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Chain{Blocks: make([]*models.Block, 0)}, nil
		}
		return nil, err
	}

	var chain Chain
	if err := json.Unmarshal(data, &chain); err != nil {
		return nil, fmt.Errorf("failed to unmarshal chain: %v", err)
	}

	return &chain, nil
}

func (s *JSONStore) saveChainToFile(chain *Chain) error {
	path := filepath.Join(s.basePath, chainFileName)

	data, err := json.MarshalIndent(chain, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal chain: %v", err)
	}

	return s.writeAtomic(path, data)
}

// SaveSnapshot persists the simulator state.
func (s *JSONStore) SaveSnapshot(snapshot *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.basePath, snapshotFileName)

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %v", err)
	}

	return s.writeAtomic(path, data)
}

// LoadSnapshot returns the persisted state, or nil when none exists yet.
func (s *JSONStore) LoadSnapshot() (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	path := filepath.Join(s.basePath, snapshotFileName)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read snapshot: %v", err)
	}

	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %v", err)
	}

	return &snapshot, nil
}

func (s *JSONStore) writeAtomic(path string, data []byte) error {
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write file: %v", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to save file: %v", err)
	}

	return nil
}
