package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"contract-lab/hashing"
)

// AccountRegistry resolves human-readable account names to addresses for
// the API and the lab scenarios. The keys it generates are throwaway test
// fixtures, not a wallet.
type AccountRegistry interface {
	AccountExists(name string) bool
	GetAccountDetails(name string) (*AccountDetails, error)
	Resolve(name string) (common.Address, error)
	Ensure(name string) (*AccountDetails, error)
	Names() []string
	LoadTestData() error
}

// AccountDetails is one named lab account.
type AccountDetails struct {
	Name       string         `json:"name"`
	Address    common.Address `json:"address"`
	PrivateKey string         `json:"private_key"` // hex encoded, lab fixture only
	CreatedAt  time.Time      `json:"created_at"`
}

type RegistryConfig struct {
	AccountsFilePath string `json:"accounts_file_path"`
	AutoSave         bool   `json:"auto_save"`
}

// FileAccountRegistry implements AccountRegistry backed by a JSON file.
type FileAccountRegistry struct {
	accounts  map[string]*AccountDetails
	byAddress map[common.Address]string
	mu        sync.RWMutex
	config    RegistryConfig
	hasher    *hashing.Service
}

// DefaultAccountNames are the accounts every fresh lab starts with.
// "owner" deploys the contracts.
var DefaultAccountNames = []string{"owner", "alice", "bob", "carol"}

// NewAccountRegistry creates a registry over the configured file.
func NewAccountRegistry(config RegistryConfig, hasher *hashing.Service) (*FileAccountRegistry, error) {
	registry := &FileAccountRegistry{
		accounts:  make(map[string]*AccountDetails),
		byAddress: make(map[common.Address]string),
		config:    config,
		hasher:    hasher,
	}

	dir := filepath.Dir(config.AccountsFilePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %v", err)
	}

	return registry, nil
}

func (r *FileAccountRegistry) LoadTestData() error {
	return r.LoadAccountsFromFile()
}

// LoadAccountsFromFile loads the account file, creating it with the
// default accounts when missing.
func (r *FileAccountRegistry) LoadAccountsFromFile() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := os.ReadFile(r.config.AccountsFilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return r.createDefaultAccountsFile()
		}
		return fmt.Errorf("failed to read accounts file: %v", err)
	}

	var accountsData struct {
		Accounts []*AccountDetails `json:"accounts"`
	}

	if err := json.Unmarshal(data, &accountsData); err != nil {
		return fmt.Errorf("failed to unmarshal account data: %v", err)
	}

	r.accounts = make(map[string]*AccountDetails)
	r.byAddress = make(map[common.Address]string)
	for _, account := range accountsData.Accounts {
		if err := validateAccountData(account); err != nil {
			return fmt.Errorf("invalid account data for %s: %v", account.Name, err)
		}
		r.accounts[account.Name] = account
		r.byAddress[account.Address] = account.Name
	}

	return nil
}

func (r *FileAccountRegistry) createDefaultAccountsFile() error {
	for _, name := range DefaultAccountNames {
		account, err := r.newAccount(name)
		if err != nil {
			return err
		}
		r.accounts[name] = account
		r.byAddress[account.Address] = name
	}
	return r.saveLocked()
}

func (r *FileAccountRegistry) newAccount(name string) (*AccountDetails, error) {
	privateKey, err := r.hasher.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key for %s: %v", name, err)
	}
	return &AccountDetails{
		Name:       name,
		Address:    r.hasher.AddressOf(&privateKey.PublicKey),
		PrivateKey: hexutil.Encode(crypto.FromECDSA(privateKey)),
		CreatedAt:  time.Now(),
	}, nil
}

func validateAccountData(account *AccountDetails) error {
	if account.Name == "" {
		return fmt.Errorf("account name is required")
	}
	if account.Address == (common.Address{}) {
		return fmt.Errorf("account address is required")
	}
	return nil
}

func (r *FileAccountRegistry) AccountExists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.accounts[name]
	return ok
}

func (r *FileAccountRegistry) GetAccountDetails(name string) (*AccountDetails, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	account, ok := r.accounts[name]
	if !ok {
		return nil, fmt.Errorf("account %q not found in registry", name)
	}
	return account, nil
}

// Resolve maps a name to its address.
func (r *FileAccountRegistry) Resolve(name string) (common.Address, error) {
	account, err := r.GetAccountDetails(name)
	if err != nil {
		return common.Address{}, err
	}
	return account.Address, nil
}

// Ensure returns the named account, creating and persisting it if needed.
func (r *FileAccountRegistry) Ensure(name string) (*AccountDetails, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if account, ok := r.accounts[name]; ok {
		return account, nil
	}
	if name == "" {
		return nil, fmt.Errorf("account name is required")
	}

	account, err := r.newAccount(name)
	if err != nil {
		return nil, err
	}
	r.accounts[name] = account
	r.byAddress[account.Address] = name

	if r.config.AutoSave {
		if err := r.saveLocked(); err != nil {
			return nil, err
		}
	}
	return account, nil
}

// Names lists all registered account names.
func (r *FileAccountRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.accounts))
	for name := range r.accounts {
		names = append(names, name)
	}
	return names
}

// NameOf reverse-resolves an address, empty when unknown.
func (r *FileAccountRegistry) NameOf(address common.Address) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byAddress[address]
}

func (r *FileAccountRegistry) saveLocked() error {
	accountsData := struct {
		Accounts []*AccountDetails `json:"accounts"`
	}{
		Accounts: make([]*AccountDetails, 0, len(r.accounts)),
	}
	for _, account := range r.accounts {
		accountsData.Accounts = append(accountsData.Accounts, account)
	}

	data, err := json.MarshalIndent(accountsData, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal account data: %v", err)
	}

	if err := os.WriteFile(r.config.AccountsFilePath, data, 0600); err != nil {
		return fmt.Errorf("failed to save accounts file: %v", err)
	}

	return nil
}
