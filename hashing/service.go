package hashing

import (
	"crypto/ecdsa"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/sha3"
)

// Service bundles the digest and key primitives the contract and the
// account registry share.
type Service struct{}

func NewService() *Service {
	return &Service{}
}

// Keccak256 computes Keccak-256 over the concatenation of the inputs.
func (s *Service) Keccak256(data ...[]byte) []byte {
	d := sha3.NewLegacyKeccak256()
	for _, b := range data {
		d.Write(b)
	}
	return d.Sum(nil)
}

// Keccak256Hash is Keccak256 typed as a common.Hash.
func (s *Service) Keccak256Hash(data ...[]byte) common.Hash {
	return common.BytesToHash(s.Keccak256(data...))
}

// HashString digests the exact bytes of v. Same input, same digest.
func (s *Service) HashString(v string) common.Hash {
	return s.Keccak256Hash([]byte(v))
}

// GenerateKeyPair generates a new ECDSA key pair.
func (s *Service) GenerateKeyPair() (*ecdsa.PrivateKey, error) {
	return crypto.GenerateKey()
}

// AddressOf derives the account address of a public key.
func (s *Service) AddressOf(pub *ecdsa.PublicKey) common.Address {
	return crypto.PubkeyToAddress(*pub)
}
