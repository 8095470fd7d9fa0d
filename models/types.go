package models

import (
	"github.com/ethereum/go-ethereum/common"
)

// EventType identifies a state-mutating contract operation in the event log.
type EventType string

const (
	EventDeposited           EventType = "Deposited"
	EventWithdrawn           EventType = "Withdrawn"
	EventTransferred         EventType = "Transferred"
	EventVoted               EventType = "Voted"
	EventOwnerChanged        EventType = "OwnerChanged"
	EventCandidateRegistered EventType = "CandidateRegistered"
)

// Event is a single entry of the append-only operation log. The contract
// fills Type, Caller and Params; the simulator assigns ID, Seq and Timestamp
// when the event is sealed into the chain.
type Event struct {
	ID        string            `json:"id"`
	Seq       uint64            `json:"seq"`
	Type      EventType         `json:"type"`
	Caller    common.Address    `json:"caller"`
	Params    map[string]string `json:"params,omitempty"`
	Timestamp int64             `json:"timestamp"`
}

// Candidate is one entry of the append-only candidate registry.
// Indices are stable once assigned.
type Candidate struct {
	Name      string `json:"name"`
	VoteCount uint64 `json:"vote_count"`
}

// Credential holds the keccak digests stored for a registered user.
// Plaintext never appears here.
type Credential struct {
	UsernameHash common.Hash `json:"username_hash"`
	PasswordHash common.Hash `json:"password_hash"`
}
