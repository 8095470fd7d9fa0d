package contract

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Sentinel precondition failures. Match with errors.Is.
var (
	ErrZeroAmount          = errors.New("amount must be greater than zero")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNotOwner            = errors.New("caller is not the owner")
	ErrZeroAddress         = errors.New("zero address is not allowed")
	ErrEmptyName           = errors.New("candidate name must not be empty")
	ErrIndexOutOfRange     = errors.New("candidate index out of range")
	ErrAlreadyVoted        = errors.New("caller has already voted")
	ErrNoCandidates        = errors.New("no candidates registered")
	ErrZeroDenominator     = errors.New("division by zero")
	ErrEmptyCredential     = errors.New("username and password must not be empty")
	ErrOverflow            = errors.New("arithmetic overflow")
	ErrReentrantCall       = errors.New("reentrant call rejected")
	ErrUnknownPlugin       = errors.New("target is not a registered plugin")
)

// PreconditionError reports a request rejected before any state mutation.
type PreconditionError struct {
	Op  string
	Err error
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: precondition failed: %v", e.Op, e.Err)
}

func (e *PreconditionError) Unwrap() error { return e.Err }

// DelegationError reports a delegated execution that failed. All effects of
// the delegated run are rolled back before it is returned.
type DelegationError struct {
	Target common.Address
	Err    error
}

func (e *DelegationError) Error() string {
	return fmt.Sprintf("delegated execution to %s failed: %v", e.Target.Hex(), e.Err)
}

func (e *DelegationError) Unwrap() error { return e.Err }

// TransferError reports an external payout that was rejected. The balance
// zeroing of the enclosing withdrawal is rolled back before it is returned.
type TransferError struct {
	To  common.Address
	Err error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("payout to %s failed: %v", e.To.Hex(), e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

func precondition(op string, err error) error {
	return &PreconditionError{Op: op, Err: err}
}
