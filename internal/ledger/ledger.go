package ledger

import (
	"context"
	"errors"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrThresholdNotMet   = errors.New("balance below threshold")
	ErrAccountNotFound   = errors.New("account not found")
)

// Ledger is the custody substrate for the settlement core. Accounts are keyed
// by (owner, denom); an owner holds at most one account per denomination.
// Every multi-movement operation is all-or-nothing.
type Ledger interface {
	// Balance returns the spendable balance of an account. Unknown accounts
	// have a zero balance.
	Balance(ctx context.Context, owner, denom string) (int64, error)

	// Deposit credits an account from outside the ledger (on-ramp, custody
	// seeding, pool backfill).
	Deposit(ctx context.Context, owner, denom string, amount int64, reference string) error

	// Transfer moves amount between two accounts, failing with
	// ErrInsufficientFunds before any movement if the source cannot cover it.
	Transfer(ctx context.Context, m Movement) error

	// TransferGroup applies all movements or none of them.
	TransferGroup(ctx context.Context, ms []Movement) error

	// Drain moves the entire balance of an account to another owner, but only
	// if the balance is at least min; otherwise ErrThresholdNotMet. The check
	// and the movement are one atomic step, so concurrent drains race to
	// exactly one winner. Returns the amount moved.
	Drain(ctx context.Context, owner, denom string, min int64, to, reference string) (int64, error)
}

// Movement is a single ledger transfer.
type Movement struct {
	From      string
	To        string
	Denom     string
	Amount    int64
	Reference string
}

// Escrow, vault and custody accounts are ordinary ledger accounts under
// reserved owner prefixes. Each order gets its own escrow account so one
// order's failure cannot touch another's funds.

// EscrowOwner returns the custody owner holding one order's payment.
func EscrowOwner(orderID string) string { return "escrow:" + orderID }

// VaultOwner returns the per-asset pool vault accumulating settled payments.
func VaultOwner(asset string) string { return "vault:" + asset }

// CustodyOwner returns the account holding an asset's unsold token supply.
func CustodyOwner(asset string) string { return "custody:" + asset }
