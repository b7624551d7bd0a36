package wallet

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	// ErrTransactionNotFound is returned for lookups of unknown record ids
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrKeyNotFound is returned when no private key is stored for an address
	ErrKeyNotFound = errors.New("key not found")

	// ErrAccountDeleting rejects payments from an address with a pending
	// account-delete transaction.
	ErrAccountDeleting = errors.New("account is being deleted")

	// ErrAllEndpointsFailed is returned once every configured RPC endpoint
	// has been tried without success.
	ErrAllEndpointsFailed = errors.New("all RPC endpoints failed")
)

// NotEnoughUTXOsError indicates the address's unspent outputs cannot cover
// amount plus fee.
type NotEnoughUTXOsError struct {
	Address   string
	Available *big.Int
	Needed    *big.Int
}

func (e *NotEnoughUTXOsError) Error() string {
	return fmt.Sprintf("not enough UTXOs for %s: available %s, needed %s", e.Address, e.Available, e.Needed)
}

// LessThanDustAmountError indicates the requested amount is at or below the
// chain's dust threshold.
type LessThanDustAmountError struct {
	Amount *big.Int
	Dust   *big.Int
}

func (e *LessThanDustAmountError) Error() string {
	return fmt.Sprintf("amount %s is less than dust %s", e.Amount, e.Dust)
}

// InvalidFeeError indicates the supplied fee fails chain sanity checks;
// Correct carries a usable replacement fee.
type InvalidFeeError struct {
	Provided *big.Int
	Correct  *big.Int
	Reason   string
}

func (e *InvalidFeeError) Error() string {
	return fmt.Sprintf("invalid fee %s (%s), suggested %s", e.Provided, e.Reason, e.Correct)
}

// FeeCeilingError indicates a computed fee exceeds the caller's MaxFee.
// Always terminal; never overridden.
type FeeCeilingError struct {
	Computed *big.Int
	Ceiling  *big.Int
}

func (e *FeeCeilingError) Error() string {
	return fmt.Sprintf("fee %s exceeds maximum fee %s", e.Computed, e.Ceiling)
}
