package wallet

import (
	"fmt"
	"math/big"
	"time"
)

// ChainType identifies the underlying blockchain a wallet operates on
type ChainType string

const (
	ChainBTC      ChainType = "BTC"
	ChainTestBTC  ChainType = "testBTC"
	ChainDOGE     ChainType = "DOGE"
	ChainTestDOGE ChainType = "testDOGE"
	ChainXRP      ChainType = "XRP"
	ChainTestXRP  ChainType = "testXRP"
)

// IsUTXO reports whether the chain belongs to the bitcoin family
func (c ChainType) IsUTXO() bool {
	switch c {
	case ChainBTC, ChainTestBTC, ChainDOGE, ChainTestDOGE:
		return true
	}
	return false
}

// IsTestnet reports whether the chain is a test network
func (c ChainType) IsTestnet() bool {
	switch c {
	case ChainTestBTC, ChainTestDOGE, ChainTestXRP:
		return true
	}
	return false
}

// Mainnet returns the production counterpart of a chain type, used to
// share parameter tables between main and test networks.
func (c ChainType) Mainnet() ChainType {
	switch c {
	case ChainTestBTC:
		return ChainBTC
	case ChainTestDOGE:
		return ChainDOGE
	case ChainTestXRP:
		return ChainXRP
	}
	return c
}

// ParseChainType converts a string into a known ChainType
func ParseChainType(s string) (ChainType, error) {
	switch ChainType(s) {
	case ChainBTC, ChainTestBTC, ChainDOGE, ChainTestDOGE, ChainXRP, ChainTestXRP:
		return ChainType(s), nil
	}
	return "", fmt.Errorf("unknown chain type %q", s)
}

// StuckParams controls when and how aggressively a chain's transactions are
// resubmitted once they stop making progress.
type StuckParams struct {
	// BlockOffset is added to the current height to derive a default
	// execution ceiling when the caller supplies none.
	BlockOffset uint64
	// FeeIncrease multiplies the previous fee on each bump.
	FeeIncrease int64
	// ExecutionBlockOffset is the safety margin subtracted from the
	// execution ceiling when deciding whether submission is still worth it.
	ExecutionBlockOffset uint64
	// EnoughConfirmations is the confirmation depth treated as final.
	EnoughConfirmations uint64
}

var stuckParams = map[ChainType]StuckParams{
	ChainBTC:  {BlockOffset: 6, FeeIncrease: 2, ExecutionBlockOffset: 1, EnoughConfirmations: 2},
	ChainDOGE: {BlockOffset: 8, FeeIncrease: 2, ExecutionBlockOffset: 3, EnoughConfirmations: 10},
	ChainXRP:  {BlockOffset: 6, FeeIncrease: 2, ExecutionBlockOffset: 2, EnoughConfirmations: 1},
}

// StuckParamsFor returns the resubmission parameters for a chain
func StuckParamsFor(c ChainType) StuckParams {
	return stuckParams[c.Mainnet()]
}

// DustAmount returns the smallest economically spendable output value for a
// UTXO chain, in minor units. Zero for account-based chains.
func DustAmount(c ChainType) *big.Int {
	switch c.Mainnet() {
	case ChainBTC:
		return big.NewInt(546)
	case ChainDOGE:
		return big.NewInt(1_000_000) // 0.01 DOGE
	}
	return big.NewInt(0)
}

// DefaultFeePerKB returns the fallback fee rate used when no fee history is
// available, in minor units per kilobyte.
func DefaultFeePerKB(c ChainType) *big.Int {
	switch c.Mainnet() {
	case ChainBTC:
		return big.NewInt(100_000)
	case ChainDOGE:
		return big.NewInt(100_000_000)
	}
	return big.NewInt(0)
}

// AverageBlockTime returns the nominal block interval for a chain, used for
// timestamp-based execution window checks when no fee history exists yet.
func AverageBlockTime(c ChainType) time.Duration {
	switch c.Mainnet() {
	case ChainBTC:
		return 10 * time.Minute
	case ChainDOGE:
		return time.Minute
	case ChainXRP:
		return 4 * time.Second
	}
	return time.Minute
}

// Serialized transaction size approximations for UTXO fee estimation.
const (
	UTXOInputSize  = 134
	UTXOOutputSize = 34
	UTXOOverhead   = 10
)

// EstimateTxSize approximates the serialized size in bytes of a UTXO
// transaction with the given input and output counts.
func EstimateTxSize(numInputs, numOutputs int) int64 {
	return int64(numInputs)*UTXOInputSize + int64(numOutputs)*UTXOOutputSize + UTXOOverhead
}

// Monitoring cadence shared across chains.
const (
	PingInterval        = 5 * time.Second
	LeaseExpiration     = 60 * time.Second
	ClaimJitterMax      = 500 * time.Millisecond
	MonitorPassInterval = 2 * time.Second
	RestartAfterError   = 20 * time.Second
	MempoolWaitTime     = 60 * time.Second
	MempoolPollInterval = time.Second
)

// DeleteAccountOffset is the minimum number of ledgers an XRP AccountDelete
// must remain valid for; the network refuses deletions that expire sooner.
const DeleteAccountOffset = 256
