package wallet

import (
	"math/big"
	"time"
)

// TransactionStatus represents the lifecycle state of a transaction record
type TransactionStatus string

const (
	// StatusCreated: persisted intent, nothing sent to the network yet
	StatusCreated TransactionStatus = "created"
	// StatusPrepared: chain-native transaction built and stored, not yet accepted
	StatusPrepared TransactionStatus = "prepared"
	// StatusReplaced: superseded by a fee-bumped resubmission (terminal for this record)
	StatusReplaced TransactionStatus = "replaced"
	// StatusSubmissionFailed: rejected by the chain for too-low fee, eligible for a bump
	StatusSubmissionFailed TransactionStatus = "submission_failed"
	// StatusSubmitted: accepted by the network, awaiting confirmations
	StatusSubmitted TransactionStatus = "submitted"
	// StatusPending: sent but acceptance uncertain, retried with the same fee
	StatusPending TransactionStatus = "pending"
	// StatusSuccess: confirmed with sufficient depth (terminal)
	StatusSuccess TransactionStatus = "success"
	// StatusFailed: abandoned, see ErrorReason (terminal)
	StatusFailed TransactionStatus = "failed"
)

// IsTerminal reports whether a record in this status may no longer change
// state (other than gaining a replaced_by link).
func (s TransactionStatus) IsTerminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusReplaced:
		return true
	}
	return false
}

// TransactionRecord is one logical payment attempt. Resubmissions create a
// fresh record linked through ReplacedByID rather than mutating this one.
type TransactionRecord struct {
	ID          int64
	ChainType   ChainType
	Source      string
	Destination string

	// Amount is nil for account-delete transactions.
	Amount *big.Int
	// Fee is nil when the engine should compute it at submission time.
	Fee *big.Int
	// MaxFee, when set, is a hard ceiling; exceeding it fails the record.
	MaxFee    *big.Int
	Reference string

	ExecuteUntilBlock     uint64
	ExecuteUntilTimestamp time.Time

	Raw              []byte
	TransactionHash  string
	SubmittedInBlock uint64

	Status       TransactionStatus
	ErrorReason  string
	ReplacedByID int64

	CreatedAt         time.Time
	UpdatedAt         time.Time
	SubmittedAt       time.Time
	ReachedPendingAt  time.Time
	AcceptedMempoolAt time.Time
	FinalizedAt       time.Time
}

// TransactionInfo is the caller-facing view of a record and its replacement
// lineage.
type TransactionInfo struct {
	ID              int64             `json:"id"`
	Status          TransactionStatus `json:"status"`
	TransactionHash string            `json:"transactionHash,omitempty"`
	ReplacedByID    int64             `json:"replacedById,omitempty"`
	ErrorReason     string            `json:"errorReason,omitempty"`
}

// SpentState tracks an output's local spend bookkeeping
type SpentState string

const (
	// SpentStateUnspent: free to be selected as an input
	SpentStateUnspent SpentState = "unspent"
	// SpentStateSent: consumed by a transaction we submitted but that is not yet confirmed
	SpentStateSent SpentState = "sent"
	// SpentStateSpent: consumed by a confirmed transaction
	SpentStateSpent SpentState = "spent"
)

// UTXO is one tracked transaction output owned by a wallet address
type UTXO struct {
	ID         int64
	MintTxHash string
	Position   uint32
	Source     string
	Value      *big.Int
	Script     string
	SpentState SpentState
	UpdatedAt  time.Time
}

// TransactionOutput records an output of a transaction we signed ourselves, so
// replacement construction can resolve scripts without an indexer round-trip.
type TransactionOutput struct {
	ID              int64
	TransactionID   int64
	TransactionHash string
	Vout            uint32
	Value           *big.Int
	Script          string
}

// MonitoringState is the per-chain lease record backing monitor leader election
type MonitoringState struct {
	ChainType    ChainType
	LastPingAt   time.Time
	ProcessOwner string
}

// FeeHistoryItem is one block's persisted fee statistics
type FeeHistoryItem struct {
	ChainType      ChainType
	BlockHeight    uint64
	AvgFeePerKB    *big.Int
	BlockTimestamp time.Time
}
