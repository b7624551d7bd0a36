package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TransactionsCreated counts transaction records created per chain
	TransactionsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_transactions_created_total",
			Help: "Total number of transaction records created",
		},
		[]string{"chain"},
	)

	// TransactionStatusChanges counts lifecycle transitions by target status
	TransactionStatusChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_transaction_status_changes_total",
			Help: "Total number of transaction status transitions",
		},
		[]string{"chain", "status"},
	)

	// TransactionsSubmitted counts node submissions and their outcome
	TransactionsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_transactions_submitted_total",
			Help: "Total number of transactions submitted to a node",
		},
		[]string{"chain", "outcome"},
	)

	// FeeBumps counts replace-by-fee attempts
	FeeBumps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_fee_bumps_total",
			Help: "Total number of replacement transactions created for stuck originals",
		},
		[]string{"chain"},
	)

	// TimeToFinality tracks seconds from creation to terminal status
	TimeToFinality = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wallet_time_to_finality_seconds",
			Help:    "Seconds from transaction creation to a terminal status",
			Buckets: []float64{5, 15, 60, 300, 900, 3600, 14400, 86400},
		},
		[]string{"chain", "status"},
	)

	// MonitoringPasses counts monitoring loop passes per chain
	MonitoringPasses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_monitoring_passes_total",
			Help: "Total number of monitoring loop passes",
		},
		[]string{"chain"},
	)

	// MonitoringLeaseHeld reports whether this process holds the monitoring lease
	MonitoringLeaseHeld = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wallet_monitoring_lease_held",
			Help: "1 when this process holds the monitoring lease for a chain",
		},
		[]string{"chain"},
	)

	// FeePerKB reports the fee oracle's latest estimate in minor units per kilobyte
	FeePerKB = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wallet_fee_per_kb",
			Help: "Latest fee estimate in minor units per kilobyte",
		},
		[]string{"chain"},
	)

	// UTXOsTracked reports spendable UTXO counts per source address
	UTXOsTracked = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wallet_utxos_tracked",
			Help: "Number of tracked UTXOs by spent state",
		},
		[]string{"chain", "state"},
	)

	// RPCRequests counts outbound node requests by endpoint and outcome
	RPCRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_rpc_requests_total",
			Help: "Total number of outbound node RPC requests",
		},
		[]string{"endpoint", "outcome"},
	)

	// RPCFailovers counts switches to a fallback endpoint
	RPCFailovers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_rpc_failovers_total",
			Help: "Total number of failovers to a fallback endpoint",
		},
		[]string{"endpoint"},
	)

	// ErrorsTotal counts errors by component
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)
)
