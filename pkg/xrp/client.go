package xrp

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/flarelabs/simple-wallet/pkg/rpcfallback"
)

// Client talks to rippled's JSON-RPC interface.
type Client struct {
	rpc *rpcfallback.Client
	log *zap.Logger
}

// New creates a rippled client over the given endpoints.
func New(endpoints []string, apiKey string, timeout time.Duration, log *zap.Logger) *Client {
	return &Client{
		rpc: rpcfallback.New(endpoints, apiKey, timeout, rpcfallback.DefaultRetryConfig, log),
		log: log,
	}
}

// NewWithRPC creates a rippled client over an existing fallback client.
func NewWithRPC(rpc *rpcfallback.Client, log *zap.Logger) *Client {
	return &Client{rpc: rpc, log: log}
}

type rpcRequest struct {
	Method string `json:"method"`
	Params []any  `json:"params,omitempty"`
}

// RPCError is an application-level error reported inside a 200 response.
type RPCError struct {
	Code    string
	Message string
}

func (e *RPCError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code
}

// IsAccountNotFound reports whether err is rippled's actNotFound, which
// legitimately happens after an AccountDelete finalizes.
func IsAccountNotFound(err error) bool {
	var rpcErr *RPCError
	return errors.As(err, &rpcErr) && rpcErr.Code == "actNotFound"
}

type resultStatus struct {
	Status       string `json:"status"`
	Error        string `json:"error"`
	ErrorMessage string `json:"error_message"`
}

func (r *resultStatus) check() error {
	if r.Error != "" || r.Status == "error" {
		return &RPCError{Code: r.Error, Message: r.ErrorMessage}
	}
	return nil
}

func (c *Client) call(ctx context.Context, method string, params any, result any) error {
	req := rpcRequest{Method: method}
	if params != nil {
		req.Params = []any{params}
	}
	envelope := struct {
		Result any `json:"result"`
	}{Result: result}
	if err := c.rpc.PostJSON(ctx, "/", req, &envelope); err != nil {
		return fmt.Errorf("%s failed: %w", method, err)
	}
	return nil
}

// ServerInfo is the subset of server_info the wallet needs.
type ServerInfo struct {
	resultStatus
	Info struct {
		LoadFactor      decimal.Decimal `json:"load_factor"`
		ValidatedLedger struct {
			Seq           uint64          `json:"seq"`
			BaseFeeXRP    decimal.Decimal `json:"base_fee_xrp"`
			ReserveIncXRP decimal.Decimal `json:"reserve_inc_xrp"`
		} `json:"validated_ledger"`
	} `json:"info"`
}

// GetServerInfo fetches server status including the validated ledger.
func (c *Client) GetServerInfo(ctx context.Context) (*ServerInfo, error) {
	var info ServerInfo
	if err := c.call(ctx, "server_info", nil, &info); err != nil {
		return nil, err
	}
	if err := info.check(); err != nil {
		return nil, fmt.Errorf("server_info: %w", err)
	}
	return &info, nil
}

// GetLedgerIndex returns the latest validated ledger index.
func (c *Client) GetLedgerIndex(ctx context.Context) (uint64, error) {
	info, err := c.GetServerInfo(ctx)
	if err != nil {
		return 0, err
	}
	seq := info.Info.ValidatedLedger.Seq
	if seq == 0 {
		return 0, fmt.Errorf("server_info has no validated ledger")
	}
	return seq, nil
}

// CurrentFee returns the fee in drops for the given transaction kind. A
// payment pays the base fee scaled by the server's load factor; an
// AccountDelete pays the owner reserve increment.
func (c *Client) CurrentFee(ctx context.Context, isPayment bool) (*big.Int, error) {
	info, err := c.GetServerInfo(ctx)
	if err != nil {
		return nil, err
	}

	var feeXRP decimal.Decimal
	if isPayment {
		feeXRP = info.Info.ValidatedLedger.BaseFeeXRP
		if !info.Info.LoadFactor.IsZero() {
			feeXRP = feeXRP.Mul(info.Info.LoadFactor)
		}
	} else {
		feeXRP = info.Info.ValidatedLedger.ReserveIncXRP
	}
	if feeXRP.IsZero() {
		return nil, fmt.Errorf("server_info has no fee information")
	}

	drops := feeXRP.Mul(decimal.NewFromInt(1_000_000)).Ceil()
	return drops.BigInt(), nil
}

// AccountInfo is the subset of account_info the wallet needs.
type AccountInfo struct {
	resultStatus
	AccountData struct {
		Account  string `json:"Account"`
		Balance  string `json:"Balance"`
		Sequence uint32 `json:"Sequence"`
	} `json:"account_data"`
	LedgerCurrentIndex uint64 `json:"ledger_current_index"`
}

// BalanceBig parses the account balance into drops.
func (a *AccountInfo) BalanceBig() (*big.Int, error) {
	v, ok := new(big.Int).SetString(a.AccountData.Balance, 10)
	if !ok {
		return nil, fmt.Errorf("invalid balance %q", a.AccountData.Balance)
	}
	return v, nil
}

// GetAccountInfo fetches account state from the current ledger.
func (c *Client) GetAccountInfo(ctx context.Context, account string) (*AccountInfo, error) {
	params := map[string]any{
		"account":      account,
		"ledger_index": "current",
	}
	var info AccountInfo
	if err := c.call(ctx, "account_info", params, &info); err != nil {
		return nil, err
	}
	if err := info.check(); err != nil {
		return nil, fmt.Errorf("account_info %s: %w", account, err)
	}
	return &info, nil
}

// GetAccountSequence returns the account's next transaction sequence.
func (c *Client) GetAccountSequence(ctx context.Context, account string) (uint32, error) {
	info, err := c.GetAccountInfo(ctx, account)
	if err != nil {
		return 0, err
	}
	return info.AccountData.Sequence, nil
}

// SubmitResult is the engine's verdict on a submitted transaction. The
// engine result is provisional; only a validated tx lookup is final.
type SubmitResult struct {
	resultStatus
	EngineResult         string `json:"engine_result"`
	EngineResultMessage  string `json:"engine_result_message"`
	ValidatedLedgerIndex uint64 `json:"validated_ledger_index"`
	TxBlob               string `json:"tx_blob"`
}

// Submit broadcasts a signed transaction blob.
func (c *Client) Submit(ctx context.Context, blob []byte) (*SubmitResult, error) {
	params := map[string]any{
		"tx_blob": hex.EncodeToString(blob),
	}
	var res SubmitResult
	if err := c.call(ctx, "submit", params, &res); err != nil {
		return nil, err
	}
	if err := res.check(); err != nil {
		return nil, fmt.Errorf("submit: %w", err)
	}
	return &res, nil
}

// TxResult is the subset of the tx method's response the wallet needs.
type TxResult struct {
	resultStatus
	Hash        string `json:"hash"`
	LedgerIndex uint64 `json:"ledger_index"`
	Validated   bool   `json:"validated"`
}

// GetTransaction looks up a transaction by hash. Validated means the
// transaction is final.
func (c *Client) GetTransaction(ctx context.Context, txHash string) (*TxResult, error) {
	params := map[string]any{
		"transaction": txHash,
	}
	var res TxResult
	if err := c.call(ctx, "tx", params, &res); err != nil {
		return nil, err
	}
	if err := res.check(); err != nil {
		return nil, fmt.Errorf("tx %s: %w", txHash, err)
	}
	return &res, nil
}
