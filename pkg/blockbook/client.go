// Package blockbook implements a client for the Blockbook indexer API used by
// the UTXO chains. All requests go through the endpoint-fallback client, so a
// dead indexer fails over to the next configured one.
package blockbook

import (
	"context"
	"fmt"
	"math/big"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/flarelabs/simple-wallet/pkg/rpcfallback"
)

// Client talks to one chain's Blockbook instances.
type Client struct {
	rpc *rpcfallback.Client
	log *zap.Logger
}

// New creates a Blockbook client over the given endpoints.
func New(endpoints []string, apiKey string, timeout time.Duration, log *zap.Logger) *Client {
	return &Client{
		rpc: rpcfallback.New(endpoints, apiKey, timeout, rpcfallback.DefaultRetryConfig, log),
		log: log,
	}
}

// NewWithRPC creates a Blockbook client over an existing fallback client.
func NewWithRPC(rpc *rpcfallback.Client, log *zap.Logger) *Client {
	return &Client{rpc: rpc, log: log}
}

// Info is the subset of /api/v2 the wallet needs.
type Info struct {
	Blockbook struct {
		BestHeight    uint64 `json:"bestHeight"`
		InSync        bool   `json:"inSync"`
		MempoolSize   int    `json:"mempoolSize"`
		LastBlockTime string `json:"lastBlockTime"`
	} `json:"blockbook"`
	Backend struct {
		Blocks uint64 `json:"blocks"`
		Chain  string `json:"chain"`
	} `json:"backend"`
}

// UTXO is one spendable output as reported by /api/v2/utxo.
type UTXO struct {
	TxID          string `json:"txid"`
	Vout          uint32 `json:"vout"`
	Value         string `json:"value"`
	Height        uint64 `json:"height"`
	Confirmations uint64 `json:"confirmations"`
}

// ValueBig parses the UTXO value into minor units.
func (u *UTXO) ValueBig() (*big.Int, error) {
	v, ok := new(big.Int).SetString(u.Value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid utxo value %q", u.Value)
	}
	return v, nil
}

// TxVin and TxVout mirror the relevant parts of /api/v2/tx.
type TxVin struct {
	TxID      string   `json:"txid"`
	Vout      uint32   `json:"vout"`
	Addresses []string `json:"addresses"`
	Value     string   `json:"value"`
}

type TxVout struct {
	Value     string   `json:"value"`
	N         uint32   `json:"n"`
	Hex       string   `json:"hex"`
	Addresses []string `json:"addresses"`
	Spent     bool     `json:"spent"`
}

// Tx is a transaction as reported by /api/v2/tx.
type Tx struct {
	TxID          string   `json:"txid"`
	Vin           []TxVin  `json:"vin"`
	Vout          []TxVout `json:"vout"`
	BlockHeight   int64    `json:"blockHeight"`
	Confirmations uint64   `json:"confirmations"`
	BlockTime     int64    `json:"blockTime"`
	Fees          string   `json:"fees"`
	Hex           string   `json:"hex"`
}

// FeesBig parses the transaction fee into minor units.
func (t *Tx) FeesBig() (*big.Int, error) {
	v, ok := new(big.Int).SetString(t.Fees, 10)
	if !ok {
		return nil, fmt.Errorf("invalid tx fee %q", t.Fees)
	}
	return v, nil
}

// FeeStats is the response of /api/v2/feestats/{height}.
type FeeStats struct {
	AverageFeePerKb int64   `json:"averageFeePerKb"`
	DecilesFeePerKb []int64 `json:"decilesFeePerKb"`
}

// Block is the subset of /api/v2/block/{height} the fee oracle needs.
type Block struct {
	Height  uint64 `json:"height"`
	Time    int64  `json:"time"`
	TxCount int    `json:"txCount"`
}

type sendTxResult struct {
	Result string `json:"result"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// GetInfo fetches indexer status including the best block height.
func (c *Client) GetInfo(ctx context.Context) (*Info, error) {
	var info Info
	if err := c.rpc.GetJSON(ctx, "/api/v2", &info); err != nil {
		return nil, fmt.Errorf("failed to get indexer info: %w", err)
	}
	return &info, nil
}

// GetBlockHeight returns the current best block height.
func (c *Client) GetBlockHeight(ctx context.Context) (uint64, error) {
	info, err := c.GetInfo(ctx)
	if err != nil {
		return 0, err
	}
	return info.Blockbook.BestHeight, nil
}

// GetAddressUTXOs lists spendable outputs for an address. With confirmed set,
// mempool outputs are excluded.
func (c *Client) GetAddressUTXOs(ctx context.Context, address string, confirmed bool) ([]UTXO, error) {
	path := fmt.Sprintf("/api/v2/utxo/%s?confirmed=%t", url.PathEscape(address), confirmed)
	var utxos []UTXO
	if err := c.rpc.GetJSON(ctx, path, &utxos); err != nil {
		return nil, fmt.Errorf("failed to list utxos for %s: %w", address, err)
	}
	return utxos, nil
}

// GetTransaction fetches a transaction by id. Mempool transactions report
// blockHeight -1 and confirmations 0.
func (c *Client) GetTransaction(ctx context.Context, txID string) (*Tx, error) {
	var tx Tx
	if err := c.rpc.GetJSON(ctx, "/api/v2/tx/"+url.PathEscape(txID), &tx); err != nil {
		return nil, fmt.Errorf("failed to get transaction %s: %w", txID, err)
	}
	return &tx, nil
}

// SendTransaction broadcasts a raw transaction and returns its id. Node
// rejections come back as *rpcfallback.HTTPError with the node's reason in
// the body.
func (c *Client) SendTransaction(ctx context.Context, rawHex string) (string, error) {
	var res sendTxResult
	if err := c.rpc.GetJSON(ctx, "/api/v2/sendtx/"+rawHex, &res); err != nil {
		return "", err
	}
	if res.Error != nil {
		return "", fmt.Errorf("node rejected transaction: %s", res.Error.Message)
	}
	return res.Result, nil
}

// GetFeeStats fetches aggregate fee rates for a mined block.
func (c *Client) GetFeeStats(ctx context.Context, blockHeight uint64) (*FeeStats, error) {
	var stats FeeStats
	if err := c.rpc.GetJSON(ctx, fmt.Sprintf("/api/v2/feestats/%d", blockHeight), &stats); err != nil {
		return nil, fmt.Errorf("failed to get fee stats for block %d: %w", blockHeight, err)
	}
	return &stats, nil
}

// GetBlock fetches block metadata by height.
func (c *Client) GetBlock(ctx context.Context, blockHeight uint64) (*Block, error) {
	var block Block
	if err := c.rpc.GetJSON(ctx, fmt.Sprintf("/api/v2/block/%d", blockHeight), &block); err != nil {
		return nil, fmt.Errorf("failed to get block %d: %w", blockHeight, err)
	}
	return &block, nil
}
