// Package utxocore provides chain-level primitives for the UTXO chains the
// wallet supports: network parameters, address handling, and raw transaction
// construction and signing. Everything here is pure; persistence and node
// interaction live elsewhere.
package utxocore

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"

	"github.com/flarelabs/simple-wallet/pkg/wallet"
)

// Dogecoin network parameters. btcd only ships Bitcoin networks, so the
// Dogecoin address and WIF version bytes are defined here.
var (
	DogecoinMainNetParams = chaincfg.Params{
		Name:             "dogecoin",
		Net:              wire.BitcoinNet(0xc0c0c0c0),
		PubKeyHashAddrID: 0x1e, // addresses start with D
		ScriptHashAddrID: 0x16,
		PrivateKeyID:     0x9e,
		HDPrivateKeyID:   [4]byte{0x02, 0xfa, 0xc3, 0x98},
		HDPublicKeyID:    [4]byte{0x02, 0xfa, 0xca, 0xfd},
		HDCoinType:       3,
	}

	DogecoinTestNetParams = chaincfg.Params{
		Name:             "dogecoin-testnet",
		Net:              wire.BitcoinNet(0xfcc1b7dc),
		PubKeyHashAddrID: 0x71, // addresses start with n
		ScriptHashAddrID: 0xc4,
		PrivateKeyID:     0xf1,
		HDPrivateKeyID:   [4]byte{0x04, 0x35, 0x83, 0x94},
		HDPublicKeyID:    [4]byte{0x04, 0x35, 0x87, 0xcf},
		HDCoinType:       1,
	}
)

func init() {
	if err := chaincfg.Register(&DogecoinMainNetParams); err != nil {
		panic(fmt.Sprintf("failed to register dogecoin params: %v", err))
	}
	if err := chaincfg.Register(&DogecoinTestNetParams); err != nil {
		panic(fmt.Sprintf("failed to register dogecoin testnet params: %v", err))
	}
}

// NetParams returns the network parameters for a UTXO chain type.
func NetParams(chain wallet.ChainType) (*chaincfg.Params, error) {
	switch chain {
	case wallet.ChainBTC:
		return &chaincfg.MainNetParams, nil
	case wallet.ChainTestBTC:
		return &chaincfg.TestNet3Params, nil
	case wallet.ChainDOGE:
		return &DogecoinMainNetParams, nil
	case wallet.ChainTestDOGE:
		return &DogecoinTestNetParams, nil
	default:
		return nil, fmt.Errorf("not a UTXO chain: %s", chain)
	}
}
