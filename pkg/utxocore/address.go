package utxocore

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"

	"github.com/flarelabs/simple-wallet/pkg/wallet"
)

// AddressFromPrivateKey derives the P2PKH address for a private key on the
// given chain. Compressed public keys only; this matches how the wallet
// generates accounts.
func AddressFromPrivateKey(chain wallet.ChainType, privateKey []byte) (string, error) {
	params, err := NetParams(chain)
	if err != nil {
		return "", err
	}

	priv, _ := btcec.PrivKeyFromBytes(privateKey)
	pubKeyHash := btcutil.Hash160(priv.PubKey().SerializeCompressed())
	addr, err := btcutil.NewAddressPubKeyHash(pubKeyHash, params)
	if err != nil {
		return "", fmt.Errorf("failed to derive address: %w", err)
	}
	return addr.EncodeAddress(), nil
}

// DecodeAddress parses and validates an address for the given chain.
func DecodeAddress(chain wallet.ChainType, address string) (btcutil.Address, error) {
	params, err := NetParams(chain)
	if err != nil {
		return nil, err
	}

	addr, err := btcutil.DecodeAddress(address, params)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q for %s: %w", address, chain, err)
	}
	if !addr.IsForNet(params) {
		return nil, fmt.Errorf("address %q is not valid on %s", address, chain)
	}
	return addr, nil
}

// ValidateAddress reports whether address is valid on the given chain.
func ValidateAddress(chain wallet.ChainType, address string) error {
	_, err := DecodeAddress(chain, address)
	return err
}

// PrivateKeyFromWIF decodes a WIF-encoded private key, checking it against
// the chain's WIF version byte. Returns the raw 32-byte private key.
func PrivateKeyFromWIF(chain wallet.ChainType, wifStr string) ([]byte, error) {
	params, err := NetParams(chain)
	if err != nil {
		return nil, err
	}

	wif, err := btcutil.DecodeWIF(wifStr)
	if err != nil {
		return nil, fmt.Errorf("invalid WIF: %w", err)
	}
	if !wif.IsForNet(params) {
		return nil, fmt.Errorf("WIF is not valid on %s", chain)
	}
	return wif.PrivKey.Serialize(), nil
}

// PrivateKeyToWIF encodes a raw private key as WIF for the given chain.
func PrivateKeyToWIF(chain wallet.ChainType, privateKey []byte) (string, error) {
	params, err := NetParams(chain)
	if err != nil {
		return "", err
	}

	priv, _ := btcec.PrivKeyFromBytes(privateKey)
	wif, err := btcutil.NewWIF(priv, params, true)
	if err != nil {
		return "", fmt.Errorf("failed to encode WIF: %w", err)
	}
	return wif.String(), nil
}
