package codec

import (
	"bytes"
	"regexp"

	"github.com/btcsuite/btcd/btcutil/bech32"
)

// AddressHRP is the human readable part of MultiversX addresses.
const AddressHRP = "erd"

const pubKeyLen = 32

var walletPattern = regexp.MustCompile(`^erd1[0-9a-z]{58}$`)

// ValidateWalletAddress reports whether addr has the shape of a wallet
// address. It checks the pattern only, not the bech32 checksum.
func ValidateWalletAddress(addr string) bool {
	return walletPattern.MatchString(addr)
}

// AddressToPubKey decodes a bech32 erd1 address into its 32-byte public key.
func AddressToPubKey(addr string) []byte {
	hrp, data, err := bech32.DecodeToBase256(addr)
	if err != nil || hrp != AddressHRP || len(data) != pubKeyLen {
		return nil
	}
	return data
}

// PubKeyToAddress encodes a 32-byte public key as an erd1 address.
func PubKeyToAddress(pub []byte) string {
	if len(pub) != pubKeyLen {
		return ""
	}
	addr, err := bech32.EncodeFromBase256(AddressHRP, pub)
	if err != nil {
		return ""
	}
	return addr
}

// Wallet is a decoded wallet address, compared against both bech32 fields
// and raw public keys found in event topics.
type Wallet struct {
	Address string
	PubKey  []byte
}

// NewWallet decodes addr. A wallet whose checksum does not verify keeps its
// address but matches no public key.
func NewWallet(addr string) Wallet {
	return Wallet{Address: addr, PubKey: AddressToPubKey(addr)}
}

// Is reports whether addr is this wallet.
func (w Wallet) Is(addr string) bool {
	return addr != "" && addr == w.Address
}

// IsPubKey reports whether pub is this wallet's public key.
func (w Wallet) IsPubKey(pub []byte) bool {
	return len(w.PubKey) == pubKeyLen && bytes.Equal(pub, w.PubKey)
}
