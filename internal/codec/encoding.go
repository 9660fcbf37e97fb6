// Package codec converts on-chain payloads between their hex, base64, text
// and integer forms. Every function is total: malformed input yields an empty
// string, a nil slice or a zero integer instead of an error.
package codec

import (
	"encoding/base64"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// HexToBytes decodes a hex string without a 0x prefix. Odd-length input is
// left-padded with a zero nibble. It returns nil when the input is not hex.
func HexToBytes(h string) []byte {
	h = strings.TrimPrefix(strings.TrimSpace(h), "0x")
	if len(h)%2 == 1 {
		h = "0" + h
	}
	b, err := hexutil.Decode("0x" + h)
	if err != nil {
		return nil
	}
	return b
}

// HexToText decodes hex into a UTF-8 string.
func HexToText(h string) string {
	return string(HexToBytes(h))
}

// HexToBigInt interprets h as a big-endian unsigned integer.
func HexToBigInt(h string) *big.Int {
	h = strings.TrimPrefix(strings.TrimSpace(h), "0x")
	if h == "" {
		return new(big.Int)
	}
	n, ok := new(big.Int).SetString(h, 16)
	if !ok || n.Sign() < 0 {
		return new(big.Int)
	}
	return n
}

// Base64ToBytes decodes standard base64, padded or not.
func Base64ToBytes(b64 string) []byte {
	b64 = strings.TrimSpace(b64)
	if b64 == "" {
		return nil
	}
	if b, err := base64.StdEncoding.DecodeString(b64); err == nil {
		return b
	}
	if b, err := base64.RawStdEncoding.DecodeString(b64); err == nil {
		return b
	}
	return nil
}

// Base64ToText decodes base64 into a UTF-8 string.
func Base64ToText(b64 string) string {
	return string(Base64ToBytes(b64))
}

// Base64ToHex re-encodes a base64 payload as lowercase hex without prefix.
func Base64ToHex(b64 string) string {
	b := Base64ToBytes(b64)
	if len(b) == 0 {
		return ""
	}
	return strings.TrimPrefix(hexutil.Encode(b), "0x")
}

// Base64ToBigInt interprets a base64 payload as a big-endian unsigned integer.
// Event topics encode amounts this way.
func Base64ToBigInt(b64 string) *big.Int {
	return new(big.Int).SetBytes(Base64ToBytes(b64))
}

// TextToHex encodes text as lowercase hex without prefix.
func TextToHex(s string) string {
	return strings.TrimPrefix(hexutil.Encode([]byte(s)), "0x")
}

// HexToBase64 re-encodes a hex string as standard base64.
func HexToBase64(h string) string {
	b := HexToBytes(h)
	if b == nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(b)
}

// ParseAmount parses a decimal smallest-unit integer string. Anything that is
// not a non-negative integer is treated as zero.
func ParseAmount(s string) *big.Int {
	n, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok || n.Sign() < 0 {
		return new(big.Int)
	}
	return n
}
