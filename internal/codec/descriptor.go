package codec

import (
	"encoding/base64"
	"math/big"
	"strings"
)

// Built-in token transfer selectors.
const (
	SelectorESDTTransfer         = "ESDTTransfer"
	SelectorESDTNFTTransfer      = "ESDTNFTTransfer"
	SelectorMultiESDTNFTTransfer = "MultiESDTNFTTransfer"
)

// maxMultiTransfers bounds the declared transfer count of a multi transfer.
const maxMultiTransfers = 256

var (
	esdtTransferBase64 = base64.StdEncoding.EncodeToString([]byte(SelectorESDTTransfer))
	esdtTransferHex    = TextToHex(SelectorESDTTransfer)
)

// CallDescriptor is an "@"-delimited contract call: a selector followed by hex
// encoded arguments.
type CallDescriptor struct {
	Selector string
	Args     []string
}

// TokenTransfer is a token movement decoded from a call descriptor.
type TokenTransfer struct {
	Token       string
	Amount      *big.Int
	Destination []byte // explicit destination public key, if the selector carries one
}

// DecodePayload returns the textual form of a call payload. The explorer
// returns payloads base64 encoded, but some fields already hold plain text.
func DecodePayload(payload string) string {
	if payload == "" {
		return ""
	}
	if isDescriptorText(payload) {
		return payload
	}
	return Base64ToText(payload)
}

func isDescriptorText(s string) bool {
	return strings.HasPrefix(s, SelectorESDTTransfer+"@") ||
		strings.HasPrefix(s, SelectorESDTNFTTransfer+"@") ||
		strings.HasPrefix(s, SelectorMultiESDTNFTTransfer+"@") ||
		strings.HasPrefix(s, "@")
}

// HasESDTTransferPrefix reports whether a payload starts with the ESDTTransfer
// selector in any of the encodings seen upstream: literal, base64, hex, or a
// base64 payload that decodes to the literal.
func HasESDTTransferPrefix(payload string) bool {
	if payload == "" {
		return false
	}
	switch {
	case strings.HasPrefix(payload, SelectorESDTTransfer):
		return true
	case strings.HasPrefix(payload, esdtTransferBase64):
		return true
	case strings.HasPrefix(strings.ToLower(payload), esdtTransferHex):
		return true
	}
	return strings.HasPrefix(Base64ToText(payload), SelectorESDTTransfer)
}

// ParseCallDescriptor splits a textual descriptor into selector and args.
func ParseCallDescriptor(text string) CallDescriptor {
	if text == "" {
		return CallDescriptor{}
	}
	parts := strings.Split(text, "@")
	return CallDescriptor{
		Selector: parts[0],
		Args:     parts[1:],
	}
}

// IsTokenTransfer reports whether the descriptor calls one of the built-in
// token transfer functions.
func (d CallDescriptor) IsTokenTransfer() bool {
	switch d.Selector {
	case SelectorESDTTransfer, SelectorESDTNFTTransfer, SelectorMultiESDTNFTTransfer:
		return true
	}
	return false
}

// Transfers decodes the token movements a transfer descriptor carries.
// Descriptors with missing fields yield nil.
func (d CallDescriptor) Transfers() []TokenTransfer {
	switch d.Selector {
	case SelectorESDTTransfer:
		// ESDTTransfer@token@amount[@function@args...]
		if len(d.Args) < 2 {
			return nil
		}
		token := HexToText(d.Args[0])
		if token == "" {
			return nil
		}
		return []TokenTransfer{{Token: token, Amount: HexToBigInt(d.Args[1])}}

	case SelectorESDTNFTTransfer:
		// ESDTNFTTransfer@token@nonce@amount@destination[@function@args...]
		if len(d.Args) < 3 {
			return nil
		}
		ticker := HexToText(d.Args[0])
		if ticker == "" {
			return nil
		}
		tt := TokenTransfer{
			Token:  TokenIdentifier(ticker, d.Args[1]),
			Amount: HexToBigInt(d.Args[2]),
		}
		if len(d.Args) > 3 {
			tt.Destination = HexToBytes(d.Args[3])
		}
		return []TokenTransfer{tt}

	case SelectorMultiESDTNFTTransfer:
		// MultiESDTNFTTransfer@destination@count@(token@nonce@amount)*
		if len(d.Args) < 2 {
			return nil
		}
		dest := HexToBytes(d.Args[0])
		count := HexToBigInt(d.Args[1])
		if !count.IsInt64() || count.Int64() <= 0 || count.Int64() > maxMultiTransfers {
			return nil
		}
		n := int(count.Int64())
		if len(d.Args) < 2+3*n {
			return nil
		}
		out := make([]TokenTransfer, 0, n)
		for i := 0; i < n; i++ {
			base := 2 + 3*i
			ticker := HexToText(d.Args[base])
			if ticker == "" {
				continue
			}
			out = append(out, TokenTransfer{
				Token:       TokenIdentifier(ticker, d.Args[base+1]),
				Amount:      HexToBigInt(d.Args[base+2]),
				Destination: dest,
			})
		}
		return out
	}
	return nil
}

// TokenIdentifier builds the full identifier of a token. Fungible tokens
// (nonce zero) keep their ticker; NFT and MetaESDT items get the hex nonce
// appended, padded to an even number of digits.
func TokenIdentifier(ticker, nonceHex string) string {
	nonce := HexToBigInt(nonceHex)
	if nonce.Sign() == 0 {
		return ticker
	}
	h := nonce.Text(16)
	if len(h)%2 == 1 {
		h = "0" + h
	}
	return ticker + "-" + h
}

// CollectionOf strips the nonce suffix of an NFT or MetaESDT identifier.
func CollectionOf(identifier string) string {
	parts := strings.Split(identifier, "-")
	if len(parts) >= 3 {
		return parts[0] + "-" + parts[1]
	}
	return identifier
}
