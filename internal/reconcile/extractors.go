package reconcile

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/alanyoungcy/egldtax/internal/codec"
	"github.com/alanyoungcy/egldtax/internal/domain"
)

// Input is everything an Extractor may look at for one transaction. Detail
// is nil for extractors that do not need it.
type Input struct {
	Tx        domain.RawTransaction
	Transfers []domain.RawTransfer
	Detail    *domain.TransactionDetail
	Wallet    codec.Wallet

	// Skip is told about records an extractor could not use. May be nil.
	Skip func(reason string)
}

func (in Input) skip(reason string) {
	if in.Skip != nil {
		in.Skip(reason)
	}
}

// decodeDescriptor parses a payload, reporting payloads that decode to
// nothing and token descriptors with missing fields.
func decodeDescriptor(in Input, payload string) (codec.CallDescriptor, []codec.TokenTransfer) {
	text := codec.DecodePayload(payload)
	if text == "" {
		in.skip("undecodable payload")
		return codec.CallDescriptor{}, nil
	}
	desc := codec.ParseCallDescriptor(text)
	if !desc.IsTokenTransfer() {
		return desc, nil
	}
	transfers := desc.Transfers()
	if len(transfers) == 0 {
		in.skip("token descriptor missing fields: " + desc.Selector)
	}
	return desc, transfers
}

// Extractor finds the asset movements of a transaction in one data source.
// An empty result means the source had nothing usable.
type Extractor interface {
	Name() string
	NeedsDetail() bool
	Attempt(in Input) []domain.Leg
}

// DefaultExtractors returns the sources in precedence order.
func DefaultExtractors() []Extractor {
	return []Extractor{
		TransferListExtractor{},
		ResultsExtractor{},
		EventsExtractor{},
		OperationsExtractor{},
		NativeValueExtractor{},
	}
}

// direction attributes a movement to the wallet. Receiving wins when both
// sides are the wallet.
func direction(w codec.Wallet, sender, receiver string) (domain.Direction, bool) {
	switch {
	case w.Is(receiver) && !w.Is(sender):
		return domain.DirectionIn, true
	case w.Is(sender) && !w.Is(receiver):
		return domain.DirectionOut, true
	case w.Is(sender) && w.Is(receiver):
		return domain.DirectionIn, true
	}
	return "", false
}

// descriptorDirection is direction for token-transfer descriptors, which may
// name an explicit destination when the call is sent to oneself.
func descriptorDirection(w codec.Wallet, sender, receiver string, dest []byte) (domain.Direction, bool) {
	if w.Is(sender) && w.Is(receiver) && len(dest) > 0 && !w.IsPubKey(dest) {
		return domain.DirectionOut, true
	}
	return direction(w, sender, receiver)
}

func appendLeg(legs []domain.Leg, dir domain.Direction, token string, amount *big.Int) []domain.Leg {
	if amount == nil || amount.Sign() <= 0 {
		return legs
	}
	if strings.EqualFold(token, domain.NativeCurrency) {
		token = ""
	}
	return append(legs, domain.Leg{Direction: dir, Token: token, Amount: new(big.Int).Set(amount)})
}

// TransferListExtractor reads the transfer-list entries of the transaction.
// A payload holding a token transfer descriptor wins over the entry's own
// identifier and value.
type TransferListExtractor struct{}

func (TransferListExtractor) Name() string      { return "transfers" }
func (TransferListExtractor) NeedsDetail() bool { return false }

func (TransferListExtractor) Attempt(in Input) []domain.Leg {
	var legs []domain.Leg
	for _, t := range in.Transfers {
		if codec.HasESDTTransferPrefix(t.Data) || isTokenDescriptor(t.Data) {
			if _, decoded := decodeDescriptor(in, t.Data); len(decoded) > 0 {
				for _, tt := range decoded {
					dir, ok := descriptorDirection(in.Wallet, t.Sender, t.Receiver, tt.Destination)
					if ok {
						legs = appendLeg(legs, dir, tt.Token, tt.Amount)
					}
				}
				continue
			}
		}

		dir, ok := direction(in.Wallet, t.Sender, t.Receiver)
		if !ok {
			continue
		}
		token := t.Identifier
		if t.IsNative() {
			token = ""
		}
		// zero-value native entries only carry a call
		legs = appendLeg(legs, dir, token, codec.ParseAmount(t.Value))
	}
	return legs
}

func isTokenDescriptor(payload string) bool {
	if payload == "" {
		return false
	}
	return codec.ParseCallDescriptor(codec.DecodePayload(payload)).IsTokenTransfer()
}

// ResultsExtractor reads the smart contract results of the transaction.
type ResultsExtractor struct{}

func (ResultsExtractor) Name() string      { return "results" }
func (ResultsExtractor) NeedsDetail() bool { return true }

func (ResultsExtractor) Attempt(in Input) []domain.Leg {
	if in.Detail == nil {
		return nil
	}
	var legs []domain.Leg
	for _, r := range in.Detail.Results {
		if r.Data == "" {
			if dir, ok := direction(in.Wallet, r.Sender, r.Receiver); ok {
				legs = appendLeg(legs, dir, "", codec.ParseAmount(r.Value))
			}
			continue
		}
		desc, decoded := decodeDescriptor(in, r.Data)
		if desc.IsTokenTransfer() {
			for _, tt := range decoded {
				if dir, ok := descriptorDirection(in.Wallet, r.Sender, r.Receiver, tt.Destination); ok {
					legs = appendLeg(legs, dir, tt.Token, tt.Amount)
				}
			}
			continue
		}
		if dir, ok := direction(in.Wallet, r.Sender, r.Receiver); ok {
			legs = appendLeg(legs, dir, "", codec.ParseAmount(r.Value))
		}
	}
	return legs
}

var transferEvents = map[string]struct{}{
	codec.SelectorESDTTransfer:         {},
	codec.SelectorESDTNFTTransfer:      {},
	codec.SelectorMultiESDTNFTTransfer: {},
	"ESDTLocalTransfer":                {},
}

// EventsExtractor reads transfer log events whose recipient is the wallet.
//
// Topic layouts:
//
//	[token, nonce, amount, recipient]           single transfer
//	[token, amount, recipient]                  older single transfer
//	[(token, nonce, amount)..., recipient]      multi transfer
type EventsExtractor struct{}

func (EventsExtractor) Name() string      { return "events" }
func (EventsExtractor) NeedsDetail() bool { return true }

func (EventsExtractor) Attempt(in Input) []domain.Leg {
	if in.Detail == nil {
		return nil
	}
	var legs []domain.Leg
	for _, ev := range in.Detail.Events {
		if _, ok := transferEvents[ev.Identifier]; !ok {
			continue
		}
		n := len(ev.Topics)
		if n < 3 || (n > 3 && (n-1)%3 != 0) {
			in.skip(fmt.Sprintf("unhandled %s topic shape: %d topics", ev.Identifier, n))
			continue
		}
		if !in.Wallet.IsPubKey(codec.Base64ToBytes(ev.Topics[n-1])) {
			continue
		}

		if n == 3 {
			token := codec.Base64ToText(ev.Topics[0])
			if token == "" {
				in.skip("event without token topic")
				continue
			}
			legs = appendLeg(legs, domain.DirectionIn, token, codec.Base64ToBigInt(ev.Topics[1]))
			continue
		}
		for i := 0; i+2 < n-1; i += 3 {
			ticker := codec.Base64ToText(ev.Topics[i])
			if ticker == "" {
				in.skip("event without token topic")
				continue
			}
			token := codec.TokenIdentifier(ticker, codec.Base64ToHex(ev.Topics[i+1]))
			legs = appendLeg(legs, domain.DirectionIn, token, codec.Base64ToBigInt(ev.Topics[i+2]))
		}
	}
	return legs
}

var operationTypes = map[string]struct{}{
	"egld": {},
	"esdt": {},
	"nft":  {},
}

// OperationsExtractor reads typed transfer operations.
type OperationsExtractor struct{}

func (OperationsExtractor) Name() string      { return "operations" }
func (OperationsExtractor) NeedsDetail() bool { return true }

func (OperationsExtractor) Attempt(in Input) []domain.Leg {
	if in.Detail == nil {
		return nil
	}
	var legs []domain.Leg
	for _, op := range in.Detail.Operations {
		if !strings.EqualFold(op.Action, "transfer") {
			continue
		}
		typ := strings.ToLower(op.Type)
		if _, ok := operationTypes[typ]; !ok {
			continue
		}
		dir, ok := direction(in.Wallet, op.Sender, op.Receiver)
		if !ok || op.Sender == op.Receiver {
			continue
		}
		token := op.Identifier
		if typ == "egld" {
			token = ""
		}
		legs = appendLeg(legs, dir, token, codec.ParseAmount(op.Value))
	}
	return legs
}

// NativeValueExtractor falls back to the transaction's own value.
type NativeValueExtractor struct{}

func (NativeValueExtractor) Name() string      { return "value" }
func (NativeValueExtractor) NeedsDetail() bool { return false }

func (NativeValueExtractor) Attempt(in Input) []domain.Leg {
	dir, ok := direction(in.Wallet, in.Tx.Sender, in.Tx.Receiver)
	if !ok {
		return nil
	}
	return appendLeg(nil, dir, "", codec.ParseAmount(in.Tx.Value))
}
