package domain

// NativeCurrency is the ticker of the chain's native asset.
const NativeCurrency = "EGLD"

// NativeDecimals is the fixed number of decimals of the native asset.
const NativeDecimals = 18

// RawTransaction is one ledger-level transaction as returned by the explorer's
// account transaction list. Value and Fee are smallest-unit integer strings.
type RawTransaction struct {
	Hash      string `json:"hash"`
	Timestamp int64  `json:"timestamp"`
	Sender    string `json:"sender"`
	Receiver  string `json:"receiver"`
	Function  string `json:"function"` // lower-cased; empty for plain value transfers
	Value     string `json:"value"`
	Fee       string `json:"fee"`
	Data      string `json:"data,omitempty"` // base64 call payload
}

// RawTransfer is one native or token movement from the explorer's transfer
// list. An empty Identifier means the native currency.
type RawTransfer struct {
	TxHash     string `json:"txHash"`
	Sender     string `json:"sender"`
	Receiver   string `json:"receiver"`
	Identifier string `json:"identifier,omitempty"`
	Value      string `json:"value"`
	Data       string `json:"data,omitempty"`
}

// IsNative reports whether the transfer moves the native currency.
func (t RawTransfer) IsNative() bool {
	return t.Identifier == "" || t.Identifier == NativeCurrency
}

// SmartContractResult is an effect produced by a transaction's contract call.
// Data is the base64 call descriptor, when present.
type SmartContractResult struct {
	Hash     string `json:"hash"`
	Sender   string `json:"sender"`
	Receiver string `json:"receiver"`
	Value    string `json:"value"`
	Data     string `json:"data,omitempty"`
}

// Operation is a typed movement record attached to a transaction detail.
type Operation struct {
	Action     string `json:"action"`
	Type       string `json:"type"`     // "egld", "esdt", "nft"
	ESDTType   string `json:"esdtType"` // "FungibleESDT", "MetaESDT", ...
	Sender     string `json:"sender"`
	Receiver   string `json:"receiver"`
	Value      string `json:"value"`
	Identifier string `json:"identifier"`
}

// LogEvent is one execution log event. Topics are base64 encoded.
type LogEvent struct {
	Identifier string   `json:"identifier"`
	Address    string   `json:"address"`
	Topics     []string `json:"topics"`
}

// TransactionDetail is the lazily fetched execution outcome of a transaction.
type TransactionDetail struct {
	Hash       string                `json:"hash"`
	Results    []SmartContractResult `json:"results,omitempty"`
	Operations []Operation           `json:"operations,omitempty"`
	Events     []LogEvent            `json:"events,omitempty"`
}

// Account is the subset of account metadata used to probe existence.
type Account struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
	Nonce   uint64 `json:"nonce"`
}
