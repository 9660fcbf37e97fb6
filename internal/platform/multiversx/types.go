package multiversx

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/alanyoungcy/egldtax/internal/domain"
)

// flexString unmarshals from a JSON string or number. The explorer sends
// some amounts and nonces as either.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// --------------------------------------------------------------------------
// Explorer API DTOs
// --------------------------------------------------------------------------

// APIAccount is the response of GET /accounts/{address}.
type APIAccount struct {
	Address string     `json:"address"`
	Balance flexString `json:"balance"`
	Nonce   uint64     `json:"nonce"`
}

// APIActionTransfer is one token listed under action.arguments.transfers.
type APIActionTransfer struct {
	Type       string     `json:"type"`
	Ticker     string     `json:"ticker"`
	Collection string     `json:"collection"`
	Identifier string     `json:"identifier"`
	Token      string     `json:"token"`
	Value      flexString `json:"value"`
	Decimals   *int       `json:"decimals,omitempty"`
}

// APIAction is the explorer's interpretation of a call.
type APIAction struct {
	Category  string `json:"category"`
	Name      string `json:"name"`
	Arguments struct {
		Transfers []APIActionTransfer `json:"transfers"`
		Receiver  string              `json:"receiver"`
	} `json:"arguments"`
}

// APITransaction is one item of the account transaction and transfer lists.
// Transfer-list items of type SmartContractResult carry the hash of the
// transaction that caused them in OriginalTxHash.
type APITransaction struct {
	TxHash         string     `json:"txHash"`
	OriginalTxHash string     `json:"originalTxHash"`
	Type           string     `json:"type"`
	Timestamp      int64      `json:"timestamp"`
	Sender         string     `json:"sender"`
	Receiver       string     `json:"receiver"`
	Value          flexString `json:"value"`
	Fee            flexString `json:"fee"`
	Data           string     `json:"data"`
	Function       string     `json:"function"`
	Status         string     `json:"status"`
	Action         *APIAction `json:"action,omitempty"`
}

// APIResult is one smart contract result of a transaction detail.
type APIResult struct {
	Hash     string     `json:"hash"`
	Sender   string     `json:"sender"`
	Receiver string     `json:"receiver"`
	Value    flexString `json:"value"`
	Data     string     `json:"data"`
}

// APIOperation is one typed operation of a transaction detail.
type APIOperation struct {
	ID         string     `json:"id"`
	Action     string     `json:"action"`
	Type       string     `json:"type"`
	ESDTType   string     `json:"esdtType"`
	Identifier string     `json:"identifier"`
	Sender     string     `json:"sender"`
	Receiver   string     `json:"receiver"`
	Value      flexString `json:"value"`
}

// APIEvent is one log event.
type APIEvent struct {
	Address    string   `json:"address"`
	Identifier string   `json:"identifier"`
	Topics     []string `json:"topics"`
	Data       string   `json:"data"`
}

// APITransactionDetail is the response of GET /transactions/{hash}.
type APITransactionDetail struct {
	TxHash     string         `json:"txHash"`
	Results    []APIResult    `json:"results"`
	Operations []APIOperation `json:"operations"`
	Logs       *struct {
		Address string     `json:"address"`
		Events  []APIEvent `json:"events"`
	} `json:"logs,omitempty"`
}

// APIToken is the response of GET /tokens/{identifier}.
type APIToken struct {
	Identifier string `json:"identifier"`
	Decimals   *int   `json:"decimals,omitempty"`
}

// --------------------------------------------------------------------------
// Conversions
// --------------------------------------------------------------------------

// ToDomainAccount converts the API account.
func (a APIAccount) ToDomainAccount() domain.Account {
	return domain.Account{
		Address: a.Address,
		Balance: string(a.Balance),
		Nonce:   a.Nonce,
	}
}

// ToDomainTransaction converts a transaction list item. The function name is
// lower-cased and the value defaults to "0".
func (t APITransaction) ToDomainTransaction() domain.RawTransaction {
	return domain.RawTransaction{
		Hash:      t.TxHash,
		Timestamp: t.Timestamp,
		Sender:    t.Sender,
		Receiver:  t.Receiver,
		Function:  strings.ToLower(t.Function),
		Value:     amountOrZero(t.Value),
		Fee:       amountOrZero(t.Fee),
		Data:      t.Data,
	}
}

// ToDomainTransfers flattens a transfer list item into one RawTransfer per
// token moved. Smart contract results are attributed to the transaction that
// caused them.
func (t APITransaction) ToDomainTransfers() []domain.RawTransfer {
	hash := t.TxHash
	if strings.EqualFold(t.Type, "SmartContractResult") && t.OriginalTxHash != "" {
		hash = t.OriginalTxHash
	}

	if t.Action != nil && len(t.Action.Arguments.Transfers) > 0 {
		receiver := t.Receiver
		if t.Action.Arguments.Receiver != "" {
			receiver = t.Action.Arguments.Receiver
		}
		out := make([]domain.RawTransfer, 0, len(t.Action.Arguments.Transfers))
		for _, at := range t.Action.Arguments.Transfers {
			out = append(out, domain.RawTransfer{
				TxHash:     hash,
				Sender:     t.Sender,
				Receiver:   receiver,
				Identifier: normalizeIdentifier(at.identifier()),
				Value:      amountOrZero(at.Value),
			})
		}
		return out
	}

	return []domain.RawTransfer{{
		TxHash:   hash,
		Sender:   t.Sender,
		Receiver: t.Receiver,
		Value:    amountOrZero(t.Value),
		Data:     t.Data,
	}}
}

func (at APIActionTransfer) identifier() string {
	switch {
	case at.Identifier != "":
		return at.Identifier
	case at.Token != "":
		return at.Token
	case at.Collection != "":
		return at.Collection
	}
	return at.Ticker
}

// ToDomainDetail converts a transaction detail.
func (d APITransactionDetail) ToDomainDetail() domain.TransactionDetail {
	out := domain.TransactionDetail{Hash: d.TxHash}
	for _, r := range d.Results {
		out.Results = append(out.Results, domain.SmartContractResult{
			Hash:     r.Hash,
			Sender:   r.Sender,
			Receiver: r.Receiver,
			Value:    amountOrZero(r.Value),
			Data:     r.Data,
		})
	}
	for _, op := range d.Operations {
		out.Operations = append(out.Operations, domain.Operation{
			Action:     op.Action,
			Type:       op.Type,
			ESDTType:   op.ESDTType,
			Sender:     op.Sender,
			Receiver:   op.Receiver,
			Value:      amountOrZero(op.Value),
			Identifier: normalizeIdentifier(op.Identifier),
		})
	}
	if d.Logs != nil {
		for _, ev := range d.Logs.Events {
			out.Events = append(out.Events, domain.LogEvent{
				Identifier: ev.Identifier,
				Address:    ev.Address,
				Topics:     ev.Topics,
			})
		}
	}
	return out
}

// normalizeIdentifier maps the explorer's spellings of the native currency
// to the empty identifier.
func normalizeIdentifier(id string) string {
	switch strings.ToUpper(id) {
	case "", domain.NativeCurrency, "EGLD-000000":
		return ""
	}
	return id
}

func amountOrZero(v flexString) string {
	s := strings.TrimSpace(string(v))
	if s == "" {
		return "0"
	}
	if _, err := strconv.ParseFloat(s, 64); err != nil {
		return "0"
	}
	return s
}
