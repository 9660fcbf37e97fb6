package domain

import (
	"math/big"
	"time"
)

// Direction tells whether an asset movement enters or leaves the wallet.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// Leg is a single asset movement discovered for a transaction, before the
// amount is scaled by the token's decimals.
type Leg struct {
	Direction Direction
	Token     string
	Amount    *big.Int
}

// ObservedAmount is one (amount, currency) pair seen for a merged row.
type ObservedAmount struct {
	Direction Direction `json:"direction"`
	Amount    string    `json:"amount"`
	Currency  string    `json:"currency"`
}

// TaxRow is one line of the tax report. Amounts are decimal strings already
// divided by 10^decimals; "0" denotes absence.
type TaxRow struct {
	Timestamp       int64            `json:"timestamp"`
	Function        string           `json:"function"`
	InAmount        string           `json:"inAmount"`
	InCurrency      string           `json:"inCurrency"`
	OutAmount       string           `json:"outAmount"`
	OutCurrency     string           `json:"outCurrency"`
	Fee             string           `json:"fee"`
	TxHash          string           `json:"txHash"`
	ObservedAmounts []ObservedAmount `json:"observedAmounts,omitempty"`
}

// ReportRequest identifies one report run.
type ReportRequest struct {
	Wallet   string
	From     time.Time
	To       time.Time
	ClientID string
}

// Report is the result of one report run.
type Report struct {
	ID                      string           `json:"id,omitempty"`
	Wallet                  string           `json:"walletAddress"`
	From                    time.Time        `json:"fromDate"`
	To                      time.Time        `json:"toDate"`
	AllTransactions         []RawTransaction `json:"allTransactions"`
	TaxRelevantTransactions []TaxRow         `json:"taxRelevantTransactions"`
	Truncated               bool             `json:"truncated,omitempty"`
	Warnings                []string         `json:"warnings,omitempty"`
	GeneratedAt             time.Time        `json:"generatedAt"`
}
