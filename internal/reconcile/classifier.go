// Package reconcile turns an account's raw transactions into tax rows by
// cross-referencing the transfer list with per-transaction execution detail.
package reconcile

import (
	"math/big"
	"strings"

	"github.com/alanyoungcy/egldtax/internal/codec"
	"github.com/alanyoungcy/egldtax/internal/domain"
)

// TransferIndex groups raw transfers by the hash of the transaction that
// caused them, preserving list order.
type TransferIndex map[string][]domain.RawTransfer

// IndexTransfers builds a TransferIndex.
func IndexTransfers(transfers []domain.RawTransfer) TransferIndex {
	idx := make(TransferIndex, len(transfers))
	for _, t := range transfers {
		if t.TxHash == "" {
			continue
		}
		idx[t.TxHash] = append(idx[t.TxHash], t)
	}
	return idx
}

// Classifier decides which transactions may have moved an asset. It
// over-selects on purpose and leaves precision to the Engine.
type Classifier struct {
	watched map[string]struct{}
}

// NewClassifier creates a Classifier for the given watched call names.
func NewClassifier(watchedFunctions []string) *Classifier {
	watched := make(map[string]struct{}, len(watchedFunctions))
	for _, fn := range watchedFunctions {
		fn = strings.ToLower(strings.TrimSpace(fn))
		if fn != "" {
			watched[fn] = struct{}{}
		}
	}
	return &Classifier{watched: watched}
}

// IsRelevant reports whether tx is tax relevant.
func (c *Classifier) IsRelevant(tx domain.RawTransaction, transfers TransferIndex) bool {
	if _, ok := c.watched[strings.ToLower(tx.Function)]; ok && tx.Function != "" {
		return true
	}
	if isNonZero(tx.Value) {
		return true
	}
	if len(transfers[tx.Hash]) > 0 {
		return true
	}
	return codec.HasESDTTransferPrefix(tx.Data)
}

// Filter returns the relevant transactions in input order.
func (c *Classifier) Filter(txs []domain.RawTransaction, transfers TransferIndex) []domain.RawTransaction {
	out := make([]domain.RawTransaction, 0, len(txs))
	for _, tx := range txs {
		if c.IsRelevant(tx, transfers) {
			out = append(out, tx)
		}
	}
	return out
}

func isNonZero(amount string) bool {
	n, ok := new(big.Int).SetString(strings.TrimSpace(amount), 10)
	return ok && n.Sign() > 0
}
