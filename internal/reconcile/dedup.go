package reconcile

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/egldtax/internal/domain"
)

type dedupeKey struct {
	txHash      string
	function    string
	inCurrency  string
	outCurrency string
}

func keyOf(r domain.TaxRow) dedupeKey {
	return dedupeKey{
		txHash:      r.TxHash,
		function:    strings.ToLower(r.Function),
		inCurrency:  r.InCurrency,
		outCurrency: r.OutCurrency,
	}
}

// Dedupe collapses rows describing the same movement of a transaction.
// Rows sharing (hash, function, in currency, out currency) merge into the one
// with the larger in amount, then the larger out amount. The merged row
// carries the largest fee of its group and every distinct non-zero amount
// seen for it in ObservedAmounts. Groups keep the order of their first row.
//
// Dedupe is idempotent and, within a group, independent of row order.
func Dedupe(rows []domain.TaxRow) []domain.TaxRow {
	order := make([]dedupeKey, 0, len(rows))
	groups := make(map[dedupeKey][]domain.TaxRow, len(rows))
	for _, r := range rows {
		k := keyOf(r)
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], r)
	}

	out := make([]domain.TaxRow, 0, len(order))
	for _, k := range order {
		out = append(out, merge(groups[k]))
	}
	return out
}

func merge(group []domain.TaxRow) domain.TaxRow {
	best := group[0]
	fee := parseDecimal(best.Fee)
	observed := make(map[string]domain.ObservedAmount)

	for i, r := range group {
		if i > 0 && better(r, best) {
			best = r
		}
		if f := parseDecimal(r.Fee); f.GreaterThan(fee) {
			fee = f
		}
		addObserved(observed, domain.DirectionIn, r.InAmount, r.InCurrency)
		addObserved(observed, domain.DirectionOut, r.OutAmount, r.OutCurrency)
		for _, o := range r.ObservedAmounts {
			addObserved(observed, o.Direction, o.Amount, o.Currency)
		}
	}

	best.Fee = fee.String()
	best.ObservedAmounts = sortedObserved(observed)
	return best
}

// better reports whether a should replace b as the group's representative.
func better(a, b domain.TaxRow) bool {
	if c := parseDecimal(a.InAmount).Cmp(parseDecimal(b.InAmount)); c != 0 {
		return c > 0
	}
	if c := parseDecimal(a.OutAmount).Cmp(parseDecimal(b.OutAmount)); c != 0 {
		return c > 0
	}
	return a.Function < b.Function
}

func addObserved(set map[string]domain.ObservedAmount, dir domain.Direction, amount, currency string) {
	d := parseDecimal(amount)
	if d.IsZero() {
		return
	}
	o := domain.ObservedAmount{Direction: dir, Amount: d.String(), Currency: currency}
	set[string(o.Direction)+"|"+o.Currency+"|"+o.Amount] = o
}

func sortedObserved(set map[string]domain.ObservedAmount) []domain.ObservedAmount {
	out := make([]domain.ObservedAmount, 0, len(set))
	for _, o := range set {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Direction != out[j].Direction {
			return out[i].Direction < out[j].Direction
		}
		if out[i].Currency != out[j].Currency {
			return out[i].Currency < out[j].Currency
		}
		return parseDecimal(out[i].Amount).LessThan(parseDecimal(out[j].Amount))
	})
	return out
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}
