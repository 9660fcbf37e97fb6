package reconcile

import (
	"math/big"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/egldtax/internal/codec"
	"github.com/alanyoungcy/egldtax/internal/domain"
)

// Call kinds with special shaping rules.
const (
	callGeneric = iota
	callReward
	callWrap
	callUnwrap
	callSwap
)

// shaper applies call-specific rules to the generic legs of a transaction.
type shaper struct {
	rewardFunctions map[string]struct{}
	rewardTokens    map[string]struct{}
	lpPattern       *regexp.Regexp
	wrappedToken    string
}

// scaleFunc returns the display value of a leg.
type scaleFunc func(leg domain.Leg) decimal.Decimal

func (s *shaper) kind(function string) int {
	fn := strings.ToLower(function)
	switch {
	case fn == "":
		return callGeneric
	case fn == "wrapegld":
		return callWrap
	case fn == "unwrapegld":
		return callUnwrap
	}
	if _, ok := s.rewardFunctions[fn]; ok {
		return callReward
	}
	if strings.Contains(fn, "swap") {
		return callSwap
	}
	return callGeneric
}

func (s *shaper) shape(tx domain.RawTransaction, legs []domain.Leg, scaled scaleFunc) []domain.Leg {
	switch s.kind(tx.Function) {
	case callReward:
		return s.reward(legs)
	case callWrap:
		return s.wrap(tx, legs)
	case callUnwrap:
		return s.unwrap(tx, legs)
	case callSwap:
		return s.swap(legs, scaled)
	}
	return legs
}

func (s *shaper) isLP(token string) bool {
	return s.lpPattern != nil && token != "" && s.lpPattern.MatchString(token)
}

// reward keeps the inbound reward tokens of a claim. Listed reward tokens win
// over the first unlisted one; liquidity-pool tokens never count.
func (s *shaper) reward(legs []domain.Leg) []domain.Leg {
	var listed []domain.Leg
	var firstOther *domain.Leg
	for i := range legs {
		l := legs[i]
		if l.Direction != domain.DirectionIn || s.isLP(l.Token) {
			continue
		}
		if _, ok := s.rewardTokens[codec.CollectionOf(l.Token)]; ok {
			listed = append(listed, l)
			continue
		}
		if firstOther == nil {
			firstOther = &legs[i]
		}
	}
	if len(listed) > 0 {
		return listed
	}
	if firstOther != nil {
		return []domain.Leg{*firstOther}
	}
	return nil
}

// wrap reports the native amount sent and the wrapped amount received.
func (s *shaper) wrap(tx domain.RawTransaction, legs []domain.Leg) []domain.Leg {
	out := codec.ParseAmount(tx.Value)
	if out.Sign() == 0 {
		if l, ok := firstLeg(legs, domain.DirectionOut, ""); ok {
			out = l.Amount
		}
	}
	if out.Sign() == 0 {
		return legs
	}
	in := out
	if l, ok := firstLeg(legs, domain.DirectionIn, s.wrappedToken); ok {
		in = l.Amount
	}
	return []domain.Leg{
		{Direction: domain.DirectionIn, Token: s.wrappedToken, Amount: in},
		{Direction: domain.DirectionOut, Token: "", Amount: out},
	}
}

// unwrap reports the wrapped amount sent and the native amount received.
func (s *shaper) unwrap(tx domain.RawTransaction, legs []domain.Leg) []domain.Leg {
	var out *big.Int
	if l, ok := firstLeg(legs, domain.DirectionOut, s.wrappedToken); ok {
		out = l.Amount
	} else {
		for _, tt := range codec.ParseCallDescriptor(codec.DecodePayload(tx.Data)).Transfers() {
			if tt.Token == s.wrappedToken && tt.Amount.Sign() > 0 {
				out = tt.Amount
				break
			}
		}
	}
	if out == nil {
		return legs
	}
	in := out
	if l, ok := firstLeg(legs, domain.DirectionIn, ""); ok {
		in = l.Amount
	}
	return []domain.Leg{
		{Direction: domain.DirectionIn, Token: "", Amount: in},
		{Direction: domain.DirectionOut, Token: s.wrappedToken, Amount: out},
	}
}

// swap keeps the largest movement on each side. Ties go to the earlier leg.
func (s *shaper) swap(legs []domain.Leg, scaled scaleFunc) []domain.Leg {
	var best [2]*domain.Leg
	var bestVal [2]decimal.Decimal
	for i := range legs {
		side := 0
		if legs[i].Direction == domain.DirectionOut {
			side = 1
		}
		v := scaled(legs[i])
		if best[side] == nil || v.GreaterThan(bestVal[side]) {
			best[side] = &legs[i]
			bestVal[side] = v
		}
	}
	var out []domain.Leg
	for _, l := range best {
		if l != nil {
			out = append(out, *l)
		}
	}
	return out
}

func firstLeg(legs []domain.Leg, dir domain.Direction, token string) (domain.Leg, bool) {
	for _, l := range legs {
		if l.Direction == dir && l.Token == token {
			return l, true
		}
	}
	return domain.Leg{}, false
}
