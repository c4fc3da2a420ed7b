/*
Package pricing computes per-analysis prices for work-order lines.

PURPOSE:
  Pure functions over an analysis price-rule lookup and a caller-supplied
  trailing monthly analysis count. The engine never touches custody or
  work-order state; it only prices.

PRICING RULES:
  basePrice:       rushed ? rule.RushedRate : rule.StandardRate
  volume discount: at monthlyCount >= 50, price is multiplied by 0.95;
                   non-rushed work additionally gets a flat $5 off.
                   ORDER MATTERS: *0.95 first, then -5. Downstream totals
                   depend on that exact order.
  totalPrice:      discountedPrice + rule.SampleFee

PRECISION:
  All arithmetic uses decimal.Decimal. Floating point never touches money.

UNKNOWN CODES:
  An analysis code with no rule is a hard error (NoPriceRuleError). A silent
  rush fallback existed historically for rules missing a rushed rate; it is
  opt-in via FallbackRushMultiplier and disabled by default, because it can
  mask a missing or misspelled catalog entry.
*/
package pricing

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ERRORS
// =============================================================================

// ErrNoPriceRule is returned when an analysis code has no active price rule.
var ErrNoPriceRule = errors.New("no price rule for analysis code")

// NoPriceRuleError names the code that failed to resolve.
type NoPriceRuleError struct {
	Code string
}

func (e *NoPriceRuleError) Error() string {
	return fmt.Sprintf("no price rule for analysis code %q", e.Code)
}

func (e *NoPriceRuleError) Unwrap() error { return ErrNoPriceRule }

// =============================================================================
// RULE SOURCE
// =============================================================================

// RuleSource resolves analysis codes to price rules. Returns (nil, nil) when
// the code is unknown; the engine translates that into NoPriceRuleError.
//
// catalog.Snapshot is the production implementation.
type RuleSource interface {
	RuleByCode(ctx context.Context, code string) (*Rule, error)
}

// =============================================================================
// ENGINE
// =============================================================================

// VolumeThreshold is the trailing monthly analysis count at which the volume
// discount kicks in.
const VolumeThreshold = 50

var (
	discountFactor = decimal.NewFromFloat(0.95) // 5% multiplicative discount
	flatDiscount   = decimal.NewFromInt(5)      // extra $5 off non-rushed volume work
)

// Engine prices analyses. Engines are cheap; construct one per dependency
// graph and share it.
type Engine struct {
	rules RuleSource

	// FallbackRushMultiplier, when positive, prices a rushed analysis as
	// StandardRate * multiplier for rules that carry no rushed rate.
	// Zero (the default) makes a missing rushed rate a zero price from the
	// rule itself - set this only to reproduce legacy behavior.
	FallbackRushMultiplier decimal.Decimal
}

func NewEngine(rules RuleSource) *Engine {
	return &Engine{rules: rules}
}

func (e *Engine) rule(ctx context.Context, code string) (*Rule, error) {
	r, err := e.rules.RuleByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if r == nil || !r.Active {
		return nil, &NoPriceRuleError{Code: code}
	}
	return r, nil
}

// BasePrice returns the undiscounted rate for the analysis.
func (e *Engine) BasePrice(ctx context.Context, code string, rushed bool) (decimal.Decimal, error) {
	r, err := e.rule(ctx, code)
	if err != nil {
		return decimal.Zero, err
	}
	return e.baseRate(r, rushed), nil
}

func (e *Engine) baseRate(r *Rule, rushed bool) decimal.Decimal {
	if !rushed {
		return r.StandardRate
	}
	if r.RushedRate.IsZero() && e.FallbackRushMultiplier.IsPositive() {
		return r.StandardRate.Mul(e.FallbackRushMultiplier)
	}
	return r.RushedRate
}

// DiscountedPrice applies the volume policy to the base price.
func (e *Engine) DiscountedPrice(ctx context.Context, code string, rushed bool, monthlyCount int) (decimal.Decimal, error) {
	r, err := e.rule(ctx, code)
	if err != nil {
		return decimal.Zero, err
	}
	return e.discounted(r, rushed, monthlyCount), nil
}

func (e *Engine) discounted(r *Rule, rushed bool, monthlyCount int) decimal.Decimal {
	price := e.baseRate(r, rushed)
	if monthlyCount >= VolumeThreshold {
		price = price.Mul(discountFactor)
		if !rushed {
			price = price.Sub(flatDiscount)
		}
	}
	return price
}

// TotalPrice is the discounted price plus the rule's sample fee.
func (e *Engine) TotalPrice(ctx context.Context, code string, rushed bool, monthlyCount int) (decimal.Decimal, error) {
	r, err := e.rule(ctx, code)
	if err != nil {
		return decimal.Zero, err
	}
	return e.discounted(r, rushed, monthlyCount).Add(r.SampleFee), nil
}

// Breakdown itemizes the price computation for one analysis.
type Breakdown struct {
	Code       string
	Rushed     bool
	BaseRate   decimal.Decimal
	SampleFee  decimal.Decimal
	Discount   decimal.Decimal // BaseRate - FinalPrice
	FinalPrice decimal.Decimal // discounted price, before sample fee
	Total      decimal.Decimal // FinalPrice + SampleFee
}

// PriceBreakdown computes the full itemization used by work-order lines.
func (e *Engine) PriceBreakdown(ctx context.Context, code string, rushed bool, monthlyCount int) (*Breakdown, error) {
	r, err := e.rule(ctx, code)
	if err != nil {
		return nil, err
	}

	base := e.baseRate(r, rushed)
	final := e.discounted(r, rushed, monthlyCount)
	return &Breakdown{
		Code:       code,
		Rushed:     rushed,
		BaseRate:   base,
		SampleFee:  r.SampleFee,
		Discount:   base.Sub(final),
		FinalPrice: final,
		Total:      final.Add(r.SampleFee),
	}, nil
}
