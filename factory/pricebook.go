/*
Package factory provides JSON price-book parsing and import.

PURPOSE:
  Converts JSON price-book definitions into pricing.Rule values. This
  enables rate changes without code changes - office staff export the
  current book from the billing system, and the factory loads it into
  whichever store the engine runs against.

WHY JSON?
  - Non-developers can review rate changes
  - Version control for the price book
  - The billing system already exports this shape

JSON SCHEMA:
  [
    {
      "code": "GC-EXT",
      "description": "Extended gas chromatography",
      "standard_rate": "150.00",
      "rushed_rate": "225.00",
      "sample_fee": "25.00",
      "active": true
    }
  ]

  Rates are strings on the wire so they survive the trip without binary
  floating point rounding.

USAGE:
  importer := factory.NewImporter(store, snapshot)
  n, err := importer.ImportJSON(ctx, data)

SEE ALSO:
  - pricing/rules.go: Rule type definition
  - catalog/snapshot.go: In-memory rule cache refreshed after import
*/
package factory

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/labworks/custody-engine/custody"
	"github.com/labworks/custody-engine/pricing"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// RuleJSON is the wire representation of one price rule.
type RuleJSON struct {
	Code         string `json:"code"`
	Description  string `json:"description,omitempty"`
	StandardRate string `json:"standard_rate"`
	RushedRate   string `json:"rushed_rate"`
	SampleFee    string `json:"sample_fee,omitempty"`
	Active       *bool  `json:"active,omitempty"` // default true
}

// ParseRules converts a JSON price book into pricing rules.
// Every rule is validated; a single bad entry fails the whole book so a
// partial import never goes live.
func ParseRules(data []byte) ([]pricing.Rule, error) {
	var raw []RuleJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid price book JSON: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("price book is empty")
	}

	seen := make(map[string]bool, len(raw))
	rules := make([]pricing.Rule, 0, len(raw))
	for i, rj := range raw {
		rule, err := rj.toRule()
		if err != nil {
			return nil, fmt.Errorf("price book entry %d: %w", i, err)
		}
		if seen[rule.Code] {
			return nil, fmt.Errorf("price book entry %d: duplicate code %q", i, rule.Code)
		}
		seen[rule.Code] = true
		rules = append(rules, *rule)
	}
	return rules, nil
}

func (rj RuleJSON) toRule() (*pricing.Rule, error) {
	if rj.Code == "" {
		return nil, fmt.Errorf("missing code")
	}
	standard, err := decimal.NewFromString(rj.StandardRate)
	if err != nil {
		return nil, fmt.Errorf("code %q: bad standard_rate %q: %w", rj.Code, rj.StandardRate, err)
	}
	rushed, err := decimal.NewFromString(rj.RushedRate)
	if err != nil {
		return nil, fmt.Errorf("code %q: bad rushed_rate %q: %w", rj.Code, rj.RushedRate, err)
	}
	fee := decimal.Zero
	if rj.SampleFee != "" {
		if fee, err = decimal.NewFromString(rj.SampleFee); err != nil {
			return nil, fmt.Errorf("code %q: bad sample_fee %q: %w", rj.Code, rj.SampleFee, err)
		}
	}
	if standard.IsNegative() || rushed.IsNegative() || fee.IsNegative() {
		return nil, fmt.Errorf("code %q: negative rate", rj.Code)
	}

	active := true
	if rj.Active != nil {
		active = *rj.Active
	}
	return &pricing.Rule{
		Code:         rj.Code,
		Description:  rj.Description,
		StandardRate: standard,
		RushedRate:   rushed,
		SampleFee:    fee,
		Active:       active,
	}, nil
}

// =============================================================================
// IMPORTER
// =============================================================================

// RuleWriter persists an imported book. Implemented by store/memory,
// store/sqlite and store/remote.
type RuleWriter interface {
	SavePriceRules(ctx context.Context, rules []pricing.Rule) error
}

// RuleCache receives the imported book without waiting for the next
// catalog refresh. Implemented by catalog.Snapshot.
type RuleCache interface {
	PutRules(rules []pricing.Rule)
}

// Importer parses, persists and publishes a price book in one step.
type Importer struct {
	writer RuleWriter
	cache  RuleCache
}

// NewImporter builds an Importer. cache may be nil when no snapshot is
// wired (tests against a bare store).
func NewImporter(writer RuleWriter, cache RuleCache) *Importer {
	return &Importer{writer: writer, cache: cache}
}

// ImportJSON loads a JSON price book. On success the new rules are both
// persisted and visible to the pricing engine; returns the rule count.
func (im *Importer) ImportJSON(ctx context.Context, data []byte) (int, error) {
	rules, err := ParseRules(data)
	if err != nil {
		return 0, err
	}
	if err := im.writer.SavePriceRules(ctx, rules); err != nil {
		return 0, &custody.PersistenceError{Op: "save price book", Err: err}
	}
	if im.cache != nil {
		im.cache.PutRules(rules)
	}
	return len(rules), nil
}
