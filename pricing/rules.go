package pricing

import "github.com/shopspring/decimal"

// Rule is one analysis-type pricing entry from the catalog. Rules are
// managed by reference-data CRUD; the engine only reads them.
//
// RushedRate is expected to be >= StandardRate but that is not enforced
// here: the engine prices whatever the catalog says.
type Rule struct {
	Code         string
	Description  string
	StandardRate decimal.Decimal
	RushedRate   decimal.Decimal
	SampleFee    decimal.Decimal // zero when the analysis carries no fee
	Active       bool
}
