// Package pricing holds the pure money math for the order engine. All
// amounts are exact decimals rounded to 2 places at line granularity, then
// summed, so receipts and reports never drift by a cent.
package pricing

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Line is one order item as the totals computation sees it.
type Line struct {
	UnitPrice      decimal.Decimal
	AddOnPrices    []decimal.Decimal
	TaxPercentages []decimal.Decimal
	Quantity       int
	SavedForLater  bool
}

// Totals is the derived money cache of an order.
type Totals struct {
	BeforeTax decimal.Decimal
	Tax       decimal.Decimal
	Total     decimal.Decimal
}

// LineTotal is (unitPrice + sum of add-on prices) * quantity, rounded to 2dp.
func LineTotal(unitPrice decimal.Decimal, addOnPrices []decimal.Decimal, quantity int) decimal.Decimal {
	base := unitPrice
	for _, p := range addOnPrices {
		base = base.Add(p)
	}
	return base.Mul(decimal.NewFromInt(int64(quantity))).Round(2)
}

// LineTax sums the per-tax amounts for one line. Each tax line is rounded to
// 2dp before summing.
func LineTax(lineTotal decimal.Decimal, percentages []decimal.Decimal) decimal.Decimal {
	tax := decimal.Zero
	for _, pct := range percentages {
		tax = tax.Add(lineTotal.Mul(pct).Div(hundred).Round(2))
	}
	return tax
}

// Compute derives order totals over the in-checkout lines only. Saved-for-
// later lines never contribute. The result always satisfies
// Total == BeforeTax + Tax.
func Compute(lines []Line) Totals {
	subtotal := decimal.Zero
	taxTotal := decimal.Zero
	for _, line := range lines {
		if line.SavedForLater {
			continue
		}
		lineTotal := LineTotal(line.UnitPrice, line.AddOnPrices, line.Quantity)
		subtotal = subtotal.Add(lineTotal)
		taxTotal = taxTotal.Add(LineTax(lineTotal, line.TaxPercentages))
	}
	return Totals{
		BeforeTax: subtotal.Round(2),
		Tax:       taxTotal.Round(2),
		Total:     subtotal.Add(taxTotal).Round(2),
	}
}

// TaxInclusiveSplit decomposes a tax-inclusive catalog price into its
// before-tax part and the contained tax, given the sum of linked tax
// percentages. Informational only; order totals always compute tax
// additively from the item's own tax links.
func TaxInclusiveSplit(price decimal.Decimal, totalPercentage decimal.Decimal) (beforeTax decimal.Decimal, taxAmount decimal.Decimal) {
	if totalPercentage.Sign() <= 0 {
		return price.Round(2), decimal.Zero.Round(2)
	}
	multiplier := decimal.NewFromInt(1).Add(totalPercentage.Div(hundred))
	beforeTax = price.DivRound(multiplier, 2)
	taxAmount = price.Sub(beforeTax).Round(2)
	return beforeTax, taxAmount
}
