package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
)

func dec(raw string) decimal.Decimal {
	return decimal.RequireFromString(raw)
}

func TestLineTotalIncludesAddOns(t *testing.T) {
	got := LineTotal(dec("10.00"), []decimal.Decimal{dec("1.00")}, 2)
	if !got.Equal(dec("22.00")) {
		t.Fatalf("expected 22.00, got %s", got)
	}

	got = LineTotal(dec("7.50"), nil, 3)
	if !got.Equal(dec("22.50")) {
		t.Fatalf("expected 22.50, got %s", got)
	}
}

func TestLineTaxRoundsPerTaxLine(t *testing.T) {
	// 8.25 at 5% is 0.4125, rounded to 0.41.
	got := LineTax(dec("8.25"), []decimal.Decimal{dec("5")})
	if !got.Equal(dec("0.41")) {
		t.Fatalf("expected 0.41, got %s", got)
	}

	// Two taxes round independently before summing.
	got = LineTax(dec("12.00"), []decimal.Decimal{dec("5"), dec("10")})
	if !got.Equal(dec("1.80")) {
		t.Fatalf("expected 1.80, got %s", got)
	}
}

func TestComputeSkipsSavedLines(t *testing.T) {
	totals := Compute([]Line{
		{UnitPrice: dec("10.00"), AddOnPrices: []decimal.Decimal{dec("1.00")}, TaxPercentages: []decimal.Decimal{dec("5")}, Quantity: 2},
		{UnitPrice: dec("99.00"), Quantity: 5, SavedForLater: true},
	})
	if !totals.BeforeTax.Equal(dec("22.00")) {
		t.Fatalf("expected before-tax 22.00, got %s", totals.BeforeTax)
	}
	if !totals.Tax.Equal(dec("1.10")) {
		t.Fatalf("expected tax 1.10, got %s", totals.Tax)
	}
	if !totals.Total.Equal(dec("23.10")) {
		t.Fatalf("expected total 23.10, got %s", totals.Total)
	}
}

func TestComputeTotalsInvariant(t *testing.T) {
	lines := []Line{
		{UnitPrice: dec("3.33"), TaxPercentages: []decimal.Decimal{dec("7")}, Quantity: 3},
		{UnitPrice: dec("0.99"), TaxPercentages: []decimal.Decimal{dec("5"), dec("10")}, Quantity: 7},
		{UnitPrice: dec("12.49"), Quantity: 1},
	}
	totals := Compute(lines)
	if !totals.Total.Equal(totals.BeforeTax.Add(totals.Tax)) {
		t.Fatalf("total %s != before-tax %s + tax %s", totals.Total, totals.BeforeTax, totals.Tax)
	}
}

func TestComputeEmptyOrder(t *testing.T) {
	totals := Compute(nil)
	if !totals.BeforeTax.IsZero() || !totals.Tax.IsZero() || !totals.Total.IsZero() {
		t.Fatalf("expected zero totals, got %+v", totals)
	}
}

func TestTaxInclusiveSplit(t *testing.T) {
	before, tax := TaxInclusiveSplit(dec("23.10"), dec("5"))
	if !before.Equal(dec("22.00")) || !tax.Equal(dec("1.10")) {
		t.Fatalf("expected 22.00/1.10, got %s/%s", before, tax)
	}

	before, tax = TaxInclusiveSplit(dec("10.00"), decimal.Zero)
	if !before.Equal(dec("10.00")) || !tax.IsZero() {
		t.Fatalf("expected 10.00/0, got %s/%s", before, tax)
	}

	if !before.Add(tax).Equal(dec("10.00")) {
		t.Fatalf("split parts do not recompose the price")
	}
}
