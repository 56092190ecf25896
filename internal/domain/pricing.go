package domain

// MulDivHalfEven computes amount*numerator/denominator in integer arithmetic,
// rounding half to even. Inputs are expected to be non-negative; a zero or
// negative denominator yields zero.
func MulDivHalfEven(amount, numerator, denominator int64) int64 {
	if denominator <= 0 || amount <= 0 || numerator <= 0 {
		return 0
	}
	product := amount * numerator
	quotient := product / denominator
	remainder := product % denominator

	twice := remainder * 2
	switch {
	case twice > denominator:
		quotient++
	case twice == denominator && quotient%2 != 0:
		quotient++
	}
	return quotient
}

// TaxOn applies a basis-point tax rate to a taxable amount, rounding half to
// even. Tax is always assessed after discounts.
func TaxOn(taxable, rateBasisPoints int64) int64 {
	if taxable <= 0 {
		return 0
	}
	return MulDivHalfEven(taxable, rateBasisPoints, 10_000)
}
