package utils

import (
	"fmt"
	"math/big"
)

// Amounts are int64 sompi, the smallest KAS unit. All settlement math is
// exact integer arithmetic on sompi so payouts never drift on rounding.
const (
	SompiPerKAS int64 = 100_000_000

	// FeeBps is the platform fee on bets and stake payouts, in basis
	// points. Fees always floor.
	FeeBps int64 = 100

	// MinBetSompi is the smallest accepted gross bet.
	MinBetSompi = SompiPerKAS
)

// Fee returns floor(gross × FeeBps/10000).
func Fee(gross int64) int64 {
	return gross * FeeBps / 10_000
}

// ProRata computes amount × total ÷ share with big.Int intermediates so
// the multiplication cannot overflow, flooring the division. With share
// being the sum of all amounts, the floored quotients can never sum past
// total.
func ProRata(amount, total, share int64) int64 {
	if share <= 0 {
		return 0
	}
	n := new(big.Int).Mul(big.NewInt(amount), big.NewInt(total))
	n.Quo(n, big.NewInt(share))
	return n.Int64()
}

// FormatKAS renders a sompi amount as a KAS string, e.g. 1980000000 →
// "19.8 KAS".
func FormatKAS(sompi int64) string {
	whole := sompi / SompiPerKAS
	frac := sompi % SompiPerKAS
	if frac < 0 {
		frac = -frac
	}
	if frac == 0 {
		return fmt.Sprintf("%d KAS", whole)
	}
	s := fmt.Sprintf("%08d", frac)
	for len(s) > 1 && s[len(s)-1] == '0' {
		s = s[:len(s)-1]
	}
	return fmt.Sprintf("%d.%s KAS", whole, s)
}
