package ledger

import (
	"strconv"
	"strings"
)

// FormatUnits renders a base-unit quantity as a decimal amount with the given
// number of decimals, without loss of precision. Trailing fractional zeros
// are dropped: FormatUnits(1500000000, 9) == "1.5".
func FormatUnits(quantity uint64, decimals uint8) string {
	digits := strconv.FormatUint(quantity, 10)
	if decimals == 0 {
		return digits
	}

	d := int(decimals)
	if len(digits) <= d {
		digits = strings.Repeat("0", d-len(digits)+1) + digits
	}

	whole := digits[:len(digits)-d]
	frac := strings.TrimRight(digits[len(digits)-d:], "0")
	if frac == "" {
		return whole
	}
	return whole + "." + frac
}
