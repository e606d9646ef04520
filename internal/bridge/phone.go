package bridge

import "strings"

// NormalizeAddress converts any gateway address form into the canonical
// "+<digits>" shape. It is idempotent: a canonical input comes back
// unchanged.
//
//	"5511999999999@c.us" -> "+5511999999999"
//	"+5511999999999"     -> "+5511999999999"
//	"5511999999999"      -> "+5511999999999"
func NormalizeAddress(addr string) string {
	if idx := strings.Index(addr, "@"); idx >= 0 {
		addr = addr[:idx]
	}

	var digits strings.Builder
	digits.Grow(len(addr) + 1)
	digits.WriteByte('+')
	for _, r := range addr {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	return digits.String()
}
