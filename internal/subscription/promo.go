package subscription

// Promo codes are a static allow-list, not stored state. The discount applies
// to the first billing cycle only, enforced provider-side through the mapped
// coupon.
type Promo struct {
	DiscountPct int
	CouponID    string
}

var promoCodes = map[string]Promo{
	"COLLECTIVE10": {DiscountPct: 10, CouponID: "collective-10-once"},
	"FIRSTPRINT20": {DiscountPct: 20, CouponID: "firstprint-20-once"},
	"STUDIO15":     {DiscountPct: 15, CouponID: "studio-15-once"},
}

// LookupPromo resolves a promo code. The empty code is valid and carries no
// discount.
func LookupPromo(code string) (Promo, bool) {
	if code == "" {
		return Promo{}, true
	}
	promo, ok := promoCodes[code]
	return promo, ok
}
