package billing

const (
	PlanFree  = "free"
	PlanBasic = "basic"
	PlanPro   = "pro"
)

// PlanMap resolves Stripe price identifiers to plan names.
type PlanMap struct {
	BasicPriceID string
	ProPriceID   string
}

// PlanForPrice derives the plan from a line-item price id. Unknown price ids
// fall back to basic so a misconfigured price never strands a paying customer
// on free.
func (p PlanMap) PlanForPrice(priceID string) string {
	switch priceID {
	case p.ProPriceID:
		return PlanPro
	case p.BasicPriceID:
		return PlanBasic
	default:
		return PlanBasic
	}
}

// PriceForPlan is the inverse lookup, used when creating checkout sessions.
// Free and unknown plans have no price.
func (p PlanMap) PriceForPlan(plan string) string {
	switch plan {
	case PlanPro:
		return p.ProPriceID
	case PlanBasic:
		return p.BasicPriceID
	default:
		return ""
	}
}
