package billing

import "testing"

func TestPlanForPrice(t *testing.T) {
	plans := PlanMap{BasicPriceID: "price_basic", ProPriceID: "price_pro"}

	if got := plans.PlanForPrice("price_pro"); got != PlanPro {
		t.Errorf("plan = %q, want pro", got)
	}
	if got := plans.PlanForPrice("price_basic"); got != PlanBasic {
		t.Errorf("plan = %q, want basic", got)
	}
	// Unknown prices fall back to basic, not free.
	if got := plans.PlanForPrice("price_mystery"); got != PlanBasic {
		t.Errorf("plan = %q, want basic", got)
	}
}

func TestPriceForPlan(t *testing.T) {
	plans := PlanMap{BasicPriceID: "price_basic", ProPriceID: "price_pro"}

	if got := plans.PriceForPlan(PlanPro); got != "price_pro" {
		t.Errorf("price = %q", got)
	}
	if got := plans.PriceForPlan(PlanBasic); got != "price_basic" {
		t.Errorf("price = %q", got)
	}
	if got := plans.PriceForPlan(PlanFree); got != "" {
		t.Errorf("price = %q, want empty for free", got)
	}
	if got := plans.PriceForPlan("enterprise"); got != "" {
		t.Errorf("price = %q, want empty for unknown plan", got)
	}
}
