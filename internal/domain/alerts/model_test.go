package alerts

import "testing"

func TestCategoryForType(t *testing.T) {
	medical := []string{"prescription", "appointment", "lab-result", "anamnesis"}
	for _, typ := range medical {
		if got := CategoryForType(typ); got != CategoryMedical {
			t.Errorf("%s: expected medical, got %s", typ, got)
		}
	}
	payment := []string{"payment", "invoice", "refund"}
	for _, typ := range payment {
		if got := CategoryForType(typ); got != CategoryPayment {
			t.Errorf("%s: expected payment, got %s", typ, got)
		}
	}
	for _, typ := range []string{"", "survey", "message", "something-new"} {
		if got := CategoryForType(typ); got != CategoryAdministrative {
			t.Errorf("%q: expected administrative, got %s", typ, got)
		}
	}
}

func TestCategory_Valid(t *testing.T) {
	for _, c := range Categories() {
		if !c.Valid() {
			t.Errorf("expected %s valid", c)
		}
	}
	if Category("urgent").Valid() {
		t.Error("urgent must not be a valid category")
	}
}

func TestGroupAlerts_FixedOrderAndStability(t *testing.T) {
	items := []*Alert{
		{Type: "invoice", Category: CategoryPayment, Title: "newer"},
		{Type: "survey", Category: CategoryAdministrative, Title: "note"},
		{Type: "invoice", Category: CategoryPayment, Title: "older"},
	}
	groups := GroupAlerts(items)

	want := Categories()
	if len(groups) != len(want) {
		t.Fatalf("expected %d groups, got %d", len(want), len(groups))
	}
	for i, g := range groups {
		if g.Category != want[i] {
			t.Errorf("group %d: expected %s, got %s", i, want[i], g.Category)
		}
	}
	if len(groups[0].Alerts) != 0 {
		t.Error("medical group must be empty")
	}
	pay := groups[2].Alerts
	if len(pay) != 2 || pay[0].Title != "newer" || pay[1].Title != "older" {
		t.Errorf("payment group must preserve input order, got %+v", pay)
	}
}
