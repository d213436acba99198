package dosage

import "testing"

func TestTotalMLSumsPresentSets(t *testing.T) {
	got := TotalML(
		VialSet{Quantity: "2", Vials: "3"},
		VialSet{Quantity: "4", Vials: "1"},
	)
	if got != 10 {
		t.Errorf("TotalML = %v, want 10", got)
	}
}

func TestTotalMLDefaultsVialCountToOne(t *testing.T) {
	if got := TotalML(VialSet{Quantity: "2.5"}); got != 2.5 {
		t.Errorf("TotalML with absent vials = %v, want 2.5", got)
	}
	if got := TotalML(VialSet{Quantity: "2.5", Vials: "0"}); got != 2.5 {
		t.Errorf("TotalML with zero vials = %v, want 2.5", got)
	}
}

func TestTotalMLSkipsAbsentQuantity(t *testing.T) {
	// The second set has no quantity; its vial count must be ignored
	// entirely rather than contribute vials×0 or vials×1.
	got := TotalML(
		VialSet{Quantity: "2", Vials: "2"},
		VialSet{Vials: "5"},
	)
	if got != 4 {
		t.Errorf("TotalML = %v, want 4", got)
	}
}

func TestTotalMLCoercesGarbageToZero(t *testing.T) {
	if got := TotalML(VialSet{Quantity: "abc", Vials: "2"}); got != 0 {
		t.Errorf("TotalML = %v, want 0", got)
	}
}

func TestTotalMGFlat(t *testing.T) {
	got := TotalMG(10,
		VialSet{Quantity: "2", Vials: "3"},
		VialSet{Quantity: "4", Vials: "1"},
	)
	if got != "100.00 mg" {
		t.Errorf("TotalMG = %q, want \"100.00 mg\"", got)
	}
}

func TestTotalMGEmptyWhenInputsMissing(t *testing.T) {
	if got := TotalMG(0, VialSet{Quantity: "2"}); got != "" {
		t.Errorf("TotalMG without concentration = %q, want empty", got)
	}
	if got := TotalMG(10, VialSet{Vials: "2"}); got != "" {
		t.Errorf("TotalMG without quantity = %q, want empty", got)
	}
	if got := TotalMG(10); got != "" {
		t.Errorf("TotalMG without sets = %q, want empty", got)
	}
}

func TestNinetyDayOverrideDose044(t *testing.T) {
	// Third vial set uses 1.25 regardless of concentration.
	got := TotalMGWithDosageRules(10, "0.44", 90,
		VialSet{Quantity: "1", Vials: "1"},
		VialSet{Quantity: "1", Vials: "1"},
		VialSet{Quantity: "2", Vials: "1"},
	)
	// 1*1*10 + 1*1*10 + 2*1*1.25 = 22.50
	if got != "22.50 mg" {
		t.Errorf("TotalMGWithDosageRules = %q, want \"22.50 mg\"", got)
	}
}

func TestNinetyDayOverrideDose089(t *testing.T) {
	got := TotalMGWithDosageRules(10, "0.89", 90,
		VialSet{Quantity: "2", Vials: "1"},
		VialSet{Quantity: "4", Vials: "1"},
	)
	// 2*1*10 + 4*1*1.25 = 25.00
	if got != "25.00 mg" {
		t.Errorf("TotalMGWithDosageRules = %q, want \"25.00 mg\"", got)
	}
}

func TestNinetyDayOverrideDose15(t *testing.T) {
	got := TotalMGWithDosageRules(10, "1.5", 90,
		VialSet{Quantity: "2", Vials: "3"},
		VialSet{Quantity: "4", Vials: "1"},
	)
	// vial 1 keeps concentration: 2*3*10 = 60; vial 2 uses 2: 4*1*2 = 8.
	if got != "68.00 mg" {
		t.Errorf("TotalMGWithDosageRules = %q, want \"68.00 mg\"", got)
	}
}

func TestNinetyDayOverrideNormalizesDosageKey(t *testing.T) {
	a := TotalMGWithDosageRules(10, "1.5", 90, VialSet{Quantity: "2", Vials: "3"}, VialSet{Quantity: "4", Vials: "1"})
	b := TotalMGWithDosageRules(10, "1.50", 90, VialSet{Quantity: "2", Vials: "3"}, VialSet{Quantity: "4", Vials: "1"})
	if a != b {
		t.Errorf("dosage 1.5 gave %q, 1.50 gave %q", a, b)
	}
}

func TestDosageRulesFallBackOutsideTable(t *testing.T) {
	flat := TotalMG(10, VialSet{Quantity: "2", Vials: "3"}, VialSet{Quantity: "4", Vials: "1"})

	if got := TotalMGWithDosageRules(10, "1.5", 30, VialSet{Quantity: "2", Vials: "3"}, VialSet{Quantity: "4", Vials: "1"}); got != flat {
		t.Errorf("daysSupply=30 should be flat, got %q want %q", got, flat)
	}
	if got := TotalMGWithDosageRules(10, "2.4", 90, VialSet{Quantity: "2", Vials: "3"}, VialSet{Quantity: "4", Vials: "1"}); got != flat {
		t.Errorf("dosage=2.4 should be flat, got %q want %q", got, flat)
	}
}

func TestTotalMGIdempotent(t *testing.T) {
	sets := []VialSet{{Quantity: "2", Vials: "3"}, {Quantity: "4", Vials: "1"}}
	first := TotalMGWithDosageRules(10, "0.44", 90, sets...)
	second := TotalMGWithDosageRules(10, "0.44", 90, sets...)
	if first != second {
		t.Errorf("recompute differed: %q then %q", first, second)
	}
}

func TestVialDisplay(t *testing.T) {
	got := VialDisplay("mL",
		VialSet{Quantity: "2.5", Vials: "2"},
		VialSet{Quantity: "5"},
		VialSet{Vials: "4"},
	)
	if got != "2 x 2.5mL, 1 x 5mL" {
		t.Errorf("VialDisplay = %q", got)
	}
}

func TestVialDisplayDefaultUnits(t *testing.T) {
	if got := VialDisplay("", VialSet{Quantity: "1", Vials: "1"}); got != "1 x 1mL" {
		t.Errorf("VialDisplay = %q", got)
	}
}
