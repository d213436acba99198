package pharmacy

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/vitalpath/rxbridge/internal/catalog"
	"github.com/vitalpath/rxbridge/internal/dosage"
	"github.com/vitalpath/rxbridge/internal/draft"
)

func testCatalog() *catalog.Catalog {
	return &catalog.Catalog{
		Products: []catalog.Product{
			{ID: "tirz-25", ExternalID: "x25", Name: "Tirzepatide 2.5 ML", Family: catalog.FamilyTirzepatide, Concentration: 10, Form: "vial"},
			{ID: "nad-10", ExternalID: "x-nad", Name: "NAD+ 1000mg/10mL", Family: catalog.FamilyNAD, Route: catalog.RouteSQ, Concentration: 100, Form: "vial"},
		},
		Dosages:         map[catalog.DrugFamily][]string{catalog.FamilyTirzepatide: {"2.5", "5"}},
		NADDosages:      map[catalog.Route][]string{catalog.RouteSQ: {"0.1"}},
		Shipping:        []catalog.ShippingService{{ID: "s1", Label: "FedEx Standard Overnight"}},
		Quantities:      []string{"1", "2.5", "5"},
		SupplyDays:      []int{30, 60, 90},
		ForbiddenStates: []string{"AL"},
	}
}

func validDraft(p draft.Pharmacy) *draft.Draft {
	return &draft.Draft{
		Pharmacy:        p,
		ProductID:       "tirz-25",
		ProductName:     "Tirzepatide 2.5 ML",
		DrugForm:        "vial",
		RxType:          draft.RxTypeNew,
		Strength:        "2.5",
		VialSets:        [dosage.MaxVialSets]dosage.VialSet{{Quantity: "2.5", Vials: "1"}},
		ShippingService: "s1",
		Refills:         "0",
		DaysSupply:      30,
		Directions:      "Inject weekly",
		DateWritten:     time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		OrderType:       draft.OrderTypeDropship,
		Patient:         draft.Patient{ID: "pt-1", FirstName: "Ada", LastName: "Park", ShippingState: "TX", Phone: "+15550001111"},
		Prescriber:      draft.Prescriber{ID: "doc-9", NPI: "1234567890"},
	}
}

func TestRegistryCoversEveryPharmacy(t *testing.T) {
	r, err := NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	for _, p := range draft.All() {
		a, err := r.For(p)
		if err != nil {
			t.Errorf("For(%s): %v", p, err)
			continue
		}
		if a.Name() != p {
			t.Errorf("adapter for %s reports name %s", p, a.Name())
		}
		caps := a.Capabilities()
		if caps.EndpointPath == "" {
			t.Errorf("%s has no endpoint path", p)
		}
		if caps.VialSets < 1 || caps.VialSets > dosage.MaxVialSets {
			t.Errorf("%s vial sets = %d", p, caps.VialSets)
		}
	}
	if _, err := r.For(draft.Pharmacy("unknown")); err == nil {
		t.Error("unknown pharmacy did not error")
	}
}

func TestRefillRequiresRxNumber(t *testing.T) {
	r, _ := NewRegistry()
	cat := testCatalog()

	for _, p := range draft.All() {
		a, _ := r.For(p)
		d := validDraft(p)
		adjustForPharmacy(d)
		d.RxType = draft.RxTypeRefill
		d.RxNumber = ""

		if !hasFieldError(a.Validate(d, cat), "rxNumber") {
			t.Errorf("%s: refill without rx number passed validation", p)
		}

		d.RxNumber = "12345"
		if hasFieldError(a.Validate(d, cat), "rxNumber") {
			t.Errorf("%s: refill with rx number flagged", p)
		}
	}
}

// adjustForPharmacy patches the generic valid draft for variants with
// extra conditional requirements.
func adjustForPharmacy(d *draft.Draft) {
	if d.Pharmacy == draft.Valiant {
		d.Prescriber.Group = "longevity"
	}
}

func hasFieldError(errs []*FieldError, field string) bool {
	for _, e := range errs {
		if e.Field == field {
			return true
		}
	}
	return false
}

func TestValidDraftPassesEveryAdapter(t *testing.T) {
	r, _ := NewRegistry()
	cat := testCatalog()

	for _, p := range draft.All() {
		a, _ := r.For(p)
		d := validDraft(p)
		adjustForPharmacy(d)
		if errs := a.Validate(d, cat); len(errs) != 0 {
			t.Errorf("%s: valid draft rejected: %v", p, errs[0])
		}
	}
}

func TestCre8ExtraVialSetNeedsSize(t *testing.T) {
	a := newCre8()
	cat := testCatalog()
	d := validDraft(draft.Cre8)
	d.VialSets[1] = dosage.VialSet{Vials: "2"}

	if !hasFieldError(a.Validate(d, cat), "quantity2") {
		t.Error("vial count without size passed validation")
	}
}

func TestCre8PayloadCarriesTotals(t *testing.T) {
	a := newCre8()
	d := validDraft(draft.Cre8)
	d.VialSets = [dosage.MaxVialSets]dosage.VialSet{
		{Quantity: "2", Vials: "3"},
		{Quantity: "4", Vials: "1"},
	}
	d.TotalMG = "100.00 mg"
	d.TotalML = 10

	body := a.BuildPayload(d)
	if body["totalMg"] != "100.00 mg" {
		t.Errorf("totalMg = %v", body["totalMg"])
	}
	vials, ok := body["vials"].([]map[string]string)
	if !ok || len(vials) != 2 {
		t.Fatalf("vials payload = %#v", body["vials"])
	}
	if vials[1]["size"] != "4" || vials[1]["count"] != "1" {
		t.Errorf("vials[1] = %v", vials[1])
	}
}

func TestPremierRxRejectsThirdVialSet(t *testing.T) {
	a := newPremierRx()
	d := validDraft(draft.PremierRx)
	d.VialSets[2] = dosage.VialSet{Quantity: "1", Vials: "1"}

	if !hasFieldError(a.Validate(d, testCatalog()), "quantity3") {
		t.Error("third vial set passed premier rx validation")
	}
}

func TestScriptRxQuantityFromDrugName(t *testing.T) {
	cat := testCatalog()

	if got := QuantityFromDrugName("Tirzepatide 2.5 ML", cat); got != "2.5" {
		t.Errorf("QuantityFromDrugName = %q, want 2.5", got)
	}
	if got := QuantityFromDrugName("Tirzepatide 7.5 ML", cat); got != "" {
		t.Errorf("uncatalogued volume auto-selected: %q", got)
	}
	if got := QuantityFromDrugName("Semaglutide vial", cat); got != "" {
		t.Errorf("name without ML suffix auto-selected: %q", got)
	}
}

func TestScriptRxCoerceSupplyDays(t *testing.T) {
	cat := testCatalog()

	if got := CoerceSupplyDays(60, cat); got != 60 {
		t.Errorf("catalogued value changed to %d", got)
	}
	if got := CoerceSupplyDays(45, cat); got != 30 {
		t.Errorf("uncatalogued value snapped to %d, want first option 30", got)
	}
}

func TestScriptRxEngineAppliesQuantityAndSupplyHooks(t *testing.T) {
	cat := testCatalog()
	cfg := newScriptRx().EngineConfig(cat)
	cfg.SettleDelay = time.Millisecond
	eng := draft.NewEngine(cfg, nil, nil)
	t.Cleanup(eng.Close)
	ctx := context.Background()

	eng.SetProduct(ctx, "tirz-25")
	snap := eng.Snapshot()
	if got := snap.PrimaryQuantity(); got != "2.5" {
		t.Errorf("quantity = %q, want 2.5 parsed from drug name", got)
	}

	eng.SetDaysSupply(ctx, 45)
	if got := eng.Snapshot().DaysSupply; got != 30 {
		t.Errorf("days supply = %d, want snap to 30", got)
	}
	eng.SetDaysSupply(ctx, 60)
	if got := eng.Snapshot().DaysSupply; got != 60 {
		t.Errorf("days supply = %d, want catalogued value kept", got)
	}
}

func TestScriptRxPayloadStripsBullets(t *testing.T) {
	a := newScriptRx()
	d := validDraft(draft.ScriptRx)
	d.Directions = "• Inject weekly\n• Rotate sites"

	body := a.BuildPayload(d)
	if body["directions"] != "Inject weekly\nRotate sites" {
		t.Errorf("directions = %q", body["directions"])
	}
}

func TestFirstChoiceDefaults(t *testing.T) {
	a := newFirstChoice()
	cfg := a.EngineConfig(testCatalog())

	if cfg.DefaultDaysSupply != 90 {
		t.Errorf("DefaultDaysSupply = %d, want 90", cfg.DefaultDaysSupply)
	}
	if !strings.Contains(cfg.DefaultShippingLabel, "fedex standard overnight") {
		t.Errorf("DefaultShippingLabel = %q", cfg.DefaultShippingLabel)
	}
	if got := DaysSupplyOrDefault(0); got != 90 {
		t.Errorf("DaysSupplyOrDefault(0) = %d", got)
	}
	if got := DaysSupplyOrDefault(30); got != 30 {
		t.Errorf("DaysSupplyOrDefault(30) = %d", got)
	}
}

func TestFirstChoiceAcceptsCustomDaysSupply(t *testing.T) {
	a := newFirstChoice()
	d := validDraft(draft.FirstChoice)
	d.DaysSupply = 45 // not in the preset list

	if hasFieldError(a.Validate(d, testCatalog()), "daysSupply") {
		t.Error("custom days supply rejected")
	}
}

func TestAxtellRejectsCustomDaysSupply(t *testing.T) {
	a := newAxtell()
	d := validDraft(draft.Axtell)
	d.DaysSupply = 45

	if !hasFieldError(a.Validate(d, testCatalog()), "daysSupply") {
		t.Error("uncatalogued days supply accepted")
	}
}

func TestBoothwynOrderType(t *testing.T) {
	a := newBoothwyn()
	cat := testCatalog()
	d := validDraft(draft.Boothwyn)

	d.OrderType = ""
	if !hasFieldError(a.Validate(d, cat), "orderType") {
		t.Error("missing order type passed validation")
	}
	d.OrderType = draft.OrderType("Pickup")
	if !hasFieldError(a.Validate(d, cat), "orderType") {
		t.Error("bogus order type passed validation")
	}

	if !a.Capabilities().Document.OmitRefills {
		t.Error("boothwyn document must omit the refills line")
	}
}

func TestValiantNADConditionalFields(t *testing.T) {
	a := newValiant()
	cat := testCatalog()
	d := validDraft(draft.Valiant)
	d.ProductID = "nad-10"
	d.ProductName = "NAD+ 1000mg/10mL"
	d.Route = ""
	d.StartingDose = ""

	errs := a.Validate(d, cat)
	if !hasFieldError(errs, "route") || !hasFieldError(errs, "startingDose") {
		t.Error("NAD product without route/starting dose passed validation")
	}

	// Non-NAD products carry no route requirement.
	d = validDraft(draft.Valiant)
	if errs := a.Validate(d, cat); hasFieldError(errs, "route") || hasFieldError(errs, "startingDose") {
		t.Error("route/starting dose demanded for non-NAD product")
	}
}

func TestValiantLongevityMatch(t *testing.T) {
	prior := &draft.PriorInstructions{
		ProductName: "NAD+ 1000mg/10mL",
		Route:       "SQ",
		Dosage:      "0.1",
		Directions:  "Inject 0.1 mL subcutaneously daily",
	}
	order := &draft.Order{IsLongevity: true, Prior: prior}

	if got, ok := DirectionsFromOrder(order, "NAD+ 1000mg/10mL", "sq", "0.1"); !ok || got != prior.Directions {
		t.Errorf("exact match did not reuse directions: %q %v", got, ok)
	}
	if _, ok := DirectionsFromOrder(order, "NAD+ 1000mg/10mL", "IM", "0.1"); ok {
		t.Error("route change still reused stored directions")
	}
	if _, ok := DirectionsFromOrder(order, "NAD+ 1000mg/10mL", "SQ", "0.2"); ok {
		t.Error("dosage change still reused stored directions")
	}
	if _, ok := DirectionsFromOrder(nil, "NAD+ 1000mg/10mL", "SQ", "0.1"); ok {
		t.Error("nil order reused directions")
	}
}

func TestBeakerTransmissionIDIsPrescriberID(t *testing.T) {
	a := newBeaker()
	d := validDraft(draft.Beaker)

	body := a.BuildPayload(d)
	if body["transmissionId"] != "doc-9" {
		t.Errorf("transmissionId = %v, want prescriber id", body["transmissionId"])
	}

	d.Prescriber.ID = ""
	if !hasFieldError(a.Validate(d, testCatalog()), "prescriberId") {
		t.Error("missing prescriber id passed validation")
	}
}

func TestOptiroxPrescriptionID(t *testing.T) {
	id := NewOptiroxPrescriptionID()
	parts := strings.Split(id, "-")
	if len(parts) != 2 || len(parts[0]) != 8 {
		t.Errorf("prescription id = %q, want <random8>-<timestamp>", id)
	}

	a := newOptirox()
	d := validDraft(draft.Optirox)
	d.PrescriptionID = "fixed-1"
	if body := a.BuildPayload(d); body["prescriptionId"] != "fixed-1" {
		t.Errorf("existing prescription id replaced: %v", body["prescriptionId"])
	}
}

func TestPayloadOmitsRxNumberForNewRx(t *testing.T) {
	a := newAxtell()
	d := validDraft(draft.Axtell)
	d.RxType = draft.RxTypeNew
	d.RxNumber = "should-not-appear"

	if _, present := a.BuildPayload(d)["rxNumber"]; present {
		t.Error("rxNumber present on a NEW prescription payload")
	}
}
