package draft

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vitalpath/rxbridge/internal/catalog"
	"github.com/vitalpath/rxbridge/internal/notes"
)

func testCatalog() *catalog.Catalog {
	return &catalog.Catalog{
		Products: []catalog.Product{
			{ID: "sema-5", ExternalID: "x5", Name: "Semaglutide 5mg/2mL", Family: catalog.FamilySemaglutide, Concentration: 2.5},
			{ID: "tirz-10", ExternalID: "x10", Name: "Tirzepatide 10mg/mL", Family: catalog.FamilyTirzepatide, Concentration: 10},
		},
		Dosages: map[catalog.DrugFamily][]string{
			catalog.FamilySemaglutide: {"0.25", "0.5"},
			catalog.FamilyTirzepatide: {"2.5", "5"},
		},
		NADDosages: map[catalog.Route][]string{},
		Shipping: []catalog.ShippingService{
			{ID: "ship-1", Label: "UPS Ground"},
			{ID: "ship-2", Label: "FedEx Standard Overnight"},
		},
		Quantities: []string{"1", "2", "2.5", "4"},
		SupplyDays: []int{30, 60, 90},
	}
}

type stubFetcher struct {
	mu     sync.Mutex
	calls  []notes.Key
	bundle *notes.Bundle
	err    error
	block  chan struct{}
}

func (f *stubFetcher) Fetch(ctx context.Context, key notes.Key) (*notes.Bundle, error) {
	f.mu.Lock()
	f.calls = append(f.calls, key)
	f.mu.Unlock()
	if f.block != nil {
		<-f.block
	}
	return f.bundle, f.err
}

func (f *stubFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestEngine(t *testing.T, cfg Config, f NotesFetcher) *Engine {
	t.Helper()
	if cfg.Catalog == nil {
		cfg.Catalog = testCatalog()
	}
	if cfg.Pharmacy == "" {
		cfg.Pharmacy = Cre8
	}
	if cfg.SettleDelay == 0 {
		cfg.SettleDelay = 5 * time.Millisecond
	}
	e := NewEngine(cfg, f, nil)
	t.Cleanup(e.Close)
	return e
}

func waitForState(t *testing.T, e *Engine, want State) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if e.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", e.State(), want)
}

func TestDefaultsApplyAfterSettle(t *testing.T) {
	e := newTestEngine(t, Config{
		DefaultDaysSupply:    90,
		DefaultShippingLabel: "fedex standard overnight",
	}, nil)

	if err := e.PopulateDefaults(); err != nil {
		t.Fatalf("PopulateDefaults: %v", err)
	}
	waitForState(t, e, StateReadyForInput)

	d := e.Snapshot()
	if d.DaysSupply != 90 {
		t.Errorf("DaysSupply = %d, want 90", d.DaysSupply)
	}
	if d.ShippingService != "ship-2" {
		t.Errorf("ShippingService = %q, want ship-2", d.ShippingService)
	}
}

func TestRxTypeChangeClearsRxNumber(t *testing.T) {
	e := newTestEngine(t, Config{}, nil)

	e.SetRxType(RxTypeRefill)
	e.SetRxNumber("12345")
	e.SetRxType(RxTypeNew)

	if got := e.Snapshot().RxNumber; got != "" {
		t.Errorf("RxNumber = %q, want empty after type change", got)
	}
}

func TestRxTypeUnchangedKeepsRxNumber(t *testing.T) {
	e := newTestEngine(t, Config{}, nil)

	e.SetRxType(RxTypeRefill)
	e.SetRxNumber("12345")
	e.SetRxType(RxTypeRefill)

	if got := e.Snapshot().RxNumber; got != "12345" {
		t.Errorf("RxNumber = %q, want preserved", got)
	}
}

func TestDrugChangeResetsQuantityAndNotesField(t *testing.T) {
	e := newTestEngine(t, Config{NotesField: NotesFieldDirections}, nil)
	ctx := context.Background()

	e.SetProduct(ctx, "sema-5")
	e.SetVialSet(0, "2", "3")
	e.AppendToNotesField("old drug notes")

	e.SetProduct(ctx, "tirz-10")

	d := e.Snapshot()
	if d.PrimaryQuantity() != "" {
		t.Errorf("quantity = %q, want reset", d.PrimaryQuantity())
	}
	if d.Directions != "" {
		t.Errorf("Directions = %q, want reset", d.Directions)
	}
}

func TestTotalsRecomputeOnEveryChange(t *testing.T) {
	e := newTestEngine(t, Config{}, nil)
	ctx := context.Background()

	e.SetProduct(ctx, "tirz-10")
	e.SetVialSet(0, "2", "3")
	e.SetVialSet(1, "4", "1")
	e.SetDaysSupply(ctx, 30)
	e.SetStrength(ctx, "2.4")

	d := e.Snapshot()
	if d.TotalML != 10 {
		t.Errorf("TotalML = %v, want 10", d.TotalML)
	}
	if d.TotalMG != "100.00 mg" {
		t.Errorf("TotalMG = %q, want \"100.00 mg\"", d.TotalMG)
	}

	// 90-day override for dosage 1.5: set 1 keeps concentration, set 2
	// uses 2.
	e.SetStrength(ctx, "1.5")
	e.SetDaysSupply(ctx, 90)
	if got := e.Snapshot().TotalMG; got != "68.00 mg" {
		t.Errorf("TotalMG = %q, want \"68.00 mg\"", got)
	}
}

func TestNotesFetchOncePerSatisfiedTuple(t *testing.T) {
	f := &stubFetcher{bundle: &notes.Bundle{GeneralNotes: []string{"n"}}}
	e := newTestEngine(t, Config{}, f)
	ctx := context.Background()

	e.SetProduct(ctx, "sema-5")
	e.SetStrength(ctx, "0.25")
	if f.callCount() != 0 {
		t.Fatalf("fetch fired before tuple satisfied")
	}

	e.SetDaysSupply(ctx, 30)
	waitFetches(t, f, 1)

	// Re-setting the same values must not refetch.
	e.SetDaysSupply(ctx, 30)
	e.SetStrength(ctx, "0.25")
	time.Sleep(20 * time.Millisecond)
	if f.callCount() != 1 {
		t.Errorf("fetch count = %d, want 1", f.callCount())
	}

	// A new distinct tuple fires exactly once more.
	e.SetStrength(ctx, "0.5")
	waitFetches(t, f, 2)
}

func TestNotesFetchRequiresPrescriberGroupWhenConfigured(t *testing.T) {
	f := &stubFetcher{bundle: &notes.Bundle{}}
	e := newTestEngine(t, Config{RequiresPrescriberGroup: true}, f)
	ctx := context.Background()

	e.SetProduct(ctx, "sema-5")
	e.SetStrength(ctx, "0.25")
	e.SetDaysSupply(ctx, 30)
	time.Sleep(20 * time.Millisecond)
	if f.callCount() != 0 {
		t.Fatal("fetch fired without prescriber group")
	}

	e.SetPrescriberGroup(ctx, "longevity")
	waitFetches(t, f, 1)
}

func TestNotesFetchFailureIsSilent(t *testing.T) {
	f := &stubFetcher{err: errors.New("boom")}
	var delivered int32
	e := newTestEngine(t, Config{
		OnNotes: func(notes.Key, *notes.Bundle) { atomic.AddInt32(&delivered, 1) },
	}, f)
	ctx := context.Background()

	e.SetProduct(ctx, "sema-5")
	e.SetStrength(ctx, "0.25")
	e.SetDaysSupply(ctx, 30)
	waitFetches(t, f, 1)

	deadline := time.Now().Add(time.Second)
	for e.NotesLoading() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if e.NotesLoading() {
		t.Error("spinner did not reset after failed fetch")
	}
	if atomic.LoadInt32(&delivered) != 0 {
		t.Error("failed fetch must not deliver a bundle")
	}
}

func TestStaleNotesResponseDiscarded(t *testing.T) {
	block := make(chan struct{})
	f := &stubFetcher{bundle: &notes.Bundle{}, block: block}
	var mu sync.Mutex
	var got []notes.Key
	e := newTestEngine(t, Config{
		OnNotes: func(k notes.Key, _ *notes.Bundle) {
			mu.Lock()
			got = append(got, k)
			mu.Unlock()
		},
	}, f)
	ctx := context.Background()

	e.SetProduct(ctx, "sema-5")
	e.SetStrength(ctx, "0.25")
	e.SetDaysSupply(ctx, 30)
	waitFetches(t, f, 1)

	// Supersede the in-flight fetch, then release both.
	e.SetStrength(ctx, "0.5")
	waitFetches(t, f, 2)
	close(block)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n >= 1 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	for _, k := range got {
		if k.Strength != "0.5" {
			t.Errorf("stale response for strength %q was delivered", k.Strength)
		}
	}
}

func waitFetches(t *testing.T, f *stubFetcher, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if f.callCount() >= want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("fetch count = %d, want %d", f.callCount(), want)
}

func TestLifecycleTransitions(t *testing.T) {
	e := newTestEngine(t, Config{}, nil)
	if err := e.PopulateDefaults(); err != nil {
		t.Fatal(err)
	}
	waitForState(t, e, StateReadyForInput)

	if err := e.BeginValidation(); err != nil {
		t.Fatal(err)
	}
	if err := e.OpenConfirmation(); err != nil {
		t.Fatal(err)
	}
	if err := e.MarkSubmissionFailed("pharmacy rejected"); err != nil {
		t.Fatal(err)
	}
	if e.LastError() != "pharmacy rejected" {
		t.Errorf("LastError = %q", e.LastError())
	}
	if err := e.Resume(); err != nil {
		t.Fatal(err)
	}
	if e.State() != StateReadyForInput {
		t.Errorf("state = %s, want ready_for_input", e.State())
	}

	// Draft survives a failed submission.
	e.SetRxNumber("999")
	if err := e.BeginValidation(); err != nil {
		t.Fatal(err)
	}
	if err := e.OpenConfirmation(); err != nil {
		t.Fatal(err)
	}
	if err := e.MarkSubmitted(); err != nil {
		t.Fatal(err)
	}
	if got := e.Snapshot().RxNumber; got != "" {
		t.Errorf("draft not reset after submit, RxNumber = %q", got)
	}
}

func TestInvalidTransitionsRejected(t *testing.T) {
	e := newTestEngine(t, Config{}, nil)

	if err := e.BeginValidation(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("BeginValidation from PharmacySelected: err = %v", err)
	}
	if err := e.MarkSubmitted(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("MarkSubmitted from PharmacySelected: err = %v", err)
	}
	if err := e.PopulateDefaults(); err != nil {
		t.Fatal(err)
	}
	if err := e.PopulateDefaults(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("double PopulateDefaults: err = %v", err)
	}
}

func TestCloseConfirmationKeepsDraft(t *testing.T) {
	e := newTestEngine(t, Config{}, nil)
	if err := e.PopulateDefaults(); err != nil {
		t.Fatal(err)
	}
	waitForState(t, e, StateReadyForInput)

	e.SetProduct(context.Background(), "sema-5")
	e.SetVialSet(0, "2", "1")

	if err := e.BeginValidation(); err != nil {
		t.Fatal(err)
	}
	if err := e.OpenConfirmation(); err != nil {
		t.Fatal(err)
	}
	if err := e.CloseConfirmation(); err != nil {
		t.Fatal(err)
	}

	d := e.Snapshot()
	if d.ProductID != "sema-5" || d.PrimaryQuantity() != "2" {
		t.Error("closing confirmation mutated the draft")
	}
}
