package document

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vitalpath/rxbridge/internal/dosage"
	"github.com/vitalpath/rxbridge/internal/draft"
	"github.com/vitalpath/rxbridge/internal/pharmacy"
)

func confirmableDraft() *draft.Draft {
	return &draft.Draft{
		Pharmacy:    draft.Cre8,
		ProductID:   "tirz-25",
		ProductName: "Tirzepatide 2.5 ML",
		RxType:      draft.RxTypeNew,
		Strength:    "2.5",
		VialSets: [dosage.MaxVialSets]dosage.VialSet{
			{Quantity: "2.5", Vials: "2"},
		},
		QuantityUnits: "mL",
		Refills:       "0",
		DaysSupply:    30,
		Directions:    "Inject weekly",
		TotalMG:       "50.00 mg",
		TotalML:       5,
		DateWritten:   time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		OrderType:     draft.OrderTypeDropship,
		Patient: draft.Patient{
			FirstName: "Ada", LastName: "Park", DateOfBirth: "1990-04-02",
			Address1: "12 Main St", City: "Austin", ShippingState: "TX", Zip: "78701",
		},
		Prescriber: draft.Prescriber{FirstName: "Rae", LastName: "Osei", NPI: "1234567890"},
	}
}

func scriptLabels(snap *Snapshot) []string {
	labels := make([]string, len(snap.Script))
	for i, l := range snap.Script {
		labels[i] = l.Label
	}
	return labels
}

func hasLabel(snap *Snapshot, label string) bool {
	for _, l := range snap.Script {
		if l.Label == label {
			return true
		}
	}
	return false
}

func TestSnapshotDefaultLines(t *testing.T) {
	snap := BuildSnapshot(confirmableDraft(), pharmacy.DocumentRules{}, time.Now())

	if !hasLabel(snap, "Refills") {
		t.Errorf("refills line missing: %v", scriptLabels(snap))
	}
	if hasLabel(snap, "Order Type") || hasLabel(snap, "Route") {
		t.Errorf("conditional lines present without rules: %v", scriptLabels(snap))
	}
	if hasLabel(snap, "Rx Number") {
		t.Error("rx number line present on a NEW prescription")
	}
}

func TestSnapshotBoothwynRules(t *testing.T) {
	d := confirmableDraft()
	d.Pharmacy = draft.Boothwyn
	snap := BuildSnapshot(d, pharmacy.DocumentRules{OmitRefills: true, ShowOrderType: true}, time.Now())

	if hasLabel(snap, "Refills") {
		t.Error("refills line rendered despite omit rule")
	}
	if !hasLabel(snap, "Order Type") {
		t.Errorf("order type line missing: %v", scriptLabels(snap))
	}
}

func TestSnapshotValiantRouteLine(t *testing.T) {
	d := confirmableDraft()
	d.Pharmacy = draft.Valiant
	d.Route = "SQ"
	d.StartingDose = "0.1"
	snap := BuildSnapshot(d, pharmacy.DocumentRules{ShowRoute: true}, time.Now())

	if !hasLabel(snap, "Route") || !hasLabel(snap, "Starting Dose") {
		t.Errorf("route lines missing: %v", scriptLabels(snap))
	}
}

func TestSnapshotRefillCarriesRxNumber(t *testing.T) {
	d := confirmableDraft()
	d.RxType = draft.RxTypeRefill
	d.RxNumber = "RX-77"
	snap := BuildSnapshot(d, pharmacy.DocumentRules{}, time.Now())

	if !hasLabel(snap, "Rx Number") {
		t.Errorf("rx number line missing on refill: %v", scriptLabels(snap))
	}
}

func TestSnapshotQuantityUsesVialDisplay(t *testing.T) {
	snap := BuildSnapshot(confirmableDraft(), pharmacy.DocumentRules{}, time.Now())
	for _, l := range snap.Script {
		if l.Label == "Quantity" {
			if l.Value != "2 x 2.5mL" {
				t.Errorf("quantity = %q, want vial display", l.Value)
			}
			return
		}
	}
	t.Fatal("no quantity line")
}

func TestPageCountCeilingDivision(t *testing.T) {
	cases := []struct {
		height float64
		want   int
	}{
		{0, 1},
		{usableHeightPt, 1},
		{usableHeightPt + 1, 2},
		{3 * usableHeightPt, 3},
		{3*usableHeightPt + 0.5, 4},
	}
	for _, c := range cases {
		if got := PageCount(c.height); got != c.want {
			t.Errorf("PageCount(%v) = %d, want %d", c.height, got, c.want)
		}
	}
}

func TestLongContentSpansPages(t *testing.T) {
	d := confirmableDraft()
	d.ClinicalNotes = strings.Repeat("Take with food. ", 400)
	snap := BuildSnapshot(d, pharmacy.DocumentRules{}, time.Now())

	art, err := NewPDFGenerator(nil).Render(context.Background(), snap)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if art.Pages < 2 {
		t.Errorf("pages = %d, want content to continue past the first page", art.Pages)
	}
	if len(art.PDF) == 0 {
		t.Error("empty pdf buffer")
	}
}

func TestRenderSingleScreenfulIsOnePage(t *testing.T) {
	snap := BuildSnapshot(confirmableDraft(), pharmacy.DocumentRules{}, time.Now())
	art, err := NewPDFGenerator(nil).Render(context.Background(), snap)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if art.Pages != 1 {
		t.Errorf("pages = %d, want 1", art.Pages)
	}
	if want := PageCount(ContentHeight(snap)); art.Pages != want {
		t.Errorf("rendered pages %d disagree with estimate %d", art.Pages, want)
	}
}

// blockingRenderer holds Render until released so tests can observe the
// in-flight state.
type blockingRenderer struct {
	started chan struct{}
	release chan struct{}
	err     error

	mu      sync.Mutex
	renders int
}

func newBlockingRenderer() *blockingRenderer {
	return &blockingRenderer{
		started: make(chan struct{}, 8),
		release: make(chan struct{}),
	}
}

func (r *blockingRenderer) Render(ctx context.Context, snap *Snapshot) (*Artifact, error) {
	r.started <- struct{}{}
	<-r.release
	r.mu.Lock()
	r.renders++
	n := r.renders
	r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	return &Artifact{PDF: []byte{byte(n)}, Pages: n, GeneratedAt: time.Now()}, nil
}

func TestSessionOpenGeneratesEagerly(t *testing.T) {
	r := newBlockingRenderer()
	s := NewSession(r)

	done := make(chan error, 1)
	go func() { done <- s.Open(context.Background(), confirmableDraft(), pharmacy.DocumentRules{}) }()

	<-r.started
	if !s.Busy() {
		t.Error("session not busy during eager generation")
	}
	if _, err := s.Regenerate(context.Background()); !errors.Is(err, ErrGenerationInFlight) {
		t.Errorf("concurrent regenerate error = %v", err)
	}

	close(r.release)
	if err := <-done; err != nil {
		t.Fatalf("Open: %v", err)
	}
	if s.Busy() {
		t.Error("session still busy after generation finished")
	}
	if _, err := s.Artifact(); err != nil {
		t.Errorf("Artifact after open: %v", err)
	}
}

func TestSessionCloseDiscardsInFlightResult(t *testing.T) {
	r := newBlockingRenderer()
	s := NewSession(r)

	done := make(chan error, 1)
	go func() { done <- s.Open(context.Background(), confirmableDraft(), pharmacy.DocumentRules{}) }()

	<-r.started
	s.Close()
	close(r.release)
	<-done

	if _, err := s.Artifact(); !errors.Is(err, ErrNotGenerated) {
		t.Errorf("artifact survived close: %v", err)
	}
	if s.Snapshot() != nil {
		t.Error("snapshot survived close")
	}
}

func TestSessionRenderFailureBlocksSubmission(t *testing.T) {
	r := newBlockingRenderer()
	r.err = errors.New("raster backend down")
	close(r.release)
	s := NewSession(r)

	if err := s.Open(context.Background(), confirmableDraft(), pharmacy.DocumentRules{}); err == nil {
		t.Fatal("open succeeded despite render failure")
	}
	if _, err := s.Artifact(); !errors.Is(err, ErrNotGenerated) {
		t.Errorf("artifact present after failed render: %v", err)
	}
}

func TestSessionRegenerateWithoutOpen(t *testing.T) {
	s := NewSession(newBlockingRenderer())
	if _, err := s.Regenerate(context.Background()); !errors.Is(err, ErrNotGenerated) {
		t.Errorf("regenerate before open = %v", err)
	}
}
