package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vitalpath/rxbridge/internal/catalog"
	"github.com/vitalpath/rxbridge/internal/document"
	"github.com/vitalpath/rxbridge/internal/draft"
	"github.com/vitalpath/rxbridge/internal/pharmacy"
	"github.com/vitalpath/rxbridge/internal/submission"
	"github.com/vitalpath/rxbridge/pkg/circuitbreaker"
)

type stubRenderer struct {
	fail    bool
	renders int
}

func (r *stubRenderer) Render(ctx context.Context, snap *document.Snapshot) (*document.Artifact, error) {
	r.renders++
	if r.fail {
		return nil, fmt.Errorf("raster backend down")
	}
	return &document.Artifact{PDF: []byte("%PDF-1.4 stub"), Pages: 1, GeneratedAt: time.Now()}, nil
}

func testCatalog() *catalog.Catalog {
	return &catalog.Catalog{
		Products: []catalog.Product{
			{ID: "tirz-25", Name: "Tirzepatide 2.5 ML", Family: catalog.FamilyTirzepatide, Concentration: 10, Form: "vial"},
		},
		Dosages:         map[catalog.DrugFamily][]string{catalog.FamilyTirzepatide: {"2.5", "5"}},
		Shipping:        []catalog.ShippingService{{ID: "s1", Label: "FedEx Standard Overnight"}},
		SupplyDays:      []int{30, 60, 90},
		ForbiddenStates: []string{"AL"},
	}
}

func newTestAPI(t *testing.T, upstream http.HandlerFunc, renderer document.Renderer) *httptest.Server {
	t.Helper()
	registry, err := pharmacy.NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	gateway := httptest.NewServer(upstream)
	t.Cleanup(gateway.Close)

	cat := testCatalog()
	dispatcher := submission.NewDispatcher(gateway.Client(), gateway.URL, circuitbreaker.NewManager(nil, nil), nil)
	svc := submission.NewService(registry, dispatcher, nil, cat, "/orders", nil)

	h := NewDraftHandler(registry, cat, nil, renderer, svc, nil, nil, nil, nil)
	r := chi.NewRouter()
	r.Mount("/drafts", h.Routes())

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]json.RawMessage) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	fields := map[string]json.RawMessage{}
	if resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(&fields); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp, fields
}

func rawString(t *testing.T, raw json.RawMessage) string {
	t.Helper()
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		t.Fatalf("unmarshal %s: %v", raw, err)
	}
	return s
}

func createSession(t *testing.T, srv *httptest.Server, state string) string {
	t.Helper()
	resp, fields := doJSON(t, http.MethodPost, srv.URL+"/drafts", map[string]any{
		"pharmacy": "axtell",
		"patient": map[string]any{
			"id": "pt-1", "first_name": "Ada", "last_name": "Park",
			"phone": "+15550001111", "address1": "12 Main St",
			"city": "Austin", "shipping_state": state, "zip": "78701",
		},
		"prescriber": map[string]any{"id": "doc-9", "npi": "1234567890"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	id := rawString(t, fields["id"])

	// Defaults apply behind the settle delay; wait for ReadyForInput.
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		_, got := doJSON(t, http.MethodGet, srv.URL+"/drafts/"+id, nil)
		if rawString(t, got["state"]) == "ready_for_input" {
			return id
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("session never reached ready_for_input")
	return ""
}

func fillSession(t *testing.T, srv *httptest.Server, id string) {
	t.Helper()
	resp, fields := doJSON(t, http.MethodPatch, srv.URL+"/drafts/"+id+"/fields", map[string]any{
		"product_id":       "tirz-25",
		"strength":         "2.5",
		"days_supply":      30,
		"shipping_service": "s1",
		"refills":          "0",
		"directions":       "Inject weekly",
		"vial_sets":        []map[string]any{{"index": 0, "quantity": "2.5", "vials": "1"}},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("patch status = %d", resp.StatusCode)
	}
	if got := rawString(t, fields["total_mg"]); got != "25.00 mg" {
		t.Errorf("total_mg = %q", got)
	}
}

type stubMappings struct {
	key        catalog.MappingKey
	externalID string
	calls      int
}

func (s *stubMappings) LookupDosageMapping(ctx context.Context, key catalog.MappingKey) (string, error) {
	s.calls++
	s.key = key
	return s.externalID, nil
}

func TestCreatePreselectsProductFromDosageMapping(t *testing.T) {
	registry, err := pharmacy.NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	cat := testCatalog()
	cat.Products[0].ExternalID = "x-tirz"

	mappings := &stubMappings{externalID: "x-tirz"}
	h := NewDraftHandler(registry, cat, nil, &stubRenderer{}, nil, nil, mappings, nil, nil)
	r := chi.NewRouter()
	r.Mount("/drafts", h.Routes())
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	order := map[string]any{
		"id": "ord-1", "medication": "tirzepatide",
		"plan_code": "plan-a", "dosage": "2.5",
	}
	resp, fields := doJSON(t, http.MethodPost, srv.URL+"/drafts", map[string]any{
		"pharmacy":   "cre8",
		"patient":    map[string]any{"id": "pt-1", "shipping_state": "TX"},
		"prescriber": map[string]any{"id": "doc-9", "npi": "1234567890"},
		"order":      order,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d (%v)", resp.StatusCode, fields)
	}
	id := rawString(t, fields["id"])

	if mappings.calls != 1 {
		t.Fatalf("mapping lookups = %d, want one per session open", mappings.calls)
	}
	want := catalog.MappingKey{PharmacyID: "cre8", Medication: "tirzepatide", PlanCode: "plan-a", Dosage: "2.5"}
	if mappings.key != want {
		t.Errorf("lookup key = %+v, want %+v", mappings.key, want)
	}

	_, fields = doJSON(t, http.MethodGet, srv.URL+"/drafts/"+id, nil)
	var d draft.Draft
	if err := json.Unmarshal(fields["draft"], &d); err != nil {
		t.Fatalf("decode draft: %v", err)
	}
	if d.ProductID != "tirz-25" {
		t.Errorf("product_id = %q, want pre-selected tirz-25", d.ProductID)
	}

	// Pharmacies without a dosage-mapping flow never trigger the lookup.
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/drafts", map[string]any{
		"pharmacy":   "axtell",
		"patient":    map[string]any{"id": "pt-2", "shipping_state": "TX"},
		"prescriber": map[string]any{"id": "doc-9", "npi": "1234567890"},
		"order":      order,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("axtell create status = %d", resp.StatusCode)
	}
	if mappings.calls != 1 {
		t.Errorf("mapping lookups = %d after axtell open, want 1", mappings.calls)
	}
}

func TestDraftLifecycleOverHTTP(t *testing.T) {
	renderer := &stubRenderer{}
	srv := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}, renderer)

	id := createSession(t, srv, "TX")
	fillSession(t, srv, id)

	resp, fields := doJSON(t, http.MethodPost, srv.URL+"/drafts/"+id+"/confirm", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("confirm status = %d (%v)", resp.StatusCode, fields)
	}
	if rawString(t, fields["state"]) != "confirmation_pending" {
		t.Errorf("state after confirm = %s", fields["state"])
	}
	if renderer.renders != 1 {
		t.Errorf("renders after confirm = %d, want eager single render", renderer.renders)
	}

	// Download is served from the captured artifact, no re-render.
	dl, err := http.Get(srv.URL + "/drafts/" + id + "/document")
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	dl.Body.Close()
	if dl.StatusCode != http.StatusOK || dl.Header.Get("Content-Type") != "application/pdf" {
		t.Errorf("download status=%d type=%s", dl.StatusCode, dl.Header.Get("Content-Type"))
	}
	if renderer.renders != 1 {
		t.Errorf("download re-rendered (%d renders)", renderer.renders)
	}

	resp, fields = doJSON(t, http.MethodPost, srv.URL+"/drafts/"+id+"/submit", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("submit status = %d (%v)", resp.StatusCode, fields)
	}
	if rawString(t, fields["state"]) != "submitted" {
		t.Errorf("state after submit = %s", fields["state"])
	}

	// The session is finished and gone.
	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/drafts/"+id, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("finished session still present (status %d)", resp.StatusCode)
	}
}

func TestConfirmValidationFailure(t *testing.T) {
	srv := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}, &stubRenderer{})

	id := createSession(t, srv, "TX")
	// No fields filled: confirm must bounce back to ready_for_input.
	resp, fields := doJSON(t, http.MethodPost, srv.URL+"/drafts/"+id+"/confirm", nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("confirm status = %d", resp.StatusCode)
	}
	if rawString(t, fields["state"]) != "ready_for_input" {
		t.Errorf("state = %s", fields["state"])
	}
	var errs []*pharmacy.FieldError
	if err := json.Unmarshal(fields["fields"], &errs); err != nil || len(errs) == 0 {
		t.Errorf("field errors = %s (%v)", fields["fields"], err)
	}
}

func TestConfirmRenderFailure(t *testing.T) {
	renderer := &stubRenderer{fail: true}
	srv := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}, renderer)

	id := createSession(t, srv, "TX")
	fillSession(t, srv, id)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/drafts/"+id+"/confirm", nil)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("confirm status = %d", resp.StatusCode)
	}

	// No document exists, so submission is blocked until close and retry.
	dl, err := http.Get(srv.URL + "/drafts/" + id + "/document")
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	dl.Body.Close()
	if dl.StatusCode != http.StatusNotFound {
		t.Errorf("download of failed render = %d", dl.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/drafts/"+id+"/confirm/close", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("close status = %d", resp.StatusCode)
	}

	renderer.fail = false
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/drafts/"+id+"/confirm", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("reopen after failure = %d", resp.StatusCode)
	}
}

func TestSubmitRejectionKeepsSession(t *testing.T) {
	srv := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		fmt.Fprint(w, `{strength not offered; quantity exceeds limit}`)
	}, &stubRenderer{})

	id := createSession(t, srv, "TX")
	fillSession(t, srv, id)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/drafts/"+id+"/confirm", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("confirm status = %d", resp.StatusCode)
	}

	resp, fields := doJSON(t, http.MethodPost, srv.URL+"/drafts/"+id+"/submit", nil)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("submit status = %d", resp.StatusCode)
	}
	var msgs []string
	if err := json.Unmarshal(fields["messages"], &msgs); err != nil || len(msgs) != 2 {
		t.Errorf("messages = %s", fields["messages"])
	}

	// Failure keeps the session and the draft; resume returns to input.
	resp, fields = doJSON(t, http.MethodPost, srv.URL+"/drafts/"+id+"/resume", nil)
	if resp.StatusCode != http.StatusOK || rawString(t, fields["state"]) != "ready_for_input" {
		t.Errorf("resume status=%d state=%s", resp.StatusCode, fields["state"])
	}

	_, got := doJSON(t, http.MethodGet, srv.URL+"/drafts/"+id, nil)
	var snap struct {
		Draft struct {
			ProductID string `json:"product_id"`
		} `json:"draft"`
	}
	if err := json.Unmarshal(got["draft"], &snap.Draft); err != nil || snap.Draft.ProductID != "tirz-25" {
		t.Errorf("draft after failure = %s", got["draft"])
	}
}

func TestForbiddenStateBlocksPreNetwork(t *testing.T) {
	requests := 0
	srv := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusCreated)
	}, &stubRenderer{})

	id := createSession(t, srv, "AL")
	fillSession(t, srv, id)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/drafts/"+id+"/confirm", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("confirm status = %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/drafts/"+id+"/submit", nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("submit status = %d", resp.StatusCode)
	}
	if requests != 0 {
		t.Errorf("forbidden state reached the gateway (%d requests)", requests)
	}
}
