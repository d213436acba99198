// Package handlers provides HTTP handlers for the admin API's draft
// session endpoints.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/vitalpath/rxbridge/internal/api/middleware"
	"github.com/vitalpath/rxbridge/internal/catalog"
	"github.com/vitalpath/rxbridge/internal/document"
	"github.com/vitalpath/rxbridge/internal/draft"
	"github.com/vitalpath/rxbridge/internal/infrastructure/postgres"
	"github.com/vitalpath/rxbridge/internal/notes"
	"github.com/vitalpath/rxbridge/internal/observability/metrics"
	"github.com/vitalpath/rxbridge/internal/pharmacy"
	"github.com/vitalpath/rxbridge/internal/submission"
)

// AuditSink records audit-trail events. A nil sink disables auditing.
type AuditSink interface {
	Record(ctx context.Context, event *postgres.AuditEvent) error
}

// MappingResolver correlates a dosage-mapping key with an external product
// id. A nil resolver disables drug-name pre-selection.
type MappingResolver interface {
	LookupDosageMapping(ctx context.Context, key catalog.MappingKey) (string, error)
}

// DraftHandler owns the draft session endpoints: create, field edits,
// confirmation, document download and submit.
type DraftHandler struct {
	registry  *pharmacy.Registry
	catalog   *catalog.Catalog
	fetcher   draft.NotesFetcher
	renderer  document.Renderer
	submitter *submission.Service
	store     *Store
	audit     AuditSink
	mappings  MappingResolver
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

func NewDraftHandler(
	registry *pharmacy.Registry,
	cat *catalog.Catalog,
	fetcher draft.NotesFetcher,
	renderer document.Renderer,
	submitter *submission.Service,
	audit AuditSink,
	mappings MappingResolver,
	m *metrics.Metrics,
	logger *zap.Logger,
) *DraftHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DraftHandler{
		registry:  registry,
		catalog:   cat,
		fetcher:   fetcher,
		renderer:  renderer,
		submitter: submitter,
		store:     NewStore(),
		audit:     audit,
		mappings:  mappings,
		metrics:   m,
		logger:    logger,
	}
}

// Routes returns the handler routes
func (h *DraftHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)
	r.Patch("/{id}/fields", h.UpdateFields)
	r.Post("/{id}/confirm", h.Confirm)
	r.Post("/{id}/confirm/close", h.CloseConfirmation)
	r.Get("/{id}/document", h.DownloadDocument)
	r.Post("/{id}/submit", h.Submit)
	r.Post("/{id}/resume", h.Resume)
	r.Delete("/{id}", h.Delete)
	return r
}

// CreateRequest is the request body for opening a draft session.
type CreateRequest struct {
	Pharmacy   string           `json:"pharmacy"`
	Patient    draft.Patient    `json:"patient"`
	Prescriber draft.Prescriber `json:"prescriber"`
	Order      *draft.Order     `json:"order,omitempty"`
}

// CreateResponse is the response for opening a draft session.
type CreateResponse struct {
	ID        string    `json:"id"`
	Pharmacy  string    `json:"pharmacy"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"created_at"`
}

// Create handles POST /drafts: pharmacy selection opens a session, seeds
// it from the originating order when editing, and starts the settle-
// delayed default population.
func (h *DraftHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	p := draft.Pharmacy(req.Pharmacy)
	adapter, err := h.registry.For(p)
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	cfg := adapter.EngineConfig(h.catalog)
	var eng *draft.Engine
	cfg.OnNotes = func(key notes.Key, bundle *notes.Bundle) {
		h.countNotes(metrics.NotesDelivered)
		eng.AppendToNotesField(assembleNotes(bundle))
	}
	eng = draft.NewEngine(cfg, h.fetcher, h.logger)

	eng.SeedFromOrder(req.Order, req.Patient, req.Prescriber)
	if err := eng.PopulateDefaults(); err != nil {
		h.jsonError(w, err.Error(), http.StatusConflict)
		return
	}
	h.preselectProduct(ctx, p, req.Order, eng)

	sess := &Session{
		Pharmacy:  p,
		Engine:    eng,
		Adapter:   adapter,
		Document:  document.NewSession(h.renderer),
		CreatedAt: time.Now().UTC(),
	}
	if p == draft.Valiant && req.Order != nil && req.Order.IsLongevity {
		// The timer outlives this request; detach from its cancellation.
		sess.longevity = pharmacy.ScheduleLongevityPopulate(context.WithoutCancel(ctx), eng, h.catalog, req.Order)
	}

	id := h.store.Add(sess)
	h.gaugeSessions()
	h.recordAudit(ctx, &postgres.AuditEvent{
		SessionID: id,
		Pharmacy:  p,
		PatientID: req.Patient.ID,
		EventType: postgres.EventDraftOpened,
	})

	h.logger.Info("draft session opened",
		zap.String("session_id", id),
		zap.String("pharmacy", string(p)),
		zap.String("request_id", middleware.GetRequestID(ctx)),
		zap.String("operator_id", middleware.GetOperatorID(ctx)),
	)

	h.writeJSON(w, http.StatusCreated, CreateResponse{
		ID:        id,
		Pharmacy:  string(p),
		State:     string(eng.State()),
		CreatedAt: sess.CreatedAt,
	})
}

// preselectProduct auto-selects the drug name for Cre8 and Premier Rx
// edit flows when the order's prescribed dosage correlates with a catalog
// product. The lookup runs once per session, at open, and only with a
// complete mapping key; a failed lookup leaves the product unselected.
func (h *DraftHandler) preselectProduct(ctx context.Context, p draft.Pharmacy, order *draft.Order, eng *draft.Engine) {
	if h.mappings == nil || order == nil {
		return
	}
	if p != draft.Cre8 && p != draft.PremierRx {
		return
	}

	key := catalog.MappingKey{
		PharmacyID: string(p),
		Medication: order.Medication,
		PlanCode:   order.PlanCode,
		Dosage:     order.Dosage,
	}
	if !key.Complete() {
		return
	}

	externalID, err := h.mappings.LookupDosageMapping(ctx, key)
	if err != nil {
		h.logger.Warn("dosage mapping lookup failed",
			zap.String("pharmacy", string(p)),
			zap.String("order_id", order.ID),
			zap.Error(err),
		)
		return
	}
	if externalID == "" {
		return
	}

	prod, ok := pharmacy.PreselectFromMapping(h.catalog, externalID)
	if !ok {
		h.logger.Warn("dosage mapping names an unknown product",
			zap.String("pharmacy", string(p)),
			zap.String("external_id", externalID),
		)
		return
	}
	eng.SetProduct(ctx, prod.ID)
}

// assembleNotes renders a fetched bundle as the bulleted text appended to
// the notes-bearing field.
func assembleNotes(bundle *notes.Bundle) string {
	lines := make([]string, 0, len(bundle.ClinicalNotes)+len(bundle.GeneralNotes))
	for _, n := range bundle.ClinicalNotes {
		lines = append(lines, n.Note)
	}
	lines = append(lines, bundle.GeneralNotes...)
	return notes.Bulleted(lines)
}

// SnapshotResponse carries the draft with its session state and the
// selectable options the dashboard renders.
type SnapshotResponse struct {
	ID           string                    `json:"id"`
	State        string                    `json:"state"`
	LastError    string                    `json:"last_error,omitempty"`
	NotesLoading bool                      `json:"notes_loading"`
	Draft        draft.Draft               `json:"draft"`
	Products     []catalog.Product         `json:"products"`
	Dosages      []string                  `json:"dosages"`
	Shipping     []catalog.ShippingService `json:"shipping"`
	SupplyDays   []int                     `json:"supply_days"`
}

// Get handles GET /drafts/{id}
func (h *DraftHandler) Get(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.store.Get(chi.URLParam(r, "id"))
	if !ok {
		h.jsonError(w, "draft session not found", http.StatusNotFound)
		return
	}

	eng := sess.Engine
	h.writeJSON(w, http.StatusOK, SnapshotResponse{
		ID:           sess.ID,
		State:        string(eng.State()),
		LastError:    eng.LastError(),
		NotesLoading: eng.NotesLoading(),
		Draft:        eng.Snapshot(),
		Products:     eng.ProductOptions(),
		Dosages:      eng.DosageOptions(),
		Shipping:     eng.ShippingOptions(),
		SupplyDays:   eng.SupplyDaysOptions(),
	})
}

// FieldUpdates is a partial field patch. Pointer fields distinguish
// "absent" from "set to empty".
type FieldUpdates struct {
	ProductID       *string `json:"product_id,omitempty"`
	Strength        *string `json:"strength,omitempty"`
	RxType          *string `json:"rx_type,omitempty"`
	RxNumber        *string `json:"rx_number,omitempty"`
	DaysSupply      *int    `json:"days_supply,omitempty"`
	PrescriberGroup *string `json:"prescriber_group,omitempty"`
	ShippingService *string `json:"shipping_service,omitempty"`
	Refills         *string `json:"refills,omitempty"`
	DrugForm        *string `json:"drug_form,omitempty"`
	QuantityUnits   *string `json:"quantity_units,omitempty"`
	OrderType       *string `json:"order_type,omitempty"`
	Route           *string `json:"route,omitempty"`
	StartingDose    *string `json:"starting_dose,omitempty"`
	Directions      *string `json:"directions,omitempty"`
	ClinicalNotes   *string `json:"clinical_notes,omitempty"`

	VialSets []VialSetUpdate `json:"vial_sets,omitempty"`
}

// VialSetUpdate sets one (size, count) pair by position.
type VialSetUpdate struct {
	Index    int    `json:"index"`
	Quantity string `json:"quantity"`
	Vials    string `json:"vials"`
}

// UpdateFields handles PATCH /drafts/{id}/fields. Each present field goes
// through the engine so derived totals, resets and the notes gate all
// fire exactly as they would on direct form input.
func (h *DraftHandler) UpdateFields(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, ok := h.store.Get(chi.URLParam(r, "id"))
	if !ok {
		h.jsonError(w, "draft session not found", http.StatusNotFound)
		return
	}

	var u FieldUpdates
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	// A field change can start a notes fetch that outlives this request.
	ctx = context.WithoutCancel(ctx)
	eng := sess.Engine
	if u.ProductID != nil {
		eng.SetProduct(ctx, *u.ProductID)
	}
	if u.RxType != nil {
		eng.SetRxType(draft.RxType(*u.RxType))
	}
	if u.RxNumber != nil {
		eng.SetRxNumber(*u.RxNumber)
	}
	if u.Strength != nil {
		eng.SetStrength(ctx, *u.Strength)
	}
	if u.DaysSupply != nil {
		eng.SetDaysSupply(ctx, *u.DaysSupply)
	}
	if u.PrescriberGroup != nil {
		eng.SetPrescriberGroup(ctx, *u.PrescriberGroup)
	}
	if u.ShippingService != nil {
		eng.SetShippingService(*u.ShippingService)
	}
	for _, vs := range u.VialSets {
		eng.SetVialSet(vs.Index, vs.Quantity, vs.Vials)
	}
	eng.Mutate(func(d *draft.Draft) {
		if u.Refills != nil {
			d.Refills = *u.Refills
		}
		if u.DrugForm != nil {
			d.DrugForm = *u.DrugForm
		}
		if u.QuantityUnits != nil {
			d.QuantityUnits = *u.QuantityUnits
		}
		if u.OrderType != nil {
			d.OrderType = draft.OrderType(*u.OrderType)
		}
		if u.Route != nil {
			d.Route = *u.Route
		}
		if u.StartingDose != nil {
			d.StartingDose = *u.StartingDose
		}
		if u.Directions != nil {
			d.Directions = *u.Directions
		}
		if u.ClinicalNotes != nil {
			d.ClinicalNotes = *u.ClinicalNotes
		}
	})

	d := eng.Snapshot()
	h.writeJSON(w, http.StatusOK, map[string]any{
		"state":    string(eng.State()),
		"total_mg": d.TotalMG,
		"total_ml": d.TotalML,
	})
}

// ConfirmResponse reports the validation or rendering outcome.
type ConfirmResponse struct {
	State  string                 `json:"state"`
	Pages  int                    `json:"pages,omitempty"`
	Fields []*pharmacy.FieldError `json:"fields,omitempty"`
}

// Confirm handles POST /drafts/{id}/confirm: validate, freeze, and
// rasterize the confirmation document eagerly so the first download has
// no extra latency.
func (h *DraftHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, ok := h.store.Get(chi.URLParam(r, "id"))
	if !ok {
		h.jsonError(w, "draft session not found", http.StatusNotFound)
		return
	}

	eng := sess.Engine
	if err := eng.BeginValidation(); err != nil {
		h.jsonError(w, err.Error(), http.StatusConflict)
		return
	}

	d := eng.Snapshot()
	if fields := sess.Adapter.Validate(&d, h.catalog); len(fields) > 0 {
		if err := eng.ValidationFailed(); err != nil {
			h.logger.Warn("validation rollback failed", zap.Error(err))
		}
		h.writeJSON(w, http.StatusUnprocessableEntity, ConfirmResponse{
			State:  string(eng.State()),
			Fields: fields,
		})
		return
	}

	if err := eng.OpenConfirmation(); err != nil {
		h.jsonError(w, err.Error(), http.StatusConflict)
		return
	}

	if err := sess.Document.Open(ctx, &d, sess.Adapter.Capabilities().Document); err != nil {
		// The render failure is surfaced; the operator closes and
		// reopens to retry. Submission cannot proceed without an
		// artifact.
		h.logger.Error("confirmation document generation failed",
			zap.String("session_id", sess.ID),
			zap.Error(err))
		h.jsonError(w, "document generation failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	art, err := sess.Document.Artifact()
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.observeDocument(art.Pages)
	h.recordAudit(ctx, &postgres.AuditEvent{
		SessionID: sess.ID,
		Pharmacy:  sess.Pharmacy,
		PatientID: d.Patient.ID,
		EventType: postgres.EventDocumentGenerated,
		Detail:    fmt.Sprintf("%d pages", art.Pages),
	})

	h.writeJSON(w, http.StatusOK, ConfirmResponse{
		State: string(eng.State()),
		Pages: art.Pages,
	})
}

// CloseConfirmation handles POST /drafts/{id}/confirm/close: back to
// ReadyForInput without touching the draft.
func (h *DraftHandler) CloseConfirmation(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.store.Get(chi.URLParam(r, "id"))
	if !ok {
		h.jsonError(w, "draft session not found", http.StatusNotFound)
		return
	}

	if err := sess.Engine.CloseConfirmation(); err != nil {
		h.jsonError(w, err.Error(), http.StatusConflict)
		return
	}
	sess.Document.Close()
	h.writeJSON(w, http.StatusOK, map[string]string{"state": string(sess.Engine.State())})
}

// DownloadDocument handles GET /drafts/{id}/document. Disabled while a
// generation is in flight.
func (h *DraftHandler) DownloadDocument(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.store.Get(chi.URLParam(r, "id"))
	if !ok {
		h.jsonError(w, "draft session not found", http.StatusNotFound)
		return
	}

	if sess.Document.Busy() {
		h.jsonError(w, "document generation in progress", http.StatusConflict)
		return
	}
	art, err := sess.Document.Artifact()
	if err != nil {
		h.jsonError(w, "no generated document", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="prescription.pdf"`)
	w.WriteHeader(http.StatusOK)
	w.Write(art.PDF)
}

// SubmitRequest is the optional submit body. Queued submits publish the
// built request to the broker instead of dispatching inline.
type SubmitRequest struct {
	Queued bool `json:"queued"`
}

// SubmitResponse is the success body for a submission.
type SubmitResponse struct {
	State       string    `json:"state"`
	RedirectURL string    `json:"redirect_url"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Submit handles POST /drafts/{id}/submit.
func (h *DraftHandler) Submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, ok := h.store.Get(chi.URLParam(r, "id"))
	if !ok {
		h.jsonError(w, "draft session not found", http.StatusNotFound)
		return
	}

	var mode SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&mode); err != nil && !errors.Is(err, io.EOF) {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	// Snapshot before the submit so the idempotency key survives the
	// post-success draft reset.
	d := sess.Engine.Snapshot()
	key := submission.IdempotencyKey(&d)

	submit := h.submitter.Submit
	status := http.StatusOK
	event := postgres.EventSubmissionAccepted
	if mode.Queued {
		submit = h.submitter.SubmitQueued
		status = http.StatusAccepted
		event = postgres.EventSubmissionQueued
	}

	start := time.Now()
	res, err := submit(ctx, sess.Engine, sess.Document)
	if err != nil {
		h.submitError(ctx, w, sess, &d, key, err)
		return
	}
	h.observeSubmission(sess.Pharmacy, metrics.OutcomeAccepted, time.Since(start))
	h.recordAudit(ctx, &postgres.AuditEvent{
		SessionID:      sess.ID,
		Pharmacy:       sess.Pharmacy,
		PatientID:      d.Patient.ID,
		EventType:      event,
		IdempotencyKey: key,
	})

	// Success finishes the session; the draft is already reset.
	if removed, ok := h.store.Remove(sess.ID); ok {
		removed.Close()
		h.gaugeSessions()
	}

	h.logger.Info("submission accepted",
		zap.String("session_id", sess.ID),
		zap.String("pharmacy", string(sess.Pharmacy)),
		zap.String("operator_id", middleware.GetOperatorID(ctx)),
	)
	h.writeJSON(w, status, SubmitResponse{
		State:       string(draft.StateSubmitted),
		RedirectURL: res.RedirectURL,
		SubmittedAt: res.SubmittedAt,
	})
}

// submitError maps a submission failure onto the wire. The draft survives
// every failure path; the operator corrects and resubmits.
func (h *DraftHandler) submitError(ctx context.Context, w http.ResponseWriter, sess *Session, d *draft.Draft, key string, err error) {
	var vErr *submission.ValidationError
	var apiErr *submission.APIError

	if !errors.Is(err, submission.ErrForbiddenState) && !errors.As(err, &vErr) {
		// Pre-network blocks never count as attempts in the trail.
		h.recordAudit(ctx, &postgres.AuditEvent{
			SessionID:      sess.ID,
			Pharmacy:       sess.Pharmacy,
			PatientID:      d.Patient.ID,
			EventType:      postgres.EventSubmissionFailed,
			IdempotencyKey: key,
			Detail:         err.Error(),
		})
	}

	switch {
	case errors.Is(err, submission.ErrForbiddenState):
		h.observeSubmission(sess.Pharmacy, metrics.OutcomeBlocked, 0)
		h.writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"state": string(sess.Engine.State()),
			"error": err.Error(),
		})
	case errors.As(err, &vErr):
		h.observeSubmission(sess.Pharmacy, metrics.OutcomeBlocked, 0)
		h.writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"state":  string(sess.Engine.State()),
			"fields": vErr.Fields,
		})
	case errors.As(err, &apiErr):
		h.observeSubmission(sess.Pharmacy, metrics.OutcomeRejected, 0)
		h.writeJSON(w, http.StatusBadGateway, map[string]any{
			"state":    string(sess.Engine.State()),
			"messages": apiErr.Messages,
		})
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		h.observeSubmission(sess.Pharmacy, metrics.OutcomeTransport, 0)
		h.jsonError(w, fmt.Sprintf("%s is temporarily unavailable", sess.Pharmacy), http.StatusServiceUnavailable)
	default:
		h.observeSubmission(sess.Pharmacy, metrics.OutcomeTransport, 0)
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
	}
}

// Resume handles POST /drafts/{id}/resume after a failed submission.
func (h *DraftHandler) Resume(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.store.Get(chi.URLParam(r, "id"))
	if !ok {
		h.jsonError(w, "draft session not found", http.StatusNotFound)
		return
	}
	if err := sess.Engine.Resume(); err != nil {
		h.jsonError(w, err.Error(), http.StatusConflict)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"state": string(sess.Engine.State())})
}

// Delete handles DELETE /drafts/{id}: abandon the session.
func (h *DraftHandler) Delete(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.store.Remove(chi.URLParam(r, "id"))
	if !ok {
		h.jsonError(w, "draft session not found", http.StatusNotFound)
		return
	}
	sess.Close()
	h.gaugeSessions()
	w.WriteHeader(http.StatusNoContent)
}

func (h *DraftHandler) writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}

func (h *DraftHandler) jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func (h *DraftHandler) recordAudit(ctx context.Context, event *postgres.AuditEvent) {
	if h.audit == nil {
		return
	}
	event.OperatorID = middleware.GetOperatorID(ctx)
	if err := h.audit.Record(ctx, event); err != nil {
		h.logger.Warn("audit write failed",
			zap.String("event_type", event.EventType),
			zap.Error(err))
	}
}

func (h *DraftHandler) gaugeSessions() {
	if h.metrics != nil {
		h.metrics.DraftSessionsActive.Set(float64(h.store.Len()))
	}
}

func (h *DraftHandler) countNotes(result string) {
	if h.metrics != nil {
		h.metrics.NotesFetches.WithLabelValues(result).Inc()
	}
}

func (h *DraftHandler) observeDocument(pages int) {
	if h.metrics != nil {
		h.metrics.DocumentsGenerated.Inc()
		h.metrics.DocumentPages.Observe(float64(pages))
	}
}

func (h *DraftHandler) observeSubmission(p draft.Pharmacy, outcome string, d time.Duration) {
	if h.metrics == nil {
		return
	}
	h.metrics.Submissions.WithLabelValues(string(p), outcome).Inc()
	if d > 0 {
		h.metrics.SubmissionDuration.Observe(d.Seconds())
	}
}
