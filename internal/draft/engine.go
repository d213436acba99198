package draft

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vitalpath/rxbridge/internal/catalog"
	"github.com/vitalpath/rxbridge/internal/dosage"
	"github.com/vitalpath/rxbridge/internal/notes"
	"github.com/vitalpath/rxbridge/pkg/debounce"
)

// NotesField names which free-text field receives auto-fetched notes.
type NotesField int

const (
	NotesFieldDirections NotesField = iota
	NotesFieldInstructions
)

// DefaultSettleDelay is how long the engine waits after pharmacy selection
// before applying pharmacy default field values.
const DefaultSettleDelay = time.Second

// NotesFetcher retrieves clinical-note bundles.
type NotesFetcher interface {
	Fetch(ctx context.Context, key notes.Key) (*notes.Bundle, error)
}

// Config parameterizes the engine per pharmacy.
type Config struct {
	Pharmacy Pharmacy
	Catalog  *catalog.Catalog

	// RequiresPrescriberGroup gates the notes fetch on the prescriber
	// group also being selected.
	RequiresPrescriberGroup bool

	// NotesField is where auto-fetched note text lands, and the field
	// reset when the drug name changes.
	NotesField NotesField

	// DefaultDaysSupply and DefaultShippingLabel are applied after the
	// settle delay. The shipping default matches by case-insensitive
	// label substring.
	DefaultDaysSupply    int
	DefaultShippingLabel string

	// PrefillDirections pre-fills the Directions field on populate.
	PrefillDirections string

	// AutoQuantity derives the first vial quantity from a newly selected
	// product's name. Empty return means no auto-selection.
	AutoQuantity func(productName string) string

	// CoerceDaysSupply snaps an entered days-supply value into the
	// pharmacy's preset list before it lands on the draft.
	CoerceDaysSupply func(days int) int

	SettleDelay time.Duration

	// OnNotes delivers each resolved bundle. Callers persist the result
	// into form fields themselves; the engine never writes note text.
	OnNotes func(key notes.Key, bundle *notes.Bundle)
}

// Engine is the shared field-logic controller, one instantiation per
// pharmacy-item session. It owns all draft mutation and keeps the derived
// totals in sync with their inputs.
type Engine struct {
	mu      sync.Mutex
	cfg     Config
	draft   Draft
	state   State
	lastErr string

	fetcher NotesFetcher
	settle  *debounce.Timer
	logger  *zap.Logger

	// fetchSeq increments once per satisfied-condition transition of the
	// notes key, never per keystroke.
	fetchSeq      uint64
	lastSatisfied notes.Key
	notesLoading  bool
}

// NewEngine creates an engine for one pharmacy session. The draft starts
// empty in PharmacySelected.
func NewEngine(cfg Config, fetcher NotesFetcher, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SettleDelay == 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	return &Engine{
		cfg:     cfg,
		draft:   Draft{Pharmacy: cfg.Pharmacy, RxType: RxTypeNew, DateWritten: time.Now().UTC()},
		state:   StatePharmacySelected,
		fetcher: fetcher,
		settle:  debounce.New(cfg.SettleDelay),
		logger:  logger,
	}
}

// SeedFromOrder pre-populates the session from an originating order (edit
// flow). Must be called before PopulateDefaults.
func (e *Engine) SeedFromOrder(order *Order, patient Patient, prescriber Prescriber) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.draft.Order = order
	e.draft.Patient = patient
	e.draft.Prescriber = prescriber
}

// PopulateDefaults transitions to FieldsPopulating and schedules the
// pharmacy default values behind the settle delay. Re-selecting restarts
// the timer, so at most one apply is pending.
func (e *Engine) PopulateDefaults() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StatePharmacySelected {
		return ErrInvalidTransition
	}
	e.state = StateFieldsPopulating
	e.settle.Trigger(e.applyDefaults)
	return nil
}

func (e *Engine) applyDefaults() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateFieldsPopulating {
		return
	}

	if e.cfg.DefaultDaysSupply != 0 && e.draft.DaysSupply == 0 {
		e.draft.DaysSupply = e.cfg.DefaultDaysSupply
	}
	if e.cfg.DefaultShippingLabel != "" && e.draft.ShippingService == "" {
		if svc, ok := findShippingByLabel(e.cfg.Catalog.Shipping, e.cfg.DefaultShippingLabel); ok {
			e.draft.ShippingService = svc.ID
		}
	}
	if e.cfg.PrefillDirections != "" && e.draft.Directions == "" {
		e.draft.Directions = e.cfg.PrefillDirections
	}

	e.state = StateReadyForInput
	e.logger.Debug("pharmacy defaults applied",
		zap.String("pharmacy", string(e.cfg.Pharmacy)))
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// LastError returns the most recent surfaced submission error.
func (e *Engine) LastError() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// Snapshot returns a copy of the draft. Confirmation freezes one of these.
func (e *Engine) Snapshot() Draft {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.draft
}

// Mutate runs fn against the draft under the engine lock, then recomputes
// the derived totals. It is the escape hatch for adapter-specific fields
// that have no dedicated setter.
func (e *Engine) Mutate(fn func(*Draft)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.draft)
	e.recomputeTotals()
}

// SetProduct selects the drug. Changing products resets the quantity sets
// and the pharmacy's notes-bearing field so values chosen for drug A never
// survive a switch to drug B.
func (e *Engine) SetProduct(ctx context.Context, productID string) {
	e.mu.Lock()

	if productID == e.draft.ProductID {
		e.mu.Unlock()
		return
	}

	p, ok := e.cfg.Catalog.ProductByID(productID)
	e.draft.ProductID = productID
	if ok {
		e.draft.ProductName = p.Name
		e.draft.DrugForm = p.Form
	} else {
		e.draft.ProductName = ""
		e.draft.DrugForm = ""
	}

	e.draft.VialSets = [dosage.MaxVialSets]dosage.VialSet{}
	if ok && e.cfg.AutoQuantity != nil {
		if q := e.cfg.AutoQuantity(p.Name); q != "" {
			e.draft.VialSets[0].Quantity = q
		}
	}
	switch e.cfg.NotesField {
	case NotesFieldInstructions:
		e.draft.ClinicalNotes = ""
	default:
		e.draft.Directions = ""
	}
	e.recomputeTotals()
	e.mu.Unlock()

	e.maybeFetchNotes(ctx)
}

// SetStrength sets the selected dosage.
func (e *Engine) SetStrength(ctx context.Context, strength string) {
	e.mu.Lock()
	e.draft.Strength = strength
	e.recomputeTotals()
	e.mu.Unlock()

	e.maybeFetchNotes(ctx)
}

// SetDaysSupply sets the days-supply value.
func (e *Engine) SetDaysSupply(ctx context.Context, days int) {
	e.mu.Lock()
	if e.cfg.CoerceDaysSupply != nil {
		days = e.cfg.CoerceDaysSupply(days)
	}
	e.draft.DaysSupply = days
	e.recomputeTotals()
	e.mu.Unlock()

	e.maybeFetchNotes(ctx)
}

// SetPrescriberGroup sets the prescriber group used by pharmacies that key
// notes by group.
func (e *Engine) SetPrescriberGroup(ctx context.Context, group string) {
	e.mu.Lock()
	e.draft.Prescriber.Group = group
	e.mu.Unlock()

	e.maybeFetchNotes(ctx)
}

// SetRxType switches between NEW and REFILL. Any change clears a
// previously entered Rx Number unconditionally.
func (e *Engine) SetRxType(t RxType) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if t == e.draft.RxType {
		return
	}
	e.draft.RxType = t
	e.draft.RxNumber = ""
}

// SetRxNumber records the refill's Rx Number.
func (e *Engine) SetRxNumber(n string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.draft.RxNumber = n
}

// SetVialSet updates one (vial-size, vial-count) pair and recomputes the
// totals live.
func (e *Engine) SetVialSet(i int, quantity, vials string) {
	if i < 0 || i >= dosage.MaxVialSets {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.draft.VialSets[i] = dosage.VialSet{Quantity: quantity, Vials: vials}
	e.recomputeTotals()
}

// SetShippingService selects a shipping option by id.
func (e *Engine) SetShippingService(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.draft.ShippingService = id
}

// recomputeTotals rederives total-mg/total-ml from the current inputs.
// Callers must hold the lock. The totals are never stored independently
// of their inputs.
func (e *Engine) recomputeTotals() {
	sets := e.draft.PresentVialSets()
	e.draft.TotalML = dosage.TotalML(sets...)

	var concentration float64
	if p, ok := e.cfg.Catalog.ProductByID(e.draft.ProductID); ok {
		concentration = p.Concentration
	}
	e.draft.TotalMG = dosage.TotalMGWithDosageRules(
		concentration, e.draft.Strength, e.draft.DaysSupply, sets...)
}

// notesKey builds the current fetch tuple. Callers must hold the lock.
func (e *Engine) notesKey() notes.Key {
	var days string
	if e.draft.DaysSupply != 0 {
		days = strconv.Itoa(e.draft.DaysSupply)
	}
	return notes.Key{
		ProductID:       e.draft.ProductID,
		Strength:        e.draft.Strength,
		DaysSupply:      days,
		PrescriberGroup: e.draft.Prescriber.Group,
	}
}

// maybeFetchNotes fires the auto-fetch exactly once per distinct key tuple
// becoming fully satisfied. Each request carries its tuple; a response
// whose tuple no longer matches the draft is discarded on arrival, so a
// superseded fetch can never land stale text.
func (e *Engine) maybeFetchNotes(ctx context.Context) {
	e.mu.Lock()

	key := e.notesKey()
	if e.fetcher == nil || !key.Satisfied(e.cfg.RequiresPrescriberGroup) || key == e.lastSatisfied {
		e.mu.Unlock()
		return
	}
	e.lastSatisfied = key
	e.fetchSeq++
	e.notesLoading = true
	fetcher := e.fetcher
	e.mu.Unlock()

	go func() {
		bundle, err := fetcher.Fetch(ctx, key)

		e.mu.Lock()
		stale := key != e.notesKey()
		e.notesLoading = false
		e.mu.Unlock()

		if stale {
			return
		}
		if err != nil {
			// A failed lookup never blocks the form: prior text stays,
			// the spinner resets, nothing is surfaced.
			e.logger.Debug("clinical notes fetch failed",
				zap.String("pharmacy", string(e.cfg.Pharmacy)),
				zap.Error(err))
			return
		}
		if e.cfg.OnNotes != nil {
			e.cfg.OnNotes(key, bundle)
		}
	}()
}

// NotesLoading reports whether a fetch is in flight.
func (e *Engine) NotesLoading() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.notesLoading
}

// FetchCount returns how many notes fetches have been issued.
func (e *Engine) FetchCount() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fetchSeq
}

// AppendToNotesField appends text into the pharmacy's notes-bearing
// field. Selections append verbatim; nothing is merged or deduped.
func (e *Engine) AppendToNotesField(text string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.cfg.NotesField {
	case NotesFieldInstructions:
		e.draft.ClinicalNotes = appendLine(e.draft.ClinicalNotes, text)
	default:
		e.draft.Directions = appendLine(e.draft.Directions, text)
	}
}

func appendLine(existing, addition string) string {
	if addition == "" {
		return existing
	}
	if existing == "" {
		return addition
	}
	return existing + "\n" + addition
}

// BeginValidation moves the session into Validating.
func (e *Engine) BeginValidation() error {
	return e.transition(StateReadyForInput, StateValidating)
}

// ValidationFailed returns to ReadyForInput after schema violations.
func (e *Engine) ValidationFailed() error {
	return e.transition(StateValidating, StateReadyForInput)
}

// OpenConfirmation freezes the draft for review.
func (e *Engine) OpenConfirmation() error {
	return e.transition(StateValidating, StateConfirmationPending)
}

// CloseConfirmation discards the review without mutating the draft.
func (e *Engine) CloseConfirmation() error {
	return e.transition(StateConfirmationPending, StateReadyForInput)
}

// MarkSubmitted records a successful submission and resets the draft; the
// session is finished.
func (e *Engine) MarkSubmitted() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateConfirmationPending {
		return ErrInvalidTransition
	}
	e.state = StateSubmitted
	e.draft = Draft{Pharmacy: e.cfg.Pharmacy, RxType: RxTypeNew, DateWritten: time.Now().UTC()}
	return nil
}

// MarkSubmissionFailed surfaces the error and keeps the draft intact so
// the operator can correct and resubmit.
func (e *Engine) MarkSubmissionFailed(msg string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateConfirmationPending {
		return ErrInvalidTransition
	}
	e.state = StateSubmissionFailed
	e.lastErr = msg
	return nil
}

// Resume returns a failed session to ReadyForInput for correction. There
// is no automatic retry.
func (e *Engine) Resume() error {
	return e.transition(StateSubmissionFailed, StateReadyForInput)
}

func (e *Engine) transition(from, to State) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != from {
		return ErrInvalidTransition
	}
	e.state = to
	return nil
}

// Close stops the settle timer. An in-flight notes fetch is not cancelled;
// its result is discarded by the stale-key check.
func (e *Engine) Close() {
	e.settle.Stop()
}

// ProductOptions returns the selectable products.
func (e *Engine) ProductOptions() []catalog.Product {
	return e.cfg.Catalog.Products
}

// DosageOptions returns the strength options for the selected product's
// drug family (and route, for NAD).
func (e *Engine) DosageOptions() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.cfg.Catalog.ProductByID(e.draft.ProductID)
	if !ok {
		return nil
	}
	route := p.Route
	if e.draft.Route != "" {
		route = catalog.Route(e.draft.Route)
	}
	return e.cfg.Catalog.DosagesFor(p.Family, route)
}

// ShippingOptions returns the pharmacy's shipping services.
func (e *Engine) ShippingOptions() []catalog.ShippingService {
	return e.cfg.Catalog.Shipping
}

// SupplyDaysOptions returns the preset days-supply list.
func (e *Engine) SupplyDaysOptions() []int {
	return e.cfg.Catalog.SupplyDays
}

func findShippingByLabel(services []catalog.ShippingService, label string) (catalog.ShippingService, bool) {
	needle := strings.ToLower(label)
	for _, s := range services {
		if strings.Contains(strings.ToLower(s.Label), needle) {
			return s, true
		}
	}
	return catalog.ShippingService{}, false
}
