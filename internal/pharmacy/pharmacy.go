// Package pharmacy defines the per-pharmacy capability records: validation
// schema, engine default configuration, derived totals and payload shape.
// Every supported pharmacy is a concrete Adapter; the registry guarantees
// that adding a pharmacy to the enum without an adapter fails at startup
// instead of surfacing as a missing lookup-table entry at submit time.
package pharmacy

import (
	"fmt"

	"github.com/vitalpath/rxbridge/internal/catalog"
	"github.com/vitalpath/rxbridge/internal/draft"
)

// FieldError is one validation-schema violation.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Error codes shared across adapters.
const (
	CodeRequired    = "REQUIRED"
	CodeInvalid     = "INVALID"
	CodeConditional = "CONDITIONAL_REQUIRED"
)

// DocumentRules control pharmacy-conditional lines on the confirmation
// document.
type DocumentRules struct {
	// OmitRefills drops the Refills line entirely (Boothwyn).
	OmitRefills bool
	// ShowOrderType adds the Order Type line (Boothwyn).
	ShowOrderType bool
	// ShowRoute adds the administration-route line (Valiant NAD).
	ShowRoute bool
}

// Capabilities is the static capability record for one pharmacy.
type Capabilities struct {
	// EndpointPath is the submission endpoint path for this pharmacy.
	EndpointPath string
	// RequiresDocument switches the submission to multipart form data
	// with the rasterized prescription attached.
	RequiresDocument bool
	// NormalizePhone strips the leading "+" from phone numbers before
	// submission. Only a subset of pharmacy APIs reject E.164 input.
	NormalizePhone bool
	// VialSets is how many concurrent (vial-size, vial-count) pairs the
	// pharmacy accepts (1 to 3).
	VialSets int
	// Document carries the confirmation-document line rules.
	Document DocumentRules
}

// Adapter is the capability interface every pharmacy variant implements.
type Adapter interface {
	Name() draft.Pharmacy
	Capabilities() Capabilities
	// EngineConfig supplies the field-logic engine's per-pharmacy knobs.
	EngineConfig(cat *catalog.Catalog) draft.Config
	// Validate applies the pharmacy's validation schema. An empty result
	// clears the draft for review.
	Validate(d *draft.Draft, cat *catalog.Catalog) []*FieldError
	// BuildPayload maps the frozen draft into the pharmacy's request
	// body. The body is built once per submission attempt and never
	// mutated afterwards.
	BuildPayload(d *draft.Draft) map[string]any
}

// Registry holds one adapter per supported pharmacy.
type Registry struct {
	adapters map[draft.Pharmacy]Adapter
}

// NewRegistry builds the full adapter set and verifies that every
// pharmacy in the enum has exactly one adapter.
func NewRegistry() (*Registry, error) {
	all := []Adapter{
		newAxtell(),
		newCre8(),
		newPremierRx(),
		newDrugCrafters(),
		newBoothwyn(),
		newFirstChoice(),
		newScriptRx(),
		newOlympia(),
		newOptirox(),
		newValiant(),
		newBeaker(),
	}

	adapters := make(map[draft.Pharmacy]Adapter, len(all))
	for _, a := range all {
		if _, dup := adapters[a.Name()]; dup {
			return nil, fmt.Errorf("pharmacy: duplicate adapter for %q", a.Name())
		}
		adapters[a.Name()] = a
	}
	for _, p := range draft.All() {
		if _, ok := adapters[p]; !ok {
			return nil, fmt.Errorf("pharmacy: no adapter registered for %q", p)
		}
	}
	return &Registry{adapters: adapters}, nil
}

// For returns the adapter for a pharmacy.
func (r *Registry) For(p draft.Pharmacy) (Adapter, error) {
	a, ok := r.adapters[p]
	if !ok {
		return nil, fmt.Errorf("pharmacy: unsupported pharmacy %q", p)
	}
	return a, nil
}

// schema is the shared required-field configuration the base validation
// walks. Variants toggle what their API actually demands.
type schema struct {
	requireStrength   bool
	requireShipping   bool
	requireRefills    bool
	requireDaysSupply bool
	requireDirections bool
	requireDrugForm   bool
	requireOrderType  bool
	requireRoute      bool
	// allowCustomDaysSupply accepts a days-supply value outside the
	// catalog preset list (First Choice operators type their own).
	allowCustomDaysSupply bool
}

// base carries the behavior shared by every adapter.
type base struct {
	name draft.Pharmacy
	caps Capabilities
	sch  schema
}

func (b *base) Name() draft.Pharmacy       { return b.name }
func (b *base) Capabilities() Capabilities { return b.caps }

// validate runs the shared schema checks. Variant Validate methods call
// this first and append their own rules.
func (b *base) validate(d *draft.Draft, cat *catalog.Catalog) []*FieldError {
	var errs []*FieldError

	if d.ProductID == "" {
		errs = append(errs, &FieldError{Field: "drugName", Code: CodeRequired, Message: "drug name is required"})
	}
	if d.PrimaryQuantity() == "" {
		errs = append(errs, &FieldError{Field: "quantity", Code: CodeRequired, Message: "quantity is required"})
	}
	if d.RxType != draft.RxTypeNew && d.RxType != draft.RxTypeRefill {
		errs = append(errs, &FieldError{Field: "rxType", Code: CodeInvalid, Message: "rx type must be NEW or REFILL"})
	}
	// The Rx Number field only exists when the prescription is a refill.
	if d.RxType == draft.RxTypeRefill && d.RxNumber == "" {
		errs = append(errs, &FieldError{Field: "rxNumber", Code: CodeConditional, Message: "rx number is required for refills"})
	}
	if d.DateWritten.IsZero() {
		errs = append(errs, &FieldError{Field: "dateWritten", Code: CodeRequired, Message: "date written is required"})
	}

	if b.sch.requireStrength && d.Strength == "" {
		errs = append(errs, &FieldError{Field: "strength", Code: CodeRequired, Message: "strength is required"})
	}
	if b.sch.requireShipping && d.ShippingService == "" {
		errs = append(errs, &FieldError{Field: "shippingService", Code: CodeRequired, Message: "shipping service is required"})
	}
	if b.sch.requireRefills && d.Refills == "" {
		errs = append(errs, &FieldError{Field: "refills", Code: CodeRequired, Message: "refills is required"})
	}
	if b.sch.requireDaysSupply {
		switch {
		case d.DaysSupply == 0:
			errs = append(errs, &FieldError{Field: "daysSupply", Code: CodeRequired, Message: "days supply is required"})
		case !b.sch.allowCustomDaysSupply && !cat.HasSupplyDays(d.DaysSupply):
			errs = append(errs, &FieldError{Field: "daysSupply", Code: CodeInvalid, Message: "days supply is not offered by this pharmacy"})
		}
	}
	if b.sch.requireDirections && d.Directions == "" {
		errs = append(errs, &FieldError{Field: "directions", Code: CodeRequired, Message: "directions are required"})
	}
	if b.sch.requireDrugForm && d.DrugForm == "" {
		errs = append(errs, &FieldError{Field: "drugForm", Code: CodeRequired, Message: "drug form is required"})
	}
	if b.sch.requireOrderType && d.OrderType == "" {
		errs = append(errs, &FieldError{Field: "orderType", Code: CodeRequired, Message: "order type is required"})
	}
	if b.sch.requireRoute && d.Route == "" {
		errs = append(errs, &FieldError{Field: "route", Code: CodeRequired, Message: "route is required"})
	}

	return errs
}

// payloadCommon maps the fields every pharmacy body shares.
func (b *base) payloadCommon(d *draft.Draft) map[string]any {
	body := map[string]any{
		"pharmacy":      string(d.Pharmacy),
		"patientId":     d.Patient.ID,
		"patientFirst":  d.Patient.FirstName,
		"patientLast":   d.Patient.LastName,
		"patientDob":    d.Patient.DateOfBirth,
		"patientPhone":  d.Patient.Phone,
		"address1":      d.Patient.Address1,
		"address2":      d.Patient.Address2,
		"city":          d.Patient.City,
		"state":         d.Patient.ShippingState,
		"zip":           d.Patient.Zip,
		"prescriberId":  d.Prescriber.ID,
		"prescriberNpi": d.Prescriber.NPI,
		"drugName":      d.ProductName,
		"drugForm":      d.DrugForm,
		"rxType":        string(d.RxType),
		"strength":      d.Strength,
		"quantity":      d.PrimaryQuantity(),
		"quantityUnits": d.QuantityUnits,
		"refills":       d.Refills,
		"daysSupply":    d.DaysSupply,
		"directions":    d.Directions,
		"notes":         d.ClinicalNotes,
		"dateWritten":   d.DateWritten.Format("2006-01-02"),
	}
	if d.RxType == draft.RxTypeRefill {
		body["rxNumber"] = d.RxNumber
	}
	if d.ShippingService != "" {
		body["shippingMethod"] = d.ShippingService
	}
	return body
}
