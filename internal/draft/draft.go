// Package draft implements the prescription draft session: the mutable
// entity an operator edits, its lifecycle state machine, and the shared
// field-logic engine that every pharmacy form builds on.
package draft

import (
	"errors"
	"time"

	"github.com/vitalpath/rxbridge/internal/dosage"
)

// Pharmacy is the destination-pharmacy discriminant. It selects which
// adapter, validation schema and payload shape applies to a draft.
type Pharmacy string

const (
	Axtell       Pharmacy = "axtell"
	Cre8         Pharmacy = "cre8"
	PremierRx    Pharmacy = "premier_rx"
	DrugCrafters Pharmacy = "drug_crafters"
	Boothwyn     Pharmacy = "boothwyn"
	FirstChoice  Pharmacy = "first_choice"
	ScriptRx     Pharmacy = "script_rx"
	Olympia      Pharmacy = "olympia"
	Optirox      Pharmacy = "optirox"
	Valiant      Pharmacy = "valiant"
	Beaker       Pharmacy = "beaker"
)

// All lists every supported pharmacy. Adapters register against this set;
// a pharmacy missing from any capability table is a wiring bug caught at
// startup.
func All() []Pharmacy {
	return []Pharmacy{
		Axtell, Cre8, PremierRx, DrugCrafters, Boothwyn,
		FirstChoice, ScriptRx, Olympia, Optirox, Valiant, Beaker,
	}
}

// Valid reports whether p names a supported pharmacy.
func (p Pharmacy) Valid() bool {
	for _, v := range All() {
		if v == p {
			return true
		}
	}
	return false
}

// RxType classifies a prescription as new or a refill. REFILL gates the
// Rx Number field.
type RxType string

const (
	RxTypeNew    RxType = "NEW"
	RxTypeRefill RxType = "REFILL"
)

// OrderType is Boothwyn's order classification. No other pharmacy carries
// this field.
type OrderType string

const (
	OrderTypeDropship    OrderType = "Dropship"
	OrderTypeClinicAdmin OrderType = "Clinic Administration"
)

// State is the draft lifecycle state. The transitions mirror one editing
// session: select pharmacy, let defaults populate, edit, validate, review
// the generated document, submit.
type State string

const (
	StatePharmacySelected    State = "pharmacy_selected"
	StateFieldsPopulating    State = "fields_populating"
	StateReadyForInput       State = "ready_for_input"
	StateValidating          State = "validating"
	StateConfirmationPending State = "confirmation_pending"
	StateSubmitted           State = "submitted"
	StateSubmissionFailed    State = "submission_failed"
)

// ErrInvalidTransition is returned when an operation is attempted from a
// state that does not allow it.
var ErrInvalidTransition = errors.New("draft: invalid state transition")

// Patient is the patient block captured into the draft session.
type Patient struct {
	ID            string `json:"id"`
	FirstName     string `json:"first_name"`
	LastName      string `json:"last_name"`
	DateOfBirth   string `json:"date_of_birth"`
	Phone         string `json:"phone"`
	Email         string `json:"email,omitempty"`
	Address1      string `json:"address1"`
	Address2      string `json:"address2,omitempty"`
	City          string `json:"city"`
	ShippingState string `json:"shipping_state"`
	Zip           string `json:"zip"`
}

// Prescriber is the prescriber block captured into the draft session.
type Prescriber struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	NPI       string `json:"npi"`
	Group     string `json:"group,omitempty"`
}

// PriorInstructions is what the originating order already prescribed.
// Valiant's longevity flow matches against these to decide whether to
// reuse stored directions or fetch fresh notes.
type PriorInstructions struct {
	ProductName string `json:"product_name"`
	Route       string `json:"route"`
	Dosage      string `json:"dosage"`
	Directions  string `json:"directions"`
	DaysSupply  int    `json:"days_supply"`
}

// Order is the originating order context for edit flows.
type Order struct {
	ID          string             `json:"id"`
	Medication  string             `json:"medication"`
	PlanCode    string             `json:"plan_code"`
	Dosage      string             `json:"dosage"`
	IsLongevity bool               `json:"is_longevity"`
	Prior       *PriorInstructions `json:"prior,omitempty"`
	QueryParams map[string]string  `json:"query_params,omitempty"` // non-pharmacy filter state, preserved on redirect
}

// Draft is the central mutable entity: one per patient-form session.
// Total-mg/total-ml are pure functions of their inputs and are recomputed
// by the engine on every change, never written directly.
type Draft struct {
	Pharmacy Pharmacy `json:"pharmacy"`

	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	DrugForm    string `json:"drug_form"`

	RxType   RxType `json:"rx_type"`
	RxNumber string `json:"rx_number,omitempty"`

	Strength     string `json:"strength"`
	Route        string `json:"route,omitempty"`
	StartingDose string `json:"starting_dose,omitempty"`

	VialSets      [dosage.MaxVialSets]dosage.VialSet `json:"vial_sets"`
	QuantityUnits string                             `json:"quantity_units"`

	ShippingService string    `json:"shipping_service"`
	Refills         string    `json:"refills"`
	DaysSupply      int       `json:"days_supply"`
	OrderType       OrderType `json:"order_type,omitempty"`

	Directions    string `json:"directions"`
	ClinicalNotes string `json:"clinical_notes"`

	DateWritten time.Time `json:"date_written"`

	TotalMG string  `json:"total_mg"`
	TotalML float64 `json:"total_ml"`

	PrescriptionID string `json:"prescription_id,omitempty"`
	DocumentRef    string `json:"document_ref,omitempty"`

	Patient    Patient    `json:"patient"`
	Prescriber Prescriber `json:"prescriber"`
	Order      *Order     `json:"order,omitempty"`
}

// PrimaryQuantity returns the first vial set's size, the field most
// per-pharmacy schemas mean by "quantity".
func (d *Draft) PrimaryQuantity() string {
	return d.VialSets[0].Quantity
}

// PresentVialSets returns the sets that carry a quantity, in position
// order.
func (d *Draft) PresentVialSets() []dosage.VialSet {
	var out []dosage.VialSet
	for _, s := range d.VialSets {
		if dosage.Num(s.Quantity) != 0 {
			out = append(out, s)
		}
	}
	return out
}
