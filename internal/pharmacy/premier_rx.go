package pharmacy

import (
	"github.com/vitalpath/rxbridge/internal/catalog"
	"github.com/vitalpath/rxbridge/internal/dosage"
	"github.com/vitalpath/rxbridge/internal/draft"
)

// premierRx is the two-vial-set variant of the Cre8 shape.
type premierRx struct {
	base
}

func newPremierRx() *premierRx {
	return &premierRx{base{
		name: draft.PremierRx,
		caps: Capabilities{
			EndpointPath:     "/pharmacies/premier-rx/orders",
			RequiresDocument: true,
			VialSets:         2,
		},
		sch: schema{
			requireStrength:   true,
			requireShipping:   true,
			requireRefills:    true,
			requireDaysSupply: true,
			requireDirections: true,
		},
	}}
}

func (a *premierRx) EngineConfig(cat *catalog.Catalog) draft.Config {
	return draft.Config{
		Pharmacy:   a.name,
		Catalog:    cat,
		NotesField: draft.NotesFieldDirections,
	}
}

func (a *premierRx) Validate(d *draft.Draft, cat *catalog.Catalog) []*FieldError {
	errs := a.validate(d, cat)
	// Premier Rx takes at most two sets; a populated third is an entry
	// error, not silently dropped.
	if dosage.Num(d.VialSets[2].Quantity) != 0 || d.VialSets[2].Vials != "" {
		errs = append(errs, &FieldError{
			Field:   "quantity3",
			Code:    CodeInvalid,
			Message: "premier rx accepts at most two vial sets",
		})
	}
	return errs
}

func (a *premierRx) BuildPayload(d *draft.Draft) map[string]any {
	body := a.payloadCommon(d)
	body["totalMg"] = d.TotalMG
	body["totalMl"] = d.TotalML
	body["vials"] = vialSetPayload(d)
	return body
}
