package pharmacy

import (
	"github.com/vitalpath/rxbridge/internal/catalog"
	"github.com/vitalpath/rxbridge/internal/draft"
)

// drugCrafters is a single-vial pharmacy whose auto-fetched notes land in
// the Instructions field instead of Directions.
type drugCrafters struct {
	base
}

func newDrugCrafters() *drugCrafters {
	return &drugCrafters{base{
		name: draft.DrugCrafters,
		caps: Capabilities{
			EndpointPath: "/pharmacies/drug-crafters/orders",
			VialSets:     1,
		},
		sch: schema{
			requireStrength:   true,
			requireShipping:   true,
			requireDaysSupply: true,
			requireDirections: true,
		},
	}}
}

func (a *drugCrafters) EngineConfig(cat *catalog.Catalog) draft.Config {
	return draft.Config{
		Pharmacy:   a.name,
		Catalog:    cat,
		NotesField: draft.NotesFieldInstructions,
	}
}

func (a *drugCrafters) Validate(d *draft.Draft, cat *catalog.Catalog) []*FieldError {
	return a.validate(d, cat)
}

func (a *drugCrafters) BuildPayload(d *draft.Draft) map[string]any {
	body := a.payloadCommon(d)
	body["instructions"] = d.ClinicalNotes
	return body
}
