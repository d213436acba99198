package pharmacy

import (
	"github.com/vitalpath/rxbridge/internal/catalog"
	"github.com/vitalpath/rxbridge/internal/draft"
)

// axtell is the generic single-vial adapter. Several pharmacies were
// onboarded against this shape before growing their own quirks.
type axtell struct {
	base
}

func newAxtell() *axtell {
	return &axtell{base{
		name: draft.Axtell,
		caps: Capabilities{
			EndpointPath: "/pharmacies/axtell/orders",
			VialSets:     1,
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

func (a *axtell) EngineConfig(cat *catalog.Catalog) draft.Config {
	return draft.Config{
		Pharmacy:   a.name,
		Catalog:    cat,
		NotesField: draft.NotesFieldDirections,
	}
}

func (a *axtell) Validate(d *draft.Draft, cat *catalog.Catalog) []*FieldError {
	return a.validate(d, cat)
}

func (a *axtell) BuildPayload(d *draft.Draft) map[string]any {
	return a.payloadCommon(d)
}
