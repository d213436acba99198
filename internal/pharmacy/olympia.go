package pharmacy

import (
	"github.com/vitalpath/rxbridge/internal/catalog"
	"github.com/vitalpath/rxbridge/internal/draft"
)

// olympiaDefaultDirections is always pre-filled into the Directions field
// for Olympia orders.
const olympiaDefaultDirections = "Use as directed"

// olympia defaults to Saturday shipping after the settle delay.
type olympia struct {
	base
}

func newOlympia() *olympia {
	return &olympia{base{
		name: draft.Olympia,
		caps: Capabilities{
			EndpointPath: "/pharmacies/olympia/orders",
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

func (a *olympia) EngineConfig(cat *catalog.Catalog) draft.Config {
	return draft.Config{
		Pharmacy:             a.name,
		Catalog:              cat,
		NotesField:           draft.NotesFieldDirections,
		DefaultShippingLabel: "saturday",
		PrefillDirections:    olympiaDefaultDirections,
	}
}

func (a *olympia) Validate(d *draft.Draft, cat *catalog.Catalog) []*FieldError {
	return a.validate(d, cat)
}

func (a *olympia) BuildPayload(d *draft.Draft) map[string]any {
	return a.payloadCommon(d)
}
