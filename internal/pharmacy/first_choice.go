package pharmacy

import (
	"github.com/vitalpath/rxbridge/internal/catalog"
	"github.com/vitalpath/rxbridge/internal/draft"
)

// firstChoiceDefaultDaysSupply is set when the operator opens an empty
// days-supply dropdown; no network call is involved.
const firstChoiceDefaultDaysSupply = 90

// firstChoice defaults shipping to FedEx standard overnight and lets the
// operator type a days-supply value outside the preset list.
type firstChoice struct {
	base
}

func newFirstChoice() *firstChoice {
	return &firstChoice{base{
		name: draft.FirstChoice,
		caps: Capabilities{
			EndpointPath:   "/pharmacies/first-choice/orders",
			NormalizePhone: true,
			VialSets:       1,
		},
		sch: schema{
			requireStrength:       true,
			requireShipping:       true,
			requireRefills:        true,
			requireDaysSupply:     true,
			requireDirections:     true,
			allowCustomDaysSupply: true,
		},
	}}
}

func (a *firstChoice) EngineConfig(cat *catalog.Catalog) draft.Config {
	return draft.Config{
		Pharmacy:             a.name,
		Catalog:              cat,
		NotesField:           draft.NotesFieldDirections,
		DefaultDaysSupply:    firstChoiceDefaultDaysSupply,
		DefaultShippingLabel: "fedex standard overnight",
	}
}

func (a *firstChoice) Validate(d *draft.Draft, cat *catalog.Catalog) []*FieldError {
	return a.validate(d, cat)
}

func (a *firstChoice) BuildPayload(d *draft.Draft) map[string]any {
	return a.payloadCommon(d)
}

// DaysSupplyOrDefault returns the value to show when the dropdown opens:
// the current selection, or 90 when nothing is selected yet.
func DaysSupplyOrDefault(current int) int {
	if current == 0 {
		return firstChoiceDefaultDaysSupply
	}
	return current
}
