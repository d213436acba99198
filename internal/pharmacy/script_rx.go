package pharmacy

import (
	"regexp"

	"github.com/vitalpath/rxbridge/internal/catalog"
	"github.com/vitalpath/rxbridge/internal/draft"
	"github.com/vitalpath/rxbridge/internal/notes"
)

// scriptRx rejects bulleted note text, encodes the fill volume in the
// drug display name, and only accepts days-supply values from its own
// catalog.
type scriptRx struct {
	base
}

func newScriptRx() *scriptRx {
	return &scriptRx{base{
		name: draft.ScriptRx,
		caps: Capabilities{
			EndpointPath:   "/pharmacies/script-rx/orders",
			NormalizePhone: true,
			VialSets:       1,
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

func (a *scriptRx) EngineConfig(cat *catalog.Catalog) draft.Config {
	return draft.Config{
		Pharmacy:   a.name,
		Catalog:    cat,
		NotesField: draft.NotesFieldDirections,
		AutoQuantity: func(productName string) string {
			return QuantityFromDrugName(productName, cat)
		},
		CoerceDaysSupply: func(days int) int {
			return CoerceSupplyDays(days, cat)
		},
	}
}

func (a *scriptRx) Validate(d *draft.Draft, cat *catalog.Catalog) []*FieldError {
	return a.validate(d, cat)
}

func (a *scriptRx) BuildPayload(d *draft.Draft) map[string]any {
	body := a.payloadCommon(d)
	// Script Rx rejects bullet markers in note text.
	body["directions"] = notes.StripBullets(d.Directions)
	body["notes"] = notes.StripBullets(d.ClinicalNotes)
	return body
}

// mlSuffix matches a trailing "<number> ML" in a drug display name, e.g.
// "Tirzepatide 2.5 ML".
var mlSuffix = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*ML\s*$`)

// QuantityFromDrugName parses the fill volume Script Rx encodes in the
// drug name and returns it when the quantity catalog offers it. The empty
// string means no auto-selection.
func QuantityFromDrugName(name string, cat *catalog.Catalog) string {
	m := mlSuffix.FindStringSubmatch(name)
	if m == nil {
		return ""
	}
	if !cat.HasQuantity(m[1]) {
		return ""
	}
	return m[1]
}

// CoerceSupplyDays forces a days-supply value into the catalog: a value
// the catalog does not offer snaps to the first catalog option.
func CoerceSupplyDays(current int, cat *catalog.Catalog) int {
	if cat.HasSupplyDays(current) {
		return current
	}
	if len(cat.SupplyDays) == 0 {
		return current
	}
	return cat.SupplyDays[0]
}
