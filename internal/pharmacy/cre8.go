package pharmacy

import (
	"github.com/vitalpath/rxbridge/internal/catalog"
	"github.com/vitalpath/rxbridge/internal/dosage"
	"github.com/vitalpath/rxbridge/internal/draft"
)

// cre8 accepts up to three concurrent vial sets and bills by total mg, so
// its payload carries the derived totals alongside the per-set pairs. The
// 90-day compounding overrides in the dosage package exist for this
// pharmacy's dose tiers.
type cre8 struct {
	base
}

func newCre8() *cre8 {
	return &cre8{base{
		name: draft.Cre8,
		caps: Capabilities{
			EndpointPath:     "/pharmacies/cre8/orders",
			RequiresDocument: true,
			NormalizePhone:   true,
			VialSets:         3,
		},
		sch: schema{
			requireStrength:   true,
			requireShipping:   true,
			requireRefills:    true,
			requireDaysSupply: true,
			requireDirections: true,
			requireDrugForm:   true,
		},
	}}
}

func (a *cre8) EngineConfig(cat *catalog.Catalog) draft.Config {
	return draft.Config{
		Pharmacy:   a.name,
		Catalog:    cat,
		NotesField: draft.NotesFieldDirections,
	}
}

func (a *cre8) Validate(d *draft.Draft, cat *catalog.Catalog) []*FieldError {
	errs := a.validate(d, cat)
	// Any populated extra vial set needs a parseable size.
	for i, set := range d.VialSets {
		if set.Vials != "" && dosage.Num(set.Quantity) == 0 {
			errs = append(errs, &FieldError{
				Field:   vialSetField(i),
				Code:    CodeInvalid,
				Message: "vial size is required when a vial count is entered",
			})
		}
	}
	return errs
}

func (a *cre8) BuildPayload(d *draft.Draft) map[string]any {
	body := a.payloadCommon(d)
	body["totalMg"] = d.TotalMG
	body["totalMl"] = d.TotalML
	body["vials"] = vialSetPayload(d)
	body["vialDisplay"] = dosage.VialDisplay(d.QuantityUnits, d.PresentVialSets()...)
	return body
}

func vialSetField(i int) string {
	switch i {
	case 1:
		return "quantity2"
	case 2:
		return "quantity3"
	default:
		return "quantity"
	}
}

func vialSetPayload(d *draft.Draft) []map[string]string {
	var out []map[string]string
	for _, set := range d.PresentVialSets() {
		vials := set.Vials
		if dosage.Num(vials) == 0 {
			vials = "1"
		}
		out = append(out, map[string]string{
			"size":  set.Quantity,
			"count": vials,
		})
	}
	return out
}

// PreselectFromMapping resolves a dosage-mapping correlation to a catalog
// product. Cre8 and Premier Rx auto-select the drug name on edit flows
// when the order's prescribed dosage maps to an external product id.
func PreselectFromMapping(cat *catalog.Catalog, externalID string) (catalog.Product, bool) {
	return cat.ProductByExternalID(externalID)
}
