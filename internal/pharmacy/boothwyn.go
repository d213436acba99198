package pharmacy

import (
	"github.com/vitalpath/rxbridge/internal/catalog"
	"github.com/vitalpath/rxbridge/internal/draft"
)

// boothwyn is the only pharmacy with an Order Type field (Dropship vs
// Clinic Administration) and the only one whose confirmation document
// omits the Refills line.
type boothwyn struct {
	base
}

func newBoothwyn() *boothwyn {
	return &boothwyn{base{
		name: draft.Boothwyn,
		caps: Capabilities{
			EndpointPath:     "/pharmacies/boothwyn/orders",
			RequiresDocument: true,
			VialSets:         1,
			Document: DocumentRules{
				OmitRefills:   true,
				ShowOrderType: true,
			},
		},
		sch: schema{
			requireStrength:   true,
			requireShipping:   true,
			requireDaysSupply: true,
			requireDirections: true,
			requireOrderType:  true,
		},
	}}
}

func (a *boothwyn) EngineConfig(cat *catalog.Catalog) draft.Config {
	return draft.Config{
		Pharmacy:   a.name,
		Catalog:    cat,
		NotesField: draft.NotesFieldDirections,
	}
}

func (a *boothwyn) Validate(d *draft.Draft, cat *catalog.Catalog) []*FieldError {
	errs := a.validate(d, cat)
	if d.OrderType != "" && d.OrderType != draft.OrderTypeDropship && d.OrderType != draft.OrderTypeClinicAdmin {
		errs = append(errs, &FieldError{
			Field:   "orderType",
			Code:    CodeInvalid,
			Message: "order type must be Dropship or Clinic Administration",
		})
	}
	return errs
}

func (a *boothwyn) BuildPayload(d *draft.Draft) map[string]any {
	body := a.payloadCommon(d)
	body["orderType"] = string(d.OrderType)
	return body
}
