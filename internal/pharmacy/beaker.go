package pharmacy

import (
	"github.com/vitalpath/rxbridge/internal/catalog"
	"github.com/vitalpath/rxbridge/internal/draft"
)

// beaker identifies each transmission by the prescriber's own id rather
// than a generated value.
type beaker struct {
	base
}

func newBeaker() *beaker {
	return &beaker{base{
		name: draft.Beaker,
		caps: Capabilities{
			EndpointPath: "/pharmacies/beaker/orders",
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

func (a *beaker) EngineConfig(cat *catalog.Catalog) draft.Config {
	return draft.Config{
		Pharmacy:   a.name,
		Catalog:    cat,
		NotesField: draft.NotesFieldDirections,
	}
}

func (a *beaker) Validate(d *draft.Draft, cat *catalog.Catalog) []*FieldError {
	errs := a.validate(d, cat)
	if d.Prescriber.ID == "" {
		errs = append(errs, &FieldError{
			Field:   "prescriberId",
			Code:    CodeRequired,
			Message: "prescriber id is required for the transmission id",
		})
	}
	return errs
}

func (a *beaker) BuildPayload(d *draft.Draft) map[string]any {
	body := a.payloadCommon(d)
	body["transmissionId"] = d.Prescriber.ID
	return body
}
