package pharmacy

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vitalpath/rxbridge/internal/catalog"
	"github.com/vitalpath/rxbridge/internal/draft"
)

// optirox requires a client-generated prescription id on every order.
type optirox struct {
	base
}

func newOptirox() *optirox {
	return &optirox{base{
		name: draft.Optirox,
		caps: Capabilities{
			EndpointPath: "/pharmacies/optirox/orders",
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

func (a *optirox) EngineConfig(cat *catalog.Catalog) draft.Config {
	return draft.Config{
		Pharmacy:   a.name,
		Catalog:    cat,
		NotesField: draft.NotesFieldDirections,
	}
}

func (a *optirox) Validate(d *draft.Draft, cat *catalog.Catalog) []*FieldError {
	return a.validate(d, cat)
}

func (a *optirox) BuildPayload(d *draft.Draft) map[string]any {
	body := a.payloadCommon(d)
	id := d.PrescriptionID
	if id == "" {
		id = NewOptiroxPrescriptionID()
	}
	body["prescriptionId"] = id
	return body
}

// NewOptiroxPrescriptionID builds Optirox's random+timestamp prescription
// id.
func NewOptiroxPrescriptionID() string {
	random := strings.SplitN(uuid.New().String(), "-", 2)[0]
	return fmt.Sprintf("%s-%d", random, time.Now().UTC().Unix())
}
