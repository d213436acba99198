package pharmacy

import (
	"context"
	"strings"
	"time"

	"github.com/vitalpath/rxbridge/internal/catalog"
	"github.com/vitalpath/rxbridge/internal/draft"
	"github.com/vitalpath/rxbridge/pkg/debounce"
)

// Valiant settle delays. Longevity auto-population waits for the order
// context to settle, then applies directions in a second short step so the
// product/route/dosage writes land before the directions decision reads
// them.
const (
	ValiantLongevitySettle = 500 * time.Millisecond
	ValiantLongevityApply  = 100 * time.Millisecond
)

// valiant handles NAD ("longevity") orders: route and starting dose are
// part of the prescription, and directions come from the originating
// order's stored instructions whenever the selection still matches them
// exactly.
type valiant struct {
	base
}

func newValiant() *valiant {
	return &valiant{base{
		name: draft.Valiant,
		caps: Capabilities{
			EndpointPath:   "/pharmacies/valiant/orders",
			NormalizePhone: true,
			VialSets:       1,
			Document:       DocumentRules{ShowRoute: true},
		},
		sch: schema{
			requireStrength:   true,
			requireShipping:   true,
			requireDaysSupply: true,
			requireDirections: true,
		},
	}}
}

func (a *valiant) EngineConfig(cat *catalog.Catalog) draft.Config {
	return draft.Config{
		Pharmacy:   a.name,
		Catalog:    cat,
		NotesField: draft.NotesFieldDirections,
		// Valiant keys clinical notes by prescriber group.
		RequiresPrescriberGroup: true,
	}
}

func (a *valiant) Validate(d *draft.Draft, cat *catalog.Catalog) []*FieldError {
	errs := a.validate(d, cat)

	// Route and starting dose only exist for NAD products.
	if p, ok := cat.ProductByID(d.ProductID); ok && p.Family == catalog.FamilyNAD {
		if d.Route == "" {
			errs = append(errs, &FieldError{Field: "route", Code: CodeConditional, Message: "route is required for NAD products"})
		}
		if d.StartingDose == "" {
			errs = append(errs, &FieldError{Field: "startingDose", Code: CodeConditional, Message: "starting dose is required for NAD products"})
		}
	}
	return errs
}

func (a *valiant) BuildPayload(d *draft.Draft) map[string]any {
	body := a.payloadCommon(d)
	body["route"] = d.Route
	body["startingDose"] = d.StartingDose
	return body
}

// LongevityMatch reports whether a (product, route, dosage) selection
// still matches the originating order's stored prescription instructions
// exactly. A match means the order's own directions are reused; anything
// else triggers a fresh notes lookup.
func LongevityMatch(prior *draft.PriorInstructions, productName, route, dosage string) bool {
	if prior == nil {
		return false
	}
	return strings.EqualFold(prior.ProductName, productName) &&
		strings.EqualFold(prior.Route, route) &&
		prior.Dosage == dosage
}

// DirectionsFromOrder returns the stored directions when the current
// selection matches the prior instructions, and whether it did.
func DirectionsFromOrder(order *draft.Order, productName, route, dosage string) (string, bool) {
	if order == nil || order.Prior == nil {
		return "", false
	}
	if !LongevityMatch(order.Prior, productName, route, dosage) {
		return "", false
	}
	return order.Prior.Directions, true
}

// ApplyLongevitySelection auto-selects the NAD product, route and dosage
// matching the order's prior instructions. It returns false when the order
// is not a longevity order or no catalog product matches.
func ApplyLongevitySelection(ctx context.Context, e *draft.Engine, cat *catalog.Catalog, order *draft.Order) bool {
	if order == nil || !order.IsLongevity || order.Prior == nil {
		return false
	}

	for _, p := range cat.Products {
		if p.Family != catalog.FamilyNAD || !strings.EqualFold(p.Name, order.Prior.ProductName) {
			continue
		}
		e.SetProduct(ctx, p.ID)
		e.Mutate(func(d *draft.Draft) {
			d.Route = order.Prior.Route
			d.StartingDose = order.Prior.Dosage
		})
		e.SetStrength(ctx, order.Prior.Dosage)
		if order.Prior.DaysSupply != 0 {
			e.SetDaysSupply(ctx, order.Prior.DaysSupply)
		}
		return true
	}
	return false
}

// ScheduleLongevityPopulate runs the longevity auto-population behind the
// 500ms settle, then applies directions after the chained 100ms delay.
// Returns the settle timer so the caller can cancel on teardown.
func ScheduleLongevityPopulate(ctx context.Context, e *draft.Engine, cat *catalog.Catalog, order *draft.Order) *debounce.Timer {
	settle := debounce.New(ValiantLongevitySettle)
	settle.Trigger(func() {
		if !ApplyLongevitySelection(ctx, e, cat, order) {
			return
		}
		apply := debounce.New(ValiantLongevityApply)
		apply.Trigger(func() {
			d := e.Snapshot()
			if directions, ok := DirectionsFromOrder(order, d.ProductName, d.Route, d.Strength); ok {
				e.Mutate(func(dr *draft.Draft) { dr.Directions = directions })
			}
			// No exact match: the engine's notes gate fetches fresh
			// directions once the tuple is satisfied.
		})
	})
	return settle
}
