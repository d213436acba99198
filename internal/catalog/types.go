// Package catalog holds the read-only per-pharmacy sellable data: products,
// dosage catalogs, shipping services, vial sizes, supply days and forbidden
// states. Catalog entries are immutable once loaded; the draft engine only
// ever reads them.
package catalog

// DrugFamily groups products that share a dosage catalog.
type DrugFamily string

const (
	FamilySemaglutide DrugFamily = "semaglutide"
	FamilyTirzepatide DrugFamily = "tirzepatide"
	FamilyNAD         DrugFamily = "nad"
)

// Route is the administration route. Only NAD products split their dosage
// catalog by route.
type Route string

const (
	RouteIM Route = "IM"
	RouteSQ Route = "SQ"
)

// Product is one sellable drug product at one pharmacy.
type Product struct {
	ID            string     `json:"id"`
	ExternalID    string     `json:"external_id,omitempty"`
	Name          string     `json:"name"`
	Form          string     `json:"form"`
	Family        DrugFamily `json:"family"`
	Route         Route      `json:"route,omitempty"`
	Concentration float64    `json:"concentration,omitempty"` // mg per unit volume; 0 when not applicable
	Quantities    []string   `json:"quantities,omitempty"`
}

// ShippingService is one shipping option a pharmacy offers.
type ShippingService struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// MappingKey identifies one dosage→product correlation in the external
// system. The lookup is skipped entirely when any component is absent.
type MappingKey struct {
	PharmacyID string
	Medication string
	PlanCode   string
	Dosage     string
}

// Complete reports whether every key component is present.
func (k MappingKey) Complete() bool {
	return k.PharmacyID != "" && k.Medication != "" && k.PlanCode != "" && k.Dosage != ""
}

// Catalog is the full read-only snapshot for one pharmacy.
type Catalog struct {
	Products        []Product
	Dosages         map[DrugFamily][]string
	NADDosages      map[Route][]string
	Shipping        []ShippingService
	Quantities      []string
	SupplyDays      []int
	ForbiddenStates []string
}

// ProductByID returns the product with the given internal id.
func (c *Catalog) ProductByID(id string) (Product, bool) {
	for _, p := range c.Products {
		if p.ID == id {
			return p, true
		}
	}
	return Product{}, false
}

// ProductByExternalID returns the product carrying the external
// cross-reference id, used by dosage-mapping pre-selection.
func (c *Catalog) ProductByExternalID(id string) (Product, bool) {
	if id == "" {
		return Product{}, false
	}
	for _, p := range c.Products {
		if p.ExternalID == id {
			return p, true
		}
	}
	return Product{}, false
}

// DosagesFor returns the strength options for a product. NAD products key
// their catalog by route; every other family ignores the route.
func (c *Catalog) DosagesFor(family DrugFamily, route Route) []string {
	if family == FamilyNAD {
		return c.NADDosages[route]
	}
	return c.Dosages[family]
}

// HasQuantity reports whether a vial size is in the quantity catalog.
func (c *Catalog) HasQuantity(q string) bool {
	for _, v := range c.Quantities {
		if v == q {
			return true
		}
	}
	return false
}

// HasSupplyDays reports whether a days-supply value is in the preset list.
func (c *Catalog) HasSupplyDays(days int) bool {
	for _, v := range c.SupplyDays {
		if v == days {
			return true
		}
	}
	return false
}

// IsForbiddenState reports whether the pharmacy refuses to ship to the
// given state.
func (c *Catalog) IsForbiddenState(state string) bool {
	for _, s := range c.ForbiddenStates {
		if s == state {
			return true
		}
	}
	return false
}
