package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Repository loads pharmacy catalogs and dosage mappings from Postgres.
type Repository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewRepository creates a new repository.
func NewRepository(pool *pgxpool.Pool, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{pool: pool, logger: logger}
}

// LoadCatalog retrieves the full catalog snapshot for one pharmacy.
func (r *Repository) LoadCatalog(ctx context.Context, pharmacyID string) (*Catalog, error) {
	c := &Catalog{
		Dosages:    make(map[DrugFamily][]string),
		NADDosages: make(map[Route][]string),
	}

	if err := r.loadProducts(ctx, pharmacyID, c); err != nil {
		return nil, fmt.Errorf("load products: %w", err)
	}
	if err := r.loadDosages(ctx, pharmacyID, c); err != nil {
		return nil, fmt.Errorf("load dosages: %w", err)
	}
	if err := r.loadShipping(ctx, pharmacyID, c); err != nil {
		return nil, fmt.Errorf("load shipping: %w", err)
	}
	if err := r.loadLists(ctx, pharmacyID, c); err != nil {
		return nil, fmt.Errorf("load lists: %w", err)
	}

	r.logger.Debug("catalog loaded",
		zap.String("pharmacy_id", pharmacyID),
		zap.Int("products", len(c.Products)),
		zap.Int("shipping_services", len(c.Shipping)))

	return c, nil
}

func (r *Repository) loadProducts(ctx context.Context, pharmacyID string, c *Catalog) error {
	query := `
		SELECT id, external_id, name, form, drug_family, route,
		       COALESCE(concentration, 0), quantities
		FROM pharmacy_products
		WHERE pharmacy_id = $1
		ORDER BY name ASC
	`
	rows, err := r.pool.Query(ctx, query, pharmacyID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.ExternalID, &p.Name, &p.Form,
			&p.Family, &p.Route, &p.Concentration, &p.Quantities); err != nil {
			return err
		}
		c.Products = append(c.Products, p)
	}
	return rows.Err()
}

func (r *Repository) loadDosages(ctx context.Context, pharmacyID string, c *Catalog) error {
	query := `
		SELECT drug_family, route, strength
		FROM pharmacy_dosages
		WHERE pharmacy_id = $1
		ORDER BY drug_family, route, ordinal ASC
	`
	rows, err := r.pool.Query(ctx, query, pharmacyID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var family DrugFamily
		var route Route
		var strength string
		if err := rows.Scan(&family, &route, &strength); err != nil {
			return err
		}
		if family == FamilyNAD {
			c.NADDosages[route] = append(c.NADDosages[route], strength)
			continue
		}
		c.Dosages[family] = append(c.Dosages[family], strength)
	}
	return rows.Err()
}

func (r *Repository) loadShipping(ctx context.Context, pharmacyID string, c *Catalog) error {
	query := `
		SELECT id, label
		FROM pharmacy_shipping_services
		WHERE pharmacy_id = $1
		ORDER BY ordinal ASC
	`
	rows, err := r.pool.Query(ctx, query, pharmacyID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var s ShippingService
		if err := rows.Scan(&s.ID, &s.Label); err != nil {
			return err
		}
		c.Shipping = append(c.Shipping, s)
	}
	return rows.Err()
}

func (r *Repository) loadLists(ctx context.Context, pharmacyID string, c *Catalog) error {
	if err := r.pool.QueryRow(ctx,
		`SELECT quantities, supply_days, forbidden_states
		 FROM pharmacy_config WHERE pharmacy_id = $1`,
		pharmacyID,
	).Scan(&c.Quantities, &c.SupplyDays, &c.ForbiddenStates); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return err
	}
	return nil
}

// LookupDosageMapping returns the external product id correlated with the
// key, or "" when no correlation exists. Incomplete keys skip the query
// entirely.
func (r *Repository) LookupDosageMapping(ctx context.Context, key MappingKey) (string, error) {
	if !key.Complete() {
		return "", nil
	}

	var productID string
	err := r.pool.QueryRow(ctx,
		`SELECT product_external_id
		 FROM dosage_mappings
		 WHERE pharmacy_id = $1 AND medication = $2 AND plan_code = $3 AND dosage = $4`,
		key.PharmacyID, key.Medication, key.PlanCode, key.Dosage,
	).Scan(&productID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("dosage mapping lookup: %w", err)
	}
	return productID, nil
}
