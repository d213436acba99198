// Package notes talks to the clinical-notes source and assembles note text
// for the Directions/Instructions fields.
package notes

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Note is one selectable clinical-difference statement.
type Note struct {
	ID   string `json:"id"`
	Note string `json:"note"`
}

// Bundle is the clinical-notes lookup result. Bundles are never cached
// across distinct key tuples within a session.
type Bundle struct {
	ClinicalNotes []Note   `json:"clinicalNotes"`
	GeneralNotes  []string `json:"generalNotes"`
}

// Key is the lookup tuple. PrescriberGroup is only required by pharmacies
// that key their notes by prescriber group or route.
type Key struct {
	ProductID       string
	Strength        string
	DaysSupply      string
	PrescriberGroup string
}

// Satisfied reports whether every required component is present.
func (k Key) Satisfied(requireGroup bool) bool {
	if k.ProductID == "" || k.Strength == "" || k.DaysSupply == "" {
		return false
	}
	if requireGroup && k.PrescriberGroup == "" {
		return false
	}
	return true
}

// Client fetches clinical-note bundles over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient creates a notes client.
func NewClient(baseURL string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
	}
}

// Fetch retrieves the bundle for one key tuple.
func (c *Client) Fetch(ctx context.Context, key Key) (*Bundle, error) {
	ctx, span := otel.Tracer("notes-client").Start(ctx, "fetch_clinical_notes")
	defer span.End()
	span.SetAttributes(
		attribute.String("product_id", key.ProductID),
		attribute.String("strength", key.Strength),
	)

	q := url.Values{}
	q.Set("product", key.ProductID)
	q.Set("strength", key.Strength)
	q.Set("days_supply", key.DaysSupply)
	if key.PrescriberGroup != "" {
		q.Set("prescriber_group", key.PrescriberGroup)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/clinical-notes?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build notes request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch notes: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("notes source returned %d", resp.StatusCode)
	}

	var bundle Bundle
	if err := json.NewDecoder(resp.Body).Decode(&bundle); err != nil {
		return nil, fmt.Errorf("decode notes response: %w", err)
	}

	c.logger.Debug("clinical notes fetched",
		zap.String("product_id", key.ProductID),
		zap.Int("clinical", len(bundle.ClinicalNotes)),
		zap.Int("general", len(bundle.GeneralNotes)))

	return &bundle, nil
}
