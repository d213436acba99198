// Package submission builds the final per-pharmacy request from a frozen
// draft and dispatches it. Exactly one request is built per attempt and
// never mutated after construction; a failed attempt leaves the draft
// intact for correction and manual resubmit.
package submission

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"sort"
	"strings"

	"github.com/vitalpath/rxbridge/internal/document"
	"github.com/vitalpath/rxbridge/internal/draft"
	"github.com/vitalpath/rxbridge/internal/pharmacy"
)

// Request is one immutable submission attempt. It serializes cleanly so
// queued attempts can ride the broker to the submission worker.
type Request struct {
	Pharmacy       draft.Pharmacy `json:"pharmacy"`
	Path           string         `json:"path"`
	ContentType    string         `json:"content_type"`
	Body           []byte         `json:"body"`
	IdempotencyKey string         `json:"idempotency_key"`
}

// documentPartName is the multipart field carrying the rasterized
// prescription.
const documentPartName = "document"

// Build maps a frozen draft into the pharmacy's request body. Pharmacies
// that mandate the attached document get multipart form data; everyone
// else gets a JSON body. The artifact may be nil only when the pharmacy
// does not require one.
func Build(d *draft.Draft, adapter pharmacy.Adapter, art *document.Artifact) (*Request, error) {
	caps := adapter.Capabilities()
	body := adapter.BuildPayload(d)

	if caps.NormalizePhone {
		normalizePhones(body)
	}

	req := &Request{
		Pharmacy:       d.Pharmacy,
		Path:           caps.EndpointPath,
		IdempotencyKey: IdempotencyKey(d),
	}

	if !caps.RequiresDocument {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", d.Pharmacy, err)
		}
		req.ContentType = "application/json"
		req.Body = encoded
		return req, nil
	}

	if art == nil || len(art.PDF) == 0 {
		return nil, fmt.Errorf("%s requires the rasterized document and none was generated", d.Pharmacy)
	}
	contentType, encoded, err := encodeMultipart(body, art)
	if err != nil {
		return nil, fmt.Errorf("encode %s multipart payload: %w", d.Pharmacy, err)
	}
	req.ContentType = contentType
	req.Body = encoded
	return req, nil
}

// normalizePhones strips the leading "+" from phone fields. Only the
// pharmacies whose APIs reject E.164 input opt in.
func normalizePhones(body map[string]any) {
	for _, key := range []string{"patientPhone", "prescriberPhone"} {
		if v, ok := body[key].(string); ok {
			body[key] = strings.TrimPrefix(v, "+")
		}
	}
}

// encodeMultipart writes every payload field as a form value, except the
// shipping method: the document-bearing pharmacy APIs reject it at the top
// level, so it is nested under a shipping object instead.
func encodeMultipart(body map[string]any, art *document.Artifact) (string, []byte, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	keys := make([]string, 0, len(body))
	for k := range body {
		if k == "shippingMethod" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if err := w.WriteField(k, fieldValue(body[k])); err != nil {
			return "", nil, err
		}
	}

	if method, ok := body["shippingMethod"].(string); ok && method != "" {
		shipping, err := json.Marshal(map[string]string{"method": method})
		if err != nil {
			return "", nil, err
		}
		if err := w.WriteField("shipping", string(shipping)); err != nil {
			return "", nil, err
		}
	}

	part, err := w.CreatePart(textproto.MIMEHeader{
		"Content-Disposition": {fmt.Sprintf(`form-data; name=%q; filename="prescription.pdf"`, documentPartName)},
		"Content-Type":        {"application/pdf"},
	})
	if err != nil {
		return "", nil, err
	}
	if _, err := part.Write(art.PDF); err != nil {
		return "", nil, err
	}

	if err := w.Close(); err != nil {
		return "", nil, err
	}
	return w.FormDataContentType(), buf.Bytes(), nil
}

func fieldValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		encoded, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(encoded)
	}
}

// IdempotencyKey derives the duplicate-detection key for one prescription:
// the same pharmacy, patient, product, dosage and written date always hash
// to the same key, so a retried submission is recognized downstream.
func IdempotencyKey(d *draft.Draft) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%s",
		d.Pharmacy, d.Patient.ID, d.ProductID, d.Strength,
		d.DateWritten.Format("2006-01-02"))
	return hex.EncodeToString(h.Sum(nil))
}
