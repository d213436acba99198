package submission

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/vitalpath/rxbridge/internal/catalog"
	"github.com/vitalpath/rxbridge/internal/document"
	"github.com/vitalpath/rxbridge/internal/draft"
	"github.com/vitalpath/rxbridge/internal/pharmacy"
	"github.com/vitalpath/rxbridge/pkg/circuitbreaker"
)

// Result is a successful submission outcome.
type Result struct {
	Pharmacy    draft.Pharmacy `json:"pharmacy"`
	Status      int            `json:"status"`
	RedirectURL string         `json:"redirect_url,omitempty"`
	SubmittedAt time.Time      `json:"submitted_at"`
}

// Doer is the HTTP client surface the dispatcher needs.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Dispatcher posts built requests to the pharmacy gateway, one circuit
// breaker per destination pharmacy.
type Dispatcher struct {
	client   Doer
	baseURL  string
	breakers *circuitbreaker.Manager
	logger   *zap.Logger
	tracer   trace.Tracer
}

func NewDispatcher(client Doer, baseURL string, breakers *circuitbreaker.Manager, logger *zap.Logger) *Dispatcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		client:   client,
		baseURL:  baseURL,
		breakers: breakers,
		logger:   logger,
		tracer:   otel.Tracer("submission"),
	}
}

// Dispatch sends one built request. Open-circuit and transport failures
// come back as errors; a non-2xx response comes back as an *APIError.
// Nothing here retries: the operator resubmits manually after a failure.
func (dp *Dispatcher) Dispatch(ctx context.Context, req *Request) (*Result, error) {
	ctx, span := dp.tracer.Start(ctx, "submission.Dispatch",
		trace.WithAttributes(attribute.String("pharmacy", string(req.Pharmacy))))
	defer span.End()

	cb := dp.breakers.GetOrCreate(string(req.Pharmacy), circuitbreaker.DefaultConfig(string(req.Pharmacy)))

	out, err := cb.Execute(ctx, func() (interface{}, error) {
		return dp.post(ctx, req)
	})
	if err != nil {
		span.RecordError(err)
		dp.logger.Warn("pharmacy submission failed",
			zap.String("pharmacy", string(req.Pharmacy)),
			zap.Error(err))
		return nil, err
	}

	res := out.(*Result)
	dp.logger.Info("prescription submitted",
		zap.String("pharmacy", string(req.Pharmacy)),
		zap.Int("status", res.Status))
	return res, nil
}

func (dp *Dispatcher) post(ctx context.Context, req *Request) (*Result, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, dp.baseURL+req.Path, bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", req.Pharmacy, err)
	}
	httpReq.Header.Set("Content-Type", req.ContentType)
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)

	resp, err := dp.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("post to %s: %w", req.Pharmacy, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, ParseAPIError(string(req.Pharmacy), resp.StatusCode, body)
	}

	return &Result{
		Pharmacy:    req.Pharmacy,
		Status:      resp.StatusCode,
		SubmittedAt: time.Now().UTC(),
	}, nil
}

// Service runs the full submit flow for one draft session: forbidden-state
// gate, schema validation, payload build, dispatch, and the draft state
// transition that follows the outcome.
type Service struct {
	registry   *pharmacy.Registry
	dispatcher *Dispatcher
	queue      Enqueuer
	catalog    *catalog.Catalog
	returnPath string
	logger     *zap.Logger
}

// NewService wires the submit flow. A nil queue disables the queued
// submit path; inline dispatch always works.
func NewService(registry *pharmacy.Registry, dispatcher *Dispatcher, queue Enqueuer, cat *catalog.Catalog, returnPath string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		registry:   registry,
		dispatcher: dispatcher,
		queue:      queue,
		catalog:    cat,
		returnPath: returnPath,
		logger:     logger,
	}
}

// Submit takes the frozen draft out of a confirmation session and sends
// it. On success the engine resets the draft and the result carries the
// return redirect; on any failure the engine goes back to ReadyForInput
// with the draft preserved.
func (s *Service) Submit(ctx context.Context, eng *draft.Engine, doc *document.Session) (*Result, error) {
	req, d, err := s.prepare(eng, doc)
	if err != nil {
		return nil, err
	}

	res, err := s.dispatcher.Dispatch(ctx, req)
	if err != nil {
		return nil, s.fail(eng, err)
	}

	// The order went out; a transition failure here must not surface as a
	// submit error, or the caller would resubmit a dispatched order.
	if err := eng.MarkSubmitted(); err != nil {
		s.logger.Warn("could not record submission success", zap.Error(err))
	}
	res.RedirectURL = RedirectURL(s.returnPath, d.Order)
	return res, nil
}

// SubmitQueued runs the same gate, validation and build as Submit but
// hands the request to the broker instead of dispatching inline. The
// session finishes once the enqueue is acknowledged; the submission
// worker owns the terminal outcome from there.
func (s *Service) SubmitQueued(ctx context.Context, eng *draft.Engine, doc *document.Session) (*Result, error) {
	if s.queue == nil {
		return nil, fmt.Errorf("queued submission not configured")
	}

	req, d, err := s.prepare(eng, doc)
	if err != nil {
		return nil, err
	}

	if err := s.queue.Enqueue(ctx, req); err != nil {
		return nil, s.fail(eng, err)
	}

	if err := eng.MarkSubmitted(); err != nil {
		s.logger.Warn("could not record submission success", zap.Error(err))
	}
	return &Result{
		Pharmacy:    d.Pharmacy,
		Status:      http.StatusAccepted,
		RedirectURL: RedirectURL(s.returnPath, d.Order),
		SubmittedAt: time.Now().UTC(),
	}, nil
}

// prepare runs everything that happens before the request leaves the
// process: the confirmation gate, the forbidden-state gate, schema
// validation, the artifact capture and the payload build.
func (s *Service) prepare(eng *draft.Engine, doc *document.Session) (*Request, draft.Draft, error) {
	// Only a confirmed session may send. Checked before the forbidden-state
	// gate so no network call can happen from an unconfirmed draft.
	if st := eng.State(); st != draft.StateConfirmationPending {
		return nil, draft.Draft{}, fmt.Errorf("%w: submit from %s", draft.ErrInvalidTransition, st)
	}

	d := eng.Snapshot()

	adapter, err := s.registry.For(d.Pharmacy)
	if err != nil {
		return nil, d, err
	}

	if s.catalog.IsForbiddenState(d.Patient.ShippingState) {
		err := fmt.Errorf("%w: %s", ErrForbiddenState, d.Patient.ShippingState)
		return nil, d, s.fail(eng, err)
	}

	if fields := adapter.Validate(&d, s.catalog); len(fields) > 0 {
		return nil, d, s.fail(eng, &ValidationError{Fields: fields})
	}

	var art *document.Artifact
	if adapter.Capabilities().RequiresDocument {
		// Submit uses the artifact captured at confirmation-open, never
		// a re-render of possibly-since-changed state.
		if art, err = doc.Artifact(); err != nil {
			return nil, d, s.fail(eng, err)
		}
	}

	req, err := Build(&d, adapter, art)
	if err != nil {
		return nil, d, s.fail(eng, err)
	}
	return req, d, nil
}

// fail moves the session into SubmissionFailed with the draft preserved
// and passes the cause back unchanged.
func (s *Service) fail(eng *draft.Engine, cause error) error {
	if err := eng.MarkSubmissionFailed(cause.Error()); err != nil {
		s.logger.Warn("could not record submission failure", zap.Error(err))
	}
	return cause
}

// RedirectURL builds the post-success return destination, preserving the
// originating order's filter query parameters. The pharmacy parameter is
// dropped: the next session starts with a fresh selection.
func RedirectURL(path string, order *draft.Order) string {
	if order == nil || len(order.QueryParams) == 0 {
		return path
	}
	values := url.Values{}
	for k, v := range order.QueryParams {
		if k == "pharmacy" {
			continue
		}
		values.Set(k, v)
	}
	if len(values) == 0 {
		return path
	}
	return path + "?" + values.Encode()
}
