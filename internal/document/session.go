package document

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vitalpath/rxbridge/internal/draft"
	"github.com/vitalpath/rxbridge/internal/pharmacy"
)

var (
	// ErrGenerationInFlight is returned when a download re-render is
	// requested while one is already running.
	ErrGenerationInFlight = errors.New("document: generation already in flight")
	// ErrNotGenerated is returned when no finished artifact exists yet.
	ErrNotGenerated = errors.New("document: no generated document")
)

// Session owns the confirmation stage for one draft: the frozen snapshot,
// the rasterized artifact, and the busy flag that bars concurrent
// generations. Submit always reads the captured artifact, never a
// re-render of possibly-since-changed draft state.
type Session struct {
	renderer Renderer

	mu    sync.Mutex
	epoch int
	snap  *Snapshot
	art   *Artifact
	busy  bool
}

func NewSession(renderer Renderer) *Session {
	return &Session{renderer: renderer}
}

// Open freezes the draft and rasterizes it immediately, so the first
// Download click has no additional latency. Reopening re-freezes and
// re-renders. The rendered artifact is stored only if the session has not
// been closed (or reopened) while the render ran.
func (s *Session) Open(ctx context.Context, d *draft.Draft, rules pharmacy.DocumentRules) error {
	s.mu.Lock()
	s.epoch++
	epoch := s.epoch
	snap := BuildSnapshot(d, rules, time.Now())
	s.snap = snap
	s.art = nil
	s.busy = true
	s.mu.Unlock()

	art, err := s.renderer.Render(ctx, snap)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		// Closed or reopened mid-render; discard this result.
		return err
	}
	s.busy = false
	if err != nil {
		return err
	}
	s.art = art
	return nil
}

// Regenerate re-renders the already-frozen snapshot for a download. It
// refuses to start while another generation is in flight.
func (s *Session) Regenerate(ctx context.Context) (*Artifact, error) {
	s.mu.Lock()
	if s.snap == nil {
		s.mu.Unlock()
		return nil, ErrNotGenerated
	}
	if s.busy {
		s.mu.Unlock()
		return nil, ErrGenerationInFlight
	}
	s.busy = true
	epoch := s.epoch
	snap := s.snap
	s.mu.Unlock()

	art, err := s.renderer.Render(ctx, snap)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return nil, ErrNotGenerated
	}
	s.busy = false
	if err != nil {
		return nil, err
	}
	s.art = art
	return art, nil
}

// Artifact returns the captured document for submission or download.
func (s *Session) Artifact() (*Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.art == nil {
		return nil, ErrNotGenerated
	}
	return s.art, nil
}

// Busy reports whether a generation is in flight; the download action is
// disabled while it is.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// Close discards the session. An in-flight render is not cancelled; its
// result is dropped when it lands against a newer epoch.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	s.snap = nil
	s.art = nil
	s.busy = false
}

// Snapshot returns the frozen view, nil when the session is closed.
func (s *Session) Snapshot() *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}
