package batch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Notifier publishes workflow events to the view layer.
type Notifier interface {
	Publish(ctx context.Context, sessionID string, evt Event) error
}

// ServiceConfig groups optional collaborators.
type ServiceConfig struct {
	Logger   *slog.Logger
	Notifier Notifier
	Metrics  *Metrics
	Options  []ControllerOption
}

// Service hands out one Controller per session and serialises the events of
// each session.
type Service struct {
	gate     Gate
	review   ReviewPort
	logger   *slog.Logger
	notifier Notifier
	metrics  *Metrics
	opts     []ControllerOption

	mu       sync.Mutex
	sessions map[string]*sessionSlot
}

type sessionSlot struct {
	mu          sync.Mutex
	ctrl        *Controller
	unsubscribe func()
}

// NewService builds Service.
func NewService(gate Gate, review ReviewPort, cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		gate:     gate,
		review:   review,
		logger:   logger,
		notifier: cfg.Notifier,
		metrics:  cfg.Metrics,
		opts:     cfg.Options,
		sessions: make(map[string]*sessionSlot),
	}
}

// ErrSessionRequired indicates a call without a session identifier.
var ErrSessionRequired = errors.New("batch: session required")

// Declare declares a new active batch for the session.
func (s *Service) Declare(ctx context.Context, sessionID string, spec Spec) (Snapshot, error) {
	var snap Snapshot
	err := s.with(sessionID, func(c *Controller) error {
		if err := c.Declare(spec); err != nil {
			return err
		}
		snap = c.Snapshot()
		return nil
	})
	return snap, err
}

// Scan records one serial against the session's active batch.
func (s *Service) Scan(ctx context.Context, sessionID, serial string) (Snapshot, error) {
	var snap Snapshot
	err := s.with(sessionID, func(c *Controller) error {
		_, err := c.RecordScan(serial)
		s.metrics.ObserveScan(err)
		if errors.Is(err, ErrInternalConsistency) {
			s.logger.Error("batch consistency violated",
				slog.String("session", sessionID),
				slog.String("batch", c.record.BatchNumber),
				slog.Any("error", err))
		}
		snap = c.Snapshot()
		return err
	})
	return snap, err
}

// SetCurrentCount applies a manual count correction.
func (s *Service) SetCurrentCount(ctx context.Context, sessionID string, n int) (Snapshot, error) {
	var snap Snapshot
	err := s.with(sessionID, func(c *Controller) error {
		err := c.SetCurrentCount(n)
		snap = c.Snapshot()
		return err
	})
	return snap, err
}

// Verify re-runs reconciliation on the active batch.
func (s *Service) Verify(ctx context.Context, sessionID string) (Snapshot, error) {
	var snap Snapshot
	err := s.with(sessionID, func(c *Controller) error {
		_, err := c.Verify()
		snap = c.Snapshot()
		return err
	})
	return snap, err
}

// RequestTransition asks to move the verified batch to stage.
func (s *Service) RequestTransition(ctx context.Context, sessionID string, stage Stage, location string) (Handoff, error) {
	var handoff Handoff
	err := s.with(sessionID, func(c *Controller) error {
		var err error
		handoff, err = c.RequestTransition(ctx, stage, location)
		return err
	})
	if err != nil && !errors.Is(err, ErrNotAuthorized) && !errors.Is(err, ErrStaleWorkflow) {
		s.logger.Warn("batch transition failed", slog.String("stage", string(stage)), slog.Any("error", err))
	}
	return handoff, err
}

// Snapshot returns the session's active batch.
func (s *Service) Snapshot(ctx context.Context, sessionID string) (Snapshot, error) {
	var snap Snapshot
	err := s.with(sessionID, func(c *Controller) error {
		snap = c.Snapshot()
		return nil
	})
	return snap, err
}

// Release tears down the controller of a session, typically on logout.
func (s *Service) Release(sessionID string) {
	s.mu.Lock()
	slot, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	if ok && slot.unsubscribe != nil {
		slot.unsubscribe()
	}
}

// Active returns the number of sessions holding a controller.
func (s *Service) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Service) with(sessionID string, fn func(*Controller) error) error {
	if sessionID == "" {
		return ErrSessionRequired
	}
	slot := s.acquire(sessionID)
	slot.mu.Lock()
	defer slot.mu.Unlock()
	return fn(slot.ctrl)
}

func (s *Service) acquire(sessionID string) *sessionSlot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slot, ok := s.sessions[sessionID]; ok {
		return slot
	}
	ctrl := NewController(s.gate, s.review, s.opts...)
	slot := &sessionSlot{ctrl: ctrl}
	slot.unsubscribe = ctrl.Subscribe(func(evt Event) { s.dispatch(sessionID, evt) })
	s.sessions[sessionID] = slot
	return slot
}

func (s *Service) dispatch(sessionID string, evt Event) {
	s.metrics.ObserveEvent(evt)
	s.logger.Info("batch event",
		slog.String("kind", string(evt.Kind)),
		slog.String("batch", evt.Batch),
		slog.Int("count", evt.Count),
		slog.Int("expected", evt.Expected))
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Publish(context.Background(), sessionID, evt); err != nil {
		s.logger.Warn("publish batch event", slog.Any("error", err))
	}
}
