package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/artieeg/warpy-media/internal/core/domain"
	"github.com/artieeg/warpy-media/internal/core/ports"

	"go.uber.org/zap"
)

// DefaultHostGracePeriod is how long a disconnected host has to reconnect
// before the stream is handed to another participant.
const DefaultHostGracePeriod = 15 * time.Second

// pendingReassign is one armed failover timer. The generation guards against
// a stale timer firing after a rejoin cancelled it: cancellation bumps the
// generation, and the callback checks it before doing anything.
type pendingReassign struct {
	timer *time.Timer
	gen   uint64
}

// HostFailoverService watches disconnect and role-change events and
// reassigns hosting when a host fails to reconnect within the grace period.
type HostFailoverService struct {
	store   ports.HostStore
	bus     ports.MessageBus
	metrics ports.Metrics
	log     *zap.SugaredLogger
	grace   time.Duration

	mu      sync.Mutex
	pending map[domain.UserID]*pendingReassign
	gen     uint64
}

func NewHostFailoverService(
	store ports.HostStore,
	bus ports.MessageBus,
	metrics ports.Metrics,
	grace time.Duration,
	log *zap.SugaredLogger,
) *HostFailoverService {
	if grace <= 0 {
		grace = DefaultHostGracePeriod
	}
	return &HostFailoverService{
		store:   store,
		bus:     bus,
		metrics: metrics,
		log:     log,
		grace:   grace,
		pending: make(map[domain.UserID]*pendingReassign),
	}
}

var _ ports.HostService = (*HostFailoverService)(nil)

// HandleParticipantRole keeps the candidate set in sync with role changes.
// A viewer is never a candidate; a streamer of a hostless stream becomes the
// host on the spot.
func (s *HostFailoverService) HandleParticipantRole(ctx context.Context, p domain.Participant) error {
	if p.Role == domain.RoleViewer {
		return s.store.DelPossibleHost(ctx, p.ID, p.Stream)
	}

	host, err := s.store.HostID(ctx, p.Stream)
	switch {
	case errors.Is(err, domain.ErrNoHost):
		if p.Role == domain.RoleStreamer {
			if err := s.store.SetStreamHost(ctx, p); err != nil {
				return err
			}
			s.log.Infow("host installed", "stream", p.Stream, "host", p.ID)
			return nil
		}
	case err != nil:
		return err
	case host == p.ID:
		// The current host never belongs to its own candidate set.
		return nil
	}

	return s.store.AddPossibleHost(ctx, p)
}

// HandleRejoin cancels a pending reassignment when the returning user is a
// host. Cancellation wins if it lands before the timer callback starts; once
// the callback runs, its own re-read of the join status is authoritative.
func (s *HostFailoverService) HandleRejoin(ctx context.Context, user domain.UserID) error {
	if _, err := s.store.HostInfo(ctx, user); err != nil {
		if errors.Is(err, domain.ErrNoHost) || errors.Is(err, domain.ErrParticipantNotFound) {
			return nil
		}
		return err
	}

	if err := s.store.SetJoinStatus(ctx, user, true); err != nil {
		return err
	}

	s.mu.Lock()
	if p, ok := s.pending[user]; ok {
		p.timer.Stop()
		delete(s.pending, user)
	}
	s.mu.Unlock()

	s.log.Infow("host rejoined, reassignment cancelled", "host", user)
	return nil
}

// HandleDisconnect marks a disconnected host as not joined and arms the
// grace timer. Non-hosts are ignored.
func (s *HostFailoverService) HandleDisconnect(ctx context.Context, user domain.UserID) error {
	host, err := s.store.HostInfo(ctx, user)
	if err != nil {
		if errors.Is(err, domain.ErrNoHost) || errors.Is(err, domain.ErrParticipantNotFound) {
			return nil
		}
		return err
	}

	if err := s.store.SetJoinStatus(ctx, user, false); err != nil {
		return err
	}

	s.mu.Lock()
	if prev, ok := s.pending[user]; ok {
		prev.timer.Stop()
	}
	s.gen++
	gen := s.gen
	p := &pendingReassign{gen: gen}
	p.timer = time.AfterFunc(s.grace, func() {
		s.reassign(user, host.Stream, gen)
	})
	s.pending[user] = p
	s.mu.Unlock()

	s.log.Infow("host disconnected, grace timer armed",
		"stream", host.Stream, "host", user, "grace", s.grace)
	return nil
}

// reassign runs when the grace timer expires. It re-reads the live join
// status instead of trusting anything captured at disconnect time, then
// installs a random candidate or signals that reassignment is exhausted.
func (s *HostFailoverService) reassign(user domain.UserID, stream domain.StreamID, gen uint64) {
	s.mu.Lock()
	p, ok := s.pending[user]
	if !ok || p.gen != gen {
		s.mu.Unlock()
		return
	}
	delete(s.pending, user)
	s.mu.Unlock()

	ctx := context.Background()

	joined, err := s.store.IsJoined(ctx, user)
	if err != nil {
		s.log.Errorw("failed to read host join status", "host", user, "err", err)
		return
	}
	if joined {
		return
	}

	candidate, candErr := s.store.RandomPossibleHost(ctx, stream)

	if err := s.store.DelByStream(ctx, stream); err != nil {
		s.log.Errorw("failed to delete host record", "stream", stream, "err", err)
	}

	if candErr != nil || candidate.ID == "" {
		s.failReassign(stream, candErr)
		return
	}

	// The conservative outcome of a failed install is no host at all, never
	// two hosts and never a silently kept disconnected one.
	if err := s.store.SetStreamHost(ctx, candidate); err != nil {
		s.failReassign(stream, err)
		return
	}

	s.metrics.RecordHostReassignment(true)
	s.log.Infow("host reassigned", "stream", stream, "old", user, "new", candidate.ID)

	if err := s.bus.Publish(ports.SubjectHostReassigned, domain.HostReassigned{
		Stream: stream,
		Host:   candidate,
	}); err != nil {
		s.log.Warnw("failed to publish host reassignment", "stream", stream, "err", err)
	}
}

func (s *HostFailoverService) failReassign(stream domain.StreamID, cause error) {
	s.metrics.RecordHostReassignment(false)
	s.log.Warnw("host reassignment failed", "stream", stream, "err", cause)

	if err := s.bus.Publish(ports.SubjectHostReassignFailed, domain.HostReassignFailed{
		Stream: stream,
	}); err != nil {
		s.log.Warnw("failed to publish reassignment failure", "stream", stream, "err", err)
	}
}

// Shutdown stops every armed timer.
func (s *HostFailoverService) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for user, p := range s.pending {
		p.timer.Stop()
		delete(s.pending, user)
	}
}
