package gateway

import (
	"context"
	"errors"

	"github.com/artieeg/warpy-media/internal/core/domain"
	"github.com/artieeg/warpy-media/internal/core/ports"

	"go.uber.org/zap"
)

// PresenceGateway binds the presence store and the host-failover service to
// their bus subjects.
type PresenceGateway struct {
	bus          ports.MessageBus
	participants ports.ParticipantStore
	hosts        ports.HostService
	log          *zap.SugaredLogger

	subs []ports.Subscription
}

func NewPresenceGateway(
	bus ports.MessageBus,
	participants ports.ParticipantStore,
	hosts ports.HostService,
	log *zap.SugaredLogger,
) *PresenceGateway {
	return &PresenceGateway{
		bus:          bus,
		participants: participants,
		hosts:        hosts,
		log:          log,
	}
}

type roleChangeRequest struct {
	User domain.UserID `json:"user"`
	Role domain.Role   `json:"role"`
}

type raiseHandRequest struct {
	User domain.UserID `json:"user"`
	Flag bool          `json:"flag"`
}

type participantLeaveRequest struct {
	User   domain.UserID   `json:"user"`
	Stream domain.StreamID `json:"stream"`
}

type userRequest struct {
	User domain.UserID `json:"user"`
}

type streamRequest struct {
	Stream domain.StreamID `json:"stream"`
}

type viewersPageRequest struct {
	Stream domain.StreamID `json:"stream"`
	Page   int             `json:"page"`
}

func (g *PresenceGateway) Start() error {
	bind := func(sub ports.Subscription, err error) error {
		if err != nil {
			return err
		}
		g.subs = append(g.subs, sub)
		return nil
	}

	if err := bind(subscribeJSON(g.bus, g.log, ports.SubjectParticipantAdd, g.handleAdd)); err != nil {
		return err
	}
	if err := bind(subscribeJSON(g.bus, g.log, ports.SubjectParticipantRole, g.handleRoleChange)); err != nil {
		return err
	}
	if err := bind(subscribeJSON(g.bus, g.log, ports.SubjectRaiseHand, g.handleRaiseHand)); err != nil {
		return err
	}
	if err := bind(subscribeJSON(g.bus, g.log, ports.SubjectParticipantLeave, g.handleLeave)); err != nil {
		return err
	}
	if err := bind(subscribeJSON(g.bus, g.log, ports.SubjectUserDisconnect, g.handleDisconnect)); err != nil {
		return err
	}
	if err := bind(subscribeJSON(g.bus, g.log, ports.SubjectUserRejoin, g.handleRejoin)); err != nil {
		return err
	}
	if err := bind(subscribeJSON(g.bus, g.log, ports.SubjectPresenceStreamEnd, g.handleStreamEnd)); err != nil {
		return err
	}
	if err := bind(subscribeJSON(g.bus, g.log, ports.SubjectViewersPage, g.handleViewersPage)); err != nil {
		return err
	}
	if err := bind(subscribeJSON(g.bus, g.log, ports.SubjectStreamCount, g.handleCount)); err != nil {
		return err
	}

	g.log.Infow("presence gateway started", "subjects", len(g.subs))
	return nil
}

func (g *PresenceGateway) Stop() error {
	return closeAll(g.subs)
}

// handleAdd registers the participant and reports the resulting audience size.
func (g *PresenceGateway) handleAdd(ctx context.Context, p domain.Participant) (map[string]int, error) {
	if err := g.participants.Add(ctx, p); err != nil {
		return nil, err
	}
	if err := g.hosts.HandleParticipantRole(ctx, p); err != nil {
		g.log.Warnw("host bookkeeping failed on add", "user", p.ID, "err", err)
	}

	count, err := g.participants.Count(ctx, p.Stream)
	if err != nil {
		return nil, err
	}
	return map[string]int{"count": count}, nil
}

func (g *PresenceGateway) handleRoleChange(ctx context.Context, req roleChangeRequest) (domain.Participant, error) {
	p, err := g.participants.Update(ctx, req.User, domain.ParticipantUpdate{Role: &req.Role})
	if err != nil {
		return domain.Participant{}, err
	}
	if err := g.hosts.HandleParticipantRole(ctx, p); err != nil {
		g.log.Warnw("host bookkeeping failed on role change", "user", p.ID, "err", err)
	}
	return p, nil
}

func (g *PresenceGateway) handleRaiseHand(ctx context.Context, req raiseHandRequest) (domain.Participant, error) {
	return g.participants.Update(ctx, req.User, domain.ParticipantUpdate{IsRaisingHand: &req.Flag})
}

func (g *PresenceGateway) handleLeave(ctx context.Context, req participantLeaveRequest) (struct{}, error) {
	return struct{}{}, g.participants.Remove(ctx, req.User, req.Stream)
}

// handleDisconnect deactivates the user in place so a quick rejoin restores
// the previous role, and arms the host grace timer.
func (g *PresenceGateway) handleDisconnect(ctx context.Context, req userRequest) (struct{}, error) {
	stream, err := g.participants.StreamID(ctx, req.User)
	if err != nil {
		if errors.Is(err, domain.ErrParticipantNotFound) {
			return struct{}{}, nil
		}
		return struct{}{}, err
	}

	if err := g.participants.SetDeactivated(ctx, req.User, stream, true); err != nil {
		return struct{}{}, err
	}
	return struct{}{}, g.hosts.HandleDisconnect(ctx, req.User)
}

func (g *PresenceGateway) handleRejoin(ctx context.Context, req userRequest) (domain.Participant, error) {
	p, err := g.participants.Get(ctx, req.User)
	if err != nil {
		return domain.Participant{}, err
	}

	if err := g.participants.SetDeactivated(ctx, req.User, p.Stream, false); err != nil {
		return domain.Participant{}, err
	}
	if err := g.hosts.HandleRejoin(ctx, req.User); err != nil {
		g.log.Warnw("host bookkeeping failed on rejoin", "user", req.User, "err", err)
	}
	return p, nil
}

func (g *PresenceGateway) handleStreamEnd(ctx context.Context, req streamRequest) (struct{}, error) {
	return struct{}{}, g.participants.RemoveStream(ctx, req.Stream)
}

func (g *PresenceGateway) handleViewersPage(ctx context.Context, req viewersPageRequest) (map[string][]domain.Participant, error) {
	viewers, err := g.participants.GetViewersPage(ctx, req.Stream, req.Page)
	if err != nil {
		return nil, err
	}
	return map[string][]domain.Participant{"viewers": viewers}, nil
}

func (g *PresenceGateway) handleCount(ctx context.Context, req streamRequest) (map[string]int, error) {
	count, err := g.participants.Count(ctx, req.Stream)
	if err != nil {
		return nil, err
	}
	return map[string]int{"count": count}, nil
}
