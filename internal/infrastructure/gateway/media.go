package gateway

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/artieeg/warpy-media/internal/auth"
	"github.com/artieeg/warpy-media/internal/core/domain"
	"github.com/artieeg/warpy-media/internal/core/ports"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// MediaGateway binds the room control plane to its bus subjects. One instance
// runs per media node; the node-scoped pipe subjects carry its node id.
type MediaGateway struct {
	bus          ports.MessageBus
	rooms        ports.RoomService
	fabric       ports.PipeFabric
	forwardNodes []domain.NodeID
	verifier     *auth.Verifier
	node         domain.NodeID
	log          *zap.SugaredLogger

	publishRate  rate.Limit
	publishBurst int

	mu       sync.Mutex
	limiters map[domain.UserID]*rate.Limiter

	subs []ports.Subscription
}

type MediaGatewayParams struct {
	Bus          ports.MessageBus
	Rooms        ports.RoomService
	Fabric       ports.PipeFabric
	ForwardNodes []domain.NodeID
	Verifier     *auth.Verifier
	Node         domain.NodeID
	Logger       *zap.SugaredLogger
	PublishRate  rate.Limit
	PublishBurst int
}

func NewMediaGateway(p MediaGatewayParams) *MediaGateway {
	if p.PublishRate == 0 {
		p.PublishRate = rate.Limit(5)
	}
	if p.PublishBurst == 0 {
		p.PublishBurst = 10
	}
	return &MediaGateway{
		bus:          p.Bus,
		rooms:        p.Rooms,
		fabric:       p.Fabric,
		forwardNodes: p.ForwardNodes,
		verifier:     p.Verifier,
		node:         p.Node,
		log:          p.Logger,
		publishRate:  p.PublishRate,
		publishBurst: p.PublishBurst,
		limiters:     make(map[domain.UserID]*rate.Limiter),
	}
}

type roomRequest struct {
	Stream domain.StreamID `json:"roomId"`
	User   domain.UserID   `json:"user"`
}

type connectRequest struct {
	Stream         domain.StreamID       `json:"roomId"`
	User           domain.UserID         `json:"user"`
	Direction      domain.MediaDirection `json:"direction"`
	DTLSParameters json.RawMessage       `json:"dtlsParameters"`
}

type publishRequest struct {
	domain.PublishTrackRequest
	MediaPermissionsToken string `json:"mediaPermissionsToken"`
}

type recvTracksRequest struct {
	Stream          domain.StreamID `json:"roomId"`
	User            domain.UserID   `json:"user"`
	RTPCapabilities json.RawMessage `json:"rtpCapabilities"`
}

type closeProducersRequest struct {
	Stream domain.StreamID    `json:"roomId"`
	User   domain.UserID      `json:"user"`
	Kinds  []domain.MediaKind `json:"kinds"`
}

// Start subscribes every media subject. Subscriptions stay live until Stop.
func (g *MediaGateway) Start() error {
	bind := func(sub ports.Subscription, err error) error {
		if err != nil {
			return err
		}
		g.subs = append(g.subs, sub)
		return nil
	}

	if err := bind(subscribeJSON(g.bus, g.log, ports.SubjectRoomCreate, g.handleRoomCreate)); err != nil {
		return err
	}
	if err := bind(subscribeJSON(g.bus, g.log, ports.SubjectRoomJoin, g.handleRoomJoin)); err != nil {
		return err
	}
	if err := bind(subscribeJSON(g.bus, g.log, ports.SubjectSpeakerNew, g.handleSpeakerNew)); err != nil {
		return err
	}
	if err := bind(subscribeJSON(g.bus, g.log, ports.SubjectTransportConnect, g.handleTransportConnect)); err != nil {
		return err
	}
	if err := bind(subscribeJSON(g.bus, g.log, ports.SubjectTrackNew, g.handleTrackNew)); err != nil {
		return err
	}
	if err := bind(subscribeJSON(g.bus, g.log, ports.SubjectRecvTracks, g.handleRecvTracks)); err != nil {
		return err
	}
	if err := bind(subscribeJSON(g.bus, g.log, ports.SubjectProducersClose, g.handleProducersClose)); err != nil {
		return err
	}
	if err := bind(subscribeJSON(g.bus, g.log, ports.SubjectUserLeave, g.handleUserLeave)); err != nil {
		return err
	}
	if err := bind(subscribeJSON(g.bus, g.log, ports.SubjectStreamEnd, g.handleStreamEnd)); err != nil {
		return err
	}
	if err := bind(subscribeJSON(g.bus, g.log, ports.SubjectNodeProducerNew(g.node), g.handleForwardedProducer)); err != nil {
		return err
	}
	if err := bind(subscribeJSON(g.bus, g.log, ports.SubjectNodeProducerClose(g.node), g.handleForwardedClose)); err != nil {
		return err
	}

	g.log.Infow("media gateway started", "node", g.node, "subjects", len(g.subs))
	return nil
}

func (g *MediaGateway) Stop() error {
	return closeAll(g.subs)
}

// handleRoomCreate registers the forwarding topology before the room opens so
// the first published track already reaches every relay node.
func (g *MediaGateway) handleRoomCreate(ctx context.Context, req roomRequest) (*domain.RoomOptions, error) {
	if len(g.forwardNodes) > 0 {
		g.fabric.RegisterRoomTopology(req.Stream, g.forwardNodes)
	}
	return g.rooms.CreateRoom(ctx, req.Stream, req.User)
}

func (g *MediaGateway) handleRoomJoin(ctx context.Context, req roomRequest) (*domain.RoomOptions, error) {
	return g.rooms.JoinRoom(ctx, req.Stream, req.User)
}

func (g *MediaGateway) handleSpeakerNew(ctx context.Context, req roomRequest) (map[string]*domain.TransportOptions, error) {
	opts, err := g.rooms.CreateSendTransport(ctx, req.Stream, req.User)
	if err != nil {
		return nil, err
	}
	return map[string]*domain.TransportOptions{"sendTransportOptions": opts}, nil
}

func (g *MediaGateway) handleTransportConnect(ctx context.Context, req connectRequest) (struct{}, error) {
	return struct{}{}, g.rooms.ConnectTransport(ctx, req.Stream, req.User, req.Direction, req.DTLSParameters)
}

// handleTrackNew verifies the publish grant and rate-limits the sender before
// handing the track to the room service.
func (g *MediaGateway) handleTrackNew(ctx context.Context, req publishRequest) (map[string]string, error) {
	claims, err := g.verifier.Verify(req.MediaPermissionsToken)
	if err != nil {
		return nil, err
	}
	if claims.User != req.User || claims.Room != req.Stream || !claims.Allows(req.Kind) {
		return nil, domain.ErrPermissionDenied
	}

	if !g.limiterFor(req.User).Allow() {
		g.log.Warnw("publish rate exceeded", "user", req.User, "stream", req.Stream)
		return nil, domain.ErrPermissionDenied
	}

	id, err := g.rooms.PublishTrack(ctx, req.PublishTrackRequest)
	if err != nil {
		return nil, err
	}
	return map[string]string{"id": id}, nil
}

func (g *MediaGateway) handleRecvTracks(ctx context.Context, req recvTracksRequest) (map[string][]domain.ConsumerInfo, error) {
	consumers, err := g.rooms.RequestConsumers(ctx, req.Stream, req.User, req.RTPCapabilities)
	if err != nil {
		return nil, err
	}
	return map[string][]domain.ConsumerInfo{"consumerParams": consumers}, nil
}

func (g *MediaGateway) handleProducersClose(ctx context.Context, req closeProducersRequest) (struct{}, error) {
	return struct{}{}, g.rooms.CloseUserProducers(ctx, req.Stream, req.User, req.Kinds)
}

func (g *MediaGateway) handleUserLeave(ctx context.Context, req roomRequest) (struct{}, error) {
	return struct{}{}, g.rooms.Leave(ctx, req.Stream, req.User)
}

func (g *MediaGateway) handleStreamEnd(ctx context.Context, req roomRequest) (struct{}, error) {
	return struct{}{}, g.rooms.EndStream(ctx, req.Stream)
}

func (g *MediaGateway) handleForwardedProducer(ctx context.Context, fwd domain.ForwardedProducer) (struct{}, error) {
	return struct{}{}, g.rooms.HandleForwardedProducer(ctx, fwd)
}

func (g *MediaGateway) handleForwardedClose(ctx context.Context, fwd domain.ForwardedProducer) (struct{}, error) {
	return struct{}{}, g.rooms.CloseUserProducers(ctx, fwd.Stream, fwd.User, []domain.MediaKind{fwd.Kind})
}

func (g *MediaGateway) limiterFor(user domain.UserID) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()

	l, ok := g.limiters[user]
	if !ok {
		l = rate.NewLimiter(g.publishRate, g.publishBurst)
		g.limiters[user] = l
	}
	return l
}
