package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/artieeg/warpy-media/internal/core/domain"
	"github.com/artieeg/warpy-media/internal/core/ports"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// recordingResumeDelay gives the egress collaborator time to bind its RTP
// port before the paused recording consumer starts flowing.
const recordingResumeDelay = time.Second

// producerSlot maps one logical client track to its engine producers: the
// local producer on the ingesting node, or one piped copy per local router
// when the track arrived from another node.
type producerSlot struct {
	local    ports.Producer
	byRouter map[string]ports.Producer
}

// forRouter returns the producer copy consumable on the given router.
func (s *producerSlot) forRouter(routerID string) ports.Producer {
	if p, ok := s.byRouter[routerID]; ok {
		return p
	}
	return s.local
}

func (s *producerSlot) closeAll(log *zap.SugaredLogger) {
	if s.local != nil {
		if err := s.local.Close(); err != nil {
			log.Warnw("failed to close producer", "producer", s.local.ID(), "err", err)
		}
	}
	for _, p := range s.byRouter {
		if err := p.Close(); err != nil {
			log.Warnw("failed to close piped producer", "producer", p.ID(), "err", err)
		}
	}
}

// peer holds one participant's transport and track state within a room. It
// references its room only through the stream id; the room owns the peer.
type peer struct {
	user            domain.UserID
	stream          domain.StreamID
	recvTransport   ports.Transport
	sendTransport   ports.Transport
	plainTransport  ports.PlainTransport
	producers       map[domain.MediaKind]*producerSlot
	consumers       []ports.Consumer
	rtpCapabilities json.RawMessage
}

func newPeer(user domain.UserID, stream domain.StreamID) *peer {
	return &peer{
		user:      user,
		stream:    stream,
		producers: make(map[domain.MediaKind]*producerSlot),
	}
}

// room is the in-memory session state for one live stream. All mutations are
// serialized behind mu; engine calls are made while holding it, which is the
// per-room suspension boundary.
type room struct {
	stream domain.StreamID
	router ports.Router
	peers  map[domain.UserID]*peer
	mu     sync.Mutex
}

// RoomRegistry owns every room on this media node.
type RoomRegistry struct {
	engine  ports.MediaEngine
	fabric  ports.PipeFabric
	bus     ports.MessageBus
	metrics ports.Metrics
	log     *zap.SugaredLogger

	mu    sync.RWMutex
	rooms map[domain.StreamID]*room
}

func NewRoomRegistry(
	engine ports.MediaEngine,
	fabric ports.PipeFabric,
	bus ports.MessageBus,
	metrics ports.Metrics,
	log *zap.SugaredLogger,
) *RoomRegistry {
	return &RoomRegistry{
		engine:  engine,
		fabric:  fabric,
		bus:     bus,
		metrics: metrics,
		log:     log,
		rooms:   make(map[domain.StreamID]*room),
	}
}

var _ ports.RoomService = (*RoomRegistry)(nil)

func (r *RoomRegistry) getRoom(stream domain.StreamID) (*room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rm, ok := r.rooms[stream]
	return rm, ok
}

// getOrCreateRoom returns the room for the stream, creating it on a router
// selected from the engine's worker pool.
func (r *RoomRegistry) getOrCreateRoom(ctx context.Context, stream domain.StreamID) (*room, error) {
	if rm, ok := r.getRoom(stream); ok {
		return rm, nil
	}

	router, err := r.engine.Router(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to select router: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if rm, ok := r.rooms[stream]; ok {
		return rm, nil
	}

	rm := &room{
		stream: stream,
		router: router,
		peers:  make(map[domain.UserID]*peer),
	}
	r.rooms[stream] = rm
	r.metrics.RecordRoomOpened()

	r.log.Infow("room created", "stream", stream, "router", router.ID())
	return rm, nil
}

func (r *RoomRegistry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// CreateRoom sets up the room and the host's transports. Calling it again
// for an existing stream returns the host's current parameters instead of
// creating anything new.
func (r *RoomRegistry) CreateRoom(ctx context.Context, stream domain.StreamID, host domain.UserID) (*domain.RoomOptions, error) {
	rm, err := r.getOrCreateRoom(ctx, stream)
	if err != nil {
		return nil, err
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	p, ok := rm.peers[host]
	if ok && p.sendTransport != nil && p.recvTransport != nil {
		return roomOptions(rm, p), nil
	}

	if !ok {
		p = newPeer(host, stream)
		rm.peers[host] = p
		r.metrics.RecordPeerJoined(stream)
	}

	if p.sendTransport == nil {
		send, err := r.engine.CreateTransport(ctx, rm.router, domain.DirectionSend, host)
		if err != nil {
			return nil, fmt.Errorf("failed to create send transport: %w", err)
		}
		p.sendTransport = send
	}
	if p.recvTransport == nil {
		recv, err := r.engine.CreateTransport(ctx, rm.router, domain.DirectionRecv, host)
		if err != nil {
			return nil, fmt.Errorf("failed to create recv transport: %w", err)
		}
		p.recvTransport = recv
	}

	return roomOptions(rm, p), nil
}

func roomOptions(rm *room, p *peer) *domain.RoomOptions {
	opts := &domain.RoomOptions{
		RouterRTPCapabilities: rm.router.RTPCapabilities(),
	}
	if p.sendTransport != nil {
		o := p.sendTransport.Options()
		opts.SendTransport = &o
	}
	if p.recvTransport != nil {
		o := p.recvTransport.Options()
		opts.RecvTransport = &o
	}
	return opts
}

// JoinRoom adds a viewer peer with a recv transport only; a send transport is
// granted later on promotion.
func (r *RoomRegistry) JoinRoom(ctx context.Context, stream domain.StreamID, user domain.UserID) (*domain.RoomOptions, error) {
	rm, ok := r.getRoom(stream)
	if !ok {
		return nil, domain.ErrRoomNotFound
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	p, ok := rm.peers[user]
	if !ok {
		p = newPeer(user, stream)
		rm.peers[user] = p
		r.metrics.RecordPeerJoined(stream)
	}

	if p.recvTransport == nil {
		recv, err := r.engine.CreateTransport(ctx, rm.router, domain.DirectionRecv, user)
		if err != nil {
			delete(rm.peers, user)
			r.metrics.RecordPeerLeft(stream)
			return nil, fmt.Errorf("failed to create recv transport: %w", err)
		}
		p.recvTransport = recv
	}

	return roomOptions(rm, p), nil
}

// CreateSendTransport replaces the peer's send transport. The stale one is
// closed first so a re-promotion race never leaves two open.
func (r *RoomRegistry) CreateSendTransport(ctx context.Context, stream domain.StreamID, user domain.UserID) (*domain.TransportOptions, error) {
	rm, ok := r.getRoom(stream)
	if !ok {
		return nil, domain.ErrRoomNotFound
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	p, ok := rm.peers[user]
	if !ok {
		return nil, domain.ErrPeerNotFound
	}

	if p.sendTransport != nil {
		if err := p.sendTransport.Close(); err != nil {
			r.log.Warnw("failed to close stale send transport",
				"stream", stream, "user", user, "err", err)
		}
		p.sendTransport = nil
	}

	send, err := r.engine.CreateTransport(ctx, rm.router, domain.DirectionSend, user)
	if err != nil {
		return nil, fmt.Errorf("failed to create send transport: %w", err)
	}
	p.sendTransport = send

	opts := send.Options()
	return &opts, nil
}

// ConnectTransport finishes DTLS negotiation for one of the peer's
// transports.
func (r *RoomRegistry) ConnectTransport(ctx context.Context, stream domain.StreamID, user domain.UserID, direction domain.MediaDirection, dtlsParameters json.RawMessage) error {
	rm, ok := r.getRoom(stream)
	if !ok {
		return domain.ErrRoomNotFound
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	p, ok := rm.peers[user]
	if !ok {
		return domain.ErrPeerNotFound
	}

	var transport ports.Transport
	if direction == domain.DirectionSend {
		transport = p.sendTransport
	} else {
		transport = p.recvTransport
	}
	if transport == nil {
		return domain.ErrTransportMissing
	}

	return transport.Connect(ctx, dtlsParameters)
}

// PublishTrack creates a producer for an inbound client track, wires audio
// into the active speaker observer, sets up recording egress for video and
// hands fan-out to the pipe fabric. Requests referencing a vanished room,
// peer or transport are dropped: the peer may have already left, so this is
// logged and not surfaced to the client.
func (r *RoomRegistry) PublishTrack(ctx context.Context, req domain.PublishTrackRequest) (string, error) {
	rm, ok := r.getRoom(req.Stream)
	if !ok {
		r.log.Infow("dropping stale publish, no room", "stream", req.Stream, "user", req.User)
		return "", nil
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	p, ok := rm.peers[req.User]
	if !ok {
		r.log.Infow("dropping stale publish, no peer", "stream", req.Stream, "user", req.User)
		return "", nil
	}

	if p.sendTransport == nil || p.sendTransport.ID() != req.TransportID {
		r.log.Infow("dropping publish for unknown transport",
			"stream", req.Stream, "user", req.User, "transport", req.TransportID)
		return "", nil
	}

	producer, err := r.engine.Produce(ctx, p.sendTransport, req.Kind, req.RTPParameters, req.AppData)
	if err != nil {
		return "", fmt.Errorf("failed to produce %s track: %w", req.Kind, err)
	}

	p.rtpCapabilities = req.RTPCapabilities

	switch req.Kind {
	case domain.KindAudio:
		if err := r.engine.ObserveAudioProducer(ctx, rm.router, producer.ID()); err != nil {
			r.log.Warnw("failed to register audio producer with observer",
				"stream", req.Stream, "producer", producer.ID(), "err", err)
		}
	case domain.KindVideo:
		if err := r.setupRecording(ctx, rm, p, producer.ID()); err != nil {
			r.log.Warnw("failed to set up recording egress",
				"stream", req.Stream, "user", req.User, "err", err)
		}
	}

	// Replace any previous producer of the same kind.
	if prev, ok := p.producers[req.Kind]; ok {
		r.fabric.CloseProducer(ctx, prev.local.ID())
		prev.closeAll(r.log)
	}
	p.producers[req.Kind] = &producerSlot{local: producer}
	r.metrics.RecordTrackPublished(req.Kind)

	if err := r.fabric.ForwardProducer(ctx, req.Stream, req.User, producer, req.RTPCapabilities); err != nil {
		r.log.Warnw("partial pipe fan-out", "stream", req.Stream, "producer", producer.ID(), "err", err)
	}

	return producer.ID(), nil
}

// setupRecording lazily creates the peer's plain transport, attaches a paused
// recording consumer to the new video producer and asks the egress
// collaborator to start recording.
func (r *RoomRegistry) setupRecording(ctx context.Context, rm *room, p *peer, producerID string) error {
	if p.plainTransport == nil {
		plain, err := r.engine.CreatePlainTransport(ctx, rm.router, p.user)
		if err != nil {
			return fmt.Errorf("failed to create plain transport: %w", err)
		}
		p.plainTransport = plain
	}

	caps, err := r.engine.RecordingCapabilities(ctx, rm.router)
	if err != nil {
		return fmt.Errorf("failed to resolve recording capabilities: %w", err)
	}

	consumer, err := r.engine.ConsumePlain(ctx, p.plainTransport, producerID, caps)
	if err != nil {
		return fmt.Errorf("failed to create recording consumer: %w", err)
	}
	p.consumers = append(p.consumers, consumer)

	if err := r.bus.Publish(ports.SubjectRecordRequest, domain.RecordRequest{
		RecordingID:     uuid.NewString(),
		Stream:          rm.stream,
		RemoteRTPPort:   p.plainTransport.RemoteRTPPort(),
		LocalRTCPPort:   p.plainTransport.LocalRTCPPort(),
		RTPCapabilities: caps,
		RTPParameters:   consumer.RTPParameters(),
	}); err != nil {
		return fmt.Errorf("failed to request recording: %w", err)
	}

	time.AfterFunc(recordingResumeDelay, func() {
		if err := consumer.Resume(context.Background()); err != nil {
			r.log.Warnw("failed to resume recording consumer",
				"stream", rm.stream, "consumer", consumer.ID(), "err", err)
		}
	})

	return nil
}

// RequestConsumers creates a consumer on the caller's recv transport for
// every other peer's tracks. A failure for one peer skips that peer only;
// degraded media beats blocking the join.
func (r *RoomRegistry) RequestConsumers(ctx context.Context, stream domain.StreamID, user domain.UserID, rtpCapabilities json.RawMessage) ([]domain.ConsumerInfo, error) {
	rm, ok := r.getRoom(stream)
	if !ok {
		return nil, domain.ErrRoomNotFound
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	p, ok := rm.peers[user]
	if !ok {
		return nil, domain.ErrPeerNotFound
	}
	if p.recvTransport == nil {
		return nil, domain.ErrTransportMissing
	}

	p.rtpCapabilities = rtpCapabilities

	var infos []domain.ConsumerInfo
	for otherID, other := range rm.peers {
		if otherID == user {
			continue
		}

		for _, slot := range other.producers {
			producer := slot.forRouter(rm.router.ID())
			if producer == nil {
				continue
			}

			consumer, err := r.engine.Consume(ctx, rm.router, producer.ID(), rtpCapabilities, p.recvTransport)
			if err != nil {
				r.log.Warnw("skipping consumer, capability mismatch",
					"stream", stream, "user", user, "source", otherID, "err", err)
				continue
			}

			p.consumers = append(p.consumers, consumer)
			infos = append(infos, domain.ConsumerInfo{
				ID:            consumer.ID(),
				ProducerID:    consumer.ProducerID(),
				User:          otherID,
				Kind:          consumer.Kind(),
				RTPParameters: consumer.RTPParameters(),
			})
		}
	}

	return infos, nil
}

// HandleForwardedProducer ingests a producer piped from another node: it is
// re-produced locally, copied to every local router and announced to every
// local peer that can already receive media.
func (r *RoomRegistry) HandleForwardedProducer(ctx context.Context, fwd domain.ForwardedProducer) error {
	pipeProducer, err := r.engine.PipeProduce(ctx, fwd)
	if err != nil {
		return fmt.Errorf("failed to pipe-produce forwarded track: %w", err)
	}

	routers, err := r.engine.Routers(ctx)
	if err != nil {
		return fmt.Errorf("failed to list routers: %w", err)
	}

	copies := make(map[string]ports.Producer, len(routers))
	for _, router := range routers {
		piped, err := r.engine.PipeToRouter(ctx, pipeProducer, router)
		if err != nil {
			r.log.Warnw("failed to pipe producer to router",
				"producer", pipeProducer.ID(), "router", router.ID(), "err", err)
			continue
		}
		copies[router.ID()] = piped
	}

	rm, err := r.getOrCreateRoom(ctx, fwd.Stream)
	if err != nil {
		return err
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	p, ok := rm.peers[fwd.User]
	if !ok {
		p = newPeer(fwd.User, fwd.Stream)
		rm.peers[fwd.User] = p
	}

	if prev, ok := p.producers[fwd.Kind]; ok {
		prev.closeAll(r.log)
	}
	p.producers[fwd.Kind] = &producerSlot{local: pipeProducer, byRouter: copies}

	for otherID, other := range rm.peers {
		if otherID == fwd.User || other.recvTransport == nil || other.rtpCapabilities == nil {
			continue
		}

		producer := copies[rm.router.ID()]
		if producer == nil {
			producer = pipeProducer
		}

		consumer, err := r.engine.Consume(ctx, rm.router, producer.ID(), other.rtpCapabilities, other.recvTransport)
		if err != nil {
			r.log.Warnw("failed to consume forwarded producer",
				"stream", fwd.Stream, "user", otherID, "err", err)
			continue
		}
		other.consumers = append(other.consumers, consumer)

		if err := r.bus.SendToUser(otherID, ports.EventNewTrack, domain.NewTrackEvent{
			User:   fwd.User,
			Stream: fwd.Stream,
			Consumer: domain.ConsumerInfo{
				ID:            consumer.ID(),
				ProducerID:    consumer.ProducerID(),
				User:          fwd.User,
				Kind:          consumer.Kind(),
				RTPParameters: consumer.RTPParameters(),
			},
		}); err != nil {
			r.log.Warnw("failed to notify peer of new track",
				"stream", fwd.Stream, "user", otherID, "err", err)
		}
	}

	return nil
}

// CloseUserProducers closes the peer's producers of the given kinds, on
// demotion back to viewer or an explicit mute.
func (r *RoomRegistry) CloseUserProducers(ctx context.Context, stream domain.StreamID, user domain.UserID, kinds []domain.MediaKind) error {
	rm, ok := r.getRoom(stream)
	if !ok {
		return nil
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	p, ok := rm.peers[user]
	if !ok {
		return nil
	}

	for _, kind := range kinds {
		slot, ok := p.producers[kind]
		if !ok {
			continue
		}
		if slot.local != nil {
			r.fabric.CloseProducer(ctx, slot.local.ID())
		}
		slot.closeAll(r.log)
		delete(p.producers, kind)
	}

	return nil
}

// Leave releases everything the peer owns. Unknown peers are a no-op: a user
// may trigger both an explicit leave and a disconnect event.
func (r *RoomRegistry) Leave(ctx context.Context, stream domain.StreamID, user domain.UserID) error {
	rm, ok := r.getRoom(stream)
	if !ok {
		return nil
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	p, ok := rm.peers[user]
	if !ok {
		return nil
	}

	r.closePeer(ctx, p)
	delete(rm.peers, user)
	r.metrics.RecordPeerLeft(stream)

	r.log.Infow("peer left", "stream", stream, "user", user)
	return nil
}

// closePeer releases every resource the peer holds. Cleanup is best effort:
// individual failures are logged and the teardown continues, since a
// half-closed transport is worse than a logged error.
func (r *RoomRegistry) closePeer(ctx context.Context, p *peer) {
	for kind, slot := range p.producers {
		if slot.local != nil {
			r.fabric.CloseProducer(ctx, slot.local.ID())
		}
		slot.closeAll(r.log)
		delete(p.producers, kind)
	}

	for _, consumer := range p.consumers {
		if err := consumer.Close(); err != nil {
			r.log.Warnw("failed to close consumer", "user", p.user, "consumer", consumer.ID(), "err", err)
		}
	}
	p.consumers = nil

	for _, t := range []ports.Transport{p.sendTransport, p.recvTransport} {
		if t == nil {
			continue
		}
		if err := t.Close(); err != nil {
			r.log.Warnw("failed to close transport", "user", p.user, "transport", t.ID(), "err", err)
		}
	}
	p.sendTransport = nil
	p.recvTransport = nil

	if p.plainTransport != nil {
		if err := p.plainTransport.Close(); err != nil {
			r.log.Warnw("failed to close plain transport", "user", p.user, "err", err)
		}
		p.plainTransport = nil
	}
}

// EndStream tears the whole room down.
func (r *RoomRegistry) EndStream(ctx context.Context, stream domain.StreamID) error {
	r.mu.Lock()
	rm, ok := r.rooms[stream]
	if ok {
		delete(r.rooms, stream)
	}
	r.mu.Unlock()

	if !ok {
		return nil
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	for user, p := range rm.peers {
		r.closePeer(ctx, p)
		delete(rm.peers, user)
		r.metrics.RecordPeerLeft(stream)
	}

	r.fabric.ForgetStream(stream)
	r.metrics.RecordRoomClosed()

	r.log.Infow("stream ended", "stream", stream)
	return nil
}
