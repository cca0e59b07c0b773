package services

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/artieeg/warpy-media/internal/core/domain"
	"github.com/artieeg/warpy-media/internal/core/ports"
	"github.com/artieeg/warpy-media/pkg/retry"

	"go.uber.org/zap"
)

// forwardedTrack remembers where a producer's copies went so that closing the
// source closes every derived pipe consumer and remote copy.
type forwardedTrack struct {
	stream domain.StreamID
	user   domain.UserID
	kind   domain.MediaKind
	byNode map[domain.NodeID]ports.Consumer
}

// PipeRoutingFabric maintains the producer-forwarding edges between this node
// and every node that relays our tracks to its own viewers. It keeps the pipe
// consumer handle per (producer, node) so teardown never leaks.
type PipeRoutingFabric struct {
	engine   ports.MediaEngine
	bus      ports.MessageBus
	metrics  ports.Metrics
	log      *zap.SugaredLogger
	retryCfg retry.Config

	mu       sync.Mutex
	topology map[domain.StreamID][]domain.NodeID
	derived  map[string]*forwardedTrack
}

func NewPipeRoutingFabric(
	engine ports.MediaEngine,
	bus ports.MessageBus,
	metrics ports.Metrics,
	log *zap.SugaredLogger,
) *PipeRoutingFabric {
	return &PipeRoutingFabric{
		engine:   engine,
		bus:      bus,
		metrics:  metrics,
		log:      log,
		retryCfg: retry.DefaultConfig(),
		topology: make(map[domain.StreamID][]domain.NodeID),
		derived:  make(map[string]*forwardedTrack),
	}
}

var _ ports.PipeFabric = (*PipeRoutingFabric)(nil)

// RegisterRoomTopology records which nodes must receive a forwarded copy of
// every producer created in the room.
func (f *PipeRoutingFabric) RegisterRoomTopology(stream domain.StreamID, nodes []domain.NodeID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topology[stream] = append([]domain.NodeID(nil), nodes...)
}

func (f *PipeRoutingFabric) nodesFor(stream domain.StreamID) []domain.NodeID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.topology[stream]
}

// ForwardProducer pipes the producer to every forwarding node of the room
// and announces the derived copy there. A node that fails only loses its own
// fan-out; the remaining nodes are still served.
func (f *PipeRoutingFabric) ForwardProducer(ctx context.Context, stream domain.StreamID, user domain.UserID, producer ports.Producer, rtpCapabilities json.RawMessage) error {
	nodes := f.nodesFor(stream)
	if len(nodes) == 0 {
		return nil
	}

	var failed int
	for _, node := range nodes {
		if err := f.forwardToNode(ctx, node, stream, user, producer, rtpCapabilities); err != nil {
			f.log.Warnw("failed to forward producer to node",
				"stream", stream, "producer", producer.ID(), "node", node, "err", err)
			f.metrics.RecordPipeForwardFailure(node)
			failed++
		}
	}

	if failed == len(nodes) {
		return domain.ErrPipeForwardingFailure
	}
	return nil
}

func (f *PipeRoutingFabric) forwardToNode(ctx context.Context, node domain.NodeID, stream domain.StreamID, user domain.UserID, producer ports.Producer, rtpCapabilities json.RawMessage) error {
	pipeConsumer, err := retry.DoWithResult(ctx, f.retryCfg, func() (ports.Consumer, error) {
		return f.engine.CreatePipeConsumer(ctx, node, producer.ID())
	})
	if err != nil {
		return err
	}

	err = f.bus.Publish(ports.SubjectNodeProducerNew(node), domain.ForwardedProducer{
		ID:              pipeConsumer.ID(),
		User:            user,
		Stream:          stream,
		Kind:            pipeConsumer.Kind(),
		RTPParameters:   pipeConsumer.RTPParameters(),
		RTPCapabilities: rtpCapabilities,
		AppData:         producer.AppData(),
	})
	if err != nil {
		if cerr := pipeConsumer.Close(); cerr != nil {
			f.log.Warnw("failed to close orphaned pipe consumer",
				"producer", producer.ID(), "node", node, "err", cerr)
		}
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	track, ok := f.derived[producer.ID()]
	if !ok {
		track = &forwardedTrack{
			stream: stream,
			user:   user,
			kind:   producer.Kind(),
			byNode: make(map[domain.NodeID]ports.Consumer),
		}
		f.derived[producer.ID()] = track
	}
	track.byNode[node] = pipeConsumer

	return nil
}

// CloseProducer tears down every pipe consumer derived from the producer and
// tells the forwarding nodes to drop their copies. Best effort: failures are
// logged, the teardown continues.
func (f *PipeRoutingFabric) CloseProducer(ctx context.Context, producerID string) {
	f.mu.Lock()
	track := f.derived[producerID]
	delete(f.derived, producerID)
	f.mu.Unlock()

	if track == nil {
		return
	}

	for node, pipeConsumer := range track.byNode {
		if err := pipeConsumer.Close(); err != nil {
			f.log.Warnw("failed to close pipe consumer",
				"producer", producerID, "node", node, "err", err)
		}
		if err := f.bus.Publish(ports.SubjectNodeProducerClose(node), domain.ForwardedProducer{
			ID:     pipeConsumer.ID(),
			User:   track.user,
			Stream: track.stream,
			Kind:   track.kind,
		}); err != nil {
			f.log.Warnw("failed to announce producer close",
				"producer", producerID, "node", node, "err", err)
		}
	}
}

// ForgetStream drops the stream's forwarding topology.
func (f *PipeRoutingFabric) ForgetStream(stream domain.StreamID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.topology, stream)
}
