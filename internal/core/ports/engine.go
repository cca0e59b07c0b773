package ports

import (
	"context"
	"encoding/json"

	"github.com/artieeg/warpy-media/internal/core/domain"
)

// Router is one routing context on the media engine. Every transport,
// producer and consumer lives on exactly one router.
type Router interface {
	ID() string
	RTPCapabilities() json.RawMessage
}

// Transport is a WebRTC-style transport on the engine. Connection parameters
// are opaque to the control plane.
type Transport interface {
	ID() string
	Options() domain.TransportOptions
	Connect(ctx context.Context, dtlsParameters json.RawMessage) error
	Close() error
}

// PlainTransport is a server-side plain RTP transport, used to feed the
// recording egress pipeline.
type PlainTransport interface {
	ID() string
	RemoteRTPPort() int
	LocalRTCPPort() int
	Close() error
}

// Producer is a handle for one inbound media track.
type Producer interface {
	ID() string
	Kind() domain.MediaKind
	RTPParameters() json.RawMessage
	AppData() json.RawMessage
	Close() error
}

// Consumer is a handle for one outbound media track delivered to a peer, a
// pipe transport or the recording egress.
type Consumer interface {
	ID() string
	ProducerID() string
	Kind() domain.MediaKind
	RTPParameters() json.RawMessage
	Resume(ctx context.Context) error
	Close() error
}

// MediaEngine exposes the create-transport / produce / consume / pipe
// primitives of the external media processing engine.
type MediaEngine interface {
	// Router selects a router from the engine's worker pool for a new room.
	Router(ctx context.Context) (Router, error)
	// Routers lists every local router, one per engine worker.
	Routers(ctx context.Context) ([]Router, error)

	CreateTransport(ctx context.Context, router Router, direction domain.MediaDirection, user domain.UserID) (Transport, error)
	CreatePlainTransport(ctx context.Context, router Router, user domain.UserID) (PlainTransport, error)

	Produce(ctx context.Context, transport Transport, kind domain.MediaKind, rtpParameters, appData json.RawMessage) (Producer, error)
	Consume(ctx context.Context, router Router, producerID string, rtpCapabilities json.RawMessage, transport Transport) (Consumer, error)
	ConsumePlain(ctx context.Context, transport PlainTransport, producerID string, rtpCapabilities json.RawMessage) (Consumer, error)

	// CreatePipeConsumer attaches a pipe consumer for producerID on the pipe
	// transport towards the given node.
	CreatePipeConsumer(ctx context.Context, node domain.NodeID, producerID string) (Consumer, error)
	// PipeProduce materializes a producer forwarded from another node.
	PipeProduce(ctx context.Context, fwd domain.ForwardedProducer) (Producer, error)
	// PipeToRouter copies a producer onto another local router so peers
	// attached there can consume it.
	PipeToRouter(ctx context.Context, producer Producer, router Router) (Producer, error)

	// ObserveAudioProducer registers an audio producer with the router's
	// active speaker observer.
	ObserveAudioProducer(ctx context.Context, router Router, producerID string) error
	// RecordingCapabilities returns the reduced capability set used for the
	// recording consumer on the given router.
	RecordingCapabilities(ctx context.Context, router Router) (json.RawMessage, error)
}
