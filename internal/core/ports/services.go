package ports

import (
	"context"
	"encoding/json"

	"github.com/artieeg/warpy-media/internal/core/domain"
)

// RoomService is the media-room control plane of one media node.
type RoomService interface {
	CreateRoom(ctx context.Context, stream domain.StreamID, host domain.UserID) (*domain.RoomOptions, error)
	JoinRoom(ctx context.Context, stream domain.StreamID, user domain.UserID) (*domain.RoomOptions, error)

	// CreateSendTransport grants a freshly promoted speaker a send transport,
	// replacing (and closing) any stale one.
	CreateSendTransport(ctx context.Context, stream domain.StreamID, user domain.UserID) (*domain.TransportOptions, error)
	ConnectTransport(ctx context.Context, stream domain.StreamID, user domain.UserID, direction domain.MediaDirection, dtlsParameters json.RawMessage) error

	// PublishTrack creates a producer for an inbound track. Stale requests
	// for rooms or peers that no longer exist produce an empty id, not an
	// error.
	PublishTrack(ctx context.Context, req domain.PublishTrackRequest) (string, error)
	RequestConsumers(ctx context.Context, stream domain.StreamID, user domain.UserID, rtpCapabilities json.RawMessage) ([]domain.ConsumerInfo, error)

	// HandleForwardedProducer ingests a producer piped from another node.
	HandleForwardedProducer(ctx context.Context, fwd domain.ForwardedProducer) error
	// CloseUserProducers closes the peer's producers of the given kinds, e.g.
	// on demotion back to viewer.
	CloseUserProducers(ctx context.Context, stream domain.StreamID, user domain.UserID, kinds []domain.MediaKind) error

	Leave(ctx context.Context, stream domain.StreamID, user domain.UserID) error
	EndStream(ctx context.Context, stream domain.StreamID) error

	RoomCount() int
}

// PipeFabric propagates producers to the other media nodes serving viewers of
// the same room and tears the derived copies down again.
type PipeFabric interface {
	RegisterRoomTopology(stream domain.StreamID, nodes []domain.NodeID)
	ForwardProducer(ctx context.Context, stream domain.StreamID, user domain.UserID, producer Producer, rtpCapabilities json.RawMessage) error
	CloseProducer(ctx context.Context, producerID string)
	ForgetStream(stream domain.StreamID)
}

// HostService drives the host-failover state machine.
type HostService interface {
	// HandleParticipantRole keeps the candidate set in sync with role
	// changes and promotes the first streamer of a hostless stream.
	HandleParticipantRole(ctx context.Context, p domain.Participant) error
	HandleRejoin(ctx context.Context, user domain.UserID) error
	HandleDisconnect(ctx context.Context, user domain.UserID) error
	Shutdown()
}
