package ports

import (
	"context"

	"github.com/artieeg/warpy-media/internal/core/domain"
)

// ParticipantStore is the role-indexed presence store for live streams.
// Writes are atomic multi-key batches; readers never observe a user in two
// conflicting role buckets.
type ParticipantStore interface {
	// Add inserts a participant, purging any stale record the same user left
	// behind in another stream after an unclean disconnect.
	Add(ctx context.Context, p domain.Participant) error
	Get(ctx context.Context, user domain.UserID) (domain.Participant, error)
	List(ctx context.Context, users []domain.UserID) ([]domain.Participant, error)

	// Update applies a partial update and maintains the role / raised-hand
	// indexes in the same batch.
	Update(ctx context.Context, user domain.UserID, upd domain.ParticipantUpdate) (domain.Participant, error)

	// SetDeactivated overlays the record without touching role buckets, so
	// re-activation restores the prior role.
	SetDeactivated(ctx context.Context, user domain.UserID, stream domain.StreamID, flag bool) error
	IsDeactivated(ctx context.Context, user domain.UserID, stream domain.StreamID) (bool, error)

	Remove(ctx context.Context, user domain.UserID, stream domain.StreamID) error
	RemoveStream(ctx context.Context, stream domain.StreamID) error

	GetStreamers(ctx context.Context, stream domain.StreamID) ([]domain.Participant, error)
	GetRaisedHands(ctx context.Context, stream domain.StreamID) ([]domain.Participant, error)
	GetViewersPage(ctx context.Context, stream domain.StreamID, page int) ([]domain.Participant, error)
	ParticipantIDs(ctx context.Context, stream domain.StreamID, includeDeactivated bool) ([]domain.UserID, error)

	Count(ctx context.Context, stream domain.StreamID) (int, error)
	CountVideoStreamers(ctx context.Context, stream domain.StreamID) (int, error)
	StreamID(ctx context.Context, user domain.UserID) (domain.StreamID, error)
}

// HostStore keeps the per-stream host record and the set of reassignment
// candidates.
type HostStore interface {
	SetStreamHost(ctx context.Context, p domain.Participant) error
	HostID(ctx context.Context, stream domain.StreamID) (domain.UserID, error)
	HostInfo(ctx context.Context, user domain.UserID) (domain.Participant, error)
	HostedStream(ctx context.Context, user domain.UserID) (domain.StreamID, error)
	IsHost(ctx context.Context, user domain.UserID) (bool, error)

	SetJoinStatus(ctx context.Context, host domain.UserID, joined bool) error
	IsJoined(ctx context.Context, host domain.UserID) (bool, error)

	AddPossibleHost(ctx context.Context, p domain.Participant) error
	DelPossibleHost(ctx context.Context, user domain.UserID, stream domain.StreamID) error
	// RandomPossibleHost picks one candidate uniformly at random; returns
	// domain.ErrReassignmentExhausted when the set is empty.
	RandomPossibleHost(ctx context.Context, stream domain.StreamID) (domain.Participant, error)

	DelByStream(ctx context.Context, stream domain.StreamID) error
}
