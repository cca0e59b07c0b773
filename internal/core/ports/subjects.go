package ports

import (
	"fmt"

	"github.com/artieeg/warpy-media/internal/core/domain"
)

// Bus subjects making up the control-plane contract. Every operation is
// invoked as a request or publish on one of these.
const (
	SubjectRoomCreate       = "media.room.create"
	SubjectRoomJoin         = "media.room.join"
	SubjectTransportConnect = "media.transport.connect"
	SubjectTrackNew         = "media.track.new"
	SubjectRecvTracks       = "media.tracks.recv"
	SubjectSpeakerNew       = "media.speaker.new"
	SubjectProducersClose   = "media.producers.close"
	SubjectUserLeave        = "media.user.leave"
	SubjectStreamEnd        = "media.stream.end"

	SubjectRecordRequest  = "media.egress.record"
	SubjectActiveSpeakers = "media.active-speakers"
	SubjectNodeInfo       = "media.node.info"

	SubjectParticipantAdd    = "presence.participant.add"
	SubjectParticipantRole   = "presence.participant.role"
	SubjectRaiseHand         = "presence.participant.raise-hand"
	SubjectParticipantLeave  = "presence.participant.leave"
	SubjectUserDisconnect    = "presence.user.disconnect"
	SubjectUserRejoin        = "presence.user.rejoin"
	SubjectPresenceStreamEnd = "presence.stream.end"
	SubjectViewersPage       = "presence.viewers.page"
	SubjectStreamCount       = "presence.count"

	SubjectHostReassigned     = "stream.host.reassigned"
	SubjectHostReassignFailed = "stream.host.reassign-failed"
)

// Per-user push events.
const (
	EventNewTrack       = "@media/new-track"
	EventRoleChanged    = "@media/role-changed"
	EventHostReassigned = "@media/host-reassigned"
)

// SubjectNodeProducerNew addresses the forwarded-producer announcement to a
// single media node.
func SubjectNodeProducerNew(node domain.NodeID) string {
	return fmt.Sprintf("media.node.%s.producer.new", node)
}

// SubjectNodeProducerClose tells a node to tear down its derived copies of a
// producer.
func SubjectNodeProducerClose(node domain.NodeID) string {
	return fmt.Sprintf("media.node.%s.producer.close", node)
}

// SubjectUserReply is the personal subject a connected client's gateway
// listens on for server push.
func SubjectUserReply(user domain.UserID) string {
	return fmt.Sprintf("reply.user.%s", user)
}
