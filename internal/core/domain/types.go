package domain

type StreamID string
type UserID string
type NodeID string

// MediaKind is the media track kind as negotiated with the engine.
type MediaKind string

const (
	KindAudio MediaKind = "audio"
	KindVideo MediaKind = "video"
)

func (k MediaKind) Valid() bool {
	return k == KindAudio || k == KindVideo
}

// MediaDirection is relative to the client: "send" transports carry the
// client's outbound tracks, "recv" transports deliver everyone else's.
type MediaDirection string

const (
	DirectionSend MediaDirection = "send"
	DirectionRecv MediaDirection = "recv"
)

type Role string

const (
	RoleViewer   Role = "viewer"
	RoleSpeaker  Role = "speaker"
	RoleStreamer Role = "streamer"
)

// CanPublish reports whether the role is allowed to hold a send transport.
func (r Role) CanPublish() bool {
	return r == RoleSpeaker || r == RoleStreamer
}

type JoinStatus string

const (
	JoinStatusJoined    JoinStatus = "joined"
	JoinStatusNotJoined JoinStatus = "not-joined"
)
