package domain

import "encoding/json"

// TransportOptions are engine connection parameters handed back to clients.
// ICE/DTLS contents are opaque to the control plane and passed through as-is.
type TransportOptions struct {
	ID             string          `json:"id"`
	ICEParameters  json.RawMessage `json:"iceParameters,omitempty"`
	ICECandidates  json.RawMessage `json:"iceCandidates,omitempty"`
	DTLSParameters json.RawMessage `json:"dtlsParameters,omitempty"`
}

// RoomOptions is the payload returned on room creation / join.
type RoomOptions struct {
	RouterRTPCapabilities json.RawMessage   `json:"routerRtpCapabilities"`
	SendTransport         *TransportOptions `json:"sendTransportOptions,omitempty"`
	RecvTransport         *TransportOptions `json:"recvTransportOptions,omitempty"`
}

// ConsumerInfo carries the parameters a client needs to consume one remote
// track on its recv transport.
type ConsumerInfo struct {
	ID            string          `json:"id"`
	ProducerID    string          `json:"producerId"`
	User          UserID          `json:"user"`
	Kind          MediaKind       `json:"kind"`
	RTPParameters json.RawMessage `json:"rtpParameters"`
}

// PublishTrackRequest describes one inbound track from a publishing peer.
type PublishTrackRequest struct {
	Stream          StreamID        `json:"roomId"`
	User            UserID          `json:"user"`
	Direction       MediaDirection  `json:"direction"`
	Kind            MediaKind       `json:"kind"`
	TransportID     string          `json:"transportId"`
	RTPParameters   json.RawMessage `json:"rtpParameters"`
	RTPCapabilities json.RawMessage `json:"rtpCapabilities"`
	AppData         json.RawMessage `json:"appData,omitempty"`
}

// ForwardedProducer announces a producer piped from another media node. The
// receiving node turns it into a local-equivalent producer so its own viewers
// can consume the track.
type ForwardedProducer struct {
	ID              string          `json:"id"`
	User            UserID          `json:"userId"`
	Stream          StreamID        `json:"roomId"`
	Kind            MediaKind       `json:"kind"`
	RTPParameters   json.RawMessage `json:"rtpParameters"`
	RTPCapabilities json.RawMessage `json:"rtpCapabilities"`
	AppData         json.RawMessage `json:"appData,omitempty"`
}

// RecordRequest asks the egress collaborator to record a stream from a plain
// RTP transport.
type RecordRequest struct {
	RecordingID     string          `json:"recordingId"`
	Stream          StreamID        `json:"stream"`
	RemoteRTPPort   int             `json:"remoteRtpPort"`
	LocalRTCPPort   int             `json:"localRtcpPort,omitempty"`
	RTPCapabilities json.RawMessage `json:"rtpCapabilities"`
	RTPParameters   json.RawMessage `json:"rtpParameters"`
}

// UserEvent is the envelope for targeted per-user push messages.
type UserEvent struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// NewTrackEvent notifies a peer that a new remote track is consumable.
type NewTrackEvent struct {
	User     UserID       `json:"user"`
	Stream   StreamID     `json:"roomId"`
	Consumer ConsumerInfo `json:"consumerParameters"`
}

// HostReassigned is published when host failover installs a new host.
type HostReassigned struct {
	Stream StreamID    `json:"stream"`
	Host   Participant `json:"host"`
}

// HostReassignFailed is published when no eligible candidate was found; the
// stream should be ended by whoever listens.
type HostReassignFailed struct {
	Stream StreamID `json:"stream"`
}

// NodeInfo is the periodic liveness/load announcement of a media node.
type NodeInfo struct {
	Node  NodeID  `json:"node"`
	Role  string  `json:"role"`
	Load  float64 `json:"load"`
	Rooms int     `json:"rooms"`
}
