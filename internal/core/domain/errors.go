package domain

import "errors"

var (
	ErrRoomNotFound          = errors.New("room not found")
	ErrPeerNotFound          = errors.New("peer not found")
	ErrParticipantNotFound   = errors.New("participant not found")
	ErrTransportMissing      = errors.New("transport missing or closed")
	ErrCapabilityMismatch    = errors.New("rtp capability mismatch")
	ErrPipeForwardingFailure = errors.New("pipe forwarding failed")
	ErrReassignmentExhausted = errors.New("no eligible host candidate")
	ErrNoHost                = errors.New("stream has no host")
	ErrPermissionDenied      = errors.New("media permission denied")
)
