package ports

import "github.com/artieeg/warpy-media/internal/core/domain"

// Metrics receives control-plane events for exposition. The Prometheus
// implementation lives in infrastructure/monitoring.
type Metrics interface {
	RecordRoomOpened()
	RecordRoomClosed()
	RecordPeerJoined(stream domain.StreamID)
	RecordPeerLeft(stream domain.StreamID)
	RecordTrackPublished(kind domain.MediaKind)
	RecordPipeForwardFailure(node domain.NodeID)
	RecordHostReassignment(success bool)
}

// NopMetrics discards every event. Used in tests.
type NopMetrics struct{}

func (NopMetrics) RecordRoomOpened()                      {}
func (NopMetrics) RecordRoomClosed()                      {}
func (NopMetrics) RecordPeerJoined(domain.StreamID)       {}
func (NopMetrics) RecordPeerLeft(domain.StreamID)         {}
func (NopMetrics) RecordTrackPublished(domain.MediaKind)  {}
func (NopMetrics) RecordPipeForwardFailure(domain.NodeID) {}
func (NopMetrics) RecordHostReassignment(bool)            {}
