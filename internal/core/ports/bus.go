package ports

import (
	"context"

	"github.com/artieeg/warpy-media/internal/core/domain"
)

// BusHandler processes one bus message. A non-nil reply is sent back to the
// requester when the message carried a reply subject.
type BusHandler func(ctx context.Context, data []byte) (reply []byte, err error)

type Subscription interface {
	Unsubscribe() error
}

// MessageBus is the node-to-node and client-to-service transport: JSON
// payloads addressed by subject strings, fire-and-forget publishes and
// request/reply RPC.
type MessageBus interface {
	Publish(subject string, v interface{}) error
	Request(ctx context.Context, subject string, req, resp interface{}) error
	Subscribe(subject string, handler BusHandler) (Subscription, error)

	// SendToUser pushes an event to a user's personal reply subject.
	SendToUser(user domain.UserID, event string, payload interface{}) error
}
