package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/artieeg/warpy-media/internal/core/domain"
	"github.com/artieeg/warpy-media/internal/core/ports"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSBus is the MessageBus implementation over a NATS connection with a
// JSON codec: fire-and-forget publishes, request/reply RPC and per-subject
// subscriptions.
type NATSBus struct {
	nc      *nats.Conn
	log     *zap.SugaredLogger
	timeout time.Duration
}

func Connect(url, name string, timeout time.Duration, log *zap.SugaredLogger) (*NATSBus, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	log.Infow("connected to NATS", "url", url, "name", name)

	return &NATSBus{nc: nc, log: log, timeout: timeout}, nil
}

var _ ports.MessageBus = (*NATSBus)(nil)

func (b *NATSBus) Publish(subject string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode payload for %s: %w", subject, err)
	}
	if err := b.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

func (b *NATSBus) Request(ctx context.Context, subject string, req, resp interface{}) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode request for %s: %w", subject, err)
	}

	if _, ok := ctx.Deadline(); !ok && b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	msg, err := b.nc.RequestWithContext(ctx, subject, data)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", subject, err)
	}

	if resp == nil {
		return nil
	}
	if err := json.Unmarshal(msg.Data, resp); err != nil {
		return fmt.Errorf("failed to decode reply from %s: %w", subject, err)
	}
	return nil
}

func (b *NATSBus) Subscribe(subject string, handler ports.BusHandler) (ports.Subscription, error) {
	sub, err := b.nc.Subscribe(subject, func(msg *nats.Msg) {
		reply, err := handler(context.Background(), msg.Data)
		if err != nil {
			b.log.Errorw("bus handler failed", "subject", subject, "err", err)
		}
		if msg.Reply != "" && reply != nil {
			if err := msg.Respond(reply); err != nil {
				b.log.Warnw("failed to respond", "subject", subject, "err", err)
			}
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	return sub, nil
}

// SendToUser pushes an event envelope to the user's personal reply subject.
func (b *NATSBus) SendToUser(user domain.UserID, event string, payload interface{}) error {
	return b.Publish(ports.SubjectUserReply(user), domain.UserEvent{
		Event: event,
		Data:  payload,
	})
}

func (b *NATSBus) Close() {
	if err := b.nc.Drain(); err != nil {
		b.log.Warnw("failed to drain NATS connection", "err", err)
	}
}
