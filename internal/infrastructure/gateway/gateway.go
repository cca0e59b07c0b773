package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/artieeg/warpy-media/internal/core/ports"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const tracerName = "gateway"

// subscribeJSON binds a typed handler to a bus subject: the payload is decoded
// into Req, the handler runs under a span named after the subject, and the
// response (if the sender asked for one) is encoded back to JSON.
func subscribeJSON[Req, Resp any](bus ports.MessageBus, log *zap.SugaredLogger, subject string, fn func(ctx context.Context, req Req) (Resp, error)) (ports.Subscription, error) {
	handler := func(ctx context.Context, data []byte) ([]byte, error) {
		ctx, span := otel.Tracer(tracerName).Start(ctx, subject)
		defer span.End()

		var req Req
		if err := json.Unmarshal(data, &req); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("failed to decode %s payload: %w", subject, err)
		}

		resp, err := fn(ctx, req)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			log.Errorw("handler failed", "subject", subject, "err", err)
			return json.Marshal(map[string]string{"error": err.Error()})
		}

		return json.Marshal(resp)
	}

	sub, err := bus.Subscribe(subject, handler)
	if err != nil {
		return nil, fmt.Errorf("failed to bind %s: %w", subject, err)
	}
	return sub, nil
}

// closeAll drains a set of subscriptions, keeping the first error.
func closeAll(subs []ports.Subscription) error {
	var first error
	for _, s := range subs {
		if err := s.Unsubscribe(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
