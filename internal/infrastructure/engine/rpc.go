package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/artieeg/warpy-media/internal/core/domain"
	"github.com/artieeg/warpy-media/internal/core/ports"

	"go.uber.org/zap"
)

// Engine RPC subjects. The media engine is an external process; every
// primitive is a request or publish on its control subjects, and all codec /
// ICE / DTLS payloads stay opaque to this side.
const (
	subjRouters          = "engine.routers"
	subjTransportCreate  = "engine.transport.create"
	subjTransportConnect = "engine.transport.connect"
	subjTransportClose   = "engine.transport.close"
	subjPlainCreate      = "engine.plain.create"
	subjProduce          = "engine.produce"
	subjProducerClose    = "engine.producer.close"
	subjConsume          = "engine.consume"
	subjConsumePlain     = "engine.plain.consume"
	subjConsumerResume   = "engine.consumer.resume"
	subjConsumerClose    = "engine.consumer.close"
	subjPipeConsume      = "engine.pipe.consume"
	subjPipeProduce      = "engine.pipe.produce"
	subjPipeToRouter     = "engine.pipe.to-router"
	subjObserverAdd      = "engine.observer.add"
	subjRecordingCaps    = "engine.recording.caps"
)

type routerInfo struct {
	ID              string          `json:"id"`
	RTPCapabilities json.RawMessage `json:"rtpCapabilities"`
}

type router struct {
	info routerInfo
}

func (r *router) ID() string                       { return r.info.ID }
func (r *router) RTPCapabilities() json.RawMessage { return r.info.RTPCapabilities }

type transport struct {
	e    *RPCEngine
	opts domain.TransportOptions
}

func (t *transport) ID() string                       { return t.opts.ID }
func (t *transport) Options() domain.TransportOptions { return t.opts }

func (t *transport) Connect(ctx context.Context, dtlsParameters json.RawMessage) error {
	return t.e.bus.Request(ctx, subjTransportConnect, map[string]interface{}{
		"transportId":    t.opts.ID,
		"dtlsParameters": dtlsParameters,
	}, nil)
}

func (t *transport) Close() error {
	return t.e.bus.Publish(subjTransportClose, map[string]string{"id": t.opts.ID})
}

type plainTransport struct {
	e             *RPCEngine
	id            string
	remoteRTPPort int
	localRTCPPort int
}

func (t *plainTransport) ID() string         { return t.id }
func (t *plainTransport) RemoteRTPPort() int { return t.remoteRTPPort }
func (t *plainTransport) LocalRTCPPort() int { return t.localRTCPPort }

func (t *plainTransport) Close() error {
	return t.e.bus.Publish(subjTransportClose, map[string]string{"id": t.id})
}

type producer struct {
	e       *RPCEngine
	id      string
	kind    domain.MediaKind
	rtp     json.RawMessage
	appData json.RawMessage
}

func (p *producer) ID() string                     { return p.id }
func (p *producer) Kind() domain.MediaKind         { return p.kind }
func (p *producer) RTPParameters() json.RawMessage { return p.rtp }
func (p *producer) AppData() json.RawMessage       { return p.appData }

func (p *producer) Close() error {
	return p.e.bus.Publish(subjProducerClose, map[string]string{"id": p.id})
}

type consumerInfo struct {
	ID            string           `json:"id"`
	ProducerID    string           `json:"producerId"`
	Kind          domain.MediaKind `json:"kind"`
	RTPParameters json.RawMessage  `json:"rtpParameters"`
	AppData       json.RawMessage  `json:"appData,omitempty"`
}

type consumer struct {
	e    *RPCEngine
	info consumerInfo
}

func (c *consumer) ID() string                     { return c.info.ID }
func (c *consumer) ProducerID() string             { return c.info.ProducerID }
func (c *consumer) Kind() domain.MediaKind         { return c.info.Kind }
func (c *consumer) RTPParameters() json.RawMessage { return c.info.RTPParameters }

func (c *consumer) Resume(ctx context.Context) error {
	return c.e.bus.Request(ctx, subjConsumerResume, map[string]string{"id": c.info.ID}, nil)
}

func (c *consumer) Close() error {
	return c.e.bus.Publish(subjConsumerClose, map[string]string{"id": c.info.ID})
}

// RPCEngine drives the external media engine over the message bus. Routers
// are fetched once at startup and new rooms are assigned to them round-robin
// so load spreads across the engine's workers.
type RPCEngine struct {
	bus     ports.MessageBus
	log     *zap.SugaredLogger
	routers []*router
	next    atomic.Uint64
}

func NewRPCEngine(ctx context.Context, bus ports.MessageBus, log *zap.SugaredLogger) (*RPCEngine, error) {
	e := &RPCEngine{bus: bus, log: log}

	var resp struct {
		Routers []routerInfo `json:"routers"`
	}
	if err := bus.Request(ctx, subjRouters, struct{}{}, &resp); err != nil {
		return nil, fmt.Errorf("failed to list engine routers: %w", err)
	}
	if len(resp.Routers) == 0 {
		return nil, fmt.Errorf("engine reported no routers")
	}

	for _, info := range resp.Routers {
		e.routers = append(e.routers, &router{info: info})
	}

	log.Infow("media engine attached", "routers", len(e.routers))
	return e, nil
}

var _ ports.MediaEngine = (*RPCEngine)(nil)

func (e *RPCEngine) Router(ctx context.Context) (ports.Router, error) {
	n := e.next.Add(1)
	return e.routers[int(n-1)%len(e.routers)], nil
}

func (e *RPCEngine) Routers(ctx context.Context) ([]ports.Router, error) {
	out := make([]ports.Router, len(e.routers))
	for i, r := range e.routers {
		out[i] = r
	}
	return out, nil
}

func (e *RPCEngine) CreateTransport(ctx context.Context, r ports.Router, direction domain.MediaDirection, user domain.UserID) (ports.Transport, error) {
	var opts domain.TransportOptions
	err := e.bus.Request(ctx, subjTransportCreate, map[string]interface{}{
		"routerId":  r.ID(),
		"direction": direction,
		"user":      user,
	}, &opts)
	if err != nil {
		return nil, err
	}
	return &transport{e: e, opts: opts}, nil
}

func (e *RPCEngine) CreatePlainTransport(ctx context.Context, r ports.Router, user domain.UserID) (ports.PlainTransport, error) {
	var resp struct {
		ID            string `json:"id"`
		RemoteRTPPort int    `json:"remoteRtpPort"`
		LocalRTCPPort int    `json:"localRtcpPort"`
	}
	err := e.bus.Request(ctx, subjPlainCreate, map[string]interface{}{
		"routerId": r.ID(),
		"user":     user,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &plainTransport{
		e:             e,
		id:            resp.ID,
		remoteRTPPort: resp.RemoteRTPPort,
		localRTCPPort: resp.LocalRTCPPort,
	}, nil
}

func (e *RPCEngine) Produce(ctx context.Context, t ports.Transport, kind domain.MediaKind, rtpParameters, appData json.RawMessage) (ports.Producer, error) {
	var resp struct {
		ID string `json:"id"`
	}
	err := e.bus.Request(ctx, subjProduce, map[string]interface{}{
		"transportId":   t.ID(),
		"kind":          kind,
		"rtpParameters": rtpParameters,
		"appData":       appData,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &producer{e: e, id: resp.ID, kind: kind, rtp: rtpParameters, appData: appData}, nil
}

func (e *RPCEngine) Consume(ctx context.Context, r ports.Router, producerID string, rtpCapabilities json.RawMessage, t ports.Transport) (ports.Consumer, error) {
	var info consumerInfo
	err := e.bus.Request(ctx, subjConsume, map[string]interface{}{
		"routerId":        r.ID(),
		"producerId":      producerID,
		"transportId":     t.ID(),
		"rtpCapabilities": rtpCapabilities,
	}, &info)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrCapabilityMismatch, err)
	}
	return &consumer{e: e, info: info}, nil
}

func (e *RPCEngine) ConsumePlain(ctx context.Context, t ports.PlainTransport, producerID string, rtpCapabilities json.RawMessage) (ports.Consumer, error) {
	var info consumerInfo
	err := e.bus.Request(ctx, subjConsumePlain, map[string]interface{}{
		"transportId":     t.ID(),
		"producerId":      producerID,
		"rtpCapabilities": rtpCapabilities,
		"paused":          true,
	}, &info)
	if err != nil {
		return nil, err
	}
	return &consumer{e: e, info: info}, nil
}

func (e *RPCEngine) CreatePipeConsumer(ctx context.Context, node domain.NodeID, producerID string) (ports.Consumer, error) {
	var info consumerInfo
	err := e.bus.Request(ctx, subjPipeConsume, map[string]interface{}{
		"node":       node,
		"producerId": producerID,
	}, &info)
	if err != nil {
		return nil, err
	}
	return &consumer{e: e, info: info}, nil
}

func (e *RPCEngine) PipeProduce(ctx context.Context, fwd domain.ForwardedProducer) (ports.Producer, error) {
	var resp struct {
		ID string `json:"id"`
	}
	if err := e.bus.Request(ctx, subjPipeProduce, fwd, &resp); err != nil {
		return nil, err
	}
	return &producer{e: e, id: resp.ID, kind: fwd.Kind, rtp: fwd.RTPParameters, appData: fwd.AppData}, nil
}

func (e *RPCEngine) PipeToRouter(ctx context.Context, p ports.Producer, r ports.Router) (ports.Producer, error) {
	var resp struct {
		ID string `json:"id"`
	}
	err := e.bus.Request(ctx, subjPipeToRouter, map[string]string{
		"producerId": p.ID(),
		"routerId":   r.ID(),
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &producer{e: e, id: resp.ID, kind: p.Kind(), rtp: p.RTPParameters(), appData: p.AppData()}, nil
}

func (e *RPCEngine) ObserveAudioProducer(ctx context.Context, r ports.Router, producerID string) error {
	return e.bus.Request(ctx, subjObserverAdd, map[string]string{
		"routerId":   r.ID(),
		"producerId": producerID,
	}, nil)
}

func (e *RPCEngine) RecordingCapabilities(ctx context.Context, r ports.Router) (json.RawMessage, error) {
	var resp struct {
		RTPCapabilities json.RawMessage `json:"rtpCapabilities"`
	}
	err := e.bus.Request(ctx, subjRecordingCaps, map[string]string{
		"routerId": r.ID(),
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.RTPCapabilities, nil
}
