package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/artieeg/warpy-media/internal/core/domain"
	"github.com/artieeg/warpy-media/internal/core/ports"
)

type fakeRouter struct {
	id   string
	caps json.RawMessage
}

func (r *fakeRouter) ID() string                       { return r.id }
func (r *fakeRouter) RTPCapabilities() json.RawMessage { return r.caps }

type fakeTransport struct {
	id        string
	direction domain.MediaDirection
	connected bool
	closed    bool
}

func (t *fakeTransport) ID() string { return t.id }
func (t *fakeTransport) Options() domain.TransportOptions {
	return domain.TransportOptions{ID: t.id}
}
func (t *fakeTransport) Connect(ctx context.Context, dtls json.RawMessage) error {
	t.connected = true
	return nil
}
func (t *fakeTransport) Close() error {
	t.closed = true
	return nil
}

type fakePlainTransport struct {
	id     string
	closed bool
}

func (t *fakePlainTransport) ID() string         { return t.id }
func (t *fakePlainTransport) RemoteRTPPort() int { return 50000 }
func (t *fakePlainTransport) LocalRTCPPort() int { return 50001 }
func (t *fakePlainTransport) Close() error {
	t.closed = true
	return nil
}

type fakeProducer struct {
	id      string
	kind    domain.MediaKind
	rtp     json.RawMessage
	appData json.RawMessage
	closed  bool
}

func (p *fakeProducer) ID() string                     { return p.id }
func (p *fakeProducer) Kind() domain.MediaKind         { return p.kind }
func (p *fakeProducer) RTPParameters() json.RawMessage { return p.rtp }
func (p *fakeProducer) AppData() json.RawMessage       { return p.appData }
func (p *fakeProducer) Close() error {
	p.closed = true
	return nil
}

type fakeConsumer struct {
	id         string
	producerID string
	kind       domain.MediaKind
	rtp        json.RawMessage
	resumed    bool
	closed     bool
}

func (c *fakeConsumer) ID() string                     { return c.id }
func (c *fakeConsumer) ProducerID() string             { return c.producerID }
func (c *fakeConsumer) Kind() domain.MediaKind         { return c.kind }
func (c *fakeConsumer) RTPParameters() json.RawMessage { return c.rtp }
func (c *fakeConsumer) Resume(ctx context.Context) error {
	c.resumed = true
	return nil
}
func (c *fakeConsumer) Close() error {
	c.closed = true
	return nil
}

// fakeEngine is an in-process MediaEngine double. Failures are injected per
// producer id or per node.
type fakeEngine struct {
	mu  sync.Mutex
	seq int

	routers []ports.Router

	produceErr       error
	consumeFailFor   map[string]bool          // producer ids whose Consume fails
	pipeConsumerFail map[domain.NodeID]bool   // nodes whose CreatePipeConsumer fails

	transports      []*fakeTransport
	plainTransports []*fakePlainTransport
	producers       []*fakeProducer
	consumers       []*fakeConsumer
	observed        []string
}

func newFakeEngine(routerIDs ...string) *fakeEngine {
	e := &fakeEngine{
		consumeFailFor:   make(map[string]bool),
		pipeConsumerFail: make(map[domain.NodeID]bool),
	}
	if len(routerIDs) == 0 {
		routerIDs = []string{"router-0"}
	}
	for _, id := range routerIDs {
		e.routers = append(e.routers, &fakeRouter{id: id, caps: json.RawMessage(`{"codecs":[]}`)})
	}
	return e
}

func (e *fakeEngine) nextID(prefix string) string {
	e.seq++
	return fmt.Sprintf("%s-%d", prefix, e.seq)
}

func (e *fakeEngine) Router(ctx context.Context) (ports.Router, error) {
	return e.routers[0], nil
}

func (e *fakeEngine) Routers(ctx context.Context) ([]ports.Router, error) {
	return e.routers, nil
}

func (e *fakeEngine) CreateTransport(ctx context.Context, r ports.Router, direction domain.MediaDirection, user domain.UserID) (ports.Transport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t := &fakeTransport{id: e.nextID("transport"), direction: direction}
	e.transports = append(e.transports, t)
	return t, nil
}

func (e *fakeEngine) CreatePlainTransport(ctx context.Context, r ports.Router, user domain.UserID) (ports.PlainTransport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t := &fakePlainTransport{id: e.nextID("plain")}
	e.plainTransports = append(e.plainTransports, t)
	return t, nil
}

func (e *fakeEngine) Produce(ctx context.Context, t ports.Transport, kind domain.MediaKind, rtpParameters, appData json.RawMessage) (ports.Producer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.produceErr != nil {
		return nil, e.produceErr
	}
	p := &fakeProducer{id: e.nextID("producer"), kind: kind, rtp: rtpParameters, appData: appData}
	e.producers = append(e.producers, p)
	return p, nil
}

func (e *fakeEngine) Consume(ctx context.Context, r ports.Router, producerID string, rtpCapabilities json.RawMessage, t ports.Transport) (ports.Consumer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.consumeFailFor[producerID] {
		return nil, domain.ErrCapabilityMismatch
	}
	c := &fakeConsumer{id: e.nextID("consumer"), producerID: producerID, kind: domain.KindAudio, rtp: json.RawMessage(`{}`)}
	e.consumers = append(e.consumers, c)
	return c, nil
}

func (e *fakeEngine) ConsumePlain(ctx context.Context, t ports.PlainTransport, producerID string, rtpCapabilities json.RawMessage) (ports.Consumer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c := &fakeConsumer{id: e.nextID("rec-consumer"), producerID: producerID, kind: domain.KindVideo, rtp: json.RawMessage(`{}`)}
	e.consumers = append(e.consumers, c)
	return c, nil
}

func (e *fakeEngine) CreatePipeConsumer(ctx context.Context, node domain.NodeID, producerID string) (ports.Consumer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pipeConsumerFail[node] {
		return nil, fmt.Errorf("pipe to %s unavailable", node)
	}
	c := &fakeConsumer{id: e.nextID("pipe-consumer"), producerID: producerID, kind: domain.KindAudio, rtp: json.RawMessage(`{}`)}
	e.consumers = append(e.consumers, c)
	return c, nil
}

func (e *fakeEngine) PipeProduce(ctx context.Context, fwd domain.ForwardedProducer) (ports.Producer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := &fakeProducer{id: e.nextID("pipe-producer"), kind: fwd.Kind, rtp: fwd.RTPParameters, appData: fwd.AppData}
	e.producers = append(e.producers, p)
	return p, nil
}

func (e *fakeEngine) PipeToRouter(ctx context.Context, p ports.Producer, r ports.Router) (ports.Producer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	piped := &fakeProducer{id: e.nextID("piped"), kind: p.Kind(), rtp: p.RTPParameters(), appData: p.AppData()}
	e.producers = append(e.producers, piped)
	return piped, nil
}

func (e *fakeEngine) ObserveAudioProducer(ctx context.Context, r ports.Router, producerID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observed = append(e.observed, producerID)
	return nil
}

func (e *fakeEngine) RecordingCapabilities(ctx context.Context, r ports.Router) (json.RawMessage, error) {
	return json.RawMessage(`{"codecs":["vp8"]}`), nil
}

type publishedMessage struct {
	subject string
	payload interface{}
}

type userMessage struct {
	user    domain.UserID
	event   string
	payload interface{}
}

// fakeBus records publishes; Request and Subscribe are not used by the
// services under test.
type fakeBus struct {
	mu         sync.Mutex
	published  []publishedMessage
	userEvents []userMessage
	publishErr map[string]bool // subjects whose Publish fails
}

func newFakeBus() *fakeBus {
	return &fakeBus{publishErr: make(map[string]bool)}
}

func (b *fakeBus) Publish(subject string, v interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.publishErr[subject] {
		return fmt.Errorf("publish to %s failed", subject)
	}
	b.published = append(b.published, publishedMessage{subject: subject, payload: v})
	return nil
}

func (b *fakeBus) Request(ctx context.Context, subject string, req, resp interface{}) error {
	return fmt.Errorf("unexpected request to %s", subject)
}

func (b *fakeBus) Subscribe(subject string, handler ports.BusHandler) (ports.Subscription, error) {
	return nil, fmt.Errorf("unexpected subscribe to %s", subject)
}

func (b *fakeBus) SendToUser(user domain.UserID, event string, payload interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.userEvents = append(b.userEvents, userMessage{user: user, event: event, payload: payload})
	return nil
}

func (b *fakeBus) publishedTo(subject string) []publishedMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []publishedMessage
	for _, m := range b.published {
		if m.subject == subject {
			out = append(out, m)
		}
	}
	return out
}

// fakeFabric records forward/close calls made by the room registry.
type fakeFabric struct {
	mu        sync.Mutex
	forwarded []string
	closed    []string
	forgotten []domain.StreamID
}

func (f *fakeFabric) RegisterRoomTopology(stream domain.StreamID, nodes []domain.NodeID) {}

func (f *fakeFabric) ForwardProducer(ctx context.Context, stream domain.StreamID, user domain.UserID, producer ports.Producer, rtpCapabilities json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forwarded = append(f.forwarded, producer.ID())
	return nil
}

func (f *fakeFabric) CloseProducer(ctx context.Context, producerID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, producerID)
}

func (f *fakeFabric) ForgetStream(stream domain.StreamID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forgotten = append(f.forgotten, stream)
}

// fakeHostStore is an in-memory ports.HostStore for failover tests.
type fakeHostStore struct {
	mu         sync.Mutex
	hosts      map[domain.StreamID]domain.UserID
	info       map[domain.UserID]domain.Participant
	joined     map[domain.UserID]bool
	candidates map[domain.StreamID][]domain.Participant
}

func newFakeHostStore() *fakeHostStore {
	return &fakeHostStore{
		hosts:      make(map[domain.StreamID]domain.UserID),
		info:       make(map[domain.UserID]domain.Participant),
		joined:     make(map[domain.UserID]bool),
		candidates: make(map[domain.StreamID][]domain.Participant),
	}
}

func (s *fakeHostStore) SetStreamHost(ctx context.Context, p domain.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hosts[p.Stream] = p.ID
	s.info[p.ID] = p
	s.joined[p.ID] = true
	kept := s.candidates[p.Stream][:0]
	for _, c := range s.candidates[p.Stream] {
		if c.ID != p.ID {
			kept = append(kept, c)
		}
	}
	s.candidates[p.Stream] = kept
	return nil
}

func (s *fakeHostStore) HostID(ctx context.Context, stream domain.StreamID) (domain.UserID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.hosts[stream]
	if !ok {
		return "", domain.ErrNoHost
	}
	return id, nil
}

func (s *fakeHostStore) HostInfo(ctx context.Context, user domain.UserID) (domain.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.info[user]
	if !ok {
		return domain.Participant{}, domain.ErrNoHost
	}
	return p, nil
}

func (s *fakeHostStore) HostedStream(ctx context.Context, user domain.UserID) (domain.StreamID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for stream, id := range s.hosts {
		if id == user {
			return stream, nil
		}
	}
	return "", domain.ErrNoHost
}

func (s *fakeHostStore) IsHost(ctx context.Context, user domain.UserID) (bool, error) {
	_, err := s.HostedStream(ctx, user)
	if err == domain.ErrNoHost {
		return false, nil
	}
	return err == nil, err
}

func (s *fakeHostStore) SetJoinStatus(ctx context.Context, host domain.UserID, joined bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.joined[host] = joined
	return nil
}

func (s *fakeHostStore) IsJoined(ctx context.Context, host domain.UserID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joined[host], nil
}

func (s *fakeHostStore) AddPossibleHost(ctx context.Context, p domain.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.candidates[p.Stream] {
		if c.ID == p.ID {
			return nil
		}
	}
	s.candidates[p.Stream] = append(s.candidates[p.Stream], p)
	s.info[p.ID] = p
	return nil
}

func (s *fakeHostStore) DelPossibleHost(ctx context.Context, user domain.UserID, stream domain.StreamID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.candidates[stream][:0]
	for _, c := range s.candidates[stream] {
		if c.ID != user {
			kept = append(kept, c)
		}
	}
	s.candidates[stream] = kept
	return nil
}

func (s *fakeHostStore) RandomPossibleHost(ctx context.Context, stream domain.StreamID) (domain.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.candidates[stream]) == 0 {
		return domain.Participant{}, domain.ErrReassignmentExhausted
	}
	return s.candidates[stream][0], nil
}

func (s *fakeHostStore) DelByStream(ctx context.Context, stream domain.StreamID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	host, ok := s.hosts[stream]
	if !ok {
		return nil
	}
	delete(s.hosts, stream)
	delete(s.info, host)
	delete(s.joined, host)
	return nil
}
