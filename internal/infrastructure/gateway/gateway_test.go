package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/artieeg/warpy-media/internal/auth"
	"github.com/artieeg/warpy-media/internal/core/domain"
	"github.com/artieeg/warpy-media/internal/core/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// memBus keeps handlers in-process so tests can drive gateway subjects
// directly.
type memBus struct {
	mu       sync.Mutex
	handlers map[string]ports.BusHandler
	sent     []string
}

func newMemBus() *memBus {
	return &memBus{handlers: make(map[string]ports.BusHandler)}
}

type memSub struct{}

func (memSub) Unsubscribe() error { return nil }

func (b *memBus) Publish(subject string, v interface{}) error { return nil }

func (b *memBus) Request(ctx context.Context, subject string, req, resp interface{}) error {
	return fmt.Errorf("unexpected request to %s", subject)
}

func (b *memBus) Subscribe(subject string, handler ports.BusHandler) (ports.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[subject] = handler
	return memSub{}, nil
}

func (b *memBus) SendToUser(user domain.UserID, event string, payload interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, string(user)+":"+event)
	return nil
}

// dispatch drives one subject handler the way a bus delivery would.
func (b *memBus) dispatch(t *testing.T, subject string, req interface{}, resp interface{}) {
	t.Helper()
	b.mu.Lock()
	handler, ok := b.handlers[subject]
	b.mu.Unlock()
	require.True(t, ok, "no handler bound for %s", subject)

	data, err := json.Marshal(req)
	require.NoError(t, err)

	reply, err := handler(context.Background(), data)
	require.NoError(t, err)
	if resp != nil {
		require.NoError(t, json.Unmarshal(reply, resp))
	}
}

// fakeRooms records calls; every operation succeeds.
type fakeRooms struct {
	mu        sync.Mutex
	published []domain.PublishTrackRequest
	left      []domain.UserID
	created   []domain.StreamID
}

func (f *fakeRooms) CreateRoom(ctx context.Context, stream domain.StreamID, host domain.UserID) (*domain.RoomOptions, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, stream)
	return &domain.RoomOptions{RouterRTPCapabilities: json.RawMessage(`{}`)}, nil
}

func (f *fakeRooms) JoinRoom(ctx context.Context, stream domain.StreamID, user domain.UserID) (*domain.RoomOptions, error) {
	return &domain.RoomOptions{RouterRTPCapabilities: json.RawMessage(`{}`)}, nil
}

func (f *fakeRooms) CreateSendTransport(ctx context.Context, stream domain.StreamID, user domain.UserID) (*domain.TransportOptions, error) {
	return &domain.TransportOptions{ID: "send-1"}, nil
}

func (f *fakeRooms) ConnectTransport(ctx context.Context, stream domain.StreamID, user domain.UserID, direction domain.MediaDirection, dtls json.RawMessage) error {
	return nil
}

func (f *fakeRooms) PublishTrack(ctx context.Context, req domain.PublishTrackRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, req)
	return "producer-1", nil
}

func (f *fakeRooms) RequestConsumers(ctx context.Context, stream domain.StreamID, user domain.UserID, caps json.RawMessage) ([]domain.ConsumerInfo, error) {
	return nil, nil
}

func (f *fakeRooms) HandleForwardedProducer(ctx context.Context, fwd domain.ForwardedProducer) error {
	return nil
}

func (f *fakeRooms) CloseUserProducers(ctx context.Context, stream domain.StreamID, user domain.UserID, kinds []domain.MediaKind) error {
	return nil
}

func (f *fakeRooms) Leave(ctx context.Context, stream domain.StreamID, user domain.UserID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.left = append(f.left, user)
	return nil
}

func (f *fakeRooms) EndStream(ctx context.Context, stream domain.StreamID) error { return nil }

func (f *fakeRooms) RoomCount() int { return 0 }

type noopFabric struct{}

func (noopFabric) RegisterRoomTopology(domain.StreamID, []domain.NodeID) {}
func (noopFabric) ForwardProducer(context.Context, domain.StreamID, domain.UserID, ports.Producer, json.RawMessage) error {
	return nil
}
func (noopFabric) CloseProducer(context.Context, string) {}
func (noopFabric) ForgetStream(domain.StreamID)          {}

func newTestMediaGateway(t *testing.T) (*MediaGateway, *memBus, *fakeRooms, *auth.Verifier) {
	t.Helper()
	bus := newMemBus()
	rooms := &fakeRooms{}
	verifier := auth.NewVerifier("test-secret")

	gw := NewMediaGateway(MediaGatewayParams{
		Bus:          bus,
		Rooms:        rooms,
		Fabric:       noopFabric{},
		Verifier:     verifier,
		Node:         "node-1",
		Logger:       zap.NewNop().Sugar(),
		PublishRate:  rate.Limit(100),
		PublishBurst: 2,
	})
	require.NoError(t, gw.Start())
	t.Cleanup(func() { gw.Stop() })
	return gw, bus, rooms, verifier
}

func TestMediaGatewayDispatchesRoomCreate(t *testing.T) {
	_, bus, rooms, _ := newTestMediaGateway(t)

	var resp domain.RoomOptions
	bus.dispatch(t, ports.SubjectRoomCreate, map[string]string{
		"roomId": "stream-1",
		"user":   "host-1",
	}, &resp)

	assert.Equal(t, []domain.StreamID{"stream-1"}, rooms.created)
	assert.NotNil(t, resp.RouterRTPCapabilities)
}

func TestTrackNewRequiresValidToken(t *testing.T) {
	_, bus, rooms, verifier := newTestMediaGateway(t)

	token, err := verifier.Sign(auth.MediaPermissions{
		User:  "speaker-1",
		Room:  "stream-1",
		Audio: true,
	})
	require.NoError(t, err)

	valid := publishRequest{
		PublishTrackRequest: domain.PublishTrackRequest{
			Stream:      "stream-1",
			User:        "speaker-1",
			Kind:        domain.KindAudio,
			TransportID: "send-1",
		},
		MediaPermissionsToken: token,
	}

	var resp map[string]string
	bus.dispatch(t, ports.SubjectTrackNew, valid, &resp)
	assert.Equal(t, "producer-1", resp["id"])
	assert.Len(t, rooms.published, 1)

	// Token bound to another room is refused.
	hijacked := valid
	hijacked.Stream = "stream-2"
	var errResp map[string]string
	bus.dispatch(t, ports.SubjectTrackNew, hijacked, &errResp)
	assert.NotEmpty(t, errResp["error"])
	assert.Len(t, rooms.published, 1)

	// Token without the requested media kind is refused.
	video := valid
	video.Kind = domain.KindVideo
	bus.dispatch(t, ports.SubjectTrackNew, video, &errResp)
	assert.NotEmpty(t, errResp["error"])
	assert.Len(t, rooms.published, 1)

	// Garbage token is refused.
	garbage := valid
	garbage.MediaPermissionsToken = "garbage"
	bus.dispatch(t, ports.SubjectTrackNew, garbage, &errResp)
	assert.NotEmpty(t, errResp["error"])
	assert.Len(t, rooms.published, 1)
}

func TestTrackNewRateLimitsPublisher(t *testing.T) {
	bus := newMemBus()
	rooms := &fakeRooms{}
	verifier := auth.NewVerifier("test-secret")

	gw := NewMediaGateway(MediaGatewayParams{
		Bus:          bus,
		Rooms:        rooms,
		Fabric:       noopFabric{},
		Verifier:     verifier,
		Node:         "node-1",
		Logger:       zap.NewNop().Sugar(),
		PublishRate:  rate.Limit(0.001),
		PublishBurst: 1,
	})
	require.NoError(t, gw.Start())
	defer gw.Stop()

	token, err := verifier.Sign(auth.MediaPermissions{User: "speaker-1", Room: "stream-1", Audio: true})
	require.NoError(t, err)

	req := publishRequest{
		PublishTrackRequest: domain.PublishTrackRequest{
			Stream: "stream-1",
			User:   "speaker-1",
			Kind:   domain.KindAudio,
		},
		MediaPermissionsToken: token,
	}

	var resp map[string]string
	bus.dispatch(t, ports.SubjectTrackNew, req, &resp)
	assert.Equal(t, "producer-1", resp["id"])

	// Burst exhausted, second publish inside the window is rejected.
	var errResp map[string]string
	bus.dispatch(t, ports.SubjectTrackNew, req, &errResp)
	assert.NotEmpty(t, errResp["error"])
	assert.Len(t, rooms.published, 1)
}

func TestMediaGatewayBindsNodeScopedSubjects(t *testing.T) {
	_, bus, _, _ := newTestMediaGateway(t)

	bus.mu.Lock()
	defer bus.mu.Unlock()
	assert.Contains(t, bus.handlers, ports.SubjectNodeProducerNew("node-1"))
	assert.Contains(t, bus.handlers, ports.SubjectNodeProducerClose("node-1"))
}

func TestUserLeaveDispatch(t *testing.T) {
	_, bus, rooms, _ := newTestMediaGateway(t)

	bus.dispatch(t, ports.SubjectUserLeave, map[string]string{
		"roomId": "stream-1",
		"user":   "viewer-1",
	}, nil)

	assert.Equal(t, []domain.UserID{"viewer-1"}, rooms.left)
}
