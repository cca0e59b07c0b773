package redis

import (
	"context"
	"fmt"

	"github.com/artieeg/warpy-media/internal/core/domain"
	"github.com/artieeg/warpy-media/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

const (
	prefixHostOfStream   = "host_of_"
	prefixHostJoinStatus = "host_"
	prefixPossibleHost   = "possible_host_"
	prefixHostInfo       = "user_info_"
	prefixHostedStream   = "stream_hosted_by_"
)

// HostStore keeps the per-stream host record, the host's join status and the
// set of reassignment candidates.
type HostStore struct {
	client *redis.Client
}

func NewHostStore(client *redis.Client) *HostStore {
	return &HostStore{client: client}
}

var _ ports.HostStore = (*HostStore)(nil)

func hostOfStreamKey(stream domain.StreamID) string { return prefixHostOfStream + string(stream) }
func joinStatusKey(user domain.UserID) string       { return prefixHostJoinStatus + string(user) }
func possibleHostKey(stream domain.StreamID) string { return prefixPossibleHost + string(stream) }
func hostInfoKey(user domain.UserID) string         { return prefixHostInfo + string(user) }
func hostedStreamKey(user domain.UserID) string     { return prefixHostedStream + string(user) }

// SetStreamHost installs the participant as the stream's host in a single
// batch: host record, join status, reverse index, and removal from the
// candidate set (a host is never its own candidate).
func (s *HostStore) SetStreamHost(ctx context.Context, p domain.Participant) error {
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, hostOfStreamKey(p.Stream), string(p.ID), 0)
	pipe.HSet(ctx, hostInfoKey(p.ID), p.HashFields())
	pipe.Set(ctx, hostedStreamKey(p.ID), string(p.Stream), 0)
	pipe.Set(ctx, joinStatusKey(p.ID), string(domain.JoinStatusJoined), 0)
	pipe.SRem(ctx, possibleHostKey(p.Stream), string(p.ID))

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set stream host: %w", err)
	}
	return nil
}

func (s *HostStore) HostID(ctx context.Context, stream domain.StreamID) (domain.UserID, error) {
	v, err := s.client.Get(ctx, hostOfStreamKey(stream)).Result()
	if err == redis.Nil {
		return "", domain.ErrNoHost
	}
	if err != nil {
		return "", fmt.Errorf("failed to read host id: %w", err)
	}
	return domain.UserID(v), nil
}

func (s *HostStore) HostInfo(ctx context.Context, user domain.UserID) (domain.Participant, error) {
	data, err := s.client.HGetAll(ctx, hostInfoKey(user)).Result()
	if err != nil {
		return domain.Participant{}, fmt.Errorf("failed to read host info: %w", err)
	}

	p, ok := domain.ParticipantFromHash(data)
	if !ok {
		return domain.Participant{}, domain.ErrNoHost
	}
	return p, nil
}

func (s *HostStore) HostedStream(ctx context.Context, user domain.UserID) (domain.StreamID, error) {
	v, err := s.client.Get(ctx, hostedStreamKey(user)).Result()
	if err == redis.Nil {
		return "", domain.ErrNoHost
	}
	if err != nil {
		return "", fmt.Errorf("failed to read hosted stream: %w", err)
	}
	return domain.StreamID(v), nil
}

func (s *HostStore) IsHost(ctx context.Context, user domain.UserID) (bool, error) {
	_, err := s.HostedStream(ctx, user)
	if err == domain.ErrNoHost {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *HostStore) SetJoinStatus(ctx context.Context, host domain.UserID, joined bool) error {
	status := domain.JoinStatusNotJoined
	if joined {
		status = domain.JoinStatusJoined
	}
	if err := s.client.Set(ctx, joinStatusKey(host), string(status), 0).Err(); err != nil {
		return fmt.Errorf("failed to set join status: %w", err)
	}
	return nil
}

func (s *HostStore) IsJoined(ctx context.Context, host domain.UserID) (bool, error) {
	v, err := s.client.Get(ctx, joinStatusKey(host)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read join status: %w", err)
	}
	return v == string(domain.JoinStatusJoined), nil
}

func (s *HostStore) AddPossibleHost(ctx context.Context, p domain.Participant) error {
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, possibleHostKey(p.Stream), string(p.ID))
	pipe.HSet(ctx, hostInfoKey(p.ID), p.HashFields())

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to add host candidate: %w", err)
	}
	return nil
}

func (s *HostStore) DelPossibleHost(ctx context.Context, user domain.UserID, stream domain.StreamID) error {
	pipe := s.client.TxPipeline()
	pipe.SRem(ctx, possibleHostKey(stream), string(user))
	pipe.Del(ctx, hostInfoKey(user))

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to remove host candidate: %w", err)
	}
	return nil
}

// RandomPossibleHost picks one candidate uniformly at random via SRANDMEMBER.
func (s *HostStore) RandomPossibleHost(ctx context.Context, stream domain.StreamID) (domain.Participant, error) {
	id, err := s.client.SRandMember(ctx, possibleHostKey(stream)).Result()
	if err == redis.Nil || id == "" {
		return domain.Participant{}, domain.ErrReassignmentExhausted
	}
	if err != nil {
		return domain.Participant{}, fmt.Errorf("failed to pick host candidate: %w", err)
	}

	p, err := s.HostInfo(ctx, domain.UserID(id))
	if err != nil {
		return domain.Participant{}, domain.ErrReassignmentExhausted
	}
	return p, nil
}

// DelByStream removes the stream's host record entirely. A stream without a
// host is a no-op.
func (s *HostStore) DelByStream(ctx context.Context, stream domain.StreamID) error {
	host, err := s.HostID(ctx, stream)
	if err == domain.ErrNoHost {
		return nil
	}
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, joinStatusKey(host))
	pipe.Del(ctx, hostInfoKey(host))
	pipe.Del(ctx, hostedStreamKey(host))
	pipe.Del(ctx, hostOfStreamKey(stream))

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete host record: %w", err)
	}
	return nil
}
