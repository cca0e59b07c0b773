package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/artieeg/warpy-media/internal/core/domain"
	"github.com/artieeg/warpy-media/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// Key prefixes for the role-indexed presence buckets. Each stream gets one
// set per bucket plus a live participant counter; participant records are
// hashes keyed by user id.
const (
	prefixViewers     = "viewer_"
	prefixStreamers   = "streamers_"
	prefixRaisedHands = "raised_hands_"
	prefixCount       = "count_"
	prefixDeactivated = "deactivated_users_"
	prefixParticipant = "participant_"
)

const viewersPageSize = 50

// ParticipantStore is the Redis-backed presence store. Every logical update
// is issued as a single pipelined batch so readers never observe a user in
// two conflicting buckets.
type ParticipantStore struct {
	client *redis.Client
}

func NewParticipantStore(client *redis.Client) *ParticipantStore {
	return &ParticipantStore{client: client}
}

var _ ports.ParticipantStore = (*ParticipantStore)(nil)

func viewersKey(stream domain.StreamID) string     { return prefixViewers + string(stream) }
func streamersKey(stream domain.StreamID) string   { return prefixStreamers + string(stream) }
func raisedHandsKey(stream domain.StreamID) string { return prefixRaisedHands + string(stream) }
func countKey(stream domain.StreamID) string       { return prefixCount + string(stream) }
func deactivatedKey(stream domain.StreamID) string { return prefixDeactivated + string(stream) }
func participantKey(user domain.UserID) string     { return prefixParticipant + string(user) }

// Add inserts the participant into the bucket matching its role and bumps
// the stream count. A stale record the user left behind in another stream is
// purged first, so a duplicate join after an unclean disconnect never
// double-counts.
func (s *ParticipantStore) Add(ctx context.Context, p domain.Participant) error {
	existing, err := s.Get(ctx, p.ID)
	if err == nil {
		if err := s.Remove(ctx, existing.ID, existing.Stream); err != nil {
			return fmt.Errorf("failed to purge stale participant record: %w", err)
		}
	} else if !errors.Is(err, domain.ErrParticipantNotFound) {
		return err
	}

	pipe := s.client.TxPipeline()
	if p.Role == domain.RoleViewer {
		pipe.SAdd(ctx, viewersKey(p.Stream), string(p.ID))
	} else {
		pipe.SAdd(ctx, streamersKey(p.Stream), string(p.ID))
	}
	pipe.Incr(ctx, countKey(p.Stream))
	pipe.HSet(ctx, participantKey(p.ID), p.HashFields())

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to add participant: %w", err)
	}
	return nil
}

func (s *ParticipantStore) Get(ctx context.Context, user domain.UserID) (domain.Participant, error) {
	data, err := s.client.HGetAll(ctx, participantKey(user)).Result()
	if err != nil {
		return domain.Participant{}, fmt.Errorf("failed to get participant: %w", err)
	}

	p, ok := domain.ParticipantFromHash(data)
	if !ok {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	return p, nil
}

func (s *ParticipantStore) List(ctx context.Context, users []domain.UserID) ([]domain.Participant, error) {
	if len(users) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(users))
	for i, user := range users {
		cmds[i] = pipe.HGetAll(ctx, participantKey(user))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}

	participants := make([]domain.Participant, 0, len(users))
	for _, cmd := range cmds {
		if p, ok := domain.ParticipantFromHash(cmd.Val()); ok {
			participants = append(participants, p)
		}
	}
	return participants, nil
}

// Update applies a partial update and maintains the role and raised-hand
// indexes in the same batch, so the user is never a member of two role
// buckets at once.
func (s *ParticipantStore) Update(ctx context.Context, user domain.UserID, upd domain.ParticipantUpdate) (domain.Participant, error) {
	p, err := s.Get(ctx, user)
	if err != nil {
		return domain.Participant{}, err
	}

	if upd.Role != nil {
		p.Role = *upd.Role
	}
	if upd.IsRaisingHand != nil {
		p.IsRaisingHand = *upd.IsRaisingHand
	}
	if upd.AudioEnabled != nil {
		p.AudioEnabled = *upd.AudioEnabled
	}
	if upd.VideoEnabled != nil {
		p.VideoEnabled = *upd.VideoEnabled
	}

	id := string(user)
	stream := p.Stream

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, participantKey(user), p.HashFields())

	if upd.Role != nil {
		if upd.Role.CanPublish() {
			pipe.SAdd(ctx, streamersKey(stream), id)
			pipe.SRem(ctx, viewersKey(stream), id)
			pipe.SRem(ctx, raisedHandsKey(stream), id)
		} else {
			pipe.SAdd(ctx, viewersKey(stream), id)
			pipe.SRem(ctx, streamersKey(stream), id)
			pipe.SRem(ctx, raisedHandsKey(stream), id)
		}
	}

	if upd.IsRaisingHand != nil {
		if *upd.IsRaisingHand {
			pipe.SAdd(ctx, raisedHandsKey(stream), id)
			pipe.SRem(ctx, viewersKey(stream), id)
		} else {
			pipe.SRem(ctx, raisedHandsKey(stream), id)
			pipe.SAdd(ctx, viewersKey(stream), id)
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return domain.Participant{}, fmt.Errorf("failed to update participant: %w", err)
	}
	return p, nil
}

// SetDeactivated overlays the record without touching role buckets and
// adjusts the live count, so re-activation restores the prior role. Setting
// the flag to its current value is a no-op: the count moves at most once per
// transition.
func (s *ParticipantStore) SetDeactivated(ctx context.Context, user domain.UserID, stream domain.StreamID, flag bool) error {
	deactivated, err := s.IsDeactivated(ctx, user, stream)
	if err != nil {
		return err
	}
	if deactivated == flag {
		return nil
	}

	pipe := s.client.TxPipeline()
	if flag {
		pipe.SAdd(ctx, deactivatedKey(stream), string(user))
		pipe.Decr(ctx, countKey(stream))
	} else {
		pipe.SRem(ctx, deactivatedKey(stream), string(user))
		pipe.Incr(ctx, countKey(stream))
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set deactivated flag: %w", err)
	}
	return nil
}

func (s *ParticipantStore) IsDeactivated(ctx context.Context, user domain.UserID, stream domain.StreamID) (bool, error) {
	v, err := s.client.SIsMember(ctx, deactivatedKey(stream), string(user)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check deactivated flag: %w", err)
	}
	return v, nil
}

// Remove deletes the participant from every bucket and drops the record. The
// count is decremented only when the user was an active member, keeping it
// equal to the active union size.
func (s *ParticipantStore) Remove(ctx context.Context, user domain.UserID, stream domain.StreamID) error {
	id := string(user)

	read := s.client.Pipeline()
	inStreamers := read.SIsMember(ctx, streamersKey(stream), id)
	inViewers := read.SIsMember(ctx, viewersKey(stream), id)
	inRaised := read.SIsMember(ctx, raisedHandsKey(stream), id)
	deactivated := read.SIsMember(ctx, deactivatedKey(stream), id)
	if _, err := read.Exec(ctx); err != nil {
		return fmt.Errorf("failed to read participant membership: %w", err)
	}

	member := inStreamers.Val() || inViewers.Val() || inRaised.Val()

	pipe := s.client.TxPipeline()
	pipe.SRem(ctx, streamersKey(stream), id)
	pipe.SRem(ctx, viewersKey(stream), id)
	pipe.SRem(ctx, raisedHandsKey(stream), id)
	pipe.SRem(ctx, deactivatedKey(stream), id)
	pipe.Del(ctx, participantKey(user))
	if member && !deactivated.Val() {
		pipe.Decr(ctx, countKey(stream))
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to remove participant: %w", err)
	}
	return nil
}

// RemoveStream bulk-deletes every bucket and record for the stream. Safe to
// call twice; a missing stream deletes nothing.
func (s *ParticipantStore) RemoveStream(ctx context.Context, stream domain.StreamID) error {
	ids, err := s.ParticipantIDs(ctx, stream, true)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, streamersKey(stream))
	pipe.Del(ctx, viewersKey(stream))
	pipe.Del(ctx, raisedHandsKey(stream))
	pipe.Del(ctx, deactivatedKey(stream))
	pipe.Del(ctx, countKey(stream))
	for _, id := range ids {
		pipe.Del(ctx, participantKey(id))
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to remove stream data: %w", err)
	}
	return nil
}

// ParticipantIDs returns every user in the stream. Deactivated users are
// excluded by set difference unless includeDeactivated is set.
func (s *ParticipantStore) ParticipantIDs(ctx context.Context, stream domain.StreamID, includeDeactivated bool) ([]domain.UserID, error) {
	pipe := s.client.Pipeline()
	var streamers, raised, viewers *redis.StringSliceCmd
	if includeDeactivated {
		streamers = pipe.SMembers(ctx, streamersKey(stream))
		raised = pipe.SMembers(ctx, raisedHandsKey(stream))
		viewers = pipe.SMembers(ctx, viewersKey(stream))
	} else {
		streamers = pipe.SDiff(ctx, streamersKey(stream), deactivatedKey(stream))
		raised = pipe.SDiff(ctx, raisedHandsKey(stream), deactivatedKey(stream))
		viewers = pipe.SDiff(ctx, viewersKey(stream), deactivatedKey(stream))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to read participant ids: %w", err)
	}

	var ids []domain.UserID
	for _, set := range [][]string{streamers.Val(), raised.Val(), viewers.Val()} {
		for _, id := range set {
			ids = append(ids, domain.UserID(id))
		}
	}
	return ids, nil
}

func (s *ParticipantStore) activeBucket(ctx context.Context, bucketKey string, stream domain.StreamID) ([]domain.Participant, error) {
	ids, err := s.client.SDiff(ctx, bucketKey, deactivatedKey(stream)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read bucket: %w", err)
	}

	users := make([]domain.UserID, len(ids))
	for i, id := range ids {
		users[i] = domain.UserID(id)
	}
	return s.List(ctx, users)
}

func (s *ParticipantStore) GetStreamers(ctx context.Context, stream domain.StreamID) ([]domain.Participant, error) {
	return s.activeBucket(ctx, streamersKey(stream), stream)
}

func (s *ParticipantStore) GetRaisedHands(ctx context.Context, stream domain.StreamID) ([]domain.Participant, error) {
	return s.activeBucket(ctx, raisedHandsKey(stream), stream)
}

// GetViewersPage returns one page of active viewers. Ids are sorted before
// slicing so pages are stable between calls.
func (s *ParticipantStore) GetViewersPage(ctx context.Context, stream domain.StreamID, page int) ([]domain.Participant, error) {
	ids, err := s.client.SDiff(ctx, viewersKey(stream), deactivatedKey(stream)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read viewers: %w", err)
	}
	sort.Strings(ids)

	start := page * viewersPageSize
	if start >= len(ids) {
		return nil, nil
	}
	end := start + viewersPageSize
	if end > len(ids) {
		end = len(ids)
	}

	users := make([]domain.UserID, 0, end-start)
	for _, id := range ids[start:end] {
		users = append(users, domain.UserID(id))
	}
	return s.List(ctx, users)
}

func (s *ParticipantStore) Count(ctx context.Context, stream domain.StreamID) (int, error) {
	v, err := s.client.Get(ctx, countKey(stream)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read stream count: %w", err)
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("malformed stream count %q: %w", v, err)
	}
	return n, nil
}

func (s *ParticipantStore) CountVideoStreamers(ctx context.Context, stream domain.StreamID) (int, error) {
	streamers, err := s.GetStreamers(ctx, stream)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, p := range streamers {
		if p.VideoEnabled {
			n++
		}
	}
	return n, nil
}

func (s *ParticipantStore) StreamID(ctx context.Context, user domain.UserID) (domain.StreamID, error) {
	v, err := s.client.HGet(ctx, participantKey(user), "stream").Result()
	if err == redis.Nil {
		return "", domain.ErrParticipantNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read participant stream: %w", err)
	}
	return domain.StreamID(v), nil
}
