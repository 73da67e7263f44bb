package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps room state as versioned JSON documents in Redis, one key
// per room. Mutations are read-modify-write cycles serialized per room
// within this process; deployments running multiple API replicas should
// route presence traffic for a room to a single replica.
type RedisStore struct {
	client redis.UniversalClient
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewRedisStore(client redis.UniversalClient, logger *slog.Logger) *RedisStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{
		client: client,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}
}

func (r *RedisStore) roomLock(roomID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.locks[roomID]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[roomID] = lock
	}
	return lock
}

func (r *RedisStore) decodeState(roomID string, payload []byte) (RoomState, error) {
	var state RoomState
	if err := json.Unmarshal(payload, &state); err != nil {
		r.logger.Warn("discarding malformed room state", "room_id", roomID, "error", err)
		return RoomState{}, ErrNotFound
	}
	if state.Version != SchemaVersion {
		r.logger.Warn("discarding room state with unknown schema version", "room_id", roomID, "version", state.Version)
		return RoomState{}, ErrNotFound
	}
	if state.Users == nil {
		state.Users = []string{}
	}
	if state.Waitlist == nil {
		state.Waitlist = []string{}
	}
	return state, nil
}

func (r *RedisStore) writeState(ctx context.Context, roomID string, state RoomState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode room state: %w", err)
	}
	if err := r.client.Set(ctx, stateKey(roomID), payload, 0).Err(); err != nil {
		return fmt.Errorf("store room state: %w", err)
	}
	return nil
}

func (r *RedisStore) Provision(ctx context.Context, roomID string) error {
	return r.writeState(ctx, roomID, emptyState(time.Now().UTC()))
}

func (r *RedisStore) Get(ctx context.Context, roomID string) (RoomState, error) {
	payload, err := r.client.Get(ctx, stateKey(roomID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return RoomState{}, ErrNotFound
	}
	if err != nil {
		return RoomState{}, fmt.Errorf("load room state: %w", err)
	}
	return r.decodeState(roomID, payload)
}

func (r *RedisStore) GetMany(ctx context.Context, roomIDs []string) (map[string]RoomState, error) {
	if len(roomIDs) == 0 {
		return map[string]RoomState{}, nil
	}
	keys := make([]string, len(roomIDs))
	for i, id := range roomIDs {
		keys[i] = stateKey(id)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("bulk load room states: %w", err)
	}

	states := make(map[string]RoomState, len(roomIDs))
	for i, value := range values {
		if value == nil {
			continue
		}
		text, ok := value.(string)
		if !ok {
			continue
		}
		state, err := r.decodeState(roomIDs[i], []byte(text))
		if err != nil {
			continue
		}
		states[roomIDs[i]] = state
	}
	return states, nil
}

func (r *RedisStore) mutate(ctx context.Context, roomID string, fn func(*RoomState)) (RoomState, error) {
	lock := r.roomLock(roomID)
	lock.Lock()
	defer lock.Unlock()

	state, err := r.Get(ctx, roomID)
	if err != nil {
		return RoomState{}, err
	}
	fn(&state)
	state.UpdatedAt = time.Now().UTC()
	if err := r.writeState(ctx, roomID, state); err != nil {
		return RoomState{}, err
	}
	return state, nil
}

func (r *RedisStore) Join(ctx context.Context, roomID, userID string) (RoomState, error) {
	return r.mutate(ctx, roomID, func(state *RoomState) {
		if !contains(state.Users, userID) {
			state.Users = append(state.Users, userID)
		}
	})
}

func (r *RedisStore) Leave(ctx context.Context, roomID, userID string) (RoomState, error) {
	return r.mutate(ctx, roomID, func(state *RoomState) {
		state.Users = remove(state.Users, userID)
		state.Waitlist = remove(state.Waitlist, userID)
		if state.CurrentDJ != nil && state.CurrentDJ.UserID == userID {
			state.CurrentDJ = nil
		}
	})
}

func (r *RedisStore) SetDJ(ctx context.Context, roomID string, dj *DJ) (RoomState, error) {
	return r.mutate(ctx, roomID, func(state *RoomState) {
		state.CurrentDJ = cloneDJ(dj)
	})
}

func (r *RedisStore) PushWaitlist(ctx context.Context, roomID, userID string) (RoomState, error) {
	return r.mutate(ctx, roomID, func(state *RoomState) {
		if !contains(state.Waitlist, userID) {
			state.Waitlist = append(state.Waitlist, userID)
		}
	})
}

func (r *RedisStore) PopWaitlist(ctx context.Context, roomID string) (string, RoomState, bool, error) {
	var userID string
	var popped bool
	state, err := r.mutate(ctx, roomID, func(state *RoomState) {
		if len(state.Waitlist) == 0 {
			return
		}
		userID = state.Waitlist[0]
		state.Waitlist = state.Waitlist[1:]
		popped = true
	})
	if err != nil {
		return "", RoomState{}, false, err
	}
	return userID, state, popped, nil
}

func (r *RedisStore) DropWaitlist(ctx context.Context, roomID, userID string) (RoomState, error) {
	return r.mutate(ctx, roomID, func(state *RoomState) {
		state.Waitlist = remove(state.Waitlist, userID)
	})
}

func (r *RedisStore) Delete(ctx context.Context, roomID string) error {
	if err := r.client.Del(ctx, stateKey(roomID)).Err(); err != nil {
		return fmt.Errorf("delete room state: %w", err)
	}
	r.mu.Lock()
	delete(r.locks, roomID)
	r.mu.Unlock()
	return nil
}

func (r *RedisStore) Cooldown(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	stored, err := r.client.SetNX(ctx, cooldownKey(key), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("set cooldown: %w", err)
	}
	return !stored, nil
}

func (r *RedisStore) CooldownRemaining(ctx context.Context, key string) (time.Duration, error) {
	remaining, err := r.client.TTL(ctx, cooldownKey(key)).Result()
	if err != nil {
		return 0, fmt.Errorf("read cooldown ttl: %w", err)
	}
	if remaining < 0 {
		return 0, nil
	}
	return remaining, nil
}

var _ Store = (*RedisStore)(nil)
