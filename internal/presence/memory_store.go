package presence

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps room state in process memory. It backs tests and
// single-node development setups where no Redis is available.
type MemoryStore struct {
	mu        sync.Mutex
	states    map[string]RoomState
	cooldowns map[string]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states:    make(map[string]RoomState),
		cooldowns: make(map[string]time.Time),
	}
}

func (m *MemoryStore) Provision(ctx context.Context, roomID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[roomID] = emptyState(time.Now().UTC())
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, roomID string) (RoomState, error) {
	if err := ctx.Err(); err != nil {
		return RoomState{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getLocked(roomID)
}

func (m *MemoryStore) getLocked(roomID string) (RoomState, error) {
	state, ok := m.states[roomID]
	if !ok || state.Version != SchemaVersion {
		return RoomState{}, ErrNotFound
	}
	return cloneState(state), nil
}

func (m *MemoryStore) GetMany(ctx context.Context, roomIDs []string) (map[string]RoomState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	states := make(map[string]RoomState, len(roomIDs))
	for _, id := range roomIDs {
		state, err := m.getLocked(id)
		if err != nil {
			continue
		}
		states[id] = state
	}
	return states, nil
}

func (m *MemoryStore) mutate(ctx context.Context, roomID string, fn func(*RoomState)) (RoomState, error) {
	if err := ctx.Err(); err != nil {
		return RoomState{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	state, err := m.getLocked(roomID)
	if err != nil {
		return RoomState{}, err
	}
	fn(&state)
	state.UpdatedAt = time.Now().UTC()
	m.states[roomID] = cloneState(state)
	return state, nil
}

func (m *MemoryStore) Join(ctx context.Context, roomID, userID string) (RoomState, error) {
	return m.mutate(ctx, roomID, func(state *RoomState) {
		if !contains(state.Users, userID) {
			state.Users = append(state.Users, userID)
		}
	})
}

func (m *MemoryStore) Leave(ctx context.Context, roomID, userID string) (RoomState, error) {
	return m.mutate(ctx, roomID, func(state *RoomState) {
		state.Users = remove(state.Users, userID)
		state.Waitlist = remove(state.Waitlist, userID)
		if state.CurrentDJ != nil && state.CurrentDJ.UserID == userID {
			state.CurrentDJ = nil
		}
	})
}

func (m *MemoryStore) SetDJ(ctx context.Context, roomID string, dj *DJ) (RoomState, error) {
	return m.mutate(ctx, roomID, func(state *RoomState) {
		state.CurrentDJ = cloneDJ(dj)
	})
}

func (m *MemoryStore) PushWaitlist(ctx context.Context, roomID, userID string) (RoomState, error) {
	return m.mutate(ctx, roomID, func(state *RoomState) {
		if !contains(state.Waitlist, userID) {
			state.Waitlist = append(state.Waitlist, userID)
		}
	})
}

func (m *MemoryStore) PopWaitlist(ctx context.Context, roomID string) (string, RoomState, bool, error) {
	var userID string
	var popped bool
	state, err := m.mutate(ctx, roomID, func(state *RoomState) {
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

func (m *MemoryStore) DropWaitlist(ctx context.Context, roomID, userID string) (RoomState, error) {
	return m.mutate(ctx, roomID, func(state *RoomState) {
		state.Waitlist = remove(state.Waitlist, userID)
	})
}

func (m *MemoryStore) Delete(ctx context.Context, roomID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, roomID)
	return nil
}

func (m *MemoryStore) Cooldown(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if expiry, ok := m.cooldowns[key]; ok && expiry.After(now) {
		return true, nil
	}
	m.cooldowns[key] = now.Add(ttl)
	return false, nil
}

func (m *MemoryStore) CooldownRemaining(ctx context.Context, key string) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	expiry, ok := m.cooldowns[key]
	if !ok {
		return 0, nil
	}
	remaining := time.Until(expiry)
	if remaining <= 0 {
		delete(m.cooldowns, key)
		return 0, nil
	}
	return remaining, nil
}

func cloneState(state RoomState) RoomState {
	cloned := state
	cloned.Users = append([]string(nil), state.Users...)
	cloned.Waitlist = append([]string(nil), state.Waitlist...)
	cloned.CurrentDJ = cloneDJ(state.CurrentDJ)
	return cloned
}

func cloneDJ(dj *DJ) *DJ {
	if dj == nil {
		return nil
	}
	cloned := *dj
	cloned.Upvotes = append([]string(nil), dj.Upvotes...)
	cloned.Grabs = append([]string(nil), dj.Grabs...)
	return &cloned
}

var _ Store = (*MemoryStore)(nil)
