package realtime

import (
	"context"
	"sync"
	"sync/atomic"

	"feed_server/core/domain"

	"github.com/rs/zerolog"
)

// Registry maps an identity to its live connection handles. An identity is
// present iff it has at least one live handle.
type Registry struct {
	mu    sync.RWMutex
	users map[domain.Identity]map[uint64]*ConnectionHandle
	table *SubscriptionTable
	log   zerolog.Logger

	// number of distinct positive identities in users
	connectedUsers atomic.Int64
	nextAnonymous  atomic.Int64
}

// NewRegistry creates an empty registry. Count updates are published through
// table.
func NewRegistry(table *SubscriptionTable, log zerolog.Logger) *Registry {
	return &Registry{
		users: make(map[domain.Identity]map[uint64]*ConnectionHandle),
		table: table,
		log:   log.With().Str("component", "connection_registry").Logger(),
	}
}

// NextAnonymousIdentity allocates a negative identity that is never reused.
func (r *Registry) NextAnonymousIdentity() domain.Identity {
	return domain.Identity(r.nextAnonymous.Add(-1))
}

// Register adds handle to identity. Checking for an existing entry and
// inserting happen under one write lock, so concurrent first connections of
// the same identity are counted once.
func (r *Registry) Register(ctx context.Context, identity domain.Identity, handle *ConnectionHandle) {
	handle.setIdentity(identity)

	r.mu.Lock()
	handles, ok := r.users[identity]
	if ok {
		if _, dup := handles[handle.ID()]; dup {
			r.mu.Unlock()
			r.log.Warn().
				Str("identity", identity.String()).
				Uint64("connection_id", handle.ID()).
				Msg("connection registered twice")
			return
		}
		handles[handle.ID()] = handle
		total := len(handles)
		r.mu.Unlock()

		r.log.Debug().
			Str("identity", identity.String()).
			Uint64("connection_id", handle.ID()).
			Int("connections", total).
			Msg("additional connection registered")
		return
	}

	r.users[identity] = map[uint64]*ConnectionHandle{handle.ID(): handle}
	var count int64
	counted := !identity.IsAnonymous()
	if counted {
		count = r.connectedUsers.Add(1)
	}
	r.mu.Unlock()

	r.log.Info().
		Str("identity", identity.String()).
		Uint64("connection_id", handle.ID()).
		Msg("connection registered")

	if counted {
		r.publishCount(ctx, count)
	}
}

// Deregister removes handle from identity. Removing the last handle of an
// account decrements the connected-user counter.
func (r *Registry) Deregister(ctx context.Context, identity domain.Identity, handle *ConnectionHandle) {
	r.mu.Lock()
	handles, ok := r.users[identity]
	if !ok {
		r.mu.Unlock()
		r.log.Warn().
			Str("identity", identity.String()).
			Uint64("connection_id", handle.ID()).
			Msg("identity is not registered")
		return
	}
	if _, ok := handles[handle.ID()]; !ok {
		r.mu.Unlock()
		r.log.Warn().
			Str("identity", identity.String()).
			Uint64("connection_id", handle.ID()).
			Msg("connection is not registered under its identity")
		return
	}

	delete(handles, handle.ID())
	if len(handles) > 0 {
		r.mu.Unlock()
		return
	}

	delete(r.users, identity)
	var count int64
	counted := !identity.IsAnonymous()
	if counted {
		count = r.connectedUsers.Add(-1)
	}
	r.mu.Unlock()

	if counted {
		r.publishCount(ctx, count)
	}
}

func (r *Registry) publishCount(ctx context.Context, count int64) {
	if _, err := r.table.NotifyFrame(ctx, domain.ConnectedUsersCountKey(), ConnectedUsersCountFrame(count)); err != nil {
		r.log.Error().Err(err).Int64("count", count).Msg("failed to publish connected users count")
	}
}

// LiveHandles returns a snapshot of the handles owned by identity.
func (r *Registry) LiveHandles(identity domain.Identity) []*ConnectionHandle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handles := r.users[identity]
	if len(handles) == 0 {
		return nil
	}
	out := make([]*ConnectionHandle, 0, len(handles))
	for _, handle := range handles {
		out = append(out, handle)
	}
	return out
}

// ConnectedUsers returns the number of distinct connected accounts.
func (r *Registry) ConnectedUsers() int64 {
	return r.connectedUsers.Load()
}

// Counts returns the number of registered identities and live handles.
func (r *Registry) Counts() (identities, connections int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, handles := range r.users {
		connections += len(handles)
	}
	return len(r.users), connections
}

// CloseAll closes the transport of every live handle. Each receive loop then
// exits and runs its own teardown.
func (r *Registry) CloseAll() int {
	r.mu.RLock()
	handles := make([]*ConnectionHandle, 0, len(r.users))
	for _, owned := range r.users {
		for _, handle := range owned {
			handles = append(handles, handle)
		}
	}
	r.mu.RUnlock()

	for _, handle := range handles {
		if err := handle.Close(); err != nil {
			r.log.Debug().Err(err).Uint64("connection_id", handle.ID()).Msg("close failed")
		}
	}
	return len(handles)
}
