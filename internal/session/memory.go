package session

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/jonboulle/clockwork"

	"github.com/whisperer/whisperer/internal/observability"
)

// MemoryStore keeps sessions in process. Sessions idle for longer than the
// configured TTL are evicted; every read or write refreshes the TTL.
type MemoryStore struct {
	cache *ttlcache.Cache[string, Session]
	clock clockwork.Clock
}

func NewMemoryStore(idleTTL time.Duration, clock clockwork.Clock) *MemoryStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	cache := ttlcache.New(
		ttlcache.WithTTL[string, Session](idleTTL),
	)
	store := &MemoryStore{cache: cache, clock: clock}
	cache.OnInsertion(func(context.Context, *ttlcache.Item[string, Session]) {
		observability.SetActiveSessions(cache.Len())
	})
	cache.OnEviction(func(context.Context, ttlcache.EvictionReason, *ttlcache.Item[string, Session]) {
		observability.SetActiveSessions(cache.Len())
	})
	return store
}

// Start runs the expiry loop until Stop is called.
func (m *MemoryStore) Start() {
	go m.cache.Start()
}

func (m *MemoryStore) Stop() {
	m.cache.Stop()
}

func (m *MemoryStore) Create(_ context.Context, in CreateInput) (Session, error) {
	in, err := in.Normalize()
	if err != nil {
		return Session{}, err
	}
	now := m.clock.Now().UTC()
	s := Session{
		ID:         NewID(),
		Team:       in.Team,
		PropertyID: in.PropertyID,
		BrandName:  in.BrandName,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	m.cache.Set(s.ID, s.Clone(), ttlcache.DefaultTTL)
	return s, nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (Session, error) {
	item := m.cache.Get(id)
	if item == nil {
		return Session{}, ErrNotFound
	}
	return item.Value().Clone(), nil
}

func (m *MemoryStore) Save(_ context.Context, s Session) error {
	if !m.cache.Has(s.ID) {
		return ErrNotFound
	}
	m.cache.Set(s.ID, s.Clone(), ttlcache.DefaultTTL)
	return nil
}

func (m *MemoryStore) Reset(_ context.Context, id string) error {
	item := m.cache.Get(id)
	if item == nil {
		return ErrNotFound
	}
	s := item.Value().Clone()
	s.Clear(m.clock.Now().UTC())
	m.cache.Set(id, s, ttlcache.DefaultTTL)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	if !m.cache.Has(id) {
		return ErrNotFound
	}
	m.cache.Delete(id)
	return nil
}

func (m *MemoryStore) Len() int {
	return m.cache.Len()
}

var _ Store = (*MemoryStore)(nil)
