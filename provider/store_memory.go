package provider

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     interface{}
	expiresAt time.Time
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !e.expiresAt.After(now)
}

// MemoryStore is an in-process Store for tests and redis-less demo runs.
// Expiry is checked lazily on read against the injected clock; a single
// mutex gives ConsumeAuthCode its get-and-delete atomicity.
type MemoryStore struct {
	mu            sync.Mutex
	sessions      map[string]*memoryEntry
	authCodes     map[string]*memoryEntry
	refreshTokens map[string]*memoryEntry
	nowFunc       func() time.Time
}

// memoryStoreOptions is the set of available options for MemoryStore
type memoryStoreOptions struct {
	withNowFunc func() time.Time
}

func getMemoryStoreOpts(opt ...Option) memoryStoreOptions {
	opts := memoryStoreOptions{}
	ApplyOpts(&opts, opt...)
	return opts
}

// NewMemoryStore creates an empty MemoryStore. Supported options: WithNow.
func NewMemoryStore(opt ...Option) *MemoryStore {
	opts := getMemoryStoreOpts(opt...)
	return &MemoryStore{
		sessions:      map[string]*memoryEntry{},
		authCodes:     map[string]*memoryEntry{},
		refreshTokens: map[string]*memoryEntry{},
		nowFunc:       opts.withNowFunc,
	}
}

func (s *MemoryStore) now() time.Time {
	if s.nowFunc != nil {
		return s.nowFunc()
	}
	return time.Now()
}

func (s *MemoryStore) putLocked(m map[string]*memoryEntry, key string, value interface{}, ttl time.Duration) {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = s.now().Add(ttl)
	}
	m[key] = &memoryEntry{value: value, expiresAt: expiresAt}
}

func (s *MemoryStore) getLocked(m map[string]*memoryEntry, key string) (interface{}, bool) {
	e, ok := m[key]
	if !ok {
		return nil, false
	}
	if e.expired(s.now()) {
		delete(m, key)
		return nil, false
	}
	return e.value, true
}

// PutSession implements Store.
func (s *MemoryStore) PutSession(_ context.Context, id string, sess *Session, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	s.putLocked(s.sessions, id, &cp, ttl)
	return nil
}

// GetSession implements Store.
func (s *MemoryStore) GetSession(_ context.Context, id string) (*Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.getLocked(s.sessions, id)
	if !ok {
		return nil, false, nil
	}
	cp := *(v.(*Session))
	return &cp, true, nil
}

// DeleteSession implements Store.
func (s *MemoryStore) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// ActiveSessionForMember implements Store.
func (s *MemoryStore) ActiveSessionForMember(_ context.Context, memberID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for id, e := range s.sessions {
		if e.expired(now) {
			delete(s.sessions, id)
			continue
		}
		if e.value.(*Session).MemberID == memberID {
			return true, nil
		}
	}
	return false, nil
}

// PutAuthCode implements Store.
func (s *MemoryStore) PutAuthCode(_ context.Context, code string, c *AuthCode, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.putLocked(s.authCodes, code, &cp, ttl)
	return nil
}

// GetAuthCode implements Store.
func (s *MemoryStore) GetAuthCode(_ context.Context, code string) (*AuthCode, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.getLocked(s.authCodes, code)
	if !ok {
		return nil, false, nil
	}
	cp := *(v.(*AuthCode))
	return &cp, true, nil
}

// ConsumeAuthCode implements Store. Get and delete happen under one lock
// acquisition, so concurrent redemption attempts see exactly one winner.
func (s *MemoryStore) ConsumeAuthCode(_ context.Context, code string) (*AuthCode, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.getLocked(s.authCodes, code)
	if !ok {
		return nil, false, nil
	}
	delete(s.authCodes, code)
	cp := *(v.(*AuthCode))
	return &cp, true, nil
}

// DeleteAuthCode implements Store.
func (s *MemoryStore) DeleteAuthCode(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.authCodes, code)
	return nil
}

// PutRefreshToken implements Store.
func (s *MemoryStore) PutRefreshToken(_ context.Context, token string, r *RefreshToken, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.putLocked(s.refreshTokens, token, &cp, ttl)
	return nil
}

// GetRefreshToken implements Store.
func (s *MemoryStore) GetRefreshToken(_ context.Context, token string) (*RefreshToken, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.getLocked(s.refreshTokens, token)
	if !ok {
		return nil, false, nil
	}
	cp := *(v.(*RefreshToken))
	return &cp, true, nil
}

// DeleteRefreshToken implements Store.
func (s *MemoryStore) DeleteRefreshToken(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.refreshTokens, token)
	return nil
}

var _ Store = (*MemoryStore)(nil)
