package provider

import (
	"context"
	"fmt"
	"sync"
)

// Member is an end user registered with the provider. Members are created
// out-of-band (seed data); this package only reads them.
type Member struct {
	ID            int64
	Email         string
	PasswordHash  string
	Name          string
	EmailVerified bool

	// profile scope claims
	GivenName  string
	FamilyName string
	Picture    string

	// localized name variants, surfaced as given_name#ja-Kana-JP etc.
	GivenNameKana   string
	GivenNameKanji  string
	FamilyNameKana  string
	FamilyNameKanji string

	// phone scope claims
	PhoneNumber   string
	PhoneVerified bool
}

// MemberStore is the narrow read interface onto the external user store.
type MemberStore interface {
	// LookupByEmail returns the member registered with the given email, or
	// ErrNotFound.
	LookupByEmail(ctx context.Context, email string) (*Member, error)

	// LookupByID returns the member with the given id, or ErrNotFound.
	LookupByID(ctx context.Context, id int64) (*Member, error)
}

// InmemMemberStore is a MemberStore backed by an in-process map, suitable
// for seed data and tests.
type InmemMemberStore struct {
	mu      sync.RWMutex
	byID    map[int64]*Member
	byEmail map[string]*Member
}

// NewInmemMemberStore creates an empty InmemMemberStore.
func NewInmemMemberStore() *InmemMemberStore {
	return &InmemMemberStore{
		byID:    map[int64]*Member{},
		byEmail: map[string]*Member{},
	}
}

// Add registers a member. The member's ID and Email must be unique.
func (s *InmemMemberStore) Add(m *Member) error {
	const op = "provider.(InmemMemberStore).Add"
	if m == nil {
		return fmt.Errorf("%s: member is nil: %w", op, ErrNilParameter)
	}
	if m.ID == 0 || m.Email == "" {
		return fmt.Errorf("%s: member id and email are required: %w", op, ErrInvalidParameter)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[m.ID]; ok {
		return fmt.Errorf("%s: duplicate member id %d: %w", op, m.ID, ErrInvalidParameter)
	}
	if _, ok := s.byEmail[m.Email]; ok {
		return fmt.Errorf("%s: duplicate member email %q: %w", op, m.Email, ErrInvalidParameter)
	}
	cp := *m
	s.byID[m.ID] = &cp
	s.byEmail[m.Email] = &cp
	return nil
}

// LookupByEmail implements MemberStore.
func (s *InmemMemberStore) LookupByEmail(_ context.Context, email string) (*Member, error) {
	const op = "provider.(InmemMemberStore).LookupByEmail"
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byEmail[email]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	cp := *m
	return &cp, nil
}

// LookupByID implements MemberStore.
func (s *InmemMemberStore) LookupByID(_ context.Context, id int64) (*Member, error) {
	const op = "provider.(InmemMemberStore).LookupByID"
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	cp := *m
	return &cp, nil
}
