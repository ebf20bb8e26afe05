package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"contactlink/internal/models"
	"contactlink/internal/service"
)

// MemoryStore keeps contacts in process. Transactions are serialized by a
// single lock and work on a private copy of the table that replaces the
// committed one only when fn succeeds.
type MemoryStore struct {
	mu       sync.Mutex
	contacts []*models.Contact
	nextID   int64
	now      func() time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock overrides the timestamp source for created and updated times.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore returns an empty store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{nextID: 1, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunInTx runs fn against a copy of the table and keeps the copy only if fn succeeds.
func (s *MemoryStore) RunInTx(ctx context.Context, fn func(contacts service.ContactGateway) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("transaction aborted: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{
		contacts: cloneContacts(s.contacts),
		nextID:   s.nextID,
		now:      s.now,
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("commit aborted: %w", err)
	}
	s.contacts, s.nextID = tx.contacts, tx.nextID
	return nil
}

// Insert stores c as given, assigning the next id when c.ID is zero.
// It bypasses the resolver and exists to seed fixtures.
func (s *MemoryStore) Insert(c models.Contact) *models.Contact {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ID == 0 {
		c.ID = s.nextID
	}
	if c.ID >= s.nextID {
		s.nextID = c.ID + 1
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now().UTC()
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	stored := cloneContact(&c)
	s.contacts = append(s.contacts, stored)
	return cloneContact(stored)
}

// Contacts returns a copy of every committed contact ordered by id.
func (s *MemoryStore) Contacts() []*models.Contact {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := cloneContacts(s.contacts)
	slices.SortFunc(out, func(a, b *models.Contact) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

type memoryTx struct {
	contacts []*models.Contact
	nextID   int64
	now      func() time.Time
}

func (tx *memoryTx) FindMatching(ctx context.Context, email, phoneNumber *string) ([]*models.Contact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e, hasEmail := models.Present(email)
	p, hasPhone := models.Present(phoneNumber)
	if !hasEmail && !hasPhone {
		return []*models.Contact{}, nil
	}

	return tx.selectOrdered(func(c *models.Contact) bool {
		return (hasEmail && c.Email != nil && *c.Email == e) ||
			(hasPhone && c.PhoneNumber != nil && *c.PhoneNumber == p)
	}), nil
}

func (tx *memoryTx) FindClusterByRoots(ctx context.Context, ids []int64) ([]*models.Contact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []*models.Contact{}, nil
	}

	return tx.selectOrdered(func(c *models.Contact) bool {
		return slices.Contains(ids, c.ID) || (c.LinkedID != nil && slices.Contains(ids, *c.LinkedID))
	}), nil
}

func (tx *memoryTx) CreatePrimary(ctx context.Context, email, phoneNumber *string) (*models.Contact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return tx.insert(email, phoneNumber, nil, models.PrecedencePrimary), nil
}

func (tx *memoryTx) CreateSecondary(ctx context.Context, primaryID int64, email, phoneNumber *string) (*models.Contact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return tx.insert(email, phoneNumber, &primaryID, models.PrecedenceSecondary), nil
}

func (tx *memoryTx) ConvertToSecondary(ctx context.Context, id, primaryID int64) (*models.Contact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, c := range tx.contacts {
		if c.ID != id {
			continue
		}
		linked := primaryID
		c.LinkedID = &linked
		c.LinkPrecedence = models.PrecedenceSecondary
		c.UpdatedAt = tx.now().UTC()
		return cloneContact(c), nil
	}
	return nil, fmt.Errorf("convert contact %d to secondary: %w", id, ErrNotFound)
}

func (tx *memoryTx) insert(email, phoneNumber *string, linkedID *int64, precedence models.LinkPrecedence) *models.Contact {
	now := tx.now().UTC()
	c := &models.Contact{
		ID:             tx.nextID,
		Email:          presentPtr(email),
		PhoneNumber:    presentPtr(phoneNumber),
		LinkedID:       linkedID,
		LinkPrecedence: precedence,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	tx.nextID++
	tx.contacts = append(tx.contacts, c)
	return cloneContact(c)
}

func (tx *memoryTx) selectOrdered(match func(*models.Contact) bool) []*models.Contact {
	out := []*models.Contact{}
	for _, c := range tx.contacts {
		if c.DeletedAt == nil && match(c) {
			out = append(out, cloneContact(c))
		}
	}
	slices.SortStableFunc(out, func(a, b *models.Contact) int {
		switch {
		case a.CreatedBefore(b):
			return -1
		case b.CreatedBefore(a):
			return 1
		default:
			return 0
		}
	})
	return out
}

func presentPtr(s *string) *string {
	if v, ok := models.Present(s); ok {
		return &v
	}
	return nil
}

func cloneContacts(in []*models.Contact) []*models.Contact {
	out := make([]*models.Contact, len(in))
	for i, c := range in {
		out[i] = cloneContact(c)
	}
	return out
}

func cloneContact(c *models.Contact) *models.Contact {
	cp := *c
	if c.Email != nil {
		v := *c.Email
		cp.Email = &v
	}
	if c.PhoneNumber != nil {
		v := *c.PhoneNumber
		cp.PhoneNumber = &v
	}
	if c.LinkedID != nil {
		v := *c.LinkedID
		cp.LinkedID = &v
	}
	if c.DeletedAt != nil {
		v := *c.DeletedAt
		cp.DeletedAt = &v
	}
	return &cp
}
