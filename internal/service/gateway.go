package service

import (
	"context"

	"contactlink/internal/models"
)

// ContactGateway is the fixed set of contact store primitives the resolver
// uses. Each call is a single statement inside the enclosing transaction.
type ContactGateway interface {
	// FindMatching returns contacts whose email or phone equals the given
	// values, oldest first. Absent criteria are skipped; none yields nothing.
	FindMatching(ctx context.Context, email, phoneNumber *string) ([]*models.Contact, error)
	// FindClusterByRoots returns contacts that are one of ids or link to one of them, oldest first.
	FindClusterByRoots(ctx context.Context, ids []int64) ([]*models.Contact, error)
	CreatePrimary(ctx context.Context, email, phoneNumber *string) (*models.Contact, error)
	CreateSecondary(ctx context.Context, primaryID int64, email, phoneNumber *string) (*models.Contact, error)
	// ConvertToSecondary links id under primaryID and marks it secondary.
	ConvertToSecondary(ctx context.Context, id, primaryID int64) (*models.Contact, error)
}

// Transactor provides the transactional boundary for one identify call.
// Implementations may wrap a database transaction or, in-memory, a coarse lock.
// fn may be invoked more than once when the store retries a conflict.
type Transactor interface {
	RunInTx(ctx context.Context, fn func(contacts ContactGateway) error) error
}
