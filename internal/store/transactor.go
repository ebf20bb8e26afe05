package store

import (
	"context"
	"database/sql"

	"contactlink/internal/database"
	"contactlink/internal/service"
)

// SQLTransactor runs each identify call in one database transaction.
type SQLTransactor struct {
	db *database.DB
}

// NewSQLTransactor constructs a transactor over db.
func NewSQLTransactor(db *database.DB) *SQLTransactor {
	return &SQLTransactor{db: db}
}

// RunInTx runs fn in a database transaction with a gateway bound to it.
func (t *SQLTransactor) RunInTx(ctx context.Context, fn func(contacts service.ContactGateway) error) error {
	return t.db.RunInTx(ctx, func(tx *sql.Tx) error {
		return fn(NewSQLGateway(tx, t.db.Dialect))
	})
}
