package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"contactlink/internal/database"
	"contactlink/internal/models"
)

// ErrNotFound is returned when a mutation targets a contact that does not exist.
var ErrNotFound = errors.New("contact not found")

const contactColumns = `id, phone_number, email, linked_id, link_precedence, created_at, updated_at, deleted_at`

// queryer is satisfied by *sql.Tx and *sql.DB.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLGateway runs contact queries on a caller-supplied transaction.
// It is pure I/O: every method is one statement and holds no business rules.
// Timestamps come from the database clock, never from the caller.
type SQLGateway struct {
	q       queryer
	dialect database.Dialect
}

// NewSQLGateway binds a gateway to q using the dialect's SQL flavor.
func NewSQLGateway(q queryer, dialect database.Dialect) *SQLGateway {
	return &SQLGateway{q: q, dialect: dialect}
}

// FindMatching queries contacts by email or phone number
func (g *SQLGateway) FindMatching(ctx context.Context, email, phoneNumber *string) ([]*models.Contact, error) {
	var conds []string
	var args []any
	if v, ok := models.Present(email); ok {
		conds = append(conds, "email = ?")
		args = append(args, v)
	}
	if v, ok := models.Present(phoneNumber); ok {
		conds = append(conds, "phone_number = ?")
		args = append(args, v)
	}
	if len(conds) == 0 {
		return []*models.Contact{}, nil
	}

	query := `SELECT ` + contactColumns + `
		FROM contacts
		WHERE (` + strings.Join(conds, " OR ") + `) AND deleted_at IS NULL
		ORDER BY created_at, id`
	contacts, err := g.queryContacts(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find matching contacts: %w", err)
	}
	return contacts, nil
}

// FindClusterByRoots queries the given roots and every contact linked to them
func (g *SQLGateway) FindClusterByRoots(ctx context.Context, ids []int64) ([]*models.Contact, error) {
	if len(ids) == 0 {
		return []*models.Contact{}, nil
	}

	var where string
	var args []any
	if g.dialect == database.Postgres {
		where = `id = ANY(?) OR linked_id = ANY(?)`
		args = []any{pq.Array(ids), pq.Array(ids)}
	} else {
		in := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
		where = `id IN (` + in + `) OR linked_id IN (` + in + `)`
		args = make([]any, 0, 2*len(ids))
		for range 2 {
			for _, id := range ids {
				args = append(args, id)
			}
		}
	}

	query := `SELECT ` + contactColumns + `
		FROM contacts
		WHERE (` + where + `) AND deleted_at IS NULL
		ORDER BY created_at, id`
	contacts, err := g.queryContacts(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find contact cluster: %w", err)
	}
	return contacts, nil
}

// CreatePrimary creates a new primary contact
func (g *SQLGateway) CreatePrimary(ctx context.Context, email, phoneNumber *string) (*models.Contact, error) {
	query := `INSERT INTO contacts (phone_number, email, link_precedence)
		VALUES (?, ?, 'primary')
		RETURNING ` + contactColumns

	c, err := g.queryContact(ctx, query, nullable(phoneNumber), nullable(email))
	if err != nil {
		return nil, fmt.Errorf("create primary contact: %w", err)
	}
	return c, nil
}

// CreateSecondary creates a new secondary contact linked to primaryID
func (g *SQLGateway) CreateSecondary(ctx context.Context, primaryID int64, email, phoneNumber *string) (*models.Contact, error) {
	query := `INSERT INTO contacts (phone_number, email, linked_id, link_precedence)
		VALUES (?, ?, ?, 'secondary')
		RETURNING ` + contactColumns

	c, err := g.queryContact(ctx, query, nullable(phoneNumber), nullable(email), primaryID)
	if err != nil {
		return nil, fmt.Errorf("create secondary contact: %w", err)
	}
	return c, nil
}

// ConvertToSecondary demotes id under primaryID
func (g *SQLGateway) ConvertToSecondary(ctx context.Context, id, primaryID int64) (*models.Contact, error) {
	query := `UPDATE contacts
		SET linked_id = ?, link_precedence = 'secondary', updated_at = ` + g.dialect.Now() + `
		WHERE id = ?
		RETURNING ` + contactColumns

	c, err := g.queryContact(ctx, query, primaryID, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("convert contact %d to secondary: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("convert contact %d to secondary: %w", id, err)
	}
	return c, nil
}

// queryContacts executes a query and returns contacts
func (g *SQLGateway) queryContacts(ctx context.Context, query string, args ...any) ([]*models.Contact, error) {
	rows, err := g.q.QueryContext(ctx, g.dialect.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	contacts := []*models.Contact{}
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

func (g *SQLGateway) queryContact(ctx context.Context, query string, args ...any) (*models.Contact, error) {
	return scanContact(g.q.QueryRowContext(ctx, g.dialect.Rebind(query), args...))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContact(row rowScanner) (*models.Contact, error) {
	c := &models.Contact{}
	var phone, email sql.NullString
	var linkedID sql.NullInt64
	var precedence string
	var deletedAt nullTimestamp

	err := row.Scan(&c.ID, &phone, &email, &linkedID, &precedence,
		(*timestamp)(&c.CreatedAt), (*timestamp)(&c.UpdatedAt), &deletedAt)
	if err != nil {
		return nil, err
	}

	c.LinkPrecedence = models.LinkPrecedence(precedence)
	if phone.Valid {
		c.PhoneNumber = &phone.String
	}
	if email.Valid {
		c.Email = &email.String
	}
	if linkedID.Valid {
		c.LinkedID = &linkedID.Int64
	}
	if deletedAt.Valid {
		c.DeletedAt = &deletedAt.Time
	}
	return c, nil
}

// nullable maps absent and empty values to SQL NULL.
func nullable(s *string) any {
	if v, ok := models.Present(s); ok {
		return v
	}
	return nil
}
