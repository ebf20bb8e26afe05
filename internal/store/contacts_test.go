package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"golang.org/x/sync/errgroup"

	"contactlink/internal/database"
	"contactlink/internal/logger"
	"contactlink/internal/models"
	"contactlink/internal/service"
	"contactlink/internal/store"
)

func ptr[T any](v T) *T { return &v }

// SQLiteGatewaySuite exercises the SQL gateway against an in-memory SQLite database.
type SQLiteGatewaySuite struct {
	suite.Suite
	db *database.DB
	tx *store.SQLTransactor
}

func TestSQLiteGatewaySuite(t *testing.T) {
	suite.Run(t, new(SQLiteGatewaySuite))
}

func (s *SQLiteGatewaySuite) SetupTest() {
	db, err := database.New(context.Background(), database.Options{
		Driver:     "sqlite3",
		URL:        ":memory:",
		MaxRetries: 3,
		Logger:     logger.Discard(),
	})
	s.Require().NoError(err)
	s.db = db
	s.tx = store.NewSQLTransactor(db)
}

func (s *SQLiteGatewaySuite) TearDownTest() {
	s.Require().NoError(s.db.Close())
}

// inTx runs fn in a committed transaction and fails the test on error.
func (s *SQLiteGatewaySuite) inTx(fn func(ctx context.Context, g service.ContactGateway) error) {
	ctx := context.Background()
	s.Require().NoError(s.tx.RunInTx(ctx, func(g service.ContactGateway) error {
		return fn(ctx, g)
	}))
}

func (s *SQLiteGatewaySuite) TestCreateAndFindMatching() {
	var primary, secondary *models.Contact
	s.inTx(func(ctx context.Context, g service.ContactGateway) error {
		var err error
		if primary, err = g.CreatePrimary(ctx, ptr("a@x.com"), ptr("111")); err != nil {
			return err
		}
		secondary, err = g.CreateSecondary(ctx, primary.ID, ptr(""), ptr("222"))
		return err
	})

	s.Equal(models.PrecedencePrimary, primary.LinkPrecedence)
	s.Nil(primary.LinkedID)
	s.False(primary.CreatedAt.IsZero())
	s.Equal(models.PrecedenceSecondary, secondary.LinkPrecedence)
	s.Equal(primary.ID, *secondary.LinkedID)
	s.Nil(secondary.Email, "empty email is stored as NULL")
	s.Greater(secondary.ID, primary.ID)

	s.inTx(func(ctx context.Context, g service.ContactGateway) error {
		byEmail, err := g.FindMatching(ctx, ptr("a@x.com"), nil)
		s.Require().NoError(err)
		s.Equal([]int64{primary.ID}, ids(byEmail))

		byEither, err := g.FindMatching(ctx, ptr("a@x.com"), ptr("222"))
		s.Require().NoError(err)
		s.Equal([]int64{primary.ID, secondary.ID}, ids(byEither))

		none, err := g.FindMatching(ctx, nil, ptr(""))
		s.Require().NoError(err)
		s.Empty(none)
		return nil
	})
}

func (s *SQLiteGatewaySuite) TestFindClusterByRoots() {
	var p1, p2, s1, s2 *models.Contact
	s.inTx(func(ctx context.Context, g service.ContactGateway) error {
		p1, _ = g.CreatePrimary(ctx, ptr("a@x.com"), nil)
		p2, _ = g.CreatePrimary(ctx, ptr("b@x.com"), nil)
		s1, _ = g.CreateSecondary(ctx, p1.ID, nil, ptr("1"))
		var err error
		s2, err = g.CreateSecondary(ctx, p2.ID, nil, ptr("2"))
		return err
	})

	s.inTx(func(ctx context.Context, g service.ContactGateway) error {
		one, err := g.FindClusterByRoots(ctx, []int64{p1.ID})
		s.Require().NoError(err)
		s.Equal([]int64{p1.ID, s1.ID}, ids(one))

		both, err := g.FindClusterByRoots(ctx, []int64{p2.ID, p1.ID})
		s.Require().NoError(err)
		s.Equal([]int64{p1.ID, p2.ID, s1.ID, s2.ID}, ids(both))

		empty, err := g.FindClusterByRoots(ctx, nil)
		s.Require().NoError(err)
		s.Empty(empty)
		return nil
	})
}

func (s *SQLiteGatewaySuite) TestConvertToSecondary() {
	var p1, p2 *models.Contact
	s.inTx(func(ctx context.Context, g service.ContactGateway) error {
		p1, _ = g.CreatePrimary(ctx, ptr("a@x.com"), nil)
		var err error
		p2, err = g.CreatePrimary(ctx, ptr("b@x.com"), nil)
		return err
	})

	s.inTx(func(ctx context.Context, g service.ContactGateway) error {
		converted, err := g.ConvertToSecondary(ctx, p2.ID, p1.ID)
		s.Require().NoError(err)
		s.Equal(models.PrecedenceSecondary, converted.LinkPrecedence)
		s.Equal(p1.ID, *converted.LinkedID)
		s.True(converted.CreatedAt.Equal(p2.CreatedAt), "creation time is immutable")
		s.False(converted.UpdatedAt.Before(p2.UpdatedAt))

		_, err = g.ConvertToSecondary(ctx, 999, p1.ID)
		s.ErrorIs(err, store.ErrNotFound)
		return nil
	})
}

func (s *SQLiteGatewaySuite) TestFailedTransactionLeavesNoRows() {
	boom := errors.New("boom")
	err := s.tx.RunInTx(context.Background(), func(g service.ContactGateway) error {
		if _, err := g.CreatePrimary(context.Background(), ptr("a@x.com"), nil); err != nil {
			return err
		}
		return boom
	})
	s.ErrorIs(err, boom)

	s.inTx(func(ctx context.Context, g service.ContactGateway) error {
		found, err := g.FindMatching(ctx, ptr("a@x.com"), nil)
		s.Require().NoError(err)
		s.Empty(found)
		return nil
	})
}

func (s *SQLiteGatewaySuite) TestResolverEndToEnd() {
	svc := service.NewReconciliationService(s.tx, logger.Discard(), nil)
	ctx := context.Background()
	identify := func(email, phone *string) *models.ContactResponse {
		res, err := svc.Identify(ctx, models.IdentifyRequest{Email: email, PhoneNumber: phone})
		s.Require().NoError(err)
		return &res.Response.Contact
	}

	first := identify(ptr("lorraine@hillvalley.edu"), ptr("123456"))
	s.Equal([]int64{}, first.SecondaryContactIDs)

	linked := identify(ptr("mcfly@hillvalley.edu"), ptr("123456"))
	s.Equal(first.PrimaryContactID, linked.PrimaryContactID)
	s.Equal([]string{"lorraine@hillvalley.edu", "mcfly@hillvalley.edu"}, linked.Emails)
	s.Len(linked.SecondaryContactIDs, 1)

	again := identify(nil, ptr("123456"))
	s.Equal(linked, again)

	other := identify(ptr("george@hillvalley.edu"), ptr("717171"))
	merged := identify(ptr("george@hillvalley.edu"), ptr("123456"))
	s.Equal(first.PrimaryContactID, merged.PrimaryContactID)
	s.Equal([]string{"lorraine@hillvalley.edu", "mcfly@hillvalley.edu", "george@hillvalley.edu"}, merged.Emails)
	s.Equal([]string{"123456", "717171"}, merged.PhoneNumbers)
	s.Equal([]int64{linked.SecondaryContactIDs[0], other.PrimaryContactID}, merged.SecondaryContactIDs)
}

func (s *SQLiteGatewaySuite) TestSkewedTimestampsStillResolve() {
	svc := service.NewReconciliationService(s.tx, logger.Discard(), nil)
	ctx := context.Background()

	first, err := svc.Identify(ctx, models.IdentifyRequest{Email: ptr("a@x.com"), PhoneNumber: ptr("1")})
	s.Require().NoError(err)
	second, err := svc.Identify(ctx, models.IdentifyRequest{Email: ptr("a@x.com"), PhoneNumber: ptr("2")})
	s.Require().NoError(err)
	secondaryID := second.Response.Contact.SecondaryContactIDs[0]

	// A writer with a slow clock stamped the secondary before its primary.
	_, err = s.db.Conn.Exec(`UPDATE contacts SET created_at = '2000-01-01 00:00:00.000' WHERE id = ?`, secondaryID)
	s.Require().NoError(err)

	res, err := svc.Identify(ctx, models.IdentifyRequest{Email: ptr("a@x.com"), PhoneNumber: ptr("1")})
	s.Require().NoError(err)
	s.Equal(first.Response.Contact.PrimaryContactID, res.Response.Contact.PrimaryContactID)
	s.Equal([]int64{secondaryID}, res.Response.Contact.SecondaryContactIDs)
	s.Equal(service.OutcomeUnchanged, res.Outcome)
}

func (s *SQLiteGatewaySuite) TestStoreStampsCreationTime() {
	var a, b *models.Contact
	s.inTx(func(ctx context.Context, g service.ContactGateway) error {
		var err error
		if a, err = g.CreatePrimary(ctx, ptr("a@x.com"), nil); err != nil {
			return err
		}
		b, err = g.CreatePrimary(ctx, ptr("b@x.com"), nil)
		return err
	})

	s.WithinDuration(time.Now(), a.CreatedAt, time.Minute)
	s.False(b.CreatedAt.Before(a.CreatedAt))
	s.True(a.CreatedAt.Equal(a.UpdatedAt))
}

func (s *SQLiteGatewaySuite) TestConcurrentIdentifyCreatesSingleCluster() {
	svc := service.NewReconciliationService(s.tx, logger.Discard(), nil)

	var g errgroup.Group
	for range 10 {
		g.Go(func() error {
			_, err := svc.Identify(context.Background(), models.IdentifyRequest{
				Email:       ptr("doc@hillvalley.edu"),
				PhoneNumber: ptr("88"),
			})
			return err
		})
	}
	s.Require().NoError(g.Wait())

	var count int
	s.Require().NoError(s.db.Conn.QueryRow(`SELECT COUNT(*) FROM contacts`).Scan(&count))
	s.Equal(1, count)
}

func ids(contacts []*models.Contact) []int64 {
	out := make([]int64, len(contacts))
	for i, c := range contacts {
		out[i] = c.ID
	}
	return out
}
